package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeDiversity_MatchesSpecWorkedExample(t *testing.T) {
	t.Parallel()
	// spec.md §8 scenario 5: {A:4, B:4, C:2}.
	d := ComputeDiversity(map[string]int64{"A": 4, "B": 4, "C": 2})

	assert.InDelta(t, 1.0549, d.Shannon, 1e-4)
	assert.InDelta(t, 0.64, d.Simpson, 1e-4)
	assert.Equal(t, 3, d.Richness)
	assert.InDelta(t, 0.9602, d.Evenness, 1e-4)
}

func TestComputeDiversity_EmptyPeriodYieldsZeroEvenness(t *testing.T) {
	t.Parallel()
	d := ComputeDiversity(map[string]int64{})
	assert.Zero(t, d.Shannon)
	assert.Zero(t, d.Richness)
	assert.Equal(t, 0.0, d.Evenness)
}

func TestComputeDiversity_SingleSpeciesHasEvennessOne(t *testing.T) {
	t.Parallel()
	d := ComputeDiversity(map[string]int64{"A": 10})
	assert.Equal(t, 1, d.Richness)
	assert.Equal(t, 1.0, d.Evenness)
	assert.Zero(t, d.Shannon)
}

func TestComputeDiversity_ShannonIsNonNegative(t *testing.T) {
	t.Parallel()
	d := ComputeDiversity(map[string]int64{"A": 1, "B": 99})
	assert.GreaterOrEqual(t, d.Shannon, 0.0)
	assert.GreaterOrEqual(t, d.Simpson, 0.0)
	assert.LessOrEqual(t, d.Simpson, 1.0)
}
