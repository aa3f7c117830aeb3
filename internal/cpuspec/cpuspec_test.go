package cpuspec

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptimalThreads_FallsBackToAllLogicalCoresWhenUnknown(t *testing.T) {
	s := Spec{BrandName: "Unknown CPU", PerformanceCores: 0}
	assert.Equal(t, runtime.NumCPU(), s.OptimalThreads())
}

func TestOptimalThreads_PrefersPerformanceCoreCountWhenKnown(t *testing.T) {
	s := Spec{BrandName: "Apple M2 Pro", PerformanceCores: 1}
	assert.Equal(t, 1, s.OptimalThreads())
}

func TestOptimalThreads_NeverExceedsAvailableCores(t *testing.T) {
	s := Spec{PerformanceCores: runtime.NumCPU() + 100}
	assert.Equal(t, runtime.NumCPU(), s.OptimalThreads())
}

func TestPerformanceCores_RecognizesAppleSilicon(t *testing.T) {
	assert.Equal(t, 8, performanceCores("Apple M2 Pro"))
	assert.Equal(t, 4, performanceCores("Apple M1"))
	assert.Equal(t, 0, performanceCores("AMD Ryzen 9 7950X"))
}
