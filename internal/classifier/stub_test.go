package classifier

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStub_ReturnsConfiguredResults(t *testing.T) {
	t.Parallel()
	stub := &Stub{Results: []Result{{SpeciesTensor: "Corvus corax_Common Raven", Confidence: 0.9}}}

	results, err := stub.Classify(make([]float32, 144000))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, float32(0.9), results[0].Confidence)
	assert.EqualValues(t, 1, stub.Calls())

	require.NoError(t, stub.Close())
	assert.True(t, stub.Closed())
}

func TestStub_PropagatesConfiguredFailure(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("model unavailable")
	stub := &Stub{Fail: wantErr}

	_, err := stub.Classify(nil)
	assert.ErrorIs(t, err, wantErr)
}

func TestStub_SatisfiesClassifierInterface(t *testing.T) {
	t.Parallel()
	var _ Classifier = (*Stub)(nil)
}
