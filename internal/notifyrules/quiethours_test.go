package notifyrules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hh, mm int) time.Time {
	return time.Date(2026, 7, 31, hh, mm, 0, 0, time.UTC)
}

func TestQuietHours_SameDayWindow(t *testing.T) {
	q := QuietHours{Start: "13:00", End: "14:00"}

	in, err := q.Contains(at(13, 30))
	require.NoError(t, err)
	assert.True(t, in)

	in, err = q.Contains(at(12, 59))
	require.NoError(t, err)
	assert.False(t, in)

	in, err = q.Contains(at(14, 0))
	require.NoError(t, err)
	assert.False(t, in, "end boundary is exclusive")
}

func TestQuietHours_OvernightWindow(t *testing.T) {
	q := QuietHours{Start: "22:00", End: "06:00"}

	for _, tc := range []struct {
		t        time.Time
		expected bool
	}{
		{at(23, 0), true},
		{at(0, 30), true},
		{at(5, 59), true},
		{at(6, 0), false},
		{at(21, 59), false},
		{at(12, 0), false},
	} {
		in, err := q.Contains(tc.t)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, in, "time %v", tc.t)
	}
}

func TestQuietHours_EmptyNeverSuppresses(t *testing.T) {
	q := QuietHours{}
	in, err := q.Contains(at(3, 0))
	require.NoError(t, err)
	assert.False(t, in)
}

func TestQuietHours_ZeroWidthWindowNeverSuppresses(t *testing.T) {
	q := QuietHours{Start: "08:00", End: "08:00"}
	in, err := q.Contains(at(8, 0))
	require.NoError(t, err)
	assert.False(t, in)
}

func TestQuietHours_InvalidClockIsError(t *testing.T) {
	q := QuietHours{Start: "25:00", End: "06:00"}
	_, err := q.Contains(at(1, 0))
	require.Error(t, err)
}
