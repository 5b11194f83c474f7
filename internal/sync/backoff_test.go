package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesUpToCap(t *testing.T) {
	b := NewBackoffScheduler(0, 0)

	require.Equal(t, 15*time.Second, b.NextDelay())
	require.Equal(t, 30*time.Second, b.NextDelay())
	require.Equal(t, 60*time.Second, b.NextDelay())
	require.Equal(t, 120*time.Second, b.NextDelay())
	require.Equal(t, 240*time.Second, b.NextDelay())
	require.Equal(t, 5*time.Minute, b.NextDelay())
	require.Equal(t, 5*time.Minute, b.NextDelay(), "stays at the cap")
	require.Equal(t, 7, b.Attempts())
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoffScheduler(time.Second, time.Minute)
	b.NextDelay()
	b.NextDelay()
	b.Reset()
	require.Zero(t, b.Attempts())
	require.Equal(t, time.Second, b.NextDelay())
}
