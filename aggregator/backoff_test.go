package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextBackoff_ExponentialWithinJitterBounds(t *testing.T) {
	expected := []time.Duration{
		60 * time.Second,
		120 * time.Second,
		240 * time.Second,
		480 * time.Second,
		960 * time.Second,
	}
	for attempt, base := range expected {
		for i := 0; i < 50; i++ {
			d := NextBackoff(attempt + 1)
			require.GreaterOrEqual(t, d, time.Duration(float64(base)*0.79), "attempt %d", attempt+1)
			require.LessOrEqual(t, d, time.Duration(float64(base)*1.21), "attempt %d", attempt+1)
		}
	}
}

func TestNextBackoff_Capped(t *testing.T) {
	// the cap is a hard ceiling; positive jitter never pushes a delay past it
	for _, attempt := range []int{7, 10, 40, 100} {
		for i := 0; i < 50; i++ {
			d := NextBackoff(attempt)
			require.LessOrEqual(t, d, 3600*time.Second, "attempt %d", attempt)
			require.GreaterOrEqual(t, d, time.Duration(float64(3600*time.Second)*0.79), "attempt %d", attempt)
		}
	}
}

func TestNextBackoff_ClampsNonPositiveAttempt(t *testing.T) {
	d := NextBackoff(0)
	require.GreaterOrEqual(t, d, time.Duration(float64(60*time.Second)*0.79))
	require.LessOrEqual(t, d, time.Duration(float64(60*time.Second)*1.21))
}
