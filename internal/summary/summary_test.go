package summary

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func within(t *testing.T, want, got time.Duration) {
	t.Helper()
	require.InEpsilon(t, float64(want), float64(got), 0.01, "want %s got %s", want, got)
}

func TestSummarize(t *testing.T) {
	var latencies []time.Duration
	for i := 1; i <= 1000; i++ {
		latencies = append(latencies, time.Duration(i)*time.Microsecond)
	}

	s := Summarize(latencies)
	require.Equal(t, int64(1000), s.Count)
	within(t, time.Microsecond, s.Min)
	within(t, 1000*time.Microsecond, s.Max)
	within(t, 500*time.Microsecond, s.P50)
	within(t, 900*time.Microsecond, s.P90)
	within(t, 990*time.Microsecond, s.P99)
	within(t, 500500*time.Nanosecond, s.Mean)
}

func TestSummarize_Empty(t *testing.T) {
	require.Equal(t, Summary{}, Summarize(nil))
}

func TestSummarize_Clamps(t *testing.T) {
	s := Summarize([]time.Duration{0, 2 * time.Hour})
	require.Equal(t, int64(2), s.Count)
	require.Equal(t, time.Nanosecond, s.Min)
	within(t, time.Hour, s.Max)
}

func TestSummary_String(t *testing.T) {
	s := Summary{Count: 2, Min: time.Millisecond}
	require.Contains(t, s.String(), "count=2 min=1ms")
}
