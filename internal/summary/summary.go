// Package summary reduces a phase's latency vector to percentiles.
package summary

import (
	"fmt"
	"time"

	"github.com/codahale/hdrhistogram"
)

const (
	sigFigs    = 3
	minLatency = time.Nanosecond
	maxLatency = time.Hour
)

// Summary describes one latency distribution.
type Summary struct {
	Count  int64         `json:"count"`
	Min    time.Duration `json:"min"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stddev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P99    time.Duration `json:"p99"`
	P999   time.Duration `json:"p999"`
	Max    time.Duration `json:"max"`
}

// Summarize builds a Summary of latencies. Values are clamped to
// [1ns, 1h].
func Summarize(latencies []time.Duration) Summary {
	h := hdrhistogram.New(minLatency.Nanoseconds(), maxLatency.Nanoseconds(), sigFigs)
	for _, d := range latencies {
		if d < minLatency {
			d = minLatency
		} else if d > maxLatency {
			d = maxLatency
		}
		_ = h.RecordValue(d.Nanoseconds())
	}
	if h.TotalCount() == 0 {
		return Summary{}
	}
	return Summary{
		Count:  h.TotalCount(),
		Min:    time.Duration(h.Min()),
		Mean:   time.Duration(h.Mean()),
		StdDev: time.Duration(h.StdDev()),
		P50:    time.Duration(h.ValueAtQuantile(50)),
		P90:    time.Duration(h.ValueAtQuantile(90)),
		P99:    time.Duration(h.ValueAtQuantile(99)),
		P999:   time.Duration(h.ValueAtQuantile(99.9)),
		Max:    time.Duration(h.Max()),
	}
}

// String formats s on one line, workload style.
func (s Summary) String() string {
	return fmt.Sprintf("count=%d min=%s p50=%s p90=%s p99=%s p99.9=%s max=%s mean=%s",
		s.Count, s.Min, s.P50, s.P90, s.P99, s.P999, s.Max, s.Mean)
}

// Phase is the outcome of one measurement phase.
type Phase struct {
	Name       string        `json:"name"`
	Samples    int           `json:"samples"`
	Elapsed    time.Duration `json:"elapsed"`
	Latency    Summary       `json:"latency"`
	FinishedAt time.Time     `json:"finished_at"`
}
