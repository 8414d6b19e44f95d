// Package metrics exports tracelog pipeline counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/coffersTech/loadtrace/tracelog"
)

const namespace = "loadtrace"

// StatsFunc returns the current pipeline counters.
type StatsFunc func() tracelog.Stats

type metric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(tracelog.Stats) float64
}

// Collector reads a fresh Stats snapshot on every scrape.
type Collector struct {
	stats   StatsFunc
	metrics []metric
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector over stats. runID is attached to
// every series as a constant label.
func NewCollector(stats StatsFunc, runID string) *Collector {
	labels := prometheus.Labels{"run_id": runID}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "tracelog", name), help, nil, labels)
	}
	counter := prometheus.CounterValue
	gauge := prometheus.GaugeValue
	return &Collector{
		stats: stats,
		metrics: []metric{
			{desc("producers", "Registered producers."), gauge,
				func(s tracelog.Stats) float64 { return float64(s.Producers) }},
			{desc("max_producers", "Producer slot capacity."), gauge,
				func(s tracelog.Stats) float64 { return float64(s.MaxProducers) }},
			{desc("drain_cycles_total", "Drain cycles run."), counter,
				func(s tracelog.Stats) float64 { return float64(s.Cycles) }},
			{desc("swap_requests_total", "Swap requests consumed."), counter,
				func(s tracelog.Stats) float64 { return float64(s.SwapRequests) }},
			{desc("stale_requests_total", "Swap requests ignored as stale."), counter,
				func(s tracelog.Stats) float64 { return float64(s.StaleRequests) }},
			{desc("deferred_swaps_total", "Collections deferred because the producer held the buffer."), counter,
				func(s tracelog.Stats) float64 { return float64(s.DeferredSwaps) }},
			{desc("entries_replayed_total", "Entries replayed into the sink."), counter,
				func(s tracelog.Stats) float64 { return float64(s.EntriesReplayed) }},
			{desc("records_written_total", "Trace records written."), counter,
				func(s tracelog.Stats) float64 { return float64(s.RecordsWritten) }},
			{desc("records_dropped_total", "Trace records dropped after an output error."), counter,
				func(s tracelog.Stats) float64 { return float64(s.RecordsDropped) }},
			{desc("bytes_written_total", "Trace bytes written."), counter,
				func(s tracelog.Stats) float64 { return float64(s.BytesWritten) }},
			{desc("latencies_recorded", "Latencies recorded in the current phase."), gauge,
				func(s tracelog.Stats) float64 { return float64(s.LatenciesRecorded) }},
			{desc("latencies_expected", "Latencies awaited in the current phase."), gauge,
				func(s tracelog.Stats) float64 { return float64(s.LatenciesExpected) }},
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(s))
	}
}
