package tracelog

import "sync/atomic"

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	Producers         int    `json:"producers"`
	MaxProducers      int    `json:"max_producers"`
	Cycles            uint64 `json:"cycles"`
	SwapRequests      uint64 `json:"swap_requests"`
	StaleRequests     uint64 `json:"stale_requests"`
	DeferredSwaps     uint64 `json:"deferred_swaps"`
	EntriesReplayed   uint64 `json:"entries_replayed"`
	RecordsWritten    uint64 `json:"records_written"`
	BytesWritten      uint64 `json:"bytes_written"`
	RecordsDropped    uint64 `json:"records_dropped"`
	LatenciesRecorded int    `json:"latencies_recorded"`
	LatenciesExpected int    `json:"latencies_expected"`
	WriteError        string `json:"write_error,omitempty"`
}

// drainCounters are written by the drain goroutine and read by Stats.
type drainCounters struct {
	cycles   atomic.Uint64
	requests atomic.Uint64
	stale    atomic.Uint64
	deferred atomic.Uint64
	entries  atomic.Uint64
}

// Stats returns a snapshot of the pipeline counters.
func (l *Logger) Stats() Stats {
	recorded, expected := l.sink.latencies.counts()
	st := Stats{
		Producers:         l.store.Len(),
		MaxProducers:      l.store.Cap(),
		Cycles:            l.counters.cycles.Load(),
		SwapRequests:      l.counters.requests.Load(),
		StaleRequests:     l.counters.stale.Load(),
		DeferredSwaps:     l.counters.deferred.Load(),
		EntriesReplayed:   l.counters.entries.Load(),
		RecordsWritten:    l.sink.records.Load(),
		BytesWritten:      l.sink.bytes.Load(),
		RecordsDropped:    l.sink.dropped.Load(),
		LatenciesRecorded: recorded,
		LatenciesExpected: expected,
	}
	if err := l.sink.Err(); err != nil {
		st.WriteError = err.Error()
	}
	return st
}
