package tracelog

import (
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// latencyTable is the dense, id-indexed latency vector. It is written
// by the drain goroutine and read by whichever goroutine collects the
// measurements, so it has its own mutex.
type latencyTable struct {
	mu       sync.Mutex
	complete *sync.Cond
	values   []time.Duration
	recorded int
	expected int
}

func newLatencyTable() *latencyTable {
	t := &latencyTable{}
	t.complete = sync.NewCond(&t.mu)
	return t
}

// record stores latency at index id, growing the table to id+1 if
// needed.
func (t *latencyTable) record(id uint64, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id >= math.MaxInt {
		panic(errors.AssertionFailedf("tracelog: latency sample id %d out of range", id))
	}
	n := int(id) + 1
	switch {
	case n <= len(t.values):
	case n <= cap(t.values):
		old := len(t.values)
		t.values = t.values[:n]
		clear(t.values[old:])
	default:
		grown := make([]time.Duration, n, max(n, 2*cap(t.values)))
		copy(grown, t.values)
		t.values = grown
	}
	t.values[id] = latency
	t.recorded++
	if t.recorded == t.expected {
		t.complete.Broadcast()
	}
}

// collect sets the expected count, waits until that many latencies
// have been recorded and hands the table over to the caller.
func (t *latencyTable) collect(expected int) []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.expected = expected
	for t.recorded != t.expected {
		t.complete.Wait()
	}
	values := t.values
	t.values = nil
	return values
}

// restart zeroes the counters for the next measurement phase. The
// previous phase must have been collected.
func (t *latencyTable) restart() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.values) != 0 {
		panic(errors.AssertionFailedf(
			"tracelog: restarting latency recording with %d uncollected latencies", len(t.values)))
	}
	if t.recorded != t.expected {
		panic(errors.AssertionFailedf(
			"tracelog: restarting latency recording with %d of %d latencies recorded", t.recorded, t.expected))
	}
	t.recorded = 0
	t.expected = 0
}

func (t *latencyTable) counts() (recorded, expected int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recorded, t.expected
}
