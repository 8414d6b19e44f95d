package tracelog

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

// Producer state word.
const (
	activeBit  uint32 = 1 << 0 // index of the half receiving appends
	sealedBit  uint32 = 1 << 1 // the other half is waiting to be collected
	retiredBit uint32 = 1 << 2 // unregistered; appends panic
)

// Half lock states.
const (
	halfUnlocked uint32 = iota
	halfWriting
	halfReading
)

type half struct {
	lock    atomic.Uint32
	entries []Entry
}

// Producer is one goroutine's handle on the pipeline. Its methods must
// not be called concurrently with each other, except Name and Slot.
// Ownership may pass between goroutines as long as the handoff itself
// synchronizes. The drain goroutine is the only other party touching it.
type Producer struct {
	logger *Logger
	slot   int
	name   string
	swap   *swapSlot

	state     atomic.Uint32
	halves    [2]half
	requested atomic.Bool
	published atomic.Uint64 // entries appended so far
	appended  uint64        // owner-goroutine copy of published

	retired       chan struct{}
	unregistering bool // guarded by Logger.mu

	// Owned by the drain goroutine.
	collected uint64
	recycled  []Entry
	queued    bool
	released  bool
}

func newProducer(l *Logger, slot int, name string) *Producer {
	return &Producer{
		logger:  l,
		slot:    slot,
		name:    name,
		swap:    &l.slots[slot],
		retired: make(chan struct{}),
	}
}

// Name returns the name given at registration.
func (p *Producer) Name() string { return p.name }

// Slot returns the registration slot, which doubles as the buffer id.
func (p *Producer) Slot() int { return p.slot }

// Append adds e to the active half and requests a swap if none is
// outstanding. It never blocks on I/O and never waits for the drain
// goroutine, apart from retrying when the drain flips the halves
// between the state load and the lock.
func (p *Producer) Append(e Entry) {
	if e.kind == 0 {
		panic(errors.AssertionFailedf("tracelog: appending a zero Entry"))
	}
	for {
		st := p.state.Load()
		if st&retiredBit != 0 {
			panic(errors.AssertionFailedf("tracelog: append on unregistered producer %q", p.name))
		}
		idx := st & activeBit
		h := &p.halves[idx]
		if !h.lock.CompareAndSwap(halfUnlocked, halfWriting) {
			// The drain holds the half only to detach its slice.
			runtime.Gosched()
			continue
		}
		// The drain may have flipped and collected this half after the
		// state load. Writing is only safe while idx is active or is
		// the sealed half still waiting for collection.
		if now := p.state.Load(); now&retiredBit != 0 || !writable(now, idx) {
			h.lock.Store(halfUnlocked)
			continue
		}
		h.entries = append(h.entries, e)
		h.lock.Store(halfUnlocked)
		break
	}
	p.appended++
	p.published.Store(p.appended)
	if !p.requested.Load() {
		p.RequestSwap()
	}
}

func writable(st, idx uint32) bool {
	return st&activeBit == idx || st&sealedBit != 0
}

// RequestSwap asks the drain goroutine to collect the buffered entries.
// If the standby half has already been collected the halves are flipped
// here, so the drain finds the entries waiting without contending for
// the active half. It reports whether the previous request had already
// been consumed.
func (p *Producer) RequestSwap() bool {
	st := p.state.Load()
	if st&retiredBit != 0 {
		panic(errors.AssertionFailedf("tracelog: swap request on unregistered producer %q", p.name))
	}
	if st&sealedBit == 0 {
		p.state.CompareAndSwap(st, (st^activeBit)|sealedBit)
	}
	p.requested.Store(true)
	return p.swap.publish()
}

// LogDuration appends a complete event.
func (p *Producer) LogDuration(name string, ts, dur time.Duration, args ...Arg) {
	p.Append(DurationEvent(name, ts, dur, args...))
}

// LogAsync appends a begin/end event pair and records dur as the
// latency of sample id.
func (p *Producer) LogAsync(name string, id uint64, ts, dur time.Duration, args ...Arg) {
	p.Append(AsyncEvent(name, id, ts, dur, args...))
}

// LogLatency records the latency of sample id without trace output.
func (p *Producer) LogLatency(id uint64, latency time.Duration) {
	p.Append(LatencySample(id, latency))
}

// Log appends e to p. It is the free-function form of p.Append.
func Log(p *Producer, e Entry) {
	p.Append(e)
}

// seal makes sure the standby half holds the entries to collect,
// flipping the halves if the producer has not already done so. Drain
// goroutine only.
func (p *Producer) seal() uint32 {
	for {
		st := p.state.Load()
		if st&sealedBit != 0 {
			return st
		}
		next := (st ^ activeBit) | sealedBit
		if p.state.CompareAndSwap(st, next) {
			return next
		}
	}
}

// collect detaches the entries of the standby half. If the owner is
// still writing into it, collect gives up unless force is set, in which
// case it yields until the write finishes. Drain goroutine only.
func (p *Producer) collect(force bool) ([]Entry, bool) {
	// Cleared before the flip so an append landing after it requests
	// again.
	p.requested.Store(false)

	st := p.seal()
	h := &p.halves[(st&activeBit)^1]
	for !h.lock.CompareAndSwap(halfUnlocked, halfReading) {
		if !force {
			return nil, false
		}
		runtime.Gosched()
	}
	entries := h.entries
	h.entries = p.recycled
	p.recycled = nil

	// Unseal while the half is still locked: a producer that locks it
	// next must see it is neither active nor sealed.
	for {
		st = p.state.Load()
		if p.state.CompareAndSwap(st, st&^sealedBit) {
			break
		}
	}
	h.lock.Store(halfUnlocked)
	return entries, true
}

// behind reports whether the owner appended entries the drain has not
// collected yet.
func (p *Producer) behind() bool {
	return p.published.Load() > p.collected
}

func (p *Producer) markRetired() {
	for {
		st := p.state.Load()
		if st&retiredBit != 0 || p.state.CompareAndSwap(st, st|retiredBit) {
			return
		}
	}
}

func (p *Producer) isRetired() bool {
	return p.state.Load()&retiredBit != 0
}
