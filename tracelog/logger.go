package tracelog

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/coffersTech/loadtrace/clock"
	"github.com/coffersTech/loadtrace/internal/registry"
)

const (
	// DefaultPollPeriod is how often the drain goroutine polls swap
	// slots when nothing wakes it earlier.
	DefaultPollPeriod = 10 * time.Millisecond
	// DefaultMaxProducers bounds concurrent registrations.
	DefaultMaxProducers = 256
)

var (
	// ErrTooManyProducers is returned by Register when every slot is
	// held by a live producer.
	ErrTooManyProducers = errors.New("tracelog: too many producers")
	// ErrClosed is returned by Register after Close.
	ErrClosed = errors.New("tracelog: logger closed")
)

// Config configures a Logger.
type Config struct {
	// Output receives trace records. Required.
	Output io.Writer
	// Format selects record framing. Defaults to FormatJSONLines.
	Format Format
	// PollPeriod defaults to DefaultPollPeriod.
	PollPeriod time.Duration
	// MaxProducers defaults to DefaultMaxProducers.
	MaxProducers int
	// ThreadIDs stamps records with tid = slot+1 instead of 0.
	ThreadIDs bool
	// Clock defaults to clock.Real().
	Clock clock.Clock
	// Logger receives the pipeline's own diagnostics. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

func (c *Config) setDefaults() error {
	if c.Output == nil {
		return errors.New("tracelog: Config.Output is required")
	}
	if c.PollPeriod < 0 {
		return errors.Newf("tracelog: negative poll period %s", c.PollPeriod)
	}
	if c.MaxProducers < 0 {
		return errors.Newf("tracelog: negative producer limit %d", c.MaxProducers)
	}
	if c.PollPeriod == 0 {
		c.PollPeriod = DefaultPollPeriod
	}
	if c.MaxProducers == 0 {
		c.MaxProducers = DefaultMaxProducers
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Logger coordinates producers and owns the drain goroutine, the only
// goroutine that touches the Sink's output.
type Logger struct {
	cfg    Config
	clock  clock.Clock
	origin time.Time
	log    *slog.Logger
	sink   *Sink
	store  *registry.Store

	slots     []swapSlot
	producers []atomic.Pointer[Producer]

	mu     sync.Mutex // guards tasks, closed and Producer.unregistering
	tasks  []*Producer
	closed bool

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	counters drainCounters

	// Owned by the drain goroutine.
	lastTag []uint64
	retry   []*Producer
	batch   []*Producer
}

// New creates a Logger and starts its drain goroutine. The origin time
// is taken here; all timestamps are relative to it.
func New(cfg Config) (*Logger, error) {
	l, err := build(cfg)
	if err != nil {
		return nil, err
	}
	go l.run()
	l.log.Debug("drain started", "poll_period", l.cfg.PollPeriod, "max_producers", l.cfg.MaxProducers)
	return l, nil
}

// build returns a Logger whose drain goroutine has not been started.
func build(cfg Config) (*Logger, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	l := &Logger{
		cfg:       cfg,
		clock:     cfg.Clock,
		log:       cfg.Logger.With("component", "tracelog"),
		store:     registry.NewStore(cfg.MaxProducers, cfg.Clock.Now),
		slots:     make([]swapSlot, cfg.MaxProducers),
		producers: make([]atomic.Pointer[Producer], cfg.MaxProducers),
		lastTag:   make([]uint64, cfg.MaxProducers),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	l.sink = NewSink(cfg.Output, cfg.Format, l.log)
	l.origin = l.clock.Now()
	return l, nil
}

// OriginTime returns the instant timestamps are measured from.
func (l *Logger) OriginTime() time.Time { return l.origin }

// Now returns the time elapsed since OriginTime.
func (l *Logger) Now() time.Duration { return l.clock.Now().Sub(l.origin) }

// Registry exposes the registration set for introspection.
func (l *Logger) Registry() *registry.Store { return l.store }

// Register creates a producer for the calling goroutine. name is for
// introspection only and need not be unique.
func (l *Logger) Register(name string) (*Producer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	slot, err := l.store.Acquire(name)
	if err != nil {
		if errors.Is(err, registry.ErrFull) {
			return nil, errors.Wrapf(ErrTooManyProducers, "registering %q", name)
		}
		return nil, err
	}
	p := newProducer(l, slot, name)
	l.producers[slot].Store(p)
	l.notify()
	return p, nil
}

// Unregister force-drains p, releases its slot and waits until the
// drain goroutine has done so. p must not be used afterwards.
// Unregistering twice is a no-op.
func (l *Logger) Unregister(p *Producer) error {
	if p == nil || p.logger != l {
		return errors.AssertionFailedf("tracelog: producer not registered with this logger")
	}
	select {
	case <-p.retired:
		return nil
	default:
	}

	l.mu.Lock()
	if !l.closed && !p.unregistering {
		p.unregistering = true
		l.tasks = append(l.tasks, p)
	}
	l.mu.Unlock()

	l.notify()
	<-p.retired
	return nil
}

// RequestSwapBuffers asks the drain goroutine to collect p's entries.
func (l *Logger) RequestSwapBuffers(p *Producer) {
	p.RequestSwap()
	l.notify()
}

// GetLatenciesBlocking blocks until expected latency samples have been
// recorded, then returns them indexed by sample id.
func (l *Logger) GetLatenciesBlocking(expected int) []time.Duration {
	return l.sink.GetLatenciesBlocking(expected)
}

// RestartLatencyRecording starts a new measurement phase. It panics if
// the previous phase was not fully collected.
func (l *Logger) RestartLatencyRecording() {
	l.sink.RestartLatencyRecording()
}

// Err returns the first trace output error.
func (l *Logger) Err() error { return l.sink.Err() }

// Close drains every producer, stops the drain goroutine and returns
// the first output error. Producers must have stopped appending.
// Close is idempotent.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() { close(l.stop) })
	<-l.done
	return l.sink.Err()
}

func (l *Logger) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Logger) run() {
	defer close(l.done)

	ticker := l.clock.NewTicker(l.cfg.PollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-l.wake:
		case <-l.stop:
			l.shutdown()
			return
		}
		l.cycle()
		l.runTasks()
	}
}

// cycle polls for new swap requests and deferred ones, collects the
// standby half of every requested producer and replays it. It returns
// the number of entries replayed.
func (l *Logger) cycle() int {
	l.counters.cycles.Add(1)
	batch := l.batch[:0]

	for slot := range l.slots {
		tag := l.slots[slot].take()
		if tag == 0 {
			continue
		}
		p := l.producers[slot].Load()
		if p == nil || tag <= l.lastTag[slot] {
			l.counters.stale.Add(1)
			continue
		}
		l.lastTag[slot] = tag
		l.counters.requests.Add(1)
		if !p.queued {
			p.queued = true
			batch = append(batch, p)
		}
	}
	for _, p := range l.retry {
		if !p.queued && !p.released {
			p.queued = true
			batch = append(batch, p)
		}
	}
	l.retry = l.retry[:0]

	replayed := 0
	for _, p := range batch {
		p.queued = false
		entries, ok := p.collect(false)
		if !ok {
			l.counters.deferred.Add(1)
			l.retry = append(l.retry, p)
			continue
		}
		replayed += l.replay(p, entries)
		if p.behind() {
			l.retry = append(l.retry, p)
		}
	}
	clear(batch)
	l.batch = batch[:0]
	return replayed
}

func (l *Logger) replay(p *Producer, entries []Entry) int {
	n := len(entries)
	if n > 0 {
		tid := 0
		if l.cfg.ThreadIDs {
			tid = p.slot + 1
		}
		l.sink.SetThreadID(tid)
		for i := range entries {
			entries[i].render(l.sink)
		}
		clear(entries)
		p.collected += uint64(n)
		l.counters.entries.Add(uint64(n))
		l.store.Touch(p.slot, n)
	}
	if p.recycled == nil {
		p.recycled = entries[:0]
	}
	return n
}

func (l *Logger) runTasks() {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()

	for _, p := range tasks {
		l.retire(p)
	}
}

// retire drains both halves of p and frees its slot. Drain goroutine
// only.
func (l *Logger) retire(p *Producer) {
	if p.released {
		return
	}
	p.markRetired()
	standby, _ := p.collect(true)
	l.replay(p, standby)
	active, _ := p.collect(true)
	l.replay(p, active)

	slot := p.slot
	p.swap.take()
	l.lastTag[slot] = max(l.lastTag[slot], p.swap.issued.Load())
	l.producers[slot].Store(nil)
	l.store.Release(slot)
	p.released = true
	close(p.retired)
	l.log.Debug("producer unregistered", "slot", slot, "name", p.name, "entries", p.collected)
}

// shutdown runs pending unregistrations, then polls until no request
// is outstanding and finally force-drains every producer still
// registered.
func (l *Logger) shutdown() {
	l.mu.Lock()
	l.closed = true
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()

	for _, p := range tasks {
		l.retire(p)
	}

	var live []*Producer
	for slot := range l.producers {
		if p := l.producers[slot].Load(); p != nil {
			p.markRetired()
			live = append(live, p)
		}
	}
	for {
		if n := l.cycle(); n == 0 && !l.pending() {
			break
		}
	}
	for _, p := range live {
		l.retire(p)
	}
	l.log.Debug("drain stopped",
		"cycles", l.counters.cycles.Load(),
		"entries", l.counters.entries.Load(),
		"records", l.sink.records.Load())
}

// pending reports whether any swap request or deferred collection is
// still outstanding.
func (l *Logger) pending() bool {
	if len(l.retry) > 0 {
		return true
	}
	for slot := range l.slots {
		if l.slots[slot].pending() {
			return true
		}
	}
	return false
}
