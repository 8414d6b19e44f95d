package tracelog

import (
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/valyala/fastjson"
)

// Format selects how trace records are framed in the output.
type Format int

const (
	// FormatJSONLines writes one JSON object per line.
	FormatJSONLines Format = iota
	// FormatTraceArray writes an opening "[" followed by records each
	// terminated by ",\n". Trace viewers accept the unterminated array.
	FormatTraceArray
)

// ParseFormat maps "jsonl" and "array" to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "jsonl", "json-lines":
		return FormatJSONLines, nil
	case "array", "trace-array":
		return FormatTraceArray, nil
	}
	return 0, errors.Newf("tracelog: unknown format %q", s)
}

func (f Format) String() string {
	if f == FormatTraceArray {
		return "array"
	}
	return "jsonl"
}

// Sink turns entries into trace records and latency measurements. The
// Emit and Record methods belong to a single goroutine, the Logger's
// drain goroutine when the sink is owned by a Logger. Latency
// collection and counters are safe from any goroutine.
//
// A failed write is sticky: it is logged once, later records are
// counted as dropped and Err reports the first failure.
type Sink struct {
	w       io.Writer
	flusher interface{ Flush() error }
	format  Format
	log     *slog.Logger

	arena   fastjson.Arena
	buf     []byte
	started bool
	tid     int
	failed  bool

	errMu sync.Mutex
	err   error

	records atomic.Uint64
	bytes   atomic.Uint64
	dropped atomic.Uint64

	latencies *latencyTable
}

// NewSink creates a sink writing to w. If w has a Flush() error method
// it is flushed after every record so the output survives a crash. A
// nil log uses slog.Default().
func NewSink(w io.Writer, format Format, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	s := &Sink{
		w:         w,
		format:    format,
		log:       log,
		latencies: newLatencyTable(),
	}
	if f, ok := w.(interface{ Flush() error }); ok {
		s.flusher = f
	}
	return s
}

// SetThreadID sets the tid stamped on subsequent records.
func (s *Sink) SetThreadID(tid int) { s.tid = tid }

// EmitDurationEvent writes a complete ("X") event.
func (s *Sink) EmitDurationEvent(name string, ts, dur time.Duration, args ...Arg) {
	a := &s.arena
	a.Reset()
	o := a.NewObject()
	o.Set("name", a.NewString(name))
	o.Set("ph", a.NewString("X"))
	o.Set("pid", a.NewNumberInt(0))
	o.Set("tid", a.NewNumberInt(s.tid))
	o.Set("ts", nanos(a, ts))
	o.Set("dur", nanos(a, dur))
	o.Set("args", s.argsObject(args))

	s.buf = s.buf[:0]
	s.appendRecord(o)
	s.write(1)
}

// EmitAsyncEvent writes a begin ("b") and end ("e") event pair tagged
// with id and records dur as the latency of sample id.
func (s *Sink) EmitAsyncEvent(name string, id uint64, ts, dur time.Duration, args ...Arg) {
	a := &s.arena
	a.Reset()
	begin := a.NewObject()
	begin.Set("name", a.NewString(name))
	begin.Set("cat", a.NewString("default"))
	begin.Set("ph", a.NewString("b"))
	begin.Set("id", a.NewNumberString(strconv.FormatUint(id, 10)))
	begin.Set("pid", a.NewNumberInt(0))
	begin.Set("tid", a.NewNumberInt(s.tid))
	begin.Set("ts", nanos(a, ts))
	begin.Set("args", s.argsObject(args))

	end := a.NewObject()
	end.Set("name", a.NewString(name))
	end.Set("cat", a.NewString("default"))
	end.Set("ph", a.NewString("e"))
	end.Set("id", a.NewNumberString(strconv.FormatUint(id, 10)))
	end.Set("pid", a.NewNumberInt(0))
	end.Set("tid", a.NewNumberInt(s.tid))
	end.Set("ts", nanos(a, ts+dur))

	s.buf = s.buf[:0]
	s.appendRecord(begin)
	s.appendRecord(end)
	s.write(2)

	s.latencies.record(id, dur)
}

// RecordLatency stores latency as the measurement of sample id.
func (s *Sink) RecordLatency(id uint64, latency time.Duration) {
	s.latencies.record(id, latency)
}

// GetLatenciesBlocking blocks until exactly expected latencies have
// been recorded since the last restart, then returns the table indexed
// by sample id and empties it. It never returns if fewer samples
// arrive.
func (s *Sink) GetLatenciesBlocking(expected int) []time.Duration {
	return s.latencies.collect(expected)
}

// RestartLatencyRecording resets latency counting for a new phase. It
// panics unless the previous phase's latencies were fully collected.
func (s *Sink) RestartLatencyRecording() {
	s.latencies.restart()
}

// Err returns the first write error, if any.
func (s *Sink) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Sink) argsObject(args []Arg) *fastjson.Value {
	o := s.arena.NewObject()
	for _, arg := range args {
		o.Set(arg.Key, arg.value(&s.arena))
	}
	return o
}

func (s *Sink) appendRecord(v *fastjson.Value) {
	if s.format == FormatTraceArray && !s.started {
		s.buf = append(s.buf, "[\n"...)
	}
	s.started = true
	s.buf = v.MarshalTo(s.buf)
	if s.format == FormatTraceArray {
		s.buf = append(s.buf, ",\n"...)
	} else {
		s.buf = append(s.buf, '\n')
	}
}

func (s *Sink) write(records int) {
	if s.failed {
		s.dropped.Add(uint64(records))
		return
	}
	n, err := s.w.Write(s.buf)
	s.bytes.Add(uint64(n))
	if err == nil && s.flusher != nil {
		err = s.flusher.Flush()
	}
	if err != nil {
		s.fail(err)
		s.dropped.Add(uint64(records))
		return
	}
	s.records.Add(uint64(records))
}

func (s *Sink) fail(err error) {
	s.failed = true
	err = errors.Wrap(err, "tracelog: writing trace output")
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
	s.log.Error("trace output failed, dropping further records", "error", err)
}

func nanos(a *fastjson.Arena, d time.Duration) *fastjson.Value {
	return a.NewNumberString(strconv.FormatInt(int64(d), 10))
}
