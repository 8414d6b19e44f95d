package tracelog

import (
	"math"
	"strconv"
	"time"

	"github.com/valyala/fastjson"
)

type entryKind uint8

const (
	kindDuration entryKind = iota + 1
	kindAsync
	kindLatency
)

// Entry is one unit of deferred logging work. It is built on the
// producer goroutine and rendered by the drain goroutine, so the cost
// of serialization stays off the producer's measured path.
//
// Build entries with DurationEvent, AsyncEvent or LatencySample. The
// zero Entry is invalid.
type Entry struct {
	kind entryKind
	name string
	id   uint64
	ts   time.Duration
	dur  time.Duration
	args []Arg
}

// DurationEvent is a complete event starting at ts and lasting dur.
func DurationEvent(name string, ts, dur time.Duration, args ...Arg) Entry {
	return Entry{kind: kindDuration, name: name, ts: ts, dur: dur, args: args}
}

// AsyncEvent is a begin/end event pair tagged with id. Its duration
// is also recorded as the latency of sample id.
func AsyncEvent(name string, id uint64, ts, dur time.Duration, args ...Arg) Entry {
	return Entry{kind: kindAsync, name: name, id: id, ts: ts, dur: dur, args: args}
}

// LatencySample records a latency for sample id without trace output.
func LatencySample(id uint64, latency time.Duration) Entry {
	return Entry{kind: kindLatency, id: id, dur: latency}
}

func (e *Entry) render(s *Sink) {
	switch e.kind {
	case kindDuration:
		s.EmitDurationEvent(e.name, e.ts, e.dur, e.args...)
	case kindAsync:
		s.EmitAsyncEvent(e.name, e.id, e.ts, e.dur, e.args...)
	case kindLatency:
		s.RecordLatency(e.id, e.dur)
	}
}

type argKind uint8

const (
	argInt argKind = iota
	argUint
	argFloat
	argString
	argBool
)

// Arg is a typed name/value pair rendered inside a record's "args"
// object.
type Arg struct {
	Key  string
	kind argKind
	num  uint64
	str  string
}

// Int returns an integer Arg.
func Int(key string, v int64) Arg { return Arg{Key: key, kind: argInt, num: uint64(v)} }

// Uint returns an unsigned integer Arg.
func Uint(key string, v uint64) Arg { return Arg{Key: key, kind: argUint, num: v} }

// Float returns a floating point Arg. NaN and infinities render as null.
func Float(key string, v float64) Arg {
	return Arg{Key: key, kind: argFloat, num: math.Float64bits(v)}
}

// String returns a string Arg.
func String(key, v string) Arg { return Arg{Key: key, kind: argString, str: v} }

// Bool returns a boolean Arg.
func Bool(key string, v bool) Arg {
	a := Arg{Key: key, kind: argBool}
	if v {
		a.num = 1
	}
	return a
}

// Dur returns a duration Arg rendered as integer nanoseconds.
func Dur(key string, v time.Duration) Arg { return Int(key, int64(v)) }

func (a Arg) value(arena *fastjson.Arena) *fastjson.Value {
	switch a.kind {
	case argInt:
		return arena.NewNumberString(strconv.FormatInt(int64(a.num), 10))
	case argUint:
		return arena.NewNumberString(strconv.FormatUint(a.num, 10))
	case argFloat:
		f := math.Float64frombits(a.num)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return arena.NewNull()
		}
		return arena.NewNumberFloat64(f)
	case argString:
		return arena.NewString(a.str)
	case argBool:
		if a.num != 0 {
			return arena.NewTrue()
		}
		return arena.NewFalse()
	}
	return arena.NewNull()
}
