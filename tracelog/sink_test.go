package tracelog

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestSink_DurationEvent(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf, FormatJSONLines, nil)

	s.EmitDurationEvent("read", 100, 20, Int("bytes", 512))
	s.EmitDurationEvent("idle", 200, 5)

	require.Equal(t,
		`{"name":"read","ph":"X","pid":0,"tid":0,"ts":100,"dur":20,"args":{"bytes":512}}`+"\n"+
			`{"name":"idle","ph":"X","pid":0,"tid":0,"ts":200,"dur":5,"args":{}}`+"\n",
		buf.String())
	require.Equal(t, uint64(2), s.records.Load())
	require.Equal(t, uint64(buf.Len()), s.bytes.Load())
}

func TestSink_AsyncEventPair(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf, FormatJSONLines, nil)
	s.SetThreadID(3)

	s.EmitAsyncEvent("req", 7, 1000, 250)

	require.Equal(t,
		`{"name":"req","cat":"default","ph":"b","id":7,"pid":0,"tid":3,"ts":1000,"args":{}}`+"\n"+
			`{"name":"req","cat":"default","ph":"e","id":7,"pid":0,"tid":3,"ts":1250}`+"\n",
		buf.String())
	require.Equal(t, []time.Duration{0, 0, 0, 0, 0, 0, 0, 250}, s.GetLatenciesBlocking(1))
}

func TestSink_TraceArrayFraming(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf, FormatTraceArray, nil)

	s.EmitDurationEvent("a", 1, 1)
	s.EmitDurationEvent("b", 2, 1)

	require.Equal(t,
		"[\n"+
			`{"name":"a","ph":"X","pid":0,"tid":0,"ts":1,"dur":1,"args":{}},`+"\n"+
			`{"name":"b","ph":"X","pid":0,"tid":0,"ts":2,"dur":1,"args":{}},`+"\n",
		buf.String())
}

func TestSink_ArgValues(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf, FormatJSONLines, nil)

	s.EmitDurationEvent("args", 0, 0,
		Uint("u", math.MaxUint64),
		Int("neg", -3),
		Float("f", 1.5),
		Float("nan", math.NaN()),
		Bool("yes", true),
		Bool("no", false),
		String("s", `say "hi"`),
		Dur("d", time.Microsecond),
	)

	require.Equal(t,
		`{"name":"args","ph":"X","pid":0,"tid":0,"ts":0,"dur":0,"args":{`+
			`"u":18446744073709551615,"neg":-3,"f":1.5,"nan":null,"yes":true,"no":false,`+
			`"s":"say \"hi\"","d":1000}}`+"\n",
		buf.String())
}

func TestSink_FlushesEachRecord(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriterSize(&buf, 64<<10)
	s := NewSink(w, FormatJSONLines, nil)

	s.EmitDurationEvent("x", 0, 0)
	require.Equal(t, 0, w.Buffered())
	require.Contains(t, buf.String(), `"name":"x"`)
}

type failingWriter struct {
	calls int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.calls++
	return 0, io.ErrShortWrite
}

func TestSink_WriteErrorIsSticky(t *testing.T) {
	w := &failingWriter{}
	s := NewSink(w, FormatJSONLines, nil)

	s.EmitDurationEvent("a", 0, 0)
	s.EmitAsyncEvent("b", 0, 0, 9)

	require.Equal(t, 1, w.calls)
	require.Error(t, s.Err())
	require.True(t, errors.Is(s.Err(), io.ErrShortWrite))
	require.Equal(t, uint64(0), s.records.Load())
	require.Equal(t, uint64(3), s.dropped.Load())

	// Latencies are still recorded after the output failed.
	require.Equal(t, []time.Duration{9}, s.GetLatenciesBlocking(1))
}

func TestSink_LatencyPhases(t *testing.T) {
	s := NewSink(io.Discard, FormatJSONLines, nil)

	s.RecordLatency(1, 20)
	s.RecordLatency(0, 10)
	s.RecordLatency(2, 30)
	require.Equal(t, []time.Duration{10, 20, 30}, s.GetLatenciesBlocking(3))

	s.RestartLatencyRecording()
	s.RecordLatency(0, 5)
	require.Equal(t, []time.Duration{5}, s.GetLatenciesBlocking(1))
}

func TestSink_GetLatenciesWaits(t *testing.T) {
	s := NewSink(io.Discard, FormatJSONLines, nil)
	got := make(chan []time.Duration)
	go func() { got <- s.GetLatenciesBlocking(2) }()

	s.RecordLatency(0, 1)
	select {
	case <-got:
		t.Fatal("returned before all latencies were recorded")
	case <-time.After(20 * time.Millisecond):
	}

	s.RecordLatency(1, 2)
	require.Equal(t, []time.Duration{1, 2}, <-got)
}

func TestSink_RestartPanicsWithUncollectedLatencies(t *testing.T) {
	s := NewSink(io.Discard, FormatJSONLines, nil)
	s.RecordLatency(0, 1)
	require.Panics(t, s.RestartLatencyRecording)

	s2 := NewSink(io.Discard, FormatJSONLines, nil)
	require.NotPanics(t, s2.RestartLatencyRecording)
}

func TestSink_RejectsOutOfRangeLatencyID(t *testing.T) {
	s := NewSink(io.Discard, FormatJSONLines, nil)
	for _, id := range []uint64{math.MaxInt, math.MaxUint64} {
		msg := func() (msg string) {
			defer func() { msg = fmt.Sprint(recover()) }()
			s.RecordLatency(id, 1)
			return ""
		}()
		require.Contains(t, msg, "out of range", "id %d", id)
	}
	recorded, _ := s.latencies.counts()
	require.Zero(t, recorded)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("array")
	require.NoError(t, err)
	require.Equal(t, FormatTraceArray, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatJSONLines, f)

	_, err = ParseFormat("xml")
	require.Error(t, err)
}
