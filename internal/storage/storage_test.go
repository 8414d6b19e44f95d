package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coffersTech/loadtrace/tracelog"
)

func writeTrace(t *testing.T, path string, c Compression, format tracelog.Format) {
	t.Helper()
	w, err := Create(path, c)
	require.NoError(t, err)

	s := tracelog.NewSink(w, format, nil)
	s.EmitDurationEvent("setup", 0, 50, tracelog.String("phase", "warmup"))
	for id := uint64(0); id < 3; id++ {
		s.SetThreadID(int(id) + 1)
		s.EmitAsyncEvent("req", id, time.Duration(100*id), 10)
	}
	require.NoError(t, s.Err())
	require.NoError(t, w.Close())
}

func TestRoundTrip_AllCompressions(t *testing.T) {
	cases := []struct {
		name   string
		file   string
		c      Compression
		format tracelog.Format
	}{
		{"plain", "trace.jsonl", CompressionNone, tracelog.FormatJSONLines},
		{"zstd", "trace.jsonl.zst", CompressionZstd, tracelog.FormatJSONLines},
		{"gzip", "trace.jsonl.gz", CompressionGzip, tracelog.FormatJSONLines},
		{"array", "trace.json", CompressionNone, tracelog.FormatTraceArray},
		{"array-zstd", "trace.json.zst", CompressionZstd, tracelog.FormatTraceArray},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tc.file)
			writeTrace(t, path, tc.c, tc.format)

			it, err := Open(path)
			require.NoError(t, err)
			defer it.Close()

			require.True(t, it.Next())
			first := it.Record()
			require.Equal(t, "setup", first.Name)
			require.Equal(t, "X", first.Phase)
			require.Equal(t, int64(50), first.Dur)
			require.JSONEq(t, `{"phase":"warmup"}`, string(first.Args))

			require.True(t, it.Next())
			begin := it.Record()
			require.Equal(t, "b", begin.Phase)
			require.Equal(t, "default", begin.Cat)
			require.Equal(t, 1, begin.TID)

			rep, err := Inspect(it, 0, nil)
			require.NoError(t, err)
			// Inspect continues from the iterator's position.
			require.Equal(t, 5, rep.Records)
			require.Equal(t, 2, rep.Begins)
			require.Equal(t, 3, rep.Ends)
		})
	}
}

func TestInspect_Report(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	writeTrace(t, path, CompressionNone, tracelog.FormatJSONLines)

	it, err := Open(path)
	require.NoError(t, err)
	defer it.Close()

	rep, err := Inspect(it, 100, nil)
	require.NoError(t, err)
	require.Equal(t, 7, rep.Records)
	require.Equal(t, 1, rep.Complete)
	require.Equal(t, 3, rep.Begins)
	require.Equal(t, 3, rep.Ends)
	require.Empty(t, rep.Unmatched)
	require.Equal(t, map[int]int{0: 1, 1: 2, 2: 2, 3: 2}, rep.Threads)
	require.Equal(t, map[string]int{"setup": 1, "req": 6}, rep.Names)
	require.Equal(t, int64(0), rep.FirstTS)
	require.Equal(t, int64(210), rep.LastTS)
	require.Equal(t, []Bucket{{0, 3}, {100, 2}, {200, 2}}, rep.Buckets)
}

func TestInspect_Unmatched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.jsonl")
	data := strings.Join([]string{
		`{"name":"a","cat":"default","ph":"b","id":4,"pid":0,"tid":0,"ts":1,"args":{}}`,
		`{"name":"a","cat":"default","ph":"b","id":5,"pid":0,"tid":0,"ts":2,"args":{}}`,
		`{"name":"a","cat":"default","ph":"e","id":5,"pid":0,"tid":0,"ts":3}`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	it, err := Open(path)
	require.NoError(t, err)
	defer it.Close()

	rep, err := Inspect(it, 0, nil)
	require.NoError(t, err)
	require.Equal(t, []uint64{4}, rep.Unmatched)
}

func TestInspect_Filter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	writeTrace(t, path, CompressionNone, tracelog.FormatJSONLines)

	it, err := Open(path)
	require.NoError(t, err)
	defer it.Close()

	rep, err := Inspect(it, 0, func(r *Record) bool { return r.Phase == "b" })
	require.NoError(t, err)
	require.Equal(t, 3, rep.Records)
	require.Equal(t, 4, rep.Skipped)
	require.Equal(t, 3, rep.Begins)
	require.Zero(t, rep.Complete)
}

func TestIterator_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"ph\":\"X\"}\nnot json\n"), 0o644))

	it, err := Open(path)
	require.NoError(t, err)
	defer it.Close()

	require.True(t, it.Next())
	require.False(t, it.Next())
	require.Error(t, it.Err())
	require.Contains(t, it.Err().Error(), "line 2")
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("auto", "out.jsonl.zst")
	require.NoError(t, err)
	require.Equal(t, CompressionZstd, c)

	c, err = ParseCompression("", "out.jsonl")
	require.NoError(t, err)
	require.Equal(t, CompressionNone, c)

	c, err = ParseCompression("gzip", "out.jsonl")
	require.NoError(t, err)
	require.Equal(t, CompressionGzip, c)

	_, err = ParseCompression("lz4", "out")
	require.Error(t, err)
}
