package storage

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression selects the trace file encoding.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionGzip
)

// Compressed streams are flushed once at least this many bytes went
// into the encoder since its last flush.
const encoderFlushBytes = 64 << 10

// ParseCompression maps "none", "zstd" and "gzip" to a Compression.
// "auto" picks by the file extension of path.
func ParseCompression(s, path string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return CompressionForPath(path), nil
	case "none":
		return CompressionNone, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	}
	return CompressionNone, errors.Newf("storage: unknown compression %q", s)
}

// CompressionForPath guesses the compression from the file extension.
func CompressionForPath(path string) Compression {
	switch filepath.Ext(path) {
	case ".zst":
		return CompressionZstd
	case ".gz":
		return CompressionGzip
	}
	return CompressionNone
}

func (c Compression) String() string {
	switch c {
	case CompressionZstd:
		return "zstd"
	case CompressionGzip:
		return "gzip"
	}
	return "none"
}

type flushWriteCloser interface {
	io.WriteCloser
	Flush() error
}

// TraceWriter writes a trace file. It satisfies the Flush() error
// contract the trace sink looks for: every Flush pushes buffered bytes
// to the file, except that compressed streams only flush the encoder
// every encoderFlushBytes so blocks stay large enough to compress.
type TraceWriter struct {
	file *os.File
	buf  *bufio.Writer
	enc  flushWriteCloser // nil when uncompressed

	compression Compression
	pending     int
}

// Create truncates or creates path and returns a writer for it.
func Create(path string, c Compression) (*TraceWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "storage: creating trace file")
	}

	w := &TraceWriter{file: f, compression: c}
	var dst io.Writer = f
	switch c {
	case CompressionZstd:
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, "storage: zstd encoder")
		}
		w.enc = enc
		dst = enc
	case CompressionGzip:
		enc, err := gzip.NewWriterLevel(f, gzip.BestSpeed)
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, "storage: gzip encoder")
		}
		w.enc = enc
		dst = enc
	}
	w.buf = bufio.NewWriterSize(dst, 32<<10)
	return w, nil
}

// Write buffers p.
func (w *TraceWriter) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	w.pending += n
	return n, err
}

// Flush hands buffered bytes to the file, or to the encoder for
// compressed files.
func (w *TraceWriter) Flush() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if w.enc == nil || w.pending < encoderFlushBytes {
		return nil
	}
	w.pending = 0
	return w.enc.Flush()
}

// Compression returns the encoding of the file.
func (w *TraceWriter) Compression() Compression { return w.compression }

// Close flushes everything, finishes the compressed stream and closes
// the file.
func (w *TraceWriter) Close() error {
	err := w.buf.Flush()
	if w.enc != nil {
		err = errors.CombineErrors(err, w.enc.Close())
	}
	err = errors.CombineErrors(err, w.file.Sync())
	err = errors.CombineErrors(err, w.file.Close())
	return err
}
