package storage

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/valyala/fastjson"
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic = []byte{0x1f, 0x8b}
)

var parsers fastjson.ParserPool

// Record is one decoded trace record.
type Record struct {
	Name  string
	Cat   string
	Phase string
	ID    uint64
	PID   int
	TID   int
	TS    int64 // ns since origin
	Dur   int64 // ns, complete events only
	Args  []byte
	Line  int
}

// Iterator reads trace records one at a time. It accepts both framings
// the sink writes (one object per line, or an unterminated array of
// comma-terminated objects) and any compression Create produces.
type Iterator struct {
	file    *os.File
	closeFn func() error
	scanner *bufio.Scanner
	parser  *fastjson.Parser

	line int
	rec  Record
	err  error
}

// Open opens a trace file for reading.
func Open(path string) (*Iterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "storage: opening trace file")
	}
	it, err := NewIterator(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	it.file = f
	return it, nil
}

// NewIterator reads records from r, detecting compression from its
// first bytes.
func NewIterator(r io.Reader) (*Iterator, error) {
	br := bufio.NewReaderSize(r, 64<<10)
	head, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "storage: reading trace header")
	}

	it := &Iterator{parser: parsers.Get()}
	var src io.Reader = br
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "storage: zstd decoder")
		}
		it.closeFn = func() error { dec.Close(); return nil }
		src = dec
	case bytes.HasPrefix(head, gzipMagic):
		dec, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "storage: gzip decoder")
		}
		it.closeFn = dec.Close
		src = dec
	}
	it.scanner = bufio.NewScanner(src)
	it.scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	return it, nil
}

// Next advances to the next record.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	for it.scanner.Scan() {
		it.line++
		line := bytes.TrimSpace(it.scanner.Bytes())
		line = bytes.TrimSuffix(line, []byte{','})
		switch string(line) {
		case "", "[", "]":
			continue
		}
		if err := it.decode(line); err != nil {
			it.err = err
			return false
		}
		return true
	}
	it.err = it.scanner.Err()
	return false
}

func (it *Iterator) decode(line []byte) error {
	v, err := it.parser.ParseBytes(line)
	if err != nil {
		return errors.Wrapf(err, "storage: line %d", it.line)
	}
	if v.Type() != fastjson.TypeObject {
		return errors.Newf("storage: line %d: record is %s, not an object", it.line, v.Type())
	}
	rec := Record{
		Name:  string(v.GetStringBytes("name")),
		Cat:   string(v.GetStringBytes("cat")),
		Phase: string(v.GetStringBytes("ph")),
		ID:    v.GetUint64("id"),
		PID:   v.GetInt("pid"),
		TID:   v.GetInt("tid"),
		TS:    v.GetInt64("ts"),
		Dur:   v.GetInt64("dur"),
		Line:  it.line,
	}
	if rec.Phase == "" {
		return errors.Newf("storage: line %d: missing \"ph\"", it.line)
	}
	if args := v.Get("args"); args != nil {
		rec.Args = args.MarshalTo(nil)
	}
	it.rec = rec
	return nil
}

// Record returns the current record.
func (it *Iterator) Record() Record { return it.rec }

// Err returns the first decode or read error.
func (it *Iterator) Err() error { return it.err }

// Close releases the decoder and the file.
func (it *Iterator) Close() error {
	var err error
	if it.closeFn != nil {
		err = it.closeFn()
	}
	if it.file != nil {
		err = errors.CombineErrors(err, it.file.Close())
	}
	if it.parser != nil {
		parsers.Put(it.parser)
		it.parser = nil
	}
	return err
}
