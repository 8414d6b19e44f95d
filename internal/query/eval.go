package query

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/coffersTech/loadtrace/internal/storage"
)

type field struct {
	text    func(*storage.Record) string
	numeric func(*storage.Record) int64
	// duration fields also accept "1.5ms" style values
	duration bool
}

func (f field) parse(v string) (int64, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err == nil || !f.duration {
		return n, err
	}
	d, derr := time.ParseDuration(v)
	if derr != nil {
		return 0, err
	}
	return int64(d), nil
}

var fields = map[string]field{
	"name": {text: func(r *storage.Record) string { return r.Name }},
	"cat":  {text: func(r *storage.Record) string { return r.Cat }},
	"ph":   {text: func(r *storage.Record) string { return r.Phase }},
	"id":   {numeric: func(r *storage.Record) int64 { return int64(r.ID) }},
	"pid":  {numeric: func(r *storage.Record) int64 { return int64(r.PID) }},
	"tid":  {numeric: func(r *storage.Record) int64 { return int64(r.TID) }},
	"ts":   {numeric: func(r *storage.Record) int64 { return r.TS }, duration: true},
	"dur":  {numeric: func(r *storage.Record) int64 { return r.Dur }, duration: true},
}

// Match reports whether rec satisfies node. A nil node matches
// everything. node must come from Parse.
func Match(node Node, rec *storage.Record) bool {
	switch n := node.(type) {
	case nil:
		return true
	case BinaryExpr:
		if n.Op == "AND" {
			return Match(n.Left, rec) && Match(n.Right, rec)
		}
		return Match(n.Left, rec) || Match(n.Right, rec)
	case NotExpr:
		return !Match(n.Expr, rec)
	case MatchExpr:
		return matchField(n, rec)
	}
	return false
}

// Predicate returns a closure over a parsed filter, for storage.Inspect.
func Predicate(node Node) func(*storage.Record) bool {
	if node == nil {
		return nil
	}
	return func(rec *storage.Record) bool { return Match(node, rec) }
}

func matchField(m MatchExpr, rec *storage.Record) bool {
	if m.Key == "" {
		return containsFold(rec.Name, m.Value) || bytes.Contains(bytes.ToLower(rec.Args), []byte(strings.ToLower(m.Value)))
	}
	f := fields[m.Key]
	if f.numeric != nil {
		want, _ := f.parse(m.Value)
		got := f.numeric(rec)
		switch m.Op {
		case "!=":
			return got != want
		case ">":
			return got > want
		case "<":
			return got < want
		}
		return got == want
	}

	got := f.text(rec)
	switch m.Op {
	case "!=":
		return !strings.EqualFold(got, m.Value)
	case "CONTAINS":
		return containsFold(got, m.Value)
	}
	return strings.EqualFold(got, m.Value)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
