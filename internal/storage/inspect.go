package storage

import (
	"sort"

	"github.com/cockroachdb/errors"
)

// Bucket counts records whose ts falls in [Start, Start+interval).
type Bucket struct {
	Start int64 `json:"start"`
	Count int   `json:"count"`
}

// Report summarizes a trace file.
type Report struct {
	Records   int            `json:"records"`
	Skipped   int            `json:"skipped,omitempty"` // rejected by the filter
	Complete  int            `json:"complete"`
	Begins    int            `json:"begins"`
	Ends      int            `json:"ends"`
	Unmatched []uint64       `json:"unmatched,omitempty"` // async ids without both halves
	Threads   map[int]int    `json:"threads"`             // tid -> records
	Names     map[string]int `json:"names"`
	FirstTS   int64          `json:"first_ts"`
	LastTS    int64          `json:"last_ts"`
	Buckets   []Bucket       `json:"buckets,omitempty"`
}

// Inspect reads every record from it and builds a Report. interval, if
// positive, buckets records by ts. A non-nil match restricts the report
// to the records it accepts.
func Inspect(it *Iterator, interval int64, match func(*Record) bool) (Report, error) {
	rep := Report{Threads: make(map[int]int), Names: make(map[string]int)}
	open := make(map[uint64]int) // id -> begins minus ends
	buckets := make(map[int64]int)

	for it.Next() {
		rec := it.Record()
		if match != nil && !match(&rec) {
			rep.Skipped++
			continue
		}
		if rep.Records == 0 || rec.TS < rep.FirstTS {
			rep.FirstTS = rec.TS
		}
		end := rec.TS + rec.Dur
		if end > rep.LastTS {
			rep.LastTS = end
		}
		rep.Records++
		rep.Threads[rec.TID]++
		rep.Names[rec.Name]++

		switch rec.Phase {
		case "X":
			rep.Complete++
		case "b":
			rep.Begins++
			open[rec.ID]++
		case "e":
			rep.Ends++
			open[rec.ID]--
		default:
			return rep, errors.Newf("storage: line %d: unknown phase %q", rec.Line, rec.Phase)
		}

		if interval > 0 {
			buckets[(rec.TS/interval)*interval]++
		}
	}
	if err := it.Err(); err != nil {
		return rep, err
	}

	for id, n := range open {
		if n != 0 {
			rep.Unmatched = append(rep.Unmatched, id)
		}
	}
	sort.Slice(rep.Unmatched, func(i, j int) bool { return rep.Unmatched[i] < rep.Unmatched[j] })

	for start, count := range buckets {
		rep.Buckets = append(rep.Buckets, Bucket{Start: start, Count: count})
	}
	sort.Slice(rep.Buckets, func(i, j int) bool { return rep.Buckets[i].Start < rep.Buckets[j].Start })
	return rep, nil
}
