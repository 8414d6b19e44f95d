package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/coffersTech/loadtrace/internal/query"
	"github.com/coffersTech/loadtrace/internal/storage"
)

type inspectOptions struct {
	bucket  time.Duration
	asJSON  bool
	strict  bool
	maxShow int
	filter  string
}

func newInspectCmd() *cobra.Command {
	opts := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Summarize a trace file and check begin/end pairing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0], opts, cmd.OutOrStdout())
		},
	}
	fs := cmd.Flags()
	fs.DurationVar(&opts.bucket, "bucket", 0, "histogram bucket width over ts, 0 disables")
	fs.BoolVar(&opts.asJSON, "json", false, "print the report as JSON")
	fs.BoolVar(&opts.strict, "strict", false, "fail if any async id is unmatched")
	fs.IntVar(&opts.maxShow, "show-unmatched", 10, "unmatched ids to list")
	fs.StringVar(&opts.filter, "filter", "", `only count records matching a query, e.g. 'ph:b tid:2' or 'dur>1ms'`)
	return cmd
}

func runInspect(path string, opts *inspectOptions, w io.Writer) error {
	filter, err := query.Parse(opts.filter)
	if err != nil {
		return errors.Wrap(err, "invalid --filter")
	}

	it, err := storage.Open(path)
	if err != nil {
		return err
	}
	defer it.Close()

	rep, err := storage.Inspect(it, opts.bucket.Nanoseconds(), query.Predicate(filter))
	if err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		printReport(w, rep, opts.maxShow)
	}

	if opts.strict && len(rep.Unmatched) > 0 {
		return errors.Newf("%d async ids without a matching begin/end pair", len(rep.Unmatched))
	}
	return nil
}

func printReport(w io.Writer, rep storage.Report, maxShow int) {
	fmt.Fprintf(w, "records:   %d (complete %d, begin %d, end %d)\n", rep.Records, rep.Complete, rep.Begins, rep.Ends)
	if rep.Skipped > 0 {
		fmt.Fprintf(w, "filtered:  %d\n", rep.Skipped)
	}
	fmt.Fprintf(w, "span:      %s .. %s\n", time.Duration(rep.FirstTS), time.Duration(rep.LastTS))

	tids := make([]int, 0, len(rep.Threads))
	for tid := range rep.Threads {
		tids = append(tids, tid)
	}
	sort.Ints(tids)
	fmt.Fprintf(w, "threads:   %d\n", len(tids))
	for _, tid := range tids {
		fmt.Fprintf(w, "  tid %-4d %d\n", tid, rep.Threads[tid])
	}

	names := make([]string, 0, len(rep.Names))
	for name := range rep.Names {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "names:     %d\n", len(names))
	for _, name := range names {
		fmt.Fprintf(w, "  %-20s %d\n", name, rep.Names[name])
	}

	fmt.Fprintf(w, "unmatched: %d\n", len(rep.Unmatched))
	for i, id := range rep.Unmatched {
		if i == maxShow {
			fmt.Fprintf(w, "  ... %d more\n", len(rep.Unmatched)-maxShow)
			break
		}
		fmt.Fprintf(w, "  id %d\n", id)
	}

	for _, b := range rep.Buckets {
		fmt.Fprintf(w, "  %12s %d\n", time.Duration(b.Start), b.Count)
	}
}
