package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/coffersTech/loadtrace/clock"
	"github.com/coffersTech/loadtrace/internal/config"
	"github.com/coffersTech/loadtrace/internal/server"
	"github.com/coffersTech/loadtrace/internal/storage"
	"github.com/coffersTech/loadtrace/internal/summary"
	"github.com/coffersTech/loadtrace/internal/workload"
	"github.com/coffersTech/loadtrace/tracelog"
)

type runOptions struct {
	configPath string
	reportPath string
	cfg        *config.Config
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{cfg: config.Default()}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured workload and write its trace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.resolve(cmd.Flags())
			if err != nil {
				return err
			}
			return runLoad(cmd.Context(), cfg, opts.reportPath, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	bindRunFlags(cmd.Flags(), opts)
	return cmd
}

func bindRunFlags(fs *pflag.FlagSet, o *runOptions) {
	c := o.cfg
	fs.StringVarP(&o.configPath, "config", "c", "", "YAML run description")
	fs.StringVar(&o.reportPath, "report", "", "write phase summaries as JSON to this file")
	fs.StringVarP(&c.Output, "output", "o", c.Output, "trace output file")
	fs.StringVar(&c.Format, "format", c.Format, "trace framing: jsonl or array")
	fs.StringVar(&c.Compression, "compression", c.Compression, "auto, none, zstd or gzip")
	fs.DurationVar(&c.PollPeriod, "poll-period", c.PollPeriod, "drain poll period")
	fs.IntVar(&c.MaxProducers, "max-producers", c.MaxProducers, "producer slot capacity")
	fs.BoolVar(&c.ThreadIDs, "thread-ids", c.ThreadIDs, "stamp records with per-producer tids")
	fs.IntVarP(&c.Workload.Producers, "producers", "p", c.Workload.Producers, "producer goroutines")
	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "debug, info, warn or error")
	fs.StringVar(&c.Log.Format, "log-format", c.Log.Format, "text or json")
	fs.StringVar(&c.HTTP.Addr, "http-addr", c.HTTP.Addr, "serve debug endpoints on this address")
	fs.StringVar(&c.HTTP.Token, "http-token", c.HTTP.Token, "bearer token for the debug API")
}

// resolve loads the config file, if any, and reapplies explicitly set
// flags on top of it.
func (o *runOptions) resolve(fs *pflag.FlagSet) (*config.Config, error) {
	cfg := o.cfg
	if o.configPath != "" {
		loaded, err := config.LoadFile(o.configPath)
		if err != nil {
			return nil, err
		}
		overlay := *cfg
		cfg = loaded
		fs.Visit(func(f *pflag.Flag) {
			switch f.Name {
			case "output":
				cfg.Output = overlay.Output
			case "format":
				cfg.Format = overlay.Format
			case "compression":
				cfg.Compression = overlay.Compression
			case "poll-period":
				cfg.PollPeriod = overlay.PollPeriod
			case "max-producers":
				cfg.MaxProducers = overlay.MaxProducers
			case "thread-ids":
				cfg.ThreadIDs = overlay.ThreadIDs
			case "producers":
				cfg.Workload.Producers = overlay.Workload.Producers
			case "log-level":
				cfg.Log.Level = overlay.Log.Level
			case "log-format":
				cfg.Log.Format = overlay.Log.Format
			case "http-addr":
				cfg.HTTP.Addr = overlay.HTTP.Addr
			case "http-token":
				cfg.HTTP.Token = overlay.HTTP.Token
			}
		})
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func runLoad(ctx context.Context, cfg *config.Config, reportPath string, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log, err := cfg.Log.NewLogger(stderr)
	if err != nil {
		return err
	}
	runID := uuid.NewString()
	log = log.With("run_id", runID)

	// 1. Open the trace output
	compression, err := storage.ParseCompression(cfg.Compression, cfg.Output)
	if err != nil {
		return err
	}
	format, err := tracelog.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}
	out, err := storage.Create(cfg.Output, compression)
	if err != nil {
		return err
	}
	log.Info("trace output opened", "path", cfg.Output, "format", format, "compression", compression)

	// 2. Start the pipeline
	clk := clock.Real()
	tl, err := tracelog.New(tracelog.Config{
		Output:       out,
		Format:       format,
		PollPeriod:   cfg.PollPeriod,
		MaxProducers: cfg.MaxProducers,
		ThreadIDs:    cfg.ThreadIDs,
		Clock:        clk,
		Logger:       log,
	})
	if err != nil {
		out.Close()
		return err
	}

	// 3. Debug server
	var srv *server.DebugServer
	if cfg.HTTP.Addr != "" {
		srv = server.NewDebugServer(tl, runID, cfg.HTTP.Token, log)
		go func() {
			if err := srv.Start(cfg.HTTP.Addr); err != nil {
				log.Error("debug server stopped", "error", err)
			}
		}()
	}

	// 4. Run the workload until done or interrupted
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver := workload.NewDriver(tl, clk, cfg.Workload.Producers, log)
	if srv != nil {
		driver.OnPhase = srv.RecordPhase
	}
	started := clk.Now()
	phases, runErr := driver.Run(ctx, cfg.Workload.Phases)

	// 5. Drain and close everything
	err = tl.Close()
	err = errors.CombineErrors(err, out.Close())
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = errors.CombineErrors(err, srv.Shutdown(shutdownCtx))
		cancel()
	}
	st := tl.Stats()
	log.Info("run finished",
		"elapsed", clk.Now().Sub(started),
		"records", st.RecordsWritten,
		"bytes", st.BytesWritten,
		"cycles", st.Cycles,
		"deferred_swaps", st.DeferredSwaps)

	printPhases(stdout, phases)
	if reportPath != "" {
		err = errors.CombineErrors(err, writeReport(reportPath, runID, phases, st))
	}
	if runErr != nil {
		return errors.CombineErrors(runErr, err)
	}
	return err
}

func printPhases(w io.Writer, phases []summary.Phase) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tSAMPLES\tELAPSED\tP50\tP90\tP99\tP99.9\tMAX")
	for _, p := range phases {
		l := p.Latency
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Name, p.Samples, p.Elapsed.Round(time.Millisecond), l.P50, l.P90, l.P99, l.P999, l.Max)
	}
	tw.Flush()
}

func writeReport(path, runID string, phases []summary.Phase, st tracelog.Stats) error {
	data, err := json.MarshalIndent(map[string]interface{}{
		"run_id": runID,
		"phases": phases,
		"stats":  st,
	}, "", "  ")
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "writing report")
}
