// Package workload drives synthetic load through the tracelog pipeline:
// a fixed set of producer goroutines runs each configured phase, one
// async trace event and latency sample per unit of simulated work.
package workload

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coffersTech/loadtrace/clock"
	"github.com/coffersTech/loadtrace/internal/config"
	"github.com/coffersTech/loadtrace/internal/summary"
	"github.com/coffersTech/loadtrace/tracelog"
)

// Driver runs phases against a Logger.
type Driver struct {
	logger    *tracelog.Logger
	clock     clock.Clock
	producers int
	log       *slog.Logger
	seed      uint64

	// OnPhase, if set, is called after each completed phase.
	OnPhase func(summary.Phase)
}

// NewDriver creates a driver with producers goroutines.
func NewDriver(l *tracelog.Logger, c clock.Clock, producers int, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		logger:    l,
		clock:     c,
		producers: producers,
		log:       log,
		seed:      uint64(c.Now().UnixNano()),
	}
}

// Run registers the producers, runs every phase in order and
// unregisters them. It returns the results of the phases that
// completed.
func (d *Driver) Run(ctx context.Context, phases []config.PhaseConfig) ([]summary.Phase, error) {
	producers := make([]*tracelog.Producer, 0, d.producers)
	defer func() {
		for _, p := range producers {
			if err := d.logger.Unregister(p); err != nil {
				d.log.Warn("unregister failed", "producer", p.Name(), "error", err)
			}
		}
	}()
	for i := 0; i < d.producers; i++ {
		p, err := d.logger.Register(fmt.Sprintf("producer-%d", i))
		if err != nil {
			return nil, err
		}
		producers = append(producers, p)
	}

	var results []summary.Phase
	for _, phase := range phases {
		res, err := d.runPhase(ctx, producers, phase)
		if err != nil {
			return results, err
		}
		d.log.Info("phase complete",
			"phase", res.Name,
			"samples", res.Samples,
			"elapsed", res.Elapsed,
			"p50", res.Latency.P50,
			"p99", res.Latency.P99)
		results = append(results, res)
		if d.OnPhase != nil {
			d.OnPhase(res)
		}
	}
	return results, nil
}

func (d *Driver) runPhase(ctx context.Context, producers []*tracelog.Producer, phase config.PhaseConfig) (summary.Phase, error) {
	d.log.Debug("phase starting", "phase", phase.Name, "samples", phase.Samples(len(producers)))
	started := d.clock.Now()
	emitted := make([]int, len(producers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range producers {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(d.seed, uint64(i)))
			n, err := d.produce(gctx, p, i, phase, rng)
			emitted[i] = n
			return err
		})
	}
	err := g.Wait()

	total := 0
	for _, n := range emitted {
		total += n
	}
	// Every emitted sample reaches the sink, so this returns even when
	// the phase was cut short.
	latencies := d.logger.GetLatenciesBlocking(total)
	d.logger.RestartLatencyRecording()
	if err != nil {
		// Each producer stopped partway through its own id range, so the
		// table has zero-filled gaps. Drop it rather than summarize it.
		return summary.Phase{}, err
	}

	return summary.Phase{
		Name:       phase.Name,
		Samples:    total,
		Elapsed:    d.clock.Now().Sub(started),
		Latency:    summary.Summarize(latencies),
		FinishedAt: d.clock.Now(),
	}, nil
}

// produce emits one phase's samples from producer idx. Sample ids are
// dense across producers: idx*SamplesPerProducer + j.
func (d *Driver) produce(ctx context.Context, p *tracelog.Producer, idx int, phase config.PhaseConfig, rng *rand.Rand) (int, error) {
	var interval time.Duration
	if phase.Rate > 0 {
		interval = time.Second / time.Duration(phase.Rate)
	}
	base := uint64(idx * phase.SamplesPerProducer)
	begin := d.clock.Now()
	span := d.logger.Now()

	for j := 0; j < phase.SamplesPerProducer; j++ {
		select {
		case <-ctx.Done():
			d.logger.RequestSwapBuffers(p)
			return j, ctx.Err()
		default:
		}
		if interval > 0 {
			if wait := begin.Add(time.Duration(j) * interval).Sub(d.clock.Now()); wait > 0 {
				d.clock.Sleep(wait)
			}
		}
		work := phase.Work
		if phase.Jitter > 0 {
			work += time.Duration(rng.Int64N(int64(phase.Jitter)))
		}

		start := d.logger.Now()
		d.clock.Sleep(work)
		p.LogAsync(phase.Name, base+uint64(j), start, d.logger.Now()-start,
			tracelog.Int("producer", int64(idx)))
	}
	// One complete event per producer covers its share of the phase.
	p.LogDuration(phase.Name, span, d.logger.Now()-span,
		tracelog.Int("producer", int64(idx)), tracelog.Int("samples", int64(phase.SamplesPerProducer)))
	d.logger.RequestSwapBuffers(p)
	return phase.SamplesPerProducer, nil
}
