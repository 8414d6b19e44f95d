// Package config loads the YAML run description for loadtrace.
//
// A config file describes the trace output, the pipeline settings and
// the workload: how many producer goroutines run and which measurement
// phases they go through. Command-line flags override file values.
package config

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Config is the complete run description.
type Config struct {
	Output       string        `yaml:"output"`
	Format       string        `yaml:"format"`      // jsonl | array
	Compression  string        `yaml:"compression"` // auto | none | zstd | gzip
	PollPeriod   time.Duration `yaml:"poll_period"`
	MaxProducers int           `yaml:"max_producers"`
	ThreadIDs    bool          `yaml:"thread_ids"`

	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Workload WorkloadConfig `yaml:"workload"`
}

// LogConfig configures the harness's own diagnostics.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// HTTPConfig configures the optional debug server.
type HTTPConfig struct {
	Addr  string `yaml:"addr"` // empty disables the server
	Token string `yaml:"token"`
}

// WorkloadConfig describes the synthetic load.
type WorkloadConfig struct {
	Producers int           `yaml:"producers"`
	Phases    []PhaseConfig `yaml:"phases"`
}

// PhaseConfig is one measurement phase. Every producer emits
// SamplesPerProducer samples, each doing Work plus up to Jitter of
// simulated work.
type PhaseConfig struct {
	Name               string        `yaml:"name"`
	SamplesPerProducer int           `yaml:"samples_per_producer"`
	Work               time.Duration `yaml:"work"`
	Jitter             time.Duration `yaml:"jitter"`
	// Rate caps samples per second per producer. Zero runs unthrottled.
	Rate int `yaml:"rate"`
}

// Samples returns the total sample count of the phase.
func (p PhaseConfig) Samples(producers int) int {
	return p.SamplesPerProducer * producers
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Output:       "trace.jsonl",
		Format:       "jsonl",
		Compression:  "auto",
		PollPeriod:   10 * time.Millisecond,
		MaxProducers: 256,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Workload: WorkloadConfig{
			Producers: 4,
			Phases: []PhaseConfig{
				{Name: "warmup", SamplesPerProducer: 1000, Work: 20 * time.Microsecond},
				{Name: "measure", SamplesPerProducer: 10000, Work: 20 * time.Microsecond, Jitter: 10 * time.Microsecond},
			},
		},
	}
}

// LoadFile reads path over the defaults. Unknown keys are errors.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: reading file")
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults. A phases list in data replaces
// the default phases.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "config: decoding yaml")
	}
	cfg.Output = os.ExpandEnv(cfg.Output)
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.Output == "" {
		errs = append(errs, errors.New("output is required"))
	}
	if c.Format != "jsonl" && c.Format != "array" {
		errs = append(errs, errors.Newf("format must be jsonl or array, got %q", c.Format))
	}
	switch c.Compression {
	case "", "auto", "none", "zstd", "gzip":
	default:
		errs = append(errs, errors.Newf("compression must be auto, none, zstd or gzip, got %q", c.Compression))
	}
	if c.PollPeriod <= 0 {
		errs = append(errs, errors.Newf("poll_period must be positive, got %s", c.PollPeriod))
	}
	if c.MaxProducers <= 0 {
		errs = append(errs, errors.Newf("max_producers must be positive, got %d", c.MaxProducers))
	}
	if c.Workload.Producers <= 0 {
		errs = append(errs, errors.Newf("workload.producers must be positive, got %d", c.Workload.Producers))
	}
	if c.Workload.Producers > c.MaxProducers {
		errs = append(errs, errors.Newf("workload.producers (%d) exceeds max_producers (%d)",
			c.Workload.Producers, c.MaxProducers))
	}
	if len(c.Workload.Phases) == 0 {
		errs = append(errs, errors.New("workload.phases must not be empty"))
	}
	for i, p := range c.Workload.Phases {
		if p.Name == "" {
			errs = append(errs, errors.Newf("workload.phases[%d].name is required", i))
		}
		if p.SamplesPerProducer <= 0 {
			errs = append(errs, errors.Newf("workload.phases[%d].samples_per_producer must be positive", i))
		}
		if p.Work < 0 || p.Jitter < 0 || p.Rate < 0 {
			errs = append(errs, errors.Newf("workload.phases[%d]: work, jitter and rate must not be negative", i))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// NewLogger builds the slog logger described by l.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level := slog.LevelInfo
	if l.Level != "" && level.UnmarshalText([]byte(l.Level)) != nil {
		return nil, errors.Newf("config: unknown log level %q", l.Level)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch l.Format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, errors.Newf("config: log format must be text or json, got %q", l.Format)
}
