package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
output: out.jsonl.zst
format: array
poll_period: 2ms
thread_ids: true
http:
  addr: 127.0.0.1:9090
workload:
  producers: 8
  phases:
    - name: burst
      samples_per_producer: 500
      work: 5us
      rate: 1000
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "out.jsonl.zst", cfg.Output)
	require.Equal(t, "array", cfg.Format)
	require.Equal(t, 2*time.Millisecond, cfg.PollPeriod)
	require.True(t, cfg.ThreadIDs)
	require.Equal(t, 256, cfg.MaxProducers)
	require.Equal(t, "127.0.0.1:9090", cfg.HTTP.Addr)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, 8, cfg.Workload.Producers)
	require.Equal(t, []PhaseConfig{{Name: "burst", SamplesPerProducer: 500, Work: 5 * time.Microsecond, Rate: 1000}},
		cfg.Workload.Phases)
	require.Equal(t, 4000, cfg.Workload.Phases[0].Samples(cfg.Workload.Producers))
}

func TestParse_KeepsDefaultPhases(t *testing.T) {
	cfg, err := Parse([]byte("workload:\n  producers: 2\n"))
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Workload.Producers)
	require.Equal(t, Default().Workload.Phases, cfg.Workload.Phases)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte("outptu: x\n"))
	require.Error(t, err)
}

func TestParse_ExpandsOutput(t *testing.T) {
	t.Setenv("TRACE_DIR", "/tmp/traces")
	cfg, err := Parse([]byte("output: ${TRACE_DIR}/run.jsonl\n"))
	require.NoError(t, err)
	require.Equal(t, "/tmp/traces/run.jsonl", cfg.Output)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Format = "xml"
	cfg.PollPeriod = 0
	cfg.Workload.Producers = 300
	cfg.Workload.Phases = []PhaseConfig{{SamplesPerProducer: 0}}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"format must be jsonl or array",
		"poll_period must be positive",
		"exceeds max_producers",
		"phases[0].name is required",
		"phases[0].samples_per_producer must be positive",
	} {
		require.Contains(t, err.Error(), want)
	}
}

func TestLogConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown", "k", 1)
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = LogConfig{Level: "loud"}.NewLogger(&buf)
	require.Error(t, err)
	_, err = LogConfig{Level: "info", Format: "xml"}.NewLogger(&buf)
	require.Error(t, err)
}
