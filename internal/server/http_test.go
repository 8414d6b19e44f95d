package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coffersTech/loadtrace/internal/summary"
	"github.com/coffersTech/loadtrace/tracelog"
)

func newTestServer(t *testing.T, token string) (*DebugServer, *tracelog.Logger) {
	t.Helper()
	l, err := tracelog.New(tracelog.Config{Output: io.Discard, PollPeriod: time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return NewDebugServer(l, "run-1", token, nil), l
}

func get(t *testing.T, h http.Handler, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDebugServer_Stats(t *testing.T) {
	s, l := newTestServer(t, "")
	p, err := l.Register("worker")
	require.NoError(t, err)
	p.LogDuration("op", 0, 1)
	require.NoError(t, l.Unregister(p))

	w := get(t, s.Handler(), "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st tracelog.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	require.Equal(t, uint64(1), st.RecordsWritten)
	require.Equal(t, 0, st.Producers)
}

func TestDebugServer_Producers(t *testing.T) {
	s, l := newTestServer(t, "")
	p, err := l.Register("worker-7")
	require.NoError(t, err)
	defer l.Unregister(p)

	w := get(t, s.Handler(), "/api/producers", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"worker-7"`)

	w = get(t, s.Handler(), "/api/producers/0", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestDebugServer_Phases(t *testing.T) {
	s, _ := newTestServer(t, "")
	s.RecordPhase(summary.Phase{Name: "warmup", Samples: 3, Latency: summary.Summarize([]time.Duration{1, 2, 3})})

	w := get(t, s.Handler(), "/api/phases", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Phases []summary.Phase `json:"phases"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Phases, 1)
	require.Equal(t, "warmup", body.Phases[0].Name)
	require.Equal(t, int64(3), body.Phases[0].Latency.Count)
}

func TestDebugServer_Metrics(t *testing.T) {
	s, _ := newTestServer(t, "secret")

	// Metrics are not behind the token.
	w := get(t, s.Handler(), "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `loadtrace_tracelog_max_producers{run_id="run-1"} 256`)
}

func TestDebugServer_Token(t *testing.T) {
	s, _ := newTestServer(t, "secret")
	h := s.Handler()

	require.Equal(t, http.StatusUnauthorized, get(t, h, "/api/stats", "").Code)
	require.Equal(t, http.StatusUnauthorized, get(t, h, "/api/stats", "wrong").Code)
	require.Equal(t, http.StatusOK, get(t, h, "/api/stats", "secret").Code)
	require.Equal(t, http.StatusOK, get(t, h, "/api/stats?token=secret", "").Code)
}
