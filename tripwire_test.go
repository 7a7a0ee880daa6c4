package tripwire

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tripwire/internal/guard"
	"github.com/ashita-ai/tripwire/internal/model"
	"github.com/ashita-ai/tripwire/internal/storage/sqlite"
)

type recordingSink struct {
	mu   sync.Mutex
	recs []ExecutionRecord
}

func (s *recordingSink) Record(rec ExecutionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
}

func (s *recordingSink) snapshot() []ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ExecutionRecord(nil), s.recs...)
}

const refundConfidence = 0.7

var noRefunds = CheckDefinition{
	ID:               "no_refund_promises",
	Description:      "Blocks replies that promise refunds",
	Direction:        DirectionOutput,
	Category:         CategoryCompliance,
	DefaultThreshold: 0.5,
	Configurable:     true,
	New: func(threshold float64, _ map[string]any) (Evaluator, error) {
		return EvaluatorFunc(func(_ context.Context, text string, _ EvalContext) (Verdict, error) {
			if strings.Contains(strings.ToLower(text), "refund") {
				return Verdict{Triggered: refundConfidence >= threshold, Confidence: refundConfidence, Reasoning: "mentions a refund"}, nil
			}
			return Verdict{Reasoning: "no refund language"}, nil
		}), nil
	},
}

func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TRIPWIRE_CLASSIFIER_PROVIDER", "lexicon")
	t.Setenv("TRIPWIRE_AUDIT_DRIVER", "sqlite")
	t.Setenv("TRIPWIRE_SQLITE_PATH", filepath.Join(dir, "audit.db"))
	t.Setenv("TRIPWIRE_AUDIT_FLUSH_INTERVAL", "50ms")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	return dir
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw)))
	return w
}

func TestAppEvaluatesCustomChecks(t *testing.T) {
	dir := testEnv(t)
	checksFile := filepath.Join(dir, "checks.yaml")
	require.NoError(t, os.WriteFile(checksFile, []byte(`checks:
  - id: no_legal_advice
    instruction: Do not give legal advice.
    direction: output
`), 0o600))

	sink := &recordingSink{}
	app, err := New(
		WithLogger(quietLogger()),
		WithVersion("test"),
		WithChecksFile(checksFile),
		WithCheck(noRefunds),
		WithAuditSink(sink),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	w := post(t, app.Handler(), "/v1/evaluate", map[string]any{
		"agent_id":  "billing-bot",
		"direction": "output",
		"config":    map[string]any{"output": []string{"no_refund_promises", "professional_tone"}},
		"content":   "Thank you for your patience. We will refund you in full.",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var env struct {
		Data guard.Evaluation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.True(t, env.Data.Blocked)
	require.Len(t, env.Data.Results, 2)
	assert.Equal(t, "no_refund_promises", env.Data.Results[0].CheckID)
	assert.True(t, env.Data.Results[0].Triggered)
	assert.Equal(t, "professional_tone", env.Data.Results[1].CheckID)

	recs := sink.snapshot()
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, "billing-bot", r.AgentID)
		assert.Equal(t, DirectionOutput, r.Direction)
		assert.NotEmpty(t, r.ID)
	}

	// The checks-file entry is an instruction check; the lexicon cannot
	// judge instructions, so it blocks.
	w = post(t, app.Handler(), "/v1/evaluate", map[string]any{
		"direction": "output",
		"config":    map[string]any{"output": []string{"no_legal_advice"}},
		"content":   "You should sue them.",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.True(t, env.Data.Blocked)
	require.Len(t, env.Data.Results, 1)
	assert.NotEmpty(t, env.Data.Results[0].Error)
}

func TestAppThresholdOverrideReachesCustomCheck(t *testing.T) {
	testEnv(t)
	app, err := New(WithLogger(quietLogger()), WithCheck(noRefunds))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	evaluate := func(thresholds map[string]any) guard.Evaluation {
		w := post(t, app.Handler(), "/v1/evaluate", map[string]any{
			"direction": "output",
			"config": map[string]any{
				"output":     []string{"no_refund_promises"},
				"thresholds": thresholds,
			},
			"content": "No refund today.",
		})
		require.Equal(t, http.StatusOK, w.Code)
		var env struct {
			Data guard.Evaluation `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
		return env.Data
	}

	assert.True(t, evaluate(nil).Blocked)
	relaxed := evaluate(map[string]any{"no_refund_promises": 0.9})
	assert.False(t, relaxed.Blocked)
	require.Len(t, relaxed.Results, 1)
	assert.InDelta(t, 0.9, relaxed.Results[0].Threshold, 1e-9)
}

func TestNewRejectsBadOptions(t *testing.T) {
	testEnv(t)

	_, err := New(WithLogger(quietLogger()), WithClassifierProvider("crystal_ball"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRIPWIRE_CLASSIFIER_PROVIDER")

	bad := noRefunds
	bad.New = nil
	_, err = New(WithLogger(quietLogger()), WithCheck(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "New is required")

	_, err = New(WithLogger(quietLogger()), WithChecksFile(filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestAppRunFlushesAuditOnShutdown(t *testing.T) {
	dir := testEnv(t)
	port := freePort(t)

	app, err := New(WithLogger(quietLogger()), WithPort(port))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	base := "http://127.0.0.1:" + strconv.Itoa(port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	body, _ := json.Marshal(map[string]any{
		"direction": "input",
		"config":    map[string]any{"input": []string{"pii_detection"}},
		"content":   "call me on 555-123-4567",
	})
	resp, err := http.Post(base+"/v1/evaluate", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	store, err := sqlite.Open(context.Background(), filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	recs, err := store.RecentExecutions(context.Background(), model.ExecutionFilter{CheckID: "pii_detection"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Triggered)
	assert.NotContains(t, recs[0].ContentPreview, "555-123-4567")
}

func TestAppRunRecordsChecksFinishingDuringShutdown(t *testing.T) {
	dir := testEnv(t)
	port := freePort(t)

	started := make(chan struct{})
	slow := CheckDefinition{
		ID:               "slow_check",
		Description:      "Takes a while to answer",
		Direction:        DirectionInput,
		Category:         CategoryCompliance,
		DefaultThreshold: 0.5,
		New: func(float64, map[string]any) (Evaluator, error) {
			return EvaluatorFunc(func(context.Context, string, EvalContext) (Verdict, error) {
				close(started)
				time.Sleep(500 * time.Millisecond)
				return Verdict{Reasoning: "done"}, nil
			}), nil
		},
	}

	app, err := New(WithLogger(quietLogger()), WithPort(port), WithCheck(slow))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	base := "http://127.0.0.1:" + strconv.Itoa(port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	body, _ := json.Marshal(map[string]any{
		"direction": "input",
		"config":    map[string]any{"input": []string{"slow_check"}},
		"content":   "hello",
	})
	status := make(chan int, 1)
	go func() {
		resp, err := http.Post(base+"/v1/evaluate", "application/json", bytes.NewReader(body))
		if err != nil {
			status <- 0
			return
		}
		_ = resp.Body.Close()
		status <- resp.StatusCode
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("check never started")
	}
	cancel()

	assert.Equal(t, http.StatusOK, <-status)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	store, err := sqlite.Open(context.Background(), filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	recs, err := store.RecentExecutions(context.Background(), model.ExecutionFilter{CheckID: "slow_check"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Triggered)
}
