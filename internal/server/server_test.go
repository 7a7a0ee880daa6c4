package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tripwire/internal/classifier"
	"github.com/ashita-ai/tripwire/internal/guard"
	"github.com/ashita-ai/tripwire/internal/guard/checks"
	"github.com/ashita-ai/tripwire/internal/model"
	"github.com/ashita-ai/tripwire/internal/ratelimit"
	"github.com/ashita-ai/tripwire/internal/storage"
	"github.com/ashita-ai/tripwire/internal/testutil"
)

type fakeStore struct {
	mu      sync.Mutex
	recs    []model.CheckExecution
	lastF   model.ExecutionFilter
	pingErr error
	listErr error
}

func (f *fakeStore) RecentExecutions(_ context.Context, filter model.ExecutionFilter) ([]model.CheckExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastF = filter
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.recs, nil
}

func (f *fakeStore) GetExecution(_ context.Context, id uuid.UUID) (model.CheckExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return model.CheckExecution{}, f.listErr
	}
	for _, r := range f.recs {
		if r.ID == id {
			return r, nil
		}
	}
	return model.CheckExecution{}, storage.ErrNotFound
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type fakeBuffer struct {
	depth   int
	dropped int64
}

func (b fakeBuffer) Len() int       { return b.depth }
func (b fakeBuffer) Dropped() int64 { return b.dropped }

func newTestEngine(t *testing.T) *guard.Engine {
	t.Helper()
	logger := testutil.TestLogger()
	reg := guard.NewRegistry(logger)
	require.NoError(t, checks.RegisterBuiltins(reg, classifier.NewLexicon()))
	return guard.NewEngine(reg, logger, guard.DefaultMaxConcurrent)
}

func newTestServer(t *testing.T, mutate func(*ServerConfig)) http.Handler {
	t.Helper()
	cfg := ServerConfig{
		Engine:              newTestEngine(t),
		Logger:              testutil.TestLogger(),
		Version:             "test",
		ClassifierName:      "lexicon",
		MaxRequestBodyBytes: 64 * 1024,
		OpenAPISpec:         []byte("openapi: 3.1.0\n"),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data json.RawMessage    `json:"data"`
		Meta model.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	assert.NotEmpty(t, env.Meta.RequestID)
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) model.ErrorDetail {
	t.Helper()
	var env model.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env.Error
}

var supportConfig = map[string]any{
	"input":  []string{"content_safety", "pii_detection"},
	"output": []string{"professional_tone"},
}

func TestEvaluateBlocked(t *testing.T) {
	h := newTestServer(t, nil)
	w := do(t, h, http.MethodPost, "/v1/evaluate", map[string]any{
		"agent_id":  "support-bot",
		"direction": "input",
		"config":    supportConfig,
		"content":   "I will kill you, email me at jane@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var ev guard.Evaluation
	decodeData(t, w, &ev)
	assert.True(t, ev.Blocked)
	assert.Equal(t, guard.RefusalMessage, ev.Message)
	require.Len(t, ev.Results, 2)
	assert.Equal(t, "content_safety", ev.Results[0].CheckID)
	assert.Equal(t, "pii_detection", ev.Results[1].CheckID)
	assert.True(t, ev.Results[0].Triggered)
	assert.True(t, ev.Results[1].Triggered)
}

func TestEvaluateStructuredContent(t *testing.T) {
	h := newTestServer(t, nil)
	w := do(t, h, http.MethodPost, "/v1/evaluate", map[string]any{
		"direction": "input",
		"config":    supportConfig,
		"content":   map[string]any{"message": "What time do you open tomorrow?", "channel": "web"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var ev guard.Evaluation
	decodeData(t, w, &ev)
	assert.False(t, ev.Blocked)
	assert.Empty(t, ev.Message)
	assert.Len(t, ev.Results, 2)
}

func TestEvaluateEmptyConfigAllows(t *testing.T) {
	h := newTestServer(t, nil)
	w := do(t, h, http.MethodPost, "/v1/evaluate", map[string]any{
		"direction": "output",
		"config":    map[string]any{},
		"content":   "anything",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var ev guard.Evaluation
	decodeData(t, w, &ev)
	assert.False(t, ev.Blocked)
	assert.NotNil(t, ev.Results)
	assert.Empty(t, ev.Results)
}

func TestEvaluateBadRequests(t *testing.T) {
	h := newTestServer(t, nil)
	many := make([]string, model.MaxChecksPerList+1)
	for i := range many {
		many[i] = "content_safety"
	}
	tests := []struct {
		name   string
		body   any
		status int
		want   string
	}{
		{"empty body", "", http.StatusBadRequest, "request body is empty"},
		{"malformed json", "{", http.StatusBadRequest, "invalid request body"},
		{"unknown field", `{"direction":"input","surprise":1}`, http.StatusBadRequest, "unknown field"},
		{"trailing data", `{"direction":"input"}{}`, http.StatusBadRequest, "single JSON object"},
		{"bad direction", map[string]any{"direction": "both", "content": "hi"}, http.StatusBadRequest, "invalid direction"},
		{"bad agent id", map[string]any{"direction": "input", "agent_id": "no spaces", "content": "hi"}, http.StatusBadRequest, "agent_id"},
		{"too long", map[string]any{"direction": "input", "content": strings.Repeat("a", model.MaxCandidateTextLen+1)}, http.StatusRequestEntityTooLarge, "too large"},
		{"too many checks", map[string]any{"direction": "input", "config": map[string]any{"input": many}, "content": "hi"}, http.StatusBadRequest, "limit is 32"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/v1/evaluate", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			e := decodeErr(t, w)
			assert.Equal(t, model.ErrCodeInvalidInput, e.Code)
			assert.Contains(t, e.Message, tt.want)
		})
	}
}

func TestEvaluateContentLimitBelowBodyLimit(t *testing.T) {
	h := newTestServer(t, func(c *ServerConfig) { c.MaxRequestBodyBytes = 1 << 20 })
	w := do(t, h, http.MethodPost, "/v1/evaluate", map[string]any{
		"direction": "input",
		"content":   strings.Repeat("a", model.MaxCandidateTextLen+1),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeErr(t, w).Message, "limit is 65536")
}

func TestValidate(t *testing.T) {
	h := newTestServer(t, nil)
	w := do(t, h, http.MethodPost, "/v1/validate", map[string]any{
		"input":      []string{"content_safety", "professional_tone"},
		"output":     []string{"professional_tone"},
		"thresholds": map[string]any{"professional_tone": 2},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var rep guard.Report
	decodeData(t, w, &rep)
	assert.False(t, rep.Valid)
	require.NotEmpty(t, rep.Errors)
	fields := make([]string, len(rep.Errors))
	for i, e := range rep.Errors {
		fields[i] = e.Field
	}
	assert.Contains(t, fields, "input[1]")
}

func TestListChecks(t *testing.T) {
	h := newTestServer(t, nil)

	w := do(t, h, http.MethodGet, "/v1/checks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []guard.Descriptor
	decodeData(t, w, &all)
	assert.Len(t, all, 5)

	w = do(t, h, http.MethodGet, "/v1/checks?direction=input", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var in []guard.Descriptor
	decodeData(t, w, &in)
	for _, d := range in {
		assert.True(t, d.Direction.Allows(guard.DirectionInput), d.ID)
	}

	w = do(t, h, http.MethodGet, "/v1/checks?direction=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetCheck(t *testing.T) {
	h := newTestServer(t, nil)

	w := do(t, h, http.MethodGet, "/v1/checks/pii_detection", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var d guard.Descriptor
	decodeData(t, w, &d)
	assert.Equal(t, "pii_detection", d.ID)
	assert.Equal(t, guard.CategoryCompliance, d.Category)

	w = do(t, h, http.MethodGet, "/v1/checks/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, model.ErrCodeNotFound, decodeErr(t, w).Code)
}

func TestListExecutions(t *testing.T) {
	store := &fakeStore{recs: []model.CheckExecution{
		{ID: uuid.New(), CheckID: "content_safety", Direction: "input", Success: true, Timestamp: time.Now().UTC()},
	}}
	h := newTestServer(t, func(c *ServerConfig) { c.Store = store })

	w := do(t, h, http.MethodGet, "/v1/executions?check_id=content_safety&agent_id=bot&since=2026-01-01T00:00:00Z&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var recs []model.CheckExecution
	decodeData(t, w, &recs)
	assert.Len(t, recs, 1)

	assert.Equal(t, "content_safety", store.lastF.CheckID)
	assert.Equal(t, "bot", store.lastF.AgentID)
	assert.Equal(t, 5, store.lastF.Limit)
	require.NotNil(t, store.lastF.Since)
	assert.Equal(t, 2026, store.lastF.Since.Year())

	for _, q := range []string{"limit=-1", "limit=ten", "since=yesterday"} {
		w = do(t, h, http.MethodGet, "/v1/executions?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}

	store.listErr = errors.New("connection reset")
	w = do(t, h, http.MethodGet, "/v1/executions", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection reset")
}

func TestGetExecution(t *testing.T) {
	rec := model.CheckExecution{ID: uuid.New(), CheckID: "pii_detection", Direction: "output", Success: true, Timestamp: time.Now().UTC()}
	store := &fakeStore{recs: []model.CheckExecution{rec}}
	h := newTestServer(t, func(c *ServerConfig) { c.Store = store })

	w := do(t, h, http.MethodGet, "/v1/executions/"+rec.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got model.CheckExecution
	decodeData(t, w, &got)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "pii_detection", got.CheckID)

	w = do(t, h, http.MethodGet, "/v1/executions/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, model.ErrCodeNotFound, decodeErr(t, w).Code)

	w = do(t, h, http.MethodGet, "/v1/executions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	store.listErr = errors.New("connection reset")
	w = do(t, h, http.MethodGet, "/v1/executions/"+rec.ID.String(), nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection reset")
}

func TestListExecutionsWithoutStore(t *testing.T) {
	h := newTestServer(t, nil)
	for _, path := range []string{"/v1/executions", "/v1/executions/" + uuid.NewString()} {
		w := do(t, h, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
		assert.Equal(t, model.ErrCodeUnavailable, decodeErr(t, w).Code, path)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		store      *fakeStore
		buffer     AuditBuffer
		status     string
		auditStore string
	}{
		{"no store", nil, nil, "healthy", "disabled"},
		{"store up", &fakeStore{}, fakeBuffer{depth: 3}, "healthy", "connected"},
		{"store down", &fakeStore{pingErr: errors.New("down")}, nil, "degraded", "disconnected"},
		{"dropping records", &fakeStore{}, fakeBuffer{dropped: 2}, "degraded", "connected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, func(c *ServerConfig) {
				if tt.store != nil {
					c.Store = tt.store
				}
				c.Buffer = tt.buffer
			})
			w := do(t, h, http.MethodGet, "/health", nil)
			require.Equal(t, http.StatusOK, w.Code)
			var resp HealthResponse
			decodeData(t, w, &resp)
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.auditStore, resp.AuditStore)
			assert.Equal(t, "lexicon", resp.Classifier)
			assert.Equal(t, "test", resp.Version)
			assert.Equal(t, 5, resp.Checks)
		})
	}
}

func TestOpenAPISpec(t *testing.T) {
	h := newTestServer(t, nil)
	w := do(t, h, http.MethodGet, "/openapi.yaml", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/yaml", w.Header().Get("Content-Type"))
	assert.Equal(t, "openapi: 3.1.0\n", w.Body.String())

	h = newTestServer(t, func(c *ServerConfig) { c.OpenAPISpec = nil })
	w = do(t, h, http.MethodGet, "/openapi.yaml", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimitedRoutes(t *testing.T) {
	limiter := ratelimit.NewWindowLimiter(2, time.Minute)
	t.Cleanup(func() { _ = limiter.Close() })
	h := newTestServer(t, func(c *ServerConfig) { c.RateLimiter = limiter })

	for i := 0; i < 2; i++ {
		w := do(t, h, http.MethodGet, "/v1/checks", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}
	w := do(t, h, http.MethodGet, "/v1/checks", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	e := decodeErr(t, w)
	assert.Equal(t, model.ErrCodeRateLimited, e.Code)

	// Health is never limited.
	w = do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	h := newTestServer(t, nil)
	w := do(t, h, http.MethodGet, "/v2/nothing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, h, http.MethodDelete, "/v1/checks", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
