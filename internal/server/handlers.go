package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/tripwire/internal/ctxutil"
	"github.com/ashita-ai/tripwire/internal/guard"
	"github.com/ashita-ai/tripwire/internal/model"
	"github.com/ashita-ai/tripwire/internal/storage"
)

// ExecutionStore is the read side of the audit store.
type ExecutionStore interface {
	RecentExecutions(ctx context.Context, f model.ExecutionFilter) ([]model.CheckExecution, error)
	GetExecution(ctx context.Context, id uuid.UUID) (model.CheckExecution, error)
	Ping(ctx context.Context) error
}

// AuditBuffer reports the state of the execution-record buffer.
type AuditBuffer interface {
	Len() int
	Dropped() int64
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	engine              *guard.Engine
	store               ExecutionStore
	buffer              AuditBuffer
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	classifierName      string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Store, Buffer, OpenAPISpec.
type HandlersDeps struct {
	Engine              *guard.Engine
	Store               ExecutionStore
	Buffer              AuditBuffer
	Logger              *slog.Logger
	Version             string
	ClassifierName      string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// DefaultMaxRequestBodyBytes applies when HandlersDeps leaves the limit unset.
const DefaultMaxRequestBodyBytes = 1 << 20

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	if d.MaxRequestBodyBytes <= 0 {
		d.MaxRequestBodyBytes = DefaultMaxRequestBodyBytes
	}
	return &Handlers{
		engine:              d.Engine,
		store:               d.Store,
		buffer:              d.Buffer,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		classifierName:      d.ClassifierName,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		openapiSpec:         d.OpenAPISpec,
	}
}

// EvaluateRequest is the body of POST /v1/evaluate.
type EvaluateRequest struct {
	AgentID   string                     `json:"agent_id"`
	Direction string                     `json:"direction"`
	Config    model.AgentGuardrailConfig `json:"config"`
	Content   guard.Input                `json:"content"`
	Metadata  map[string]any             `json:"metadata,omitempty"`
}

// HandleEvaluate handles POST /v1/evaluate.
func (h *Handlers) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	dir, err := guard.ParseDirection(req.Direction)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if req.AgentID != "" {
		if err := model.ValidateAgentID(req.AgentID); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
	}
	if n := len(req.Content.Text()); n > model.MaxCandidateTextLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			fmt.Sprintf("content is %d bytes, limit is %d", n, model.MaxCandidateTextLen))
		return
	}
	if n := len(req.Config.ChecksFor(string(dir))); n > model.MaxChecksPerList {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			fmt.Sprintf("%d %s checks configured, limit is %d", n, dir, model.MaxChecksPerList))
		return
	}

	ev, err := h.engine.Evaluate(r.Context(), dir, req.Config, req.Content, guard.EvalContext{
		AgentID:  req.AgentID,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, ev)
}

// HandleValidate handles POST /v1/validate. An invalid configuration is
// still a successful request; the report says what is wrong.
func (h *Handlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var cfg model.AgentGuardrailConfig
	if err := decodeJSON(w, r, &cfg, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, h.engine.Validate(cfg))
}

// HandleListChecks handles GET /v1/checks with an optional ?direction filter.
func (h *Handlers) HandleListChecks(w http.ResponseWriter, r *http.Request) {
	reg := h.engine.Registry()
	if d := r.URL.Query().Get("direction"); d != "" {
		dir, err := guard.ParseDirection(d)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
		writeJSON(w, r, http.StatusOK, reg.ListByDirection(dir))
		return
	}
	writeJSON(w, r, http.StatusOK, reg.List())
}

// HandleGetCheck handles GET /v1/checks/{check_id}.
func (h *Handlers) HandleGetCheck(w http.ResponseWriter, r *http.Request) {
	d, err := h.engine.Check(r.PathValue("check_id"))
	if errors.Is(err, guard.ErrCheckNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, err.Error())
		return
	}
	if err != nil {
		h.writeInternalError(w, r, "failed to load check", err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

// HandleListExecutions handles GET /v1/executions.
func (h *Handlers) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "execution audit store is not configured")
		return
	}
	since, err := queryTime(r, "since")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	recs, err := h.store.RecentExecutions(r.Context(), model.ExecutionFilter{
		CheckID: r.URL.Query().Get("check_id"),
		AgentID: r.URL.Query().Get("agent_id"),
		Since:   since,
		Limit:   limit,
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to list executions", err)
		return
	}
	writeJSON(w, r, http.StatusOK, recs)
}

// HandleGetExecution handles GET /v1/executions/{id}.
func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "execution audit store is not configured")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "id must be a UUID")
		return
	}
	rec, err := h.store.GetExecution(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "execution not found")
		return
	}
	if err != nil {
		h.writeInternalError(w, r, "failed to load execution", err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Classifier   string `json:"classifier"`
	Checks       int    `json:"checks"`
	AuditStore   string `json:"audit_store"`
	BufferDepth  int    `json:"buffer_depth"`
	BufferDrops  int64  `json:"buffer_dropped"`
	UptimeSecond int64  `json:"uptime_seconds"`
}

// HandleHealth handles GET /health. A broken audit store degrades the
// service without failing it: evaluation still works.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:       "healthy",
		Version:      h.version,
		Classifier:   h.classifierName,
		Checks:       len(h.engine.Checks()),
		AuditStore:   "disabled",
		UptimeSecond: int64(time.Since(h.startedAt).Seconds()),
	}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			resp.AuditStore = "disconnected"
			resp.Status = "degraded"
		} else {
			resp.AuditStore = "connected"
		}
	}
	if h.buffer != nil {
		resp.BufferDepth = h.buffer.Len()
		resp.BufferDrops = h.buffer.Dropped()
		if resp.BufferDrops > 0 {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleOpenAPISpec serves the embedded OpenAPI document.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "openapi spec not available")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg, "error", err, "request_id", ctxutil.RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

func queryLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit: %s", v)
	}
	return n, nil
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected RFC3339 format (e.g. 2026-01-01T00:00:00Z)", key)
	}
	return &t, nil
}
