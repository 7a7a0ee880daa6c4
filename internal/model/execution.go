package model

import (
	"time"

	"github.com/google/uuid"
)

// CheckExecution is the telemetry record emitted for every check execution,
// including cache hits and fail-closed errors.
type CheckExecution struct {
	ID              uuid.UUID `json:"id"`
	CheckID         string    `json:"check_id"`
	AgentID         string    `json:"agent_id,omitempty"`
	Direction       string    `json:"direction"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	Success         bool      `json:"success"`
	Triggered       bool      `json:"triggered"`
	CacheHit        bool      `json:"cache_hit"`
	Error           string    `json:"error,omitempty"`
	ContentPreview  string    `json:"content_preview,omitempty"` // redacted
	Timestamp       time.Time `json:"timestamp"`
}

// ExecutionFilter narrows a query over persisted check executions.
type ExecutionFilter struct {
	CheckID string
	AgentID string
	Since   *time.Time
	Limit   int
}
