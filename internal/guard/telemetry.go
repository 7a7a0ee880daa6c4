package guard

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/tripwire/internal/ctxutil"
	"github.com/ashita-ai/tripwire/internal/model"
	"github.com/ashita-ai/tripwire/internal/pii"
	"github.com/ashita-ai/tripwire/internal/telemetry"
)

// previewRunes bounds the redacted content fragment attached to records.
const previewRunes = 120

// Sink receives one record per check execution. Record must not block.
type Sink interface {
	Record(rec model.CheckExecution)
}

// Execution is what the envelope reports after a check finishes.
type Execution struct {
	CheckID   string
	AgentID   string
	Direction Direction
	Text      string
	Result    Result
	CacheHit  bool
	Err       error
	Elapsed   time.Duration
}

// Telemetry records duration, outcome, and a redacted content preview for
// every check execution: one structured log record, one span, metrics, and
// an optional audit record.
type Telemetry struct {
	logger *slog.Logger
	tracer trace.Tracer
	sink   Sink

	executions metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewTelemetry creates a recorder. sink may be nil.
func NewTelemetry(logger *slog.Logger, sink Sink) *Telemetry {
	meter := telemetry.Meter("tripwire/guard")
	executions, _ := meter.Int64Counter("tripwire.check.executions",
		metric.WithDescription("Check executions by outcome"),
	)
	duration, _ := meter.Float64Histogram("tripwire.check.duration",
		metric.WithDescription("Wall-clock time of a check execution (ms)"),
		metric.WithUnit("ms"),
	)
	return &Telemetry{
		logger:     logger,
		tracer:     otel.Tracer("tripwire/guard"),
		sink:       sink,
		executions: executions,
		duration:   duration,
	}
}

// WithTracer replaces the tracer. Used by tests with a span recorder.
func (t *Telemetry) WithTracer(tr trace.Tracer) *Telemetry {
	t.tracer = tr
	return t
}

// Start opens the span for one execution.
func (t *Telemetry) Start(ctx context.Context, checkID string, dir Direction) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "guard.check",
		trace.WithAttributes(
			attribute.String("tripwire.check_id", checkID),
			attribute.String("tripwire.direction", string(dir)),
		),
	)
}

// Finish closes the span and emits the log record, metrics, and audit record.
func (t *Telemetry) Finish(ctx context.Context, span trace.Span, e Execution) {
	defer span.End()

	success := e.Err == nil
	ms := e.Elapsed.Milliseconds()
	preview := Preview(e.Text)

	span.SetAttributes(
		attribute.Bool("tripwire.triggered", e.Result.Triggered),
		attribute.Bool("tripwire.cache_hit", e.CacheHit),
		attribute.Float64("tripwire.confidence", e.Result.Confidence),
	)
	if !success {
		span.RecordError(e.Err)
		span.SetStatus(codes.Error, "check failed closed")
	}

	attrs := metric.WithAttributes(
		attribute.String("check_id", e.CheckID),
		attribute.Bool("success", success),
		attribute.Bool("triggered", e.Result.Triggered),
		attribute.Bool("cache_hit", e.CacheHit),
	)
	if t.executions != nil {
		t.executions.Add(ctx, 1, attrs)
	}
	if t.duration != nil {
		t.duration.Record(ctx, float64(ms), attrs)
	}

	fields := []any{
		"check_id", e.CheckID,
		"agent_id", e.AgentID,
		"direction", string(e.Direction),
		"execution_time_ms", ms,
		"success", success,
		"triggered", e.Result.Triggered,
		"cache_hit", e.CacheHit,
		"content_preview", preview,
	}
	if id := ctxutil.RequestIDFromContext(ctx); id != "" {
		fields = append(fields, "request_id", id, "transport", ctxutil.TransportFromContext(ctx))
	}
	if success {
		t.logger.InfoContext(ctx, "guard: check executed", fields...)
	} else {
		fields = append(fields, "error", e.Err.Error())
		t.logger.ErrorContext(ctx, "guard: check failed closed", fields...)
	}

	if t.sink != nil {
		rec := model.CheckExecution{
			ID:              uuid.New(),
			CheckID:         e.CheckID,
			AgentID:         e.AgentID,
			Direction:       string(e.Direction),
			ExecutionTimeMs: ms,
			Success:         success,
			Triggered:       e.Result.Triggered,
			CacheHit:        e.CacheHit,
			ContentPreview:  preview,
			Timestamp:       time.Now().UTC(),
		}
		if !success {
			rec.Error = e.Err.Error()
		}
		t.sink.Record(rec)
	}
}

// Preview redacts PII from text and truncates it for logging. Redaction
// runs before truncation so a cut never exposes part of a match.
func Preview(text string) string {
	redacted := pii.Redact(text)
	if utf8.RuneCountInString(redacted) <= previewRunes {
		return redacted
	}
	runes := []rune(redacted)
	return string(runes[:previewRunes]) + "…"
}
