// Package tripwire is the public API for embedding the tripwire guardrail server.
//
// Callers construct an App, optionally extending the built-in checks, and run it:
//
//	app, err := tripwire.New(
//	    tripwire.WithVersion(version),
//	    tripwire.WithLogger(logger),
//	    tripwire.WithCheck(myCheck),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*, never the other way round. Public
// types are standalone structs; the adapters that convert them live here.
package tripwire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ashita-ai/tripwire/api"
	"github.com/ashita-ai/tripwire/internal/audit"
	"github.com/ashita-ai/tripwire/internal/cache"
	"github.com/ashita-ai/tripwire/internal/classifier"
	"github.com/ashita-ai/tripwire/internal/config"
	"github.com/ashita-ai/tripwire/internal/guard"
	"github.com/ashita-ai/tripwire/internal/guard/checks"
	"github.com/ashita-ai/tripwire/internal/mcp"
	"github.com/ashita-ai/tripwire/internal/model"
	"github.com/ashita-ai/tripwire/internal/ratelimit"
	"github.com/ashita-ai/tripwire/internal/server"
	"github.com/ashita-ai/tripwire/internal/storage"
	"github.com/ashita-ai/tripwire/internal/storage/sqlite"
	"github.com/ashita-ai/tripwire/internal/telemetry"
	"github.com/ashita-ai/tripwire/migrations"
)

const (
	shutdownHTTPTimeout  = 15 * time.Second
	shutdownDrainTimeout = 10 * time.Second
	retentionInterval    = time.Hour
)

// auditStore is what both audit drivers provide.
type auditStore interface {
	InsertExecutions(ctx context.Context, recs []model.CheckExecution) (int64, error)
	RecentExecutions(ctx context.Context, f model.ExecutionFilter) ([]model.CheckExecution, error)
	GetExecution(ctx context.Context, id uuid.UUID) (model.CheckExecution, error)
	PurgeExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// App is the tripwire server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	engine       *guard.Engine
	srv          *server.Server
	cache        *cache.Cache
	checkLimiter ratelimit.Limiter
	httpLimiter  ratelimit.Limiter
	store        auditStore    // nil when auditing is disabled
	buf          *audit.Buffer // nil when auditing is disabled
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the server: it loads configuration, selects a classifier,
// opens the audit store, registers checks, and wires the HTTP and MCP
// surfaces. It does not start goroutines or accept connections; call Run.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.checksFile != "" {
		cfg.ChecksFile = o.checksFile
	}
	if o.provider != "" {
		cfg.ClassifierProvider = o.provider
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("tripwire starting", "version", version, "port", cfg.Port)

	// Cleanups run in reverse order if a later step fails.
	var cleanups []func()
	fail := func(err error) (*App, error) {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		return nil, err
	}

	otelShutdown, err := telemetry.Init(context.Background(), telemetry.Options{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	cleanups = append(cleanups, func() { _ = otelShutdown(context.Background()) })

	cls, clsName := classifier.Select(context.Background(), cfg.ClassifierSettings(), logger)

	resultCache := cache.New(cache.Options{
		MaxEntries:      cfg.CacheMaxEntries,
		CleanupInterval: cfg.CacheCleanupInterval,
	})
	resultCache.RegisterMetrics()
	cleanups = append(cleanups, resultCache.Close)

	var checkLimiter ratelimit.Limiter
	if cfg.CheckRateLimit > 0 {
		checkLimiter = ratelimit.NewWindowLimiter(cfg.CheckRateLimit, cfg.CheckRateWindow)
		cleanups = append(cleanups, func() { _ = checkLimiter.Close() })
		logger.Info("check rate limiting: enabled", "limit", cfg.CheckRateLimit, "window", cfg.CheckRateWindow)
	} else {
		logger.Info("check rate limiting: disabled")
	}

	store, err := openAuditStore(context.Background(), cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("audit store: %w", err))
	}
	var buf *audit.Buffer
	if store != nil {
		cleanups = append(cleanups, func() { _ = store.Close() })
		buf = audit.NewBuffer(store, logger, cfg.AuditBufferSize, cfg.AuditFlushInterval)
	}

	reg := guard.NewRegistry(logger,
		guard.WithStrictDirections(cfg.StrictRegistry),
		guard.WithServices(guard.Services{
			Cache:     resultCache,
			Limiter:   checkLimiter,
			Telemetry: guard.NewTelemetry(logger, newSink(buf, o.auditSinks)),
		}),
	)
	if err := registerChecks(reg, cls, cfg.ChecksFile, o.checks, logger); err != nil {
		return fail(err)
	}
	engine := guard.NewEngine(reg, logger, cfg.MaxConcurrentChecks)

	mcpSrv := mcp.New(engine, logger, version)

	var httpLimiter ratelimit.Limiter
	if cfg.HTTPRateLimit > 0 {
		httpLimiter = ratelimit.NewWindowLimiter(cfg.HTTPRateLimit, time.Minute)
		cleanups = append(cleanups, func() { _ = httpLimiter.Close() })
		logger.Info("http rate limiting: enabled", "per_minute", cfg.HTTPRateLimit)
	} else {
		logger.Info("http rate limiting: disabled")
	}

	scfg := server.ServerConfig{
		Engine:              engine,
		Logger:              logger,
		RateLimiter:         httpLimiter,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		ClassifierName:      clsName,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
	}
	// Assign only when present so the interfaces stay nil.
	if store != nil {
		scfg.Store = store
		scfg.Buffer = buf
	}

	return &App{
		cfg:          cfg,
		engine:       engine,
		srv:          server.New(scfg),
		cache:        resultCache,
		checkLimiter: checkLimiter,
		httpLimiter:  httpLimiter,
		store:        store,
		buf:          buf,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler returns the root HTTP handler without starting a listener.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the audit buffer, the retention loop, and the HTTP server, then
// blocks until ctx is cancelled or the server fails. On return, Shutdown has
// already been called.
func (a *App) Run(ctx context.Context) error {
	if a.buf != nil {
		// Requests still draining after ctx ends keep recording; Shutdown
		// stops the buffer once the HTTP server is idle.
		a.buf.Start(context.WithoutCancel(ctx))
	}
	if a.store != nil && a.cfg.AuditRetention > 0 {
		go a.retentionLoop(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown stops accepting HTTP requests and drains in-flight ones, flushes
// buffered audit records, then releases the cache, limiters, store, and
// telemetry providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("tripwire shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, shutdownHTTPTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	if a.buf != nil {
		drainCtx, drainCancel := context.WithTimeout(ctx, shutdownDrainTimeout)
		a.buf.Drain(drainCtx)
		drainCancel()
		if n := a.buf.Len(); n > 0 {
			a.logger.Error("audit buffer drain incomplete, unflushed records lost", "remaining", n)
		}
	}

	a.cache.Close()
	if a.checkLimiter != nil {
		_ = a.checkLimiter.Close()
	}
	if a.httpLimiter != nil {
		_ = a.httpLimiter.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("audit store close failed", "error", err)
		}
	}
	_ = a.otelShutdown(context.Background())

	a.logger.Info("tripwire stopped")
	return nil
}

// retentionLoop deletes audit records older than the retention period.
func (a *App) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	a.purgeExpired(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.purgeExpired(ctx)
		}
	}
}

func (a *App) purgeExpired(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	deleted, err := a.store.PurgeExecutionsBefore(opCtx, time.Now().Add(-a.cfg.AuditRetention))
	if err != nil {
		a.logger.Warn("audit retention purge failed", "error", err)
		return
	}
	if deleted > 0 {
		a.logger.Info("audit retention purged records", "deleted", deleted)
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// openAuditStore opens the configured audit driver. It returns a nil store
// when auditing is disabled.
func openAuditStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (auditStore, error) {
	switch cfg.AuditDriver {
	case config.AuditPostgres:
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		db.RegisterMetrics()
		logger.Info("audit store: postgres")
		return db, nil
	case config.AuditSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("audit store: sqlite", "path", s.Path())
		return s, nil
	default:
		logger.Info("audit store: disabled")
		return nil, nil
	}
}

// registerChecks registers the built-ins, then the checks file, then checks
// supplied through options, so later sources can replace earlier ones.
func registerChecks(reg *guard.Registry, cls classifier.Classifier, checksFile string, extra []CheckDefinition, logger *slog.Logger) error {
	if err := checks.RegisterBuiltins(reg, cls); err != nil {
		return err
	}
	if checksFile != "" {
		defs, err := config.LoadChecksFile(checksFile)
		if err != nil {
			return err
		}
		for _, def := range defs {
			if err := checks.RegisterCustom(reg, cls, def); err != nil {
				return err
			}
		}
		logger.Info("custom checks loaded", "file", checksFile, "count", len(defs))
	}
	for _, def := range extra {
		if def.New == nil {
			return fmt.Errorf("check %q: New is required", def.ID)
		}
		if err := reg.Register(toDescriptor(def), toFactory(def)); err != nil {
			return err
		}
	}
	return nil
}

// ── Adapters (defined here because this file imports both sides) ───────────────

func toDescriptor(def CheckDefinition) guard.Descriptor {
	name := def.Name
	if name == "" {
		name = def.ID
	}
	return guard.Descriptor{
		ID:               def.ID,
		Name:             name,
		Description:      def.Description,
		Direction:        guard.Direction(def.Direction),
		Category:         guard.Category(def.Category),
		Enabled:          true,
		Configurable:     def.Configurable,
		DefaultThreshold: def.DefaultThreshold,
		CacheTTL:         def.CacheTTL,
	}
}

func toFactory(def CheckDefinition) guard.Factory {
	return func(p guard.Params) (guard.Evaluator, error) {
		ev, err := def.New(p.Threshold, p.Options)
		if err != nil {
			return nil, err
		}
		return guard.EvaluatorFunc(func(ctx context.Context, text string, ec guard.EvalContext) (guard.Verdict, error) {
			v, err := ev.Evaluate(ctx, text, EvalContext{
				AgentID:   ec.AgentID,
				Direction: Direction(ec.Direction),
				Metadata:  ec.Metadata,
			})
			if err != nil {
				return guard.Verdict{}, err
			}
			return guard.Verdict{
				Triggered:  v.Triggered,
				Confidence: v.Confidence,
				Scores:     v.Scores,
				Details:    v.Details,
				Reasoning:  v.Reasoning,
			}, nil
		}), nil
	}
}

// fanoutSink forwards execution records to the audit buffer and to every
// public sink.
type fanoutSink struct {
	buf   *audit.Buffer
	sinks []AuditSink
}

// newSink returns nil when there is nowhere to send records.
func newSink(buf *audit.Buffer, sinks []AuditSink) guard.Sink {
	if buf == nil && len(sinks) == 0 {
		return nil
	}
	return &fanoutSink{buf: buf, sinks: sinks}
}

func (f *fanoutSink) Record(rec model.CheckExecution) {
	if f.buf != nil {
		f.buf.Record(rec)
	}
	if len(f.sinks) == 0 {
		return
	}
	pub := toPublicRecord(rec)
	for _, s := range f.sinks {
		s.Record(pub)
	}
}

func toPublicRecord(rec model.CheckExecution) ExecutionRecord {
	return ExecutionRecord{
		ID:              rec.ID.String(),
		CheckID:         rec.CheckID,
		AgentID:         rec.AgentID,
		Direction:       Direction(rec.Direction),
		ExecutionTimeMs: rec.ExecutionTimeMs,
		Success:         rec.Success,
		Triggered:       rec.Triggered,
		CacheHit:        rec.CacheHit,
		Error:           rec.Error,
		ContentPreview:  rec.ContentPreview,
		Timestamp:       rec.Timestamp,
	}
}
