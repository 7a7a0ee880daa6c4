package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/tripwire/internal/guard"
	"github.com/ashita-ai/tripwire/internal/ratelimit"
)

// Server is the tripwire HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Store, Buffer, RateLimiter, MCPServer, OpenAPISpec.
type ServerConfig struct {
	// Required dependencies.
	Engine *guard.Engine
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Store       ExecutionStore
	Buffer      AuditBuffer
	RateLimiter ratelimit.Limiter
	MCPServer   *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	ClassifierName      string
	MaxRequestBodyBytes int64

	OpenAPISpec []byte
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Engine:              cfg.Engine,
		Store:               cfg.Store,
		Buffer:              cfg.Buffer,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		ClassifierName:      cfg.ClassifierName,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	limited := ratelimit.Middleware(cfg.RateLimiter, ratelimit.IPKeyFunc, cfg.Logger)

	mux := http.NewServeMux()

	// Pipeline endpoints (rate limited per client IP).
	mux.Handle("POST /v1/evaluate", limited(http.HandlerFunc(h.HandleEvaluate)))
	mux.Handle("POST /v1/validate", limited(http.HandlerFunc(h.HandleValidate)))
	mux.Handle("GET /v1/checks", limited(http.HandlerFunc(h.HandleListChecks)))
	mux.Handle("GET /v1/checks/{check_id}", limited(http.HandlerFunc(h.HandleGetCheck)))
	mux.Handle("GET /v1/executions", limited(http.HandlerFunc(h.HandleListExecutions)))
	mux.Handle("GET /v1/executions/{id}", limited(http.HandlerFunc(h.HandleGetExecution)))

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", limited(mcpserver.NewStreamableHTTPServer(cfg.MCPServer)))
	}

	// OpenAPI spec and health (no rate limit).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http server starting", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
