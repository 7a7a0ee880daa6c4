package tripwire

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
type resolvedOptions struct {
	port       int
	logger     *slog.Logger
	version    string
	checksFile string
	provider   string
	checks     []CheckDefinition
	auditSinks []AuditSink
}

// WithPort overrides the TCP port from config (TRIPWIRE_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithChecksFile overrides the custom checks file from config (TRIPWIRE_CHECKS_FILE).
func WithChecksFile(path string) Option {
	return func(o *resolvedOptions) { o.checksFile = path }
}

// WithClassifierProvider overrides TRIPWIRE_CLASSIFIER_PROVIDER
// ("auto", "ollama", "openai", or "lexicon").
func WithClassifierProvider(provider string) Option {
	return func(o *resolvedOptions) { o.provider = provider }
}

// WithCheck registers a custom check after the built-ins. A definition that
// reuses a built-in id replaces it.
func WithCheck(def CheckDefinition) Option {
	return func(o *resolvedOptions) { o.checks = append(o.checks, def) }
}

// WithAuditSink registers a sink that receives every execution record.
// Multiple sinks may be registered.
func WithAuditSink(sink AuditSink) Option {
	return func(o *resolvedOptions) { o.auditSinks = append(o.auditSinks, sink) }
}
