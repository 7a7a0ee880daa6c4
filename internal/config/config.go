// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/tripwire/internal/classifier"
)

// Classifier providers.
const (
	ProviderAuto    = classifier.ProviderAuto
	ProviderOllama  = classifier.ProviderOllama
	ProviderOpenAI  = classifier.ProviderOpenAI
	ProviderLexicon = classifier.ProviderLexicon
)

// Audit drivers.
const (
	AuditNone     = "none"
	AuditPostgres = "postgres"
	AuditSQLite   = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
	HTTPRateLimit       int // requests per client IP per minute; 0 disables.

	// Classifier settings.
	ClassifierProvider string // "auto", "ollama", "openai", or "lexicon"
	ClassifierTimeout  time.Duration
	OllamaURL          string
	OllamaModel        string
	OpenAIAPIKey       string
	OpenAIModel        string

	// Pipeline settings.
	CacheMaxEntries      int
	CacheCleanupInterval time.Duration
	CheckRateLimit       int // fresh evaluations per check per window; 0 disables.
	CheckRateWindow      time.Duration
	MaxConcurrentChecks  int
	StrictRegistry       bool
	ChecksFile           string

	// Audit settings.
	AuditDriver        string // "none", "postgres", or "sqlite"
	DatabaseURL        string
	SQLitePath         string
	AuditBufferSize    int
	AuditFlushInterval time.Duration
	AuditRetention     time.Duration // 0 keeps records forever.

	// OTEL settings.
	OTELEndpoint     string
	ServiceName      string
	OTELInsecure     bool
	TraceSampleRatio float64
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed values are collected and reported together.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	str := envStr
	integer := func(key string, def int) int { v, err := envInt(key, def); collect(err); return v }
	boolean := func(key string, def bool) bool { v, err := envBool(key, def); collect(err); return v }
	duration := func(key string, def time.Duration) time.Duration { v, err := envDuration(key, def); collect(err); return v }
	float := func(key string, def float64) float64 { v, err := envFloat(key, def); collect(err); return v }

	cfg := Config{
		Port:                 integer("TRIPWIRE_PORT", 8080),
		ReadTimeout:          duration("TRIPWIRE_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:         duration("TRIPWIRE_WRITE_TIMEOUT", 60*time.Second),
		MaxRequestBodyBytes:  int64(integer("TRIPWIRE_MAX_REQUEST_BODY_BYTES", 1*1024*1024)),
		HTTPRateLimit:        integer("TRIPWIRE_HTTP_RATE_LIMIT", 600),
		ClassifierProvider:   strings.ToLower(str("TRIPWIRE_CLASSIFIER_PROVIDER", ProviderAuto)),
		ClassifierTimeout:    duration("TRIPWIRE_CLASSIFIER_TIMEOUT", 15*time.Second),
		OllamaURL:            str("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:          str("TRIPWIRE_OLLAMA_MODEL", "llama3.1"),
		OpenAIAPIKey:         str("OPENAI_API_KEY", ""),
		OpenAIModel:          str("TRIPWIRE_OPENAI_MODEL", "gpt-4o-mini"),
		CacheMaxEntries:      integer("TRIPWIRE_CACHE_MAX_ENTRIES", 10_000),
		CacheCleanupInterval: duration("TRIPWIRE_CACHE_CLEANUP_INTERVAL", time.Minute),
		CheckRateLimit:       integer("TRIPWIRE_CHECK_RATE_LIMIT", 100),
		CheckRateWindow:      duration("TRIPWIRE_CHECK_RATE_WINDOW", time.Minute),
		MaxConcurrentChecks:  integer("TRIPWIRE_MAX_CONCURRENT_CHECKS", 8),
		StrictRegistry:       boolean("TRIPWIRE_STRICT_REGISTRY", false),
		ChecksFile:           str("TRIPWIRE_CHECKS_FILE", ""),
		AuditDriver:          strings.ToLower(str("TRIPWIRE_AUDIT_DRIVER", AuditNone)),
		DatabaseURL:          str("DATABASE_URL", ""),
		SQLitePath:           str("TRIPWIRE_SQLITE_PATH", "tripwire-audit.db"),
		AuditBufferSize:      integer("TRIPWIRE_AUDIT_BUFFER_SIZE", 500),
		AuditFlushInterval:   duration("TRIPWIRE_AUDIT_FLUSH_INTERVAL", 2*time.Second),
		AuditRetention:       duration("TRIPWIRE_AUDIT_RETENTION", 0),
		OTELEndpoint:         str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:          str("OTEL_SERVICE_NAME", "tripwire"),
		OTELInsecure:         boolean("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSampleRatio:     float("TRIPWIRE_TRACE_SAMPLE_RATIO", 1.0),
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and required combinations.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.Port <= 0 || c.Port > 65535 {
		fail("TRIPWIRE_PORT must be between 1 and 65535")
	}
	if c.MaxRequestBodyBytes <= 0 {
		fail("TRIPWIRE_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.HTTPRateLimit < 0 {
		fail("TRIPWIRE_HTTP_RATE_LIMIT must not be negative")
	}
	switch c.ClassifierProvider {
	case ProviderAuto, ProviderOllama, ProviderLexicon:
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			fail("OPENAI_API_KEY is required when TRIPWIRE_CLASSIFIER_PROVIDER=openai")
		}
	default:
		fail("TRIPWIRE_CLASSIFIER_PROVIDER must be one of auto, ollama, openai, lexicon, got %q", c.ClassifierProvider)
	}
	if c.ClassifierTimeout <= 0 {
		fail("TRIPWIRE_CLASSIFIER_TIMEOUT must be positive")
	}
	if c.CacheMaxEntries <= 0 {
		fail("TRIPWIRE_CACHE_MAX_ENTRIES must be positive")
	}
	if c.CacheCleanupInterval <= 0 {
		fail("TRIPWIRE_CACHE_CLEANUP_INTERVAL must be positive")
	}
	if c.CheckRateLimit < 0 {
		fail("TRIPWIRE_CHECK_RATE_LIMIT must not be negative")
	}
	if c.CheckRateLimit > 0 && c.CheckRateWindow <= 0 {
		fail("TRIPWIRE_CHECK_RATE_WINDOW must be positive when rate limiting is enabled")
	}
	if c.MaxConcurrentChecks <= 0 {
		fail("TRIPWIRE_MAX_CONCURRENT_CHECKS must be positive")
	}
	switch c.AuditDriver {
	case AuditNone:
	case AuditPostgres:
		if c.DatabaseURL == "" {
			fail("DATABASE_URL is required when TRIPWIRE_AUDIT_DRIVER=postgres")
		}
	case AuditSQLite:
		if c.SQLitePath == "" {
			fail("TRIPWIRE_SQLITE_PATH is required when TRIPWIRE_AUDIT_DRIVER=sqlite")
		}
	default:
		fail("TRIPWIRE_AUDIT_DRIVER must be one of none, postgres, sqlite, got %q", c.AuditDriver)
	}
	if c.AuditBufferSize <= 0 {
		fail("TRIPWIRE_AUDIT_BUFFER_SIZE must be positive")
	}
	if c.AuditFlushInterval <= 0 {
		fail("TRIPWIRE_AUDIT_FLUSH_INTERVAL must be positive")
	}
	if c.AuditRetention < 0 {
		fail("TRIPWIRE_AUDIT_RETENTION must not be negative")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		fail("TRIPWIRE_TRACE_SAMPLE_RATIO must be between 0 and 1")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ClassifierSettings returns the inputs for classifier selection.
func (c Config) ClassifierSettings() classifier.Settings {
	return classifier.Settings{
		Provider:     c.ClassifierProvider,
		OllamaURL:    c.OllamaURL,
		OllamaModel:  c.OllamaModel,
		OpenAIAPIKey: c.OpenAIAPIKey,
		OpenAIModel:  c.OpenAIModel,
		Timeout:      c.ClassifierTimeout,
	}
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
