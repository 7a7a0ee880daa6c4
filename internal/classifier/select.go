package classifier

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Providers accepted by Select.
const (
	ProviderAuto    = "auto"
	ProviderOllama  = "ollama"
	ProviderOpenAI  = "openai"
	ProviderLexicon = "lexicon"
)

// probeTimeout bounds the Ollama reachability probe made by auto selection.
const probeTimeout = 2 * time.Second

// Settings are the inputs to provider selection.
type Settings struct {
	Provider     string
	OllamaURL    string
	OllamaModel  string
	OpenAIAPIKey string
	OpenAIModel  string
	Timeout      time.Duration
}

// Select builds the classifier for s.Provider and returns it with the name of
// the provider actually used. Auto prefers a reachable Ollama, then OpenAI
// when a key is set, then the offline lexicon.
func Select(ctx context.Context, s Settings, logger *slog.Logger) (Classifier, string) {
	ollama := func() (Classifier, string) {
		return NewLLMClassifier(NewOllamaBackend(s.OllamaURL, s.OllamaModel), s.Timeout), ProviderOllama
	}
	openai := func() (Classifier, string) {
		return NewLLMClassifier(NewOpenAIBackend(s.OpenAIAPIKey, s.OpenAIModel), s.Timeout), ProviderOpenAI
	}

	switch strings.ToLower(s.Provider) {
	case ProviderOllama:
		logger.Info("classifier: ollama", "url", s.OllamaURL, "model", s.OllamaModel)
		return ollama()
	case ProviderOpenAI:
		logger.Info("classifier: openai", "model", s.OpenAIModel)
		return openai()
	case ProviderLexicon:
		logger.Info("classifier: lexicon")
		return NewLexicon(), ProviderLexicon
	default:
		if OllamaReachable(ctx, s.OllamaURL) {
			logger.Info("classifier: ollama (auto-detected)", "url", s.OllamaURL, "model", s.OllamaModel)
			return ollama()
		}
		if s.OpenAIAPIKey != "" {
			logger.Info("classifier: openai (auto-detected)", "model", s.OpenAIModel)
			return openai()
		}
		logger.Warn("classifier: no LLM available, using lexicon (custom instructions will block)")
		return NewLexicon(), ProviderLexicon
	}
}

// OllamaReachable reports whether an Ollama server answers at baseURL.
func OllamaReachable(ctx context.Context, baseURL string) bool {
	if baseURL == "" {
		return false
	}
	c, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(c, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
