package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// scriptedBackend returns a fixed reply and counts calls.
type scriptedBackend struct {
	reply string
	err   error
	calls atomic.Int32
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) Complete(context.Context, string) (string, error) {
	b.calls.Add(1)
	return b.reply, b.err
}

func TestLLMClassifier_Safety(t *testing.T) {
	b := &scriptedBackend{reply: "Sure!\n```json\n" +
		`{"is_safe": false, "toxicity": 0.8, "threat": 0.1, "harassment": 0.2, "hate_speech": 0.0, "categories": ["toxicity"], "reasoning": "insult"}` +
		"\n```"}
	c := NewLLMClassifier(b, time.Second)

	v, err := c.ClassifySafety(context.Background(), "you are an idiot", nil)
	require.NoError(t, err)
	assert.False(t, v.IsSafe)
	assert.InDelta(t, 0.8, v.Toxicity, 1e-9)
	assert.Equal(t, []string{"toxicity"}, v.Categories)
	assert.Equal(t, "insult", v.Reasoning)
}

func TestLLMClassifier_SafetyMissingField(t *testing.T) {
	b := &scriptedBackend{reply: `{"is_safe": true, "toxicity": 0.1}`}
	_, err := NewLLMClassifier(b, time.Second).ClassifySafety(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestLLMClassifier_ScoreOutOfRange(t *testing.T) {
	b := &scriptedBackend{reply: `{"is_professional": true, "tone_score": 7}`}
	_, err := NewLLMClassifier(b, time.Second).ClassifyTone(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestLLMClassifier_NoJSON(t *testing.T) {
	b := &scriptedBackend{reply: "I cannot help with that."}
	_, err := NewLLMClassifier(b, time.Second).ClassifyInstruction(context.Background(), "hi", "be polite", nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestLLMClassifier_BackendError(t *testing.T) {
	b := &scriptedBackend{err: errors.New("connection refused")}
	_, err := NewLLMClassifier(b, time.Second).ClassifySafety(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestLLMClassifier_Instruction(t *testing.T) {
	b := &scriptedBackend{reply: `{"pass": false, "confidence": 0.9, "reasoning": "mentions a competitor"}`}
	v, err := NewLLMClassifier(b, time.Second).ClassifyInstruction(context.Background(), "try Acme instead", "never mention competitors", map[string]any{"agent_id": "shop"})
	require.NoError(t, err)
	assert.False(t, v.Pass)
	assert.InDelta(t, 0.9, v.Confidence, 1e-9)
}

func TestLLMClassifier_EmptyInstruction(t *testing.T) {
	b := &scriptedBackend{reply: `{}`}
	_, err := NewLLMClassifier(b, time.Second).ClassifyInstruction(context.Background(), "text", "  ", nil)
	require.Error(t, err)
	assert.Equal(t, int32(0), b.calls.Load())
}

// gatedBackend blocks until released so concurrent callers overlap.
type gatedBackend struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *gatedBackend) Name() string { return "gated" }

func (b *gatedBackend) Complete(context.Context, string) (string, error) {
	if b.calls.Add(1) == 1 {
		close(b.entered)
	}
	<-b.release
	return `{"is_professional": true, "tone_score": 0.9}`, nil
}

func TestLLMClassifier_DeduplicatesConcurrentIdenticalCalls(t *testing.T) {
	b := &gatedBackend{entered: make(chan struct{}), release: make(chan struct{})}
	c := NewLLMClassifier(b, 5*time.Second)

	var wg sync.WaitGroup
	results := make([]ToneVerdict, 5)
	call := func(i int) {
		defer wg.Done()
		v, err := c.ClassifyTone(context.Background(), "same text", nil)
		assert.NoError(t, err)
		results[i] = v
	}

	wg.Add(1)
	go call(0)
	<-b.entered
	for i := 1; i < 5; i++ {
		wg.Add(1)
		go call(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(b.release)
	wg.Wait()

	assert.Equal(t, int32(1), b.calls.Load())
	for _, v := range results {
		assert.InDelta(t, 0.9, v.ToneScore, 1e-9)
	}
}

func TestLLMClassifier_CallerCancellation(t *testing.T) {
	b := &gatedBackend{entered: make(chan struct{}), release: make(chan struct{})}
	defer close(b.release)
	c := NewLLMClassifier(b, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.ClassifyTone(ctx, "slow", nil)
		errCh <- err
	}()
	<-b.entered
	cancel()

	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOllamaBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen2.5:3b", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 1)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": `{"pass": true, "confidence": 0.7}`},
		})
	}))
	defer srv.Close()

	got, err := NewOllamaBackend(srv.URL, "qwen2.5:3b").Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.JSONEq(t, `{"pass": true, "confidence": 0.7}`, got)
}

func TestOllamaBackend_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaBackend(srv.URL, "missing").Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestLLMClassifier_ConfiguredTimeoutBoundsBackend(t *testing.T) {
	const timeout = DefaultTimeout + time.Minute

	b := NewOllamaBackend("http://ollama.test", "qwen2.5:3b")
	assert.Zero(t, b.httpClient.Timeout, "client timeout would cap the configured timeout")

	var deadline time.Time
	b.httpClient.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		var ok bool
		deadline, ok = r.Context().Deadline()
		assert.True(t, ok)
		body := `{"message":{"content":"{\"pass\":true,\"confidence\":0.9}"}}`
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    r,
		}, nil
	})

	start := time.Now()
	v, err := NewLLMClassifier(b, timeout).ClassifyInstruction(context.Background(), "hello", "be polite", nil)
	require.NoError(t, err)
	assert.True(t, v.Pass)
	assert.WithinDuration(t, start.Add(timeout), deadline, 5*time.Second)
}

func TestBackends_PropagateTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	var headers []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = append(headers, r.Header.Get("traceparent"))
		if r.URL.Path == "/api/chat" {
			_, _ = w.Write([]byte(`{"message":{"content":"{}"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{}"}}]}`))
	}))
	defer srv.Close()

	_, err := NewOllamaBackend(srv.URL, "m").Complete(ctx, "prompt")
	require.NoError(t, err)
	_, err = NewOpenAIBackend("k", "m").WithBaseURL(srv.URL).Complete(ctx, "prompt")
	require.NoError(t, err)

	want := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	assert.Equal(t, []string{want, want}, headers)
}

func TestOpenAIBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"pass\":false,\"confidence\":1}"}}]}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend("sk-test", "").WithBaseURL(srv.URL)
	got, err := b.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"pass":false,"confidence":1}`, got)
}

func TestOpenAIBackend_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIBackend("k", "m").WithBaseURL(srv.URL).Complete(context.Background(), "prompt")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFirstObject(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{`prefix {"a":{"b":2}} suffix {"c":3}`, `{"a":{"b":2}}`, true},
		{`{"s":"brace } inside"}`, `{"s":"brace } inside"}`, true},
		{`{"s":"escaped \" quote }"}`, `{"s":"escaped \" quote }"}`, true},
		{`{"unterminated":`, "", false},
		{`no json`, "", false},
	}
	for _, tt := range tests {
		got, ok := firstObject(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFormatMeta(t *testing.T) {
	assert.Empty(t, formatMeta(nil))
	assert.Equal(t, "\nContext:\n- a: 1\n- b: x\n", formatMeta(map[string]any{"b": "x", "a": 1}))
}
