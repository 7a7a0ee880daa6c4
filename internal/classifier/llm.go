package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTimeout is the maximum time for a single classifier call.
const DefaultTimeout = 15 * time.Second

// Backend sends one prompt to a chat model and returns the reply text.
type Backend interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

// LLMClassifier implements Classifier by prompting a chat model for a single
// JSON object per judgment. Identical concurrent requests share one backend
// call.
type LLMClassifier struct {
	backend Backend
	timeout time.Duration
	group   singleflight.Group
}

// NewLLMClassifier wraps backend. A non-positive timeout uses DefaultTimeout.
func NewLLMClassifier(backend Backend, timeout time.Duration) *LLMClassifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &LLMClassifier{backend: backend, timeout: timeout}
}

const safetyPrompt = `You are a content-safety classifier for a conversational agent.

Score the TEXT below for each category on a scale from 0.0 (absent) to 1.0 (severe):
toxicity, threat, harassment, hate_speech.
%s
Respond with ONLY a JSON object, no prose:
{"is_safe": true|false, "toxicity": 0.0, "threat": 0.0, "harassment": 0.0, "hate_speech": 0.0, "categories": ["..."], "reasoning": "one sentence"}

TEXT:
%s`

const tonePrompt = `You are a reviewer of customer-facing replies written by a support agent.

Judge whether the TEXT below is professional. tone_score is 0.0 (hostile or dismissive) to 1.0 (courteous and helpful).
sentiment is one of positive, neutral, negative. formality is one of formal, neutral, informal.
%s
Respond with ONLY a JSON object, no prose:
{"is_professional": true|false, "tone_score": 0.0, "sentiment": "neutral", "formality": "neutral", "issues": [], "suggestions": [], "reasoning": "one sentence"}

TEXT:
%s`

const instructionPrompt = `You are a policy checker for a conversational agent.

INSTRUCTION: %s

Decide whether the TEXT below complies with the INSTRUCTION. pass is false when it does not comply.
confidence is how sure you are, from 0.0 to 1.0.
%s
Respond with ONLY a JSON object, no prose:
{"pass": true|false, "confidence": 0.0, "reasoning": "one sentence"}

TEXT:
%s`

// ClassifySafety implements Classifier.
func (c *LLMClassifier) ClassifySafety(ctx context.Context, text string, meta map[string]any) (SafetyVerdict, error) {
	reply, err := c.complete(ctx, fmt.Sprintf(safetyPrompt, formatMeta(meta), text))
	if err != nil {
		return SafetyVerdict{}, err
	}
	var raw struct {
		IsSafe     *bool    `json:"is_safe"`
		Toxicity   *float64 `json:"toxicity"`
		Threat     *float64 `json:"threat"`
		Harassment *float64 `json:"harassment"`
		HateSpeech *float64 `json:"hate_speech"`
		Categories []string `json:"categories"`
		Reasoning  string   `json:"reasoning"`
	}
	if err := decodeFirstObject(reply, &raw); err != nil {
		return SafetyVerdict{}, err
	}
	if raw.IsSafe == nil || raw.Toxicity == nil || raw.Threat == nil || raw.Harassment == nil || raw.HateSpeech == nil {
		return SafetyVerdict{}, fmt.Errorf("%w: safety verdict missing required fields", ErrMalformed)
	}
	v := SafetyVerdict{
		IsSafe:     *raw.IsSafe,
		Toxicity:   *raw.Toxicity,
		Threat:     *raw.Threat,
		Harassment: *raw.Harassment,
		HateSpeech: *raw.HateSpeech,
		Categories: raw.Categories,
		Reasoning:  raw.Reasoning,
	}
	for name, s := range v.Scores() {
		if err := validateUnit(name, s); err != nil {
			return SafetyVerdict{}, err
		}
	}
	return v, nil
}

// ClassifyTone implements Classifier.
func (c *LLMClassifier) ClassifyTone(ctx context.Context, text string, meta map[string]any) (ToneVerdict, error) {
	reply, err := c.complete(ctx, fmt.Sprintf(tonePrompt, formatMeta(meta), text))
	if err != nil {
		return ToneVerdict{}, err
	}
	var raw struct {
		IsProfessional *bool    `json:"is_professional"`
		ToneScore      *float64 `json:"tone_score"`
		Sentiment      string   `json:"sentiment"`
		Formality      string   `json:"formality"`
		Issues         []string `json:"issues"`
		Suggestions    []string `json:"suggestions"`
		Reasoning      string   `json:"reasoning"`
	}
	if err := decodeFirstObject(reply, &raw); err != nil {
		return ToneVerdict{}, err
	}
	if raw.IsProfessional == nil || raw.ToneScore == nil {
		return ToneVerdict{}, fmt.Errorf("%w: tone verdict missing required fields", ErrMalformed)
	}
	if err := validateUnit("tone_score", *raw.ToneScore); err != nil {
		return ToneVerdict{}, err
	}
	return ToneVerdict{
		IsProfessional: *raw.IsProfessional,
		ToneScore:      *raw.ToneScore,
		Sentiment:      strings.ToLower(raw.Sentiment),
		Formality:      strings.ToLower(raw.Formality),
		Issues:         raw.Issues,
		Suggestions:    raw.Suggestions,
		Reasoning:      raw.Reasoning,
	}, nil
}

// ClassifyInstruction implements Classifier.
func (c *LLMClassifier) ClassifyInstruction(ctx context.Context, text, instruction string, meta map[string]any) (InstructionVerdict, error) {
	if strings.TrimSpace(instruction) == "" {
		return InstructionVerdict{}, fmt.Errorf("classifier: empty instruction")
	}
	reply, err := c.complete(ctx, fmt.Sprintf(instructionPrompt, instruction, formatMeta(meta), text))
	if err != nil {
		return InstructionVerdict{}, err
	}
	var raw struct {
		Pass       *bool    `json:"pass"`
		Confidence *float64 `json:"confidence"`
		Reasoning  string   `json:"reasoning"`
	}
	if err := decodeFirstObject(reply, &raw); err != nil {
		return InstructionVerdict{}, err
	}
	if raw.Pass == nil || raw.Confidence == nil {
		return InstructionVerdict{}, fmt.Errorf("%w: instruction verdict missing required fields", ErrMalformed)
	}
	if err := validateUnit("confidence", *raw.Confidence); err != nil {
		return InstructionVerdict{}, err
	}
	return InstructionVerdict{Pass: *raw.Pass, Confidence: *raw.Confidence, Reasoning: raw.Reasoning}, nil
}

// complete deduplicates identical in-flight prompts. The shared call runs on
// a context detached from any single caller, because singleflight reuses the
// first caller's context and one cancellation would fail every waiter. Each
// caller still stops waiting when its own context ends.
func (c *LLMClassifier) complete(ctx context.Context, prompt string) (string, error) {
	ch := c.group.DoChan(prompt, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.backend.Complete(callCtx, prompt)
	})
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("classifier %s: %w", c.backend.Name(), ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("classifier %s: %w", c.backend.Name(), res.Err)
		}
		return res.Val.(string), nil
	}
}

// formatMeta renders caller metadata as a stable "Context:" block, or an
// empty string when there is none.
func formatMeta(meta map[string]any) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("\nContext:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, meta[k])
	}
	return b.String()
}

// decodeFirstObject finds the first balanced JSON object in reply and decodes
// it into dst. Models often wrap JSON in prose or code fences.
func decodeFirstObject(reply string, dst any) error {
	obj, ok := firstObject(reply)
	if !ok {
		return fmt.Errorf("%w: no JSON object in reply", ErrMalformed)
	}
	if err := json.Unmarshal([]byte(obj), dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
