package guard

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Input is the candidate text in one of two shapes: plain text, or a
// structured payload whose text lives under a well-known field. It is
// resolved to a string once, at the pipeline boundary.
type Input struct {
	plain      string
	structured map[string]any
	isStruct   bool
}

// PlainText wraps a string.
func PlainText(s string) Input { return Input{plain: s} }

// Structured wraps a decoded JSON object.
func Structured(m map[string]any) Input { return Input{structured: m, isStruct: true} }

// textFields are probed in order on structured payloads.
var textFields = []string{"text", "content", "message"}

// Text extracts the text to judge. Structured payloads yield the first
// string field among text, content, and message; failing that, the whole
// payload serialized as JSON.
func (in Input) Text() string {
	if !in.isStruct {
		return in.plain
	}
	for _, f := range textFields {
		if s, ok := in.structured[f].(string); ok {
			return s
		}
	}
	if len(in.structured) == 0 {
		return ""
	}
	b, err := json.Marshal(in.structured)
	if err != nil {
		return ""
	}
	return string(b)
}

// IsBlank reports whether the extracted text is empty or whitespace-only.
func (in Input) IsBlank() bool {
	return isBlank(in.Text())
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// UnmarshalJSON accepts either a JSON string or a JSON object. Any other
// JSON value is kept as its raw text.
func (in *Input) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*in = PlainText(s)
	case len(trimmed) > 0 && trimmed[0] == '{':
		var m map[string]any
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return err
		}
		*in = Structured(m)
	case bytes.Equal(trimmed, []byte("null")):
		*in = PlainText("")
	default:
		*in = PlainText(string(trimmed))
	}
	return nil
}

// MarshalJSON writes the original shape back out.
func (in Input) MarshalJSON() ([]byte, error) {
	if in.isStruct {
		return json.Marshal(in.structured)
	}
	return json.Marshal(in.plain)
}
