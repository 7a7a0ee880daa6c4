package guard

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInput_Text(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want string
	}{
		{"plain", PlainText("hello"), "hello"},
		{"text field", Structured(map[string]any{"text": "a", "content": "b"}), "a"},
		{"content field", Structured(map[string]any{"content": "b", "message": "c"}), "b"},
		{"message field", Structured(map[string]any{"message": "c"}), "c"},
		{"non-string text falls through", Structured(map[string]any{"text": 42, "message": "c"}), "c"},
		{"serialized fallback", Structured(map[string]any{"order": 7}), `{"order":7}`},
		{"empty object", Structured(map[string]any{}), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Text())
		})
	}
}

func TestInput_IsBlank(t *testing.T) {
	assert.True(t, PlainText("").IsBlank())
	assert.True(t, PlainText(" \n\t ").IsBlank())
	assert.True(t, Structured(map[string]any{"text": "   "}).IsBlank())
	assert.False(t, PlainText("x").IsBlank())
}

func TestInput_UnmarshalJSON(t *testing.T) {
	var req struct {
		Input Input `json:"input"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"input":"hi there"}`), &req))
	assert.Equal(t, "hi there", req.Input.Text())

	require.NoError(t, json.Unmarshal([]byte(`{"input":{"content":"from object"}}`), &req))
	assert.Equal(t, "from object", req.Input.Text())

	require.NoError(t, json.Unmarshal([]byte(`{"input":null}`), &req))
	assert.True(t, req.Input.IsBlank())

	require.NoError(t, json.Unmarshal([]byte(`{"input":12.5}`), &req))
	assert.Equal(t, "12.5", req.Input.Text())
}

func TestInput_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(PlainText("x"))
	require.NoError(t, err)
	assert.JSONEq(t, `"x"`, string(b))

	b, err = json.Marshal(Structured(map[string]any{"text": "y"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"y"}`, string(b))
}
