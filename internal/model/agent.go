package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// AgentGuardrailConfig is the guardrail configuration attached to an agent
// record by the agent-management system. It is read-only here: the pipeline
// validates and evaluates it but never writes it back.
type AgentGuardrailConfig struct {
	Input      []string                  `json:"input" yaml:"input"`
	Output     []string                  `json:"output" yaml:"output"`
	Thresholds map[string]any            `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Options    map[string]map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// ChecksFor returns the configured check identifiers for a direction name
// ("input" or "output"). Unknown directions yield nil.
func (c AgentGuardrailConfig) ChecksFor(direction string) []string {
	switch direction {
	case "input":
		return c.Input
	case "output":
		return c.Output
	default:
		return nil
	}
}

// ParseThreshold converts a decoded JSON or YAML scalar into a float64.
// Strings are rejected even when they look numeric: the persisted format
// stores thresholds as numbers.
func ParseThreshold(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := strconv.ParseFloat(string(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ValidateAgentID checks that an agent ID conforms to the allowed format.
// Agent IDs must be 1-255 ASCII characters: alphanumeric, dots, hyphens,
// underscores, and @ signs.
func ValidateAgentID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("agent_id is required")
	}
	if len(id) > 255 {
		return fmt.Errorf("agent_id must be at most 255 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' && c != '@' {
			return fmt.Errorf("agent_id contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
