package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/tripwire/internal/guard"
	"github.com/ashita-ai/tripwire/internal/guard/checks"
)

var checkIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ChecksFile is the YAML document that declares extra instruction checks.
//
//	checks:
//	  - id: no_refund_promises
//	    direction: output
//	    instruction: Never promise a refund or a credit.
//	    threshold: 0.6
type ChecksFile struct {
	Checks []checks.CustomDefinition `yaml:"checks"`
}

// LoadChecksFile reads and validates the checks file at path.
func LoadChecksFile(path string) ([]checks.CustomDefinition, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("config: read checks file: %w", err)
	}
	defs, err := ParseChecksFile(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return defs, nil
}

// ParseChecksFile decodes a checks document. Unknown keys, duplicate or
// malformed identifiers, and out-of-range thresholds are errors.
func ParseChecksFile(raw []byte) ([]checks.CustomDefinition, error) {
	var doc ChecksFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse checks file: %w", err)
	}

	seen := make(map[string]bool, len(doc.Checks))
	for i, d := range doc.Checks {
		if !checkIDPattern.MatchString(d.ID) {
			return nil, fmt.Errorf("checks[%d]: id %q must be lower_snake_case", i, d.ID)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("checks[%d]: duplicate id %q", i, d.ID)
		}
		seen[d.ID] = true
		if d.Instruction == "" {
			return nil, fmt.Errorf("checks[%d]: %s: instruction is required", i, d.ID)
		}
		if d.Direction != "" {
			switch d.Direction {
			case guard.DirectionInput, guard.DirectionOutput, guard.DirectionBoth:
			default:
				return nil, fmt.Errorf("checks[%d]: %s: direction must be input, output, or both", i, d.ID)
			}
		}
		if d.Threshold != nil {
			if err := guard.ValidThreshold(*d.Threshold); err != nil {
				return nil, fmt.Errorf("checks[%d]: %s: %w", i, d.ID, err)
			}
		}
	}
	return doc.Checks, nil
}
