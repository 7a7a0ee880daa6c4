// Package checks holds the built-in guardrail checks and registers them
// with a guard.Registry.
package checks

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/ashita-ai/tripwire/internal/classifier"
	"github.com/ashita-ai/tripwire/internal/guard"
)

// Built-in check identifiers.
const (
	IDContentSafety     = "content_safety"
	IDPIIDetection      = "pii_detection"
	IDProfessionalTone  = "professional_tone"
	IDFactualAccuracy   = "factual_accuracy"
	IDCustomInstruction = "custom_instruction"
)

// Cache lifetimes. Accuracy judgments drift more slowly, so they live longer.
const (
	shortTTL = 5 * time.Minute
	longTTL  = 15 * time.Minute
)

// RegisterBuiltins registers the five built-in checks. cls serves the
// checks that need semantic judgment.
func RegisterBuiltins(reg *guard.Registry, cls classifier.Classifier) error {
	builtins := []struct {
		desc    guard.Descriptor
		factory guard.Factory
	}{
		{ContentSafetyDescriptor(), NewContentSafety(cls)},
		{PIIDetectionDescriptor(), NewPIIDetection()},
		{ProfessionalToneDescriptor(), NewProfessionalTone(cls)},
		{FactualAccuracyDescriptor(), NewFactualAccuracy()},
		{CustomInstructionDescriptor(), NewCustomInstruction(cls, "")},
	}
	for _, b := range builtins {
		if err := reg.Register(b.desc, b.factory); err != nil {
			return fmt.Errorf("checks: %w", err)
		}
	}
	return nil
}

// decodeOptions decodes per-check options into dst. Unknown keys are
// rejected so a typo surfaces in configuration validation.
func decodeOptions(raw map[string]any, dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      dst,
		TagName:     "mapstructure",
		ErrorUnused: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}
