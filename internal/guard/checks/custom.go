package checks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ashita-ai/tripwire/internal/classifier"
	"github.com/ashita-ai/tripwire/internal/guard"
)

// CustomInstructionDescriptor describes the generic custom-instruction
// check. The instruction comes from the agent's options.
func CustomInstructionDescriptor() guard.Descriptor {
	return guard.Descriptor{
		ID:               IDCustomInstruction,
		Name:             "Custom Instruction",
		Description:      "Checks text against a caller-supplied natural-language instruction.",
		Direction:        guard.DirectionBoth,
		Category:         guard.CategoryCompliance,
		Enabled:          true,
		Configurable:     true,
		DefaultThreshold: 0.7,
		CacheTTL:         shortTTL,
	}
}

// CustomOptions are the options of an instruction check.
type CustomOptions struct {
	Instruction string `mapstructure:"instruction"`
}

// CustomDetails is the detail payload of an instruction result.
type CustomDetails struct {
	Pass        bool   `json:"pass"`
	Instruction string `json:"instruction"`
}

// CustomDefinition declares an extra named instruction check, usually
// loaded from the checks file at startup.
type CustomDefinition struct {
	ID          string          `yaml:"id" json:"id"`
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description" json:"description"`
	Direction   guard.Direction `yaml:"direction" json:"direction"`
	Instruction string          `yaml:"instruction" json:"instruction"`
	Threshold   *float64        `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Disabled    bool            `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// Descriptor builds the registry descriptor for the definition.
func (d CustomDefinition) Descriptor() guard.Descriptor {
	desc := CustomInstructionDescriptor()
	desc.ID = d.ID
	desc.Name = d.Name
	if desc.Name == "" {
		desc.Name = d.ID
	}
	desc.Description = d.Description
	if desc.Description == "" {
		desc.Description = d.Instruction
	}
	if d.Direction != "" {
		desc.Direction = d.Direction
	}
	if d.Threshold != nil {
		desc.DefaultThreshold = *d.Threshold
	}
	desc.Enabled = !d.Disabled
	return desc
}

// RegisterCustom registers an instruction check from a definition.
func RegisterCustom(reg *guard.Registry, cls classifier.Classifier, def CustomDefinition) error {
	if strings.TrimSpace(def.Instruction) == "" {
		return fmt.Errorf("checks: custom check %q: instruction is required", def.ID)
	}
	if err := reg.Register(def.Descriptor(), NewCustomInstruction(cls, def.Instruction)); err != nil {
		return fmt.Errorf("checks: %w", err)
	}
	return nil
}

type customInstruction struct {
	cls         classifier.Classifier
	instruction string
	threshold   float64
}

// NewCustomInstruction returns the factory for an instruction check. An
// instruction in the options replaces defaultInstruction.
func NewCustomInstruction(cls classifier.Classifier, defaultInstruction string) guard.Factory {
	return func(p guard.Params) (guard.Evaluator, error) {
		var opts CustomOptions
		if err := decodeOptions(p.Options, &opts); err != nil {
			return nil, err
		}
		instr := strings.TrimSpace(opts.Instruction)
		if instr == "" {
			instr = strings.TrimSpace(defaultInstruction)
		}
		if instr == "" {
			return nil, errors.New("instruction option is required")
		}
		return &customInstruction{cls: cls, instruction: instr, threshold: p.Threshold}, nil
	}
}

// Evaluate triggers when the classifier reports non-compliance with
// confidence at or above the threshold.
func (c *customInstruction) Evaluate(ctx context.Context, text string, ec guard.EvalContext) (guard.Verdict, error) {
	v, err := c.cls.ClassifyInstruction(ctx, text, c.instruction, ec.Metadata)
	if err != nil {
		return guard.Verdict{}, err
	}
	return guard.Verdict{
		Triggered:  !v.Pass && guard.Exceeds(v.Confidence, c.threshold),
		Confidence: v.Confidence,
		Details:    CustomDetails{Pass: v.Pass, Instruction: c.instruction},
		Reasoning:  v.Reasoning,
	}, nil
}
