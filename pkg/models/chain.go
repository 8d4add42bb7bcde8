package models

import (
	"fmt"
	"time"
)

const (
	// InputRoot is the reserved context key holding the execution input
	InputRoot = "input"

	// EnvRoot is the reserved context key holding the caller-supplied environment
	EnvRoot = "env"
)

// ChainConfiguration is an ordered list of steps plus an optional output template.
// The engine treats it as read-only. Stored chains require an ID; an inline chain
// without one gets a generated ID for its execution.
type ChainConfiguration struct {
	ID             string         `json:"id" yaml:"id"`
	UserID         string         `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Name           string         `json:"name" yaml:"name"`
	Description    *string        `json:"description,omitempty" yaml:"description,omitempty"`
	Steps          []Step         `json:"steps" yaml:"steps" validate:"dive"`
	OutputTemplate map[string]any `json:"output_template,omitempty" yaml:"output_template,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt      time.Time      `json:"updated_at,omitempty" yaml:"-"`
}

// StepIndex maps each step ID to its position in the chain
func (c *ChainConfiguration) StepIndex() map[string]int {
	index := make(map[string]int, len(c.Steps))
	for i, step := range c.Steps {
		index[step.ID] = i
	}
	return index
}

// Validate checks the structural invariants of the chain
func (c *ChainConfiguration) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("chain id is required")
	}

	seen := make(map[string]struct{}, len(c.Steps))
	for _, step := range c.Steps {
		if step.ID == "" {
			return fmt.Errorf("chain %q: every step requires an id", c.ID)
		}
		if step.ID == InputRoot || step.ID == EnvRoot {
			return fmt.Errorf("chain %q: step id %q is reserved", c.ID, step.ID)
		}
		if _, ok := seen[step.ID]; ok {
			return fmt.Errorf("chain %q: duplicate step id %q", c.ID, step.ID)
		}
		seen[step.ID] = struct{}{}

		if err := step.Validate(); err != nil {
			return fmt.Errorf("chain %q: %w", c.ID, err)
		}
	}

	return nil
}
