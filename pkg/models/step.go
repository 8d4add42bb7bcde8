package models

import (
	"fmt"
	"net/http"
)

// StepType tags the variant carried by a Step
type StepType string

const (
	StepTypeModuleCall StepType = "module_call"
	StepTypeChainCall  StepType = "chain_call"
)

// RoutingAction is the control-flow effect of a matched routing rule
type RoutingAction string

const (
	RoutingActionSkipToStep  RoutingAction = "skip_to_step"
	RoutingActionJumpToChain RoutingAction = "jump_to_chain"
	RoutingActionStopChain   RoutingAction = "stop_chain"
)

// Step is a single unit of work in a chain.
// Exactly one of ModuleCall or ChainCall is set, matching Type.
type Step struct {
	ID   string   `json:"id" yaml:"id" validate:"required"`
	Name string   `json:"name,omitempty" yaml:"name,omitempty"`
	Type StepType `json:"type" yaml:"type" validate:"required,oneof=module_call chain_call"`

	ModuleCall *ModuleCall `json:"module_call,omitempty" yaml:"module_call,omitempty"`
	ChainCall  *ChainCall  `json:"chain_call,omitempty" yaml:"chain_call,omitempty"`

	// RunIf guards the step. When it evaluates false the step is recorded as skipped.
	RunIf *Condition `json:"run_if,omitempty" yaml:"run_if,omitempty"`

	// Routing rules, evaluated in order after the step runs. First match wins.
	Routing []RoutingRule `json:"routing,omitempty" yaml:"routing,omitempty" validate:"dive"`
}

// ModuleCall invokes a module endpoint over HTTP
type ModuleCall struct {
	Module   string            `json:"module" yaml:"module" validate:"required"`
	Endpoint string            `json:"endpoint" yaml:"endpoint"`
	Method   string            `json:"method,omitempty" yaml:"method,omitempty"`   // Defaults to GET
	Params   map[string]any    `json:"params,omitempty" yaml:"params,omitempty"`   // Query parameters, may contain {{ path }} references
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"` // May contain {{ path }} references
	Body     any               `json:"body,omitempty" yaml:"body,omitempty"`       // May contain {{ path }} references

	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// ChainCall runs another chain as a nested execution
type ChainCall struct {
	ChainID string `json:"chain_id" yaml:"chain_id" validate:"required"`

	// InputMapping projects the current context into the sub-chain input.
	// When nil the current input is forwarded unchanged.
	InputMapping map[string]any `json:"input_mapping,omitempty" yaml:"input_mapping,omitempty"`
}

// RoutingRule pairs a condition with a control-flow action
type RoutingRule struct {
	Condition Condition     `json:"condition" yaml:"condition"`
	Action    RoutingAction `json:"action" yaml:"action" validate:"required,oneof=skip_to_step jump_to_chain stop_chain"`
	Target    string        `json:"target,omitempty" yaml:"target,omitempty"`

	// InputMapping applies to jump_to_chain. When nil the current input is forwarded.
	InputMapping map[string]any `json:"input_mapping,omitempty" yaml:"input_mapping,omitempty"`
}

// DisplayName returns the step name, falling back to its ID
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Validate checks that the variant payload agrees with the step type
func (s Step) Validate() error {
	switch s.Type {
	case StepTypeModuleCall:
		if s.ModuleCall == nil || s.ChainCall != nil {
			return fmt.Errorf("step %q: module_call steps require exactly a module_call payload", s.ID)
		}
		if s.ModuleCall.Module == "" {
			return fmt.Errorf("step %q: module is required", s.ID)
		}
	case StepTypeChainCall:
		if s.ChainCall == nil || s.ModuleCall != nil {
			return fmt.Errorf("step %q: chain_call steps require exactly a chain_call payload", s.ID)
		}
		if s.ChainCall.ChainID == "" {
			return fmt.Errorf("step %q: chain_id is required", s.ID)
		}
	default:
		return fmt.Errorf("step %q: unsupported step type %q", s.ID, s.Type)
	}

	for i, rule := range s.Routing {
		switch rule.Action {
		case RoutingActionSkipToStep, RoutingActionJumpToChain, RoutingActionStopChain:
		default:
			return fmt.Errorf("step %q: routing rule %d has unsupported action %q", s.ID, i, rule.Action)
		}
	}

	return nil
}

// MethodOrDefault returns the HTTP method, defaulting to GET
func (m ModuleCall) MethodOrDefault() string {
	if m.Method == "" {
		return http.MethodGet
	}
	return m.Method
}
