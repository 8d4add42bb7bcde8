package models

import (
	"time"
)

// ExecutionStatus is the terminal state of a chain run
type ExecutionStatus string

const (
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusStopped   ExecutionStatus = "stopped"
	ExecutionStatusJumped    ExecutionStatus = "jumped"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// OutboundRequest is the request actually sent for a step
type OutboundRequest struct {
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url,omitempty"`
	Params  map[string]any    `json:"params,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
	ChainID string            `json:"chain_id,omitempty"`
}

// RoutingDiagnostics records how a step's routing rules were resolved
type RoutingDiagnostics struct {
	Evaluated   bool          `json:"evaluated"`
	MatchedRule *int          `json:"matched_rule,omitempty"`
	Action      RoutingAction `json:"action,omitempty"`
	Target      string        `json:"target,omitempty"`
}

// StepResult is the immutable record of one step invocation
type StepResult struct {
	StepID     string           `json:"step_id"`
	StepName   string           `json:"step_name"`
	StepType   StepType         `json:"step_type"`
	Module     string           `json:"module,omitempty"`
	Endpoint   string           `json:"endpoint,omitempty"`
	Request    *OutboundRequest `json:"request,omitempty"`
	Response   any              `json:"response,omitempty"`
	StatusCode int              `json:"status_code,omitempty"`
	Success    bool             `json:"success"`
	Error      string           `json:"error,omitempty"`
	DurationMs int64            `json:"duration_ms"`
	Skipped    bool             `json:"skipped"`
	Timestamp  time.Time        `json:"timestamp"`

	Routing RoutingDiagnostics `json:"routing"`

	// Nested holds the trace of the sub-chain for chain_call steps
	Nested *ExecutionResult `json:"nested_execution,omitempty"`
}

// ExecutionResult is the outcome of one chain run
type ExecutionResult struct {
	ExecutionID       string           `json:"execution_id"`
	ParentExecutionID string           `json:"parent_execution_id,omitempty"`
	ChainID           string           `json:"chain_id"`
	ChainName         string           `json:"chain_name,omitempty"`
	Depth             int              `json:"depth"`
	Input             map[string]any   `json:"input,omitempty"`
	Steps             []StepResult     `json:"steps"`
	Output            any              `json:"output,omitempty"`
	Success           bool             `json:"success"`
	Status            ExecutionStatus  `json:"status"`
	Error             *ExecutionError  `json:"error,omitempty"`
	JumpedTo          *ExecutionResult `json:"jumped_to,omitempty"`
	StartedAt         time.Time        `json:"started_at"`
	CompletedAt       time.Time        `json:"completed_at"`
	DurationMs        int64            `json:"duration_ms"`
}

// StepCount returns the number of step results in this run and every nested run
func (r *ExecutionResult) StepCount() int {
	if r == nil {
		return 0
	}
	count := 0
	for _, step := range r.Steps {
		count++
		count += step.Nested.StepCount()
	}
	return count + r.JumpedTo.StepCount()
}
