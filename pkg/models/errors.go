package models

import (
	"errors"
	"fmt"
)

// ErrorCode classifies execution-level failures
type ErrorCode string

const (
	ErrorCodeInvalidTargetStep      ErrorCode = "INVALID_TARGET_STEP"
	ErrorCodeInvalidTargetChain     ErrorCode = "INVALID_TARGET_CHAIN"
	ErrorCodeMaxStepsExceeded       ErrorCode = "MAX_STEPS_EXCEEDED"
	ErrorCodeMaxRecursionExceeded   ErrorCode = "MAX_RECURSION_EXCEEDED"
	ErrorCodeChainNotFound          ErrorCode = "CHAIN_NOT_FOUND"
	ErrorCodeEvalError              ErrorCode = "EVAL_ERROR"
	ErrorCodeInvalidChainDefinition ErrorCode = "INVALID_CHAIN_DEFINITION"
	ErrorCodeExecutionCancelled     ErrorCode = "EXECUTION_CANCELLED"
	ErrorCodeInternal               ErrorCode = "INTERNAL_ERROR"
)

// ExecutionError halts a chain run. Step-local failures are never ExecutionErrors.
type ExecutionError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewExecutionError creates an execution error with a formatted message
func NewExecutionError(code ErrorCode, format string, args ...any) *ExecutionError {
	return &ExecutionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorCodeOf extracts the error code from err, if it wraps an ExecutionError
func ErrorCodeOf(err error) (ErrorCode, bool) {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Code, true
	}
	return "", false
}

// IsBoundViolation reports whether the code is a global ceiling or a cancellation.
// These propagate through every enclosing run.
func (c ErrorCode) IsBoundViolation() bool {
	switch c {
	case ErrorCodeMaxStepsExceeded, ErrorCodeMaxRecursionExceeded, ErrorCodeExecutionCancelled:
		return true
	default:
		return false
	}
}
