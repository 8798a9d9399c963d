package execution

import (
	"errors"
	"fmt"
)

// ExecutionError represents domain-specific errors for execution
type ExecutionError struct {
	Code    string
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (e ExecutionError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s %v", e.Code, e.Message, e.Details)
}

// Is matches on Code so detailed copies still satisfy errors.Is against the base value
func (e ExecutionError) Is(target error) bool {
	var t ExecutionError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Common execution errors
var (
	// ErrPhaseOutOfRange indicates a phase number outside 0..15
	ErrPhaseOutOfRange = ExecutionError{
		Code:    "PHASE_OUT_OF_RANGE",
		Message: "Phase number out of range",
	}

	// ErrInvalidStatus indicates an unknown phase status value
	ErrInvalidStatus = ExecutionError{
		Code:    "PHASE_INVALID_STATUS",
		Message: "Invalid phase status",
	}

	// ErrApprovalRequiresCompletion indicates an approval on a phase that did not complete
	ErrApprovalRequiresCompletion = ExecutionError{
		Code:    "PHASE_NOT_COMPLETED",
		Message: "Phase must be completed before it can be approved",
	}

	// ErrBackwardAdvance indicates an attempt to move current_phase backwards
	ErrBackwardAdvance = ExecutionError{
		Code:    "EXEC_BACKWARD_ADVANCE",
		Message: "Current phase can only move forward (use reset-phase)",
	}

	// ErrInvalidState indicates a snapshot that breaks the state invariants
	ErrInvalidState = ExecutionError{
		Code:    "EXEC_INVALID_STATE",
		Message: "Execution state violates invariants",
	}
)

// NewExecutionError creates a new execution error with details
func NewExecutionError(code, message string, details map[string]interface{}) ExecutionError {
	return ExecutionError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WithDetails adds details to an existing error
func (e ExecutionError) WithDetails(details map[string]interface{}) ExecutionError {
	e.Details = details
	return e
}

// IsPhaseOutOfRange checks if the error is an out of range phase error
func IsPhaseOutOfRange(err error) bool {
	return errors.Is(err, ErrPhaseOutOfRange)
}

// IsInvalidStatus checks if the error is an invalid status error
func IsInvalidStatus(err error) bool {
	return errors.Is(err, ErrInvalidStatus)
}
