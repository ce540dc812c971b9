package router

import "fmt"

// Code is a stable, machine-readable turn error code.
type Code string

const (
	CodeCommandNotFound    Code = "command_not_found"
	CodeCommandFailed      Code = "command_failed"
	CodeBackendStreamError Code = "backend_stream_error"
	// CodeBackendStall is soft: it is carried on a Completed event.
	CodeBackendStall Code = "backend_stall"
	// CodeToolExecutionError is recoverable: it is carried on ToolActivity
	// and the failure is fed back to the model.
	CodeToolExecutionError Code = "tool_execution_error"
	CodeToolDepthExceeded  Code = "tool_depth_exceeded"
	CodeBoundaryViolation  Code = "boundary_violation"
	CodeCancelled          Code = "cancelled"
	CodeTurnTimeout        Code = "turn_timeout"
)

// TurnError is the error reported on an Errored event.
type TurnError struct {
	Code          Code   `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Err           error  `json:"-"`
}

func (e *TurnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

func newTurnError(code Code, correlationID, message string, err error) *TurnError {
	return &TurnError{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		Err:           err,
	}
}
