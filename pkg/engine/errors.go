package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for reporting and retry decisions.
type ErrorClass string

const (
	// ErrorClassTransport indicates the engine could not be reached.
	// Examples: connection refused, DNS failure, request timeout.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassRejected indicates the engine answered with a 4xx/5xx status.
	// Examples: task already claimed by another owner, invalid transition.
	ErrorClassRejected ErrorClass = "rejected"

	// ErrorClassNotFound indicates the discovery budget was exhausted without a match.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassInput indicates malformed tabular input or configuration.
	// Input errors abort the whole request.
	ErrorClassInput ErrorClass = "input"

	// ErrorClassCancelled indicates the run context was cancelled or timed out.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// StatusCode is the HTTP status returned by the engine, if any.
	StatusCode int `json:"status_code,omitempty"`

	// Operation is the engine operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status=%d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// MarshalJSON adds the underlying cause to the serialized error so reports
// keep the engine's own message.
func (e *EngineError) MarshalJSON() ([]byte, error) {
	type alias EngineError
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(struct {
		*alias
		Cause string `json:"cause,omitempty"`
	}{alias: (*alias)(e), Cause: cause})
}

// NewTransportError creates a new transport error.
func NewTransportError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransport,
		Message: message,
		Code:    ErrCodeUnreachable,
		Err:     err,
	}
}

// NewRejectedError creates a new rejected error carrying the engine's status code.
func NewRejectedError(message string, statusCode int, err error) *EngineError {
	return &EngineError{
		Class:      ErrorClassRejected,
		Message:    message,
		Code:       ErrCodeHTTPStatus,
		StatusCode: statusCode,
		Err:        err,
	}
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string) *EngineError {
	return &EngineError{
		Class:   ErrorClassNotFound,
		Message: message,
		Code:    ErrCodeTaskNotFound,
	}
}

// NewInputError creates a new input error.
func NewInputError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInput,
		Message: message,
		Code:    ErrCodeValidation,
		Err:     err,
	}
}

// NewCancelledError creates a new cancellation error.
func NewCancelledError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassCancelled,
		Message: message,
		Code:    ErrCodeCancelled,
		Err:     err,
	}
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Classify converts an arbitrary error into an EngineError.
// Errors already classified are returned as-is; context errors become
// cancellation errors and everything else is treated as a transport failure.
func Classify(err error) *EngineError {
	if err == nil {
		return nil
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewCancelledError("run cancelled", err)
	}
	return NewTransportError("engine call failed", err)
}

func classOf(err error) (ErrorClass, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsTransport returns true if the error is classified as a transport failure.
func IsTransport(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassTransport
}

// IsRejected returns true if the engine rejected the call.
func IsRejected(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassRejected
}

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassNotFound
}

// IsInput returns true if the error is an input error.
func IsInput(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassInput
}

// IsCancelled returns true if the error is classified as a cancellation.
func IsCancelled(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassCancelled
}

// ErrAlreadyAdvanced is returned when the same task id is handed to the
// lifecycle twice within one run. It indicates a programming error in the
// caller and must never be retried.
var ErrAlreadyAdvanced = errors.New("task already advanced in this run")

// TransitionError reports which lifecycle transition failed.
type TransitionError struct {
	TaskID     int64
	Transition TaskState
	Err        error
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %d: %s transition failed: %v", e.TaskID, e.Transition, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransitionError) Unwrap() error {
	return e.Err
}

// Common error codes.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeUnreachable     = "ENGINE_UNREACHABLE"
	ErrCodeHTTPStatus      = "ENGINE_HTTP_STATUS"
	ErrCodeDecode          = "ENGINE_BAD_RESPONSE"
	ErrCodeTaskNotFound    = "TASK_NOT_FOUND"
	ErrCodeAmbiguousTask   = "TASK_AMBIGUOUS"
	ErrCodeAlreadyAdvanced = "TASK_ALREADY_ADVANCED"
	ErrCodeCancelled       = "CANCELLED"
	ErrCodeMissingSheet    = "MISSING_SHEET"
	ErrCodeMissingRecord   = "MISSING_RECORD"
	ErrCodeBadWorkbook     = "BAD_WORKBOOK"
	ErrCodePolicyDenied    = "POLICY_DENIED"
)
