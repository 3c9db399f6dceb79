package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Error taxonomy for the PDF intake worker
 *
 * Every failure that reaches a ProcessingRecord or a dead-letter entry is a
 * *ProcessingError carrying one of the codes below. The intake handler picks
 * the acknowledgment decision from the code, never from the message text.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Input errors
	ErrorResourceMissing    ErrorCode = "RESOURCE_MISSING"
	ErrorDocumentUnreadable ErrorCode = "DOCUMENT_UNREADABLE"
	ErrorInvalidMessage     ErrorCode = "INVALID_MESSAGE"
	ErrorInvalidInput       ErrorCode = "INVALID_INPUT"

	// Processing errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorServiceFailed     ErrorCode = "SERVICE_ERROR"

	// Output errors
	ErrorSinkFailed ErrorCode = "SINK_FAILED"

	// Startup errors
	ErrorConfigInvalid ErrorCode = "CONFIG_INVALID"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	MessageID string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is matches another *ProcessingError by code so callers can compare
// against the package sentinels with errors.Is.
func (e *ProcessingError) Is(target error) bool {
	var other *ProcessingError
	if stderrors.As(target, &other) {
		return other.Code == e.Code && other.Message == ""
	}
	return false
}

// Sentinels for errors.Is checks. Only the code is compared.
var (
	ErrResourceMissing    = &ProcessingError{Code: ErrorResourceMissing}
	ErrDocumentUnreadable = &ProcessingError{Code: ErrorDocumentUnreadable}
	ErrInvalidMessage     = &ProcessingError{Code: ErrorInvalidMessage}
	ErrInvalidInput       = &ProcessingError{Code: ErrorInvalidInput}
	ErrServiceFailed      = &ProcessingError{Code: ErrorServiceFailed}
	ErrProcessingTimeout  = &ProcessingError{Code: ErrorProcessingTimeout}
	ErrSinkFailed         = &ProcessingError{Code: ErrorSinkFailed}
)

// CodeOf returns the code of the first *ProcessingError in err's chain,
// or an empty code when there is none.
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Factory functions for common errors

func NewResourceMissingError(messageID string, ref string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorResourceMissing,
		Message:   fmt.Sprintf("Referenced file not found: %s", ref),
		MessageID: messageID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"file_ref": ref,
		},
		Cause: cause,
	}
}

func NewDocumentUnreadableError(messageID string, reason string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDocumentUnreadable,
		Message:   fmt.Sprintf("Document could not be read: %s", reason),
		MessageID: messageID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"reason": reason,
		},
		Cause: cause,
	}
}

func NewInvalidMessageError(messageID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidMessage,
		Message:   "Message body is not a valid intake message",
		MessageID: messageID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewInvalidInputError(message string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidInput,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func NewProcessingTimeoutError(messageID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		MessageID: messageID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewServiceError(service string, retryable bool, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorServiceFailed,
		Message:   fmt.Sprintf("External service %s failed", service),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"service":   service,
			"retryable": retryable,
		},
		Cause: cause,
	}
}

func NewSinkFailedError(messageID string, target string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorSinkFailed,
		Message:   fmt.Sprintf("Failed to emit result to %s", target),
		MessageID: messageID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"target": target,
		},
		Cause: cause,
	}
}

func NewConfigError(key string, message string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorConfigInvalid,
		Message:   fmt.Sprintf("%s: %s", key, message),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"key": key,
		},
	}
}

// ToMap converts error to map for record and dead-letter storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.MessageID != "" {
		result["message_id"] = e.MessageID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
