// Package errors provides standardized error handling for the message pipeline.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Pipeline taxonomy
const (
	ErrCodeRateLimited          ErrorCode = "RATE_LIMITED"
	ErrCodeBlacklisted          ErrorCode = "BLACKLISTED"
	ErrCodeKnowledgeUnavailable ErrorCode = "KNOWLEDGE_UNAVAILABLE"
	ErrCodeModelUnavailable     ErrorCode = "MODEL_UNAVAILABLE"
	ErrCodeFormatError          ErrorCode = "FORMAT_ERROR"
	ErrCodeUpstreamTimeout      ErrorCode = "UPSTREAM_TIMEOUT"
)

// Infrastructure codes
const (
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeStateStoreFailed         ErrorCode = "STATE_STORE_FAILED"
	ErrCodeAnalyticsWriteFailed     ErrorCode = "ANALYTICS_WRITE_FAILED"
	ErrCodeInvalidInput             ErrorCode = "INVALID_INPUT"
	ErrCodeAlreadyInTakeover        ErrorCode = "ALREADY_IN_TAKEOVER"
	ErrCodeNotInTakeover            ErrorCode = "NOT_IN_TAKEOVER"
)

// Sentinel errors for takeover control flow at the admin boundary.
var (
	ErrAlreadyInTakeover = errors.New("ALREADY_IN_TAKEOVER")
	ErrNotInTakeover     = errors.New("NOT_IN_TAKEOVER")
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewKnowledgeUnavailableError is the degraded, non-fatal retrieval failure.
func NewKnowledgeUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeKnowledgeUnavailable,
		Message:   "Knowledge search unavailable, continuing without context",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewModelUnavailableError marks fallback exhaustion on the model invoker.
func NewModelUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeModelUnavailable,
		Message:   "All language model providers failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewFormatError marks malformed generation output at the formatting boundary.
func NewFormatError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeFormatError,
		Message:   "Generation output failed structured formatting",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUpstreamTimeoutError marks a deadline expiry on an external call.
func NewUpstreamTimeoutError(service string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUpstreamTimeout,
		Message:   fmt.Sprintf("Upstream service '%s' timed out", service),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewStateStoreFailedError marks a Redis state operation failure.
func NewStateStoreFailedError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStateStoreFailed,
		Message:   "State store operation failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidInputError marks a schema-invalid inbound payload.
func NewInvalidInputError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidInput,
		Message:   "Inbound message failed validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Classification helpers
// ==========================

// GetErrorCategory groups codes for logging and metrics labels.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeRateLimited, ErrCodeBlacklisted:
		return "abuse_control"
	case ErrCodeKnowledgeUnavailable, ErrCodeUpstreamTimeout:
		return "degraded_upstream"
	case ErrCodeModelUnavailable:
		return "model"
	case ErrCodeFormatError, ErrCodeInvalidInput:
		return "validation"
	case ErrCodeDatabaseConnectionFailed, ErrCodeStateStoreFailed, ErrCodeAnalyticsWriteFailed:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// IsDegradable reports whether the pipeline should absorb the failure and
// continue rather than fail the message.
func IsDegradable(code ErrorCode) bool {
	switch code {
	case ErrCodeKnowledgeUnavailable, ErrCodeFormatError, ErrCodeAnalyticsWriteFailed:
		return true
	default:
		return false
	}
}
