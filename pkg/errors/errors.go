// Package errors provides a structured error system for PulseCache with error
// codes, categories, and context.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for pipeline operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeMissingConfig    ErrorCode = "MISSING_CONFIG"
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Metrics source errors
	ErrCodeSourceUnavailable ErrorCode = "SOURCE_UNAVAILABLE"
	ErrCodeSourceQuery       ErrorCode = "SOURCE_QUERY"

	// Cache transport errors
	ErrCodeCacheTransport ErrorCode = "CACHE_TRANSPORT"
	ErrCodeCacheMiss      ErrorCode = "CACHE_MISS"

	// Payload errors
	ErrCodeSerialization ErrorCode = "SERIALIZATION"

	// State errors
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"
	ErrCodeEmptyRoster  ErrorCode = "EMPTY_ROSTER"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategorySource        ErrorCategory = "source"
	CategoryCache         ErrorCategory = "cache"
	CategoryPayload       ErrorCategory = "payload"
	CategoryState         ErrorCategory = "state"
)

// PipelineError represents a structured error with context and metadata.
type PipelineError struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`
	Component string            `json:"component,omitempty"`
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is matches errors by code.
func (e *PipelineError) Is(target error) bool {
	if pe, ok := target.(*PipelineError); ok {
		return e.Code == pe.Code
	}
	return false
}

// New creates a new pipeline error.
func New(code ErrorCode, message string) *PipelineError {
	return &PipelineError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Newf creates a new pipeline error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *PipelineError {
	return New(code, fmt.Sprintf(format, args...))
}

// WithContext adds contextual information to an error.
func (e *PipelineError) WithContext(key, value string) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *PipelineError) WithComponent(component string) *PipelineError {
	e.Component = component
	return e
}

// WithCause sets the underlying cause.
func (e *PipelineError) WithCause(cause error) *PipelineError {
	e.Cause = cause
	return e
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasSuffix(codeStr, "_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "SOURCE_"):
		return CategorySource
	case strings.HasPrefix(codeStr, "CACHE_"):
		return CategoryCache
	case codeStr == string(ErrCodeSerialization):
		return CategoryPayload
	default:
		return CategoryState
	}
}

// HTTPStatus returns the HTTP status the API layer should report for a code.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeMissingConfig, ErrCodeInvalidConfig, ErrCodeConfigValidation:
		return 400
	case ErrCodeCacheMiss:
		return 404
	case ErrCodeSourceUnavailable, ErrCodeCacheTransport:
		return 502
	case ErrCodeEmptyRoster, ErrCodeInvalidState:
		return 503
	default:
		return 500
	}
}
