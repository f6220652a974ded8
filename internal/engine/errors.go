// internal/engine/errors.go
package engine

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	ErrCodePoolExhausted     ErrorCode = "POOL_EXHAUSTED"
	ErrCodePoolClosed        ErrorCode = "POOL_CLOSED"
	ErrCodeBrowserCrash      ErrorCode = "BROWSER_CRASH"
	ErrCodeBrowserNotFound   ErrorCode = "BROWSER_NOT_FOUND"
	ErrCodeLaunch            ErrorCode = "LAUNCH_ERROR"
	ErrCodeNavigationTimeout ErrorCode = "NAVIGATION_TIMEOUT"
	ErrCodeNavigationError   ErrorCode = "NAVIGATION_ERROR"
	ErrCodeSelectorTimeout   ErrorCode = "SELECTOR_TIMEOUT"
	ErrCodeSelectorNotFound  ErrorCode = "SELECTOR_NOT_FOUND"
	ErrCodeParseError        ErrorCode = "PARSE_ERROR"
	ErrCodeSessionError      ErrorCode = "SESSION_ERROR"
)

// Sentinels for errors.Is. Matching is by code, so any EngineError carrying
// the same code matches regardless of message or cause.
var (
	ErrPoolExhausted     = &EngineError{Code: ErrCodePoolExhausted, Message: "no browser available"}
	ErrPoolClosed        = &EngineError{Code: ErrCodePoolClosed, Message: "browser pool is shut down"}
	ErrBrowserCrash      = &EngineError{Code: ErrCodeBrowserCrash, Message: "browser crashed"}
	ErrBrowserNotFound   = &EngineError{Code: ErrCodeBrowserNotFound, Message: "chrome browser not found"}
	ErrNavigationTimeout = &EngineError{Code: ErrCodeNavigationTimeout, Message: "navigation timed out"}
	ErrNavigationError   = &EngineError{Code: ErrCodeNavigationError, Message: "navigation failed"}
	ErrSelectorTimeout   = &EngineError{Code: ErrCodeSelectorTimeout, Message: "selector wait timed out"}
	ErrSelectorNotFound  = &EngineError{Code: ErrCodeSelectorNotFound, Message: "selector not found"}
	ErrParseError        = &EngineError{Code: ErrCodeParseError, Message: "failed to parse page"}
)

// EngineError wraps errors with additional context
type EngineError struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Retry      bool
	Details    map[string]interface{}
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *EngineError) Unwrap() error {
	return e.Underlying
}

// Is checks if the error matches the target
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewEngineError creates a new EngineError
func NewEngineError(code ErrorCode, message string, err error) *EngineError {
	return &EngineError{
		Code:       code,
		Message:    message,
		Underlying: err,
		Retry:      false,
		Details:    make(map[string]interface{}),
	}
}

// WithRetry marks the error as retryable
func (e *EngineError) WithRetry() *EngineError {
	e.Retry = true
	return e
}

// WithDetail adds a detail to the error
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the code of the first EngineError in err's chain, or ""
func CodeOf(err error) ErrorCode {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsRetryable reports whether a task failing with err is worth another
// attempt. Pool exhaustion is final for the task.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ee *EngineError
	if !errors.As(err, &ee) {
		return true
	}
	switch ee.Code {
	case ErrCodePoolExhausted, ErrCodePoolClosed:
		return false
	}
	return true
}

// IsBrowserFault reports whether err should count against the browser that
// served the request rather than against the page content.
func IsBrowserFault(err error) bool {
	switch CodeOf(err) {
	case ErrCodeNavigationTimeout, ErrCodeNavigationError, ErrCodeBrowserCrash, ErrCodeSessionError:
		return true
	}
	// a crash can surface wrapped in whatever step was running
	return errors.Is(err, ErrBrowserCrash)
}
