// Package errors defines the structured error type shared by quill's
// build, cache, watch and reload components.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeBuild     ErrorType = "build"
	ErrorTypeRender    ErrorType = "render"
	ErrorTypeCache     ErrorType = "cache"
	ErrorTypeWatch     ErrorType = "watch"
	ErrorTypeTransport ErrorType = "transport"
	ErrorTypeIO        ErrorType = "io"
	ErrorTypeConfig    ErrorType = "config"
	ErrorTypeInternal  ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeBuildFailed     = "ERR_BUILD_FAILED"
	ErrCodeRenderFailed    = "ERR_RENDER_FAILED"
	ErrCodeTaskTimeout     = "ERR_TASK_TIMEOUT"
	ErrCodeTaskPanic       = "ERR_TASK_PANIC"
	ErrCodeTaskCancelled   = "ERR_TASK_CANCELLED"
	ErrCodeCacheCorrupt    = "ERR_CACHE_CORRUPT"
	ErrCodeCacheWrite      = "ERR_CACHE_WRITE"
	ErrCodeFileNotFound    = "ERR_FILE_NOT_FOUND"
	ErrCodeAlreadyWatching = "ERR_ALREADY_WATCHING"
	ErrCodeScanFailed      = "ERR_SCAN_FAILED"
	ErrCodeSendFailed      = "ERR_SEND_FAILED"
	ErrCodeServerFailed    = "ERR_SERVER_FAILED"
	ErrCodeConfigInvalid   = "ERR_CONFIG_INVALID"
	ErrCodeProjectExists   = "ERR_PROJECT_EXISTS"
	ErrCodeInternalError   = "ERR_INTERNAL"
)

// QuillError is a structured error type with context.
type QuillError struct {
	Type    ErrorType
	Code    string
	Message string
	Cause   error
	Path    string
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *QuillError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Path != "" {
		parts = append(parts, e.Path)
	}
	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *QuillError) Unwrap() error {
	return e.Cause
}

// Is matches another QuillError with the same type and code.
func (e *QuillError) Is(target error) bool {
	var t *QuillError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *QuillError) WithContext(key string, value interface{}) *QuillError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath records the file the error relates to.
func (e *QuillError) WithPath(path string) *QuillError {
	e.Path = path

	return e
}

// NewBuildError creates a build error.
func NewBuildError(code, message string, cause error) *QuillError {
	return &QuillError{
		Type:    ErrorTypeBuild,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewRenderError creates a render error for a single source file.
func NewRenderError(path, message string, cause error) *QuillError {
	return &QuillError{
		Type:    ErrorTypeRender,
		Code:    ErrCodeRenderFailed,
		Message: message,
		Cause:   cause,
		Path:    path,
	}
}

// NewCacheError creates a cache error.
func NewCacheError(code, message string, cause error) *QuillError {
	return &QuillError{
		Type:    ErrorTypeCache,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewWatchError creates a watcher error.
func NewWatchError(code, message string, cause error) *QuillError {
	return &QuillError{
		Type:    ErrorTypeWatch,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewTransportError creates a client transport error.
func NewTransportError(code, message string, cause error) *QuillError {
	return &QuillError{
		Type:    ErrorTypeTransport,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *QuillError {
	return &QuillError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *QuillError {
	return &QuillError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// HasErrorCode reports whether any QuillError in the chain carries code.
func HasErrorCode(err error, code string) bool {
	for err != nil {
		var qe *QuillError
		if !errors.As(err, &qe) {
			return false
		}
		if qe.Code == code {
			return true
		}
		err = qe.Cause
	}

	return false
}
