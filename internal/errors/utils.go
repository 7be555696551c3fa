package errors

import (
	"errors"
)

// Wrap wraps an error with additional context, creating a QuillError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *QuillError {
	if err == nil {
		return nil
	}

	var qe *QuillError
	if errors.As(err, &qe) {
		return &QuillError{
			Type:    errType,
			Code:    code,
			Message: message,
			Cause:   qe,
			Path:    qe.Path,
			Context: qe.Context,
		}
	}

	return &QuillError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WrapBuild wraps an error as a build error for a path
func WrapBuild(err error, code, message, path string) *QuillError {
	qe := Wrap(err, ErrorTypeBuild, code, message)
	if qe != nil && path != "" {
		qe.Path = path
	}
	return qe
}

// WrapCache wraps an error as a cache error
func WrapCache(err error, code, message string) *QuillError {
	return Wrap(err, ErrorTypeCache, code, message)
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *QuillError {
	return Wrap(err, ErrorTypeIO, code, message)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
