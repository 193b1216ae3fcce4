// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-fstack.

package api

import (
	"fmt"

	"github.com/pingcap/errors"
)

// Common errors used across the library.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotSupported    = errors.New("operation not supported")

	// ErrEmptyCoreList is returned when a pool is configured without any core id.
	ErrEmptyCoreList = errors.New("proc id list can not be empty")
	// ErrInvalidThreadCount is returned when a pool asks for zero or fewer workers.
	ErrInvalidThreadCount = errors.New("thread count must be positive")
	// ErrInvalidIORatio is returned for an io ratio outside 1..100.
	ErrInvalidIORatio = errors.New("io ratio must be within 1..100")
	// ErrStackInit is returned when a worker fails to initialize its stack.
	ErrStackInit = errors.New("stack init failed")
	// ErrLoopClosed is returned when submitting to a stopped event loop.
	ErrLoopClosed = errors.New("event loop is closed")
	// ErrGroupStarted is returned when Start is called twice.
	ErrGroupStarted = errors.New("event loop group already started")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeNotSupported
	ErrCodeConfig
	ErrCodeStackInit
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Cause returns the sentinel this error was built from, if any.
func (e *Error) Cause() error { return e.cause }

// Unwrap supports errors.Is and errors.As from the standard library.
func (e *Error) Unwrap() error { return e.cause }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WrapError creates a structured error around cause, using its message.
func WrapError(code ErrorCode, cause error) *Error {
	e := NewError(code, cause.Error())
	e.cause = cause
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf returns the code carried by err, or ErrCodeInternal when no *Error
// is found in its chain. Both Unwrap and Cause links are followed.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	for e := err; e != nil; {
		if ae, ok := e.(*Error); ok {
			return ae.Code
		}
		switch x := e.(type) {
		case interface{ Unwrap() error }:
			e = x.Unwrap()
		case interface{ Cause() error }:
			e = x.Cause()
		default:
			e = nil
		}
	}
	return ErrCodeInternal
}
