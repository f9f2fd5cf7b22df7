/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package apperr holds the error kinds shared by the scheduling services.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a referenced order, work center or slot does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPreconditionFailed indicates workflow, department or asset gating rejected the request.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrConflict indicates a capacity or overlap violation.
	ErrConflict = errors.New("conflict")

	// ErrInvalidRange indicates a placement outside working hours or off the grid.
	ErrInvalidRange = errors.New("invalid range")

	// ErrInvalidTransition indicates an illegal execution state change.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Error is a user-legible failure of one of the kinds above.
type Error struct {
	Kind    error
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the kind so errors.Is matches the sentinel.
func (e *Error) Unwrap() error {
	return e.Kind
}

// With attaches a detail and returns the receiver.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newError(kind error, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds an ErrNotFound error for the given resource.
func NotFound(resource, id string) *Error {
	return newError(ErrNotFound, resource+"_not_found", "%s %q not found", resource, id).With("id", id)
}

// PreconditionFailed builds an ErrPreconditionFailed error.
func PreconditionFailed(code, format string, args ...any) *Error {
	return newError(ErrPreconditionFailed, code, format, args...)
}

// Conflict builds an ErrConflict error.
func Conflict(code, format string, args ...any) *Error {
	return newError(ErrConflict, code, format, args...)
}

// InvalidRange builds an ErrInvalidRange error.
func InvalidRange(code, format string, args ...any) *Error {
	return newError(ErrInvalidRange, code, format, args...)
}

// InvalidTransition names the attempted transition and the current status.
func InvalidTransition(action, current string) *Error {
	return newError(ErrInvalidTransition, "invalid_transition",
		"cannot %s a time slot in status %s", action, current).
		With("action", action).
		With("status", current)
}

// As returns the *Error inside err, if any.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
