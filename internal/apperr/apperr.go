// Package apperr is the error taxonomy shared by services and the HTTP boundary.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for the boundary. Kinds are comparable sentinels,
// so errors.Is(err, apperr.NotFound) works on any wrapped *Error.
type Kind struct {
	name   string
	status int
}

func (k *Kind) Error() string { return k.name }

// Status returns the HTTP status this kind maps to.
func (k *Kind) Status() int { return k.status }

var (
	Validation         = &Kind{"validation", http.StatusBadRequest}
	Auth               = &Kind{"auth", http.StatusUnauthorized}
	Forbidden          = &Kind{"forbidden", http.StatusForbidden}
	NotFound           = &Kind{"not_found", http.StatusNotFound}
	Conflict           = &Kind{"conflict", http.StatusConflict}
	RateLimited        = &Kind{"rate_limited", http.StatusTooManyRequests}
	Unavailable        = &Kind{"unavailable", http.StatusServiceUnavailable}
	VerificationFailed = &Kind{"verification_failed", http.StatusBadRequest}
	Configuration      = &Kind{"configuration", http.StatusInternalServerError}
	Internal           = &Kind{"internal", http.StatusInternalServerError}
)

// Error carries a kind, a client-safe message and an optional internal cause.
type Error struct {
	Kind    *Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// New builds an error of kind k with a client-safe message.
func New(k *Kind, msg string) *Error {
	return &Error{Kind: k, Message: msg}
}

// Wrap attaches an internal cause. The cause is never sent to clients.
func Wrap(k *Kind, msg string, err error) *Error {
	return &Error{Kind: k, Message: msg, Err: err}
}

// KindOf returns the kind of err, or Internal when err is unclassified.
func KindOf(err error) *Kind {
	var e *Error
	if errors.As(err, &e) && e.Kind != nil {
		return e.Kind
	}
	return Internal
}

// Message returns the client-safe message for err. Unclassified errors and
// internal/configuration kinds without a message get a generic text.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "Internal server error"
}
