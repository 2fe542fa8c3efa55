// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package errkind classifies errors into a small set of kinds: Input, NotFound,
// Transient, Conflict, ProducerFailure, Timeout, and Internal. Leaf I/O
// errors are wrapped into one of these kinds at the boundary so that
// downstream code (and ultimately the request handler) can decide the
// user-visible response without re-inspecting raw error strings.
package errkind

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error classes callers classify errors into.
type Kind int

const (
	// Unknown is the zero value; treated as Internal by HTTPStatus.
	Unknown Kind = iota
	// Input covers malformed bundles, invalid fingerprints, unknown
	// tenants, and unauthorized requests.
	Input
	// NotFound covers missing pages, assets, and derivations.
	NotFound
	// Transient covers retryable I/O failures.
	Transient
	// Conflict covers a put_if_absent mismatch: corruption, never retried.
	Conflict
	// ProducerFailure covers a failed derivation transform; not cached.
	ProducerFailure
	// Timeout covers a bounded wait that was exceeded.
	Timeout
	// Internal covers invariant violations, e.g. two pages at one route.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Input:
		return "input"
	case NotFound:
		return "not_found"
	case Transient:
		return "transient"
	case Conflict:
		return "conflict"
	case ProducerFailure:
		return "producer_failure"
	case Timeout:
		return "timeout"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind for classification.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Of extracts the Kind of err, walking the unwrap chain. Returns Unknown
// if neither err nor anything in its chain is an *Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}

// HTTPStatus maps a Kind to the status code it implies:
// 4xx for caller mistakes, 5xx for server-side issues, 504 for timeouts.
func HTTPStatus(err error) int {
	switch Of(err) {
	case Input:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Timeout:
		return http.StatusGatewayTimeout
	case Transient:
		return http.StatusServiceUnavailable
	case ProducerFailure:
		return http.StatusBadGateway
	case Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
