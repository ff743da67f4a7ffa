// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package grid

import (
	"errors"
	"fmt"
)

// The error taxonomy. Components wrap a cause with one of these kinds;
// callers test with errors.Is against the sentinel.
var (
	// ErrProtocol is a malformed frame, unknown type or channel, or a
	// duplicate request ID. Fatal at connection scope.
	ErrProtocol = errors.New("protocol error")

	// ErrChannelClosed is observed on sends and pending requests when the
	// channel transitions out of open.
	ErrChannelClosed = errors.New("channel closed")

	// ErrConnectionClosed is the same at connection scope.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrTimeout is an exceeded deadline. The core never re-issues.
	ErrTimeout = errors.New("request timeout")

	// ErrAuthFailed is a rejected identity token during the open handshake.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrUnsupported is an operation not valid for this implementation.
	ErrUnsupported = errors.New("operation not supported")

	// ErrNotReady means the service is not yet accepting clients.
	ErrNotReady = errors.New("service not accepting clients")
)

type kindError struct {
	kind  error
	cause error
}

// WrapError attaches an error kind to a cause. errors.Is matches both the
// kind sentinel and the cause chain. A nil cause returns the bare kind.
func WrapError(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return &kindError{kind: kind, cause: cause}
}

func (e *kindError) Error() string {
	return fmt.Sprintf("%v: %v", e.kind, e.cause)
}

func (e *kindError) Unwrap() error {
	return e.cause
}

func (e *kindError) Is(target error) bool {
	return target == e.kind
}
