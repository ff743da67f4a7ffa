// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package messaging

import (
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gridlink/gridlink/lib/grid"
)

// A Status is the handle for one pending request. It is completed exactly
// once, by whichever of response arrival, timeout, cancellation, channel
// close or connection close comes first.
type Status interface {
	// Await blocks for the response. timeout == 0 uses the service default;
	// timeout < 0 waits forever.
	Await(timeout time.Duration) (Message, error)
	// Done is closed once the status has completed either way.
	Done() <-chan struct{}
	// Cancel fails the slot with the given cause. A no-op once completed.
	Cancel(cause error)
	// Result returns the outcome. Valid only after Done is closed.
	Result() (Message, error)
}

type status struct {
	requestID      int64
	clock          clockwork.Clock
	defaultTimeout time.Duration
	completed      atomic.Bool
	done           chan struct{}
	msg            Message
	err            error
	// onDone removes the slot from the channel's pending table; called by
	// the completion winner, never with the channel mutex held.
	onDone func(id int64)
}

func newStatus(requestID int64, clock clockwork.Clock, defaultTimeout time.Duration, onDone func(id int64)) *status {
	return &status{
		requestID:      requestID,
		clock:          clock,
		defaultTimeout: defaultTimeout,
		done:           make(chan struct{}),
		onDone:         onDone,
	}
}

// complete fulfills the slot at most once and reports whether this call won.
func (s *status) complete(msg Message, err error) bool {
	if !s.completed.CompareAndSwap(false, true) {
		return false
	}
	s.msg = msg
	s.err = err
	close(s.done)
	if s.onDone != nil {
		s.onDone(s.requestID)
	}
	return true
}

func (s *status) Done() <-chan struct{} {
	return s.done
}

func (s *status) Result() (Message, error) {
	return s.msg, s.err
}

func (s *status) Cancel(cause error) {
	if cause == nil {
		cause = grid.ErrChannelClosed
	}
	s.complete(nil, cause)
}

func (s *status) Await(timeout time.Duration) (Message, error) {
	if timeout == 0 {
		timeout = s.defaultTimeout
	}
	if timeout <= 0 {
		<-s.done
		return s.msg, s.err
	}

	timer := s.clock.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return s.msg, s.err
	case <-timer.Chan():
		// The response may still win the race; return whatever the slot
		// actually completed with.
		s.complete(nil, grid.ErrTimeout)
		<-s.done
		return s.msg, s.err
	}
}
