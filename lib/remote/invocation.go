// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package remote

import (
	"context"
	"time"

	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/messaging"
	"github.com/gridlink/gridlink/lib/values"
)

// InvocationService is the client facade for the remote invocation service.
// Tasks must be registered portables implementing grid.Invocable; the
// result comes back in the channel's serializer.
type InvocationService struct {
	ch *messaging.Channel
}

func NewInvocationService(ctx context.Context, conn *messaging.Connection) (*InvocationService, error) {
	ch, err := conn.OpenChannel(ctx, InvocationServiceProtocolName, InvocationServiceReceiverName, nil)
	if err != nil {
		return nil, err
	}
	return &InvocationService{ch: ch}, nil
}

// Query executes the task on the grid and waits for its result with the
// channel's default timeout.
func (s *InvocationService) Query(inv grid.Invocable) (values.Value, error) {
	return s.QueryTimeout(inv, 0)
}

// QueryTimeout is Query with an explicit await timeout; zero uses the
// channel default, negative waits until the slot completes.
func (s *InvocationService) QueryTimeout(inv grid.Invocable, timeout time.Duration) (values.Value, error) {
	resp, err := call(s.ch, &InvocationRequest{Task: inv}, timeout)
	if err != nil {
		return values.None(), err
	}
	if len(resp.Value) == 0 {
		return values.None(), nil
	}
	return s.ch.Serializer().Unmarshal(resp.Value)
}

// Close releases the invocation channel.
func (s *InvocationService) Close() error {
	return s.ch.Close()
}
