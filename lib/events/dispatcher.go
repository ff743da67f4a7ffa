// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package events

import (
	"context"
	"time"

	"github.com/gridlink/gridlink/lib/sync"
)

const (
	// DefaultCloggedCount is the queue depth beyond which producers are
	// slowed down. The queue itself stays unbounded; a slow listener must
	// not make the engine drop committed events.
	DefaultCloggedCount = 1024
	// DefaultCloggedDelay is how long a producer sleeps when the queue is
	// clogged.
	DefaultCloggedDelay = 32 * time.Millisecond
)

type dispatchTask struct {
	fn   func()
	done chan struct{} // flush marker when fn is nil
}

// A Dispatcher runs queued tasks one at a time, in queue order, on its Serve
// goroutine. Cache listeners are invoked through it so that every listener
// observes mutations in commit order. A panicking task is logged and skipped;
// it never takes the dispatch loop down.
type Dispatcher struct {
	mut          sync.Mutex
	queue        []dispatchTask
	kick         chan struct{}
	closed       chan struct{}
	warned       bool
	cloggedCount int
	cloggedDelay time.Duration
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		mut:          sync.NewMutex(),
		kick:         make(chan struct{}, 1),
		closed:       make(chan struct{}),
		cloggedCount: DefaultCloggedCount,
		cloggedDelay: DefaultCloggedDelay,
	}
}

// SetClogged overrides the clogging threshold and producer delay. Must be
// called before Serve.
func (d *Dispatcher) SetClogged(count int, delay time.Duration) {
	if count > 0 {
		d.cloggedCount = count
	}
	if delay > 0 {
		d.cloggedDelay = delay
	}
}

// Dispatch queues fn for execution on the dispatch goroutine. When the queue
// is clogged the caller is delayed, once per call, to let the dispatcher
// catch up. After the dispatcher has stopped, tasks are dropped.
func (d *Dispatcher) Dispatch(fn func()) {
	select {
	case <-d.closed:
		return
	default:
	}

	d.mut.Lock()
	depth := len(d.queue)
	d.queue = append(d.queue, dispatchTask{fn: fn})
	if depth >= d.cloggedCount && !d.warned {
		d.warned = true
		dl.Warnln("Event dispatch queue is clogged; a listener is too slow")
	} else if depth < d.cloggedCount/2 {
		d.warned = false
	}
	clogged := depth >= d.cloggedCount
	d.mut.Unlock()

	select {
	case d.kick <- struct{}{}:
	default:
	}

	if clogged {
		time.Sleep(d.cloggedDelay)
	}
}

// Flush blocks until every task queued before the call has run, or until the
// dispatcher stops. Reads that trigger lazy expiry use this to make sure the
// expiry event has been delivered before they return.
func (d *Dispatcher) Flush() {
	select {
	case <-d.closed:
		return
	default:
	}

	done := make(chan struct{})
	d.mut.Lock()
	d.queue = append(d.queue, dispatchTask{done: done})
	d.mut.Unlock()

	select {
	case d.kick <- struct{}{}:
	default:
	}

	select {
	case <-done:
	case <-d.closed:
	}
}

// Serve runs the dispatch loop until ctx is cancelled, then drains the
// remaining queue and returns. Implements suture.Service.
func (d *Dispatcher) Serve(ctx context.Context) error {
	defer close(d.closed)
	for {
		d.runQueued()
		select {
		case <-d.kick:
		case <-ctx.Done():
			d.runQueued()
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) runQueued() {
	for {
		d.mut.Lock()
		if len(d.queue) == 0 {
			d.mut.Unlock()
			return
		}
		task := d.queue[0]
		d.queue = d.queue[1:]
		d.mut.Unlock()

		if task.fn != nil {
			d.run(task.fn)
		}
		if task.done != nil {
			close(task.done)
		}
	}
}

func (d *Dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			dl.Warnf("Listener panic: %v", r)
			Default.Log(ListenerPanic, map[string]interface{}{
				"panic": r,
			})
		}
	}()
	fn()
}

// String is the service name shown by the supervisor.
func (d *Dispatcher) String() string {
	return "events.Dispatcher"
}
