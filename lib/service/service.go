// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package service implements the runtime every grid service sits on: one
// service goroutine that owns all state transitions and runs posted tasks
// and timers in order, plus an event dispatcher goroutine for listener
// callbacks. User goroutines never touch service state directly; they post
// tasks and wait.
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/thejerf/suture/v4"

	"github.com/gridlink/gridlink/lib/events"
	"github.com/gridlink/gridlink/lib/grid"
	"github.com/gridlink/gridlink/lib/svcutil"
	"github.com/gridlink/gridlink/lib/sync"
)

// Config holds the tunables of a service runtime.
type Config struct {
	RequestTimeoutMillis    int    `xml:"requestTimeoutMillis" default:"0"`
	TaskHungThresholdMillis int    `xml:"taskHungThresholdMillis" default:"0"`
	SerializerName          string `xml:"serializerName" default:"binary"`
	CloggedCount            int    `xml:"cloggedCount" default:"1024"`
	CloggedDelayMillis      int    `xml:"cloggedDelayMillis" default:"32"`
}

// RequestTimeout returns the default request timeout, zero meaning none.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMillis) * time.Millisecond
}

type State int

const (
	StateInitial State = iota
	StateStarting
	StateStarted
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrStartFailed is the kind returned by Start when the service could not
// come up; it wraps the recorded cause.
type ErrStartFailed struct {
	Cause error
}

func (e *ErrStartFailed) Error() string {
	if e.Cause == nil {
		return "service start failed"
	}
	return fmt.Sprintf("service start failed: %v", e.Cause)
}

func (e *ErrStartFailed) Unwrap() error { return e.Cause }

// dispatcherDrainTimeout is how long Shutdown waits for the dispatcher to
// deliver its remaining queue.
const dispatcherDrainTimeout = time.Second

type timerTask struct {
	at time.Time
	fn func()
}

// Hooks are the owner's lifecycle callbacks, all invoked on the service
// goroutine. OnStart returning an error fails the start. Either may be nil.
type Hooks struct {
	OnStart func() error
	OnStop  func()
}

// A Service owns one service goroutine and one dispatcher goroutine. States
// advance monotonically Initial → Starting → Started → Stopping → Stopped;
// every transition is announced on a broadcast channel so waiters can block
// without polling.
type Service struct {
	name  string
	cfg   Config
	clock clockwork.Clock
	hooks Hooks
	disp  *events.Dispatcher

	mut       sync.Mutex
	state     State
	accepting bool
	startErr  error
	changed   chan struct{} // closed and replaced on every transition
	queue     []func()
	timers    []timerTask

	kick       chan struct{}
	stopped    chan struct{}
	dispCancel context.CancelFunc
	dispDone   chan struct{}
}

func New(name string, cfg Config, clock clockwork.Clock, hooks Hooks) *Service {
	disp := events.NewDispatcher()
	disp.SetClogged(cfg.CloggedCount, time.Duration(cfg.CloggedDelayMillis)*time.Millisecond)
	return &Service{
		name:    name,
		cfg:     cfg,
		clock:   clock,
		hooks:   hooks,
		disp:    disp,
		mut:     sync.NewMutex(),
		changed: make(chan struct{}),
		kick:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

func (s *Service) Name() string                  { return s.name }
func (s *Service) Config() Config                { return s.cfg }
func (s *Service) Clock() clockwork.Clock        { return s.clock }
func (s *Service) Dispatcher() *events.Dispatcher { return s.disp }

func (s *Service) State() State {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.state
}

// transition must be called with the mutex held.
func (s *Service) transition(to State) {
	if to <= s.state {
		return
	}
	from := s.state
	s.state = to
	close(s.changed)
	s.changed = make(chan struct{})
	l.Debugln(s.name, "state", from, "->", to)
	s.disp.Dispatch(func() {
		events.Default.Log(events.ServiceStateChanged, map[string]interface{}{
			"service": s.name,
			"from":    from.String(),
			"to":      to.String(),
		})
	})
}

// Start launches the service and dispatcher goroutines and blocks until the
// service is started and accepting clients, or until the start has failed.
func (s *Service) Start() error {
	s.mut.Lock()
	if s.state != StateInitial {
		s.mut.Unlock()
		return &ErrStartFailed{Cause: fmt.Errorf("service is %v", s.state)}
	}
	s.transition(StateStarting)
	s.mut.Unlock()

	dispCtx, dispCancel := context.WithCancel(context.Background())
	s.dispCancel = dispCancel
	s.dispDone = make(chan struct{})
	go func() {
		s.disp.Serve(dispCtx)
		close(s.dispDone)
	}()

	go s.loop()

	for {
		s.mut.Lock()
		switch {
		case s.state == StateStarted && s.accepting:
			s.mut.Unlock()
			return nil
		case s.state >= StateStopping:
			err := s.startErr
			s.mut.Unlock()
			return &ErrStartFailed{Cause: err}
		}
		ch := s.changed
		s.mut.Unlock()
		<-ch
	}
}

// loop is the service goroutine: runs the start hook, then tasks and timers
// in order until Shutdown.
func (s *Service) loop() {
	defer close(s.stopped)

	if s.hooks.OnStart != nil {
		if err := s.hooks.OnStart(); err != nil {
			l.Warnln(s.name, "start failed:", err)
			s.mut.Lock()
			s.startErr = err
			s.transition(StateStopping)
			s.transition(StateStopped)
			s.mut.Unlock()
			return
		}
	}

	s.mut.Lock()
	s.transition(StateStarted)
	s.accepting = true
	close(s.changed)
	s.changed = make(chan struct{})
	s.mut.Unlock()

	for {
		task, timerC, stop := s.next()
		if stop {
			break
		}
		if task != nil {
			s.run(task)
			continue
		}
		select {
		case <-s.kick:
		case <-timerC:
		}
	}

	if s.hooks.OnStop != nil {
		s.run(s.hooks.OnStop)
	}

	s.mut.Lock()
	s.transition(StateStopped)
	s.mut.Unlock()
}

// next returns the task to run now, or a timer channel to wait on. Must only
// be called from the service goroutine.
func (s *Service) next() (task func(), timerC <-chan time.Time, stop bool) {
	s.mut.Lock()
	defer s.mut.Unlock()

	if s.state >= StateStopping && len(s.queue) == 0 {
		return nil, nil, true
	}
	if len(s.queue) > 0 {
		task = s.queue[0]
		s.queue = s.queue[1:]
		return task, nil, false
	}
	if len(s.timers) > 0 {
		d := s.timers[0].at.Sub(s.clock.Now())
		if d <= 0 {
			task = s.timers[0].fn
			s.timers = s.timers[1:]
			return task, nil, false
		}
		return nil, s.clock.After(d), false
	}
	return nil, nil, false
}

// run executes a task under the hung-task watchdog.
func (s *Service) run(task func()) {
	var watchdog clockwork.Timer
	if s.cfg.TaskHungThresholdMillis > 0 {
		threshold := time.Duration(s.cfg.TaskHungThresholdMillis) * time.Millisecond
		watchdog = s.clock.AfterFunc(threshold, func() {
			l.Warnf("%s: task has been running for more than %v", s.name, threshold)
		})
	}
	defer func() {
		if watchdog != nil {
			watchdog.Stop()
		}
		if r := recover(); r != nil {
			l.Warnf("%s: task panic: %v", s.name, r)
		}
	}()
	task()
}

// Post queues fn for execution on the service goroutine. Tasks posted after
// shutdown are dropped.
func (s *Service) Post(fn func()) {
	s.mut.Lock()
	if s.state >= StateStopped {
		s.mut.Unlock()
		return
	}
	s.queue = append(s.queue, fn)
	s.mut.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Call posts fn and blocks until it has run, or until ctx is done.
func (s *Service) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	s.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return grid.ErrNotReady
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedule runs fn on the service goroutine no earlier than d from now.
func (s *Service) Schedule(d time.Duration, fn func()) {
	at := s.clock.Now().Add(d)
	s.mut.Lock()
	if s.state >= StateStopped {
		s.mut.Unlock()
		return
	}
	i := sort.Search(len(s.timers), func(i int) bool { return s.timers[i].at.After(at) })
	s.timers = append(s.timers, timerTask{})
	copy(s.timers[i+1:], s.timers[i:])
	s.timers[i] = timerTask{at: at, fn: fn}
	s.mut.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// SetAccepting flips the acceptance gate. Done on the service goroutine by
// owners that need to hold clients off temporarily.
func (s *Service) SetAccepting(ok bool) {
	s.mut.Lock()
	if s.accepting != ok {
		s.accepting = ok
		close(s.changed)
		s.changed = make(chan struct{})
	}
	s.mut.Unlock()
}

// WaitAcceptingClients blocks until the service is started and accepting
// clients. Returns grid.ErrNotReady if the service stops first.
func (s *Service) WaitAcceptingClients(ctx context.Context) error {
	for {
		s.mut.Lock()
		switch {
		case s.state == StateStarted && s.accepting:
			s.mut.Unlock()
			return nil
		case s.state >= StateStopping:
			s.mut.Unlock()
			return grid.ErrNotReady
		}
		ch := s.changed
		s.mut.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown stops the service gracefully: queued tasks drain, the stop hook
// runs, and the dispatcher is stopped last with a bounded drain. Blocks
// until the service has stopped. Must not be called from the service
// goroutine itself.
func (s *Service) Shutdown() {
	s.mut.Lock()
	if s.state == StateInitial {
		s.transition(StateStopping)
		s.transition(StateStopped)
		s.mut.Unlock()
		close(s.stopped)
		return
	}
	if s.state < StateStopping {
		s.transition(StateStopping)
	}
	s.mut.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
	<-s.stopped

	if s.dispCancel != nil {
		s.dispCancel()
		select {
		case <-s.dispDone:
		case <-time.After(dispatcherDrainTimeout):
			l.Warnln(s.name, "event dispatcher did not drain in time")
		}
	}
}

// AsSuture adapts the service for supervision: the suture serve starts the
// service, waits for supervisor cancellation, and shuts down. Start failures
// do not restart.
func (s *Service) AsSuture() suture.Service {
	return &sutureAdapter{svc: s}
}

type sutureAdapter struct {
	svc *Service
}

func (a *sutureAdapter) Serve(ctx context.Context) error {
	if err := a.svc.Start(); err != nil {
		return svcutil.NoRestartErr(err)
	}
	<-ctx.Done()
	a.svc.Shutdown()
	return ctx.Err()
}

func (a *sutureAdapter) String() string {
	return "service." + a.svc.name
}
