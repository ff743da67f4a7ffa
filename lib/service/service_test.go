// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gridlink/gridlink/lib/grid"
)

func newTestService(t *testing.T, hooks Hooks) *Service {
	t.Helper()
	s := New("test", Config{}, clockwork.NewRealClock(), hooks)
	return s
}

func TestStartShutdown(t *testing.T) {
	s := newTestService(t, Hooks{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateStarted {
		t.Errorf("state %v after start", s.State())
	}
	if err := s.WaitAcceptingClients(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Shutdown()
	if s.State() != StateStopped {
		t.Errorf("state %v after shutdown", s.State())
	}
}

func TestStartFailure(t *testing.T) {
	cause := errors.New("no transport")
	s := newTestService(t, Hooks{OnStart: func() error { return cause }})
	err := s.Start()
	if err == nil {
		t.Fatal("expected start failure")
	}
	var sf *ErrStartFailed
	if !errors.As(err, &sf) {
		t.Fatalf("expected ErrStartFailed, got %T", err)
	}
	if !errors.Is(err, cause) {
		t.Error("start failure should wrap the cause")
	}
	if s.State() != StateStopped {
		t.Errorf("state %v after failed start", s.State())
	}
}

func TestDoubleStart(t *testing.T) {
	s := newTestService(t, Hooks{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()
	if err := s.Start(); err == nil {
		t.Error("second start should fail")
	}
}

func TestTaskOrder(t *testing.T) {
	s := newTestService(t, Hooks{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	var got []int
	for i := 0; i < 50; i++ {
		i := i
		s.Post(func() { got = append(got, i) })
	}
	if err := s.Call(context.Background(), func() {}); err != nil {
		t.Fatal(err)
	}
	s.Shutdown()

	if len(got) != 50 {
		t.Fatalf("ran %d of 50 tasks", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran out of order (got %d)", i, v)
		}
	}
}

func TestScheduleOrder(t *testing.T) {
	s := newTestService(t, Hooks{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	fired := make(chan int, 2)
	s.Schedule(100*time.Millisecond, func() { fired <- 2 })
	s.Schedule(10*time.Millisecond, func() { fired <- 1 })

	if v := <-fired; v != 1 {
		t.Fatalf("timer %d fired first", v)
	}
	if v := <-fired; v != 2 {
		t.Fatalf("timer %d fired second", v)
	}
}

func TestWaitAcceptingClients(t *testing.T) {
	s := newTestService(t, Hooks{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	s.SetAccepting(false)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.WaitAcceptingClients(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.WaitAcceptingClients(context.Background()) }()
	s.SetAccepting(true)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	s.Shutdown()
	if err := s.WaitAcceptingClients(context.Background()); err != grid.ErrNotReady {
		t.Errorf("expected ErrNotReady after shutdown, got %v", err)
	}
}

func TestTaskPanicDoesNotKillService(t *testing.T) {
	s := newTestService(t, Hooks{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	s.Post(func() { panic("task bug") })
	ran := false
	if err := s.Call(context.Background(), func() { ran = true }); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Error("task after panicking task did not run")
	}
}

func TestShutdownDrainsQueue(t *testing.T) {
	s := newTestService(t, Hooks{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	count := 0
	for i := 0; i < 10; i++ {
		s.Post(func() { count++ })
	}
	s.Shutdown()
	if count != 10 {
		t.Errorf("shutdown drained %d of 10 tasks", count)
	}
}

func TestStopHook(t *testing.T) {
	stopped := false
	s := newTestService(t, Hooks{OnStop: func() { stopped = true }})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	s.Shutdown()
	if !stopped {
		t.Error("stop hook did not run")
	}
}
