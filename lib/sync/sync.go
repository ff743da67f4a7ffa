// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package sync provides mutex and waitgroup types that can optionally log
// slow lock holds, for debugging lock contention.
package sync

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

type Mutex interface {
	Lock()
	Unlock()
}

type RWMutex interface {
	Mutex
	RLock()
	RUnlock()
}

type WaitGroup interface {
	Add(int)
	Done()
	Wait()
}

func NewMutex() Mutex {
	if debug {
		return &loggedMutex{}
	}
	return &sync.Mutex{}
}

func NewRWMutex() RWMutex {
	if debug {
		return &loggedRWMutex{
			unlockers: make(chan holder, 1024),
		}
	}
	return &sync.RWMutex{}
}

func NewWaitGroup() WaitGroup {
	if debug {
		return &loggedWaitGroup{}
	}
	return &sync.WaitGroup{}
}

type holder struct {
	at   string
	time time.Time
	goid int
}

func (h holder) String() string {
	if h.at == "" {
		return "not held"
	}
	return fmt.Sprintf("at %s goid: %d for %s", h.at, h.goid, time.Since(h.time))
}

type loggedMutex struct {
	sync.Mutex
	holder holder
}

func (m *loggedMutex) Lock() {
	m.Mutex.Lock()
	m.holder = getHolder()
}

func (m *loggedMutex) Unlock() {
	duration := time.Since(m.holder.time)
	if duration >= threshold {
		l.Debugf("Mutex held for %v. Locked at %s unlocked at %s", duration, m.holder.at, getHolder().at)
	}
	m.holder = holder{}
	m.Mutex.Unlock()
}

func (m *loggedMutex) Holders() string {
	return m.holder.String()
}

type loggedRWMutex struct {
	sync.RWMutex
	holder holder

	readHolders    map[int][]holder
	readHoldersMut sync.Mutex

	logUnlockers bool
	unlockers    chan holder
}

func (m *loggedRWMutex) Lock() {
	start := time.Now()

	m.logUnlockers = true
	m.RWMutex.Lock()
	m.logUnlockers = false

	m.holder = getHolder()

	duration := m.holder.time.Sub(start)
	if duration > threshold {
		var unlockerStrings []string
	loop:
		for {
			select {
			case h := <-m.unlockers:
				unlockerStrings = append(unlockerStrings, h.String())
			default:
				break loop
			}
		}
		l.Debugf("RWMutex took %v to lock. Locked at %s. RUnlockers while locking: %s", duration, m.holder.at, strings.Join(unlockerStrings, ", "))
	}
}

func (m *loggedRWMutex) Unlock() {
	duration := time.Since(m.holder.time)
	if duration >= threshold {
		l.Debugf("RWMutex held for %v. Locked at %s: unlocked at %s", duration, m.holder.at, getHolder().at)
	}
	m.holder = holder{}
	m.RWMutex.Unlock()
}

func (m *loggedRWMutex) RLock() {
	m.RWMutex.RLock()
	h := getHolder()
	m.readHoldersMut.Lock()
	if m.readHolders == nil {
		m.readHolders = make(map[int][]holder)
	}
	m.readHolders[h.goid] = append(m.readHolders[h.goid], h)
	m.readHoldersMut.Unlock()
}

func (m *loggedRWMutex) RUnlock() {
	id := goid()
	m.readHoldersMut.Lock()
	current := m.readHolders[id]
	if len(current) > 0 {
		m.readHolders[id] = current[:len(current)-1]
	}
	m.readHoldersMut.Unlock()
	if m.logUnlockers {
		h := getHolder()
		select {
		case m.unlockers <- h:
		default:
			l.Debugf("Dropped holder %s as channel full", h)
		}
	}
	m.RWMutex.RUnlock()
}

func (m *loggedRWMutex) Holders() string {
	output := m.holder.String() + " (writer)"
	m.readHoldersMut.Lock()
	for _, holders := range m.readHolders {
		for _, h := range holders {
			output += "\n" + h.String() + " (reader)"
		}
	}
	m.readHoldersMut.Unlock()
	return output
}

type loggedWaitGroup struct {
	sync.WaitGroup
}

func (wg *loggedWaitGroup) Wait() {
	start := time.Now()
	wg.WaitGroup.Wait()
	duration := time.Since(start)
	if duration >= threshold {
		l.Debugf("WaitGroup took %v at %s", duration, getHolder())
	}
}

func getHolder() holder {
	_, file, line, _ := runtime.Caller(2)
	file = filepath.Join(filepath.Base(filepath.Dir(file)), filepath.Base(file))
	return holder{
		at:   fmt.Sprintf("%s:%d", file, line),
		goid: goid(),
		time: time.Now(),
	}
}

func goid() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	idField := bytesToFields(buf[:n])
	if idField == -1 {
		return -1
	}
	return idField
}

// bytesToFields parses the goroutine ID out of a "goroutine N [...]" stack
// header. Returns -1 when the header is not in the expected format.
func bytesToFields(buf []byte) int {
	const prefix = "goroutine "
	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return -1
	}
	id := 0
	for _, c := range buf[len(prefix):] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int(c-'0')
	}
	return id
}
