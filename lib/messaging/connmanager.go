// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package messaging

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// A Manager tracks live connections. Connections remove themselves when
// they close.
type Manager struct {
	conns *xsync.MapOf[string, *Connection]
}

func NewManager() *Manager {
	return &Manager{
		conns: xsync.NewMapOf[string, *Connection](),
	}
}

// Add registers a connection and arranges for its removal on close.
func (m *Manager) Add(c *Connection) {
	m.conns.Store(c.ID(), c)
	go func() {
		<-c.Closed()
		m.conns.Delete(c.ID())
	}()
}

// Get returns a tracked connection by its ID.
func (m *Manager) Get(id string) (*Connection, bool) {
	return m.conns.Load(id)
}

// Len returns the number of live connections.
func (m *Manager) Len() int {
	return m.conns.Size()
}

// Range calls fn for each live connection until it returns false.
func (m *Manager) Range(fn func(c *Connection) bool) {
	m.conns.Range(func(_ string, c *Connection) bool {
		return fn(c)
	})
}

// CloseAll gracefully closes every tracked connection.
func (m *Manager) CloseAll(cause error) {
	m.Range(func(c *Connection) bool {
		_ = c.Close(cause)
		return true
	})
}
