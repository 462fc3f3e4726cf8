// Package presence counts live connections per user so the router knows
// when a user comes online or goes offline.
package presence

import (
	"context"
	"sync"
	"time"
)

type Tracker interface {
	// Connect records connID for userID and reports whether it is the
	// user's first live connection.
	Connect(ctx context.Context, userID, connID string) (first bool, err error)
	// Disconnect removes connID and reports whether it was the last one.
	Disconnect(ctx context.Context, userID, connID string) (last bool, err error)
	Online(ctx context.Context, userID string) (bool, error)
	LastSeen(ctx context.Context, userID string) (time.Time, error)
}

type Memory struct {
	mu       sync.Mutex
	conns    map[string]map[string]struct{}
	lastSeen map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{
		conns:    make(map[string]map[string]struct{}),
		lastSeen: make(map[string]time.Time),
	}
}

func (m *Memory) Connect(_ context.Context, userID, connID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		m.conns[userID] = set
	}
	set[connID] = struct{}{}
	m.lastSeen[userID] = time.Now().UTC()
	return len(set) == 1, nil
}

func (m *Memory) Disconnect(_ context.Context, userID, connID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.conns[userID]
	if !ok {
		return false, nil
	}
	if _, ok := set[connID]; !ok {
		return false, nil
	}
	delete(set, connID)
	m.lastSeen[userID] = time.Now().UTC()
	if len(set) == 0 {
		delete(m.conns, userID)
		return true, nil
	}
	return false, nil
}

func (m *Memory) Online(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns[userID]) > 0, nil
}

func (m *Memory) LastSeen(_ context.Context, userID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen[userID], nil
}
