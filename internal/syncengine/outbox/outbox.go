// Package outbox persists sends that the server has not confirmed yet, so a
// restart does not lose them.
package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/models"
)

// Entry is one queued send. Seq orders replay.
type Entry struct {
	Seq            uint64             `json:"seq"`
	TempID         string             `json:"tempId"`
	ConversationID string             `json:"conversationId"`
	Content        string             `json:"content"`
	Type           models.MessageType `json:"type"`
	CreatedAt      time.Time          `json:"createdAt"`
	// Failed holds the server's rejection reason. Failed entries are kept
	// for the user to retry or discard but are not replayed.
	Failed string `json:"failed,omitempty"`
}

type Storage interface {
	// Load returns every entry ordered by Seq.
	Load(ctx context.Context) ([]Entry, error)
	// Put inserts or replaces the entry with e.TempID.
	Put(ctx context.Context, e Entry) error
	// Delete removes tempID. Deleting a missing id is not an error.
	Delete(ctx context.Context, tempID string) error
	Close() error
}

// Memory keeps entries in process. Sharing one Memory between engines
// stands in for a restart in tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Load(context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (m *Memory) Put(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.TempID] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, tempID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, tempID)
	return nil
}

func (m *Memory) Close() error { return nil }

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool { return es[i].Seq < es[j].Seq })
}
