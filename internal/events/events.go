// Package events publishes domain events after the store accepted a write,
// for consumers outside the real-time path (notifications, search, audit).
package events

import (
	"context"
	"time"
)

const (
	MessageCreated      = "message.created"
	MessageRead         = "message.read"
	MessageDeleted      = "message.deleted"
	ReactionToggled     = "reaction.toggled"
	ConversationCreated = "conversation.created"
)

type Event struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId,omitempty"`
	UserID         string    `json:"userId"`
	Data           any       `json:"data,omitempty"`
	At             time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	ch chan Event
}

func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	select {
	case r.ch <- e:
	default:
	}
	return nil
}

func (r *Recorder) Events() <-chan Event { return r.ch }

func (r *Recorder) Close() error { return nil }
