// Package storage defines the conversation store used by the router and the
// REST handlers. Every mutation is a narrow field update so concurrent
// writers never overwrite each other's set entries.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/apperr"
	"github.com/ageniuscoder/roomtalk/backend/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique key (the direct pair) already exists.
	ErrDuplicate = errors.New("duplicate")
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Page selects a window of messages, newest first. A zero Before means "now".
type Page struct {
	Before time.Time
	Limit  int
}

func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

type Store interface {
	// CreateConversation inserts c. For direct conversations it returns the
	// existing record with created=false when the pair already has one.
	CreateConversation(ctx context.Context, c *models.Conversation) (conv *models.Conversation, created bool, err error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	AddParticipant(ctx context.Context, conversationID, userID string) (*models.Conversation, error)
	RemoveParticipant(ctx context.Context, conversationID, userID string) (*models.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	// CreateMessage assigns ID and CreatedAt, persists m and refreshes the
	// conversation's last message.
	CreateMessage(ctx context.Context, m *models.Message) (*models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string, page Page) ([]models.Message, error)
	// MarkRead adds userID to readBy. Adding a present id is a no-op.
	MarkRead(ctx context.Context, messageID, userID string) (*models.Message, error)
	// ToggleReaction adds or removes userID under emoji and drops emptied entries.
	ToggleReaction(ctx context.Context, messageID, emoji, userID string) (*models.Message, error)
	DeleteMessage(ctx context.Context, id string) (*models.Message, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int64, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Wrap classifies a store error for callers: missing records become
// NotFound, unique clashes Conflict, anything else Persistence.
func Wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound(op, "not found")
	case errors.Is(err, ErrDuplicate):
		return apperr.Conflict(op, "already exists")
	default:
		return apperr.Persistence(op, err)
	}
}

// Participant loads a conversation and checks userID belongs to it.
func Participant(ctx context.Context, s Store, conversationID, userID string) (*models.Conversation, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("conversation", "conversation not found")
		}
		return nil, apperr.Persistence("conversation", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, apperr.Forbidden("conversation", "not a participant")
	}
	return conv, nil
}
