// Package protocol defines the JSON events exchanged over the persistent
// connection between the sync engine and the event router.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ageniuscoder/roomtalk/backend/internal/models"
)

// Client to server.
const (
	JoinRoom    = "join_room"
	LeaveRoom   = "leave_room"
	SendMessage = "send_message"
	MarkAsRead  = "mark_as_read"
	Typing      = "typing"
)

// Server to client. Typing is shared by both directions.
const (
	MessageConfirmed    = "message_confirmed"
	NewMessage          = "new_message"
	MessageFailed       = "message_failed"
	MessageRead         = "message_read"
	Presence            = "presence"
	MessageDeleted      = "message_deleted"
	ReactionUpdated     = "reaction_updated"
	ConversationCreated = "conversation_created"
	RoomJoined          = "room_joined"
	UserJoined          = "user_joined"
	UserLeft            = "user_left"
	Error               = "error"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New marshals payload into an envelope of the given type.
func New(typ string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Payload: b}, nil
}

// Encode returns the wire bytes of an event.
func Encode(typ string, payload any) ([]byte, error) {
	env, err := New(typ, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// Bind unmarshals the payload into v.
func (e Envelope) Bind(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", e.Type, err)
	}
	return nil
}

type RoomPayload struct {
	RoomID string `json:"roomId" validate:"required"`
}

type SendMessagePayload struct {
	ConversationID string             `json:"conversationId" validate:"required"`
	Content        string             `json:"content" validate:"required"`
	Type           models.MessageType `json:"type,omitempty"`
	TempID         string             `json:"tempId" validate:"required"`
}

type MarkAsReadPayload struct {
	MessageID      string `json:"messageId" validate:"required"`
	ConversationID string `json:"conversationId" validate:"required"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
	UserID         string `json:"userId,omitempty"`
}

type MessageConfirmedPayload struct {
	TempID  string         `json:"tempId"`
	Message models.Message `json:"message"`
}

type NewMessagePayload struct {
	Message models.Message `json:"message"`
}

type MessageFailedPayload struct {
	TempID string `json:"tempId"`
	Error  string `json:"error"`
}

type MessageReadPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type PresencePayload struct {
	UserID   string `json:"userId"`
	Status   string `json:"status"`
	LastSeen string `json:"lastSeen,omitempty"`
}

type MessageDeletedPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type ReactionUpdatedPayload struct {
	Message models.Message `json:"message"`
}

type ConversationCreatedPayload struct {
	Conversation models.Conversation `json:"conversation"`
}

type MemberPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type ErrorPayload struct {
	Event string `json:"event"`
	Error string `json:"error"`
	// RoomID and Retryable are set on join_room failures.
	RoomID    string `json:"roomId,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

const (
	conversationPrefix = "conversation:"
	meetingPrefix      = "meeting:"
)

func ConversationRoom(id string) string { return conversationPrefix + id }

func MeetingRoom(id string) string { return meetingPrefix + id }

// ParseRoom splits a room id into its kind ("conversation" or "meeting") and
// the referenced id.
func ParseRoom(room string) (kind, id string, ok bool) {
	switch {
	case strings.HasPrefix(room, conversationPrefix):
		id = strings.TrimPrefix(room, conversationPrefix)
		kind = "conversation"
	case strings.HasPrefix(room, meetingPrefix):
		id = strings.TrimPrefix(room, meetingPrefix)
		kind = "meeting"
	default:
		return "", "", false
	}
	return kind, id, id != ""
}
