package models

import (
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ageniuscoder/roomtalk/backend/internal/apperr"
)

const MaxContentLength = 4000

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

func (t MessageType) Valid() bool {
	return t == MessageText || t == MessageImage || t == MessageFile
}

type Reaction struct {
	Emoji string   `json:"emoji" bson:"emoji"`
	Users []string `json:"users" bson:"users"`
}

type Message struct {
	ID             string      `json:"id" bson:"_id"`
	ConversationID string      `json:"conversationId" bson:"conversation_id"`
	SenderID       string      `json:"senderId" bson:"sender_id"`
	Content        string      `json:"content" bson:"content"`
	Type           MessageType `json:"type" bson:"type"`
	CreatedAt      time.Time   `json:"createdAt" bson:"created_at"`
	ReadBy         []string    `json:"readBy" bson:"read_by"`
	Reactions      []Reaction  `json:"reactions" bson:"reactions"`
}

func errInvalid(msg string) error {
	return apperr.Validation("validate", msg)
}

// ValidateContent checks a draft before it is persisted. Image and file
// messages carry the URL returned by the blob store.
func ValidateContent(content string, typ MessageType) error {
	if !typ.Valid() {
		return errInvalid("type must be text, image or file")
	}
	if strings.TrimSpace(content) == "" {
		return errInvalid("content is required")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return errInvalid("content is too long")
	}
	if typ != MessageText {
		u, err := url.Parse(content)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errInvalid("content must be an http(s) url for image and file messages")
		}
	}
	return nil
}

// NewMessage builds an unsaved message. The sender counts as a reader of
// its own message.
func NewMessage(conversationID, senderID, content string, typ MessageType) *Message {
	if typ == "" {
		typ = MessageText
	}
	return &Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           typ,
		ReadBy:         []string{senderID},
		Reactions:      []Reaction{},
	}
}

// Normalize applies defaults to a new message.
func (m *Message) Normalize() {
	if m.Type == "" {
		m.Type = MessageText
	}
	if m.ReadBy == nil {
		m.ReadBy = []string{}
	}
	if m.Reactions == nil {
		m.Reactions = []Reaction{}
	}
}

func (m *Message) Snapshot() *MessageSnapshot {
	return &MessageSnapshot{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Type:      m.Type,
		CreatedAt: m.CreatedAt,
	}
}

func (m *Message) ReadByUser(userID string) bool {
	return slices.Contains(m.ReadBy, userID)
}

// Clone returns a deep copy so callers can hand out messages without
// sharing the backing slices.
func (m Message) Clone() Message {
	m.ReadBy = slices.Clone(m.ReadBy)
	if m.Reactions != nil {
		rs := make([]Reaction, len(m.Reactions))
		for i, r := range m.Reactions {
			rs[i] = Reaction{Emoji: r.Emoji, Users: slices.Clone(r.Users)}
		}
		m.Reactions = rs
	}
	return m
}

// AddReader adds userID to readBy. The second result is false when the user
// was already present.
func AddReader(readBy []string, userID string) ([]string, bool) {
	if slices.Contains(readBy, userID) {
		return readBy, false
	}
	return append(readBy, userID), true
}

// ToggleReaction flips userID's reaction with emoji. An emoji whose user set
// becomes empty is removed.
func ToggleReaction(reactions []Reaction, emoji, userID string) []Reaction {
	out := make([]Reaction, 0, len(reactions)+1)
	found := false
	for _, r := range reactions {
		if r.Emoji != emoji {
			out = append(out, Reaction{Emoji: r.Emoji, Users: slices.Clone(r.Users)})
			continue
		}
		found = true
		users := slices.Clone(r.Users)
		if i := slices.Index(users, userID); i >= 0 {
			users = slices.Delete(users, i, i+1)
		} else {
			users = append(users, userID)
		}
		if len(users) > 0 {
			out = append(out, Reaction{Emoji: emoji, Users: users})
		}
	}
	if !found {
		out = append(out, Reaction{Emoji: emoji, Users: []string{userID}})
	}
	return out
}

// ReactionUsers returns the users that reacted with emoji.
func ReactionUsers(reactions []Reaction, emoji string) []string {
	for _, r := range reactions {
		if r.Emoji == emoji {
			return r.Users
		}
	}
	return nil
}
