package models

import (
	"slices"
	"strings"
	"time"
)

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

func (t ConversationType) Valid() bool {
	return t == ConversationDirect || t == ConversationGroup
}

// MessageSnapshot is the denormalized last message kept on a conversation.
type MessageSnapshot struct {
	ID        string      `json:"id" bson:"id"`
	SenderID  string      `json:"senderId" bson:"sender_id"`
	Content   string      `json:"content" bson:"content"`
	Type      MessageType `json:"type" bson:"type"`
	CreatedAt time.Time   `json:"createdAt" bson:"created_at"`
}

type Conversation struct {
	ID           string           `json:"id" bson:"_id"`
	Type         ConversationType `json:"type" bson:"type"`
	Participants []string         `json:"participants" bson:"participants"`
	Name         string           `json:"name,omitempty" bson:"name,omitempty"`
	DirectKey    string           `json:"-" bson:"direct_key,omitempty"`
	CreatedAt    time.Time        `json:"createdAt" bson:"created_at"`
	UpdatedAt    time.Time        `json:"updatedAt" bson:"updated_at"`
	LastMessage  *MessageSnapshot `json:"lastMessage,omitempty" bson:"last_message,omitempty"`
	UnreadCount  int64            `json:"unreadCount" bson:"-"`
}

// DirectKey returns the canonical identity of a two-person conversation:
// both ids sorted and joined, so (a,b) and (b,a) collide.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// UniqueParticipants drops empty and repeated ids, keeping first-seen order.
func UniqueParticipants(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Normalize fills Type and DirectKey. A conversation created without a type
// and exactly two participants is direct.
func (c *Conversation) Normalize() {
	c.Participants = UniqueParticipants(c.Participants)
	c.Name = strings.TrimSpace(c.Name)
	if c.Type == "" {
		if len(c.Participants) == 2 {
			c.Type = ConversationDirect
		} else {
			c.Type = ConversationGroup
		}
	}
	c.DirectKey = ""
	if c.Type == ConversationDirect && len(c.Participants) == 2 {
		c.DirectKey = DirectKey(c.Participants[0], c.Participants[1])
	}
}

func (c *Conversation) Validate() error {
	if !c.Type.Valid() {
		return errInvalid("type must be direct or group")
	}
	switch c.Type {
	case ConversationDirect:
		if len(c.Participants) != 2 {
			return errInvalid("a direct conversation needs exactly 2 distinct participants")
		}
	case ConversationGroup:
		if len(c.Participants) < 2 {
			return errInvalid("a group conversation needs at least 2 participants")
		}
		if c.Name == "" {
			return errInvalid("a group conversation needs a name")
		}
	}
	return nil
}

func (c *Conversation) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

// DisplayName is the group name, or the other participant for a direct
// conversation.
func (c *Conversation) DisplayName(viewer string) string {
	if c.Type == ConversationGroup || c.Name != "" {
		return c.Name
	}
	for _, p := range c.Participants {
		if p != viewer {
			return p
		}
	}
	return viewer
}

// LastActivity is the ordering key for conversation lists.
func (c *Conversation) LastActivity() time.Time {
	if c.LastMessage != nil && c.LastMessage.CreatedAt.After(c.UpdatedAt) {
		return c.LastMessage.CreatedAt
	}
	return c.UpdatedAt
}

// SortByActivity orders conversations by last activity, newest first.
func SortByActivity(list []Conversation) {
	slices.SortStableFunc(list, func(a, b Conversation) int {
		return b.LastActivity().Compare(a.LastActivity())
	})
}
