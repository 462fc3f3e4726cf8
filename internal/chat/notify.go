package chat

import (
	"context"
	"slices"

	"github.com/ageniuscoder/roomtalk/backend/internal/events"
	"github.com/ageniuscoder/roomtalk/backend/internal/models"
	"github.com/ageniuscoder/roomtalk/backend/internal/protocol"
)

// MessageCreated fans out a message persisted outside the socket path.
func (r *Router) MessageCreated(ctx context.Context, m *models.Message) {
	r.broadcast(protocol.ConversationRoom(m.ConversationID), protocol.NewMessage, protocol.NewMessagePayload{Message: *m}, nil)
	r.publish(ctx, events.Event{
		Type:           events.MessageCreated,
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		UserID:         m.SenderID,
		Data:           m,
	})
}

// MessagesRead is the REST twin of mark_as_read for a batch of ids. The
// caller checks participation. It stops at the first failing id.
func (r *Router) MessagesRead(ctx context.Context, conversationID, userID string, messageIDs []string) ([]models.Message, error) {
	out := make([]models.Message, 0, len(messageIDs))
	for _, id := range messageIDs {
		m, err := r.markRead(ctx, conversationID, id, userID)
		if err != nil {
			return out, err
		}
		out = append(out, *m)
	}
	return out, nil
}

// ParticipantAdded hands the conversation to the new member's connections.
func (r *Router) ParticipantAdded(conv *models.Conversation, userID string) {
	b, err := protocol.Encode(protocol.ConversationCreated, protocol.ConversationCreatedPayload{Conversation: *conv})
	if err != nil {
		return
	}
	r.hub.SendToUser(userID, protocol.ConversationCreated, b)
}

func (r *Router) ReactionUpdated(ctx context.Context, m *models.Message, userID, emoji string) {
	r.broadcast(protocol.ConversationRoom(m.ConversationID), protocol.ReactionUpdated, protocol.ReactionUpdatedPayload{Message: *m}, nil)
	r.publish(ctx, events.Event{
		Type:           events.ReactionToggled,
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		UserID:         userID,
		Data: map[string]any{
			"emoji": emoji,
			"added": slices.Contains(models.ReactionUsers(m.Reactions, emoji), userID),
		},
	})
}

func (r *Router) MessageDeleted(ctx context.Context, m *models.Message, userID string) {
	r.broadcast(protocol.ConversationRoom(m.ConversationID), protocol.MessageDeleted, protocol.MessageDeletedPayload{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
	}, nil)
	r.publish(ctx, events.Event{
		Type:           events.MessageDeleted,
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		UserID:         userID,
	})
}

// ConversationCreated tells every participant's live connections about a
// new conversation so their clients can join its room.
func (r *Router) ConversationCreated(ctx context.Context, conv *models.Conversation, creator string) {
	b, err := protocol.Encode(protocol.ConversationCreated, protocol.ConversationCreatedPayload{Conversation: *conv})
	if err == nil {
		for _, uid := range conv.Participants {
			r.hub.SendToUser(uid, protocol.ConversationCreated, b)
		}
	}
	r.publish(ctx, events.Event{
		Type:           events.ConversationCreated,
		ConversationID: conv.ID,
		UserID:         creator,
		Data:           conv,
	})
}
