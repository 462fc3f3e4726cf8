package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/models"
)

// Intent is a user action routed through Dispatch.
type Intent interface {
	intent()
}

type SendIntent struct {
	ConversationID string
	Content        string
	Type           models.MessageType
}

type RetryIntent struct{ TempID string }

type DiscardIntent struct{ TempID string }

type MarkReadIntent struct {
	ConversationID string
	MessageIDs     []string
}

type TypingIntent struct{ ConversationID string }

// FocusIntent with an empty id clears the focus.
type FocusIntent struct{ ConversationID string }

type LoadConversationsIntent struct{}

type LoadMessagesIntent struct {
	ConversationID string
	Before         *time.Time
}

type CreateConversationIntent struct {
	Type         models.ConversationType
	Participants []string
	Name         string
}

type ToggleReactionIntent struct {
	MessageID string
	Emoji     string
}

type DeleteMessageIntent struct{ MessageID string }

type JoinRoomIntent struct{ RoomID string }

type LeaveRoomIntent struct{ RoomID string }

func (SendIntent) intent()               {}
func (RetryIntent) intent()              {}
func (DiscardIntent) intent()            {}
func (MarkReadIntent) intent()           {}
func (TypingIntent) intent()             {}
func (FocusIntent) intent()              {}
func (LoadConversationsIntent) intent()  {}
func (LoadMessagesIntent) intent()       {}
func (CreateConversationIntent) intent() {}
func (ToggleReactionIntent) intent()     {}
func (DeleteMessageIntent) intent()      {}
func (JoinRoomIntent) intent()           {}
func (LeaveRoomIntent) intent()          {}

// Dispatch runs one intent. Results that carry data (temp ids, created
// conversations) are observable through the accessors.
func (e *Engine) Dispatch(ctx context.Context, in Intent) error {
	switch in := in.(type) {
	case SendIntent:
		_, err := e.Send(ctx, in.ConversationID, in.Content, in.Type)
		return err
	case RetryIntent:
		_, err := e.Retry(ctx, in.TempID)
		return err
	case DiscardIntent:
		return e.Discard(ctx, in.TempID)
	case MarkReadIntent:
		return e.MarkRead(ctx, in.ConversationID, in.MessageIDs)
	case TypingIntent:
		return e.SendTyping(ctx, in.ConversationID)
	case FocusIntent:
		return e.Focus(ctx, in.ConversationID)
	case LoadConversationsIntent:
		return e.LoadConversations(ctx)
	case LoadMessagesIntent:
		return e.LoadMessages(ctx, in.ConversationID, in.Before)
	case CreateConversationIntent:
		_, err := e.CreateConversation(ctx, in.Type, in.Participants, in.Name)
		return err
	case ToggleReactionIntent:
		return e.ToggleReaction(ctx, in.MessageID, in.Emoji)
	case DeleteMessageIntent:
		return e.DeleteMessage(ctx, in.MessageID)
	case JoinRoomIntent:
		return e.JoinRoom(ctx, in.RoomID)
	case LeaveRoomIntent:
		return e.LeaveRoom(ctx, in.RoomID)
	}
	return fmt.Errorf("unknown intent %T", in)
}
