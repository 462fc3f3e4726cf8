package syncengine

import (
	"context"
	"errors"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/apperr"
	"github.com/ageniuscoder/roomtalk/backend/internal/models"
	"github.com/ageniuscoder/roomtalk/backend/internal/protocol"
	"go.uber.org/zap"
)

// REST-backed operations are not optimistic: on error they record it and
// leave local state as it was.

var errNoAPI = errors.New("sync engine has no api client")

// LoadConversations replaces the conversation list with the server's and
// joins every conversation room.
func (e *Engine) LoadConversations(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}
	list, err := e.api.ListConversations(ctx)
	if err != nil {
		return e.fail(err)
	}

	e.mu.Lock()
	fresh := make(map[string]*models.Conversation, len(list))
	var out []protocol.Envelope
	for i := range list {
		c := list[i]
		if old, ok := e.conversations[c.ID]; ok && old.LastMessage != nil &&
			(c.LastMessage == nil || old.LastMessage.CreatedAt.After(c.LastMessage.CreatedAt)) {
			c.LastMessage = old.LastMessage
		}
		fresh[c.ID] = &c
		out = append(out, e.joinLocked(protocol.ConversationRoom(c.ID))...)
	}
	e.conversations = fresh
	for _, lms := range e.messages {
		for _, lm := range lms {
			lm.Status = lm.Status.Max(e.deriveLocked(&lm.Message))
		}
	}
	e.mu.Unlock()

	e.emit(Event{Kind: EventConversations})
	e.transmit(ctx, out...)
	return nil
}

// LoadMessages fetches one page older than before (nil for the newest page)
// and merges it into the local list.
func (e *Engine) LoadMessages(ctx context.Context, conversationID string, before *time.Time) error {
	msgs, err := e.fetch(ctx, conversationID, before)
	if err != nil {
		return err
	}
	e.mu.Lock()
	for _, m := range msgs {
		e.applyMessageLocked(m, false)
	}
	out := e.autoReadLocked(conversationID)
	e.mu.Unlock()

	e.emit(Event{Kind: EventMessages, ConversationID: conversationID})
	e.transmit(ctx, out...)
	return nil
}

func (e *Engine) fetch(ctx context.Context, conversationID string, before *time.Time) ([]models.Message, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var b time.Time
	if before != nil {
		b = *before
	}
	msgs, err := e.api.ListMessages(ctx, conversationID, b, e.pageSize)
	if err != nil {
		return nil, e.fail(err)
	}
	for i := range msgs {
		msgs[i].Normalize()
	}
	return msgs, nil
}

func (e *Engine) CreateConversation(ctx context.Context, typ models.ConversationType, participants []string, name string) (*models.Conversation, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	conv, err := e.api.CreateConversation(ctx, typ, participants, name)
	if err != nil {
		return nil, e.fail(err)
	}
	e.conversationCreated(*conv)
	return conv, nil
}

// ToggleReaction flips the local user's emoji on a persisted message.
func (e *Engine) ToggleReaction(ctx context.Context, messageID, emoji string) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	_, known := e.byID[messageID]
	e.mu.Unlock()
	if !known {
		return apperr.NotFound("toggle reaction", "message is not confirmed yet")
	}
	msg, err := e.api.ToggleReaction(ctx, messageID, emoji)
	if err != nil {
		return e.fail(err)
	}
	e.reactionUpdated(*msg)
	return nil
}

func (e *Engine) DeleteMessage(ctx context.Context, messageID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	lm, known := e.byID[messageID]
	e.mu.Unlock()
	if !known {
		return apperr.NotFound("delete message", "message is not confirmed yet")
	}
	if err := e.api.DeleteMessage(ctx, messageID); err != nil {
		return e.fail(err)
	}
	e.messageDeleted(protocol.MessageDeletedPayload{MessageID: messageID, ConversationID: lm.ConversationID})
	return nil
}

func (e *Engine) ready() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.authErr != nil {
		return e.authErr
	}
	if e.api == nil {
		return errNoAPI
	}
	return nil
}

// fail records err as the last error. An auth error is a hard stop: the
// engine goes offline and refuses network work until rebuilt.
func (e *Engine) fail(err error) error {
	auth := apperr.Is(err, apperr.KindAuth)
	e.mu.Lock()
	e.lastErr = err
	wasConnected := e.connected
	if auth {
		e.authErr = err
		e.connected = false
	}
	e.mu.Unlock()

	if auth {
		e.log.Error("credential rejected", zap.Error(err))
	} else {
		e.log.Warn("request failed", zap.Error(err))
	}
	evs := []Event{{Kind: EventError, Err: err}}
	if auth && wasConnected {
		evs = append(evs, Event{Kind: EventConnectivity})
	}
	e.emit(evs...)
	return err
}

// SetAuthFailed is the transport's hook for a rejected credential.
func (e *Engine) SetAuthFailed(err error) {
	if !apperr.Is(err, apperr.KindAuth) {
		err = apperr.Auth("connect", err)
	}
	e.fail(err)
}
