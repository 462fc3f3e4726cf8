package syncengine

import (
	"context"
	"slices"
	"sort"

	"github.com/ageniuscoder/roomtalk/backend/internal/apperr"
	"github.com/ageniuscoder/roomtalk/backend/internal/models"
	"github.com/ageniuscoder/roomtalk/backend/internal/protocol"
	"github.com/ageniuscoder/roomtalk/backend/internal/syncengine/outbox"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func newTempID() string {
	return "temp-" + uuid.NewString()
}

// Send appends an optimistic message and returns its temp id. Every send is
// written to the outbox first; it is transmitted right away when connected
// and replayed on reconnect otherwise. Send never waits on the network.
func (e *Engine) Send(ctx context.Context, conversationID, content string, typ models.MessageType) (string, error) {
	if typ == "" {
		typ = models.MessageText
	}
	if conversationID == "" {
		return "", apperr.Validation("send", "conversation id is required")
	}
	if err := models.ValidateContent(content, typ); err != nil {
		return "", err
	}

	e.mu.Lock()
	if e.authErr != nil {
		err := e.authErr
		e.mu.Unlock()
		return "", err
	}
	if conv, ok := e.conversations[conversationID]; ok && !conv.HasParticipant(e.self) {
		e.mu.Unlock()
		return "", apperr.Forbidden("send", "not a participant")
	}
	e.seq++
	entry := outbox.Entry{
		Seq:            e.seq,
		TempID:         newTempID(),
		ConversationID: conversationID,
		Content:        content,
		Type:           typ,
		CreatedAt:      e.now().UTC(),
	}
	e.addPendingLocked(entry)
	connected := e.connected
	e.mu.Unlock()

	if err := e.outbox.Put(ctx, entry); err != nil {
		// still queued in memory; only a restart would lose it
		e.log.Error("outbox put", zap.String("temp_id", entry.TempID), zap.Error(err))
	}
	e.emit(Event{Kind: EventMessages, ConversationID: conversationID}, Event{Kind: EventConversations})
	if connected {
		e.transmit(ctx, sendEnvelope(entry))
	}
	return entry.TempID, nil
}

func sendEnvelope(en outbox.Entry) protocol.Envelope {
	return envelope(protocol.SendMessage, protocol.SendMessagePayload{
		ConversationID: en.ConversationID,
		Content:        en.Content,
		Type:           en.Type,
		TempID:         en.TempID,
	})
}

// Retry resends a failed message's content under a fresh temp id.
func (e *Engine) Retry(ctx context.Context, tempID string) (string, error) {
	e.mu.Lock()
	lm, ok := e.byTemp[tempID]
	if !ok {
		e.mu.Unlock()
		return "", apperr.NotFound("retry", "no such pending message")
	}
	if lm.Status != models.StatusFailed {
		e.mu.Unlock()
		return "", apperr.Validation("retry", "only failed messages can be retried")
	}
	conv, content, typ := lm.ConversationID, lm.Content, lm.Type
	e.dropPendingLocked(lm)
	e.mu.Unlock()

	if err := e.outbox.Delete(ctx, tempID); err != nil {
		e.log.Warn("outbox delete", zap.String("temp_id", tempID), zap.Error(err))
	}
	return e.Send(ctx, conv, content, typ)
}

// Discard drops an unconfirmed message from the list and the outbox.
func (e *Engine) Discard(ctx context.Context, tempID string) error {
	e.mu.Lock()
	lm, ok := e.byTemp[tempID]
	if !ok || lm.ID != "" {
		e.mu.Unlock()
		return apperr.NotFound("discard", "no such pending message")
	}
	conv := lm.ConversationID
	e.dropPendingLocked(lm)
	e.mu.Unlock()

	if err := e.outbox.Delete(ctx, tempID); err != nil {
		e.log.Warn("outbox delete", zap.String("temp_id", tempID), zap.Error(err))
	}
	e.emit(Event{Kind: EventMessages, ConversationID: conv})
	return nil
}

// confirmed promotes the temp entry in place. If the permanent id already
// arrived through another path, the temp entry is folded into it.
func (e *Engine) confirmed(p protocol.MessageConfirmedPayload) {
	msg := p.Message
	msg.Normalize()

	e.mu.Lock()
	lm, ok := e.byTemp[p.TempID]
	if !ok {
		// confirmation for a send this engine no longer tracks
		e.applyMessageLocked(msg, false)
		e.mu.Unlock()
		e.emit(Event{Kind: EventMessages, ConversationID: msg.ConversationID})
		return
	}
	e.removePendingEntryLocked(p.TempID)
	if lm.ID == msg.ID {
		// replayed confirmation
		e.mergeLocked(lm, msg)
	} else if existing, dup := e.byID[msg.ID]; dup && existing != lm {
		e.removeLocked(lm)
		delete(e.byTemp, p.TempID)
		existing.TempID = p.TempID
		e.mergeLocked(existing, msg)
	} else {
		lm.Message = msg.Clone()
		lm.Error = ""
		lm.Status = models.StatusSent.Max(e.deriveLocked(&lm.Message))
		e.byID[msg.ID] = lm
		e.touchLocked(&lm.Message)
	}
	e.mu.Unlock()

	if err := e.outbox.Delete(e.context(), p.TempID); err != nil {
		e.log.Warn("outbox delete", zap.String("temp_id", p.TempID), zap.Error(err))
	}
	e.emit(Event{Kind: EventMessages, ConversationID: msg.ConversationID}, Event{Kind: EventConversations})
}

// failed marks the entry failed. It stays in the outbox, flagged, so the
// user can still retry or discard it after a restart.
func (e *Engine) failed(p protocol.MessageFailedPayload) {
	e.mu.Lock()
	lm, ok := e.byTemp[p.TempID]
	if !ok || lm.ID != "" {
		e.mu.Unlock()
		return
	}
	lm.Status = models.StatusFailed
	lm.Error = p.Error
	var entry outbox.Entry
	for i := range e.pending {
		if e.pending[i].TempID == p.TempID {
			e.pending[i].Failed = p.Error
			entry = e.pending[i]
		}
	}
	conv := lm.ConversationID
	e.mu.Unlock()

	if entry.TempID != "" {
		if err := e.outbox.Put(e.context(), entry); err != nil {
			e.log.Warn("outbox put", zap.String("temp_id", p.TempID), zap.Error(err))
		}
	}
	e.log.Info("send failed", zap.String("temp_id", p.TempID), zap.String("reason", p.Error))
	e.emit(Event{Kind: EventMessages, ConversationID: conv})
}

func (e *Engine) addPendingLocked(en outbox.Entry) *LocalMessage {
	m := models.NewMessage(en.ConversationID, e.self, en.Content, en.Type)
	m.CreatedAt = en.CreatedAt
	lm := &LocalMessage{Message: *m, TempID: en.TempID, Status: models.StatusSending}
	e.insertLocked(lm)
	e.byTemp[en.TempID] = lm
	e.pending = append(e.pending, en)
	e.touchLocked(&lm.Message)
	return lm
}

func (e *Engine) dropPendingLocked(lm *LocalMessage) {
	e.removeLocked(lm)
	delete(e.byTemp, lm.TempID)
	e.removePendingEntryLocked(lm.TempID)
}

func (e *Engine) removePendingEntryLocked(tempID string) {
	e.pending = slices.DeleteFunc(e.pending, func(en outbox.Entry) bool { return en.TempID == tempID })
}

// insertLocked appends at the tail unless lm is older than the tail, in
// which case it goes after the last message not newer than it.
func (e *Engine) insertLocked(lm *LocalMessage) {
	list := e.messages[lm.ConversationID]
	n := len(list)
	if n == 0 || !lm.CreatedAt.Before(list[n-1].CreatedAt) {
		e.messages[lm.ConversationID] = append(list, lm)
		return
	}
	i := sort.Search(n, func(i int) bool { return list[i].CreatedAt.After(lm.CreatedAt) })
	e.messages[lm.ConversationID] = slices.Insert(list, i, lm)
}

func (e *Engine) removeLocked(lm *LocalMessage) {
	e.messages[lm.ConversationID] = slices.DeleteFunc(e.messages[lm.ConversationID],
		func(x *LocalMessage) bool { return x == lm })
	if lm.ID != "" && e.byID[lm.ID] == lm {
		delete(e.byID, lm.ID)
	}
}

// deriveLocked falls back to "delivered once anyone else read it" when the
// conversation's participants are not loaded.
func (e *Engine) deriveLocked(m *models.Message) models.Status {
	var participants []string
	if c, ok := e.conversations[m.ConversationID]; ok {
		participants = c.Participants
	}
	return models.DeriveStatus(m, participants)
}

// touchLocked moves the conversation's last-message snapshot forward.
func (e *Engine) touchLocked(m *models.Message) {
	c, ok := e.conversations[m.ConversationID]
	if !ok {
		return
	}
	if c.LastMessage == nil || !m.CreatedAt.Before(c.LastMessage.CreatedAt) {
		c.LastMessage = m.Snapshot()
	}
	if m.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.CreatedAt
	}
}
