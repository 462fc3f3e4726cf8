package syncengine

import (
	"errors"

	"github.com/ageniuscoder/roomtalk/backend/internal/models"
	"github.com/ageniuscoder/roomtalk/backend/internal/protocol"
	"go.uber.org/zap"
)

// HandleEvent applies one inbound server event. Transports call it from
// their read loop.
func (e *Engine) HandleEvent(env protocol.Envelope) {
	var err error
	switch env.Type {
	case protocol.MessageConfirmed:
		var p protocol.MessageConfirmedPayload
		if err = env.Bind(&p); err == nil {
			e.confirmed(p)
		}
	case protocol.MessageFailed:
		var p protocol.MessageFailedPayload
		if err = env.Bind(&p); err == nil {
			e.failed(p)
		}
	case protocol.NewMessage:
		var p protocol.NewMessagePayload
		if err = env.Bind(&p); err == nil {
			e.incoming(p.Message)
		}
	case protocol.MessageRead:
		var p protocol.MessageReadPayload
		if err = env.Bind(&p); err == nil {
			e.messageRead(p)
		}
	case protocol.Presence:
		var p protocol.PresencePayload
		if err = env.Bind(&p); err == nil {
			e.presence(p)
		}
	case protocol.Typing:
		var p protocol.TypingPayload
		if err = env.Bind(&p); err == nil {
			e.typingSignal(p)
		}
	case protocol.MessageDeleted:
		var p protocol.MessageDeletedPayload
		if err = env.Bind(&p); err == nil {
			e.messageDeleted(p)
		}
	case protocol.ReactionUpdated:
		var p protocol.ReactionUpdatedPayload
		if err = env.Bind(&p); err == nil {
			e.reactionUpdated(p.Message)
		}
	case protocol.ConversationCreated:
		var p protocol.ConversationCreatedPayload
		if err = env.Bind(&p); err == nil {
			e.conversationCreated(p.Conversation)
		}
	case protocol.UserJoined, protocol.UserLeft:
		var p protocol.MemberPayload
		if err = env.Bind(&p); err == nil {
			e.member(p, env.Type == protocol.UserJoined)
		}
	case protocol.RoomJoined:
		var p protocol.RoomPayload
		if err = env.Bind(&p); err == nil {
			e.roomJoined(p.RoomID)
		}
	case protocol.Error:
		var p protocol.ErrorPayload
		if err = env.Bind(&p); err == nil {
			e.serverError(p)
		}
	default:
		e.log.Debug("unhandled event", zap.String("type", env.Type))
	}
	if err != nil {
		e.log.Warn("bad event", zap.String("type", env.Type), zap.Error(err))
	}
}

func (e *Engine) incoming(msg models.Message) {
	msg.Normalize()
	e.mu.Lock()
	e.applyMessageLocked(msg, true)
	out := e.autoReadLocked(msg.ConversationID)
	e.mu.Unlock()

	e.emit(Event{Kind: EventMessages, ConversationID: msg.ConversationID}, Event{Kind: EventConversations})
	e.transmit(e.context(), out...)
}

// applyMessageLocked inserts msg or merges it into the copy already held.
// Live messages from others count towards unread unless focused.
func (e *Engine) applyMessageLocked(msg models.Message, live bool) {
	if existing, ok := e.byID[msg.ID]; ok {
		e.mergeLocked(existing, msg)
		return
	}
	lm := &LocalMessage{Message: msg.Clone()}
	floor := models.StatusSent
	if msg.SenderID != e.self {
		floor = models.StatusDelivered
	}
	lm.Status = floor.Max(e.deriveLocked(&lm.Message))
	e.insertLocked(lm)
	e.byID[msg.ID] = lm
	e.touchLocked(&lm.Message)

	if live && msg.SenderID != e.self && !msg.ReadByUser(e.self) && e.focused != msg.ConversationID {
		if c, ok := e.conversations[msg.ConversationID]; ok {
			c.UnreadCount++
		}
	}
}

// mergeLocked folds a newer server copy into lm. readBy only grows.
func (e *Engine) mergeLocked(lm *LocalMessage, msg models.Message) {
	for _, u := range msg.ReadBy {
		lm.ReadBy, _ = models.AddReader(lm.ReadBy, u)
	}
	if msg.Reactions != nil {
		lm.Reactions = msg.Clone().Reactions
	}
	lm.Status = lm.Status.Max(e.deriveLocked(&lm.Message))
}

func (e *Engine) messageRead(p protocol.MessageReadPayload) {
	e.mu.Lock()
	lm, ok := e.byID[p.MessageID]
	if !ok {
		e.mu.Unlock()
		return
	}
	var added bool
	lm.ReadBy, added = models.AddReader(lm.ReadBy, p.UserID)
	if added {
		lm.Status = lm.Status.Max(e.deriveLocked(&lm.Message))
		if p.UserID == e.self && lm.SenderID != e.self {
			e.decrementUnreadLocked(lm.ConversationID)
		}
	}
	conv := lm.ConversationID
	e.mu.Unlock()

	if added {
		e.emit(Event{Kind: EventMessages, ConversationID: conv})
	}
}

func (e *Engine) presence(p protocol.PresencePayload) {
	e.mu.Lock()
	if p.Status == protocol.StatusOnline {
		e.online[p.UserID] = true
	} else {
		delete(e.online, p.UserID)
	}
	e.mu.Unlock()
	e.emit(Event{Kind: EventPresence})
}

func (e *Engine) typingSignal(p protocol.TypingPayload) {
	if p.UserID == "" || p.UserID == e.self {
		return
	}
	e.mu.Lock()
	e.typing[typingKey{user: p.UserID, conversation: p.ConversationID}] = e.now()
	e.mu.Unlock()
	e.emit(Event{Kind: EventTyping, ConversationID: p.ConversationID})
}

func (e *Engine) messageDeleted(p protocol.MessageDeletedPayload) {
	e.mu.Lock()
	lm, ok := e.byID[p.MessageID]
	if ok {
		e.deleteLocked(lm)
	}
	e.mu.Unlock()
	if ok {
		e.emit(Event{Kind: EventMessages, ConversationID: p.ConversationID}, Event{Kind: EventConversations})
	}
}

// deleteLocked removes a persisted message and rewinds the conversation's
// last-message snapshot if it pointed at it.
func (e *Engine) deleteLocked(lm *LocalMessage) {
	e.removeLocked(lm)
	if lm.SenderID != e.self && !lm.ReadByUser(e.self) {
		e.decrementUnreadLocked(lm.ConversationID)
	}
	c, ok := e.conversations[lm.ConversationID]
	if !ok || c.LastMessage == nil || c.LastMessage.ID != lm.ID {
		return
	}
	c.LastMessage = nil
	list := e.messages[lm.ConversationID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].ID != "" {
			c.LastMessage = list[i].Snapshot()
			break
		}
	}
}

func (e *Engine) reactionUpdated(msg models.Message) {
	e.mu.Lock()
	lm, ok := e.byID[msg.ID]
	if ok {
		lm.Reactions = msg.Clone().Reactions
		if lm.Reactions == nil {
			lm.Reactions = []models.Reaction{}
		}
	}
	e.mu.Unlock()
	if ok {
		e.emit(Event{Kind: EventMessages, ConversationID: msg.ConversationID})
	}
}

func (e *Engine) conversationCreated(c models.Conversation) {
	e.mu.Lock()
	e.upsertLocked(c)
	out := e.joinLocked(protocol.ConversationRoom(c.ID))
	e.mu.Unlock()

	e.emit(Event{Kind: EventConversations})
	e.transmit(e.context(), out...)
}

func (e *Engine) member(p protocol.MemberPayload, joined bool) {
	e.mu.Lock()
	set := e.members[p.RoomID]
	if joined {
		if set == nil {
			set = make(map[string]bool)
			e.members[p.RoomID] = set
		}
		set[p.UserID] = true
	} else {
		delete(set, p.UserID)
	}
	e.mu.Unlock()
	e.emit(Event{Kind: EventPresence})
}

func (e *Engine) serverError(p protocol.ErrorPayload) {
	err := errors.New(p.Event + ": " + p.Error)
	e.mu.Lock()
	e.lastErr = err
	var out []protocol.Envelope
	if p.Event == protocol.JoinRoom && p.RoomID != "" {
		out = e.joinRejectedLocked(p)
	}
	ctx := e.bg
	e.mu.Unlock()
	e.log.Warn("server rejected event",
		zap.String("event", p.Event),
		zap.String("room", p.RoomID),
		zap.String("reason", p.Error))
	e.emit(Event{Kind: EventError, Err: err})
	e.transmit(ctx, out...)
}

// joinRejectedLocked repeats a join the server could not complete, up to
// maxJoinAttempts per connection. A refused room is forgotten so it is not
// rejoined on every reconnect.
func (e *Engine) joinRejectedLocked(p protocol.ErrorPayload) []protocol.Envelope {
	room := p.RoomID
	delete(e.subscribed, room)
	if !p.Retryable {
		delete(e.rooms, room)
		delete(e.joinAttempts, room)
		return nil
	}
	if !e.rooms[room] || !e.connected || e.joinAttempts[room] >= maxJoinAttempts {
		return nil
	}
	e.joinAttempts[room]++
	return []protocol.Envelope{envelope(protocol.JoinRoom, protocol.RoomPayload{RoomID: room})}
}

// roomJoined marks room live. A conversation whose join had to be
// repeated may have missed events in between, so the focused one is
// resynced.
func (e *Engine) roomJoined(room string) {
	e.mu.Lock()
	if !e.rooms[room] {
		e.mu.Unlock()
		return
	}
	e.subscribed[room] = true
	repeated := e.joinAttempts[room] > 0
	delete(e.joinAttempts, room)
	kind, id, _ := protocol.ParseRoom(room)
	resync := repeated && kind == "conversation" && id == e.focused
	ctx := e.bg
	e.mu.Unlock()
	if resync {
		_ = e.resync(ctx, id)
	}
}

// upsertLocked stores c, keeping the local unread count and last message
// when the incoming copy carries none.
func (e *Engine) upsertLocked(c models.Conversation) {
	cp := c
	if old, ok := e.conversations[c.ID]; ok {
		if cp.LastMessage == nil || (old.LastMessage != nil && old.LastMessage.CreatedAt.After(cp.LastMessage.CreatedAt)) {
			cp.LastMessage = old.LastMessage
		}
		if cp.UnreadCount == 0 {
			cp.UnreadCount = old.UnreadCount
		}
	}
	e.conversations[c.ID] = &cp
}

func (e *Engine) decrementUnreadLocked(conversationID string) {
	if c, ok := e.conversations[conversationID]; ok && c.UnreadCount > 0 {
		c.UnreadCount--
	}
}

// joinLocked records room membership and returns the join event to send
// now, if connected.
func (e *Engine) joinLocked(room string) []protocol.Envelope {
	if e.rooms[room] {
		return nil
	}
	e.rooms[room] = true
	if !e.connected {
		return nil
	}
	return []protocol.Envelope{envelope(protocol.JoinRoom, protocol.RoomPayload{RoomID: room})}
}
