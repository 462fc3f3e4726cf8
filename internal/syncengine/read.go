package syncengine

import (
	"context"
	"slices"

	"github.com/ageniuscoder/roomtalk/backend/internal/models"
	"github.com/ageniuscoder/roomtalk/backend/internal/protocol"
	"go.uber.org/zap"
)

// MarkRead adds the local user to readBy of each id not already read and
// tells the server once per id. Ids unknown to the engine are skipped.
// While offline the receipts are queued and sent on reconnect.
func (e *Engine) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	e.mu.Lock()
	if e.authErr != nil {
		err := e.authErr
		e.mu.Unlock()
		return err
	}
	out, changed := e.markReadLocked(conversationID, messageIDs)
	e.mu.Unlock()

	if changed {
		e.emit(Event{Kind: EventMessages, ConversationID: conversationID}, Event{Kind: EventConversations})
	}
	e.transmit(ctx, out...)
	return nil
}

func (e *Engine) markReadLocked(conversationID string, ids []string) ([]protocol.Envelope, bool) {
	var out []protocol.Envelope
	changed := false
	for _, id := range ids {
		lm, ok := e.byID[id]
		if !ok || lm.ConversationID != conversationID || lm.ReadByUser(e.self) {
			continue
		}
		lm.ReadBy, _ = models.AddReader(lm.ReadBy, e.self)
		lm.Status = lm.Status.Max(e.deriveLocked(&lm.Message))
		if lm.SenderID != e.self {
			e.decrementUnreadLocked(conversationID)
		}
		changed = true

		p := protocol.MarkAsReadPayload{MessageID: id, ConversationID: conversationID}
		if e.connected {
			out = append(out, envelope(protocol.MarkAsRead, p))
		} else {
			e.readQueue = append(e.readQueue, p)
		}
	}
	return out, changed
}

// autoReadLocked marks everything unread in the focused conversation.
func (e *Engine) autoReadLocked(conversationID string) []protocol.Envelope {
	if e.focused == "" || e.focused != conversationID || e.authErr != nil {
		return nil
	}
	out, _ := e.markReadLocked(conversationID, e.unreadLocked(conversationID))
	return out
}

func (e *Engine) unreadLocked(conversationID string) []string {
	var ids []string
	for _, lm := range e.messages[conversationID] {
		if lm.ID != "" && lm.SenderID != e.self && !lm.ReadByUser(e.self) {
			ids = append(ids, lm.ID)
		}
	}
	return ids
}

// Focus makes conversationID the active one: its history is loaded if
// nothing is held locally and every unread message is marked read. An
// empty id clears the focus.
func (e *Engine) Focus(ctx context.Context, conversationID string) error {
	e.mu.Lock()
	e.focused = conversationID
	empty := len(e.messages[conversationID]) == 0
	e.mu.Unlock()
	if conversationID == "" {
		return nil
	}

	if empty {
		if err := e.LoadMessages(ctx, conversationID, nil); err != nil {
			return err
		}
	}

	e.mu.Lock()
	out := e.autoReadLocked(conversationID)
	if c, ok := e.conversations[conversationID]; ok {
		c.UnreadCount = 0
	}
	e.mu.Unlock()

	e.emit(Event{Kind: EventMessages, ConversationID: conversationID}, Event{Kind: EventConversations})
	e.transmit(ctx, out...)
	return nil
}

// SetConnected is the transport's connectivity hook. On the way up it
// rejoins rooms, replays the outbox in send order, sends queued read
// receipts and resyncs the focused conversation over REST.
func (e *Engine) SetConnected(up bool) {
	e.mu.Lock()
	if e.connected == up || (up && e.authErr != nil) {
		e.mu.Unlock()
		return
	}
	e.connected = up
	var out []protocol.Envelope
	focused := e.focused
	if up {
		for _, room := range sortedKeys(e.rooms) {
			out = append(out, envelope(protocol.JoinRoom, protocol.RoomPayload{RoomID: room}))
		}
		for _, en := range e.pending {
			if en.Failed == "" {
				out = append(out, sendEnvelope(en))
			}
		}
		for _, p := range e.readQueue {
			out = append(out, envelope(protocol.MarkAsRead, p))
		}
		e.readQueue = nil
	} else {
		// indicators will not be renewed while offline
		clear(e.typing)
		clear(e.subscribed)
		clear(e.joinAttempts)
	}
	ctx := e.bg
	e.mu.Unlock()

	e.log.Info("connectivity changed", zap.Bool("up", up))
	e.emit(Event{Kind: EventConnectivity})
	if !up {
		return
	}
	e.transmit(ctx, out...)
	if focused != "" {
		_ = e.resync(ctx, focused)
	}
}

// resync fetches the newest page of a conversation and reconciles it with
// the local list: missed messages are merged in and persisted ones the
// server no longer has are dropped.
func (e *Engine) resync(ctx context.Context, conversationID string) error {
	msgs, err := e.fetch(ctx, conversationID, nil)
	if err != nil {
		return err
	}

	e.mu.Lock()
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		seen[m.ID] = true
		e.applyMessageLocked(m, false)
	}
	// The page is newest first. Anything local inside its time range that
	// it lacks was deleted while we were away; newer messages may have
	// arrived live since the fetch and are kept.
	if len(msgs) > 0 {
		newest, oldest := msgs[0].CreatedAt, msgs[len(msgs)-1].CreatedAt
		complete := len(msgs) < e.pageSize
		for _, lm := range slices.Clone(e.messages[conversationID]) {
			if lm.ID == "" || seen[lm.ID] || lm.CreatedAt.After(newest) {
				continue
			}
			if complete || !lm.CreatedAt.Before(oldest) {
				e.deleteLocked(lm)
			}
		}
	}
	out := e.autoReadLocked(conversationID)
	e.mu.Unlock()

	e.emit(Event{Kind: EventMessages, ConversationID: conversationID}, Event{Kind: EventConversations})
	e.transmit(ctx, out...)
	return nil
}

// JoinRoom subscribes to a room now and on every reconnect.
func (e *Engine) JoinRoom(ctx context.Context, room string) error {
	if _, _, ok := protocol.ParseRoom(room); !ok {
		return errInvalidRoom
	}
	e.mu.Lock()
	out := e.joinLocked(room)
	e.mu.Unlock()
	e.transmit(ctx, out...)
	return nil
}

func (e *Engine) LeaveRoom(ctx context.Context, room string) error {
	e.mu.Lock()
	joined := e.rooms[room]
	delete(e.rooms, room)
	delete(e.subscribed, room)
	delete(e.joinAttempts, room)
	delete(e.members, room)
	connected := e.connected
	e.mu.Unlock()
	if joined && connected {
		e.transmit(ctx, envelope(protocol.LeaveRoom, protocol.RoomPayload{RoomID: room}))
	}
	return nil
}

// Rooms lists the rooms the engine keeps joined.
func (e *Engine) Rooms() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedKeys(e.rooms)
}

// Subscribed reports whether the server acknowledged the join of room on
// the current connection.
func (e *Engine) Subscribed(room string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subscribed[room]
}
