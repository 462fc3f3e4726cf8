package syncengine

import (
	"context"

	"github.com/ageniuscoder/roomtalk/backend/internal/protocol"
)

// SendTyping tells the room the local user is typing. Calls are throttled
// to one signal per second per conversation and dropped while offline.
func (e *Engine) SendTyping(ctx context.Context, conversationID string) error {
	e.mu.Lock()
	if !e.connected || e.authErr != nil {
		e.mu.Unlock()
		return nil
	}
	now := e.now()
	if last, ok := e.typingSent[conversationID]; ok && now.Sub(last) < typingThrottle {
		e.mu.Unlock()
		return nil
	}
	e.typingSent[conversationID] = now
	e.mu.Unlock()

	e.transmit(ctx, envelope(protocol.Typing, protocol.TypingPayload{ConversationID: conversationID}))
	return nil
}

// ExpireTyping drops indicators older than the typing window. Start calls
// it on every tick.
func (e *Engine) ExpireTyping() {
	e.mu.Lock()
	now := e.now()
	changed := make(map[string]bool)
	for k, at := range e.typing {
		if now.Sub(at) >= e.window {
			delete(e.typing, k)
			changed[k.conversation] = true
		}
	}
	e.mu.Unlock()

	for conv := range changed {
		e.emit(Event{Kind: EventTyping, ConversationID: conv})
	}
}
