package chat

import (
	"context"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/protocol"
	"go.uber.org/zap"
)

type refresher interface {
	Refresh(ctx context.Context, userID string) error
}

func (r *Router) connected(ctx context.Context, c *Client) {
	first, err := r.presence.Connect(ctx, c.UserID, c.ID)
	if err != nil {
		r.log.Warn("presence connect", zap.String("user_id", c.UserID), zap.Error(err))
		return
	}
	if first {
		r.announce(ctx, c.UserID, protocol.StatusOnline, time.Time{})
	}
	r.sendOnlinePeers(ctx, c)
}

func (r *Router) disconnected(ctx context.Context, c *Client) {
	last, err := r.presence.Disconnect(ctx, c.UserID, c.ID)
	if err != nil {
		r.log.Warn("presence disconnect", zap.String("user_id", c.UserID), zap.Error(err))
		return
	}
	if last {
		r.announce(ctx, c.UserID, protocol.StatusOffline, time.Now().UTC())
	}
}

func (r *Router) refreshPresence(ctx context.Context, userID string) {
	if rf, ok := r.presence.(refresher); ok {
		if err := rf.Refresh(ctx, userID); err != nil {
			r.log.Debug("presence refresh", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

// announce tells every connection sharing a conversation with userID about
// its status change. Each connection receives the event once.
func (r *Router) announce(ctx context.Context, userID, status string, lastSeen time.Time) {
	convs, err := r.store.ListConversations(ctx, userID)
	if err != nil {
		r.storeFailed("list_conversations", err)
		return
	}
	rooms := make([]string, 0, len(convs))
	for _, conv := range convs {
		rooms = append(rooms, protocol.ConversationRoom(conv.ID))
	}
	p := protocol.PresencePayload{UserID: userID, Status: status}
	if !lastSeen.IsZero() {
		p.LastSeen = lastSeen.Format(time.RFC3339)
	}
	b, err := protocol.Encode(protocol.Presence, p)
	if err != nil {
		r.log.Error("encode", zap.String("type", protocol.Presence), zap.Error(err))
		return
	}
	r.hub.BroadcastRooms(rooms, protocol.Presence, b, userID)
}

// sendOnlinePeers primes a fresh connection with the peers already online,
// since it missed their transitions.
func (r *Router) sendOnlinePeers(ctx context.Context, c *Client) {
	convs, err := r.store.ListConversations(ctx, c.UserID)
	if err != nil {
		r.storeFailed("list_conversations", err)
		return
	}
	seen := map[string]bool{c.UserID: true}
	for _, conv := range convs {
		for _, peer := range conv.Participants {
			if seen[peer] {
				continue
			}
			seen[peer] = true
			online, err := r.presence.Online(ctx, peer)
			if err != nil || !online {
				continue
			}
			r.send(c, protocol.Presence, protocol.PresencePayload{UserID: peer, Status: protocol.StatusOnline})
		}
	}
}
