package chat

import (
	"context"
	"sync"

	"github.com/ageniuscoder/roomtalk/backend/internal/metrics"
	"go.uber.org/zap"
)

type transition struct {
	client *Client
	online bool
}

// Hub tracks live connections by user and by room. Register and unregister
// go through Run; room membership and fan-out lock the maps directly.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	// userID -> set of client connections (handles multi-tab/or mutlti device)
	users map[string]map[*Client]struct{}

	// transitions feeds the router's presence loop in connection order
	transitions chan transition

	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewHub(m *metrics.Metrics, log *zap.Logger) *Hub {
	return &Hub{
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		rooms:       make(map[string]map[*Client]struct{}),
		users:       make(map[string]map[*Client]struct{}),
		transitions: make(chan transition, 1024),
		metrics:     m,
		log:         log.Named("hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.emit(ctx, transition{client: client, online: true})
		case client := <-h.unregister:
			if h.remove(client) {
				h.emit(ctx, transition{client: client, online: false})
			}
		}
	}
}

func (h *Hub) emit(ctx context.Context, t transition) {
	select {
	case h.transitions <- t:
	case <-ctx.Done():
	}
}

// Register indexes c right away, so events read from it can join rooms,
// and queues its online transition. It returns false once the hub stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	h.add(c)
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[*Client]struct{})
	}
	h.users[c.UserID][c] = struct{}{}
	h.metrics.Connections.Inc()
}

// remove drops c from every index and closes its send channel. It reports
// false when c was already gone.
func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.users[c.UserID]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.users, c.UserID)
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	c.closeSend()
	h.metrics.Connections.Dec()
	return true
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for uid, set := range h.users {
		for c := range set {
			c.closeSend()
			h.metrics.Connections.Dec()
		}
		delete(h.users, uid)
	}
	h.rooms = make(map[string]map[*Client]struct{})
}

func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, live := h.users[c.UserID][c]; !live {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	if set, ok := h.rooms[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c]
	return ok
}

// RoomSize counts the connections subscribed to room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Broadcast queues payload for every subscriber of room except skip.
func (h *Hub) Broadcast(room, typ string, payload []byte, skip *Client) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c != skip {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	return h.deliver(targets, typ, payload)
}

// BroadcastRooms delivers payload once to every connection subscribed to
// any of rooms, skipping connections of skipUser.
func (h *Hub) BroadcastRooms(rooms []string, typ string, payload []byte, skipUser string) int {
	h.mu.RLock()
	seen := make(map[*Client]struct{})
	var targets []*Client
	for _, room := range rooms {
		for c := range h.rooms[room] {
			if c.UserID == skipUser {
				continue
			}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	return h.deliver(targets, typ, payload)
}

// SendToUser delivers payload to every connection of userID.
func (h *Hub) SendToUser(userID, typ string, payload []byte) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	return h.deliver(targets, typ, payload)
}

func (h *Hub) SendTo(c *Client, typ string, payload []byte) bool {
	return h.deliver([]*Client{c}, typ, payload) == 1
}

func (h *Hub) deliver(targets []*Client, typ string, payload []byte) int {
	n := 0
	for _, c := range targets {
		if c.enqueue(payload) {
			n++
			continue
		}
		// slow/broken client → drop
		h.metrics.DroppedClients.Inc()
		h.log.Warn("dropping slow client", zap.String("user_id", c.UserID), zap.String("conn_id", c.ID))
		go h.Unregister(c)
	}
	h.metrics.Fanout.WithLabelValues(typ).Add(float64(n))
	return n
}
