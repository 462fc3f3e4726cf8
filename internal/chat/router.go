package chat

import (
	"context"
	"errors"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/apperr"
	"github.com/ageniuscoder/roomtalk/backend/internal/events"
	"github.com/ageniuscoder/roomtalk/backend/internal/metrics"
	"github.com/ageniuscoder/roomtalk/backend/internal/models"
	"github.com/ageniuscoder/roomtalk/backend/internal/presence"
	"github.com/ageniuscoder/roomtalk/backend/internal/protocol"
	"github.com/ageniuscoder/roomtalk/backend/internal/storage"
	"github.com/ageniuscoder/roomtalk/backend/internal/utils"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type Options struct {
	Store     storage.Store
	Presence  presence.Tracker
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger

	WriteWait       time.Duration
	PongWait        time.Duration
	MaxMessageSize  int64
	SendBuffer      int
	EventsPerSecond float64
	Burst           int
	// StoreTimeout bounds the store work done for a single event.
	StoreTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Presence == nil {
		o.Presence = presence.NewMemory()
	}
	if o.Publisher == nil {
		o.Publisher = events.Nop{}
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.WriteWait <= 0 {
		o.WriteWait = writeWait
	}
	if o.PongWait <= 0 {
		o.PongWait = pongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = maxMessageSize
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = sendBuffer
	}
	if o.EventsPerSecond <= 0 {
		o.EventsPerSecond = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 3 * time.Second
	}
}

// Must be less than PongWait.
func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// Router applies client events to the store and fans the results out to
// room subscribers. REST handlers reach the same fan-out through the
// Message* and Conversation* methods.
type Router struct {
	hub       *Hub
	opts      Options
	store     storage.Store
	presence  presence.Tracker
	publisher events.Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger
	confirmed *confirmations
}

func NewRouter(opts Options) *Router {
	opts.setDefaults()
	return &Router{
		hub:       NewHub(opts.Metrics, opts.Logger),
		opts:      opts,
		store:     opts.Store,
		presence:  opts.Presence,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		log:       opts.Logger.Named("router"),
		confirmed: newConfirmations(4096),
	}
}

func (r *Router) Hub() *Hub { return r.hub }

// Run drives the hub and the presence loop until ctx is done.
func (r *Router) Run(ctx context.Context) {
	go r.hub.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-r.hub.transitions:
			if t.online {
				r.connected(ctx, t.client)
			} else {
				r.disconnected(ctx, t.client)
			}
		}
	}
}

func (r *Router) handle(ctx context.Context, c *Client, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		r.replyError(c, "", apperr.Validation("decode", "malformed event"))
		return
	}

	if !r.admit(ctx, c, env) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.StoreTimeout)
	defer cancel()

	switch env.Type {
	case protocol.JoinRoom:
		r.joinRoom(ctx, c, env)
	case protocol.LeaveRoom:
		r.leaveRoom(c, env)
	case protocol.SendMessage:
		r.sendMessage(ctx, c, env)
	case protocol.MarkAsRead:
		r.markAsRead(ctx, c, env)
	case protocol.Typing:
		r.typing(c, env)
	default:
		r.metrics.Events.WithLabelValues("unknown").Inc()
		r.replyError(c, env.Type, apperr.Validation(env.Type, "unknown event type"))
		return
	}
	r.metrics.Events.WithLabelValues(env.Type).Inc()
}

// admit applies the connection's rate limit. Typing over the limit is
// dropped; other events wait for a token, so a reconnect burst of joins
// and outbox replays is slowed down rather than failed.
func (r *Router) admit(ctx context.Context, c *Client, env protocol.Envelope) bool {
	if env.Type == protocol.Typing {
		return c.limiter.Allow()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		r.metrics.Events.WithLabelValues("throttled").Inc()
		r.replyError(c, env.Type, apperr.Validation(env.Type, "rate limited"))
		return false
	}
	return true
}

func (r *Router) joinRoom(ctx context.Context, c *Client, env protocol.Envelope) {
	var p protocol.RoomPayload
	if err := bind(env, &p); err != nil {
		r.replyError(c, env.Type, err)
		return
	}
	kind, id, ok := protocol.ParseRoom(p.RoomID)
	if !ok {
		r.joinFailed(c, p.RoomID, apperr.Validation(env.Type, "unknown room"))
		return
	}
	if kind == "conversation" {
		if _, err := r.participantConversation(ctx, id, c.UserID); err != nil {
			r.joinFailed(c, p.RoomID, err)
			return
		}
	}
	r.hub.Join(c, p.RoomID)
	r.log.Debug("joined room",
		zap.String("room", p.RoomID),
		zap.String("user_id", c.UserID),
		zap.Int("room_size", r.hub.RoomSize(p.RoomID)))
	r.send(c, protocol.RoomJoined, protocol.RoomPayload{RoomID: p.RoomID})
	if kind == "meeting" {
		r.broadcast(p.RoomID, protocol.UserJoined, protocol.MemberPayload{RoomID: p.RoomID, UserID: c.UserID}, c)
	}
}

func (r *Router) leaveRoom(c *Client, env protocol.Envelope) {
	var p protocol.RoomPayload
	if err := bind(env, &p); err != nil {
		r.replyError(c, env.Type, err)
		return
	}
	if !r.hub.InRoom(c, p.RoomID) {
		return
	}
	r.hub.Leave(c, p.RoomID)
	if kind, _, _ := protocol.ParseRoom(p.RoomID); kind == "meeting" {
		r.broadcast(p.RoomID, protocol.UserLeft, protocol.MemberPayload{RoomID: p.RoomID, UserID: c.UserID}, nil)
	}
}

func (r *Router) sendMessage(ctx context.Context, c *Client, env protocol.Envelope) {
	var p protocol.SendMessagePayload
	if err := env.Bind(&p); err != nil || p.TempID == "" {
		r.replyError(c, env.Type, apperr.Validation(env.Type, "tempId is required"))
		return
	}
	fail := func(err error) {
		r.send(c, protocol.MessageFailed, protocol.MessageFailedPayload{TempID: p.TempID, Error: userMessage(err)})
	}
	if err := bind(env, &p); err != nil {
		fail(err)
		return
	}
	if p.Type == "" {
		p.Type = models.MessageText
	}
	if err := models.ValidateContent(p.Content, p.Type); err != nil {
		fail(err)
		return
	}
	conv, err := r.participantConversation(ctx, p.ConversationID, c.UserID)
	if err != nil {
		fail(err)
		return
	}
	cf, owner := r.confirmed.reserve(c.UserID, p.TempID)
	if !owner {
		r.replayed(ctx, c, p.TempID, cf)
		return
	}

	saved, err := r.store.CreateMessage(ctx, models.NewMessage(conv.ID, c.UserID, p.Content, p.Type))
	if err != nil {
		r.confirmed.release(c.UserID, p.TempID, cf)
		r.storeFailed("create_message", err)
		fail(apperr.Conflict(env.Type, "message could not be saved"))
		return
	}

	r.confirmed.complete(cf, saved.ID)
	r.send(c, protocol.MessageConfirmed, protocol.MessageConfirmedPayload{TempID: p.TempID, Message: *saved})
	r.broadcast(protocol.ConversationRoom(conv.ID), protocol.NewMessage, protocol.NewMessagePayload{Message: *saved}, c)
	r.publish(ctx, events.Event{
		Type:           events.MessageCreated,
		ConversationID: conv.ID,
		MessageID:      saved.ID,
		UserID:         c.UserID,
		Data:           saved,
	})
}

// replayed answers a send whose temp id was already seen, which happens
// when a client replays its outbox after losing the first confirmation.
// If the first copy is still being stored it waits for it.
func (r *Router) replayed(ctx context.Context, c *Client, tempID string, cf *confirmation) {
	id, err := r.confirmed.wait(ctx, cf)
	if err != nil || id == "" {
		r.send(c, protocol.MessageFailed, protocol.MessageFailedPayload{TempID: tempID, Error: "message could not be saved"})
		return
	}
	msg, err := r.store.GetMessage(ctx, id)
	if err != nil {
		r.send(c, protocol.MessageFailed, protocol.MessageFailedPayload{TempID: tempID, Error: "message no longer available"})
		return
	}
	r.send(c, protocol.MessageConfirmed, protocol.MessageConfirmedPayload{TempID: tempID, Message: *msg})
}

func (r *Router) markAsRead(ctx context.Context, c *Client, env protocol.Envelope) {
	var p protocol.MarkAsReadPayload
	if err := bind(env, &p); err != nil {
		r.replyError(c, env.Type, err)
		return
	}
	if _, err := r.participantConversation(ctx, p.ConversationID, c.UserID); err != nil {
		r.replyError(c, env.Type, err)
		return
	}
	if _, err := r.markRead(ctx, p.ConversationID, p.MessageID, c.UserID); err != nil {
		r.replyError(c, env.Type, err)
	}
}

// markRead appends userID to the message's readers and tells the room.
// Repeats are harmless: the store ignores them and clients dedupe.
func (r *Router) markRead(ctx context.Context, conversationID, messageID, userID string) (*models.Message, error) {
	before, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, r.lookupErr("mark_read", "message", err)
	}
	if before.ConversationID != conversationID {
		return nil, apperr.Validation("mark_read", "message does not belong to conversation")
	}
	after, err := r.store.MarkRead(ctx, messageID, userID)
	if err != nil {
		r.storeFailed("mark_read", err)
		return nil, apperr.Persistence("mark_read", err)
	}
	r.broadcast(protocol.ConversationRoom(conversationID), protocol.MessageRead, protocol.MessageReadPayload{
		MessageID:      messageID,
		ConversationID: conversationID,
		UserID:         userID,
	}, nil)
	if !before.ReadByUser(userID) {
		r.publish(ctx, events.Event{
			Type:           events.MessageRead,
			ConversationID: conversationID,
			MessageID:      messageID,
			UserID:         userID,
		})
	}
	return after, nil
}

// typing is relayed only for rooms the connection joined, which already
// proved participation.
func (r *Router) typing(c *Client, env protocol.Envelope) {
	var p protocol.TypingPayload
	if err := bind(env, &p); err != nil {
		r.replyError(c, env.Type, err)
		return
	}
	room := protocol.ConversationRoom(p.ConversationID)
	if !r.hub.InRoom(c, room) {
		r.replyError(c, env.Type, apperr.Forbidden(env.Type, "join the conversation first"))
		return
	}
	r.broadcast(room, protocol.Typing, protocol.TypingPayload{ConversationID: p.ConversationID, UserID: c.UserID}, c)
}

func (r *Router) participantConversation(ctx context.Context, id, userID string) (*models.Conversation, error) {
	conv, err := storage.Participant(ctx, r.store, id, userID)
	if apperr.Is(err, apperr.KindPersistence) {
		r.storeFailed("get_conversation", err)
	}
	return conv, err
}

func (r *Router) lookupErr(op, what string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(op, what+" not found")
	}
	r.storeFailed(op, err)
	return apperr.Persistence(op, err)
}

func (r *Router) storeFailed(op string, err error) {
	r.metrics.StoreErrors.WithLabelValues(op).Inc()
	r.log.Warn("store failed", zap.String("op", op), zap.Error(err))
}

func (r *Router) publish(ctx context.Context, e events.Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := r.publisher.Publish(ctx, e); err != nil {
		r.log.Warn("publish failed", zap.String("type", e.Type), zap.Error(err))
	}
}

func (r *Router) send(c *Client, typ string, payload any) {
	b, err := protocol.Encode(typ, payload)
	if err != nil {
		r.log.Error("encode", zap.String("type", typ), zap.Error(err))
		return
	}
	r.hub.SendTo(c, typ, b)
}

func (r *Router) broadcast(room, typ string, payload any, skip *Client) {
	b, err := protocol.Encode(typ, payload)
	if err != nil {
		r.log.Error("encode", zap.String("type", typ), zap.Error(err))
		return
	}
	r.hub.Broadcast(room, typ, b, skip)
}

// replyError sends an error event naming the rejected event. Persistence
// details stay in the log.
func (r *Router) replyError(c *Client, event string, err error) {
	r.send(c, protocol.Error, protocol.ErrorPayload{Event: event, Error: userMessage(err)})
}

// joinFailed names the room so the client can tell a refused join from
// one worth repeating.
func (r *Router) joinFailed(c *Client, room string, err error) {
	r.send(c, protocol.Error, protocol.ErrorPayload{
		Event:     protocol.JoinRoom,
		Error:     userMessage(err),
		RoomID:    room,
		Retryable: retryable(err),
	})
}

func retryable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindPersistence, apperr.KindInternal, apperr.KindConflict:
		return true
	}
	return false
}

func userMessage(err error) string {
	if k := apperr.KindOf(err); k == apperr.KindPersistence || k == apperr.KindInternal {
		return "internal error"
	}
	return apperr.Message(err)
}

func bind(env protocol.Envelope, v any) error {
	if err := env.Bind(v); err != nil {
		return apperr.Validation(env.Type, "malformed payload")
	}
	if err := utils.Validate(v); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			return apperr.Validation(env.Type, utils.Summary(ve))
		}
		return apperr.Validation(env.Type, err.Error())
	}
	return nil
}
