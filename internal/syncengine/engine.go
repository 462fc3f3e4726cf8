// Package syncengine keeps a client-side projection of conversations and
// messages in step with the server. Sends are optimistic and survive
// restarts through the outbox; live events are merged with REST history.
package syncengine

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/apperr"
	"github.com/ageniuscoder/roomtalk/backend/internal/models"
	"github.com/ageniuscoder/roomtalk/backend/internal/protocol"
	"github.com/ageniuscoder/roomtalk/backend/internal/syncengine/outbox"
	"go.uber.org/zap"
)

const (
	defaultTypingWindow = 3 * time.Second
	defaultTick         = 500 * time.Millisecond
	defaultPageSize     = 50
	typingThrottle      = time.Second
	maxJoinAttempts     = 3
)

type EventKind string

const (
	EventMessages      EventKind = "messages"
	EventConversations EventKind = "conversations"
	EventTyping        EventKind = "typing"
	EventPresence      EventKind = "presence"
	EventConnectivity  EventKind = "connectivity"
	EventError         EventKind = "error"
)

// Event tells listeners which slice of state changed. Read the new state
// through the accessors.
type Event struct {
	Kind           EventKind
	ConversationID string
	Err            error
}

// LocalMessage is a message as the client sees it. TempID is set for sends
// made on this engine; ID stays empty until the server confirms.
type LocalMessage struct {
	models.Message
	TempID string        `json:"tempId,omitempty"`
	Status models.Status `json:"status"`
	Error  string        `json:"error,omitempty"`
}

type Options struct {
	Identity     string
	Transport    Transport
	API          API
	Outbox       outbox.Storage
	Logger       *zap.Logger
	TypingWindow time.Duration
	Tick         time.Duration
	PageSize     int
	Clock        func() time.Time
}

type typingKey struct {
	user, conversation string
}

type Engine struct {
	self      string
	transport Transport
	api       API
	outbox    outbox.Storage
	log       *zap.Logger
	window    time.Duration
	tick      time.Duration
	pageSize  int
	now       func() time.Time

	mu            sync.Mutex
	conversations map[string]*models.Conversation
	messages      map[string][]*LocalMessage
	byID          map[string]*LocalMessage
	byTemp        map[string]*LocalMessage
	pending       []outbox.Entry
	seq           uint64
	rooms         map[string]bool
	subscribed    map[string]bool
	joinAttempts  map[string]int
	members       map[string]map[string]bool
	readQueue     []protocol.MarkAsReadPayload
	typing        map[typingKey]time.Time
	typingSent    map[string]time.Time
	online        map[string]bool
	focused       string
	connected     bool
	authErr       error
	lastErr       error
	bg            context.Context

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// New builds an engine for one authenticated identity. A nil Transport
// leaves the engine offline until one is bound; a nil Outbox keeps sends in
// memory only.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Outbox == nil {
		opts.Outbox = outbox.NewMemory()
	}
	if opts.TypingWindow <= 0 {
		opts.TypingWindow = defaultTypingWindow
	}
	if opts.Tick <= 0 {
		opts.Tick = defaultTick
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{
		self:          opts.Identity,
		transport:     opts.Transport,
		api:           opts.API,
		outbox:        opts.Outbox,
		log:           opts.Logger.Named("sync").With(zap.String("user_id", opts.Identity)),
		window:        opts.TypingWindow,
		tick:          opts.Tick,
		pageSize:      opts.PageSize,
		now:           opts.Clock,
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*LocalMessage),
		byID:          make(map[string]*LocalMessage),
		byTemp:        make(map[string]*LocalMessage),
		rooms:         make(map[string]bool),
		subscribed:    make(map[string]bool),
		joinAttempts:  make(map[string]int),
		members:       make(map[string]map[string]bool),
		typing:        make(map[typingKey]time.Time),
		typingSent:    make(map[string]time.Time),
		online:        make(map[string]bool),
		bg:            context.Background(),
		subs:          make(map[int]func(Event)),
	}
}

// SetTransport binds the outbound side after construction, for transports
// that need the engine to exist first.
func (e *Engine) SetTransport(t Transport) {
	e.mu.Lock()
	e.transport = t
	e.mu.Unlock()
}

func (e *Engine) Identity() string { return e.self }

// Subscribe registers fn for change events. Listeners run on the goroutine
// that made the change and must not block.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()
	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) emit(evs ...Event) {
	if len(evs) == 0 {
		return
	}
	e.subMu.Lock()
	fns := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()
	for _, ev := range evs {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// Start restores the outbox and runs the typing-decay ticker until ctx ends.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	e.bg = ctx
	e.mu.Unlock()
	if err := e.Restore(ctx); err != nil {
		return err
	}

	t := time.NewTicker(e.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			e.ExpireTyping()
		}
	}
}

// Restore loads persisted sends into the local lists. Entries already known
// to the engine are skipped, so calling it twice is harmless.
func (e *Engine) Restore(ctx context.Context) error {
	entries, err := e.outbox.Load(ctx)
	if err != nil {
		return err
	}
	var evs []Event
	e.mu.Lock()
	for _, en := range entries {
		if _, ok := e.byTemp[en.TempID]; ok {
			continue
		}
		lm := e.addPendingLocked(en)
		if en.Failed != "" {
			lm.Status = models.StatusFailed
			lm.Error = en.Failed
		}
		if en.Seq > e.seq {
			e.seq = en.Seq
		}
		evs = append(evs, Event{Kind: EventMessages, ConversationID: en.ConversationID})
	}
	e.mu.Unlock()
	if len(entries) > 0 {
		e.log.Info("outbox restored", zap.Int("entries", len(entries)))
	}
	e.emit(evs...)
	return nil
}

// Conversations returns copies sorted by last activity, newest first.
func (e *Engine) Conversations() []models.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Conversation, 0, len(e.conversations))
	for _, c := range e.conversations {
		cp := *c
		cp.Participants = slices.Clone(c.Participants)
		if c.LastMessage != nil {
			lm := *c.LastMessage
			cp.LastMessage = &lm
		}
		out = append(out, cp)
	}
	models.SortByActivity(out)
	return out
}

func (e *Engine) Conversation(id string) (models.Conversation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.conversations[id]
	if !ok {
		return models.Conversation{}, false
	}
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	return cp, true
}

// Messages returns the ordered local list for a conversation.
func (e *Engine) Messages(conversationID string) []LocalMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.messages[conversationID]
	out := make([]LocalMessage, len(list))
	for i, lm := range list {
		out[i] = LocalMessage{Message: lm.Message.Clone(), TempID: lm.TempID, Status: lm.Status, Error: lm.Error}
	}
	return out
}

// Outbox returns the sends the server has not confirmed, in send order.
func (e *Engine) Outbox() []outbox.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.pending)
}

// Typing lists users with a live typing indicator in the conversation.
func (e *Engine) Typing(conversationID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	var out []string
	for k, at := range e.typing {
		if k.conversation == conversationID && now.Sub(at) < e.window {
			out = append(out, k.user)
		}
	}
	sort.Strings(out)
	return out
}

func (e *Engine) Online(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online[userID]
}

// RoomMembers lists the users announced in a meeting room.
func (e *Engine) RoomMembers(room string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.members[room]))
	for u := range e.members[room] {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// LastError is the most recent failure worth showing the user.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// AuthError is non-nil once the credential was rejected. The engine stays
// offline until a new one is built.
func (e *Engine) AuthError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.authErr
}

func (e *Engine) Focused() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.focused
}

// transmit writes envelopes in order. A failed write is not fatal: queued
// sends stay in the outbox and are flushed on the next reconnect.
func (e *Engine) transmit(ctx context.Context, envs ...protocol.Envelope) {
	e.mu.Lock()
	t := e.transport
	e.mu.Unlock()
	if t == nil {
		return
	}
	for _, env := range envs {
		if err := t.Send(ctx, env); err != nil {
			e.log.Debug("transmit", zap.String("type", env.Type), zap.Error(err))
		}
	}
}

func envelope(typ string, payload any) protocol.Envelope {
	env, err := protocol.New(typ, payload)
	if err != nil {
		// payloads are plain structs; marshalling cannot fail
		panic(err)
	}
	return env
}

func (e *Engine) context() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bg
}

var errInvalidRoom = apperr.Validation("join room", "room must be conversation:<id> or meeting:<id>")

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
