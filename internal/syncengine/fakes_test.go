package syncengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/apperr"
	"github.com/ageniuscoder/roomtalk/backend/internal/models"
	"github.com/ageniuscoder/roomtalk/backend/internal/protocol"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []protocol.Envelope
	err  error
}

func (f *fakeTransport) Send(_ context.Context, env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, env)
	return nil
}

// take returns and clears the envelopes of type typ ("" for all).
func (f *fakeTransport) take(typ string) []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out, rest []protocol.Envelope
	for _, env := range f.sent {
		if typ == "" || env.Type == typ {
			out = append(out, env)
		} else {
			rest = append(rest, env)
		}
	}
	f.sent = rest
	return out
}

type fakeAPI struct {
	mu    sync.Mutex
	convs []models.Conversation
	msgs  map[string][]models.Message
	err   error
	calls int
}

func newFakeAPI(convs ...models.Conversation) *fakeAPI {
	return &fakeAPI{convs: convs, msgs: make(map[string][]models.Message)}
}

func (f *fakeAPI) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeAPI) begin() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeAPI) ListConversations(context.Context) ([]models.Conversation, error) {
	if err := f.begin(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Conversation(nil), f.convs...), nil
}

// ListMessages returns stored messages newest first, ignoring before.
func (f *fakeAPI) ListMessages(_ context.Context, conversationID string, _ time.Time, limit int) ([]models.Message, error) {
	if err := f.begin(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.msgs[conversationID]
	out := make([]models.Message, 0, len(list))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i].Clone())
	}
	return out, nil
}

func (f *fakeAPI) CreateConversation(_ context.Context, typ models.ConversationType, participants []string, name string) (*models.Conversation, error) {
	if err := f.begin(); err != nil {
		return nil, err
	}
	c := models.Conversation{ID: "c-new", Type: typ, Participants: participants, Name: name, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.mu.Lock()
	f.convs = append(f.convs, c)
	f.mu.Unlock()
	return &c, nil
}

func (f *fakeAPI) ToggleReaction(_ context.Context, messageID, emoji string) (*models.Message, error) {
	if err := f.begin(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for conv, list := range f.msgs {
		for i := range list {
			if list[i].ID == messageID {
				list[i].Reactions = models.ToggleReaction(list[i].Reactions, emoji, "alice")
				f.msgs[conv] = list
				m := list[i].Clone()
				return &m, nil
			}
		}
	}
	return nil, apperr.NotFound("toggle reaction", "not found")
}

func (f *fakeAPI) DeleteMessage(_ context.Context, messageID string) error {
	return f.begin()
}

func (f *fakeAPI) put(m models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs[m.ConversationID] = append(f.msgs[m.ConversationID], m)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func pair() models.Conversation {
	return models.Conversation{
		ID:           "c1",
		Type:         models.ConversationDirect,
		Participants: []string{"alice", "bob"},
		CreatedAt:    base,
		UpdatedAt:    base,
	}
}

func msg(id, sender string, sec int, readBy ...string) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       sender,
		Content:        "msg " + id,
		Type:           models.MessageText,
		ReadBy:         append([]string{sender}, readBy...),
		Reactions:      []models.Reaction{},
		CreatedAt:      base.Add(time.Duration(sec) * time.Second),
	}
}

type harness struct {
	*Engine
	tr    *fakeTransport
	api   *fakeAPI
	clock *fakeClock
}

// newHarness builds alice's engine with c1 loaded, offline.
func newHarness(t *testing.T, opts ...func(*Options)) *harness {
	t.Helper()
	h := &harness{tr: &fakeTransport{}, api: newFakeAPI(pair()), clock: newFakeClock()}
	o := Options{
		Identity:  "alice",
		Transport: h.tr,
		API:       h.api,
		Logger:    zaptest.NewLogger(t),
		Clock:     h.clock.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	h.Engine = New(o)
	require.NoError(t, h.LoadConversations(context.Background()))
	return h
}

func (h *harness) event(t *testing.T, typ string, payload any) {
	t.Helper()
	env, err := protocol.New(typ, payload)
	require.NoError(t, err)
	h.HandleEvent(env)
}

func bindSend(t *testing.T, env protocol.Envelope) protocol.SendMessagePayload {
	t.Helper()
	var p protocol.SendMessagePayload
	require.NoError(t, env.Bind(&p))
	return p
}
