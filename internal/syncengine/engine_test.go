package syncengine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/apperr"
	"github.com/ageniuscoder/roomtalk/backend/internal/models"
	"github.com/ageniuscoder/roomtalk/backend/internal/protocol"
	"github.com/ageniuscoder/roomtalk/backend/internal/syncengine/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSendConfirmAndEchoStaySingle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.SetConnected(true)
	h.tr.take("")

	tempID, err := h.Send(ctx, "c1", "hi", "")
	require.NoError(t, err)

	list := h.Messages("c1")
	require.Len(t, list, 1)
	assert.Equal(t, models.StatusSending, list[0].Status)
	assert.Equal(t, tempID, list[0].TempID)
	assert.Empty(t, list[0].ID)

	sent := h.tr.take(protocol.SendMessage)
	require.Len(t, sent, 1)
	assert.Equal(t, tempID, bindSend(t, sent[0]).TempID)

	m := msg("m1", "alice", 1)
	h.event(t, protocol.MessageConfirmed, protocol.MessageConfirmedPayload{TempID: tempID, Message: m})
	h.event(t, protocol.NewMessage, protocol.NewMessagePayload{Message: m})
	h.event(t, protocol.MessageConfirmed, protocol.MessageConfirmedPayload{TempID: tempID, Message: m})

	list = h.Messages("c1")
	require.Len(t, list, 1)
	assert.Equal(t, "m1", list[0].ID)
	assert.Equal(t, tempID, list[0].TempID)
	assert.Equal(t, models.StatusSent, list[0].Status)
	assert.Empty(t, h.Outbox())

	conv, ok := h.Conversation("c1")
	require.True(t, ok)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "m1", conv.LastMessage.ID)
}

func TestEchoBeforeConfirmFoldsTempEntry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.SetConnected(true)

	tempID, err := h.Send(ctx, "c1", "hi", models.MessageText)
	require.NoError(t, err)

	m := msg("m1", "alice", 1, "bob")
	h.event(t, protocol.NewMessage, protocol.NewMessagePayload{Message: m})
	h.event(t, protocol.MessageConfirmed, protocol.MessageConfirmedPayload{TempID: tempID, Message: msg("m1", "alice", 1)})

	list := h.Messages("c1")
	require.Len(t, list, 1)
	assert.Equal(t, "m1", list[0].ID)
	assert.ElementsMatch(t, []string{"alice", "bob"}, list[0].ReadBy)
	assert.Equal(t, models.StatusRead, list[0].Status)
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.Send(ctx, "c1", "   ", models.MessageText)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = h.Send(ctx, "", "hi", models.MessageText)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = h.Send(ctx, "c1", "not a url", models.MessageImage)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	assert.Empty(t, h.Messages("c1"))
	assert.Empty(t, h.Outbox())
}

func TestIncomingOrderingAndStatus(t *testing.T) {
	h := newHarness(t)

	h.event(t, protocol.NewMessage, protocol.NewMessagePayload{Message: msg("m2", "bob", 2)})
	h.event(t, protocol.NewMessage, protocol.NewMessagePayload{Message: msg("m1", "bob", 1)})
	h.event(t, protocol.NewMessage, protocol.NewMessagePayload{Message: msg("m3", "alice", 3)})
	h.event(t, protocol.NewMessage, protocol.NewMessagePayload{Message: msg("m4", "bob", 3)})

	list := h.Messages("c1")
	ids := make([]string, len(list))
	for i, lm := range list {
		ids[i] = lm.ID
	}
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids)
	assert.Equal(t, models.StatusDelivered, list[0].Status)
	assert.Equal(t, models.StatusSent, list[2].Status)

	conv, _ := h.Conversation("c1")
	assert.EqualValues(t, 3, conv.UnreadCount)
	assert.Equal(t, "m4", conv.LastMessage.ID)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.SetConnected(true)
	h.event(t, protocol.NewMessage, protocol.NewMessagePayload{Message: msg("m1", "bob", 1)})

	require.NoError(t, h.MarkRead(ctx, "c1", []string{"m1"}))
	require.NoError(t, h.MarkRead(ctx, "c1", []string{"m1", "unknown"}))
	// the server's broadcast of our own receipt, from two devices
	for i := 0; i < 2; i++ {
		h.event(t, protocol.MessageRead, protocol.MessageReadPayload{MessageID: "m1", ConversationID: "c1", UserID: "alice"})
	}

	assert.Len(t, h.tr.take(protocol.MarkAsRead), 1)
	list := h.Messages("c1")
	require.Len(t, list, 1)
	assert.Equal(t, []string{"bob", "alice"}, list[0].ReadBy)
	conv, _ := h.Conversation("c1")
	assert.Zero(t, conv.UnreadCount)
}

func TestMarkReadOfflineIsQueued(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.event(t, protocol.NewMessage, protocol.NewMessagePayload{Message: msg("m1", "bob", 1)})

	require.NoError(t, h.MarkRead(ctx, "c1", []string{"m1"}))
	assert.Empty(t, h.tr.take(protocol.MarkAsRead))

	h.SetConnected(true)
	reads := h.tr.take(protocol.MarkAsRead)
	require.Len(t, reads, 1)
	var p protocol.MarkAsReadPayload
	require.NoError(t, reads[0].Bind(&p))
	assert.Equal(t, "m1", p.MessageID)
}

func TestReadReceiptsAdvanceStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.SetConnected(true)

	tempID, err := h.Send(ctx, "c1", "hi", models.MessageText)
	require.NoError(t, err)
	h.event(t, protocol.MessageConfirmed, protocol.MessageConfirmedPayload{TempID: tempID, Message: msg("m1", "alice", 1)})
	assert.Equal(t, models.StatusSent, h.Messages("c1")[0].Status)

	h.event(t, protocol.MessageRead, protocol.MessageReadPayload{MessageID: "m1", ConversationID: "c1", UserID: "bob"})
	got := h.Messages("c1")[0]
	assert.Equal(t, models.StatusRead, got.Status)
	assert.Equal(t, []string{"alice", "bob"}, got.ReadBy)
}

func TestGroupStatusNeedsEveryone(t *testing.T) {
	h := newHarness(t)
	h.api.convs = []models.Conversation{{ID: "g1", Type: models.ConversationGroup, Name: "team",
		Participants: []string{"alice", "bob", "carol"}, UpdatedAt: base}}
	require.NoError(t, h.LoadConversations(context.Background()))

	m := msg("m1", "alice", 1)
	m.ConversationID = "g1"
	h.event(t, protocol.NewMessage, protocol.NewMessagePayload{Message: m})
	h.event(t, protocol.MessageRead, protocol.MessageReadPayload{MessageID: "m1", ConversationID: "g1", UserID: "bob"})
	assert.Equal(t, models.StatusDelivered, h.Messages("g1")[0].Status)

	h.event(t, protocol.MessageRead, protocol.MessageReadPayload{MessageID: "m1", ConversationID: "g1", UserID: "carol"})
	assert.Equal(t, models.StatusRead, h.Messages("g1")[0].Status)
}

func TestOfflineSendsSurviveRestart(t *testing.T) {
	backends := map[string]func(t *testing.T, dir string) outbox.Storage{
		"sqlite": func(t *testing.T, dir string) outbox.Storage {
			s, err := outbox.NewSQLite(filepath.Join(dir, "outbox.db"))
			require.NoError(t, err)
			return s
		},
		"pebble": func(t *testing.T, dir string) outbox.Storage {
			s, err := outbox.NewPebble(filepath.Join(dir, "outbox"))
			require.NoError(t, err)
			return s
		},
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			store := open(t, dir)
			first := newHarness(t, func(o *Options) { o.Outbox = store })
			var temps []string
			for _, text := range []string{"one", "two", "three"} {
				id, err := first.Send(ctx, "c1", text, models.MessageText)
				require.NoError(t, err)
				temps = append(temps, id)
			}
			assert.Empty(t, first.tr.take(protocol.SendMessage))
			require.NoError(t, store.Close())

			// restart
			store = open(t, dir)
			defer store.Close()
			h := newHarness(t, func(o *Options) { o.Outbox = store })
			require.NoError(t, h.Restore(ctx))
			require.NoError(t, h.Restore(ctx))

			list := h.Messages("c1")
			require.Len(t, list, 3)
			for i, lm := range list {
				assert.Equal(t, temps[i], lm.TempID)
				assert.Equal(t, models.StatusSending, lm.Status)
			}

			h.SetConnected(true)
			sent := h.tr.take(protocol.SendMessage)
			require.Len(t, sent, 3)
			for i, env := range sent {
				p := bindSend(t, env)
				assert.Equal(t, temps[i], p.TempID)
				m := msg("m"+p.TempID, "alice", i)
				m.Content = p.Content
				h.event(t, protocol.MessageConfirmed, protocol.MessageConfirmedPayload{TempID: p.TempID, Message: m})
			}

			list = h.Messages("c1")
			require.Len(t, list, 3)
			for i, lm := range list {
				assert.Equal(t, models.StatusSent, lm.Status)
				assert.Equal(t, []string{"one", "two", "three"}[i], lm.Content)
			}
			assert.Empty(t, h.Outbox())
			left, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, left)
		})
	}
}

func TestFailedSendRetryAndDiscard(t *testing.T) {
	ctx := context.Background()
	store := outbox.NewMemory()
	h := newHarness(t, func(o *Options) { o.Outbox = store })
	h.SetConnected(true)

	tempID, err := h.Send(ctx, "c1", "hi", models.MessageText)
	require.NoError(t, err)
	h.event(t, protocol.MessageFailed, protocol.MessageFailedPayload{TempID: tempID, Error: "message could not be saved"})

	list := h.Messages("c1")
	require.Len(t, list, 1)
	assert.Equal(t, models.StatusFailed, list[0].Status)
	assert.Equal(t, "message could not be saved", list[0].Error)

	// a reconnect does not replay failed entries
	h.tr.take("")
	h.SetConnected(false)
	h.SetConnected(true)
	assert.Empty(t, h.tr.take(protocol.SendMessage))

	// the failure survives a restart
	again := newHarness(t, func(o *Options) { o.Outbox = store })
	require.NoError(t, again.Restore(ctx))
	require.Len(t, again.Messages("c1"), 1)
	assert.Equal(t, models.StatusFailed, again.Messages("c1")[0].Status)

	newID, err := h.Retry(ctx, tempID)
	require.NoError(t, err)
	assert.NotEqual(t, tempID, newID)
	list = h.Messages("c1")
	require.Len(t, list, 1)
	assert.Equal(t, newID, list[0].TempID)
	assert.Equal(t, models.StatusSending, list[0].Status)
	sent := h.tr.take(protocol.SendMessage)
	require.Len(t, sent, 1)
	assert.Equal(t, "hi", bindSend(t, sent[0]).Content)

	_, err = h.Retry(ctx, newID)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	require.NoError(t, h.Discard(ctx, newID))
	assert.Empty(t, h.Messages("c1"))
	left, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.True(t, apperr.Is(h.Discard(ctx, newID), apperr.KindNotFound))
}

func TestTypingDecay(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	var typingEvents int
	h.Subscribe(func(ev Event) {
		if ev.Kind == EventTyping {
			mu.Lock()
			typingEvents++
			mu.Unlock()
		}
	})

	h.event(t, protocol.Typing, protocol.TypingPayload{ConversationID: "c1", UserID: "bob"})
	h.event(t, protocol.Typing, protocol.TypingPayload{ConversationID: "c1", UserID: "alice"})
	assert.Equal(t, []string{"bob"}, h.Typing("c1"))

	h.clock.Advance(2 * time.Second)
	h.ExpireTyping()
	assert.Equal(t, []string{"bob"}, h.Typing("c1"))

	h.clock.Advance(time.Second)
	assert.Empty(t, h.Typing("c1"))
	h.ExpireTyping()

	mu.Lock()
	defer mu.Unlock()
	// one for the signal, one for the expiry
	assert.Equal(t, 2, typingEvents)
}

func TestTypingThrottle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.SendTyping(ctx, "c1"))
	assert.Empty(t, h.tr.take(protocol.Typing), "offline typing is dropped")

	h.SetConnected(true)
	require.NoError(t, h.SendTyping(ctx, "c1"))
	require.NoError(t, h.SendTyping(ctx, "c1"))
	assert.Len(t, h.tr.take(protocol.Typing), 1)

	h.clock.Advance(time.Second)
	require.NoError(t, h.SendTyping(ctx, "c1"))
	assert.Len(t, h.tr.take(protocol.Typing), 1)
}

func TestReactionToggle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := msg("m1", "bob", 1)
	h.api.put(m)
	h.event(t, protocol.NewMessage, protocol.NewMessagePayload{Message: m})

	require.NoError(t, h.ToggleReaction(ctx, "m1", "👍"))
	got := h.Messages("c1")[0]
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, []string{"alice"}, got.Reactions[0].Users)

	require.NoError(t, h.ToggleReaction(ctx, "m1", "👍"))
	assert.Empty(t, h.Messages("c1")[0].Reactions)

	assert.True(t, apperr.Is(h.ToggleReaction(ctx, "temp-x", "👍"), apperr.KindNotFound))
}

func TestRESTFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.event(t, protocol.NewMessage, protocol.NewMessagePayload{Message: msg("m1", "bob", 1)})
	var errs []error
	h.Subscribe(func(ev Event) {
		if ev.Kind == EventError {
			errs = append(errs, ev.Err)
		}
	})

	before := h.Conversations()
	h.api.fail(apperr.Persistence("list conversations", errors.New("connection refused")))

	assert.Error(t, h.LoadConversations(ctx))
	assert.Error(t, h.LoadMessages(ctx, "c1", nil))
	_, err := h.CreateConversation(ctx, models.ConversationGroup, []string{"bob", "carol"}, "team")
	assert.Error(t, err)
	assert.Error(t, h.DeleteMessage(ctx, "m1"))

	assert.Equal(t, before, h.Conversations())
	assert.Len(t, h.Messages("c1"), 1)
	assert.True(t, apperr.Is(h.LastError(), apperr.KindPersistence))
	assert.Len(t, errs, 4)
	assert.NoError(t, h.AuthError())
}

func TestAuthErrorIsAHardStop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.SetConnected(true)

	h.api.fail(apperr.Auth("list conversations", errors.New("token expired")))
	err := h.LoadConversations(ctx)
	require.True(t, apperr.Is(err, apperr.KindAuth))

	assert.False(t, h.Connected())
	assert.Error(t, h.AuthError())
	h.SetConnected(true)
	assert.False(t, h.Connected())

	_, err = h.Send(ctx, "c1", "hi", models.MessageText)
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	h.api.fail(nil)
	calls := h.api.calls
	assert.Error(t, h.LoadConversations(ctx))
	assert.Equal(t, calls, h.api.calls, "no request after the hard stop")
}

func TestSetAuthFailedFromTransport(t *testing.T) {
	h := newHarness(t)
	h.SetAuthFailed(errors.New("bad handshake"))
	assert.True(t, apperr.Is(h.AuthError(), apperr.KindAuth))
	assert.True(t, apperr.Is(h.LastError(), apperr.KindAuth))
}

func TestReconnectRejoinsFlushesAndResyncs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.JoinRoom(ctx, protocol.MeetingRoom("standup")))
	assert.True(t, apperr.Is(h.JoinRoom(ctx, "lobby"), apperr.KindValidation))

	require.NoError(t, h.Focus(ctx, "c1"))
	_, err := h.Send(ctx, "c1", "queued", models.MessageText)
	require.NoError(t, err)

	// missed while offline
	h.api.put(msg("m1", "bob", 1))
	h.SetConnected(true)

	all := h.tr.take("")
	var types []string
	for _, env := range all {
		types = append(types, env.Type)
	}
	require.GreaterOrEqual(t, len(types), 4)
	assert.Equal(t, []string{protocol.JoinRoom, protocol.JoinRoom, protocol.SendMessage, protocol.MarkAsRead}, types[:4])

	var ids []string
	for _, lm := range h.Messages("c1") {
		ids = append(ids, lm.ID)
	}
	assert.Contains(t, ids, "m1")
	assert.Len(t, ids, 2)
	assert.Equal(t, []string{protocol.ConversationRoom("c1"), protocol.MeetingRoom("standup")}, h.Rooms())
}

func TestRoomIsSubscribedOnlyOnceAcknowledged(t *testing.T) {
	h := newHarness(t)
	room := protocol.ConversationRoom("c1")
	h.SetConnected(true)
	require.Len(t, h.tr.take(protocol.JoinRoom), 1)
	assert.False(t, h.Subscribed(room))

	h.event(t, protocol.RoomJoined, protocol.RoomPayload{RoomID: room})
	assert.True(t, h.Subscribed(room))

	h.SetConnected(false)
	assert.False(t, h.Subscribed(room))
	assert.Equal(t, []string{room}, h.Rooms())
}

func TestRetryableJoinFailureIsRepeated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	room := protocol.ConversationRoom("c1")
	require.NoError(t, h.Focus(ctx, "c1"))
	h.SetConnected(true)
	h.tr.take("")
	calls := h.api.calls

	rejected := protocol.ErrorPayload{Event: protocol.JoinRoom, Error: "internal error", RoomID: room, Retryable: true}
	for i := 0; i < maxJoinAttempts; i++ {
		h.event(t, protocol.Error, rejected)
		joins := h.tr.take(protocol.JoinRoom)
		require.Len(t, joins, 1)
		var p protocol.RoomPayload
		require.NoError(t, joins[0].Bind(&p))
		assert.Equal(t, room, p.RoomID)
	}
	h.event(t, protocol.Error, rejected)
	assert.Empty(t, h.tr.take(protocol.JoinRoom), "attempts are bounded")
	assert.False(t, h.Subscribed(room))
	require.Error(t, h.LastError())

	// the repeated join finally lands: the focused conversation is refetched
	h.event(t, protocol.RoomJoined, protocol.RoomPayload{RoomID: room})
	assert.True(t, h.Subscribed(room))
	assert.Greater(t, h.api.calls, calls)
}

func TestRefusedJoinIsForgotten(t *testing.T) {
	h := newHarness(t)
	room := protocol.ConversationRoom("c1")
	h.SetConnected(true)
	h.tr.take("")

	h.event(t, protocol.Error, protocol.ErrorPayload{Event: protocol.JoinRoom, Error: "not a participant", RoomID: room})
	assert.Empty(t, h.tr.take(protocol.JoinRoom))
	assert.Empty(t, h.Rooms())

	h.SetConnected(false)
	h.SetConnected(true)
	assert.Empty(t, h.tr.take(protocol.JoinRoom))
}

func TestResyncDropsMessagesDeletedWhileAway(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.event(t, protocol.NewMessage, protocol.NewMessagePayload{Message: msg("m1", "bob", 1)})
	h.event(t, protocol.NewMessage, protocol.NewMessagePayload{Message: msg("m2", "bob", 2)})
	h.api.put(msg("m2", "bob", 2))
	h.api.put(msg("m3", "bob", 3))

	require.NoError(t, h.Focus(ctx, "c1"))
	h.SetConnected(true)

	var ids []string
	for _, lm := range h.Messages("c1") {
		ids = append(ids, lm.ID)
		assert.True(t, lm.ReadByUser("alice"))
	}
	assert.Equal(t, []string{"m2", "m3"}, ids)
}

func TestServerEvents(t *testing.T) {
	h := newHarness(t)
	m := msg("m1", "bob", 1)
	h.event(t, protocol.NewMessage, protocol.NewMessagePayload{Message: msg("m0", "bob", 0)})
	h.event(t, protocol.NewMessage, protocol.NewMessagePayload{Message: m})

	h.event(t, protocol.Presence, protocol.PresencePayload{UserID: "bob", Status: protocol.StatusOnline})
	assert.True(t, h.Online("bob"))
	h.event(t, protocol.Presence, protocol.PresencePayload{UserID: "bob", Status: protocol.StatusOffline})
	assert.False(t, h.Online("bob"))

	m.Reactions = []models.Reaction{{Emoji: "🎉", Users: []string{"bob"}}}
	h.event(t, protocol.ReactionUpdated, protocol.ReactionUpdatedPayload{Message: m})
	assert.Len(t, h.Messages("c1")[1].Reactions, 1)

	h.event(t, protocol.MessageDeleted, protocol.MessageDeletedPayload{MessageID: "m1", ConversationID: "c1"})
	require.Len(t, h.Messages("c1"), 1)
	conv, _ := h.Conversation("c1")
	assert.Equal(t, "m0", conv.LastMessage.ID)
	assert.EqualValues(t, 1, conv.UnreadCount)

	room := protocol.MeetingRoom("standup")
	h.event(t, protocol.UserJoined, protocol.MemberPayload{RoomID: room, UserID: "bob"})
	assert.Equal(t, []string{"bob"}, h.RoomMembers(room))
	h.event(t, protocol.UserLeft, protocol.MemberPayload{RoomID: room, UserID: "bob"})
	assert.Empty(t, h.RoomMembers(room))

	h.event(t, protocol.ConversationCreated, protocol.ConversationCreatedPayload{Conversation: models.Conversation{
		ID: "g1", Type: models.ConversationGroup, Name: "team", Participants: []string{"alice", "bob", "carol"}, UpdatedAt: base,
	}})
	assert.Len(t, h.Conversations(), 2)
	assert.Contains(t, h.Rooms(), protocol.ConversationRoom("g1"))

	h.event(t, protocol.Error, protocol.ErrorPayload{Event: protocol.JoinRoom, Error: "not a participant"})
	assert.EqualError(t, h.LastError(), "join_room: not a participant")
}

func TestConversationsSortedByActivity(t *testing.T) {
	h := newHarness(t)
	h.api.convs = []models.Conversation{
		pair(),
		{ID: "c2", Type: models.ConversationDirect, Participants: []string{"alice", "carol"}, UpdatedAt: base.Add(time.Minute)},
	}
	require.NoError(t, h.LoadConversations(context.Background()))
	assert.Equal(t, "c2", h.Conversations()[0].ID)

	h.event(t, protocol.NewMessage, protocol.NewMessagePayload{Message: msg("m1", "bob", 120)})
	assert.Equal(t, "c1", h.Conversations()[0].ID)
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.SetConnected(true)

	require.NoError(t, h.Dispatch(ctx, SendIntent{ConversationID: "c1", Content: "hi"}))
	require.Len(t, h.Outbox(), 1)
	require.NoError(t, h.Dispatch(ctx, DiscardIntent{TempID: h.Outbox()[0].TempID}))
	assert.Empty(t, h.Outbox())

	require.NoError(t, h.Dispatch(ctx, CreateConversationIntent{Type: models.ConversationGroup, Participants: []string{"bob", "carol"}, Name: "team"}))
	_, ok := h.Conversation("c-new")
	assert.True(t, ok)

	require.NoError(t, h.Dispatch(ctx, JoinRoomIntent{RoomID: protocol.MeetingRoom("m1")}))
	require.NoError(t, h.Dispatch(ctx, LeaveRoomIntent{RoomID: protocol.MeetingRoom("m1")}))
	assert.NotContains(t, h.Rooms(), protocol.MeetingRoom("m1"))
	require.NoError(t, h.Dispatch(ctx, FocusIntent{}))
	require.NoError(t, h.Dispatch(ctx, LoadConversationsIntent{}))
}

func TestEnginesAreIndependent(t *testing.T) {
	a := New(Options{Identity: "alice", Logger: zaptest.NewLogger(t)})
	b := New(Options{Identity: "bob", Logger: zaptest.NewLogger(t)})

	_, err := a.Send(context.Background(), "c1", "hi", models.MessageText)
	require.NoError(t, err)
	assert.Len(t, a.Outbox(), 1)
	assert.Empty(t, b.Outbox())
	assert.False(t, a.Connected())
}
