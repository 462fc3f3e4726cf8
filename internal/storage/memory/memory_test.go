package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/models"
	"github.com/ageniuscoder/roomtalk/backend/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func direct(a, b string) *models.Conversation {
	c := &models.Conversation{Type: models.ConversationDirect, Participants: []string{a, b}}
	c.Normalize()
	return c
}

func TestCreateConversationDirectIsCanonical(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, created, err := s.CreateConversation(ctx, direct("alice", "bob"))
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.CreateConversation(ctx, direct("bob", "alice"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	list, err := s.ListConversations(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMarkReadConcurrentDevices(t *testing.T) {
	ctx := context.Background()
	s := New()
	conv, _, err := s.CreateConversation(ctx, direct("alice", "bob"))
	require.NoError(t, err)
	msg, err := s.CreateMessage(ctx, models.NewMessage(conv.ID, "alice", "hi", models.MessageText))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.MarkRead(ctx, msg.ID, "bob")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, got.ReadBy)
}

func TestToggleReactionRemovesEmptyEntry(t *testing.T) {
	ctx := context.Background()
	s := New()
	conv, _, _ := s.CreateConversation(ctx, direct("alice", "bob"))
	msg, err := s.CreateMessage(ctx, models.NewMessage(conv.ID, "alice", "hi", ""))
	require.NoError(t, err)

	m, err := s.ToggleReaction(ctx, msg.ID, "👍", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, models.ReactionUsers(m.Reactions, "👍"))

	m, err = s.ToggleReaction(ctx, msg.ID, "👍", "bob")
	require.NoError(t, err)
	assert.Empty(t, m.Reactions)
}

func TestListMessagesPaging(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s := New().WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	conv, _, _ := s.CreateConversation(ctx, direct("alice", "bob"))
	var ids []string
	for i := 0; i < 5; i++ {
		m, err := s.CreateMessage(ctx, models.NewMessage(conv.ID, "alice", "m", ""))
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	page, err := s.ListMessages(ctx, conv.ID, storage.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	older, err := s.ListMessages(ctx, conv.ID, storage.Page{Before: page[1].CreatedAt, Limit: 10})
	require.NoError(t, err)
	require.Len(t, older, 3)
	assert.Equal(t, ids[2], older[0].ID)
}

func TestUnreadCountAndLastMessage(t *testing.T) {
	ctx := context.Background()
	s := New()
	conv, _, _ := s.CreateConversation(ctx, direct("alice", "bob"))
	m1, _ := s.CreateMessage(ctx, models.NewMessage(conv.ID, "alice", "one", ""))
	m2, _ := s.CreateMessage(ctx, models.NewMessage(conv.ID, "alice", "two", ""))

	n, err := s.UnreadCount(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = s.MarkRead(ctx, m1.ID, "bob")
	require.NoError(t, err)
	n, _ = s.UnreadCount(ctx, conv.ID, "bob")
	assert.EqualValues(t, 1, n)

	got, _ := s.GetConversation(ctx, conv.ID)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, m2.ID, got.LastMessage.ID)

	_, err = s.DeleteMessage(ctx, m2.ID)
	require.NoError(t, err)
	got, _ = s.GetConversation(ctx, conv.ID)
	assert.Equal(t, m1.ID, got.LastMessage.ID)
}

func TestFailWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	conv, _, _ := s.CreateConversation(ctx, direct("alice", "bob"))
	boom := errors.New("store down")
	s.FailWrites(boom)
	_, err := s.CreateMessage(ctx, models.NewMessage(conv.ID, "alice", "hi", ""))
	assert.ErrorIs(t, err, boom)

	s.FailWrites(nil)
	_, err = s.CreateMessage(ctx, models.NewMessage(conv.ID, "alice", "hi", ""))
	assert.NoError(t, err)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.GetConversation(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.MarkRead(ctx, "nope", "bob")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.CreateMessage(ctx, models.NewMessage("nope", "a", "hi", ""))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
