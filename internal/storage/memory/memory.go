// Package memory is an in-process Store. It backs tests and single-node
// development runs.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/models"
	"github.com/ageniuscoder/roomtalk/backend/internal/storage"
	"github.com/google/uuid"
)

type Store struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	direct        map[string]string
	messages      map[string]*models.Message
	byConv        map[string][]string

	now        func() time.Time
	failWrites error
}

func New() *Store {
	return &Store{
		conversations: make(map[string]*models.Conversation),
		direct:        make(map[string]string),
		messages:      make(map[string]*models.Message),
		byConv:        make(map[string][]string),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// FailWrites makes every later message write return err. A nil err clears it.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	s.failWrites = err
	s.mu.Unlock()
}

// WithClock replaces the time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func cloneConv(c *models.Conversation) *models.Conversation {
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	return &cp
}

func cloneMsg(m *models.Message) *models.Message {
	cp := m.Clone()
	return &cp
}

func (s *Store) CreateConversation(_ context.Context, c *models.Conversation) (*models.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.DirectKey != "" {
		if id, ok := s.direct[c.DirectKey]; ok {
			return cloneConv(s.conversations[id]), false, nil
		}
	}
	conv := cloneConv(c)
	conv.ID = uuid.NewString()
	now := s.now()
	conv.CreatedAt, conv.UpdatedAt = now, now
	s.conversations[conv.ID] = conv
	if conv.DirectKey != "" {
		s.direct[conv.DirectKey] = conv.ID
	}
	return cloneConv(conv), true, nil
}

func (s *Store) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneConv(c), nil
}

func (s *Store) ListConversations(_ context.Context, userID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Conversation{}
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			out = append(out, *cloneConv(c))
		}
	}
	models.SortByActivity(out)
	return out, nil
}

func (s *Store) AddParticipant(_ context.Context, conversationID, userID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if !c.HasParticipant(userID) {
		c.Participants = append(c.Participants, userID)
		c.UpdatedAt = s.now()
	}
	return cloneConv(c), nil
}

func (s *Store) RemoveParticipant(_ context.Context, conversationID, userID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if i := slices.Index(c.Participants, userID); i >= 0 {
		c.Participants = slices.Delete(c.Participants, i, i+1)
		c.UpdatedAt = s.now()
	}
	return cloneConv(c), nil
}

func (s *Store) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return storage.ErrNotFound
	}
	for _, mid := range s.byConv[id] {
		delete(s.messages, mid)
	}
	delete(s.byConv, id)
	if c.DirectKey != "" {
		delete(s.direct, c.DirectKey)
	}
	delete(s.conversations, id)
	return nil
}

func (s *Store) CreateMessage(_ context.Context, m *models.Message) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return nil, s.failWrites
	}
	c, ok := s.conversations[m.ConversationID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	msg := cloneMsg(m)
	msg.Normalize()
	msg.ID = uuid.NewString()
	msg.CreatedAt = s.now()
	s.messages[msg.ID] = msg
	s.byConv[msg.ConversationID] = append(s.byConv[msg.ConversationID], msg.ID)
	c.LastMessage = msg.Snapshot()
	c.UpdatedAt = msg.CreatedAt
	return cloneMsg(msg), nil
}

func (s *Store) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneMsg(m), nil
}

func (s *Store) ListMessages(_ context.Context, conversationID string, page storage.Page) ([]models.Message, error) {
	page = page.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byConv[conversationID]
	out := make([]models.Message, 0, min(len(ids), page.Limit))
	for i := len(ids) - 1; i >= 0 && len(out) < page.Limit; i-- {
		m := s.messages[ids[i]]
		if !page.Before.IsZero() && !m.CreatedAt.Before(page.Before) {
			continue
		}
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *Store) MarkRead(_ context.Context, messageID, userID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return nil, s.failWrites
	}
	m, ok := s.messages[messageID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	m.ReadBy, _ = models.AddReader(m.ReadBy, userID)
	return cloneMsg(m), nil
}

func (s *Store) ToggleReaction(_ context.Context, messageID, emoji, userID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return nil, s.failWrites
	}
	m, ok := s.messages[messageID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	m.Reactions = models.ToggleReaction(m.Reactions, emoji, userID)
	return cloneMsg(m), nil
}

func (s *Store) DeleteMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	delete(s.messages, id)
	ids := s.byConv[m.ConversationID]
	if i := slices.Index(ids, id); i >= 0 {
		s.byConv[m.ConversationID] = slices.Delete(ids, i, i+1)
	}
	if c, ok := s.conversations[m.ConversationID]; ok && c.LastMessage != nil && c.LastMessage.ID == id {
		c.LastMessage = nil
		if rest := s.byConv[m.ConversationID]; len(rest) > 0 {
			c.LastMessage = s.messages[rest[len(rest)-1]].Snapshot()
		}
	}
	return m, nil
}

func (s *Store) UnreadCount(_ context.Context, conversationID, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, id := range s.byConv[conversationID] {
		m := s.messages[id]
		if m.SenderID != userID && !m.ReadByUser(userID) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close(context.Context) error { return nil }

var _ storage.Store = (*Store)(nil)
