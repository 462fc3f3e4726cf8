package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/models"
	"github.com/ageniuscoder/roomtalk/backend/internal/storage"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const convColumns = `id, type, participants, name, direct_key, last_message, created_at, updated_at`

const msgColumns = `id, conversation_id, sender_id, content, type, read_by, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		c         models.Conversation
		parts     pq.StringArray
		directKey sql.NullString
		last      []byte
	)
	if err := row.Scan(&c.ID, &c.Type, &parts, &c.Name, &directKey, &last, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	c.Participants = []string(parts)
	c.DirectKey = directKey.String
	if len(last) > 0 {
		var snap models.MessageSnapshot
		if err := json.Unmarshal(last, &snap); err != nil {
			return nil, fmt.Errorf("decode last_message: %w", err)
		}
		c.LastMessage = &snap
	}
	return &c, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m      models.Message
		readBy pq.StringArray
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type, &readBy, &m.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	m.ReadBy = []string(readBy)
	m.Normalize()
	return &m, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Postgres) CreateConversation(ctx context.Context, c *models.Conversation) (*models.Conversation, bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	id := uuid.NewString()
	now := time.Now().UTC()
	row := s.Db.QueryRowContext(ctx, `
		INSERT INTO conversations (id, type, participants, name, direct_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (direct_key) DO NOTHING
		RETURNING `+convColumns,
		id, c.Type, pq.Array(c.Participants), c.Name, nullable(c.DirectKey), now)
	conv, err := scanConversation(row)
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, storage.ErrNotFound) || c.DirectKey == "" {
		return nil, false, fmt.Errorf("insert conversation: %w", err)
	}
	// the pair already has a conversation
	conv, err = scanConversation(s.Db.QueryRowContext(ctx,
		`SELECT `+convColumns+` FROM conversations WHERE direct_key = $1`, c.DirectKey))
	if err != nil {
		return nil, false, fmt.Errorf("load direct conversation: %w", err)
	}
	return conv, false, nil
}

func (s *Postgres) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return scanConversation(s.Db.QueryRowContext(ctx, `SELECT `+convColumns+` FROM conversations WHERE id = $1`, id))
}

func (s *Postgres) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	rows, err := s.Db.QueryContext(ctx, `
		SELECT `+convColumns+` FROM conversations
		WHERE $1 = ANY(participants)
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []models.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	models.SortByActivity(out)
	return out, nil
}

func (s *Postgres) AddParticipant(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	return s.updateParticipants(ctx, conversationID, `
		UPDATE conversations SET participants = array_append(participants, $2), updated_at = now()
		WHERE id = $1 AND NOT ($2 = ANY(participants))`, userID)
}

func (s *Postgres) RemoveParticipant(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	return s.updateParticipants(ctx, conversationID, `
		UPDATE conversations SET participants = array_remove(participants, $2), updated_at = now()
		WHERE id = $1 AND $2 = ANY(participants)`, userID)
}

func (s *Postgres) updateParticipants(ctx context.Context, id, query, userID string) (*models.Conversation, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	if _, err := s.Db.ExecContext(ctx, query, id, userID); err != nil {
		return nil, fmt.Errorf("update participants: %w", err)
	}
	return scanConversation(s.Db.QueryRowContext(ctx, `SELECT `+convColumns+` FROM conversations WHERE id = $1`, id))
}

func (s *Postgres) DeleteConversation(ctx context.Context, id string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	res, err := s.Db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Postgres) CreateMessage(ctx context.Context, m *models.Message) (*models.Message, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	msg := m.Clone()
	msg.Normalize()
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()
	snap, err := json.Marshal(msg.Snapshot())
	if err != nil {
		return nil, err
	}

	tx, err := s.Db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, type, read_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.Type, pq.Array(msg.ReadBy), msg.CreatedAt)
	if err != nil {
		if pqCode(err) == codeForeignKeyViolation {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET last_message = $2, updated_at = $3 WHERE id = $1`,
		msg.ConversationID, snap, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &msg, nil
}

func (s *Postgres) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.getMessage(ctx, id)
}

func (s *Postgres) getMessage(ctx context.Context, id string) (*models.Message, error) {
	m, err := scanMessage(s.Db.QueryRowContext(ctx, `SELECT `+msgColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	reactions, err := s.loadReactions(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if rs, ok := reactions[id]; ok {
		m.Reactions = rs
	}
	return m, nil
}

func (s *Postgres) ListMessages(ctx context.Context, conversationID string, page storage.Page) ([]models.Message, error) {
	page = page.Normalize()
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	before := page.Before
	if before.IsZero() {
		before = time.Now().UTC().Add(time.Hour)
	}
	rows, err := s.Db.QueryContext(ctx, `
		SELECT `+msgColumns+` FROM messages
		WHERE conversation_id = $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3`, conversationID, before, page.Limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []models.Message{}
	var ids []string
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}
	reactions, err := s.loadReactions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if rs, ok := reactions[out[i].ID]; ok {
			out[i].Reactions = rs
		}
	}
	return out, nil
}

// loadReactions groups reaction rows per message. Emoji order follows the
// first reaction with that emoji.
func (s *Postgres) loadReactions(ctx context.Context, ids []string) (map[string][]models.Reaction, error) {
	rows, err := s.Db.QueryContext(ctx, `
		SELECT message_id, emoji, user_id FROM message_reactions
		WHERE message_id = ANY($1)
		ORDER BY created_at`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("load reactions: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]models.Reaction)
	for rows.Next() {
		var mid, emoji, uid string
		if err := rows.Scan(&mid, &emoji, &uid); err != nil {
			return nil, err
		}
		out[mid] = appendReaction(out[mid], emoji, uid)
	}
	return out, rows.Err()
}

func appendReaction(rs []models.Reaction, emoji, userID string) []models.Reaction {
	for i := range rs {
		if rs[i].Emoji == emoji {
			rs[i].Users = append(rs[i].Users, userID)
			return rs
		}
	}
	return append(rs, models.Reaction{Emoji: emoji, Users: []string{userID}})
}

func (s *Postgres) MarkRead(ctx context.Context, messageID, userID string) (*models.Message, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	// the row lock makes a concurrent second append re-check the guard
	_, err := s.Db.ExecContext(ctx, `
		UPDATE messages SET read_by = array_append(read_by, $2)
		WHERE id = $1 AND NOT ($2 = ANY(read_by))`, messageID, userID)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return s.getMessage(ctx, messageID)
}

func (s *Postgres) ToggleReaction(ctx context.Context, messageID, emoji, userID string) (*models.Message, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	res, err := s.Db.ExecContext(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND emoji = $2 AND user_id = $3`,
		messageID, emoji, userID)
	if err != nil {
		return nil, fmt.Errorf("remove reaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = s.Db.ExecContext(ctx, `
			INSERT INTO message_reactions (message_id, emoji, user_id) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`, messageID, emoji, userID)
		if err != nil {
			if pqCode(err) == codeForeignKeyViolation {
				return nil, storage.ErrNotFound
			}
			return nil, fmt.Errorf("add reaction: %w", err)
		}
	}
	return s.getMessage(ctx, messageID)
}

func (s *Postgres) DeleteMessage(ctx context.Context, id string) (*models.Message, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	m, err := scanMessage(s.Db.QueryRowContext(ctx,
		`DELETE FROM messages WHERE id = $1 RETURNING `+msgColumns, id))
	if err != nil {
		return nil, err
	}
	_, err = s.Db.ExecContext(ctx, `
		UPDATE conversations SET last_message = NULL
		WHERE id = $1 AND last_message->>'id' = $2`, m.ConversationID, m.ID)
	if err != nil {
		s.log.Warn("clear last message failed", zap.String("conversation_id", m.ConversationID), zap.Error(err))
	}
	return m, nil
}

func (s *Postgres) UnreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var n int64
	err := s.Db.QueryRowContext(ctx, `
		SELECT count(*) FROM messages
		WHERE conversation_id = $1 AND sender_id <> $2 AND NOT ($2 = ANY(read_by))`,
		conversationID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

var _ storage.Store = (*Postgres)(nil)
