// Package mongo is the document-store implementation of storage.Store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/models"
	"github.com/ageniuscoder/roomtalk/backend/internal/storage"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const reactionRetries = 3

type Store struct {
	client   *driver.Client
	convs    *driver.Collection
	messages *driver.Collection
	timeout  time.Duration
	log      *zap.Logger
}

// Connect dials uri, verifies the connection and ensures indexes on dbName.
func Connect(ctx context.Context, uri, dbName string, timeout time.Duration, log *zap.Logger) (*Store, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := driver.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(cctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	db := client.Database(dbName)
	s := &Store{
		client:   client,
		convs:    db.Collection("conversations"),
		messages: db.Collection("messages"),
		timeout:  timeout,
		log:      log.Named("mongo"),
	}
	if err := s.ensureIndexes(cctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.convs.Indexes().CreateMany(ctx, []driver.IndexModel{
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}}},
		{
			Keys: bson.D{{Key: "direct_key", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"direct_key": bson.M{"$type": "string"}}),
		},
	})
	if err != nil {
		return fmt.Errorf("conversation indexes: %w", err)
	}
	_, err = s.messages.Indexes().CreateOne(ctx, driver.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("message indexes: %w", err)
	}
	return nil
}

func (s *Store) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func notFound(err error) error {
	if errors.Is(err, driver.ErrNoDocuments) {
		return storage.ErrNotFound
	}
	return err
}

func afterUpdate() *options.FindOneAndUpdateOptions {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}

func (s *Store) CreateConversation(ctx context.Context, c *models.Conversation) (*models.Conversation, bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	conv := *c
	conv.ID = uuid.NewString()
	now := time.Now().UTC()
	conv.CreatedAt, conv.UpdatedAt = now, now

	if conv.DirectKey == "" {
		if _, err := s.convs.InsertOne(ctx, &conv); err != nil {
			return nil, false, fmt.Errorf("insert conversation: %w", err)
		}
		return &conv, true, nil
	}

	filter, update := directUpsert(&conv)
	var got models.Conversation
	err := s.convs.FindOneAndUpdate(ctx, filter, update, afterUpdate().SetUpsert(true)).Decode(&got)
	if driver.IsDuplicateKeyError(err) {
		// lost an upsert race on the unique direct_key index
		err = s.convs.FindOne(ctx, filter).Decode(&got)
	}
	if err != nil {
		return nil, false, fmt.Errorf("upsert direct conversation: %w", err)
	}
	return &got, got.ID == conv.ID, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var c models.Conversation
	if err := s.convs.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cur, err := s.convs.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find conversations: %w", err)
	}
	out := []models.Conversation{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	models.SortByActivity(out)
	return out, nil
}

func (s *Store) AddParticipant(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	return s.updateConversation(ctx, conversationID, addParticipantUpdate(userID, time.Now().UTC()))
}

func (s *Store) RemoveParticipant(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	return s.updateConversation(ctx, conversationID, removeParticipantUpdate(userID, time.Now().UTC()))
}

func (s *Store) updateConversation(ctx context.Context, id string, update bson.M) (*models.Conversation, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var c models.Conversation
	if err := s.convs.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, afterUpdate()).Decode(&c); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	res, err := s.convs.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	if _, err := s.messages.DeleteMany(ctx, bson.M{"conversation_id": id}); err != nil {
		return fmt.Errorf("delete conversation messages: %w", err)
	}
	return nil
}

func (s *Store) CreateMessage(ctx context.Context, m *models.Message) (*models.Message, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	msg := m.Clone()
	msg.Normalize()
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()

	res, err := s.convs.UpdateOne(ctx, bson.M{"_id": msg.ConversationID}, lastMessageUpdate(&msg))
	if err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	if res.MatchedCount == 0 {
		return nil, storage.ErrNotFound
	}
	if _, err := s.messages.InsertOne(ctx, &msg); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var m models.Message
	if err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, notFound(err)
	}
	m.Normalize()
	return &m, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, page storage.Page) ([]models.Message, error) {
	page = page.Normalize()
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(page.Limit))
	cur, err := s.messages.Find(ctx, messagesFilter(conversationID, page.Before), opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	out := []models.Message{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	for i := range out {
		out[i].Normalize()
	}
	return out, nil
}

func (s *Store) MarkRead(ctx context.Context, messageID, userID string) (*models.Message, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var m models.Message
	err := s.messages.FindOneAndUpdate(ctx, bson.M{"_id": messageID}, markReadUpdate(userID), afterUpdate()).Decode(&m)
	if err != nil {
		return nil, notFound(err)
	}
	m.Normalize()
	return &m, nil
}

func (s *Store) ToggleReaction(ctx context.Context, messageID, emoji, userID string) (*models.Message, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	for attempt := 0; attempt < reactionRetries; attempt++ {
		f, u := reactionRemoveStep(messageID, emoji, userID)
		res, err := s.messages.UpdateOne(ctx, f, u)
		if err != nil {
			return nil, fmt.Errorf("reaction remove: %w", err)
		}
		if res.MatchedCount > 0 {
			f, u = reactionPruneStep(messageID, emoji)
			if _, err := s.messages.UpdateOne(ctx, f, u); err != nil {
				return nil, fmt.Errorf("reaction prune: %w", err)
			}
			return s.GetMessage(ctx, messageID)
		}

		f, u = reactionAddStep(messageID, emoji, userID)
		if res, err = s.messages.UpdateOne(ctx, f, u); err != nil {
			return nil, fmt.Errorf("reaction add: %w", err)
		}
		if res.MatchedCount > 0 {
			return s.GetMessage(ctx, messageID)
		}

		f, u = reactionInsertStep(messageID, emoji, userID)
		if res, err = s.messages.UpdateOne(ctx, f, u); err != nil {
			return nil, fmt.Errorf("reaction insert: %w", err)
		}
		if res.MatchedCount > 0 {
			return s.GetMessage(ctx, messageID)
		}

		// either the message is gone or another writer created the emoji
		// entry between our steps
		if _, err := s.GetMessage(ctx, messageID); err != nil {
			return nil, err
		}
		s.log.Debug("reaction toggle raced, retrying", zap.String("message_id", messageID), zap.Int("attempt", attempt))
	}
	return nil, fmt.Errorf("reaction toggle on %s: too much contention", messageID)
}

func (s *Store) DeleteMessage(ctx context.Context, id string) (*models.Message, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var m models.Message
	if err := s.messages.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, notFound(err)
	}
	// clear the snapshot only if it still points at the deleted message
	_, err := s.convs.UpdateOne(ctx,
		bson.M{"_id": m.ConversationID, "last_message.id": m.ID},
		bson.M{"$unset": bson.M{"last_message": ""}})
	if err != nil {
		s.log.Warn("clear last message failed", zap.String("conversation_id", m.ConversationID), zap.Error(err))
	}
	return &m, nil
}

func (s *Store) UnreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	n, err := s.messages.CountDocuments(ctx, unreadFilter(conversationID, userID))
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

var _ storage.Store = (*Store)(nil)
