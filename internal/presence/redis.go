package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares connection sets between router instances. Keys:
//
//	<prefix>:conn:<user>      set of connection ids, expires after ttl
//	<prefix>:last_seen:<user> unix seconds of the last transition
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) connKey(userID string) string { return fmt.Sprintf("%s:conn:%s", r.prefix, userID) }

func (r *Redis) lastSeenKey(userID string) string {
	return fmt.Sprintf("%s:last_seen:%s", r.prefix, userID)
}

func (r *Redis) Connect(ctx context.Context, userID, connID string) (bool, error) {
	key := r.connKey(userID)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key, connID)
	card := pipe.SCard(ctx, key)
	pipe.Expire(ctx, key, r.ttl)
	pipe.Set(ctx, r.lastSeenKey(userID), time.Now().Unix(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("presence connect: %w", err)
	}
	return card.Val() == 1, nil
}

func (r *Redis) Disconnect(ctx context.Context, userID, connID string) (bool, error) {
	key := r.connKey(userID)
	pipe := r.client.TxPipeline()
	removed := pipe.SRem(ctx, key, connID)
	card := pipe.SCard(ctx, key)
	pipe.Set(ctx, r.lastSeenKey(userID), time.Now().Unix(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("presence disconnect: %w", err)
	}
	return removed.Val() == 1 && card.Val() == 0, nil
}

// Refresh extends the connection set's expiry; called on every pong so a
// crashed instance's entries age out.
func (r *Redis) Refresh(ctx context.Context, userID string) error {
	return r.client.Expire(ctx, r.connKey(userID), r.ttl).Err()
}

func (r *Redis) Online(ctx context.Context, userID string) (bool, error) {
	n, err := r.client.SCard(ctx, r.connKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	v, err := r.client.Get(ctx, r.lastSeenKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last seen: %w", err)
	}
	return time.Unix(sec, 0).UTC(), nil
}
