package server

import (
	"context"
	"fmt"

	"github.com/ageniuscoder/roomtalk/backend/internal/config"
	"github.com/ageniuscoder/roomtalk/backend/internal/events"
	"github.com/ageniuscoder/roomtalk/backend/internal/presence"
	"github.com/ageniuscoder/roomtalk/backend/internal/storage"
	"github.com/ageniuscoder/roomtalk/backend/internal/storage/memory"
	"github.com/ageniuscoder/roomtalk/backend/internal/storage/mongo"
	"github.com/ageniuscoder/roomtalk/backend/internal/storage/postgres"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OpenStore connects the configured conversation store. Postgres schemas
// are migrated on open; the statements are idempotent.
func OpenStore(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case "memory":
		log.Warn("using in-memory store, data is lost on exit")
		return memory.New(), nil
	case "mongo":
		st, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDB, cfg.Timeout, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		pg, err := postgres.New(cfg.PostgresDSN, cfg.Timeout, log)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close(ctx)
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// OpenPresence returns a redis tracker when redis.addr is set, so several
// router instances agree on who is online.
func OpenPresence(ctx context.Context, cfg config.RedisConfig) (presence.Tracker, func() error, error) {
	if cfg.Addr == "" {
		return presence.NewMemory(), func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return presence.NewRedis(client, cfg.Prefix, cfg.TTL), client.Close, nil
}

func OpenPublisher(cfg config.KafkaConfig) events.Publisher {
	if len(cfg.Brokers) == 0 {
		return events.Nop{}
	}
	return events.NewKafka(cfg.Brokers, cfg.Topic)
}
