package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Env             string        `mapstructure:"env"`
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type StoreConfig struct {
	Driver      string        `mapstructure:"driver"`
	MongoURI    string        `mapstructure:"mongo_uri"`
	MongoDB     string        `mapstructure:"mongo_db"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type WSConfig struct {
	WriteWait       time.Duration `mapstructure:"write_wait"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	EventsPerSecond float64       `mapstructure:"events_per_second"`
	Burst           int           `mapstructure:"burst"`
}

// PingPeriod must be shorter than PongWait.
func (w WSConfig) PingPeriod() time.Duration {
	return (w.PongWait * 9) / 10
}

type SyncConfig struct {
	ServerURL    string        `mapstructure:"server_url"`
	TypingWindow time.Duration `mapstructure:"typing_window"`
	Tick         time.Duration `mapstructure:"tick"`
	OutboxDriver string        `mapstructure:"outbox_driver"`
	OutboxPath   string        `mapstructure:"outbox_path"`
	PageSize     int           `mapstructure:"page_size"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	App   AppConfig   `mapstructure:"app"`
	Auth  AuthConfig  `mapstructure:"auth"`
	Store StoreConfig `mapstructure:"store"`
	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`
	WS    WSConfig    `mapstructure:"ws"`
	Sync  SyncConfig  `mapstructure:"sync"`
	Log   LogConfig   `mapstructure:"log"`
}

const envPrefix = "ROOMTALK"

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.addr", ":8080")
	v.SetDefault("app.shutdown_timeout", 10*time.Second)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "roomtalk")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.mongo_uri", "")
	v.SetDefault("store.mongo_db", "roomtalk")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.timeout", 3*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "roomtalk")
	v.SetDefault("redis.ttl", 2*time.Minute)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "roomtalk.events")

	v.SetDefault("ws.write_wait", 10*time.Second)
	v.SetDefault("ws.pong_wait", 60*time.Second)
	v.SetDefault("ws.max_message_size", 65536)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.events_per_second", 20.0)
	v.SetDefault("ws.burst", 40)

	v.SetDefault("sync.server_url", "http://localhost:8080")
	v.SetDefault("sync.typing_window", 3*time.Second)
	v.SetDefault("sync.tick", 500*time.Millisecond)
	v.SetDefault("sync.outbox_driver", "sqlite")
	v.SetDefault("sync.outbox_path", "roomtalk-outbox.db")
	v.SetDefault("sync.page_size", 50)

	v.SetDefault("log.level", "info")
}

// Load reads .env (if present), then the optional config file at path, then
// ROOMTALK_* environment variables, over built-in defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// viper leaves comma separated env lists as a single element
	if len(c.Kafka.Brokers) == 1 && strings.Contains(c.Kafka.Brokers[0], ",") {
		c.Kafka.Brokers = strings.Split(c.Kafka.Brokers[0], ",")
	}
	return &c, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	switch c.Store.Driver {
	case "memory":
	case "mongo":
		if c.Store.MongoURI == "" {
			errs = append(errs, errors.New("store.mongo_uri is required for the mongo driver"))
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	switch c.Sync.OutboxDriver {
	case "memory", "sqlite", "pebble":
	default:
		errs = append(errs, fmt.Errorf("unknown sync.outbox_driver %q", c.Sync.OutboxDriver))
	}
	for name, d := range map[string]time.Duration{
		"store.timeout":      c.Store.Timeout,
		"ws.write_wait":      c.WS.WriteWait,
		"ws.pong_wait":       c.WS.PongWait,
		"sync.typing_window": c.Sync.TypingWindow,
		"sync.tick":          c.Sync.Tick,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.WS.MaxMessageSize <= 0 || c.WS.SendBuffer <= 0 {
		errs = append(errs, errors.New("ws.max_message_size and ws.send_buffer must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) Dev() bool {
	return c.App.Env == "dev"
}
