package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/ageniuscoder/roomtalk/backend/internal/auth"
	"github.com/ageniuscoder/roomtalk/backend/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and websocket event router",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := server.OpenStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			log.Warn("close store", zap.Error(err))
		}
	}()

	tracker, closePresence, err := server.OpenPresence(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closePresence()

	pub := server.OpenPublisher(cfg.Kafka)
	defer pub.Close()

	log.Info("starting",
		zap.String("env", cfg.App.Env),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("redis", cfg.Redis.Addr != ""),
		zap.Int("kafka_brokers", len(cfg.Kafka.Brokers)))

	s := server.New(cfg, server.Deps{
		Store:     store,
		Presence:  tracker,
		Publisher: pub,
		Verifier:  auth.NewHMACVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Logger:    log,
	})
	return s.Run(ctx)
}
