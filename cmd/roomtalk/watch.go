package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ageniuscoder/roomtalk/backend/internal/auth"
	"github.com/ageniuscoder/roomtalk/backend/internal/config"
	"github.com/ageniuscoder/roomtalk/backend/internal/models"
	"github.com/ageniuscoder/roomtalk/backend/internal/syncengine"
	"github.com/ageniuscoder/roomtalk/backend/internal/syncengine/outbox"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	watchUser  string
	watchToken string
	watchConv  string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run a sync client: print changes and send stdin lines",
	Long: `watch connects a sync engine to the server, prints every state change
and sends each line read from stdin to --conversation. Sends made while
offline are kept in the configured outbox and replayed on reconnect.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchUser, "user", "", "user id; a token is minted from auth.jwt_secret when --token is empty")
	watchCmd.Flags().StringVar(&watchToken, "token", "", "bearer token")
	watchCmd.Flags().StringVar(&watchConv, "conversation", "", "conversation to focus and send to")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	user, token, err := identity(cfg.Auth)
	if err != nil {
		return err
	}

	box, err := outbox.Open(cfg.Sync.OutboxDriver, cfg.Sync.OutboxPath)
	if err != nil {
		return err
	}
	defer box.Close()

	ws := syncengine.NewWSTransport(cfg.Sync.ServerURL, token, log)
	engine := syncengine.New(syncengine.Options{
		Identity:     user,
		Transport:    ws,
		API:          syncengine.NewAPIClient(cfg.Sync.ServerURL, token, cfg.Store.Timeout*5),
		Outbox:       box,
		Logger:       log,
		TypingWindow: cfg.Sync.TypingWindow,
		Tick:         cfg.Sync.Tick,
		PageSize:     cfg.Sync.PageSize,
	})
	ws.Bind(engine)

	out := cmd.OutOrStdout()
	engine.Subscribe(func(ev syncengine.Event) { printEvent(out, engine, ev) })

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Restore(ctx); err != nil {
		return fmt.Errorf("restore outbox: %w", err)
	}
	if err := engine.LoadConversations(ctx); err != nil {
		log.Warn("load conversations", zap.Error(err))
	}
	if watchConv != "" {
		if err := engine.Focus(ctx, watchConv); err != nil {
			log.Warn("focus", zap.Error(err))
		}
	}

	go func() { _ = engine.Start(ctx) }()
	go readLines(ctx, engine, os.Stdin, log)

	err = ws.Run(ctx)
	if authErr := engine.AuthError(); authErr != nil {
		return authErr
	}
	return err
}

func identity(ac config.AuthConfig) (user, token string, err error) {
	switch {
	case watchToken != "":
		uid, err := auth.NewHMACVerifier(ac.JWTSecret, ac.Issuer).Verify(watchToken)
		if err != nil && watchUser == "" {
			return "", "", fmt.Errorf("cannot read user from token, pass --user: %w", err)
		}
		if watchUser != "" {
			uid = watchUser
		}
		return uid, watchToken, nil
	case watchUser != "" && ac.JWTSecret != "":
		tok, err := auth.NewToken(ac.JWTSecret, ac.Issuer, watchUser, ac.TokenTTL)
		return watchUser, tok, err
	}
	return "", "", errors.New("pass --token, or --user with auth.jwt_secret configured")
}

func readLines(ctx context.Context, e *syncengine.Engine, r io.Reader, log *zap.Logger) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if watchConv == "" {
			log.Warn("no --conversation to send to")
			continue
		}
		if _, err := e.Send(ctx, watchConv, line, models.MessageText); err != nil {
			log.Warn("send", zap.Error(err))
		}
	}
}

func printEvent(w io.Writer, e *syncengine.Engine, ev syncengine.Event) {
	switch ev.Kind {
	case syncengine.EventMessages:
		list := e.Messages(ev.ConversationID)
		if len(list) == 0 {
			return
		}
		last := list[len(list)-1]
		fmt.Fprintf(w, "[%s] %s: %s (%s)\n", label(e, ev.ConversationID), last.SenderID, last.Content, last.Status)
	case syncengine.EventTyping:
		if users := e.Typing(ev.ConversationID); len(users) > 0 {
			fmt.Fprintf(w, "[%s] typing: %s\n", label(e, ev.ConversationID), strings.Join(users, ", "))
		}
	case syncengine.EventConnectivity:
		fmt.Fprintf(w, "connected: %v\n", e.Connected())
	case syncengine.EventError:
		fmt.Fprintf(w, "error: %v\n", ev.Err)
	}
}

func label(e *syncengine.Engine, conversationID string) string {
	c, ok := e.Conversation(conversationID)
	if !ok {
		return conversationID
	}
	if name := c.DisplayName(e.Identity()); name != "" {
		return name
	}
	return conversationID
}
