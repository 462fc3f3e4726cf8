package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/models"
	"github.com/ageniuscoder/roomtalk/backend/internal/protocol"
	"github.com/ageniuscoder/roomtalk/backend/internal/syncengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPrintEventUsesDisplayName(t *testing.T) {
	e := syncengine.New(syncengine.Options{Identity: "alice", Logger: zap.NewNop()})
	now := time.Now()
	env, err := protocol.New(protocol.ConversationCreated, protocol.ConversationCreatedPayload{Conversation: models.Conversation{
		ID:           "c1",
		Type:         models.ConversationDirect,
		Participants: []string{"alice", "bob"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}})
	require.NoError(t, err)
	e.HandleEvent(env)

	var out bytes.Buffer
	e.Subscribe(func(ev syncengine.Event) { printEvent(&out, e, ev) })
	env, err = protocol.New(protocol.NewMessage, protocol.NewMessagePayload{Message: models.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "bob",
		Content:        "hi",
		Type:           models.MessageText,
		ReadBy:         []string{"bob"},
		CreatedAt:      now,
	}})
	require.NoError(t, err)
	e.HandleEvent(env)

	assert.Contains(t, out.String(), "[bob] bob: hi (delivered)")
	assert.Equal(t, "unknown", label(e, "unknown"))
}
