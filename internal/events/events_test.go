package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaMessageShape(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	msg, err := message(Event{Type: MessageRead, ConversationID: "c1", MessageID: "m1", UserID: "u1", At: at})
	require.NoError(t, err)

	assert.Equal(t, []byte("c1"), msg.Key)
	assert.Equal(t, at, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "type", msg.Headers[0].Key)
	assert.Equal(t, []byte(MessageRead), msg.Headers[0].Value)

	var back Event
	require.NoError(t, json.Unmarshal(msg.Value, &back))
	assert.Equal(t, "m1", back.MessageID)
}

func TestRecorder(t *testing.T) {
	r := NewRecorder(1)
	require.NoError(t, r.Publish(context.Background(), Event{Type: MessageCreated}))
	// full buffer drops instead of blocking
	require.NoError(t, r.Publish(context.Background(), Event{Type: MessageDeleted}))
	e := <-r.Events()
	assert.Equal(t, MessageCreated, e.Type)
}
