package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	b, err := Encode(SendMessage, SendMessagePayload{ConversationID: "c1", Content: "hi", TempID: "tmp-1"})
	require.NoError(t, err)

	env, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, SendMessage, env.Type)

	var p SendMessagePayload
	require.NoError(t, env.Bind(&p))
	assert.Equal(t, "tmp-1", p.TempID)
	assert.Equal(t, "c1", p.ConversationID)
}

func TestDecodeRejectsMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"payload":{}}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestBindEmptyPayload(t *testing.T) {
	var p RoomPayload
	assert.Error(t, Envelope{Type: JoinRoom}.Bind(&p))
}

func TestParseRoom(t *testing.T) {
	cases := []struct {
		room, kind, id string
		ok             bool
	}{
		{ConversationRoom("42"), "conversation", "42", true},
		{MeetingRoom("m1"), "meeting", "m1", true},
		{"conversation:", "conversation", "", false},
		{"lobby", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.room, func(t *testing.T) {
			kind, id, ok := ParseRoom(tc.room)
			assert.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.kind, kind)
				assert.Equal(t, tc.id, id)
			}
		})
	}
}
