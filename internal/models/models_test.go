package models

import (
	"testing"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveStatus(t *testing.T) {
	parts := []string{"a", "b", "c"}
	cases := []struct {
		name   string
		readBy []string
		want   Status
	}{
		{"only sender", []string{"a"}, StatusSent},
		{"nobody", nil, StatusSent},
		{"one other reader", []string{"a", "b"}, StatusDelivered},
		{"all readers", []string{"a", "b", "c"}, StatusRead},
		{"all readers any order", []string{"c", "a", "b"}, StatusRead},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &Message{SenderID: "a", ReadBy: tc.readBy}
			assert.Equal(t, tc.want, DeriveStatus(m, parts))
		})
	}
}

func TestStatusMax(t *testing.T) {
	assert.Equal(t, StatusRead, StatusSent.Max(StatusRead))
	assert.Equal(t, StatusRead, StatusRead.Max(StatusDelivered))
	assert.Equal(t, StatusSent, StatusSending.Max(StatusSent))
}

func TestToggleReaction(t *testing.T) {
	var rs []Reaction
	rs = ToggleReaction(rs, "👍", "a")
	require.Len(t, rs, 1)
	assert.Equal(t, []string{"a"}, rs[0].Users)

	rs = ToggleReaction(rs, "👍", "b")
	assert.Equal(t, []string{"a", "b"}, ReactionUsers(rs, "👍"))

	rs = ToggleReaction(rs, "👍", "a")
	assert.Equal(t, []string{"b"}, ReactionUsers(rs, "👍"))

	rs = ToggleReaction(rs, "👍", "b")
	assert.Empty(t, rs, "emoji entry should be dropped with its last user")
}

func TestToggleReactionDoesNotAliasInput(t *testing.T) {
	in := []Reaction{{Emoji: "🔥", Users: []string{"a", "b"}}}
	out := ToggleReaction(in, "🔥", "a")
	assert.Equal(t, []string{"a", "b"}, in[0].Users)
	assert.Equal(t, []string{"b"}, out[0].Users)
}

func TestAddReader(t *testing.T) {
	rb, added := AddReader([]string{"a"}, "b")
	assert.True(t, added)
	rb, added = AddReader(rb, "b")
	assert.False(t, added)
	assert.Equal(t, []string{"a", "b"}, rb)
}

func TestConversationNormalize(t *testing.T) {
	c := Conversation{Participants: []string{"zed", "amy", "zed", " "}}
	c.Normalize()
	assert.Equal(t, ConversationDirect, c.Type)
	assert.Equal(t, []string{"zed", "amy"}, c.Participants)
	assert.Equal(t, "amy:zed", c.DirectKey)
	assert.Equal(t, DirectKey("amy", "zed"), DirectKey("zed", "amy"))
	require.NoError(t, c.Validate())
	assert.Equal(t, "amy", c.DisplayName("zed"))
}

func TestConversationValidate(t *testing.T) {
	cases := []struct {
		name string
		conv Conversation
		ok   bool
	}{
		{"direct pair", Conversation{Type: ConversationDirect, Participants: []string{"a", "b"}}, true},
		{"direct triple", Conversation{Type: ConversationDirect, Participants: []string{"a", "b", "c"}}, false},
		{"group without name", Conversation{Type: ConversationGroup, Participants: []string{"a", "b", "c"}}, false},
		{"group", Conversation{Type: ConversationGroup, Name: "team", Participants: []string{"a", "b", "c"}}, true},
		{"bad type", Conversation{Type: "channel", Participants: []string{"a", "b"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.conv.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apperr.Is(err, apperr.KindValidation))
		})
	}
}

func TestValidateContent(t *testing.T) {
	assert.NoError(t, ValidateContent("hi", MessageText))
	assert.Error(t, ValidateContent("   ", MessageText))
	assert.Error(t, ValidateContent("hi", "video"))
	assert.NoError(t, ValidateContent("https://blob.example.com/a.png", MessageImage))
	assert.Error(t, ValidateContent("not a url", MessageFile))
}

func TestSortByActivity(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	list := []Conversation{
		{ID: "old", UpdatedAt: base},
		{ID: "msg", UpdatedAt: base, LastMessage: &MessageSnapshot{CreatedAt: base.Add(2 * time.Hour)}},
		{ID: "new", UpdatedAt: base.Add(time.Hour)},
	}
	SortByActivity(list)
	assert.Equal(t, "msg", list[0].ID)
	assert.Equal(t, "new", list[1].ID)
	assert.Equal(t, "old", list[2].ID)
}
