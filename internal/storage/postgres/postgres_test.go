package postgres

import (
	"strings"
	"testing"

	"github.com/ageniuscoder/roomtalk/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaStatements(t *testing.T) {
	stmts := statements()
	require.Len(t, stmts, 5)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE IF NOT EXISTS conversations"))
	assert.Contains(t, stmts[0], "direct_key   TEXT UNIQUE")
	for _, st := range stmts {
		assert.False(t, strings.HasSuffix(st, ";"), st)
	}
}

func TestAppendReactionGroupsByEmoji(t *testing.T) {
	var rs []models.Reaction
	rs = appendReaction(rs, "👍", "a")
	rs = appendReaction(rs, "🔥", "b")
	rs = appendReaction(rs, "👍", "c")
	require.Len(t, rs, 2)
	assert.Equal(t, "👍", rs[0].Emoji)
	assert.Equal(t, []string{"a", "c"}, rs[0].Users)
	assert.Equal(t, []string{"b"}, rs[1].Users)
}

func TestNullable(t *testing.T) {
	assert.False(t, nullable("").Valid)
	assert.True(t, nullable("a:b").Valid)
}
