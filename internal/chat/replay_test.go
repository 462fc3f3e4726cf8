package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmationsEvictOldest(t *testing.T) {
	c := newConfirmations(2)
	for _, k := range [][2]string{{"alice", "t1"}, {"alice", "t2"}, {"bob", "t1"}} {
		cf, owner := c.reserve(k[0], k[1])
		require.True(t, owner)
		c.complete(cf, k[0]+"-"+k[1])
	}

	_, owner := c.reserve("alice", "t1")
	assert.True(t, owner, "evicted key is free again")
	cf, owner := c.reserve("bob", "t1")
	require.False(t, owner)
	id, err := c.wait(context.Background(), cf)
	require.NoError(t, err)
	assert.Equal(t, "bob-t1", id)
}

func TestConfirmationsReserveIsExclusive(t *testing.T) {
	c := newConfirmations(16)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		owners int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cf, owner := c.reserve("alice", "t1")
			if owner {
				mu.Lock()
				owners++
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				c.complete(cf, "m1")
				return
			}
			id, err := c.wait(context.Background(), cf)
			assert.NoError(t, err)
			assert.Equal(t, "m1", id)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, owners)
}

func TestConfirmationsReleaseFreesKey(t *testing.T) {
	c := newConfirmations(4)
	cf, owner := c.reserve("alice", "t1")
	require.True(t, owner)

	waiter, owner := c.reserve("alice", "t1")
	require.False(t, owner)
	c.release("alice", "t1", cf)

	id, err := c.wait(context.Background(), waiter)
	require.NoError(t, err)
	assert.Empty(t, id)

	_, owner = c.reserve("alice", "t1")
	assert.True(t, owner)
}

func TestConfirmationsWaitHonoursContext(t *testing.T) {
	c := newConfirmations(4)
	cf, _ := c.reserve("alice", "t1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.wait(ctx, cf)
	assert.ErrorIs(t, err, context.Canceled)
}
