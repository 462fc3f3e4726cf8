package chat

import (
	"context"
	"sync"
)

// confirmations remembers which temp ids were already stored, keyed by
// sender, so a replayed send_message gets its original confirmation back
// instead of a second copy in the store. A key is reserved before the
// store call, so the same temp id arriving on two connections at once is
// stored once.
type confirmations struct {
	mu    sync.Mutex
	max   int
	order []string
	ids   map[string]*confirmation
}

type confirmation struct {
	done      chan struct{}
	messageID string
}

func newConfirmations(max int) *confirmations {
	return &confirmations{max: max, ids: make(map[string]*confirmation, max)}
}

func confirmKey(userID, tempID string) string { return userID + "\x00" + tempID }

// reserve returns the entry for the key and whether the caller owns it.
// An owner must call complete or release.
func (c *confirmations) reserve(userID, tempID string) (*confirmation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := confirmKey(userID, tempID)
	if cf, ok := c.ids[k]; ok {
		return cf, false
	}
	if len(c.order) >= c.max {
		delete(c.ids, c.order[0])
		c.order = c.order[1:]
	}
	cf := &confirmation{done: make(chan struct{})}
	c.order = append(c.order, k)
	c.ids[k] = cf
	return cf, true
}

func (c *confirmations) complete(cf *confirmation, messageID string) {
	c.mu.Lock()
	cf.messageID = messageID
	c.mu.Unlock()
	close(cf.done)
}

// release drops a reservation whose store call failed, so the next replay
// is stored normally.
func (c *confirmations) release(userID, tempID string, cf *confirmation) {
	c.mu.Lock()
	k := confirmKey(userID, tempID)
	if c.ids[k] == cf {
		delete(c.ids, k)
		for i, o := range c.order {
			if o == k {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()
	close(cf.done)
}

// wait blocks until the owner finished and returns the stored id, or ""
// when the owner released the key.
func (c *confirmations) wait(ctx context.Context, cf *confirmation) (string, error) {
	select {
	case <-cf.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return cf.messageID, nil
}
