package session

import "sync"

// Cancels is the cancellation registry: one monotonically increasing token
// per session, last writer wins. Concurrent relay tasks call IsCurrent
// before each unit of output and go quiet once their token is stale;
// nothing is forcibly unwound.
type Cancels struct {
	mu     sync.Mutex
	tokens map[string]uint64
	active map[string]bool
}

func NewCancels() *Cancels {
	return &Cancels{
		tokens: make(map[string]uint64),
		active: make(map[string]bool),
	}
}

// Begin starts a new generation task for the session and returns its token.
// Any previous token for the session becomes stale.
func (c *Cancels) Begin(sessionID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[sessionID]++
	c.active[sessionID] = true
	return c.tokens[sessionID]
}

// IsCurrent reports whether token is still the session's live token.
func (c *Cancels) IsCurrent(sessionID string, token uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[sessionID] == token
}

// Cancel invalidates the session's current token. It reports whether a
// generation was actually in flight, so the caller can decide whether a
// response_interrupted notice is warranted.
func (c *Cancels) Cancel(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasActive := c.active[sessionID]
	if _, ok := c.tokens[sessionID]; ok {
		c.tokens[sessionID]++
	}
	c.active[sessionID] = false
	return wasActive
}

// Finish marks the task done if token is still current. A stale token is a
// no-op: the session already belongs to a newer task.
func (c *Cancels) Finish(sessionID string, token uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens[sessionID] == token {
		c.active[sessionID] = false
	}
}

// Release drops all state for the session.
func (c *Cancels) Release(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, sessionID)
	delete(c.active, sessionID)
}
