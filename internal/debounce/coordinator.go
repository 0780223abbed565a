// Package debounce coalesces bursts of inbound messages per conversation.
// A human typing several messages in quick succession should produce one
// agent invocation covering all of them, not one per message.
package debounce

import (
	"sync"
	"time"
)

// batch is the pending, not-yet-processed state for one conversation.
// At most one batch exists per conversation id at any time.
type batch struct {
	timer         *time.Timer
	messageIDs    []string
	lastMessageAt time.Time
	// result is the channel handed to the most recent Schedule call.
	// Earlier callers' channels are closed on supersession: only the
	// schedule whose timer actually fires delivers the accumulated list.
	result chan []string
	// seq guards against a stale timer callback racing a re-arm.
	seq uint64
}

// Coordinator is a per-process debounce scheduler. The zero value is not
// usable; use New. Safe for concurrent use.
type Coordinator struct {
	mu      sync.Mutex
	pending map[string]*batch
	now     func() time.Time // swappable for tests
}

func New() *Coordinator {
	return &Coordinator{
		pending: make(map[string]*batch),
		now:     time.Now,
	}
}

// Schedule registers an inbound message for debounced processing.
//
// If no batch is pending for the conversation, a new one starts with a timer
// of window. If a batch is already pending, its timer is cancelled, the
// message id is appended, and a fresh full-length timer starts — the quiet
// period resets on every arrival.
//
// The returned channel receives the full accumulated id list if and only if
// this call's timer fires without being re-armed; a later Schedule for the
// same conversation supersedes it and the superseded channel is closed
// without a send, releasing its waiter. Callers should select on the
// channel together with their context and treat a nil receive as
// "superseded, nothing to do".
func (c *Coordinator) Schedule(conversationID, messageID string, window time.Duration) <-chan []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(chan []string, 1)

	b, ok := c.pending[conversationID]
	if ok {
		b.timer.Stop()
		close(b.result)
	} else {
		b = &batch{}
		c.pending[conversationID] = b
	}

	b.messageIDs = append(b.messageIDs, messageID)
	b.lastMessageAt = c.now()
	b.result = result
	b.seq++
	seq := b.seq

	b.timer = time.AfterFunc(window, func() {
		c.fire(conversationID, seq)
	})

	return result
}

// fire delivers the accumulated ids and removes the batch, unless the batch
// was re-armed or cancelled after this timer was set.
func (c *Coordinator) fire(conversationID string, seq uint64) {
	c.mu.Lock()
	b, ok := c.pending[conversationID]
	if !ok || b.seq != seq {
		c.mu.Unlock()
		return
	}
	delete(c.pending, conversationID)
	ids := b.messageIDs
	result := b.result
	c.mu.Unlock()

	result <- ids
	close(result)
}

// Cancel stops any pending batch for the conversation without delivering
// ids; the waiter's channel is closed so it does not block forever. No-op
// when nothing is pending; safe to call repeatedly.
func (c *Coordinator) Cancel(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.pending[conversationID]
	if !ok {
		return
	}
	b.timer.Stop()
	b.seq++ // invalidate any in-flight timer callback
	close(b.result)
	delete(c.pending, conversationID)
}

// IsPending reports whether a batch is pending for the conversation and less
// than window has elapsed since its last accumulated message. Non-mutating.
func (c *Coordinator) IsPending(conversationID string, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.pending[conversationID]
	if !ok {
		return false
	}
	return c.now().Sub(b.lastMessageAt) < window
}

// PendingCount returns the number of conversations with a pending batch.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
