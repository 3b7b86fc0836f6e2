package engine

import (
	"fmt"

	"github.com/synoptic-visualizer/backend/internal/models"
)

// Coalescer batches incoming updates and flushes at most once per scheduling
// tick. Multiple updates for the same (source, topic) key collapse to the
// latest payload before dispatch.
type Coalescer struct {
	// no mutex of its own: the engine's session lock guards all access
	pending    map[string]*models.UpdateRecord
	order      []string // first-enqueue order, for deterministic dispatch
	flushArmed bool
	frozen     bool

	sched    Scheduler
	dispatch func([]*models.UpdateRecord)
	lock     func() func() // acquires the session lock, returns the unlock
}

// NewCoalescer builds a coalescer. dispatch receives the drained batch and is
// called with the session lock held. lock acquires the session lock for the
// scheduled flush callback.
func NewCoalescer(sched Scheduler, lock func() func(), dispatch func([]*models.UpdateRecord)) *Coalescer {
	return &Coalescer{
		pending:  make(map[string]*models.UpdateRecord),
		sched:    sched,
		dispatch: dispatch,
		lock:     lock,
	}
}

// Enqueue stores or overwrites the pending record for the update's key and
// arms exactly one flush for the next tick. Non-blocking. No-op while frozen.
// Caller holds the session lock.
func (c *Coalescer) Enqueue(sourceID, topicID, rawPayload string) {
	if c.frozen {
		return
	}

	key := sourceID + "|" + topicID
	if _, exists := c.pending[key]; !exists {
		c.order = append(c.order, key)
	}
	c.pending[key] = &models.UpdateRecord{
		SourceID:   sourceID,
		TopicID:    topicID,
		RawPayload: rawPayload,
	}

	if !c.flushArmed {
		c.flushArmed = true
		c.sched.Schedule(c.flush)
	}
}

// flush drains the queue once and dispatches it. The queue and the pending
// flag are always cleared, even when dispatch panics, so a thrown error can
// never permanently wedge the scheduler.
func (c *Coalescer) flush() {
	unlock := c.lock()
	defer unlock()

	batch := make([]*models.UpdateRecord, 0, len(c.pending))
	for _, key := range c.order {
		batch = append(batch, c.pending[key])
	}
	c.pending = make(map[string]*models.UpdateRecord)
	c.order = nil

	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("[Coalescer] flush panic recovered: %v\n", r)
		}
		c.flushArmed = false
		// Updates enqueued during dispatch would otherwise wait for the
		// next unrelated enqueue to re-arm.
		if len(c.pending) > 0 {
			c.flushArmed = true
			c.sched.Schedule(c.flush)
		}
	}()

	c.dispatch(batch)
}

// Freeze drops incoming updates (history mode). Already-queued updates stay
// queued and are dispatched by the armed flush.
func (c *Coalescer) Freeze() {
	c.frozen = true
}

// Unfreeze resumes accepting live updates.
func (c *Coalescer) Unfreeze() {
	c.frozen = false
}

// Frozen reports whether live updates are currently dropped.
func (c *Coalescer) Frozen() bool {
	return c.frozen
}

// PendingCount returns the number of distinct keys awaiting dispatch.
func (c *Coalescer) PendingCount() int {
	return len(c.pending)
}

// Reset discards queued updates on diagram switch.
func (c *Coalescer) Reset() {
	c.pending = make(map[string]*models.UpdateRecord)
	c.order = nil
}
