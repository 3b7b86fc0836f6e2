package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/synoptic-visualizer/backend/internal/models"
)

// SnapshotQuery is the historical-state collaborator: the last known value of
// each topic at or before a timestamp. Entry order is not guaranteed.
type SnapshotQuery interface {
	SnapshotAt(ctx context.Context, ts time.Time) ([]models.SnapshotEntry, error)
}

// ModeController is the two-state machine gating live updates against
// snapshot replay. All methods run with the session lock held; snapshot
// fetches happen on their own goroutine and re-enter through lock.
type ModeController struct {
	query     SnapshotQuery
	coalescer *Coalescer
	replayer  *Replayer
	lock      func() func()
	onLoading func(bool)
	timeout   time.Duration

	mode      models.TimelineMode
	historyAt time.Time
	boundsMin time.Time
	boundsMax time.Time

	// Set when the owning session is torn down; in-flight snapshot responses
	// for a closed controller are dropped instead of replaying into whatever
	// document now lives behind the lock.
	closed bool

	// Snapshot responses carry a sequence number; a late response older than
	// the last applied one is discarded instead of overwriting fresher state.
	reqSeq     uint64
	appliedSeq uint64
}

func NewModeController(query SnapshotQuery, coalescer *Coalescer, replayer *Replayer, lock func() func(), onLoading func(bool), timeout time.Duration) *ModeController {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if onLoading == nil {
		onLoading = func(bool) {}
	}
	return &ModeController{
		query:     query,
		coalescer: coalescer,
		replayer:  replayer,
		lock:      lock,
		onLoading: onLoading,
		timeout:   timeout,
		mode:      models.TimelineLive,
	}
}

// Close detaches the controller from its session. Caller holds the session
// lock. Any snapshot fetch still in flight completes against the query but its
// response is discarded on arrival.
func (mc *ModeController) Close() {
	mc.closed = true
}

// Mode returns the current timeline mode.
func (mc *ModeController) Mode() models.TimelineMode { return mc.mode }

// HistoryAt returns the replay cursor, zero in live mode.
func (mc *ModeController) HistoryAt() time.Time { return mc.historyAt }

// SetBounds records the seekable time range.
func (mc *ModeController) SetBounds(min, max time.Time) {
	mc.boundsMin = min
	mc.boundsMax = max
}

// Bounds returns the current seekable range.
func (mc *ModeController) Bounds() (time.Time, time.Time) {
	return mc.boundsMin, mc.boundsMax
}

// SetHistoryMode switches between live and historical replay.
//
// Entering history freezes the coalescer (live updates are dropped, not
// buffered) and replays the snapshot at the initial cursor. Leaving history
// replays the snapshot for "now" and unfreezes the coalescer afterwards, so
// the diagram returns to current state through the same dispatch path.
func (mc *ModeController) SetHistoryMode(enabled bool) error {
	if enabled {
		if mc.mode == models.TimelineHistory {
			return nil
		}
		mc.mode = models.TimelineHistory
		mc.coalescer.Freeze()
		cursor := mc.boundsMax
		if cursor.IsZero() {
			cursor = time.Now()
		}
		mc.historyAt = cursor
		mc.request(cursor, nil)
		return nil
	}

	if mc.mode == models.TimelineLive {
		return nil
	}
	mc.mode = models.TimelineLive
	mc.historyAt = time.Time{}
	// Unfreeze only after the "now" snapshot settles; runs even when the
	// fetch fails so live updates are never permanently dropped.
	mc.request(time.Now(), mc.coalescer.Unfreeze)
	return nil
}

// Seek moves the replay cursor. Callers invoke this on seek commit (drag
// end), not continuously, to avoid request storms.
func (mc *ModeController) Seek(ts time.Time) error {
	if mc.mode != models.TimelineHistory {
		return fmt.Errorf("seek requires history mode")
	}
	if !mc.boundsMin.IsZero() && ts.Before(mc.boundsMin) {
		ts = mc.boundsMin
	}
	if !mc.boundsMax.IsZero() && ts.After(mc.boundsMax) {
		ts = mc.boundsMax
	}
	mc.historyAt = ts
	mc.request(ts, nil)
	return nil
}

// request fetches a snapshot asynchronously and applies it on arrival. The
// loading indicator is cleared and done runs regardless of outcome; the
// replay itself is skipped for error or stale responses.
func (mc *ModeController) request(ts time.Time, done func()) {
	mc.reqSeq++
	seq := mc.reqSeq
	mc.onLoading(true)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mc.timeout)
		defer cancel()

		entries, err := mc.query.SnapshotAt(ctx, ts)

		unlock := mc.lock()
		defer unlock()

		// The session may have been replaced while the fetch was running.
		// Its document, loading indicator and coalescer are gone; touch
		// nothing.
		if mc.closed {
			fmt.Printf("[Mode] dropping snapshot response for a closed session\n")
			return
		}

		defer func() {
			mc.onLoading(false)
			if done != nil {
				done()
			}
		}()

		if err != nil {
			fmt.Printf("[Mode] snapshot fetch at %s failed: %v\n", ts.Format(time.RFC3339), err)
			return
		}
		if seq <= mc.appliedSeq {
			fmt.Printf("[Mode] discarding stale snapshot response (seq %d <= %d)\n", seq, mc.appliedSeq)
			return
		}
		mc.appliedSeq = seq
		mc.replayer.Apply(entries)
	}()
}
