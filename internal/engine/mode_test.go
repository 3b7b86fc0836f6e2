package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synoptic-visualizer/backend/internal/diagram"
	"github.com/synoptic-visualizer/backend/internal/models"
)

// modeFixture assembles a mode controller over real session components, with
// a plain mutex standing in for the engine's session lock.
type modeFixture struct {
	mu        sync.Mutex
	doc       *models.DiagramDocument
	coalescer *Coalescer
	mc        *ModeController
	resyncs   int
}

func newModeFixture(t *testing.T, q SnapshotQuery) *modeFixture {
	t.Helper()
	doc, err := diagram.Parse("plant.svg", []byte(testDiagramSVG))
	require.NoError(t, err)

	f := &modeFixture{doc: doc}
	lock := func() func() {
		f.mu.Lock()
		return f.mu.Unlock
	}

	effects := NewEffectRenderer(DefaultVisualMappings(), time.Hour, nil, func(fn func()) {
		f.mu.Lock()
		defer f.mu.Unlock()
		fn()
	})
	strategy := NewDefaultStrategy(NewResolver(doc), effects)
	f.coalescer = NewCoalescer(NewManualScheduler(), lock, func([]*models.UpdateRecord) {})
	replayer := NewReplayer(doc, effects, strategy, func() { f.resyncs++ })
	f.mc = NewModeController(q, f.coalescer, replayer, lock, nil, 5*time.Second)
	return f
}

// locked runs fn holding the session lock, the way the engine calls into the
// controller.
func (f *modeFixture) locked(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func (f *modeFixture) text(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc.ElementByID(id).Text
}

// seqQuery gates each snapshot call individually so tests can complete them
// out of order.
type seqQuery struct {
	mu    sync.Mutex
	calls []*seqCall
}

type seqCall struct {
	ts      time.Time
	release chan []models.SnapshotEntry
}

func (q *seqQuery) SnapshotAt(ctx context.Context, ts time.Time) ([]models.SnapshotEntry, error) {
	call := &seqCall{ts: ts, release: make(chan []models.SnapshotEntry, 1)}
	q.mu.Lock()
	q.calls = append(q.calls, call)
	q.mu.Unlock()

	select {
	case entries := <-call.release:
		return entries, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *seqQuery) call(t *testing.T, i int) *seqCall {
	t.Helper()
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.calls) > i
	}, 2*time.Second, 5*time.Millisecond)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls[i]
}

// callAt waits for the call fetching the given cursor. Concurrent requests
// register in scheduler order, so index-based lookup is only safe when calls
// are known to be sequential.
func (q *seqQuery) callAt(t *testing.T, ts time.Time) *seqCall {
	t.Helper()
	var found *seqCall
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		for _, c := range q.calls {
			if c.ts.Equal(ts) {
				found = c
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return found
}

func tempEntry(payload string) []models.SnapshotEntry {
	return []models.SnapshotEntry{{SourceID: "dev1", TopicID: "temp", Payload: payload}}
}

func TestModeEnterHistoryFreezesAndReplays(t *testing.T) {
	q := &seqQuery{}
	f := newModeFixture(t, q)

	f.locked(func() {
		require.NoError(t, f.mc.SetHistoryMode(true))
		assert.Equal(t, models.TimelineHistory, f.mc.Mode())
		assert.True(t, f.coalescer.Frozen())
		assert.False(t, f.mc.HistoryAt().IsZero())
	})

	q.call(t, 0).release <- tempEntry("27")
	require.Eventually(t, func() bool {
		return f.text("dev1-temp-value") == "27"
	}, 2*time.Second, 5*time.Millisecond)

	f.locked(func() {
		assert.GreaterOrEqual(t, f.resyncs, 1)
	})
}

func TestModeStaleSnapshotResponseDiscarded(t *testing.T) {
	q := &seqQuery{}
	f := newModeFixture(t, q)

	f.locked(func() { require.NoError(t, f.mc.SetHistoryMode(true)) })
	q.call(t, 0).release <- tempEntry("20")
	require.Eventually(t, func() bool {
		return f.text("dev1-temp-value") == "20"
	}, 2*time.Second, 5*time.Millisecond)

	t1 := time.UnixMilli(1000)
	t2 := time.UnixMilli(2000)
	f.locked(func() { require.NoError(t, f.mc.Seek(t1)) })
	f.locked(func() { require.NoError(t, f.mc.Seek(t2)) })

	// The later seek's response arrives first and wins.
	q.callAt(t, t2).release <- tempEntry("22")
	require.Eventually(t, func() bool {
		return f.text("dev1-temp-value") == "22"
	}, 2*time.Second, 5*time.Millisecond)

	// The earlier seek's response straggles in afterwards and must not
	// overwrite the fresher state.
	q.callAt(t, t1).release <- tempEntry("21")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "22", f.text("dev1-temp-value"))
}

func TestModeSeekClampsToBounds(t *testing.T) {
	q := &seqQuery{}
	f := newModeFixture(t, q)

	min := time.UnixMilli(1000)
	max := time.UnixMilli(9000)
	f.locked(func() {
		f.mc.SetBounds(min, max)
		require.NoError(t, f.mc.SetHistoryMode(true))
		// Entering history starts the cursor at the upper bound.
		assert.Equal(t, max, f.mc.HistoryAt())
	})
	assert.Equal(t, max, q.call(t, 0).ts)

	f.locked(func() {
		require.NoError(t, f.mc.Seek(time.UnixMilli(20000)))
		assert.Equal(t, max, f.mc.HistoryAt())
	})
	assert.Equal(t, max, q.call(t, 1).ts)

	f.locked(func() {
		require.NoError(t, f.mc.Seek(time.UnixMilli(5)))
		assert.Equal(t, min, f.mc.HistoryAt())
	})
	assert.Equal(t, min, q.call(t, 2).ts)
}

func TestModeSeekRequiresHistoryMode(t *testing.T) {
	f := newModeFixture(t, &seqQuery{})
	f.locked(func() {
		assert.Error(t, f.mc.Seek(time.Now()))
	})
}

func TestModeRedundantTransitionsAreNoops(t *testing.T) {
	q := &seqQuery{}
	f := newModeFixture(t, q)

	f.locked(func() {
		require.NoError(t, f.mc.SetHistoryMode(false), "already live")
		require.NoError(t, f.mc.SetHistoryMode(true))
		require.NoError(t, f.mc.SetHistoryMode(true), "already in history")
	})

	q.call(t, 0)
	time.Sleep(50 * time.Millisecond)
	q.mu.Lock()
	calls := len(q.calls)
	q.mu.Unlock()
	assert.Equal(t, 1, calls, "only the real transition fetches a snapshot")
}

type errQuery struct{}

func (errQuery) SnapshotAt(ctx context.Context, ts time.Time) ([]models.SnapshotEntry, error) {
	return nil, context.DeadlineExceeded
}

func TestModeUnfreezesEvenWhenReturnSnapshotFails(t *testing.T) {
	f := newModeFixture(t, errQuery{})

	f.locked(func() { require.NoError(t, f.mc.SetHistoryMode(true)) })
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.coalescer.Frozen()
	}, time.Second, 5*time.Millisecond)

	f.locked(func() { require.NoError(t, f.mc.SetHistoryMode(false)) })

	// Live updates must never stay permanently dropped after a failed fetch.
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return !f.coalescer.Frozen()
	}, 2*time.Second, 5*time.Millisecond)
	f.locked(func() {
		assert.Equal(t, models.TimelineLive, f.mc.Mode())
		assert.True(t, f.mc.HistoryAt().IsZero())
	})
}
