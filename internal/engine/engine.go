// Package engine implements the diagram synchronization core: update
// coalescing, element resolution, binding dispatch, the visual effect rule
// set, and the live/history mode state machine.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/synoptic-visualizer/backend/internal/diagram"
	"github.com/synoptic-visualizer/backend/internal/models"
	"github.com/synoptic-visualizer/backend/internal/plugin"
)

// Config tunes the engine's scheduling and visual timings.
type Config struct {
	HighlightDuration time.Duration
	SnapshotTimeout   time.Duration
}

// DiagramProvider fetches a diagram document body by name.
type DiagramProvider interface {
	ReadByName(name string) ([]byte, error)
}

// Engine owns exactly one diagram session at a time. All per-diagram state
// (document, caches, timers, plugin, mode) is discarded and rebuilt on
// diagram switch; there is no cross-diagram shared mutable state.
type Engine struct {
	mu sync.Mutex

	cfg      Config
	provider DiagramProvider
	plugins  *plugin.Registry
	query    SnapshotQuery
	sched    Scheduler

	extraMappings []models.VisualMapping

	// per-diagram session state
	sessionID string
	doc       *models.DiagramDocument
	resolver  *Resolver
	effects   *EffectRenderer
	strategy  Strategy
	coalescer *Coalescer
	replayer  *Replayer
	mode      *ModeController

	batch       []models.Mutation
	onMutations func([]models.Mutation)
	onResync    func()
}

// New wires the engine to its collaborators. Call Initialize before loading
// a diagram.
func New(provider DiagramProvider, plugins *plugin.Registry, query SnapshotQuery, sched Scheduler) *Engine {
	if plugins == nil {
		plugins = plugin.GetGlobalRegistry()
	}
	return &Engine{
		provider: provider,
		plugins:  plugins,
		query:    query,
		sched:    sched,
	}
}

// Initialize applies engine configuration and the optional visual rule table.
func (e *Engine) Initialize(cfg Config, rules *models.VisualRules) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	if rules != nil {
		e.extraMappings = rules.Mappings
	}
}

// SetMutationSink registers the consumer of flushed mutation batches.
func (e *Engine) SetMutationSink(fn func([]models.Mutation)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMutations = fn
}

// SetResyncNotifier registers the callback fired after a snapshot replay, so
// attached viewers can refetch full state.
func (e *Engine) SetResyncNotifier(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onResync = fn
}

// LoadDiagram replaces the active diagram wholesale. A load failure leaves
// the engine idle on the previous session.
func (e *Engine) LoadDiagram(name string) error {
	data, err := e.provider.ReadByName(name)
	if err != nil {
		return fmt.Errorf("loading diagram %q: %w", name, err)
	}
	doc, err := diagram.Parse(name, data)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Tear down the previous session: outstanding timers, in-flight snapshot
	// fetches and any plugin state must not leak into the new diagram.
	if e.mode != nil {
		e.mode.Close()
	}
	if e.effects != nil {
		e.effects.CancelHighlights()
	}
	if e.strategy != nil {
		e.strategy.Reset()
	}
	e.batch = nil

	e.sessionID = uuid.New().String()
	e.doc = doc
	e.resolver = NewResolver(doc)

	mappings := append(DefaultVisualMappings(), e.extraMappings...)
	e.effects = NewEffectRenderer(mappings, e.cfg.HighlightDuration, e.appendMutation, e.execLocked)

	if binding, ok := e.plugins.Lookup(name); ok {
		e.strategy = NewPluginStrategy(binding, doc)
		fmt.Printf("[Engine] %s: plugin binding active\n", name)
	} else {
		e.strategy = NewDefaultStrategy(e.resolver, e.effects)
	}

	e.coalescer = NewCoalescer(e.sched, e.lockSession, e.dispatchBatch)
	e.replayer = NewReplayer(doc, e.effects, e.strategy, e.notifyResync)
	e.mode = NewModeController(e.query, e.coalescer, e.replayer, e.lockSession, e.setLoading, e.cfg.SnapshotTimeout)

	fmt.Printf("[Engine] loaded diagram %s (session %s, strategy %s)\n", name, e.sessionID[:8], e.strategy.Name())
	return nil
}

// Update is the engine's only entry point from the live feed. Non-blocking;
// a no-op before a diagram is loaded or while in history mode.
func (e *Engine) Update(sourceID, topicID, payload string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.coalescer == nil {
		return
	}
	e.coalescer.Enqueue(sourceID, topicID, payload)
}

// SetHistoryMode toggles historical replay.
func (e *Engine) SetHistoryMode(enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.flushMutationsLocked()
	if e.mode == nil {
		return fmt.Errorf("no diagram loaded")
	}
	return e.mode.SetHistoryMode(enabled)
}

// SeekHistory moves the replay cursor; valid in history mode only.
func (e *Engine) SeekHistory(ts time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.flushMutationsLocked()
	if e.mode == nil {
		return fmt.Errorf("no diagram loaded")
	}
	return e.mode.Seek(ts)
}

// SetTimelineBounds records the seekable range shown to operators.
func (e *Engine) SetTimelineBounds(min, max time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode != nil {
		e.mode.SetBounds(min, max)
	}
}

// Timeline reports the current mode, cursor and bounds.
func (e *Engine) Timeline() models.TimelineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	status := models.TimelineStatus{Mode: models.TimelineLive}
	if e.mode == nil {
		return status
	}
	status.Mode = e.mode.Mode()
	if !e.mode.HistoryAt().IsZero() {
		status.HistoryAt = e.mode.HistoryAt().UnixMilli()
	}
	min, max := e.mode.Bounds()
	if !min.IsZero() {
		status.BoundsMin = min.UnixMilli()
	}
	if !max.IsZero() {
		status.BoundsMax = max.UnixMilli()
	}
	return status
}

// DiagramName returns the active diagram's name, empty when idle.
func (e *Engine) DiagramName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.doc == nil {
		return ""
	}
	return e.doc.Name
}

// SessionID returns the current diagram session id.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// State serializes the full current visual state of every identified element,
// letting a late-attaching viewer catch up in one fetch.
func (e *Engine) State() []models.ElementState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.doc == nil {
		return nil
	}
	var out []models.ElementState
	e.doc.Walk(func(el *models.Element) {
		if el.ID == "" {
			return
		}
		out = append(out, models.ElementState{
			ID:      el.ID,
			Tag:     el.Tag,
			Text:    el.Text,
			Attrs:   el.Attrs,
			Classes: el.Classes(),
			Visible: el.Visible,
		})
	})
	return out
}

// internal plumbing

// lockSession acquires the session lock for scheduled callbacks and snapshot
// responses; the returned unlock flushes accumulated mutations first.
func (e *Engine) lockSession() func() {
	e.mu.Lock()
	return func() {
		e.flushMutationsLocked()
		e.mu.Unlock()
	}
}

// execLocked runs timer callbacks under the session lock.
func (e *Engine) execLocked(fn func()) {
	unlock := e.lockSession()
	defer unlock()
	fn()
}

// dispatchBatch feeds one drained coalescer batch through the active
// strategy. Runs with the session lock held.
func (e *Engine) dispatchBatch(records []*models.UpdateRecord) {
	for _, rec := range records {
		e.strategy.Apply(rec)
	}
}

func (e *Engine) appendMutation(m models.Mutation) {
	e.batch = append(e.batch, m)
}

func (e *Engine) flushMutationsLocked() {
	if len(e.batch) == 0 || e.onMutations == nil {
		return
	}
	batch := e.batch
	e.batch = nil
	e.onMutations(batch)
}

func (e *Engine) notifyResync() {
	if e.onResync != nil {
		e.onResync()
	}
}

// setLoading toggles the loading-dim indicator on the diagram root while a
// snapshot fetch is in flight. Always cleared, success or failure.
func (e *Engine) setLoading(loading bool) {
	if e.doc == nil || e.doc.Root == nil || e.doc.Root.ID == "" {
		return
	}
	kind := models.MutationClassRemove
	changed := e.doc.Root.RemoveClass("loading")
	if loading {
		kind = models.MutationClassAdd
		changed = e.doc.Root.AddClass("loading")
	}
	if changed {
		e.appendMutation(models.Mutation{ElementID: e.doc.Root.ID, Kind: kind, Name: "loading"})
	}
}
