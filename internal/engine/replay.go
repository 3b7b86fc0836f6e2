package engine

import (
	"fmt"

	"github.com/synoptic-visualizer/backend/internal/models"
)

// Replayer rebuilds visual state from a point-in-time snapshot. It resets the
// diagram to its pristine baseline and feeds every entry through the same
// binding strategy used for live updates, so incrementally built and
// snapshot-reconstructed state are visually identical.
type Replayer struct {
	doc      *models.DiagramDocument
	effects  *EffectRenderer
	strategy Strategy
	onResync func()
}

func NewReplayer(doc *models.DiagramDocument, effects *EffectRenderer, strategy Strategy, onResync func()) *Replayer {
	return &Replayer{doc: doc, effects: effects, strategy: strategy, onResync: onResync}
}

// Apply resets and replays. Caller holds the session lock.
func (r *Replayer) Apply(entries []models.SnapshotEntry) {
	r.effects.CancelHighlights()
	r.effects.RestoreTouched()

	// Alarm lines always start a replay hidden; entries re-raise them.
	r.doc.Walk(func(el *models.Element) {
		if el.Kind == models.ElementKindAlarmLine {
			el.Visible = false
		}
	})

	r.strategy.Reset()

	for i := range entries {
		rec := &models.UpdateRecord{
			SourceID:   entries[i].SourceID,
			TopicID:    entries[i].TopicID,
			RawPayload: entries[i].Payload,
		}
		r.strategy.Apply(rec)
	}

	fmt.Printf("[Replay] applied snapshot with %d entries to %s\n", len(entries), r.doc.Name)

	if r.onResync != nil {
		r.onResync()
	}
}
