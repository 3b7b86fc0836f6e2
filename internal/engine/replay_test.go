package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synoptic-visualizer/backend/internal/diagram"
	"github.com/synoptic-visualizer/backend/internal/models"
)

func TestReplayerEmptySnapshotRestoresPristineState(t *testing.T) {
	doc, err := diagram.Parse("plant.svg", []byte(testDiagramSVG))
	require.NoError(t, err)
	effects := NewEffectRenderer(DefaultVisualMappings(), time.Hour, nil, nil)
	strategy := NewDefaultStrategy(NewResolver(doc), effects)

	resyncs := 0
	r := NewReplayer(doc, effects, strategy, func() { resyncs++ })

	// Build up live state first.
	strategy.Apply(&models.UpdateRecord{SourceID: "dev1", TopicID: "temp", RawPayload: "31"})
	require.Equal(t, "31", doc.ElementByID("dev1-temp-value").Text)
	require.True(t, doc.ElementByID("dev1-temp-alarm").Visible)
	require.Greater(t, effects.ActiveHighlights(), 0)

	r.Apply(nil)

	assert.Equal(t, "--", doc.ElementByID("dev1-temp-value").Text)
	assert.False(t, doc.ElementByID("dev1-temp-alarm").Visible)
	assert.Equal(t, 0, effects.ActiveHighlights())
	assert.Empty(t, effects.Touched())
	assert.Equal(t, 1, resyncs)
}

func TestReplayerReappliesEntriesThroughStrategy(t *testing.T) {
	doc, err := diagram.Parse("plant.svg", []byte(testDiagramSVG))
	require.NoError(t, err)
	effects := NewEffectRenderer(DefaultVisualMappings(), time.Hour, nil, nil)
	strategy := NewDefaultStrategy(NewResolver(doc), effects)
	r := NewReplayer(doc, effects, strategy, nil)

	r.Apply([]models.SnapshotEntry{
		{SourceID: "dev1", TopicID: "temp", Payload: "31"},
		{SourceID: "pump", TopicID: "pump1", Payload: "fault"},
	})

	assert.Equal(t, "31", doc.ElementByID("dev1-temp-value").Text)
	assert.True(t, doc.ElementByID("dev1-temp-alarm").Visible)
	assert.Equal(t, "fault", doc.ElementByID("pump1-state").Text)
	assert.True(t, doc.ElementByID("pump1-alarm").Visible, "EQ comparator fires on fault")
}
