package diagram

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRulesYAML = `mappings:
  - element: flow-gauge
    field: metrics.flow
    channel: width
    max: 250
  - element: noise-level
    field: metrics.noise
    channel: opacity-width
`

func TestParseVisualRulesFromBytes(t *testing.T) {
	rules, err := ParseVisualRulesFromBytes([]byte(sampleRulesYAML))
	require.NoError(t, err)
	require.Len(t, rules.Mappings, 2)

	assert.Equal(t, "flow-gauge", rules.Mappings[0].Element)
	assert.Equal(t, "metrics.flow", rules.Mappings[0].Field)
	assert.Equal(t, "width", rules.Mappings[0].Channel)
	assert.Equal(t, 250.0, rules.Mappings[0].Max)

	// Missing max falls back to full scale.
	assert.Equal(t, 100.0, rules.Mappings[1].Max)
}

func TestParseVisualRulesEmptyDocument(t *testing.T) {
	rules, err := ParseVisualRulesFromBytes(nil)
	require.NoError(t, err)
	assert.Empty(t, rules.Mappings)
}

func TestParseVisualRulesInvalidYAML(t *testing.T) {
	_, err := ParseVisualRulesFromBytes([]byte("mappings: [broken"))
	assert.Error(t, err)
}

func TestParseVisualRulesFromReader(t *testing.T) {
	rules, err := ParseVisualRulesFromReader(strings.NewReader(sampleRulesYAML))
	require.NoError(t, err)
	assert.Len(t, rules.Mappings, 2)
}

func TestParseVisualRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visual_rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRulesYAML), 0644))

	rules, err := ParseVisualRules(path)
	require.NoError(t, err)
	assert.Len(t, rules.Mappings, 2)

	_, err = ParseVisualRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, os.IsNotExist(err))
}
