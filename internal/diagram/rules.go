package diagram

import (
	"io"
	"os"

	"github.com/synoptic-visualizer/backend/internal/models"
	"gopkg.in/yaml.v3"
)

// ParseVisualRules parses a YAML rules file extending the built-in
// visual-mapping table.
func ParseVisualRules(filePath string) (*models.VisualRules, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseVisualRulesFromReader(file)
}

// ParseVisualRulesFromReader parses rules from an io.Reader.
func ParseVisualRulesFromReader(r io.Reader) (*models.VisualRules, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseVisualRulesFromBytes(data)
}

// ParseVisualRulesFromBytes parses rules from raw YAML bytes.
func ParseVisualRulesFromBytes(data []byte) (*models.VisualRules, error) {
	var rules models.VisualRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, err
	}
	for i := range rules.Mappings {
		if rules.Mappings[i].Max <= 0 {
			rules.Mappings[i].Max = 100
		}
	}
	return &rules, nil
}
