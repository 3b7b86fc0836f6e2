package models

// VisualMapping drives a non-text visual channel for one (element, key path)
// pair. Mappings take precedence over every other effect rule.
type VisualMapping struct {
	Element string  `json:"element" yaml:"element"`
	Field   string  `json:"field" yaml:"field"`
	Channel string  `json:"channel" yaml:"channel"` // "opacity-width" or "width"
	Max     float64 `json:"max" yaml:"max"`         // full-scale value, defaults to 100
}

// VisualRules is the YAML configuration extending the built-in mapping table.
type VisualRules struct {
	Mappings []VisualMapping `json:"mappings" yaml:"mappings"`
}
