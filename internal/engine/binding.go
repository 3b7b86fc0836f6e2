package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/synoptic-visualizer/backend/internal/models"
	"github.com/synoptic-visualizer/backend/internal/plugin"
)

// Strategy dispatches one coalesced update to visual effects. Exactly one
// variant is active per loaded diagram: the default rule-driven dispatch, or
// a diagram-supplied plugin that fully replaces it.
type Strategy interface {
	Name() string
	Apply(rec *models.UpdateRecord)
	Reset()
}

// parsePayload fills ParsedValue/IsStructured. A payload that fails to parse
// as JSON is kept as opaque text; that is not an error.
func parsePayload(rec *models.UpdateRecord) {
	var v any
	if err := json.Unmarshal([]byte(rec.RawPayload), &v); err == nil {
		rec.ParsedValue = v
		rec.IsStructured = true
		return
	}
	rec.ParsedValue = rec.RawPayload
	rec.IsStructured = false
}

// DefaultStrategy resolves elements and drives the effect rule set.
type DefaultStrategy struct {
	resolver *Resolver
	effects  *EffectRenderer
}

func NewDefaultStrategy(resolver *Resolver, effects *EffectRenderer) *DefaultStrategy {
	return &DefaultStrategy{resolver: resolver, effects: effects}
}

func (s *DefaultStrategy) Name() string { return "default" }

func (s *DefaultStrategy) Apply(rec *models.UpdateRecord) {
	parsePayload(rec)
	for _, el := range s.resolver.Resolve(rec.SourceID, rec.TopicID) {
		value, ok := valueAtPath(rec, el.KeyPath)
		if !ok {
			continue
		}
		s.effects.Apply(el, el.KeyPath, value)
	}
}

func (s *DefaultStrategy) Reset() {}

// valueAtPath reads the nested value at the element's key path. Unstructured
// payloads skip path traversal and bind the raw text directly; structured
// scalars (a bare number or string payload) bind directly as well, since a
// key path only makes sense against an object or a metric list.
func valueAtPath(rec *models.UpdateRecord, keyPath string) (any, bool) {
	if !rec.IsStructured {
		return rec.RawPayload, true
	}
	switch rec.ParsedValue.(type) {
	case map[string]any, []any:
		return traverse(rec.ParsedValue, keyPath)
	default:
		return rec.ParsedValue, true
	}
}

// traverse walks a dotted key path through decoded JSON. A list of
// {name, value} objects is treated as a named metric collection: the segment
// selects the entry whose name matches and yields its value.
func traverse(value any, keyPath string) (any, bool) {
	if keyPath == "" {
		return value, true
	}
	cur := value
	for _, seg := range strings.Split(keyPath, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			next, ok := lookupNamedMetric(node, seg)
			if !ok {
				return nil, false
			}
			cur = next
		default:
			return nil, false
		}
	}
	return cur, true
}

func lookupNamedMetric(list []any, name string) (any, bool) {
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if n, _ := entry["name"].(string); n == name {
			return entry["value"], true
		}
	}
	return nil, false
}

// PluginStrategy hands every update to the diagram's companion binding. Each
// callback is individually isolated: a panic is reported and the batch
// continues with the next update.
type PluginStrategy struct {
	binding plugin.Binding
	doc     *models.DiagramDocument
}

func NewPluginStrategy(binding plugin.Binding, doc *models.DiagramDocument) *PluginStrategy {
	s := &PluginStrategy{binding: binding, doc: doc}
	s.guard("initialize", func() { binding.Initialize(doc) })
	return s
}

func (s *PluginStrategy) Name() string { return "plugin" }

func (s *PluginStrategy) Apply(rec *models.UpdateRecord) {
	parsePayload(rec)
	s.guard("update", func() {
		s.binding.Update(rec.SourceID, rec.TopicID, rec.ParsedValue, s.doc)
	})
}

func (s *PluginStrategy) Reset() {
	s.guard("reset", func() { s.binding.Reset(s.doc) })
}

func (s *PluginStrategy) guard(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("[Binding] plugin %s panic on %s: %v\n", op, s.doc.Name, r)
		}
	}()
	fn()
}
