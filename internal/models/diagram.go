package models

import "strings"

// ElementKind classifies how a bound element reacts to incoming values.
type ElementKind string

const (
	ElementKindText      ElementKind = "text"
	ElementKindShape     ElementKind = "shape-attribute"
	ElementKindAlarmLine ElementKind = "alarm-line"
	ElementKindNone      ElementKind = ""
)

// Alarm comparators supported on alarm-line elements.
const (
	AlarmOpEQ  = "EQ"
	AlarmOpNEQ = "NEQ"
	AlarmOpH   = "H"
	AlarmOpL   = "L"
)

// ElementBaseline captures an element's pristine visual state at diagram-load
// time so historical replay can restore it before reapplying a snapshot.
type ElementBaseline struct {
	Text    string
	Attrs   map[string]string
	Classes []string
	Visible bool
}

// Element is a single node in the loaded diagram tree.
// The tree is read-only in shape after parsing; only visual state
// (text, attributes, classes, visibility) mutates at runtime.
type Element struct {
	ID      string
	Tag     string
	Text    string
	Attrs   map[string]string
	Visible bool

	// Binding metadata scanned from the document.
	KeyPath        string // data-field attribute, empty when unbound
	Kind           ElementKind
	AlarmOp        string // EQ, NEQ, H, L
	AlarmThreshold string

	Parent   *Element
	Children []*Element

	Baseline ElementBaseline

	classes map[string]struct{}
}

// AddClass adds a CSS class to the element. Returns true if it was not present.
func (e *Element) AddClass(name string) bool {
	if e.classes == nil {
		e.classes = make(map[string]struct{})
	}
	if _, ok := e.classes[name]; ok {
		return false
	}
	e.classes[name] = struct{}{}
	return true
}

// RemoveClass removes a CSS class. Returns true if it was present.
func (e *Element) RemoveClass(name string) bool {
	if _, ok := e.classes[name]; !ok {
		return false
	}
	delete(e.classes, name)
	return true
}

// HasClass reports whether the element currently carries the class.
func (e *Element) HasClass(name string) bool {
	_, ok := e.classes[name]
	return ok
}

// Classes returns the element's current classes in unspecified order.
func (e *Element) Classes() []string {
	out := make([]string, 0, len(e.classes))
	for c := range e.classes {
		out = append(out, c)
	}
	return out
}

// SetClasses replaces the class set wholesale.
func (e *Element) SetClasses(classes []string) {
	e.classes = make(map[string]struct{}, len(classes))
	for _, c := range classes {
		if c != "" {
			e.classes[c] = struct{}{}
		}
	}
}

// CaptureBaseline records the element's current state as its pristine baseline.
func (e *Element) CaptureBaseline() {
	attrs := make(map[string]string, len(e.Attrs))
	for k, v := range e.Attrs {
		attrs[k] = v
	}
	e.Baseline = ElementBaseline{
		Text:    e.Text,
		Attrs:   attrs,
		Classes: e.Classes(),
		Visible: e.Visible,
	}
}

// RestoreBaseline resets the element's visual state to the captured baseline.
func (e *Element) RestoreBaseline() {
	e.Text = e.Baseline.Text
	e.Attrs = make(map[string]string, len(e.Baseline.Attrs))
	for k, v := range e.Baseline.Attrs {
		e.Attrs[k] = v
	}
	e.SetClasses(e.Baseline.Classes)
	e.Visible = e.Baseline.Visible
}

// NearestAlarmLine walks up from the element (inclusive) to the closest
// ancestor declared as an alarm line with a comparator.
func (e *Element) NearestAlarmLine() *Element {
	for cur := e; cur != nil; cur = cur.Parent {
		if cur.Kind == ElementKindAlarmLine && cur.AlarmOp != "" {
			return cur
		}
	}
	return nil
}

// EnclosingGroup returns the nearest ancestor group element, or the element
// itself when it is not inside a group. Used for the highlight pulse.
func (e *Element) EnclosingGroup() *Element {
	for cur := e.Parent; cur != nil; cur = cur.Parent {
		if cur.Tag == "g" {
			return cur
		}
	}
	return e
}

// DiagramDocument is the currently loaded visual tree, owned exclusively by
// the engine for the duration of one diagram selection.
type DiagramDocument struct {
	Name string
	Root *Element

	index map[string]*Element
}

// NewDiagramDocument builds a document around a parsed root and indexes
// every element carrying an id.
func NewDiagramDocument(name string, root *Element) *DiagramDocument {
	doc := &DiagramDocument{
		Name:  name,
		Root:  root,
		index: make(map[string]*Element),
	}
	doc.Walk(func(el *Element) {
		if el.ID != "" {
			doc.index[el.ID] = el
		}
	})
	return doc
}

// ElementByID returns the element with the given id, or nil.
func (d *DiagramDocument) ElementByID(id string) *Element {
	return d.index[id]
}

// Walk visits every element in document order.
func (d *DiagramDocument) Walk(fn func(*Element)) {
	if d.Root == nil {
		return
	}
	var walk func(*Element)
	walk = func(el *Element) {
		fn(el)
		for _, c := range el.Children {
			walk(c)
		}
	}
	walk(d.Root)
}

// BoundElementsWithin collects the bound elements (those carrying a key path)
// inside the container, including the container itself.
func BoundElementsWithin(container *Element) []*Element {
	var out []*Element
	var walk func(*Element)
	walk = func(el *Element) {
		if el.KeyPath != "" {
			out = append(out, el)
		}
		for _, c := range el.Children {
			walk(c)
		}
	}
	walk(container)
	return out
}

// ElementState is a serializable view of one element's current visual state,
// used by the diagram-state endpoint so a late-attaching viewer can catch up.
type ElementState struct {
	ID      string            `json:"id" msgpack:"id"`
	Tag     string            `json:"tag" msgpack:"tag"`
	Text    string            `json:"text,omitempty" msgpack:"text,omitempty"`
	Attrs   map[string]string `json:"attrs,omitempty" msgpack:"attrs,omitempty"`
	Classes []string          `json:"classes,omitempty" msgpack:"classes,omitempty"`
	Visible bool              `json:"visible" msgpack:"visible"`
}

// NormalizeTopic converts a hierarchical topic id into the identifier form
// used inside diagram documents (path separators become underscores).
func NormalizeTopic(topicID string) string {
	return strings.ReplaceAll(topicID, "/", "_")
}

// ScopedIdentifier is the source-qualified element lookup key.
func ScopedIdentifier(sourceID, topicID string) string {
	return sourceID + "-" + NormalizeTopic(topicID)
}
