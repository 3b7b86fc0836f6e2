// Package diagram parses synoptic SVG documents into the element tree the
// engine binds live values against.
package diagram

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"github.com/synoptic-visualizer/backend/internal/models"
)

// Binding attributes recognized on diagram elements.
const (
	attrField          = "data-field"
	attrKind           = "data-kind"
	attrAlarmOp        = "data-alarm-op"
	attrAlarmThreshold = "data-alarm-threshold"
)

// svgNode mirrors the raw XML structure. Diagrams nest arbitrarily, so the
// node is recursive rather than a fixed schema like a config file.
type svgNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []svgNode  `xml:",any"`
}

// Parse parses a diagram document body into an indexed element tree.
// Baselines are captured for every element so replay can restore the
// pristine state.
func Parse(name string, data []byte) (*models.DiagramDocument, error) {
	var raw svgNode
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing diagram %s: %w", name, err)
	}

	root := buildElement(&raw, nil)
	doc := models.NewDiagramDocument(name, root)
	doc.Walk(func(el *models.Element) {
		el.CaptureBaseline()
	})
	return doc, nil
}

// ParseFile parses a diagram document from disk.
func ParseFile(path string) (*models.DiagramDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

func buildElement(n *svgNode, parent *models.Element) *models.Element {
	el := &models.Element{
		Tag:     n.XMLName.Local,
		Text:    strings.TrimSpace(n.Text),
		Attrs:   make(map[string]string, len(n.Attrs)),
		Visible: true,
		Parent:  parent,
	}

	for _, a := range n.Attrs {
		el.Attrs[a.Name.Local] = a.Value
	}

	el.ID = el.Attrs["id"]
	el.KeyPath = el.Attrs[attrField]
	el.AlarmOp = strings.ToUpper(el.Attrs[attrAlarmOp])
	el.AlarmThreshold = el.Attrs[attrAlarmThreshold]
	el.Kind = detectKind(el)
	el.SetClasses(strings.Fields(el.Attrs["class"]))

	// Alarm lines start hidden; they become visible only when their
	// comparator fires.
	if el.Kind == models.ElementKindAlarmLine {
		el.Visible = false
	}

	for i := range n.Children {
		el.Children = append(el.Children, buildElement(&n.Children[i], el))
	}
	return el
}

// detectKind classifies an element. An explicit data-kind wins; otherwise the
// tag and alarm attributes decide.
func detectKind(el *models.Element) models.ElementKind {
	switch el.Attrs[attrKind] {
	case "text":
		return models.ElementKindText
	case "shape-attribute":
		return models.ElementKindShape
	case "alarm-line":
		return models.ElementKindAlarmLine
	}
	if el.AlarmOp != "" {
		return models.ElementKindAlarmLine
	}
	switch el.Tag {
	case "text", "tspan":
		return models.ElementKindText
	}
	if el.KeyPath != "" {
		return models.ElementKindShape
	}
	return models.ElementKindNone
}
