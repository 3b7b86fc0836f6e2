package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/synoptic-visualizer/backend/internal/models"
)

// Fill colors used by the status rule set.
const (
	colorRed     = "#d32f2f"
	colorGreen   = "#2e7d32"
	colorAmber   = "#ffb300"
	colorBlue    = "#1976d2"
	colorNeutral = "#212121"
)

// Classes managed by the renderer.
const (
	classAlarm     = "alarm"
	classHighlight = "highlight"
)

var (
	redKeywords   = keywordSet("error", "danger", "fault", "fail", "failed", "critical", "down", "offline")
	greenKeywords = keywordSet("ok", "good", "healthy", "normal", "running", "online", "up")
	amberKeywords = keywordSet("warn", "warning", "alert", "degraded")
)

func keywordSet(words ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}

// EffectRenderer maps a bound element, key path and value to a visual
// mutation and schedules the transient highlight pulse. All methods run with
// the session lock held; timer callbacks re-enter through exec.
type EffectRenderer struct {
	mappings       []models.VisualMapping
	highlightDelay time.Duration

	timers  map[*models.Element]*time.Timer
	touched map[*models.Element]struct{}

	emit func(models.Mutation)
	exec func(func())
}

// NewEffectRenderer builds a renderer for one diagram session. mappings is
// the special per-element table (built-ins plus any YAML extension); emit
// receives every visual mutation; exec runs a function under the session
// lock, used by highlight fade-out timers.
func NewEffectRenderer(mappings []models.VisualMapping, highlightDelay time.Duration, emit func(models.Mutation), exec func(func())) *EffectRenderer {
	if highlightDelay <= 0 {
		highlightDelay = 1500 * time.Millisecond
	}
	if emit == nil {
		emit = func(models.Mutation) {}
	}
	if exec == nil {
		exec = func(fn func()) { fn() }
	}
	return &EffectRenderer{
		mappings:       mappings,
		highlightDelay: highlightDelay,
		timers:         make(map[*models.Element]*time.Timer),
		touched:        make(map[*models.Element]struct{}),
		emit:           emit,
		exec:           exec,
	}
}

// Apply runs the fixed rule set against one element and value, then pulses
// the element's enclosing group. Special mappings short-circuit the rest.
func (er *EffectRenderer) Apply(el *models.Element, keyPath string, value any) {
	if er.applyMapping(el, keyPath, value) {
		er.pulse(el)
		return
	}
	er.applyStatusColor(el, keyPath, value)
	er.applyText(el, value)
	er.applyAlarm(el, value)
	er.pulse(el)
}

// applyMapping checks the special per-element table. Returns true on a match,
// which ends rule evaluation for this element.
func (er *EffectRenderer) applyMapping(el *models.Element, keyPath string, value any) bool {
	for _, m := range er.mappings {
		if m.Element != el.ID || m.Field != keyPath {
			continue
		}
		v, ok := valueAsFloat(value)
		if !ok {
			return true
		}
		max := m.Max
		if max <= 0 {
			max = 100
		}
		ratio := v / max
		if ratio < 0 {
			ratio = 0
		} else if ratio > 1 {
			ratio = 1
		}
		switch m.Channel {
		case "opacity-width":
			er.setAttr(el, "opacity", strconv.FormatFloat(ratio, 'f', 2, 64))
			er.setAttr(el, "stroke-width", strconv.FormatFloat(1+9*ratio, 'f', 2, 64))
		case "width":
			er.setAttr(el, "width", strconv.FormatFloat(ratio*max, 'f', 2, 64))
		}
		return true
	}
	return false
}

// applyStatusColor colors text elements bound to status-bearing key paths.
func (er *EffectRenderer) applyStatusColor(el *models.Element, keyPath string, value any) {
	if el.Kind != models.ElementKindText {
		return
	}
	statusAxis := keyPath == "alert_level" || keyPath == "global_status"
	if !statusAxis && !strings.Contains(strings.ToLower(keyPath), "status") {
		return
	}

	keyword := strings.ToLower(valueAsString(value))
	var fill string
	switch {
	case contains(redKeywords, keyword):
		fill = colorRed
	case contains(greenKeywords, keyword):
		fill = colorGreen
	case contains(amberKeywords, keyword):
		fill = colorAmber
	case statusAxis:
		fill = colorBlue
	default:
		fill = colorNeutral
	}
	er.setAttr(el, "fill", fill)

	if fill == colorRed {
		er.addClass(el, classAlarm)
	} else {
		er.removeClass(el, classAlarm)
	}
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

// applyText sets the element's text to the value. Non-integer numerics are
// formatted with exactly two decimal places.
func (er *EffectRenderer) applyText(el *models.Element, value any) {
	if el.Kind != models.ElementKindText {
		return
	}
	er.setText(el, FormatValue(value))
}

// applyAlarm toggles the visibility of the element's nearest alarm line by
// evaluating its comparator against the value.
func (er *EffectRenderer) applyAlarm(el *models.Element, value any) {
	line := el.NearestAlarmLine()
	if line == nil {
		return
	}
	er.setVisible(line, EvalAlarm(line.AlarmOp, line.AlarmThreshold, value))
}

// EvalAlarm evaluates one alarm comparator. EQ and NEQ compare string forms;
// H and L compare numerically and yield "no alarm" for non-numeric operands.
func EvalAlarm(op, threshold string, value any) bool {
	switch op {
	case models.AlarmOpEQ:
		return valueAsString(value) == threshold
	case models.AlarmOpNEQ:
		return valueAsString(value) != threshold
	case models.AlarmOpH, models.AlarmOpL:
		v, ok := valueAsFloat(value)
		if !ok {
			return false
		}
		t, err := strconv.ParseFloat(strings.TrimSpace(threshold), 64)
		if err != nil {
			return false
		}
		if op == models.AlarmOpH {
			return v > t
		}
		return v < t
	}
	return false
}

// pulse adds the transient highlight class to the element's enclosing group.
// Rescheduling always cancels the prior fade-out first, so at most one live
// timer exists per element. A replaced timer may have fired already with its
// callback still waiting on the session lock; the identity check turns that
// stale callback into a no-op so it cannot strip a fresh highlight.
func (er *EffectRenderer) pulse(el *models.Element) {
	group := el.EnclosingGroup()
	if t, ok := er.timers[group]; ok {
		t.Stop()
	}
	er.addClass(group, classHighlight)
	var t *time.Timer
	t = time.AfterFunc(er.highlightDelay, func() {
		er.exec(func() {
			if er.timers[group] != t {
				return
			}
			delete(er.timers, group)
			er.removeClass(group, classHighlight)
		})
	})
	er.timers[group] = t
}

// CancelHighlights stops every pending fade-out and removes the highlight
// class immediately.
func (er *EffectRenderer) CancelHighlights() {
	for group, t := range er.timers {
		t.Stop()
		er.removeClass(group, classHighlight)
	}
	er.timers = make(map[*models.Element]*time.Timer)
}

// ActiveHighlights returns the number of elements currently pulsing.
func (er *EffectRenderer) ActiveHighlights() int {
	return len(er.timers)
}

// Touched returns the elements mutated since the last reset.
func (er *EffectRenderer) Touched() []*models.Element {
	out := make([]*models.Element, 0, len(er.touched))
	for el := range er.touched {
		out = append(out, el)
	}
	return out
}

// RestoreTouched resets every touched element to its load-time baseline and
// clears the touched set.
func (er *EffectRenderer) RestoreTouched() {
	for el := range er.touched {
		el.RestoreBaseline()
	}
	er.touched = make(map[*models.Element]struct{})
}

// Mutating helpers. Every change records the element as touched and emits a
// mutation for connected viewers.

func (er *EffectRenderer) setText(el *models.Element, text string) {
	er.touched[el] = struct{}{}
	if el.Text == text {
		return
	}
	el.Text = text
	er.emit(models.Mutation{ElementID: el.ID, Kind: models.MutationText, Value: text})
}

func (er *EffectRenderer) setAttr(el *models.Element, name, value string) {
	er.touched[el] = struct{}{}
	if el.Attrs[name] == value {
		return
	}
	el.Attrs[name] = value
	er.emit(models.Mutation{ElementID: el.ID, Kind: models.MutationAttr, Name: name, Value: value})
}

func (er *EffectRenderer) setVisible(el *models.Element, visible bool) {
	er.touched[el] = struct{}{}
	if el.Visible == visible {
		return
	}
	el.Visible = visible
	er.emit(models.Mutation{ElementID: el.ID, Kind: models.MutationVisibility, Visible: visible})
}

func (er *EffectRenderer) addClass(el *models.Element, name string) {
	er.touched[el] = struct{}{}
	if el.AddClass(name) {
		er.emit(models.Mutation{ElementID: el.ID, Kind: models.MutationClassAdd, Name: name})
	}
}

func (er *EffectRenderer) removeClass(el *models.Element, name string) {
	if el.RemoveClass(name) {
		er.touched[el] = struct{}{}
		er.emit(models.Mutation{ElementID: el.ID, Kind: models.MutationClassRemove, Name: name})
	}
}

// FormatValue renders a value for display. Non-integer numerics get exactly
// two decimal places; integers render without a fraction.
func FormatValue(value any) string {
	switch v := value.(type) {
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
		return strconv.FormatFloat(v, 'f', 2, 64)
	case float32:
		return FormatValue(float64(v))
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// valueAsString returns the canonical string form used by EQ/NEQ comparisons.
// Numbers use their shortest representation, not the display formatting.
func valueAsString(value any) string {
	if f, ok := value.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return FormatValue(value)
}

// valueAsFloat extracts a numeric operand when possible.
func valueAsFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// DefaultVisualMappings is the built-in special table. Diagrams can extend it
// through a YAML rules file.
func DefaultVisualMappings() []models.VisualMapping {
	return []models.VisualMapping{
		{Element: "signal-level", Field: "metrics.level", Channel: "opacity-width", Max: 100},
		{Element: "battery-charge", Field: "metrics.charge", Channel: "width", Max: 100},
	}
}
