package models

// TimelineMode is the engine's replay state. ModeController owns transitions;
// nothing else writes it.
type TimelineMode string

const (
	TimelineLive    TimelineMode = "live"
	TimelineHistory TimelineMode = "history"
)

// TimelineStatus is the externally visible mode plus cursor and bounds,
// returned by the timeline endpoint.
type TimelineStatus struct {
	Mode      TimelineMode `json:"mode"`
	HistoryAt int64        `json:"historyAt,omitempty"` // unix millis, history mode only
	BoundsMin int64        `json:"boundsMin,omitempty"`
	BoundsMax int64        `json:"boundsMax,omitempty"`
}

// TimeRange is the recorded history span in unix milliseconds, returned by
// the timeline range endpoint. Empty is set when nothing is recorded yet.
type TimeRange struct {
	Min   int64 `json:"min,omitempty"`
	Max   int64 `json:"max,omitempty"`
	Empty bool  `json:"empty,omitempty"`
}
