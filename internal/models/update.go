package models

// UpdateRecord is one normalized value update from the push feed.
// ParsedValue and IsStructured are filled in by the binding strategy when the
// raw payload parses as structured data.
type UpdateRecord struct {
	SourceID     string `json:"sourceId"`
	TopicID      string `json:"topicId"`
	RawPayload   string `json:"payload"`
	ParsedValue  any    `json:"-"`
	IsStructured bool   `json:"-"`
}

// Key returns the coalescing key: at most one pending record exists per key.
func (u *UpdateRecord) Key() string {
	return u.SourceID + "|" + u.TopicID
}

// SnapshotEntry is the last known value of one topic at a point in time,
// as returned by the snapshot query.
type SnapshotEntry struct {
	SourceID  string `json:"sourceId" msgpack:"sourceId"`
	TopicID   string `json:"topicId" msgpack:"topicId"`
	Payload   string `json:"payload" msgpack:"payload"`
	Timestamp int64  `json:"timestamp" msgpack:"timestamp"` // unix millis
}
