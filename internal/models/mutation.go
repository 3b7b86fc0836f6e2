package models

// MutationKind identifies which visual channel a mutation touches.
type MutationKind string

const (
	MutationText        MutationKind = "text"
	MutationAttr        MutationKind = "attr"
	MutationClassAdd    MutationKind = "class-add"
	MutationClassRemove MutationKind = "class-remove"
	MutationVisibility  MutationKind = "visibility"
)

// Mutation is one visual change applied to a diagram element. Batches of
// mutations are broadcast to connected viewers after every flush.
type Mutation struct {
	ElementID string       `json:"elementId" msgpack:"elementId"`
	Kind      MutationKind `json:"kind" msgpack:"kind"`
	Name      string       `json:"name,omitempty" msgpack:"name,omitempty"` // attr or class name
	Value     string       `json:"value,omitempty" msgpack:"value,omitempty"`
	Visible   bool         `json:"visible,omitempty" msgpack:"visible,omitempty"`
}
