// Package models defines the domain types for the block graph.
package models

// BlockID identifies a block in the graph.
type BlockID int64

// RefID identifies a reference edge. Property values of kind
// ReferenceSet hold RefIDs, not BlockIDs.
type RefID int64

// Block is a node in the document graph. The core only reads blocks.
type Block struct {
	ID       BlockID     `json:"id"`
	Text     string      `json:"text"`
	Children []BlockID   `json:"children"`
	Refs     []Reference `json:"-"`
}

// Reference is an outbound edge of a block: either a *TagRef or a PlainRef.
type Reference interface {
	// RefID returns the id of the reference edge itself.
	RefID() RefID
	// Target returns the block the edge points at.
	Target() BlockID
	isReference()
}

// PlainRef is an untyped reference to another block.
type PlainRef struct {
	ID RefID
	To BlockID
}

func (r PlainRef) RefID() RefID { return r.ID }
func (r PlainRef) Target() BlockID { return r.To }
func (PlainRef) isReference() {}

// TagRef marks the owning block as tagged with To and carries the
// tag's property values for that block.
type TagRef struct {
	ID         RefID
	To         BlockID
	Properties []Property
}

func (r *TagRef) RefID() RefID { return r.ID }
func (r *TagRef) Target() BlockID { return r.To }
func (*TagRef) isReference() {}

// Property returns the first property named name, or nil.
func (r *TagRef) Property(name string) Property {
	for _, p := range r.Properties {
		if p.PropertyName() == name {
			return p
		}
	}
	return nil
}

// Property is a typed value attached to a tag reference: either a
// ReferenceSet or a Scalar.
type Property interface {
	PropertyName() string
	isProperty()
}

// ReferenceSet links the tagged block to other blocks via the ids of
// references the tagged block owns.
type ReferenceSet struct {
	Name string
	IDs  []RefID
}

func (p ReferenceSet) PropertyName() string { return p.Name }
func (ReferenceSet) isProperty() {}

// Scalar is a plain property value (text, number, choice).
type Scalar struct {
	Name  string
	Value string
}

func (p Scalar) PropertyName() string { return p.Name }
func (Scalar) isProperty() {}

// PropertyKind is the schema kind of a tag property.
type PropertyKind int

const (
	PropertyText        PropertyKind = 1
	PropertyBlockRefs   PropertyKind = 2
	PropertyNumber      PropertyKind = 3
	PropertyBoolean     PropertyKind = 4
	PropertyDateTime    PropertyKind = 5
	PropertyTextChoices PropertyKind = 6
)

// PropertySchema declares a property that blocks tagged with the owning
// tag block may carry.
type PropertySchema struct {
	Name    string       `json:"name" yaml:"name"`
	Kind    PropertyKind `json:"kind" yaml:"kind"`
	SubType string       `json:"sub_type,omitempty" yaml:"sub_type,omitempty"`
	Choices []string     `json:"choices,omitempty" yaml:"choices,omitempty"`
}

// Alias binds a unique name to a root block.
type Alias struct {
	Name    string  `json:"name"`
	BlockID BlockID `json:"block_id"`
}

// Notification levels.
const (
	LevelSuccess = "success"
	LevelError   = "error"
)

// Notification is a user-visible message emitted by a command.
type Notification struct {
	Level        string `json:"level"`
	Message      string `json:"message"`
	InvocationID string `json:"invocation_id,omitempty"`
}
