package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/agenthands/partgraph/internal/core/partid"
)

type Label string

const (
	LabelPart         Label = "Part"
	LabelSpec         Label = "Spec"
	LabelEquipment    Label = "Equipment"
	LabelManufacturer Label = "Manufacturer"
)

func (l Label) Valid() bool {
	switch l {
	case LabelPart, LabelSpec, LabelEquipment, LabelManufacturer:
		return true
	}
	return false
}

// Node is a graph vertex. ID is the display identity: the part id, the
// equipment model, the manufacturer name or the spec value. Identity for
// merging is Key().
type Node struct {
	Label         Label     `json:"label"`
	ID            string    `json:"id"`
	SpecType      string    `json:"spec_type,omitempty"`
	Name          string    `json:"name,omitempty"`
	OEM           *bool     `json:"oem,omitempty"`
	EquipmentType string    `json:"equipment_type,omitempty"`
	SourceDocIDs  []string  `json:"source_doc_ids,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func PartNode(id string) Node {
	return Node{Label: LabelPart, ID: id}
}

func SpecNode(specType, value string) Node {
	return Node{Label: LabelSpec, ID: value, SpecType: specType}
}

func EquipmentNode(model string) Node {
	return Node{Label: LabelEquipment, ID: model}
}

func ManufacturerNode(name string) Node {
	return Node{Label: LabelManufacturer, ID: name}
}

// SpecIdentity returns the normalized (type, value) pair of a Spec node.
func (n Node) SpecIdentity() (string, string) {
	return strings.ToUpper(strings.TrimSpace(n.SpecType)), collapseSpaces(n.ID)
}

// Key is the label-scoped identity used for uniqueness.
func (n Node) Key() string {
	switch n.Label {
	case LabelSpec:
		t, v := n.SpecIdentity()
		return t + "|" + v
	case LabelManufacturer:
		return strings.ToUpper(collapseSpaces(n.ID))
	default:
		return partid.Normalize(n.ID)
	}
}

func (n Node) Ref() NodeRef {
	return NodeRef{Label: n.Label, Key: n.Key()}
}

func (n Node) IsOEM() bool {
	return n.OEM != nil && *n.OEM
}

// Validate checks the node can be persisted.
func (n Node) Validate() error {
	if !n.Label.Valid() {
		return fmt.Errorf("unknown node label %q", n.Label)
	}
	if strings.IndexFunc(n.ID, isControlRune) >= 0 || strings.IndexFunc(n.SpecType, isControlRune) >= 0 {
		return fmt.Errorf("%s identity contains control characters", n.Label)
	}
	switch n.Label {
	case LabelPart, LabelEquipment:
		if _, err := partid.Validate(n.ID); err != nil {
			return err
		}
	case LabelSpec:
		if t, v := n.SpecIdentity(); t == "" || v == "" {
			return fmt.Errorf("spec requires both type and value")
		}
	case LabelManufacturer:
		if n.Key() == "" {
			return fmt.Errorf("manufacturer name is empty")
		}
	}
	return nil
}

// NodeRef addresses a stored node without carrying its properties.
type NodeRef struct {
	Label Label
	Key   string
}

func (r NodeRef) String() string {
	return string(r.Label) + ":" + r.Key
}

// AddSourceDoc appends id to the node's provenance when not already present.
func (n *Node) AddSourceDoc(id string) {
	if id == "" {
		return
	}
	for _, existing := range n.SourceDocIDs {
		if existing == id {
			return
		}
	}
	n.SourceDocIDs = append(n.SourceDocIDs, id)
}

// MergeFrom overlays the non-empty properties of incoming onto n. Identity,
// creation time and the first-seen display id are kept.
func (n *Node) MergeFrom(incoming Node) {
	if incoming.Name != "" {
		n.Name = incoming.Name
	}
	if incoming.OEM != nil {
		oem := *incoming.OEM
		n.OEM = &oem
	}
	if incoming.EquipmentType != "" {
		n.EquipmentType = incoming.EquipmentType
	}
	for _, id := range incoming.SourceDocIDs {
		n.AddSourceDoc(id)
	}
	if incoming.UpdatedAt.After(n.UpdatedAt) {
		n.UpdatedAt = incoming.UpdatedAt
	}
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isControlRune(r rune) bool {
	return r < 0x20 || r == 0x7f
}
