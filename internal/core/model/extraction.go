package model

import "time"

// EntityType is the tag an upstream extractor puts on an entity mention.
type EntityType string

const (
	EntityPartNumber     EntityType = "PART_NUMBER"
	EntityEquipmentModel EntityType = "EQUIPMENT_MODEL"
	EntityAdapter        EntityType = "ADAPTER"
	EntityManufacturer   EntityType = "MANUFACTURER"
	EntitySpecification  EntityType = "SPECIFICATION"
)

// Endpoint is one side of an extracted relationship before it is mapped to
// a graph node.
type Endpoint struct {
	ID            string     `json:"id"`
	Type          EntityType `json:"type,omitempty"`
	Name          string     `json:"name,omitempty"`
	OEM           *bool      `json:"oem,omitempty"`
	SpecType      string     `json:"spec_type,omitempty"`
	EquipmentType string     `json:"equipment_type,omitempty"`
}

func PartEndpoint(id string) Endpoint {
	return Endpoint{ID: id, Type: EntityPartNumber}
}

// Relationship is an extracted, not yet persisted, typed relationship with
// its provenance.
type Relationship struct {
	Type              RelType   `json:"type"`
	Source            Endpoint  `json:"source"`
	Target            Endpoint  `json:"target"`
	Confidence        float64   `json:"confidence"`
	Context           string    `json:"context,omitempty"`
	IsTribalKnowledge bool      `json:"is_tribal_knowledge"`
	SourceDocumentID  string    `json:"source_document_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// RelationEvent is a relation tuple produced by the external NLP stage.
type RelationEvent struct {
	ID               string    `json:"id,omitempty"`
	Source           Endpoint  `json:"source"`
	Target           Endpoint  `json:"target"`
	Relation         string    `json:"relation"`
	Confidence       float64   `json:"confidence"`
	Context          string    `json:"context,omitempty"`
	SourceDocumentID string    `json:"source_document_id"`
	DocType          string    `json:"doc_type,omitempty"`
	ObservedAt       time.Time `json:"observed_at"`
}

// TextSpan is free text pulled from a payload for external classification.
type TextSpan struct {
	Field string `json:"field"`
	Text  string `json:"text"`
}
