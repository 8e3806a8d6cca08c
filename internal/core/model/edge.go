package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type RelType string

const (
	RelReplaces        RelType = "REPLACES"
	RelEquivalentTo    RelType = "EQUIVALENT_TO"
	RelCompatibleWith  RelType = "COMPATIBLE_WITH"
	RelAdapterRequired RelType = "ADAPTER_REQUIRED"
	RelHasSpec         RelType = "HAS_SPEC"
	RelManufacturedBy  RelType = "MANUFACTURED_BY"
)

var RelTypes = []RelType{RelReplaces, RelEquivalentTo, RelCompatibleWith, RelAdapterRequired, RelHasSpec, RelManufacturedBy}

func (t RelType) Valid() bool {
	for _, rt := range RelTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// ParseRelType accepts the canonical names in any case, with spaces or
// dashes in place of underscores ("replaces", "equivalent to").
func ParseRelType(s string) (RelType, error) {
	canon := strings.ToUpper(strings.TrimSpace(s))
	canon = strings.NewReplacer(" ", "_", "-", "_").Replace(canon)
	t := RelType(canon)
	if !t.Valid() {
		return "", fmt.Errorf("unknown relationship type %q", s)
	}
	return t, nil
}

// Edge is a persisted relationship. There is at most one edge per
// (Type, Source.Key(), Target.Key()).
type Edge struct {
	Type              RelType   `json:"type"`
	Source            Node      `json:"source"`
	Target            Node      `json:"target"`
	Confidence        float64   `json:"confidence"`
	Context           string    `json:"context,omitempty"`
	IsTribalKnowledge bool      `json:"is_tribal_knowledge"`
	SourceDocumentID  string    `json:"source_doc_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Key identifies the edge within its type.
func (e Edge) Key() string {
	return string(e.Type) + "|" + e.Source.Ref().String() + "|" + e.Target.Ref().String()
}

func (e Edge) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("unknown relationship type %q", e.Type)
	}
	if math.IsNaN(e.Confidence) || e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", e.Confidence)
	}
	if err := e.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := e.Target.Validate(); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	return nil
}
