package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Category string

const (
	CategoryDeprecation   Category = "deprecation"
	CategoryReplacement   Category = "replacement"
	CategoryCompatibility Category = "compatibility"
)

var Categories = []Category{CategoryDeprecation, CategoryReplacement, CategoryCompatibility}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CategoryDeprecation, CategoryReplacement, CategoryCompatibility:
		return c, nil
	}
	return "", fmt.Errorf("unknown signal category %q", s)
}

// Signal is one classifier output for one text span.
type Signal struct {
	Text       string   `json:"text"`
	Category   Category `json:"category"`
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
}

var signalNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("partgraph/signal"))

// SignalEvent is a Signal delivered for an identifier, with its provenance.
type SignalEvent struct {
	ID               string     `json:"id,omitempty"`
	Identifier       string     `json:"identifier"`
	SourceDocumentID string     `json:"source_document_id"`
	Source           string     `json:"source,omitempty"`
	SourceKind       SourceKind `json:"source_kind,omitempty"`
	Text             string     `json:"text"`
	Category         Category   `json:"category"`
	Label            string     `json:"label"`
	Confidence       float64    `json:"confidence"`
	ObservedAt       time.Time  `json:"observed_at"`
}

func (e SignalEvent) Signal() Signal {
	return Signal{Text: e.Text, Category: e.Category, Label: e.Label, Confidence: e.Confidence}
}

// EventID returns the event id or a stable one derived from its content, so
// redelivered events collapse to one.
func (e SignalEvent) EventID() string {
	if e.ID != "" {
		return e.ID
	}
	name := fmt.Sprintf("%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%g", e.Identifier, e.SourceDocumentID, e.Text, e.Category, e.Label, e.Confidence)
	return uuid.NewSHA1(signalNamespace, []byte(name)).String()
}

type Indicator struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// CategoryStatus is the verdict for one category. Confidence averages every
// positive instance; Indicators lists each label once for display.
type CategoryStatus struct {
	Verdict    bool        `json:"verdict"`
	Confidence float64     `json:"confidence"`
	Count      int         `json:"count"`
	Indicators []Indicator `json:"indicators"`
}

type AggregatedStatus struct {
	Deprecation   CategoryStatus `json:"deprecation"`
	Replacement   CategoryStatus `json:"replacement"`
	Compatibility CategoryStatus `json:"compatibility"`
}

func (s AggregatedStatus) For(c Category) CategoryStatus {
	switch c {
	case CategoryDeprecation:
		return s.Deprecation
	case CategoryReplacement:
		return s.Replacement
	case CategoryCompatibility:
		return s.Compatibility
	}
	return CategoryStatus{}
}

// Set stores cs as the status for c.
func (s *AggregatedStatus) Set(c Category, cs CategoryStatus) {
	switch c {
	case CategoryDeprecation:
		s.Deprecation = cs
	case CategoryReplacement:
		s.Replacement = cs
	case CategoryCompatibility:
		s.Compatibility = cs
	}
}
