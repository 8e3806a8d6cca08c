// Package populate turns extracted relationships into graph merges.
package populate

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/core/model"
	"github.com/agenthands/partgraph/internal/graph"
	"github.com/agenthands/partgraph/internal/metrics"
)

// LabelFor maps an upstream entity tag to a node label. Unrecognized tags
// are parts.
func LabelFor(t model.EntityType) model.Label {
	switch model.EntityType(strings.ToUpper(strings.TrimSpace(string(t)))) {
	case model.EntityEquipmentModel:
		return model.LabelEquipment
	case model.EntityManufacturer:
		return model.LabelManufacturer
	case model.EntitySpecification:
		return model.LabelSpec
	default:
		return model.LabelPart
	}
}

// NodeFor builds the graph node for an endpoint.
func NodeFor(ep model.Endpoint) model.Node {
	switch LabelFor(ep.Type) {
	case model.LabelSpec:
		// A declared type is kept as given; only untyped text is parsed.
		if specType := strings.TrimSpace(ep.SpecType); specType != "" {
			return model.SpecNode(specType, ep.ID)
		}
		return model.SpecNode(model.ParseSpec(ep.ID))
	case model.LabelManufacturer:
		return model.ManufacturerNode(strings.TrimSpace(ep.ID))
	case model.LabelEquipment:
		n := model.EquipmentNode(strings.TrimSpace(ep.ID))
		n.Name = ep.Name
		n.EquipmentType = ep.EquipmentType
		return n
	default:
		n := model.PartNode(strings.TrimSpace(ep.ID))
		n.Name = ep.Name
		n.OEM = ep.OEM
		return n
	}
}

// EdgeFor maps a relationship onto its graph edge. The relationship's
// source document is recorded on both endpoints. Untagged targets of
// HAS_SPEC and MANUFACTURED_BY take the only label those types accept.
func EdgeFor(rel model.Relationship) (model.Edge, error) {
	if !rel.Type.Valid() {
		return model.Edge{}, apperr.Validation("unknown relationship type %q", rel.Type)
	}
	target := rel.Target
	if target.Type == "" {
		switch rel.Type {
		case model.RelHasSpec:
			target.Type = model.EntitySpecification
		case model.RelManufacturedBy:
			target.Type = model.EntityManufacturer
		}
	}

	src, dst := NodeFor(rel.Source), NodeFor(target)
	if src.Ref() == dst.Ref() {
		return model.Edge{}, apperr.Validation("%s relationship from %s to itself", rel.Type, src.Ref())
	}
	src.AddSourceDoc(rel.SourceDocumentID)
	dst.AddSourceDoc(rel.SourceDocumentID)

	e := model.Edge{
		Type:              rel.Type,
		Source:            src,
		Target:            dst,
		Confidence:        rel.Confidence,
		Context:           rel.Context,
		IsTribalKnowledge: rel.IsTribalKnowledge,
		SourceDocumentID:  rel.SourceDocumentID,
		CreatedAt:         rel.CreatedAt,
	}
	if err := e.Validate(); err != nil {
		return model.Edge{}, apperr.Wrap(apperr.CodeValidation, err, "invalid %s relationship", rel.Type)
	}
	return e, nil
}

type Populator struct {
	Store  graph.Store
	Logger *zap.Logger
}

func New(store graph.Store, logger *zap.Logger) *Populator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Populator{Store: store, Logger: logger}
}

// Populate merges rel's endpoints and edge. Re-populating the same
// relationship overwrites the edge's properties in place.
func (p *Populator) Populate(ctx context.Context, rel model.Relationship) (model.Edge, error) {
	e, err := EdgeFor(rel)
	if err != nil {
		return model.Edge{}, err
	}
	merged, err := p.Store.MergeRelationship(ctx, e)
	if err != nil {
		return model.Edge{}, err
	}
	metrics.RelationshipsMergedTotal.WithLabelValues(string(rel.Type)).Inc()
	return merged, nil
}

// EnsureNode merges the node for ep, recording docID as provenance.
func (p *Populator) EnsureNode(ctx context.Context, ep model.Endpoint, docID string) (model.Node, error) {
	n := NodeFor(ep)
	n.AddSourceDoc(docID)
	return p.Store.MergeNode(ctx, n)
}

type RecordError struct {
	Index   int         `json:"index"`
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

type Report struct {
	Applied int           `json:"applied"`
	Failed  int           `json:"failed"`
	Errors  []RecordError `json:"errors,omitempty"`
}

// PopulateBatch populates each relationship independently. A failed record
// is logged and counted; it never stops the batch. Cancellation marks the
// remaining records failed with TIMEOUT.
func (p *Populator) PopulateBatch(ctx context.Context, rels []model.Relationship) Report {
	var report Report
	for i, rel := range rels {
		if err := ctx.Err(); err != nil {
			timeout := apperr.FromContext(err, "populate")
			for j := i; j < len(rels); j++ {
				report.fail(j, timeout)
			}
			p.Logger.Warn("batch cancelled", zap.Int("remaining", len(rels)-i))
			break
		}
		if _, err := p.Populate(ctx, rel); err != nil {
			report.fail(i, err)
			p.Logger.Warn("relationship not populated",
				zap.String("code", string(apperr.CodeOf(err))),
				zap.String("type", string(rel.Type)),
				zap.String("source", rel.Source.ID),
				zap.String("target", rel.Target.ID),
				zap.String("source_document_id", rel.SourceDocumentID),
				zap.Error(err))
			continue
		}
		report.Applied++
	}
	return report
}

func (r *Report) fail(i int, err error) {
	r.Failed++
	r.Errors = append(r.Errors, RecordError{Index: i, Code: apperr.CodeOf(err), Message: apperr.MessageOf(err)})
}
