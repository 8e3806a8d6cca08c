package resolve

import (
	"context"
	"sort"
	"time"

	"github.com/agenthands/partgraph/internal/core/model"
	"github.com/agenthands/partgraph/internal/core/partid"
)

// LookupPart gathers what the graph knows about one part. Provenance is
// the union of the part's own source documents and those of its edges.
func (r *Resolver) LookupPart(ctx context.Context, identifier string) (lookup *model.PartLookup, err error) {
	start := time.Now()
	defer func() { r.observe("lookup_part", start, err) }()

	key, err := partid.Validate(identifier)
	if err != nil {
		return nil, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	part, err := r.Store.GetNode(ctx, model.NodeRef{Label: model.LabelPart, Key: key})
	if err != nil {
		return nil, timeout(ctx, err, "lookup_part")
	}
	out, err := r.Store.Outgoing(ctx, part.Ref())
	if err != nil {
		return nil, timeout(ctx, err, "lookup_part")
	}
	in, err := r.Store.Incoming(ctx, part.Ref(), model.RelEquivalentTo)
	if err != nil {
		return nil, timeout(ctx, err, "lookup_part")
	}

	lookup = &model.PartLookup{
		Part:                model.PartInfo{PartID: part.ID, Name: part.Name, OEM: part.IsOEM()},
		Specifications:      []model.SpecInfo{},
		DirectReplacements:  []model.ReplacementInfo{},
		EquivalentParts:     []model.ReplacementInfo{},
		CompatibleParts:     []model.ReplacementInfo{},
		CompatibleEquipment: []model.EquipmentInfo{},
		AdaptersRequired:    []model.ReplacementInfo{},
		SourceDocumentIDs:   []string{},
	}
	docs := map[string]bool{}
	addDoc := func(id string) {
		if id != "" && !docs[id] {
			docs[id] = true
			lookup.SourceDocumentIDs = append(lookup.SourceDocumentIDs, id)
		}
	}
	for _, id := range part.SourceDocIDs {
		addDoc(id)
	}

	equivalent := map[string]bool{}
	for _, e := range out {
		addDoc(e.SourceDocumentID)
		t := e.Target
		switch e.Type {
		case model.RelReplaces:
			lookup.DirectReplacements = append(lookup.DirectReplacements, replacementInfo(t, e, 1))
		case model.RelEquivalentTo:
			equivalent[t.Key()] = true
			lookup.EquivalentParts = append(lookup.EquivalentParts, replacementInfo(t, e, 0))
		case model.RelCompatibleWith:
			if t.Label == model.LabelEquipment {
				lookup.CompatibleEquipment = append(lookup.CompatibleEquipment, model.EquipmentInfo{
					Model:      t.ID,
					Type:       t.EquipmentType,
					Confidence: e.Confidence,
				})
			} else {
				lookup.CompatibleParts = append(lookup.CompatibleParts, replacementInfo(t, e, 0))
			}
		case model.RelAdapterRequired:
			lookup.AdaptersRequired = append(lookup.AdaptersRequired, replacementInfo(t, e, 0))
		case model.RelHasSpec:
			lookup.Specifications = append(lookup.Specifications, model.SpecInfo{Type: t.SpecType, Value: t.ID})
		case model.RelManufacturedBy:
			if lookup.Part.Manufacturer == "" {
				lookup.Part.Manufacturer = t.ID
			}
		}
	}
	// Equivalence holds both ways.
	for _, e := range in {
		addDoc(e.SourceDocumentID)
		if equivalent[e.Source.Key()] {
			continue
		}
		equivalent[e.Source.Key()] = true
		lookup.EquivalentParts = append(lookup.EquivalentParts, replacementInfo(e.Source, e, 0))
	}

	sortByConfidence(lookup.DirectReplacements)
	sortByConfidence(lookup.EquivalentParts)
	sortByConfidence(lookup.CompatibleParts)
	sortByConfidence(lookup.AdaptersRequired)
	sort.SliceStable(lookup.CompatibleEquipment, func(i, j int) bool {
		a, b := lookup.CompatibleEquipment[i], lookup.CompatibleEquipment[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Model < b.Model
	})
	sort.SliceStable(lookup.Specifications, func(i, j int) bool {
		a, b := lookup.Specifications[i], lookup.Specifications[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Value < b.Value
	})
	return lookup, nil
}
