package resolve

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/core/model"
)

// FindBySpec lists the parts with a HAS_SPEC edge to exactly (specType,
// value), OEM parts first and then by part id. An unknown spec matches
// nothing.
func (r *Resolver) FindBySpec(ctx context.Context, specType, value string) (result *model.SpecSearch, err error) {
	start := time.Now()
	defer func() { r.observe("search_by_spec", start, err) }()

	specType, value = model.SpecNode(specType, value).SpecIdentity()
	if specType == "" || value == "" {
		return nil, apperr.Validation("spec type and value are both required")
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	nodes, err := r.Store.PartsBySpec(ctx, specType, value)
	if err != nil {
		return nil, timeout(ctx, err, "search_by_spec")
	}

	parts := make([]model.PartInfo, 0, len(nodes))
	for _, n := range nodes {
		parts = append(parts, model.PartInfo{PartID: n.ID, Name: n.Name, OEM: n.IsOEM()})
	}
	sort.SliceStable(parts, func(i, j int) bool {
		if parts[i].OEM != parts[j].OEM {
			return parts[i].OEM
		}
		return strings.ToUpper(parts[i].PartID) < strings.ToUpper(parts[j].PartID)
	})

	return &model.SpecSearch{
		QuerySpecs:    model.SpecInfo{Type: specType, Value: value},
		MatchingParts: parts,
		TotalMatches:  len(parts),
	}, nil
}
