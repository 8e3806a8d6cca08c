// Package graph persists parts, specs, equipment and manufacturers and the
// typed relationships between them. Every write is a merge keyed on the
// node's label-scoped identity or on (type, source, target) for edges.
package graph

import (
	"context"
	"sort"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/core/model"
)

type Store interface {
	// EnsureSchema creates uniqueness constraints and indexes. Idempotent.
	EnsureSchema(ctx context.Context) error

	// MergeNode creates the node or overlays its non-empty properties on the
	// stored one, returning the stored state.
	MergeNode(ctx context.Context, n model.Node) (model.Node, error)

	// MergeRelationship upserts both endpoints and the edge as one atomic
	// unit. Edge properties are overwritten; CreatedAt is kept.
	MergeRelationship(ctx context.Context, e model.Edge) (model.Edge, error)

	// GetNode returns a NOT_FOUND error when the node does not exist.
	GetNode(ctx context.Context, ref model.NodeRef) (model.Node, error)

	// Outgoing and Incoming list the edges at ref, restricted to types when
	// any are given. An unknown node has no edges.
	Outgoing(ctx context.Context, ref model.NodeRef, types ...model.RelType) ([]model.Edge, error)
	Incoming(ctx context.Context, ref model.NodeRef, types ...model.RelType) ([]model.Edge, error)

	// PartsBySpec lists the Part nodes with a HAS_SPEC edge to Spec(type, value).
	PartsBySpec(ctx context.Context, specType, value string) ([]model.Node, error)

	Stats(ctx context.Context) (Stats, error)

	// Clear removes every node and edge.
	Clear(ctx context.Context) error

	Close() error
}

type Stats struct {
	Nodes      map[model.Label]int64   `json:"nodes"`
	Edges      map[model.RelType]int64 `json:"edges"`
	TotalNodes int64                   `json:"total_nodes"`
	TotalEdges int64                   `json:"total_edges"`
}

func newStats() Stats {
	return Stats{Nodes: map[model.Label]int64{}, Edges: map[model.RelType]int64{}}
}

func (s *Stats) addNodes(label model.Label, n int64) {
	s.Nodes[label] += n
	s.TotalNodes += n
}

func (s *Stats) addEdges(t model.RelType, n int64) {
	s.Edges[t] += n
	s.TotalEdges += n
}

func validateNode(n model.Node) error {
	if err := n.Validate(); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err, "invalid %s node %q", n.Label, n.ID)
	}
	return nil
}

func validateEdge(e model.Edge) error {
	if err := e.Validate(); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err, "invalid %s relationship", e.Type)
	}
	return nil
}

func filterTypes(types []model.RelType) []model.RelType {
	if len(types) == 0 {
		return model.RelTypes
	}
	return types
}

func hasType(types []model.RelType, t model.RelType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// sortEdges orders edges by their key, for backends without a stable
// result order.
func sortEdges(edges []model.Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		return edges[i].Key() < edges[j].Key()
	})
}
