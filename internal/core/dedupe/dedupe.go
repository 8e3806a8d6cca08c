package dedupe

import (
	"github.com/agenthands/partgraph/internal/core/model"
	"github.com/agenthands/partgraph/internal/core/partid"
)

// Key identifies a relationship candidate for deduplication: its type and
// the canonical forms of both endpoints. Extracted candidates share one
// source (the queried part), so in practice this is (type, target).
type Key struct {
	Type   model.RelType
	Source string
	Target string
}

func KeyOf(r model.Relationship) Key {
	return Key{Type: r.Type, Source: endpointKey(r.Source), Target: endpointKey(r.Target)}
}

func endpointKey(e model.Endpoint) string {
	if e.Type == model.EntitySpecification && e.SpecType != "" {
		return partid.Normalize(e.SpecType) + "|" + partid.Normalize(e.ID)
	}
	return partid.Normalize(e.ID)
}

// Relationships collapses candidates sharing a Key, keeping the one with the
// highest confidence. Ties keep the first seen. Output follows the order in
// which each key first appeared.
func Relationships(rels []model.Relationship) []model.Relationship {
	index := make(map[Key]int, len(rels))
	out := make([]model.Relationship, 0, len(rels))
	for _, r := range rels {
		k := KeyOf(r)
		if i, ok := index[k]; ok {
			if r.Confidence > out[i].Confidence {
				out[i] = r
			}
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}

// DropSelfLoops removes candidates whose endpoints name the same entity.
func DropSelfLoops(rels []model.Relationship) []model.Relationship {
	out := rels[:0:0]
	for _, r := range rels {
		if endpointKey(r.Source) == endpointKey(r.Target) {
			continue
		}
		out = append(out, r)
	}
	return out
}
