package aggregate

import "github.com/agenthands/partgraph/internal/core/model"

// Scores summarizes how much an enrichment result can be trusted.
type Scores struct {
	DataAvailability         float64 `json:"data_availability"`
	ClassificationConfidence float64 `json:"classification_confidence"`
	RelationshipConfidence   float64 `json:"relationship_confidence"`
}

// ComputeScores derives Scores from the number of matching evidence records,
// the number of explicit (structured) relationships found, and the
// aggregated status. Four matching sources, or five explicit relationships,
// count as complete coverage.
func ComputeScores(matches, explicitRelationships int, status model.AggregatedStatus) Scores {
	var sum float64
	var n int
	for _, c := range model.Categories {
		cs := status.For(c)
		sum += cs.Confidence * float64(cs.Count)
		n += cs.Count
	}

	s := Scores{
		DataAvailability:       capOne(float64(matches) / 4),
		RelationshipConfidence: capOne(float64(explicitRelationships) / 5),
	}
	if n > 0 {
		s.ClassificationConfidence = sum / float64(n)
	}
	return s
}

func capOne(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
