// Package aggregate folds per-span classification signals into one status
// verdict per category.
package aggregate

import (
	"math"

	"github.com/agenthands/partgraph/internal/core/model"
)

// DefaultThreshold is the confidence at which a signal counts as positive.
const DefaultThreshold = 0.5

// Aggregate computes the status of every category from signals. A signal is
// positive when its confidence is at least threshold. A category's
// confidence is the mean over all positive instances, counted before label
// deduplication; the indicator list keeps the first instance of each label.
func Aggregate(signals []model.Signal, threshold float64) model.AggregatedStatus {
	type acc struct {
		sum        float64
		count      int
		indicators []model.Indicator
		seen       map[string]struct{}
	}
	accs := make(map[model.Category]*acc, len(model.Categories))
	for _, c := range model.Categories {
		accs[c] = &acc{seen: make(map[string]struct{})}
	}

	for _, s := range signals {
		a, ok := accs[s.Category]
		if !ok {
			continue
		}
		conf := clamp(s.Confidence)
		if conf < threshold {
			continue
		}
		a.sum += conf
		a.count++
		if _, dup := a.seen[s.Label]; dup {
			continue
		}
		a.seen[s.Label] = struct{}{}
		a.indicators = append(a.indicators, model.Indicator{Label: s.Label, Confidence: conf})
	}

	var status model.AggregatedStatus
	for _, c := range model.Categories {
		a := accs[c]
		cs := model.CategoryStatus{Indicators: a.indicators, Count: a.count}
		if a.count > 0 {
			cs.Verdict = true
			cs.Confidence = a.sum / float64(a.count)
		}
		if cs.Indicators == nil {
			cs.Indicators = []model.Indicator{}
		}
		status.Set(c, cs)
	}
	return status
}

// Positive returns the signals at or above threshold, in input order.
func Positive(signals []model.Signal, threshold float64) []model.Signal {
	var out []model.Signal
	for _, s := range signals {
		if clamp(s.Confidence) >= threshold {
			out = append(out, s)
		}
	}
	return out
}

func clamp(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
