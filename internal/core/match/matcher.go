// Package match finds evidence records that mention an identifier. A record
// matches when one of its string scalars has exactly the same canonical form
// as the identifier; there is no substring or fuzzy matching.
package match

import (
	"context"
	"unicode/utf8"

	"github.com/agenthands/partgraph/internal/core/model"
	"github.com/agenthands/partgraph/internal/core/partid"
)

type Matcher struct {
	MaxDepth int
}

func NewMatcher(maxDepth int) *Matcher {
	if maxDepth <= 0 {
		maxDepth = model.DefaultMaxDepth
	}
	return &Matcher{MaxDepth: maxDepth}
}

// Search returns one MatchResult per record that mentions identifier, in
// corpus order.
func (m *Matcher) Search(identifier string, corpus []model.RawEvidenceRecord) []model.MatchResult {
	target := partid.Normalize(identifier)
	if target == "" {
		return nil
	}

	var results []model.MatchResult
	for _, rec := range corpus {
		if value, ok := m.Mentions(rec.Payload, target); ok {
			results = append(results, model.MatchResult{
				Record:       rec,
				Source:       rec.Source,
				Session:      rec.Session,
				File:         rec.File,
				MatchedValue: value,
			})
		}
	}
	return results
}

// Mentions reports whether payload holds a string scalar whose canonical
// form equals target, which must already be canonical. It returns the first
// such value as spelled in the payload.
func (m *Matcher) Mentions(payload model.Value, target string) (string, bool) {
	var found string
	payload.Walk(m.MaxDepth, func(v model.Value) bool {
		if v.Kind == model.KindString && partid.Normalize(v.Str) == target {
			found = v.Str
			return false
		}
		return true
	})
	return found, found != ""
}

// Terms returns the distinct canonical forms of every string scalar in
// payload, in first-seen order. Stores index records by these terms.
func (m *Matcher) Terms(payload model.Value) []string {
	seen := make(map[string]struct{})
	var terms []string
	payload.Walk(m.MaxDepth, func(v model.Value) bool {
		if v.Kind != model.KindString {
			return true
		}
		t := partid.Normalize(v.Str)
		if t == "" || utf8.RuneCountInString(t) > partid.MaxLength {
			return true
		}
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			terms = append(terms, t)
		}
		return true
	})
	return terms
}

// Corpus narrows a search to records indexed under a canonical term.
type Corpus interface {
	RecordsWithTerm(ctx context.Context, term string) ([]model.RawEvidenceRecord, error)
}

// SearchCorpus runs Search over the records corpus holds for identifier.
// Index hits are re-verified against the payload.
func (m *Matcher) SearchCorpus(ctx context.Context, corpus Corpus, identifier string) ([]model.MatchResult, error) {
	target, err := partid.Validate(identifier)
	if err != nil {
		return nil, err
	}
	candidates, err := corpus.RecordsWithTerm(ctx, target)
	if err != nil {
		return nil, err
	}
	return m.Search(target, candidates), nil
}
