package extraction

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/core/model"
	"github.com/agenthands/partgraph/internal/core/partid"
)

const maxContextLength = 280

// Labels that mark a compatibility span as a statement of equivalence.
var equivalenceLabels = map[string]struct{}{
	"equivalent to":        {},
	"interchangeable with": {},
	"cross-reference":      {},
	"same as":              {},
}

// FromSignals derives lower-confidence relationships for subject from the
// text spans behind its positive replacement and compatibility signals.
// Every relationship takes its category's aggregate confidence.
func (e *Extractor) FromSignals(subject string, events []model.SignalEvent, status model.AggregatedStatus, threshold float64) []model.Relationship {
	subjectKey := partid.Normalize(subject)
	now := e.Now()

	type span struct {
		ev         model.SignalEvent
		replace    bool
		compat     bool
		equivalent bool
	}
	var order []string
	spans := make(map[string]*span)
	for _, ev := range events {
		if ev.Confidence < threshold {
			continue
		}
		key := ev.SourceDocumentID + "\x1f" + ev.Text
		sp, ok := spans[key]
		if !ok {
			sp = &span{ev: ev}
			spans[key] = sp
			order = append(order, key)
		}
		switch ev.Category {
		case model.CategoryReplacement:
			sp.replace = true
		case model.CategoryCompatibility:
			sp.compat = true
			if _, eq := equivalenceLabels[strings.ToLower(ev.Label)]; eq {
				sp.equivalent = true
			}
		}
	}

	var rels []model.Relationship
	for _, key := range order {
		sp := spans[key]
		tribal := e.Sources.Kind(sp.ev.Source, sp.ev.SourceKind).IsCommunity()
		emit := func(t model.RelType, conf float64) {
			for _, cand := range Identifiers(sp.ev.Text) {
				if partid.Normalize(cand) == subjectKey {
					continue
				}
				rels = append(rels, model.Relationship{
					Type:              t,
					Source:            model.PartEndpoint(subject),
					Target:            model.PartEndpoint(cand),
					Confidence:        conf,
					Context:           truncate(sp.ev.Text, maxContextLength),
					IsTribalKnowledge: tribal,
					SourceDocumentID:  sp.ev.SourceDocumentID,
					CreatedAt:         now,
				})
			}
		}
		if sp.replace && status.Replacement.Verdict {
			emit(model.RelReplaces, status.Replacement.Confidence)
		}
		if sp.compat && status.Compatibility.Verdict {
			t := model.RelCompatibleWith
			if sp.equivalent {
				t = model.RelEquivalentTo
			}
			emit(t, status.Compatibility.Confidence)
		}
	}
	return rels
}

// FromRelationEvent converts an NLP relation tuple into a Relationship.
// Tuples from forum or community documents are tribal knowledge.
func (e *Extractor) FromRelationEvent(ev model.RelationEvent) (model.Relationship, error) {
	t, err := model.ParseRelType(ev.Relation)
	if err != nil {
		return model.Relationship{}, apperr.Corrupt(err, "relation event %s", ev.ID)
	}
	if math.IsNaN(ev.Confidence) || ev.Confidence < 0 || ev.Confidence > 1 {
		return model.Relationship{}, apperr.Corrupt(fmt.Errorf("confidence %v outside [0,1]", ev.Confidence), "relation event %s", ev.ID)
	}
	created := ev.ObservedAt
	if created.IsZero() {
		created = e.Now()
	}
	return model.Relationship{
		Type:              t,
		Source:            ev.Source,
		Target:            ev.Target,
		Confidence:        ev.Confidence,
		Context:           truncate(ev.Context, maxContextLength),
		IsTribalKnowledge: e.Sources.IsCommunity(ev.DocType),
		SourceDocumentID:  ev.SourceDocumentID,
		CreatedAt:         created,
	}, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
