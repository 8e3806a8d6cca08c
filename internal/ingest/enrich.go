package ingest

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/core/aggregate"
	"github.com/agenthands/partgraph/internal/core/extraction"
	"github.com/agenthands/partgraph/internal/core/model"
	"github.com/agenthands/partgraph/internal/core/partid"
	"github.com/agenthands/partgraph/internal/core/populate"
)

// EnrichmentReport is the outcome of a full enrichment of one part.
type EnrichmentReport struct {
	PartID        string                 `json:"part_id"`
	Timestamp     time.Time              `json:"timestamp"`
	DataSources   []string               `json:"data_sources"`
	Matches       int                    `json:"matches"`
	PendingTexts  []model.TextSpan       `json:"pending_texts"`
	Status        model.AggregatedStatus `json:"status"`
	Relationships []model.Relationship   `json:"relationships"`
	Scores        aggregate.Scores       `json:"confidence_scores"`
	Populated     populate.Report        `json:"populated"`
}

// Enrich re-derives everything known about id: it searches the corpus,
// aggregates the recorded signals, extracts and deduplicates relationships
// and merges them. PendingTexts lists the prose of matched records that has
// no classifier signal yet. An id with neither evidence nor signals is
// NOT_FOUND.
func (i *Ingestor) Enrich(ctx context.Context, id string) (*EnrichmentReport, error) {
	if _, err := partid.Validate(id); err != nil {
		return nil, err
	}
	matches, err := i.Matcher.SearchCorpus(ctx, i.Evidence, id)
	if err != nil {
		return nil, err
	}
	events, err := i.Evidence.SignalsFor(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 && len(events) == 0 {
		return nil, apperr.NotFound("no evidence for part %s", id)
	}

	report := &EnrichmentReport{
		PartID:       id,
		Timestamp:    i.Extractor.Now(),
		Matches:      len(matches),
		DataSources:  []string{},
		PendingTexts: []model.TextSpan{},
	}

	classified := make(map[string]struct{}, len(events))
	for _, ev := range events {
		classified[ev.Text] = struct{}{}
	}
	sources := make(map[string]struct{})
	var explicit []model.Relationship
	for _, m := range matches {
		m.Record.SourceKind = i.Extractor.Sources.Kind(m.Record.Source, m.Record.SourceKind)
		sources[m.Source] = struct{}{}
		explicit = append(explicit, i.Extractor.Explicit(m)...)
		for _, span := range extraction.Texts(m) {
			if _, ok := classified[span.Text]; !ok {
				report.PendingTexts = append(report.PendingTexts, span)
			}
		}
	}
	for s := range sources {
		report.DataSources = append(report.DataSources, s)
	}
	sort.Strings(report.DataSources)

	explicit = prepare(explicit)
	report.Status = aggregate.Aggregate(signalsOf(events), i.Threshold)
	derived := i.Extractor.FromSignals(id, events, report.Status, i.Threshold)
	report.Relationships = prepare(append(append([]model.Relationship{}, explicit...), derived...))
	report.Scores = aggregate.ComputeScores(len(matches), len(explicit), report.Status)

	for _, m := range matches {
		subject := extraction.Subject(m.Record)
		if !partid.Equal(subject.ID, id) {
			continue
		}
		if _, err := i.Populator.EnsureNode(ctx, subject, m.Record.DocumentID()); err != nil {
			return nil, err
		}
	}
	report.Populated = i.Populator.PopulateBatch(ctx, report.Relationships)

	i.Logger.Info("part enriched",
		zap.String("part_id", id),
		zap.Int("matches", report.Matches),
		zap.Int("relationships", len(report.Relationships)),
		zap.Int("failed", report.Populated.Failed))
	return report, nil
}
