// Package ingest turns evidence records, classifier signals and NLP relation
// tuples into graph facts. Every entry point is idempotent under replay, so
// transports may deliver at least once.
package ingest

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/core/aggregate"
	"github.com/agenthands/partgraph/internal/core/dedupe"
	"github.com/agenthands/partgraph/internal/core/extraction"
	"github.com/agenthands/partgraph/internal/core/match"
	"github.com/agenthands/partgraph/internal/core/model"
	"github.com/agenthands/partgraph/internal/core/partid"
	"github.com/agenthands/partgraph/internal/core/populate"
	"github.com/agenthands/partgraph/internal/metrics"
)

// EvidenceLog is the append-only corpus and signal log behind ingestion.
type EvidenceLog interface {
	match.Corpus
	Append(ctx context.Context, rec model.RawEvidenceRecord) (bool, error)
	AppendSignal(ctx context.Context, ev model.SignalEvent) (bool, error)
	SignalsFor(ctx context.Context, identifier string) ([]model.SignalEvent, error)
}

type Ingestor struct {
	Evidence  EvidenceLog
	Populator *populate.Populator
	Extractor *extraction.Extractor
	Matcher   *match.Matcher
	Threshold float64
	Workers   int
	Logger    *zap.Logger

	// MaxPayloadDepth bounds the nesting of decoded evidence payloads.
	MaxPayloadDepth int
}

func New(evidence EvidenceLog, populator *populate.Populator, extractor *extraction.Extractor, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if extractor == nil {
		extractor = extraction.NewExtractor(nil)
	}
	return &Ingestor{
		Evidence:  evidence,
		Populator: populator,
		Extractor: extractor,
		Matcher:   match.NewMatcher(model.DefaultMaxDepth),
		Threshold: aggregate.DefaultThreshold,
		Workers:   4,
		Logger:    logger,

		MaxPayloadDepth: model.DefaultMaxDepth,
	}
}

// Result describes one handled event.
type Result struct {
	DocumentID    string `json:"document_id"`
	Duplicate     bool   `json:"duplicate"`
	Relationships int    `json:"relationships"`
}

// IngestEvidence stores rec, then merges its subject part and the
// relationships its structured fields state. A replayed record is reported
// as a duplicate but still re-populated, which repairs a previous attempt
// that stored the record and failed before the graph write.
func (i *Ingestor) IngestEvidence(ctx context.Context, rec model.RawEvidenceRecord) (Result, error) {
	if _, err := partid.Validate(rec.QueriedID); err != nil {
		i.count(KindEvidence, err)
		return Result{}, err
	}
	rec.SourceKind = i.Extractor.Sources.Kind(rec.Source, rec.SourceKind)
	res := Result{DocumentID: rec.DocumentID()}
	rec.ID = res.DocumentID

	inserted, err := i.Evidence.Append(ctx, rec)
	if err != nil {
		i.count(KindEvidence, err)
		return res, err
	}
	res.Duplicate = !inserted

	if _, err := i.Populator.EnsureNode(ctx, extraction.Subject(rec), res.DocumentID); err != nil {
		i.count(KindEvidence, err)
		return res, err
	}

	m := model.MatchResult{Record: rec, Source: rec.Source, Session: rec.Session, File: rec.File}
	rels := prepare(i.Extractor.Explicit(m))
	for _, rel := range rels {
		if _, err := i.Populator.Populate(ctx, rel); err != nil {
			i.count(KindEvidence, err)
			return res, err
		}
		res.Relationships++
	}

	i.countResult(KindEvidence, res)
	i.Logger.Debug("evidence ingested",
		zap.String("record_id", res.DocumentID),
		zap.String("source", rec.Source),
		zap.Bool("duplicate", res.Duplicate),
		zap.Int("relationships", res.Relationships))
	return res, nil
}

// IngestSignal appends ev to the signal log, re-aggregates every signal
// recorded for its identifier and merges the relationships the positive
// replacement and compatibility spans name. Edges already derived from
// earlier signals are updated to the new aggregate confidence.
func (i *Ingestor) IngestSignal(ctx context.Context, ev model.SignalEvent) (Result, error) {
	if err := validateSignal(&ev); err != nil {
		i.count(KindSignal, err)
		return Result{}, err
	}
	ev.SourceKind = i.Extractor.Sources.Kind(ev.Source, ev.SourceKind)
	res := Result{DocumentID: ev.EventID()}
	ev.ID = res.DocumentID

	inserted, err := i.Evidence.AppendSignal(ctx, ev)
	if err != nil {
		i.count(KindSignal, err)
		return res, err
	}
	res.Duplicate = !inserted

	events, err := i.Evidence.SignalsFor(ctx, ev.Identifier)
	if err != nil {
		i.count(KindSignal, err)
		return res, err
	}
	status := aggregate.Aggregate(signalsOf(events), i.Threshold)
	rels := prepare(i.Extractor.FromSignals(ev.Identifier, events, status, i.Threshold))
	for _, rel := range rels {
		if _, err := i.Populator.Populate(ctx, rel); err != nil {
			i.count(KindSignal, err)
			return res, err
		}
		res.Relationships++
	}

	i.countResult(KindSignal, res)
	return res, nil
}

// IngestRelation merges one NLP relation tuple.
func (i *Ingestor) IngestRelation(ctx context.Context, ev model.RelationEvent) (Result, error) {
	rel, err := i.Extractor.FromRelationEvent(ev)
	if err != nil {
		i.count(KindRelation, err)
		return Result{}, err
	}
	res := Result{DocumentID: ev.SourceDocumentID}
	if _, err := i.Populator.Populate(ctx, rel); err != nil {
		i.count(KindRelation, err)
		return res, err
	}
	res.Relationships = 1
	i.countResult(KindRelation, res)
	return res, nil
}

func validateSignal(ev *model.SignalEvent) error {
	if _, err := partid.Validate(ev.Identifier); err != nil {
		return err
	}
	c, err := model.ParseCategory(string(ev.Category))
	if err != nil {
		return apperr.Corrupt(err, "signal for %s", ev.Identifier)
	}
	ev.Category = c
	if math.IsNaN(ev.Confidence) || ev.Confidence < 0 || ev.Confidence > 1 {
		return apperr.Corrupt(fmt.Errorf("confidence %v outside [0,1]", ev.Confidence), "signal for %s", ev.Identifier)
	}
	if strings.TrimSpace(ev.Text) == "" {
		return apperr.Corrupt(fmt.Errorf("empty text"), "signal for %s", ev.Identifier)
	}
	return nil
}

func signalsOf(events []model.SignalEvent) []model.Signal {
	out := make([]model.Signal, len(events))
	for j, ev := range events {
		out[j] = ev.Signal()
	}
	return out
}

func prepare(rels []model.Relationship) []model.Relationship {
	return dedupe.Relationships(dedupe.DropSelfLoops(rels))
}

func (i *Ingestor) count(kind Kind, err error) {
	result := "failed"
	if apperr.CodeOf(err) == apperr.CodeCorruptEvidence || apperr.CodeOf(err) == apperr.CodeValidation {
		result = "corrupt"
	}
	metrics.IngestedTotal.WithLabelValues(string(kind), result).Inc()
}

func (i *Ingestor) countResult(kind Kind, res Result) {
	result := "applied"
	if res.Duplicate {
		result = "duplicate"
	}
	metrics.IngestedTotal.WithLabelValues(string(kind), result).Inc()
}
