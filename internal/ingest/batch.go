package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/core/model"
	"github.com/agenthands/partgraph/internal/core/populate"
)

type Kind string

const (
	KindEvidence Kind = "evidence"
	KindSignal   Kind = "signal"
	KindRelation Kind = "relation"
)

// Event is one inbound fact of any kind. Exactly one payload is set, or Err
// holds the reason the event could not be decoded.
type Event struct {
	Kind     Kind
	Evidence *model.RawEvidenceRecord
	Signal   *model.SignalEvent
	Relation *model.RelationEvent
	Err      error
}

// DecodeEvent parses a wire payload of the given kind. Evidence payloads
// nested deeper than maxDepth are rejected. Undecodable input is
// CORRUPT_EVIDENCE.
func DecodeEvent(kind Kind, data []byte, maxDepth int) (Event, error) {
	ev := Event{Kind: kind}
	var err error
	switch kind {
	case KindEvidence:
		ev.Evidence, err = decodeEvidence(data, maxDepth)
	case KindSignal:
		ev.Signal = &model.SignalEvent{}
		err = json.Unmarshal(data, ev.Signal)
	case KindRelation:
		ev.Relation = &model.RelationEvent{}
		err = json.Unmarshal(data, ev.Relation)
	default:
		return Event{}, apperr.Validation("unknown event kind %q", kind)
	}
	if err != nil {
		return Event{}, apperr.Corrupt(err, "undecodable %s event", kind)
	}
	return ev, nil
}

// Decode is DecodeEvent bounded by the ingestor's payload depth.
func (i *Ingestor) Decode(kind Kind, data []byte) (Event, error) {
	return DecodeEvent(kind, data, i.MaxPayloadDepth)
}

// FailedEvent stands in for an event that could not be decoded, so batch
// report indexes still line up with the request.
func FailedEvent(kind Kind, err error) Event {
	return Event{Kind: kind, Err: err}
}

func decodeEvidence(data []byte, maxDepth int) (*model.RawEvidenceRecord, error) {
	if maxDepth <= 0 {
		maxDepth = model.DefaultMaxDepth
	}
	var wire struct {
		model.RawEvidenceRecord
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	rec := wire.RawEvidenceRecord
	if len(wire.Payload) > 0 {
		payload, err := model.ParsePayload(wire.Payload, maxDepth)
		if err != nil {
			return nil, err
		}
		rec.Payload = payload
	}
	return &rec, nil
}

// Handle dispatches ev to the matching ingestion path.
func (i *Ingestor) Handle(ctx context.Context, ev Event) (Result, error) {
	switch {
	case ev.Err != nil:
		return Result{}, ev.Err
	case ev.Kind == KindEvidence && ev.Evidence != nil:
		return i.IngestEvidence(ctx, *ev.Evidence)
	case ev.Kind == KindSignal && ev.Signal != nil:
		return i.IngestSignal(ctx, *ev.Signal)
	case ev.Kind == KindRelation && ev.Relation != nil:
		return i.IngestRelation(ctx, *ev.Relation)
	}
	return Result{}, apperr.Corrupt(fmt.Errorf("missing payload"), "%s event", ev.Kind)
}

type BatchReport struct {
	Applied    int                    `json:"applied"`
	Duplicates int                    `json:"duplicates"`
	Failed     int                    `json:"failed"`
	Errors     []populate.RecordError `json:"errors"`
}

// IngestBatch handles events on a bounded worker pool. A failing event is
// logged and counted; it never stops the others.
func (i *Ingestor) IngestBatch(ctx context.Context, events []Event) BatchReport {
	workers := i.Workers
	if workers < 1 {
		workers = 1
	}
	results := make([]Result, len(events))
	errs := make([]error, len(events))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for idx := range events {
		idx := idx
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[idx] = apperr.FromContext(err, "ingest")
				return nil
			}
			results[idx], errs[idx] = i.Handle(gctx, events[idx])
			return nil
		})
	}
	_ = g.Wait()

	report := BatchReport{Errors: []populate.RecordError{}}
	for idx, err := range errs {
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, populate.RecordError{
				Index:   idx,
				Code:    apperr.CodeOf(err),
				Message: apperr.MessageOf(err),
			})
			i.Logger.Warn("event not ingested",
				zap.Int("index", idx),
				zap.String("kind", string(events[idx].Kind)),
				zap.String("code", string(apperr.CodeOf(err))),
				zap.String("record_id", results[idx].DocumentID),
				zap.Error(err))
			continue
		}
		if results[idx].Duplicate {
			report.Duplicates++
		}
		report.Applied++
	}
	i.Logger.Info("batch ingested",
		zap.Int("events", len(events)),
		zap.Int("applied", report.Applied),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("failed", report.Failed))
	return report
}

// EvidenceEvents wraps records as evidence events.
func EvidenceEvents(records []model.RawEvidenceRecord) []Event {
	out := make([]Event, len(records))
	for idx := range records {
		out[idx] = Event{Kind: KindEvidence, Evidence: &records[idx]}
	}
	return out
}
