package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/core/extraction"
	"github.com/agenthands/partgraph/internal/core/model"
	"github.com/agenthands/partgraph/internal/core/populate"
	"github.com/agenthands/partgraph/internal/core/resolve"
	"github.com/agenthands/partgraph/internal/evidence"
	"github.com/agenthands/partgraph/internal/graph"
	"github.com/agenthands/partgraph/internal/resilience"
)

type fixture struct {
	ingestor *Ingestor
	resolver *resolve.Resolver
	evidence *evidence.Store
	store    graph.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	badgerStore, err := graph.NewBadgerStoreInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = badgerStore.Close() })

	// The policy a default configuration builds.
	breaker := resilience.NewCircuitBreaker("graph", 5, 30*time.Second)
	policy := resilience.NewPolicy(3, resilience.DefaultBackoff(), breaker, zap.NewNop())
	store := graph.NewResilientStore(badgerStore, policy)

	ev, err := evidence.NewStore(filepath.Join(t.TempDir(), "evidence.db"), model.DefaultMaxDepth)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ev.Close() })

	extractor := extraction.NewExtractor(extraction.NewSourceClassifier([]string{"hvac-talk"}))
	return &fixture{
		ingestor: New(ev, populate.New(store, zap.NewNop()), extractor, zap.NewNop()),
		resolver: resolve.New(store, zap.NewNop(), 0),
		evidence: ev,
		store:    store,
	}
}

func capacitorEvidence() []model.RawEvidenceRecord {
	return []model.RawEvidenceRecord{
		{
			Source: "goodman", Session: "s1", File: "a.json", QueriedID: "0131M00008P",
			Payload: model.Object(
				model.F("part_number", model.String("0131M00008P")),
				model.F("status", model.String("Discontinued")),
				model.F("replaced_by", model.String("0131M00008PS")),
			),
		},
		{
			Source: "repairclinic", Session: "s1", File: "b.json", QueriedID: "0131M00008P",
			Payload: model.Object(
				model.F("part_number", model.String("0131m-00008p")),
				model.F("name", model.String("Dual run capacitor")),
				model.F("specifications", model.Object(model.F("capacitance", model.String("40+5 MFD")))),
			),
		},
		{
			Source: "hvac-talk", Session: "s2", File: "c.json", QueriedID: "0131M00008P",
			Payload: model.Object(
				model.F("description", model.String("I swapped my 0131M00008P for a Titan Pro and it works")),
				model.F("parts", model.Array(model.String("0131M00008P"))),
			),
		},
	}
}

func TestEndToEndReplacedBy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, rec := range capacitorEvidence() {
		_, err := f.ingestor.IngestEvidence(ctx, rec)
		require.NoError(t, err)
	}

	lookup, err := f.resolver.LookupPart(ctx, "0131M00008P")
	require.NoError(t, err)
	require.Len(t, lookup.DirectReplacements, 1)
	assert.Equal(t, "0131M00008PS", lookup.DirectReplacements[0].PartID)
	assert.Equal(t, 1.0, lookup.DirectReplacements[0].Confidence)
	assert.NotEmpty(t, lookup.SourceDocumentIDs)
	assert.Equal(t, "Dual run capacitor", lookup.Part.Name)
	assert.Equal(t, []model.SpecInfo{{Type: "MFD", Value: "40+5"}}, lookup.Specifications)

	_, err = f.resolver.LookupPart(ctx, "UNKNOWN_ID")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestIngestEvidenceReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := capacitorEvidence()[0]

	first, err := f.ingestor.IngestEvidence(ctx, rec)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, 1, first.Relationships)

	second, err := f.ingestor.IngestEvidence(ctx, rec)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.DocumentID, second.DocumentID)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Edges[model.RelReplaces])
}

func TestIngestEvidenceRejectsBadIdentifier(t *testing.T) {
	f := newFixture(t)
	rec := capacitorEvidence()[0]
	rec.QueriedID = ""
	_, err := f.ingestor.IngestEvidence(context.Background(), rec)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}

func TestIngestSignalReaggregates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sig := model.SignalEvent{
		Identifier:       "0131M00008P",
		SourceDocumentID: "doc-1",
		Source:           "hvac-talk",
		Text:             "Replaced by 0131M00008PS last year",
		Category:         model.CategoryReplacement,
		Label:            "replaced by",
		Confidence:       0.9,
	}
	res, err := f.ingestor.IngestSignal(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Relationships)

	chain, err := f.resolver.ResolveChain(ctx, "0131M00008P", 1)
	require.NoError(t, err)
	require.Len(t, chain.ReplacementsByDegree[1], 1)
	assert.InDelta(t, 0.9, chain.ReplacementsByDegree[1][0].Confidence, 1e-9)
	assert.True(t, chain.ReplacementsByDegree[1][0].IsTribalKnowledge)

	// A second, weaker positive signal lowers the category mean and the
	// edge follows it.
	sig2 := sig
	sig2.SourceDocumentID = "doc-2"
	sig2.Confidence = 0.5
	_, err = f.ingestor.IngestSignal(ctx, sig2)
	require.NoError(t, err)

	chain, err = f.resolver.ResolveChain(ctx, "0131M00008P", 1)
	require.NoError(t, err)
	require.Len(t, chain.ReplacementsByDegree[1], 1)
	assert.InDelta(t, 0.7, chain.ReplacementsByDegree[1][0].Confidence, 1e-9)
}

func TestIngestSignalRejectsCorrupt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ingestor.IngestSignal(ctx, model.SignalEvent{Identifier: "0131M00008P", Text: "x", Category: "mood", Confidence: 0.5})
	assert.Equal(t, apperr.CodeCorruptEvidence, apperr.CodeOf(err))

	_, err = f.ingestor.IngestSignal(ctx, model.SignalEvent{Identifier: "0131M00008P", Text: "x", Category: model.CategoryReplacement, Confidence: 1.5})
	assert.Equal(t, apperr.CodeCorruptEvidence, apperr.CodeOf(err))
}

func TestIngestRelation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ingestor.IngestRelation(ctx, model.RelationEvent{
		Source:           model.PartEndpoint("HC41SE113"),
		Target:           model.PartEndpoint("HC41SE114"),
		Relation:         "replaces",
		Confidence:       0.7,
		SourceDocumentID: "post-1",
		DocType:          "forum",
	})
	require.NoError(t, err)

	chain, err := f.resolver.ResolveChain(ctx, "HC41SE113", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, chain.TribalKnowledgeCount)

	_, err = f.ingestor.IngestRelation(ctx, model.RelationEvent{
		Source: model.PartEndpoint("HC41SE113"), Target: model.PartEndpoint("HC41SE114"),
		Relation: "RELATES_TO", Confidence: 0.7,
	})
	assert.Equal(t, apperr.CodeCorruptEvidence, apperr.CodeOf(err))
}

func TestIngestBatchToleratesFailures(t *testing.T) {
	f := newFixture(t)
	f.ingestor.Workers = 3
	ctx := context.Background()

	events := EvidenceEvents(capacitorEvidence())
	events = append(events,
		Event{Kind: KindSignal, Signal: &model.SignalEvent{Identifier: "0131M00008P", Text: "x", Category: "mood"}},
		Event{Kind: KindRelation},
	)

	report := f.ingestor.IngestBatch(ctx, events)
	assert.Equal(t, 3, report.Applied)
	assert.Equal(t, 2, report.Failed)
	require.Len(t, report.Errors, 2)
	assert.Equal(t, 3, report.Errors[0].Index)
	assert.Equal(t, apperr.CodeCorruptEvidence, report.Errors[0].Code)

	lookup, err := f.resolver.LookupPart(ctx, "0131M00008P")
	require.NoError(t, err)
	assert.Len(t, lookup.DirectReplacements, 1)
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent(KindEvidence, []byte(`{"source":"goodman","queried_id":"0131M00008P","payload":{"replaced_by":"0131M00008PS"}}`), model.DefaultMaxDepth)
	require.NoError(t, err)
	require.NotNil(t, ev.Evidence)
	assert.Equal(t, "goodman", ev.Evidence.Source)
	assert.Equal(t, "0131M00008PS", ev.Evidence.Payload.GetString("replaced_by"))

	_, err = DecodeEvent(KindSignal, []byte(`{"identifier":`), model.DefaultMaxDepth)
	assert.Equal(t, apperr.CodeCorruptEvidence, apperr.CodeOf(err))

	_, err = DecodeEvent("bogus", []byte(`{}`), model.DefaultMaxDepth)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}

func TestDecodeHonoursConfiguredDepth(t *testing.T) {
	f := newFixture(t)
	nested := []byte(`{"source":"goodman","queried_id":"0131M00008P","payload":{"a":{"b":{"c":{"replaced_by":"0131M00008PS"}}}}}`)

	_, err := f.ingestor.Decode(KindEvidence, nested)
	require.NoError(t, err)

	f.ingestor.MaxPayloadDepth = 2
	_, err = f.ingestor.Decode(KindEvidence, nested)
	assert.Equal(t, apperr.CodeCorruptEvidence, apperr.CodeOf(err))
	assert.ErrorIs(t, err, model.ErrPayloadTooDeep)

	deep := []byte(`{"source":"goodman","queried_id":"0131M00008P","payload":` +
		strings.Repeat(`{"a":`, 40) + `"0131M00008PS"` + strings.Repeat(`}`, 40) + `}`)
	f.ingestor.MaxPayloadDepth = model.DefaultMaxDepth
	_, err = f.ingestor.Decode(KindEvidence, deep)
	assert.ErrorIs(t, err, model.ErrPayloadTooDeep)

	f.ingestor.MaxPayloadDepth = 64
	ev, err := f.ingestor.Decode(KindEvidence, deep)
	require.NoError(t, err)
	assert.Equal(t, "0131M00008P", ev.Evidence.QueriedID)
}

func TestIngestBatchReportsDecodeFailureInItsSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, decodeErr := DecodeEvent(KindRelation, []byte(`{"source":"HC41SE113"}`), model.DefaultMaxDepth)
	require.Error(t, decodeErr)

	report := f.ingestor.IngestBatch(ctx, []Event{
		{Kind: KindRelation, Relation: &model.RelationEvent{
			Source: model.PartEndpoint("HC41SE113"), Target: model.PartEndpoint("HC41SE114"),
			Relation: "replaces", Confidence: 0.8, SourceDocumentID: "d1",
		}},
		FailedEvent(KindRelation, decodeErr),
	})
	assert.Equal(t, 1, report.Applied)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 1, report.Errors[0].Index)
	assert.Equal(t, apperr.CodeCorruptEvidence, report.Errors[0].Code)
	assert.Equal(t, "undecodable relation event", report.Errors[0].Message)
}

func TestEnrich(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, rec := range capacitorEvidence() {
		_, err := f.evidence.Append(ctx, rec)
		require.NoError(t, err)
	}

	report, err := f.ingestor.Enrich(ctx, "0131M00008P")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Matches)
	assert.Equal(t, []string{"goodman", "hvac-talk", "repairclinic"}, report.DataSources)
	assert.Equal(t, 0.75, report.Scores.DataAvailability)
	assert.Equal(t, 0, report.Populated.Failed)
	assert.NotEmpty(t, report.PendingTexts)
	assert.False(t, report.Status.Replacement.Verdict)

	lookup, err := f.resolver.LookupPart(ctx, "0131M00008P")
	require.NoError(t, err)
	require.Len(t, lookup.DirectReplacements, 1)
	assert.Equal(t, "0131M00008PS", lookup.DirectReplacements[0].PartID)

	_, err = f.ingestor.Enrich(ctx, "UNKNOWN99")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestIngestBatchSharedManufacturer(t *testing.T) {
	f := newFixture(t)
	f.ingestor.Workers = 8
	ctx := context.Background()

	const parts = 120
	records := make([]model.RawEvidenceRecord, parts)
	for i := range records {
		id := fmt.Sprintf("B1340%03d", i)
		records[i] = model.RawEvidenceRecord{
			Source: "goodman", Session: "s1", File: id + ".json", QueriedID: id,
			Payload: model.Object(
				model.F("part_number", model.String(id)),
				model.F("manufacturer", model.String("Goodman")),
				model.F("specifications", model.Object(model.F("voltage", model.String("230 V")))),
			),
		}
	}

	report := f.ingestor.IngestBatch(ctx, EvidenceEvents(records))
	assert.Equal(t, parts, report.Applied)
	assert.Zero(t, report.Failed, "%+v", report.Errors)

	hub, err := f.store.GetNode(ctx, model.ManufacturerNode("Goodman").Ref())
	require.NoError(t, err)
	assert.Len(t, hub.SourceDocIDs, parts)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, parts, stats.Edges[model.RelManufacturedBy])

	found, err := f.resolver.FindBySpec(ctx, "V", "230")
	require.NoError(t, err)
	assert.Equal(t, parts, found.TotalMatches)
}

func TestIngestRelationKeepsDeclaredSpecType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ingestor.IngestRelation(ctx, model.RelationEvent{
		Source:           model.PartEndpoint("HC41SE113"),
		Target:           model.Endpoint{ID: "440V", Type: model.EntitySpecification, SpecType: "Voltage"},
		Relation:         "has_spec",
		Confidence:       1,
		SourceDocumentID: "catalog-1",
	})
	require.NoError(t, err)

	found, err := f.resolver.FindBySpec(ctx, "voltage", "440V")
	require.NoError(t, err)
	require.Equal(t, 1, found.TotalMatches)
	assert.Equal(t, "HC41SE113", found.MatchingParts[0].PartID)
}

func TestIngestDenseReplacementFamily(t *testing.T) {
	f := newFixture(t)
	f.ingestor.Workers = 8
	ctx := context.Background()

	const n = 20
	var events []Event
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			events = append(events, Event{Kind: KindRelation, Relation: &model.RelationEvent{
				Source:           model.PartEndpoint(fmt.Sprintf("KIT%02d", i)),
				Target:           model.PartEndpoint(fmt.Sprintf("KIT%02d", j)),
				Relation:         "replaces",
				Confidence:       0.8,
				SourceDocumentID: fmt.Sprintf("xref-%02d-%02d", i, j),
			}})
		}
	}
	report := f.ingestor.IngestBatch(ctx, events)
	assert.Equal(t, len(events), report.Applied)
	assert.Zero(t, report.Failed, "%+v", report.Errors)

	qctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	chain, err := f.resolver.ResolveChain(qctx, "KIT00", 5)
	require.NoError(t, err)
	assert.Equal(t, n-1, chain.TotalReplacements)
	assert.Len(t, chain.ReplacementsByDegree[1], n-1)
}
