package populate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/core/model"
	"github.com/agenthands/partgraph/internal/graph"
)

func newPopulator(t *testing.T) (*Populator, *graph.BadgerStore) {
	t.Helper()
	store, err := graph.NewBadgerStoreInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, zap.NewNop()), store
}

func TestLabelFor(t *testing.T) {
	assert.Equal(t, model.LabelPart, LabelFor(model.EntityPartNumber))
	assert.Equal(t, model.LabelPart, LabelFor(model.EntityAdapter))
	assert.Equal(t, model.LabelEquipment, LabelFor("equipment_model"))
	assert.Equal(t, model.LabelManufacturer, LabelFor(model.EntityManufacturer))
	assert.Equal(t, model.LabelSpec, LabelFor(model.EntitySpecification))
	assert.Equal(t, model.LabelPart, LabelFor("WIDGET"))
	assert.Equal(t, model.LabelPart, LabelFor(""))
}

func TestNodeForSpec(t *testing.T) {
	typed := NodeFor(model.Endpoint{ID: "440V", Type: model.EntitySpecification, SpecType: "Voltage"})
	assert.Equal(t, "VOLTAGE|440V", typed.Key())

	a := NodeFor(model.Endpoint{ID: "40+5", Type: model.EntitySpecification, SpecType: "mfd"})
	b := NodeFor(model.Endpoint{ID: "40+5 MFD", Type: model.EntitySpecification})
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "MFD|40+5", b.Key())
}

func TestEdgeForInfersUntaggedTargets(t *testing.T) {
	e, err := EdgeFor(model.Relationship{
		Type:             model.RelManufacturedBy,
		Source:           model.PartEndpoint("A100"),
		Target:           model.Endpoint{ID: "Carrier"},
		Confidence:       1,
		SourceDocumentID: "doc-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.LabelManufacturer, e.Target.Label)
	assert.Equal(t, []string{"doc-1"}, e.Source.SourceDocIDs)
	assert.Equal(t, []string{"doc-1"}, e.Target.SourceDocIDs)
}

func TestEdgeForRejects(t *testing.T) {
	_, err := EdgeFor(model.Relationship{Type: "FRIENDS", Source: model.PartEndpoint("A100"), Target: model.PartEndpoint("B200")})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, err = EdgeFor(model.Relationship{Type: model.RelReplaces, Source: model.PartEndpoint("A-100"), Target: model.PartEndpoint("a100"), Confidence: 1})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, err = EdgeFor(model.Relationship{Type: model.RelReplaces, Source: model.PartEndpoint("A100"), Target: model.PartEndpoint("B200"), Confidence: -0.1})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}

func TestPopulateTwiceLeavesOneEdge(t *testing.T) {
	ctx := context.Background()
	p, store := newPopulator(t)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return clock }

	rel := model.Relationship{
		Type:             model.RelReplaces,
		Source:           model.PartEndpoint("0131M00008P"),
		Target:           model.PartEndpoint("0131M00008PS"),
		Confidence:       0.8,
		Context:          "replaced_by field",
		SourceDocumentID: "doc-1",
	}
	first, err := p.Populate(ctx, rel)
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	second, err := p.Populate(ctx, rel)
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, first.Confidence, second.Confidence)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalEdges)
	assert.EqualValues(t, 2, stats.TotalNodes)
}

func TestPopulateReflectsLatestIngestion(t *testing.T) {
	ctx := context.Background()
	p, store := newPopulator(t)

	rel := model.Relationship{
		Type:              model.RelReplaces,
		Source:            model.PartEndpoint("A100"),
		Target:            model.PartEndpoint("B200"),
		Confidence:        0.4,
		IsTribalKnowledge: true,
		SourceDocumentID:  "forum-1",
	}
	_, err := p.Populate(ctx, rel)
	require.NoError(t, err)

	rel.Confidence = 1
	rel.IsTribalKnowledge = false
	rel.SourceDocumentID = "catalog-1"
	_, err = p.Populate(ctx, rel)
	require.NoError(t, err)

	edges, err := store.Outgoing(ctx, model.PartNode("A100").Ref(), model.RelReplaces)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 1.0, edges[0].Confidence)
	assert.False(t, edges[0].IsTribalKnowledge)
	assert.Equal(t, "catalog-1", edges[0].SourceDocumentID)
	assert.Equal(t, []string{"forum-1", "catalog-1"}, edges[0].Source.SourceDocIDs)
}

func TestPopulateBatchToleratesBadRecords(t *testing.T) {
	ctx := context.Background()
	p, store := newPopulator(t)

	report := p.PopulateBatch(ctx, []model.Relationship{
		{Type: model.RelReplaces, Source: model.PartEndpoint("A100"), Target: model.PartEndpoint("B200"), Confidence: 1},
		{Type: model.RelReplaces, Source: model.PartEndpoint(""), Target: model.PartEndpoint("B200"), Confidence: 1},
		{Type: model.RelHasSpec, Source: model.PartEndpoint("A100"), Target: model.Endpoint{ID: "40+5 MFD"}, Confidence: 1},
	})
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 1, report.Errors[0].Index)
	assert.Equal(t, apperr.CodeValidation, report.Errors[0].Code)

	parts, err := store.PartsBySpec(ctx, "MFD", "40+5")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "A100", parts[0].ID)
}

func TestPopulateBatchCancelled(t *testing.T) {
	p, _ := newPopulator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := p.PopulateBatch(ctx, []model.Relationship{
		{Type: model.RelReplaces, Source: model.PartEndpoint("A100"), Target: model.PartEndpoint("B200"), Confidence: 1},
		{Type: model.RelReplaces, Source: model.PartEndpoint("B200"), Target: model.PartEndpoint("C300"), Confidence: 1},
	})
	assert.Zero(t, report.Applied)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, apperr.CodeTimeout, report.Errors[0].Code)
}

func TestEnsureNode(t *testing.T) {
	ctx := context.Background()
	p, store := newPopulator(t)
	oem := true
	_, err := p.EnsureNode(ctx, model.Endpoint{ID: "A100", Name: "Inducer", OEM: &oem}, "doc-1")
	require.NoError(t, err)

	n, err := store.GetNode(ctx, model.PartNode("a-100").Ref())
	require.NoError(t, err)
	assert.Equal(t, "Inducer", n.Name)
	assert.True(t, n.IsOEM())
	assert.Equal(t, []string{"doc-1"}, n.SourceDocIDs)
}
