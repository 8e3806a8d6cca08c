//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agenthands/partgraph/internal/app"
	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/config"
	"github.com/agenthands/partgraph/internal/core/model"
)

// boltApp builds the engine against the Bolt server named by
// PARTGRAPH_GRAPH_URI, wiping the graph before and after the test.
func boltApp(t *testing.T) *app.App {
	t.Helper()
	_ = godotenv.Load("../../.env")

	uri := os.Getenv("PARTGRAPH_GRAPH_URI")
	if uri == "" {
		t.Skip("Skipping integration test: PARTGRAPH_GRAPH_URI not set")
	}

	cfg := config.Default()
	require.NoError(t, cfg.ApplyEnv(os.Getenv))
	cfg.Graph.Backend = "bolt"
	cfg.Evidence.DBPath = filepath.Join(t.TempDir(), "evidence.db")

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.Graph.Clear(ctx))
	t.Cleanup(func() {
		_ = a.Graph.Clear(context.Background())
		_ = a.Close()
	})
	return a
}

func evidence(source, queried string, fields ...model.Field) model.RawEvidenceRecord {
	return model.RawEvidenceRecord{
		Source:    source,
		Session:   "integration",
		File:      queried + ".json",
		QueriedID: queried,
		Payload:   model.Object(fields...),
	}
}

func TestReplacementFlowOverBolt(t *testing.T) {
	a := boltApp(t)
	ctx := context.Background()

	records := []model.RawEvidenceRecord{
		evidence("goodman", "0131M00008P",
			model.Field{Key: "part_number", Value: model.String("0131M00008P")},
			model.Field{Key: "replaced_by", Value: model.String("0131M00008PS")},
			model.Field{Key: "specifications", Value: model.Object(
				model.Field{Key: "capacitance", Value: model.String("40+5 MFD")},
			)},
		),
		evidence("goodman", "0131M00008PS",
			model.Field{Key: "part_number", Value: model.String("0131M00008PS")},
			model.Field{Key: "replaced_by", Value: model.String("0131M00008PT")},
		),
	}
	for _, rec := range records {
		_, err := a.Ingestor.IngestEvidence(ctx, rec)
		require.NoError(t, err)
	}

	lookup, err := a.Resolver.LookupPart(ctx, "0131m-00008p")
	require.NoError(t, err)
	require.Len(t, lookup.DirectReplacements, 1)
	assert.Equal(t, "0131M00008PS", lookup.DirectReplacements[0].PartID)
	assert.Equal(t, 1.0, lookup.DirectReplacements[0].Confidence)

	chain, err := a.Resolver.ResolveChain(ctx, "0131M00008P", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, chain.TotalReplacements)
	assert.Equal(t, 2, chain.MaxDegree)

	search, err := a.Resolver.FindBySpec(ctx, "MFD", "40+5")
	require.NoError(t, err)
	require.Equal(t, 1, search.TotalMatches)
	assert.Equal(t, "0131M00008P", search.MatchingParts[0].PartID)
}

func TestReplayIsIdempotentOverBolt(t *testing.T) {
	a := boltApp(t)
	ctx := context.Background()

	rec := evidence("goodman", "HC41SE113",
		model.Field{Key: "part_number", Value: model.String("HC41SE113")},
		model.Field{Key: "replaced_by", Value: model.String("HC41SE114")},
	)
	for i := 0; i < 3; i++ {
		_, err := a.Ingestor.IngestEvidence(ctx, rec)
		require.NoError(t, err)
	}

	stats, err := a.Graph.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Edges[model.RelReplaces])
}

func TestUnknownPartOverBolt(t *testing.T) {
	a := boltApp(t)
	_, err := a.Resolver.LookupPart(context.Background(), "UNKNOWN_ID")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}
