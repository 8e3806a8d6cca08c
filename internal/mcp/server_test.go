package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agenthands/partgraph/internal/core/model"
	"github.com/agenthands/partgraph/internal/core/resolve"
	"github.com/agenthands/partgraph/internal/graph"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := graph.NewBadgerStoreInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	for _, e := range []model.Edge{
		{Type: model.RelReplaces, Source: model.PartNode("0131M00008P"), Target: model.PartNode("0131M00008PS"), Confidence: 1, SourceDocumentID: "doc-1"},
		{Type: model.RelReplaces, Source: model.PartNode("0131M00008PS"), Target: model.PartNode("0131M00008PT"), Confidence: 0.8, SourceDocumentID: "doc-2"},
		{Type: model.RelHasSpec, Source: model.PartNode("0131M00008P"), Target: model.SpecNode("MFD", "40+5"), Confidence: 1},
	} {
		_, err := store.MergeRelationship(ctx, e)
		require.NoError(t, err)
	}
	return NewServer(resolve.New(store, zap.NewNop(), 0), store, "test", zap.NewNop())
}

func call(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Name: name, Arguments: args}}
}

func text(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestLookupPartTool(t *testing.T) {
	s := newTestServer(t)
	result, err := s.handleLookupPart(context.Background(), call("lookup_part", map[string]interface{}{"part_id": "0131m-00008p"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var lookup model.PartLookup
	require.NoError(t, json.Unmarshal([]byte(text(t, result)), &lookup))
	require.Len(t, lookup.DirectReplacements, 1)
	assert.Equal(t, "0131M00008PS", lookup.DirectReplacements[0].PartID)
	assert.Equal(t, []model.SpecInfo{{Type: "MFD", Value: "40+5"}}, lookup.Specifications)
}

func TestLookupPartToolUnknown(t *testing.T) {
	s := newTestServer(t)
	result, err := s.handleLookupPart(context.Background(), call("lookup_part", map[string]interface{}{"part_id": "UNKNOWN_ID"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, text(t, result), "NOT_FOUND")
}

func TestReplacementChainTool(t *testing.T) {
	s := newTestServer(t)
	result, err := s.handleReplacementChain(context.Background(), call("replacement_chain", map[string]interface{}{"part_id": "0131M00008P", "max_depth": 1}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var chain model.ReplacementChain
	require.NoError(t, json.Unmarshal([]byte(text(t, result)), &chain))
	assert.Equal(t, 1, chain.TotalReplacements)

	result, err = s.handleReplacementChain(context.Background(), call("replacement_chain", map[string]interface{}{"part_id": "0131M00008P"}))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(text(t, result)), &chain))
	assert.Equal(t, 2, chain.TotalReplacements)
	assert.Equal(t, 2, chain.MaxDegree)

	result, err = s.handleReplacementChain(context.Background(), call("replacement_chain", map[string]interface{}{"part_id": "0131M00008P", "max_depth": 9}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, text(t, result), "VALIDATION_ERROR")
}

func TestSearchBySpecTool(t *testing.T) {
	s := newTestServer(t)
	result, err := s.handleSearchBySpec(context.Background(), call("search_by_spec", map[string]interface{}{"type": "mfd", "value": "40+5"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var search model.SpecSearch
	require.NoError(t, json.Unmarshal([]byte(text(t, result)), &search))
	assert.Equal(t, 1, search.TotalMatches)
	assert.Equal(t, "0131M00008P", search.MatchingParts[0].PartID)
}

func TestReadStatsResource(t *testing.T) {
	s := newTestServer(t)
	contents, err := s.handleReadStats(context.Background(), mcp.ReadResourceRequest{Params: mcp.ReadResourceParams{URI: statsURI}})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	tc, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	var stats graph.Stats
	require.NoError(t, json.Unmarshal([]byte(tc.Text), &stats))
	assert.Equal(t, int64(3), stats.TotalEdges)
}
