// Package mcp exposes the read queries as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/core/resolve"
	"github.com/agenthands/partgraph/internal/graph"
)

const statsURI = "partgraph://graph/stats"

// Server adapts the resolver to MCP.
type Server struct {
	mcpServer *server.MCPServer
	resolver  *resolve.Resolver
	graph     graph.Store
	logger    *zap.Logger
}

func NewServer(resolver *resolve.Resolver, store graph.Store, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		mcpServer: server.NewMCPServer("partgraph", version),
		resolver:  resolver,
		graph:     store,
		logger:    logger,
	}
	s.registerTools()
	s.registerResources()
	return s
}

// Serve runs the server on stdio until the client disconnects.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"lookup_part",
		mcp.WithDescription("Look up a part: specifications, direct replacements, equivalents, compatible equipment and provenance."),
		mcp.WithString("part_id", mcp.Required(), mcp.Description("Part number in any spelling, e.g. '0131M00008P'")),
	), s.handleLookupPart)

	s.mcpServer.AddTool(mcp.NewTool(
		"replacement_chain",
		mcp.WithDescription("List the parts that supersede a part, grouped by how many replacement hops away they are."),
		mcp.WithString("part_id", mcp.Required(), mcp.Description("Part number to start from")),
		mcp.WithNumber("max_depth", mcp.Description("Hops to follow, 1 to 5 (default 5)")),
	), s.handleReplacementChain)

	s.mcpServer.AddTool(mcp.NewTool(
		"search_by_spec",
		mcp.WithDescription("Find parts with a given specification, OEM parts first."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Specification type or unit, e.g. 'MFD'")),
		mcp.WithString("value", mcp.Required(), mcp.Description("Specification value, e.g. '40+5'")),
	), s.handleSearchBySpec)
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		statsURI,
		"Graph statistics",
		mcp.WithResourceDescription("Node and relationship counts by label and type"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadStats)
}

func (s *Server) handleLookupPart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.resolver.LookupPart(ctx, mcp.ParseString(request, "part_id", ""))
	return s.toolResult("lookup_part", result, err)
}

func (s *Server) handleReplacementChain(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	depth := mcp.ParseInt(request, "max_depth", resolve.DefaultDepth)
	result, err := s.resolver.ResolveChain(ctx, mcp.ParseString(request, "part_id", ""), depth)
	return s.toolResult("replacement_chain", result, err)
}

func (s *Server) handleSearchBySpec(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.resolver.FindBySpec(ctx, mcp.ParseString(request, "type", ""), mcp.ParseString(request, "value", ""))
	return s.toolResult("search_by_spec", result, err)
}

// toolResult reports query failures as tool errors carrying the stable code,
// so the calling model can tell an unknown part from an outage.
func (s *Server) toolResult(tool string, v interface{}, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		code := apperr.CodeOf(err)
		if apperr.HTTPStatus(code) >= 500 {
			s.logger.Error("tool call failed", zap.String("tool", tool), zap.String("code", string(code)), zap.Error(err))
		}
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", code, apperr.MessageOf(err))), nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s result: %w", tool, err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleReadStats(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	stats, err := s.graph.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph stats: %w", err)
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graph stats: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
