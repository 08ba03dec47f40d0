// Package mcp implements the Model Context Protocol server for Noema.
//
// The server exposes the belief-revision core as MCP tools and resources:
// dissonance checks, the SMF proposal lifecycle, sector reclassification,
// and the insight write paths. Handler failures come back as coded JSON
// tool errors, never protocol errors, so agents can branch on the code.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ethr-ai/noema/internal/budget"
	"github.com/ethr-ai/noema/internal/dissonance"
	"github.com/ethr-ai/noema/internal/insights"
	"github.com/ethr-ai/noema/internal/llm"
	"github.com/ethr-ai/noema/internal/memory"
	"github.com/ethr-ai/noema/internal/model"
	"github.com/ethr-ai/noema/internal/reclassify"
	"github.com/ethr-ai/noema/internal/smf"
	"github.com/ethr-ai/noema/internal/storage"
)

// Server wraps the MCP server with Noema's service layer.
type Server struct {
	mcpServer    *mcpserver.MCPServer
	db           *storage.DB
	engine       *dissonance.Engine
	smf          *smf.Service
	reclassifier *reclassify.Service
	insights     *insights.Service
	meter        *budget.Meter
	health       *llm.HealthTracker
	scorer       *memory.Scorer
	logger       *slog.Logger
}

// New creates and configures the MCP server with all tools and resources.
func New(db *storage.DB, engine *dissonance.Engine, smfSvc *smf.Service, reclassifier *reclassify.Service, insightSvc *insights.Service, meter *budget.Meter, health *llm.HealthTracker, scorer *memory.Scorer, logger *slog.Logger) *Server {
	s := &Server{
		db:           db,
		engine:       engine,
		smf:          smfSvc,
		reclassifier: reclassifier,
		insights:     insightSvc,
		meter:        meter,
		health:       health,
		scorer:       scorer,
		logger:       logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"noema",
		"0.1.0",
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// noema://status — operational snapshot.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"noema://status",
			"Server Status",
			mcplib.WithResourceDescription("Store reachability, fallback state, safeguards, and month-to-date cost"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStatus,
	)

	// noema://node/{ref}/neighbors — relevance-scored neighborhood.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"noema://node/{ref}/neighbors",
			"Node Neighborhood",
			mcplib.WithTemplateDescription("Depth-1 neighborhood of a node with decay-adjusted relevance scores; superseded edges excluded"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleNeighbors,
	)
}

func (s *Server) handleStatus(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	status := map[string]any{
		"project_id": s.db.ProjectID(),
		"safeguards": smf.Safeguards,
		"fallback":   s.health.Snapshot(),
	}
	if err := s.db.Ping(ctx); err != nil {
		status["store"] = "unreachable"
	} else {
		status["store"] = "ok"
	}
	if summary, err := s.meter.Summary(ctx); err == nil {
		status["cost"] = summary
	} else {
		s.logger.Warn("mcp: status cost summary failed", "error", err)
	}
	if pending, err := s.smf.GetPending(ctx); err == nil {
		status["pending_proposals"] = len(pending)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal status: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "noema://status",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleNeighbors(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	ref := strings.TrimSuffix(strings.TrimPrefix(uri, "noema://node/"), "/neighbors")
	if ref == "" || ref == uri {
		return nil, fmt.Errorf("mcp: invalid neighbors URI: %s", uri)
	}

	node, err := s.db.ResolveNode(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("mcp: resolve node %q: %w", ref, err)
	}
	neighbors, err := s.db.QueryNeighbors(ctx, storage.QueryNeighborsParams{
		NodeID:    node.ID,
		Depth:     1,
		Direction: "both",
	}, s.scorer)
	if err != nil {
		return nil, fmt.Errorf("mcp: query neighbors: %w", err)
	}

	// Reading a neighborhood is an engagement: bump decay inputs.
	ids := make([]uuid.UUID, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.Edge.ID
	}
	s.db.TouchEdges(ctx, ids)

	data, err := json.MarshalIndent(map[string]any{
		"node":      node,
		"neighbors": neighbors,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal neighbors: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// jsonResult renders a successful tool result as indented JSON.
func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(model.NewError(model.CodeHandlerError, "marshal result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

// errorResult renders any error as a coded JSON tool error. Uncoded errors
// surface as STORE_ERROR so agents always see the same shape.
func errorResult(err error) *mcplib.CallToolResult {
	var coded *model.Error
	if !errors.As(err, &coded) {
		coded = model.NewError(model.CodeStoreError, "%v", err)
	}
	data, merr := json.Marshal(coded)
	if merr != nil {
		data = []byte(fmt.Sprintf(`{"code":%q,"message":%q}`, coded.Code, coded.Message))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
		IsError: true,
	}
}

func validationResult(field, format string, args ...any) *mcplib.CallToolResult {
	return errorResult(model.NewValidationError(field, format, args...))
}

// parseUUID parses a required uuid argument.
func parseUUID(raw, field string) (uuid.UUID, *mcplib.CallToolResult) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, validationResult(field, "%s must be a UUID (got %q)", field, raw)
	}
	return id, nil
}
