package mcp

import (
	"context"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ethr-ai/noema/internal/model"
	"github.com/ethr-ai/noema/internal/reclassify"
	"github.com/ethr-ai/noema/internal/smf"
)

func (s *Server) registerTools() {
	// dissonance_check — analyze a node's neighborhood for conflicts.
	s.mcpServer.AddTool(
		mcplib.NewTool("dissonance_check",
			mcplib.WithDescription("Analyze the edges around a node for dissonance. Pairs of edges are classified as EVOLUTION, CONTRADICTION, NUANCE, or NONE. EVOLUTION and CONTRADICTION create pending SMF proposals; NUANCE creates a review awaiting confirmation."),
			mcplib.WithString("context_node", mcplib.Description("Node name or UUID to analyze"), mcplib.Required()),
			mcplib.WithString("scope", mcplib.Description("Edge scope: 'recent' (last 30 days, default) or 'full'")),
			mcplib.WithString("context", mcplib.Description("Free-form situational context passed to the classifier")),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
		),
		s.handleDissonanceCheck,
	)

	// resolve_dissonance — elevate a dissonance into a proposal.
	s.mcpServer.AddTool(
		mcplib.NewTool("resolve_dissonance",
			mcplib.WithDescription("Create a pending SMF proposal resolving a dissonance between two edges. Nothing changes until the proposal is approved. EVOLUTION marks the first edge superseded on execution; CONTRADICTION and NUANCE record the relationship and keep both edges active."),
			mcplib.WithString("edge_a_id", mcplib.Description("First edge UUID (the outdated one for EVOLUTION)"), mcplib.Required()),
			mcplib.WithString("edge_b_id", mcplib.Description("Second edge UUID"), mcplib.Required()),
			mcplib.WithString("resolution_type", mcplib.Description("EVOLUTION, CONTRADICTION, or NUANCE"), mcplib.Required()),
			mcplib.WithString("context", mcplib.Description("Free-form context recorded on the resolution")),
			mcplib.WithString("review_id", mcplib.Description("Nuance review UUID this resolution settles, if any")),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleResolveDissonance,
	)

	// smf_pending_proposals — list proposals awaiting approval.
	s.mcpServer.AddTool(
		mcplib.NewTool("smf_pending_proposals",
			mcplib.WithDescription("List SMF proposals awaiting approval, oldest first, with their approval levels and current approval flags."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handlePendingProposals,
	)

	// smf_review — fetch one proposal in full.
	s.mcpServer.AddTool(
		mcplib.NewTool("smf_review",
			mcplib.WithDescription("Fetch one SMF proposal in full: proposed action, affected edges, reasoning, approvals, and lifecycle timestamps."),
			mcplib.WithString("proposal_id", mcplib.Description("Proposal UUID"), mcplib.Required()),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleReview,
	)

	// smf_approve — record one actor's approval.
	s.mcpServer.AddTool(
		mcplib.NewTool("smf_approve",
			mcplib.WithDescription("Record an actor's approval on a pending proposal. When the required approvals are complete (IO level needs io; BILATERAL needs both io and ethr), the proposed action executes atomically and the proposal becomes APPROVED with a 30-day undo window."),
			mcplib.WithString("proposal_id", mcplib.Description("Proposal UUID"), mcplib.Required()),
			mcplib.WithString("actor", mcplib.Description("Approving actor: 'io' or 'ethr'"), mcplib.Required()),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleApprove,
	)

	// smf_reject — close a pending proposal without executing.
	s.mcpServer.AddTool(
		mcplib.NewTool("smf_reject",
			mcplib.WithDescription("Reject a pending proposal. The graph is unchanged and the rejection reason is recorded."),
			mcplib.WithString("proposal_id", mcplib.Description("Proposal UUID"), mcplib.Required()),
			mcplib.WithString("reason", mcplib.Description("Why the proposal is rejected"), mcplib.Required()),
			mcplib.WithString("actor", mcplib.Description("Rejecting actor: 'io', 'ethr', or 'system'"), mcplib.Required()),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleReject,
	)

	// smf_undo — reverse an approved proposal within the window.
	s.mcpServer.AddTool(
		mcplib.NewTool("smf_undo",
			mcplib.WithDescription("Undo an approved proposal within its 30-day window: resolution edges are orphaned, supersede flags cleared, and sector changes reverted. Fails with RETENTION_EXPIRED after the deadline."),
			mcplib.WithString("proposal_id", mcplib.Description("Proposal UUID"), mcplib.Required()),
			mcplib.WithString("actor", mcplib.Description("Undoing actor: 'io' or 'ethr'"), mcplib.Required()),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleUndo,
	)

	// smf_bulk_approve — approve matching pending proposals in one call.
	s.mcpServer.AddTool(
		mcplib.NewTool("smf_bulk_approve",
			mcplib.WithDescription("Approve every pending proposal matching the filter on behalf of one actor. Proposals the actor already approved are skipped. With dry_run the per-item outcomes are predicted without changing anything."),
			mcplib.WithString("actor", mcplib.Description("Approving actor: 'io' or 'ethr'"), mcplib.Required()),
			mcplib.WithString("resolution_type", mcplib.Description("Filter: EVOLUTION, CONTRADICTION, or NUANCE")),
			mcplib.WithString("approval_level", mcplib.Description("Filter: IO or BILATERAL")),
			mcplib.WithBoolean("dry_run", mcplib.Description("Predict outcomes without approving")),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleBulkApprove,
	)

	// reclassify_memory_sector — move an edge between sectors.
	s.mcpServer.AddTool(
		mcplib.NewTool("reclassify_memory_sector",
			mcplib.WithDescription("Move an edge to a different memory sector, changing how its relevance decays. The edge is identified by (source_name, target_name, relation); pass edge_id when several edges match. Constitutive edges require an approved bilateral SMF proposal."),
			mcplib.WithString("source_name", mcplib.Description("Source node name"), mcplib.Required()),
			mcplib.WithString("target_name", mcplib.Description("Target node name"), mcplib.Required()),
			mcplib.WithString("relation", mcplib.Description("Edge relation"), mcplib.Required()),
			mcplib.WithString("new_sector", mcplib.Description("Target sector: emotional, episodic, semantic, procedural, or reflective"), mcplib.Required()),
			mcplib.WithString("edge_id", mcplib.Description("Edge UUID to disambiguate multiple matches")),
			mcplib.WithString("actor", mcplib.Description("Acting principal: 'io' or 'ethr'"), mcplib.Required()),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleReclassify,
	)

	// update_insight — edit an L2 insight.
	s.mcpServer.AddTool(
		mcplib.NewTool("update_insight",
			mcplib.WithDescription("Update an insight's content and/or merge metadata keys. Deleted insights cannot be updated."),
			mcplib.WithString("insight_id", mcplib.Description("Insight UUID"), mcplib.Required()),
			mcplib.WithString("content", mcplib.Description("Replacement content; omit to keep the current text")),
			mcplib.WithObject("metadata", mcplib.Description("Metadata keys to merge")),
			mcplib.WithString("actor", mcplib.Description("Acting principal: 'io' or 'ethr'"), mcplib.Required()),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleUpdateInsight,
	)

	// delete_insight — soft-delete an L2 insight.
	s.mcpServer.AddTool(
		mcplib.NewTool("delete_insight",
			mcplib.WithDescription("Soft-delete an insight. The row is tombstoned with actor and reason, excluded from strength lookups, and recoverable by operators."),
			mcplib.WithString("insight_id", mcplib.Description("Insight UUID"), mcplib.Required()),
			mcplib.WithString("reason", mcplib.Description("Why the insight is deleted"), mcplib.Required()),
			mcplib.WithString("actor", mcplib.Description("Acting principal: 'io' or 'ethr'"), mcplib.Required()),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleDeleteInsight,
	)
}

func (s *Server) handleDissonanceCheck(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	nodeRef := request.GetString("context_node", "")
	if nodeRef == "" {
		return validationResult("context_node", "context_node is required"), nil
	}
	scope := model.CheckScope(request.GetString("scope", ""))
	checkContext := request.GetString("context", "")

	result, err := s.engine.Check(ctx, nodeRef, scope, checkContext)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result), nil
}

func (s *Server) handleResolveDissonance(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	edgeA, res := parseUUID(request.GetString("edge_a_id", ""), "edge_a_id")
	if res != nil {
		return res, nil
	}
	edgeB, res := parseUUID(request.GetString("edge_b_id", ""), "edge_b_id")
	if res != nil {
		return res, nil
	}
	resolutionType, ok := model.ParseDissonanceType(request.GetString("resolution_type", ""))
	if !ok || resolutionType == model.DissonanceNone {
		return validationResult("resolution_type", "resolution_type must be EVOLUTION, CONTRADICTION, or NUANCE"), nil
	}

	var reviewID *uuid.UUID
	if raw := request.GetString("review_id", ""); raw != "" {
		id, res := parseUUID(raw, "review_id")
		if res != nil {
			return res, nil
		}
		reviewID = &id
	}

	proposal, err := s.smf.ProposeResolution(ctx, model.DissonanceResult{
		EdgeAID: edgeA,
		EdgeBID: edgeB,
		Type:    resolutionType,
		Context: request.GetString("context", ""),
	}, reviewID, model.TriggerManual)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(proposal), nil
}

func (s *Server) handlePendingProposals(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	pending, err := s.smf.GetPending(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{
		"proposals": pending,
		"total":     len(pending),
	}), nil
}

func (s *Server) handleReview(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, res := parseUUID(request.GetString("proposal_id", ""), "proposal_id")
	if res != nil {
		return res, nil
	}
	proposal, err := s.smf.Get(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(proposal), nil
}

func (s *Server) handleApprove(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, res := parseUUID(request.GetString("proposal_id", ""), "proposal_id")
	if res != nil {
		return res, nil
	}
	proposal, err := s.smf.Approve(ctx, id, request.GetString("actor", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(proposal), nil
}

func (s *Server) handleReject(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, res := parseUUID(request.GetString("proposal_id", ""), "proposal_id")
	if res != nil {
		return res, nil
	}
	reason := request.GetString("reason", "")
	if reason == "" {
		return validationResult("reason", "reason is required"), nil
	}
	proposal, err := s.smf.Reject(ctx, id, reason, request.GetString("actor", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(proposal), nil
}

func (s *Server) handleUndo(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, res := parseUUID(request.GetString("proposal_id", ""), "proposal_id")
	if res != nil {
		return res, nil
	}
	proposal, err := s.smf.Undo(ctx, id, request.GetString("actor", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(proposal), nil
}

func (s *Server) handleBulkApprove(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	filter := smf.BulkFilter{
		ApprovalLevel: model.ApprovalLevel(request.GetString("approval_level", "")),
	}
	if raw := request.GetString("resolution_type", ""); raw != "" {
		t, ok := model.ParseDissonanceType(raw)
		if !ok {
			return validationResult("resolution_type", "unknown resolution type %q", raw), nil
		}
		filter.ResolutionType = t
	}

	outcomes, err := s.smf.BulkApprove(ctx, filter, request.GetString("actor", ""), request.GetBool("dry_run", false))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{
		"outcomes": outcomes,
		"total":    len(outcomes),
	}), nil
}

func (s *Server) handleReclassify(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	params := reclassify.Params{
		SourceName: request.GetString("source_name", ""),
		TargetName: request.GetString("target_name", ""),
		Relation:   request.GetString("relation", ""),
		NewSector:  model.Sector(request.GetString("new_sector", "")),
		Actor:      request.GetString("actor", ""),
	}
	if params.SourceName == "" || params.TargetName == "" || params.Relation == "" {
		return validationResult("source_name", "source_name, target_name, and relation are required"), nil
	}
	if raw := request.GetString("edge_id", ""); raw != "" {
		id, res := parseUUID(raw, "edge_id")
		if res != nil {
			return res, nil
		}
		params.EdgeID = &id
	}

	result, err := s.reclassifier.Reclassify(ctx, params)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{
		"status":     "success",
		"edge_id":    result.EdgeID,
		"old_sector": result.OldSector,
		"new_sector": result.NewSector,
	}), nil
}

func (s *Server) handleUpdateInsight(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, res := parseUUID(request.GetString("insight_id", ""), "insight_id")
	if res != nil {
		return res, nil
	}

	var content *string
	if raw := request.GetString("content", ""); raw != "" {
		content = &raw
	}
	metadata, _ := request.GetArguments()["metadata"].(map[string]any)

	insight, err := s.insights.Update(ctx, id, content, metadata, request.GetString("actor", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(insight), nil
}

func (s *Server) handleDeleteInsight(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, res := parseUUID(request.GetString("insight_id", ""), "insight_id")
	if res != nil {
		return res, nil
	}
	if err := s.insights.Delete(ctx, id, request.GetString("reason", ""), request.GetString("actor", "")); err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{
		"status":     "deleted",
		"insight_id": id,
	}), nil
}
