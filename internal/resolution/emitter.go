// Package resolution materializes approved dissonance resolutions as a
// resolution node plus resolution edges. Originals are never removed:
// EVOLUTION marks the outdated edge superseded, everything else leaves
// both edges active with the resolution recording their relationship.
package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ethr-ai/noema/internal/model"
	"github.com/ethr-ai/noema/internal/storage"
)

// RelationResolves is the relation carried by resolution edges.
const RelationResolves = "RESOLVES"

// Emitter executes resolve_dissonance proposals. It runs entirely inside
// the SMF approval transaction.
type Emitter struct {
	logger *slog.Logger
}

// New creates an Emitter.
func New(logger *slog.Logger) *Emitter {
	return &Emitter{logger: logger}
}

// Execute materializes the resolution described by the proposal's action
// and reports the created artifacts for undo bookkeeping.
func (e *Emitter) Execute(ctx context.Context, m storage.Mutator, p *model.Proposal) (model.ExecutionRecord, error) {
	action := p.ProposedAction
	switch action.ResolutionType {
	case model.DissonanceEvolution, model.DissonanceContradiction, model.DissonanceNuance:
	default:
		return model.ExecutionRecord{}, model.NewValidationError("resolution_type",
			"resolution type must be EVOLUTION, CONTRADICTION, or NUANCE (got %q)", action.ResolutionType)
	}
	if action.EdgeAID == nil || action.EdgeBID == nil {
		return model.ExecutionRecord{}, model.NewValidationError("edge_ids", "both edge ids are required")
	}

	edgeA, err := m.GetEdge(ctx, *action.EdgeAID)
	if err != nil {
		return model.ExecutionRecord{}, e.edgeErr(*action.EdgeAID, err)
	}
	edgeB, err := m.GetEdge(ctx, *action.EdgeBID)
	if err != nil {
		return model.ExecutionRecord{}, e.edgeErr(*action.EdgeBID, err)
	}

	resolvedBy := model.ActorSystem
	if p.ResolvedBy != nil {
		resolvedBy = *p.ResolvedBy
	}
	resolvedAt := p.CreatedAt
	if p.ResolvedAt != nil {
		resolvedAt = *p.ResolvedAt
	}

	// The node name derives from the review id when the resolution came
	// out of a nuance review, otherwise from the proposal id. Either way
	// re-executing the same proposal reuses the node.
	seed := p.ID
	if action.ReviewID != nil {
		seed = *action.ReviewID
	}
	node, err := m.AddNode(ctx, fmt.Sprintf("resolution:%s", seed), "Resolution", map[string]any{
		"resolution_type": string(action.ResolutionType),
	})
	if err != nil {
		return model.ExecutionRecord{}, fmt.Errorf("resolution: create node: %w", err)
	}

	record := model.ExecutionRecord{ResolutionNodeID: &node.ID}

	shared := map[string]any{
		"edge_type":       string(model.EdgeResolution),
		"resolution_type": string(action.ResolutionType),
		"context":         action.Context,
		"resolved_by":     resolvedBy,
		"resolved_at":     resolvedAt.UTC(),
	}
	if action.ResolutionType == model.DissonanceEvolution {
		shared["supersedes"] = []string{edgeA.ID.String()}
		shared["superseded_by"] = []string{edgeB.ID.String()}
	} else {
		shared["affected_edges"] = []string{edgeA.ID.String(), edgeB.ID.String()}
	}

	for _, target := range resolutionTargets(node.ID, edgeA, edgeB) {
		props := make(map[string]any, len(shared)+1)
		for k, v := range shared {
			props[k] = v
		}
		props["resolves_edge"] = target.resolved.String()
		created, err := m.AddEdge(ctx, storage.AddEdgeParams{
			SourceID:   node.ID,
			TargetID:   target.node,
			Relation:   RelationResolves,
			Weight:     1.0,
			Properties: props,
			Sector:     model.SectorSemantic,
		})
		if err != nil {
			return model.ExecutionRecord{}, fmt.Errorf("resolution: create edge: %w", err)
		}
		record.ResolutionEdgeIDs = append(record.ResolutionEdgeIDs, created.ID)
	}

	if action.ResolutionType == model.DissonanceEvolution {
		marked, err := m.MarkSuperseded(ctx, edgeA.ID, resolvedBy, resolvedAt)
		if err != nil {
			return model.ExecutionRecord{}, err
		}
		if marked {
			record.SupersededEdgeIDs = append(record.SupersededEdgeIDs, edgeA.ID)
			if err := m.InsertAudit(ctx, model.AuditEntry{
				Actor:    resolvedBy,
				Action:   model.AuditEdgeSupersede,
				TargetID: &edgeA.ID,
				Payload:  map[string]any{"superseded_by": edgeB.ID, "proposal_id": p.ID},
			}); err != nil {
				return model.ExecutionRecord{}, err
			}
		}
	}

	if action.ReviewID != nil {
		if err := e.closeReview(ctx, m, *action.ReviewID, action.ResolutionType, resolvedAt); err != nil {
			return model.ExecutionRecord{}, err
		}
	}

	if err := m.InsertAudit(ctx, model.AuditEntry{
		Actor:    resolvedBy,
		Action:   model.AuditResolution,
		TargetID: &node.ID,
		Payload: map[string]any{
			"resolution_type": action.ResolutionType,
			"edge_a_id":       edgeA.ID,
			"edge_b_id":       edgeB.ID,
			"proposal_id":     p.ID,
		},
	}); err != nil {
		return model.ExecutionRecord{}, err
	}

	e.logger.Info("resolution: emitted",
		"resolution_node", node.ID, "type", action.ResolutionType,
		"edge_a", edgeA.ID, "edge_b", edgeB.ID)
	return record, nil
}

// closeReview marks the originating nuance review CONFIRMED, or
// RECLASSIFIED when the resolution type differs from the original NUANCE
// verdict. A review is reviewed exactly once; a second close is a
// conflict.
func (e *Emitter) closeReview(ctx context.Context, m storage.Mutator, reviewID uuid.UUID, resolutionType model.DissonanceType, at time.Time) error {
	review, err := m.GetReview(ctx, reviewID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.NewError(model.CodeNotFound, "review %s not found", reviewID)
		}
		return err
	}
	if review.Status != model.ReviewPending {
		return model.NewError(model.CodeConflict, "review %s already reviewed (%s)", reviewID, review.Status)
	}

	status := model.ReviewConfirmed
	var reclassifiedTo *model.DissonanceType
	if resolutionType != review.Dissonance.Type {
		status = model.ReviewReclassified
		reclassifiedTo = &resolutionType
	}
	return m.SetReviewStatus(ctx, reviewID, status, reclassifiedTo, nil, at)
}

type resolutionTarget struct {
	node     uuid.UUID
	resolved uuid.UUID
}

// resolutionTargets picks one endpoint per original edge for the two
// resolution edges, steering around the (source, target, relation)
// uniqueness when both originals share an endpoint.
func resolutionTargets(resolutionNode uuid.UUID, a, b model.Edge) []resolutionTarget {
	targetA := a.TargetID
	targetB := b.TargetID
	if targetB == targetA {
		targetB = b.SourceID
	}
	if targetB == targetA {
		targetB = a.SourceID
	}
	return []resolutionTarget{
		{node: targetA, resolved: a.ID},
		{node: targetB, resolved: b.ID},
	}
}

func (e *Emitter) edgeErr(id uuid.UUID, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return model.NewError(model.CodeNotFound, "edge %s not found", id)
	}
	return fmt.Errorf("resolution: load edge %s: %w", id, err)
}
