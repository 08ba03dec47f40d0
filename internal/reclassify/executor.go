package reclassify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethr-ai/noema/internal/model"
	"github.com/ethr-ai/noema/internal/storage"
)

// Executor applies reclassify and reclassify_sector proposals inside the
// SMF approval transaction. The proposal itself is the consent, so no
// further consent lookup happens here.
type Executor struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewExecutor creates an Executor.
func NewExecutor(logger *slog.Logger) *Executor {
	return &Executor{logger: logger, now: time.Now}
}

// Execute changes the sector of the proposal's affected edge and records
// the previous sector for undo.
func (e *Executor) Execute(ctx context.Context, m storage.Mutator, p *model.Proposal) (model.ExecutionRecord, error) {
	action := p.ProposedAction
	if !action.NewSector.Valid() {
		return model.ExecutionRecord{}, model.NewError(model.CodeInvalidSector,
			"sector must be one of %v (got %q)", model.Sectors, action.NewSector)
	}
	if len(p.AffectedEdges) != 1 {
		return model.ExecutionRecord{}, model.NewValidationError("affected_edges",
			"sector reclassification takes exactly one affected edge (got %d)", len(p.AffectedEdges))
	}
	edgeID := p.AffectedEdges[0]

	edge, err := m.GetEdge(ctx, edgeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.ExecutionRecord{}, model.NewError(model.CodeNotFound, "edge %s not found", edgeID)
		}
		return model.ExecutionRecord{}, err
	}

	actor := model.ActorSystem
	if p.ResolvedBy != nil {
		actor = *p.ResolvedBy
	}
	at := e.now().UTC()
	if p.ResolvedAt != nil {
		at = *p.ResolvedAt
	}

	stamp := model.Reclassification{
		FromSector: edge.MemorySector,
		ToSector:   action.NewSector,
		At:         at,
		Actor:      actor,
	}
	if err := m.SetEdgeSector(ctx, edgeID, action.NewSector, stamp); err != nil {
		return model.ExecutionRecord{}, err
	}
	if err := m.InsertAudit(ctx, model.AuditEntry{
		Actor:    actor,
		Action:   model.AuditEdgeReclassify,
		TargetID: &edgeID,
		Payload:  map[string]any{"from": edge.MemorySector, "to": action.NewSector, "proposal_id": p.ID},
	}); err != nil {
		return model.ExecutionRecord{}, err
	}

	e.logger.Info("reclassify: sector changed via proposal",
		"edge_id", edgeID, "from", edge.MemorySector, "to", action.NewSector, "proposal_id", p.ID)
	return model.ExecutionRecord{
		Reclassified:     &stamp,
		ReclassifiedEdge: &edgeID,
	}, nil
}
