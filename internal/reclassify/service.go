// Package reclassify moves edges between memory sectors. Non-constitutive
// edges take the direct path; constitutive edges require a matching
// approved bilateral proposal before the sector changes.
package reclassify

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

// Store is the persistence surface the service needs. *storage.DB
// implements it.
type Store interface {
	FindEdges(ctx context.Context, sourceName, targetName, relation string) ([]model.Edge, error)
	ListApprovedProposals(ctx context.Context) ([]model.Proposal, error)
	Transact(ctx context.Context, fn func(ctx context.Context, m storage.Mutator) error) error
}

// Service performs sector reclassification.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Service.
func New(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// Params identify the edge by its (source name, target name, relation)
// triple. EdgeID disambiguates when the triple matches several edges.
type Params struct {
	SourceName string
	TargetName string
	Relation   string
	NewSector  model.Sector
	EdgeID     *uuid.UUID
	Actor      string
}

// Result reports a completed reclassification.
type Result struct {
	EdgeID    uuid.UUID    `json:"edge_id"`
	OldSector model.Sector `json:"old_sector"`
	NewSector model.Sector `json:"new_sector"`
}

// Reclassify validates, resolves, consent-checks, and applies a sector
// change. The sector update, the last_reclassification stamp, and the
// audit entry commit as one transaction.
func (s *Service) Reclassify(ctx context.Context, p Params) (Result, error) {
	if !p.NewSector.Valid() {
		return Result{}, model.NewError(model.CodeInvalidSector,
			"sector must be one of %v (got %q)", model.Sectors, p.NewSector)
	}
	actor := model.NormalizeActor(p.Actor)
	if actor != model.ActorIO && actor != model.ActorEthr {
		return Result{}, model.NewValidationError("actor", "actor must be io or ethr")
	}

	edge, err := s.resolveEdge(ctx, p)
	if err != nil {
		return Result{}, err
	}

	if edge.IsConstitutive() {
		if err := s.checkConsent(ctx, edge.ID, p.NewSector); err != nil {
			return Result{}, err
		}
	}

	oldSector := edge.MemorySector
	now := s.now().UTC()
	stamp := model.Reclassification{
		FromSector: oldSector,
		ToSector:   p.NewSector,
		At:         now,
		Actor:      actor,
	}
	err = s.store.Transact(ctx, func(ctx context.Context, m storage.Mutator) error {
		if err := m.SetEdgeSector(ctx, edge.ID, p.NewSector, stamp); err != nil {
			return err
		}
		return m.InsertAudit(ctx, model.AuditEntry{
			Actor:    actor,
			Action:   model.AuditEdgeReclassify,
			TargetID: &edge.ID,
			Payload:  map[string]any{"from": oldSector, "to": p.NewSector},
		})
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{}, model.NewError(model.CodeNotFound, "edge %s not found", edge.ID)
		}
		return Result{}, fmt.Errorf("reclassify: %w", err)
	}

	s.logger.Info("reclassify: sector changed",
		"edge_id", edge.ID, "from", oldSector, "to", p.NewSector, "actor", actor)
	return Result{EdgeID: edge.ID, OldSector: oldSector, NewSector: p.NewSector}, nil
}

// resolveEdge finds exactly one edge for the triple, honoring the optional
// edge id filter. Multiple matches without a filter are ambiguous and the
// candidates are returned for the caller to choose from.
func (s *Service) resolveEdge(ctx context.Context, p Params) (model.Edge, error) {
	edges, err := s.store.FindEdges(ctx, p.SourceName, p.TargetName, p.Relation)
	if err != nil {
		return model.Edge{}, fmt.Errorf("reclassify: find edges: %w", err)
	}
	if p.EdgeID != nil {
		filtered := edges[:0]
		for _, edge := range edges {
			if edge.ID == *p.EdgeID {
				filtered = append(filtered, edge)
			}
		}
		edges = filtered
	}
	switch len(edges) {
	case 0:
		return model.Edge{}, model.NewError(model.CodeNotFound,
			"no edge matches (%s, %s, %s)", p.SourceName, p.TargetName, p.Relation)
	case 1:
		return edges[0], nil
	default:
		ids := make([]uuid.UUID, len(edges))
		for i, edge := range edges {
			ids[i] = edge.ID
		}
		return model.Edge{}, model.NewError(model.CodeAmbiguous,
			"%d edges match (%s, %s, %s); pass edge_id to disambiguate",
			len(edges), p.SourceName, p.TargetName, p.Relation).
			WithDetails(map[string]any{"edge_ids": ids})
	}
}

// checkConsent looks for an approved proposal covering this edge and
// sector. Bilateral levels must carry both approvals; a proposal without
// an explicit new_sector consents to any sector.
func (s *Service) checkConsent(ctx context.Context, edgeID uuid.UUID, newSector model.Sector) error {
	approved, err := s.store.ListApprovedProposals(ctx)
	if err != nil {
		return fmt.Errorf("reclassify: consent lookup: %w", err)
	}
	for _, p := range approved {
		if !consentMatches(p, edgeID, newSector) {
			continue
		}
		return nil
	}
	return model.NewError(model.CodeConsentRequired,
		"edge %s is constitutive; an approved bilateral proposal is required (create one and approve it via the smf_approve tool)", edgeID)
}

func consentMatches(p model.Proposal, edgeID uuid.UUID, newSector model.Sector) bool {
	switch p.ProposedAction.Action {
	case model.ActionReclassify, model.ActionReclassifySector:
	default:
		return false
	}
	found := false
	for _, id := range p.AffectedEdges {
		if id == edgeID {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if p.ApprovalLevel == model.ApprovalBilateral && !(p.ApprovedByIO && p.ApprovedByEthr) {
		return false
	}
	if p.ProposedAction.NewSector != "" && p.ProposedAction.NewSector != newSector {
		return false
	}
	return true
}
