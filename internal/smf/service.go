// Package smf is the Self-Modification Framework: the proposal state
// machine gating every structural change to the graph. Proposals are
// validated against immutable safeguards and neutral framing at creation,
// re-validated at execution, and reversible for thirty days after approval.
package smf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ethr-ai/noema/internal/model"
	"github.com/ethr-ai/noema/internal/storage"
)

// UndoRetention is the window after approval in which a proposal can be
// undone.
const UndoRetention = 30 * 24 * time.Hour

// Store is the persistence surface the service needs. *storage.DB
// implements it.
type Store interface {
	GetEdge(ctx context.Context, id uuid.UUID) (model.Edge, error)
	InsertProposal(ctx context.Context, p model.Proposal, audit model.AuditEntry) (model.Proposal, error)
	GetProposal(ctx context.Context, id uuid.UUID) (model.Proposal, error)
	ListPendingProposals(ctx context.Context) ([]model.Proposal, error)
	UpdateProposal(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, m storage.Mutator, p *model.Proposal) error) (model.Proposal, error)
}

// Executor performs an approved proposal's side effects inside the
// approval transaction and reports what it changed, so undo can reverse
// exactly those effects.
type Executor interface {
	Execute(ctx context.Context, m storage.Mutator, p *model.Proposal) (model.ExecutionRecord, error)
}

// Service runs the proposal lifecycle.
type Service struct {
	store      Store
	executors  map[string]Executor
	neutrality NeutralityChecker
	logger     *slog.Logger
	now        func() time.Time

	maxRetries int
	baseDelay  time.Duration
}

// New creates a Service. Executors are registered afterwards; neutrality
// may be nil for stop-list-only validation.
func New(store Store, neutrality NeutralityChecker, maxRetries int, baseDelay time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		executors:  make(map[string]Executor),
		neutrality: neutrality,
		logger:     logger,
		now:        time.Now,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// RegisterExecutor binds an executor to a proposed-action name.
func (s *Service) RegisterExecutor(action string, e Executor) {
	s.executors[action] = e
}

// CreateParams are the inputs to proposal creation.
type CreateParams struct {
	TriggerType   model.TriggerType
	Action        model.ProposedAction
	AffectedEdges []uuid.UUID
	Reasoning     string
	ApprovalLevel model.ApprovalLevel

	// FromTemplate marks reasoning produced by RenderNeutralReasoning,
	// which is exempt from the stop-list scan.
	FromTemplate bool
}

// Create validates and persists a new pending proposal.
//
// The approval level is forced to BILATERAL when any affected edge is
// constitutive, regardless of what the caller asked for. Safeguard and
// neutrality validation run before anything is persisted.
func (s *Service) Create(ctx context.Context, p CreateParams) (model.Proposal, error) {
	if p.TriggerType == "" {
		p.TriggerType = model.TriggerManual
	}
	if p.ApprovalLevel == "" {
		p.ApprovalLevel = model.ApprovalIO
	}
	if p.Action.Action == "" {
		return model.Proposal{}, model.NewValidationError("proposed_action", "action must not be empty")
	}

	affected := make([]model.Edge, 0, len(p.AffectedEdges))
	for _, id := range p.AffectedEdges {
		edge, err := s.store.GetEdge(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return model.Proposal{}, model.NewError(model.CodeNotFound, "affected edge %s not found", id)
			}
			return model.Proposal{}, fmt.Errorf("smf: load affected edge: %w", err)
		}
		affected = append(affected, edge)
	}

	level := p.ApprovalLevel
	for _, edge := range affected {
		if edge.IsConstitutive() {
			level = model.ApprovalBilateral
			break
		}
	}

	if err := validateSafeguards(p.Action, affected, level); err != nil {
		return model.Proposal{}, err
	}
	if !p.FromTemplate {
		if err := validateNeutrality(ctx, p.Reasoning, s.neutrality); err != nil {
			return model.Proposal{}, err
		}
	}

	metadata := map[string]any{}
	if p.FromTemplate {
		metadata["neutral_summary"] = true
	}

	proposal := model.Proposal{
		TriggerType:    p.TriggerType,
		ProposedAction: p.Action,
		AffectedEdges:  p.AffectedEdges,
		Reasoning:      p.Reasoning,
		ApprovalLevel:  level,
		Status:         model.ProposalPending,
		Metadata:       metadata,
	}
	created, err := s.store.InsertProposal(ctx, proposal, model.AuditEntry{
		Actor:  model.ActorSystem,
		Action: model.AuditSMFPropose,
		Payload: map[string]any{
			"trigger_type":   p.TriggerType,
			"action":         p.Action.Action,
			"approval_level": level,
		},
	})
	if err != nil {
		return model.Proposal{}, fmt.Errorf("smf: create proposal: %w", err)
	}
	s.logger.Info("smf: proposal created",
		"proposal_id", created.ID, "action", p.Action.Action,
		"approval_level", level, "trigger", p.TriggerType)
	return created, nil
}

// ProposeResolution creates a resolution proposal for a dissonance with
// template-generated reasoning. reviewID links the proposal to the nuance
// review it settles, when there is one.
func (s *Service) ProposeResolution(ctx context.Context, d model.DissonanceResult, reviewID *uuid.UUID, trigger model.TriggerType) (model.Proposal, error) {
	return s.Create(ctx, CreateParams{
		TriggerType: trigger,
		Action: model.ProposedAction{
			Action:         model.ActionResolveDissonance,
			ResolutionType: d.Type,
			EdgeAID:        &d.EdgeAID,
			EdgeBID:        &d.EdgeBID,
			Context:        d.Context,
			ReviewID:       reviewID,
		},
		AffectedEdges: []uuid.UUID{d.EdgeAID, d.EdgeBID},
		Reasoning:     RenderNeutralReasoning(summaryFromDissonance(d)),
		FromTemplate:  true,
	})
}

// ProposeFromDissonance bridges an engine-classified dissonance into a
// pending proposal. Called by the dissonance engine.
func (s *Service) ProposeFromDissonance(ctx context.Context, d model.DissonanceResult, edges [2]model.Edge) (model.Proposal, error) {
	return s.ProposeResolution(ctx, d, nil, model.TriggerDissonance)
}

// Approve records one actor's approval and, when the required approvals
// are complete, executes the proposed action. Execution, the status
// transition, and the audit entry commit as one transaction; serialization
// conflicts between concurrent approvals are retried.
func (s *Service) Approve(ctx context.Context, proposalID uuid.UUID, actor string) (model.Proposal, error) {
	actor = model.NormalizeActor(actor)
	if actor != model.ActorIO && actor != model.ActorEthr {
		return model.Proposal{}, model.NewValidationError("actor", "actor must be io or ethr")
	}

	var out model.Proposal
	err := storage.WithRetry(ctx, s.maxRetries, s.baseDelay, func() error {
		var err error
		out, err = s.store.UpdateProposal(ctx, proposalID, func(ctx context.Context, m storage.Mutator, p *model.Proposal) error {
			if p.Status != model.ProposalPending {
				return model.NewError(model.CodeConflict, "proposal %s is %s, not PENDING", p.ID, p.Status)
			}
			if p.ApprovedBy(actor) {
				return model.NewError(model.CodeConflict, "proposal %s already approved by %s", p.ID, actor)
			}

			switch actor {
			case model.ActorIO:
				p.ApprovedByIO = true
			case model.ActorEthr:
				p.ApprovedByEthr = true
			}
			if err := m.InsertAudit(ctx, model.AuditEntry{
				Actor:    actor,
				Action:   model.AuditSMFApprove,
				TargetID: &p.ID,
				Payload:  map[string]any{"approval_level": p.ApprovalLevel},
			}); err != nil {
				return err
			}

			if !p.ApprovalsComplete() {
				return nil
			}
			return s.execute(ctx, m, p, actor)
		})
		return err
	})
	if err != nil {
		return model.Proposal{}, s.mapStoreError(err, proposalID)
	}
	s.logger.Info("smf: proposal approved",
		"proposal_id", out.ID, "actor", actor, "status", out.Status)
	return out, nil
}

// execute runs the registered executor for the proposal inside the approval
// transaction. Safeguards are re-validated against the current edge state
// first.
func (s *Service) execute(ctx context.Context, m storage.Mutator, p *model.Proposal, actor string) error {
	affected := make([]model.Edge, 0, len(p.AffectedEdges))
	for _, id := range p.AffectedEdges {
		edge, err := m.GetEdge(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return model.NewError(model.CodeNotFound, "affected edge %s no longer exists", id)
			}
			return err
		}
		affected = append(affected, edge)
	}
	if err := validateSafeguards(p.ProposedAction, affected, p.ApprovalLevel); err != nil {
		return err
	}

	exec, ok := s.executors[p.ProposedAction.Action]
	if !ok {
		return model.NewError(model.CodeHandlerError, "no executor for action %q", p.ProposedAction.Action)
	}

	// Resolution fields are visible to the executor; a failed execution
	// rolls the whole transaction back, fields included.
	now := s.now().UTC()
	deadline := now.Add(UndoRetention)
	p.Status = model.ProposalApproved
	p.ResolvedAt = &now
	p.ResolvedBy = &actor
	p.UndoDeadline = &deadline

	record, err := exec.Execute(ctx, m, p)
	if err != nil {
		return err
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	p.Metadata["executed"] = record
	return nil
}

// Reject transitions a pending proposal to REJECTED. The system actor is
// allowed here so automated cleanup can close stale proposals.
func (s *Service) Reject(ctx context.Context, proposalID uuid.UUID, reason, actor string) (model.Proposal, error) {
	actor = model.NormalizeActor(actor)
	if actor == "" {
		return model.Proposal{}, model.NewValidationError("actor", "actor must be io, ethr, or system")
	}

	out, err := s.store.UpdateProposal(ctx, proposalID, func(ctx context.Context, m storage.Mutator, p *model.Proposal) error {
		if p.Status != model.ProposalPending {
			return model.NewError(model.CodeConflict, "proposal %s is %s, not PENDING", p.ID, p.Status)
		}
		now := s.now().UTC()
		p.Status = model.ProposalRejected
		p.ResolvedAt = &now
		p.ResolvedBy = &actor
		if p.Metadata == nil {
			p.Metadata = map[string]any{}
		}
		p.Metadata["rejection_reason"] = reason
		return m.InsertAudit(ctx, model.AuditEntry{
			Actor:    actor,
			Action:   model.AuditSMFReject,
			TargetID: &p.ID,
			Payload:  map[string]any{"reason": reason},
		})
	})
	if err != nil {
		return model.Proposal{}, s.mapStoreError(err, proposalID)
	}
	s.logger.Info("smf: proposal rejected", "proposal_id", out.ID, "actor", actor)
	return out, nil
}

// Undo reverses an approved proposal within the retention window:
// resolution edges are orphaned, supersede flags cleared, and sector
// changes reverted, all in one transaction with the status change.
func (s *Service) Undo(ctx context.Context, proposalID uuid.UUID, actor string) (model.Proposal, error) {
	actor = model.NormalizeActor(actor)
	if actor != model.ActorIO && actor != model.ActorEthr {
		return model.Proposal{}, model.NewValidationError("actor", "actor must be io or ethr")
	}

	var out model.Proposal
	err := storage.WithRetry(ctx, s.maxRetries, s.baseDelay, func() error {
		var err error
		out, err = s.store.UpdateProposal(ctx, proposalID, func(ctx context.Context, m storage.Mutator, p *model.Proposal) error {
			if p.Status != model.ProposalApproved {
				return model.NewError(model.CodeConflict, "proposal %s is %s, not APPROVED", p.ID, p.Status)
			}
			now := s.now().UTC()
			if p.UndoDeadline == nil || now.After(*p.UndoDeadline) {
				return model.NewError(model.CodeRetentionExpired,
					"undo window for proposal %s closed at %s", p.ID, deadlineString(p.UndoDeadline))
			}

			record := executionRecord(p)
			if err := m.OrphanResolutionEdges(ctx, record.ResolutionEdgeIDs); err != nil {
				return err
			}
			for _, id := range record.SupersededEdgeIDs {
				if err := m.ClearSuperseded(ctx, id); err != nil {
					return err
				}
			}
			if record.ReclassifiedEdge != nil && record.Reclassified != nil {
				stamp := model.Reclassification{
					FromSector: record.Reclassified.ToSector,
					ToSector:   record.Reclassified.FromSector,
					At:         now,
					Actor:      actor,
				}
				if err := m.SetEdgeSector(ctx, *record.ReclassifiedEdge, record.Reclassified.FromSector, stamp); err != nil {
					return err
				}
			}

			p.Status = model.ProposalUndone
			return m.InsertAudit(ctx, model.AuditEntry{
				Actor:    actor,
				Action:   model.AuditSMFUndo,
				TargetID: &p.ID,
				Payload: map[string]any{
					"orphaned_edges":  len(record.ResolutionEdgeIDs),
					"cleared_flags":   len(record.SupersededEdgeIDs),
					"sector_reverted": record.ReclassifiedEdge != nil,
				},
			})
		})
		return err
	})
	if err != nil {
		return model.Proposal{}, s.mapStoreError(err, proposalID)
	}
	s.logger.Info("smf: proposal undone", "proposal_id", out.ID, "actor", actor)
	return out, nil
}

// Get fetches one proposal.
func (s *Service) Get(ctx context.Context, proposalID uuid.UUID) (model.Proposal, error) {
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return model.Proposal{}, s.mapStoreError(err, proposalID)
	}
	return p, nil
}

// GetPending lists proposals awaiting approval.
func (s *Service) GetPending(ctx context.Context) ([]model.Proposal, error) {
	return s.store.ListPendingProposals(ctx)
}

// BulkFilter narrows bulk approval to matching pending proposals. Zero
// values match everything.
type BulkFilter struct {
	ResolutionType model.DissonanceType
	ApprovalLevel  model.ApprovalLevel
}

// BulkApprove approves every pending proposal matching the filter on
// behalf of actor. Proposals the actor already approved are skipped. With
// dryRun the outcomes are predicted without changing anything.
func (s *Service) BulkApprove(ctx context.Context, filter BulkFilter, actor string, dryRun bool) ([]model.BulkItemOutcome, error) {
	actor = model.NormalizeActor(actor)
	if actor != model.ActorIO && actor != model.ActorEthr {
		return nil, model.NewValidationError("actor", "actor must be io or ethr")
	}

	pending, err := s.store.ListPendingProposals(ctx)
	if err != nil {
		return nil, fmt.Errorf("smf: bulk approve: %w", err)
	}

	var outcomes []model.BulkItemOutcome
	for _, p := range pending {
		if filter.ResolutionType != "" && p.ProposedAction.ResolutionType != filter.ResolutionType {
			continue
		}
		if filter.ApprovalLevel != "" && p.ApprovalLevel != filter.ApprovalLevel {
			continue
		}
		if p.ApprovedBy(actor) {
			outcomes = append(outcomes, model.BulkItemOutcome{ProposalID: p.ID, Outcome: "skipped"})
			continue
		}

		if dryRun {
			outcomes = append(outcomes, model.BulkItemOutcome{ProposalID: p.ID, Outcome: predictOutcome(p, actor)})
			continue
		}

		approved, err := s.Approve(ctx, p.ID, actor)
		switch {
		case err != nil:
			outcomes = append(outcomes, model.BulkItemOutcome{ProposalID: p.ID, Outcome: "failed", Error: err.Error()})
		case approved.Status == model.ProposalApproved:
			outcomes = append(outcomes, model.BulkItemOutcome{ProposalID: p.ID, Outcome: "succeeded"})
		default:
			outcomes = append(outcomes, model.BulkItemOutcome{ProposalID: p.ID, Outcome: "awaiting_bilateral"})
		}
	}
	return outcomes, nil
}

func predictOutcome(p model.Proposal, actor string) string {
	probe := p
	switch actor {
	case model.ActorIO:
		probe.ApprovedByIO = true
	case model.ActorEthr:
		probe.ApprovedByEthr = true
	}
	if probe.ApprovalsComplete() {
		return "succeeded"
	}
	return "awaiting_bilateral"
}

// executionRecord decodes the "executed" metadata entry. Metadata read
// back from jsonb comes as a generic map, so round-trip through JSON.
func executionRecord(p *model.Proposal) model.ExecutionRecord {
	raw, ok := p.Metadata["executed"]
	if !ok {
		return model.ExecutionRecord{}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return model.ExecutionRecord{}
	}
	var record model.ExecutionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.ExecutionRecord{}
	}
	return record
}

func deadlineString(t *time.Time) string {
	if t == nil {
		return "unset"
	}
	return t.UTC().Format(time.RFC3339)
}

// mapStoreError translates storage sentinels into coded errors at the
// service boundary; coded errors pass through untouched.
func (s *Service) mapStoreError(err error, proposalID uuid.UUID) error {
	var coded *model.Error
	if errors.As(err, &coded) {
		return coded
	}
	if errors.Is(err, storage.ErrNotFound) {
		return model.NewError(model.CodeNotFound, "proposal %s not found", proposalID)
	}
	return fmt.Errorf("smf: %w", err)
}
