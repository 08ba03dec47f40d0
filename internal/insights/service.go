// Package insights owns the write paths for L2 insights: content/metadata
// updates and soft deletion. Deletion never removes rows; the tombstone
// keeps the insight recoverable and excluded from strength lookups.
package insights

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
	Transact(ctx context.Context, fn func(ctx context.Context, m storage.Mutator) error) error
}

// Service performs insight writes, each audited in the same transaction.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Service.
func New(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// Update changes an insight's content and/or merges metadata keys. Nil
// content leaves the text untouched; nil metadata merges nothing.
func (s *Service) Update(ctx context.Context, id uuid.UUID, content *string, metadata map[string]any, actor string) (model.Insight, error) {
	actor = model.NormalizeActor(actor)
	if actor != model.ActorIO && actor != model.ActorEthr {
		return model.Insight{}, model.NewValidationError("actor", "actor must be io or ethr")
	}
	if content == nil && len(metadata) == 0 {
		return model.Insight{}, model.NewValidationError("content", "nothing to update: pass content and/or metadata")
	}

	var updated model.Insight
	err := s.store.Transact(ctx, func(ctx context.Context, m storage.Mutator) error {
		var err error
		updated, err = m.UpdateInsight(ctx, id, content, metadata)
		if err != nil {
			return err
		}
		return m.InsertAudit(ctx, model.AuditEntry{
			Actor:    actor,
			Action:   model.AuditInsightUpdate,
			TargetID: &id,
			Payload: map[string]any{
				"content_changed": content != nil,
				"metadata_keys":   keys(metadata),
			},
		})
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Insight{}, model.NewError(model.CodeNotFound, "insight %s not found or deleted", id)
		}
		return model.Insight{}, fmt.Errorf("insights: update: %w", err)
	}
	s.logger.Info("insights: updated", "insight_id", id, "actor", actor)
	return updated, nil
}

// Delete soft-deletes an insight with actor and reason recorded on the
// tombstone.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, reason, actor string) error {
	actor = model.NormalizeActor(actor)
	if actor != model.ActorIO && actor != model.ActorEthr {
		return model.NewValidationError("actor", "actor must be io or ethr")
	}
	if reason == "" {
		return model.NewValidationError("reason", "a deletion reason is required")
	}

	at := s.now().UTC()
	err := s.store.Transact(ctx, func(ctx context.Context, m storage.Mutator) error {
		if err := m.SoftDeleteInsight(ctx, id, actor, reason, at); err != nil {
			return err
		}
		return m.InsertAudit(ctx, model.AuditEntry{
			Actor:    actor,
			Action:   model.AuditInsightDelete,
			TargetID: &id,
			Payload:  map[string]any{"reason": reason},
		})
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.NewError(model.CodeNotFound, "insight %s not found or already deleted", id)
		}
		return fmt.Errorf("insights: delete: %w", err)
	}
	s.logger.Info("insights: soft-deleted", "insight_id", id, "actor", actor, "reason", reason)
	return nil
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Executor applies update_insight and delete_insight proposals inside the
// SMF approval transaction.
type Executor struct {
	logger *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(logger *slog.Logger) *Executor {
	return &Executor{logger: logger}
}

// Execute dispatches on the proposal's action name. The action's Extra bag
// carries content/metadata for updates and reason for deletions.
func (e *Executor) Execute(ctx context.Context, m storage.Mutator, p *model.Proposal) (model.ExecutionRecord, error) {
	action := p.ProposedAction
	if action.InsightID == nil {
		return model.ExecutionRecord{}, model.NewValidationError("insight_id", "insight_id is required")
	}
	actor := model.ActorSystem
	if p.ResolvedBy != nil {
		actor = *p.ResolvedBy
	}
	at := time.Now().UTC()
	if p.ResolvedAt != nil {
		at = *p.ResolvedAt
	}

	switch action.Action {
	case model.ActionUpdateInsight:
		var content *string
		if c, ok := action.Extra["content"].(string); ok {
			content = &c
		}
		metadata, _ := action.Extra["metadata"].(map[string]any)
		if _, err := m.UpdateInsight(ctx, *action.InsightID, content, metadata); err != nil {
			return model.ExecutionRecord{}, mapInsightErr(*action.InsightID, err)
		}
		err := m.InsertAudit(ctx, model.AuditEntry{
			Actor:    actor,
			Action:   model.AuditInsightUpdate,
			TargetID: action.InsightID,
			Payload:  map[string]any{"proposal_id": p.ID},
		})
		return model.ExecutionRecord{}, err

	case model.ActionDeleteInsight:
		reason, _ := action.Extra["reason"].(string)
		if reason == "" {
			reason = p.Reasoning
		}
		if err := m.SoftDeleteInsight(ctx, *action.InsightID, actor, reason, at); err != nil {
			return model.ExecutionRecord{}, mapInsightErr(*action.InsightID, err)
		}
		err := m.InsertAudit(ctx, model.AuditEntry{
			Actor:    actor,
			Action:   model.AuditInsightDelete,
			TargetID: action.InsightID,
			Payload:  map[string]any{"proposal_id": p.ID, "reason": reason},
		})
		return model.ExecutionRecord{}, err
	}
	return model.ExecutionRecord{}, model.NewError(model.CodeHandlerError, "unknown insight action %q", action.Action)
}

func mapInsightErr(id uuid.UUID, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return model.NewError(model.CodeNotFound, "insight %s not found or deleted", id)
	}
	return err
}
