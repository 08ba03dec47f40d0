package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ethr-ai/noema/internal/model"
)

// Mutator is the mutation surface handed to business code inside a single
// transaction. Resolution emission, SMF execution, reclassification, and the
// insight write tools compose their effects through it, so a failure at any
// step rolls back everything including the audit entry. Unit tests implement
// it in memory.
type Mutator interface {
	AddNode(ctx context.Context, name, label string, properties map[string]any) (model.Node, error)
	AddEdge(ctx context.Context, p AddEdgeParams) (model.Edge, error)
	GetEdge(ctx context.Context, id uuid.UUID) (model.Edge, error)
	SetEdgeProperties(ctx context.Context, id uuid.UUID, merge map[string]any) error
	SetEdgeSector(ctx context.Context, id uuid.UUID, sector model.Sector, stamp model.Reclassification) error

	// MarkSuperseded stamps the edge as superseded by the named resolution.
	// Returns false when the edge no longer exists.
	MarkSuperseded(ctx context.Context, id uuid.UUID, by string, at time.Time) (bool, error)
	ClearSuperseded(ctx context.Context, id uuid.UUID) error

	// OrphanResolutionEdges stamps resolution edges orphaned=true on undo.
	// Nothing is deleted; the stamp excludes them from interpretation.
	OrphanResolutionEdges(ctx context.Context, edgeIDs []uuid.UUID) error

	GetReview(ctx context.Context, id uuid.UUID) (model.NuanceReview, error)
	SetReviewStatus(ctx context.Context, id uuid.UUID, status model.ReviewStatus, reclassifiedTo *model.DissonanceType, reason *string, at time.Time) error

	GetInsight(ctx context.Context, id uuid.UUID) (model.Insight, error)
	UpdateInsight(ctx context.Context, id uuid.UUID, content *string, metadata map[string]any) (model.Insight, error)
	SoftDeleteInsight(ctx context.Context, id uuid.UUID, actor, reason string, at time.Time) error

	InsertAudit(ctx context.Context, entry model.AuditEntry) error
}

// txMutator implements Mutator over one project-scoped pgx transaction.
type txMutator struct {
	db *DB
	tx pgx.Tx
}

var _ Mutator = (*txMutator)(nil)

func (m *txMutator) AddNode(ctx context.Context, name, label string, properties map[string]any) (model.Node, error) {
	return addNode(ctx, m.tx, m.db.projectID, name, label, properties)
}

func (m *txMutator) AddEdge(ctx context.Context, p AddEdgeParams) (model.Edge, error) {
	return addEdge(ctx, m.tx, m.db.projectID, p, m.db.logger)
}

func (m *txMutator) GetEdge(ctx context.Context, id uuid.UUID) (model.Edge, error) {
	return getEdge(ctx, m.tx, id)
}

func (m *txMutator) SetEdgeProperties(ctx context.Context, id uuid.UUID, merge map[string]any) error {
	return setEdgeProperties(ctx, m.tx, id, merge)
}

func (m *txMutator) SetEdgeSector(ctx context.Context, id uuid.UUID, sector model.Sector, stamp model.Reclassification) error {
	return setEdgeSector(ctx, m.tx, id, sector, stamp)
}

func (m *txMutator) MarkSuperseded(ctx context.Context, id uuid.UUID, by string, at time.Time) (bool, error) {
	return markSuperseded(ctx, m.tx, id, by, at)
}

func (m *txMutator) ClearSuperseded(ctx context.Context, id uuid.UUID) error {
	return clearSuperseded(ctx, m.tx, id)
}

func (m *txMutator) OrphanResolutionEdges(ctx context.Context, edgeIDs []uuid.UUID) error {
	if len(edgeIDs) == 0 {
		return nil
	}
	_, err := m.tx.Exec(ctx, `
		UPDATE edges
		SET properties = properties || jsonb_build_object('orphaned', true),
		    modified_at = now()
		WHERE id = ANY($1)`,
		edgeIDs,
	)
	if err != nil {
		return fmt.Errorf("storage: orphan resolution edges: %w", classify(err))
	}
	return nil
}

func (m *txMutator) GetReview(ctx context.Context, id uuid.UUID) (model.NuanceReview, error) {
	return getReview(ctx, m.tx, id)
}

func (m *txMutator) SetReviewStatus(ctx context.Context, id uuid.UUID, status model.ReviewStatus, reclassifiedTo *model.DissonanceType, reason *string, at time.Time) error {
	return setReviewStatus(ctx, m.tx, id, status, reclassifiedTo, reason, at)
}

func (m *txMutator) GetInsight(ctx context.Context, id uuid.UUID) (model.Insight, error) {
	return getInsight(ctx, m.tx, id)
}

func (m *txMutator) UpdateInsight(ctx context.Context, id uuid.UUID, content *string, metadata map[string]any) (model.Insight, error) {
	return updateInsight(ctx, m.tx, id, content, metadata)
}

func (m *txMutator) SoftDeleteInsight(ctx context.Context, id uuid.UUID, actor, reason string, at time.Time) error {
	return softDeleteInsight(ctx, m.tx, id, actor, reason, at)
}

func (m *txMutator) InsertAudit(ctx context.Context, entry model.AuditEntry) error {
	return insertAudit(ctx, m.tx, m.db.projectID, entry)
}
