package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ethr-ai/noema/internal/model"
)

const insightColumns = `id, project_id, content, embedding, source_ids,
	memory_strength, metadata, is_deleted, deleted_at, deleted_by,
	deleted_reason, created_at`

func scanInsight(row pgx.Row) (model.Insight, error) {
	var i model.Insight
	err := row.Scan(
		&i.ID, &i.ProjectID, &i.Content, &i.Embedding, &i.SourceIDs,
		&i.MemoryStrength, &i.Metadata, &i.IsDeleted, &i.DeletedAt, &i.DeletedBy,
		&i.DeletedReason, &i.CreatedAt,
	)
	if err != nil {
		return model.Insight{}, classify(err)
	}
	return i, nil
}

// GetInsight fetches an insight by id, deleted or not.
func (db *DB) GetInsight(ctx context.Context, id uuid.UUID) (model.Insight, error) {
	var insight model.Insight
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		var err error
		insight, err = getInsight(ctx, tx, id)
		return err
	})
	return insight, err
}

func getInsight(ctx context.Context, q querier, id uuid.UUID) (model.Insight, error) {
	return scanInsight(q.QueryRow(ctx,
		`SELECT `+insightColumns+` FROM l2_insights WHERE id = $1`, id))
}

// MemoryStrengthForEdge looks up the strength of the strongest live insight
// whose content mentions both endpoint names. Best-effort: any failure or
// miss returns nil, never an error, so dissonance checks degrade gracefully.
func (db *DB) MemoryStrengthForEdge(ctx context.Context, sourceName, targetName string) *float64 {
	var strength *float64
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		var s float64
		err := tx.QueryRow(ctx, `
			SELECT memory_strength FROM l2_insights
			WHERE is_deleted = false
			  AND content ILIKE '%' || $1 || '%'
			  AND content ILIKE '%' || $2 || '%'
			ORDER BY memory_strength DESC
			LIMIT 1`,
			sourceName, targetName,
		).Scan(&s)
		if err != nil {
			return err
		}
		strength = &s
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		db.logger.Debug("storage: memory strength lookup failed",
			"source", sourceName, "target", targetName, "error", err)
	}
	return strength
}

func updateInsight(ctx context.Context, q querier, id uuid.UUID, content *string, metadata map[string]any) (model.Insight, error) {
	row := q.QueryRow(ctx, `
		UPDATE l2_insights
		SET content  = COALESCE($2, content),
		    metadata = CASE WHEN $3::jsonb IS NULL THEN metadata ELSE metadata || $3::jsonb END
		WHERE id = $1 AND is_deleted = false
		RETURNING `+insightColumns,
		id, content, metadata,
	)
	i, err := scanInsight(row)
	if err != nil {
		return model.Insight{}, fmt.Errorf("storage: update insight: %w", err)
	}
	return i, nil
}

func softDeleteInsight(ctx context.Context, q querier, id uuid.UUID, actor, reason string, at time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE l2_insights
		SET is_deleted = true, deleted_at = $2, deleted_by = $3, deleted_reason = $4
		WHERE id = $1 AND is_deleted = false`,
		id, at, actor, reason,
	)
	if err != nil {
		return fmt.Errorf("storage: soft delete insight: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
