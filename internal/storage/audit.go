package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ethr-ai/noema/internal/model"
)

// InsertAudit appends one audit entry outside any business transaction.
// Mutations that change graph state write their entry through the Mutator
// instead, so the entry commits with the change.
func (db *DB) InsertAudit(ctx context.Context, entry model.AuditEntry) error {
	return db.withProject(ctx, func(tx pgx.Tx) error {
		return insertAudit(ctx, tx, db.projectID, entry)
	})
}

func insertAudit(ctx context.Context, q querier, projectID uuid.UUID, entry model.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Payload == nil {
		entry.Payload = map[string]any{}
	}
	_, err := q.Exec(ctx, `
		INSERT INTO audit_log (timestamp, actor, action, target_id, project_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Timestamp, entry.Actor, entry.Action, entry.TargetID, projectID, entry.Payload,
	)
	if err != nil {
		return fmt.Errorf("storage: insert audit %s: %w", entry.Action, classify(err))
	}
	return nil
}

// ListAudit returns the most recent audit entries for the project, newest
// first, capped at limit.
func (db *DB) ListAudit(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []model.AuditEntry
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, timestamp, actor, action, target_id, project_id, payload
			FROM audit_log
			ORDER BY timestamp DESC
			LIMIT $1`,
			limit,
		)
		if err != nil {
			return classify(err)
		}
		defer rows.Close()
		for rows.Next() {
			var e model.AuditEntry
			if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action,
				&e.TargetID, &e.ProjectID, &e.Payload); err != nil {
				return classify(err)
			}
			entries = append(entries, e)
		}
		return classify(rows.Err())
	})
	return entries, err
}
