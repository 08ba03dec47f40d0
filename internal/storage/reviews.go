package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ethr-ai/noema/internal/model"
)

const reviewColumns = `id, project_id, dissonance, status, reclassified_to,
	reason, created_at, reviewed_at`

func scanReview(row pgx.Row) (model.NuanceReview, error) {
	var r model.NuanceReview
	err := row.Scan(
		&r.ID, &r.ProjectID, &r.Dissonance, &r.Status, &r.ReclassifiedTo,
		&r.Reason, &r.CreatedAt, &r.ReviewedAt,
	)
	if err != nil {
		return model.NuanceReview{}, classify(err)
	}
	return r, nil
}

// InsertNuanceReview persists a pending review for a NUANCE classification.
func (db *DB) InsertNuanceReview(ctx context.Context, d model.DissonanceResult) (model.NuanceReview, error) {
	var review model.NuanceReview
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		var err error
		review, err = scanReview(tx.QueryRow(ctx, `
			INSERT INTO nuance_reviews (project_id, dissonance)
			VALUES ($1, $2)
			RETURNING `+reviewColumns,
			db.projectID, d,
		))
		return err
	})
	if err != nil {
		return model.NuanceReview{}, fmt.Errorf("storage: insert nuance review: %w", err)
	}
	return review, nil
}

// GetReview fetches a nuance review by id.
func (db *DB) GetReview(ctx context.Context, id uuid.UUID) (model.NuanceReview, error) {
	var review model.NuanceReview
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		var err error
		review, err = getReview(ctx, tx, id)
		return err
	})
	return review, err
}

func getReview(ctx context.Context, q querier, id uuid.UUID) (model.NuanceReview, error) {
	return scanReview(q.QueryRow(ctx,
		`SELECT `+reviewColumns+` FROM nuance_reviews WHERE id = $1`, id))
}

// ListPendingReviews returns reviews still awaiting confirmation, oldest
// first.
func (db *DB) ListPendingReviews(ctx context.Context) ([]model.NuanceReview, error) {
	var reviews []model.NuanceReview
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+reviewColumns+` FROM nuance_reviews
			WHERE status = $1
			ORDER BY created_at`,
			model.ReviewPending,
		)
		if err != nil {
			return classify(err)
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanReview(rows)
			if err != nil {
				return err
			}
			reviews = append(reviews, r)
		}
		return classify(rows.Err())
	})
	return reviews, err
}

func setReviewStatus(ctx context.Context, q querier, id uuid.UUID, status model.ReviewStatus, reclassifiedTo *model.DissonanceType, reason *string, at time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE nuance_reviews
		SET status = $2, reclassified_to = $3, reason = $4, reviewed_at = $5
		WHERE id = $1`,
		id, status, reclassifiedTo, reason, at,
	)
	if err != nil {
		return fmt.Errorf("storage: set review status: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
