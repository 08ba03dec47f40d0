package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors surfaced by the storage layer. Business packages map
// these onto the tool-boundary error taxonomy.
var (
	// ErrNotFound is returned when a requested entity does not exist in
	// the caller's project. Rows hidden by row-level security are
	// indistinguishable from absent rows.
	ErrNotFound = errors.New("storage: not found")

	// ErrUniqueViolation is returned when an insert collides with the
	// (project, source, target, relation) or (project, name) uniqueness.
	ErrUniqueViolation = errors.New("storage: unique violation")

	// ErrProjectViolation is returned when a write targets a row outside
	// the session project (RLS WITH CHECK rejection).
	ErrProjectViolation = errors.New("storage: project violation")
)

// classify maps pgx errors onto the storage sentinels, wrapping the
// original for diagnostics. Unknown errors pass through as store errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrUniqueViolation, pgErr.ConstraintName)
		case "42501": // insufficient_privilege: RLS WITH CHECK rejected the row
			return fmt.Errorf("%w: %s", ErrProjectViolation, pgErr.Message)
		}
	}
	return err
}
