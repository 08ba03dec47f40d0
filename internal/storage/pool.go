// Package storage provides the PostgreSQL persistence layer for the Noema
// knowledge graph.
//
// It manages connection pooling via pgxpool, registers pgvector types for
// the insight embedding column, and scopes every query to the caller's
// project through a transaction-local session setting consumed by the
// row-level security policies. All public methods open their own
// transaction; composite mutations go through Transact, which exposes the
// Mutator surface so business packages get all-or-nothing semantics.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// DB wraps a pgxpool.Pool bound to one project identity.
type DB struct {
	pool      *pgxpool.Pool
	projectID uuid.UUID
	logger    *slog.Logger
}

// New creates a new DB with a connection pool scoped to projectID.
func New(ctx context.Context, dsn string, projectID uuid.UUID, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	// Register pgvector types on each new connection. Best-effort: the
	// extension may not exist before migrations run; later connections
	// succeed once it does.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			logger.Debug("storage: pgvector types not registered (extension may not exist yet)", "error", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, projectID: projectID, logger: logger}, nil
}

// Pool returns the underlying connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// ProjectID returns the project identity this DB is scoped to.
func (db *DB) ProjectID() uuid.UUID {
	return db.projectID
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// withProject runs fn inside a transaction whose project context has been
// established. set_project_context uses a transaction-local setting, so the
// connection returns to the pool clean.
func (db *DB) withProject(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT set_project_context($1)`, db.projectID); err != nil {
		return fmt.Errorf("storage: set project context: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

// Transact runs fn against the transactional mutation surface. Everything a
// single fn performs commits or rolls back as a unit, audit entries included.
func (db *DB) Transact(ctx context.Context, fn func(ctx context.Context, m Mutator) error) error {
	return db.withProject(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &txMutator{db: db, tx: tx})
	})
}
