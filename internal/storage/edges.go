package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ethr-ai/noema/internal/memory"
	"github.com/ethr-ai/noema/internal/model"
)

// recentWindow bounds the "recent" edge fetch scope.
const recentWindow = 30 * 24 * time.Hour

// AddEdgeParams are the inputs for creating an edge. When Sector is empty
// the rule-based classifier assigns one from the relation and properties.
type AddEdgeParams struct {
	SourceID   uuid.UUID
	TargetID   uuid.UUID
	Relation   string
	Weight     float64
	Properties map[string]any
	Sector     model.Sector
}

// AddEdge inserts a directed edge, unique per (project, source, target,
// relation). Returns ErrUniqueViolation when the edge already exists.
func (db *DB) AddEdge(ctx context.Context, p AddEdgeParams) (model.Edge, error) {
	var edge model.Edge
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		var err error
		edge, err = addEdge(ctx, tx, db.projectID, p, db.logger)
		return err
	})
	return edge, err
}

func addEdge(ctx context.Context, q querier, projectID uuid.UUID, p AddEdgeParams, logger *slog.Logger) (model.Edge, error) {
	if p.Properties == nil {
		p.Properties = map[string]any{}
	}
	sector := p.Sector
	if sector == "" {
		var rule memory.Rule
		sector, rule = memory.Classify(p.Relation, p.Properties)
		logger.Debug("sector classified", "relation", p.Relation, "sector", sector, "rule_matched", rule)
	}
	if !sector.Valid() {
		return model.Edge{}, fmt.Errorf("storage: add edge: invalid sector %q", sector)
	}

	row := q.QueryRow(ctx, `
		INSERT INTO edges (project_id, source_id, target_id, relation, weight, properties, memory_sector)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+edgeColumns,
		projectID, p.SourceID, p.TargetID, p.Relation, p.Weight, p.Properties, sector,
	)
	e, err := scanEdge(row)
	if err != nil {
		return model.Edge{}, fmt.Errorf("storage: add edge %s: %w", p.Relation, err)
	}
	return e, nil
}

// GetEdge fetches an edge by id within the session project.
func (db *DB) GetEdge(ctx context.Context, id uuid.UUID) (model.Edge, error) {
	var edge model.Edge
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		var err error
		edge, err = getEdge(ctx, tx, id)
		return err
	})
	return edge, err
}

func getEdge(ctx context.Context, q querier, id uuid.UUID) (model.Edge, error) {
	return scanEdge(q.QueryRow(ctx, `SELECT `+edgeColumns+` FROM edges WHERE id = $1`, id))
}

// FetchEdgesForNode returns all edges touching the node as source or
// target, newest modification first. The recent scope keeps only edges
// modified, accessed, or created within the last 30 days.
func (db *DB) FetchEdgesForNode(ctx context.Context, nodeID uuid.UUID, scope model.CheckScope) ([]model.Edge, error) {
	query := `SELECT ` + edgeColumns + ` FROM edges WHERE (source_id = $1 OR target_id = $1)`
	args := []any{nodeID}
	if scope == model.ScopeRecent {
		query += ` AND (modified_at >= $2 OR last_accessed >= $2 OR created_at >= $2)`
		args = append(args, time.Now().UTC().Add(-recentWindow))
	}
	query += ` ORDER BY modified_at DESC`

	var edges []model.Edge
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return classify(err)
		}
		edges, err = collectEdges(rows)
		return err
	})
	return edges, err
}

// FindEdges returns every edge matching (source name, target name,
// relation), used by reclassification to resolve an edge reference.
func (db *DB) FindEdges(ctx context.Context, sourceName, targetName, relation string) ([]model.Edge, error) {
	var edges []model.Edge
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+prefixedEdgeColumns("e")+`
			FROM edges e
			JOIN nodes s ON s.id = e.source_id
			JOIN nodes t ON t.id = e.target_id
			WHERE s.name = $1 AND t.name = $2 AND e.relation = $3
			ORDER BY e.created_at`,
			sourceName, targetName, relation,
		)
		if err != nil {
			return classify(err)
		}
		edges, err = collectEdges(rows)
		return err
	})
	return edges, err
}

func prefixedEdgeColumns(alias string) string {
	return alias + `.id, ` + alias + `.project_id, ` + alias + `.source_id, ` +
		alias + `.target_id, ` + alias + `.relation, ` + alias + `.weight, ` +
		alias + `.properties, ` + alias + `.memory_sector, ` + alias + `.created_at, ` +
		alias + `.modified_at, ` + alias + `.last_accessed, ` + alias + `.last_engaged, ` +
		alias + `.access_count`
}

// SetEdgeProperties merges the given keys into the edge's property bag and
// bumps modified_at, transactionally.
func (db *DB) SetEdgeProperties(ctx context.Context, id uuid.UUID, merge map[string]any) error {
	return db.withProject(ctx, func(tx pgx.Tx) error {
		return setEdgeProperties(ctx, tx, id, merge)
	})
}

func setEdgeProperties(ctx context.Context, q querier, id uuid.UUID, merge map[string]any) error {
	tag, err := q.Exec(ctx, `
		UPDATE edges
		SET properties = properties || $2::jsonb, modified_at = now()
		WHERE id = $1`,
		id, merge,
	)
	if err != nil {
		return fmt.Errorf("storage: set edge properties: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func setEdgeSector(ctx context.Context, q querier, id uuid.UUID, sector model.Sector, stamp model.Reclassification) error {
	stampJSON, err := json.Marshal(stamp)
	if err != nil {
		return fmt.Errorf("storage: marshal reclassification stamp: %w", err)
	}
	tag, err := q.Exec(ctx, `
		UPDATE edges
		SET memory_sector = $2,
		    properties = properties || jsonb_build_object('last_reclassification', $3::jsonb),
		    modified_at = now()
		WHERE id = $1`,
		id, sector, stampJSON,
	)
	if err != nil {
		return fmt.Errorf("storage: set edge sector: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func markSuperseded(ctx context.Context, q querier, id uuid.UUID, by string, at time.Time) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE edges
		SET properties = properties || jsonb_build_object(
			'superseded', true,
			'superseded_at', $3::timestamptz,
			'superseded_by', $2::text
		), modified_at = now()
		WHERE id = $1`,
		id, by, at,
	)
	if err != nil {
		return false, fmt.Errorf("storage: mark superseded: %w", classify(err))
	}
	return tag.RowsAffected() > 0, nil
}

func clearSuperseded(ctx context.Context, q querier, id uuid.UUID) error {
	_, err := q.Exec(ctx, `
		UPDATE edges
		SET properties = properties - 'superseded' - 'superseded_at' - 'superseded_by',
		    modified_at = now()
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("storage: clear superseded: %w", classify(err))
	}
	return nil
}

// TouchEdges bumps access_count and engagement timestamps for the given
// edges. Callers fire this after neighborhood reads; failures are logged,
// never surfaced.
func (db *DB) TouchEdges(ctx context.Context, ids []uuid.UUID) {
	if len(ids) == 0 {
		return
	}
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE edges
			SET access_count = access_count + 1,
			    last_engaged = now(),
			    last_accessed = now()
			WHERE id = ANY($1)`,
			ids,
		)
		return err
	})
	if err != nil {
		db.logger.Debug("storage: touch edges failed", "count", len(ids), "error", err)
	}
}
