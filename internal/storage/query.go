package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ethr-ai/noema/internal/model"
)

// querier is the subset of pgx.Tx the query helpers need. Every helper runs
// inside a project-scoped transaction opened by withProject or Transact.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const edgeColumns = `id, project_id, source_id, target_id, relation, weight,
	properties, memory_sector, created_at, modified_at, last_accessed,
	last_engaged, access_count`

func scanEdge(row pgx.Row) (model.Edge, error) {
	var e model.Edge
	err := row.Scan(
		&e.ID, &e.ProjectID, &e.SourceID, &e.TargetID, &e.Relation, &e.Weight,
		&e.Properties, &e.MemorySector, &e.CreatedAt, &e.ModifiedAt,
		&e.LastAccessed, &e.LastEngaged, &e.AccessCount,
	)
	if err != nil {
		return model.Edge{}, classify(err)
	}
	return e, nil
}

func collectEdges(rows pgx.Rows) ([]model.Edge, error) {
	defer rows.Close()
	var edges []model.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, classify(rows.Err())
}

const nodeColumns = `id, project_id, name, label, properties, vector_id, created_at`

func scanNode(row pgx.Row) (model.Node, error) {
	var n model.Node
	err := row.Scan(&n.ID, &n.ProjectID, &n.Name, &n.Label, &n.Properties, &n.VectorID, &n.CreatedAt)
	if err != nil {
		return model.Node{}, classify(err)
	}
	return n, nil
}
