package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ethr-ai/noema/internal/model"
)

// RelevanceScorer computes the decay-adjusted relevance of an edge.
// Implemented by memory.Scorer.
type RelevanceScorer interface {
	Score(edge model.Edge) float64
}

// QueryNeighborsParams select a neighborhood around one node.
type QueryNeighborsParams struct {
	NodeID            uuid.UUID
	Relation          string // optional filter; empty matches all relations
	Depth             int    // 1..3
	Direction         string // incoming, outgoing, both
	IncludeSuperseded bool
}

// QueryNeighbors walks the neighborhood of a node breadth-first up to the
// requested depth, annotating each neighbor with its inbound edge and the
// edge's relevance score. Superseded edges are filtered unless
// IncludeSuperseded is set.
func (db *DB) QueryNeighbors(ctx context.Context, p QueryNeighborsParams, scorer RelevanceScorer) ([]model.Neighbor, error) {
	if p.Depth < 1 || p.Depth > 3 {
		return nil, fmt.Errorf("storage: query neighbors: depth must be 1..3 (got %d)", p.Depth)
	}
	switch p.Direction {
	case "incoming", "outgoing", "both":
	default:
		return nil, fmt.Errorf("storage: query neighbors: invalid direction %q", p.Direction)
	}

	var neighbors []model.Neighbor
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		visited := map[uuid.UUID]bool{p.NodeID: true}
		frontier := []uuid.UUID{p.NodeID}

		for depth := 1; depth <= p.Depth && len(frontier) > 0; depth++ {
			var next []uuid.UUID
			for _, nodeID := range frontier {
				found, err := db.neighborsOf(ctx, tx, nodeID, p, depth, scorer, visited)
				if err != nil {
					return err
				}
				for _, n := range found {
					neighbors = append(neighbors, n)
					next = append(next, n.Node.ID)
				}
			}
			frontier = next
		}
		return nil
	})
	return neighbors, err
}

func (db *DB) neighborsOf(ctx context.Context, tx pgx.Tx, nodeID uuid.UUID, p QueryNeighborsParams, depth int, scorer RelevanceScorer, visited map[uuid.UUID]bool) ([]model.Neighbor, error) {
	query := `
		SELECT ` + prefixedEdgeColumns("e") + `, ` + prefixedNodeColumns("n") + `,
		       CASE WHEN e.source_id = $1 THEN 'outgoing' ELSE 'incoming' END AS direction
		FROM edges e
		JOIN nodes n ON n.id = CASE WHEN e.source_id = $1 THEN e.target_id ELSE e.source_id END
		WHERE `
	switch p.Direction {
	case "outgoing":
		query += `e.source_id = $1`
	case "incoming":
		query += `e.target_id = $1`
	default:
		query += `(e.source_id = $1 OR e.target_id = $1)`
	}
	args := []any{nodeID}
	if p.Relation != "" {
		query += ` AND e.relation = $2`
		args = append(args, p.Relation)
	}
	query += ` ORDER BY e.modified_at DESC`

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.Neighbor
	for rows.Next() {
		var e model.Edge
		var n model.Node
		var direction string
		if err := rows.Scan(
			&e.ID, &e.ProjectID, &e.SourceID, &e.TargetID, &e.Relation, &e.Weight,
			&e.Properties, &e.MemorySector, &e.CreatedAt, &e.ModifiedAt,
			&e.LastAccessed, &e.LastEngaged, &e.AccessCount,
			&n.ID, &n.ProjectID, &n.Name, &n.Label, &n.Properties, &n.VectorID, &n.CreatedAt,
			&direction,
		); err != nil {
			return nil, classify(err)
		}
		if !p.IncludeSuperseded && e.IsSuperseded() {
			continue
		}
		if visited[n.ID] {
			continue
		}
		visited[n.ID] = true
		out = append(out, model.Neighbor{
			Node:           n,
			Edge:           e,
			Direction:      direction,
			Depth:          depth,
			RelevanceScore: scorer.Score(e),
		})
	}
	return out, classify(rows.Err())
}

func prefixedNodeColumns(alias string) string {
	return alias + `.id, ` + alias + `.project_id, ` + alias + `.name, ` +
		alias + `.label, ` + alias + `.properties, ` + alias + `.vector_id, ` +
		alias + `.created_at`
}
