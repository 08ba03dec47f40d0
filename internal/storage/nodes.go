package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ethr-ai/noema/internal/model"
)

// AddNode inserts a node, idempotent on (project, name): an existing node is
// returned with its label and properties refreshed.
func (db *DB) AddNode(ctx context.Context, name, label string, properties map[string]any) (model.Node, error) {
	var node model.Node
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		var err error
		node, err = addNode(ctx, tx, db.projectID, name, label, properties)
		return err
	})
	return node, err
}

func addNode(ctx context.Context, q querier, projectID uuid.UUID, name, label string, properties map[string]any) (model.Node, error) {
	if properties == nil {
		properties = map[string]any{}
	}
	row := q.QueryRow(ctx, `
		INSERT INTO nodes (project_id, name, label, properties)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, name) DO UPDATE
		SET label = EXCLUDED.label,
		    properties = nodes.properties || EXCLUDED.properties
		RETURNING `+nodeColumns,
		projectID, name, label, properties,
	)
	n, err := scanNode(row)
	if err != nil {
		return model.Node{}, fmt.Errorf("storage: add node %q: %w", name, err)
	}
	return n, nil
}

// GetNode fetches a node by id within the session project.
func (db *DB) GetNode(ctx context.Context, id uuid.UUID) (model.Node, error) {
	var node model.Node
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		var err error
		node, err = scanNode(tx.QueryRow(ctx,
			`SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id))
		return err
	})
	return node, err
}

// GetNodeByName fetches a node by its unique per-project name.
func (db *DB) GetNodeByName(ctx context.Context, name string) (model.Node, error) {
	var node model.Node
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		var err error
		node, err = scanNode(tx.QueryRow(ctx,
			`SELECT `+nodeColumns+` FROM nodes WHERE name = $1`, name))
		return err
	})
	return node, err
}

// ResolveNode resolves a node reference that may be a UUID or a name.
func (db *DB) ResolveNode(ctx context.Context, ref string) (model.Node, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return db.GetNode(ctx, id)
	}
	return db.GetNodeByName(ctx, ref)
}
