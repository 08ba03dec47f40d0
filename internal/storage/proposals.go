package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ethr-ai/noema/internal/model"
)

const proposalColumns = `id, project_id, trigger_type, proposed_action,
	affected_edges, reasoning, approval_level, status, approved_by_io,
	approved_by_ethr, created_at, resolved_at, resolved_by, undo_deadline,
	metadata`

func scanProposal(row pgx.Row) (model.Proposal, error) {
	var p model.Proposal
	err := row.Scan(
		&p.ID, &p.ProjectID, &p.TriggerType, &p.ProposedAction,
		&p.AffectedEdges, &p.Reasoning, &p.ApprovalLevel, &p.Status,
		&p.ApprovedByIO, &p.ApprovedByEthr, &p.CreatedAt, &p.ResolvedAt,
		&p.ResolvedBy, &p.UndoDeadline, &p.Metadata,
	)
	if err != nil {
		return model.Proposal{}, classify(err)
	}
	return p, nil
}

// InsertProposal persists a new pending proposal together with its audit
// entry, atomically.
func (db *DB) InsertProposal(ctx context.Context, p model.Proposal, audit model.AuditEntry) (model.Proposal, error) {
	var out model.Proposal
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = scanProposal(tx.QueryRow(ctx, `
			INSERT INTO smf_proposals
				(project_id, trigger_type, proposed_action, affected_edges,
				 reasoning, approval_level, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+proposalColumns,
			db.projectID, p.TriggerType, p.ProposedAction, p.AffectedEdges,
			p.Reasoning, p.ApprovalLevel, p.Metadata,
		))
		if err != nil {
			return err
		}
		audit.TargetID = &out.ID
		return insertAudit(ctx, tx, db.projectID, audit)
	})
	if err != nil {
		return model.Proposal{}, fmt.Errorf("storage: insert proposal: %w", err)
	}
	return out, nil
}

// GetProposal fetches a proposal by id.
func (db *DB) GetProposal(ctx context.Context, id uuid.UUID) (model.Proposal, error) {
	var proposal model.Proposal
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		var err error
		proposal, err = scanProposal(tx.QueryRow(ctx,
			`SELECT `+proposalColumns+` FROM smf_proposals WHERE id = $1`, id))
		return err
	})
	return proposal, err
}

// ListPendingProposals returns proposals awaiting approval, oldest first.
func (db *DB) ListPendingProposals(ctx context.Context) ([]model.Proposal, error) {
	var proposals []model.Proposal
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+proposalColumns+` FROM smf_proposals
			WHERE status = $1
			ORDER BY created_at`,
			model.ProposalPending,
		)
		if err != nil {
			return classify(err)
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanProposal(rows)
			if err != nil {
				return err
			}
			proposals = append(proposals, p)
		}
		return classify(rows.Err())
	})
	return proposals, err
}

// ListApprovedProposals returns approved proposals, newest first. The
// reclassification consent check scans these for a matching bilateral
// approval.
func (db *DB) ListApprovedProposals(ctx context.Context) ([]model.Proposal, error) {
	var proposals []model.Proposal
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+proposalColumns+` FROM smf_proposals
			WHERE status = $1
			ORDER BY resolved_at DESC`,
			model.ProposalApproved,
		)
		if err != nil {
			return classify(err)
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanProposal(rows)
			if err != nil {
				return err
			}
			proposals = append(proposals, p)
		}
		return classify(rows.Err())
	})
	return proposals, err
}

// UpdateProposal locks the proposal row, hands the current state to fn
// together with the transactional mutation surface, then writes the mutated
// proposal back. Everything fn does commits with the status change or not at
// all. This is the backbone of approve, reject, and undo.
func (db *DB) UpdateProposal(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, m Mutator, p *model.Proposal) error) (model.Proposal, error) {
	var out model.Proposal
	err := db.withProject(ctx, func(tx pgx.Tx) error {
		p, err := scanProposal(tx.QueryRow(ctx,
			`SELECT `+proposalColumns+` FROM smf_proposals WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(ctx, &txMutator{db: db, tx: tx}, &p); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE smf_proposals
			SET status = $2, approved_by_io = $3, approved_by_ethr = $4,
			    resolved_at = $5, resolved_by = $6, undo_deadline = $7,
			    metadata = $8
			WHERE id = $1`,
			p.ID, p.Status, p.ApprovedByIO, p.ApprovedByEthr,
			p.ResolvedAt, p.ResolvedBy, p.UndoDeadline, p.Metadata,
		)
		if err != nil {
			return classify(err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		out = p
		return nil
	})
	return out, err
}
