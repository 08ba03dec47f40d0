package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actor identifiers. "io" and "ethr" are the two principals of the bilateral
// consent model; "system" appears only as a rejection actor.
const (
	ActorIO     = "io"
	ActorEthr   = "ethr"
	ActorSystem = "system"
)

// NormalizeActor maps external spellings ("I/O", "Ethr") onto the canonical
// actor identifiers. Returns "" for anything outside the closed set.
func NormalizeActor(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "io", "i/o":
		return ActorIO
	case "ethr":
		return ActorEthr
	case "system":
		return ActorSystem
	}
	return ""
}

// TriggerType records what initiated a proposal.
type TriggerType string

const (
	TriggerDissonance TriggerType = "DISSONANCE"
	TriggerManual     TriggerType = "MANUAL"
	TriggerProactive  TriggerType = "PROACTIVE"
)

// ApprovalLevel is the consent requirement of a proposal.
type ApprovalLevel string

const (
	ApprovalIO        ApprovalLevel = "IO"
	ApprovalBilateral ApprovalLevel = "BILATERAL"
)

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "PENDING"
	ProposalApproved ProposalStatus = "APPROVED"
	ProposalRejected ProposalStatus = "REJECTED"
	ProposalUndone   ProposalStatus = "UNDONE"
)

// Known proposed-action names. Anything naming a safeguard is rejected
// before persistence.
const (
	ActionResolveDissonance = "resolve_dissonance"
	ActionReclassify        = "reclassify"
	ActionReclassifySector  = "reclassify_sector"
	ActionUpdateInsight     = "update_insight"
	ActionDeleteInsight     = "delete_insight"
)

// ProposedAction is the typed part of a proposal's action payload. Fields
// that only some actions use are omitted from JSON when empty; Extra keeps
// the open remainder of the property bag.
type ProposedAction struct {
	Action         string         `json:"action"`
	ResolutionType DissonanceType `json:"resolution_type,omitempty"`
	EdgeAID        *uuid.UUID     `json:"edge_a_id,omitempty"`
	EdgeBID        *uuid.UUID     `json:"edge_b_id,omitempty"`
	Context        string         `json:"context,omitempty"`
	ReviewID       *uuid.UUID     `json:"review_id,omitempty"`
	NewSector      Sector         `json:"new_sector,omitempty"`
	InsightID      *uuid.UUID     `json:"insight_id,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Proposal is the gatekeeping artifact for every structural change.
type Proposal struct {
	ID             uuid.UUID      `json:"id"`
	ProjectID      uuid.UUID      `json:"project_id"`
	TriggerType    TriggerType    `json:"trigger_type"`
	ProposedAction ProposedAction `json:"proposed_action"`
	AffectedEdges  []uuid.UUID    `json:"affected_edges"`
	Reasoning      string         `json:"reasoning"`
	ApprovalLevel  ApprovalLevel  `json:"approval_level"`
	Status         ProposalStatus `json:"status"`
	ApprovedByIO   bool           `json:"approved_by_io"`
	ApprovedByEthr bool           `json:"approved_by_ethr"`
	CreatedAt      time.Time      `json:"created_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy     *string        `json:"resolved_by,omitempty"`
	UndoDeadline   *time.Time     `json:"undo_deadline,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ApprovedBy reports whether the given actor has already approved.
func (p Proposal) ApprovedBy(actor string) bool {
	switch actor {
	case ActorIO:
		return p.ApprovedByIO
	case ActorEthr:
		return p.ApprovedByEthr
	}
	return false
}

// ApprovalsComplete reports whether the proposal has every approval its
// level requires.
func (p Proposal) ApprovalsComplete() bool {
	if p.ApprovalLevel == ApprovalBilateral {
		return p.ApprovedByIO && p.ApprovedByEthr
	}
	return p.ApprovedByIO
}

// ExecutionRecord captures what an approved proposal actually changed, so
// undo can reverse exactly those effects. Stored in proposal metadata under
// the "executed" key.
type ExecutionRecord struct {
	ResolutionNodeID  *uuid.UUID        `json:"resolution_node_id,omitempty"`
	ResolutionEdgeIDs []uuid.UUID       `json:"resolution_edge_ids,omitempty"`
	SupersededEdgeIDs []uuid.UUID       `json:"superseded_edge_ids,omitempty"`
	Reclassified      *Reclassification `json:"reclassified,omitempty"`
	ReclassifiedEdge  *uuid.UUID        `json:"reclassified_edge,omitempty"`
}

// BulkItemOutcome is the per-proposal result of a bulk approval.
type BulkItemOutcome struct {
	ProposalID uuid.UUID `json:"proposal_id"`
	Outcome    string    `json:"outcome"` // succeeded, awaiting_bilateral, skipped, failed
	Error      string    `json:"error,omitempty"`
}
