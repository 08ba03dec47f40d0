package model

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions written by the core. Every mutating operation emits exactly
// one entry.
const (
	AuditSMFPropose     = "SMF_PROPOSE"
	AuditSMFApprove     = "SMF_APPROVE"
	AuditSMFReject      = "SMF_REJECT"
	AuditSMFUndo        = "SMF_UNDO"
	AuditEdgeReclassify = "EDGE_RECLASSIFY"
	AuditEdgeSupersede  = "EDGE_SUPERSEDE"
	AuditResolution     = "RESOLUTION_CREATE"
	AuditInsightUpdate  = "INSIGHT_UPDATE"
	AuditInsightDelete  = "INSIGHT_DELETE"
)

// AuditEntry is one append-only record of a mutating action.
type AuditEntry struct {
	ID        int64          `json:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	TargetID  *uuid.UUID     `json:"target_id,omitempty"`
	ProjectID uuid.UUID      `json:"project_id"`
	Payload   map[string]any `json:"payload,omitempty"`
}
