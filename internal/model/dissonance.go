package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DissonanceType classifies the relationship between two edges touching the
// same node.
type DissonanceType string

const (
	DissonanceEvolution     DissonanceType = "EVOLUTION"
	DissonanceContradiction DissonanceType = "CONTRADICTION"
	DissonanceNuance        DissonanceType = "NUANCE"
	DissonanceNone          DissonanceType = "NONE"
)

// ParseDissonanceType case-normalizes a classifier answer into the closed
// type set. Unknown values return NONE and false.
func ParseDissonanceType(s string) (DissonanceType, bool) {
	switch DissonanceType(strings.ToUpper(strings.TrimSpace(s))) {
	case DissonanceEvolution:
		return DissonanceEvolution, true
	case DissonanceContradiction:
		return DissonanceContradiction, true
	case DissonanceNuance:
		return DissonanceNuance, true
	case DissonanceNone:
		return DissonanceNone, true
	}
	return DissonanceNone, false
}

// DissonanceResult is one classified edge pair. Strengths are best-effort
// lookups from linked insights; AuthoritativeSource is the edge with the
// higher strength when both are known.
type DissonanceResult struct {
	EdgeAID             uuid.UUID      `json:"edge_a_id"`
	EdgeBID             uuid.UUID      `json:"edge_b_id"`
	Type                DissonanceType `json:"type"`
	Confidence          float64        `json:"confidence"`
	Description         string         `json:"description"`
	Context             string         `json:"context,omitempty"`
	EdgeAStrength       *float64       `json:"edge_a_strength,omitempty"`
	EdgeBStrength       *float64       `json:"edge_b_strength,omitempty"`
	AuthoritativeSource *uuid.UUID     `json:"authoritative_source,omitempty"`
}

// ReviewStatus is the lifecycle state of a nuance review.
type ReviewStatus string

const (
	ReviewPending      ReviewStatus = "PENDING"
	ReviewConfirmed    ReviewStatus = "CONFIRMED"
	ReviewReclassified ReviewStatus = "RECLASSIFIED"
)

// NuanceReview is the durable intent to confirm (or reclassify) a NUANCE
// classification. Reviewed exactly once.
type NuanceReview struct {
	ID             uuid.UUID        `json:"id"`
	ProjectID      uuid.UUID        `json:"project_id"`
	Dissonance     DissonanceResult `json:"dissonance"`
	Status         ReviewStatus     `json:"status"`
	ReclassifiedTo *DissonanceType  `json:"reclassified_to,omitempty"`
	Reason         *string          `json:"reason,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	ReviewedAt     *time.Time       `json:"reviewed_at,omitempty"`
}

// CheckStatus is the outcome class of a dissonance check.
type CheckStatus string

const (
	CheckSuccess          CheckStatus = "success"
	CheckSkipped          CheckStatus = "skipped"
	CheckInsufficientData CheckStatus = "insufficient_data"
)

// CheckScope selects which edges a dissonance check analyzes.
type CheckScope string

const (
	ScopeRecent CheckScope = "recent"
	ScopeFull   CheckScope = "full"
)

// CheckResult aggregates a full dissonance check over one node's
// neighborhood.
type CheckResult struct {
	ContextNode    string             `json:"context_node"`
	Scope          CheckScope         `json:"scope"`
	EdgesAnalyzed  int                `json:"edges_analyzed"`
	ConflictsFound int                `json:"conflicts_found"`
	Dissonances    []DissonanceResult `json:"dissonances"`
	PendingReviews []NuanceReview     `json:"pending_reviews"`
	RequiresReview bool               `json:"requires_review"`
	Fallback       bool               `json:"fallback"`
	Status         CheckStatus        `json:"status"`
	APICalls       int                `json:"api_calls"`
	TotalTokens    int                `json:"total_tokens"`
	EstimatedCost  float64            `json:"estimated_cost"`
}
