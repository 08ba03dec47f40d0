package smf

import (
	"fmt"
	"strings"

	"github.com/ethr-ai/noema/internal/model"
)

// ProposalSummary is the structured input to the neutral reasoning
// template. Each field states facts; the template adds no evaluative
// language, which is what makes the output exempt from the stop-list scan.
type ProposalSummary struct {
	Detected   string
	Affected   string
	IfApproved string
	IfRejected string
}

// RenderNeutralReasoning renders a proposal reasoning from structured
// parts. The output carries the neutral_summary marking in proposal
// metadata, set by the caller.
func RenderNeutralReasoning(s ProposalSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Detected: %s\n", s.Detected)
	fmt.Fprintf(&b, "Affected: %s\n", s.Affected)
	fmt.Fprintf(&b, "If approved: %s\n", s.IfApproved)
	fmt.Fprintf(&b, "If rejected: %s", s.IfRejected)
	return b.String()
}

// summaryFromDissonance renders the standard neutral summary for a
// classified dissonance, used when the engine bridges into a proposal.
func summaryFromDissonance(d model.DissonanceResult) ProposalSummary {
	var ifApproved string
	switch d.Type {
	case model.DissonanceEvolution:
		ifApproved = fmt.Sprintf("a resolution records the evolution and edge %s is marked superseded", d.EdgeAID)
	default:
		ifApproved = "a resolution records the relationship between both edges; both remain active"
	}
	return ProposalSummary{
		Detected:   fmt.Sprintf("%s between two edges (confidence %.2f): %s", d.Type, d.Confidence, d.Description),
		Affected:   fmt.Sprintf("edges %s and %s", d.EdgeAID, d.EdgeBID),
		IfApproved: ifApproved,
		IfRejected: "the graph is unchanged and the dissonance remains open",
	}
}
