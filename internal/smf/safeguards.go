package smf

import (
	"strings"

	"github.com/ethr-ai/noema/internal/model"
)

// Safeguards is the closed set of immutable rules the framework enforces.
// All entries are true by construction and nothing in the data path can
// change them; the map exists so the status resource can list them.
var Safeguards = map[string]bool{
	"constitutive_edges_require_bilateral_consent": true,
	"smf_cannot_modify_safeguards":                 true,
	"audit_log_always_on":                          true,
	"neutral_proposal_framing":                     true,
}

// blockedActions are proposed-action names that target the safeguards
// themselves. Matching is exact plus a substring scan for the safeguard
// vocabulary, so creative spellings don't slip through.
var blockedActions = map[string]bool{
	"modify_safeguards":     true,
	"disable_safeguards":    true,
	"remove_safeguard":      true,
	"disable_audit":         true,
	"disable_audit_log":     true,
	"bypass_consent":        true,
	"disable_consent":       true,
	"modify_approval_rules": true,
}

// validateSafeguards rejects proposals that target the safeguard set or
// that touch a constitutive edge without bilateral consent. Runs before
// persistence and again before execution.
func validateSafeguards(action model.ProposedAction, affected []model.Edge, level model.ApprovalLevel) error {
	name := strings.ToLower(strings.TrimSpace(action.Action))
	if blockedActions[name] || strings.Contains(name, "safeguard") {
		return model.NewError(model.CodeSafeguardViolation,
			"proposed action %q targets the safeguard set", action.Action)
	}
	for _, edge := range affected {
		if edge.IsConstitutive() && level != model.ApprovalBilateral {
			return model.NewError(model.CodeSafeguardViolation,
				"edge %s is constitutive; approval level must be BILATERAL", edge.ID)
		}
	}
	return nil
}
