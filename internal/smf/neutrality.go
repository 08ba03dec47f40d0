package smf

import (
	"context"
	"regexp"
	"strings"

	"github.com/ethr-ai/noema/internal/model"
)

// The stop-list covers English and German recommendation/urgency language.
// Matching is case-insensitive at word start, so "Recommended" and
// "empfehlen" both trip it.
var stopWords = []string{
	"recommend", "empfehle",
	"urgent", "dringend",
	"important", "wichtig",
	"necessary", "notwendig",
	"must", "muss",
}

var stopWordRe = regexp.MustCompile(`(?i)\b(` + strings.Join(stopWords, "|") + `)`)

// NeutralityChecker is an optional LLM-backed second opinion. A nil checker
// means stop-list only.
type NeutralityChecker interface {
	CheckNeutrality(ctx context.Context, text string) (neutral bool, violations []string, err error)
}

// validateNeutrality scans free-form reasoning for stop-list hits and, when
// a checker is configured, merges its verdict: either violating source
// fails. Template-generated texts bypass this entirely; callers gate that
// on the neutral_summary marking.
func validateNeutrality(ctx context.Context, reasoning string, checker NeutralityChecker) error {
	var violations []string
	for _, match := range stopWordRe.FindAllString(reasoning, -1) {
		violations = append(violations, strings.ToLower(match))
	}

	if checker != nil {
		neutral, llmViolations, err := checker.CheckNeutrality(ctx, reasoning)
		if err == nil && !neutral {
			violations = append(violations, llmViolations...)
		}
		// A failed LLM check falls back to the stop-list verdict alone.
	}

	if len(violations) > 0 {
		return model.NewError(model.CodeFramingViolation,
			"proposal reasoning is not neutrally framed").
			WithDetails(map[string]any{"violations": dedupe(violations)})
	}
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
