// Package memory implements the sector-parameterized memory model: rule-based
// sector classification on insert, the per-sector decay table, and the
// decay-adjusted relevance scorer used by every neighborhood query.
package memory

import "github.com/ethr-ai/noema/internal/model"

// Rule identifies which classification rule matched, for debug logging.
type Rule string

const (
	RuleEmotionalValence Rule = "emotional_valence"
	RuleSharedExperience Rule = "shared_experience"
	RuleProceduralVerb   Rule = "procedural_relation"
	RuleReflectiveVerb   Rule = "reflective_relation"
	RuleDefault          Rule = "default_semantic"
)

// proceduralRelations and reflectiveRelations are the relation labels that
// select their sectors when no higher-priority rule matches.
var proceduralRelations = map[string]bool{
	"LEARNED": true,
	"CAN_DO":  true,
}

var reflectiveRelations = map[string]bool{
	"REFLECTS":    true,
	"REFLECTS_ON": true,
	"REALIZED":    true,
}

// Classify assigns a memory sector to an edge from its relation and
// properties. Deterministic and side-effect free; rules apply in priority
// order, first match wins:
//
//  1. emotional_valence present (any non-nil value) -> emotional
//  2. context_type == "shared_experience"           -> episodic
//  3. relation in {LEARNED, CAN_DO}                 -> procedural
//  4. relation in {REFLECTS, REFLECTS_ON, REALIZED} -> reflective
//  5. otherwise                                     -> semantic
func Classify(relation string, properties map[string]any) (model.Sector, Rule) {
	if properties != nil {
		if v, ok := properties["emotional_valence"]; ok && v != nil {
			return model.SectorEmotional, RuleEmotionalValence
		}
		if ct, ok := properties["context_type"].(string); ok && ct == "shared_experience" {
			return model.SectorEpisodic, RuleSharedExperience
		}
	}
	if proceduralRelations[relation] {
		return model.SectorProcedural, RuleProceduralVerb
	}
	if reflectiveRelations[relation] {
		return model.SectorReflective, RuleReflectiveVerb
	}
	return model.SectorSemantic, RuleDefault
}
