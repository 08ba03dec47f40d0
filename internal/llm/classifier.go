// Package llm classifies edge pairs through external chat APIs.
//
// The dissonance engine finds candidate pairs (cheap, local); the classifier
// decides what each pair means (precise, slower, costs money). Calls go
// through a shared retrier with jittered exponential backoff, and every
// exhaustion flips the API into fallback until a health probe sees it
// recover.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethr-ai/noema/internal/config"
	"github.com/ethr-ai/noema/internal/model"
)

// EdgeStatement is one edge rendered for classification.
type EdgeStatement struct {
	Source     string
	Relation   string
	Target     string
	Sector     model.Sector
	CreatedAt  time.Time
	Properties map[string]any
}

// ClassifyInput holds both edges of a candidate pair plus the node they
// share.
type ClassifyInput struct {
	NodeName string
	EdgeA    EdgeStatement
	EdgeB    EdgeStatement
	Context  string
}

// Classification is the structured classifier verdict for one pair.
type Classification struct {
	Type        model.DissonanceType `json:"dissonance_type"`
	Confidence  float64              `json:"confidence_score"`
	Description string               `json:"description"`
	Reasoning   string               `json:"reasoning"`
}

// Usage is the token accounting of one call, fed to the cost meter.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Classifier decides the relationship between two edges sharing a node.
type Classifier interface {
	// Classify runs one classification call. Usage is valid even when the
	// parse fails, so partial calls still get billed.
	Classify(ctx context.Context, input ClassifyInput) (Classification, Usage, error)

	// Probe makes the cheapest possible authenticated call, used by the
	// fallback health loop.
	Probe(ctx context.Context) error

	// Name identifies the API in cost and retry logs.
	Name() string
}

// classifyPrompt asks for a strict 4-way classification as a JSON object.
// Temperature is pinned to 0 by the callers; the JSON contract keeps parsing
// deterministic.
const classifyPrompt = `You are a belief-revision classifier for a personal knowledge graph.

Two statements about "%s" may be in tension:

Statement A (%s memory, recorded %s):
%s %s %s

Statement B (%s memory, recorded %s):
%s %s %s
%s
Classify the RELATIONSHIP between these two statements:

- EVOLUTION: B is a later development of the same belief as A. The belief changed over time; A is the outdated form.
- CONTRADICTION: A and B make incompatible claims that cannot both hold. Neither clearly replaces the other.
- NUANCE: A and B are both true in different contexts, aspects, or conditions. The tension is apparent, not real.
- NONE: No meaningful tension. Different topics despite touching the same node.

Be conservative: prefer NUANCE over CONTRADICTION when both statements can coexist under any plausible reading.

Respond with exactly one JSON object, no other text:
{"dissonance_type": "EVOLUTION|CONTRADICTION|NUANCE|NONE", "confidence_score": 0.0-1.0, "description": "one sentence", "reasoning": "one or two sentences"}`

func formatPrompt(input ClassifyInput) string {
	extra := ""
	if input.Context != "" {
		extra = "\nAdditional context: " + input.Context + "\n"
	}
	return fmt.Sprintf(classifyPrompt,
		input.NodeName,
		input.EdgeA.Sector, input.EdgeA.CreatedAt.Format(time.RFC3339),
		input.EdgeA.Source, input.EdgeA.Relation, input.EdgeA.Target,
		input.EdgeB.Sector, input.EdgeB.CreatedAt.Format(time.RFC3339),
		input.EdgeB.Source, input.EdgeB.Relation, input.EdgeB.Target,
		extra,
	)
}

// ParseClassifierResponse extracts the JSON verdict from a raw completion.
// Markdown fences and surrounding prose are tolerated; an unparseable or
// out-of-vocabulary response returns an error so callers treat it as a
// failed call rather than inventing a verdict.
func ParseClassifierResponse(response string) (Classification, error) {
	raw := strings.TrimSpace(response)

	// Models occasionally fence the object or prepend a sentence. Cut to
	// the outermost braces.
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Classification{}, fmt.Errorf("llm: no JSON object in response")
	}
	raw = raw[start : end+1]

	var parsed struct {
		Type        string  `json:"dissonance_type"`
		Confidence  float64 `json:"confidence_score"`
		Description string  `json:"description"`
		Reasoning   string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Classification{}, fmt.Errorf("llm: decode verdict: %w", err)
	}

	t, ok := model.ParseDissonanceType(parsed.Type)
	if !ok {
		return Classification{}, fmt.Errorf("llm: unrecognized dissonance type %q", parsed.Type)
	}
	return Classification{
		Type:        t,
		Confidence:  clamp01(parsed.Confidence),
		Description: parsed.Description,
		Reasoning:   parsed.Reasoning,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NoopClassifier answers NONE for every pair. Used when no API is
// configured, so a graph-only deployment still serves every read path.
type NoopClassifier struct{}

func (NoopClassifier) Classify(_ context.Context, _ ClassifyInput) (Classification, Usage, error) {
	return Classification{Type: model.DissonanceNone, Confidence: 1, Description: "classifier disabled"}, Usage{}, nil
}

func (NoopClassifier) Probe(_ context.Context) error { return nil }

func (NoopClassifier) Name() string { return "noop" }

// IsPlaceholderKey reports whether an API key is missing or an obvious
// template value. Refusing these at startup beats burning the retry budget
// on guaranteed 401s.
func IsPlaceholderKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return true
	}
	for _, marker := range []string{"your-", "your_", "changeme", "change-me", "placeholder", "xxx", "<", "..."} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

// New builds the classifier selected by configuration. Missing or
// placeholder keys are a startup error, not a runtime surprise.
func New(cfg config.Config) (Classifier, error) {
	switch cfg.ClassifierAPI {
	case "noop":
		return NoopClassifier{}, nil
	case "openai":
		if IsPlaceholderKey(cfg.OpenAIAPIKey) {
			return nil, fmt.Errorf("llm: OPENAI_API_KEY is missing or a placeholder")
		}
		return NewOpenAIClassifier(cfg.OpenAIAPIKey, cfg.ClassifierModel, cfg.ClassifierMaxTok), nil
	case "anthropic":
		if IsPlaceholderKey(cfg.AnthropicAPIKey) {
			return nil, fmt.Errorf("llm: ANTHROPIC_API_KEY is missing or a placeholder")
		}
		return NewAnthropicClassifier(cfg.AnthropicAPIKey, cfg.ClassifierModel, cfg.ClassifierMaxTok), nil
	}
	return nil, fmt.Errorf("llm: unknown classifier API %q", cfg.ClassifierAPI)
}
