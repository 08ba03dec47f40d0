// Package dissonance pairs the edges around a node and asks the classifier
// what each pair means. EVOLUTION and CONTRADICTION verdicts become SMF
// proposals; NUANCE verdicts become pending reviews; NONE is dropped.
package dissonance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ethr-ai/noema/internal/llm"
	"github.com/ethr-ai/noema/internal/model"
	"github.com/ethr-ai/noema/internal/storage"
)

// MaxPairs caps the pairs classified in one check. 100 pairs is 15 edges'
// worth; anything past that is clipped and logged so a dense node cannot
// drain the budget in one call.
const MaxPairs = 100

// Store is the slice of the storage layer the engine reads from.
// *storage.DB implements it.
type Store interface {
	ResolveNode(ctx context.Context, ref string) (model.Node, error)
	GetNode(ctx context.Context, id uuid.UUID) (model.Node, error)
	FetchEdgesForNode(ctx context.Context, nodeID uuid.UUID, scope model.CheckScope) ([]model.Edge, error)
	InsertNuanceReview(ctx context.Context, d model.DissonanceResult) (model.NuanceReview, error)
	MemoryStrengthForEdge(ctx context.Context, sourceName, targetName string) *float64
}

// Proposer turns a classified dissonance into a pending SMF proposal.
// Implemented by the SMF service.
type Proposer interface {
	ProposeFromDissonance(ctx context.Context, d model.DissonanceResult, edges [2]model.Edge) (model.Proposal, error)
}

// Meter prices classifier calls. Implemented by the budget meter.
type Meter interface {
	RecordCall(ctx context.Context, apiName, modelName string, usage llm.Usage) float64
}

// Engine runs dissonance checks.
type Engine struct {
	store      Store
	classifier llm.Classifier
	modelName  string
	retrier    *llm.Retrier
	health     *llm.HealthTracker
	meter      Meter
	proposer   Proposer
	logger     *slog.Logger
}

// New assembles an engine. proposer may be nil, in which case verdicts are
// reported but nothing is proposed.
func New(store Store, classifier llm.Classifier, modelName string, retrier *llm.Retrier, health *llm.HealthTracker, meter Meter, proposer Proposer, logger *slog.Logger) *Engine {
	return &Engine{
		store:      store,
		classifier: classifier,
		modelName:  modelName,
		retrier:    retrier,
		health:     health,
		meter:      meter,
		proposer:   proposer,
		logger:     logger,
	}
}

// SetProposer wires the proposer after construction. The SMF service needs
// the engine's sibling packages, so main wires the two together once both
// exist.
func (e *Engine) SetProposer(p Proposer) { e.proposer = p }

// Check analyzes the edges around one node for dissonance.
//
// A missing node or fewer than two live edges is insufficient data, not an
// error. A classifier already in fallback skips the check immediately, and
// mid-check exhaustion abandons the whole check the same way: the result
// comes back skipped with no dissonances, so callers never act on a partial
// read of the neighborhood. Any other per-pair failure is logged and
// skipped so one bad pair cannot sink the batch.
func (e *Engine) Check(ctx context.Context, nodeRef string, scope model.CheckScope, checkContext string) (model.CheckResult, error) {
	switch scope {
	case "":
		scope = model.ScopeRecent
	case model.ScopeRecent, model.ScopeFull:
	default:
		return model.CheckResult{}, model.NewValidationError("scope", "scope must be recent or full (got %q)", scope)
	}

	node, err := e.store.ResolveNode(ctx, nodeRef)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.logger.Info("dissonance: context node not found", "ref", nodeRef)
			return model.CheckResult{
				ContextNode: nodeRef,
				Scope:       scope,
				Status:      model.CheckInsufficientData,
			}, nil
		}
		return model.CheckResult{}, fmt.Errorf("dissonance: resolve node: %w", err)
	}

	result := model.CheckResult{
		ContextNode: node.Name,
		Scope:       scope,
		Status:      model.CheckSuccess,
	}

	all, err := e.store.FetchEdgesForNode(ctx, node.ID, scope)
	if err != nil {
		return model.CheckResult{}, fmt.Errorf("dissonance: fetch edges: %w", err)
	}
	edges := make([]model.Edge, 0, len(all))
	for _, edge := range all {
		if !edge.IsSuperseded() {
			edges = append(edges, edge)
		}
	}
	result.EdgesAnalyzed = len(edges)

	if len(edges) < 2 {
		result.Status = model.CheckInsufficientData
		return result, nil
	}

	if e.health.IsDown(e.classifier.Name()) {
		result.Status = model.CheckSkipped
		result.Fallback = true
		result.EdgesAnalyzed = 0
		e.logger.Info("dissonance: check skipped, classifier in fallback",
			"node", node.Name, "api", e.classifier.Name())
		return result, nil
	}

	pairs := pairIndices(len(edges))
	if len(pairs) > MaxPairs {
		e.logger.Warn("dissonance: pair cap reached, clipping",
			"node", node.Name, "pairs", len(pairs), "cap", MaxPairs)
		pairs = pairs[:MaxPairs]
	}

	names := map[uuid.UUID]string{node.ID: node.Name}
	classified := 0
	for _, pair := range pairs {
		a, b := edges[pair[0]], edges[pair[1]]

		verdict, err := e.classifyPair(ctx, node.Name, checkContext, a, b, names, &result)
		if err != nil {
			if errors.Is(err, llm.ErrExhausted) {
				e.health.MarkDown(e.classifier.Name())
				e.logger.Error("dissonance: classifier exhausted, abandoning check",
					"node", node.Name, "classified", classified, "error", err)
				// The whole check is discarded, not just the failed pair.
				// Partial conflict lists would read as a clean neighborhood.
				result.Status = model.CheckSkipped
				result.Fallback = true
				result.EdgesAnalyzed = 0
				result.ConflictsFound = 0
				result.Dissonances = nil
				result.PendingReviews = nil
				result.RequiresReview = false
				return result, nil
			}
			e.logger.Warn("dissonance: pair classification failed, skipping",
				"node", node.Name, "edge_a", a.ID, "edge_b", b.ID, "error", err)
			continue
		}
		classified++

		if verdict.Type == model.DissonanceNone {
			continue
		}

		d := model.DissonanceResult{
			EdgeAID:     a.ID,
			EdgeBID:     b.ID,
			Type:        verdict.Type,
			Confidence:  verdict.Confidence,
			Description: verdict.Description,
			Context:     checkContext,
		}
		e.attachStrengths(ctx, &d, a, b, names)
		result.Dissonances = append(result.Dissonances, d)
		result.ConflictsFound++

		switch verdict.Type {
		case model.DissonanceNuance:
			// A nuance is reported alongside the other conflicts and
			// additionally parked for confirmation; it never auto-proposes.
			review, err := e.store.InsertNuanceReview(ctx, d)
			if err != nil {
				e.logger.Warn("dissonance: nuance review insert failed",
					"edge_a", a.ID, "edge_b", b.ID, "error", err)
				continue
			}
			result.PendingReviews = append(result.PendingReviews, review)
			result.RequiresReview = true
		default:
			if e.proposer != nil {
				if _, err := e.proposer.ProposeFromDissonance(ctx, d, [2]model.Edge{a, b}); err != nil {
					e.logger.Warn("dissonance: proposal creation failed",
						"edge_a", a.ID, "edge_b", b.ID, "error", err)
				}
			}
		}
	}

	return result, nil
}

func (e *Engine) classifyPair(ctx context.Context, nodeName, checkContext string, a, b model.Edge, names map[uuid.UUID]string, result *model.CheckResult) (llm.Classification, error) {
	input := llm.ClassifyInput{
		NodeName: nodeName,
		EdgeA:    e.statement(ctx, a, names),
		EdgeB:    e.statement(ctx, b, names),
		Context:  checkContext,
	}

	var verdict llm.Classification
	err := e.retrier.Do(ctx, e.classifier.Name(), func(ctx context.Context) error {
		var usage llm.Usage
		var cerr error
		verdict, usage, cerr = e.classifier.Classify(ctx, input)
		result.APICalls++
		result.TotalTokens += usage.TotalTokens
		result.EstimatedCost += e.meter.RecordCall(ctx, e.classifier.Name(), e.modelName, usage)
		return cerr
	})
	return verdict, err
}

// statement renders an edge as subject-relation-object for the prompt.
// Name lookups are cached per check; a failed lookup falls back to the id.
func (e *Engine) statement(ctx context.Context, edge model.Edge, names map[uuid.UUID]string) llm.EdgeStatement {
	return llm.EdgeStatement{
		Source:     e.nodeName(ctx, edge.SourceID, names),
		Relation:   edge.Relation,
		Target:     e.nodeName(ctx, edge.TargetID, names),
		Sector:     edge.MemorySector,
		CreatedAt:  edge.CreatedAt,
		Properties: edge.Properties,
	}
}

func (e *Engine) nodeName(ctx context.Context, id uuid.UUID, names map[uuid.UUID]string) string {
	if name, ok := names[id]; ok {
		return name
	}
	node, err := e.store.GetNode(ctx, id)
	if err != nil {
		e.logger.Debug("dissonance: node name lookup failed", "node_id", id, "error", err)
		names[id] = id.String()
		return names[id]
	}
	names[id] = node.Name
	return node.Name
}

// attachStrengths annotates the result with best-effort memory strengths
// and picks the stronger edge as the authoritative source when both are
// known.
func (e *Engine) attachStrengths(ctx context.Context, d *model.DissonanceResult, a, b model.Edge, names map[uuid.UUID]string) {
	d.EdgeAStrength = e.store.MemoryStrengthForEdge(ctx, names[a.SourceID], names[a.TargetID])
	d.EdgeBStrength = e.store.MemoryStrengthForEdge(ctx, names[b.SourceID], names[b.TargetID])
	if d.EdgeAStrength == nil || d.EdgeBStrength == nil {
		return
	}
	if *d.EdgeAStrength >= *d.EdgeBStrength {
		d.AuthoritativeSource = &d.EdgeAID
	} else {
		d.AuthoritativeSource = &d.EdgeBID
	}
}

// pairIndices enumerates unordered index pairs i<j in order.
func pairIndices(n int) [][2]int {
	pairs := make([][2]int, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, [2]int{i, j})
		}
	}
	return pairs
}
