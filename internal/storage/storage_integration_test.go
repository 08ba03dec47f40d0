package storage_test

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethr-ai/noema/internal/model"
	"github.com/ethr-ai/noema/internal/storage"
	"github.com/ethr-ai/noema/internal/testutil"
)

var (
	tc *testutil.TestContainer
	db *storage.DB
)

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(0)
	}

	tc = testutil.MustStartPostgres()
	var err error
	db, err = tc.NewTestDB(context.Background(), uuid.New(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage_test: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()
	db.Close()
	tc.Terminate()
	os.Exit(code)
}

// addNode creates a node with a name unique to the calling test.
func addNode(t *testing.T, name string) model.Node {
	t.Helper()
	node, err := db.AddNode(context.Background(), t.Name()+"/"+name, "Entity", nil)
	require.NoError(t, err)
	return node
}

func addEdge(t *testing.T, source, target model.Node, relation string) model.Edge {
	t.Helper()
	edge, err := db.AddEdge(context.Background(), storage.AddEdgeParams{
		SourceID: source.ID,
		TargetID: target.ID,
		Relation: relation,
		Weight:   1.0,
	})
	require.NoError(t, err)
	return edge
}

func seedInsight(t *testing.T, content string, strength float64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	tx, err := db.Pool().Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `SELECT set_project_context($1)`, db.ProjectID())
	require.NoError(t, err)
	var id uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO l2_insights (project_id, content, memory_strength)
		VALUES ($1, $2, $3)
		RETURNING id`,
		db.ProjectID(), content, strength,
	).Scan(&id)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return id
}

// constScore is a fixed-value relevance scorer for neighborhood tests.
type constScore float64

func (c constScore) Score(model.Edge) float64 { return float64(c) }

func TestProjectIsolation(t *testing.T) {
	ctx := context.Background()
	other, err := tc.NewTestDB(ctx, uuid.New(), testutil.TestLogger())
	require.NoError(t, err)
	defer other.Close()

	src := addNode(t, "io")
	tgt := addNode(t, "acme")
	edge := addEdge(t, src, tgt, "WORKS_AT")

	// The other project sees none of it.
	_, err = other.GetEdge(ctx, edge.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = other.GetNodeByName(ctx, src.Name)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	found, err := other.FindEdges(ctx, src.Name, tgt.Name, "WORKS_AT")
	require.NoError(t, err)
	assert.Empty(t, found)

	// Same name in the other project is a fresh node, not a cross-project upsert.
	dup, err := other.AddNode(ctx, src.Name, "Entity", nil)
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, dup.ID)
}

func TestAddNode_IdempotentOnName(t *testing.T) {
	ctx := context.Background()
	first, err := db.AddNode(ctx, t.Name(), "Person", map[string]any{"a": "1"})
	require.NoError(t, err)

	second, err := db.AddNode(ctx, t.Name(), "Agent", map[string]any{"b": "2"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Agent", second.Label)
	assert.Equal(t, "1", second.Properties["a"], "properties merge on conflict")
	assert.Equal(t, "2", second.Properties["b"])
}

func TestAddEdge_ClassifiesSector(t *testing.T) {
	src := addNode(t, "src")

	semantic := addEdge(t, src, addNode(t, "t1"), "WORKS_AT")
	assert.Equal(t, model.SectorSemantic, semantic.MemorySector)

	procedural := addEdge(t, src, addNode(t, "t2"), "LEARNED")
	assert.Equal(t, model.SectorProcedural, procedural.MemorySector)

	emotional, err := db.AddEdge(context.Background(), storage.AddEdgeParams{
		SourceID:   src.ID,
		TargetID:   addNode(t, "t3").ID,
		Relation:   "FEELS",
		Properties: map[string]any{"emotional_valence": 0.7},
	})
	require.NoError(t, err)
	assert.Equal(t, model.SectorEmotional, emotional.MemorySector)

	// An explicit sector wins over classification.
	explicit, err := db.AddEdge(context.Background(), storage.AddEdgeParams{
		SourceID: src.ID,
		TargetID: addNode(t, "t4").ID,
		Relation: "WORKS_AT",
		Sector:   model.SectorReflective,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SectorReflective, explicit.MemorySector)
}

func TestAddEdge_UniqueTriple(t *testing.T) {
	src := addNode(t, "src")
	tgt := addNode(t, "tgt")
	addEdge(t, src, tgt, "KNOWS")

	_, err := db.AddEdge(context.Background(), storage.AddEdgeParams{
		SourceID: src.ID, TargetID: tgt.ID, Relation: "KNOWS",
	})
	assert.ErrorIs(t, err, storage.ErrUniqueViolation)

	// A different relation between the same nodes is fine.
	addEdge(t, src, tgt, "LIKES")
}

func TestGetEdge_NotFound(t *testing.T) {
	_, err := db.GetEdge(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFindEdges_TripleLookup(t *testing.T) {
	ctx := context.Background()
	src := addNode(t, "io")
	tgt := addNode(t, "garden")
	edge := addEdge(t, src, tgt, "TENDS")

	found, err := db.FindEdges(ctx, src.Name, tgt.Name, "TENDS")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, edge.ID, found[0].ID)

	found, err = db.FindEdges(ctx, src.Name, tgt.Name, "IGNORES")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestFetchEdgesForNode(t *testing.T) {
	ctx := context.Background()
	hub := addNode(t, "hub")
	out := addEdge(t, hub, addNode(t, "a"), "KNOWS")
	in := addEdge(t, addNode(t, "b"), hub, "KNOWS")

	edges, err := db.FetchEdgesForNode(ctx, hub.ID, model.ScopeFull)
	require.NoError(t, err)
	ids := make([]uuid.UUID, len(edges))
	for i, e := range edges {
		ids[i] = e.ID
	}
	assert.ElementsMatch(t, []uuid.UUID{out.ID, in.ID}, ids)

	// Fresh edges are inside the recent window too.
	recent, err := db.FetchEdgesForNode(ctx, hub.ID, model.ScopeRecent)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestSetEdgeProperties_Merges(t *testing.T) {
	ctx := context.Background()
	edge, err := db.AddEdge(ctx, storage.AddEdgeParams{
		SourceID:   addNode(t, "s").ID,
		TargetID:   addNode(t, "t").ID,
		Relation:   "KNOWS",
		Properties: map[string]any{"since": "2024"},
	})
	require.NoError(t, err)

	require.NoError(t, db.SetEdgeProperties(ctx, edge.ID, map[string]any{"context": "work"}))
	got, err := db.GetEdge(ctx, edge.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024", got.Properties["since"])
	assert.Equal(t, "work", got.Properties["context"])
	assert.True(t, got.ModifiedAt.After(edge.ModifiedAt))

	assert.ErrorIs(t, db.SetEdgeProperties(ctx, uuid.New(), map[string]any{"x": 1}), storage.ErrNotFound)
}

func TestMutator_SupersedeRoundTrip(t *testing.T) {
	ctx := context.Background()
	edge := addEdge(t, addNode(t, "s"), addNode(t, "t"), "WORKS_AT")

	err := db.Transact(ctx, func(ctx context.Context, m storage.Mutator) error {
		ok, err := m.MarkSuperseded(ctx, edge.ID, "resolution:test", time.Now().UTC())
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)

	got, err := db.GetEdge(ctx, edge.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSuperseded())
	assert.Equal(t, "resolution:test", got.Properties["superseded_by"])

	err = db.Transact(ctx, func(ctx context.Context, m storage.Mutator) error {
		return m.ClearSuperseded(ctx, edge.ID)
	})
	require.NoError(t, err)
	got, err = db.GetEdge(ctx, edge.ID)
	require.NoError(t, err)
	assert.False(t, got.IsSuperseded())
	assert.NotContains(t, got.Properties, "superseded_by")
}

func TestMutator_SetEdgeSector(t *testing.T) {
	ctx := context.Background()
	edge := addEdge(t, addNode(t, "s"), addNode(t, "t"), "WORKS_AT")

	stamp := model.Reclassification{
		FromSector: edge.MemorySector,
		ToSector:   model.SectorEpisodic,
		Actor:      "io",
		At:         time.Now().UTC(),
	}
	err := db.Transact(ctx, func(ctx context.Context, m storage.Mutator) error {
		return m.SetEdgeSector(ctx, edge.ID, model.SectorEpisodic, stamp)
	})
	require.NoError(t, err)

	got, err := db.GetEdge(ctx, edge.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SectorEpisodic, got.MemorySector)
	require.Contains(t, got.Properties, "last_reclassification")
	recorded, ok := got.Properties["last_reclassification"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "io", recorded["actor"])
}

func TestMutator_RollsBackAsUnit(t *testing.T) {
	ctx := context.Background()
	src := addNode(t, "s")
	tgt := addNode(t, "t")

	boom := fmt.Errorf("forced failure")
	err := db.Transact(ctx, func(ctx context.Context, m storage.Mutator) error {
		_, err := m.AddEdge(ctx, storage.AddEdgeParams{
			SourceID: src.ID, TargetID: tgt.ID, Relation: "KNOWS",
		})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	found, err := db.FindEdges(ctx, src.Name, tgt.Name, "KNOWS")
	require.NoError(t, err)
	assert.Empty(t, found, "the edge insert rolled back with the failure")
}

func TestProposalLifecycle(t *testing.T) {
	ctx := context.Background()
	edge := addEdge(t, addNode(t, "s"), addNode(t, "t"), "WORKS_AT")

	inserted, err := db.InsertProposal(ctx, model.Proposal{
		TriggerType: model.TriggerManual,
		ProposedAction: model.ProposedAction{
			Action:  model.ActionResolveDissonance,
			EdgeAID: &edge.ID,
		},
		AffectedEdges: []uuid.UUID{edge.ID},
		Reasoning:     "Detected: two employment edges for one person.",
		ApprovalLevel: model.ApprovalIO,
		Metadata:      map[string]any{},
	}, model.AuditEntry{Actor: model.ActorIO, Action: model.AuditSMFPropose})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, inserted.ID)
	assert.Equal(t, model.ProposalPending, inserted.Status)
	assert.False(t, inserted.CreatedAt.IsZero())

	got, err := db.GetProposal(ctx, inserted.ID)
	require.NoError(t, err)
	assert.Equal(t, inserted.ID, got.ID)
	require.NotNil(t, got.ProposedAction.EdgeAID)
	assert.Equal(t, edge.ID, *got.ProposedAction.EdgeAID)

	pending, err := db.ListPendingProposals(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, pending)

	// The audit entry committed with the insert and points at the proposal.
	entries, err := db.ListAudit(ctx, 500)
	require.NoError(t, err)
	var audited bool
	for _, e := range entries {
		if e.Action == model.AuditSMFPropose && e.TargetID != nil && *e.TargetID == inserted.ID {
			audited = true
		}
	}
	assert.True(t, audited)

	// Approve under the row lock.
	now := time.Now().UTC()
	resolvedBy := "io"
	updated, err := db.UpdateProposal(ctx, inserted.ID, func(ctx context.Context, m storage.Mutator, p *model.Proposal) error {
		p.Status = model.ProposalApproved
		p.ApprovedByIO = true
		p.ResolvedAt = &now
		p.ResolvedBy = &resolvedBy
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.ProposalApproved, updated.Status)

	approved, err := db.ListApprovedProposals(ctx)
	require.NoError(t, err)
	var listed bool
	for _, p := range approved {
		if p.ID == inserted.ID {
			listed = true
		}
	}
	assert.True(t, listed)

	// A failing closure leaves the row untouched.
	boom := fmt.Errorf("refused")
	_, err = db.UpdateProposal(ctx, inserted.ID, func(ctx context.Context, m storage.Mutator, p *model.Proposal) error {
		p.Status = model.ProposalRejected
		return boom
	})
	assert.ErrorIs(t, err, boom)
	got, err = db.GetProposal(ctx, inserted.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalApproved, got.Status)
}

func TestNuanceReviewLifecycle(t *testing.T) {
	ctx := context.Background()
	a := addEdge(t, addNode(t, "s1"), addNode(t, "t1"), "LIKES")
	b := addEdge(t, addNode(t, "s2"), addNode(t, "t2"), "DISLIKES")

	review, err := db.InsertNuanceReview(ctx, model.DissonanceResult{
		EdgeAID:     a.ID,
		EdgeBID:     b.ID,
		Type:        model.DissonanceNuance,
		Confidence:  0.7,
		Description: "context-dependent preference",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ReviewPending, review.Status)
	assert.Equal(t, a.ID, review.Dissonance.EdgeAID)

	got, err := db.GetReview(ctx, review.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DissonanceNuance, got.Dissonance.Type)

	pending, err := db.ListPendingReviews(ctx)
	require.NoError(t, err)
	var listed bool
	for _, r := range pending {
		if r.ID == review.ID {
			listed = true
		}
	}
	assert.True(t, listed)

	err = db.Transact(ctx, func(ctx context.Context, m storage.Mutator) error {
		return m.SetReviewStatus(ctx, review.ID, model.ReviewConfirmed, nil, nil, time.Now().UTC())
	})
	require.NoError(t, err)

	got, err = db.GetReview(ctx, review.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewConfirmed, got.Status)
	assert.NotNil(t, got.ReviewedAt)

	pending, err = db.ListPendingReviews(ctx)
	require.NoError(t, err)
	for _, r := range pending {
		assert.NotEqual(t, review.ID, r.ID)
	}
}

func TestAudit_NewestFirstAndCapped(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, db.InsertAudit(ctx, model.AuditEntry{
			Actor:     model.ActorSystem,
			Action:    "AUDIT_ORDER_PROBE",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Payload:   map[string]any{"seq": i},
		}))
	}

	entries, err := db.ListAudit(ctx, 1000)
	require.NoError(t, err)
	var seen []time.Time
	for _, e := range entries {
		if e.Action == "AUDIT_ORDER_PROBE" {
			seen = append(seen, e.Timestamp)
		}
	}
	require.Len(t, seen, 3)
	assert.True(t, seen[0].After(seen[1]) && seen[1].After(seen[2]))

	capped, err := db.ListAudit(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, capped, 2)
}

func TestCostAccounting(t *testing.T) {
	ctx := context.Background()
	// A month far in the past keeps the sums independent of other tests.
	day1 := time.Date(2001, 5, 3, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2001, 5, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.InsertCostLog(ctx, model.CostLogEntry{
		Date: day1, APIName: "openai", NumCalls: 1, TokenCount: 1000, EstimatedCost: 0.10,
	}))
	require.NoError(t, db.InsertCostLog(ctx, model.CostLogEntry{
		Date: day2, APIName: "openai", NumCalls: 1, TokenCount: 2000, EstimatedCost: 0.20,
	}))
	require.NoError(t, db.InsertCostLog(ctx, model.CostLogEntry{
		Date: day2, APIName: "anthropic", NumCalls: 1, TokenCount: 500, EstimatedCost: 0.05,
	}))

	mtd, err := db.MonthToDateCost(ctx, day2)
	require.NoError(t, err)
	assert.InDelta(t, 0.35, mtd, 1e-9)

	// Day 1 alone excludes the later rows.
	mtd, err = db.MonthToDateCost(ctx, day1)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, mtd, 1e-9)

	byAPI, err := db.CostByAPI(ctx, day2)
	require.NoError(t, err)
	assert.InDelta(t, 0.30, byAPI["openai"], 1e-9)
	assert.InDelta(t, 0.05, byAPI["anthropic"], 1e-9)

	series, err := db.DailyCostSeries(ctx, day2)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.True(t, series[0].Date.UTC().Equal(day1))
	assert.InDelta(t, 0.10, series[0].Cost, 1e-9)
	assert.InDelta(t, 0.25, series[1].Cost, 1e-9)
}

func TestRetryLog(t *testing.T) {
	require.NoError(t, db.InsertRetryLog(context.Background(), model.RetryLogEntry{
		APIName: "openai", ErrorType: "rate_limited", RetryCount: 2, Success: true,
	}))
}

func TestBudgetAlert_OncePerDay(t *testing.T) {
	ctx := context.Background()
	alert := model.BudgetAlert{
		AlertDate:           time.Date(2001, 6, 1, 0, 0, 0, 0, time.UTC),
		AlertType:           "projected_overrun",
		ProjectedCost:       42.0,
		BudgetLimit:         50.0,
		UtilizationPct:      60.0,
		AlertSent:           true,
		NotificationMethods: []string{"log"},
	}

	recorded, err := db.InsertBudgetAlert(ctx, alert)
	require.NoError(t, err)
	assert.True(t, recorded)

	recorded, err = db.InsertBudgetAlert(ctx, alert)
	require.NoError(t, err)
	assert.False(t, recorded, "same type and day conflicts away")

	alert.AlertType = "limit_exceeded"
	recorded, err = db.InsertBudgetAlert(ctx, alert)
	require.NoError(t, err)
	assert.True(t, recorded, "a different type on the same day is a new alert")
}

func TestQueryNeighbors(t *testing.T) {
	ctx := context.Background()
	a := addNode(t, "a")
	b := addNode(t, "b")
	c := addNode(t, "c")
	addEdge(t, a, b, "KNOWS")
	addEdge(t, b, c, "KNOWS")

	depth1, err := db.QueryNeighbors(ctx, storage.QueryNeighborsParams{
		NodeID: a.ID, Depth: 1, Direction: "both",
	}, constScore(0.5))
	require.NoError(t, err)
	require.Len(t, depth1, 1)
	assert.Equal(t, b.ID, depth1[0].Node.ID)
	assert.Equal(t, "outgoing", depth1[0].Direction)
	assert.Equal(t, 0.5, depth1[0].RelevanceScore)

	depth2, err := db.QueryNeighbors(ctx, storage.QueryNeighborsParams{
		NodeID: a.ID, Depth: 2, Direction: "both",
	}, constScore(0.5))
	require.NoError(t, err)
	require.Len(t, depth2, 2)
	assert.Equal(t, 2, depth2[1].Depth)

	incoming, err := db.QueryNeighbors(ctx, storage.QueryNeighborsParams{
		NodeID: c.ID, Depth: 1, Direction: "incoming",
	}, constScore(0.5))
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, b.ID, incoming[0].Node.ID)

	_, err = db.QueryNeighbors(ctx, storage.QueryNeighborsParams{
		NodeID: a.ID, Depth: 4, Direction: "both",
	}, constScore(0.5))
	assert.Error(t, err)
	_, err = db.QueryNeighbors(ctx, storage.QueryNeighborsParams{
		NodeID: a.ID, Depth: 1, Direction: "sideways",
	}, constScore(0.5))
	assert.Error(t, err)
}

func TestQueryNeighbors_FiltersSuperseded(t *testing.T) {
	ctx := context.Background()
	a := addNode(t, "a")
	b := addNode(t, "b")
	edge := addEdge(t, a, b, "WORKS_AT")

	err := db.Transact(ctx, func(ctx context.Context, m storage.Mutator) error {
		_, err := m.MarkSuperseded(ctx, edge.ID, "resolution:test", time.Now().UTC())
		return err
	})
	require.NoError(t, err)

	visible, err := db.QueryNeighbors(ctx, storage.QueryNeighborsParams{
		NodeID: a.ID, Depth: 1, Direction: "both",
	}, constScore(1))
	require.NoError(t, err)
	assert.Empty(t, visible)

	all, err := db.QueryNeighbors(ctx, storage.QueryNeighborsParams{
		NodeID: a.ID, Depth: 1, Direction: "both", IncludeSuperseded: true,
	}, constScore(1))
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTouchEdges_BumpsEngagement(t *testing.T) {
	ctx := context.Background()
	edge := addEdge(t, addNode(t, "s"), addNode(t, "t"), "KNOWS")
	require.Equal(t, 0, edge.AccessCount)

	db.TouchEdges(ctx, []uuid.UUID{edge.ID})
	got, err := db.GetEdge(ctx, edge.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
	assert.NotNil(t, got.LastEngaged)
	assert.NotNil(t, got.LastAccessed)
}

func TestInsights(t *testing.T) {
	ctx := context.Background()
	id := seedInsight(t, "io works at the botanical garden", 0.8)

	got, err := db.GetInsight(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.8, got.MemoryStrength)
	assert.Nil(t, got.Embedding, "no embedding seeded")

	err = db.Transact(ctx, func(ctx context.Context, m storage.Mutator) error {
		content := "io tends the botanical garden"
		_, err := m.UpdateInsight(ctx, id, &content, map[string]any{"reviewed": true})
		return err
	})
	require.NoError(t, err)
	got, err = db.GetInsight(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "io tends the botanical garden", got.Content)
	assert.Equal(t, true, got.Metadata["reviewed"])

	err = db.Transact(ctx, func(ctx context.Context, m storage.Mutator) error {
		return m.SoftDeleteInsight(ctx, id, "io", "outdated", time.Now().UTC())
	})
	require.NoError(t, err)
	got, err = db.GetInsight(ctx, id)
	require.NoError(t, err, "soft-deleted insights stay readable by id")
	assert.True(t, got.IsDeleted)
	require.NotNil(t, got.DeletedBy)
	assert.Equal(t, "io", *got.DeletedBy)

	// Writes against the tombstoned row report not found.
	err = db.Transact(ctx, func(ctx context.Context, m storage.Mutator) error {
		return m.SoftDeleteInsight(ctx, id, "io", "again", time.Now().UTC())
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInsights_EmbeddingRoundTrip(t *testing.T) {
	ctx := context.Background()
	tx, err := db.Pool().Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `SELECT set_project_context($1)`, db.ProjectID())
	require.NoError(t, err)

	vals := make([]float32, 1536)
	vals[0], vals[1] = 0.25, -0.5
	vec := pgvector.NewVector(vals)
	var id uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO l2_insights (project_id, content, embedding)
		VALUES ($1, $2, $3)
		RETURNING id`,
		db.ProjectID(), "io hums old sea shanties while weeding", vec,
	).Scan(&id)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	got, err := db.GetInsight(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.Embedding)
	slice := got.Embedding.Slice()
	require.Len(t, slice, 1536)
	assert.InDelta(t, 0.25, slice[0], 1e-6)
	assert.InDelta(t, -0.5, slice[1], 1e-6)
}

func TestMemoryStrengthForEdge(t *testing.T) {
	seedInsight(t, "the lighthouse keeper paints seascapes on sundays", 0.9)
	seedInsight(t, "the lighthouse keeper paints portraits too", 0.4)

	strength := db.MemoryStrengthForEdge(context.Background(), "lighthouse keeper", "seascapes")
	require.NotNil(t, strength)
	assert.Equal(t, 0.9, *strength)

	assert.Nil(t, db.MemoryStrengthForEdge(context.Background(), "lighthouse keeper", "submarines"))
}
