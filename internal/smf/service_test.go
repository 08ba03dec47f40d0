package smf

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethr-ai/noema/internal/model"
	"github.com/ethr-ai/noema/internal/storage"
	"github.com/ethr-ai/noema/internal/testutil"
	"github.com/ethr-ai/noema/internal/testutil/fake"
)

// fakeStore backs the service with a FakeMutator for edges and an in-memory
// proposal table.
type fakeStore struct {
	m         *fake.FakeMutator
	proposals map[uuid.UUID]model.Proposal
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		m:         fake.NewFakeMutator(),
		proposals: make(map[uuid.UUID]model.Proposal),
	}
}

func (f *fakeStore) GetEdge(ctx context.Context, id uuid.UUID) (model.Edge, error) {
	return f.m.GetEdge(ctx, id)
}

func (f *fakeStore) InsertProposal(ctx context.Context, p model.Proposal, audit model.AuditEntry) (model.Proposal, error) {
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	f.proposals[p.ID] = p
	audit.TargetID = &p.ID
	_ = f.m.InsertAudit(ctx, audit)
	return p, nil
}

func (f *fakeStore) GetProposal(_ context.Context, id uuid.UUID) (model.Proposal, error) {
	p, ok := f.proposals[id]
	if !ok {
		return model.Proposal{}, storage.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ListPendingProposals(_ context.Context) ([]model.Proposal, error) {
	var out []model.Proposal
	for _, p := range f.proposals {
		if p.Status == model.ProposalPending {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateProposal(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, m storage.Mutator, p *model.Proposal) error) (model.Proposal, error) {
	p, ok := f.proposals[id]
	if !ok {
		return model.Proposal{}, storage.ErrNotFound
	}
	if err := fn(ctx, f.m, &p); err != nil {
		return model.Proposal{}, err
	}
	f.proposals[id] = p
	return p, nil
}

// recordingExecutor returns a canned execution record.
type recordingExecutor struct {
	record model.ExecutionRecord
	err    error
	calls  int
	seen   *model.Proposal
}

func (r *recordingExecutor) Execute(_ context.Context, _ storage.Mutator, p *model.Proposal) (model.ExecutionRecord, error) {
	r.calls++
	r.seen = p
	return r.record, r.err
}

func newTestService(store *fakeStore) *Service {
	return New(store, nil, 0, time.Millisecond, testutil.TestLogger())
}

func seedEdge(store *fakeStore, constitutive bool) model.Edge {
	props := map[string]any{}
	if constitutive {
		props["is_constitutive"] = true
	}
	return store.m.PutEdge(model.Edge{
		SourceID:     uuid.New(),
		TargetID:     uuid.New(),
		Relation:     "KNOWS",
		MemorySector: model.SectorSemantic,
		Properties:   props,
	})
}

func TestCreate_Defaults(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	p, err := svc.Create(context.Background(), CreateParams{
		Action:    model.ProposedAction{Action: model.ActionUpdateInsight},
		Reasoning: "Detected: insight content drift.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.TriggerManual, p.TriggerType)
	assert.Equal(t, model.ApprovalIO, p.ApprovalLevel)
	assert.Equal(t, model.ProposalPending, p.Status)
	assert.Contains(t, store.m.AuditActions(), model.AuditSMFPropose)
}

func TestCreate_EmptyActionRejected(t *testing.T) {
	svc := newTestService(newFakeStore())
	_, err := svc.Create(context.Background(), CreateParams{Reasoning: "x"})
	var coded *model.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, model.CodeValidation, coded.Code)
}

func TestCreate_ConstitutiveForcesBilateral(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	edge := seedEdge(store, true)

	p, err := svc.Create(context.Background(), CreateParams{
		Action:        model.ProposedAction{Action: model.ActionReclassifySector, NewSector: model.SectorEmotional},
		AffectedEdges: []uuid.UUID{edge.ID},
		Reasoning:     "Detected: sector mismatch.",
		ApprovalLevel: model.ApprovalIO,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalBilateral, p.ApprovalLevel, "caller cannot weaken consent on constitutive edges")
}

func TestCreate_BlockedActionsRejected(t *testing.T) {
	svc := newTestService(newFakeStore())

	for _, action := range []string{
		"modify_safeguards", "disable_audit_log", "bypass_consent",
		"Remove_Safeguard", "tweak_safeguard_list",
	} {
		_, err := svc.Create(context.Background(), CreateParams{
			Action:    model.ProposedAction{Action: action},
			Reasoning: "Detected: nothing.",
		})
		var coded *model.Error
		require.ErrorAsf(t, err, &coded, "action %q", action)
		assert.Equalf(t, model.CodeSafeguardViolation, coded.Code, "action %q", action)
	}
}

func TestCreate_StopWordsRejected(t *testing.T) {
	svc := newTestService(newFakeStore())

	for _, reasoning := range []string{
		"I recommend approving this resolution.",
		"This change is URGENT.",
		"Es ist wichtig, diese Kante zu entfernen.",
		"Die Aufloesung ist dringend notwendig.",
		"You must approve this.",
	} {
		_, err := svc.Create(context.Background(), CreateParams{
			Action:    model.ProposedAction{Action: model.ActionResolveDissonance, ResolutionType: model.DissonanceNuance},
			Reasoning: reasoning,
		})
		var coded *model.Error
		require.ErrorAsf(t, err, &coded, "reasoning %q", reasoning)
		assert.Equalf(t, model.CodeFramingViolation, coded.Code, "reasoning %q", reasoning)
	}
}

func TestCreate_NeutralReasoningAccepted(t *testing.T) {
	svc := newTestService(newFakeStore())
	_, err := svc.Create(context.Background(), CreateParams{
		Action:    model.ProposedAction{Action: model.ActionDeleteInsight, InsightID: ptr(uuid.New())},
		Reasoning: "Detected: duplicate insight. If approved: the duplicate is removed. If rejected: both remain.",
	})
	assert.NoError(t, err)
}

func TestProposeFromDissonance_TemplateBypassesStopList(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	a := seedEdge(store, false)
	b := seedEdge(store, false)

	d := model.DissonanceResult{
		EdgeAID:    a.ID,
		EdgeBID:    b.ID,
		Type:       model.DissonanceEvolution,
		Confidence: 0.9,
		// "must" would trip the stop-list in free-form reasoning.
		Description: "the newer belief must be treated as current",
	}
	p, err := svc.ProposeFromDissonance(context.Background(), d, [2]model.Edge{a, b})
	require.NoError(t, err)
	assert.Equal(t, model.TriggerDissonance, p.TriggerType)
	assert.Equal(t, true, p.Metadata["neutral_summary"])
	assert.Equal(t, model.ActionResolveDissonance, p.ProposedAction.Action)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, p.AffectedEdges)
}

func TestApprove_IOLevelExecutes(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	exec := &recordingExecutor{}
	svc.RegisterExecutor(model.ActionUpdateInsight, exec)
	svc.now = func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) }

	p, err := svc.Create(context.Background(), CreateParams{
		Action:    model.ProposedAction{Action: model.ActionUpdateInsight, InsightID: ptr(uuid.New())},
		Reasoning: "Detected: drift.",
	})
	require.NoError(t, err)

	out, err := svc.Approve(context.Background(), p.ID, "io")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalApproved, out.Status)
	assert.True(t, out.ApprovedByIO)
	assert.Equal(t, 1, exec.calls)
	require.NotNil(t, out.UndoDeadline)
	assert.Equal(t, svc.now().Add(UndoRetention), *out.UndoDeadline)
	require.NotNil(t, out.ResolvedBy)
	assert.Equal(t, "io", *out.ResolvedBy)
	assert.Contains(t, out.Metadata, "executed")
}

func TestApprove_BilateralNeedsBoth(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	exec := &recordingExecutor{}
	svc.RegisterExecutor(model.ActionReclassifySector, exec)
	edge := seedEdge(store, true)

	p, err := svc.Create(context.Background(), CreateParams{
		Action:        model.ProposedAction{Action: model.ActionReclassifySector, NewSector: model.SectorEmotional},
		AffectedEdges: []uuid.UUID{edge.ID},
		Reasoning:     "Detected: sector mismatch.",
	})
	require.NoError(t, err)

	// First approval leaves the proposal pending and unexecuted.
	out, err := svc.Approve(context.Background(), p.ID, "io")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalPending, out.Status)
	assert.Zero(t, exec.calls)

	// Same actor cannot approve twice.
	_, err = svc.Approve(context.Background(), p.ID, "I/O")
	var coded *model.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, model.CodeConflict, coded.Code)

	// Second principal completes consent and triggers execution.
	out, err = svc.Approve(context.Background(), p.ID, "ethr")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalApproved, out.Status)
	assert.Equal(t, 1, exec.calls)
}

func TestApprove_InvalidActor(t *testing.T) {
	svc := newTestService(newFakeStore())
	_, err := svc.Approve(context.Background(), uuid.New(), "admin")
	var coded *model.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, model.CodeValidation, coded.Code)
}

func TestApprove_MissingExecutor(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	p, err := svc.Create(context.Background(), CreateParams{
		Action:    model.ProposedAction{Action: model.ActionUpdateInsight},
		Reasoning: "Detected: drift.",
	})
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), p.ID, "io")
	var coded *model.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, model.CodeHandlerError, coded.Code)

	// The failed execution must not have advanced the status.
	got, err := svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalPending, got.Status)
}

func TestReject(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	p, err := svc.Create(context.Background(), CreateParams{
		Action:    model.ProposedAction{Action: model.ActionUpdateInsight},
		Reasoning: "Detected: drift.",
	})
	require.NoError(t, err)

	out, err := svc.Reject(context.Background(), p.ID, "stale detection", "system")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalRejected, out.Status)
	assert.Equal(t, "stale detection", out.Metadata["rejection_reason"])

	// Rejecting twice is a conflict.
	_, err = svc.Reject(context.Background(), p.ID, "again", "io")
	var coded *model.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, model.CodeConflict, coded.Code)
}

func TestUndo_ReversesExecutionEffects(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	superseded := seedEdge(store, false)
	resolutionEdge := seedEdge(store, false)
	reclassified := seedEdge(store, false)

	exec := &recordingExecutor{record: model.ExecutionRecord{
		ResolutionEdgeIDs: []uuid.UUID{resolutionEdge.ID},
		SupersededEdgeIDs: []uuid.UUID{superseded.ID},
		Reclassified: &model.Reclassification{
			FromSector: model.SectorSemantic,
			ToSector:   model.SectorEmotional,
		},
		ReclassifiedEdge: ptr(reclassified.ID),
	}}
	svc.RegisterExecutor(model.ActionResolveDissonance, exec)

	p, err := svc.Create(context.Background(), CreateParams{
		Action: model.ProposedAction{
			Action:         model.ActionResolveDissonance,
			ResolutionType: model.DissonanceEvolution,
			EdgeAID:        ptr(superseded.ID),
			EdgeBID:        ptr(resolutionEdge.ID),
		},
		Reasoning: "Detected: evolution.",
	})
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), p.ID, "io")
	require.NoError(t, err)

	// Simulate the executed state the record describes.
	_, err = store.m.MarkSuperseded(context.Background(), superseded.ID, "io", time.Now())
	require.NoError(t, err)
	require.NoError(t, store.m.SetEdgeSector(context.Background(), reclassified.ID, model.SectorEmotional, model.Reclassification{}))

	out, err := svc.Undo(context.Background(), p.ID, "ethr")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalUndone, out.Status)

	e, _ := store.m.GetEdge(context.Background(), superseded.ID)
	assert.False(t, e.IsSuperseded(), "supersede flag must be cleared")

	e, _ = store.m.GetEdge(context.Background(), resolutionEdge.ID)
	assert.Equal(t, true, e.Properties["orphaned"], "resolution edges are orphaned, not deleted")

	e, _ = store.m.GetEdge(context.Background(), reclassified.ID)
	assert.Equal(t, model.SectorSemantic, e.MemorySector, "sector reverted")

	assert.Contains(t, store.m.AuditActions(), model.AuditSMFUndo)
}

func TestUndo_RetentionExpired(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	svc.RegisterExecutor(model.ActionUpdateInsight, &recordingExecutor{})

	approvedAt := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return approvedAt }

	p, err := svc.Create(context.Background(), CreateParams{
		Action:    model.ProposedAction{Action: model.ActionUpdateInsight, InsightID: ptr(uuid.New())},
		Reasoning: "Detected: drift.",
	})
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), p.ID, "io")
	require.NoError(t, err)

	// 31 days later the window is closed.
	svc.now = func() time.Time { return approvedAt.AddDate(0, 0, 31) }
	_, err = svc.Undo(context.Background(), p.ID, "io")
	var coded *model.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, model.CodeRetentionExpired, coded.Code)

	// One day before the deadline it still works.
	svc.now = func() time.Time { return approvedAt.AddDate(0, 0, 29) }
	out, err := svc.Undo(context.Background(), p.ID, "io")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalUndone, out.Status)
}

func TestUndo_PendingProposalConflicts(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	p, err := svc.Create(context.Background(), CreateParams{
		Action:    model.ProposedAction{Action: model.ActionUpdateInsight},
		Reasoning: "Detected: drift.",
	})
	require.NoError(t, err)

	_, err = svc.Undo(context.Background(), p.ID, "io")
	var coded *model.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, model.CodeConflict, coded.Code)
}

func TestBulkApprove_Outcomes(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	svc.RegisterExecutor(model.ActionResolveDissonance, &recordingExecutor{})
	edge := seedEdge(store, true)
	a, b := seedEdge(store, false), seedEdge(store, false)

	// An IO-level resolution proposal, executable by io alone.
	ioProp, err := svc.Create(context.Background(), CreateParams{
		Action: model.ProposedAction{
			Action:         model.ActionResolveDissonance,
			ResolutionType: model.DissonanceNuance,
			EdgeAID:        ptr(a.ID),
			EdgeBID:        ptr(b.ID),
		},
		Reasoning: "Detected: nuance.",
	})
	require.NoError(t, err)

	// A bilateral proposal that io alone cannot complete.
	biProp, err := svc.Create(context.Background(), CreateParams{
		Action: model.ProposedAction{
			Action:         model.ActionResolveDissonance,
			ResolutionType: model.DissonanceEvolution,
			EdgeAID:        ptr(edge.ID),
			EdgeBID:        ptr(a.ID),
		},
		AffectedEdges: []uuid.UUID{edge.ID},
		Reasoning:     "Detected: evolution.",
	})
	require.NoError(t, err)

	// Dry run predicts without changing state.
	outcomes, err := svc.BulkApprove(context.Background(), BulkFilter{}, "io", true)
	require.NoError(t, err)
	assert.Len(t, outcomes, 2)
	got, _ := svc.Get(context.Background(), ioProp.ID)
	assert.Equal(t, model.ProposalPending, got.Status)

	// Filter by resolution type narrows the set.
	outcomes, err = svc.BulkApprove(context.Background(), BulkFilter{ResolutionType: model.DissonanceNuance}, "io", false)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, ioProp.ID, outcomes[0].ProposalID)
	assert.Equal(t, "succeeded", outcomes[0].Outcome)

	// Remaining bilateral proposal awaits the second principal.
	outcomes, err = svc.BulkApprove(context.Background(), BulkFilter{}, "io", false)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, biProp.ID, outcomes[0].ProposalID)
	assert.Equal(t, "awaiting_bilateral", outcomes[0].Outcome)

	// io already approved; another pass skips it.
	outcomes, err = svc.BulkApprove(context.Background(), BulkFilter{}, "io", false)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "skipped", outcomes[0].Outcome)
}

func TestRenderNeutralReasoning_PassesStopList(t *testing.T) {
	d := model.DissonanceResult{
		EdgeAID:     uuid.New(),
		EdgeBID:     uuid.New(),
		Type:        model.DissonanceContradiction,
		Confidence:  0.82,
		Description: "the statements assign different employers",
	}
	text := RenderNeutralReasoning(summaryFromDissonance(d))
	assert.NoError(t, validateNeutrality(context.Background(), text, nil))
	assert.Contains(t, text, "Detected:")
	assert.Contains(t, text, "If approved:")
	assert.Contains(t, text, "If rejected:")
}

func TestValidateNeutrality_WordBoundaries(t *testing.T) {
	// "mustard" starts with "must"; the scan anchors at word start only, so
	// it still trips. Substrings inside words do not.
	assert.Error(t, validateNeutrality(context.Background(), "add mustard", nil))
	assert.NoError(t, validateNeutrality(context.Background(), "the thermostat is set", nil))
	assert.NoError(t, validateNeutrality(context.Background(), "edge links two nodes", nil))
}

func ptr[T any](v T) *T { return &v }
