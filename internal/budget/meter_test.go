package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethr-ai/noema/internal/config"
	"github.com/ethr-ai/noema/internal/llm"
	"github.com/ethr-ai/noema/internal/model"
	"github.com/ethr-ai/noema/internal/testutil"
)

type fakeStore struct {
	mtd       float64
	mtdErr    error
	costLogs  []model.CostLogEntry
	retryLogs []model.RetryLogEntry
	alerts    []model.BudgetAlert
	recorded  bool
	insertErr error
}

func (f *fakeStore) InsertCostLog(_ context.Context, entry model.CostLogEntry) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.costLogs = append(f.costLogs, entry)
	return nil
}

func (f *fakeStore) InsertRetryLog(_ context.Context, entry model.RetryLogEntry) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.retryLogs = append(f.retryLogs, entry)
	return nil
}

func (f *fakeStore) MonthToDateCost(_ context.Context, _ time.Time) (float64, error) {
	return f.mtd, f.mtdErr
}

func (f *fakeStore) CostByAPI(_ context.Context, _ time.Time) (map[string]float64, error) {
	return map[string]float64{"openai": f.mtd}, nil
}

func (f *fakeStore) DailyCostSeries(_ context.Context, day time.Time) ([]model.DailyCost, error) {
	return []model.DailyCost{{Date: day, Cost: f.mtd}}, nil
}

func (f *fakeStore) InsertBudgetAlert(_ context.Context, alert model.BudgetAlert) (bool, error) {
	f.alerts = append(f.alerts, alert)
	return f.recorded, nil
}

// midAugust is day 15 of a 31-day month, so projection = mtd / 15 * 31.
var midAugust = time.Date(2026, 8, 15, 10, 30, 0, 0, time.UTC)

func newTestMeter(store *fakeStore, fc config.FileConfig) *Meter {
	m := NewMeter(store, fc, testutil.TestLogger())
	m.now = func() time.Time { return midAugust }
	return m
}

func TestCost_KnownModels(t *testing.T) {
	m := newTestMeter(&fakeStore{}, config.FileConfig{})

	// 1M prompt + 1M completion tokens at the gpt-4o-mini rates.
	usage := llm.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000, TotalTokens: 2_000_000}
	assert.InDelta(t, 0.75, m.Cost("gpt-4o-mini", usage), 1e-9)
	assert.InDelta(t, 12.50, m.Cost("gpt-4o", usage), 1e-9)
	assert.InDelta(t, 4.80, m.Cost("claude-3-5-haiku-latest", usage), 1e-9)
}

func TestCost_FlatRateUsesTotalTokens(t *testing.T) {
	m := newTestMeter(&fakeStore{}, config.FileConfig{})

	usage := llm.Usage{PromptTokens: 500_000, TotalTokens: 500_000}
	assert.InDelta(t, 0.01, m.Cost("text-embedding-3-small", usage), 1e-9)
}

func TestCost_UnknownModelOvercounts(t *testing.T) {
	m := newTestMeter(&fakeStore{}, config.FileConfig{})

	usage := llm.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000, TotalTokens: 2_000_000}
	assert.Equal(t, m.Cost("gpt-4o", usage), m.Cost("gpt-5-turbo-preview", usage))
}

func TestCost_FileRatesOverrideDefaults(t *testing.T) {
	m := newTestMeter(&fakeStore{}, config.FileConfig{
		Rates: map[string]config.ModelRate{
			"gpt-4o-mini": {InputPerMTok: 1.0, OutputPerMTok: 2.0},
		},
	})

	usage := llm.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000, TotalTokens: 2_000_000}
	assert.InDelta(t, 3.0, m.Cost("gpt-4o-mini", usage), 1e-9)
}

func TestNewMeter_Defaults(t *testing.T) {
	m := NewMeter(&fakeStore{}, config.FileConfig{}, testutil.TestLogger())
	assert.Equal(t, 50.0, m.limit)
	assert.Equal(t, 0.8, m.pct)

	m = NewMeter(&fakeStore{}, config.FileConfig{
		Budget: config.BudgetConfig{MonthlyLimit: 10, AlertPct: 0.5},
	}, testutil.TestLogger())
	assert.Equal(t, 10.0, m.limit)
	assert.Equal(t, 0.5, m.pct)

	// Out-of-range alert percentage falls back.
	m = NewMeter(&fakeStore{}, config.FileConfig{
		Budget: config.BudgetConfig{MonthlyLimit: 10, AlertPct: 1.5},
	}, testutil.TestLogger())
	assert.Equal(t, 0.8, m.pct)
}

func TestRecordCall_PersistsAndReturnsCost(t *testing.T) {
	store := &fakeStore{}
	m := newTestMeter(store, config.FileConfig{})

	usage := llm.Usage{PromptTokens: 2000, CompletionTokens: 500, TotalTokens: 2500}
	cost := m.RecordCall(context.Background(), "openai", "gpt-4o-mini", usage)
	assert.InDelta(t, 2000.0/1e6*0.15+500.0/1e6*0.60, cost, 1e-12)

	require.Len(t, store.costLogs, 1)
	entry := store.costLogs[0]
	assert.Equal(t, "openai", entry.APIName)
	assert.Equal(t, 1, entry.NumCalls)
	assert.Equal(t, 2500, entry.TokenCount)
	assert.InDelta(t, cost, entry.EstimatedCost, 1e-12)
	assert.True(t, entry.Date.Equal(time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)))
}

func TestRecordCall_BestEffortOnWriteFailure(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("connection reset")}
	m := newTestMeter(store, config.FileConfig{})

	cost := m.RecordCall(context.Background(), "openai", "gpt-4o-mini",
		llm.Usage{PromptTokens: 1000, TotalTokens: 1000})
	assert.Greater(t, cost, 0.0, "cost is returned even when persistence fails")
}

func TestRecordRetry(t *testing.T) {
	store := &fakeStore{}
	m := newTestMeter(store, config.FileConfig{})

	m.RecordRetry(context.Background(), model.RetryLogEntry{
		APIName: "anthropic", ErrorType: "rate_limited", RetryCount: 2, Success: true,
	})
	require.Len(t, store.retryLogs, 1)
	assert.Equal(t, "anthropic", store.retryLogs[0].APIName)
}

func TestSummary_ProjectsLinearly(t *testing.T) {
	store := &fakeStore{mtd: 15.0}
	m := newTestMeter(store, config.FileConfig{})

	s, err := m.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 15.0, s.MonthToDate)
	assert.InDelta(t, 31.0, s.ProjectedCost, 1e-9, "15 over 15 days extends to 31 over 31")
	assert.Equal(t, 50.0, s.BudgetLimit)
	assert.Equal(t, 15.0, s.ByAPI["openai"])
	require.Len(t, s.DailySeries, 1)
}

func TestSummary_PropagatesStoreError(t *testing.T) {
	store := &fakeStore{mtdErr: errors.New("boom")}
	m := newTestMeter(store, config.FileConfig{})

	_, err := m.Summary(context.Background())
	assert.Error(t, err)
}

func TestCheckBudget_BelowThresholdIsSilent(t *testing.T) {
	// Projection: 10/15*31 = 20.67, under 80% of 50.
	store := &fakeStore{mtd: 10.0}
	m := newTestMeter(store, config.FileConfig{})

	require.NoError(t, m.CheckBudget(context.Background()))
	assert.Empty(t, store.alerts)
}

func TestCheckBudget_ProjectedOverrun(t *testing.T) {
	// Projection: 20/15*31 = 41.33, at or above 80% of 50 but under the limit.
	store := &fakeStore{mtd: 20.0, recorded: true}
	m := newTestMeter(store, config.FileConfig{})

	require.NoError(t, m.CheckBudget(context.Background()))
	require.Len(t, store.alerts, 1)
	alert := store.alerts[0]
	assert.Equal(t, AlertProjectedOverrun, alert.AlertType)
	assert.InDelta(t, 41.33, alert.ProjectedCost, 0.01)
	assert.Equal(t, 50.0, alert.BudgetLimit)
	assert.InDelta(t, 40.0, alert.UtilizationPct, 1e-9)
	assert.True(t, alert.AlertSent)
	assert.Equal(t, []string{"log"}, alert.NotificationMethods)
}

func TestCheckBudget_LimitExceededFiresBoth(t *testing.T) {
	store := &fakeStore{mtd: 55.0, recorded: true}
	m := newTestMeter(store, config.FileConfig{})

	require.NoError(t, m.CheckBudget(context.Background()))
	require.Len(t, store.alerts, 2)
	types := []string{store.alerts[0].AlertType, store.alerts[1].AlertType}
	assert.ElementsMatch(t, []string{AlertProjectedOverrun, AlertLimitExceeded}, types)
}

func TestCheckBudget_DedupeIsStoreDriven(t *testing.T) {
	// recorded=false models the once-per-day unique constraint: the insert is
	// attempted but the store reports it was already there.
	store := &fakeStore{mtd: 55.0, recorded: false}
	m := newTestMeter(store, config.FileConfig{})

	require.NoError(t, m.CheckBudget(context.Background()))
	require.NoError(t, m.CheckBudget(context.Background()))
	assert.Len(t, store.alerts, 4, "the insert is retried; dedupe lives in the store")
}
