// Package budget meters the monetary cost of external API calls and raises
// alerts when the monthly projection crosses the configured limit.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethr-ai/noema/internal/config"
	"github.com/ethr-ai/noema/internal/llm"
	"github.com/ethr-ai/noema/internal/model"
)

// Store is the slice of the storage layer the meter needs. *storage.DB
// implements it.
type Store interface {
	InsertCostLog(ctx context.Context, entry model.CostLogEntry) error
	InsertRetryLog(ctx context.Context, entry model.RetryLogEntry) error
	MonthToDateCost(ctx context.Context, day time.Time) (float64, error)
	CostByAPI(ctx context.Context, day time.Time) (map[string]float64, error)
	DailyCostSeries(ctx context.Context, day time.Time) ([]model.DailyCost, error)
	InsertBudgetAlert(ctx context.Context, alert model.BudgetAlert) (bool, error)
}

// Built-in cost table, USD per 1M tokens. The YAML cost_rates section
// overrides per model. Unknown models bill at the most expensive known
// chat rate so a misconfigured model name overcounts rather than
// undercounts.
var defaultRates = map[string]config.ModelRate{
	"gpt-4o-mini":             {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4o":                  {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"claude-3-5-haiku-latest": {InputPerMTok: 0.80, OutputPerMTok: 4.00},
	"text-embedding-3-small":  {PerMTok: 0.02},
}

const fallbackRateModel = "gpt-4o"

// Default budget settings when the YAML budget section is absent.
const (
	defaultMonthlyLimit = 50.0
	defaultAlertPct     = 0.8
)

// Alert types persisted in budget_alerts, at most one of each per day.
const (
	AlertProjectedOverrun = "projected_overrun"
	AlertLimitExceeded    = "limit_exceeded"
)

// Meter computes per-call costs, persists them, and evaluates the monthly
// budget. It doubles as the retry recorder for the LLM retrier.
type Meter struct {
	store  Store
	rates  map[string]config.ModelRate
	limit  float64
	pct    float64
	logger *slog.Logger
	now    func() time.Time
}

var _ llm.RetryRecorder = (*Meter)(nil)

// NewMeter builds a meter from the file-backed budget configuration.
func NewMeter(store Store, fc config.FileConfig, logger *slog.Logger) *Meter {
	rates := make(map[string]config.ModelRate, len(defaultRates)+len(fc.Rates))
	for name, rate := range defaultRates {
		rates[name] = rate
	}
	for name, rate := range fc.Rates {
		rates[name] = rate
	}

	limit := fc.Budget.MonthlyLimit
	if limit <= 0 {
		limit = defaultMonthlyLimit
	}
	pct := fc.Budget.AlertPct
	if pct <= 0 || pct > 1 {
		pct = defaultAlertPct
	}
	return &Meter{
		store:  store,
		rates:  rates,
		limit:  limit,
		pct:    pct,
		logger: logger,
		now:    time.Now,
	}
}

// Cost prices one call's token usage for the given model.
func (m *Meter) Cost(modelName string, usage llm.Usage) float64 {
	rate, ok := m.rates[modelName]
	if !ok {
		rate = m.rates[fallbackRateModel]
	}
	if rate.PerMTok > 0 {
		return float64(usage.TotalTokens) / 1e6 * rate.PerMTok
	}
	return float64(usage.PromptTokens)/1e6*rate.InputPerMTok +
		float64(usage.CompletionTokens)/1e6*rate.OutputPerMTok
}

// RecordCall prices and persists one call. Persistence is best-effort; the
// computed cost is returned either way so callers can aggregate it.
func (m *Meter) RecordCall(ctx context.Context, apiName, modelName string, usage llm.Usage) float64 {
	cost := m.Cost(modelName, usage)
	err := m.store.InsertCostLog(ctx, model.CostLogEntry{
		Date:          m.today(),
		APIName:       apiName,
		NumCalls:      1,
		TokenCount:    usage.TotalTokens,
		EstimatedCost: cost,
	})
	if err != nil {
		m.logger.Warn("budget: cost log write failed", "api", apiName, "error", err)
	}
	return cost
}

// RecordRetry persists one retry outcome, best-effort.
func (m *Meter) RecordRetry(ctx context.Context, entry model.RetryLogEntry) {
	if err := m.store.InsertRetryLog(ctx, entry); err != nil {
		m.logger.Warn("budget: retry log write failed", "api", entry.APIName, "error", err)
	}
}

// Summary aggregates the current month's spend with a linear projection to
// month end.
func (m *Meter) Summary(ctx context.Context) (model.CostSummary, error) {
	day := m.today()
	mtd, err := m.store.MonthToDateCost(ctx, day)
	if err != nil {
		return model.CostSummary{}, fmt.Errorf("budget: summary: %w", err)
	}
	byAPI, err := m.store.CostByAPI(ctx, day)
	if err != nil {
		return model.CostSummary{}, fmt.Errorf("budget: summary: %w", err)
	}
	series, err := m.store.DailyCostSeries(ctx, day)
	if err != nil {
		return model.CostSummary{}, fmt.Errorf("budget: summary: %w", err)
	}
	return model.CostSummary{
		MonthToDate:   mtd,
		ProjectedCost: project(mtd, day),
		BudgetLimit:   m.limit,
		ByAPI:         byAPI,
		DailySeries:   series,
	}, nil
}

// CheckBudget evaluates the monthly projection and persists at most one
// alert per type per day. Newly recorded alerts are logged at warn level;
// that is the notification channel of a stdio server.
func (m *Meter) CheckBudget(ctx context.Context) error {
	day := m.today()
	mtd, err := m.store.MonthToDateCost(ctx, day)
	if err != nil {
		return fmt.Errorf("budget: check: %w", err)
	}
	projected := project(mtd, day)

	type candidate struct {
		alertType string
		fire      bool
	}
	for _, c := range []candidate{
		{AlertProjectedOverrun, projected >= m.limit*m.pct},
		{AlertLimitExceeded, mtd >= m.limit},
	} {
		if !c.fire {
			continue
		}
		recorded, err := m.store.InsertBudgetAlert(ctx, model.BudgetAlert{
			AlertDate:           day,
			AlertType:           c.alertType,
			ProjectedCost:       projected,
			BudgetLimit:         m.limit,
			UtilizationPct:      mtd / m.limit * 100,
			AlertSent:           true,
			NotificationMethods: []string{"log"},
		})
		if err != nil {
			return fmt.Errorf("budget: check: %w", err)
		}
		if recorded {
			m.logger.Warn("budget: alert",
				"type", c.alertType, "month_to_date", mtd,
				"projected", projected, "limit", m.limit)
		}
	}
	return nil
}

// project extends month-to-date spend linearly over the full month.
func project(mtd float64, day time.Time) float64 {
	elapsed := day.Day()
	daysInMonth := time.Date(day.Year(), day.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	return mtd / float64(elapsed) * float64(daysInMonth)
}

func (m *Meter) today() time.Time {
	n := m.now().UTC()
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
}
