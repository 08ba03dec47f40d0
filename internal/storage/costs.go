package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ethr-ai/noema/internal/model"
)

// Cost and retry logs are operational tables, not project-scoped, so they
// use the pool directly.

// InsertCostLog appends one cost accounting row.
func (db *DB) InsertCostLog(ctx context.Context, entry model.CostLogEntry) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO api_cost_log (date, api_name, num_calls, token_count, estimated_cost)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.Date, entry.APIName, entry.NumCalls, entry.TokenCount, entry.EstimatedCost,
	)
	if err != nil {
		return fmt.Errorf("storage: insert cost log: %w", err)
	}
	return nil
}

// InsertRetryLog appends one retry outcome row.
func (db *DB) InsertRetryLog(ctx context.Context, entry model.RetryLogEntry) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO api_retry_log (api_name, error_type, retry_count, success)
		VALUES ($1, $2, $3, $4)`,
		entry.APIName, entry.ErrorType, entry.RetryCount, entry.Success,
	)
	if err != nil {
		return fmt.Errorf("storage: insert retry log: %w", err)
	}
	return nil
}

// MonthToDateCost sums estimated cost from the first of the month containing
// day through day itself.
func (db *DB) MonthToDateCost(ctx context.Context, day time.Time) (float64, error) {
	monthStart := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	var total float64
	err := db.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(estimated_cost), 0)
		FROM api_cost_log
		WHERE date >= $1 AND date <= $2`,
		monthStart, day,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("storage: month-to-date cost: %w", err)
	}
	return total, nil
}

// CostByAPI breaks the month's spend down per external API.
func (db *DB) CostByAPI(ctx context.Context, day time.Time) (map[string]float64, error) {
	monthStart := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	rows, err := db.pool.Query(ctx, `
		SELECT api_name, COALESCE(SUM(estimated_cost), 0)
		FROM api_cost_log
		WHERE date >= $1 AND date <= $2
		GROUP BY api_name`,
		monthStart, day,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: cost by API: %w", err)
	}
	defer rows.Close()

	byAPI := map[string]float64{}
	for rows.Next() {
		var name string
		var cost float64
		if err := rows.Scan(&name, &cost); err != nil {
			return nil, fmt.Errorf("storage: cost by API: %w", err)
		}
		byAPI[name] = cost
	}
	return byAPI, rows.Err()
}

// DailyCostSeries returns per-day spend for the month containing day.
func (db *DB) DailyCostSeries(ctx context.Context, day time.Time) ([]model.DailyCost, error) {
	monthStart := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	rows, err := db.pool.Query(ctx, `
		SELECT date, COALESCE(SUM(estimated_cost), 0)
		FROM api_cost_log
		WHERE date >= $1 AND date <= $2
		GROUP BY date
		ORDER BY date`,
		monthStart, day,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: daily cost series: %w", err)
	}
	defer rows.Close()

	var series []model.DailyCost
	for rows.Next() {
		var d model.DailyCost
		if err := rows.Scan(&d.Date, &d.Cost); err != nil {
			return nil, fmt.Errorf("storage: daily cost series: %w", err)
		}
		series = append(series, d)
	}
	return series, rows.Err()
}

// InsertBudgetAlert persists an alert unless one of the same type already
// exists for the day. Returns true when the alert was newly recorded.
func (db *DB) InsertBudgetAlert(ctx context.Context, alert model.BudgetAlert) (bool, error) {
	tag, err := db.pool.Exec(ctx, `
		INSERT INTO budget_alerts
			(alert_date, alert_type, projected_cost, budget_limit,
			 utilization_pct, alert_sent, notification_methods)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (alert_date, alert_type) DO NOTHING`,
		alert.AlertDate, alert.AlertType, alert.ProjectedCost, alert.BudgetLimit,
		alert.UtilizationPct, alert.AlertSent, alert.NotificationMethods,
	)
	if err != nil {
		return false, fmt.Errorf("storage: insert budget alert: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
