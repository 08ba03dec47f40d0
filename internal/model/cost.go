package model

import "time"

// CostLogEntry is one row of per-call monetary cost accounting.
type CostLogEntry struct {
	Date          time.Time `json:"date"`
	APIName       string    `json:"api_name"`
	NumCalls      int       `json:"num_calls"`
	TokenCount    int       `json:"token_count"`
	EstimatedCost float64   `json:"estimated_cost"`
}

// RetryLogEntry records the outcome of a retried external call: a success
// entry after recovery, or a failure entry after exhaustion.
type RetryLogEntry struct {
	APIName    string    `json:"api_name"`
	ErrorType  string    `json:"error_type"`
	RetryCount int       `json:"retry_count"`
	Success    bool      `json:"success"`
	CreatedAt  time.Time `json:"created_at"`
}

// BudgetAlert is a persisted threshold breach of the monthly budget
// projection.
type BudgetAlert struct {
	AlertDate           time.Time `json:"alert_date"`
	AlertType           string    `json:"alert_type"`
	ProjectedCost       float64   `json:"projected_cost"`
	BudgetLimit         float64   `json:"budget_limit"`
	UtilizationPct      float64   `json:"utilization_pct"`
	AlertSent           bool      `json:"alert_sent"`
	NotificationMethods []string  `json:"notification_methods,omitempty"`
}

// CostSummary aggregates spend for the budget tools and the status resource.
type CostSummary struct {
	MonthToDate   float64            `json:"month_to_date"`
	ProjectedCost float64            `json:"projected_cost"`
	BudgetLimit   float64            `json:"budget_limit"`
	ByAPI         map[string]float64 `json:"by_api"`
	DailySeries   []DailyCost        `json:"daily_series,omitempty"`
}

// DailyCost is one day of the cost series.
type DailyCost struct {
	Date time.Time `json:"date"`
	Cost float64   `json:"cost"`
}
