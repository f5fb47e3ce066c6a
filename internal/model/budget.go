package model

import "time"

// Budget is a monthly spending cap. An empty Category means the budget covers
// all expenses ("overall").
type Budget struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Category      string    `json:"category,omitempty"`
	AmountMonthly float64   `json:"amount_monthly"`
	Currency      string    `json:"currency"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BudgetStatus buckets how much of a budget has been used.
type BudgetStatus string

const (
	BudgetStatusOK      BudgetStatus = "ok"
	BudgetStatusWarning BudgetStatus = "warning"
	BudgetStatusDanger  BudgetStatus = "danger"
)

// BudgetUsage is the computed month-to-date position of a budget.
type BudgetUsage struct {
	BudgetID        string       `json:"budget_id"`
	Category        string       `json:"category,omitempty"`
	BudgetedAmount  float64      `json:"budgeted_amount"`
	SpentAmount     float64      `json:"spent_amount"`
	RemainingAmount float64      `json:"remaining_amount"`
	PercentUsed     float64      `json:"percent_used"`
	Status          BudgetStatus `json:"status"`
	Currency        string       `json:"currency"`
}

// Goal is a savings target.
type Goal struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	TargetAmount  float64   `json:"target_amount"`
	CurrentAmount float64   `json:"current_amount"`
	Deadline      time.Time `json:"deadline"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Progress returns current/target clamped to [0, 1].
func (g *Goal) Progress() float64 {
	if g.TargetAmount <= 0 {
		return 0
	}
	p := g.CurrentAmount / g.TargetAmount
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Remaining is the amount still to save, never negative.
func (g *Goal) Remaining() float64 {
	if r := g.TargetAmount - g.CurrentAmount; r > 0 {
		return r
	}
	return 0
}

// IsComplete reports whether the target has been reached.
func (g *Goal) IsComplete() bool {
	return g.CurrentAmount >= g.TargetAmount
}
