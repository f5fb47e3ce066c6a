package store

import (
	"context"
	"errors"
	"time"

	"github.com/castlemilk/pfinance-insights/internal/model"
)

//go:generate mockgen -source=store.go -destination=store_mock.go -package=store

// ErrNotFound is returned (wrapped) when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// TransactionFilter narrows a transaction query. Zero values mean "no filter".
// Start and End are both inclusive.
type TransactionFilter struct {
	UserID        string
	Type          model.TransactionType
	Category      string
	Merchant      string
	Start         time.Time
	End           time.Time
	AnomalousOnly bool
	Limit         int
}

// Matches reports whether tx satisfies every set field of the filter.
func (f TransactionFilter) Matches(tx *model.Transaction) bool {
	if f.UserID != "" && tx.UserID != f.UserID {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Category != "" && tx.Category != f.Category {
		return false
	}
	if f.Merchant != "" && tx.Merchant != f.Merchant {
		return false
	}
	if !f.Start.IsZero() && tx.Date.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && tx.Date.After(f.End) {
		return false
	}
	if f.AnomalousOnly && !tx.IsAnomaly {
		return false
	}
	return true
}

// Aggregate is the sum and count of a set of transaction amounts.
type Aggregate struct {
	Sum   float64
	Count int
}

// Avg returns Sum/Count, or 0 for an empty aggregate.
func (a Aggregate) Avg() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Sum / float64(a.Count)
}

// Store defines the interface for all database operations used by the services
type Store interface {
	// Transaction operations. ListTransactions returns newest first.
	CreateTransactions(ctx context.Context, txs []*model.Transaction) error
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*model.Transaction, error)
	AggregateTransactions(ctx context.Context, filter TransactionFilter) (Aggregate, error)
	MarkRecurring(ctx context.Context, userID, merchant string) (int, error)
	SetAnomaly(ctx context.Context, transactionID string, score float64) error

	// Recurring charge operations. Upsert is keyed on (UserID, Merchant) and
	// preserves IsActive and CreatedAt of an existing record.
	UpsertRecurringCharge(ctx context.Context, rc *model.RecurringCharge) (bool, error)
	ListRecurringCharges(ctx context.Context, userID string, activeOnly bool) ([]*model.RecurringCharge, error)

	// Budget operations
	CreateBudget(ctx context.Context, budget *model.Budget) error
	GetBudget(ctx context.Context, budgetID string) (*model.Budget, error)
	UpdateBudget(ctx context.Context, budget *model.Budget) error
	ListBudgets(ctx context.Context, userID string, includeInactive bool) ([]*model.Budget, error)
	FindActiveBudget(ctx context.Context, userID, category string) (*model.Budget, error)

	// Goal operations
	CreateGoal(ctx context.Context, goal *model.Goal) error
	GetGoal(ctx context.Context, goalID string) (*model.Goal, error)
	UpdateGoal(ctx context.Context, goal *model.Goal) error
	DeleteGoal(ctx context.Context, goalID string) error
	ListGoals(ctx context.Context, userID string, activeOnly bool) ([]*model.Goal, error)

	// Alert operations. ListAlerts returns newest first; limit <= 0 means all.
	CreateAlert(ctx context.Context, alert *model.Alert) error
	ListAlerts(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*model.Alert, error)
	MarkAlertsRead(ctx context.Context, userID string, alertIDs []string) (int, error)
	HasUnreadAlert(ctx context.Context, userID string, alertType model.AlertType, dedupKey string) (bool, error)
	UnreadAlertCount(ctx context.Context, userID string) (int, error)

	// DeleteUser removes every record owned by the user.
	DeleteUser(ctx context.Context, userID string) error
}
