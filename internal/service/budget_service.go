package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/castlemilk/pfinance-insights/internal/logger"
	"github.com/castlemilk/pfinance-insights/internal/model"
	"github.com/castlemilk/pfinance-insights/internal/store"
	"github.com/rs/zerolog"
)

const (
	defaultCurrency = "USD"

	budgetOKPercent      = 70.0
	budgetWarningPercent = 90.0
	maxDisplayPercent    = 999.99
)

// ParseMonth parses a "YYYY-MM" month. The empty string yields the zero time,
// which callers treat as the current month.
func ParseMonth(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	month, err := time.Parse("2006-01", s)
	if err != nil {
		return time.Time{}, validationErrorf("invalid month %q, expected YYYY-MM", s)
	}
	return month, nil
}

// MonthWindow returns the first instant and the last second of the UTC month
// containing t.
func MonthWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Second)
	return start, end
}

// BudgetUpdate carries the mutable budget fields; nil fields are left unchanged.
type BudgetUpdate struct {
	AmountMonthly *float64 `json:"amount_monthly,omitempty"`
	Currency      *string  `json:"currency,omitempty"`
}

// BudgetService manages budgets and computes their month-to-date usage.
type BudgetService struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewBudgetService(st store.Store, log zerolog.Logger) *BudgetService {
	return &BudgetService{
		store: st,
		log:   logger.Component(log, "budget_service"),
		now:   time.Now,
	}
}

// CreateBudget creates an active budget. An empty category creates the
// overall budget. Only one active budget may exist per (user, category).
func (s *BudgetService) CreateBudget(ctx context.Context, userID, category string, amountMonthly float64, currency string) (*model.Budget, error) {
	category = strings.TrimSpace(category)
	if amountMonthly <= 0 {
		return nil, validationErrorf("amount_monthly must be greater than zero")
	}
	if currency == "" {
		currency = defaultCurrency
	}

	_, err := s.store.FindActiveBudget(ctx, userID, category)
	switch {
	case err == nil:
		label := category
		if label == "" {
			label = "overall"
		}
		return nil, validationErrorf("Active budget for category '%s' already exists", label)
	case !errors.Is(err, store.ErrNotFound):
		return nil, wrapStoreError("check existing budget", err)
	}

	now := s.now().UTC()
	budget := &model.Budget{
		UserID:        userID,
		Category:      category,
		AmountMonthly: amountMonthly,
		Currency:      strings.ToUpper(currency),
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateBudget(ctx, budget); err != nil {
		return nil, wrapStoreError("create budget", err)
	}

	s.log.Info().Str("user_id", userID).Str("budget_id", budget.ID).Str("category", category).Msg("budget created")
	return budget, nil
}

// getOwnedBudget loads a budget and hides budgets owned by other users.
func (s *BudgetService) getOwnedBudget(ctx context.Context, userID, budgetID string) (*model.Budget, error) {
	budget, err := s.store.GetBudget(ctx, budgetID)
	if err != nil {
		return nil, wrapStoreError("get budget", err)
	}
	if budget.UserID != userID {
		return nil, fmt.Errorf("budget %s: %w", budgetID, store.ErrNotFound)
	}
	return budget, nil
}

func (s *BudgetService) UpdateBudget(ctx context.Context, userID, budgetID string, update BudgetUpdate) (*model.Budget, error) {
	budget, err := s.getOwnedBudget(ctx, userID, budgetID)
	if err != nil {
		return nil, err
	}

	if update.AmountMonthly != nil {
		if *update.AmountMonthly <= 0 {
			return nil, validationErrorf("amount_monthly must be greater than zero")
		}
		budget.AmountMonthly = *update.AmountMonthly
	}
	if update.Currency != nil && *update.Currency != "" {
		budget.Currency = strings.ToUpper(*update.Currency)
	}
	budget.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateBudget(ctx, budget); err != nil {
		return nil, wrapStoreError("update budget", err)
	}
	return budget, nil
}

// DeleteBudget deactivates a budget; budget records are never removed.
func (s *BudgetService) DeleteBudget(ctx context.Context, userID, budgetID string) error {
	budget, err := s.getOwnedBudget(ctx, userID, budgetID)
	if err != nil {
		return err
	}
	if !budget.IsActive {
		return nil
	}

	budget.IsActive = false
	budget.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateBudget(ctx, budget); err != nil {
		return wrapStoreError("deactivate budget", err)
	}
	return nil
}

func (s *BudgetService) ListBudgets(ctx context.Context, userID string, includeInactive bool) ([]*model.Budget, error) {
	budgets, err := s.store.ListBudgets(ctx, userID, includeInactive)
	if err != nil {
		return nil, wrapStoreError("list budgets", err)
	}
	return budgets, nil
}

// CalculateBudgetUsage returns the usage of every active budget for the
// month containing month. A zero month means the current month.
func (s *BudgetService) CalculateBudgetUsage(ctx context.Context, userID string, month time.Time) ([]model.BudgetUsage, error) {
	if month.IsZero() {
		month = s.now()
	}
	start, end := MonthWindow(month)

	budgets, err := s.store.ListBudgets(ctx, userID, false)
	if err != nil {
		return nil, wrapStoreError("list budgets", err)
	}

	usage := make([]model.BudgetUsage, 0, len(budgets))
	for _, b := range budgets {
		spent, err := s.spentInWindow(ctx, b, start, end)
		if err != nil {
			return nil, err
		}
		usage = append(usage, computeUsage(b, spent))
	}
	return usage, nil
}

// spentInWindow sums the budget's matching expenses between start and end inclusive.
func (s *BudgetService) spentInWindow(ctx context.Context, b *model.Budget, start, end time.Time) (float64, error) {
	agg, err := s.store.AggregateTransactions(ctx, store.TransactionFilter{
		UserID:   b.UserID,
		Type:     model.TransactionTypeExpense,
		Category: b.Category,
		Start:    start,
		End:      end,
	})
	if err != nil {
		return 0, wrapStoreError("sum budget spending", err)
	}
	return agg.Sum, nil
}

// usagePercent is spent as a percentage of budgeted, 0 for a non-positive budget.
func usagePercent(spent, budgeted float64) float64 {
	if budgeted <= 0 {
		return 0
	}
	return spent * 100 / budgeted
}

func budgetStatus(percent float64) model.BudgetStatus {
	switch {
	case percent <= budgetOKPercent:
		return model.BudgetStatusOK
	case percent <= budgetWarningPercent:
		return model.BudgetStatusWarning
	default:
		return model.BudgetStatusDanger
	}
}

func computeUsage(b *model.Budget, spent float64) model.BudgetUsage {
	percent := usagePercent(spent, b.AmountMonthly)
	return model.BudgetUsage{
		BudgetID:        b.ID,
		Category:        b.Category,
		BudgetedAmount:  b.AmountMonthly,
		SpentAmount:     roundCents(spent),
		RemainingAmount: roundCents(b.AmountMonthly - spent),
		PercentUsed:     math.Min(roundCents(percent), maxDisplayPercent),
		Status:          budgetStatus(percent),
		Currency:        b.Currency,
	}
}
