package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/castlemilk/pfinance-insights/internal/model"
	"github.com/google/uuid"
)

// MemoryStore implements Store interface with in-memory storage.
// Records are copied on the way in and out so callers never share state
// with the store.
type MemoryStore struct {
	mu sync.RWMutex

	transactions map[string]*model.Transaction
	recurring    map[string]*model.RecurringCharge
	budgets      map[string]*model.Budget
	goals        map[string]*model.Goal
	alerts       map[string]*model.Alert
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]*model.Transaction),
		recurring:    make(map[string]*model.RecurringCharge),
		budgets:      make(map[string]*model.Budget),
		goals:        make(map[string]*model.Goal),
		alerts:       make(map[string]*model.Alert),
	}
}

func recurringKey(userID, merchant string) string {
	return userID + "\x00" + merchant
}

// Transaction operations

func (m *MemoryStore) CreateTransactions(ctx context.Context, txs []*model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, tx := range txs {
		if tx.ID == "" {
			tx.ID = uuid.New().String()
		}
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = now
		}
		cp := *tx
		m.transactions[tx.ID] = &cp
	}
	return nil
}

func (m *MemoryStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]*model.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matching []*model.Transaction
	for _, tx := range m.transactions {
		if !filter.Matches(tx) {
			continue
		}
		cp := *tx
		matching = append(matching, &cp)
	}

	// Newest first, ID as a stable tie-breaker
	sort.Slice(matching, func(i, j int) bool {
		if !matching[i].Date.Equal(matching[j].Date) {
			return matching[i].Date.After(matching[j].Date)
		}
		return matching[i].ID < matching[j].ID
	})

	if filter.Limit > 0 && len(matching) > filter.Limit {
		matching = matching[:filter.Limit]
	}
	return matching, nil
}

func (m *MemoryStore) AggregateTransactions(ctx context.Context, filter TransactionFilter) (Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var agg Aggregate
	for _, tx := range m.transactions {
		if filter.Matches(tx) {
			agg.Sum += tx.Amount
			agg.Count++
		}
	}
	return agg, nil
}

func (m *MemoryStore) MarkRecurring(ctx context.Context, userID, merchant string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, tx := range m.transactions {
		if tx.UserID == userID && tx.Merchant == merchant && !tx.IsRecurring {
			tx.IsRecurring = true
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) SetAnomaly(ctx context.Context, transactionID string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[transactionID]
	if !ok {
		return fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	tx.IsAnomaly = true
	tx.AnomalyScore = score
	return nil
}

// Recurring charge operations

func (m *MemoryStore) UpsertRecurringCharge(ctx context.Context, rc *model.RecurringCharge) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	key := recurringKey(rc.UserID, rc.Merchant)
	existing, ok := m.recurring[key]
	if ok {
		rc.ID = existing.ID
		rc.IsActive = existing.IsActive
		rc.CreatedAt = existing.CreatedAt
	} else {
		if rc.ID == "" {
			rc.ID = uuid.New().String()
		}
		rc.IsActive = true
		rc.CreatedAt = now
	}
	rc.UpdatedAt = now

	cp := *rc
	m.recurring[key] = &cp
	return !ok, nil
}

func (m *MemoryStore) ListRecurringCharges(ctx context.Context, userID string, activeOnly bool) ([]*model.RecurringCharge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.RecurringCharge
	for _, rc := range m.recurring {
		if userID != "" && rc.UserID != userID {
			continue
		}
		if activeOnly && !rc.IsActive {
			continue
		}
		cp := *rc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Merchant < out[j].Merchant
	})
	return out, nil
}

// Budget operations

func (m *MemoryStore) CreateBudget(ctx context.Context, budget *model.Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if budget.ID == "" {
		budget.ID = uuid.New().String()
	}
	cp := *budget
	m.budgets[budget.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBudget(ctx context.Context, budgetID string) (*model.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	budget, ok := m.budgets[budgetID]
	if !ok {
		return nil, fmt.Errorf("budget %s: %w", budgetID, ErrNotFound)
	}
	cp := *budget
	return &cp, nil
}

func (m *MemoryStore) UpdateBudget(ctx context.Context, budget *model.Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.budgets[budget.ID]; !ok {
		return fmt.Errorf("budget %s: %w", budget.ID, ErrNotFound)
	}
	cp := *budget
	m.budgets[budget.ID] = &cp
	return nil
}

func (m *MemoryStore) ListBudgets(ctx context.Context, userID string, includeInactive bool) ([]*model.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Budget
	for _, b := range m.budgets {
		if b.UserID != userID {
			continue
		}
		if !includeInactive && !b.IsActive {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) FindActiveBudget(ctx context.Context, userID, category string) (*model.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.budgets {
		if b.UserID == userID && b.Category == category && b.IsActive {
			cp := *b
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("active budget for %q: %w", category, ErrNotFound)
}

// Goal operations

func (m *MemoryStore) CreateGoal(ctx context.Context, goal *model.Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if goal.ID == "" {
		goal.ID = uuid.New().String()
	}
	cp := *goal
	m.goals[goal.ID] = &cp
	return nil
}

func (m *MemoryStore) GetGoal(ctx context.Context, goalID string) (*model.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	goal, ok := m.goals[goalID]
	if !ok {
		return nil, fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	cp := *goal
	return &cp, nil
}

func (m *MemoryStore) UpdateGoal(ctx context.Context, goal *model.Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.goals[goal.ID]; !ok {
		return fmt.Errorf("goal %s: %w", goal.ID, ErrNotFound)
	}
	cp := *goal
	m.goals[goal.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteGoal(ctx context.Context, goalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.goals[goalID]; !ok {
		return fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	delete(m.goals, goalID)
	return nil
}

func (m *MemoryStore) ListGoals(ctx context.Context, userID string, activeOnly bool) ([]*model.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Goal
	for _, g := range m.goals {
		if g.UserID != userID {
			continue
		}
		if activeOnly && !g.IsActive {
			continue
		}
		cp := *g
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Alert operations

func (m *MemoryStore) CreateAlert(ctx context.Context, alert *model.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	cp := *alert
	m.alerts[alert.ID] = &cp
	return nil
}

func (m *MemoryStore) ListAlerts(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matching []*model.Alert
	for _, a := range m.alerts {
		if a.UserID != userID {
			continue
		}
		if unreadOnly && a.IsRead {
			continue
		}
		cp := *a
		matching = append(matching, &cp)
	}

	// Sort by created_at descending (newest first)
	sort.Slice(matching, func(i, j int) bool {
		if !matching[i].CreatedAt.Equal(matching[j].CreatedAt) {
			return matching[i].CreatedAt.After(matching[j].CreatedAt)
		}
		return matching[i].ID < matching[j].ID
	})

	if limit > 0 && len(matching) > limit {
		matching = matching[:limit]
	}
	return matching, nil
}

func (m *MemoryStore) MarkAlertsRead(ctx context.Context, userID string, alertIDs []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	count := 0
	for _, id := range alertIDs {
		a, ok := m.alerts[id]
		if !ok || a.UserID != userID || a.IsRead {
			continue
		}
		a.IsRead = true
		readAt := now
		a.ReadAt = &readAt
		count++
	}
	return count, nil
}

func (m *MemoryStore) HasUnreadAlert(ctx context.Context, userID string, alertType model.AlertType, dedupKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.alerts {
		if a.UserID == userID && a.Type == alertType && a.DedupKey == dedupKey && !a.IsRead {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) UnreadAlertCount(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, a := range m.alerts {
		if a.UserID == userID && !a.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) DeleteUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, tx := range m.transactions {
		if tx.UserID == userID {
			delete(m.transactions, id)
		}
	}
	for key, rc := range m.recurring {
		if rc.UserID == userID {
			delete(m.recurring, key)
		}
	}
	for id, b := range m.budgets {
		if b.UserID == userID {
			delete(m.budgets, id)
		}
	}
	for id, g := range m.goals {
		if g.UserID == userID {
			delete(m.goals, id)
		}
	}
	for id, a := range m.alerts {
		if a.UserID == userID {
			delete(m.alerts, id)
		}
	}
	return nil
}
