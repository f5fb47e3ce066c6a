package store

import (
	"context"
	"fmt"

	"github.com/castlemilk/pfinance-insights/internal/model"
	"github.com/dgraph-io/ristretto"
)

// CachedStore is a read-through cache in front of another Store. It caches
// the per-user budget and recurring-charge lists, which every alert pass
// reads, and drops them on any write that touches those records.
type CachedStore struct {
	Store
	cache *ristretto.Cache
}

// NewCachedStore wraps next with a ristretto cache bounded by maxCost entries.
func NewCachedStore(next Store, maxCost int64) (*CachedStore, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCost * 10, // number of keys to track frequency of
		MaxCost:     maxCost,
		BufferItems: 64, // number of keys per Get buffer
		// cost is counted in entries, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	return &CachedStore{Store: next, cache: cache}, nil
}

// Close releases the cache's background goroutines.
func (c *CachedStore) Close() {
	c.cache.Close()
}

// Wait blocks until pending cache writes are applied.
func (c *CachedStore) Wait() {
	c.cache.Wait()
}

func budgetsKey(userID string, includeInactive bool) string {
	return fmt.Sprintf("budgets:%s:%t", userID, includeInactive)
}

func recurringListKey(userID string, activeOnly bool) string {
	return fmt.Sprintf("recurring:%s:%t", userID, activeOnly)
}

func (c *CachedStore) invalidateBudgets(userID string) {
	c.cache.Del(budgetsKey(userID, true))
	c.cache.Del(budgetsKey(userID, false))
}

func (c *CachedStore) invalidateRecurring(userID string) {
	c.cache.Del(recurringListKey(userID, true))
	c.cache.Del(recurringListKey(userID, false))
}

func copyBudgets(in []*model.Budget) []*model.Budget {
	out := make([]*model.Budget, len(in))
	for i, b := range in {
		cp := *b
		out[i] = &cp
	}
	return out
}

func copyRecurring(in []*model.RecurringCharge) []*model.RecurringCharge {
	out := make([]*model.RecurringCharge, len(in))
	for i, rc := range in {
		cp := *rc
		out[i] = &cp
	}
	return out
}

func (c *CachedStore) ListBudgets(ctx context.Context, userID string, includeInactive bool) ([]*model.Budget, error) {
	key := budgetsKey(userID, includeInactive)
	if v, ok := c.cache.Get(key); ok {
		return copyBudgets(v.([]*model.Budget)), nil
	}

	budgets, err := c.Store.ListBudgets(ctx, userID, includeInactive)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, copyBudgets(budgets), 1)
	return budgets, nil
}

func (c *CachedStore) CreateBudget(ctx context.Context, budget *model.Budget) error {
	defer c.invalidateBudgets(budget.UserID)
	return c.Store.CreateBudget(ctx, budget)
}

func (c *CachedStore) UpdateBudget(ctx context.Context, budget *model.Budget) error {
	defer c.invalidateBudgets(budget.UserID)
	return c.Store.UpdateBudget(ctx, budget)
}

func (c *CachedStore) ListRecurringCharges(ctx context.Context, userID string, activeOnly bool) ([]*model.RecurringCharge, error) {
	// all-users scans are not cached
	if userID == "" {
		return c.Store.ListRecurringCharges(ctx, userID, activeOnly)
	}

	key := recurringListKey(userID, activeOnly)
	if v, ok := c.cache.Get(key); ok {
		return copyRecurring(v.([]*model.RecurringCharge)), nil
	}

	charges, err := c.Store.ListRecurringCharges(ctx, userID, activeOnly)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, copyRecurring(charges), 1)
	return charges, nil
}

func (c *CachedStore) UpsertRecurringCharge(ctx context.Context, rc *model.RecurringCharge) (bool, error) {
	defer c.invalidateRecurring(rc.UserID)
	return c.Store.UpsertRecurringCharge(ctx, rc)
}

func (c *CachedStore) DeleteUser(ctx context.Context, userID string) error {
	defer func() {
		c.invalidateBudgets(userID)
		c.invalidateRecurring(userID)
	}()
	return c.Store.DeleteUser(ctx, userID)
}
