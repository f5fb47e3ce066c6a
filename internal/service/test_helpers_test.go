package service

import (
	"context"
	"testing"
	"time"

	"github.com/castlemilk/pfinance-insights/internal/model"
	"github.com/castlemilk/pfinance-insights/internal/store"
	"github.com/stretchr/testify/require"
)

// testNow is the fixed clock used across service tests: Friday 2025-06-13 12:00 UTC.
var testNow = time.Date(2025, time.June, 13, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 12, 0, 0, 0, time.UTC)
}

func expenseTx(userID, merchant, category string, amount float64, date time.Time) *model.Transaction {
	return &model.Transaction{
		UserID:   userID,
		Merchant: merchant,
		Category: category,
		Amount:   amount,
		Date:     date,
		Type:     model.TransactionTypeExpense,
	}
}

func incomeTx(userID string, amount float64, date time.Time) *model.Transaction {
	return &model.Transaction{
		UserID:   userID,
		Merchant: "Employer",
		Category: "salary",
		Amount:   amount,
		Date:     date,
		Type:     model.TransactionTypeIncome,
	}
}

// seedTransactions writes txs to a fresh memory store.
func seedTransactions(t *testing.T, txs ...*model.Transaction) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.CreateTransactions(context.Background(), txs))
	return st
}

// monthly returns n charges of amount, 30 days apart, ending at last.
func monthly(userID, merchant, category string, amount float64, last time.Time, n int) []*model.Transaction {
	txs := make([]*model.Transaction, 0, n)
	for i := n - 1; i >= 0; i-- {
		txs = append(txs, expenseTx(userID, merchant, category, amount, last.AddDate(0, 0, -30*i)))
	}
	return txs
}
