package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/castlemilk/pfinance-insights/internal/logger"
	"github.com/castlemilk/pfinance-insights/internal/model"
	"github.com/castlemilk/pfinance-insights/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestLedgerService(st store.Store) *LedgerService {
	log := logger.Nop()
	svc := NewLedgerService(st, NewSubscriptionDetector(st, log), NewAnomalyDetector(st, log), log)
	svc.now = fixedClock(testNow)
	return svc
}

func TestToTransaction(t *testing.T) {
	date := day(2025, time.June, 1)

	tests := []struct {
		name     string
		in       TransactionInput
		wantType model.TransactionType
		wantAmt  float64
		wantErr  string
	}{
		{
			name:     "positive amount defaults to expense",
			in:       TransactionInput{Date: date, Amount: 12.5, Merchant: " Cafe ", Category: "dining"},
			wantType: model.TransactionTypeExpense,
			wantAmt:  12.5,
		},
		{
			name:     "negative amount without type is income",
			in:       TransactionInput{Date: date, Amount: -3000, Merchant: "Employer", Category: "salary"},
			wantType: model.TransactionTypeIncome,
			wantAmt:  3000,
		},
		{
			name:     "explicit type keeps absolute amount",
			in:       TransactionInput{Date: date, Amount: -40, Merchant: "Shop", Category: "refunds", Type: model.TransactionTypeExpense},
			wantType: model.TransactionTypeExpense,
			wantAmt:  40,
		},
		{
			name:    "missing merchant",
			in:      TransactionInput{Date: date, Amount: 1, Category: "dining"},
			wantErr: "row 3: merchant is required",
		},
		{
			name:    "missing category",
			in:      TransactionInput{Date: date, Amount: 1, Merchant: "Cafe"},
			wantErr: "row 3: category is required",
		},
		{
			name:    "zero amount",
			in:      TransactionInput{Date: date, Merchant: "Cafe", Category: "dining"},
			wantErr: "row 3: amount must be a non-zero number",
		},
		{
			name:    "missing date",
			in:      TransactionInput{Amount: 1, Merchant: "Cafe", Category: "dining"},
			wantErr: "row 3: date is required",
		},
		{
			name:    "unknown type",
			in:      TransactionInput{Date: date, Amount: 1, Merchant: "Cafe", Category: "dining", Type: "transfer"},
			wantErr: `row 3: unknown transaction_type "transfer"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := toTransaction("user1", 2, tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, IsValidation(err))
				assert.Equal(t, tt.wantErr, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "user1", tx.UserID)
			assert.Equal(t, tt.wantType, tx.Type)
			assert.Equal(t, tt.wantAmt, tx.Amount)
			assert.NotContains(t, tx.Merchant, " ")
		})
	}
}

func TestIngestTransactions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := newTestLedgerService(st)

	var rows []TransactionInput
	for _, tx := range monthly("user1", "Netflix", "entertainment", 15.99, day(2025, time.June, 1), 3) {
		rows = append(rows, TransactionInput{Date: tx.Date, Amount: tx.Amount, Merchant: tx.Merchant, Category: tx.Category})
	}
	rows = append(rows, TransactionInput{Date: day(2025, time.June, 2), Amount: -2500, Merchant: "Employer", Category: "salary"})

	result, err := svc.IngestTransactions(ctx, "user1", rows)
	require.NoError(t, err)
	assert.Len(t, result.Transactions, 4)
	assert.Equal(t, 1, result.RecurringDetected)
	assert.Equal(t, 3, result.RecurringMarked)
	assert.Equal(t, 0, result.Anomalies, "too few expenses to score")

	income, err := st.AggregateTransactions(ctx, store.TransactionFilter{UserID: "user1", Type: model.TransactionTypeIncome})
	require.NoError(t, err)
	assert.Equal(t, 2500.0, income.Sum)

	charges, err := st.ListRecurringCharges(ctx, "user1", true)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.Equal(t, "Netflix", charges[0].Merchant)
}

func TestIngestTransactions_KeepsGrayChargeKeywords(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := newTestLedgerService(st)

	first := day(2025, time.April, 1)
	var rows []TransactionInput
	for _, offset := range []int{0, 20, 60} {
		rows = append(rows, TransactionInput{
			Date:     first.AddDate(0, 0, offset),
			Amount:   15.99,
			Merchant: "Spotify Premium",
			Category: "entertainment",
		})
	}

	result, err := svc.IngestTransactions(ctx, "user1", rows)
	require.NoError(t, err)
	require.Len(t, result.Transactions, 3)
	assert.Equal(t, "Spotify Premium", result.Transactions[0].Merchant)
	assert.Equal(t, 1, result.RecurringDetected)

	report, err := NewSubscriptionDetector(st, logger.Nop()).IdentifyGrayCharges(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, report.Charges, 1)

	gray := report.Charges[0]
	assert.Equal(t, "Spotify Premium", gray.Charge.Merchant)
	assert.Equal(t, 30, gray.Charge.FrequencyDays)
	assert.InDelta(t, 0.8, gray.Charge.ConfidenceScore, 1e-9)
	assert.Equal(t, []string{"Contains keyword: premium"}, gray.Reasons)
	assert.True(t, gray.Alertable())
	assert.Equal(t, 15.99, report.PotentialMonthlySavings)
}

func TestIngestTransactions_InvalidRowRejectsBatch(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := newTestLedgerService(st)

	_, err := svc.IngestTransactions(ctx, "user1", []TransactionInput{
		{Date: day(2025, time.June, 1), Amount: 10, Merchant: "Cafe", Category: "dining"},
		{Date: day(2025, time.June, 2), Amount: 10, Merchant: "", Category: "dining"},
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, "row 2: merchant is required", err.Error())

	stored, err := st.ListTransactions(ctx, store.TransactionFilter{UserID: "user1"})
	require.NoError(t, err)
	assert.Empty(t, stored)

	_, err = svc.IngestTransactions(ctx, "user1", nil)
	assert.True(t, IsValidation(err))
}

func TestIngestTransactions_StoreError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	mockStore := store.NewMockStore(ctrl)
	mockStore.EXPECT().CreateTransactions(ctx, gomock.Any()).Return(errors.New("quota exceeded"))

	_, err := newTestLedgerService(mockStore).IngestTransactions(ctx, "user1", []TransactionInput{
		{Date: day(2025, time.June, 1), Amount: 10, Merchant: "Cafe", Category: "dining"},
	})
	require.Error(t, err)
	assert.Equal(t, "failed to create transactions: quota exceeded", err.Error())
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()
	st := seedTransactions(t,
		expenseTx("user1", "Cafe", "dining", 5, day(2025, time.June, 1)),
		expenseTx("user2", "Cafe", "dining", 5, day(2025, time.June, 1)),
	)
	svc := newTestLedgerService(st)
	_, err := newTestBudgetService(st).CreateBudget(ctx, "user1", "dining", 100, "USD")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUser(ctx, "user1"))

	mine, err := st.ListTransactions(ctx, store.TransactionFilter{UserID: "user1"})
	require.NoError(t, err)
	assert.Empty(t, mine)
	budgets, err := st.ListBudgets(ctx, "user1", true)
	require.NoError(t, err)
	assert.Empty(t, budgets)

	theirs, err := st.ListTransactions(ctx, store.TransactionFilter{UserID: "user2"})
	require.NoError(t, err)
	assert.Len(t, theirs, 1)

	assert.True(t, IsValidation(svc.DeleteUser(ctx, " ")))
}
