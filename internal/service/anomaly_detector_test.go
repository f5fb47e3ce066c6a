package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/castlemilk/pfinance-insights/internal/logger"
	"github.com/castlemilk/pfinance-insights/internal/model"
	"github.com/castlemilk/pfinance-insights/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// baselineExpenses returns n expenses of 50 at noon on consecutive days ending 2025-06-12.
func baselineExpenses(userID string, n int) []*model.Transaction {
	txs := make([]*model.Transaction, 0, n)
	for i := 0; i < n; i++ {
		txs = append(txs, expenseTx(userID, "Online Store", "shopping", 50, day(2025, time.June, 12).AddDate(0, 0, -i)))
	}
	return txs
}

func TestDetectAnomalies_Statistical(t *testing.T) {
	ctx := context.Background()

	outlier := expenseTx("user1", "Online Store", "shopping", 300, day(2025, time.June, 2)) // Monday
	txs := append(baselineExpenses("user1", 29), outlier)
	txs = append(txs, incomeTx("user1", 100000, day(2025, time.June, 1)))
	st := seedTransactions(t, txs...)

	detector := NewAnomalyDetector(st, logger.Nop())
	findings, err := detector.DetectAnomalies(ctx, "user1", false)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, outlier.ID, f.Transaction.ID)
	assert.Equal(t, SeverityHigh, f.Severity)
	assert.InDelta(t, 1.8*5.385164807, f.Score, 1e-6)
	assert.Equal(t,
		"Amount significantly higher than average (Z-score: 5.39); Unusual amount for this merchant; Unusual amount for category shopping",
		f.Reason)

	flagged, err := st.ListTransactions(ctx, store.TransactionFilter{UserID: "user1", AnomalousOnly: true})
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, outlier.ID, flagged[0].ID)
	assert.InDelta(t, f.Score, flagged[0].AnomalyScore, 1e-9)
}

func TestDetectAnomalies_AllUsersMatchesSingleUser(t *testing.T) {
	ctx := context.Background()

	outlier := expenseTx("user1", "Jeweller", "shopping", 300, day(2025, time.June, 2))
	txs := append(baselineExpenses("user1", 29), outlier)
	for i := 0; i < 30; i++ {
		txs = append(txs, expenseTx("user2", "Airline", "travel", 5000, day(2025, time.June, 12).AddDate(0, 0, -i)))
	}

	single := seedTransactions(t, txs...)
	all := seedTransactions(t, txs...)

	fromSingle, err := NewAnomalyDetector(single, logger.Nop()).DetectAnomalies(ctx, "user1", false)
	require.NoError(t, err)
	fromAll, err := NewAnomalyDetector(all, logger.Nop()).DetectAnomalies(ctx, "", false)
	require.NoError(t, err)

	require.Len(t, fromSingle, 1)
	require.Len(t, fromAll, 1)
	assert.Equal(t, "user1", fromAll[0].Transaction.UserID)
	assert.Equal(t, "Jeweller", fromAll[0].Transaction.Merchant)
	assert.InDelta(t, fromSingle[0].Score, fromAll[0].Score, 1e-9)
	assert.Equal(t, fromSingle[0].Severity, fromAll[0].Severity)
	assert.Equal(t, fromSingle[0].Reason, fromAll[0].Reason)
}

func TestDetectAnomalies_MediumSeverity(t *testing.T) {
	outlier := expenseTx("user1", "Online Store", "shopping", 1000, day(2025, time.June, 2))
	st := seedTransactions(t, append(baselineExpenses("user1", 11), outlier)...)

	findings, err := NewAnomalyDetector(st, logger.Nop()).DetectAnomalies(context.Background(), "user1", false)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, SeverityMedium, findings[0].Severity)
	assert.Contains(t, findings[0].Reason, "(Z-score: 3.32)")
}

func TestDetectAnomalies_TooFewTransactions(t *testing.T) {
	outlier := expenseTx("user1", "Online Store", "shopping", 5000, day(2025, time.June, 2))
	st := seedTransactions(t, append(baselineExpenses("user1", 8), outlier)...)

	findings, err := NewAnomalyDetector(st, logger.Nop()).DetectAnomalies(context.Background(), "user1", false)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestDetectAnomalies_OnlyRecentHundredScored(t *testing.T) {
	outlier := expenseTx("user1", "Online Store", "shopping", 5000, day(2024, time.January, 1))
	st := seedTransactions(t, append(baselineExpenses("user1", 104), outlier)...)

	findings, err := NewAnomalyDetector(st, logger.Nop()).DetectAnomalies(context.Background(), "user1", false)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestDetectAnomalies_UnusualHourAloneIsNotEnough(t *testing.T) {
	txs := baselineExpenses("user1", 12)
	for _, tx := range txs {
		tx.Date = tx.Date.Add(-9 * time.Hour) // 03:00
	}
	st := seedTransactions(t, txs...)

	findings, err := NewAnomalyDetector(st, logger.Nop()).DetectAnomalies(context.Background(), "user1", false)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestDetectAnomalies_IsolationForest(t *testing.T) {
	ctx := context.Background()
	var txs []*model.Transaction
	for i := 0; i < 30; i++ {
		txs = append(txs, expenseTx("user1", "Grocer", "groceries", 80, day(2025, time.June, 10)))
	}
	outlier := expenseTx("user1", "Grocer", "groceries", 5000, time.Date(2025, time.June, 10, 3, 0, 0, 0, time.UTC))
	txs = append(txs, outlier)
	st := seedTransactions(t, txs...)

	findings, err := NewAnomalyDetector(st, logger.Nop()).DetectAnomalies(ctx, "user1", true)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, outlier.ID, f.Transaction.ID)
	assert.Equal(t, SeverityHigh, f.Severity)
	assert.Equal(t, "ML model detected unusual pattern in transaction", f.Reason)
	assert.Greater(t, f.Score, 5.0)
	assert.LessOrEqual(t, f.Score, model.MaxAnomalyScore)
}

func TestDetectAnomalies_ModelFallsBackOnSmallHistory(t *testing.T) {
	outlier := expenseTx("user1", "Online Store", "shopping", 1000, day(2025, time.June, 2))
	st := seedTransactions(t, append(baselineExpenses("user1", 11), outlier)...)

	findings, err := NewAnomalyDetector(st, logger.Nop()).DetectAnomalies(context.Background(), "user1", true)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Reason, "Amount significantly higher than average")
}

func TestIsolationForestScores(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 2*(math.Log(30)+eulerGamma)-60.0/31.0, averagePathLength(31), 1e-9)

	data := [][]float64{{0}, {0}, {0}, {0}, {10}}
	forest := fitIsolationForest(data, isolationForestConfig{Trees: 10, MaxSamples: 256, Seed: 42})
	assert.Less(t, forest.score([]float64{10}), forest.score([]float64{0}))
}

func TestStandardize(t *testing.T) {
	out := standardize([][]float64{{1, 5}, {3, 5}})
	assert.Equal(t, [][]float64{{-1, 0}, {1, 0}}, out)
	assert.Nil(t, standardize(nil))
}

func TestCategoryBucketIsStable(t *testing.T) {
	assert.Equal(t, categoryBucket("groceries"), categoryBucket("groceries"))
	assert.GreaterOrEqual(t, categoryBucket("dining"), 0.0)
	assert.Less(t, categoryBucket("dining"), 100.0)
}

func TestGetAnomalySummary(t *testing.T) {
	ctx := context.Background()
	var txs []*model.Transaction
	for i := 1; i <= 12; i++ {
		tx := expenseTx("user1", "Store", "shopping", 10, day(2025, time.May, i))
		tx.IsAnomaly = true
		tx.AnomalyScore = float64(i) / 2
		txs = append(txs, tx)
	}
	txs = append(txs, expenseTx("user1", "Store", "shopping", 999, day(2025, time.May, 20)))
	other := expenseTx("user2", "Store", "shopping", 10, day(2025, time.May, 1))
	other.IsAnomaly = true
	other.AnomalyScore = 9.5
	txs = append(txs, other)
	st := seedTransactions(t, txs...)

	detector := NewAnomalyDetector(st, logger.Nop())
	summary, err := detector.GetAnomalySummary(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 12, summary.Count)
	assert.Equal(t, 120.0, summary.TotalAmount)
	assert.InDelta(t, 3.25, summary.MeanScore, 1e-9)
	require.Len(t, summary.Top, summaryTopN)
	assert.Equal(t, 6.0, summary.Top[0].AnomalyScore)
	assert.Equal(t, 1.5, summary.Top[9].AnomalyScore)

	all, err := detector.GetAnomalySummary(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 13, all.Count)
	assert.Equal(t, 9.5, all.Top[0].AnomalyScore)

	empty, err := detector.GetAnomalySummary(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Count)
	assert.Empty(t, empty.Top)
}
