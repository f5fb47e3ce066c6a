package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/castlemilk/pfinance-insights/internal/logger"
	"github.com/castlemilk/pfinance-insights/internal/model"
	"github.com/castlemilk/pfinance-insights/internal/store"
	"github.com/rs/zerolog"
)

// Severity grades an anomaly finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

const (
	minStatisticalSample  = 10
	minModelSample        = 20
	maxScoredTransactions = 100
	anomalyScoreCutoff    = 2.0
	summaryTopN           = 10

	forestTrees      = 100
	forestMaxSamples = 256
	forestSeed       = 42
	contamination    = 0.1
)

// AnomalyFinding is one transaction flagged by a detection pass.
type AnomalyFinding struct {
	Transaction *model.Transaction `json:"transaction"`
	Score       float64            `json:"anomaly_score"`
	Severity    Severity           `json:"severity"`
	Reason      string             `json:"reason"`
}

// AnomalySummary aggregates the currently flagged transactions.
type AnomalySummary struct {
	Count       int                  `json:"count"`
	TotalAmount float64              `json:"total_amount"`
	MeanScore   float64              `json:"mean_score"`
	Top         []*model.Transaction `json:"top"`
}

type amountStats struct {
	mean float64
	std  float64
}

func newAmountStats(amounts []float64) amountStats {
	return amountStats{mean: mean(amounts), std: pstdev(amounts)}
}

// groupStats computes stats per key for groups with more than one member.
func groupStats(txs []*model.Transaction, key func(*model.Transaction) string) map[string]amountStats {
	groups := make(map[string][]float64)
	for _, tx := range txs {
		k := key(tx)
		groups[k] = append(groups[k], tx.Amount)
	}
	stats := make(map[string]amountStats, len(groups))
	for k, amounts := range groups {
		if len(amounts) > 1 {
			stats[k] = newAmountStats(amounts)
		}
	}
	return stats
}

// AnomalyDetector flags unusual expense transactions.
type AnomalyDetector struct {
	store store.Store
	log   zerolog.Logger
}

func NewAnomalyDetector(st store.Store, log zerolog.Logger) *AnomalyDetector {
	return &AnomalyDetector{
		store: st,
		log:   logger.Component(log, "anomaly_detector"),
	}
}

// DetectAnomalies scores the user's expenses (every user's when userID is
// empty, each against their own history) and persists the flag and score
// of every transaction found anomalous. useModel selects the isolation forest,
// which falls back to the statistical method on small histories.
func (d *AnomalyDetector) DetectAnomalies(ctx context.Context, userID string, useModel bool) ([]AnomalyFinding, error) {
	expenses, err := d.store.ListTransactions(ctx, store.TransactionFilter{
		UserID: userID,
		Type:   model.TransactionTypeExpense,
	})
	if err != nil {
		return nil, wrapStoreError("list expenses", err)
	}

	var findings []AnomalyFinding
	for _, userExpenses := range groupByUser(expenses) {
		if useModel && len(userExpenses) >= minModelSample {
			findings = append(findings, detectWithForest(userExpenses)...)
		} else {
			findings = append(findings, detectStatistical(userExpenses)...)
		}
	}

	for _, f := range findings {
		if err := d.store.SetAnomaly(ctx, f.Transaction.ID, f.Score); err != nil {
			return nil, wrapStoreError("flag anomalous transaction", err)
		}
		f.Transaction.IsAnomaly = true
		f.Transaction.AnomalyScore = f.Score
	}

	d.log.Info().
		Str("user_id", userID).
		Bool("use_model", useModel).
		Int("transactions", len(expenses)).
		Int("anomalies", len(findings)).
		Msg("anomaly detection finished")
	if findings == nil {
		findings = []AnomalyFinding{}
	}
	return findings, nil
}

// groupByUser splits expenses per user, in user order, keeping each user's
// transactions in their original order. Every user is scored only against
// their own history.
func groupByUser(expenses []*model.Transaction) [][]*model.Transaction {
	byUser := make(map[string][]*model.Transaction)
	var users []string
	for _, tx := range expenses {
		if _, ok := byUser[tx.UserID]; !ok {
			users = append(users, tx.UserID)
		}
		byUser[tx.UserID] = append(byUser[tx.UserID], tx)
	}
	sort.Strings(users)

	groups := make([][]*model.Transaction, len(users))
	for i, u := range users {
		groups[i] = byUser[u]
	}
	return groups
}

// detectStatistical scores the most recent expenses against global,
// per-merchant and per-category amount statistics. expenses must be sorted
// newest first.
func detectStatistical(expenses []*model.Transaction) []AnomalyFinding {
	if len(expenses) < minStatisticalSample {
		return nil
	}

	amounts := make([]float64, len(expenses))
	for i, tx := range expenses {
		amounts[i] = tx.Amount
	}
	global := newAmountStats(amounts)
	byMerchant := groupStats(expenses, func(tx *model.Transaction) string { return tx.Merchant })
	byCategory := groupStats(expenses, func(tx *model.Transaction) string { return tx.Category })

	scored := expenses
	if len(scored) > maxScoredTransactions {
		scored = scored[:maxScoredTransactions]
	}

	var findings []AnomalyFinding
	for _, tx := range scored {
		var score float64
		var reasons []string
		severity := SeverityLow

		if z := zscore(tx.Amount, global.mean, global.std); z > 3 {
			score += z
			if z > 4 {
				severity = SeverityHigh
			} else {
				severity = SeverityMedium
			}
			reasons = append(reasons, fmt.Sprintf("Amount significantly higher than average (Z-score: %.2f)", z))
		}

		if ms, ok := byMerchant[tx.Merchant]; ok {
			if z := zscore(tx.Amount, ms.mean, ms.std); z > 2.5 {
				score += 0.5 * z
				reasons = append(reasons, "Unusual amount for this merchant")
			}
		}

		if cs, ok := byCategory[tx.Category]; ok {
			if z := zscore(tx.Amount, cs.mean, cs.std); z > 2.5 {
				score += 0.3 * z
				reasons = append(reasons, fmt.Sprintf("Unusual amount for category %s", tx.Category))
			}
		}

		if hour := tx.Date.UTC().Hour(); hour >= 2 && hour <= 5 {
			score += 0.5
			reasons = append(reasons, "Transaction at unusual hour")
		}

		if wd := tx.Date.UTC().Weekday(); (wd == time.Saturday || wd == time.Sunday) && tx.Amount > 2*global.mean {
			score += 0.3
			reasons = append(reasons, "Large weekend transaction")
		}

		if score > anomalyScoreCutoff {
			findings = append(findings, AnomalyFinding{
				Transaction: tx,
				Score:       math.Min(score, model.MaxAnomalyScore),
				Severity:    severity,
				Reason:      strings.Join(reasons, "; "),
			})
		}
	}
	return findings
}

// categoryBucket hashes a category into 100 buckets with FNV-1a so the value
// is stable across processes.
func categoryBucket(category string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(category))
	return float64(h.Sum32() % 100)
}

func transactionFeatures(tx *model.Transaction) []float64 {
	date := tx.Date.UTC()
	weekday := (int(date.Weekday()) + 6) % 7 // Monday = 0
	return []float64{
		tx.Amount,
		float64(weekday),
		float64(date.Hour()),
		float64(date.Day()),
		float64(len(tx.Merchant)),
		categoryBucket(tx.Category),
	}
}

// detectWithForest flags the transactions an isolation forest scores below
// the contamination quantile.
func detectWithForest(expenses []*model.Transaction) []AnomalyFinding {
	rows := make([][]float64, len(expenses))
	for i, tx := range expenses {
		rows[i] = transactionFeatures(tx)
	}
	scaled := standardize(rows)

	forest := fitIsolationForest(scaled, isolationForestConfig{
		Trees:      forestTrees,
		MaxSamples: forestMaxSamples,
		Seed:       forestSeed,
	})

	scores := make([]float64, len(scaled))
	for i, x := range scaled {
		scores[i] = forest.score(x)
	}
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)
	offset := percentile(sorted, contamination*100)

	var findings []AnomalyFinding
	for i, tx := range expenses {
		if scores[i] >= offset {
			continue
		}
		magnitude := math.Abs(scores[i])
		severity := SeverityLow
		switch {
		case magnitude > 0.5:
			severity = SeverityHigh
		case magnitude > 0.3:
			severity = SeverityMedium
		}
		findings = append(findings, AnomalyFinding{
			Transaction: tx,
			Score:       math.Min(magnitude*10, model.MaxAnomalyScore),
			Severity:    severity,
			Reason:      "ML model detected unusual pattern in transaction",
		})
	}
	return findings
}

// GetAnomalySummary summarises flagged transactions, for one user or for all
// users when userID is empty.
func (d *AnomalyDetector) GetAnomalySummary(ctx context.Context, userID string) (*AnomalySummary, error) {
	flagged, err := d.store.ListTransactions(ctx, store.TransactionFilter{
		UserID:        userID,
		AnomalousOnly: true,
	})
	if err != nil {
		return nil, wrapStoreError("list anomalous transactions", err)
	}

	summary := &AnomalySummary{Count: len(flagged), Top: []*model.Transaction{}}
	if len(flagged) == 0 {
		return summary, nil
	}

	var scoreSum float64
	for _, tx := range flagged {
		summary.TotalAmount += tx.Amount
		scoreSum += tx.AnomalyScore
	}
	summary.TotalAmount = roundCents(summary.TotalAmount)
	summary.MeanScore = scoreSum / float64(len(flagged))

	sort.SliceStable(flagged, func(i, j int) bool {
		return flagged[i].AnomalyScore > flagged[j].AnomalyScore
	})
	if len(flagged) > summaryTopN {
		flagged = flagged[:summaryTopN]
	}
	summary.Top = flagged
	return summary, nil
}
