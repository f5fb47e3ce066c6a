package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/castlemilk/pfinance-insights/internal/logger"
	"github.com/castlemilk/pfinance-insights/internal/model"
	"github.com/castlemilk/pfinance-insights/internal/store"
	"github.com/rs/zerolog"
)

const (
	// minRecurringConfidence is the lowest confidence kept by detection.
	minRecurringConfidence = 0.6
	// grayAlertConfidence is the confidence a gray charge needs before it is alerted on.
	grayAlertConfidence = 0.7
	// amountVariationLimit is the coefficient of variation above which
	// confidence is reduced.
	amountVariationLimit = 0.2
	smallChargeAmount    = 10.0
)

// grayChargeKeywords are checked in order; the first match is reported.
var grayChargeKeywords = []string{
	"trial", "premium", "pro", "plus", "subscription",
	"monthly", "annual", "membership", "service",
}

// ScoreFrequency estimates the charge interval of a series of dates and how
// regular it is. Dates need not be sorted. It returns (0, 0) when fewer than
// two dates are given or the mean interval is zero.
func ScoreFrequency(dates []time.Time) (int, float64) {
	if len(dates) < 2 {
		return 0, 0
	}

	sorted := make([]time.Time, len(dates))
	copy(sorted, dates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	intervals := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		// whole days, truncated
		days := int(sorted[i].Sub(sorted[i-1]).Hours() / 24)
		intervals = append(intervals, float64(days))
	}

	avg := mean(intervals)
	if avg == 0 {
		return 0, 0
	}

	consistency := clamp(1-pstdev(intervals)/avg, 0, 1)
	confidence := consistency
	if len(sorted) >= 3 {
		confidence *= 1.2
	}
	if len(sorted) >= 6 {
		confidence *= 1.3
	}
	confidence = math.Min(confidence, 1.0)

	return int(math.RoundToEven(avg)), confidence
}

// amountVariation is the coefficient of variation of the amounts; a
// non-positive mean counts as maximal variation.
func amountVariation(amounts []float64) float64 {
	m := mean(amounts)
	if m <= 0 {
		return 1
	}
	return pstdev(amounts) / m
}

// GrayCharge is an active recurring charge with at least one reason to
// believe the user may have forgotten about it.
type GrayCharge struct {
	Charge  *model.RecurringCharge `json:"charge"`
	Reasons []string               `json:"reasons"`
}

// Alertable reports whether the charge is confident enough to alert on.
func (g GrayCharge) Alertable() bool {
	return g.Charge.ConfidenceScore > grayAlertConfidence
}

// GrayChargeReport lists a user's gray charges and what cancelling the
// monthly ones would save.
type GrayChargeReport struct {
	Charges                 []GrayCharge `json:"charges"`
	PotentialMonthlySavings float64      `json:"potential_monthly_savings"`
}

// ClassifyGrayCharge returns the reasons a recurring charge looks like a gray
// charge. An empty result means it does not.
func ClassifyGrayCharge(rc *model.RecurringCharge) []string {
	var reasons []string

	merchant := strings.ToLower(rc.Merchant)
	for _, kw := range grayChargeKeywords {
		if strings.Contains(merchant, kw) {
			reasons = append(reasons, fmt.Sprintf("Contains keyword: %s", kw))
			break
		}
	}

	if rc.AverageAmount < smallChargeAmount {
		reasons = append(reasons, "Small recurring amount (possible forgotten subscription)")
	}

	if rc.ConfidenceScore > 0.9 {
		switch {
		case rc.FrequencyDays >= 28 && rc.FrequencyDays <= 31:
			reasons = append(reasons, "Monthly subscription pattern detected")
		case rc.FrequencyDays == 365 || rc.FrequencyDays == 366:
			reasons = append(reasons, "Annual subscription pattern detected")
		}
	}

	return reasons
}

// SubscriptionDetector finds recurring charges in expense history and
// classifies the ones that look like gray charges.
type SubscriptionDetector struct {
	store store.Store
	log   zerolog.Logger
}

func NewSubscriptionDetector(st store.Store, log zerolog.Logger) *SubscriptionDetector {
	return &SubscriptionDetector{
		store: st,
		log:   logger.Component(log, "subscription_detector"),
	}
}

type merchantGroup struct {
	userID   string
	merchant string
	txs      []*model.Transaction
}

// DetectRecurringCharges scans expenses (for one user, or every user when
// userID is empty) and upserts a recurring charge for each (user, merchant)
// series regular enough to qualify. It returns the upserted charges.
func (d *SubscriptionDetector) DetectRecurringCharges(ctx context.Context, userID string) ([]*model.RecurringCharge, error) {
	expenses, err := d.store.ListTransactions(ctx, store.TransactionFilter{
		UserID: userID,
		Type:   model.TransactionTypeExpense,
	})
	if err != nil {
		return nil, wrapStoreError("list expenses", err)
	}

	groups := make(map[string]*merchantGroup)
	var keys []string
	for _, tx := range expenses {
		key := tx.UserID + "\x00" + tx.Merchant
		g, ok := groups[key]
		if !ok {
			g = &merchantGroup{userID: tx.UserID, merchant: tx.Merchant}
			groups[key] = g
			keys = append(keys, key)
		}
		g.txs = append(g.txs, tx)
	}
	sort.Strings(keys)

	var detected []*model.RecurringCharge
	created := 0
	for _, key := range keys {
		rc := buildRecurringCharge(groups[key])
		if rc == nil {
			continue
		}
		isNew, err := d.store.UpsertRecurringCharge(ctx, rc)
		if err != nil {
			return nil, wrapStoreError("upsert recurring charge", err)
		}
		if isNew {
			created++
		}
		detected = append(detected, rc)
	}

	d.log.Info().
		Str("user_id", userID).
		Int("groups", len(keys)).
		Int("detected", len(detected)).
		Int("created", created).
		Msg("recurring charge detection finished")
	return detected, nil
}

// buildRecurringCharge returns nil when the group is too small or too irregular.
func buildRecurringCharge(g *merchantGroup) *model.RecurringCharge {
	if len(g.txs) < 2 {
		return nil
	}

	dates := make([]time.Time, len(g.txs))
	amounts := make([]float64, len(g.txs))
	latest := g.txs[0]
	for i, tx := range g.txs {
		dates[i] = tx.Date
		amounts[i] = tx.Amount
		if tx.Date.After(latest.Date) {
			latest = tx
		}
	}

	freq, confidence := ScoreFrequency(dates)
	if freq == 0 || confidence < minRecurringConfidence {
		return nil
	}
	if amountVariation(amounts) > amountVariationLimit {
		confidence *= 0.8
	}

	return &model.RecurringCharge{
		UserID:           g.userID,
		Merchant:         g.merchant,
		AverageAmount:    roundCents(mean(amounts)),
		FrequencyDays:    freq,
		LastChargeDate:   latest.Date,
		NextExpectedDate: latest.Date.AddDate(0, 0, freq),
		Category:         latest.Category,
		ConfidenceScore:  confidence,
	}
}

// GetRecurring returns the user's active recurring charges.
func (d *SubscriptionDetector) GetRecurring(ctx context.Context, userID string) ([]*model.RecurringCharge, error) {
	charges, err := d.store.ListRecurringCharges(ctx, userID, true)
	if err != nil {
		return nil, wrapStoreError("list recurring charges", err)
	}
	return charges, nil
}

// IdentifyGrayCharges classifies the user's active recurring charges.
func (d *SubscriptionDetector) IdentifyGrayCharges(ctx context.Context, userID string) (*GrayChargeReport, error) {
	charges, err := d.GetRecurring(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &GrayChargeReport{Charges: []GrayCharge{}}
	for _, rc := range charges {
		reasons := ClassifyGrayCharge(rc)
		if len(reasons) == 0 {
			continue
		}
		report.Charges = append(report.Charges, GrayCharge{Charge: rc, Reasons: reasons})
		if rc.FrequencyDays <= 31 {
			report.PotentialMonthlySavings += rc.AverageAmount
		}
	}
	report.PotentialMonthlySavings = roundCents(report.PotentialMonthlySavings)
	return report, nil
}

// MarkTransactionsRecurring flags every transaction of the user whose
// merchant has an active recurring charge; an empty userID covers all users.
// Flags are never cleared. It returns the number of transactions newly
// flagged.
func (d *SubscriptionDetector) MarkTransactionsRecurring(ctx context.Context, userID string) (int, error) {
	charges, err := d.GetRecurring(ctx, userID)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, rc := range charges {
		n, err := d.store.MarkRecurring(ctx, rc.UserID, rc.Merchant)
		if err != nil {
			return total, wrapStoreError("mark recurring transactions", err)
		}
		total += n
	}

	d.log.Debug().Str("user_id", userID).Int("marked", total).Msg("marked recurring transactions")
	return total, nil
}
