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
	"github.com/castlemilk/pfinance-insights/internal/push"
	"github.com/castlemilk/pfinance-insights/internal/store"
	"github.com/rs/zerolog"
)

const (
	goalProgressThreshold  = 0.7
	budgetPacePercent      = 80.0
	budgetPaceMaxElapsed   = 0.6
	anomalyLookbackDays    = 90
	anomalyHistoryDays     = 89
	anomalyMinHistory      = 3
	anomalySpendMultiplier = 1.4
	reminderWindowDays     = 3
)

// AlertCounts reports how many alerts of each kind a generation pass created.
type AlertCounts struct {
	GoalProgress  int `json:"goal_progress"`
	Budget        int `json:"budget"`
	Anomalies     int `json:"anomalies"`
	Subscriptions int `json:"subscriptions"`
	GrayCharges   int `json:"gray_charges"`
	Total         int `json:"total"`
}

// AlertGenerator turns goal, budget, spending and subscription state into
// user-facing alerts. An alert is skipped while an unread alert with the same
// type and dedup key exists for the user.
type AlertGenerator struct {
	store         store.Store
	goals         *GoalService
	subscriptions *SubscriptionDetector
	sender        push.Sender
	log           zerolog.Logger
	now           func() time.Time
}

// NewAlertGenerator creates a generator. sender may be nil, in which case
// alerts are only stored.
func NewAlertGenerator(st store.Store, goals *GoalService, subscriptions *SubscriptionDetector, sender push.Sender, log zerolog.Logger) *AlertGenerator {
	return &AlertGenerator{
		store:         st,
		goals:         goals,
		subscriptions: subscriptions,
		sender:        sender,
		log:           logger.Component(log, "alert_generator"),
		now:           time.Now,
	}
}

func goalProgressKey(goalID string) string { return "goal_progress:" + goalID }
func goalCompleteKey(goalID string) string { return "goal_complete:" + goalID }
func budgetExceededKey(budgetID string) string { return "budget_exceeded:" + budgetID }
func budgetPaceKey(budgetID string) string { return "budget_pace:" + budgetID }
func anomalyKey(category string) string { return "anomaly:" + category }
func subscriptionKey(merchant string) string { return "subscription:" + merchant }
func grayChargeKey(merchant string) string { return "gray_charge:" + merchant }

// GenerateAllAlerts runs every alert pass for the user against the month
// containing month (the current month when zero).
func (g *AlertGenerator) GenerateAllAlerts(ctx context.Context, userID string, month time.Time) (*AlertCounts, error) {
	if month.IsZero() {
		month = g.now()
	}

	counts := &AlertCounts{}
	var err error
	if counts.GoalProgress, err = g.GenerateGoalAlerts(ctx, userID); err != nil {
		return nil, err
	}
	if counts.Budget, err = g.GenerateBudgetAlerts(ctx, userID, month); err != nil {
		return nil, err
	}
	if counts.Anomalies, err = g.GenerateAnomalyAlerts(ctx, userID, month); err != nil {
		return nil, err
	}
	if counts.Subscriptions, err = g.GenerateSubscriptionReminders(ctx, userID); err != nil {
		return nil, err
	}
	if counts.GrayCharges, err = g.GenerateGrayChargeAlerts(ctx, userID); err != nil {
		return nil, err
	}
	counts.Total = counts.GoalProgress + counts.Budget + counts.Anomalies + counts.Subscriptions + counts.GrayCharges

	g.log.Info().
		Str("user_id", userID).
		Int("goal_progress", counts.GoalProgress).
		Int("budget", counts.Budget).
		Int("anomalies", counts.Anomalies).
		Int("subscriptions", counts.Subscriptions).
		Int("gray_charges", counts.GrayCharges).
		Msg("alert generation finished")
	return counts, nil
}

// createIfNotExists stores the alert unless an unread duplicate exists, then
// offers it for push delivery. It reports whether the alert was created.
func (g *AlertGenerator) createIfNotExists(ctx context.Context, alert *model.Alert) (bool, error) {
	if !alert.Type.Valid() {
		return false, fmt.Errorf("unknown alert type %q", alert.Type)
	}
	exists, err := g.store.HasUnreadAlert(ctx, alert.UserID, alert.Type, alert.DedupKey)
	if err != nil {
		return false, wrapStoreError("check existing alert", err)
	}
	if exists {
		g.log.Debug().
			Str("user_id", alert.UserID).
			Str("type", string(alert.Type)).
			Str("dedup_key", alert.DedupKey).
			Msg("unread alert exists, skipping")
		return false, nil
	}

	alert.CreatedAt = g.now().UTC()
	if err := g.store.CreateAlert(ctx, alert); err != nil {
		return false, wrapStoreError("create alert", err)
	}

	if g.sender != nil {
		if err := g.sender.Send(ctx, alert); err != nil {
			g.log.Warn().Err(err).Str("alert_id", alert.ID).Msg("push delivery failed")
		}
	}
	return true, nil
}

// GenerateGoalAlerts alerts on active goals at 70% or more. Goals at or above
// their target get a completion alert and are deactivated.
func (g *AlertGenerator) GenerateGoalAlerts(ctx context.Context, userID string) (int, error) {
	goals, err := g.store.ListGoals(ctx, userID, true)
	if err != nil {
		return 0, wrapStoreError("list goals", err)
	}

	created := 0
	for _, goal := range goals {
		if goal.TargetAmount <= 0 {
			continue
		}

		var ok bool
		if goal.IsComplete() {
			ok, err = g.completeGoal(ctx, goal)
		} else if goal.CurrentAmount/goal.TargetAmount >= goalProgressThreshold {
			ok, err = g.goalProgressAlert(ctx, goal)
		}
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (g *AlertGenerator) goalProgressAlert(ctx context.Context, goal *model.Goal) (bool, error) {
	percent := int(goal.CurrentAmount * 100 / goal.TargetAmount)
	remaining := goal.Remaining()
	now := g.now().UTC()

	meta := model.GoalProgressMetadata{
		GoalID:             goal.ID,
		ProgressPercentage: float64(percent),
		Remaining:          roundCents(remaining),
	}

	desc := fmt.Sprintf("Great progress! You're %d%% of the way to your %s goal. Only %s left to save!",
		percent, goal.Name, formatMoney(remaining))

	projected, err := g.goals.ProjectGoalCompletion(ctx, goal)
	if err != nil {
		return false, err
	}
	if projected != nil {
		meta.ProjectedDate = projected
		desc += fmt.Sprintf(" At your current savings rate you'll get there by %s.", projected.Format("January 2, 2006"))
	} else if needed := monthlyNeeded(goal, now); needed > 0 {
		meta.MonthlyNeeded = needed
		desc += fmt.Sprintf(" Save %s a month to reach it by %s.", formatMoney(needed), goal.Deadline.Format("January 2, 2006"))
	}

	return g.createIfNotExists(ctx, &model.Alert{
		UserID:      goal.UserID,
		Type:        model.AlertTypeGoalProgress,
		Title:       fmt.Sprintf("Goal Progress: %s", goal.Name),
		Description: desc,
		DedupKey:    goalProgressKey(goal.ID),
		Metadata:    meta,
	})
}

func (g *AlertGenerator) goalCompleteAlert(ctx context.Context, goal *model.Goal) (bool, error) {
	return g.createIfNotExists(ctx, &model.Alert{
		UserID:      goal.UserID,
		Type:        model.AlertTypeGoalProgress,
		Title:       fmt.Sprintf("Goal Complete: %s", goal.Name),
		Description: fmt.Sprintf("Congratulations! You've reached your %s goal of %s!", goal.Name, formatMoney(goal.TargetAmount)),
		DedupKey:    goalCompleteKey(goal.ID),
		Metadata: model.GoalProgressMetadata{
			GoalID:             goal.ID,
			ProgressPercentage: 100,
			Completed:          true,
		},
	})
}

// completeGoal raises the completion alert and deactivates the goal.
func (g *AlertGenerator) completeGoal(ctx context.Context, goal *model.Goal) (bool, error) {
	created, err := g.goalCompleteAlert(ctx, goal)
	if err != nil {
		return false, err
	}
	if goal.IsActive {
		goal.IsActive = false
		goal.UpdatedAt = g.now().UTC()
		if err := g.store.UpdateGoal(ctx, goal); err != nil {
			return created, wrapStoreError("deactivate goal", err)
		}
	}
	return created, nil
}

// GoalCompleted implements CompletionNotifier: a goal completed through a
// progress update gets its completion alert straight away.
func (g *AlertGenerator) GoalCompleted(ctx context.Context, goal *model.Goal) {
	if _, err := g.goalCompleteAlert(ctx, goal); err != nil {
		g.log.Error().Err(err).Str("goal_id", goal.ID).Msg("failed to create goal completion alert")
	}
}

// monthProgress returns the fraction of the month elapsed at now and the
// number of days left including today. Past months are fully elapsed.
func monthProgress(start, end, now time.Time) (float64, int) {
	daysInMonth := end.Day()
	switch {
	case now.After(end):
		return 1, 0
	case now.Before(start):
		return 0, daysInMonth
	}
	today := now.Day()
	return float64(today) / float64(daysInMonth), daysInMonth - today + 1
}

// GenerateBudgetAlerts alerts on active budgets that are exceeded, or that
// have used 80% early in the month.
func (g *AlertGenerator) GenerateBudgetAlerts(ctx context.Context, userID string, month time.Time) (int, error) {
	start, end := MonthWindow(month)
	elapsed, daysLeft := monthProgress(start, end, g.now().UTC())

	budgets, err := g.store.ListBudgets(ctx, userID, false)
	if err != nil {
		return 0, wrapStoreError("list budgets", err)
	}

	created := 0
	for _, b := range budgets {
		if b.AmountMonthly <= 0 {
			continue
		}

		agg, err := g.store.AggregateTransactions(ctx, store.TransactionFilter{
			UserID:   userID,
			Type:     model.TransactionTypeExpense,
			Category: b.Category,
			Start:    start,
			End:      end,
		})
		if err != nil {
			return created, wrapStoreError("sum budget spending", err)
		}
		spent := agg.Sum
		percent := usagePercent(spent, b.AmountMonthly)
		name := displayCategory(b.Category)

		var alert *model.Alert
		switch {
		case spent > b.AmountMonthly:
			overspend := spent - b.AmountMonthly
			percentOver := int((spent/b.AmountMonthly - 1) * 100)
			alert = &model.Alert{
				UserID: userID,
				Type:   model.AlertTypeBudgetWarning,
				Title:  fmt.Sprintf("Budget Exceeded: %s", name),
				Description: fmt.Sprintf("You've spent %s in %s this month, which is %s over your %s budget (%d%% over).",
					formatMoney(spent), name, formatMoney(overspend), formatMoney(b.AmountMonthly), percentOver),
				DedupKey: budgetExceededKey(b.ID),
				Metadata: model.BudgetMetadata{
					BudgetID:     b.ID,
					Category:     b.Category,
					Spent:        roundCents(spent),
					Budget:       b.AmountMonthly,
					Overspent:    roundCents(overspend),
					PercentOver:  percentOver,
					UsagePercent: roundCents(percent),
				},
			}
		case percent >= budgetPacePercent && elapsed <= budgetPaceMaxElapsed:
			remaining := b.AmountMonthly - spent
			perDay := remaining / float64(daysLeft)
			alert = &model.Alert{
				UserID: userID,
				Type:   model.AlertTypeBudgetWarning,
				Title:  fmt.Sprintf("Budget Alert: %s", name),
				Description: fmt.Sprintf("You've used %d%% of your %s budget with %d days left this month. You have %s left, about %s per day.",
					int(percent), name, daysLeft, formatMoney(remaining), formatMoney(perDay)),
				DedupKey: budgetPaceKey(b.ID),
				Metadata: model.BudgetMetadata{
					BudgetID:      b.ID,
					Category:      b.Category,
					Spent:         roundCents(spent),
					Budget:        b.AmountMonthly,
					UsagePercent:  roundCents(percent),
					DaysRemaining: daysLeft,
				},
			}
		}
		if alert == nil {
			continue
		}

		ok, err := g.createIfNotExists(ctx, alert)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// GenerateAnomalyAlerts compares each recent category's spend in the month
// with an estimate of its usual monthly spend over the preceding ~3 months.
func (g *AlertGenerator) GenerateAnomalyAlerts(ctx context.Context, userID string, month time.Time) (int, error) {
	start, end := MonthWindow(month)

	recent, err := g.store.ListTransactions(ctx, store.TransactionFilter{
		UserID: userID,
		Type:   model.TransactionTypeExpense,
		Start:  start.AddDate(0, 0, -anomalyLookbackDays),
	})
	if err != nil {
		return 0, wrapStoreError("list recent expenses", err)
	}
	seen := make(map[string]bool)
	var categories []string
	for _, tx := range recent {
		if tx.Category != "" && !seen[tx.Category] {
			seen[tx.Category] = true
			categories = append(categories, tx.Category)
		}
	}
	sort.Strings(categories)

	historyEnd := start.Add(-time.Second)
	historyStart := time.Date(historyEnd.Year(), historyEnd.Month(), 1,
		historyEnd.Hour(), historyEnd.Minute(), historyEnd.Second(), 0, time.UTC).
		AddDate(0, 0, -anomalyHistoryDays)

	created := 0
	for _, category := range categories {
		current, err := g.store.AggregateTransactions(ctx, store.TransactionFilter{
			UserID:   userID,
			Type:     model.TransactionTypeExpense,
			Category: category,
			Start:    start,
			End:      end,
		})
		if err != nil {
			return created, wrapStoreError("sum category spending", err)
		}
		if current.Sum == 0 {
			continue
		}

		history, err := g.store.AggregateTransactions(ctx, store.TransactionFilter{
			UserID:   userID,
			Type:     model.TransactionTypeExpense,
			Category: category,
			Start:    historyStart,
			End:      historyEnd,
		})
		if err != nil {
			return created, wrapStoreError("sum category history", err)
		}
		if history.Count < anomalyMinHistory {
			continue
		}

		// rough monthly estimate: average transaction times transactions per month
		monthlyAvg := history.Avg() * float64(history.Count) / 3
		if monthlyAvg <= 0 || current.Sum <= monthlyAvg*anomalySpendMultiplier {
			continue
		}

		percentOfUsual := int(current.Sum / monthlyAvg * 100)
		ok, err := g.createIfNotExists(ctx, &model.Alert{
			UserID: userID,
			Type:   model.AlertTypeAnomaly,
			Title:  fmt.Sprintf("Unusual Spending: %s", displayCategory(category)),
			Description: fmt.Sprintf("Your %s spending this month (%s) is %d%% of your usual amount. This is significantly higher than your typical spending pattern.",
				category, formatMoney(current.Sum), percentOfUsual),
			DedupKey: anomalyKey(category),
			Metadata: model.AnomalyMetadata{
				Category:       category,
				CurrentSpend:   roundCents(current.Sum),
				AverageSpend:   roundCents(monthlyAvg),
				PercentOfUsual: percentOfUsual,
			},
		})
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// whenPhrase renders a day offset as "today", "tomorrow" or "in N days".
func whenPhrase(days int) string {
	switch days {
	case 0:
		return "today"
	case 1:
		return "tomorrow"
	default:
		return fmt.Sprintf("in %d days", days)
	}
}

// GenerateSubscriptionReminders refreshes recurring-charge detection for the
// user and reminds them of charges expected within the next three days.
func (g *AlertGenerator) GenerateSubscriptionReminders(ctx context.Context, userID string) (int, error) {
	if _, err := g.subscriptions.DetectRecurringCharges(ctx, userID); err != nil {
		return 0, err
	}
	if _, err := g.subscriptions.MarkTransactionsRecurring(ctx, userID); err != nil {
		return 0, err
	}

	charges, err := g.subscriptions.GetRecurring(ctx, userID)
	if err != nil {
		return 0, err
	}

	now := g.now().UTC()
	created := 0
	for _, rc := range charges {
		days := int(math.Floor(rc.NextExpectedDate.Sub(now).Hours() / 24))
		if days < 0 || days > reminderWindowDays {
			continue
		}

		name := rc.Merchant
		ok, err := g.createIfNotExists(ctx, &model.Alert{
			UserID: userID,
			Type:   model.AlertTypeSubscriptionReminder,
			Title:  fmt.Sprintf("Subscription Reminder: %s", name),
			Description: fmt.Sprintf("%s is expected to charge about %s %s (%s).",
				name, formatMoney(rc.AverageAmount), whenPhrase(days), rc.NextExpectedDate.Format("Jan 2")),
			DedupKey: subscriptionKey(rc.Merchant),
			Metadata: model.SubscriptionMetadata{
				SubscriptionID: rc.ID,
				Merchant:       rc.Merchant,
				Amount:         rc.AverageAmount,
				DueDate:        rc.NextExpectedDate,
				DaysUntil:      days,
			},
		})
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// GenerateGrayChargeAlerts alerts on confidently detected gray charges.
func (g *AlertGenerator) GenerateGrayChargeAlerts(ctx context.Context, userID string) (int, error) {
	report, err := g.subscriptions.IdentifyGrayCharges(ctx, userID)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, gc := range report.Charges {
		if !gc.Alertable() {
			continue
		}
		rc := gc.Charge
		name := rc.Merchant
		ok, err := g.createIfNotExists(ctx, &model.Alert{
			UserID: userID,
			Type:   model.AlertTypeGrayCharge,
			Title:  fmt.Sprintf("Possible Gray Charge: %s", name),
			Description: fmt.Sprintf("%s charges you %s every %d days. Flagged because: %s.",
				name, formatMoney(rc.AverageAmount), rc.FrequencyDays, strings.Join(gc.Reasons, "; ")),
			DedupKey: grayChargeKey(rc.Merchant),
			Metadata: model.GrayChargeMetadata{
				SubscriptionID: rc.ID,
				Merchant:       rc.Merchant,
				Amount:         rc.AverageAmount,
				Confidence:     rc.ConfidenceScore,
				Reasons:        gc.Reasons,
			},
		})
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}
