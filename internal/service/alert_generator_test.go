package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/castlemilk/pfinance-insights/internal/logger"
	"github.com/castlemilk/pfinance-insights/internal/model"
	"github.com/castlemilk/pfinance-insights/internal/push"
	"github.com/castlemilk/pfinance-insights/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type alertFixture struct {
	store     *store.MemoryStore
	goals     *GoalService
	budgets   *BudgetService
	subs      *SubscriptionDetector
	generator *AlertGenerator
}

func newAlertFixture(t *testing.T, sender push.Sender, txs ...*model.Transaction) *alertFixture {
	t.Helper()
	st := seedTransactions(t, txs...)
	goals := newTestGoalService(st)
	subs := NewSubscriptionDetector(st, logger.Nop())
	gen := NewAlertGenerator(st, goals, subs, sender, logger.Nop())
	gen.now = fixedClock(testNow)
	goals.SetCompletionNotifier(gen)
	return &alertFixture{
		store:     st,
		goals:     goals,
		budgets:   newTestBudgetService(st),
		subs:      subs,
		generator: gen,
	}
}

func (f *alertFixture) alerts(t *testing.T, userID string) []*model.Alert {
	t.Helper()
	alerts, err := f.store.ListAlerts(context.Background(), userID, false, 0)
	require.NoError(t, err)
	return alerts
}

func TestGenerateGoalAlerts_Progress(t *testing.T) {
	ctx := context.Background()
	f := newAlertFixture(t, nil)

	goal, err := f.goals.CreateGoal(ctx, "user1", GoalInput{
		Name:          "Laptop",
		TargetAmount:  1000,
		CurrentAmount: 700,
		Deadline:      testNow.AddDate(0, 0, 300),
	})
	require.NoError(t, err)
	_, err = f.goals.CreateGoal(ctx, "user1", GoalInput{Name: "Car", TargetAmount: 1000, CurrentAmount: 690, Deadline: testNow.AddDate(1, 0, 0)})
	require.NoError(t, err)

	n, err := f.generator.GenerateGoalAlerts(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	alerts := f.alerts(t, "user1")
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, model.AlertTypeGoalProgress, a.Type)
	assert.Equal(t, "Goal Progress: Laptop", a.Title)
	assert.Equal(t,
		"Great progress! You're 70% of the way to your Laptop goal. Only $300.00 left to save! Save $30.00 a month to reach it by April 9, 2026.",
		a.Description)
	assert.Equal(t, "goal_progress:"+goal.ID, a.DedupKey)
	assert.False(t, a.IsRead)
	assert.Equal(t, testNow, a.CreatedAt)

	meta, ok := a.Metadata.(model.GoalProgressMetadata)
	require.True(t, ok)
	assert.Equal(t, goal.ID, meta.GoalID)
	assert.Equal(t, 70.0, meta.ProgressPercentage)
	assert.Equal(t, 300.0, meta.Remaining)
	assert.Equal(t, 30.0, meta.MonthlyNeeded)
	assert.Nil(t, meta.ProjectedDate)

	// unread duplicate suppresses a second alert
	n, err = f.generator.GenerateGoalAlerts(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, f.alerts(t, "user1"), 1)
}

func TestGenerateGoalAlerts_ProjectionWithSavings(t *testing.T) {
	ctx := context.Background()
	f := newAlertFixture(t, nil, savingsHistory("user1")...)

	_, err := f.goals.CreateGoal(ctx, "user1", GoalInput{Name: "Trip", TargetAmount: 10000, CurrentAmount: 8200, Deadline: testNow.AddDate(1, 0, 0)})
	require.NoError(t, err)

	_, err = f.generator.GenerateGoalAlerts(ctx, "user1")
	require.NoError(t, err)

	alerts := f.alerts(t, "user1")
	require.Len(t, alerts, 1)
	assert.True(t, strings.HasSuffix(alerts[0].Description, "At your current savings rate you'll get there by July 13, 2025."))

	meta := alerts[0].Metadata.(model.GoalProgressMetadata)
	require.NotNil(t, meta.ProjectedDate)
	assert.Equal(t, testNow.AddDate(0, 0, 30), *meta.ProjectedDate)
}

func TestGenerateGoalAlerts_Completion(t *testing.T) {
	ctx := context.Background()
	f := newAlertFixture(t, nil)

	goal, err := f.goals.CreateGoal(ctx, "user1", GoalInput{Name: "Laptop", TargetAmount: 1000, CurrentAmount: 1000, Deadline: testNow.AddDate(0, 6, 0)})
	require.NoError(t, err)

	n, err := f.generator.GenerateGoalAlerts(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	alerts := f.alerts(t, "user1")
	require.Len(t, alerts, 1)
	assert.Equal(t, "Goal Complete: Laptop", alerts[0].Title)
	assert.Equal(t, "Congratulations! You've reached your Laptop goal of $1000.00!", alerts[0].Description)
	assert.Equal(t, "goal_complete:"+goal.ID, alerts[0].DedupKey)
	assert.True(t, alerts[0].Metadata.(model.GoalProgressMetadata).Completed)

	stored, err := f.store.GetGoal(ctx, goal.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestGoalCompletedThroughProgressUpdate(t *testing.T) {
	ctx := context.Background()
	f := newAlertFixture(t, nil)

	goal, err := f.goals.CreateGoal(ctx, "user1", GoalInput{Name: "Bike", TargetAmount: 1000, CurrentAmount: 700, Deadline: testNow.AddDate(0, 6, 0)})
	require.NoError(t, err)

	_, err = f.goals.UpdateGoalProgress(ctx, "user1", goal.ID, 300)
	require.NoError(t, err)

	alerts := f.alerts(t, "user1")
	require.Len(t, alerts, 1)
	assert.Equal(t, "Goal Complete: Bike", alerts[0].Title)

	// the goal is inactive now, so the goal pass has nothing to add
	n, err := f.generator.GenerateGoalAlerts(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGenerateBudgetAlerts_ExceededDedup(t *testing.T) {
	ctx := context.Background()
	f := newAlertFixture(t, nil,
		expenseTx("user1", "Bistro", "dining", 150, day(2025, time.June, 3)),
		expenseTx("user1", "Bistro", "dining", 100, day(2025, time.June, 9)),
		expenseTx("user1", "Bistro", "dining", 500, day(2025, time.May, 9)),
	)
	budget, err := f.budgets.CreateBudget(ctx, "user1", "dining", 200, "USD")
	require.NoError(t, err)

	month, _ := ParseMonth("2025-06")
	n, err := f.generator.GenerateBudgetAlerts(ctx, "user1", month)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	alerts := f.alerts(t, "user1")
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, model.AlertTypeBudgetWarning, a.Type)
	assert.Equal(t, "Budget Exceeded: Dining", a.Title)
	assert.Equal(t, "You've spent $250.00 in Dining this month, which is $50.00 over your $200.00 budget (25% over).", a.Description)
	assert.Equal(t, "budget_exceeded:"+budget.ID, a.DedupKey)

	meta := a.Metadata.(model.BudgetMetadata)
	assert.Equal(t, 250.0, meta.Spent)
	assert.Equal(t, 50.0, meta.Overspent)
	assert.Equal(t, 25, meta.PercentOver)

	n, err = f.generator.GenerateBudgetAlerts(ctx, "user1", month)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, f.alerts(t, "user1"), 1)

	read, err := f.store.MarkAlertsRead(ctx, "user1", []string{a.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, read)

	n, err = f.generator.GenerateBudgetAlerts(ctx, "user1", month)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.alerts(t, "user1"), 2)
}

func TestGenerateBudgetAlerts_Pace(t *testing.T) {
	ctx := context.Background()
	f := newAlertFixture(t, nil,
		expenseTx("user1", "Grocer", "groceries", 420, day(2025, time.June, 4)),
		expenseTx("user1", "Grocer", "groceries", 420, day(2025, time.May, 4)),
		expenseTx("user1", "Cinema", "entertainment", 30, day(2025, time.June, 4)),
	)
	budget, err := f.budgets.CreateBudget(ctx, "user1", "groceries", 500, "USD")
	require.NoError(t, err)
	_, err = f.budgets.CreateBudget(ctx, "user1", "entertainment", 100, "USD")
	require.NoError(t, err)

	// May is over, so pace alerts no longer apply there
	may, _ := ParseMonth("2025-05")
	n, err := f.generator.GenerateBudgetAlerts(ctx, "user1", may)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = f.generator.GenerateBudgetAlerts(ctx, "user1", testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	alerts := f.alerts(t, "user1")
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, "Budget Alert: Groceries", a.Title)
	assert.Equal(t, "You've used 84% of your Groceries budget with 18 days left this month. You have $80.00 left, about $4.44 per day.", a.Description)
	assert.Equal(t, "budget_pace:"+budget.ID, a.DedupKey)
	assert.Equal(t, 18, a.Metadata.(model.BudgetMetadata).DaysRemaining)
}

func TestGenerateBudgetAlerts_PaceTooLateInMonth(t *testing.T) {
	ctx := context.Background()
	f := newAlertFixture(t, nil, expenseTx("user1", "Grocer", "groceries", 420, day(2025, time.June, 4)))
	f.generator.now = fixedClock(day(2025, time.June, 19))
	_, err := f.budgets.CreateBudget(ctx, "user1", "groceries", 500, "USD")
	require.NoError(t, err)

	n, err := f.generator.GenerateBudgetAlerts(ctx, "user1", day(2025, time.June, 19))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMonthProgress(t *testing.T) {
	start, end := MonthWindow(testNow)

	elapsed, left := monthProgress(start, end, testNow)
	assert.InDelta(t, 13.0/30.0, elapsed, 1e-9)
	assert.Equal(t, 18, left)

	elapsed, left = monthProgress(start, end, day(2025, time.July, 2))
	assert.Equal(t, 1.0, elapsed)
	assert.Equal(t, 0, left)

	elapsed, left = monthProgress(start, end, day(2025, time.May, 2))
	assert.Equal(t, 0.0, elapsed)
	assert.Equal(t, 30, left)
}

func TestGenerateAnomalyAlerts(t *testing.T) {
	ctx := context.Background()
	f := newAlertFixture(t, nil,
		expenseTx("user1", "Bistro", "dining", 100, day(2025, time.March, 10)),
		expenseTx("user1", "Bistro", "dining", 100, day(2025, time.April, 10)),
		expenseTx("user1", "Bistro", "dining", 100, day(2025, time.May, 10)),
		expenseTx("user1", "Bistro", "dining", 150, day(2025, time.June, 5)),

		expenseTx("user1", "Grocer", "groceries", 100, day(2025, time.March, 11)),
		expenseTx("user1", "Grocer", "groceries", 100, day(2025, time.April, 11)),
		expenseTx("user1", "Grocer", "groceries", 100, day(2025, time.May, 11)),
		expenseTx("user1", "Grocer", "groceries", 140, day(2025, time.June, 5)),

		expenseTx("user1", "Airline", "travel", 100, day(2025, time.April, 11)),
		expenseTx("user1", "Airline", "travel", 100, day(2025, time.May, 11)),
		expenseTx("user1", "Airline", "travel", 900, day(2025, time.June, 5)),

		expenseTx("user1", "Florist", "gifts", 50, day(2025, time.March, 20)),
		expenseTx("user1", "Florist", "gifts", 50, day(2025, time.April, 20)),
		expenseTx("user1", "Florist", "gifts", 50, day(2025, time.May, 20)),
	)

	n, err := f.generator.GenerateAnomalyAlerts(ctx, "user1", testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	alerts := f.alerts(t, "user1")
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, model.AlertTypeAnomaly, a.Type)
	assert.Equal(t, "Unusual Spending: Dining", a.Title)
	assert.Equal(t, "Your dining spending this month ($150.00) is 150% of your usual amount. This is significantly higher than your typical spending pattern.", a.Description)
	assert.Equal(t, "anomaly:dining", a.DedupKey)

	meta := a.Metadata.(model.AnomalyMetadata)
	assert.Equal(t, 150, meta.PercentOfUsual)
	assert.Equal(t, 100.0, meta.AverageSpend)
}

func TestGenerateSubscriptionReminders(t *testing.T) {
	ctx := context.Background()
	var txs []*model.Transaction
	txs = append(txs, monthly("user1", "Netflix", "entertainment", 15.99, day(2025, time.May, 15), 3)...)
	txs = append(txs, monthly("user1", "Spotify", "entertainment", 11.99, day(2025, time.May, 1), 3)...)
	txs = append(txs, monthly("user1", "Gym", "health", 40, day(2025, time.June, 1), 3)...)
	f := newAlertFixture(t, nil, txs...)

	n, err := f.generator.GenerateSubscriptionReminders(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	alerts := f.alerts(t, "user1")
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, model.AlertTypeSubscriptionReminder, a.Type)
	assert.Equal(t, "Subscription Reminder: Netflix", a.Title)
	assert.Equal(t, "Netflix is expected to charge about $15.99 tomorrow (Jun 14).", a.Description)
	assert.Equal(t, "subscription:Netflix", a.DedupKey)
	assert.Equal(t, 1, a.Metadata.(model.SubscriptionMetadata).DaysUntil)

	// the refresh also marks the matched transactions
	recurring, err := f.store.ListTransactions(ctx, store.TransactionFilter{UserID: "user1", Merchant: "Netflix"})
	require.NoError(t, err)
	for _, tx := range recurring {
		assert.True(t, tx.IsRecurring)
	}
}

func TestWhenPhrase(t *testing.T) {
	assert.Equal(t, "today", whenPhrase(0))
	assert.Equal(t, "tomorrow", whenPhrase(1))
	assert.Equal(t, "in 3 days", whenPhrase(3))
}

func TestGenerateGrayChargeAlerts(t *testing.T) {
	ctx := context.Background()
	f := newAlertFixture(t, nil, monthly("user1", "GitHub Pro", "software", 4.99, day(2025, time.May, 28), 3)...)

	_, err := f.subs.DetectRecurringCharges(ctx, "user1")
	require.NoError(t, err)
	_, err = f.store.UpsertRecurringCharge(ctx, &model.RecurringCharge{
		UserID:          "user1",
		Merchant:        "Trial Service",
		AverageAmount:   2,
		FrequencyDays:   14,
		ConfidenceScore: 0.65,
	})
	require.NoError(t, err)

	n, err := f.generator.GenerateGrayChargeAlerts(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	alerts := f.alerts(t, "user1")
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, model.AlertTypeGrayCharge, a.Type)
	assert.Equal(t, "Possible Gray Charge: GitHub Pro", a.Title)
	assert.Equal(t,
		"GitHub Pro charges you $4.99 every 30 days. Flagged because: Contains keyword: pro; Small recurring amount (possible forgotten subscription); Monthly subscription pattern detected.",
		a.Description)
	assert.Equal(t, "gray_charge:GitHub Pro", a.DedupKey)

	meta := a.Metadata.(model.GrayChargeMetadata)
	assert.GreaterOrEqual(t, len(meta.Reasons), 2)
}

func TestGenerateAllAlerts(t *testing.T) {
	ctx := context.Background()
	var txs []*model.Transaction
	txs = append(txs,
		expenseTx("user1", "Bistro", "dining", 100, day(2025, time.March, 12)),
		expenseTx("user1", "Bistro", "dining", 100, day(2025, time.April, 12)),
		expenseTx("user1", "Bistro", "dining", 100, day(2025, time.May, 12)),
		expenseTx("user1", "Bistro", "dining", 250, day(2025, time.June, 5)),
	)
	txs = append(txs, monthly("user1", "GitHub Pro", "software", 4.99, day(2025, time.May, 15), 3)...)
	f := newAlertFixture(t, nil, txs...)

	_, err := f.goals.CreateGoal(ctx, "user1", GoalInput{Name: "Laptop", TargetAmount: 1000, CurrentAmount: 800, Deadline: testNow.AddDate(0, 6, 0)})
	require.NoError(t, err)
	_, err = f.budgets.CreateBudget(ctx, "user1", "dining", 200, "USD")
	require.NoError(t, err)

	counts, err := f.generator.GenerateAllAlerts(ctx, "user1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, &AlertCounts{
		GoalProgress:  1,
		Budget:        1,
		Anomalies:     1,
		Subscriptions: 1,
		GrayCharges:   1,
		Total:         5,
	}, counts)

	types := map[model.AlertType]int{}
	for _, a := range f.alerts(t, "user1") {
		types[a.Type]++
	}
	assert.Equal(t, map[model.AlertType]int{
		model.AlertTypeGoalProgress:         1,
		model.AlertTypeBudgetWarning:        1,
		model.AlertTypeAnomaly:              1,
		model.AlertTypeSubscriptionReminder: 1,
		model.AlertTypeGrayCharge:           1,
	}, types)

	again, err := f.generator.GenerateAllAlerts(ctx, "user1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Total)
}

func TestGenerateAlerts_PushDelivery(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	sender := push.NewMockSender(ctrl)
	f := newAlertFixture(t, sender)

	_, err := f.goals.CreateGoal(ctx, "user1", GoalInput{Name: "Laptop", TargetAmount: 1000, CurrentAmount: 900, Deadline: testNow.AddDate(0, 6, 0)})
	require.NoError(t, err)

	sender.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, alert *model.Alert) error {
			assert.NotEmpty(t, alert.ID)
			assert.Equal(t, "Goal Progress: Laptop", alert.Title)
			return errors.New("fcm unavailable")
		}).
		Times(1)

	n, err := f.generator.GenerateGoalAlerts(ctx, "user1")
	require.NoError(t, err, "delivery failures never fail the pass")
	assert.Equal(t, 1, n)
	assert.Len(t, f.alerts(t, "user1"), 1)

	// deduplicated alerts are not delivered again
	n, err = f.generator.GenerateGoalAlerts(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGenerateAlerts_StoreErrorAbortsPass(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	mockStore := store.NewMockStore(ctrl)
	mockStore.EXPECT().ListGoals(ctx, "user1", true).
		Return([]*model.Goal{{ID: "g1", UserID: "user1", Name: "Car", TargetAmount: 100, CurrentAmount: 100, IsActive: true}}, nil)
	mockStore.EXPECT().HasUnreadAlert(ctx, "user1", model.AlertTypeGoalProgress, "goal_complete:g1").
		Return(false, errors.New("deadline exceeded"))

	goals := newTestGoalService(mockStore)
	gen := NewAlertGenerator(mockStore, goals, NewSubscriptionDetector(mockStore, logger.Nop()), nil, logger.Nop())
	gen.now = fixedClock(testNow)

	_, err := gen.GenerateAllAlerts(ctx, "user1", testNow)
	require.Error(t, err)
	assert.Equal(t, "failed to check existing alert: deadline exceeded", err.Error())
}
