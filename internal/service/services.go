package service

import (
	"github.com/castlemilk/pfinance-insights/internal/push"
	"github.com/castlemilk/pfinance-insights/internal/store"
	"github.com/rs/zerolog"
)

// Services is the wired service layer over a single store.
type Services struct {
	Ledger        *LedgerService
	Subscriptions *SubscriptionDetector
	Anomalies     *AnomalyDetector
	Budgets       *BudgetService
	Goals         *GoalService
	Generator     *AlertGenerator
	Alerts        *AlertService
}

// NewServices builds every service on st. Goals completed through progress
// updates raise their completion alert through the generator. sender may be
// nil to disable push delivery.
func NewServices(st store.Store, sender push.Sender, log zerolog.Logger) *Services {
	subscriptions := NewSubscriptionDetector(st, log)
	anomalies := NewAnomalyDetector(st, log)
	goals := NewGoalService(st, log)
	generator := NewAlertGenerator(st, goals, subscriptions, sender, log)
	goals.SetCompletionNotifier(generator)

	return &Services{
		Ledger:        NewLedgerService(st, subscriptions, anomalies, log),
		Subscriptions: subscriptions,
		Anomalies:     anomalies,
		Budgets:       NewBudgetService(st, log),
		Goals:         goals,
		Generator:     generator,
		Alerts:        NewAlertService(st, log),
	}
}
