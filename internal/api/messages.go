package api

import (
	"github.com/castlemilk/pfinance-insights/internal/model"
	"github.com/castlemilk/pfinance-insights/internal/service"
)

// Empty is the response of procedures that return nothing.
type Empty struct{}

type IngestTransactionsRequest struct {
	Transactions []service.TransactionInput `json:"transactions"`
}

type IngestTransactionsResponse = service.IngestResult

type DetectRecurringChargesRequest struct{}

type RecurringChargesResponse struct {
	Charges []*model.RecurringCharge `json:"charges"`
}

type GetRecurringChargesRequest struct{}

type IdentifyGrayChargesRequest struct{}

type IdentifyGrayChargesResponse = service.GrayChargeReport

type MarkTransactionsRecurringRequest struct{}

type MarkTransactionsRecurringResponse struct {
	Marked int `json:"marked"`
}

type DetectAnomaliesRequest struct {
	UseModel bool `json:"use_model"`
}

type DetectAnomaliesResponse struct {
	Anomalies []service.AnomalyFinding `json:"anomalies"`
}

type GetAnomalySummaryRequest struct{}

type GetAnomalySummaryResponse = service.AnomalySummary

type CreateBudgetRequest struct {
	Category      string  `json:"category"`
	AmountMonthly float64 `json:"amount_monthly"`
	Currency      string  `json:"currency"`
}

type BudgetResponse struct {
	Budget *model.Budget `json:"budget"`
}

type UpdateBudgetRequest struct {
	BudgetID      string   `json:"budget_id"`
	AmountMonthly *float64 `json:"amount_monthly,omitempty"`
	Currency      *string  `json:"currency,omitempty"`
}

type DeleteBudgetRequest struct {
	BudgetID string `json:"budget_id"`
}

type ListBudgetsRequest struct {
	IncludeInactive bool `json:"include_inactive"`
}

type ListBudgetsResponse struct {
	Budgets []*model.Budget `json:"budgets"`
}

// CalculateBudgetUsageRequest takes Month as "YYYY-MM"; empty means the
// current month.
type CalculateBudgetUsageRequest struct {
	Month string `json:"month"`
}

type CalculateBudgetUsageResponse struct {
	Usage []model.BudgetUsage `json:"usage"`
}

type CreateGoalRequest = service.GoalInput

type GoalResponse struct {
	Goal *model.Goal `json:"goal"`
}

type ListGoalsRequest struct {
	ActiveOnly bool `json:"active_only"`
}

type ListGoalsResponse struct {
	Goals []*model.Goal `json:"goals"`
}

// UpdateGoalProgressRequest adds Amount to the goal's current amount.
type UpdateGoalProgressRequest struct {
	GoalID string  `json:"goal_id"`
	Amount float64 `json:"amount"`
}

type ProjectGoalCompletionRequest struct {
	GoalID string `json:"goal_id"`
}

type ProjectGoalCompletionResponse = service.GoalProgressView

type GetGoalRecommendationsRequest struct{}

type GetGoalRecommendationsResponse struct {
	Recommendations []service.GoalRecommendation `json:"recommendations"`
}

type GenerateAllAlertsRequest struct {
	Month string `json:"month"`
}

type GenerateAllAlertsResponse = service.AlertCounts

type GetAlertsRequest struct {
	UnreadOnly bool `json:"unread_only"`
	Limit      int  `json:"limit"`
}

type GetAlertsResponse struct {
	Alerts      []*model.Alert `json:"alerts"`
	UnreadCount int            `json:"unread_count"`
}

type MarkAlertsReadRequest struct {
	AlertIDs []string `json:"alert_ids"`
}

type MarkAlertsReadResponse struct {
	Marked int `json:"marked"`
}

// DeleteUserRequest may name the caller's own id; empty means the caller.
type DeleteUserRequest struct {
	UserID string `json:"user_id"`
}
