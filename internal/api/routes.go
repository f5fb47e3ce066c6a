package api

import (
	"net/http"

	"connectrpc.com/connect"
)

// InsightsServiceName is the fully-qualified name of the InsightsService.
const InsightsServiceName = "pfinsights.v1.InsightsService"

// Procedure paths of the InsightsService.
const (
	IngestTransactionsProcedure        = "/" + InsightsServiceName + "/IngestTransactions"
	DetectRecurringChargesProcedure    = "/" + InsightsServiceName + "/DetectRecurringCharges"
	GetRecurringChargesProcedure       = "/" + InsightsServiceName + "/GetRecurringCharges"
	IdentifyGrayChargesProcedure       = "/" + InsightsServiceName + "/IdentifyGrayCharges"
	MarkTransactionsRecurringProcedure = "/" + InsightsServiceName + "/MarkTransactionsRecurring"
	DetectAnomaliesProcedure           = "/" + InsightsServiceName + "/DetectAnomalies"
	GetAnomalySummaryProcedure         = "/" + InsightsServiceName + "/GetAnomalySummary"
	CreateBudgetProcedure              = "/" + InsightsServiceName + "/CreateBudget"
	UpdateBudgetProcedure              = "/" + InsightsServiceName + "/UpdateBudget"
	DeleteBudgetProcedure              = "/" + InsightsServiceName + "/DeleteBudget"
	ListBudgetsProcedure               = "/" + InsightsServiceName + "/ListBudgets"
	CalculateBudgetUsageProcedure      = "/" + InsightsServiceName + "/CalculateBudgetUsage"
	CreateGoalProcedure                = "/" + InsightsServiceName + "/CreateGoal"
	ListGoalsProcedure                 = "/" + InsightsServiceName + "/ListGoals"
	UpdateGoalProgressProcedure        = "/" + InsightsServiceName + "/UpdateGoalProgress"
	ProjectGoalCompletionProcedure     = "/" + InsightsServiceName + "/ProjectGoalCompletion"
	GetGoalRecommendationsProcedure    = "/" + InsightsServiceName + "/GetGoalRecommendations"
	GenerateAllAlertsProcedure         = "/" + InsightsServiceName + "/GenerateAllAlerts"
	GetAlertsProcedure                 = "/" + InsightsServiceName + "/GetAlerts"
	MarkAlertsReadProcedure            = "/" + InsightsServiceName + "/MarkAlertsRead"
	DeleteUserProcedure                = "/" + InsightsServiceName + "/DeleteUser"
)

// NewInsightsServiceHandler builds an HTTP handler serving every procedure of
// the InsightsService. It returns the path prefix to mount it on.
func NewInsightsServiceHandler(h *InsightsHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(IngestTransactionsProcedure, connect.NewUnaryHandler(IngestTransactionsProcedure, h.IngestTransactions, opts...))
	mux.Handle(DetectRecurringChargesProcedure, connect.NewUnaryHandler(DetectRecurringChargesProcedure, h.DetectRecurringCharges, opts...))
	mux.Handle(GetRecurringChargesProcedure, connect.NewUnaryHandler(GetRecurringChargesProcedure, h.GetRecurringCharges, opts...))
	mux.Handle(IdentifyGrayChargesProcedure, connect.NewUnaryHandler(IdentifyGrayChargesProcedure, h.IdentifyGrayCharges, opts...))
	mux.Handle(MarkTransactionsRecurringProcedure, connect.NewUnaryHandler(MarkTransactionsRecurringProcedure, h.MarkTransactionsRecurring, opts...))
	mux.Handle(DetectAnomaliesProcedure, connect.NewUnaryHandler(DetectAnomaliesProcedure, h.DetectAnomalies, opts...))
	mux.Handle(GetAnomalySummaryProcedure, connect.NewUnaryHandler(GetAnomalySummaryProcedure, h.GetAnomalySummary, opts...))
	mux.Handle(CreateBudgetProcedure, connect.NewUnaryHandler(CreateBudgetProcedure, h.CreateBudget, opts...))
	mux.Handle(UpdateBudgetProcedure, connect.NewUnaryHandler(UpdateBudgetProcedure, h.UpdateBudget, opts...))
	mux.Handle(DeleteBudgetProcedure, connect.NewUnaryHandler(DeleteBudgetProcedure, h.DeleteBudget, opts...))
	mux.Handle(ListBudgetsProcedure, connect.NewUnaryHandler(ListBudgetsProcedure, h.ListBudgets, opts...))
	mux.Handle(CalculateBudgetUsageProcedure, connect.NewUnaryHandler(CalculateBudgetUsageProcedure, h.CalculateBudgetUsage, opts...))
	mux.Handle(CreateGoalProcedure, connect.NewUnaryHandler(CreateGoalProcedure, h.CreateGoal, opts...))
	mux.Handle(ListGoalsProcedure, connect.NewUnaryHandler(ListGoalsProcedure, h.ListGoals, opts...))
	mux.Handle(UpdateGoalProgressProcedure, connect.NewUnaryHandler(UpdateGoalProgressProcedure, h.UpdateGoalProgress, opts...))
	mux.Handle(ProjectGoalCompletionProcedure, connect.NewUnaryHandler(ProjectGoalCompletionProcedure, h.ProjectGoalCompletion, opts...))
	mux.Handle(GetGoalRecommendationsProcedure, connect.NewUnaryHandler(GetGoalRecommendationsProcedure, h.GetGoalRecommendations, opts...))
	mux.Handle(GenerateAllAlertsProcedure, connect.NewUnaryHandler(GenerateAllAlertsProcedure, h.GenerateAllAlerts, opts...))
	mux.Handle(GetAlertsProcedure, connect.NewUnaryHandler(GetAlertsProcedure, h.GetAlerts, opts...))
	mux.Handle(MarkAlertsReadProcedure, connect.NewUnaryHandler(MarkAlertsReadProcedure, h.MarkAlertsRead, opts...))
	mux.Handle(DeleteUserProcedure, connect.NewUnaryHandler(DeleteUserProcedure, h.DeleteUser, opts...))
	return "/" + InsightsServiceName + "/", mux
}
