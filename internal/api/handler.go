// Package api exposes the insights services as Connect procedures.
package api

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/castlemilk/pfinance-insights/internal/auth"
	"github.com/castlemilk/pfinance-insights/internal/logger"
	"github.com/castlemilk/pfinance-insights/internal/service"
	"github.com/castlemilk/pfinance-insights/internal/store"
	"github.com/rs/zerolog"
)

// InsightsHandler implements the InsightsService procedures. Every procedure
// acts on behalf of the user placed in the context by auth.UserIDInterceptor.
type InsightsHandler struct {
	svc *service.Services
	log zerolog.Logger
}

func NewInsightsHandler(svc *service.Services, log zerolog.Logger) *InsightsHandler {
	return &InsightsHandler{
		svc: svc,
		log: logger.Component(log, "api"),
	}
}

// toConnectError maps service errors onto connect codes.
func (h *InsightsHandler) toConnectError(ctx context.Context, procedure string, err error) error {
	var connectErr *connect.Error
	switch {
	case errors.As(err, &connectErr):
		return connectErr
	case service.IsValidation(err):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, store.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	log := logger.FromContext(ctx, h.log)
	log.Error().Err(err).Str("procedure", procedure).Msg("request failed")
	return connect.NewError(connect.CodeInternal, err)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (h *InsightsHandler) IngestTransactions(ctx context.Context, req *connect.Request[IngestTransactionsRequest]) (*connect.Response[IngestTransactionsResponse], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	result, err := h.svc.Ledger.IngestTransactions(ctx, claims.UID, req.Msg.Transactions)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(result), nil
}

func (h *InsightsHandler) DetectRecurringCharges(ctx context.Context, req *connect.Request[DetectRecurringChargesRequest]) (*connect.Response[RecurringChargesResponse], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	charges, err := h.svc.Subscriptions.DetectRecurringCharges(ctx, claims.UID)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(&RecurringChargesResponse{Charges: nonNil(charges)}), nil
}

func (h *InsightsHandler) GetRecurringCharges(ctx context.Context, req *connect.Request[GetRecurringChargesRequest]) (*connect.Response[RecurringChargesResponse], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	charges, err := h.svc.Subscriptions.GetRecurring(ctx, claims.UID)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(&RecurringChargesResponse{Charges: nonNil(charges)}), nil
}

func (h *InsightsHandler) IdentifyGrayCharges(ctx context.Context, req *connect.Request[IdentifyGrayChargesRequest]) (*connect.Response[IdentifyGrayChargesResponse], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	report, err := h.svc.Subscriptions.IdentifyGrayCharges(ctx, claims.UID)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(report), nil
}

func (h *InsightsHandler) MarkTransactionsRecurring(ctx context.Context, req *connect.Request[MarkTransactionsRecurringRequest]) (*connect.Response[MarkTransactionsRecurringResponse], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	n, err := h.svc.Subscriptions.MarkTransactionsRecurring(ctx, claims.UID)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(&MarkTransactionsRecurringResponse{Marked: n}), nil
}

func (h *InsightsHandler) DetectAnomalies(ctx context.Context, req *connect.Request[DetectAnomaliesRequest]) (*connect.Response[DetectAnomaliesResponse], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	findings, err := h.svc.Anomalies.DetectAnomalies(ctx, claims.UID, req.Msg.UseModel)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(&DetectAnomaliesResponse{Anomalies: findings}), nil
}

func (h *InsightsHandler) GetAnomalySummary(ctx context.Context, req *connect.Request[GetAnomalySummaryRequest]) (*connect.Response[GetAnomalySummaryResponse], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := h.svc.Anomalies.GetAnomalySummary(ctx, claims.UID)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(summary), nil
}

func (h *InsightsHandler) CreateBudget(ctx context.Context, req *connect.Request[CreateBudgetRequest]) (*connect.Response[BudgetResponse], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	budget, err := h.svc.Budgets.CreateBudget(ctx, claims.UID, req.Msg.Category, req.Msg.AmountMonthly, req.Msg.Currency)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(&BudgetResponse{Budget: budget}), nil
}

func (h *InsightsHandler) UpdateBudget(ctx context.Context, req *connect.Request[UpdateBudgetRequest]) (*connect.Response[BudgetResponse], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	budget, err := h.svc.Budgets.UpdateBudget(ctx, claims.UID, req.Msg.BudgetID, service.BudgetUpdate{
		AmountMonthly: req.Msg.AmountMonthly,
		Currency:      req.Msg.Currency,
	})
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(&BudgetResponse{Budget: budget}), nil
}

func (h *InsightsHandler) DeleteBudget(ctx context.Context, req *connect.Request[DeleteBudgetRequest]) (*connect.Response[Empty], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.svc.Budgets.DeleteBudget(ctx, claims.UID, req.Msg.BudgetID); err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (h *InsightsHandler) ListBudgets(ctx context.Context, req *connect.Request[ListBudgetsRequest]) (*connect.Response[ListBudgetsResponse], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	budgets, err := h.svc.Budgets.ListBudgets(ctx, claims.UID, req.Msg.IncludeInactive)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(&ListBudgetsResponse{Budgets: nonNil(budgets)}), nil
}

func (h *InsightsHandler) CalculateBudgetUsage(ctx context.Context, req *connect.Request[CalculateBudgetUsageRequest]) (*connect.Response[CalculateBudgetUsageResponse], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	month, err := service.ParseMonth(req.Msg.Month)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	usage, err := h.svc.Budgets.CalculateBudgetUsage(ctx, claims.UID, month)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(&CalculateBudgetUsageResponse{Usage: nonNil(usage)}), nil
}

func (h *InsightsHandler) CreateGoal(ctx context.Context, req *connect.Request[CreateGoalRequest]) (*connect.Response[GoalResponse], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	goal, err := h.svc.Goals.CreateGoal(ctx, claims.UID, *req.Msg)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(&GoalResponse{Goal: goal}), nil
}

func (h *InsightsHandler) ListGoals(ctx context.Context, req *connect.Request[ListGoalsRequest]) (*connect.Response[ListGoalsResponse], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	goals, err := h.svc.Goals.ListGoals(ctx, claims.UID, req.Msg.ActiveOnly)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(&ListGoalsResponse{Goals: nonNil(goals)}), nil
}

func (h *InsightsHandler) UpdateGoalProgress(ctx context.Context, req *connect.Request[UpdateGoalProgressRequest]) (*connect.Response[GoalResponse], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	goal, err := h.svc.Goals.UpdateGoalProgress(ctx, claims.UID, req.Msg.GoalID, req.Msg.Amount)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(&GoalResponse{Goal: goal}), nil
}

func (h *InsightsHandler) ProjectGoalCompletion(ctx context.Context, req *connect.Request[ProjectGoalCompletionRequest]) (*connect.Response[ProjectGoalCompletionResponse], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	view, err := h.svc.Goals.GoalProgress(ctx, claims.UID, req.Msg.GoalID)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(view), nil
}

func (h *InsightsHandler) GetGoalRecommendations(ctx context.Context, req *connect.Request[GetGoalRecommendationsRequest]) (*connect.Response[GetGoalRecommendationsResponse], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := h.svc.Goals.GetGoalRecommendations(ctx, claims.UID)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(&GetGoalRecommendationsResponse{Recommendations: recs}), nil
}

func (h *InsightsHandler) GenerateAllAlerts(ctx context.Context, req *connect.Request[GenerateAllAlertsRequest]) (*connect.Response[GenerateAllAlertsResponse], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	month, err := service.ParseMonth(req.Msg.Month)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	counts, err := h.svc.Generator.GenerateAllAlerts(ctx, claims.UID, month)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(counts), nil
}

func (h *InsightsHandler) GetAlerts(ctx context.Context, req *connect.Request[GetAlertsRequest]) (*connect.Response[GetAlertsResponse], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	alerts, err := h.svc.Alerts.GetAlerts(ctx, claims.UID, req.Msg.UnreadOnly, req.Msg.Limit)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	unread, err := h.svc.Alerts.UnreadCount(ctx, claims.UID)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(&GetAlertsResponse{Alerts: alerts, UnreadCount: unread}), nil
}

func (h *InsightsHandler) MarkAlertsRead(ctx context.Context, req *connect.Request[MarkAlertsReadRequest]) (*connect.Response[MarkAlertsReadResponse], error) {
	claims, err := auth.RequireAuth(ctx)
	if err != nil {
		return nil, err
	}
	n, err := h.svc.Alerts.MarkAlertsRead(ctx, claims.UID, req.Msg.AlertIDs)
	if err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(&MarkAlertsReadResponse{Marked: n}), nil
}

func (h *InsightsHandler) DeleteUser(ctx context.Context, req *connect.Request[DeleteUserRequest]) (*connect.Response[Empty], error) {
	claims, err := auth.RequireUserAccess(ctx, req.Msg.UserID)
	if err != nil {
		return nil, err
	}
	if err := h.svc.Ledger.DeleteUser(ctx, claims.UID); err != nil {
		return nil, h.toConnectError(ctx, req.Spec().Procedure, err)
	}
	return connect.NewResponse(&Empty{}), nil
}
