package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/castlemilk/pfinance-insights/internal/auth"
	"github.com/castlemilk/pfinance-insights/internal/logger"
	"github.com/castlemilk/pfinance-insights/internal/service"
	"github.com/castlemilk/pfinance-insights/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newTestServer(t *testing.T, devUserID string) *httptest.Server {
	t.Helper()
	log := logger.Nop()
	svc := service.NewServices(store.NewMemoryStore(), nil, log)
	path, handler := NewInsightsServiceHandler(
		NewInsightsHandler(svc, log),
		connect.WithInterceptors(auth.UserIDInterceptor(devUserID, log)),
	)
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// call posts a Connect unary JSON request and decodes the response into out,
// or into an errorBody when the status is not 200.
func call(t *testing.T, srv *httptest.Server, procedure, userID string, body, out any) (int, errorBody) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+procedure, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(auth.UserIDHeader, userID)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var eb errorBody
	if resp.StatusCode != http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&eb))
		return resp.StatusCode, eb
	}
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode, eb
}

func TestUnauthenticated(t *testing.T) {
	srv := newTestServer(t, "")

	status, eb := call(t, srv, ListBudgetsProcedure, "", ListBudgetsRequest{}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthenticated", eb.Code)
	assert.Equal(t, "X-User-Id header is required", eb.Message)
}

func TestDevUserFallback(t *testing.T) {
	srv := newTestServer(t, "local-dev-user")

	var created BudgetResponse
	status, _ := call(t, srv, CreateBudgetProcedure, "", CreateBudgetRequest{Category: "dining", AmountMonthly: 100}, &created)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "local-dev-user", created.Budget.UserID)
}

func TestBudgetProcedures(t *testing.T) {
	srv := newTestServer(t, "")

	var created BudgetResponse
	status, _ := call(t, srv, CreateBudgetProcedure, "user1", CreateBudgetRequest{Category: "dining", AmountMonthly: 200}, &created)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, created.Budget)
	assert.NotEmpty(t, created.Budget.ID)
	assert.Equal(t, "USD", created.Budget.Currency)

	status, eb := call(t, srv, CreateBudgetProcedure, "user1", CreateBudgetRequest{Category: "dining", AmountMonthly: 300}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_argument", eb.Code)
	assert.Equal(t, "Active budget for category 'dining' already exists", eb.Message)

	amount := 250.0
	status, eb = call(t, srv, UpdateBudgetProcedure, "user2", UpdateBudgetRequest{BudgetID: created.Budget.ID, AmountMonthly: &amount}, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", eb.Code)

	var updated BudgetResponse
	status, _ = call(t, srv, UpdateBudgetProcedure, "user1", UpdateBudgetRequest{BudgetID: created.Budget.ID, AmountMonthly: &amount}, &updated)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 250.0, updated.Budget.AmountMonthly)

	var ingested IngestTransactionsResponse
	status, _ = call(t, srv, IngestTransactionsProcedure, "user1", IngestTransactionsRequest{
		Transactions: []service.TransactionInput{
			{Date: time.Now().UTC(), Amount: 100, Merchant: "Bistro", Category: "dining"},
		},
	}, &ingested)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, ingested.Transactions, 1)

	var usage CalculateBudgetUsageResponse
	status, _ = call(t, srv, CalculateBudgetUsageProcedure, "user1", CalculateBudgetUsageRequest{}, &usage)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, usage.Usage, 1)
	assert.Equal(t, 100.0, usage.Usage[0].SpentAmount)
	assert.Equal(t, 40.0, usage.Usage[0].PercentUsed)

	status, eb = call(t, srv, CalculateBudgetUsageProcedure, "user1", CalculateBudgetUsageRequest{Month: "June"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_argument", eb.Code)

	status, _ = call(t, srv, DeleteBudgetProcedure, "user1", DeleteBudgetRequest{BudgetID: created.Budget.ID}, &Empty{})
	require.Equal(t, http.StatusOK, status)

	var listed ListBudgetsResponse
	status, _ = call(t, srv, ListBudgetsProcedure, "user1", ListBudgetsRequest{}, &listed)
	require.Equal(t, http.StatusOK, status)
	assert.NotNil(t, listed.Budgets)
	assert.Empty(t, listed.Budgets)
}

func TestIngestValidation(t *testing.T) {
	srv := newTestServer(t, "")

	status, eb := call(t, srv, IngestTransactionsProcedure, "user1", IngestTransactionsRequest{
		Transactions: []service.TransactionInput{
			{Date: time.Now().UTC(), Amount: 0, Merchant: "Bistro", Category: "dining"},
		},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "row 1: amount must be a non-zero number", eb.Message)
}

func TestGoalCompletionRaisesAlert(t *testing.T) {
	srv := newTestServer(t, "")

	var created GoalResponse
	status, _ := call(t, srv, CreateGoalProcedure, "user1", CreateGoalRequest{
		Name:         "Laptop",
		TargetAmount: 1000,
		Deadline:     time.Now().UTC().AddDate(1, 0, 0),
	}, &created)
	require.Equal(t, http.StatusOK, status)

	var progressed GoalResponse
	status, _ = call(t, srv, UpdateGoalProgressProcedure, "user1", UpdateGoalProgressRequest{GoalID: created.Goal.ID, Amount: 1000}, &progressed)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, progressed.Goal.IsActive)

	var alerts GetAlertsResponse
	status, _ = call(t, srv, GetAlertsProcedure, "user1", GetAlertsRequest{}, &alerts)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, alerts.Alerts, 1)
	assert.Equal(t, "Goal Complete: Laptop", alerts.Alerts[0].Title)
	assert.Equal(t, 1, alerts.UnreadCount)

	var marked MarkAlertsReadResponse
	status, _ = call(t, srv, MarkAlertsReadProcedure, "user1", MarkAlertsReadRequest{AlertIDs: []string{alerts.Alerts[0].ID}}, &marked)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, marked.Marked)

	var view ProjectGoalCompletionResponse
	status, _ = call(t, srv, ProjectGoalCompletionProcedure, "user1", ProjectGoalCompletionRequest{GoalID: created.Goal.ID}, &view)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 100.0, view.ProgressPercentage)

	status, eb := call(t, srv, ProjectGoalCompletionProcedure, "user2", ProjectGoalCompletionRequest{GoalID: created.Goal.ID}, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", eb.Code)
}

func TestGenerateAllAlertsProcedure(t *testing.T) {
	srv := newTestServer(t, "")

	var counts GenerateAllAlertsResponse
	status, _ := call(t, srv, GenerateAllAlertsProcedure, "user1", GenerateAllAlertsRequest{}, &counts)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, counts.Total)

	status, eb := call(t, srv, MarkAlertsReadProcedure, "user1", MarkAlertsReadRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "alert_ids must not be empty", eb.Message)
}

func TestDeleteUserProcedure(t *testing.T) {
	srv := newTestServer(t, "")

	status, eb := call(t, srv, DeleteUserProcedure, "user1", DeleteUserRequest{UserID: "user2"}, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "permission_denied", eb.Code)

	status, _ = call(t, srv, DeleteUserProcedure, "user1", DeleteUserRequest{}, &Empty{})
	assert.Equal(t, http.StatusOK, status)
}
