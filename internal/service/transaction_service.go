package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/castlemilk/pfinance-insights/internal/logger"
	"github.com/castlemilk/pfinance-insights/internal/model"
	"github.com/castlemilk/pfinance-insights/internal/store"
	"github.com/rs/zerolog"
)

// TransactionInput is one uploaded ledger row.
type TransactionInput struct {
	Date        time.Time             `json:"date"`
	Amount      float64               `json:"amount"`
	Merchant    string                `json:"merchant"`
	Category    string                `json:"category"`
	Description string                `json:"description,omitempty"`
	Type        model.TransactionType `json:"transaction_type,omitempty"`
}

// IngestResult summarizes an upload and the detection run that followed it.
type IngestResult struct {
	Transactions      []*model.Transaction `json:"transactions"`
	RecurringDetected int                  `json:"recurring_detected"`
	RecurringMarked   int                  `json:"recurring_marked"`
	Anomalies         int                  `json:"anomalies"`
}

// LedgerService owns transaction ingestion and user data removal.
type LedgerService struct {
	store         store.Store
	subscriptions *SubscriptionDetector
	anomalies     *AnomalyDetector
	log           zerolog.Logger
	now           func() time.Time
}

func NewLedgerService(st store.Store, subscriptions *SubscriptionDetector, anomalies *AnomalyDetector, log zerolog.Logger) *LedgerService {
	return &LedgerService{
		store:         st,
		subscriptions: subscriptions,
		anomalies:     anomalies,
		log:           logger.Component(log, "ledger_service"),
		now:           time.Now,
	}
}

// toTransaction validates row i and builds the transaction it describes. A
// negative amount without an explicit type is income.
func toTransaction(userID string, i int, in TransactionInput) (*model.Transaction, error) {
	merchant := strings.TrimSpace(in.Merchant)
	category := strings.TrimSpace(in.Category)
	switch {
	case merchant == "":
		return nil, validationErrorf("row %d: merchant is required", i+1)
	case category == "":
		return nil, validationErrorf("row %d: category is required", i+1)
	case in.Amount == 0 || math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0):
		return nil, validationErrorf("row %d: amount must be a non-zero number", i+1)
	case in.Date.IsZero():
		return nil, validationErrorf("row %d: date is required", i+1)
	}

	txType := in.Type
	switch {
	case txType == "" && in.Amount < 0:
		txType = model.TransactionTypeIncome
	case txType == "":
		txType = model.TransactionTypeExpense
	case txType != model.TransactionTypeIncome && txType != model.TransactionTypeExpense:
		return nil, validationErrorf("row %d: unknown transaction_type %q", i+1, in.Type)
	}

	return &model.Transaction{
		UserID:      userID,
		Date:        in.Date.UTC(),
		Amount:      math.Abs(in.Amount),
		Merchant:    NormalizeMerchant(merchant),
		Category:    category,
		Description: in.Description,
		Type:        txType,
	}, nil
}

// IngestTransactions stores the rows for the user and then refreshes recurring
// charges, recurring flags and statistical anomaly scores. An invalid row
// rejects the whole batch before anything is written.
func (s *LedgerService) IngestTransactions(ctx context.Context, userID string, rows []TransactionInput) (*IngestResult, error) {
	if len(rows) == 0 {
		return nil, validationErrorf("transactions must not be empty")
	}

	now := s.now().UTC()
	txs := make([]*model.Transaction, 0, len(rows))
	for i, row := range rows {
		tx, err := toTransaction(userID, i, row)
		if err != nil {
			return nil, err
		}
		tx.CreatedAt = now
		txs = append(txs, tx)
	}

	if err := s.store.CreateTransactions(ctx, txs); err != nil {
		return nil, wrapStoreError("create transactions", err)
	}
	s.log.Info().Str("user_id", userID).Int("count", len(txs)).Msg("transactions ingested")

	result := &IngestResult{Transactions: txs}

	detected, err := s.subscriptions.DetectRecurringCharges(ctx, userID)
	if err != nil {
		return nil, err
	}
	result.RecurringDetected = len(detected)

	if result.RecurringMarked, err = s.subscriptions.MarkTransactionsRecurring(ctx, userID); err != nil {
		return nil, err
	}

	findings, err := s.anomalies.DetectAnomalies(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	result.Anomalies = len(findings)

	return result, nil
}

// DeleteUser removes every record the user owns.
func (s *LedgerService) DeleteUser(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return validationErrorf("user_id is required")
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return wrapStoreError("delete user", err)
	}
	s.log.Info().Str("user_id", userID).Msg("user data deleted")
	return nil
}
