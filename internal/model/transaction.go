package model

import "time"

// TransactionType distinguishes money coming in from money going out.
type TransactionType string

const (
	TransactionTypeIncome  TransactionType = "income"
	TransactionTypeExpense TransactionType = "expense"
)

// MaxAnomalyScore caps the score written by the anomaly detectors.
const MaxAnomalyScore = 10.0

// Transaction is a single ledger entry. IsRecurring, IsAnomaly and AnomalyScore
// are derived fields owned by the detectors.
type Transaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Date        time.Time       `json:"date"`
	Amount      float64         `json:"amount"`
	Merchant    string          `json:"merchant"`
	Category    string          `json:"category"`
	Description string          `json:"description,omitempty"`
	Type        TransactionType `json:"transaction_type"`

	IsRecurring  bool    `json:"is_recurring"`
	IsAnomaly    bool    `json:"is_anomaly"`
	AnomalyScore float64 `json:"anomaly_score"`

	CreatedAt time.Time `json:"created_at"`
}

// IsExpense reports whether the transaction is money going out.
func (t *Transaction) IsExpense() bool {
	return t.Type == TransactionTypeExpense
}

// RecurringCharge is the detected subscription model for one (user, merchant) pair.
type RecurringCharge struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Merchant         string    `json:"merchant"`
	AverageAmount    float64   `json:"average_amount"`
	FrequencyDays    int       `json:"frequency_days"`
	LastChargeDate   time.Time `json:"last_charge_date"`
	NextExpectedDate time.Time `json:"next_expected_date"`
	Category         string    `json:"category"`
	ConfidenceScore  float64   `json:"confidence_score"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
