package model

import "time"

// AlertType enumerates the kinds of user-facing alerts.
type AlertType string

const (
	AlertTypeAnomaly              AlertType = "ANOMALY"
	AlertTypeBudgetWarning        AlertType = "BUDGET_WARNING"
	AlertTypeGoalProgress         AlertType = "GOAL_PROGRESS"
	AlertTypeSubscriptionReminder AlertType = "SUBSCRIPTION_REMINDER"
	AlertTypeGrayCharge           AlertType = "GRAY_CHARGE"
)

// Valid reports whether t is one of the known alert types.
func (t AlertType) Valid() bool {
	switch t {
	case AlertTypeAnomaly, AlertTypeBudgetWarning, AlertTypeGoalProgress,
		AlertTypeSubscriptionReminder, AlertTypeGrayCharge:
		return true
	}
	return false
}

// Alert is a notification produced by the alert generator.
//
// DedupKey identifies the entity and condition the alert is about
// (for example "budget_exceeded:<budget id>"). While an unread alert with the
// same Type and DedupKey exists, no new one is created.
type Alert struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	Type        AlertType     `json:"type"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	IsRead      bool          `json:"is_read"`
	DedupKey    string        `json:"dedup_key"`
	Metadata    AlertMetadata `json:"-"`
	CreatedAt   time.Time     `json:"created_at"`
	ReadAt      *time.Time    `json:"read_at,omitempty"`
}
