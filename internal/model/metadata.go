package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// AlertMetadata is the type-specific payload attached to an alert. Exactly one
// variant exists per AlertType.
type AlertMetadata interface {
	MetadataType() AlertType
}

// GoalProgressMetadata accompanies GOAL_PROGRESS alerts.
type GoalProgressMetadata struct {
	GoalID             string     `json:"goal_id"`
	ProgressPercentage float64    `json:"progress_percentage"`
	Remaining          float64    `json:"remaining"`
	Completed          bool       `json:"completed,omitempty"`
	ProjectedDate      *time.Time `json:"projected_date,omitempty"`
	MonthlyNeeded      float64    `json:"monthly_needed,omitempty"`
}

func (GoalProgressMetadata) MetadataType() AlertType { return AlertTypeGoalProgress }

// BudgetMetadata accompanies BUDGET_WARNING alerts.
type BudgetMetadata struct {
	BudgetID      string  `json:"budget_id"`
	Category      string  `json:"category,omitempty"`
	Spent         float64 `json:"spent"`
	Budget        float64 `json:"budget"`
	Overspent     float64 `json:"overspent,omitempty"`
	PercentOver   int     `json:"percent_over,omitempty"`
	UsagePercent  float64 `json:"usage_percent,omitempty"`
	DaysRemaining int     `json:"days_remaining,omitempty"`
}

func (BudgetMetadata) MetadataType() AlertType { return AlertTypeBudgetWarning }

// AnomalyMetadata accompanies ANOMALY alerts.
type AnomalyMetadata struct {
	Category       string  `json:"category"`
	CurrentSpend   float64 `json:"current_spend"`
	AverageSpend   float64 `json:"average_spend"`
	PercentOfUsual int     `json:"percent_of_usual"`
}

func (AnomalyMetadata) MetadataType() AlertType { return AlertTypeAnomaly }

// SubscriptionMetadata accompanies SUBSCRIPTION_REMINDER alerts.
type SubscriptionMetadata struct {
	SubscriptionID string    `json:"subscription_id"`
	Merchant       string    `json:"merchant"`
	Amount         float64   `json:"amount"`
	DueDate        time.Time `json:"due_date"`
	DaysUntil      int       `json:"days_until"`
}

func (SubscriptionMetadata) MetadataType() AlertType { return AlertTypeSubscriptionReminder }

// GrayChargeMetadata accompanies GRAY_CHARGE alerts.
type GrayChargeMetadata struct {
	SubscriptionID string   `json:"subscription_id"`
	Merchant       string   `json:"merchant"`
	Amount         float64  `json:"amount"`
	Confidence     float64  `json:"confidence"`
	Reasons        []string `json:"reasons"`
}

func (GrayChargeMetadata) MetadataType() AlertType { return AlertTypeGrayCharge }

type metadataEnvelope struct {
	Type AlertType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalMetadata encodes m as {"type": ..., "data": {...}}. A nil metadata
// encodes as nil.
func MarshalMetadata(m AlertMetadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s metadata: %w", m.MetadataType(), err)
	}
	return json.Marshal(metadataEnvelope{Type: m.MetadataType(), Data: data})
}

// UnmarshalMetadata decodes an envelope produced by MarshalMetadata.
func UnmarshalMetadata(raw []byte) (AlertMetadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var env metadataEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode metadata envelope: %w", err)
	}

	var m AlertMetadata
	var err error
	switch env.Type {
	case AlertTypeGoalProgress:
		var v GoalProgressMetadata
		err = json.Unmarshal(env.Data, &v)
		m = v
	case AlertTypeBudgetWarning:
		var v BudgetMetadata
		err = json.Unmarshal(env.Data, &v)
		m = v
	case AlertTypeAnomaly:
		var v AnomalyMetadata
		err = json.Unmarshal(env.Data, &v)
		m = v
	case AlertTypeSubscriptionReminder:
		var v SubscriptionMetadata
		err = json.Unmarshal(env.Data, &v)
		m = v
	case AlertTypeGrayCharge:
		var v GrayChargeMetadata
		err = json.Unmarshal(env.Data, &v)
		m = v
	default:
		return nil, fmt.Errorf("unknown metadata type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s metadata: %w", env.Type, err)
	}
	return m, nil
}

// alertJSON is the wire shape of Alert with the metadata envelope inlined.
type alertJSON struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Type        AlertType       `json:"type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	IsRead      bool            `json:"is_read"`
	DedupKey    string          `json:"dedup_key"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ReadAt      *time.Time      `json:"read_at,omitempty"`
}

func (a Alert) MarshalJSON() ([]byte, error) {
	meta, err := MarshalMetadata(a.Metadata)
	if err != nil {
		return nil, err
	}
	return json.Marshal(alertJSON{
		ID:          a.ID,
		UserID:      a.UserID,
		Type:        a.Type,
		Title:       a.Title,
		Description: a.Description,
		IsRead:      a.IsRead,
		DedupKey:    a.DedupKey,
		Metadata:    meta,
		CreatedAt:   a.CreatedAt,
		ReadAt:      a.ReadAt,
	})
}

func (a *Alert) UnmarshalJSON(b []byte) error {
	var aux alertJSON
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	meta, err := UnmarshalMetadata(aux.Metadata)
	if err != nil {
		return err
	}
	*a = Alert{
		ID:          aux.ID,
		UserID:      aux.UserID,
		Type:        aux.Type,
		Title:       aux.Title,
		Description: aux.Description,
		IsRead:      aux.IsRead,
		DedupKey:    aux.DedupKey,
		Metadata:    meta,
		CreatedAt:   aux.CreatedAt,
		ReadAt:      aux.ReadAt,
	}
	return nil
}
