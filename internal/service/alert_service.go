package service

import (
	"context"

	"github.com/castlemilk/pfinance-insights/internal/logger"
	"github.com/castlemilk/pfinance-insights/internal/model"
	"github.com/castlemilk/pfinance-insights/internal/store"
	"github.com/rs/zerolog"
)

const defaultAlertLimit = 20

// AlertService serves stored alerts and read state.
type AlertService struct {
	store store.Store
	log   zerolog.Logger
}

func NewAlertService(st store.Store, log zerolog.Logger) *AlertService {
	return &AlertService{
		store: st,
		log:   logger.Component(log, "alert_service"),
	}
}

// GetAlerts returns the user's alerts newest first. A non-positive limit
// means the default of 20.
func (s *AlertService) GetAlerts(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*model.Alert, error) {
	if limit <= 0 {
		limit = defaultAlertLimit
	}
	alerts, err := s.store.ListAlerts(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, wrapStoreError("list alerts", err)
	}
	if alerts == nil {
		alerts = []*model.Alert{}
	}
	return alerts, nil
}

// MarkAlertsRead marks the user's alerts read and returns how many changed.
// Unknown ids, other users' alerts and already-read alerts are ignored.
func (s *AlertService) MarkAlertsRead(ctx context.Context, userID string, alertIDs []string) (int, error) {
	if len(alertIDs) == 0 {
		return 0, validationErrorf("alert_ids must not be empty")
	}
	n, err := s.store.MarkAlertsRead(ctx, userID, alertIDs)
	if err != nil {
		return 0, wrapStoreError("mark alerts read", err)
	}
	s.log.Debug().Str("user_id", userID).Int("requested", len(alertIDs)).Int("marked", n).Msg("alerts marked read")
	return n, nil
}

func (s *AlertService) UnreadCount(ctx context.Context, userID string) (int, error) {
	n, err := s.store.UnreadAlertCount(ctx, userID)
	if err != nil {
		return 0, wrapStoreError("count unread alerts", err)
	}
	return n, nil
}
