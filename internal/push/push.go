// Package push delivers generated alerts to user devices.
package push

import (
	"context"
	"fmt"
	"strings"

	"firebase.google.com/go/v4/messaging"
	"github.com/castlemilk/pfinance-insights/internal/logger"
	"github.com/castlemilk/pfinance-insights/internal/model"
	"github.com/rs/zerolog"
)

//go:generate mockgen -source=push.go -destination=push_mock.go -package=push

// Sender delivers a single alert. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, alert *model.Alert) error
}

// MessageClient is the subset of *messaging.Client used for delivery.
type MessageClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

const alertsLink = "/alerts"

// FCMSender publishes alerts to a per-user Firebase Cloud Messaging topic.
// Client apps subscribe their registration tokens to Topic(userID).
// Transient FCM failures are retried with backoff.
type FCMSender struct {
	client    MessageClient
	log       zerolog.Logger
	retry     RetryConfig
	retryable func(error) bool
}

func NewFCMSender(client MessageClient, log zerolog.Logger) *FCMSender {
	return &FCMSender{
		client:    client,
		log:       logger.Component(log, "push"),
		retry:     DefaultRetryConfig,
		retryable: transient,
	}
}

// Topic returns the FCM topic for a user's alerts. Characters FCM does not
// allow in topic names are replaced with '_'.
func Topic(userID string) string {
	var b strings.Builder
	b.WriteString("alerts-")
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.', r == '~', r == '%':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func buildMessage(alert *model.Alert) *messaging.Message {
	return &messaging.Message{
		Topic: Topic(alert.UserID),
		Notification: &messaging.Notification{
			Title: alert.Title,
			Body:  alert.Description,
		},
		Data: map[string]string{
			"alert_id":  alert.ID,
			"type":      string(alert.Type),
			"dedup_key": alert.DedupKey,
		},
		Webpush: &messaging.WebpushConfig{
			FCMOptions: &messaging.WebpushFCMOptions{
				Link: alertsLink,
			},
		},
	}
}

func (s *FCMSender) Send(ctx context.Context, alert *model.Alert) error {
	msg := buildMessage(alert)
	id, attempts, err := withRetry(ctx, s.retry, s.retryable, func(ctx context.Context) (string, error) {
		return s.client.Send(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to send push for alert %s: %w", alert.ID, err)
	}
	s.log.Debug().
		Str("user_id", alert.UserID).
		Str("alert_id", alert.ID).
		Str("message_id", id).
		Int("attempts", attempts).
		Msg("push sent")
	return nil
}
