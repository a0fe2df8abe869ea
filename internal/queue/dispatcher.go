package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/lora-alerts/internal/alerting"
	"github.com/smukkama/lora-alerts/internal/metrics"
	"github.com/smukkama/lora-alerts/internal/protocol"
)

// Publisher is the write side of the notification topic
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// AlertDispatcher publishes new and changed alerts to the notification
// topic, keyed by entity EUI. Failures are logged and dropped.
type AlertDispatcher struct {
	pub     Publisher
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// NewAlertDispatcher creates a dispatcher on top of pub
func NewAlertDispatcher(pub Publisher, timeout time.Duration, log zerolog.Logger) *AlertDispatcher {
	return &AlertDispatcher{
		pub:     pub,
		timeout: timeout,
		now:     time.Now,
		log:     log.With().Str("component", "dispatcher").Logger(),
	}
}

// Notify implements alerting.Dispatcher
func (d *AlertDispatcher) Notify(ctx context.Context, name, eui string, issue alerting.Issue, message string, severity alerting.Severity, isGateway bool) {
	n := &protocol.AlertNotification{
		Name:      name,
		EUI:       eui,
		Issue:     string(issue),
		Message:   message,
		Severity:  string(severity),
		IsGateway: isGateway,
		RaisedAt:  d.now().UTC(),
	}

	data, err := protocol.EncodeAlertNotification(n)
	if err != nil {
		metrics.Notifications.WithLabelValues("publish", "failed").Inc()
		d.log.Error().Err(err).Str("eui", eui).Msg("failed to encode alert notification")
		return
	}

	pctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.pub.Publish(pctx, eui, data); err != nil {
		metrics.Notifications.WithLabelValues("publish", "failed").Inc()
		d.log.Warn().Err(err).Str("eui", eui).Str("issue", string(issue)).Msg("failed to publish alert notification")
		return
	}
	metrics.Notifications.WithLabelValues("publish", "ok").Inc()
}
