package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/smukkama/lora-alerts/internal/metrics"
	"github.com/smukkama/lora-alerts/internal/notification"
	"github.com/smukkama/lora-alerts/internal/protocol"
	"github.com/smukkama/lora-alerts/internal/queue"
	"github.com/smukkama/lora-alerts/pkg/config"
	"github.com/smukkama/lora-alerts/pkg/logging"
)

const (
	sendAttempts = 3
	retryBackoff = 2 * time.Second
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logging.New(cfg.LogLevel, "notification")
	log.Info().Msg("Starting notification service")

	notifier, err := notification.NewTelegramNotifier(cfg.Telegram, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create telegram notifier")
	}

	// Create consumer for alert notifications
	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, cfg.Kafka.GroupID)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics endpoint
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	go func() {
		if err := e.Start(cfg.HTTP.MetricsAddr()); err != nil {
			log.Info().Err(err).Msg("metrics server stopped")
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			msg, err := consumer.Consume(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("Failed to consume message")
				time.Sleep(time.Second)
				continue
			}

			deliver(ctx, notifier, msg, log)

			if err := consumer.Commit(ctx, msg); err != nil {
				log.Error().Err(err).Msg("Failed to commit offset")
			}
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down gracefully...")
	cancel()
	<-done

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer stop()
	_ = e.Shutdown(shutdownCtx)
}

// deliver decodes and sends one message, retrying failed sends a few times.
// Undecodable or undeliverable messages are dropped so the partition keeps
// moving.
func deliver(ctx context.Context, notifier *notification.TelegramNotifier, msg kafka.Message, log zerolog.Logger) {
	n, err := protocol.DecodeAlertNotification(msg.Value)
	if err != nil {
		metrics.Notifications.WithLabelValues("deliver", "invalid").Inc()
		log.Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to decode notification")
		return
	}

retry:
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		err = notifier.SendAlertNotification(n)
		if err == nil {
			metrics.Notifications.WithLabelValues("deliver", "sent").Inc()
			return
		}
		log.Warn().Err(err).Int("attempt", attempt).Str("eui", n.EUI).Msg("Failed to send notification")

		select {
		case <-ctx.Done():
			err = errors.Join(err, ctx.Err())
			break retry
		case <-time.After(retryBackoff):
		}
	}

	metrics.Notifications.WithLabelValues("deliver", "failed").Inc()
	log.Error().Err(err).Str("eui", n.EUI).Str("issue", n.Issue).Msg("Dropping notification")
}
