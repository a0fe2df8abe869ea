package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/smukkama/lora-alerts/internal/alerting"
	"github.com/smukkama/lora-alerts/internal/database"
	"github.com/smukkama/lora-alerts/internal/geocode"
	"github.com/smukkama/lora-alerts/internal/queue"
	"github.com/smukkama/lora-alerts/internal/server"
	"github.com/smukkama/lora-alerts/internal/timeseries"
	"github.com/smukkama/lora-alerts/pkg/config"
	"github.com/smukkama/lora-alerts/pkg/logging"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logging.New(cfg.LogLevel, "server")
	log.Info().Msg("Starting LoRa alert server")

	ctx := context.Background()

	// Connect to database
	db, err := database.Connect(ctx, cfg.Database.ConnectionString(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Notification topic
	if err := queue.CreateTopic(
		cfg.Kafka.Brokers,
		cfg.Kafka.TopicAlerts,
		cfg.Kafka.NumPartitions,
		1, // replication factor
		log,
	); err != nil {
		log.Warn().Err(err).Msg("Topic creation failed (may already exist)")
	}

	producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
	defer producer.Close()

	registry := database.NewRegistry(db)
	dispatcher := queue.NewAlertDispatcher(producer, cfg.CollaboratorTimeout, log)
	engine := alerting.NewEngine(
		database.NewDeviceAlertStore(db),
		database.NewGatewayAlertStore(db),
		registry,
		dispatcher,
		cfg.CollaboratorTimeout,
		log,
	)

	influx := timeseries.NewClient(timeseries.Config{
		URL:          cfg.Influx.Server,
		Token:        cfg.Influx.Token,
		Org:          cfg.Influx.Org,
		UplinkBucket: cfg.Influx.BucketUplinks,
		Timeout:      cfg.CollaboratorTimeout,
	}, log)
	defer influx.Close()

	geocoder := geocode.NewNominatim(cfg.Geocoder.URL, cfg.Geocoder.UserAgent, cfg.CollaboratorTimeout)
	reconciler := alerting.NewReconciler(registry, engine, geocoder, cfg.CollaboratorTimeout, log)
	classifier := alerting.NewClassifier(registry, engine, reconciler, influx, cfg.CollaboratorTimeout, log)

	checks := map[string]server.HealthCheck{
		"database": db.PingContext,
		"influxdb": influx.Ping,
	}
	httpServer := server.NewHTTPServer(classifier, engine, checks, log)

	go func() {
		if err := httpServer.Start(cfg.HTTP.Addr()); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
}
