package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/smukkama/lora-alerts/internal/alerting"
	"github.com/smukkama/lora-alerts/internal/database"
	"github.com/smukkama/lora-alerts/internal/joblock"
	"github.com/smukkama/lora-alerts/internal/queue"
	"github.com/smukkama/lora-alerts/internal/timer"
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

	log := logging.New(cfg.LogLevel, "evaluator")
	log.Info().Msg("Starting alert evaluator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.Connect(ctx, cfg.Database.ConnectionString(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	locker := joblock.NewLocker(redisClient, log)

	producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
	defer producer.Close()

	registry := database.NewRegistry(db)
	engine := alerting.NewEngine(
		database.NewDeviceAlertStore(db),
		database.NewGatewayAlertStore(db),
		registry,
		queue.NewAlertDispatcher(producer, cfg.CollaboratorTimeout, log),
		cfg.CollaboratorTimeout,
		log,
	)

	influx := timeseries.NewClient(timeseries.Config{
		URL:     cfg.Influx.Server,
		Token:   cfg.Influx.Token,
		Org:     cfg.Influx.Org,
		Timeout: cfg.CollaboratorTimeout,
	}, log)
	defer influx.Close()

	evalCfg := alerting.DefaultEvaluatorConfig()
	evalCfg.DeviceBucket = cfg.Influx.BucketDevices
	evalCfg.DeviceMeasurement = cfg.Influx.MeasurementDevices
	evalCfg.GatewayBucket = cfg.Influx.BucketGateways
	evalCfg.GatewayMeasurement = cfg.Influx.MeasurementGateways
	evalCfg.PacketWindow = cfg.Jobs.PacketWindow
	evalCfg.SignalWindow = cfg.Jobs.SignalWindow
	evalCfg.DeviceExpectationSeconds = cfg.Jobs.DeviceExpectationSeconds
	evalCfg.GatewayExpectationSeconds = cfg.Jobs.GatewayExpectationSeconds
	evalCfg.Timeout = cfg.CollaboratorTimeout

	evaluator := alerting.NewEvaluator(evalCfg, registry, engine, influx, log)

	runner := &guardedRunner{
		ctx:     ctx,
		locker:  locker,
		runner:  evaluator,
		lockTTL: cfg.Jobs.LockTTL,
		timeout: cfg.CollaboratorTimeout,
		log:     log,
	}

	timerManager := timer.NewTimerManager(4) // one worker per job
	timerManager.Start()
	defer timerManager.Stop()

	schedule := map[string]time.Duration{
		alerting.JobDevicePacketRate:  cfg.Jobs.PacketRateInterval,
		alerting.JobGatewayPacketRate: cfg.Jobs.PacketRateInterval,
		alerting.JobDeviceSignal:      cfg.Jobs.SignalInterval,
		alerting.JobGatewaySignal:     cfg.Jobs.SignalInterval,
	}
	for job, interval := range schedule {
		job := job
		if err := timerManager.Every(job, interval, func() { runner.run(job) }, timer.OnSkip(runner.skipped(job))); err != nil {
			log.Fatal().Err(err).Str("job", job).Msg("Failed to schedule job")
		}
		log.Info().Str("job", job).Dur("interval", interval).Msg("job scheduled")
	}

	// Metrics and health endpoints
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		hctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status := map[string]string{"database": "ok", "redis": "ok"}
		code := http.StatusOK
		if err := db.PingContext(hctx); err != nil {
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		if err := locker.Ping(hctx); err != nil {
			status["redis"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, status)
	})
	go func() {
		if err := e.Start(cfg.HTTP.MetricsAddr()); err != nil {
			log.Info().Err(err).Msg("metrics server stopped")
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down gracefully...")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer stop()
	_ = e.Shutdown(shutdownCtx)
}
