package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/smukkama/lora-alerts/internal/alerting"
	"github.com/smukkama/lora-alerts/internal/protocol"
)

// maximum accepted integration payload
const maxBodySize = "1M"

// EventClassifier consumes parsed network-server events
type EventClassifier interface {
	Classify(ctx context.Context, ev protocol.Event) error
}

// AlertService is the read and dismiss side of the alert engine
type AlertService interface {
	DeviceAlerts(ctx context.Context, eui string) ([]alerting.AlertView, error)
	GatewayAlerts(ctx context.Context, eui string) ([]alerting.AlertView, error)
	DeleteByID(ctx context.Context, id string) (bool, error)
}

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

// HTTPServer serves the network-server integration endpoint and the alert API
type HTTPServer struct {
	echo       *echo.Echo
	classifier EventClassifier
	alerts     AlertService
	checks     map[string]HealthCheck
	log        zerolog.Logger
}

// NewHTTPServer creates the server and registers all routes
func NewHTTPServer(classifier EventClassifier, alerts AlertService, checks map[string]HealthCheck, log zerolog.Logger) *HTTPServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 30 * time.Second

	s := &HTTPServer{
		echo:       e,
		classifier: classifier,
		alerts:     alerts,
		checks:     checks,
		log:        log.With().Str("component", "http").Logger(),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(maxBodySize))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.log.Debug()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = s.log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	s.routes()
	return s
}

func (s *HTTPServer) routes() {
	s.echo.POST("/data", s.handleEvent)

	api := s.echo.Group("/api/alerts")
	api.GET("/devices", s.listDeviceAlerts)
	api.GET("/devices/:eui", s.listDeviceAlerts)
	api.GET("/gateways", s.listGatewayAlerts)
	api.GET("/gateways/:eui", s.listGatewayAlerts)
	api.DELETE("/:id", s.deleteAlert)

	s.echo.GET("/delete_alert", s.deleteAlertLink)
	s.echo.GET("/healthz", s.health)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Handler exposes the router, mainly for tests
func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called
func (s *HTTPServer) Start(addr string) error {
	s.log.Info().Str("addr", addr).Msg("http server listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *HTTPServer) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	result := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			result[name] = err.Error()
			continue
		}
		result[name] = "ok"
	}
	return c.JSON(status, map[string]any{"status": http.StatusText(status), "checks": result})
}
