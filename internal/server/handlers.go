package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/smukkama/lora-alerts/internal/alerting"
	"github.com/smukkama/lora-alerts/internal/protocol"
)

// dashboard page the legacy dismiss link returns to
const dashboardPath = "/dashboard"

func (s *HTTPServer) handleEvent(c echo.Context) error {
	kind := c.QueryParam("event")

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Unreadable request body"})
	}

	ev, err := protocol.ParseEvent(kind, body)
	if errors.Is(err, protocol.ErrUnknownEvent) {
		// the network server also posts event kinds nothing here reacts to
		s.log.Debug().Str("event", kind).Msg("ignoring event")
		return c.NoContent(http.StatusNoContent)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("event", kind).Msg("rejecting malformed event")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if err := s.classifier.Classify(c.Request().Context(), ev); err != nil {
		s.log.Error().Err(err).Str("event", kind).Str("eui", ev.Device().DevEUI).Msg("failed to process event")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to process event"})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) listDeviceAlerts(c echo.Context) error {
	alerts, err := s.alerts.DeviceAlerts(c.Request().Context(), c.Param("eui"))
	return s.respondAlerts(c, alerts, err)
}

func (s *HTTPServer) listGatewayAlerts(c echo.Context) error {
	alerts, err := s.alerts.GatewayAlerts(c.Request().Context(), c.Param("eui"))
	return s.respondAlerts(c, alerts, err)
}

func (s *HTTPServer) respondAlerts(c echo.Context, alerts []alerting.AlertView, err error) error {
	if err != nil {
		s.log.Error().Err(err).Str("path", c.Path()).Msg("failed to list alerts")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list alerts"})
	}
	if alerts == nil {
		alerts = []alerting.AlertView{}
	}
	return c.JSON(http.StatusOK, alerts)
}

func (s *HTTPServer) deleteAlert(c echo.Context) error {
	deleted, err := s.alerts.DeleteByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		s.log.Error().Err(err).Str("alert_id", c.Param("id")).Msg("failed to delete alert")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to delete alert"})
	}
	if !deleted {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Alert not found"})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) deleteAlertLink(c echo.Context) error {
	uid := c.QueryParam("uid")
	if uid == "" {
		return c.String(http.StatusBadRequest, "No alert ID provided")
	}
	if _, err := s.alerts.DeleteByID(c.Request().Context(), uid); err != nil {
		s.log.Error().Err(err).Str("alert_id", uid).Msg("failed to delete alert")
		return c.String(http.StatusInternalServerError, "Failed to delete alert")
	}
	return c.Redirect(http.StatusSeeOther, dashboardPath)
}
