package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/lora-alerts/internal/database"
	"github.com/smukkama/lora-alerts/internal/metrics"
)

// Engine owns the device and gateway alert stores. Every raise and clear in
// the system goes through it, so notification and bookkeeping happen in one
// place.
type Engine struct {
	devices    Store
	gateways   Store
	registry   Registry
	dispatcher Dispatcher
	log        zerolog.Logger
}

// NewEngine creates a new alert engine. timeout bounds each store and
// registry call.
func NewEngine(devices, gateways Store, registry Registry, dispatcher Dispatcher, timeout time.Duration, log zerolog.Logger) *Engine {
	return &Engine{
		devices:    boundStore(devices, timeout),
		gateways:   boundStore(gateways, timeout),
		registry:   boundRegistry(registry, timeout),
		dispatcher: dispatcher,
		log:        log.With().Str("component", "alert-engine").Logger(),
	}
}

func (e *Engine) store(scope Scope) Store {
	if scope == ScopeGateway {
		return e.gateways
	}
	return e.devices
}

// Raise upserts the alert for (eui, issue) in the scope's store. New alerts
// and alerts whose message changed are handed to the dispatcher.
func (e *Engine) Raise(ctx context.Context, scope Scope, name, eui string, issue Issue, message string, severity Severity) (database.UpsertResult, error) {
	if !issue.Valid() {
		return database.UpsertResult{}, fmt.Errorf("unknown issue %q", issue)
	}
	if !severity.Valid() {
		return database.UpsertResult{}, fmt.Errorf("unknown severity %q", severity)
	}

	res, err := e.store(scope).Upsert(ctx, name, eui, string(issue), message, string(severity))
	if err != nil {
		return res, err
	}

	outcome := "updated"
	if res.Created {
		outcome = "created"
	}
	metrics.AlertsRaised.WithLabelValues(scope.String(), string(issue), outcome).Inc()

	e.log.Info().
		Str("scope", scope.String()).
		Str("eui", eui).
		Str("name", name).
		Str("issue", string(issue)).
		Str("severity", string(severity)).
		Str("alert_id", res.AlertID).
		Bool("created", res.Created).
		Msg(message)

	// the alert is stored; its notification must not die with the caller
	if res.Changed && e.dispatcher != nil {
		e.dispatcher.Notify(context.WithoutCancel(ctx), name, eui, issue, message, severity, scope == ScopeGateway)
	}

	return res, nil
}

// Clear removes the alert for (eui, issue) if present
func (e *Engine) Clear(ctx context.Context, scope Scope, eui string, issue Issue) (bool, error) {
	cleared, err := e.store(scope).Clear(ctx, eui, string(issue))
	if err != nil {
		return false, err
	}
	if cleared {
		metrics.AlertsCleared.WithLabelValues(scope.String(), string(issue)).Inc()
		e.log.Info().
			Str("scope", scope.String()).
			Str("eui", eui).
			Str("issue", string(issue)).
			Msg("alert cleared")
	}
	return cleared, nil
}

// Exists reports whether (eui, issue) has an active alert in the scope's store
func (e *Engine) Exists(ctx context.Context, scope Scope, eui string, issue Issue) (bool, error) {
	return e.store(scope).Exists(ctx, eui, string(issue))
}

// AlertView is the read model handed to the dashboard API
type AlertView struct {
	ID       string `json:"id"`
	Entity   string `json:"entity"`
	EUI      string `json:"eui"`
	Gateway  string `json:"gateway,omitempty"`
	Issue    string `json:"issue"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// DeviceAlerts lists device alerts, all of them when eui is empty. The
// associated gateway of each device is resolved from the registry.
func (e *Engine) DeviceAlerts(ctx context.Context, eui string) ([]AlertView, error) {
	alerts, err := e.list(ctx, e.devices, eui)
	if err != nil {
		return nil, err
	}

	gateways := make(map[string]string)
	views := make([]AlertView, 0, len(alerts))
	for _, a := range alerts {
		gw, ok := gateways[a.EUI]
		if !ok {
			gw = e.deviceGateway(ctx, a.EUI)
			gateways[a.EUI] = gw
		}
		view := toView(a)
		view.Gateway = gw
		views = append(views, view)
	}
	return views, nil
}

// GatewayAlerts lists gateway alerts, all of them when eui is empty
func (e *Engine) GatewayAlerts(ctx context.Context, eui string) ([]AlertView, error) {
	alerts, err := e.list(ctx, e.gateways, eui)
	if err != nil {
		return nil, err
	}

	views := make([]AlertView, 0, len(alerts))
	for _, a := range alerts {
		views = append(views, toView(a))
	}
	return views, nil
}

// DeleteByID dismisses an alert by identifier in whichever store holds it
func (e *Engine) DeleteByID(ctx context.Context, id string) (bool, error) {
	for _, scope := range []Scope{ScopeDevice, ScopeGateway} {
		deleted, err := e.store(scope).DeleteByID(ctx, id)
		if err != nil {
			return false, err
		}
		if deleted {
			metrics.AlertsCleared.WithLabelValues(scope.String(), "dismissed").Inc()
			e.log.Info().Str("scope", scope.String()).Str("alert_id", id).Msg("alert dismissed")
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) list(ctx context.Context, store Store, eui string) ([]database.Alert, error) {
	if eui == "" {
		return store.ListAll(ctx)
	}
	return store.ListForEntity(ctx, eui)
}

func (e *Engine) deviceGateway(ctx context.Context, eui string) string {
	if e.registry == nil {
		return ""
	}
	dev, err := e.registry.GetDevice(ctx, eui)
	if err != nil {
		e.log.Warn().Err(err).Str("eui", eui).Msg("failed to resolve device gateway")
		return ""
	}
	if dev == nil {
		return ""
	}
	return dev.GatewayEUI
}

func toView(a database.Alert) AlertView {
	return AlertView{
		ID:       a.ID,
		Entity:   a.Name,
		EUI:      a.EUI,
		Issue:    a.Issue,
		Message:  a.Message,
		Severity: a.Severity,
	}
}
