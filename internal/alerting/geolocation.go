package alerting

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/lora-alerts/internal/protocol"
)

// Reconciler keeps the stored gateway position in line with what the network
// reports and raises an alert when a gateway moves.
type Reconciler struct {
	registry Registry
	engine   *Engine
	geocoder Geocoder
	timeout  time.Duration
	log      zerolog.Logger
}

// NewReconciler creates a geolocation reconciler. geocoder may be nil.
func NewReconciler(registry Registry, engine *Engine, geocoder Geocoder, timeout time.Duration, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		registry: boundRegistry(registry, timeout),
		engine:   engine,
		geocoder: geocoder,
		timeout:  timeout,
		log:      log.With().Str("component", "geolocation").Logger(),
	}
}

// Reconcile compares a reported position with the stored baseline of the
// gateway. When gatewayEUI is empty the gateway associated with the device is
// used. An empty position is ignored. Registry and geocoder failures are
// logged; only an alert store failure is returned.
func (r *Reconciler) Reconcile(ctx context.Context, deviceEUI, gatewayEUI string, loc *protocol.Location) error {
	if loc == nil || *loc == (protocol.Location{}) {
		return nil
	}

	if isUnknown(gatewayEUI) {
		dev, err := r.registry.GetDevice(ctx, deviceEUI)
		if err != nil {
			r.log.Warn().Err(err).Str("device", deviceEUI).Msg("failed to resolve device gateway")
			return nil
		}
		if dev == nil || isUnknown(dev.GatewayEUI) {
			r.log.Debug().Str("device", deviceEUI).Msg("no gateway known for device")
			return nil
		}
		gatewayEUI = dev.GatewayEUI
	}

	gw, err := r.registry.GetGateway(ctx, gatewayEUI)
	if err != nil {
		r.log.Warn().Err(err).Str("gateway", gatewayEUI).Msg("failed to load gateway")
		return nil
	}
	if gw == nil {
		r.log.Debug().Str("gateway", gatewayEUI).Msg("gateway not registered")
		return nil
	}

	reported := formatCoordinates(*loc)
	baseline, ok := parseCoordinates(gw.Coordinates)

	switch {
	case !ok:
		if err := r.registry.SetGatewayCoordinates(ctx, gw.EUI, reported); err != nil {
			r.log.Warn().Err(err).Str("gateway", gw.EUI).Msg("failed to store gateway baseline")
		} else {
			r.log.Info().Str("gateway", gw.EUI).Str("coordinates", reported).Msg("gateway baseline stored")
		}

	case baseline != *loc:
		if err := r.registry.SetGatewayCoordinates(ctx, gw.EUI, reported); err != nil {
			r.log.Warn().Err(err).Str("gateway", gw.EUI).Msg("failed to update gateway baseline")
		}
		msg := fmt.Sprintf("Location of %s has changed by (%s, %s, %s)", gw.Name,
			formatDelta(loc.Latitude-baseline.Latitude),
			formatDelta(loc.Longitude-baseline.Longitude),
			formatDelta(loc.Altitude-baseline.Altitude))
		if _, err := r.engine.Raise(ctx, ScopeGateway, gw.Name, gw.EUI, IssueLocationChanged, msg, SeverityCritical); err != nil {
			return err
		}
	}

	if gw.Address == "" {
		r.resolveAddress(ctx, gw.EUI, *loc)
	}
	return nil
}

func (r *Reconciler) resolveAddress(ctx context.Context, gatewayEUI string, loc protocol.Location) {
	if r.geocoder == nil {
		return
	}

	gctx, cancel := bounded(ctx, r.timeout)
	defer cancel()

	address, err := r.geocoder.Resolve(gctx, loc.Latitude, loc.Longitude)
	if err != nil {
		r.log.Warn().Err(err).Str("gateway", gatewayEUI).Msg("reverse geocoding failed")
		return
	}
	if address == "" {
		return
	}
	if err := r.registry.SetGatewayAddress(ctx, gatewayEUI, address); err != nil {
		r.log.Warn().Err(err).Str("gateway", gatewayEUI).Msg("failed to store gateway address")
		return
	}
	r.log.Info().Str("gateway", gatewayEUI).Str("address", address).Msg("gateway address resolved")
}

// parseCoordinates reads a "lat,long,alt" triple
func parseCoordinates(s string) (protocol.Location, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return protocol.Location{}, false
	}

	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return protocol.Location{}, false
		}
		vals[i] = v
	}
	return protocol.Location{Latitude: vals[0], Longitude: vals[1], Altitude: vals[2]}, true
}

func formatCoordinates(loc protocol.Location) string {
	return strings.Join([]string{
		strconv.FormatFloat(loc.Latitude, 'f', -1, 64),
		strconv.FormatFloat(loc.Longitude, 'f', -1, 64),
		strconv.FormatFloat(loc.Altitude, 'f', -1, 64),
	}, ",")
}

func formatDelta(d float64) string {
	return strconv.FormatFloat(math.Round(d*1e6)/1e6, 'f', -1, 64)
}
