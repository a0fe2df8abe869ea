package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/lora-alerts/internal/database"
	"github.com/smukkama/lora-alerts/internal/metrics"
	"github.com/smukkama/lora-alerts/internal/protocol"
	"github.com/smukkama/lora-alerts/internal/timeseries"
)

const (
	unknown = database.Unknown

	defaultUplinkInterval = 60

	highLinkMargin = 20
	lowLinkMargin  = 5
	lowBattery     = 10
)

// UplinkWriter records raw uplink samples in the time-series store
type UplinkWriter interface {
	WriteUplink(ctx context.Context, p timeseries.UplinkPoint) error
}

// Classifier turns single network-server events into alert instructions
type Classifier struct {
	registry   Registry
	engine     *Engine
	reconciler *Reconciler
	uplinks    UplinkWriter
	timeout    time.Duration
	log        zerolog.Logger
}

// NewClassifier creates an event classifier. uplinks may be nil, in which
// case uplink samples are not recorded. timeout bounds each registry call
// and the uplink write.
func NewClassifier(registry Registry, engine *Engine, reconciler *Reconciler, uplinks UplinkWriter, timeout time.Duration, log zerolog.Logger) *Classifier {
	return &Classifier{
		registry:   boundRegistry(registry, timeout),
		engine:     engine,
		reconciler: reconciler,
		uplinks:    uplinks,
		timeout:    timeout,
		log:        log.With().Str("component", "classifier").Logger(),
	}
}

// Classify handles one event. Only alert store failures are returned;
// everything else is logged and classification carries on.
func (c *Classifier) Classify(ctx context.Context, ev protocol.Event) error {
	var err error
	switch e := ev.(type) {
	case *protocol.JoinEvent:
		err = c.onJoin(ctx, e)
	case *protocol.StatusEvent:
		err = c.onStatus(ctx, e)
	case *protocol.LogEvent:
		err = c.onLog(ctx, e)
	case *protocol.LocationEvent:
		err = c.onLocation(ctx, e)
	case *protocol.UplinkEvent:
		err = c.onUplink(ctx, e)
	default:
		err = fmt.Errorf("unsupported event %T", ev)
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.EventsReceived.WithLabelValues(string(ev.Type()), status).Inc()
	return err
}

func (c *Classifier) onJoin(ctx context.Context, e *protocol.JoinEvent) error {
	dev := e.Device()

	registered, err := c.registry.IsDeviceRegistered(ctx, dev.DevEUI)
	if err != nil {
		return fmt.Errorf("join of %s: %w", dev.DevEUI, err)
	}

	if registered {
		_, err := c.engine.Raise(ctx, ScopeDevice, dev.DeviceName, dev.DevEUI, IssueJoinReplay,
			fmt.Sprintf("%s has already joined before", dev.DeviceName), SeverityCritical)
		return err
	}

	err = c.registry.RegisterDevice(ctx, &database.Device{
		EUI:            dev.DevEUI,
		Name:           dev.DeviceName,
		GatewayEUI:     unknown,
		DevAddr:        e.DevAddr,
		UplinkInterval: defaultUplinkInterval,
	})
	if err != nil {
		c.log.Error().Err(err).Str("eui", dev.DevEUI).Msg("failed to register joined device")
		return nil
	}
	c.log.Info().Str("eui", dev.DevEUI).Str("name", dev.DeviceName).Str("dev_addr", e.DevAddr).Msg("device registered on join")
	return nil
}

func (c *Classifier) onStatus(ctx context.Context, e *protocol.StatusEvent) error {
	dev := e.Device()

	switch {
	case e.Margin > highLinkMargin:
		if _, err := c.engine.Raise(ctx, ScopeDevice, dev.DeviceName, dev.DevEUI, IssueHighLinkMargin,
			fmt.Sprintf("Link margin is %d dB", e.Margin), SeverityLow); err != nil {
			return err
		}
	case e.Margin < lowLinkMargin:
		if _, err := c.engine.Raise(ctx, ScopeDevice, dev.DeviceName, dev.DevEUI, IssueLowLinkMargin,
			fmt.Sprintf("Link margin is %d dB", e.Margin), SeverityCritical); err != nil {
			return err
		}
	}

	if level, ok := e.Battery(); ok && level < lowBattery {
		if _, err := c.engine.Raise(ctx, ScopeDevice, dev.DeviceName, dev.DevEUI, IssueLowBattery,
			fmt.Sprintf("Battery level is %.0f%%", level), SeverityCritical); err != nil {
			return err
		}
	}
	return nil
}

func (c *Classifier) onLog(ctx context.Context, e *protocol.LogEvent) error {
	dev := e.Device()
	severity, issue := classifyLog(e.Level, e.Code)

	_, err := c.engine.Raise(ctx, ScopeDevice, dev.DeviceName, dev.DevEUI, issue, describeLog(e.Description), severity)
	return err
}

func (c *Classifier) onLocation(ctx context.Context, e *protocol.LocationEvent) error {
	if c.reconciler == nil {
		return nil
	}
	return c.reconciler.Reconcile(ctx, e.Device().DevEUI, "", e.Location)
}

func (c *Classifier) onUplink(ctx context.Context, e *protocol.UplinkEvent) error {
	dev := e.Device()
	rx := e.FirstRx()

	if e.FrameCount() == 0 {
		if _, err := c.engine.Raise(ctx, ScopeDevice, dev.DeviceName, dev.DevEUI, IssueDeviceReset,
			"Frame Count is reset to 0", SeverityCritical); err != nil {
			return err
		}
	}

	c.backfill(ctx, dev.DevEUI, e.DevAddr, rx.GatewayID)

	if c.reconciler != nil && rx.Location != nil {
		if err := c.reconciler.Reconcile(ctx, dev.DevEUI, rx.GatewayID, rx.Location); err != nil {
			return err
		}
	}

	if c.uplinks != nil {
		wctx, cancel := bounded(ctx, c.timeout)
		defer cancel()
		err := c.uplinks.WriteUplink(wctx, timeseries.UplinkPoint{
			DeviceEUI:  dev.DevEUI,
			GatewayEUI: rx.GatewayID,
			FCnt:       e.FrameCount(),
			RSSI:       rx.RSSI,
			SNR:        rx.SNR,
			Time:       time.Now(),
		})
		if err != nil {
			c.log.Warn().Err(err).Str("eui", dev.DevEUI).Msg("failed to record uplink")
		}
	}
	return nil
}

// backfill records the network address and gateway of a registered device
// the first time they are seen.
func (c *Classifier) backfill(ctx context.Context, eui, devAddr, gatewayEUI string) {
	dev, err := c.registry.GetDevice(ctx, eui)
	if err != nil {
		c.log.Warn().Err(err).Str("eui", eui).Msg("failed to look up device")
		return
	}
	if dev == nil {
		return
	}

	if isUnknown(dev.DevAddr) && !isUnknown(devAddr) {
		if err := c.registry.SetDeviceAddr(ctx, eui, devAddr); err != nil {
			c.log.Warn().Err(err).Str("eui", eui).Msg("failed to record device address")
		} else {
			c.log.Info().Str("eui", eui).Str("dev_addr", devAddr).Msg("device address recorded")
		}
	}

	if isUnknown(dev.GatewayEUI) && !isUnknown(gatewayEUI) {
		if err := c.registry.SetDeviceGateway(ctx, eui, gatewayEUI); err != nil {
			c.log.Warn().Err(err).Str("eui", eui).Msg("failed to record device gateway")
		} else {
			c.log.Info().Str("eui", eui).Str("gateway", gatewayEUI).Msg("device gateway recorded")
		}
	}
}

func isUnknown(s string) bool {
	return s == "" || s == unknown
}
