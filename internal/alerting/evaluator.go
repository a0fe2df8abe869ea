package alerting

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/lora-alerts/internal/metrics"
	"github.com/smukkama/lora-alerts/internal/timeseries"
)

// Job names
const (
	JobDevicePacketRate  = "device_packet_rate"
	JobGatewayPacketRate = "gateway_packet_rate"
	JobDeviceSignal      = "device_signal"
	JobGatewaySignal     = "gateway_signal"
)

const (
	fieldPacketRate = "packet_rate"
	fieldAvgRSSI    = "avg_rssi"
	fieldAvgSNR     = "avg_snr"

	tagDevice  = "device_id"
	tagGateway = "gateway_id"
)

// MetricSource answers aggregate queries over the time-series store
type MetricSource interface {
	// QuerySum returns the sum of field over the selected window, 0 when
	// there are no samples.
	QuerySum(ctx context.Context, sel timeseries.Selector, field string) (float64, error)
	// QueryAvg returns the mean of each field over the selected window. A
	// field without samples maps to nil.
	QueryAvg(ctx context.Context, sel timeseries.Selector, fields ...string) (map[string]*float64, error)
}

// EvaluatorConfig holds the windows and constants of the periodic checks
type EvaluatorConfig struct {
	DeviceBucket       string
	DeviceMeasurement  string
	GatewayBucket      string
	GatewayMeasurement string

	PacketWindow time.Duration
	SignalWindow time.Duration

	// uplinks expected per entity are these divided by the uplink interval
	DeviceExpectationSeconds  int
	GatewayExpectationSeconds int

	RSSIThreshold float64
	SNRThreshold  float64

	Timeout time.Duration
}

// DefaultEvaluatorConfig returns the production defaults
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		DeviceBucket:              "dev_metrics",
		DeviceMeasurement:         "avg_device_metrics",
		GatewayBucket:             "gw_metrics",
		GatewayMeasurement:        "avg_gateway_metrics",
		PacketWindow:              15 * time.Minute,
		SignalWindow:              time.Hour,
		DeviceExpectationSeconds:  900,
		GatewayExpectationSeconds: 3600,
		RSSIThreshold:             100,
		SNRThreshold:              100,
		Timeout:                   10 * time.Second,
	}
}

// Evaluator runs the scheduled packet-rate and signal checks
type Evaluator struct {
	cfg      EvaluatorConfig
	registry Registry
	engine   *Engine
	source   MetricSource
	log      zerolog.Logger
}

// NewEvaluator creates a metric evaluator
func NewEvaluator(cfg EvaluatorConfig, registry Registry, engine *Engine, source MetricSource, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		cfg:      cfg,
		registry: boundRegistry(registry, cfg.Timeout),
		engine:   engine,
		source:   source,
		log:      log.With().Str("component", "evaluator").Logger(),
	}
}

// Run executes the named job once and records its outcome
func (e *Evaluator) Run(ctx context.Context, job string) error {
	var fn func(context.Context) error
	switch job {
	case JobDevicePacketRate:
		fn = e.DevicePacketRate
	case JobGatewayPacketRate:
		fn = e.GatewayPacketRate
	case JobDeviceSignal:
		fn = e.DeviceSignal
	case JobGatewaySignal:
		fn = e.GatewaySignal
	default:
		return fmt.Errorf("unknown job %q", job)
	}

	start := time.Now()
	err := fn(ctx)
	metrics.JobDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.JobRuns.WithLabelValues(job, "failed").Inc()
		e.log.Error().Err(err).Str("job", job).Msg("job failed")
		return err
	}
	metrics.JobRuns.WithLabelValues(job, "ok").Inc()
	e.log.Debug().Str("job", job).Dur("took", time.Since(start)).Msg("job completed")
	return nil
}

// DevicePacketRate compares the packets each device sent in the packet
// window with the count its uplink interval predicts.
func (e *Evaluator) DevicePacketRate(ctx context.Context) error {
	devices, err := e.registry.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	for _, dev := range devices {
		if dev.UplinkInterval <= 0 {
			e.log.Warn().Str("eui", dev.EUI).Int("interval", dev.UplinkInterval).Msg("skipping device with invalid uplink interval")
			continue
		}

		actual, err := e.packetCount(ctx, e.deviceSelector(dev.EUI, e.cfg.PacketWindow))
		if err != nil {
			e.entityError(JobDevicePacketRate, dev.EUI, err)
			continue
		}

		expected := e.cfg.DeviceExpectationSeconds / dev.UplinkInterval
		if err := e.checkPacketRate(ctx, ScopeDevice, dev.Name, dev.EUI, actual, expected); err != nil {
			e.entityError(JobDevicePacketRate, dev.EUI, err)
		}
	}
	return nil
}

// GatewayPacketRate compares the packets each gateway forwarded with the sum
// expected from its associated devices.
func (e *Evaluator) GatewayPacketRate(ctx context.Context) error {
	gateways, err := e.registry.ListGateways(ctx)
	if err != nil {
		return fmt.Errorf("failed to list gateways: %w", err)
	}

	for _, gw := range gateways {
		devices, err := e.registry.DevicesForGateway(ctx, gw.EUI)
		if err != nil {
			e.entityError(JobGatewayPacketRate, gw.EUI, err)
			continue
		}

		expected := 0
		for _, dev := range devices {
			if dev.UplinkInterval <= 0 {
				e.log.Warn().Str("eui", dev.EUI).Str("gateway", gw.EUI).Msg("ignoring device with invalid uplink interval")
				continue
			}
			expected += e.cfg.GatewayExpectationSeconds / dev.UplinkInterval
		}

		actual, err := e.packetCount(ctx, e.gatewaySelector(gw.EUI, e.cfg.PacketWindow))
		if err != nil {
			e.entityError(JobGatewayPacketRate, gw.EUI, err)
			continue
		}

		if err := e.checkPacketRate(ctx, ScopeGateway, gw.Name, gw.EUI, actual, expected); err != nil {
			e.entityError(JobGatewayPacketRate, gw.EUI, err)
		}
	}
	return nil
}

// DeviceSignal checks the average RSSI and SNR of every device
func (e *Evaluator) DeviceSignal(ctx context.Context) error {
	devices, err := e.registry.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	for _, dev := range devices {
		if err := e.checkSignal(ctx, ScopeDevice, dev.Name, dev.EUI, e.deviceSelector(dev.EUI, e.cfg.SignalWindow)); err != nil {
			e.entityError(JobDeviceSignal, dev.EUI, err)
		}
	}
	return nil
}

// GatewaySignal checks the average RSSI and SNR of every gateway
func (e *Evaluator) GatewaySignal(ctx context.Context) error {
	gateways, err := e.registry.ListGateways(ctx)
	if err != nil {
		return fmt.Errorf("failed to list gateways: %w", err)
	}

	for _, gw := range gateways {
		if err := e.checkSignal(ctx, ScopeGateway, gw.Name, gw.EUI, e.gatewaySelector(gw.EUI, e.cfg.SignalWindow)); err != nil {
			e.entityError(JobGatewaySignal, gw.EUI, err)
		}
	}
	return nil
}

func (e *Evaluator) checkPacketRate(ctx context.Context, scope Scope, name, eui string, actual, expected int) error {
	window := formatWindow(e.cfg.PacketWindow)

	if actual == 0 {
		_, err := e.engine.Raise(ctx, scope, name, eui, IssueOffline,
			"No packets were sent in the last "+window, SeverityHigh)
		return err
	}

	if _, err := e.engine.Clear(ctx, scope, eui, IssueOffline); err != nil {
		return err
	}

	msg := fmt.Sprintf("%d Packets Recieved in the Last %s", actual, window)
	switch {
	case actual < expected:
		_, err := e.engine.Raise(ctx, scope, name, eui, IssuePacketLoss, msg, SeverityMedium)
		return err
	case actual > expected:
		_, err := e.engine.Raise(ctx, scope, name, eui, IssuePacketFlooding, msg, SeverityHigh)
		return err
	}

	cleared, err := e.engine.Clear(ctx, scope, eui, IssuePacketLoss)
	if err != nil || cleared {
		return err
	}
	_, err = e.engine.Clear(ctx, scope, eui, IssuePacketFlooding)
	return err
}

func (e *Evaluator) checkSignal(ctx context.Context, scope Scope, name, eui string, sel timeseries.Selector) error {
	qctx, cancel := bounded(ctx, e.cfg.Timeout)
	avgs, err := e.source.QueryAvg(qctx, sel, fieldAvgRSSI, fieldAvgSNR)
	cancel()
	if err != nil {
		return err
	}

	rssi, snr := avgs[fieldAvgRSSI], avgs[fieldAvgSNR]
	if rssi == nil && snr == nil {
		_, err := e.engine.Raise(ctx, scope, name, eui, IssueOffline,
			"No packets were sent in the last "+formatWindow(e.cfg.SignalWindow), SeverityHigh)
		return err
	}

	if _, err := e.engine.Clear(ctx, scope, eui, IssueOffline); err != nil {
		return err
	}

	window := formatWindow(e.cfg.SignalWindow)
	if rssi != nil && *rssi < e.cfg.RSSIThreshold {
		msg := fmt.Sprintf("Average RSSI value is %s in the last %s", formatValue(*rssi), window)
		if _, err := e.engine.Raise(ctx, scope, name, eui, IssueRSSIBreach, msg, SeverityMedium); err != nil {
			return err
		}
	}
	if snr != nil && *snr < e.cfg.SNRThreshold {
		msg := fmt.Sprintf("Average SNR value is %s in the last %s", formatValue(*snr), window)
		if _, err := e.engine.Raise(ctx, scope, name, eui, IssueSNRBreach, msg, SeverityHigh); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) packetCount(ctx context.Context, sel timeseries.Selector) (int, error) {
	qctx, cancel := bounded(ctx, e.cfg.Timeout)
	defer cancel()

	sum, err := e.source.QuerySum(qctx, sel, fieldPacketRate)
	if err != nil {
		return 0, err
	}
	return int(sum), nil
}

func (e *Evaluator) deviceSelector(eui string, window time.Duration) timeseries.Selector {
	return timeseries.Selector{
		Bucket:      e.cfg.DeviceBucket,
		Measurement: e.cfg.DeviceMeasurement,
		Tag:         tagDevice,
		ID:          eui,
		Range:       window,
	}
}

func (e *Evaluator) gatewaySelector(eui string, window time.Duration) timeseries.Selector {
	return timeseries.Selector{
		Bucket:      e.cfg.GatewayBucket,
		Measurement: e.cfg.GatewayMeasurement,
		Tag:         tagGateway,
		ID:          eui,
		Range:       window,
	}
}

func (e *Evaluator) entityError(job, eui string, err error) {
	metrics.EntityErrors.WithLabelValues(job).Inc()
	e.log.Warn().Err(err).Str("job", job).Str("eui", eui).Msg("entity check failed")
}

// formatWindow renders 15m as "15min" and 1h as "1hr"
func formatWindow(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%dhr", d/time.Hour)
	}
	return fmt.Sprintf("%dmin", d/time.Minute)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}
