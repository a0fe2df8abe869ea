package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/lora-alerts/internal/database"
)

func newEvaluator(h *harness, src MetricSource) *Evaluator {
	return NewEvaluator(DefaultEvaluatorConfig(), h.registry, h.engine, src, zerolog.Nop())
}

func TestDevicePacketRate(t *testing.T) {
	ctx := context.Background()

	t.Run("no packets raises offline only", func(t *testing.T) {
		h := newHarness()
		h.registry.addDevice(database.Device{EUI: "dev1", Name: "s", UplinkInterval: 60})
		src := newFakeSource()
		e := newEvaluator(h, src)

		require.NoError(t, e.DevicePacketRate(ctx))

		a := h.devices.get("dev1", IssueOffline)
		require.NotNil(t, a)
		assert.Equal(t, "high", a.Severity)
		assert.Equal(t, "No packets were sent in the last 15min", a.Message)
		assert.Equal(t, 1, h.devices.count())
	})

	t.Run("fewer than expected raises loss and clears offline", func(t *testing.T) {
		h := newHarness()
		h.registry.addDevice(database.Device{EUI: "dev1", Name: "s", UplinkInterval: 60})
		_, err := h.engine.Raise(ctx, ScopeDevice, "s", "dev1", IssueOffline, "old", SeverityHigh)
		require.NoError(t, err)
		src := newFakeSource()
		src.sums["dev1"] = 10
		e := newEvaluator(h, src)

		require.NoError(t, e.DevicePacketRate(ctx))

		assert.Nil(t, h.devices.get("dev1", IssueOffline))
		a := h.devices.get("dev1", IssuePacketLoss)
		require.NotNil(t, a)
		assert.Equal(t, "medium", a.Severity)
		assert.Equal(t, "10 Packets Recieved in the Last 15min", a.Message)
		assert.Nil(t, h.devices.get("dev1", IssuePacketFlooding))
	})

	t.Run("expected count clears loss", func(t *testing.T) {
		h := newHarness()
		h.registry.addDevice(database.Device{EUI: "dev1", Name: "s", UplinkInterval: 60})
		_, err := h.engine.Raise(ctx, ScopeDevice, "s", "dev1", IssuePacketLoss, "old", SeverityMedium)
		require.NoError(t, err)
		src := newFakeSource()
		src.sums["dev1"] = 15
		e := newEvaluator(h, src)

		require.NoError(t, e.DevicePacketRate(ctx))
		assert.Zero(t, h.devices.count())
	})

	t.Run("expected count clears one alert per cycle", func(t *testing.T) {
		h := newHarness()
		h.registry.addDevice(database.Device{EUI: "dev1", Name: "s", UplinkInterval: 60})
		for _, issue := range []Issue{IssuePacketLoss, IssuePacketFlooding} {
			_, err := h.engine.Raise(ctx, ScopeDevice, "s", "dev1", issue, "old", SeverityMedium)
			require.NoError(t, err)
		}
		src := newFakeSource()
		src.sums["dev1"] = 15
		e := newEvaluator(h, src)

		require.NoError(t, e.DevicePacketRate(ctx))
		assert.Nil(t, h.devices.get("dev1", IssuePacketLoss))
		assert.NotNil(t, h.devices.get("dev1", IssuePacketFlooding))

		require.NoError(t, e.DevicePacketRate(ctx))
		assert.Zero(t, h.devices.count())
	})

	t.Run("more than expected raises flooding", func(t *testing.T) {
		h := newHarness()
		h.registry.addDevice(database.Device{EUI: "dev1", Name: "s", UplinkInterval: 60})
		src := newFakeSource()
		src.sums["dev1"] = 20
		e := newEvaluator(h, src)

		require.NoError(t, e.DevicePacketRate(ctx))
		a := h.devices.get("dev1", IssuePacketFlooding)
		require.NotNil(t, a)
		assert.Equal(t, "high", a.Severity)
		assert.Nil(t, h.devices.get("dev1", IssuePacketLoss))
	})
}

func TestDevicePacketRateSkipsBadEntities(t *testing.T) {
	h := newHarness()
	h.registry.addDevice(database.Device{EUI: "zero", UplinkInterval: 0})
	h.registry.addDevice(database.Device{EUI: "broken", UplinkInterval: 60})
	h.registry.addDevice(database.Device{EUI: "ok", UplinkInterval: 60})
	_, err := h.engine.Raise(context.Background(), ScopeDevice, "b", "broken", IssuePacketLoss, "old", SeverityMedium)
	require.NoError(t, err)

	src := newFakeSource()
	src.failing["broken"] = true
	e := newEvaluator(h, src)

	require.NoError(t, e.DevicePacketRate(context.Background()))

	assert.Nil(t, h.devices.get("zero", IssueOffline))
	assert.NotNil(t, h.devices.get("broken", IssuePacketLoss))
	assert.Nil(t, h.devices.get("broken", IssueOffline))
	assert.NotNil(t, h.devices.get("ok", IssueOffline))
}

func TestPacketRateRegistryFailure(t *testing.T) {
	h := newHarness()
	h.registry.err = errBoom
	e := newEvaluator(h, newFakeSource())

	assert.ErrorIs(t, e.Run(context.Background(), JobDevicePacketRate), errBoom)
	assert.ErrorIs(t, e.Run(context.Background(), JobGatewayPacketRate), errBoom)
}

func TestGatewayPacketRateSumsDevices(t *testing.T) {
	h := newHarness()
	h.registry.addGateway(database.Gateway{EUI: "gw1", Name: "rooftop"})
	h.registry.addDevice(database.Device{EUI: "a", GatewayEUI: "gw1", UplinkInterval: 60})
	h.registry.addDevice(database.Device{EUI: "b", GatewayEUI: "gw1", UplinkInterval: 600})
	h.registry.addDevice(database.Device{EUI: "c", GatewayEUI: "other", UplinkInterval: 1})

	// expected = 3600/60 + 3600/600 = 66
	src := newFakeSource()
	src.sums["gw1"] = 66
	e := newEvaluator(h, src)

	_, err := h.engine.Raise(context.Background(), ScopeGateway, "rooftop", "gw1", IssuePacketFlooding, "old", SeverityHigh)
	require.NoError(t, err)

	require.NoError(t, e.GatewayPacketRate(context.Background()))
	assert.Zero(t, h.gateways.count())

	src.sums["gw1"] = 50
	require.NoError(t, e.GatewayPacketRate(context.Background()))
	a := h.gateways.get("gw1", IssuePacketLoss)
	require.NotNil(t, a)
	assert.Equal(t, "rooftop", a.Name)
	assert.Zero(t, h.devices.count())
}

func TestGatewayPacketRateOffline(t *testing.T) {
	h := newHarness()
	h.registry.addGateway(database.Gateway{EUI: "gw1", Name: "rooftop"})
	e := newEvaluator(h, newFakeSource())

	require.NoError(t, e.Run(context.Background(), JobGatewayPacketRate))

	sent := h.dispatcher.all()
	require.Len(t, sent, 1)
	assert.Equal(t, IssueOffline, sent[0].Issue)
	assert.True(t, sent[0].IsGateway)
}

func TestDeviceSignal(t *testing.T) {
	ctx := context.Background()

	t.Run("no samples raises offline", func(t *testing.T) {
		h := newHarness()
		h.registry.addDevice(database.Device{EUI: "dev1", UplinkInterval: 60})
		e := newEvaluator(h, newFakeSource())

		require.NoError(t, e.DeviceSignal(ctx))
		a := h.devices.get("dev1", IssueOffline)
		require.NotNil(t, a)
		assert.Equal(t, "No packets were sent in the last 1hr", a.Message)
		assert.Equal(t, 1, h.devices.count())
	})

	t.Run("low rssi breaches", func(t *testing.T) {
		h := newHarness()
		h.registry.addDevice(database.Device{EUI: "dev1", UplinkInterval: 60})
		_, err := h.engine.Raise(ctx, ScopeDevice, "", "dev1", IssueOffline, "old", SeverityHigh)
		require.NoError(t, err)
		src := newFakeSource()
		src.avgs["dev1"] = map[string]float64{"avg_rssi": 50, "avg_snr": 150}
		e := newEvaluator(h, src)

		require.NoError(t, e.DeviceSignal(ctx))
		assert.Nil(t, h.devices.get("dev1", IssueOffline))
		a := h.devices.get("dev1", IssueRSSIBreach)
		require.NotNil(t, a)
		assert.Equal(t, "medium", a.Severity)
		assert.Equal(t, "Average RSSI value is 50 in the last 1hr", a.Message)
		assert.Nil(t, h.devices.get("dev1", IssueSNRBreach))
	})

	t.Run("high rssi does not breach", func(t *testing.T) {
		h := newHarness()
		h.registry.addDevice(database.Device{EUI: "dev1", UplinkInterval: 60})
		src := newFakeSource()
		src.avgs["dev1"] = map[string]float64{"avg_rssi": 150}
		e := newEvaluator(h, src)

		require.NoError(t, e.DeviceSignal(ctx))
		assert.Zero(t, h.devices.count())
	})

	t.Run("low snr breaches", func(t *testing.T) {
		h := newHarness()
		h.registry.addDevice(database.Device{EUI: "dev1", UplinkInterval: 60})
		src := newFakeSource()
		src.avgs["dev1"] = map[string]float64{"avg_snr": 7.256}
		e := newEvaluator(h, src)

		require.NoError(t, e.DeviceSignal(ctx))
		a := h.devices.get("dev1", IssueSNRBreach)
		require.NotNil(t, a)
		assert.Equal(t, "high", a.Severity)
		assert.Equal(t, "Average SNR value is 7.26 in the last 1hr", a.Message)
	})

	t.Run("breach is not cleared on recovery", func(t *testing.T) {
		h := newHarness()
		h.registry.addDevice(database.Device{EUI: "dev1", UplinkInterval: 60})
		src := newFakeSource()
		src.avgs["dev1"] = map[string]float64{"avg_rssi": 50, "avg_snr": 150}
		e := newEvaluator(h, src)

		require.NoError(t, e.DeviceSignal(ctx))
		src.avgs["dev1"] = map[string]float64{"avg_rssi": 150, "avg_snr": 150}
		require.NoError(t, e.DeviceSignal(ctx))

		assert.NotNil(t, h.devices.get("dev1", IssueRSSIBreach))
	})

	t.Run("query failure changes nothing", func(t *testing.T) {
		h := newHarness()
		h.registry.addDevice(database.Device{EUI: "dev1", UplinkInterval: 60})
		src := newFakeSource()
		src.failing["dev1"] = true
		e := newEvaluator(h, src)

		require.NoError(t, e.DeviceSignal(ctx))
		assert.Zero(t, h.devices.count())
	})
}

func TestGatewaySignal(t *testing.T) {
	h := newHarness()
	h.registry.addGateway(database.Gateway{EUI: "gw1", Name: "rooftop"})
	src := newFakeSource()
	src.avgs["gw1"] = map[string]float64{"avg_rssi": 20, "avg_snr": 5}
	e := newEvaluator(h, src)

	require.NoError(t, e.Run(context.Background(), JobGatewaySignal))

	assert.NotNil(t, h.gateways.get("gw1", IssueRSSIBreach))
	assert.NotNil(t, h.gateways.get("gw1", IssueSNRBreach))
	assert.Zero(t, h.devices.count())
}

func TestRunUnknownJob(t *testing.T) {
	e := newEvaluator(newHarness(), newFakeSource())
	assert.Error(t, e.Run(context.Background(), "nope"))
}

func TestFormatWindow(t *testing.T) {
	assert.Equal(t, "15min", formatWindow(15*time.Minute))
	assert.Equal(t, "1hr", formatWindow(time.Hour))
	assert.Equal(t, "2hr", formatWindow(2*time.Hour))
	assert.Equal(t, "90min", formatWindow(90*time.Minute))
}
