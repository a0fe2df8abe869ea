package notification

import (
	"errors"
	"testing"
	"time"

	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/lora-alerts/internal/protocol"
	"github.com/smukkama/lora-alerts/pkg/config"
)

type fakeSender struct {
	messages []string
	params   []types.Params
	errs     []error
}

func (s *fakeSender) Send(message string, params *types.Params) []error {
	s.messages = append(s.messages, message)
	if params != nil {
		s.params = append(s.params, *params)
	}
	return s.errs
}

func sample() *protocol.AlertNotification {
	return &protocol.AlertNotification{
		Name:      "rooftop",
		EUI:       "0016c001ff10a235",
		Issue:     "Gateway Location Changed",
		Message:   "Location of rooftop has changed by (0, 0, 1)",
		Severity:  "critical",
		IsGateway: true,
		RaisedAt:  time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
	}
}

func TestRender(t *testing.T) {
	body, err := Render(sample())
	require.NoError(t, err)

	assert.Contains(t, body, "🔴 CRITICAL alert: Gateway Location Changed")
	assert.Contains(t, body, "Gateway: rooftop (0016c001ff10a235)")
	assert.Contains(t, body, "Location of rooftop has changed by (0, 0, 1)")
	assert.Contains(t, body, "Raised at 2024-05-01 12:30:00 UTC")
}

func TestRenderDeviceUnknownSeverity(t *testing.T) {
	n := sample()
	n.IsGateway = false
	n.Severity = "weird"

	body, err := Render(n)
	require.NoError(t, err)
	assert.Contains(t, body, "⚪ WEIRD alert")
	assert.Contains(t, body, "Device: rooftop")
}

func TestSendAlertNotification(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, zerolog.Nop())

	require.NoError(t, n.SendAlertNotification(sample()))

	require.Len(t, sender.messages, 1)
	assert.Contains(t, sender.messages[0], "Gateway Location Changed")
	require.Len(t, sender.params, 1)
	assert.Equal(t, "rooftop - Gateway Location Changed", sender.params[0]["title"])
}

func TestSendAlertNotificationError(t *testing.T) {
	sender := &fakeSender{errs: []error{errors.New("telegram: 401")}}
	n := NewNotifier(sender, zerolog.Nop())

	err := n.SendAlertNotification(sample())
	assert.ErrorContains(t, err, "telegram: 401")
}

func TestSendIgnoresNilErrors(t *testing.T) {
	sender := &fakeSender{errs: []error{nil}}
	n := NewNotifier(sender, zerolog.Nop())

	assert.NoError(t, n.SendAlertNotification(sample()))
}

func TestUnconfiguredNotifierLogsOnly(t *testing.T) {
	n, err := NewTelegramNotifier(config.TelegramConfig{}, zerolog.Nop())
	require.NoError(t, err)

	assert.NoError(t, n.SendAlertNotification(sample()))
}
