package notification

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/rs/zerolog"

	"github.com/smukkama/lora-alerts/internal/protocol"
	"github.com/smukkama/lora-alerts/pkg/config"
)

// Sender delivers a rendered message to one or more chat services
type Sender interface {
	Send(message string, params *types.Params) []error
}

var severityIcons = map[string]string{
	"low":      "🔵",
	"medium":   "🟡",
	"high":     "🟠",
	"critical": "🔴",
}

const alertTemplate = `{{icon .Severity}} {{upper .Severity}} alert: {{.Issue}}
{{.EntityKind}}: {{.Name}} ({{.EUI}})
{{.Message}}
Raised at {{.RaisedAt.Format "2006-01-02 15:04:05 MST"}}`

var tmpl = template.Must(template.New("alert").Funcs(template.FuncMap{
	"upper": strings.ToUpper,
	"icon": func(severity string) string {
		if icon, ok := severityIcons[severity]; ok {
			return icon
		}
		return "⚪"
	},
}).Parse(alertTemplate))

// TelegramNotifier sends alert notifications to a Telegram chat
type TelegramNotifier struct {
	sender Sender
	log    zerolog.Logger
}

// NewTelegramNotifier creates a notifier for the configured bot and chat.
// Without credentials messages are only logged.
func NewTelegramNotifier(cfg config.TelegramConfig, log zerolog.Logger) (*TelegramNotifier, error) {
	log = log.With().Str("component", "telegram").Logger()
	if !cfg.Enabled() {
		log.Warn().Msg("telegram not configured, notifications will be logged only")
		return &TelegramNotifier{log: log}, nil
	}

	sender, err := shoutrrr.CreateSender(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram sender: %w", err)
	}
	return NewNotifier(sender, log), nil
}

// NewNotifier creates a notifier on top of an existing sender
func NewNotifier(sender Sender, log zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{sender: sender, log: log}
}

// SendAlertNotification renders and delivers one notification
func (t *TelegramNotifier) SendAlertNotification(n *protocol.AlertNotification) error {
	body, err := Render(n)
	if err != nil {
		return fmt.Errorf("failed to render notification: %w", err)
	}

	if t.sender == nil {
		t.log.Info().Str("eui", n.EUI).Str("issue", n.Issue).Msg(body)
		return nil
	}

	params := types.Params{"title": fmt.Sprintf("%s - %s", n.Name, n.Issue)}
	if errs := t.sender.Send(body, &params); len(errs) > 0 {
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("failed to send notification: %w", err)
		}
	}

	t.log.Debug().Str("eui", n.EUI).Str("issue", n.Issue).Msg("notification sent")
	return nil
}

// Render formats a notification as chat text
func Render(n *protocol.AlertNotification) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}
