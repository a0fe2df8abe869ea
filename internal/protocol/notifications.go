package protocol

import (
	"encoding/json"
	"time"
)

// AlertNotification is the message published for every new or changed alert
type AlertNotification struct {
	Name      string    `json:"name"`
	EUI       string    `json:"eui"`
	Issue     string    `json:"issue"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	IsGateway bool      `json:"is_gateway"`
	RaisedAt  time.Time `json:"raised_at"`
}

// EntityKind returns "Gateway" or "Device"
func (n *AlertNotification) EntityKind() string {
	if n.IsGateway {
		return "Gateway"
	}
	return "Device"
}

// EncodeAlertNotification encodes an AlertNotification to JSON
func EncodeAlertNotification(n *AlertNotification) ([]byte, error) {
	return json.Marshal(n)
}

// DecodeAlertNotification decodes JSON to AlertNotification
func DecodeAlertNotification(data []byte) (*AlertNotification, error) {
	var n AlertNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
