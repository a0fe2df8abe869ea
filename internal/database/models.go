package database

import (
	"errors"
	"time"
)

// Unknown is the placeholder stored for registry fields that have not been
// learned from the network yet.
const Unknown = "Unknown"

// ErrNotFound is returned by registry writes that matched no row.
var ErrNotFound = errors.New("record not found")

// Device represents a registered LoRaWAN end device
type Device struct {
	UID            string
	EUI            string
	Name           string
	GatewayEUI     string
	DevAddr        string
	UplinkInterval int // seconds between uplinks
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Gateway represents a registered LoRaWAN gateway
type Gateway struct {
	UID         string
	EUI         string
	Name        string
	Coordinates string // "lat,long,alt" or empty
	Address     string
	SimNumber   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Alert represents one active condition for one device or gateway
type Alert struct {
	ID        string
	Name      string
	EUI       string
	Issue     string
	Message   string
	Severity  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertResult reports what an alert upsert did
type UpsertResult struct {
	Created bool
	AlertID string
	Changed bool // message differs from the previously stored one
}

// Alert tables
const (
	DeviceAlertsTable  = "device_alerts"
	GatewayAlertsTable = "gateway_alerts"
)
