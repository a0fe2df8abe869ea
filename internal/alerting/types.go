package alerting

import (
	"context"

	"github.com/smukkama/lora-alerts/internal/database"
)

// Severity is the priority tier of an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severity levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Issue is the alert category. Together with the entity EUI it forms the
// dedup key of an alert.
type Issue string

const (
	IssueOffline           Issue = "Offline"
	IssuePacketLoss        Issue = "Packet Loss"
	IssuePacketFlooding    Issue = "Packet Flooding"
	IssueRSSIBreach        Issue = "Threshold Breach - RSSI"
	IssueSNRBreach         Issue = "Threshold Breach - SNR"
	IssueDeviceReset       Issue = "Device Reset"
	IssueJoinReplay        Issue = "Join Request Replay"
	IssueLocationChanged   Issue = "Gateway Location Changed"
	IssueHighLinkMargin    Issue = "High Link Margin"
	IssueLowLinkMargin     Issue = "Low Link Margin"
	IssueLowBattery        Issue = "Low Battery"
	IssueUnidentifiedLog   Issue = "Unidentified Log Event"
	IssuePayloadSize       Issue = "Downlink Payload Size"
	IssueUplinkCodec       Issue = "Uplink Codec Error"
	IssueDownlinkCodec     Issue = "Downlink Codec Error"
	IssueOTAA              Issue = "OTAA Join Failure"
	IssueUplinkFCntReset   Issue = "Uplink Frame Counter Reset"
	IssueUplinkMIC         Issue = "Uplink MIC Mismatch"
	IssueRetransmission    Issue = "Uplink Retransmission"
	IssueDownlinkGateway   Issue = "Downlink Gateway Error"
	IssueRelayNewEndDevice Issue = "Relay New End Device"
	IssueFCntDown          Issue = "Downlink Frame Counter Error"
	IssueExpired           Issue = "Downlink Expired"
)

var knownIssues = map[Issue]struct{}{
	IssueOffline: {}, IssuePacketLoss: {}, IssuePacketFlooding: {},
	IssueRSSIBreach: {}, IssueSNRBreach: {}, IssueDeviceReset: {},
	IssueJoinReplay: {}, IssueLocationChanged: {}, IssueHighLinkMargin: {},
	IssueLowLinkMargin: {}, IssueLowBattery: {}, IssueUnidentifiedLog: {},
	IssuePayloadSize: {}, IssueUplinkCodec: {}, IssueDownlinkCodec: {},
	IssueOTAA: {}, IssueUplinkFCntReset: {}, IssueUplinkMIC: {},
	IssueRetransmission: {}, IssueDownlinkGateway: {}, IssueRelayNewEndDevice: {},
	IssueFCntDown: {}, IssueExpired: {},
}

// Valid reports whether i is a known issue category.
func (i Issue) Valid() bool {
	_, ok := knownIssues[i]
	return ok
}

// Scope selects which alert store an instruction targets.
type Scope int

const (
	ScopeDevice Scope = iota
	ScopeGateway
)

func (s Scope) String() string {
	if s == ScopeGateway {
		return "gateway"
	}
	return "device"
}

// Store is the contract shared by the device and gateway alert stores.
// Issue and severity travel as text so the storage format stays stable.
type Store interface {
	Upsert(ctx context.Context, name, eui, issue, message, severity string) (database.UpsertResult, error)
	Clear(ctx context.Context, eui, issue string) (bool, error)
	Exists(ctx context.Context, eui, issue string) (bool, error)
	ListAll(ctx context.Context) ([]database.Alert, error)
	ListForEntity(ctx context.Context, eui string) ([]database.Alert, error)
	DeleteByID(ctx context.Context, id string) (bool, error)
}

// Registry is the read view over device and gateway registrations, plus the
// handful of writes the engine performs on them.
type Registry interface {
	IsDeviceRegistered(ctx context.Context, eui string) (bool, error)
	GetDevice(ctx context.Context, eui string) (*database.Device, error)
	GetGateway(ctx context.Context, eui string) (*database.Gateway, error)
	ListDevices(ctx context.Context) ([]database.Device, error)
	ListGateways(ctx context.Context) ([]database.Gateway, error)
	DevicesForGateway(ctx context.Context, gatewayEUI string) ([]database.Device, error)
	RegisterDevice(ctx context.Context, dev *database.Device) error
	SetDeviceAddr(ctx context.Context, eui, devAddr string) error
	SetDeviceGateway(ctx context.Context, eui, gatewayEUI string) error
	SetGatewayCoordinates(ctx context.Context, eui, coordinates string) error
	SetGatewayAddress(ctx context.Context, eui, address string) error
}

// Dispatcher forwards new or changed alerts to the notification channel.
// Delivery is best-effort: implementations log failures.
type Dispatcher interface {
	Notify(ctx context.Context, name, eui string, issue Issue, message string, severity Severity, isGateway bool)
}

// Geocoder resolves coordinates into a street address.
type Geocoder interface {
	Resolve(ctx context.Context, lat, long float64) (string, error)
}
