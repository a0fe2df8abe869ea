package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType is the value of the "event" query parameter sent by the
// network server HTTP integration
type EventType string

const (
	EventUplink   EventType = "up"
	EventJoin     EventType = "join"
	EventStatus   EventType = "status"
	EventLog      EventType = "log"
	EventLocation EventType = "location"
)

// ErrUnknownEvent is returned for event types the engine does not handle
var ErrUnknownEvent = errors.New("unknown event type")

const unknown = "Unknown"

// Event is implemented by every inbound network-server event
type Event interface {
	Type() EventType
	Device() DeviceInfo
}

// DeviceInfo identifies the device an event belongs to
type DeviceInfo struct {
	DeviceName string `json:"deviceName"`
	DevEUI     string `json:"devEui"`
}

// Location is a reported WGS84 position
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// RxInfo describes the reception of an uplink by one gateway
type RxInfo struct {
	GatewayID string    `json:"gatewayId"`
	RSSI      int       `json:"rssi"`
	SNR       float64   `json:"snr"`
	Location  *Location `json:"location,omitempty"`
}

// UplinkEvent is a data uplink
type UplinkEvent struct {
	DeviceInfo DeviceInfo `json:"deviceInfo"`
	DevAddr    string     `json:"devAddr"`
	FCnt       *int       `json:"fCnt"`
	RxInfo     []RxInfo   `json:"rxInfo"`
}

func (e *UplinkEvent) Type() EventType    { return EventUplink }
func (e *UplinkEvent) Device() DeviceInfo { return e.DeviceInfo }

// FrameCount returns the uplink frame counter, -1 when it was not reported
func (e *UplinkEvent) FrameCount() int {
	if e.FCnt == nil {
		return -1
	}
	return *e.FCnt
}

// FirstRx returns the first reception entry, or a zero entry with an
// unknown gateway when the event carried none
func (e *UplinkEvent) FirstRx() RxInfo {
	if len(e.RxInfo) == 0 {
		return RxInfo{GatewayID: unknown}
	}
	return e.RxInfo[0]
}

// JoinEvent is an OTAA join accept
type JoinEvent struct {
	DeviceInfo DeviceInfo `json:"deviceInfo"`
	DevAddr    string     `json:"devAddr"`
}

func (e *JoinEvent) Type() EventType    { return EventJoin }
func (e *JoinEvent) Device() DeviceInfo { return e.DeviceInfo }

// StatusEvent is a DevStatusAns report
type StatusEvent struct {
	DeviceInfo              DeviceInfo `json:"deviceInfo"`
	Margin                  int        `json:"margin"`
	ExternalPowerSource     bool       `json:"externalPowerSource"`
	BatteryLevelUnavailable bool       `json:"batteryLevelUnavailable"`
	BatteryLevel            *float64   `json:"batteryLevel,omitempty"`
}

func (e *StatusEvent) Type() EventType    { return EventStatus }
func (e *StatusEvent) Device() DeviceInfo { return e.DeviceInfo }

// Battery returns the battery level and whether the device reported one
func (e *StatusEvent) Battery() (float64, bool) {
	if e.BatteryLevel == nil || e.BatteryLevelUnavailable || e.ExternalPowerSource {
		return 0, false
	}
	return *e.BatteryLevel, true
}

// LogEvent is an error or warning logged by the network server for a device
type LogEvent struct {
	DeviceInfo  DeviceInfo        `json:"deviceInfo"`
	Level       string            `json:"level"`
	Code        string            `json:"code"`
	Description string            `json:"description"`
	Context     map[string]string `json:"context,omitempty"`
}

func (e *LogEvent) Type() EventType    { return EventLog }
func (e *LogEvent) Device() DeviceInfo { return e.DeviceInfo }

// LocationEvent is a geolocation resolved by the network server
type LocationEvent struct {
	DeviceInfo DeviceInfo `json:"deviceInfo"`
	Location   *Location  `json:"location,omitempty"`
}

func (e *LocationEvent) Type() EventType    { return EventLocation }
func (e *LocationEvent) Device() DeviceInfo { return e.DeviceInfo }

// ParseEvent decodes a JSON payload into the event type named by eventType.
// Missing identity fields are filled with "Unknown" instead of failing.
func ParseEvent(eventType string, data []byte) (Event, error) {
	var ev Event
	switch EventType(eventType) {
	case EventUplink:
		ev = &UplinkEvent{}
	case EventJoin:
		ev = &JoinEvent{}
	case EventStatus:
		ev = &StatusEvent{}
	case EventLog:
		ev = &LogEvent{}
	case EventLocation:
		ev = &LocationEvent{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, eventType)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, ev); err != nil {
			return nil, fmt.Errorf("invalid %s event: %w", eventType, err)
		}
	}

	normalize(ev)
	return ev, nil
}

func normalize(ev Event) {
	switch e := ev.(type) {
	case *UplinkEvent:
		fillDevice(&e.DeviceInfo)
		fillUnknown(&e.DevAddr)
		for i := range e.RxInfo {
			fillUnknown(&e.RxInfo[i].GatewayID)
		}
	case *JoinEvent:
		fillDevice(&e.DeviceInfo)
		fillUnknown(&e.DevAddr)
	case *StatusEvent:
		fillDevice(&e.DeviceInfo)
	case *LogEvent:
		fillDevice(&e.DeviceInfo)
		fillUnknown(&e.Level)
		fillUnknown(&e.Code)
	case *LocationEvent:
		fillDevice(&e.DeviceInfo)
	}
}

func fillDevice(d *DeviceInfo) {
	fillUnknown(&d.DeviceName)
	fillUnknown(&d.DevEUI)
}

func fillUnknown(s *string) {
	if *s == "" {
		*s = unknown
	}
}
