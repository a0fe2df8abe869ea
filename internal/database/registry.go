package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Registry gives access to the device and gateway registrations. The rows are
// owned by the registration forms; the alert engine mostly reads them.
type Registry struct {
	db *DB
}

// NewRegistry creates a registry accessor
func NewRegistry(db *DB) *Registry {
	return &Registry{db: db}
}

const (
	selectDeviceBase = `
		SELECT uid, eui, name, gateway_eui, dev_addr, uplink_interval, created_at, updated_at
		FROM devices`

	selectGatewayBase = `
		SELECT uid, eui, name, coordinates, address, sim_number, created_at, updated_at
		FROM gateways`
)

// IsDeviceRegistered reports whether a device with the EUI exists
func (r *Registry) IsDeviceRegistered(ctx context.Context, eui string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM devices WHERE eui = $1)`, eui).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check device %s: %w", eui, err)
	}
	return exists, nil
}

// GetDevice retrieves a device by EUI. Returns nil when it is not registered.
func (r *Registry) GetDevice(ctx context.Context, eui string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectDeviceBase+` WHERE eui = $1`, eui)

	dev, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device %s: %w", eui, err)
	}
	return dev, nil
}

// GetGateway retrieves a gateway by EUI. Returns nil when it is not registered.
func (r *Registry) GetGateway(ctx context.Context, eui string) (*Gateway, error) {
	row := r.db.QueryRowContext(ctx, selectGatewayBase+` WHERE eui = $1`, eui)

	gw, err := scanGateway(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gateway %s: %w", eui, err)
	}
	return gw, nil
}

// ListDevices returns every registered device
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, selectDeviceBase+` ORDER BY id`)
}

// DevicesForGateway returns the devices associated with a gateway
func (r *Registry) DevicesForGateway(ctx context.Context, gatewayEUI string) ([]Device, error) {
	return r.queryDevices(ctx, selectDeviceBase+` WHERE gateway_eui = $1 ORDER BY id`, gatewayEUI)
}

// ListGateways returns every registered gateway
func (r *Registry) ListGateways(ctx context.Context) ([]Gateway, error) {
	rows, err := r.db.QueryContext(ctx, selectGatewayBase+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list gateways: %w", err)
	}
	defer rows.Close()

	var gateways []Gateway
	for rows.Next() {
		gw, err := scanGateway(rows)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, *gw)
	}
	return gateways, rows.Err()
}

// RegisterDevice inserts a device unless its EUI is already registered
func (r *Registry) RegisterDevice(ctx context.Context, dev *Device) error {
	if dev.UID == "" {
		dev.UID = uuid.NewString()
	}
	query := `
		INSERT INTO devices (uid, eui, name, gateway_eui, dev_addr, uplink_interval)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (eui) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		dev.UID, dev.EUI, dev.Name, dev.GatewayEUI, dev.DevAddr, dev.UplinkInterval)
	if err != nil {
		return fmt.Errorf("failed to register device %s: %w", dev.EUI, err)
	}
	return nil
}

// SetDeviceAddr records the network address of a device
func (r *Registry) SetDeviceAddr(ctx context.Context, eui, devAddr string) error {
	return r.update(ctx, `UPDATE devices SET dev_addr = $1, updated_at = CURRENT_TIMESTAMP WHERE eui = $2`, devAddr, eui)
}

// SetDeviceGateway records the gateway a device is heard through
func (r *Registry) SetDeviceGateway(ctx context.Context, eui, gatewayEUI string) error {
	return r.update(ctx, `UPDATE devices SET gateway_eui = $1, updated_at = CURRENT_TIMESTAMP WHERE eui = $2`, gatewayEUI, eui)
}

// SetGatewayCoordinates stores the "lat,long,alt" baseline of a gateway
func (r *Registry) SetGatewayCoordinates(ctx context.Context, eui, coordinates string) error {
	return r.update(ctx, `UPDATE gateways SET coordinates = $1, updated_at = CURRENT_TIMESTAMP WHERE eui = $2`, coordinates, eui)
}

// SetGatewayAddress stores the resolved street address of a gateway
func (r *Registry) SetGatewayAddress(ctx context.Context, eui, address string) error {
	return r.update(ctx, `UPDATE gateways SET address = $1, updated_at = CURRENT_TIMESTAMP WHERE eui = $2`, address, eui)
}

func (r *Registry) update(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update registry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Registry) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *dev)
	}
	return devices, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*Device, error) {
	var d Device
	if err := s.Scan(
		&d.UID,
		&d.EUI,
		&d.Name,
		&d.GatewayEUI,
		&d.DevAddr,
		&d.UplinkInterval,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

func scanGateway(s scanner) (*Gateway, error) {
	var g Gateway
	if err := s.Scan(
		&g.UID,
		&g.EUI,
		&g.Name,
		&g.Coordinates,
		&g.Address,
		&g.SimNumber,
		&g.CreatedAt,
		&g.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &g, nil
}
