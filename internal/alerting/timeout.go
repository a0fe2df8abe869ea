package alerting

import (
	"context"
	"time"

	"github.com/smukkama/lora-alerts/internal/database"
)

// bounded limits ctx to d. A non-positive d only adds cancellation.
func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// timedRegistry gives every registry call its own deadline
type timedRegistry struct {
	next    Registry
	timeout time.Duration
}

func boundRegistry(r Registry, timeout time.Duration) Registry {
	if r == nil {
		return nil
	}
	if t, ok := r.(*timedRegistry); ok {
		r = t.next
	}
	return &timedRegistry{next: r, timeout: timeout}
}

func (r *timedRegistry) IsDeviceRegistered(ctx context.Context, eui string) (bool, error) {
	ctx, cancel := bounded(ctx, r.timeout)
	defer cancel()
	return r.next.IsDeviceRegistered(ctx, eui)
}

func (r *timedRegistry) GetDevice(ctx context.Context, eui string) (*database.Device, error) {
	ctx, cancel := bounded(ctx, r.timeout)
	defer cancel()
	return r.next.GetDevice(ctx, eui)
}

func (r *timedRegistry) GetGateway(ctx context.Context, eui string) (*database.Gateway, error) {
	ctx, cancel := bounded(ctx, r.timeout)
	defer cancel()
	return r.next.GetGateway(ctx, eui)
}

func (r *timedRegistry) ListDevices(ctx context.Context) ([]database.Device, error) {
	ctx, cancel := bounded(ctx, r.timeout)
	defer cancel()
	return r.next.ListDevices(ctx)
}

func (r *timedRegistry) ListGateways(ctx context.Context) ([]database.Gateway, error) {
	ctx, cancel := bounded(ctx, r.timeout)
	defer cancel()
	return r.next.ListGateways(ctx)
}

func (r *timedRegistry) DevicesForGateway(ctx context.Context, gatewayEUI string) ([]database.Device, error) {
	ctx, cancel := bounded(ctx, r.timeout)
	defer cancel()
	return r.next.DevicesForGateway(ctx, gatewayEUI)
}

func (r *timedRegistry) RegisterDevice(ctx context.Context, dev *database.Device) error {
	ctx, cancel := bounded(ctx, r.timeout)
	defer cancel()
	return r.next.RegisterDevice(ctx, dev)
}

func (r *timedRegistry) SetDeviceAddr(ctx context.Context, eui, devAddr string) error {
	ctx, cancel := bounded(ctx, r.timeout)
	defer cancel()
	return r.next.SetDeviceAddr(ctx, eui, devAddr)
}

func (r *timedRegistry) SetDeviceGateway(ctx context.Context, eui, gatewayEUI string) error {
	ctx, cancel := bounded(ctx, r.timeout)
	defer cancel()
	return r.next.SetDeviceGateway(ctx, eui, gatewayEUI)
}

func (r *timedRegistry) SetGatewayCoordinates(ctx context.Context, eui, coordinates string) error {
	ctx, cancel := bounded(ctx, r.timeout)
	defer cancel()
	return r.next.SetGatewayCoordinates(ctx, eui, coordinates)
}

func (r *timedRegistry) SetGatewayAddress(ctx context.Context, eui, address string) error {
	ctx, cancel := bounded(ctx, r.timeout)
	defer cancel()
	return r.next.SetGatewayAddress(ctx, eui, address)
}

// timedStore gives every alert store call its own deadline
type timedStore struct {
	next    Store
	timeout time.Duration
}

func boundStore(s Store, timeout time.Duration) Store {
	return &timedStore{next: s, timeout: timeout}
}

func (s *timedStore) Upsert(ctx context.Context, name, eui, issue, message, severity string) (database.UpsertResult, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	return s.next.Upsert(ctx, name, eui, issue, message, severity)
}

func (s *timedStore) Clear(ctx context.Context, eui, issue string) (bool, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	return s.next.Clear(ctx, eui, issue)
}

func (s *timedStore) Exists(ctx context.Context, eui, issue string) (bool, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	return s.next.Exists(ctx, eui, issue)
}

func (s *timedStore) ListAll(ctx context.Context) ([]database.Alert, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	return s.next.ListAll(ctx)
}

func (s *timedStore) ListForEntity(ctx context.Context, eui string) ([]database.Alert, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	return s.next.ListForEntity(ctx, eui)
}

func (s *timedStore) DeleteByID(ctx context.Context, id string) (bool, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	return s.next.DeleteByID(ctx, id)
}
