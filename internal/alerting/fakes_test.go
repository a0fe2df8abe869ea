package alerting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smukkama/lora-alerts/internal/database"
	"github.com/smukkama/lora-alerts/internal/timeseries"
)

var errBoom = errors.New("boom")

type memStore struct {
	mu     sync.Mutex
	alerts map[string]*database.Alert
	order  []string
}

func newMemStore() *memStore {
	return &memStore{alerts: make(map[string]*database.Alert)}
}

func key(eui, issue string) string { return eui + "|" + issue }

func (s *memStore) Upsert(_ context.Context, name, eui, issue, message, severity string) (database.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(eui, issue)
	if a, ok := s.alerts[k]; ok {
		changed := a.Message != message
		a.Message = message
		return database.UpsertResult{AlertID: a.ID, Changed: changed}, nil
	}
	a := &database.Alert{ID: uuid.NewString(), Name: name, EUI: eui, Issue: issue, Message: message, Severity: severity}
	s.alerts[k] = a
	s.order = append(s.order, k)
	return database.UpsertResult{Created: true, AlertID: a.ID, Changed: true}, nil
}

func (s *memStore) Clear(_ context.Context, eui, issue string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(eui, issue)
	if _, ok := s.alerts[k]; !ok {
		return false, nil
	}
	delete(s.alerts, k)
	return true, nil
}

func (s *memStore) Exists(_ context.Context, eui, issue string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.alerts[key(eui, issue)]
	return ok, nil
}

func (s *memStore) ListAll(ctx context.Context) ([]database.Alert, error) {
	return s.ListForEntity(ctx, "")
}

func (s *memStore) ListForEntity(_ context.Context, eui string) ([]database.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []database.Alert{}
	for _, k := range s.order {
		a, ok := s.alerts[k]
		if !ok || (eui != "" && a.EUI != eui) {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (s *memStore) DeleteByID(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, a := range s.alerts {
		if a.ID == id {
			delete(s.alerts, k)
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) get(eui string, issue Issue) *database.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alerts[key(eui, string(issue))]
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

type memRegistry struct {
	mu       sync.Mutex
	devices  map[string]*database.Device
	gateways map[string]*database.Gateway
	devOrder []string
	gwOrder  []string
	err      error
}

func newMemRegistry() *memRegistry {
	return &memRegistry{
		devices:  make(map[string]*database.Device),
		gateways: make(map[string]*database.Gateway),
	}
}

func (r *memRegistry) addDevice(d database.Device) {
	r.devices[d.EUI] = &d
	r.devOrder = append(r.devOrder, d.EUI)
}

func (r *memRegistry) addGateway(g database.Gateway) {
	r.gateways[g.EUI] = &g
	r.gwOrder = append(r.gwOrder, g.EUI)
}

func (r *memRegistry) IsDeviceRegistered(_ context.Context, eui string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	_, ok := r.devices[eui]
	return ok, nil
}

func (r *memRegistry) GetDevice(_ context.Context, eui string) (*database.Device, error) {
	if r.err != nil {
		return nil, r.err
	}
	d, ok := r.devices[eui]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *memRegistry) GetGateway(_ context.Context, eui string) (*database.Gateway, error) {
	if r.err != nil {
		return nil, r.err
	}
	g, ok := r.gateways[eui]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (r *memRegistry) ListDevices(_ context.Context) ([]database.Device, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []database.Device
	for _, eui := range r.devOrder {
		out = append(out, *r.devices[eui])
	}
	return out, nil
}

func (r *memRegistry) ListGateways(_ context.Context) ([]database.Gateway, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []database.Gateway
	for _, eui := range r.gwOrder {
		out = append(out, *r.gateways[eui])
	}
	return out, nil
}

func (r *memRegistry) DevicesForGateway(_ context.Context, gatewayEUI string) ([]database.Device, error) {
	var out []database.Device
	for _, eui := range r.devOrder {
		if d := r.devices[eui]; d.GatewayEUI == gatewayEUI {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *memRegistry) RegisterDevice(_ context.Context, dev *database.Device) error {
	if _, ok := r.devices[dev.EUI]; ok {
		return nil
	}
	r.addDevice(*dev)
	return nil
}

func (r *memRegistry) SetDeviceAddr(_ context.Context, eui, devAddr string) error {
	d, ok := r.devices[eui]
	if !ok {
		return database.ErrNotFound
	}
	d.DevAddr = devAddr
	return nil
}

func (r *memRegistry) SetDeviceGateway(_ context.Context, eui, gatewayEUI string) error {
	d, ok := r.devices[eui]
	if !ok {
		return database.ErrNotFound
	}
	d.GatewayEUI = gatewayEUI
	return nil
}

func (r *memRegistry) SetGatewayCoordinates(_ context.Context, eui, coordinates string) error {
	g, ok := r.gateways[eui]
	if !ok {
		return database.ErrNotFound
	}
	g.Coordinates = coordinates
	return nil
}

func (r *memRegistry) SetGatewayAddress(_ context.Context, eui, address string) error {
	g, ok := r.gateways[eui]
	if !ok {
		return database.ErrNotFound
	}
	g.Address = address
	return nil
}

type notification struct {
	Name      string
	EUI       string
	Issue     Issue
	Message   string
	Severity  Severity
	IsGateway bool
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []notification
}

func (d *recordingDispatcher) Notify(_ context.Context, name, eui string, issue Issue, message string, severity Severity, isGateway bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, notification{name, eui, issue, message, severity, isGateway})
}

func (d *recordingDispatcher) all() []notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notification(nil), d.sent...)
}

type fakeGeocoder struct {
	address string
	err     error
	calls   int
}

func (g *fakeGeocoder) Resolve(_ context.Context, _, _ float64) (string, error) {
	g.calls++
	return g.address, g.err
}

type fakeSource struct {
	sums    map[string]float64
	avgs    map[string]map[string]float64
	failing map[string]bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		sums:    make(map[string]float64),
		avgs:    make(map[string]map[string]float64),
		failing: make(map[string]bool),
	}
}

func (s *fakeSource) QuerySum(_ context.Context, sel timeseries.Selector, _ string) (float64, error) {
	if s.failing[sel.ID] {
		return 0, errBoom
	}
	return s.sums[sel.ID], nil
}

func (s *fakeSource) QueryAvg(_ context.Context, sel timeseries.Selector, fields ...string) (map[string]*float64, error) {
	if s.failing[sel.ID] {
		return nil, errBoom
	}
	out := make(map[string]*float64, len(fields))
	for _, f := range fields {
		if v, ok := s.avgs[sel.ID][f]; ok {
			v := v
			out[f] = &v
		} else {
			out[f] = nil
		}
	}
	return out, nil
}

type fakeUplinks struct {
	points []timeseries.UplinkPoint
	err    error
}

func (u *fakeUplinks) WriteUplink(_ context.Context, p timeseries.UplinkPoint) error {
	u.points = append(u.points, p)
	return u.err
}

type harness struct {
	devices    *memStore
	gateways   *memStore
	registry   *memRegistry
	dispatcher *recordingDispatcher
	engine     *Engine
}

func newHarness() *harness {
	h := &harness{
		devices:    newMemStore(),
		gateways:   newMemStore(),
		registry:   newMemRegistry(),
		dispatcher: &recordingDispatcher{},
	}
	h.engine = NewEngine(h.devices, h.gateways, h.registry, h.dispatcher, time.Second, zerolog.Nop())
	return h
}
