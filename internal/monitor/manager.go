package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pv/poleko-monitor-go/internal/device"
	"github.com/pv/poleko-monitor-go/internal/logger"
	"github.com/pv/poleko-monitor-go/internal/storage"
)

var (
	ErrDeviceExists  = errors.New("device already registered")
	ErrUnknownDevice = errors.New("device not registered")
	ErrNotBindable   = errors.New("device kind cannot be monitored")
)

// Manager is the endpoint-keyed registry of stations.
type Manager struct {
	store   *storage.Store
	catalog *device.Catalog
	env     Env
	log     *slog.Logger

	mu    sync.RWMutex
	units map[device.Endpoint]Unit

	cbMu    sync.RWMutex
	onEvent EventCallback
}

// NewManager creates an empty registry. env is the template every station
// is built from; its Store and Emit are set by the manager.
func NewManager(store *storage.Store, catalog *device.Catalog, env Env) *Manager {
	if env.Logger == nil {
		env.Logger = logger.With("monitor")
	}

	m := &Manager{
		store:   store,
		catalog: catalog,
		log:     env.Logger,
		units:   make(map[device.Endpoint]Unit),
	}
	env.Store = store
	env.Emit = m.emit
	m.env = env
	return m
}

// SetEventCallback installs the event consumer.
func (m *Manager) SetEventCallback(cb EventCallback) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onEvent = cb
}

func (m *Manager) emit(ev Event) {
	m.cbMu.RLock()
	cb := m.onEvent
	m.cbMu.RUnlock()
	if cb != nil {
		cb(ev)
	}
}

// Create builds a device of info.Kind through the catalog and adds it.
func (m *Manager) Create(ctx context.Context, info device.Info) (Unit, error) {
	dev, err := m.catalog.Build(info)
	if err != nil {
		return nil, err
	}
	return m.Add(ctx, dev)
}

// Add persists dev and registers an idle station for it.
func (m *Manager) Add(ctx context.Context, dev device.Device) (Unit, error) {
	info := dev.Info()

	m.mu.Lock()
	if _, ok := m.units[info.Endpoint]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDeviceExists, info.Endpoint)
	}

	u, err := m.bind(dev)
	if err == nil {
		err = m.store.SaveDevice(ctx, info)
	}
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.units[info.Endpoint] = u
	m.mu.Unlock()

	m.log.Info("Device added", "device", info.Name())
	m.emit(Event{Type: DeviceAdded, Device: info, Timestamp: time.Now()})
	return u, nil
}

func (m *Manager) bind(dev device.Device) (Unit, error) {
	b, ok := dev.(Bindable)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotBindable, dev.Info().Kind)
	}
	u, err := b.Bind(m.env)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", dev.Info().Name(), err)
	}
	return u, nil
}

// Remove drops the device from the registry, closes its station and
// deletes it and its measurements from the store. If the store refuses the
// delete, a fresh idle station is registered again.
func (m *Manager) Remove(ctx context.Context, ep device.Endpoint) error {
	m.mu.Lock()
	u, ok := m.units[ep]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDevice, ep)
	}
	delete(m.units, ep)
	m.mu.Unlock()

	info := u.Info()
	if err := u.Close(ctx); err != nil {
		m.log.Warn("Final flush failed before removal", "device", info.Name(), "error", err)
	}

	if err := m.store.RemoveDevice(ctx, info); err != nil && !errors.Is(err, storage.ErrDeviceNotFound) {
		m.restore(info)
		return err
	}

	m.log.Info("Device removed", "device", info.Name())
	m.emit(Event{Type: DeviceRemoved, Device: info, Timestamp: time.Now()})
	return nil
}

func (m *Manager) restore(info device.Info) {
	dev, err := m.catalog.Build(info)
	if err == nil {
		var u Unit
		if u, err = m.bind(dev); err == nil {
			m.mu.Lock()
			if _, ok := m.units[info.Endpoint]; !ok {
				m.units[info.Endpoint] = u
			}
			m.mu.Unlock()
			return
		}
	}
	m.log.Error("Failed to restore device after a failed removal", "device", info.Name(), "error", err)
}

// Load registers every stored device. Rows the catalog cannot rebuild, and
// devices that are already registered, are reported in Skipped.
func (m *Manager) Load(ctx context.Context) (storage.LoadResult, error) {
	res, err := m.store.LoadDevices(ctx, m.catalog)
	if err != nil {
		return res, err
	}

	loaded := res.Devices[:0]
	m.mu.Lock()
	for _, dev := range res.Devices {
		info := dev.Info()
		if _, ok := m.units[info.Endpoint]; ok {
			res.Skipped = append(res.Skipped, fmt.Errorf("%w: %s", ErrDeviceExists, info.Endpoint))
			continue
		}
		u, err := m.bind(dev)
		if err != nil {
			m.log.Warn("Skipping stored device", "device", info.Name(), "error", err)
			res.Skipped = append(res.Skipped, err)
			continue
		}
		m.units[info.Endpoint] = u
		loaded = append(loaded, dev)
	}
	m.mu.Unlock()

	res.Devices = loaded
	for _, dev := range loaded {
		m.emit(Event{Type: DeviceAdded, Device: dev.Info(), Timestamp: time.Now()})
	}
	m.log.Info("Devices loaded", "count", len(loaded), "skipped", len(res.Skipped))
	return res, nil
}

// Get returns the station registered for ep.
func (m *Manager) Get(ep device.Endpoint) (Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.units[ep]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, ep)
	}
	return u, nil
}

// Start starts polling ep.
func (m *Manager) Start(ep device.Endpoint) error {
	u, err := m.Get(ep)
	if err != nil {
		return err
	}
	return u.Start()
}

// Stop stops polling ep and flushes its pending readings.
func (m *Manager) Stop(ctx context.Context, ep device.Endpoint) error {
	u, err := m.Get(ep)
	if err != nil {
		return err
	}
	return u.Stop(ctx)
}

// StartAll starts every idle station.
func (m *Manager) StartAll() error {
	var errs []error
	for _, u := range m.list() {
		if u.Running() {
			continue
		}
		if err := u.Start(); err != nil {
			errs = append(errs, fmt.Errorf("start %s: %w", u.Info().Name(), err))
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every station in parallel and returns the first failure.
func (m *Manager) StopAll(ctx context.Context) error {
	var g errgroup.Group
	for _, u := range m.list() {
		g.Go(func() error {
			if err := u.Stop(ctx); err != nil {
				m.log.Error("Stop failed", "device", u.Info().Name(), "error", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Status returns a snapshot of every station, ordered by endpoint.
func (m *Manager) Status() []Status {
	units := m.list()
	out := make([]Status, 0, len(units))
	for _, u := range units {
		out = append(out, u.Status())
	}
	return out
}

// Len returns the number of registered devices.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.units)
}

// Prune removes measurements older than the cutoff from every kind's table.
func (m *Manager) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	var (
		total int64
		errs  []error
	)
	for _, t := range m.catalog.Tables() {
		n, err := m.store.Prune(ctx, t, olderThan)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		total += n
	}
	return total, errors.Join(errs...)
}

func (m *Manager) list() []Unit {
	m.mu.RLock()
	out := make([]Unit, 0, len(m.units))
	for _, u := range m.units {
		out = append(out, u)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Info().Endpoint, out[j].Info().Endpoint
		if c := a.IP.Compare(b.IP); c != 0 {
			return c < 0
		}
		return a.Port < b.Port
	})
	return out
}
