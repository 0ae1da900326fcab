// Package monitor runs registered devices: one Station per device couples
// a polling loop, a measurement buffer and the store.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pv/poleko-monitor-go/internal/buffer"
	"github.com/pv/poleko-monitor-go/internal/device"
	"github.com/pv/poleko-monitor-go/internal/export"
	"github.com/pv/poleko-monitor-go/internal/logger"
	"github.com/pv/poleko-monitor-go/internal/measurement"
	"github.com/pv/poleko-monitor-go/internal/poller"
	"github.com/pv/poleko-monitor-go/internal/schema"
	"github.com/pv/poleko-monitor-go/internal/storage"
)

// DefaultBufferSize is the per-device buffer limit.
const DefaultBufferSize = 300

// Env carries the shared resources a station is built with.
type Env struct {
	Client         *http.Client
	Store          *storage.Store
	BufferSize     int
	RequestTimeout time.Duration
	Scheduler      poller.Scheduler
	Logger         *slog.Logger
	Emit           EventCallback
}

// Unit is the kind-independent handle on a station.
type Unit interface {
	Info() device.Info
	Start() error
	Stop(ctx context.Context) error
	Close(ctx context.Context) error
	Running() bool
	Status() Status
	Window() any
	History(ctx context.Context, from, to time.Time) (any, error)
	Export(ctx context.Context, w io.Writer, f export.Format, from, to time.Time) error
}

// Bindable is a device that knows how to build its own station.
type Bindable interface {
	device.Device
	Bind(env Env) (Unit, error)
}

// Station acquires, buffers and persists the readings of one device.
type Station[T measurement.Measurement] struct {
	dev    device.Device
	info   device.Info
	schema *schema.Schema[T]
	store  *storage.Store
	buf    *buffer.Buffer[T]
	loop   *poller.Loop[T]
	emit   EventCallback
	log    *slog.Logger

	lifecycle sync.Mutex
	closed    bool

	mu         sync.RWMutex
	last       *T
	lastUpdate time.Time
	lastError  string
	persisted  int64
	skipped    int64
}

// NewStation builds an idle station for dev.
func NewStation[T measurement.Measurement](dev device.Device, fetcher poller.Fetcher[T], sc *schema.Schema[T], env Env) (*Station[T], error) {
	if env.Store == nil {
		return nil, errors.New("station requires a store")
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if env.BufferSize <= 0 {
		env.BufferSize = DefaultBufferSize
	}
	if env.Logger == nil {
		env.Logger = logger.With("monitor")
	}

	info := dev.Info()
	buf, err := buffer.New[T](env.BufferSize)
	if err != nil {
		return nil, err
	}

	s := &Station[T]{
		dev:    dev,
		info:   info,
		schema: sc,
		store:  env.Store,
		buf:    buf,
		emit:   env.Emit,
		log:    env.Logger.With("device", info.Name()),
	}

	buf.Subscribe(func(ev buffer.Event[T]) {
		if ev.Kind == buffer.Overflow {
			s.flush(context.Background(), ev.Batch)
		}
	})

	s.loop = poller.New(fetcher, env.Client, s.record, poller.Options{
		Name:           info.Name(),
		Refresh:        dev.RefreshInterval(),
		RequestTimeout: env.RequestTimeout,
		Scheduler:      env.Scheduler,
		Logger:         env.Logger,
		OnFault:        s.fault,
	})

	return s, nil
}

// Info returns the device description.
func (s *Station[T]) Info() device.Info { return s.info }

// Start begins polling with an empty buffer.
func (s *Station[T]) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.closed {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, s.info.Endpoint)
	}
	if s.loop.Running() {
		return poller.ErrAlreadyRunning
	}
	s.buf.Clear()
	return s.loop.Start()
}

// Stop halts polling and persists the readings no overflow has carried yet.
func (s *Station[T]) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.loop.Running() {
		return nil
	}
	s.loop.Stop()
	return s.flush(ctx, s.buf.Pending())
}

// Close stops the station for good. Later Start calls fail with
// ErrUnknownDevice.
func (s *Station[T]) Close(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.closed = true
	if !s.loop.Running() {
		return nil
	}
	s.loop.Stop()
	return s.flush(ctx, s.buf.Pending())
}

// Running reports whether the loop is active.
func (s *Station[T]) Running() bool { return s.loop.Running() }

// Window returns the buffered readings, oldest first.
func (s *Station[T]) Window() any { return s.buf.Window() }

// History returns persisted readings in [from, to].
func (s *Station[T]) History(ctx context.Context, from, to time.Time) (any, error) {
	items, err := storage.QueryRange(ctx, s.store, s.schema, s.info.Endpoint, from, to)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// Export writes persisted readings in [from, to] to w.
func (s *Station[T]) Export(ctx context.Context, w io.Writer, f export.Format, from, to time.Time) error {
	items, err := storage.QueryRange(ctx, s.store, s.schema, s.info.Endpoint, from, to)
	if err != nil {
		return err
	}
	return export.Write(w, f, s.schema, s.info.Endpoint.String(), items)
}

// Status returns a snapshot of the station.
func (s *Station[T]) Status() Status {
	st := Status{
		Endpoint:    s.info.Endpoint.String(),
		IP:          s.info.Endpoint.IP.String(),
		Port:        s.info.Endpoint.Port,
		Label:       s.info.Label,
		Kind:        s.info.Kind,
		Running:     s.loop.Running(),
		State:       s.loop.State(),
		Retries:     s.loop.Retries(),
		Refresh:     s.dev.RefreshInterval().String(),
		Buffered:    s.buf.Size(),
		BufferLimit: s.buf.Limit(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	st.Persisted = s.persisted
	st.Skipped = s.skipped
	st.LastUpdate = s.lastUpdate
	st.LastError = s.lastError
	if s.last != nil {
		st.LastReading = *s.last
	}
	return st
}

func (s *Station[T]) record(m T, state poller.State) {
	s.mu.Lock()
	s.last = &m
	s.lastUpdate = m.Meta().Timestamp
	s.mu.Unlock()

	s.buf.Add(m)
	s.publish(Reading, state, m)
}

func (s *Station[T]) fault(state poller.State, h measurement.Header) {
	s.publish(DeviceFault, state, h)
}

func (s *Station[T]) publish(typ EventType, state poller.State, data any) {
	if s.emit == nil {
		return
	}
	s.emit(Event{
		Type:      typ,
		Device:    s.info,
		State:     state,
		Data:      data,
		Timestamp: time.Now(),
	})
}

func (s *Station[T]) flush(ctx context.Context, batch []T) error {
	if len(batch) == 0 {
		return nil
	}

	res, err := storage.InsertMeasurements(ctx, s.store, s.schema, s.info.Endpoint, batch)

	s.mu.Lock()
	s.persisted += int64(res.Inserted)
	s.skipped += int64(res.Skipped)
	if err != nil {
		s.lastError = err.Error()
	} else if res.Skipped > 0 {
		s.lastError = fmt.Sprintf("%d rows not persisted", res.Skipped)
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("Flush failed", "rows", len(batch), "error", err)
		return fmt.Errorf("flush %s: %w", s.info.Name(), err)
	}
	s.log.Debug("Flushed readings", "inserted", res.Inserted, "skipped", res.Skipped)
	return nil
}
