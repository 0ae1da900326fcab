// Package poller drives per-device acquisition.
//
// A Loop performs one request at a time. The next attempt is armed as a
// one-shot timer only after the previous outcome has been handled, so a
// changed delay (backoff or recovery) applies from the very next attempt
// and requests never overlap.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pv/poleko-monitor-go/internal/logger"
	"github.com/pv/poleko-monitor-go/internal/measurement"
)

const (
	DefaultRefresh        = 2 * time.Second
	DefaultBackoffFloor   = 5 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// ErrAlreadyRunning is returned by Start on a running loop.
var ErrAlreadyRunning = errors.New("polling loop already running")

// Fetcher performs one request against an instrument. Failures are not
// returned: they are recorded in the measurement's header flags.
type Fetcher[T measurement.Measurement] interface {
	Fetch(ctx context.Context, client *http.Client) T
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc[T measurement.Measurement] func(ctx context.Context, client *http.Client) T

func (f FetcherFunc[T]) Fetch(ctx context.Context, client *http.Client) T {
	return f(ctx, client)
}

// Sink receives every measurement together with the state it produced.
// It runs on the loop's goroutine and must not call Stop.
type Sink[T measurement.Measurement] func(m T, state State)

// Options tunes a Loop. Zero values select the defaults.
type Options struct {
	Name           string
	Refresh        time.Duration
	BackoffFloor   time.Duration
	RequestTimeout time.Duration
	Scheduler      Scheduler
	Logger         *slog.Logger

	// OnFault is called once at the start of every error streak.
	OnFault func(state State, h measurement.Header)
}

// Loop polls one instrument.
type Loop[T measurement.Measurement] struct {
	fetcher Fetcher[T]
	client  *http.Client
	sink    Sink[T]
	opts    Options
	log     *slog.Logger

	mu        sync.Mutex
	running   bool
	gen       uint64
	ctx       context.Context
	cancel    context.CancelFunc
	timer     Timer
	state     State
	last      State
	retries   int
	lastDelay time.Duration

	inflight sync.WaitGroup
}

// New creates an idle loop.
func New[T measurement.Measurement](fetcher Fetcher[T], client *http.Client, sink Sink[T], opts Options) *Loop[T] {
	if opts.Refresh <= 0 {
		opts.Refresh = DefaultRefresh
	}
	if opts.BackoffFloor <= 0 {
		opts.BackoffFloor = DefaultBackoffFloor
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Scheduler == nil {
		opts.Scheduler = SystemScheduler
	}
	if client == nil {
		client = &http.Client{Timeout: opts.RequestTimeout}
	}

	log := opts.Logger
	if log == nil {
		log = logger.With("poller")
	}
	if opts.Name != "" {
		log = log.With("device", opts.Name)
	}

	return &Loop[T]{
		fetcher: fetcher,
		client:  client,
		sink:    sink,
		opts:    opts,
		log:     log,
		state:   Idle,
	}
}

// Start schedules an immediate first attempt.
func (l *Loop[T]) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return ErrAlreadyRunning
	}

	l.running = true
	l.gen++
	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.state = Fetching
	l.last = Idle
	l.retries = 0
	l.schedule(l.gen, 0)

	l.log.Info("Polling started", "refresh", l.opts.Refresh)
	return nil
}

// Stop cancels the pending attempt, aborts the request of one already
// running and waits for it. Stopping an idle loop is a no-op.
func (l *Loop[T]) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.cancel()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.state = Stopped
	l.mu.Unlock()

	l.inflight.Wait()
	l.log.Info("Polling stopped")
}

// Running reports whether attempts are being scheduled.
func (l *Loop[T]) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// State returns the current state.
func (l *Loop[T]) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Retries returns the number of network failures since the last success.
func (l *Loop[T]) Retries() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.retries
}

// LastDelay returns the delay the most recent attempt was scheduled with.
func (l *Loop[T]) LastDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastDelay
}

// schedule must be called with l.mu held.
func (l *Loop[T]) schedule(gen uint64, d time.Duration) {
	l.lastDelay = d
	l.timer = l.opts.Scheduler.AfterFunc(d, func() { l.attempt(gen) })
}

func (l *Loop[T]) attempt(gen uint64) {
	l.mu.Lock()
	if !l.running || gen != l.gen {
		l.mu.Unlock()
		return
	}
	l.inflight.Add(1)
	l.state = Fetching
	parent := l.ctx
	l.mu.Unlock()
	defer l.inflight.Done()

	ctx, cancel := context.WithTimeout(parent, l.opts.RequestTimeout)
	m := l.fetcher.Fetch(ctx, l.client)
	cancel()

	h := m.Meta()
	state, delay := l.classify(h)

	l.mu.Lock()
	// A newer run owns the streak and retry state.
	if gen != l.gen {
		l.mu.Unlock()
		return
	}
	// A request aborted by Stop says nothing about the device.
	if h.NetworkError && parent.Err() != nil {
		l.mu.Unlock()
		return
	}
	if l.running {
		l.state = state
	}
	prev := l.last
	l.last = state
	if state == NetworkError {
		l.retries++
	} else if state == Ready {
		l.retries = 0
	}
	retries := l.retries
	l.mu.Unlock()

	switch {
	case state.Faulted() && state != prev:
		l.log.Warn("Device fault", "state", state, "retries", retries, "next", delay)
		if l.opts.OnFault != nil {
			l.opts.OnFault(state, h)
		}
	case state == Ready && prev.Faulted():
		l.log.Info("Device recovered")
	}

	if l.sink != nil {
		l.sink(m, state)
	}

	l.mu.Lock()
	if l.running && gen == l.gen {
		l.schedule(gen, delay)
	}
	l.mu.Unlock()
}

func (l *Loop[T]) classify(h measurement.Header) (State, time.Duration) {
	faultDelay := max(l.opts.Refresh, l.opts.BackoffFloor)
	switch {
	case h.NetworkError:
		return NetworkError, faultDelay
	case h.DeviceError:
		return DeviceError, faultDelay
	default:
		return Ready, l.opts.Refresh
	}
}
