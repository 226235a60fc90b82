// Package handle owns one serial device per identifier and tracks its
// connection state:
//
//	Closed -> Opening -> Open -> Degraded -> Reconnecting -> Open | Closed
//
// Every state change happens under the handle's mutex. Device I/O runs
// outside it so a read and a write can proceed together and Close can
// interrupt both.
package handle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	serial "github.com/allbin/uart-mcp"
	"github.com/allbin/uart-mcp/internal/apperr"
	"github.com/allbin/uart-mcp/internal/config"
	"github.com/allbin/uart-mcp/internal/metrics"
)

// Opener acquires the device named id with cfg.
type Opener func(id string, cfg serial.Config) (serial.Port, error)

// DeviceOpener opens real devices through the serial package.
func DeviceOpener(id string, cfg serial.Config) (serial.Port, error) {
	return serial.Open(id, serial.WithConfig(cfg))
}

// Gate is consulted before every open attempt, including reconnects. A
// non-nil error vetoes the attempt.
type Gate func(id string) error

// Status is a point-in-time view of a Handle.
type Status struct {
	ID        string
	State     State
	Config    serial.Config
	Reconnect config.ReconnectPolicy
	LastError error
	Since     time.Time
	Attempts  int
}

// Handle owns at most one open device for an identifier. A Handle is used
// once: after it reaches Closed it cannot be reopened.
type Handle struct {
	id       string
	open     Opener
	gate     Gate
	log      zerolog.Logger
	onClosed func(id string, cause error)
	onState  func(id string, from, to State)

	mu          sync.Mutex
	state       State
	cfg         serial.Config
	policy      config.ReconnectPolicy
	port        serial.Port
	lastErr     error
	since       time.Time
	attempts    int
	used        bool
	supervising bool
	hooks       []func()

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Handle.
type Option func(*Handle)

// WithGate sets the check run before every open attempt.
func WithGate(gate Gate) Option {
	return func(h *Handle) {
		h.gate = gate
	}
}

// WithLogger sets the handle's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(h *Handle) {
		h.log = log
	}
}

// WithOnClosed registers fn to run once when a handle that was open reaches
// Closed, whatever the path. cause is nil for an explicit Close.
func WithOnClosed(fn func(id string, cause error)) Option {
	return func(h *Handle) {
		h.onClosed = fn
	}
}

// WithStateHook registers fn to run after every state transition.
func WithStateHook(fn func(id string, from, to State)) Option {
	return func(h *Handle) {
		h.onState = fn
	}
}

// New returns a Closed handle for id that will open with settings.
func New(id string, open Opener, settings config.PortSettings, opts ...Option) *Handle {
	h := &Handle{
		id:     id,
		open:   open,
		gate:   func(string) error { return nil },
		log:    zerolog.Nop(),
		cfg:    settings.Config,
		policy: settings.Reconnect,
		since:  time.Now(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With().Str("port", id).Logger()
	return h
}

// ID returns the port identifier.
func (h *Handle) ID() string {
	return h.id
}

// Done is closed when the handle reaches Closed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Open acquires the device. On failure the handle is Closed and the error
// is classified; initial failures are never retried.
func (h *Handle) Open() error {
	h.mu.Lock()
	defer h.unlock()

	if h.used {
		return apperr.New(apperr.KindPortOpenFailed, h.id, "handle already used")
	}
	h.used = true
	h.setState(Opening)

	if err := h.gate(h.id); err != nil {
		h.lastErr = err
		h.finishLocked(nil, false)
		metrics.RecordPortOpen(apperr.KindOf(err).String())
		return err
	}

	port, err := h.open(h.id, h.cfg)
	if err != nil {
		err = classifyOpenError(h.id, err)
		h.lastErr = err
		h.finishLocked(nil, false)
		metrics.RecordPortOpen(apperr.KindOf(err).String())
		return err
	}

	h.port = port
	h.lastErr = nil
	h.setState(Open)
	metrics.RecordPortOpen("ok")
	if h.policy.Enabled {
		h.superviseLocked()
	}
	return nil
}

// Close releases the device from any state and stops the supervisor. A
// pending reconnect wait and any blocked read or write return at once. If
// the device cannot be released the error is reported but the handle is
// Closed regardless.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.unlock()

	if h.state == Closed {
		return apperr.New(apperr.KindPortNotOpen, h.id, "port is not open")
	}
	if err := h.releaseLocked(); err != nil {
		h.finishLocked(nil, true)
		return apperr.Wrap(apperr.KindInternal, h.id, err)
	}
	h.finishLocked(nil, true)
	return nil
}

// Reconfigure applies cfg to the open device and installs policy. Serial
// parameters can only change while Open; the reconnect policy can change in
// any live state. On error nothing changes.
func (h *Handle) Reconfigure(cfg serial.Config, policy config.ReconnectPolicy) error {
	h.mu.Lock()
	defer h.unlock()

	if !h.state.Live() {
		return apperr.New(apperr.KindPortNotOpen, h.id, "port is not open")
	}
	if cfg != h.cfg {
		if h.state != Open {
			return apperr.New(apperr.KindDeviceDisconnected, h.id,
				"cannot change serial parameters while %s", h.state)
		}
		if err := h.port.Reconfigure(cfg); err != nil {
			if errors.Is(err, serial.ErrDisconnected) {
				h.lostLocked(h.port, err)
				return apperr.Wrap(apperr.KindDeviceDisconnected, h.id, err)
			}
			if errors.Is(err, serial.ErrInvalidConfig) {
				return &apperr.Error{Kind: apperr.KindInvalidConfig, Subject: h.id, Err: err}
			}
			return apperr.Wrap(apperr.KindInternal, h.id, err)
		}
		h.log.Info().Str("config", cfg.String()).Msg("reconfigured")
		h.cfg = cfg
	}
	h.setPolicyLocked(policy)
	return nil
}

// Status returns a snapshot of the handle.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Status{
		ID:        h.id,
		State:     h.state,
		Config:    h.cfg,
		Reconnect: h.policy,
		LastError: h.lastErr,
		Since:     h.since,
		Attempts:  h.attempts,
	}
}

// State returns the current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Read reads whatever the device has, waiting up to the configured read
// timeout or the ctx deadline. A timeout returns serial.ErrReadTimeout and
// leaves the state alone; device loss moves the handle to Degraded.
func (h *Handle) Read(ctx context.Context, buf []byte) (int, error) {
	port, err := h.livePort()
	if err != nil {
		return 0, err
	}
	n, err := port.ReadContext(ctx, buf)
	metrics.RecordBytesRead(n)
	return n, h.ioError(port, err)
}

// Write writes data, waiting up to the configured write timeout or the ctx
// deadline. A timeout returns the partial count with serial.ErrWriteTimeout.
func (h *Handle) Write(ctx context.Context, data []byte) (int, error) {
	port, err := h.livePort()
	if err != nil {
		return 0, err
	}
	n, err := port.WriteContext(ctx, data)
	metrics.RecordBytesWritten(n)
	return n, h.ioError(port, err)
}

// Wait blocks until the supervisor goroutine, if any, has exited.
func (h *Handle) Wait() {
	h.wg.Wait()
}

func (h *Handle) livePort() (serial.Port, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case Open:
		return h.port, nil
	case Degraded, Reconnecting:
		return nil, &apperr.Error{
			Kind:    apperr.KindDeviceDisconnected,
			Subject: h.id,
			Message: "device disconnected, waiting to reconnect",
			Err:     h.lastErr,
		}
	default:
		return nil, apperr.New(apperr.KindPortNotOpen, h.id, "port is not open")
	}
}

func (h *Handle) ioError(port serial.Port, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, serial.ErrReadTimeout), errors.Is(err, serial.ErrWriteTimeout):
		return err
	case errors.Is(err, serial.ErrDisconnected):
		h.lost(port, err)
		return apperr.Wrap(apperr.KindDeviceDisconnected, h.id, err)
	case errors.Is(err, serial.ErrPortClosed):
		return apperr.New(apperr.KindPortNotOpen, h.id, "port closed during I/O")
	case errors.Is(err, context.Canceled):
		return err
	}
	return apperr.Wrap(apperr.KindInternal, h.id, err)
}

// lost records device loss observed on port.
func (h *Handle) lost(port serial.Port, cause error) {
	h.mu.Lock()
	defer h.unlock()
	h.lostLocked(port, cause)
}

// lostLocked moves Open to Degraded. Without a reconnect policy the handle
// closes and its sessions go with it. Stale reports about a port the handle
// no longer owns are ignored.
func (h *Handle) lostLocked(port serial.Port, cause error) {
	if h.state != Open || h.port != port {
		return
	}
	h.lastErr = cause
	h.setState(Degraded)
	h.log.Warn().Err(cause).Msg("device lost")

	if h.policy.Enabled {
		h.superviseLocked()
		h.nudge()
		return
	}
	_ = h.releaseLocked()
	h.finishLocked(cause, true)
}

func (h *Handle) setPolicyLocked(policy config.ReconnectPolicy) {
	h.policy = policy
	switch {
	case policy.Enabled:
		h.superviseLocked()
		h.nudge()
	case h.state == Degraded || h.state == Reconnecting:
		h.log.Info().Msg("reconnect disabled while disconnected, closing")
		_ = h.releaseLocked()
		h.finishLocked(h.lastErr, true)
	}
}

// releaseLocked closes the device, if any.
func (h *Handle) releaseLocked() error {
	port := h.port
	h.port = nil
	if port == nil {
		return nil
	}
	if err := port.Close(); err != nil && !errors.Is(err, serial.ErrPortClosed) {
		h.log.Error().Err(err).Msg("failed to release device")
		return err
	}
	return nil
}

// finishLocked moves to Closed and stops the supervisor. notify queues the
// onClosed hook.
func (h *Handle) finishLocked(cause error, notify bool) {
	h.setState(Closed)
	select {
	case <-h.done:
	default:
		close(h.done)
	}
	if notify && h.onClosed != nil {
		fn := h.onClosed
		h.hooks = append(h.hooks, func() { fn(h.id, cause) })
	}
}

func (h *Handle) setState(to State) {
	from := h.state
	if from == to {
		return
	}
	h.state = to
	h.since = time.Now()
	h.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("state change")
	metrics.RecordTransition(to.String())
	if h.onState != nil {
		fn := h.onState
		h.hooks = append(h.hooks, func() { fn(h.id, from, to) })
	}
}

// unlock releases mu and then runs hooks queued while it was held.
func (h *Handle) unlock() {
	hooks := h.hooks
	h.hooks = nil
	h.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func classifyOpenError(id string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	switch {
	case errors.Is(err, serial.ErrDeviceNotFound):
		return apperr.Wrap(apperr.KindPortNotFound, id, err)
	case errors.Is(err, serial.ErrDeviceInUse):
		return apperr.Wrap(apperr.KindPortBusy, id, err)
	case errors.Is(err, serial.ErrPermissionDenied):
		return apperr.Wrap(apperr.KindPermissionDenied, id, err)
	case errors.Is(err, serial.ErrInvalidConfig):
		return &apperr.Error{Kind: apperr.KindInvalidConfig, Subject: id, Err: err}
	}
	return apperr.Wrap(apperr.KindPortOpenFailed, id, err)
}
