// Package manager is the single entry point for port and session
// operations. Every open passes the blacklist first, including the reopen
// attempts of a reconnecting port, and every failure leaves it carrying an
// apperr code.
package manager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	serial "github.com/allbin/uart-mcp"
	"github.com/allbin/uart-mcp/internal/apperr"
	"github.com/allbin/uart-mcp/internal/blacklist"
	"github.com/allbin/uart-mcp/internal/config"
	"github.com/allbin/uart-mcp/internal/handle"
	"github.com/allbin/uart-mcp/internal/session"
)

// IdleGap ends a read of "everything available" once the device has been
// quiet this long after the first bytes arrived.
const IdleGap = 10 * time.Millisecond

const readChunk = 4096

// Lister enumerates the serial ports of the system.
type Lister func() ([]serial.PortInfo, error)

// Status is the state of one open port.
type Status struct {
	handle.Status
	Sessions int
}

// ReadResult is the outcome of ReadData.
type ReadResult struct {
	Data     []byte
	TimedOut bool
}

// WriteResult is the outcome of SendData.
type WriteResult struct {
	Written  int
	TimedOut bool
}

// Manager owns every open port of the process.
type Manager struct {
	blacklist *blacklist.Manager
	store     *config.Store
	sessions  *session.Manager
	open      handle.Opener
	list      Lister
	log       zerolog.Logger

	mu      sync.Mutex
	handles map[string]*handle.Handle
	locks   map[string]*sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithOpener replaces the device opener.
func WithOpener(open handle.Opener) Option {
	return func(m *Manager) {
		m.open = open
	}
}

// WithLister replaces the port enumerator.
func WithLister(list Lister) Option {
	return func(m *Manager) {
		m.list = list
	}
}

// WithLogger sets the logger for the manager, its handles and sessions.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// New returns a Manager gated by bl and configured from store.
func New(bl *blacklist.Manager, store *config.Store, opts ...Option) *Manager {
	m := &Manager{
		blacklist: bl,
		store:     store,
		open:      handle.DeviceOpener,
		list:      serial.ListPortInfo,
		log:       zerolog.Nop(),
		handles:   make(map[string]*handle.Handle),
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.sessions = session.NewManager(m.resolve, session.WithLogger(m.log))
	return m
}

// ListPorts returns the ports of the system that are not blacklisted.
func (m *Manager) ListPorts() ([]serial.PortInfo, error) {
	ports, err := m.list()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "", err)
	}
	return slices.DeleteFunc(ports, func(p serial.PortInfo) bool {
		return m.blacklist.IsBlocked(p.Path)
	}), nil
}

// OpenPort opens id with delta applied over the global defaults. Opening a
// port that is already open returns its status unchanged.
func (m *Manager) OpenPort(id string, delta config.Delta) (Status, error) {
	if err := m.blacklist.Check(id); err != nil {
		m.log.Warn().Str("port", id).Err(err).Msg("open refused")
		return Status{}, err
	}

	lock := m.portLock(id)
	lock.Lock()
	defer lock.Unlock()

	if h := m.lookup(id); h != nil && h.State() != handle.Closed {
		return m.status(h), nil
	}

	settings, err := m.store.Resolve(delta)
	if err != nil {
		return Status{}, err
	}

	var h *handle.Handle
	h = handle.New(id, m.open, settings,
		handle.WithGate(m.blacklist.Check),
		handle.WithLogger(m.log),
		handle.WithOnClosed(func(id string, cause error) {
			m.release(h, cause)
		}),
	)
	if err := h.Open(); err != nil {
		m.log.Warn().Str("port", id).Err(err).Msg("open failed")
		return Status{}, err
	}
	if err := m.register(h, settings); err != nil {
		m.log.Warn().Str("port", id).Err(err).Msg("device lost while opening")
		return Status{}, err
	}

	m.log.Info().Str("port", id).Str("config", settings.Config.String()).
		Bool("reconnect", settings.Reconnect.Enabled).Msg("port opened")
	return m.status(h), nil
}

// ClosePort closes the sessions of id and then the port itself.
func (m *Manager) ClosePort(id string) error {
	lock := m.portLock(id)
	lock.Lock()
	defer lock.Unlock()

	h := m.lookup(id)
	if h == nil {
		return notOpen(id)
	}
	m.sessions.CloseForPort(id)
	if err := h.Close(); err != nil {
		return err
	}
	h.Wait()
	m.log.Info().Str("port", id).Msg("port closed")
	return nil
}

// SetConfig applies delta to an open port without closing it. On success
// the device runs with the returned settings; on failure nothing changed.
func (m *Manager) SetConfig(id string, delta config.Delta) (Status, error) {
	h := m.lookup(id)
	if h == nil {
		return Status{}, notOpen(id)
	}
	prev, _ := m.store.Port(id)
	next, err := m.store.Apply(id, delta, h)
	if err != nil {
		return Status{}, err
	}
	m.log.Info().Str("port", id).Bool("serial", delta.TouchesSerial()).
		Str("from", prev.Config.String()).Str("to", next.Config.String()).
		Bool("reconnect", next.Reconnect.Enabled).Msg("port reconfigured")
	return m.status(h), nil
}

// GetStatus returns the status of an open port.
func (m *Manager) GetStatus(id string) (Status, error) {
	h := m.lookup(id)
	if h == nil {
		return Status{}, notOpen(id)
	}
	return m.status(h), nil
}

// Statuses returns the status of every open port, ordered by identifier.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	all := make([]*handle.Handle, 0, len(m.handles))
	for _, h := range m.handles {
		all = append(all, h)
	}
	m.mu.Unlock()

	statuses := make([]Status, 0, len(all))
	for _, h := range all {
		statuses = append(statuses, m.status(h))
	}
	slices.SortFunc(statuses, func(a, b Status) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return statuses
}

// SendData writes data to id. A write timeout is not an error: the result
// reports how much was written.
func (m *Manager) SendData(ctx context.Context, id string, data []byte) (WriteResult, error) {
	h := m.lookup(id)
	if h == nil {
		return WriteResult{}, notOpen(id)
	}

	n, err := h.Write(ctx, data)
	switch {
	case err == nil:
		return WriteResult{Written: n}, nil
	case errors.Is(err, serial.ErrWriteTimeout):
		m.log.Debug().Str("port", id).Int("written", n).Int("size", len(data)).Msg("write timed out")
		return WriteResult{Written: n, TimedOut: true}, nil
	case apperr.KindOf(err) == apperr.KindInternal:
		return WriteResult{Written: n}, &apperr.Error{Kind: apperr.KindWriteFailed, Subject: id, Err: err}
	}
	return WriteResult{Written: n}, err
}

// ReadData reads from id, waiting up to timeout for data, or the port's
// read timeout when timeout is zero. With maxBytes > 0 it returns once that
// many bytes arrived; with zero it returns whatever arrived before the line
// went quiet. Running out of time is not an error.
func (m *Manager) ReadData(ctx context.Context, id string, maxBytes int, timeout time.Duration) (ReadResult, error) {
	if maxBytes < 0 {
		return ReadResult{}, &apperr.Error{Kind: apperr.KindInvalidConfig, Subject: id, Field: "max_bytes",
			Message: "max_bytes must not be negative"}
	}
	if timeout < 0 || timeout > serial.MaxTimeout {
		return ReadResult{}, &apperr.Error{Kind: apperr.KindInvalidConfig, Subject: id, Field: "timeout_ms",
			Message: fmt.Sprintf("timeout_ms must be between 0 and %d", serial.MaxTimeout.Milliseconds())}
	}
	h := m.lookup(id)
	if h == nil {
		return ReadResult{}, notOpen(id)
	}
	if timeout == 0 {
		timeout = h.Status().Config.ReadTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out []byte
	buf := make([]byte, readChunk)
	for {
		want := len(buf)
		if maxBytes > 0 {
			want = min(want, maxBytes-len(out))
		}

		rctx, rcancel := ctx, context.CancelFunc(func() {})
		if maxBytes == 0 && len(out) > 0 {
			rctx, rcancel = context.WithTimeout(ctx, IdleGap)
		}
		n, err := h.Read(rctx, buf[:want])
		rcancel()

		out = append(out, buf[:n]...)
		m.sessions.Deliver(id, buf[:n])
		if maxBytes > 0 && len(out) >= maxBytes {
			return ReadResult{Data: out}, nil
		}
		if err != nil {
			if errors.Is(err, serial.ErrReadTimeout) {
				return ReadResult{Data: out, TimedOut: len(out) == 0 || maxBytes > 0}, nil
			}
			return ReadResult{Data: out}, err
		}
	}
}

// CreateSession opens a terminal session on an open port.
func (m *Manager) CreateSession(id string, opts session.Options) (session.Info, error) {
	return m.sessions.Create(id, opts)
}

// CloseSession closes one session.
func (m *Manager) CloseSession(sessionID string) error {
	return m.sessions.Close(sessionID)
}

// SendCommand writes a command line through a session.
func (m *Manager) SendCommand(ctx context.Context, sessionID, text string) (int, error) {
	return m.sessions.SendCommand(ctx, sessionID, text)
}

// ReadOutput drains, or with peek copies, a session's output.
func (m *Manager) ReadOutput(ctx context.Context, sessionID string, peek bool) (session.Output, error) {
	return m.sessions.ReadOutput(ctx, sessionID, peek)
}

// ListSessions describes every session.
func (m *Manager) ListSessions() []session.Info {
	return m.sessions.List()
}

// SessionInfo describes one session.
func (m *Manager) SessionInfo(sessionID string) (session.Info, error) {
	return m.sessions.Info(sessionID)
}

// ClearBuffer empties a session's buffer.
func (m *Manager) ClearBuffer(sessionID string) error {
	return m.sessions.ClearBuffer(sessionID)
}

// Shutdown closes every session and port and waits for their supervisors.
func (m *Manager) Shutdown() {
	m.sessions.CloseAll()

	m.mu.Lock()
	all := make([]*handle.Handle, 0, len(m.handles))
	for _, h := range m.handles {
		all = append(all, h)
	}
	m.mu.Unlock()

	for _, h := range all {
		if err := h.Close(); err != nil && !errors.Is(err, apperr.ErrPortNotOpen) {
			m.log.Error().Err(err).Str("port", h.ID()).Msg("failed to close port")
		}
		h.Wait()
	}
	m.log.Info().Int("ports", len(all)).Msg("manager shut down")
}

// register makes an opened handle visible. A handle that already lost its
// device is refused with the cause of the loss.
func (m *Manager) register(h *handle.Handle, settings config.PortSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st := h.Status(); st.State == handle.Closed {
		return &apperr.Error{
			Kind:    apperr.KindDeviceDisconnected,
			Subject: h.ID(),
			Message: "device lost while opening",
			Err:     st.LastError,
		}
	}
	m.handles[h.ID()] = h
	m.store.Track(h.ID(), settings)
	return nil
}

// release forgets a handle that reached Closed by any path. The sessions
// of a port that was reopened under a newer handle are left alone.
func (m *Manager) release(h *handle.Handle, cause error) {
	m.mu.Lock()
	current := m.handles[h.ID()] == h
	if current {
		delete(m.handles, h.ID())
		m.store.Forget(h.ID())
	}
	m.mu.Unlock()
	if !current {
		return
	}

	closed := m.sessions.CloseForPort(h.ID())
	if cause != nil {
		m.log.Warn().Str("port", h.ID()).Err(cause).Int("sessions_closed", len(closed)).Msg("port closed after device loss")
	}
}

func (m *Manager) resolve(id string) (session.Port, error) {
	h := m.lookup(id)
	if h == nil {
		return nil, notOpen(id)
	}
	return h, nil
}

func (m *Manager) lookup(id string) *handle.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handles[id]
}

func (m *Manager) portLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

func (m *Manager) status(h *handle.Handle) Status {
	return Status{Status: h.Status(), Sessions: m.sessions.Count(h.ID())}
}

func notOpen(id string) error {
	return apperr.New(apperr.KindPortNotOpen, id, "port is not open")
}
