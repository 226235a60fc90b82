// Package session layers line-oriented terminal sessions over open ports.
// Sessions are passive buffers. One reader per port with sessions moves
// device output into all of them, so nothing runs per session.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	serial "github.com/allbin/uart-mcp"
	"github.com/allbin/uart-mcp/internal/apperr"
	"github.com/allbin/uart-mcp/internal/handle"
	"github.com/allbin/uart-mcp/internal/metrics"
)

// DefaultPumpWindow bounds one pass of a port reader, and how long it
// waits before retrying a port that cannot be read.
const DefaultPumpWindow = 20 * time.Millisecond

const pumpChunk = 4096

// Port is the part of a port handle sessions use.
type Port interface {
	ID() string
	State() handle.State
	Read(ctx context.Context, buf []byte) (int, error)
	Write(ctx context.Context, data []byte) (int, error)
}

// Resolver returns the open port named id.
type Resolver func(id string) (Port, error)

// Output is the result of ReadOutput.
type Output struct {
	Data      []byte
	Truncated bool
	Dropped   int64
	Remaining int
}

// Manager owns every session of the process.
type Manager struct {
	resolve Resolver
	window  time.Duration
	log     zerolog.Logger
	seq     atomic.Uint64

	mu       sync.Mutex
	sessions map[string]*Session
	readers  map[string]*reader
}

// reader feeds the sessions of one port. lock serializes its passes with
// those of ReadOutput so output keeps its order.
type reader struct {
	lock   sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// WithPumpWindow sets the length of one reader pass.
func WithPumpWindow(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.window = d
	}
}

// NewManager returns a Manager resolving ports through resolve.
func NewManager(resolve Resolver, opts ...ManagerOption) *Manager {
	m := &Manager{
		resolve:  resolve,
		window:   DefaultPumpWindow,
		log:      zerolog.Nop(),
		sessions: make(map[string]*Session),
		readers:  make(map[string]*reader),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a session on portID. The port must be Open or Reconnecting.
func (m *Manager) Create(portID string, opts Options) (Info, error) {
	if err := opts.validate(); err != nil {
		return Info{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	port, err := m.resolve(portID)
	if err != nil {
		return Info{}, notOpen(portID, err)
	}
	if st := port.State(); st != handle.Open && st != handle.Reconnecting {
		return Info{}, apperr.New(apperr.KindSessionPortNotOpen, portID, "port is %s", st)
	}

	id := fmt.Sprintf("session-%d", m.seq.Add(1))
	s := newSession(id, portID, opts)
	m.sessions[id] = s
	if m.readers[portID] == nil {
		m.startLocked(portID)
	}
	metrics.SessionOpened()
	m.log.Info().Str("session", id).Str("port", portID).
		Str("line_ending", opts.LineEnding.String()).Bool("local_echo", opts.LocalEcho).
		Msg("session created")

	info := s.info()
	info.PortState = port.State().String()
	return info, nil
}

// Close removes a session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return notFound(id)
	}
	m.removeLocked(s)
	m.log.Info().Str("session", id).Msg("session closed")
	return nil
}

// CloseForPort removes every session on portID and returns their ids.
func (m *Manager) CloseForPort(portID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var closed []string
	for id, s := range m.sessions {
		if s.port == portID {
			m.removeLocked(s)
			closed = append(closed, id)
		}
	}
	if len(closed) > 0 {
		slices.Sort(closed)
		m.log.Info().Str("port", portID).Strs("sessions", closed).Msg("sessions closed with port")
	}
	return closed
}

// CloseAll removes every session and waits for the port readers to stop.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	var done []chan struct{}
	for _, r := range m.readers {
		done = append(done, r.done)
	}
	for _, s := range m.sessions {
		m.removeLocked(s)
	}
	m.mu.Unlock()

	for _, d := range done {
		<-d
	}
}

// removeLocked drops s and stops its port's reader with the last session.
func (m *Manager) removeLocked(s *Session) {
	delete(m.sessions, s.id)
	metrics.SessionClosed()
	for _, other := range m.sessions {
		if other.port == s.port {
			return
		}
	}
	if r := m.readers[s.port]; r != nil {
		r.cancel()
		delete(m.readers, s.port)
	}
}

// Count returns the number of sessions on portID.
func (m *Manager) Count(portID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.port == portID {
			n++
		}
	}
	return n
}

// SendCommand writes text followed by the session's line ending, unless
// text already ends with it. With local echo the written bytes are also
// appended to the session's buffer.
func (m *Manager) SendCommand(ctx context.Context, id, text string) (int, error) {
	s, err := m.get(id)
	if err != nil {
		return 0, err
	}
	port, err := m.resolve(s.port)
	if err != nil {
		return 0, notOpen(s.port, err)
	}

	data := s.frame(text)
	n, err := port.Write(ctx, data)
	if n > 0 {
		s.sent(data[:n])
	}
	if err != nil {
		if errors.Is(err, serial.ErrWriteTimeout) {
			return n, &apperr.Error{
				Kind:    apperr.KindTimeout,
				Subject: s.port,
				Message: fmt.Sprintf("write timed out after %d of %d bytes", n, len(data)),
				Err:     err,
			}
		}
		return n, err
	}
	m.log.Debug().Str("session", id).Int("bytes", n).Msg("command sent")
	return n, nil
}

// ReadOutput makes one pass over the port so output that just arrived is
// included, and then drains, or with peek copies, this session's buffer.
func (m *Manager) ReadOutput(ctx context.Context, id string, peek bool) (Output, error) {
	s, err := m.get(id)
	if err != nil {
		return Output{}, err
	}
	m.pump(ctx, s.port)

	chunk := s.read(peek)
	out := Output{Data: chunk.Data, Truncated: chunk.Truncated, Dropped: chunk.Dropped}
	if peek {
		out.Remaining = len(chunk.Data)
	}
	return out, nil
}

// ClearBuffer empties a session's buffer. The device is not touched.
func (m *Manager) ClearBuffer(id string) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.clear()
	return nil
}

// Info describes one session.
func (m *Manager) Info(id string) (Info, error) {
	s, err := m.get(id)
	if err != nil {
		return Info{}, err
	}
	return m.describe(s), nil
}

// List describes every session, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(all))
	for _, s := range all {
		infos = append(infos, m.describe(s))
	}
	slices.SortFunc(infos, func(a, b Info) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	})
	return infos
}

func (m *Manager) describe(s *Session) Info {
	info := s.info()
	info.PortState = handle.Closed.String()
	if port, err := m.resolve(s.port); err == nil {
		info.PortState = port.State().String()
	}
	return info
}

func (m *Manager) get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, notFound(id)
	}
	return s, nil
}

// Deliver appends data read from portID outside the session reader to
// every session on that port.
func (m *Manager) Deliver(portID string, data []byte) {
	if len(data) > 0 {
		m.fanOut(portID, data)
	}
}

func (m *Manager) startLocked(portID string) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &reader{cancel: cancel, done: make(chan struct{})}
	m.readers[portID] = r
	go m.run(ctx, portID, r)
}

// run keeps the sessions of portID fed until it is cancelled or the port
// is gone. While the device is away it retries every window.
func (m *Manager) run(ctx context.Context, portID string, r *reader) {
	defer close(r.done)
	m.log.Debug().Str("port", portID).Msg("session reader started")
	defer m.log.Debug().Str("port", portID).Msg("session reader stopped")

	for ctx.Err() == nil {
		if m.pump(ctx, portID) {
			continue
		}
		if _, err := m.resolve(portID); err != nil {
			m.mu.Lock()
			if m.readers[portID] == r {
				delete(m.readers, portID)
			}
			m.mu.Unlock()
			return
		}
		select {
		case <-ctx.Done():
		case <-time.After(m.window):
		}
	}
}

// pump moves whatever the device has into the buffers of every session on
// portID, reading for at most one window. It reports false when the port
// could not be read.
func (m *Manager) pump(ctx context.Context, portID string) bool {
	m.mu.Lock()
	r := m.readers[portID]
	m.mu.Unlock()
	if r == nil {
		return false
	}
	r.lock.Lock()
	defer r.lock.Unlock()

	port, err := m.resolve(portID)
	if err != nil || port.State() != handle.Open {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, m.window)
	defer cancel()

	buf := make([]byte, pumpChunk)
	for {
		n, err := port.Read(ctx, buf)
		if n > 0 {
			m.fanOut(portID, buf[:n])
		}
		if err != nil {
			if errors.Is(err, serial.ErrReadTimeout) || errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(err, context.Canceled) {
				return true
			}
			m.log.Debug().Err(err).Str("port", portID).Msg("session read interrupted")
			return false
		}
	}
}

func (m *Manager) fanOut(portID string, data []byte) {
	m.mu.Lock()
	var targets []*Session
	for _, s := range m.sessions {
		if s.port == portID {
			targets = append(targets, s)
		}
	}
	m.mu.Unlock()

	for _, s := range targets {
		s.received(data)
	}
}

func notFound(id string) error {
	return apperr.New(apperr.KindSessionNotFound, id, "session not found")
}

func notOpen(portID string, err error) error {
	return &apperr.Error{Kind: apperr.KindSessionPortNotOpen, Subject: portID, Message: "port is not open", Err: err}
}

// compareIDs orders session-N identifiers numerically.
func compareIDs(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
