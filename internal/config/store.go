package config

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	serial "github.com/allbin/uart-mcp"
	"github.com/allbin/uart-mcp/internal/apperr"
)

// PortSettings is the configuration active on one open port.
type PortSettings struct {
	Config    serial.Config
	Reconnect ReconnectPolicy
}

// Reconfigurer is the live port a hot update is pushed into.
type Reconfigurer interface {
	Reconfigure(cfg serial.Config, policy ReconnectPolicy) error
}

// Store holds the global defaults and the configuration of every open port.
//
// Defaults are an immutable snapshot replaced atomically on reload. Each
// port entry has its own lock, so updates to different ports never contend.
type Store struct {
	path     string
	settings atomic.Pointer[Settings]
	log      zerolog.Logger

	mu    sync.Mutex
	ports map[string]*portEntry
}

type portEntry struct {
	mu       sync.Mutex
	settings PortSettings
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used for reload reports.
func WithLogger(log zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.log = log
	}
}

// WithSettings seeds the store without reading a file.
func WithSettings(settings *Settings) StoreOption {
	return func(s *Store) {
		s.settings.Store(settings)
	}
}

// NewStore loads path and returns a store holding its settings. An empty
// path skips loading and uses Defaults unless WithSettings is given.
func NewStore(path string, opts ...StoreOption) (*Store, error) {
	s := &Store{
		path:  path,
		log:   zerolog.Nop(),
		ports: make(map[string]*portEntry),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.settings.Load() == nil {
		settings := Defaults()
		if path != "" {
			loaded, err := Load(path)
			if err != nil {
				return nil, err
			}
			settings = loaded
		}
		s.settings.Store(settings)
	}
	return s, nil
}

// Path returns the configuration file path.
func (s *Store) Path() string {
	return s.path
}

// Settings returns the current global snapshot. Callers must not modify it.
func (s *Store) Settings() *Settings {
	return s.settings.Load()
}

// Reload re-reads the configuration file. On failure the previous snapshot
// stays in effect. Open ports are not affected.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	settings, err := Load(s.path)
	if err != nil {
		s.log.Error().Err(err).Str("path", s.path).Int("code", apperr.CodeOf(err)).Msg("config reload failed, keeping previous settings")
		return err
	}
	s.settings.Store(settings)
	s.log.Info().Str("path", s.path).Str("defaults", settings.Serial.String()).Msg("config reloaded")
	return nil
}

// Resolve merges delta over the global defaults for a port about to open.
func (s *Store) Resolve(delta Delta) (PortSettings, error) {
	defaults := s.Settings()
	cfg, policy, err := delta.Merge(defaults.Serial, defaults.Reconnect)
	if err != nil {
		return PortSettings{}, err
	}
	return PortSettings{Config: cfg, Reconnect: policy}, nil
}

// Track records the settings of a newly opened port.
func (s *Store) Track(id string, settings PortSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports[id] = &portEntry{settings: settings}
}

// Forget drops the record of a closed port.
func (s *Store) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ports, id)
}

// Port returns the recorded settings of an open port.
func (s *Store) Port(id string) (PortSettings, bool) {
	e := s.entry(id)
	if e == nil {
		return PortSettings{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings, true
}

func (s *Store) entry(id string) *portEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ports[id]
}

// Apply validates delta against the port's current settings and pushes the
// result into live. The record changes only after live accepted it, so a
// successful return means the device runs with the returned settings.
func (s *Store) Apply(id string, delta Delta, live Reconfigurer) (PortSettings, error) {
	e := s.entry(id)
	if e == nil {
		return PortSettings{}, apperr.New(apperr.KindPortNotOpen, id, "port is not open")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, policy, err := delta.Merge(e.settings.Config, e.settings.Reconnect)
	if err != nil {
		return e.settings, err
	}
	if err := live.Reconfigure(cfg, policy); err != nil {
		return e.settings, err
	}
	e.settings = PortSettings{Config: cfg, Reconnect: policy}
	return e.settings, nil
}
