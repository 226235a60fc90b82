package config

import (
	"os"
	"path/filepath"
	"time"

	serial "github.com/allbin/uart-mcp"
)

const (
	// DirName is the per-user directory holding both settings files.
	DirName = ".uart-mcp"

	ConfigFileName    = "config.toml"
	BlacklistFileName = "blacklist.conf"

	MinReconnectInterval = 10 * time.Millisecond
	DefaultLogLevel      = "INFO"
)

// ReconnectPolicy controls automatic reopen after device loss.
type ReconnectPolicy struct {
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"-"`
}

// IntervalMs returns the retry interval in milliseconds.
func (p ReconnectPolicy) IntervalMs() int64 {
	return p.Interval.Milliseconds()
}

// Validate checks the retry interval.
func (p ReconnectPolicy) Validate() error {
	if p.Interval < MinReconnectInterval {
		return invalidField("reconnect_interval_ms", p.Interval.Milliseconds())
	}
	return nil
}

// DefaultReconnectPolicy retries every five seconds.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{Enabled: true, Interval: 5 * time.Second}
}

// Settings is an immutable snapshot of the process-wide configuration.
type Settings struct {
	Serial    serial.Config
	Reconnect ReconnectPolicy
	LogLevel  string
}

// Defaults returns the settings used when no configuration file exists.
func Defaults() *Settings {
	return &Settings{
		Serial:    serial.DefaultConfig(),
		Reconnect: DefaultReconnectPolicy(),
		LogLevel:  DefaultLogLevel,
	}
}

// DefaultDir returns ~/.uart-mcp.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DirName
	}
	return filepath.Join(home, DirName)
}

// DefaultConfigPath returns ~/.uart-mcp/config.toml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDir(), ConfigFileName)
}

// DefaultBlacklistPath returns ~/.uart-mcp/blacklist.conf.
func DefaultBlacklistPath() string {
	return filepath.Join(DefaultDir(), BlacklistFileName)
}
