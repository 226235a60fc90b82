package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/viper"

	serial "github.com/allbin/uart-mcp"
	"github.com/allbin/uart-mcp/internal/apperr"
	"github.com/allbin/uart-mcp/internal/logging"
)

// RequiredMode is the only permission accepted on settings files.
const RequiredMode fs.FileMode = 0o600

// FileConfig mirrors config.toml.
type FileConfig struct {
	Serial      SerialSection      `mapstructure:"serial"`
	Timeout     TimeoutSection     `mapstructure:"timeout"`
	FlowControl FlowControlSection `mapstructure:"flow_control"`
	Reconnect   ReconnectSection   `mapstructure:"reconnect"`
	Logging     LoggingSection     `mapstructure:"logging"`
}

// SerialSection holds the default frame format.
type SerialSection struct {
	Baudrate int     `mapstructure:"baudrate"`
	Bytesize int     `mapstructure:"bytesize"`
	Parity   string  `mapstructure:"parity"`
	Stopbits float64 `mapstructure:"stopbits"`
}

// TimeoutSection holds I/O timeouts in milliseconds.
type TimeoutSection struct {
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

// FlowControlSection enables at most one flow control method.
type FlowControlSection struct {
	Xonxoff bool `mapstructure:"xonxoff"`
	Rtscts  bool `mapstructure:"rtscts"`
	Dsrdtr  bool `mapstructure:"dsrdtr"`
}

type ReconnectSection struct {
	Enabled    bool `mapstructure:"enabled"`
	IntervalMs int  `mapstructure:"interval_ms"`
}

type LoggingSection struct {
	Level string `mapstructure:"level"`
}

// CheckPermissions reports whether path exists and rejects any mode other
// than 0600. Nothing is read from the file.
func CheckPermissions(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return false, apperr.Wrap(apperr.KindConfigFilePermission, path, err)
		}
		return false, apperr.Wrap(apperr.KindConfigParse, path, err)
	}
	if !info.Mode().IsRegular() {
		return false, apperr.New(apperr.KindConfigParse, path, "not a regular file")
	}
	if mode := info.Mode().Perm(); mode != RequiredMode {
		return true, apperr.New(apperr.KindConfigFilePermission, path,
			"file mode %04o is not allowed, run: chmod 600 %s", mode, path)
	}
	return true, nil
}

// Load reads and validates the configuration file. A missing file yields
// Defaults.
func Load(path string) (*Settings, error) {
	exists, err := CheckPermissions(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return Defaults(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, apperr.Wrap(apperr.KindConfigParse, path, fmt.Errorf("failed to read config file: %w", err))
	}

	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, apperr.Wrap(apperr.KindConfigParse, path, fmt.Errorf("failed to unmarshal config: %w", err))
	}

	settings, err := fc.Settings()
	if err != nil {
		e := apperr.From(err)
		return nil, &apperr.Error{Kind: apperr.KindConfigParse, Subject: path, Field: e.Field, Err: err}
	}
	return settings, nil
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("serial.baudrate", d.Serial.BaudRate)
	v.SetDefault("serial.bytesize", d.Serial.DataBits)
	v.SetDefault("serial.parity", d.Serial.Parity.String())
	v.SetDefault("serial.stopbits", d.Serial.StopBits.Float())
	v.SetDefault("timeout.read_timeout", d.Serial.ReadTimeout.Milliseconds())
	v.SetDefault("timeout.write_timeout", d.Serial.WriteTimeout.Milliseconds())
	v.SetDefault("reconnect.enabled", d.Reconnect.Enabled)
	v.SetDefault("reconnect.interval_ms", d.Reconnect.IntervalMs())
	v.SetDefault("logging.level", d.LogLevel)
}

// Settings validates the file contents and converts them to a snapshot.
func (fc FileConfig) Settings() (*Settings, error) {
	cfg := serial.Config{
		BaudRate:     fc.Serial.Baudrate,
		DataBits:     fc.Serial.Bytesize,
		ReadTimeout:  time.Duration(fc.Timeout.ReadTimeout) * time.Millisecond,
		WriteTimeout: time.Duration(fc.Timeout.WriteTimeout) * time.Millisecond,
	}

	var err error
	if cfg.Parity, err = serial.ParseParity(fc.Serial.Parity); err != nil {
		return nil, fromSerial(err)
	}
	if cfg.StopBits, err = serial.ParseStopBits(fc.Serial.Stopbits); err != nil {
		return nil, fromSerial(err)
	}
	if cfg.FlowControl, err = fc.FlowControl.mode(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fromSerial(err)
	}

	policy := ReconnectPolicy{
		Enabled:  fc.Reconnect.Enabled,
		Interval: time.Duration(fc.Reconnect.IntervalMs) * time.Millisecond,
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	level, err := logging.Normalize(fc.Logging.Level)
	if err != nil {
		return nil, invalidField("logging.level", fc.Logging.Level)
	}

	return &Settings{Serial: cfg, Reconnect: policy, LogLevel: level}, nil
}

func (f FlowControlSection) mode() (serial.FlowControl, error) {
	mode, set := serial.FlowControlNone, 0
	if f.Xonxoff {
		mode, set = serial.FlowControlXONXOFF, set+1
	}
	if f.Rtscts {
		mode, set = serial.FlowControlRTSCTS, set+1
	}
	if f.Dsrdtr {
		mode, set = serial.FlowControlDSRDTR, set+1
	}
	if set > 1 {
		return serial.FlowControlNone, invalidField("flow_control", "more than one method enabled")
	}
	return mode, nil
}

func invalidField(field string, value any) error {
	return &apperr.Error{
		Kind:    apperr.KindInvalidConfig,
		Field:   field,
		Message: fmt.Sprintf("invalid %s: %v", field, value),
	}
}

// fromSerial turns a device-layer validation error into InvalidConfig.
func fromSerial(err error) error {
	var fe *serial.FieldError
	if errors.As(err, &fe) {
		return &apperr.Error{Kind: apperr.KindInvalidConfig, Field: fe.Field, Message: fe.Error(), Err: err}
	}
	return apperr.Wrap(apperr.KindInvalidConfig, "", err)
}
