package serial

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxTimeout is the upper bound accepted for read and write timeouts.
const MaxTimeout = 60 * time.Second

// BaudRates lists the supported line speeds in ascending order.
var BaudRates = []int{600, 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

// Parity represents the parity mode
type Parity int

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
	ParityMark
	ParitySpace
)

var parityLetters = [...]string{"N", "E", "O", "M", "S"}

// String returns the single-letter parity code (N, E, O, M, S).
func (p Parity) String() string {
	if p < 0 || int(p) >= len(parityLetters) {
		return fmt.Sprintf("Parity(%d)", int(p))
	}
	return parityLetters[p]
}

// ParseParity accepts a parity letter or its long name, case-insensitive.
func ParseParity(s string) (Parity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "N", "NONE":
		return ParityNone, nil
	case "E", "EVEN":
		return ParityEven, nil
	case "O", "ODD":
		return ParityOdd, nil
	case "M", "MARK":
		return ParityMark, nil
	case "S", "SPACE":
		return ParitySpace, nil
	}
	return ParityNone, &FieldError{Field: "parity", Value: s}
}

// StopBits represents the number of stop bits
type StopBits int

const (
	StopBitsOne StopBits = iota
	StopBitsOnePointFive
	StopBitsTwo
)

// String returns "1", "1.5" or "2".
func (s StopBits) String() string {
	switch s {
	case StopBitsOne:
		return "1"
	case StopBitsOnePointFive:
		return "1.5"
	case StopBitsTwo:
		return "2"
	}
	return fmt.Sprintf("StopBits(%d)", int(s))
}

// Float returns the stop bit count as a number.
func (s StopBits) Float() float64 {
	switch s {
	case StopBitsOnePointFive:
		return 1.5
	case StopBitsTwo:
		return 2
	}
	return 1
}

// ParseStopBits converts 1, 1.5 or 2 to a StopBits value.
func ParseStopBits(v float64) (StopBits, error) {
	switch v {
	case 1:
		return StopBitsOne, nil
	case 1.5:
		return StopBitsOnePointFive, nil
	case 2:
		return StopBitsTwo, nil
	}
	return StopBitsOne, &FieldError{Field: "stopbits", Value: strconv.FormatFloat(v, 'f', -1, 64)}
}

// FlowControl represents the flow control mode
type FlowControl int

const (
	FlowControlNone FlowControl = iota
	FlowControlXONXOFF
	FlowControlRTSCTS
	FlowControlDSRDTR
)

var flowNames = [...]string{"none", "xonxoff", "rtscts", "dsrdtr"}

func (f FlowControl) String() string {
	if f < 0 || int(f) >= len(flowNames) {
		return fmt.Sprintf("FlowControl(%d)", int(f))
	}
	return flowNames[f]
}

// ParseFlowControl accepts none, xonxoff, rtscts or dsrdtr.
func ParseFlowControl(s string) (FlowControl, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return FlowControlNone, nil
	}
	for i, n := range flowNames {
		if n == name {
			return FlowControl(i), nil
		}
	}
	return FlowControlNone, &FieldError{Field: "flow_control", Value: s}
}

// Config holds the configuration for a serial port
type Config struct {
	BaudRate     int
	DataBits     int
	Parity       Parity
	StopBits     StopBits
	FlowControl  FlowControl
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Option is a functional option for configuring a serial port
type Option func(*Config) error

// DefaultConfig returns 115200 8N1 without flow control and one second timeouts.
func DefaultConfig() Config {
	return Config{
		BaudRate:     115200,
		DataBits:     8,
		Parity:       ParityNone,
		StopBits:     StopBitsOne,
		FlowControl:  FlowControlNone,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

// String renders the frame format, e.g. "115200 8N1".
func (c Config) String() string {
	return fmt.Sprintf("%d %d%s%s", c.BaudRate, c.DataBits, c.Parity, c.StopBits)
}

// Validate reports the first field that falls outside its allowed values.
func (c Config) Validate() error {
	if _, err := getBaudRate(c.BaudRate); err != nil {
		return &FieldError{Field: "baudrate", Value: c.BaudRate, Err: err}
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return &FieldError{Field: "bytesize", Value: c.DataBits}
	}
	if c.Parity < ParityNone || c.Parity > ParitySpace {
		return &FieldError{Field: "parity", Value: c.Parity}
	}
	if c.StopBits < StopBitsOne || c.StopBits > StopBitsTwo {
		return &FieldError{Field: "stopbits", Value: c.StopBits}
	}
	if c.FlowControl < FlowControlNone || c.FlowControl > FlowControlDSRDTR {
		return &FieldError{Field: "flow_control", Value: c.FlowControl}
	}
	if err := checkTimeout(c.ReadTimeout); err != nil {
		return &FieldError{Field: "read_timeout_ms", Value: c.ReadTimeout.Milliseconds()}
	}
	if err := checkTimeout(c.WriteTimeout); err != nil {
		return &FieldError{Field: "write_timeout_ms", Value: c.WriteTimeout.Milliseconds()}
	}
	return nil
}

func checkTimeout(d time.Duration) error {
	if d < 0 || d > MaxTimeout || d%time.Millisecond != 0 {
		return ErrInvalidConfig
	}
	return nil
}

// WithConfig replaces the whole configuration after validating it.
func WithConfig(cfg Config) Option {
	return func(c *Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		*c = cfg
		return nil
	}
}

// WithBaudRate sets the baud rate
func WithBaudRate(rate int) Option {
	return func(c *Config) error {
		if _, err := getBaudRate(rate); err != nil {
			return &FieldError{Field: "baudrate", Value: rate, Err: err}
		}
		c.BaudRate = rate
		return nil
	}
}

// WithDataBits sets the number of data bits (5, 6, 7, or 8)
func WithDataBits(bits int) Option {
	return func(c *Config) error {
		if bits < 5 || bits > 8 {
			return &FieldError{Field: "bytesize", Value: bits}
		}
		c.DataBits = bits
		return nil
	}
}

// WithStopBits sets the number of stop bits
func WithStopBits(bits StopBits) Option {
	return func(c *Config) error {
		if bits < StopBitsOne || bits > StopBitsTwo {
			return &FieldError{Field: "stopbits", Value: bits}
		}
		c.StopBits = bits
		return nil
	}
}

// WithParity sets the parity mode
func WithParity(parity Parity) Option {
	return func(c *Config) error {
		if parity < ParityNone || parity > ParitySpace {
			return &FieldError{Field: "parity", Value: parity}
		}
		c.Parity = parity
		return nil
	}
}

// WithFlowControl sets the flow control mode
func WithFlowControl(fc FlowControl) Option {
	return func(c *Config) error {
		if fc < FlowControlNone || fc > FlowControlDSRDTR {
			return &FieldError{Field: "flow_control", Value: fc}
		}
		c.FlowControl = fc
		return nil
	}
}

// WithReadTimeout bounds each read. Zero polls once and returns.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if err := checkTimeout(timeout); err != nil {
			return &FieldError{Field: "read_timeout_ms", Value: timeout.Milliseconds()}
		}
		c.ReadTimeout = timeout
		return nil
	}
}

// WithWriteTimeout bounds each write.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if err := checkTimeout(timeout); err != nil {
			return &FieldError{Field: "write_timeout_ms", Value: timeout.Milliseconds()}
		}
		c.WriteTimeout = timeout
		return nil
	}
}
