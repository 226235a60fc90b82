package serial

import (
	"errors"
	"fmt"
)

// Predefined error types for robust error handling
var (
	ErrDeviceNotFound   = errors.New("serial device not found")
	ErrPermissionDenied = errors.New("permission denied accessing serial device")
	ErrDeviceInUse      = errors.New("serial device already in use")
	ErrInvalidConfig    = errors.New("invalid serial configuration")
	ErrInvalidBaudRate  = fmt.Errorf("%w: unsupported baud rate", ErrInvalidConfig)
	ErrPortClosed       = errors.New("serial port is closed")
	ErrWriteTimeout     = errors.New("write operation timed out")
	ErrReadTimeout      = errors.New("read operation timed out")

	// ErrDisconnected means the device went away underneath an open port.
	ErrDisconnected = errors.New("serial device disconnected")

	// USB-related errors
	ErrUSBInfoNotAvailable = errors.New("USB device information not available")
)

// FieldError names the configuration field that failed validation.
type FieldError struct {
	Field string
	Value any
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Value)
}

func (e *FieldError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidConfig
}
