// Package apperr defines the error taxonomy reported to tool callers. Every
// error carries a Kind and a stable numeric code.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindInternal Kind = iota
	KindBlacklistedPort
	KindPortNotFound
	KindPortBusy
	KindPortOpenFailed
	KindPortNotOpen
	KindPermissionDenied
	KindInvalidConfig
	KindConfigFilePermission
	KindConfigParse
	KindTimeout
	KindWriteFailed
	KindDeviceDisconnected
	KindSessionNotFound
	KindSessionPortNotOpen
	KindInvalidLineEnding
	KindBufferTruncated
)

var kindNames = map[Kind]string{
	KindInternal:             "Internal",
	KindBlacklistedPort:      "BlacklistedPort",
	KindPortNotFound:         "PortNotFound",
	KindPortBusy:             "PortBusy",
	KindPortOpenFailed:       "PortOpenFailed",
	KindPortNotOpen:          "PortNotOpen",
	KindPermissionDenied:     "PermissionDenied",
	KindInvalidConfig:        "InvalidConfig",
	KindConfigFilePermission: "ConfigFilePermission",
	KindConfigParse:          "ConfigParseError",
	KindTimeout:              "Timeout",
	KindWriteFailed:          "WriteFailed",
	KindDeviceDisconnected:   "DeviceDisconnected",
	KindSessionNotFound:      "SessionNotFound",
	KindSessionPortNotOpen:   "SessionPortNotOpen",
	KindInvalidLineEnding:    "InvalidLineEnding",
	KindBufferTruncated:      "BufferTruncated",
}

// Codes shared with existing callers. Some kinds intentionally share a code.
var kindCodes = map[Kind]int{
	KindInternal:             9000,
	KindPortNotFound:         1001,
	KindPortBusy:             1002,
	KindPortOpenFailed:       1003,
	KindPortNotOpen:          1004,
	KindInvalidConfig:        1005,
	KindConfigParse:          1005,
	KindTimeout:              1006,
	KindWriteFailed:          1007,
	KindPermissionDenied:     1008,
	KindConfigFilePermission: 1008,
	KindBlacklistedPort:      1009,
	KindDeviceDisconnected:   1010,
	KindSessionNotFound:      2002,
	KindSessionPortNotOpen:   2003,
	KindInvalidLineEnding:    2006,
	KindBufferTruncated:      2007,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Code returns the numeric code reported for k.
func (k Kind) Code() int {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return kindCodes[KindInternal]
}

// Sentinels for errors.Is. Matching compares Kind only.
var (
	ErrBlacklistedPort      = &Error{Kind: KindBlacklistedPort}
	ErrPortNotFound         = &Error{Kind: KindPortNotFound}
	ErrPortBusy             = &Error{Kind: KindPortBusy}
	ErrPortOpenFailed       = &Error{Kind: KindPortOpenFailed}
	ErrPortNotOpen          = &Error{Kind: KindPortNotOpen}
	ErrPermissionDenied     = &Error{Kind: KindPermissionDenied}
	ErrInvalidConfig        = &Error{Kind: KindInvalidConfig}
	ErrConfigFilePermission = &Error{Kind: KindConfigFilePermission}
	ErrConfigParse          = &Error{Kind: KindConfigParse}
	ErrTimeout              = &Error{Kind: KindTimeout}
	ErrWriteFailed          = &Error{Kind: KindWriteFailed}
	ErrDeviceDisconnected   = &Error{Kind: KindDeviceDisconnected}
	ErrSessionNotFound      = &Error{Kind: KindSessionNotFound}
	ErrSessionPortNotOpen   = &Error{Kind: KindSessionPortNotOpen}
	ErrInvalidLineEnding    = &Error{Kind: KindInvalidLineEnding}
)

// Error is a classified failure. Subject names the port, session or file the
// error is about; Field is set for validation failures.
type Error struct {
	Kind    Kind
	Subject string
	Field   string
	Message string
	Err     error
}

// New returns an error of kind k about subject.
func New(k Kind, subject, format string, args ...any) *Error {
	return &Error{Kind: k, Subject: subject, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err as kind k. A nil err yields nil.
func Wrap(k Kind, subject string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Subject: subject, Err: err}
}

// Code returns the numeric code of e.
func (e *Error) Code() int {
	return e.Kind.Code()
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s", e.Subject, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the numeric code for err.
func CodeOf(err error) int {
	return KindOf(err).Code()
}

// From returns err as an *Error, classifying unknown errors as Internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Err: err}
}
