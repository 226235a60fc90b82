package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodes(t *testing.T) {
	tests := []struct {
		kind Kind
		code int
	}{
		{KindPortNotFound, 1001},
		{KindPortBusy, 1002},
		{KindPortOpenFailed, 1003},
		{KindPortNotOpen, 1004},
		{KindInvalidConfig, 1005},
		{KindConfigParse, 1005},
		{KindTimeout, 1006},
		{KindWriteFailed, 1007},
		{KindPermissionDenied, 1008},
		{KindConfigFilePermission, 1008},
		{KindBlacklistedPort, 1009},
		{KindDeviceDisconnected, 1010},
		{KindSessionNotFound, 2002},
		{KindSessionPortNotOpen, 2003},
		{KindInvalidLineEnding, 2006},
		{KindBufferTruncated, 2007},
		{KindInternal, 9000},
		{Kind(999), 9000},
	}

	for _, tt := range tests {
		if got := tt.kind.Code(); got != tt.code {
			t.Errorf("%v.Code() = %d, want %d", tt.kind, got, tt.code)
		}
	}
}

func TestKindNamesAreDistinct(t *testing.T) {
	seen := map[string]Kind{}
	for k, name := range kindNames {
		if other, dup := seen[name]; dup {
			t.Errorf("kinds %d and %d share name %q", k, other, name)
		}
		seen[name] = k
	}
	if KindConfigFilePermission.String() == KindPermissionDenied.String() {
		t.Error("ConfigFilePermission and PermissionDenied must be distinguishable")
	}
}

func TestIsMatchesKind(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("open: %w", Wrap(KindPortBusy, "/dev/ttyUSB0", cause))

	if !errors.Is(err, ErrPortBusy) {
		t.Errorf("errors.Is(%v, ErrPortBusy) = false", err)
	}
	if errors.Is(err, ErrPortNotFound) {
		t.Errorf("errors.Is(%v, ErrPortNotFound) = true", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("cause lost from chain")
	}
	if KindOf(err) != KindPortBusy || CodeOf(err) != 1002 {
		t.Errorf("KindOf/CodeOf = %v/%d", KindOf(err), CodeOf(err))
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{New(KindBlacklistedPort, "COM3", "port is blacklisted"), "COM3: port is blacklisted"},
		{&Error{Kind: KindTimeout}, "Timeout"},
		{&Error{Kind: KindWriteFailed, Err: errors.New("EIO")}, "EIO"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestFromUnknown(t *testing.T) {
	if Wrap(KindInternal, "x", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
	e := From(errors.New("plain"))
	if e.Kind != KindInternal || e.Code() != 9000 {
		t.Errorf("From(plain) = %v/%d, want Internal/9000", e.Kind, e.Code())
	}
}
