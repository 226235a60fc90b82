package config

import (
	"errors"
	"testing"
	"time"

	serial "github.com/allbin/uart-mcp"
	"github.com/allbin/uart-mcp/internal/apperr"
)

func ptr[T any](v T) *T { return &v }

func TestDeltaMerge(t *testing.T) {
	base := serial.DefaultConfig()
	policy := DefaultReconnectPolicy()

	cfg, gotPolicy, err := Delta{
		BaudRate:            ptr(9600),
		Parity:              ptr("o"),
		StopBits:            ptr(1.5),
		FlowControl:         ptr("xonxoff"),
		ReadTimeoutMs:       ptr(0),
		AutoReconnect:       ptr(false),
		ReconnectIntervalMs: ptr(250),
	}.Merge(base, policy)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	want := base
	want.BaudRate = 9600
	want.Parity = serial.ParityOdd
	want.StopBits = serial.StopBitsOnePointFive
	want.FlowControl = serial.FlowControlXONXOFF
	want.ReadTimeout = 0
	if cfg != want {
		t.Errorf("cfg = %+v, want %+v", cfg, want)
	}
	if gotPolicy.Enabled || gotPolicy.Interval != 250*time.Millisecond {
		t.Errorf("policy = %+v", gotPolicy)
	}
}

func TestDeltaMergeIsAllOrNothing(t *testing.T) {
	base := serial.DefaultConfig()
	policy := DefaultReconnectPolicy()

	tests := []struct {
		name  string
		delta Delta
		field string
	}{
		{"bad baud with good parity", Delta{Parity: ptr("E"), BaudRate: ptr(14400)}, "baudrate"},
		{"bad bytesize", Delta{DataBits: ptr(4)}, "bytesize"},
		{"bad parity", Delta{Parity: ptr("Q")}, "parity"},
		{"bad stopbits", Delta{StopBits: ptr(2.5)}, "stopbits"},
		{"bad flow", Delta{FlowControl: ptr("cts")}, "flow_control"},
		{"negative timeout", Delta{WriteTimeoutMs: ptr(-1)}, "write_timeout_ms"},
		{"huge timeout", Delta{ReadTimeoutMs: ptr(60001)}, "read_timeout_ms"},
		{"tiny interval", Delta{AutoReconnect: ptr(true), ReconnectIntervalMs: ptr(1)}, "reconnect_interval_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, gotPolicy, err := tt.delta.Merge(base, policy)
			if !errors.Is(err, apperr.ErrInvalidConfig) {
				t.Fatalf("Merge error = %v, want InvalidConfig", err)
			}
			if got := apperr.From(err).Field; got != tt.field {
				t.Errorf("Field = %q, want %q", got, tt.field)
			}
			if cfg != base || gotPolicy != policy {
				t.Errorf("Merge returned modified values on error: %+v %+v", cfg, gotPolicy)
			}
		})
	}
}

func TestDeltaTouchesSerial(t *testing.T) {
	if (Delta{}).TouchesSerial() {
		t.Error("empty delta touches serial")
	}
	if (Delta{AutoReconnect: ptr(false)}).TouchesSerial() {
		t.Error("policy-only delta touches serial")
	}
	if !(Delta{WriteTimeoutMs: ptr(10)}).TouchesSerial() {
		t.Error("timeout delta does not touch serial")
	}
}
