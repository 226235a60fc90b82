package config

import (
	"time"

	serial "github.com/allbin/uart-mcp"
)

// Delta is a partial update. Nil fields are left unchanged.
type Delta struct {
	BaudRate            *int     `json:"baudrate,omitempty"`
	DataBits            *int     `json:"bytesize,omitempty"`
	Parity              *string  `json:"parity,omitempty"`
	StopBits            *float64 `json:"stopbits,omitempty"`
	FlowControl         *string  `json:"flow_control,omitempty"`
	ReadTimeoutMs       *int     `json:"read_timeout_ms,omitempty"`
	WriteTimeoutMs      *int     `json:"write_timeout_ms,omitempty"`
	AutoReconnect       *bool    `json:"auto_reconnect,omitempty"`
	ReconnectIntervalMs *int     `json:"reconnect_interval_ms,omitempty"`
}

// Merge applies d on top of cfg and policy. Every touched field is
// validated; on error neither input is modified and the returned error
// names the offending field.
func (d Delta) Merge(cfg serial.Config, policy ReconnectPolicy) (serial.Config, ReconnectPolicy, error) {
	next := cfg
	if d.BaudRate != nil {
		next.BaudRate = *d.BaudRate
	}
	if d.DataBits != nil {
		next.DataBits = *d.DataBits
	}
	if d.Parity != nil {
		p, err := serial.ParseParity(*d.Parity)
		if err != nil {
			return cfg, policy, fromSerial(err)
		}
		next.Parity = p
	}
	if d.StopBits != nil {
		s, err := serial.ParseStopBits(*d.StopBits)
		if err != nil {
			return cfg, policy, fromSerial(err)
		}
		next.StopBits = s
	}
	if d.FlowControl != nil {
		fc, err := serial.ParseFlowControl(*d.FlowControl)
		if err != nil {
			return cfg, policy, fromSerial(err)
		}
		next.FlowControl = fc
	}
	if d.ReadTimeoutMs != nil {
		next.ReadTimeout = time.Duration(*d.ReadTimeoutMs) * time.Millisecond
	}
	if d.WriteTimeoutMs != nil {
		next.WriteTimeout = time.Duration(*d.WriteTimeoutMs) * time.Millisecond
	}
	if err := next.Validate(); err != nil {
		return cfg, policy, fromSerial(err)
	}

	nextPolicy := policy
	if d.AutoReconnect != nil {
		nextPolicy.Enabled = *d.AutoReconnect
	}
	if d.ReconnectIntervalMs != nil {
		nextPolicy.Interval = time.Duration(*d.ReconnectIntervalMs) * time.Millisecond
	}
	if err := nextPolicy.Validate(); err != nil {
		return cfg, policy, err
	}

	return next, nextPolicy, nil
}

// TouchesSerial reports whether d changes any device parameter.
func (d Delta) TouchesSerial() bool {
	return d.BaudRate != nil || d.DataBits != nil || d.Parity != nil || d.StopBits != nil ||
		d.FlowControl != nil || d.ReadTimeoutMs != nil || d.WriteTimeoutMs != nil
}
