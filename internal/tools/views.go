package tools

import (
	"time"

	serial "github.com/allbin/uart-mcp"
	"github.com/allbin/uart-mcp/internal/apperr"
	"github.com/allbin/uart-mcp/internal/handle"
	"github.com/allbin/uart-mcp/internal/manager"
)

type configView struct {
	BaudRate       int     `json:"baudrate"`
	ByteSize       int     `json:"bytesize"`
	Parity         string  `json:"parity"`
	StopBits       float64 `json:"stopbits"`
	FlowControl    string  `json:"flow_control"`
	ReadTimeoutMs  int64   `json:"read_timeout_ms"`
	WriteTimeoutMs int64   `json:"write_timeout_ms"`
}

func newConfigView(c serial.Config) configView {
	return configView{
		BaudRate:       c.BaudRate,
		ByteSize:       c.DataBits,
		Parity:         c.Parity.String(),
		StopBits:       c.StopBits.Float(),
		FlowControl:    c.FlowControl.String(),
		ReadTimeoutMs:  c.ReadTimeout.Milliseconds(),
		WriteTimeoutMs: c.WriteTimeout.Milliseconds(),
	}
}

type reconnectView struct {
	Enabled    bool  `json:"enabled"`
	IntervalMs int64 `json:"interval_ms"`
}

type statusView struct {
	Port              string        `json:"port"`
	State             string        `json:"state"`
	IsOpen            bool          `json:"is_open"`
	Connected         bool          `json:"connected"`
	Config            configView    `json:"config"`
	Reconnect         reconnectView `json:"reconnect"`
	ReconnectAttempts int           `json:"reconnect_attempts,omitempty"`
	LastError         *errorView    `json:"last_error,omitempty"`
	Sessions          int           `json:"session_count"`
	Since             time.Time     `json:"since"`
}

func newStatusView(st manager.Status) statusView {
	v := statusView{
		Port:      st.ID,
		State:     st.State.String(),
		IsOpen:    st.State.Live(),
		Connected: st.State == handle.Open,
		Config:    newConfigView(st.Config),
		Reconnect: reconnectView{
			Enabled:    st.Reconnect.Enabled,
			IntervalMs: st.Reconnect.IntervalMs(),
		},
		ReconnectAttempts: st.Attempts,
		Sessions:          st.Sessions,
		Since:             st.Since,
	}
	if st.LastError != nil {
		ev := newErrorView(st.LastError)
		v.LastError = &ev
	}
	return v
}

type errorView struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func newErrorView(err error) errorView {
	e := apperr.From(err)
	return errorView{
		Code:    e.Code(),
		Kind:    e.Kind.String(),
		Message: err.Error(),
		Field:   e.Field,
	}
}

type ackView struct {
	Success   bool   `json:"success"`
	Port      string `json:"port,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}
