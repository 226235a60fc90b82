package tools

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	serial "github.com/allbin/uart-mcp"
	"github.com/allbin/uart-mcp/internal/config"
)

type emptyInput struct{}

type portInput struct {
	Port string `json:"port" jsonschema:"serial port path, e.g. /dev/ttyUSB0"`
}

type statusInput struct {
	Port string `json:"port,omitempty" jsonschema:"serial port path; omit to list every open port"`
}

type portConfigInput struct {
	Port                string   `json:"port" jsonschema:"serial port path, e.g. /dev/ttyUSB0"`
	BaudRate            *int     `json:"baudrate,omitempty" jsonschema:"one of 600, 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600"`
	ByteSize            *int     `json:"bytesize,omitempty" jsonschema:"data bits: 5, 6, 7 or 8"`
	Parity              *string  `json:"parity,omitempty" jsonschema:"N, E, O, M or S"`
	StopBits            *float64 `json:"stopbits,omitempty" jsonschema:"1, 1.5 or 2"`
	FlowControl         *string  `json:"flow_control,omitempty" jsonschema:"none, xonxoff, rtscts or dsrdtr"`
	ReadTimeoutMs       *int     `json:"read_timeout_ms,omitempty" jsonschema:"read timeout in milliseconds, 0 to 60000"`
	WriteTimeoutMs      *int     `json:"write_timeout_ms,omitempty" jsonschema:"write timeout in milliseconds, 0 to 60000"`
	AutoReconnect       *bool    `json:"auto_reconnect,omitempty" jsonschema:"reopen the port automatically after the device disappears"`
	ReconnectIntervalMs *int     `json:"reconnect_interval_ms,omitempty" jsonschema:"delay between reconnect attempts in milliseconds"`
}

func (in portConfigInput) delta() config.Delta {
	return config.Delta{
		BaudRate:            in.BaudRate,
		DataBits:            in.ByteSize,
		Parity:              in.Parity,
		StopBits:            in.StopBits,
		FlowControl:         in.FlowControl,
		ReadTimeoutMs:       in.ReadTimeoutMs,
		WriteTimeoutMs:      in.WriteTimeoutMs,
		AutoReconnect:       in.AutoReconnect,
		ReconnectIntervalMs: in.ReconnectIntervalMs,
	}
}

type sendDataInput struct {
	Port string `json:"port" jsonschema:"serial port path"`
	Data string `json:"data" jsonschema:"data to send, encoded per mode"`
	Mode string `json:"mode,omitempty" jsonschema:"encoding of data: text (default), hex or base64"`
}

type readDataInput struct {
	Port      string `json:"port" jsonschema:"serial port path"`
	Mode      string `json:"mode,omitempty" jsonschema:"encoding of the result: text (default), hex or base64"`
	MaxBytes  int    `json:"max_bytes,omitempty" jsonschema:"return once this many bytes arrived; 0 returns whatever is available"`
	TimeoutMs int    `json:"timeout_ms,omitempty" jsonschema:"how long to wait for data; defaults to the port's read timeout"`
}

func (ts *toolset) registerPortTools(s *mcp.Server) error {
	return firstErr(
		add(s, ts, &mcp.Tool{
			Name:        "list_ports",
			Description: "List the serial ports of the system that are not blacklisted.",
		}, nil, ts.listPorts),
		add(s, ts, &mcp.Tool{
			Name:        "open_port",
			Description: "Open a serial port. Unset parameters come from the configuration file. Opening an open port returns its status.",
		}, nil, ts.openPort),
		add(s, ts, &mcp.Tool{
			Name:        "close_port",
			Description: "Close a serial port and every terminal session on it.",
		}, nil, ts.closePort),
		add(s, ts, &mcp.Tool{
			Name:        "set_config",
			Description: "Change the parameters of an open port without closing it. Invalid values reject the whole update.",
		}, nil, ts.setConfig),
		add(s, ts, &mcp.Tool{
			Name:        "get_status",
			Description: "Report state, configuration and reconnect policy of an open port, or of all open ports.",
		}, nil, ts.getStatus),
		add(s, ts, &mcp.Tool{
			Name:        "send_data",
			Description: "Write data to an open port.",
		}, map[string][]any{"mode": dataModes}, ts.sendData),
		add(s, ts, &mcp.Tool{
			Name:        "read_data",
			Description: "Read raw data from an open port. A timeout returns whatever arrived, possibly nothing.",
		}, map[string][]any{"mode": dataModes}, ts.readData),
	)
}

func (ts *toolset) listPorts(_ context.Context, _ emptyInput) (any, error) {
	ports, err := ts.m.ListPorts()
	if err != nil {
		return nil, err
	}
	if ports == nil {
		ports = []serial.PortInfo{}
	}
	return map[string]any{"ports": ports, "count": len(ports)}, nil
}

func (ts *toolset) openPort(_ context.Context, in portConfigInput) (any, error) {
	st, err := ts.m.OpenPort(in.Port, in.delta())
	if err != nil {
		return nil, err
	}
	return newStatusView(st), nil
}

func (ts *toolset) closePort(_ context.Context, in portInput) (any, error) {
	if err := ts.m.ClosePort(in.Port); err != nil {
		return nil, err
	}
	return ackView{Success: true, Port: in.Port}, nil
}

func (ts *toolset) setConfig(_ context.Context, in portConfigInput) (any, error) {
	st, err := ts.m.SetConfig(in.Port, in.delta())
	if err != nil {
		return nil, err
	}
	return newStatusView(st), nil
}

func (ts *toolset) getStatus(_ context.Context, in statusInput) (any, error) {
	if in.Port == "" {
		statuses := ts.m.Statuses()
		views := make([]statusView, 0, len(statuses))
		for _, st := range statuses {
			views = append(views, newStatusView(st))
		}
		return map[string]any{"ports": views, "count": len(views)}, nil
	}
	st, err := ts.m.GetStatus(in.Port)
	if err != nil {
		return nil, err
	}
	return newStatusView(st), nil
}

func (ts *toolset) sendData(ctx context.Context, in sendDataInput) (any, error) {
	data, err := decode(in.Mode, in.Data)
	if err != nil {
		return nil, err
	}
	res, err := ts.m.SendData(ctx, in.Port, data)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":       !res.TimedOut,
		"bytes_written": res.Written,
		"timed_out":     res.TimedOut,
	}, nil
}

func (ts *toolset) readData(ctx context.Context, in readDataInput) (any, error) {
	if _, err := encode(in.Mode, nil); err != nil {
		return nil, err
	}
	res, err := ts.m.ReadData(ctx, in.Port, in.MaxBytes, time.Duration(in.TimeoutMs)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	text, _ := encode(in.Mode, res.Data)
	mode := in.Mode
	if mode == "" {
		mode = ModeText
	}
	return map[string]any{
		"data":       text,
		"bytes_read": len(res.Data),
		"mode":       mode,
		"timed_out":  res.TimedOut,
	}, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
