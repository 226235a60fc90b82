package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/allbin/uart-mcp/internal/apperr"
	"github.com/allbin/uart-mcp/internal/session"
)

// read_output modes.
const (
	OutputDrain = "drain"
	OutputPeek  = "peek"
)

type createSessionInput struct {
	Port       string `json:"port" jsonschema:"serial port path; the port must be open"`
	LineEnding string `json:"line_ending,omitempty" jsonschema:"CR, LF or CRLF (default)"`
	LocalEcho  bool   `json:"local_echo,omitempty" jsonschema:"copy sent commands into the session output"`
	BufferSize int    `json:"buffer_size,omitempty" jsonschema:"output buffer capacity in bytes, 64 to 16777216; default 65536"`
}

type sessionInput struct {
	SessionID string `json:"session_id" jsonschema:"session identifier returned by create_session"`
}

type sendCommandInput struct {
	SessionID string `json:"session_id" jsonschema:"session identifier"`
	Command   string `json:"command" jsonschema:"command text; the session line ending is appended unless already present"`
}

type readOutputInput struct {
	SessionID string `json:"session_id" jsonschema:"session identifier"`
	Mode      string `json:"mode,omitempty" jsonschema:"drain (default) removes the returned output, peek leaves it buffered"`
}

func (ts *toolset) registerSessionTools(s *mcp.Server) error {
	return firstErr(
		add(s, ts, &mcp.Tool{
			Name:        "create_session",
			Description: "Create a line-oriented terminal session on an open port.",
		}, nil, ts.createSession),
		add(s, ts, &mcp.Tool{
			Name:        "close_session",
			Description: "Close a terminal session. The port stays open.",
		}, nil, ts.closeSession),
		add(s, ts, &mcp.Tool{
			Name:        "send_command",
			Description: "Send a command line through a terminal session.",
		}, nil, ts.sendCommand),
		add(s, ts, &mcp.Tool{
			Name:        "read_output",
			Description: "Read the output a terminal session collected. Reports truncated=true once after older output was dropped.",
		}, map[string][]any{"mode": {OutputDrain, OutputPeek}}, ts.readOutput),
		add(s, ts, &mcp.Tool{
			Name:        "list_sessions",
			Description: "List every terminal session.",
		}, nil, ts.listSessions),
		add(s, ts, &mcp.Tool{
			Name:        "get_session_info",
			Description: "Describe one terminal session.",
		}, nil, ts.sessionInfo),
		add(s, ts, &mcp.Tool{
			Name:        "clear_buffer",
			Description: "Discard the buffered output of a terminal session.",
		}, nil, ts.clearBuffer),
	)
}

func (ts *toolset) createSession(_ context.Context, in createSessionInput) (any, error) {
	ending, err := session.ParseLineEnding(in.LineEnding)
	if err != nil {
		return nil, err
	}
	return ts.m.CreateSession(in.Port, session.Options{
		LineEnding: ending,
		LocalEcho:  in.LocalEcho,
		BufferSize: in.BufferSize,
	})
}

func (ts *toolset) closeSession(_ context.Context, in sessionInput) (any, error) {
	if err := ts.m.CloseSession(in.SessionID); err != nil {
		return nil, err
	}
	return ackView{Success: true, SessionID: in.SessionID}, nil
}

func (ts *toolset) sendCommand(ctx context.Context, in sendCommandInput) (any, error) {
	n, err := ts.m.SendCommand(ctx, in.SessionID, in.Command)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "bytes_written": n}, nil
}

func (ts *toolset) readOutput(ctx context.Context, in readOutputInput) (any, error) {
	var peek bool
	switch in.Mode {
	case "", OutputDrain:
	case OutputPeek:
		peek = true
	default:
		return nil, &apperr.Error{
			Kind:    apperr.KindInvalidConfig,
			Field:   "mode",
			Message: "mode must be drain or peek, got " + in.Mode,
		}
	}

	out, err := ts.m.ReadOutput(ctx, in.SessionID, peek)
	if err != nil {
		return nil, err
	}
	text, _ := encode(ModeText, out.Data)
	res := map[string]any{
		"data":          text,
		"bytes_read":    len(out.Data),
		"truncated":     out.Truncated,
		"dropped_bytes": out.Dropped,
	}
	if peek {
		res["remaining_bytes"] = out.Remaining
	}
	if out.Truncated {
		res["warning"] = newErrorView(apperr.New(apperr.KindBufferTruncated, in.SessionID,
			"%d bytes of older output were dropped", out.Dropped))
	}
	return res, nil
}

func (ts *toolset) listSessions(_ context.Context, _ emptyInput) (any, error) {
	infos := ts.m.ListSessions()
	return map[string]any{"sessions": infos, "count": len(infos)}, nil
}

func (ts *toolset) sessionInfo(_ context.Context, in sessionInput) (any, error) {
	return ts.m.SessionInfo(in.SessionID)
}

func (ts *toolset) clearBuffer(_ context.Context, in sessionInput) (any, error) {
	if err := ts.m.ClearBuffer(in.SessionID); err != nil {
		return nil, err
	}
	return ackView{Success: true, SessionID: in.SessionID}, nil
}
