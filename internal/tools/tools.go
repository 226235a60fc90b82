// Package tools exposes the serial manager as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/allbin/uart-mcp/internal/manager"
	"github.com/allbin/uart-mcp/internal/metrics"
)

// ServerName is reported to MCP clients.
const ServerName = "uart-mcp"

const instructions = `Serial port (UART) access. Open a port with open_port, then either
exchange raw bytes with send_data/read_data or create a terminal session with
create_session and use send_command/read_output. Blacklisted ports cannot be opened.`

type toolset struct {
	m   *manager.Manager
	log zerolog.Logger
}

// NewServer returns an MCP server with every tool registered.
func NewServer(m *manager.Manager, version string, log zerolog.Logger) (*mcp.Server, error) {
	server := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version},
		&mcp.ServerOptions{Instructions: instructions})
	if err := Register(server, m, log); err != nil {
		return nil, err
	}
	return server, nil
}

// Register adds the port and session tools to server.
func Register(server *mcp.Server, m *manager.Manager, log zerolog.Logger) error {
	ts := &toolset{m: m, log: log}
	for _, register := range []func(*mcp.Server) error{
		ts.registerPortTools,
		ts.registerSessionTools,
	} {
		if err := register(server); err != nil {
			return err
		}
	}
	return nil
}

// handlerFunc is the shape of every tool implementation.
type handlerFunc[In any] func(ctx context.Context, in In) (any, error)

// add registers fn as tool. The input schema is derived from In; enums
// restrict the named string properties.
func add[In any](s *mcp.Server, ts *toolset, tool *mcp.Tool, enums map[string][]any, fn handlerFunc[In]) error {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return fmt.Errorf("input schema for %s: %w", tool.Name, err)
	}
	for name, values := range enums {
		prop, ok := schema.Properties[name]
		if !ok {
			return fmt.Errorf("input schema for %s: no property %q", tool.Name, name)
		}
		prop.Enum = values
	}
	tool.InputSchema = schema

	mcp.AddTool(s, tool, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		start := time.Now()
		out, err := fn(ctx, in)
		return ts.finish(tool.Name, time.Since(start), out, err), nil, nil
	})
	return nil
}

// finish renders a handler's value, or its error, as a tool result.
func (ts *toolset) finish(name string, elapsed time.Duration, out any, err error) *mcp.CallToolResult {
	if err != nil {
		ev := newErrorView(err)
		metrics.RecordToolCall(name, ev.Kind, elapsed)
		ts.log.Warn().Str("tool", name).Int("code", ev.Code).Str("kind", ev.Kind).Err(err).Msg("tool failed")
		return result(map[string]errorView{"error": ev}, true)
	}
	metrics.RecordToolCall(name, "ok", elapsed)
	ts.log.Debug().Str("tool", name).Dur("elapsed", elapsed).Msg("tool call")
	return result(out, false)
}

func result(v any, isError bool) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(map[string]errorView{"error": newErrorView(err)})
		isError = true
	}
	res := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: isError,
	}
	if !isError {
		res.StructuredContent = json.RawMessage(data)
	}
	return res
}
