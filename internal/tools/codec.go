package tools

import (
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/allbin/uart-mcp/internal/apperr"
)

// Data modes accepted by send_data and read_data.
const (
	ModeText   = "text"
	ModeHex    = "hex"
	ModeBase64 = "base64"
)

var dataModes = []any{ModeText, ModeHex, ModeBase64}

// decode turns tool input into bytes. Hex input may contain whitespace
// between digits.
func decode(mode, data string) ([]byte, error) {
	switch mode {
	case "", ModeText:
		return []byte(data), nil
	case ModeHex:
		b, err := hex.DecodeString(strings.Join(strings.Fields(data), ""))
		if err != nil {
			return nil, badData(mode, err)
		}
		return b, nil
	case ModeBase64:
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
		if err != nil {
			return nil, badData(mode, err)
		}
		return b, nil
	}
	return nil, badMode(mode)
}

// encode renders bytes for tool output. Text mode replaces invalid UTF-8.
func encode(mode string, b []byte) (string, error) {
	switch mode {
	case "", ModeText:
		return strings.ToValidUTF8(string(b), "�"), nil
	case ModeHex:
		return hex.EncodeToString(b), nil
	case ModeBase64:
		return base64.StdEncoding.EncodeToString(b), nil
	}
	return "", badMode(mode)
}

func badData(mode string, err error) error {
	return &apperr.Error{
		Kind:    apperr.KindInvalidConfig,
		Field:   "data",
		Message: "data is not valid " + mode,
		Err:     err,
	}
}

func badMode(mode string) error {
	return &apperr.Error{
		Kind:    apperr.KindInvalidConfig,
		Field:   "mode",
		Message: "mode must be one of text, hex, base64, got " + mode,
	}
}
