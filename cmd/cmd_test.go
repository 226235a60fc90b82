package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	serial "github.com/allbin/uart-mcp"
	"github.com/allbin/uart-mcp/internal/apperr"
	"github.com/allbin/uart-mcp/internal/blacklist"
	"github.com/allbin/uart-mcp/internal/config"
	"github.com/allbin/uart-mcp/internal/logging"
	"github.com/allbin/uart-mcp/internal/manager"
)

func rules(t *testing.T, lines ...string) *blacklist.Manager {
	t.Helper()
	var parsed []blacklist.Rule
	for _, l := range lines {
		r, err := blacklist.ParseRule(l)
		require.NoError(t, err)
		parsed = append(parsed, r)
	}
	bl, err := blacklist.New("", blacklist.WithRules(parsed...))
	require.NoError(t, err)
	return bl
}

func testManager(t *testing.T) *manager.Manager {
	t.Helper()
	store, err := config.NewStore("")
	require.NoError(t, err)
	m := manager.New(rules(t), store)
	t.Cleanup(m.Shutdown)
	return m
}

func openPTY(t *testing.T) (*os.File, string) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() {
		slave.Close()
		master.Close()
	})
	return master, slave.Name()
}

var testInfos = []serial.PortInfo{
	{Name: "ttyUSB0", Path: "/dev/ttyUSB0", Description: "USB Serial Device", IsUSB: true, VendorID: "0403", ProductID: "6001"},
	{Name: "ttyS0", Path: "/dev/ttyS0", Description: "Standard Serial Port"},
	{Name: "ttyACM0", Path: "/dev/ttyACM0", Description: "USB CDC ACM Device"},
}

func paths(entries []portEntry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Path)
	}
	return out
}

func TestListEntries(t *testing.T) {
	bl := rules(t, "/dev/ttyS0")

	tests := []struct {
		name   string
		all    bool
		filter string
		want   []string
	}{
		{"hides blacklisted", false, "", []string{"/dev/ttyUSB0", "/dev/ttyACM0"}},
		{"all shows blacklisted", true, "", []string{"/dev/ttyUSB0", "/dev/ttyS0", "/dev/ttyACM0"}},
		{"usb filter", true, "usb", []string{"/dev/ttyUSB0", "/dev/ttyACM0"}},
		{"standard filter", true, "standard", []string{"/dev/ttyS0"}},
		{"standard filter hidden", false, "standard", nil},
		{"unknown filter", true, "bogus", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := paths(listEntries(testInfos, bl, tt.all, tt.filter))
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("listEntries() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestListEntriesMarksRule(t *testing.T) {
	entries := listEntries(testInfos, rules(t, "/dev/ttyS.*"), true, "")
	require.Len(t, entries, 3)
	require.False(t, entries[0].Blacklisted)
	require.True(t, entries[1].Blacklisted)
	require.Equal(t, "regex:/dev/ttyS.*", entries[1].Rule)
	require.Equal(t, "Standard Serial", entries[1].Type)
}

func TestRenderPlain(t *testing.T) {
	var buf bytes.Buffer
	renderPlain(&buf, listEntries(testInfos, rules(t, "/dev/ttyS0"), true, ""))

	want := "/dev/ttyUSB0\n/dev/ttyS0 (blacklisted)\n/dev/ttyACM0\n"
	if buf.String() != want {
		t.Errorf("renderPlain() = %q, want %q", buf.String(), want)
	}
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderJSON(&buf, listEntries(testInfos, rules(t), false, "usb")))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	require.Equal(t, "/dev/ttyUSB0", got[0]["path"])
	require.Equal(t, "0403", got[0]["vendor_id"])
	require.Equal(t, "USB Serial", got[0]["type"])
	require.Equal(t, false, got[0]["blacklisted"])
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	renderTable(&buf, listEntries(testInfos, rules(t, "/dev/ttyS0"), true, ""))
	out := buf.String()

	for _, want := range []string{"Found 3 serial port(s)", "/dev/ttyUSB0", "0403:6001", "available", "blacklisted"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderTable() output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	renderTable(&buf, nil)
	if !strings.Contains(buf.String(), "No serial ports found") {
		t.Errorf("renderTable(nil) = %q", buf.String())
	}
}

func TestRenderInfo(t *testing.T) {
	info := &testInfos[0]

	var buf bytes.Buffer
	renderInfo(&buf, info, rules(t))
	require.Contains(t, buf.String(), "0403")
	require.Contains(t, buf.String(), "allowed")

	buf.Reset()
	renderInfo(&buf, info, rules(t, "/dev/ttyUSB.*"))
	require.Contains(t, buf.String(), "blocked by regex:/dev/ttyUSB.*")
}

func TestGetPortType(t *testing.T) {
	tests := map[string]string{
		"ttyUSB0": "USB Serial",
		"ttyACM1": "USB CDC/ACM",
		"ttyAMA0": "ARM Serial",
		"ttymxc2": "i.MX Serial",
		"ttyS3":   "Standard Serial",
		"rfcomm0": "Serial Port",
		"ttySAC0": "Samsung Serial",
		"ttyTHS1": "Tegra Serial",
		"ttyO1":   "OMAP Serial",
	}
	for name, want := range tests {
		if got := getPortType(name); got != want {
			t.Errorf("getPortType(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestBuildPayload(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		hex     bool
		newline bool
		want    string
		wantErr bool
	}{
		{"text", "AT", false, false, "AT", false},
		{"text newline", "AT", false, true, "AT\r\n", false},
		{"hex", "48 65 6c", true, false, "Hel", false},
		{"hex prefixes", "0x48 0x69", true, false, "Hi", false},
		{"hex ignores newline", "41", true, true, "A", false},
		{"odd hex", "486", true, false, "", true},
		{"bad hex", "zz", true, false, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildPayload(tt.data, tt.hex, tt.newline)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildPayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if string(got) != tt.want {
				t.Errorf("buildPayload() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatError(t *testing.T) {
	err := apperr.New(apperr.KindBlacklistedPort, "/dev/ttyS0", "port is blacklisted")
	if got := formatError(err); !strings.HasPrefix(got, "Error [1009 BlacklistedPort]:") {
		t.Errorf("formatError() = %q", got)
	}
	if got := formatError(errors.New("boom")); got != "Error: boom" {
		t.Errorf("formatError() = %q, want %q", got, "Error: boom")
	}
}

func TestSendAndReceive(t *testing.T) {
	master, path := openPTY(t)
	m := testManager(t)

	go func() {
		buf := make([]byte, 4)
		if _, err := io.ReadFull(master, buf); err == nil {
			master.Write([]byte("OK\r\n"))
		}
	}()

	var out bytes.Buffer
	err := sendAndReceive(&out, m, path, config.Delta{}, []byte("AT\r\n"), 2*time.Second)
	require.NoError(t, err)
	require.Contains(t, out.String(), "sent 4 bytes")
	require.Contains(t, out.String(), "received 4 bytes")
	require.True(t, strings.HasSuffix(out.String(), "OK\r\n"))
}

func TestSendAndReceiveNoReply(t *testing.T) {
	_, path := openPTY(t)
	m := testManager(t)

	var out bytes.Buffer
	err := sendAndReceive(&out, m, path, config.Delta{}, []byte("x"), 50*time.Millisecond)
	require.NoError(t, err)
	require.Contains(t, out.String(), "no reply")
}

func TestSendAndReceiveMissingPort(t *testing.T) {
	m := testManager(t)
	err := sendAndReceive(io.Discard, m, "/dev/does-not-exist", config.Delta{}, []byte("x"), time.Millisecond)
	require.Equal(t, apperr.KindPortNotFound, apperr.KindOf(err))
}

func TestCapture(t *testing.T) {
	master, path := openPTY(t)
	m := testManager(t)
	_, err := m.OpenPort(path, config.Delta{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	done := make(chan int64, 1)
	go func() {
		n, _ := capture(ctx, m, path, &out)
		done <- n
	}()

	_, err = master.Write([]byte("hello"))
	require.NoError(t, err)
	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case n := <-done:
		require.Equal(t, int64(5), n)
		require.Equal(t, "hello", out.String())
	case <-time.After(3 * time.Second):
		t.Fatal("capture did not stop after cancel")
	}
}

func TestCaptureStopsWhenPortCloses(t *testing.T) {
	_, path := openPTY(t)
	m := testManager(t)
	_, err := m.OpenPort(path, config.Delta{})
	require.NoError(t, err)
	require.NoError(t, m.ClosePort(path))

	_, err = capture(context.Background(), m, path, io.Discard)
	require.Equal(t, apperr.KindPortNotOpen, apperr.KindOf(err))
}

func TestRenderSettings(t *testing.T) {
	s := config.Defaults()
	var buf bytes.Buffer
	renderSettings(&buf, "/tmp/config.toml", s, rules(t, "/dev/ttyS0", "/dev/ttyAMA.*"))
	out := buf.String()

	for _, want := range []string{"115200", "8N1", "every 5s", "INFO", "(2 rules)", "exact:/dev/ttyS0", "regex:/dev/ttyAMA.*"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderSettings() output missing %q:\n%s", want, out)
		}
	}
}

// withFiles points the persistent flags at a config file holding level and
// an empty blacklist.
func withFiles(t *testing.T, level, flagLevel string) string {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, config.ConfigFileName)
	blacklistPath := filepath.Join(dir, config.BlacklistFileName)
	require.NoError(t, os.WriteFile(configPath, []byte("[logging]\nlevel = \""+level+"\"\n"), 0o600))
	require.NoError(t, os.WriteFile(blacklistPath, nil, 0o600))

	t.Setenv(logging.EnvLogLevel, "")
	t.Setenv(logging.EnvLogFormat, "")
	viper.Set("config", configPath)
	viper.Set("blacklist", blacklistPath)
	viper.Set("log-level", flagLevel)
	viper.Set("log-format", logging.FormatJSON)
	t.Cleanup(func() {
		viper.Set("config", config.DefaultConfigPath())
		viper.Set("blacklist", config.DefaultBlacklistPath())
		viper.Set("log-level", "")
		viper.Set("log-format", logging.FormatConsole)
	})
	return configPath
}

func TestReloadAppliesLogLevel(t *testing.T) {
	configPath := withFiles(t, "INFO", "")
	var buf bytes.Buffer
	a, err := newApp(&buf)
	require.NoError(t, err)
	t.Cleanup(a.manager.Shutdown)

	a.log.Debug().Msg("before reload")
	require.NotContains(t, buf.String(), "before reload")

	require.NoError(t, os.WriteFile(configPath, []byte("[logging]\nlevel = \"DEBUG\"\n"), 0o600))
	require.NoError(t, a.store.Reload())
	a.applyLogLevel()

	a.log.Debug().Msg("after reload")
	require.Contains(t, buf.String(), "after reload")
	require.Contains(t, buf.String(), "log level changed")
}

func TestReloadKeepsFlagLogLevel(t *testing.T) {
	configPath := withFiles(t, "INFO", "ERROR")
	var buf bytes.Buffer
	a, err := newApp(&buf)
	require.NoError(t, err)
	t.Cleanup(a.manager.Shutdown)

	require.NoError(t, os.WriteFile(configPath, []byte("[logging]\nlevel = \"DEBUG\"\n"), 0o600))
	require.NoError(t, a.store.Reload())
	a.applyLogLevel()

	a.log.Warn().Msg("still hidden")
	require.NotContains(t, buf.String(), "still hidden")
}
