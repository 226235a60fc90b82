package config

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	serial "github.com/allbin/uart-mcp"
	"github.com/allbin/uart-mcp/internal/apperr"
)

type fakeLive struct {
	calls int
	err   error
	cfg   serial.Config
}

func (f *fakeLive) Reconfigure(cfg serial.Config, _ ReconnectPolicy) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.cfg = cfg
	return nil
}

func TestStoreApply(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)

	opened, err := store.Resolve(Delta{BaudRate: ptr(9600)})
	require.NoError(t, err)
	store.Track("/dev/ttyUSB0", opened)

	live := &fakeLive{}
	applied, err := store.Apply("/dev/ttyUSB0", Delta{BaudRate: ptr(115200)}, live)
	require.NoError(t, err)
	require.Equal(t, 115200, applied.Config.BaudRate)
	require.Equal(t, applied.Config, live.cfg)

	got, ok := store.Port("/dev/ttyUSB0")
	require.True(t, ok)
	require.Equal(t, applied, got)
}

func TestStoreApplyInvalidLeavesStateUnchanged(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)
	opened, err := store.Resolve(Delta{})
	require.NoError(t, err)
	store.Track("COM1", opened)

	live := &fakeLive{}
	_, err = store.Apply("COM1", Delta{BaudRate: ptr(9600), DataBits: ptr(3)}, live)
	require.ErrorIs(t, err, apperr.ErrInvalidConfig)
	require.Zero(t, live.calls, "device touched despite invalid delta")

	got, _ := store.Port("COM1")
	require.Equal(t, opened, got)
}

func TestStoreApplyDeviceFailureKeepsRecord(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)
	opened, err := store.Resolve(Delta{})
	require.NoError(t, err)
	store.Track("COM1", opened)

	live := &fakeLive{err: errors.New("termios rejected")}
	_, err = store.Apply("COM1", Delta{BaudRate: ptr(9600)}, live)
	require.Error(t, err)

	got, _ := store.Port("COM1")
	require.Equal(t, opened, got)
}

func TestStoreApplyUnknownPort(t *testing.T) {
	store, err := NewStore("")
	require.NoError(t, err)
	_, err = store.Apply("COM9", Delta{}, &fakeLive{})
	require.ErrorIs(t, err, apperr.ErrPortNotOpen)

	store.Track("COM9", PortSettings{})
	store.Forget("COM9")
	_, ok := store.Port("COM9")
	require.False(t, ok)
}

func TestStoreReloadKeepsPreviousOnFailure(t *testing.T) {
	path := writeConfig(t, "[serial]\nbaudrate = 9600\n", 0o600)
	store, err := NewStore(path)
	require.NoError(t, err)
	require.Equal(t, 9600, store.Settings().Serial.BaudRate)

	require.NoError(t, os.WriteFile(path, []byte("[serial]\nbaudrate = 19200\n"), 0o600))
	require.NoError(t, store.Reload())
	require.Equal(t, 19200, store.Settings().Serial.BaudRate)

	require.NoError(t, os.WriteFile(path, []byte("[serial]\nbaudrate = 7\n"), 0o600))
	require.ErrorIs(t, store.Reload(), apperr.ErrConfigParse)
	require.Equal(t, 19200, store.Settings().Serial.BaudRate)

	require.NoError(t, os.WriteFile(path, []byte("[serial]\nbaudrate = 38400\n"), 0o600))
	require.NoError(t, os.Chmod(path, 0o644))
	require.ErrorIs(t, store.Reload(), apperr.ErrConfigFilePermission)
	require.Equal(t, 19200, store.Settings().Serial.BaudRate)
}

func TestNewStoreRejectsBadFile(t *testing.T) {
	path := writeConfig(t, "[serial]\nbaudrate = 9600\n", 0o644)
	_, err := NewStore(path)
	require.ErrorIs(t, err, apperr.ErrConfigFilePermission)
}

func TestReloadDoesNotTouchOpenPorts(t *testing.T) {
	path := writeConfig(t, "[serial]\nbaudrate = 9600\n", 0o600)
	store, err := NewStore(path)
	require.NoError(t, err)

	opened, err := store.Resolve(Delta{})
	require.NoError(t, err)
	store.Track("COM1", opened)

	require.NoError(t, os.WriteFile(path, []byte("[serial]\nbaudrate = 57600\n"), 0o600))
	require.NoError(t, store.Reload())

	got, _ := store.Port("COM1")
	require.Equal(t, 9600, got.Config.BaudRate)
}
