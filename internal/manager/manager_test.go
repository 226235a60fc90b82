package manager

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"

	serial "github.com/allbin/uart-mcp"
	"github.com/allbin/uart-mcp/internal/apperr"
	"github.com/allbin/uart-mcp/internal/blacklist"
	"github.com/allbin/uart-mcp/internal/config"
	"github.com/allbin/uart-mcp/internal/handle"
	"github.com/allbin/uart-mcp/internal/session"
)

func ptr[T any](v T) *T { return &v }

// device is a pty whose slave is reached through a symlink, so it can be
// unplugged and plugged back in under the same name.
type device struct {
	t      *testing.T
	link   string
	master *os.File
	slave  *os.File
}

func newDevice(t *testing.T) *device {
	t.Helper()
	d := &device{t: t, link: filepath.Join(t.TempDir(), "ttyX")}
	d.plug()
	t.Cleanup(d.unplug)
	return d
}

func (d *device) plug() {
	d.t.Helper()
	master, slave, err := pty.Open()
	require.NoError(d.t, err)
	_ = os.Remove(d.link)
	require.NoError(d.t, os.Symlink(slave.Name(), d.link))
	d.master, d.slave = master, slave
}

func (d *device) unplug() {
	if d.master == nil {
		return
	}
	_ = os.Remove(d.link)
	d.slave.Close()
	d.master.Close()
	d.master, d.slave = nil, nil
}

func (d *device) send(s string) {
	d.t.Helper()
	_, err := d.master.WriteString(s)
	require.NoError(d.t, err)
}

func (d *device) expect(n int) string {
	d.t.Helper()
	got := make(chan string, 1)
	master := d.master
	go func() {
		buf := make([]byte, n)
		k, _ := io.ReadFull(master, buf)
		got <- string(buf[:k])
	}()
	select {
	case s := <-got:
		return s
	case <-time.After(2 * time.Second):
		d.t.Fatalf("device did not receive %d bytes", n)
		return ""
	}
}

func newManager(t *testing.T, rules ...string) *Manager {
	t.Helper()
	var parsed []blacklist.Rule
	for _, r := range rules {
		rule, err := blacklist.ParseRule(r)
		require.NoError(t, err)
		parsed = append(parsed, rule)
	}
	bl, err := blacklist.New("", blacklist.WithRules(parsed...))
	require.NoError(t, err)
	store, err := config.NewStore("")
	require.NoError(t, err)

	m := New(bl, store)
	t.Cleanup(m.Shutdown)
	return m
}

func reconnect(interval time.Duration) config.Delta {
	return config.Delta{AutoReconnect: ptr(true), ReconnectIntervalMs: ptr(int(interval.Milliseconds()))}
}

func noReconnect() config.Delta {
	return config.Delta{AutoReconnect: ptr(false)}
}

func stateIs(m *Manager, id string, want handle.State) func() bool {
	return func() bool {
		st, err := m.GetStatus(id)
		return err == nil && st.State == want
	}
}

func TestOpenReportsRequestedConfig(t *testing.T) {
	tests := []struct {
		name  string
		delta config.Delta
		want  serial.Config
	}{
		{
			name:  "defaults",
			delta: config.Delta{},
			want:  serial.DefaultConfig(),
		},
		{
			name:  "9600 7E2",
			delta: config.Delta{BaudRate: ptr(9600), DataBits: ptr(7), Parity: ptr("E"), StopBits: ptr(2.0)},
			want: serial.Config{BaudRate: 9600, DataBits: 7, Parity: serial.ParityEven,
				StopBits: serial.StopBitsTwo, ReadTimeout: time.Second, WriteTimeout: time.Second},
		},
		{
			name:  "rtscts and timeouts",
			delta: config.Delta{FlowControl: ptr("rtscts"), ReadTimeoutMs: ptr(250), WriteTimeoutMs: ptr(0)},
			want: serial.Config{BaudRate: 115200, DataBits: 8, FlowControl: serial.FlowControlRTSCTS,
				ReadTimeout: 250 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newDevice(t)
			m := newManager(t)

			st, err := m.OpenPort(dev.link, tt.delta)
			require.NoError(t, err)
			require.Equal(t, handle.Open, st.State)

			st, err = m.GetStatus(dev.link)
			require.NoError(t, err)
			require.Equal(t, tt.want, st.Config)
		})
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	dev := newDevice(t)
	m := newManager(t)

	first, err := m.OpenPort(dev.link, config.Delta{BaudRate: ptr(9600)})
	require.NoError(t, err)
	second, err := m.OpenPort(dev.link, config.Delta{BaudRate: ptr(115200)})
	require.NoError(t, err)

	require.Equal(t, 9600, second.Config.BaudRate)
	require.Equal(t, first.Since, second.Since)
	require.Len(t, m.Statuses(), 1)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	dev := newDevice(t)
	m := newManager(t)

	_, err := m.OpenPort(dev.link, config.Delta{BaudRate: ptr(9600), Parity: ptr("X")})
	require.ErrorIs(t, err, apperr.ErrInvalidConfig)
	require.Equal(t, "parity", apperr.From(err).Field)

	_, err = m.GetStatus(dev.link)
	require.ErrorIs(t, err, apperr.ErrPortNotOpen)
}

func TestOpenMissingDevice(t *testing.T) {
	m := newManager(t)
	_, err := m.OpenPort(filepath.Join(t.TempDir(), "ttyNONE"), config.Delta{})
	require.ErrorIs(t, err, apperr.ErrPortNotFound)
	require.Equal(t, 1001, apperr.CodeOf(err))
	require.Empty(t, m.Statuses())
}

func TestHotReconfigure(t *testing.T) {
	dev := newDevice(t)
	m := newManager(t)

	_, err := m.OpenPort(dev.link, config.Delta{BaudRate: ptr(9600), DataBits: ptr(8), Parity: ptr("N"), StopBits: ptr(1.0)})
	require.NoError(t, err)

	st, err := m.SetConfig(dev.link, config.Delta{BaudRate: ptr(115200)})
	require.NoError(t, err)
	require.Equal(t, handle.Open, st.State)
	require.Equal(t, 115200, st.Config.BaudRate)

	res, err := m.SendData(context.Background(), dev.link, []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, 4, res.Written)
	require.Equal(t, "ping", dev.expect(4))

	st, err = m.GetStatus(dev.link)
	require.NoError(t, err)
	require.Equal(t, 115200, st.Config.BaudRate)
}

func TestSetConfigRejectsWholeDelta(t *testing.T) {
	dev := newDevice(t)
	m := newManager(t)
	_, err := m.OpenPort(dev.link, config.Delta{BaudRate: ptr(9600)})
	require.NoError(t, err)

	_, err = m.SetConfig(dev.link, config.Delta{BaudRate: ptr(19200), DataBits: ptr(9)})
	require.ErrorIs(t, err, apperr.ErrInvalidConfig)
	require.Equal(t, "bytesize", apperr.From(err).Field)

	st, err := m.GetStatus(dev.link)
	require.NoError(t, err)
	require.Equal(t, 9600, st.Config.BaudRate)
	require.Equal(t, 8, st.Config.DataBits)
}

func TestSetConfigOnClosedPort(t *testing.T) {
	m := newManager(t)
	_, err := m.SetConfig("/dev/ttyNOPE", config.Delta{BaudRate: ptr(9600)})
	require.ErrorIs(t, err, apperr.ErrPortNotOpen)
}

func TestBlacklistAnchoring(t *testing.T) {
	dev := newDevice(t)
	m := newManager(t, "COM[0-9]+")
	m.open = func(id string, cfg serial.Config) (serial.Port, error) {
		return serial.Open(dev.link, serial.WithConfig(cfg))
	}

	_, err := m.OpenPort("COM3", config.Delta{})
	require.ErrorIs(t, err, apperr.ErrBlacklistedPort)
	require.Equal(t, 1009, apperr.CodeOf(err))

	st, err := m.OpenPort("COM3A", config.Delta{})
	require.NoError(t, err)
	require.Equal(t, handle.Open, st.State)
}

func TestReadData(t *testing.T) {
	dev := newDevice(t)
	m := newManager(t)
	_, err := m.OpenPort(dev.link, noReconnect())
	require.NoError(t, err)
	ctx := context.Background()

	res, err := m.ReadData(ctx, dev.link, 0, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, res.TimedOut)
	require.Empty(t, res.Data)

	dev.send("abcdef")
	res, err = m.ReadData(ctx, dev.link, 2, time.Second)
	require.NoError(t, err)
	require.Equal(t, "ab", string(res.Data))
	require.False(t, res.TimedOut)

	res, err = m.ReadData(ctx, dev.link, 0, time.Second)
	require.NoError(t, err)
	require.Equal(t, "cdef", string(res.Data))

	_, err = m.ReadData(ctx, dev.link, 0, 2*serial.MaxTimeout)
	require.ErrorIs(t, err, apperr.ErrInvalidConfig)
}

func TestLossWithoutReconnectClosesPortAndSessions(t *testing.T) {
	dev := newDevice(t)
	m := newManager(t)
	_, err := m.OpenPort(dev.link, noReconnect())
	require.NoError(t, err)
	info, err := m.CreateSession(dev.link, session.Options{})
	require.NoError(t, err)

	dev.unplug()
	require.Eventually(t, func() bool {
		_, err := m.GetStatus(dev.link)
		return errors.Is(err, apperr.ErrPortNotOpen)
	}, 2*time.Second, 5*time.Millisecond)

	_, err = m.SessionInfo(info.ID)
	require.ErrorIs(t, err, apperr.ErrSessionNotFound)
	_, err = m.SendData(context.Background(), dev.link, []byte("x"))
	require.ErrorIs(t, err, apperr.ErrPortNotOpen)
}

func TestSendDataReportsLoss(t *testing.T) {
	dev := newDevice(t)
	m := newManager(t)
	_, err := m.OpenPort(dev.link, noReconnect())
	require.NoError(t, err)

	dev.unplug()
	_, err = m.SendData(context.Background(), dev.link, []byte("x"))
	require.ErrorIs(t, err, apperr.ErrDeviceDisconnected)
	require.Equal(t, 1010, apperr.CodeOf(err))

	_, err = m.GetStatus(dev.link)
	require.ErrorIs(t, err, apperr.ErrPortNotOpen)
}

func TestSessionKeepsOutputSentBeforeUnplug(t *testing.T) {
	dev := newDevice(t)
	m := newManager(t)
	_, err := m.OpenPort(dev.link, reconnect(20*time.Millisecond))
	require.NoError(t, err)
	info, err := m.CreateSession(dev.link, session.Options{})
	require.NoError(t, err)

	dev.send("boot banner\r\n")
	time.Sleep(200 * time.Millisecond)
	dev.unplug()
	require.Eventually(t, stateIs(m, dev.link, handle.Reconnecting), 2*time.Second, 5*time.Millisecond)
	dev.plug()
	require.Eventually(t, stateIs(m, dev.link, handle.Open), 2*time.Second, 5*time.Millisecond)

	out, err := m.ReadOutput(context.Background(), info.ID, true)
	require.NoError(t, err)
	require.Equal(t, "boot banner\r\n", string(out.Data))
	require.False(t, out.Truncated)
}

func TestReadDataFeedsSessions(t *testing.T) {
	dev := newDevice(t)
	m := newManager(t)
	_, err := m.OpenPort(dev.link, noReconnect())
	require.NoError(t, err)
	info, err := m.CreateSession(dev.link, session.Options{})
	require.NoError(t, err)

	dev.send("shared")
	require.Eventually(t, func() bool {
		if _, err := m.ReadData(context.Background(), dev.link, 0, 20*time.Millisecond); err != nil {
			return false
		}
		got, err := m.SessionInfo(info.ID)
		return err == nil && got.Buffered == len("shared")
	}, 2*time.Second, 10*time.Millisecond)

	out, err := m.ReadOutput(context.Background(), info.ID, false)
	require.NoError(t, err)
	require.Equal(t, "shared", string(out.Data))
}

func TestOpenRefusesHandleLostBeforeRegistration(t *testing.T) {
	dev := newDevice(t)
	m := newManager(t)
	settings, err := m.store.Resolve(noReconnect())
	require.NoError(t, err)

	h := handle.New(dev.link, handle.DeviceOpener, settings)
	require.NoError(t, h.Open())
	dev.unplug()
	_, err = h.Write(context.Background(), []byte("x"))
	require.ErrorIs(t, err, apperr.ErrDeviceDisconnected)
	require.Equal(t, handle.Closed, h.State())

	err = m.register(h, settings)
	require.ErrorIs(t, err, apperr.ErrDeviceDisconnected)
	require.Equal(t, 1010, apperr.CodeOf(err))
	require.ErrorIs(t, err, serial.ErrDisconnected)

	_, err = m.GetStatus(dev.link)
	require.ErrorIs(t, err, apperr.ErrPortNotOpen)
}

func TestStaleReleaseKeepsReopenedSessions(t *testing.T) {
	dev := newDevice(t)
	m := newManager(t)
	_, err := m.OpenPort(dev.link, noReconnect())
	require.NoError(t, err)
	info, err := m.CreateSession(dev.link, session.Options{})
	require.NoError(t, err)

	settings, err := m.store.Resolve(noReconnect())
	require.NoError(t, err)
	stale := handle.New(dev.link, handle.DeviceOpener, settings)
	m.release(stale, errors.New("device lost"))

	_, err = m.SessionInfo(info.ID)
	require.NoError(t, err)
	st, err := m.GetStatus(dev.link)
	require.NoError(t, err)
	require.Equal(t, handle.Open, st.State)
	require.Equal(t, 1, st.Sessions)
}

func TestDeviceRemovalAndReinsertion(t *testing.T) {
	dev := newDevice(t)
	m := newManager(t)
	_, err := m.OpenPort(dev.link, reconnect(20*time.Millisecond))
	require.NoError(t, err)
	info, err := m.CreateSession(dev.link, session.Options{})
	require.NoError(t, err)

	dev.send("before\r\n")
	require.Eventually(t, func() bool {
		out, err := m.ReadOutput(context.Background(), info.ID, true)
		return err == nil && string(out.Data) == "before\r\n"
	}, 2*time.Second, 10*time.Millisecond)

	dev.unplug()
	require.Eventually(t, stateIs(m, dev.link, handle.Reconnecting), 2*time.Second, 5*time.Millisecond)

	out, err := m.ReadOutput(context.Background(), info.ID, true)
	require.NoError(t, err)
	require.Equal(t, "before\r\n", string(out.Data))

	_, err = m.SendCommand(context.Background(), info.ID, "AT")
	require.ErrorIs(t, err, apperr.ErrDeviceDisconnected)

	dev.plug()
	require.Eventually(t, stateIs(m, dev.link, handle.Open), 2*time.Second, 5*time.Millisecond)

	st, err := m.GetStatus(dev.link)
	require.NoError(t, err)
	require.Equal(t, 1, st.Sessions)

	_, err = m.SendCommand(context.Background(), info.ID, "AT")
	require.NoError(t, err)
	require.Equal(t, "AT\r\n", dev.expect(4))

	dev.send("OK\r\n")
	require.Eventually(t, func() bool {
		out, err := m.ReadOutput(context.Background(), info.ID, true)
		return err == nil && strings.HasSuffix(string(out.Data), "OK\r\n")
	}, 2*time.Second, 10*time.Millisecond)

	out, err = m.ReadOutput(context.Background(), info.ID, false)
	require.NoError(t, err)
	require.Equal(t, "before\r\nOK\r\n", string(out.Data))
}

func TestBlacklistAddedAfterOpenBlocksReconnect(t *testing.T) {
	dev := newDevice(t)
	path := filepath.Join(t.TempDir(), "blacklist.conf")
	require.NoError(t, os.WriteFile(path, []byte("# none yet\n"), 0o600))

	bl, err := blacklist.New(path)
	require.NoError(t, err)
	store, err := config.NewStore("")
	require.NoError(t, err)
	m := New(bl, store)
	t.Cleanup(m.Shutdown)

	_, err = m.OpenPort(dev.link, reconnect(10*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(".*/ttyX\n"), 0o600))
	require.NoError(t, bl.Reload())

	dev.unplug()
	dev.plug()

	require.Eventually(t, func() bool {
		st, err := m.GetStatus(dev.link)
		return err == nil && st.State == handle.Reconnecting && st.Attempts >= 3
	}, 2*time.Second, 5*time.Millisecond)

	st, err := m.GetStatus(dev.link)
	require.NoError(t, err)
	require.ErrorIs(t, st.LastError, apperr.ErrBlacklistedPort)

	_, err = m.OpenPort(dev.link, config.Delta{})
	require.ErrorIs(t, err, apperr.ErrBlacklistedPort)
}

func TestClosePort(t *testing.T) {
	dev := newDevice(t)
	m := newManager(t)
	_, err := m.OpenPort(dev.link, reconnect(time.Hour))
	require.NoError(t, err)
	a, err := m.CreateSession(dev.link, session.Options{})
	require.NoError(t, err)
	b, err := m.CreateSession(dev.link, session.Options{LineEnding: session.LF})
	require.NoError(t, err)

	require.NoError(t, m.ClosePort(dev.link))

	for _, id := range []string{a.ID, b.ID} {
		_, err := m.ReadOutput(context.Background(), id, false)
		require.ErrorIs(t, err, apperr.ErrSessionNotFound)
	}
	require.Empty(t, m.ListSessions())

	err = m.ClosePort(dev.link)
	require.ErrorIs(t, err, apperr.ErrPortNotOpen)
	require.Equal(t, 1004, apperr.CodeOf(err))

	_, err = m.CreateSession(dev.link, session.Options{})
	require.ErrorIs(t, err, apperr.ErrSessionPortNotOpen)

	_, err = m.OpenPort(dev.link, config.Delta{})
	require.NoError(t, err, "port could not be reopened after close")
}

func TestListPortsFiltersBlacklist(t *testing.T) {
	m := newManager(t, "/dev/ttyS[0-9]+")
	m.list = func() ([]serial.PortInfo, error) {
		return []serial.PortInfo{
			{Name: "ttyS0", Path: "/dev/ttyS0"},
			{Name: "ttyUSB0", Path: "/dev/ttyUSB0"},
			{Name: "ttyS1", Path: "/dev/ttyS1"},
		}, nil
	}

	ports, err := m.ListPorts()
	require.NoError(t, err)
	require.Len(t, ports, 1)
	require.Equal(t, "/dev/ttyUSB0", ports[0].Path)
}

func TestShutdownClosesEverything(t *testing.T) {
	devA, devB := newDevice(t), newDevice(t)
	m := newManager(t)
	_, err := m.OpenPort(devA.link, reconnect(time.Hour))
	require.NoError(t, err)
	_, err = m.OpenPort(devB.link, noReconnect())
	require.NoError(t, err)
	_, err = m.CreateSession(devA.link, session.Options{})
	require.NoError(t, err)

	m.Shutdown()
	require.Empty(t, m.Statuses())
	require.Empty(t, m.ListSessions())
}
