package serial

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// Port represents a serial port connection interface
type Port interface {
	Path() string
	Config() Config
	Read(buf []byte) (int, error)
	ReadContext(ctx context.Context, buf []byte) (int, error)
	Write(data []byte) (int, error)
	WriteContext(ctx context.Context, data []byte) (int, error)

	// Reconfigure applies cfg to the open device without closing it.
	Reconfigure(cfg Config) error
	// Probe returns ErrDisconnected when the device has gone away.
	Probe() error
	Close() error
}

// port is the concrete implementation of the Port interface.
//
// Read and Write hold mu shared, so a read and a write may be in flight
// together. Reconfigure and Close take it exclusively. Blocked I/O polls in
// short slices and releases the shared lock between slices whenever a
// Reconfigure is waiting.
type port struct {
	mu      sync.RWMutex
	path    string
	fd      int
	wakeR   int
	wakeW   int
	config  Config
	closed  atomic.Bool
	pending atomic.Int32
}

// Ensure port implements Port interface at compile time
var _ Port = (*port)(nil)

const pollSlice = 50 * time.Millisecond

// getBaudRate converts an integer baud rate to the unix constant
func getBaudRate(rate int) (uint32, error) {
	switch rate {
	case 600:
		return unix.B600, nil
	case 1200:
		return unix.B1200, nil
	case 2400:
		return unix.B2400, nil
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	case 921600:
		return unix.B921600, nil
	default:
		return 0, ErrInvalidBaudRate
	}
}

// setDTR sets DTR signal state
func setDTR(fd int, state bool) error {
	if state {
		return unix.IoctlSetInt(fd, unix.TIOCMBIS, unix.TIOCM_DTR)
	}
	return unix.IoctlSetInt(fd, unix.TIOCMBIC, unix.TIOCM_DTR)
}

// Open opens a serial port with the given device path and options.
// The device is locked with flock so a second Open of the same path fails
// with ErrDeviceInUse until the first one is closed.
func Open(device string, opts ...Option) (Port, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return nil, err
		}
	}

	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, classifyOpenError(err))
	}

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("open %s: %w", device, ErrDeviceInUse)
		}
		return nil, fmt.Errorf("lock %s: %w", device, err)
	}

	if err := configurePort(fd, config); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("configure %s: %w", device, err)
	}

	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("wake pipe: %w", err)
	}

	if config.FlowControl == FlowControlDSRDTR {
		// Not every driver implements modem lines (ptys do not).
		_ = setDTR(fd, true)
	}

	return &port{
		path:   device,
		fd:     fd,
		wakeR:  pipe[0],
		wakeW:  pipe[1],
		config: config,
	}, nil
}

func classifyOpenError(err error) error {
	switch {
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO):
		return fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case errors.Is(err, unix.EBUSY):
		return fmt.Errorf("%w: %w", ErrDeviceInUse, err)
	}
	return err
}

// classifyIOError maps errno values that mean the device is gone.
func classifyIOError(err error) error {
	switch {
	case errors.Is(err, unix.EIO), errors.Is(err, unix.ENXIO), errors.Is(err, unix.ENODEV),
		errors.Is(err, unix.EBADF), errors.Is(err, unix.EPIPE):
		return fmt.Errorf("%w: %w", ErrDisconnected, err)
	}
	return err
}

// configurePort reads the current termios, applies config and writes it back.
func configurePort(fd int, config Config) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("failed to get termios: %w", err)
	}
	if err := applyConfig(termios, config); err != nil {
		return err
	}
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("failed to set termios: %w", err)
	}
	return nil
}

// applyConfig puts termios into raw mode with the framing from config.
// VMIN and VTIME are zero; timeouts are enforced with poll.
func applyConfig(termios *unix.Termios, config Config) error {
	baudRate, err := getBaudRate(config.BaudRate)
	if err != nil {
		return err
	}

	termios.Cflag = unix.CREAD | unix.CLOCAL | baudRate
	termios.Iflag = 0
	termios.Oflag = 0
	termios.Lflag = 0
	termios.Ispeed = baudRate
	termios.Ospeed = baudRate
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 0

	switch config.DataBits {
	case 5:
		termios.Cflag |= unix.CS5
	case 6:
		termios.Cflag |= unix.CS6
	case 7:
		termios.Cflag |= unix.CS7
	case 8:
		termios.Cflag |= unix.CS8
	default:
		return &FieldError{Field: "bytesize", Value: config.DataBits}
	}

	// The UART sends 1.5 stop bits for CSTOPB when the frame has 5 data bits.
	if config.StopBits != StopBitsOne {
		termios.Cflag |= unix.CSTOPB
	}

	switch config.Parity {
	case ParityEven:
		termios.Cflag |= unix.PARENB
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
	case ParityMark:
		termios.Cflag |= unix.PARENB | unix.CMSPAR | unix.PARODD
	case ParitySpace:
		termios.Cflag |= unix.PARENB | unix.CMSPAR
	}

	switch config.FlowControl {
	case FlowControlXONXOFF:
		termios.Iflag |= unix.IXON | unix.IXOFF
	case FlowControlRTSCTS:
		termios.Cflag |= unix.CRTSCTS
	}

	return nil
}

func (p *port) Path() string {
	return p.path
}

// Config returns the configuration currently applied to the device.
func (p *port) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config
}

// Close closes the serial port. Reads and writes blocked on the port return
// ErrPortClosed right away.
func (p *port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrPortClosed
	}
	_, _ = unix.Write(p.wakeW, []byte{0})

	p.mu.Lock()
	defer p.mu.Unlock()

	_ = unix.Flock(p.fd, unix.LOCK_UN)
	err := unix.Close(p.fd)
	unix.Close(p.wakeR)
	unix.Close(p.wakeW)
	if err != nil {
		return fmt.Errorf("close %s: %w", p.path, err)
	}
	return nil
}

// Reconfigure applies cfg on the live file descriptor. If the device rejects
// it the previous termios is restored and the old Config stays in effect.
func (p *port) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	p.pending.Add(1)
	p.mu.Lock()
	p.pending.Add(-1)
	defer p.mu.Unlock()

	if p.closed.Load() {
		return ErrPortClosed
	}

	prev, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return classifyIOError(err)
	}
	next := *prev
	if err := applyConfig(&next, cfg); err != nil {
		return err
	}
	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS, &next); err != nil {
		_ = unix.IoctlSetTermios(p.fd, unix.TCSETS, prev)
		return fmt.Errorf("failed to set termios: %w", classifyIOError(err))
	}
	if cfg.FlowControl == FlowControlDSRDTR {
		_ = setDTR(p.fd, true)
	}

	p.config = cfg
	return nil
}

// Read reads into buf, waiting at most the configured read timeout.
func (p *port) Read(buf []byte) (int, error) {
	return p.ReadContext(context.Background(), buf)
}

// ReadContext returns as soon as any bytes are available. It returns
// ErrReadTimeout when the read timeout elapses with nothing to read. A ctx
// deadline replaces the configured read timeout.
func (p *port) ReadContext(ctx context.Context, buf []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return 0, ErrPortClosed
	}
	if len(buf) == 0 {
		return 0, nil
	}

	deadline := ioDeadline(ctx, p.config.ReadTimeout)
	for {
		if err := cancelled(ctx); err != nil {
			return 0, err
		}

		ready, err := p.wait(unix.POLLIN, sliceUntil(deadline))
		if err != nil {
			return 0, err
		}
		if ready {
			n, err := unix.Read(p.fd, buf)
			switch {
			case err == nil && n > 0:
				return n, nil
			case err == nil:
				// Readable but empty: the other end hung up.
				return 0, ErrDisconnected
			case !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR):
				return 0, classifyIOError(err)
			}
		}

		if !time.Now().Before(deadline) {
			return 0, ErrReadTimeout
		}
		if err := p.yield(); err != nil {
			return 0, err
		}
	}
}

// Write writes data, waiting at most the configured write timeout.
func (p *port) Write(data []byte) (int, error) {
	return p.WriteContext(context.Background(), data)
}

// WriteContext returns the number of bytes accepted by the driver. On
// timeout the count is partial and the error is ErrWriteTimeout. A ctx
// deadline replaces the configured write timeout.
func (p *port) WriteContext(ctx context.Context, data []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return 0, ErrPortClosed
	}

	deadline := ioDeadline(ctx, p.config.WriteTimeout)
	written := 0
	for written < len(data) {
		if err := cancelled(ctx); err != nil {
			return written, err
		}

		n, err := unix.Write(p.fd, data[written:])
		if n > 0 {
			written += n
		}
		if err != nil && !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
			return written, classifyIOError(err)
		}
		if written == len(data) {
			break
		}

		if !time.Now().Before(deadline) {
			return written, ErrWriteTimeout
		}
		if _, err := p.wait(unix.POLLOUT, sliceUntil(deadline)); err != nil {
			return written, err
		}
		if err := p.yield(); err != nil {
			return written, err
		}
	}
	return written, nil
}

// Probe checks the device without transferring data.
func (p *port) Probe() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return ErrPortClosed
	}

	fds := []unix.PollFd{{Fd: int32(p.fd)}}
	if _, err := unix.Poll(fds, 0); err != nil && !errors.Is(err, unix.EINTR) {
		return classifyIOError(err)
	}
	if fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		return ErrDisconnected
	}
	if _, err := unix.IoctlGetTermios(p.fd, unix.TCGETS); err != nil {
		return classifyIOError(err)
	}
	if _, err := os.Stat(p.path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s removed", ErrDisconnected, p.path)
	}
	return nil
}

// wait polls the device for events and the wake pipe for Close. It reports
// whether the device is ready for events.
func (p *port) wait(events int16, d time.Duration) (bool, error) {
	fds := []unix.PollFd{
		{Fd: int32(p.fd), Events: events},
		{Fd: int32(p.wakeR), Events: unix.POLLIN},
	}
	n, err := unix.Poll(fds, int(d/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, classifyIOError(err)
	}
	if n == 0 {
		return false, nil
	}
	if fds[1].Revents != 0 {
		return false, ErrPortClosed
	}
	revents := fds[0].Revents
	if revents&events != 0 {
		return true, nil
	}
	if revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		return false, ErrDisconnected
	}
	return false, nil
}

// yield lets a waiting Reconfigure run. The caller must hold mu shared.
func (p *port) yield() error {
	if p.pending.Load() > 0 {
		p.mu.RUnlock()
		p.mu.RLock()
	}
	if p.closed.Load() {
		return ErrPortClosed
	}
	return nil
}

func ioDeadline(ctx context.Context, timeout time.Duration) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(timeout)
}

// cancelled returns ctx's error unless it only reports an expired deadline,
// which callers treat as an ordinary timeout.
func cancelled(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func sliceUntil(deadline time.Time) time.Duration {
	d := time.Until(deadline)
	if d < 0 {
		return 0
	}
	if d > pollSlice {
		return pollSlice
	}
	return d
}
