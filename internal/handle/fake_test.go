package handle

import (
	"context"
	"sync"
	"time"

	serial "github.com/allbin/uart-mcp"
)

// fakeDevice stands in for a device node that can be unplugged and plugged
// back in.
type fakeDevice struct {
	mu      sync.Mutex
	present bool
	opens   int
	current *fakePort
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{present: true}
}

func (d *fakeDevice) open(id string, cfg serial.Config) (serial.Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if !d.present {
		return nil, serial.ErrDeviceNotFound
	}
	p := &fakePort{
		path:   id,
		cfg:    cfg,
		rx:     make(chan []byte, 16),
		gone:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	d.current = p
	return p, nil
}

func (d *fakeDevice) unplug() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.present = false
	if d.current != nil {
		d.current.unplug()
	}
}

func (d *fakeDevice) plug() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.present = true
}

func (d *fakeDevice) port() *fakePort {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *fakeDevice) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

type fakePort struct {
	path string

	mu           sync.Mutex
	cfg          serial.Config
	written      []byte
	rejectConfig error
	goneOnce     sync.Once
	closeOnce    sync.Once

	rx     chan []byte
	gone   chan struct{}
	closed chan struct{}
}

var _ serial.Port = (*fakePort)(nil)

func (p *fakePort) unplug() {
	p.goneOnce.Do(func() { close(p.gone) })
}

func (p *fakePort) Path() string { return p.path }

func (p *fakePort) Config() serial.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *fakePort) Read(buf []byte) (int, error) {
	return p.ReadContext(context.Background(), buf)
}

func (p *fakePort) ReadContext(ctx context.Context, buf []byte) (int, error) {
	timeout := p.Config().ReadTimeout
	if d, ok := ctx.Deadline(); ok {
		timeout = time.Until(d)
	}
	select {
	case data := <-p.rx:
		return copy(buf, data), nil
	case <-p.gone:
		return 0, serial.ErrDisconnected
	case <-p.closed:
		return 0, serial.ErrPortClosed
	case <-time.After(timeout):
		return 0, serial.ErrReadTimeout
	}
}

func (p *fakePort) Write(data []byte) (int, error) {
	return p.WriteContext(context.Background(), data)
}

func (p *fakePort) WriteContext(ctx context.Context, data []byte) (int, error) {
	select {
	case <-p.gone:
		return 0, serial.ErrDisconnected
	case <-p.closed:
		return 0, serial.ErrPortClosed
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, data...)
	return len(data), nil
}

func (p *fakePort) Reconfigure(cfg serial.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejectConfig != nil {
		return p.rejectConfig
	}
	p.cfg = cfg
	return nil
}

func (p *fakePort) Probe() error {
	select {
	case <-p.gone:
		return serial.ErrDisconnected
	case <-p.closed:
		return serial.ErrPortClosed
	default:
		return nil
	}
}

func (p *fakePort) Close() error {
	err := serial.ErrPortClosed
	p.closeOnce.Do(func() {
		close(p.closed)
		err = nil
	})
	return err
}

func (p *fakePort) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *fakePort) writtenData() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.written)
}
