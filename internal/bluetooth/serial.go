package bluetooth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"tillprint/internal/printer"
)

// SerialOptions configures the SPP host
type SerialOptions struct {
	// Name selects a paired device by name or address; empty takes the first
	Name         string
	Channel      int
	BaudRate     int
	PollInterval time.Duration
	Logger       *zap.Logger
}

// SerialHost reaches SPP printers through an RFCOMM serial device
type SerialHost struct {
	opts SerialOptions
	log  *zap.Logger
}

// NewSerialHost returns an RFCOMM/serial host
func NewSerialHost(opts SerialOptions) *SerialHost {
	if opts.Channel <= 0 {
		opts.Channel = 1
	}
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &SerialHost{opts: opts, log: opts.Logger.Named("rfcomm")}
}

// Discover picks a paired device. SPP printers do not advertise GATT
// services, so service is not used for filtering.
func (h *SerialHost) Discover(ctx context.Context, service string) (printer.Handle, error) {
	devices, err := ListPairedDevices(ctx)
	if err != nil {
		return printer.Handle{}, err
	}
	d, ok := pick(devices, h.opts.Name)
	if !ok {
		return printer.Handle{}, ErrNoDevicesFound
	}
	h.log.Debug("paired device", zap.String("name", d.Name), zap.String("address", d.Address))
	return printer.Handle{ID: d.Address, Name: d.Name}, nil
}

// Connect binds an RFCOMM device for hd and opens it as a serial port
func (h *SerialHost) Connect(ctx context.Context, hd printer.Handle, service, characteristic string) (printer.Link, error) {
	conn, err := establishRFCOMM(ctx, hd.ID, h.opts.Channel, h.log)
	if err != nil {
		return nil, err
	}

	port, err := openPort(conn.DevicePath, h.opts.BaudRate)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return newSerialLink(port, conn, h.opts.PollInterval), nil
}

// Devices lists paired devices
func (h *SerialHost) Devices(ctx context.Context, _ string) ([]Device, error) {
	return ListPairedDevices(ctx)
}

func openPort(path string, baud int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", path, err)
	}
	return port, nil
}

// ListSerialPorts returns RFCOMM devices plus whatever the serial driver
// enumerates, for manual selection.
func ListSerialPorts() ([]string, error) {
	ports, _ := existingRFCOMM()
	seen := make(map[string]bool, len(ports))
	for _, p := range ports {
		seen[p] = true
	}
	more, err := serial.GetPortsList()
	if err != nil {
		return ports, err
	}
	for _, p := range more {
		if !seen[p] {
			ports = append(ports, p)
		}
	}
	return ports, nil
}

type writeCloser interface {
	Write(p []byte) (int, error)
	Close() error
}

type deviceConn interface {
	ready() bool
	Close() error
}

// serialLink writes to an open port and reports a disconnect when the RFCOMM
// device node goes away
type serialLink struct {
	mu   sync.Mutex
	port writeCloser
	conn deviceConn

	lost      listeners
	done      chan struct{}
	closeOnce sync.Once
}

func newSerialLink(p writeCloser, conn deviceConn, poll time.Duration) *serialLink {
	l := &serialLink{port: p, conn: conn, done: make(chan struct{})}
	go l.watch(poll)
	return l
}

func (l *serialLink) watch(poll time.Duration) {
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-t.C:
			if !l.conn.ready() {
				l.lost.fire()
				return
			}
		}
	}
}

func (l *serialLink) Write(ctx context.Context, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(chunk) > 0 {
		n, err := l.port.Write(chunk)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("short write")
		}
		chunk = chunk[n:]
	}
	return nil
}

func (l *serialLink) OnDisconnect(fn func()) func() {
	return l.lost.add(fn)
}

func (l *serialLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.mu.Lock()
		err = l.port.Close()
		l.mu.Unlock()
		if cerr := l.conn.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
