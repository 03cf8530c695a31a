package printer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Reconnection defaults
const (
	DefaultReconnectDelay = 2 * time.Second
	DefaultMaxAttempts    = 5
)

// Options configures a Manager. Host is required.
type Options struct {
	Host           Host
	Service        string
	Characteristic string
	MaxChunk       int
	ReconnectDelay time.Duration
	MaxAttempts    int

	Logger   *zap.Logger
	Meter    metric.Meter
	Observer Observer
}

func (o *Options) defaults() {
	if o.Service == "" {
		o.Service = DefaultService
	}
	if o.Characteristic == "" {
		o.Characteristic = DefaultCharacteristic
	}
	if o.MaxChunk <= 0 {
		o.MaxChunk = DefaultMaxChunk
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Manager is the connection to one paired printer. It is the only writer of
// its state; no lock is held while talking to the radio.
type Manager struct {
	opts    Options
	log     *zap.Logger
	metrics *metrics
	obs     observers

	mu          sync.Mutex
	status      Status
	handle      *Handle
	link        Link
	unsubscribe func()
	cancel      context.CancelFunc // running reconnect loop
	gen         uint64             // bumped by every teardown
	printing    bool
}

// NewManager returns a disconnected manager
func NewManager(opts Options) (*Manager, error) {
	if opts.Host == nil {
		return nil, errors.New("printer: nil host")
	}
	opts.defaults()

	met, err := newMetrics(opts.Meter)
	if err != nil {
		return nil, fmt.Errorf("printer: metrics: %w", err)
	}

	m := &Manager{
		opts:    opts,
		log:     opts.Logger.Named("printer"),
		metrics: met,
		status:  Status{State: Disconnected},
	}
	if opts.Observer != nil {
		m.obs.add(opts.Observer)
	}
	return m, nil
}

// Subscribe registers an additional observer
func (m *Manager) Subscribe(o Observer) (cancel func()) {
	return m.obs.add(o)
}

// State returns the latest status
func (m *Manager) State() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// IsConnected reports whether prints are currently accepted
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.State == Connected
}

// Connect discovers the printer and opens a link to it. Calling Connect while
// connected returns the current device name. After GaveUp the old handle is
// gone, so discovery always runs again.
func (m *Manager) Connect(ctx context.Context) (string, error) {
	m.mu.Lock()
	switch m.status.State {
	case Connected:
		name := m.status.Device
		m.mu.Unlock()
		return name, nil
	case Connecting, Reconnecting:
		state := m.status.State
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrBusy, state)
	}
	m.gen++
	gen := m.gen
	m.handle = nil
	st := m.setLocked(Status{State: Connecting, Message: "Searching for printer..."})
	m.mu.Unlock()
	m.notify(st)

	h, err := m.opts.Host.Discover(ctx, m.opts.Service)
	if err != nil {
		return "", m.failConnect(gen, fmt.Errorf("%w: %w", ErrDiscovery, err))
	}
	m.log.Debug("discovered", zap.String("id", h.ID), zap.String("name", h.Name))

	link, err := m.opts.Host.Connect(ctx, h, m.opts.Service, m.opts.Characteristic)
	if err != nil {
		return "", m.failConnect(gen, fmt.Errorf("%w: %s: %w", ErrLink, h.Name, err))
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		_ = link.Close()
		return "", fmt.Errorf("%w: connect to %s interrupted by disconnect", ErrLink, h.Name)
	}
	m.attachLocked(h, link)
	st = m.setLocked(Status{State: Connected, Device: h.Name, Message: "Connected to " + h.Name})
	m.mu.Unlock()
	m.notify(st)
	return h.Name, nil
}

func (m *Manager) failConnect(gen uint64, err error) error {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return err
	}
	m.handle = nil
	st := m.setLocked(Status{State: Disconnected, Message: "Connection failed", Err: err})
	m.mu.Unlock()
	m.notify(st)
	return err
}

// Disconnect tears the link down from any state and stops reconnection.
// The disconnect listener is removed before the link is closed so a manual
// disconnect never looks like a dropped link.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	unsubscribe, link := m.unsubscribe, m.link
	m.unsubscribe, m.link, m.handle = nil, nil, nil
	prev := m.status.State
	st := m.setLocked(Status{State: Disconnected, Message: "Disconnected"})
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	var err error
	if link != nil {
		err = link.Close()
	}
	if prev != Disconnected {
		m.notify(st)
	}
	return err
}

// Print streams buf to the printer. It fails immediately with
// ErrNotConnected unless connected, and with ErrBusy while another print is
// in flight. A failed chunk abandons the document and starts reconnection.
func (m *Manager) Print(ctx context.Context, buf []byte) error {
	m.mu.Lock()
	if m.status.State != Connected {
		err := fmt.Errorf("%w (%s)", ErrNotConnected, m.status)
		st := m.status
		m.mu.Unlock()
		m.report(st, err)
		return err
	}
	if m.printing {
		st := m.status
		m.mu.Unlock()
		m.report(st, ErrBusy)
		return ErrBusy
	}
	m.printing = true
	link := m.link
	handle := m.handle
	gen := m.gen
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.printing = false
		m.mu.Unlock()
	}()

	if link == nil && handle != nil {
		var err error
		if link, err = m.relink(ctx, gen, *handle); err != nil {
			m.report(m.State(), err)
			return err
		}
	}
	if link == nil {
		err := fmt.Errorf("%w: no link", ErrNotConnected)
		m.report(m.State(), err)
		return err
	}

	t := NewChunkedTransport(link, m.opts.MaxChunk)
	t.Sent = func(int) { m.metrics.chunks.Add(ctx, 1) }
	if err := t.Send(ctx, buf); err != nil {
		m.log.Warn("print failed", zap.Int("bytes", len(buf)), zap.Error(err))
		if errors.Is(err, ErrTransport) {
			m.onLinkLost(link, err)
		} else {
			m.report(m.State(), err)
		}
		return err
	}

	m.metrics.documents.Add(ctx, 1)
	m.metrics.bytes.Record(ctx, int64(len(buf)))
	m.log.Debug("printed", zap.Int("bytes", len(buf)))
	return nil
}

// relink makes one inline attempt to reopen a link to h while the manager
// still believes it is connected.
func (m *Manager) relink(ctx context.Context, gen uint64, h Handle) (Link, error) {
	m.log.Info("link missing while connected, reconnecting inline", zap.String("device", h.Name))
	link, err := m.opts.Host.Connect(ctx, h, m.opts.Service, m.opts.Characteristic)
	if err != nil {
		return nil, fmt.Errorf("%w: inline reconnect to %s: %w", ErrNotConnected, h.Name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.status.State != Connected {
		_ = link.Close()
		return nil, fmt.Errorf("%w: disconnected during inline reconnect", ErrNotConnected)
	}
	m.attachLocked(h, link)
	return link, nil
}

// onLinkLost handles a dropped link, whether reported by the peripheral or
// by a failed write. Events for a link that is no longer current are ignored.
func (m *Manager) onLinkLost(link Link, cause error) {
	m.mu.Lock()
	if m.link != link || m.status.State != Connected || m.handle == nil {
		m.mu.Unlock()
		return
	}
	unsubscribe := m.unsubscribe
	m.unsubscribe, m.link = nil, nil
	m.gen++
	gen := m.gen
	h := *m.handle
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	st := m.setLocked(Status{
		State:   Reconnecting,
		Device:  h.Name,
		Message: "Connection lost, reconnecting...",
		Err:     cause,
	})
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	_ = link.Close()
	m.notify(st)

	go m.reconnect(ctx, cancel, gen, h)
}

func (m *Manager) reconnect(ctx context.Context, cancel context.CancelFunc, gen uint64, h Handle) {
	defer cancel()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.opts.ReconnectDelay), uint64(m.opts.MaxAttempts)),
		ctx,
	)

	attempt := 0
	for ; ; attempt++ {
		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		if attempt > 0 && !m.transition(gen, Status{
			State:   Reconnecting,
			Attempt: attempt,
			Device:  h.Name,
			Message: fmt.Sprintf("Reconnecting (%d/%d)...", attempt+1, m.opts.MaxAttempts),
		}) {
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		m.metrics.attempts.Add(ctx, 1)
		link, err := m.opts.Host.Connect(ctx, h, m.opts.Service, m.opts.Characteristic)
		if err != nil {
			m.log.Warn("reconnect failed", zap.Int("attempt", attempt), zap.String("device", h.Name), zap.Error(err))
			continue
		}

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			_ = link.Close()
			return
		}
		m.attachLocked(h, link)
		m.cancel = nil
		st := m.setLocked(Status{State: Connected, Device: h.Name, Message: "Reconnected to " + h.Name})
		m.mu.Unlock()
		m.notify(st)
		return
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.handle = nil
	m.cancel = nil
	st := m.setLocked(Status{
		State:   GaveUp,
		Device:  h.Name,
		Message: "Printer unreachable, connect again",
		Err:     fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, attempt),
	})
	m.mu.Unlock()
	m.notify(st)
}

// transition sets st if no teardown happened since gen
func (m *Manager) transition(gen uint64, st Status) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	st = m.setLocked(st)
	m.mu.Unlock()
	m.notify(st)
	return true
}

// attachLocked makes link current and listens for its disconnect event
func (m *Manager) attachLocked(h Handle, link Link) {
	m.handle = &h
	m.link = link
	m.unsubscribe = link.OnDisconnect(func() {
		m.onLinkLost(link, fmt.Errorf("%w: peripheral disconnected", ErrLink))
	})
}

func (m *Manager) setLocked(st Status) Status {
	st.Connected = st.State == Connected
	m.status = st
	return st
}

func (m *Manager) notify(st Status) {
	fields := []zap.Field{zap.Stringer("state", st), zap.String("device", st.Device)}
	if st.Err != nil {
		fields = append(fields, zap.Error(st.Err))
	}
	m.log.Info("printer status", fields...)
	m.obs.publish(st)
}

// report tells observers about an error returned to a caller without
// changing state
func (m *Manager) report(st Status, err error) {
	st.Err = err
	st.Message = err.Error()
	m.obs.publish(st)
}
