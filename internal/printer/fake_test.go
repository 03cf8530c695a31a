package printer

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var errRadio = errors.New("radio error")

type fakeLink struct {
	mu        sync.Mutex
	writes    [][]byte
	failAt    int // 1-based chunk index that fails, 0 for none
	gate      chan struct{}
	entered   chan struct{}
	listeners map[int]func()
	next      int
	closed    bool

	listenersAtClose int

	// afterWrite runs once a chunk is recorded, with its 1-based index
	afterWrite func(n int)
}

func newFakeLink() *fakeLink {
	return &fakeLink{listeners: make(map[int]func())}
}

func (l *fakeLink) Write(ctx context.Context, chunk []byte) error {
	l.mu.Lock()
	gate, entered := l.gate, l.entered
	l.mu.Unlock()
	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errors.New("link closed")
	}
	if l.failAt == len(l.writes)+1 {
		l.mu.Unlock()
		return errRadio
	}
	l.writes = append(l.writes, append([]byte(nil), chunk...))
	n, after := len(l.writes), l.afterWrite
	l.mu.Unlock()
	if after != nil {
		after(n)
	}
	return nil
}

func (l *fakeLink) OnDisconnect(fn func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.next
	l.next++
	l.listeners[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.listenersAtClose = len(l.listeners)
	return nil
}

// Drop simulates the peripheral going away
func (l *fakeLink) Drop() {
	l.mu.Lock()
	fns := make([]func(), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (l *fakeLink) Writes() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.writes...)
}

func (l *fakeLink) Closed() (closed bool, listenersAtClose int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed, l.listenersAtClose
}

func (l *fakeLink) Listeners() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.listeners)
}

type fakeHost struct {
	mu          sync.Mutex
	handle      Handle
	discoverErr error
	// connectErrs is consumed one per Connect call; once empty, connectErr applies
	connectErrs []error
	connectErr  error
	failAt      int
	discovers   int
	connects    int
	links       []*fakeLink
}

func newFakeHost() *fakeHost {
	return &fakeHost{handle: Handle{ID: "AA:BB:CC:DD:EE:FF", Name: "MTP-II"}}
}

func (h *fakeHost) Discover(ctx context.Context, service string) (Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.discovers++
	if h.discoverErr != nil {
		return Handle{}, h.discoverErr
	}
	return h.handle, nil
}

func (h *fakeHost) Connect(ctx context.Context, hd Handle, service, characteristic string) (Link, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connects++
	err := h.connectErr
	if len(h.connectErrs) > 0 {
		err, h.connectErrs = h.connectErrs[0], h.connectErrs[1:]
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", hd.ID, err)
	}
	l := newFakeLink()
	l.failAt = h.failAt
	h.links = append(h.links, l)
	return l, nil
}

func (h *fakeHost) Counts() (discovers, connects int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.discovers, h.connects
}

func (h *fakeHost) Link(i int) *fakeLink {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.links[i]
}

func (h *fakeHost) Links() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.links)
}

func (h *fakeHost) SetConnectErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectErr = err
}

type recorder struct {
	mu  sync.Mutex
	got []Status
}

func (r *recorder) OnStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, s)
}

func (r *recorder) All() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.got...)
}

func (r *recorder) Names() []string {
	var out []string
	for _, s := range r.All() {
		out = append(out, s.String())
	}
	return out
}

func (r *recorder) Last() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.got) == 0 {
		return Status{}
	}
	return r.got[len(r.got)-1]
}

func (r *recorder) Seen(name string) bool {
	for _, n := range r.Names() {
		if n == name {
			return true
		}
	}
	return false
}
