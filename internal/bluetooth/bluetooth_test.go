package bluetooth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillprint/internal/printer"
)

var (
	_ printer.Link = (*bleLink)(nil)
	_ printer.Link = (*serialLink)(nil)
	_ printer.Host = (*SerialHost)(nil)
	_ printer.Host = (*BLEHost)(nil)
)

func TestParsePaired(t *testing.T) {
	out := "Device 66:22:B3:01:9A:10 MTP-II\nDevice 00:11:22:33:44:55 Living Room Speaker\n\nsomething else\n"
	devices := parsePaired(out)
	assert.Equal(t, []Device{
		{Name: "MTP-II", Address: "66:22:B3:01:9A:10"},
		{Name: "Living Room Speaker", Address: "00:11:22:33:44:55"},
	}, devices)
}

func TestPick(t *testing.T) {
	devices := []Device{{Name: "Speaker", Address: "A"}, {Name: "MTP-II printer", Address: "B"}}

	d, ok := pick(devices, "")
	require.True(t, ok)
	assert.Equal(t, "A", d.Address)

	d, ok = pick(devices, "mtp")
	require.True(t, ok)
	assert.Equal(t, "B", d.Address)

	d, ok = pick(devices, "b")
	require.True(t, ok, "address match")
	assert.Equal(t, "B", d.Address)

	_, ok = pick(devices, "zebra")
	assert.False(t, ok)
}

func TestListenersFireOnce(t *testing.T) {
	var l listeners
	var a, b int32
	l.add(func() { atomic.AddInt32(&a, 1) })
	unsub := l.add(func() { atomic.AddInt32(&b, 1) })
	unsub()

	l.fire()
	l.fire()
	assert.Equal(t, int32(1), atomic.LoadInt32(&a))
	assert.Zero(t, atomic.LoadInt32(&b))
}

func TestListenerAddedAfterFireStillRuns(t *testing.T) {
	var l listeners
	l.fire()

	ran := make(chan struct{})
	l.add(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("late listener never ran")
	}

	var dropped int32
	unsub := l.add(func() { atomic.AddInt32(&dropped, 1) })
	unsub()
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&dropped), "unsubscribed before it ran")
}

func TestBLELinkDropBeforeSubscribe(t *testing.T) {
	client := &fakeGATT{gone: make(chan struct{})}
	link := newBLELink(client, char(printer.DefaultCharacteristic, ble.CharWrite))
	close(client.gone)
	time.Sleep(10 * time.Millisecond)

	fired := make(chan struct{})
	link.OnDisconnect(func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("disconnect before subscribe was lost")
	}
}

func char(uuid string, prop ble.Property) *ble.Characteristic {
	return &ble.Characteristic{UUID: ble.MustParse(uuid), Property: prop}
}

func TestResolveCharacteristic(t *testing.T) {
	notify := char("00002af0-0000-1000-8000-00805f9b34fb", ble.CharNotify)
	write := char(printer.DefaultCharacteristic, ble.CharWrite|ble.CharWriteNR)
	other := char("49535343-8841-43f4-a8d4-ecbe34729bb3", ble.CharWrite)

	printerSvc := &ble.Service{UUID: ble.MustParse(printer.DefaultService), Characteristics: []*ble.Characteristic{notify, write}}
	otherSvc := &ble.Service{UUID: ble.MustParse("49535343-fe7d-4ae5-8fa9-9fafd205e455"), Characteristics: []*ble.Characteristic{other}}

	t.Run("exact", func(t *testing.T) {
		p := &ble.Profile{Services: []*ble.Service{otherSvc, printerSvc}}
		c, err := resolveCharacteristic(p, printer.DefaultService, printer.DefaultCharacteristic)
		require.NoError(t, err)
		assert.Same(t, write, c)
	})

	t.Run("first writable in service", func(t *testing.T) {
		p := &ble.Profile{Services: []*ble.Service{otherSvc, printerSvc}}
		c, err := resolveCharacteristic(p, printer.DefaultService, "0000ffff-0000-1000-8000-00805f9b34fb")
		require.NoError(t, err)
		assert.Same(t, write, c)
	})

	t.Run("first writable anywhere", func(t *testing.T) {
		p := &ble.Profile{Services: []*ble.Service{otherSvc}}
		c, err := resolveCharacteristic(p, printer.DefaultService, printer.DefaultCharacteristic)
		require.NoError(t, err)
		assert.Same(t, other, c)
	})

	t.Run("16-bit service", func(t *testing.T) {
		short := &ble.Service{UUID: ble.UUID16(0x18f0), Characteristics: []*ble.Characteristic{notify, write}}
		p := &ble.Profile{Services: []*ble.Service{otherSvc, short}}
		c, err := resolveCharacteristic(p, printer.DefaultService, printer.DefaultCharacteristic)
		require.NoError(t, err)
		assert.Same(t, write, c)
	})

	t.Run("none", func(t *testing.T) {
		p := &ble.Profile{Services: []*ble.Service{{UUID: ble.MustParse(printer.DefaultService), Characteristics: []*ble.Characteristic{notify}}}}
		_, err := resolveCharacteristic(p, printer.DefaultService, printer.DefaultCharacteristic)
		assert.ErrorIs(t, err, ErrCharacteristicNotFound)
	})

	t.Run("bad uuid", func(t *testing.T) {
		_, err := resolveCharacteristic(&ble.Profile{}, "not-a-uuid", "")
		assert.Error(t, err)
	})
}

type fakeGATT struct {
	mu       sync.Mutex
	writes   [][]byte
	noRsp    []bool
	canceled bool
	gone     chan struct{}
	err      error
}

func (f *fakeGATT) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, append([]byte(nil), value...))
	f.noRsp = append(f.noRsp, noRsp)
	return nil
}

func (f *fakeGATT) CancelConnection() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = true
	return nil
}

func (f *fakeGATT) Disconnected() <-chan struct{} { return f.gone }

func TestBLELinkWritesAndReportsDisconnect(t *testing.T) {
	client := &fakeGATT{gone: make(chan struct{})}
	link := newBLELink(client, char(printer.DefaultCharacteristic, ble.CharWriteNR))

	require.NoError(t, link.Write(context.Background(), []byte{0x1B, 0x40}))
	assert.Equal(t, [][]byte{{0x1B, 0x40}}, client.writes)
	assert.Equal(t, []bool{true}, client.noRsp, "write without response when supported")

	fired := make(chan struct{})
	link.OnDisconnect(func() { close(fired) })
	close(client.gone)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("disconnect not reported")
	}
}

func TestBLELinkCloseDoesNotReport(t *testing.T) {
	client := &fakeGATT{gone: make(chan struct{})}
	link := newBLELink(client, char(printer.DefaultCharacteristic, ble.CharWrite))

	var fired int32
	link.OnDisconnect(func() { atomic.AddInt32(&fired, 1) })
	require.NoError(t, link.Close())
	close(client.gone)
	time.Sleep(10 * time.Millisecond)

	assert.True(t, client.canceled)
	assert.Zero(t, atomic.LoadInt32(&fired))
	assert.Error(t, link.Write(context.Background(), []byte{1}))
	assert.NoError(t, link.Close(), "close is idempotent")
}

type fakePort struct {
	mu     sync.Mutex
	data   []byte
	max    int
	err    error
	closed bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	n := len(b)
	if p.max > 0 && n > p.max {
		n = p.max
	}
	p.data = append(p.data, b[:n]...)
	return n, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeDevice struct {
	present atomic.Bool
	closed  atomic.Bool
}

func (d *fakeDevice) ready() bool  { return d.present.Load() }
func (d *fakeDevice) Close() error { d.closed.Store(true); return nil }

func TestSerialLinkHandlesShortWrites(t *testing.T) {
	port := &fakePort{max: 3}
	dev := &fakeDevice{}
	dev.present.Store(true)
	link := newSerialLink(port, dev, time.Hour)
	defer link.Close()

	require.NoError(t, link.Write(context.Background(), []byte("hello world")))
	assert.Equal(t, "hello world", string(port.data))
}

func TestSerialLinkWriteError(t *testing.T) {
	port := &fakePort{err: errors.New("io")}
	dev := &fakeDevice{}
	dev.present.Store(true)
	link := newSerialLink(port, dev, time.Hour)
	defer link.Close()

	assert.Error(t, link.Write(context.Background(), []byte("x")))
}

func TestSerialLinkReportsVanishedDevice(t *testing.T) {
	dev := &fakeDevice{}
	dev.present.Store(true)
	link := newSerialLink(&fakePort{}, dev, time.Millisecond)
	defer link.Close()

	fired := make(chan struct{})
	link.OnDisconnect(func() { close(fired) })
	dev.present.Store(false)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("disconnect not reported")
	}
}

func TestSerialLinkCloseReleasesDevice(t *testing.T) {
	port := &fakePort{}
	dev := &fakeDevice{}
	dev.present.Store(true)
	link := newSerialLink(port, dev, time.Hour)

	require.NoError(t, link.Close())
	assert.True(t, port.closed)
	assert.True(t, dev.closed.Load())
}
