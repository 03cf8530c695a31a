// Package bluetooth provides printer.Host implementations for the two ways
// cheap thermal printers pair with a till: BLE GATT and classic SPP (RFCOMM
// serial).
package bluetooth

import (
	"errors"
	"strings"
	"sync"
)

// Common errors
var (
	ErrNoDevicesFound         = errors.New("no matching Bluetooth devices found")
	ErrRFCOMMFailed           = errors.New("failed to establish RFCOMM connection")
	ErrPrivilegeRequired      = errors.New("root privileges required for RFCOMM")
	ErrConnectionCanceled     = errors.New("connection canceled")
	ErrNotSupported           = errors.New("operation not supported on this platform")
	ErrCharacteristicNotFound = errors.New("no writable characteristic")
)

// Device is a paired or advertising Bluetooth peripheral
type Device struct {
	Name    string
	Address string // MAC address on Linux, COM port on Windows
}

// parsePaired reads `bluetoothctl devices Paired` output:
// "Device XX:XX:XX:XX:XX:XX DeviceName" per line.
func parsePaired(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Device ") {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(line, "Device "), " ", 2)
		if len(parts) == 2 {
			devices = append(devices, Device{Address: parts[0], Name: parts[1]})
		}
	}
	return devices
}

// pick returns the first device whose name contains want (case-insensitive),
// or the first device when want is empty.
func pick(devices []Device, want string) (Device, bool) {
	want = strings.ToLower(strings.TrimSpace(want))
	for _, d := range devices {
		if want == "" || strings.Contains(strings.ToLower(d.Name), want) || strings.EqualFold(d.Address, want) {
			return d, true
		}
	}
	return Device{}, false
}

// listeners is the disconnect-callback registry shared by link types
type listeners struct {
	mu    sync.Mutex
	next  int
	fns   map[int]func()
	fired bool
}

func (l *listeners) add(fn func()) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func())
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	if l.fired {
		// the link dropped before anyone listened
		go l.late(id)
	}
	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

// late runs a callback registered after fire unless it was unsubscribed
// in the meantime
func (l *listeners) late(id int) {
	l.mu.Lock()
	fn, ok := l.fns[id]
	delete(l.fns, id)
	l.mu.Unlock()
	if ok {
		fn()
	}
}

// fire runs every registered callback once; later calls do nothing.
// Callbacks added after fire run on their own goroutine.
func (l *listeners) fire() {
	l.mu.Lock()
	if l.fired {
		l.mu.Unlock()
		return
	}
	l.fired = true
	fns := make([]func(), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
