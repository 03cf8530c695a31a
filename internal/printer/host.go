// Package printer owns the connection to the till's receipt printer: it
// discovers the peripheral, keeps the link alive, reconnects a bounded number
// of times when the link drops, and streams command buffers in chunks.
package printer

import "context"

// Default GATT identifiers used by most 58mm BLE thermal printers
const (
	DefaultService        = "000018f0-0000-1000-8000-00805f9b34fb"
	DefaultCharacteristic = "00002af1-0000-1000-8000-00805f9b34fb"
)

// Handle identifies a discovered peripheral
type Handle struct {
	ID   string // address, COM port, or platform identifier
	Name string // advertised name shown to the cashier
}

// Host is the platform radio: it finds the printer and opens links to it
type Host interface {
	// Discover returns the first peripheral advertising service
	Discover(ctx context.Context, service string) (Handle, error)
	// Connect opens a link to h and resolves the write characteristic
	Connect(ctx context.Context, h Handle, service, characteristic string) (Link, error)
}

// Link is an open connection able to accept writes
type Link interface {
	// Write sends one chunk and returns once the host accepted it
	Write(ctx context.Context, chunk []byte) error
	// OnDisconnect registers fn to run when the peripheral drops the link.
	// fn is never called from inside OnDisconnect itself.
	OnDisconnect(fn func()) (unsubscribe func())
	Close() error
}
