package printer

import "errors"

// Common errors
var (
	ErrDiscovery          = errors.New("printer not found")
	ErrLink               = errors.New("printer link failed")
	ErrTransport          = errors.New("printer write failed")
	ErrNotConnected       = errors.New("printer not connected")
	ErrReconnectExhausted = errors.New("printer reconnection gave up")
	ErrBusy               = errors.New("printer busy")
)
