//go:build !linux && !windows

package bluetooth

import (
	"context"

	"go.uber.org/zap"
)

type rfcommConn struct {
	DevicePath string
}

func ListPairedDevices(context.Context) ([]Device, error) {
	return nil, ErrNotSupported
}

func establishRFCOMM(context.Context, string, int, *zap.Logger) (*rfcommConn, error) {
	return nil, ErrNotSupported
}

func (c *rfcommConn) Close() error { return nil }
func (c *rfcommConn) ready() bool  { return false }

func existingRFCOMM() ([]string, error) { return nil, nil }
