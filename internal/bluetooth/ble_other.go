//go:build !linux

package bluetooth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tillprint/internal/printer"
)

// BLEHost is only implemented on Linux
type BLEHost struct{}

func NewBLEHost(*zap.Logger, time.Duration, string) *BLEHost {
	return &BLEHost{}
}

func (*BLEHost) Discover(context.Context, string) (printer.Handle, error) {
	return printer.Handle{}, ErrNotSupported
}

func (*BLEHost) Connect(context.Context, printer.Handle, string, string) (printer.Link, error) {
	return nil, ErrNotSupported
}

func (*BLEHost) Devices(context.Context, string) ([]Device, error) {
	return nil, ErrNotSupported
}
