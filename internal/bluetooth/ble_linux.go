//go:build linux

package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"go.uber.org/zap"

	"tillprint/internal/printer"
)

// BLEHost talks GATT through the local HCI adapter
type BLEHost struct {
	log         *zap.Logger
	scanTimeout time.Duration
	name        string

	once    sync.Once
	initErr error
}

// NewBLEHost returns a host that scans for at most scanTimeout. When name is
// set only advertisers whose name contains it are considered.
func NewBLEHost(log *zap.Logger, scanTimeout time.Duration, name string) *BLEHost {
	if log == nil {
		log = zap.NewNop()
	}
	if scanTimeout <= 0 {
		scanTimeout = 10 * time.Second
	}
	return &BLEHost{log: log.Named("ble"), scanTimeout: scanTimeout, name: name}
}

func (h *BLEHost) init() error {
	h.once.Do(func() {
		d, err := linux.NewDevice()
		if err != nil {
			h.initErr = fmt.Errorf("open HCI device: %w", err)
			return
		}
		ble.SetDefaultDevice(d)
	})
	return h.initErr
}

// Discover scans for the first peripheral advertising service
func (h *BLEHost) Discover(ctx context.Context, service string) (printer.Handle, error) {
	if err := h.init(); err != nil {
		return printer.Handle{}, err
	}
	svc, err := ble.Parse(service)
	if err != nil {
		return printer.Handle{}, fmt.Errorf("service uuid %q: %w", service, err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.scanTimeout)
	defer cancel()

	var (
		mu    sync.Mutex
		found *printer.Handle
	)
	filter := func(a ble.Advertisement) bool {
		if !advertises(a, svc) {
			return false
		}
		_, ok := pick([]Device{{Name: a.LocalName(), Address: a.Addr().String()}}, h.name)
		return ok
	}
	handler := func(a ble.Advertisement) {
		mu.Lock()
		defer mu.Unlock()
		if found != nil {
			return
		}
		found = &printer.Handle{ID: a.Addr().String(), Name: a.LocalName()}
		if found.Name == "" {
			found.Name = found.ID
		}
		h.log.Debug("advertisement", zap.String("addr", found.ID), zap.String("name", found.Name), zap.Int("rssi", a.RSSI()))
		cancel()
	}

	h.log.Debug("scanning", zap.String("service", service), zap.Duration("timeout", h.scanTimeout))
	err = ble.Scan(ctx, false, handler, filter)

	mu.Lock()
	defer mu.Unlock()
	if found != nil {
		return *found, nil
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return printer.Handle{}, fmt.Errorf("scan: %w", err)
	}
	return printer.Handle{}, ErrNoDevicesFound
}

// Connect dials h and resolves the write characteristic
func (h *BLEHost) Connect(ctx context.Context, hd printer.Handle, service, characteristic string) (printer.Link, error) {
	if err := h.init(); err != nil {
		return nil, err
	}

	client, err := ble.Dial(ctx, ble.NewAddr(hd.ID))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", hd.ID, err)
	}
	if mtu, err := client.ExchangeMTU(ble.MaxMTU); err != nil {
		h.log.Debug("mtu exchange failed", zap.Error(err))
	} else {
		h.log.Debug("mtu", zap.Int("tx", mtu))
	}

	prof, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return nil, fmt.Errorf("discover profile: %w", err)
	}
	char, err := resolveCharacteristic(prof, service, characteristic)
	if err != nil {
		_ = client.CancelConnection()
		return nil, err
	}

	h.log.Debug("connected", zap.String("addr", hd.ID), zap.String("characteristic", char.UUID.String()))
	return newBLELink(client, char), nil
}

// Devices scans for the full timeout and lists every advertiser of service
func (h *BLEHost) Devices(ctx context.Context, service string) ([]Device, error) {
	if err := h.init(); err != nil {
		return nil, err
	}
	svc, err := ble.Parse(service)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, h.scanTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		seen = map[string]Device{}
	)
	err = ble.Scan(ctx, false, func(a ble.Advertisement) {
		mu.Lock()
		seen[a.Addr().String()] = Device{Name: a.LocalName(), Address: a.Addr().String()}
		mu.Unlock()
	}, func(a ble.Advertisement) bool { return advertises(a, svc) })
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("scan: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]Device, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	return out, nil
}
