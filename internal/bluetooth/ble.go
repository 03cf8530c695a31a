package bluetooth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
)

// resolveCharacteristic finds the write characteristic: the one with the
// requested UUID inside the service, else the first writable characteristic
// of the service, else the first writable characteristic anywhere.
func resolveCharacteristic(p *ble.Profile, service, characteristic string) (*ble.Characteristic, error) {
	svcUUID, err := ble.Parse(service)
	if err != nil {
		return nil, fmt.Errorf("service uuid %q: %w", service, err)
	}
	var charUUID ble.UUID
	if characteristic != "" {
		if charUUID, err = ble.Parse(characteristic); err != nil {
			return nil, fmt.Errorf("characteristic uuid %q: %w", characteristic, err)
		}
	}

	var inService, anywhere *ble.Characteristic
	for _, s := range p.Services {
		for _, c := range s.Characteristics {
			if !writable(c) {
				continue
			}
			if sameUUID(s.UUID, svcUUID) {
				if charUUID != nil && sameUUID(c.UUID, charUUID) {
					return c, nil
				}
				if inService == nil {
					inService = c
				}
			}
			if anywhere == nil {
				anywhere = c
			}
		}
	}
	if inService != nil {
		return inService, nil
	}
	if anywhere != nil {
		return anywhere, nil
	}
	return nil, ErrCharacteristicNotFound
}

const baseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

// sameUUID compares UUIDs treating 16-bit SIG forms and their 128-bit base
// expansions as equal
func sameUUID(a, b ble.UUID) bool {
	return shortUUID(a) == shortUUID(b)
}

func shortUUID(u ble.UUID) string {
	s := strings.ToLower(u.String())
	if len(s) == 36 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, baseUUIDSuffix) {
		return s[4:8]
	}
	return s
}

func writable(c *ble.Characteristic) bool {
	return c.Property&(ble.CharWrite|ble.CharWriteNR) != 0
}

func advertises(a ble.Advertisement, service ble.UUID) bool {
	for _, s := range a.Services() {
		if sameUUID(s, service) {
			return true
		}
	}
	return false
}

// gattClient is the part of ble.Client a link uses
type gattClient interface {
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// bleLink writes to one characteristic of a connected GATT client
type bleLink struct {
	client gattClient
	char   *ble.Characteristic
	noRsp  bool

	lost      listeners
	done      chan struct{}
	closeOnce sync.Once
}

func newBLELink(client gattClient, char *ble.Characteristic) *bleLink {
	l := &bleLink{
		client: client,
		char:   char,
		noRsp:  char.Property&ble.CharWriteNR != 0,
		done:   make(chan struct{}),
	}
	go l.watch()
	return l
}

func (l *bleLink) watch() {
	select {
	case <-l.client.Disconnected():
		select {
		case <-l.done:
		default:
			l.lost.fire()
		}
	case <-l.done:
	}
}

func (l *bleLink) Write(ctx context.Context, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-l.done:
		return fmt.Errorf("write on closed link")
	default:
	}
	return l.client.WriteCharacteristic(l.char, chunk, l.noRsp)
}

func (l *bleLink) OnDisconnect(fn func()) func() {
	return l.lost.add(fn)
}

func (l *bleLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.client.CancelConnection()
	})
	return err
}
