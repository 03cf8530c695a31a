//go:build windows

package bluetooth

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/windows/registry"
)

// rfcommConn wraps a COM port; Windows exposes paired SPP devices as COM
// ports, so there is nothing to bind.
type rfcommConn struct {
	DevicePath string
	MAC        string
}

// ListPairedDevices returns Bluetooth COM ports, or every COM port when none
// look Bluetooth-related
func ListPairedDevices(ctx context.Context) ([]Device, error) {
	var devices []Device
	if bt, err := bluetoothCOMPorts(); err == nil {
		for name, port := range bt {
			devices = append(devices, Device{Name: name, Address: port})
		}
	}
	if len(devices) == 0 {
		ports, _ := existingRFCOMM()
		for _, p := range ports {
			devices = append(devices, Device{Name: p, Address: p})
		}
	}
	if len(devices) == 0 {
		return nil, ErrNoDevicesFound
	}
	return devices, nil
}

func serialComm() (map[string]string, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, `HARDWARE\DEVICEMAP\SERIALCOMM`, registry.READ)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	names, err := key.ReadValueNames(-1)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		if val, _, err := key.GetStringValue(name); err == nil {
			out[name] = val
		}
	}
	return out, nil
}

// bluetoothCOMPorts reads Bluetooth COM port mappings from the registry
func bluetoothCOMPorts() (map[string]string, error) {
	all, err := serialComm()
	if err != nil {
		return nil, err
	}
	ports := make(map[string]string)
	for name, val := range all {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "bth") || strings.Contains(lower, "bluetooth") {
			ports[name] = val
		}
	}
	return ports, nil
}

// establishRFCOMM validates the COM port name; addr is the port, e.g. "COM3"
func establishRFCOMM(ctx context.Context, addr string, channel int, log *zap.Logger) (*rfcommConn, error) {
	if !strings.HasPrefix(strings.ToUpper(addr), "COM") {
		return nil, fmt.Errorf("%w: invalid COM port %s", ErrRFCOMMFailed, addr)
	}
	path := addr
	// COM10 and above need the device namespace prefix
	if len(addr) > 4 {
		path = `\\.\` + addr
	}
	log.Debug("using port", zap.String("port", path))
	return &rfcommConn{DevicePath: path, MAC: addr}, nil
}

func (c *rfcommConn) Close() error { return nil }

// ready cannot probe a COM port without opening it
func (c *rfcommConn) ready() bool { return c.DevicePath != "" }

func existingRFCOMM() ([]string, error) {
	all, err := serialComm()
	if err != nil {
		return nil, err
	}
	ports := make([]string, 0, len(all))
	for _, v := range all {
		ports = append(ports, v)
	}
	return ports, nil
}
