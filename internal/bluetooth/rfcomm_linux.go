//go:build linux

package bluetooth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// rfcommConn is a running `rfcomm connect` process and the device it binds
type rfcommConn struct {
	DevicePath string
	MAC        string
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	mu         sync.Mutex
}

// ListPairedDevices returns all paired Bluetooth devices
func ListPairedDevices(ctx context.Context) ([]Device, error) {
	out, err := exec.CommandContext(ctx, "bluetoothctl", "devices", "Paired").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list paired devices: %w", err)
	}
	return parsePaired(string(out)), nil
}

// freeRFCOMMDevice finds an unused /dev/rfcommN device number
func freeRFCOMMDevice() (string, int, error) {
	for i := 0; i < 10; i++ {
		devPath := fmt.Sprintf("/dev/rfcomm%d", i)
		out, _ := exec.Command("rfcomm", "show", devPath).Output()
		if len(out) == 0 || strings.Contains(string(out), "No such device") {
			return devPath, i, nil
		}
	}
	return "", -1, fmt.Errorf("no available RFCOMM device slots")
}

func checkRFCOMMInstalled() error {
	if _, err := exec.LookPath("rfcomm"); err != nil {
		return fmt.Errorf("rfcomm not found - install with: sudo apt install bluez")
	}
	return nil
}

// privilegeHelper reports which escalation tool is available
func privilegeHelper() string {
	if _, err := exec.LookPath("pkexec"); err == nil {
		return "pkexec"
	}
	if _, err := exec.LookPath("sudo"); err == nil {
		return "sudo"
	}
	return ""
}

func privileged(ctx context.Context, helper string, args ...string) *exec.Cmd {
	if helper == "pkexec" {
		return exec.CommandContext(ctx, "pkexec", args...)
	}
	return exec.CommandContext(ctx, "sudo", append([]string{"-n"}, args...)...)
}

// establishRFCOMM runs rfcomm connect in the background and returns once the
// device node exists
func establishRFCOMM(ctx context.Context, mac string, channel int, log *zap.Logger) (*rfcommConn, error) {
	if err := checkRFCOMMInstalled(); err != nil {
		return nil, err
	}
	devPath, devNum, err := freeRFCOMMDevice()
	if err != nil {
		return nil, err
	}
	helper := privilegeHelper()
	if helper == "" {
		return nil, ErrPrivilegeRequired
	}

	procCtx, cancel := context.WithCancel(context.Background())
	conn := &rfcommConn{DevicePath: devPath, MAC: mac, cancel: cancel}
	cmd := privileged(procCtx, helper, "rfcomm", "connect", fmt.Sprintf("/dev/rfcomm%d", devNum), mac, fmt.Sprint(channel))
	conn.cmd = cmd

	stderr, _ := cmd.StderrPipe()
	stdout, _ := cmd.StdoutPipe()

	log.Debug("rfcomm connect", zap.String("mac", mac), zap.String("device", devPath), zap.String("helper", helper))
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: start rfcomm: %w", ErrRFCOMMFailed, err)
	}

	go logLines(stdout, log)
	go logLines(stderr, log)

	deadline := time.NewTimer(15 * time.Second)
	defer deadline.Stop()
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return nil, ErrConnectionCanceled
		case <-deadline.C:
			_ = conn.Close()
			return nil, fmt.Errorf("%w: timeout waiting for %s to appear", ErrRFCOMMFailed, devPath)
		case <-tick.C:
			if conn.ready() {
				// the node shows up before the channel accepts writes
				time.Sleep(500 * time.Millisecond)
				log.Debug("rfcomm ready", zap.String("device", devPath))
				return conn, nil
			}
		}
	}
}

func logLines(r io.Reader, log *zap.Logger) {
	if r == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Debug("rfcomm", zap.String("line", scanner.Text()))
	}
}

// Close terminates the RFCOMM connection and releases the device
func (c *rfcommConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if c.DevicePath != "" {
		if helper := privilegeHelper(); helper != "" {
			_ = privileged(context.Background(), helper, "rfcomm", "release", c.DevicePath).Run()
		}
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
	}
	return nil
}

func (c *rfcommConn) ready() bool {
	if c.DevicePath == "" {
		return false
	}
	_, err := os.Stat(c.DevicePath)
	return err == nil
}

// existingRFCOMM returns currently bound RFCOMM device nodes
func existingRFCOMM() ([]string, error) {
	out, err := exec.Command("rfcomm", "-a").Output()
	if err != nil {
		var devices []string
		for i := 0; i < 10; i++ {
			devPath := fmt.Sprintf("/dev/rfcomm%d", i)
			if _, err := os.Stat(devPath); err == nil {
				devices = append(devices, devPath)
			}
		}
		return devices, nil
	}

	var devices []string
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "rfcomm") {
			continue
		}
		if parts := strings.Fields(line); len(parts) > 0 {
			devices = append(devices, filepath.Join("/dev", strings.TrimSuffix(parts[0], ":")))
		}
	}
	return devices, nil
}
