// Package host adapts the operating system's Bluetooth stack: pairing,
// paired-device enumeration, scanning and link monitoring.
package host

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"printlink/internal/printer"
	"printlink/internal/transport"
)

// Host pairs with, scans for and watches the links of Bluetooth printers.
type Host interface {
	printer.HostBonding
	printer.Scanner
	printer.LinkMonitor
}

// Options configures the platform host.
type Options struct {
	// Command is the bluetoothctl binary used on Linux.
	Command     string
	ScanTimeout time.Duration
	// PairTimeout bounds a pairing attempt running in the background.
	PairTimeout time.Duration
	Logger      *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Command == "" {
		o.Command = "bluetoothctl"
	}
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = 10 * time.Second
	}
	if o.PairTimeout <= 0 {
		o.PairTimeout = time.Minute
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// New returns the Host for the running platform.
func New(opts Options) Host {
	opts.setDefaults()
	return newHost(opts)
}

var (
	ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)
	deviceLine = regexp.MustCompile(`(?:^|\s)Device\s+([0-9A-Fa-f]{2}(?::[0-9A-Fa-f]{2}){5})\s*(.*)$`)
	newDevice  = regexp.MustCompile(`\[NEW\]\s+Device\s+([0-9A-Fa-f]{2}(?::[0-9A-Fa-f]{2}){5})\s*(.*)$`)
	linkDown   = regexp.MustCompile(`\[CHG\]\s+Device\s+([0-9A-Fa-f]{2}(?::[0-9A-Fa-f]{2}){5})\s+Connected:\s+no\b`)
)

// parseDevices reads "Device XX:XX:XX:XX:XX:XX Name" lines as printed by
// bluetoothctl's devices command.
func parseDevices(out []byte) []printer.Device {
	var devices []printer.Device
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(ansiEscape.ReplaceAllString(sc.Text(), ""))
		if !strings.HasPrefix(line, "Device ") {
			continue
		}
		if m := deviceLine.FindStringSubmatch(line); m != nil {
			devices = append(devices, bluetoothDevice(m[1], m[2]))
		}
	}
	return devices
}

// parseScanLine extracts a device from a "[NEW] Device ..." line printed
// while scanning.
func parseScanLine(line string) (printer.Device, bool) {
	line = ansiEscape.ReplaceAllString(line, "")
	m := newDevice.FindStringSubmatch(line)
	if m == nil {
		return printer.Device{}, false
	}
	return bluetoothDevice(m[1], m[2]), true
}

// parseLinkLost extracts the address from a "[CHG] Device ... Connected: no"
// line printed when BlueZ sees a link drop.
func parseLinkLost(line string) (string, bool) {
	m := linkDown.FindStringSubmatch(ansiEscape.ReplaceAllString(line, ""))
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}

// watchLinks calls lost for every link-down line read from r until r ends.
func watchLinks(r io.Reader, lost func(string)) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if address, ok := parseLinkLost(sc.Text()); ok {
			lost(address)
		}
	}
	return sc.Err()
}

func bluetoothDevice(mac, name string) printer.Device {
	mac = strings.ToUpper(mac)
	name = strings.TrimSpace(name)
	// Unnamed devices are listed under their address with dashes.
	if strings.EqualFold(name, strings.ReplaceAll(mac, ":", "-")) {
		name = ""
	}
	return printer.Device{Address: mac, FriendlyName: name, Kind: transport.KindBluetooth}
}

// SerialScanner reports local serial ports, including Bluetooth ports the
// operating system has already bound, as printer candidates.
type SerialScanner struct {
	Ports func() ([]string, error)
	Bound func(ctx context.Context) ([]printer.Device, error)
}

// NewSerialScanner returns a scanner over the platform's serial ports.
func NewSerialScanner() *SerialScanner {
	return &SerialScanner{Ports: transport.SerialPorts, Bound: BoundPorts}
}

func (s *SerialScanner) Scan(ctx context.Context, found func(printer.Device)) error {
	if s.Bound != nil {
		bound, err := s.Bound(ctx)
		if err != nil {
			return err
		}
		for _, d := range bound {
			found(d)
		}
	}
	if s.Ports == nil {
		return nil
	}
	ports, err := s.Ports()
	if err != nil {
		return err
	}
	for _, p := range ports {
		if err := ctx.Err(); err != nil {
			return err
		}
		found(printer.Device{Address: p, Kind: transport.KindSerial})
	}
	return nil
}
