//go:build windows

package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/windows/registry"

	"printlink/internal/printer"
	"printlink/internal/transport"
)

const serialCommKey = `HARDWARE\DEVICEMAP\SERIALCOMM`

// Registry exposes Bluetooth printers the way Windows does: each paired SPP
// device is given a COM port, listed under SERIALCOMM. Pairing itself goes
// through the Settings app.
type Registry struct {
	log *zap.Logger
}

func newHost(opts Options) Host {
	return &Registry{log: opts.Logger.Named("registry")}
}

func (r *Registry) Pair(ctx context.Context, address string) error {
	return fmt.Errorf("pair %s from Bluetooth settings: %w", address, errors.ErrUnsupported)
}

func (r *Registry) Unpair(ctx context.Context, address string) error {
	return fmt.Errorf("remove %s from Bluetooth settings: %w", address, errors.ErrUnsupported)
}

// Paired returns the Bluetooth COM ports.
func (r *Registry) Paired(ctx context.Context) ([]printer.Device, error) {
	return BoundPorts(ctx)
}

func (r *Registry) Scan(ctx context.Context, found func(printer.Device)) error {
	devices, err := BoundPorts(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		found(d)
	}
	return nil
}

// Monitor is not available: a dropped link only shows up as a failed write
// on the COM port.
func (r *Registry) Monitor(ctx context.Context, lost func(string)) error {
	return fmt.Errorf("link monitoring: %w", errors.ErrUnsupported)
}

// BoundPorts lists the COM ports backed by the Bluetooth serial driver.
func BoundPorts(ctx context.Context) ([]printer.Device, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, serialCommKey, registry.READ)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", serialCommKey, err)
	}
	defer key.Close()

	names, err := key.ReadValueNames(-1)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var devices []printer.Device
	for _, name := range names {
		lower := strings.ToLower(name)
		if !strings.Contains(lower, "bth") && !strings.Contains(lower, "bluetooth") {
			continue
		}
		port, _, err := key.GetStringValue(name)
		if err != nil {
			continue
		}
		devices = append(devices, printer.Device{
			Address:      port,
			FriendlyName: fmt.Sprintf("%s (%s)", port, strings.TrimPrefix(name, `\Device\`)),
			Kind:         transport.KindSerial,
			Bond:         printer.BondBonded,
		})
	}
	return devices, nil
}
