//go:build linux

package host

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"printlink/internal/printer"
	"printlink/internal/transport"
)

// Bluetoothctl drives BlueZ through the bluetoothctl command.
type Bluetoothctl struct {
	opts    Options
	log     *zap.Logger
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func newHost(opts Options) Host {
	return &Bluetoothctl{opts: opts, log: opts.Logger.Named("bluetoothctl"), command: exec.CommandContext}
}

// Output fragments bluetoothctl prints on failure while still exiting 0.
var failureMarkers = []string{"Failed to", "not available", "org.bluez.Error"}

func (b *Bluetoothctl) run(ctx context.Context, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(b.opts.Command); err != nil {
		return nil, fmt.Errorf("%s not found, install bluez: %w", b.opts.Command, errors.ErrUnsupported)
	}
	out, err := b.command(ctx, b.opts.Command, args...).CombinedOutput()
	clean := ansiEscape.ReplaceAll(out, nil)
	if bytes.Contains(clean, []byte("No default controller available")) {
		return nil, fmt.Errorf("no bluetooth adapter: %w", errors.ErrUnsupported)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %s", b.opts.Command, strings.Join(args, " "), err, bytes.TrimSpace(clean))
	}
	return clean, nil
}

func (b *Bluetoothctl) runChecked(ctx context.Context, args ...string) error {
	out, err := b.run(ctx, args...)
	if err != nil {
		return err
	}
	if err := failure(out); err != nil {
		return fmt.Errorf("%s %s: %w", b.opts.Command, strings.Join(args, " "), err)
	}
	return nil
}

// failure reports the last output line when out carries a failure marker.
func failure(out []byte) error {
	for _, marker := range failureMarkers {
		if bytes.Contains(out, []byte(marker)) {
			return errors.New(lastLine(out))
		}
	}
	return nil
}

// Pair starts pairing in the background and returns once bluetoothctl is
// running. When pairing succeeds the device is also marked trusted so it
// reconnects without prompting. The outcome shows up in Paired.
func (b *Bluetoothctl) Pair(ctx context.Context, address string) error {
	if _, err := exec.LookPath(b.opts.Command); err != nil {
		return fmt.Errorf("%s not found, install bluez: %w", b.opts.Command, errors.ErrUnsupported)
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.opts.PairTimeout)
	var out bytes.Buffer
	cmd := b.command(pctx, b.opts.Command, "pair", address)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start pairing with %s: %w", address, err)
	}
	b.log.Info("pairing started", zap.String("address", address))

	go func() {
		defer cancel()
		err := cmd.Wait()
		clean := ansiEscape.ReplaceAll(out.Bytes(), nil)
		if err == nil {
			err = failure(clean)
		}
		if err != nil {
			b.log.Warn("pairing failed", zap.String("address", address), zap.Error(err))
			return
		}
		if err := b.runChecked(pctx, "trust", address); err != nil {
			b.log.Warn("trust failed", zap.String("address", address), zap.Error(err))
			return
		}
		b.log.Info("paired", zap.String("address", address))
	}()
	return nil
}

func (b *Bluetoothctl) Unpair(ctx context.Context, address string) error {
	return b.runChecked(ctx, "remove", address)
}

func (b *Bluetoothctl) Paired(ctx context.Context) ([]printer.Device, error) {
	out, err := b.run(ctx, "devices", "Paired")
	if err != nil && !errors.Is(err, errors.ErrUnsupported) {
		// BlueZ before 5.65 only knows the older spelling.
		out, err = b.run(ctx, "paired-devices")
	}
	if err != nil {
		return nil, err
	}
	devices := parseDevices(out)
	for i := range devices {
		devices[i].Bond = printer.BondBonded
	}
	return devices, nil
}

// Scan runs an inquiry for the configured timeout, reporting devices as they
// appear, then reports every device BlueZ already knew about.
func (b *Bluetoothctl) Scan(ctx context.Context, found func(printer.Device)) error {
	if _, err := exec.LookPath(b.opts.Command); err != nil {
		return fmt.Errorf("%s not found, install bluez: %w", b.opts.Command, errors.ErrUnsupported)
	}
	secs := max(1, int(b.opts.ScanTimeout.Seconds()))
	cmd := b.command(ctx, b.opts.Command, "--timeout", strconv.Itoa(secs), "scan", "on")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start scan: %w", err)
	}
	b.log.Debug("scan started", zap.Int("seconds", secs))

	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		if strings.Contains(sc.Text(), "No default controller available") {
			_ = cmd.Wait()
			return fmt.Errorf("no bluetooth adapter: %w", errors.ErrUnsupported)
		}
		if d, ok := parseScanLine(sc.Text()); ok {
			found(d)
		}
	}
	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("scan: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	out, err := b.run(ctx, "devices")
	if err != nil {
		return err
	}
	for _, d := range parseDevices(out) {
		found(d)
	}
	return nil
}

// Monitor runs an interactive bluetoothctl session and reports every device
// whose link drops until ctx ends.
func (b *Bluetoothctl) Monitor(ctx context.Context, lost func(address string)) error {
	if _, err := exec.LookPath(b.opts.Command); err != nil {
		return fmt.Errorf("%s not found, install bluez: %w", b.opts.Command, errors.ErrUnsupported)
	}
	cmd := b.command(ctx, b.opts.Command)
	// bluetoothctl exits when its input closes.
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	defer stdin.Close()
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}
	b.log.Debug("link monitor started")

	err = watchLinks(stdout, func(address string) {
		b.log.Info("link down", zap.String("address", address))
		lost(address)
	})
	werr := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	if werr != nil {
		return fmt.Errorf("monitor: %w", werr)
	}
	return errors.New("monitor: bluetoothctl exited")
}

// BoundPorts lists RFCOMM serial devices bound with the rfcomm tool.
func BoundPorts(ctx context.Context) ([]printer.Device, error) {
	out, err := exec.CommandContext(ctx, "rfcomm", "-a").Output()
	if err != nil {
		// rfcomm is optional; with nothing bound there is nothing to list.
		return nil, nil
	}
	return parseRFCOMM(out), nil
}

// parseRFCOMM reads "rfcomm0: AA:BB:CC:DD:EE:FF channel 1 clean" lines.
func parseRFCOMM(out []byte) []printer.Device {
	var devices []printer.Device
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "rfcomm") {
			continue
		}
		name := strings.TrimSuffix(fields[0], ":")
		devices = append(devices, printer.Device{
			Address:      filepath.Join("/dev", name),
			FriendlyName: fmt.Sprintf("%s (%s)", name, strings.ToUpper(fields[1])),
			Kind:         transport.KindSerial,
			Bond:         printer.BondBonded,
		})
	}
	return devices
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
