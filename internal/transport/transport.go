// Package transport provides the byte channels used to reach a printer:
// Bluetooth RFCOMM sockets, serial ports and network sockets.
package transport

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Common errors
var (
	ErrNotOpen        = errors.New("transport not open")
	ErrInvalidAddress = errors.New("invalid device address")
	ErrNotSupported   = fmt.Errorf("operation not supported on this platform: %w", errors.ErrUnsupported)
)

// ErrTimeout is returned by Read when no data arrived within the read timeout.
var ErrTimeout error = timeoutError{}

type timeoutError struct{}

func (timeoutError) Error() string   { return "read timed out" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// Transport is an opaque bidirectional byte channel to a single device.
// Implementations are safe to Close concurrently with Read or Write.
type Transport interface {
	Open(ctx context.Context) error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	IsOpen() bool
	Address() string
}

// Kind identifies how a device address is reached.
type Kind int

const (
	KindUnknown Kind = iota
	KindBluetooth
	KindNetwork
	KindSerial
)

func (k Kind) String() string {
	switch k {
	case KindBluetooth:
		return "bluetooth"
	case KindNetwork:
		return "network"
	case KindSerial:
		return "serial"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses "bluetooth", "network" or "serial".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bluetooth", "bt":
		return KindBluetooth, nil
	case "network", "net", "tcp":
		return KindNetwork, nil
	case "serial":
		return KindSerial, nil
	}
	return KindUnknown, fmt.Errorf("unknown transport kind %q", s)
}

var (
	macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)
	comPattern = regexp.MustCompile(`(?i)^(\\\\\.\\)?COM[0-9]+$`)
)

// KindOf infers the transport kind from the shape of an address: a MAC
// address is Bluetooth, a device path or COM port is serial, anything else is
// a network host.
func KindOf(address string) (Kind, error) {
	a := strings.TrimSpace(address)
	switch {
	case a == "":
		return KindUnknown, ErrInvalidAddress
	case macPattern.MatchString(a):
		return KindBluetooth, nil
	case comPattern.MatchString(a), strings.HasPrefix(a, "/dev/"):
		return KindSerial, nil
	case strings.ContainsAny(a, " \t/\\"):
		return KindUnknown, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	default:
		return KindNetwork, nil
	}
}

// Options configure the transports built by a Factory.
type Options struct {
	RFCOMMChannel int
	NetworkPort   int
	BaudRate      int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
}

const (
	DefaultRFCOMMChannel = 1
	DefaultNetworkPort   = 9100
	DefaultBaudRate      = 115200
	DefaultDialTimeout   = 10 * time.Second
	DefaultReadTimeout   = 3 * time.Second
)

func (o *Options) setDefaults() {
	if o.RFCOMMChannel <= 0 {
		o.RFCOMMChannel = DefaultRFCOMMChannel
	}
	if o.NetworkPort <= 0 {
		o.NetworkPort = DefaultNetworkPort
	}
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
}

// Factory builds unopened transports for device addresses.
type Factory struct {
	opts Options
}

// NewFactory returns a Factory using opts, with zero fields defaulted.
func NewFactory(opts Options) *Factory {
	opts.setDefaults()
	return &Factory{opts: opts}
}

// New returns a fresh, unopened transport for address.
func (f *Factory) New(address string) (Transport, error) {
	kind, err := KindOf(address)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindBluetooth:
		return NewRFCOMM(address, f.opts.RFCOMMChannel, f.opts.ReadTimeout)
	case KindSerial:
		return NewSerial(address, f.opts.BaudRate, f.opts.ReadTimeout), nil
	default:
		return NewTCP(address, f.opts.NetworkPort, f.opts.DialTimeout, f.opts.ReadTimeout), nil
	}
}

// parseBDAddr converts "AA:BB:CC:DD:EE:FF" into the little-endian byte
// order used by the kernel's sockaddr_rc.
func parseBDAddr(address string) ([6]byte, error) {
	var addr [6]byte
	if !macPattern.MatchString(address) {
		return addr, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	parts := strings.FieldsFunc(address, func(r rune) bool { return r == ':' || r == '-' })
	for i, p := range parts {
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return addr, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
		}
		addr[5-i] = byte(b)
	}
	return addr, nil
}
