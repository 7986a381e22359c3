package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Serial is a transport over a serial port: a bound /dev/rfcommN device, a
// USB serial adapter, or a Windows Bluetooth COM port.
type Serial struct {
	portName    string
	mode        *serial.Mode
	readTimeout time.Duration

	mu   sync.Mutex
	port serial.Port
}

// NewSerial returns an unopened serial transport.
func NewSerial(portName string, baudRate int, readTimeout time.Duration) *Serial {
	return &Serial{
		portName: portName,
		mode: &serial.Mode{
			BaudRate: baudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		readTimeout: readTimeout,
	}
}

// Open opens the port. Opening an already open port is a no-op.
func (s *Serial) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}

	port, err := serial.Open(s.portName, s.mode)
	if err != nil {
		return fmt.Errorf("failed to open port %s: %w", s.portName, err)
	}
	if err := port.SetReadTimeout(s.readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("set read timeout on %s: %w", s.portName, err)
	}
	s.port = port
	return nil
}

func (s *Serial) current() serial.Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Read reads from the port. A read that times out with no data returns
// ErrTimeout.
func (s *Serial) Read(p []byte) (int, error) {
	port := s.current()
	if port == nil {
		return 0, ErrNotOpen
	}
	n, err := port.Read(p)
	if err == nil && n == 0 && len(p) > 0 {
		return 0, ErrTimeout
	}
	return n, err
}

func (s *Serial) Write(p []byte) (int, error) {
	port := s.current()
	if port == nil {
		return 0, ErrNotOpen
	}
	n, err := port.Write(p)
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}
	return n, nil
}

// Close closes the port. Closing a closed port is a no-op.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *Serial) IsOpen() bool {
	return s.current() != nil
}

func (s *Serial) Address() string {
	return s.portName
}

// SerialPorts lists the serial ports present on this machine.
func SerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}
