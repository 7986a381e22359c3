package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// TCP is a transport over a raw network socket, usually port 9100.
type TCP struct {
	address     string
	dialAddr    string
	dialTimeout time.Duration
	readTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewTCP returns an unopened network transport. When address carries no
// port, defaultPort is used.
func NewTCP(address string, defaultPort int, dialTimeout, readTimeout time.Duration) *TCP {
	dialAddr := address
	if _, _, err := net.SplitHostPort(address); err != nil {
		dialAddr = net.JoinHostPort(address, strconv.Itoa(defaultPort))
	}
	return &TCP{
		address:     address,
		dialAddr:    dialAddr,
		dialTimeout: dialTimeout,
		readTimeout: readTimeout,
	}
}

func (t *TCP) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: t.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.dialAddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.dialAddr, err)
	}
	t.conn = conn
	return nil
}

func (t *TCP) current() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *TCP) Read(p []byte) (int, error) {
	conn := t.current()
	if conn == nil {
		return 0, ErrNotOpen
	}
	if t.readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
			return 0, err
		}
	}
	n, err := conn.Read(p)
	var ne net.Error
	if err != nil && errors.As(err, &ne) && ne.Timeout() {
		return n, ErrTimeout
	}
	return n, err
}

func (t *TCP) Write(p []byte) (int, error) {
	conn := t.current()
	if conn == nil {
		return 0, ErrNotOpen
	}
	n, err := conn.Write(p)
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}
	return n, nil
}

func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *TCP) IsOpen() bool {
	return t.current() != nil
}

func (t *TCP) Address() string {
	return t.address
}
