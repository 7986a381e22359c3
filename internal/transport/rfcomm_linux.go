//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// RFCOMM is a transport over a Bluetooth RFCOMM (serial port profile)
// socket. No rfcomm binding or elevated privileges are needed.
type RFCOMM struct {
	address     string
	bdaddr      [6]byte
	channel     uint8
	readTimeout time.Duration

	mu   sync.Mutex
	file *os.File
}

// NewRFCOMM returns an unopened RFCOMM transport for a MAC address.
func NewRFCOMM(address string, channel int, readTimeout time.Duration) (Transport, error) {
	bdaddr, err := parseBDAddr(address)
	if err != nil {
		return nil, err
	}
	if channel < 1 || channel > 30 {
		return nil, fmt.Errorf("invalid RFCOMM channel %d", channel)
	}
	return &RFCOMM{
		address:     address,
		bdaddr:      bdaddr,
		channel:     uint8(channel),
		readTimeout: readTimeout,
	}, nil
}

func (r *RFCOMM) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		return nil
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return fmt.Errorf("failed to create RFCOMM socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("set nonblocking: %w", err)
	}

	sa := &unix.SockaddrRFCOMM{Addr: r.bdaddr, Channel: r.channel}
	err = unix.Connect(fd, sa)
	if errors.Is(err, unix.EINPROGRESS) {
		err = waitConnected(ctx, fd)
	}
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("failed to establish RFCOMM connection to %s: %w", r.address, err)
	}

	// A non-blocking fd is registered with the runtime poller, so read
	// deadlines work.
	r.file = os.NewFile(uintptr(fd), "rfcomm:"+r.address)
	return nil
}

// waitConnected polls a non-blocking connect until it completes or ctx ends.
func waitConnected(ctx context.Context, fd int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, 100)
		if errors.Is(err, unix.EINTR) || (err == nil && n == 0) {
			continue
		}
		if err != nil {
			return err
		}
		soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return err
		}
		if soerr != 0 {
			return unix.Errno(soerr)
		}
		return nil
	}
}

func (r *RFCOMM) current() *os.File {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file
}

func (r *RFCOMM) Read(p []byte) (int, error) {
	f := r.current()
	if f == nil {
		return 0, ErrNotOpen
	}
	if r.readTimeout > 0 {
		if err := f.SetReadDeadline(time.Now().Add(r.readTimeout)); err != nil {
			return 0, err
		}
	}
	n, err := f.Read(p)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, ErrTimeout
	}
	return n, err
}

func (r *RFCOMM) Write(p []byte) (int, error) {
	f := r.current()
	if f == nil {
		return 0, ErrNotOpen
	}
	n, err := f.Write(p)
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}
	return n, nil
}

func (r *RFCOMM) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *RFCOMM) IsOpen() bool {
	return r.current() != nil
}

func (r *RFCOMM) Address() string {
	return r.address
}
