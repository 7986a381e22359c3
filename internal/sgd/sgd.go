// Package sgd implements the Set-Get-Do getvar exchange used to query
// printer settings such as device.friendly_name or head.paper_out.
package sgd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	ErrTimeout   = errors.New("sgd: no response before timeout")
	ErrMalformed = errors.New("sgd: malformed response")
	ErrEmptyKey  = errors.New("sgd: empty setting name")
)

// DefaultTimeout bounds how long Get waits for a complete response.
const DefaultTimeout = 3 * time.Second

// Client issues getvar requests and decodes the quoted responses.
type Client struct {
	Timeout time.Duration
}

// New returns a Client; a non-positive timeout selects DefaultTimeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{Timeout: timeout}
}

// EncodeGet returns the wire form of a getvar request for key.
func EncodeGet(key string) []byte {
	return []byte(fmt.Sprintf("! U1 getvar %q\r\n", key))
}

// Get writes a getvar request for key to rw and returns the unquoted value.
func (c *Client) Get(ctx context.Context, rw io.ReadWriter, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrEmptyKey
	}
	if _, err := rw.Write(EncodeGet(key)); err != nil {
		return "", fmt.Errorf("getvar %s: %w", key, err)
	}
	v, err := c.readValue(ctx, rw)
	if err != nil {
		return "", fmt.Errorf("getvar %s: %w", key, err)
	}
	return v, nil
}

// readValue accumulates input until a complete "value" has arrived.
// Timeouts reported by the reader are retried until the client deadline.
func (c *Client) readValue(ctx context.Context, r io.Reader) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	var resp []byte
	buf := make([]byte, 256)
	for {
		if v, ok := parseQuoted(resp); ok {
			return v, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
		n, err := r.Read(buf)
		resp = append(resp, buf[:n]...)
		switch {
		case err == nil:
		case isTimeout(err):
		case errors.Is(err, io.EOF):
			if v, ok := parseQuoted(resp); ok {
				return v, nil
			}
			return "", ErrMalformed
		default:
			return "", err
		}
	}
}

// parseQuoted extracts the first double-quoted value from b.
func parseQuoted(b []byte) (string, bool) {
	start := bytes.IndexByte(b, '"')
	if start < 0 {
		return "", false
	}
	end := bytes.IndexByte(b[start+1:], '"')
	if end < 0 {
		return "", false
	}
	return string(b[start+1 : start+1+end]), true
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
