//go:build !linux

package transport

import "time"

// NewRFCOMM is only available on Linux. On Windows, paired SPP devices are
// reached through their COM port with NewSerial instead.
func NewRFCOMM(address string, channel int, readTimeout time.Duration) (Transport, error) {
	if _, err := parseBDAddr(address); err != nil {
		return nil, err
	}
	return nil, ErrNotSupported
}
