// Package printer coordinates the connection to a label printer: the single
// active connection, the transient per-operation connections and their
// readiness protocol, device discovery and host bonding.
package printer

import (
	"strings"

	"printlink/internal/transport"
)

// BondState is the host pairing state of a device.
type BondState int

const (
	BondNone BondState = iota
	BondBonding
	BondBonded
)

func (b BondState) String() string {
	switch b {
	case BondBonding:
		return "bonding"
	case BondBonded:
		return "bonded"
	default:
		return "none"
	}
}

// Device is an immutable snapshot of a printer, identified by Address.
type Device struct {
	Address      string         `json:"address"`
	FriendlyName string         `json:"friendlyName"`
	Kind         transport.Kind `json:"type"`
	Bond         BondState      `json:"bondState"`
	Connected    bool           `json:"isConnected"`
}

// Name returns the friendly name, or the address when there is none.
func (d Device) Name() string {
	if d.FriendlyName != "" {
		return d.FriendlyName
	}
	return d.Address
}

// addressKey normalizes an address for comparison; MAC addresses are
// reported in either case by different hosts.
func addressKey(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// sameAddress reports whether a and b name the same device.
func sameAddress(a, b string) bool {
	return addressKey(a) == addressKey(b)
}
