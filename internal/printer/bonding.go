package printer

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// HostBonding is the host operating system's pairing subsystem. Errors
// wrapping errors.ErrUnsupported mean the host cannot do the operation.
type HostBonding interface {
	Pair(ctx context.Context, address string) error
	Unpair(ctx context.Context, address string) error
	Paired(ctx context.Context) ([]Device, error)
}

// Bonding passes pair and unpair requests to the host, making sure a device
// is not left connected after it has been unpaired.
type Bonding struct {
	host HostBonding
	mgr  *Manager
	log  *zap.Logger
}

func NewBonding(host HostBonding, mgr *Manager, log *zap.Logger) *Bonding {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bonding{host: host, mgr: mgr, log: log.Named("bonding")}
}

// Pair asks the host to pair with address. Already bonded devices are left
// alone. The host may still be waiting on user confirmation when Pair
// returns.
func (b *Bonding) Pair(ctx context.Context, address string) error {
	if address == "" {
		return invalidAddress()
	}
	if b.host == nil {
		return hostUnavailable()
	}
	if paired, err := b.host.Paired(ctx); err == nil {
		for _, d := range paired {
			if sameAddress(d.Address, address) {
				b.log.Debug("already bonded", zap.String("address", address))
				return nil
			}
		}
	}
	if err := b.host.Pair(ctx, address); err != nil {
		return hostError(CodePairFailed, "pairing failed", err)
	}
	b.log.Info("pairing requested", zap.String("address", address))
	return nil
}

// Unpair disconnects address if it is the active connection, then asks the
// host to remove the bond.
func (b *Bonding) Unpair(ctx context.Context, address string) error {
	if address == "" {
		return invalidAddress()
	}
	if b.host == nil {
		return hostUnavailable()
	}
	if b.mgr != nil && b.mgr.IsConnected(address) {
		b.log.Info("device is connected, disconnecting first", zap.String("address", address))
		if err := b.mgr.Disconnect(ctx, address); err != nil && !errors.Is(err, ErrNotConnected) {
			return err
		}
	}
	if err := b.host.Unpair(ctx, address); err != nil {
		return hostError(CodeUnpairFailed, "unpairing failed", err)
	}
	b.log.Info("unpaired", zap.String("address", address))
	return nil
}

// PairedDevices lists the devices bonded with the host.
func (b *Bonding) PairedDevices(ctx context.Context) ([]Device, error) {
	if b.host == nil {
		return nil, hostUnavailable()
	}
	devices, err := b.host.Paired(ctx)
	if err != nil {
		return nil, hostError(CodeGetPairedFailed, "listing paired devices failed", err)
	}
	for i := range devices {
		devices[i].Bond = BondBonded
		if devices[i].FriendlyName == "" {
			devices[i].FriendlyName = devices[i].Address
		}
		if b.mgr != nil {
			devices[i].Connected = b.mgr.IsConnected(devices[i].Address)
		}
	}
	return devices, nil
}

func hostUnavailable() *Error {
	return newError(Unavailable, CodeUnavailable, "bluetooth not available", nil)
}

func hostError(code, message string, err error) *Error {
	if errors.Is(err, errors.ErrUnsupported) {
		return newError(Unavailable, CodeUnavailable, message, err)
	}
	return newError(OperationFailed, code, message, err)
}
