//go:build !linux && !windows

package host

import (
	"context"
	"errors"

	"printlink/internal/printer"
)

type unsupported struct{}

func newHost(Options) Host { return unsupported{} }

func (unsupported) Pair(context.Context, string) error   { return errors.ErrUnsupported }
func (unsupported) Unpair(context.Context, string) error { return errors.ErrUnsupported }

func (unsupported) Paired(context.Context) ([]printer.Device, error) {
	return nil, errors.ErrUnsupported
}

func (unsupported) Scan(context.Context, func(printer.Device)) error {
	return errors.ErrUnsupported
}

func (unsupported) Monitor(context.Context, func(string)) error {
	return errors.ErrUnsupported
}

// BoundPorts reports no bound ports on this platform.
func BoundPorts(context.Context) ([]printer.Device, error) { return nil, nil }
