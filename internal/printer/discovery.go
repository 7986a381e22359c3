package printer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"printlink/internal/transport"
)

// Scanner searches for devices of one transport kind, calling found for each
// device seen. Scan returns when the search finishes or ctx ends.
type Scanner interface {
	Scan(ctx context.Context, found func(Device)) error
}

// DiscoveryConfig holds the collaborators of a Discovery engine.
type DiscoveryConfig struct {
	Scanners map[transport.Kind]Scanner
	Notifier *Notifier
	// Connected annotates found devices with the connection state.
	Connected func(address string) bool
	Logger    *zap.Logger
}

// Discovery runs at most one scan session at a time.
type Discovery struct {
	scanners  map[transport.Kind]Scanner
	notify    *Notifier
	connected func(string) bool
	log       *zap.Logger

	mu      sync.Mutex
	session *Session
}

// NewDiscovery returns an idle Discovery engine.
func NewDiscovery(cfg DiscoveryConfig) *Discovery {
	if cfg.Notifier == nil {
		cfg.Notifier = NewNotifier()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Discovery{
		scanners:  cfg.Scanners,
		notify:    cfg.Notifier,
		connected: cfg.Connected,
		log:       cfg.Logger.Named("discovery"),
	}
}

// Session is one discovery run. Devices are kept in the order first seen,
// one entry per address.
type Session struct {
	Kind transport.Kind

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	seen    map[string]struct{}
	devices []Device
	stopped bool
	err     error
}

// Devices returns the devices found so far.
func (s *Session) Devices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.devices)
}

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error once Done is closed. A stopped session has
// no error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wait blocks until the session ends or ctx does, and returns what was found.
func (s *Session) Wait(ctx context.Context) ([]Device, error) {
	select {
	case <-s.done:
		return s.Devices(), s.Err()
	case <-ctx.Done():
		return s.Devices(), ctx.Err()
	}
}

// Start begins a scan for kind. Found devices are reported as
// EventDeviceFound, and the session ends with EventDiscoveryFinished or
// EventDiscoveryError unless it is stopped first.
func (d *Discovery) Start(kind transport.Kind) (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		return nil, ErrAlreadyDiscovering
	}
	scanner, ok := d.scanners[kind]
	if !ok || scanner == nil {
		return nil, newError(Unavailable, CodeUnavailable, fmt.Sprintf("no %s discovery available", kind), nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		Kind:   kind,
		cancel: cancel,
		done:   make(chan struct{}),
		seen:   make(map[string]struct{}),
	}
	d.session = s
	d.log.Info("discovery started", zap.Stringer("kind", kind))
	go d.run(ctx, scanner, s)
	return s, nil
}

// Stop cancels the running scan, if any. No finished event is emitted for a
// stopped session. It reports whether a session was running.
func (d *Discovery) Stop() bool {
	d.mu.Lock()
	s := d.session
	d.session = nil
	d.mu.Unlock()
	if s == nil {
		return false
	}
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	d.log.Info("discovery stopped", zap.Stringer("kind", s.Kind))
	return true
}

// Active reports whether a session is running.
func (d *Discovery) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session != nil
}

func (d *Discovery) run(ctx context.Context, scanner Scanner, s *Session) {
	defer s.cancel()
	err := scanner.Scan(ctx, func(dev Device) { d.found(s, dev) })

	d.mu.Lock()
	if d.session == s {
		d.session = nil
	}
	d.mu.Unlock()

	s.mu.Lock()
	stopped := s.stopped
	devices := slices.Clone(s.devices)
	if !stopped && err != nil {
		s.err = scanError(err)
	}
	failure := s.err
	s.mu.Unlock()

	switch {
	case stopped:
	case failure != nil:
		d.log.Warn("discovery failed", zap.Stringer("kind", s.Kind), zap.Error(err))
		d.notify.publish(Event{Type: EventDiscoveryError, Err: failure})
	default:
		if len(devices) == 0 {
			d.log.Warn("discovery finished without finding a printer", zap.Stringer("kind", s.Kind))
		} else {
			d.log.Info("discovery finished", zap.Stringer("kind", s.Kind), zap.Int("found", len(devices)))
		}
		d.notify.publish(Event{Type: EventDiscoveryFinished, Devices: devices})
	}
	close(s.done)
}

func (d *Discovery) found(s *Session, dev Device) {
	if dev.Address == "" {
		return
	}
	if dev.FriendlyName == "" {
		dev.FriendlyName = dev.Address
	}
	if dev.Kind == transport.KindUnknown {
		dev.Kind = s.Kind
	}
	if d.connected != nil {
		dev.Connected = d.connected(dev.Address)
	}

	key := addressKey(dev.Address)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}
	s.devices = append(s.devices, dev)
	d.log.Debug("device found", zap.String("address", dev.Address), zap.String("name", dev.FriendlyName))
	d.notify.publish(Event{Type: EventDeviceFound, Device: dev})
}

func scanError(err error) *Error {
	if errors.Is(err, errors.ErrUnsupported) {
		return newError(Unavailable, CodeUnavailable, "discovery not available on this host", err)
	}
	return newError(DiscoveryFailed, CodeDiscoveryFailed, "discovery failed", err)
}
