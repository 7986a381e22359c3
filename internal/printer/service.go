package printer

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"printlink/internal/transport"
)

// Config wires a Service to its host collaborators.
type Config struct {
	Transports TransportFactory
	Querier    Querier
	Host       HostBonding
	Scanners   map[transport.Kind]Scanner
	Logger     *zap.Logger
}

// Service is the upward API: discovery, bonding, connection control and
// printing, with every state change reported on Events.
type Service struct {
	notify    *Notifier
	manager   *Manager
	executor  *Executor
	discovery *Discovery
	bonding   *Bonding
	log       *zap.Logger
}

// New assembles a Service. Call Close to release the active connection and
// stop event delivery.
func New(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	notify := NewNotifier()
	mgr := NewManager(ManagerConfig{
		Transports: cfg.Transports,
		Querier:    cfg.Querier,
		Notifier:   notify,
		Logger:     log,
	})
	return &Service{
		notify:   notify,
		manager:  mgr,
		executor: NewExecutor(mgr, log),
		discovery: NewDiscovery(DiscoveryConfig{
			Scanners:  cfg.Scanners,
			Notifier:  notify,
			Connected: mgr.IsConnected,
			Logger:    log,
		}),
		bonding: NewBonding(cfg.Host, mgr, log),
		log:     log,
	}
}

// Events returns the notification stream.
func (s *Service) Events() <-chan Event { return s.notify.Events() }

func (s *Service) StartDiscovery(kind transport.Kind) (*Session, error) {
	return s.discovery.Start(kind)
}

func (s *Service) StopDiscovery() bool { return s.discovery.Stop() }

func (s *Service) PairedDevices(ctx context.Context) ([]Device, error) {
	return s.bonding.PairedDevices(ctx)
}

func (s *Service) Pair(ctx context.Context, address string) error {
	return s.bonding.Pair(ctx, address)
}

func (s *Service) Unpair(ctx context.Context, address string) error {
	return s.bonding.Unpair(ctx, address)
}

func (s *Service) Connect(ctx context.Context, address string) error {
	return s.manager.Connect(ctx, address)
}

func (s *Service) Disconnect(ctx context.Context, address string) error {
	return s.manager.Disconnect(ctx, address)
}

func (s *Service) IsConnected(address string) bool { return s.manager.IsConnected(address) }

func (s *Service) State() ConnectionState { return s.manager.State() }

func (s *Service) ActiveAddress() (string, bool) { return s.manager.ActiveAddress() }

// LinkLost reports that the host saw the link to address drop.
func (s *Service) LinkLost(ctx context.Context, address string) error {
	return s.manager.LinkLost(ctx, address)
}

// LinkMonitor reports Bluetooth links the host saw drop.
type LinkMonitor interface {
	Monitor(ctx context.Context, lost func(address string)) error
}

// WatchLinks feeds the monitor's reports into LinkLost until ctx ends or the
// monitor stops. Reports for addresses without an active connection are
// ignored.
func (s *Service) WatchLinks(ctx context.Context, m LinkMonitor) error {
	err := m.Monitor(ctx, func(address string) {
		if !s.manager.IsConnected(address) {
			return
		}
		if err := s.LinkLost(ctx, address); err != nil {
			s.log.Warn("link loss not applied", zap.String("address", address), zap.Error(err))
		}
	})
	switch {
	case err == nil, ctx.Err() != nil:
		return nil
	case errors.Is(err, errors.ErrUnsupported):
		return newError(Unavailable, CodeUnavailable, "link monitoring not available on this host", err)
	default:
		return err
	}
}

// Send writes payload, transcoded to encoding, to the printer at address.
func (s *Service) Send(ctx context.Context, address string, payload []byte, encoding string) (Result, error) {
	return s.executor.Execute(ctx, address, Send(payload, encoding))
}

// Query reads settings from the printer at address, one value per key.
func (s *Service) Query(ctx context.Context, address string, keys ...string) ([]string, error) {
	res, err := s.executor.Execute(ctx, address, Query(keys...))
	if err != nil {
		return nil, err
	}
	return res.Values, nil
}

// PrinterInfo reads model, serial number, firmware and control language.
func (s *Service) PrinterInfo(ctx context.Context, address string) (Info, error) {
	values, err := s.Query(ctx, address, infoKeys...)
	if err != nil {
		return Info{}, err
	}
	return infoFrom(values), nil
}

// PrinterStatus reads the paper, pause, head and temperature state.
func (s *Service) PrinterStatus(ctx context.Context, address string) (Status, error) {
	values, err := s.Query(ctx, address, statusKeys...)
	if err != nil {
		return Status{}, err
	}
	return statusFrom(values), nil
}

// Close stops discovery, closes the active connection and ends the event
// stream.
func (s *Service) Close() {
	s.discovery.Stop()
	s.manager.Close()
	s.notify.Close()
	s.log.Debug("service closed")
}
