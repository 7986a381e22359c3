package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"printlink/internal/transport"
)

// identityKey is queried on connect to confirm the remote end is a printer
// that speaks a control language.
const identityKey = "device.languages"

// TransportFactory builds unopened transports for device addresses.
type TransportFactory interface {
	New(address string) (transport.Transport, error)
}

// Querier issues a single setting query over an open connection.
type Querier interface {
	Get(ctx context.Context, rw io.ReadWriter, key string) (string, error)
}

// ManagerConfig holds the collaborators of a Manager.
type ManagerConfig struct {
	Transports TransportFactory
	Querier    Querier
	Notifier   *Notifier
	Logger     *zap.Logger
}

func (c *ManagerConfig) setDefaults() {
	if c.Notifier == nil {
		c.Notifier = NewNotifier()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

type activeConnection struct {
	address   string
	transport transport.Transport
	openedAt  time.Time
}

// Manager owns at most one active connection and the recency cache.
// Connection-affecting calls are serialized; a call made while another is in
// flight fails with AlreadyBusy.
type Manager struct {
	transports TransportFactory
	querier    Querier
	notify     *Notifier
	cache      *RecencyCache
	gate       *gate
	log        *zap.Logger
	now        func() time.Time

	mu     sync.RWMutex
	state  ConnectionState
	active *activeConnection
}

// NewManager returns a disconnected Manager.
func NewManager(cfg ManagerConfig) *Manager {
	cfg.setDefaults()
	return &Manager{
		transports: cfg.Transports,
		querier:    cfg.Querier,
		notify:     cfg.Notifier,
		cache:      NewRecencyCache(CacheWindow),
		gate:       newGate(),
		log:        cfg.Logger.Named("manager"),
		now:        time.Now,
		state:      StateDisconnected,
	}
}

// Connect opens and verifies a connection to address and keeps it as the
// active connection.
func (m *Manager) Connect(ctx context.Context, address string) error {
	if address == "" {
		return invalidAddress()
	}
	release, ok := m.gate.try()
	if !ok {
		return newError(AlreadyBusy, CodeAlreadyConnecting, "another connection operation is in progress", nil)
	}
	defer release()

	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		state := m.state
		m.mu.Unlock()
		return newError(AlreadyBusy, CodeAlreadyConnecting, fmt.Sprintf("already %s", state), nil)
	}
	m.setStateLocked(StateConnecting, ConnectionChange{Address: address})
	m.mu.Unlock()

	log := m.log.With(zap.String("address", address))
	log.Info("connecting")

	t, err := m.openVerified(ctx, address)
	if err != nil {
		log.Warn("connection failed", zap.Error(err))
		m.mu.Lock()
		m.setStateLocked(StateError, ConnectionChange{Address: address, Err: err})
		m.setStateLocked(StateDisconnected, ConnectionChange{Address: address, Err: err})
		m.mu.Unlock()
		return connectFailure("connection failed", err)
	}

	now := m.now()
	m.mu.Lock()
	m.active = &activeConnection{address: address, transport: t, openedAt: now}
	m.setStateLocked(StateConnected, ConnectionChange{Address: address, Connected: true})
	m.mu.Unlock()
	m.cache.Touch(address, now)
	log.Info("connected")
	return nil
}

// openVerified opens a transport and checks it answers the identity query.
// On failure the transport has been closed.
func (m *Manager) openVerified(ctx context.Context, address string) (transport.Transport, error) {
	t, err := m.transports.New(address)
	if err != nil {
		return nil, err
	}
	if err := t.Open(ctx); err != nil {
		m.closeTransport(t, address)
		return nil, err
	}
	lang, err := m.querier.Get(ctx, t, identityKey)
	if err != nil {
		m.closeTransport(t, address)
		return nil, fmt.Errorf("verify printer: %w", err)
	}
	m.log.Debug("printer verified", zap.String("address", address), zap.String("language", lang))
	return t, nil
}

// Disconnect closes the active connection. An empty address targets
// whatever is connected.
func (m *Manager) Disconnect(ctx context.Context, address string) error {
	if !m.IsConnected(address) {
		return notConnected(address)
	}
	release, ok := m.gate.try()
	if !ok {
		return newError(AlreadyBusy, CodeBusy, "an operation is in progress", nil)
	}
	defer release()
	return m.disconnect(address, nil)
}

// LinkLost handles an out-of-band report that the link to address dropped.
// It waits for any in-flight operation, then tears the connection down the
// same way Disconnect does.
func (m *Manager) LinkLost(ctx context.Context, address string) error {
	release, err := m.gate.wait(ctx)
	if err != nil {
		return err
	}
	defer release()
	m.log.Warn("link lost", zap.String("address", address))
	return m.disconnect(address, ErrLinkLost)
}

// disconnect tears down the active connection; the gate must be held.
func (m *Manager) disconnect(address string, cause error) error {
	m.mu.RLock()
	conn := m.active
	m.mu.RUnlock()
	if conn == nil || (address != "" && !sameAddress(address, conn.address)) {
		return notConnected(address)
	}
	m.drop(conn, cause)
	return nil
}

// drop closes conn and clears it if it is still the active connection; the
// gate must be held.
func (m *Manager) drop(conn *activeConnection, cause error) {
	m.mu.Lock()
	if m.active != conn {
		m.mu.Unlock()
		return
	}
	m.active = nil
	m.setStateLocked(StateDisconnecting, ConnectionChange{Address: conn.address, Err: cause})
	m.mu.Unlock()

	m.closeTransport(conn.transport, conn.address)

	m.mu.Lock()
	m.setStateLocked(StateDisconnected, ConnectionChange{Address: conn.address, Err: cause})
	m.mu.Unlock()
	m.log.Info("disconnected", zap.String("address", conn.address), zap.Duration("held", m.now().Sub(conn.openedAt)))
}

// reusable returns the active transport when it belongs to address and is
// still open. A matching connection that reports closed is cleared. The
// gate must be held.
func (m *Manager) reusable(address string) (transport.Transport, bool) {
	m.mu.RLock()
	conn := m.active
	m.mu.RUnlock()
	if conn == nil || !sameAddress(conn.address, address) {
		return nil, false
	}
	if conn.transport.IsOpen() {
		return conn.transport, true
	}
	m.log.Warn("active connection reports closed, clearing it", zap.String("address", address))
	m.drop(conn, ErrLinkLost)
	return nil, false
}

// dropIfClosed clears the active connection to address after a failed
// operation, but only when the transport itself reports the link gone. The
// gate must be held.
func (m *Manager) dropIfClosed(address string, cause error) {
	m.mu.RLock()
	conn := m.active
	m.mu.RUnlock()
	if conn == nil || !sameAddress(conn.address, address) || conn.transport.IsOpen() {
		return
	}
	m.log.Warn("active connection closed after failure", zap.String("address", address), zap.Error(cause))
	m.drop(conn, cause)
}

// IsConnected reports whether there is an active connection, to address
// when it is non-empty.
func (m *Manager) IsConnected(address string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return false
	}
	return address == "" || sameAddress(address, m.active.address)
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ActiveAddress returns the address of the active connection.
func (m *Manager) ActiveAddress() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return "", false
	}
	return m.active.address, true
}

// Close waits for in-flight work and closes the active connection.
func (m *Manager) Close() {
	release, err := m.gate.wait(context.Background())
	if err != nil {
		return
	}
	defer release()
	m.mu.RLock()
	conn := m.active
	m.mu.RUnlock()
	if conn != nil {
		m.drop(conn, nil)
	}
}

// setStateLocked records a transition and notifies observers; mu must be
// held so notifications are ordered with the state they describe.
func (m *Manager) setStateLocked(s ConnectionState, change ConnectionChange) {
	m.state = s
	change.State = s
	change.Connected = s == StateConnected
	m.notify.publish(Event{Type: EventConnectionStateChanged, Connection: change})
}

func (m *Manager) closeTransport(t transport.Transport, address string) {
	if err := t.Close(); err != nil {
		m.log.Warn("close failed", zap.String("address", address), zap.Error(err))
	}
}

// connectFailure classifies an error from building or opening a transport.
func connectFailure(message string, err error) *Error {
	if errors.Is(err, transport.ErrInvalidAddress) {
		return newError(InvalidArgument, CodeInvalidAddress, "invalid printer address", err)
	}
	return newError(ConnectionFailed, CodeConnectionFailed, message, err)
}

func notConnected(address string) *Error {
	if address == "" {
		return newError(NotConnected, CodeNotConnected, "no printer connected", nil)
	}
	return newError(NotConnected, CodeNotConnected, fmt.Sprintf("not connected to %s", address), nil)
}
