package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"printlink/internal/transport"
)

var (
	errOpen  = errors.New("connect: host is down")
	errWrite = errors.New("write: broken pipe")
	errProbe = errors.New("getvar: timed out")
)

// callLog records collaborator calls across fakes so their order can be
// asserted.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.calls)
}

type fakeTransport struct {
	address string
	log     *callLog

	mu          sync.Mutex
	open        bool
	opens       int
	closes      int
	written     []byte
	openErr     error
	writeErr    error
	dropOnWrite bool
	onWrite     func()
}

func (t *fakeTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	if t.openErr != nil {
		return t.openErr
	}
	t.open = true
	return nil
}

func (t *fakeTransport) Read(p []byte) (int, error) { return 0, io.EOF }

func (t *fakeTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	hook := t.onWrite
	t.mu.Unlock()
	if hook != nil {
		hook()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		if t.dropOnWrite {
			t.open = false
		}
		return 0, t.writeErr
	}
	t.written = append(t.written, p...)
	return len(p), nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	t.open = false
	t.log.add("close %s", t.address)
	return nil
}

func (t *fakeTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *fakeTransport) Address() string { return t.address }

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

func (t *fakeTransport) bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.written)
}

func (t *fakeTransport) setOpen(open bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = open
}

// fakeFactory hands out fakeTransports, applying configure to each.
type fakeFactory struct {
	log       *callLog
	configure func(*fakeTransport)

	mu    sync.Mutex
	built []*fakeTransport
}

func (f *fakeFactory) New(address string) (transport.Transport, error) {
	t := &fakeTransport{address: address, log: f.log}
	f.mu.Lock()
	configure := f.configure
	f.built = append(f.built, t)
	f.mu.Unlock()
	if configure != nil {
		configure(t)
	}
	return t, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.built) == 0 {
		return nil
	}
	return f.built[len(f.built)-1]
}

func (f *fakeFactory) set(configure func(*fakeTransport)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configure = configure
}

// fakeQuerier answers settings from values, failing a key the number of
// times recorded in failures.
type fakeQuerier struct {
	mu       sync.Mutex
	values   map[string]string
	failures map[string]int
	calls    []string
	// gate, when set, holds identity queries until it is closed.
	gate chan struct{}
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{values: map[string]string{}, failures: map[string]int{}}
}

func (q *fakeQuerier) Get(ctx context.Context, rw io.ReadWriter, key string) (string, error) {
	q.mu.Lock()
	q.calls = append(q.calls, key)
	wait := q.gate
	q.mu.Unlock()

	if wait != nil && key == identityKey {
		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failures[key] > 0 {
		q.failures[key]--
		return "", errProbe
	}
	if v, ok := q.values[key]; ok {
		return v, nil
	}
	return "zpl", nil
}

func (q *fakeQuerier) fail(key string, times int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failures[key] = times
}

func (q *fakeQuerier) count(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, k := range q.calls {
		if k == key {
			n++
		}
	}
	return n
}

type fakeHost struct {
	log *callLog

	mu      sync.Mutex
	paired  []Device
	pairErr error
	err     error
}

func (h *fakeHost) Pair(ctx context.Context, address string) error {
	h.log.add("pair %s", address)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pairErr != nil {
		return h.pairErr
	}
	h.paired = append(h.paired, Device{Address: address})
	return nil
}

func (h *fakeHost) Unpair(ctx context.Context, address string) error {
	h.log.add("unpair %s", address)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.paired = slices.DeleteFunc(h.paired, func(d Device) bool { return sameAddress(d.Address, address) })
	return nil
}

func (h *fakeHost) Paired(ctx context.Context) ([]Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	return slices.Clone(h.paired), nil
}

// fakeScanner reports devices and then returns err, or blocks until canceled
// when hold is set.
type fakeScanner struct {
	devices []Device
	err     error
	hold    bool
}

func (s *fakeScanner) Scan(ctx context.Context, found func(Device)) error {
	for _, d := range s.devices {
		found(d)
	}
	if s.hold {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sleepRecorder replaces real waits; it advances the clock instead.
type sleepRecorder struct {
	clock *fakeClock

	mu       sync.Mutex
	waits    []time.Duration
	canceled []bool
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.canceled = append(r.canceled, ctx.Err() != nil)
	r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	r.clock.Advance(d)
	return nil
}

func (r *sleepRecorder) list() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.waits)
}

func (r *sleepRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = nil
	r.canceled = nil
}

type harness struct {
	svc     *Service
	calls   *callLog
	factory *fakeFactory
	querier *fakeQuerier
	host    *fakeHost
	clock   *fakeClock
	sleeps  *sleepRecorder
}

func newHarness(t *testing.T, scanners map[transport.Kind]Scanner) *harness {
	t.Helper()
	calls := &callLog{}
	h := &harness{
		calls:   calls,
		factory: &fakeFactory{log: calls},
		querier: newFakeQuerier(),
		host:    &fakeHost{log: calls},
		clock:   newFakeClock(),
	}
	h.sleeps = &sleepRecorder{clock: h.clock}
	h.svc = New(Config{
		Transports: h.factory,
		Querier:    h.querier,
		Host:       h.host,
		Scanners:   scanners,
	})
	h.svc.manager.now = h.clock.Now
	h.svc.executor.sleep = h.sleeps.sleep
	t.Cleanup(h.svc.Close)
	return h
}

// nextEvent waits for the next event of type typ, skipping others.
func nextEvent(t *testing.T, events <-chan Event, typ EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-events:
			require.True(t, ok, "event stream closed")
			if e.Type == typ {
				return e
			}
		case <-timeout:
			require.FailNow(t, "no event", "waiting for %s", typ)
		}
	}
}

// connectionChanges collects the next n connection events.
func connectionChanges(t *testing.T, events <-chan Event, n int) []ConnectionChange {
	t.Helper()
	var out []ConnectionChange
	for range n {
		out = append(out, nextEvent(t, events, EventConnectionStateChanged).Connection)
	}
	return out
}

func states(changes []ConnectionChange) []ConnectionState {
	out := make([]ConnectionState, len(changes))
	for i, c := range changes {
		out[i] = c.State
	}
	return out
}

// drain collects whatever arrives until the stream is quiet.
func drain(events <-chan Event, quiet time.Duration) []Event {
	var out []Event
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-time.After(quiet):
			return out
		}
	}
}

// fakeMonitor reports lost links, then runs until canceled unless err is set.
type fakeMonitor struct {
	lost []string
	err  error
}

func (m *fakeMonitor) Monitor(ctx context.Context, lost func(string)) error {
	for _, a := range m.lost {
		lost(a)
	}
	if m.err != nil {
		return m.err
	}
	<-ctx.Done()
	return ctx.Err()
}
