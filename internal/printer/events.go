package printer

import (
	"sync"
	"time"
)

// EventType classifies a notification.
type EventType int

const (
	EventDeviceFound EventType = iota + 1
	EventDiscoveryFinished
	EventDiscoveryError
	EventConnectionStateChanged
)

func (t EventType) String() string {
	switch t {
	case EventDeviceFound:
		return "device_found"
	case EventDiscoveryFinished:
		return "discovery_finished"
	case EventDiscoveryError:
		return "discovery_error"
	case EventConnectionStateChanged:
		return "connection_state_changed"
	default:
		return "unknown"
	}
}

// ConnectionChange describes one connection state transition.
type ConnectionChange struct {
	Address   string
	Connected bool
	State     ConnectionState
	Err       error
}

// Event is one notification. Which payload field is set depends on Type.
type Event struct {
	Type       EventType
	Time       time.Time
	Device     Device           // EventDeviceFound
	Devices    []Device         // EventDiscoveryFinished
	Connection ConnectionChange // EventConnectionStateChanged
	Err        error            // EventDiscoveryError
}

// Notifier delivers events in publish order on a single channel. Publishing
// never blocks: events queue until the consumer drains them.
type Notifier struct {
	mu     sync.Mutex
	queue  []Event
	closed bool

	wake chan struct{}
	out  chan Event
	done chan struct{}
}

// NewNotifier starts a Notifier; Close stops it.
func NewNotifier() *Notifier {
	n := &Notifier{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	go n.pump()
	return n
}

// Events returns the channel events are delivered on. It is closed by Close.
func (n *Notifier) Events() <-chan Event {
	return n.out
}

func (n *Notifier) publish(e Event) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	n.queue = append(n.queue, e)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *Notifier) pump() {
	defer close(n.out)
	for {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		n.mu.Unlock()

		for _, e := range batch {
			select {
			case n.out <- e:
			case <-n.done:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-n.wake:
		case <-n.done:
			return
		}
	}
}

// Close stops delivery. Undelivered events are dropped.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	n.queue = nil
	close(n.done)
}
