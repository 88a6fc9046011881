// Package connectivity tracks the device's online/offline state and emits
// one event per transition. Consumers react to the event, not just the
// boolean, so a transition between two reads is never missed.
package connectivity

import (
	"sync"
)

const (
	// EventOnline fires once per offline→online transition.
	EventOnline EventType = "online"
	// EventOffline fires once per online→offline transition.
	EventOffline EventType = "offline"
)

// EventType identifies a connectivity transition.
type EventType string

// Event carries one connectivity transition.
type Event struct {
	Type EventType
}

// Monitor holds the current connectivity state and fans transitions out to
// subscribers. It is fed by whatever owns the platform connectivity
// signal, typically the remote client's connection state.
type Monitor struct {
	mu          sync.Mutex
	online      bool
	subscribers []chan Event

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   bool
}

// NewMonitor creates a monitor that starts in the offline state.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Start marks the monitor ready. Kept for lifecycle symmetry with Stop.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {})
}

// Stop closes all subscriber channels. SetOnline after Stop is a no-op.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.stopped = true
		for _, ch := range m.subscribers {
			close(ch)
		}
		m.subscribers = nil
	})
}

// Online returns the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a new event channel. The channel is buffered and
// events are dropped rather than blocking a slow consumer.
func (m *Monitor) Subscribe() <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Event, 16)
	if m.stopped {
		close(ch)
		return ch
	}
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// SetOnline reports the current platform connectivity. Edge-triggered:
// only an actual transition emits an event.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || m.online == online {
		return
	}
	m.online = online

	event := Event{Type: EventOffline}
	if online {
		event = Event{Type: EventOnline}
	}
	for _, ch := range m.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
