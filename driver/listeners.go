package driver

import (
	"sync"

	"fieldlink/channel"
)

// Registration pairs a listener with the validated view of the channel
// configuration it subscribed with.
type Registration struct {
	Request  *ReadRequest
	Listener channel.Listener
}

// ListenerManager tracks active push-style subscriptions. It is pure
// bookkeeping: registering and unregistering never touch connection I/O,
// so framework callbacks can call them without blocking.
type ListenerManager struct {
	mu      sync.RWMutex
	regs    []*Registration
	version uint64 // bumped on every change, lets pollers cache prepared state
}

// NewListenerManager creates an empty manager.
func NewListenerManager() *ListenerManager {
	return &ListenerManager{}
}

// Register records the (config, listener) pair. It fails only on malformed
// configuration.
func (m *ListenerManager) Register(config map[string]interface{}, listener channel.Listener) error {
	req, err := NewReadRequest(config)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.regs = append(m.regs, &Registration{Request: req, Listener: listener})
	m.version++
	m.mu.Unlock()
	return nil
}

// Unregister removes all registrations for the listener identity. Listeners
// are matched by interface equality, so register comparable values
// (typically pointers). It is a no-op when the listener was never
// registered.
func (m *ListenerManager) Unregister(listener channel.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.regs[:0]
	for _, reg := range m.regs {
		if reg.Listener != listener {
			kept = append(kept, reg)
		}
	}
	if len(kept) != len(m.regs) {
		m.version++
	}
	m.regs = kept
}

// Registrations returns a snapshot of the active registrations.
func (m *ListenerManager) Registrations() []*Registration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Registration, len(m.regs))
	copy(out, m.regs)
	return out
}

// Version returns a counter that changes whenever the registration set
// changes.
func (m *ListenerManager) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Len returns the number of active registrations.
func (m *ListenerManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.regs)
}
