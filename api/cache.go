package api

import (
	"sync"

	"fieldlink/channel"
)

// Cache stores the latest observed event per channel so the API can answer
// channel listings without touching the device. It implements
// channel.Listener and is registered on the driver like any other listener.
type Cache struct {
	mu     sync.RWMutex
	latest map[string]channel.Event
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{latest: make(map[string]channel.Event)}
}

// OnChannelEvent implements channel.Listener.
func (c *Cache) OnChannelEvent(ev channel.Event) {
	c.mu.Lock()
	c.latest[ev.ChannelName] = ev
	c.mu.Unlock()
}

// Get returns the latest event for a channel.
func (c *Cache) Get(name string) (channel.Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ev, ok := c.latest[name]
	return ev, ok
}
