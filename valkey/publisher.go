// Package valkey caches the latest channel values in a Valkey/Redis server
// and optionally announces changes over Pub/Sub.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"fieldlink/channel"
	"fieldlink/config"
	"fieldlink/logging"
)

// joinKey joins key segments with colons, trimming stray colons from each
// segment so keys never contain empty parts.
func joinKey(segments ...string) string {
	var parts []string
	for _, s := range segments {
		s = strings.Trim(s, ":")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ":")
}

// ChannelMessage is the JSON structure stored per channel key.
type ChannelMessage struct {
	Namespace string      `json:"namespace"`
	Channel   string      `json:"channel"`
	Value     interface{} `json:"value,omitempty"`
	Type      string      `json:"type,omitempty"`
	Status    string      `json:"status"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher maintains the latest-value cache for one Valkey server. It
// implements channel.Listener.
type Publisher struct {
	config    *config.ValkeyConfig
	namespace string
	client    *redis.Client
	running   bool
	mu        sync.RWMutex
}

// NewPublisher creates a publisher for one server.
func NewPublisher(cfg *config.ValkeyConfig, namespace string) *Publisher {
	return &Publisher{config: cfg, namespace: namespace}
}

// Name returns the publisher's configured name.
func (p *Publisher) Name() string { return p.config.Name }

// IsRunning reports whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Start connects to the server and verifies it answers a ping.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := &redis.Options{
		Addr:         p.config.Address,
		Password:     p.config.Password,
		DB:           p.config.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	if p.config.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	logging.DebugConnect("valkey", p.config.Address)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logging.DebugConnectError("valkey", p.config.Address, err)
		client.Close()
		return err
	}
	logging.DebugConnectSuccess("valkey", p.config.Address, p.config.Name)

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		client.Close()
		return nil
	}
	p.client = client
	p.running = true
	p.mu.Unlock()
	return nil
}

// Stop closes the connection.
func (p *Publisher) Stop() {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.running = false
	p.mu.Unlock()

	if client != nil {
		client.Close()
	}
}

// ChannelKey returns the cache key for a channel.
func (p *Publisher) ChannelKey(channelName string) string {
	return joinKey(p.namespace, "channels", channelName)
}

// ChangeTopic returns the Pub/Sub topic announcing changes for a channel.
func (p *Publisher) ChangeTopic(channelName string) string {
	return joinKey(p.namespace, "changes", channelName)
}

// OnChannelEvent implements channel.Listener: the event is stored under the
// channel's key and, when configured, published to the change topic.
func (p *Publisher) OnChannelEvent(ev channel.Event) {
	p.mu.RLock()
	running := p.running
	client := p.client
	p.mu.RUnlock()

	if !running || client == nil {
		return
	}

	msg := ChannelMessage{
		Namespace: p.namespace,
		Channel:   ev.ChannelName,
		Status:    ev.Status.String(),
		Timestamp: ev.Timestamp,
	}
	if ev.Value != nil {
		msg.Value = ev.Value.Value
		msg.Type = string(ev.Value.Type)
	}
	if ev.Status != nil && ev.Status.Cause != nil {
		msg.Error = ev.Status.Cause.Error()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		logging.DebugError("valkey", "marshal event", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := p.ChannelKey(ev.ChannelName)
	if err := client.Set(ctx, key, payload, p.config.KeyTTL).Err(); err != nil {
		logging.DebugError("valkey", "set "+key, err)
		return
	}

	if p.config.PublishChanges {
		if err := client.Publish(ctx, p.ChangeTopic(ev.ChannelName), payload).Err(); err != nil {
			logging.DebugError("valkey", "publish "+ev.ChannelName, err)
		}
	}
}
