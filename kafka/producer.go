// Package kafka exports channel events to a Kafka topic.
package kafka

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"fieldlink/channel"
	"fieldlink/config"
	"fieldlink/logging"
)

// produceTimeout bounds a single synchronous produce call.
const produceTimeout = 10 * time.Second

// ChannelMessage is the JSON structure produced per channel event.
type ChannelMessage struct {
	Namespace string      `json:"namespace"`
	Channel   string      `json:"channel"`
	Value     interface{} `json:"value,omitempty"`
	Type      string      `json:"type,omitempty"`
	Status    string      `json:"status"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// Producer publishes channel events to one Kafka cluster. It implements
// channel.Listener.
type Producer struct {
	config    *config.KafkaConfig
	namespace string
	writer    *kafka.Writer
	running   bool
	mu        sync.RWMutex

	// Stats
	sent     int64
	errored  int64
	lastErr  error
	lastSend time.Time
}

// NewProducer creates a producer for one cluster.
func NewProducer(cfg *config.KafkaConfig, namespace string) *Producer {
	return &Producer{config: cfg, namespace: namespace}
}

// Name returns the producer's configured name.
func (p *Producer) Name() string { return p.config.Name }

// IsRunning reports whether the producer has a live writer.
func (p *Producer) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Stats returns the send counters and the last error.
func (p *Producer) Stats() (sent, errored int64, lastErr error, lastSend time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sent, p.errored, p.lastErr, p.lastSend
}

// Start verifies broker connectivity and builds the topic writer.
func (p *Producer) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	if len(p.config.Brokers) == 0 {
		return fmt.Errorf("kafka %s: no brokers configured", p.config.Name)
	}

	mechanism, err := p.saslMechanism()
	if err != nil {
		return err
	}

	dialer := &kafka.Dialer{
		Timeout:       10 * time.Second,
		DualStack:     true,
		TLS:           p.tlsConfig(),
		SASLMechanism: mechanism,
	}

	logging.DebugConnect("kafka", p.config.Brokers[0])
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := dialer.DialContext(ctx, "tcp", p.config.Brokers[0])
	if err != nil {
		logging.DebugConnectError("kafka", p.config.Brokers[0], err)
		return fmt.Errorf("kafka %s: %w", p.config.Name, err)
	}
	conn.Close()
	logging.DebugConnectSuccess("kafka", p.config.Brokers[0], p.config.Name)

	maxAttempts := p.config.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(p.config.Brokers...),
		Topic:    p.topic(),
		Balancer: &kafka.LeastBytes{},
		Transport: &kafka.Transport{
			DialTimeout: 10 * time.Second,
			TLS:         p.tlsConfig(),
			SASL:        mechanism,
		},

		RequiredAcks: kafka.RequiredAcks(p.config.RequiredAcks),
		Async:        false,
		MaxAttempts:  maxAttempts,

		BatchSize:    100,
		BatchBytes:   1048576,
		BatchTimeout: 10 * time.Millisecond,

		AllowAutoTopicCreation: true,
	}

	p.mu.Lock()
	p.writer = writer
	p.running = true
	p.mu.Unlock()
	return nil
}

// Stop closes the writer.
func (p *Producer) Stop() {
	p.mu.Lock()
	writer := p.writer
	p.writer = nil
	p.running = false
	p.mu.Unlock()

	if writer != nil {
		writer.Close()
	}
}

func (p *Producer) topic() string {
	if p.config.Topic != "" {
		return p.config.Topic
	}
	return p.namespace + ".channels"
}

// OnChannelEvent implements channel.Listener.
func (p *Producer) OnChannelEvent(ev channel.Event) {
	p.mu.RLock()
	running := p.running
	writer := p.writer
	p.mu.RUnlock()

	if !running || writer == nil {
		return
	}

	msg := ChannelMessage{
		Namespace: p.namespace,
		Channel:   ev.ChannelName,
		Status:    ev.Status.String(),
		Timestamp: ev.Timestamp.Format(time.RFC3339Nano),
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
		logging.DebugError("kafka", "marshal event", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), produceTimeout)
	defer cancel()

	err = writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ChannelName),
		Value: payload,
		Time:  time.Now(),
	})

	p.mu.Lock()
	if err != nil {
		p.errored++
		p.lastErr = err
	} else {
		p.sent++
		p.lastSend = time.Now()
		p.lastErr = nil
	}
	p.mu.Unlock()

	if err != nil {
		logging.DebugError("kafka", "produce "+ev.ChannelName, err)
	}
}

// saslMechanism builds the configured SASL mechanism, or nil when auth is
// disabled.
func (p *Producer) saslMechanism() (sasl.Mechanism, error) {
	switch p.config.SASLMechanism {
	case "":
		return nil, nil
	case "PLAIN":
		return plain.Mechanism{Username: p.config.Username, Password: p.config.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, p.config.Username, p.config.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, p.config.Username, p.config.Password)
	default:
		return nil, fmt.Errorf("kafka %s: unknown SASL mechanism %q", p.config.Name, p.config.SASLMechanism)
	}
}

func (p *Producer) tlsConfig() *tls.Config {
	if !p.config.UseTLS {
		return nil
	}
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: p.config.TLSSkipVerify,
	}
}
