// Package mqtt republishes channel events to an MQTT broker and optionally
// consumes write requests from a write topic.
package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"fieldlink/channel"
	"fieldlink/config"
	"fieldlink/logging"
)

// MaxWriteWorkers is the number of concurrent write goroutines per publisher.
const MaxWriteWorkers = 3

// MaxWriteQueueSize is the maximum number of pending write jobs per publisher.
const MaxWriteQueueSize = 64

// WriteHandler applies a write request to the device. It returns an error
// when the write fails.
type WriteHandler func(channelName string, value interface{}) error

// ChannelMessage is the JSON structure published for each channel event.
type ChannelMessage struct {
	Namespace string      `json:"namespace"`
	Channel   string      `json:"channel"`
	Value     interface{} `json:"value,omitempty"`
	Type      string      `json:"type,omitempty"`
	Status    string      `json:"status"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// WriteRequest is the JSON structure accepted on the write topic.
type WriteRequest struct {
	Value interface{} `json:"value"`
}

// WriteResponse is the JSON structure published after a write request.
type WriteResponse struct {
	Channel   string      `json:"channel"`
	Value     interface{} `json:"value"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// writeJob is a pending write request pulled off the broker.
type writeJob struct {
	client      pahomqtt.Client
	channelName string
	value       interface{}
}

// Publisher connects to a single broker, publishes channel events, and
// feeds write requests to the configured handler. It implements
// channel.Listener so it can be registered on the driver directly.
type Publisher struct {
	config    *config.MQTTConfig
	namespace string
	client    pahomqtt.Client
	running   bool
	mu        sync.RWMutex

	writeHandler WriteHandler

	writeQueue chan writeJob
	stopChan   chan struct{}
	wg         sync.WaitGroup
}

// NewPublisher creates a publisher for one broker. namespace isolates the
// topic tree per gateway instance.
func NewPublisher(cfg *config.MQTTConfig, namespace string) *Publisher {
	return &Publisher{
		config:     cfg,
		namespace:  namespace,
		writeQueue: make(chan writeJob, MaxWriteQueueSize),
		stopChan:   make(chan struct{}),
	}
}

// Name returns the publisher's configured name.
func (p *Publisher) Name() string { return p.config.Name }

// SetWriteHandler installs the callback that applies write requests.
func (p *Publisher) SetWriteHandler(fn WriteHandler) {
	p.mu.Lock()
	p.writeHandler = fn
	p.mu.Unlock()
}

// IsRunning reports whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Start connects to the broker and, when writes are enabled, subscribes to
// the write topic.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := pahomqtt.NewClientOptions()
	if p.config.UseTLS {
		opts.AddBroker(fmt.Sprintf("ssl://%s:%d", p.config.Broker, p.config.Port))
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		opts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port))
	}

	opts.SetClientID(p.config.ClientID)
	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	client := pahomqtt.NewClient(opts)
	logging.DebugConnect("mqtt", fmt.Sprintf("%s:%d", p.config.Broker, p.config.Port))

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt %s: connection timeout", p.config.Name)
	}
	if token.Error() != nil {
		logging.DebugConnectError("mqtt", p.config.Broker, token.Error())
		return fmt.Errorf("mqtt %s: %w", p.config.Name, token.Error())
	}
	logging.DebugConnectSuccess("mqtt", fmt.Sprintf("%s:%d", p.config.Broker, p.config.Port), p.config.ClientID)

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		client.Disconnect(100)
		return nil
	}
	p.client = client
	p.running = true
	p.mu.Unlock()

	if p.config.EnableWrites {
		p.startWriteWorkers()
		if err := p.subscribeWrites(client); err != nil {
			logging.DebugError("mqtt", "write subscription", err)
		}
	}
	return nil
}

// Stop disconnects from the broker and drains the write workers.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running || p.client == nil {
		p.mu.Unlock()
		return
	}
	p.running = false
	client := p.client
	p.client = nil

	oldStop := p.stopChan
	p.stopChan = make(chan struct{})
	p.writeQueue = make(chan writeJob, MaxWriteQueueSize)
	p.mu.Unlock()

	close(oldStop)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		logging.DebugLog("mqtt", "timeout waiting for write workers to stop")
	}

	client.Disconnect(500)
}

// ChannelTopic returns the topic a channel's events are published on.
func (p *Publisher) ChannelTopic(channelName string) string {
	return fmt.Sprintf("%s/channels/%s", p.namespace, channelName)
}

func (p *Publisher) writeTopicFilter() string {
	return fmt.Sprintf("%s/channels/+/write", p.namespace)
}

// OnChannelEvent implements channel.Listener.
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
		logging.DebugError("mqtt", "marshal event", err)
		return
	}

	token := client.Publish(p.ChannelTopic(ev.ChannelName), 0, p.config.Retain, payload)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			logging.DebugError("mqtt", "publish", token.Error())
		}
	}()
}

// subscribeWrites subscribes to the per-channel write topics.
func (p *Publisher) subscribeWrites(client pahomqtt.Client) error {
	filter := p.writeTopicFilter()
	token := client.Subscribe(filter, 1, p.handleWriteMessage)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", filter)
	}
	if token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", filter, token.Error())
	}
	logging.DebugLog("mqtt", "subscribed to %s", filter)
	return nil
}

// handleWriteMessage queues an incoming write request. The queue is
// bounded; when full the request is rejected with an error response rather
// than blocking the broker callback.
func (p *Publisher) handleWriteMessage(client pahomqtt.Client, msg pahomqtt.Message) {
	channelName, ok := channelFromWriteTopic(p.namespace, msg.Topic())
	if !ok {
		logging.DebugLog("mqtt", "ignoring write on unexpected topic %s", msg.Topic())
		return
	}

	var req WriteRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		p.publishWriteResponse(client, channelName, nil, fmt.Errorf("malformed write request: %w", err))
		return
	}

	p.mu.RLock()
	queue := p.writeQueue
	p.mu.RUnlock()

	select {
	case queue <- writeJob{client: client, channelName: channelName, value: req.Value}:
	default:
		p.publishWriteResponse(client, channelName, req.Value, fmt.Errorf("write queue full"))
	}
}

// channelFromWriteTopic extracts the channel segment from
// {namespace}/channels/{name}/write.
func channelFromWriteTopic(namespace, topic string) (string, bool) {
	prefix := namespace + "/channels/"
	if !strings.HasPrefix(topic, prefix) || !strings.HasSuffix(topic, "/write") {
		return "", false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(topic, prefix), "/write")
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

func (p *Publisher) startWriteWorkers() {
	p.mu.RLock()
	stop := p.stopChan
	queue := p.writeQueue
	p.mu.RUnlock()

	for i := 0; i < MaxWriteWorkers; i++ {
		p.wg.Add(1)
		go p.writeWorker(stop, queue)
	}
}

func (p *Publisher) writeWorker(stop chan struct{}, queue chan writeJob) {
	defer p.wg.Done()

	for {
		select {
		case <-stop:
			return
		case job, ok := <-queue:
			if !ok {
				return
			}

			p.mu.RLock()
			handler := p.writeHandler
			p.mu.RUnlock()

			var err error
			if handler == nil {
				err = fmt.Errorf("no write handler configured")
			} else {
				logging.DebugLog("mqtt", "write %s = %v", job.channelName, job.value)
				err = handler(job.channelName, job.value)
				if err != nil {
					logging.DebugError("mqtt", "write "+job.channelName, err)
				}
			}
			p.publishWriteResponse(job.client, job.channelName, job.value, err)
		}
	}
}

func (p *Publisher) publishWriteResponse(client pahomqtt.Client, channelName string, value interface{}, writeErr error) {
	resp := WriteResponse{
		Channel:   channelName,
		Value:     value,
		Success:   writeErr == nil,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}
	if writeErr != nil {
		resp.Error = writeErr.Error()
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	topic := p.ChannelTopic(channelName) + "/write/response"
	client.Publish(topic, 0, false, payload)
}
