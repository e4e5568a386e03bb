// Package publish forwards detection outcomes to an MQTT broker.
package publish

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

// DefaultQueueSize bounds messages waiting for the broker
const DefaultQueueSize = 64

// Config configures the MQTT publisher
type Config struct {
	Broker   string
	ClientID string
	// Topic is the prefix; messages go to <Topic>/result and <Topic>/error
	Topic     string
	Encoding  Encoding
	QoS       byte
	QueueSize int
}

// Stats contains publisher statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
	Dropped   uint64            `json:"dropped"`
}

type message struct {
	topic   string
	payload []byte
}

// Publisher is a dispatch observer that publishes every result and error.
// Observer calls never block: messages are queued for a worker and dropped
// when the queue is full.
type Publisher struct {
	cfg    Config
	client mqtt.Client

	queue     chan message
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.RWMutex
	published map[string]uint64
	connected bool

	errors  atomic.Uint64
	dropped atomic.Uint64
}

// New validates cfg and creates a disconnected publisher
func New(cfg Config) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "posestreamer"
	}
	cfg.Topic = strings.TrimSuffix(cfg.Topic, "/")
	enc, err := ParseEncoding(string(cfg.Encoding))
	if err != nil {
		return nil, err
	}
	cfg.Encoding = enc
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid qos %d", cfg.QoS)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Publisher{
		cfg:       cfg,
		queue:     make(chan message, cfg.QueueSize),
		done:      make(chan struct{}),
		published: make(map[string]uint64),
	}, nil
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

// Connect establishes the broker connection and starts the worker
func (p *Publisher) Connect(ctx context.Context) error {
	log := logger.WithComponent("mqtt")

	broker := p.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		p.setConnected(true)
		log.Info().Str("broker", broker).Str("client_id", p.cfg.ClientID).Msg("MQTT connection established")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		p.setConnected(false)
		log.Warn().Err(err).Str("broker", broker).Msg("MQTT connection lost, will auto-reconnect")
	}

	client := mqtt.NewClient(opts)
	log.Info().Str("broker", broker).Msg("Connecting to MQTT broker")

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt connection: %w", ctx.Err())
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	p.start(client)
	p.setConnected(true)
	return nil
}

// start runs the publish worker against client
func (p *Publisher) start(client mqtt.Client) {
	p.client = client
	go p.run()
}

func (p *Publisher) run() {
	for {
		select {
		case <-p.done:
			return
		case m := <-p.queue:
			p.publish(m)
		}
	}
}

func (p *Publisher) publish(m message) {
	token := p.client.Publish(m.topic, p.cfg.QoS, false, m.payload)
	if !token.WaitTimeout(2 * time.Second) {
		p.errors.Add(1)
		logger.WithComponent("mqtt").Debug().Str("topic", m.topic).Msg("Publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		p.errors.Add(1)
		logger.WithComponent("mqtt").Debug().Err(err).Str("topic", m.topic).Msg("Publish failed")
		return
	}
	p.mu.Lock()
	p.published[m.topic]++
	p.mu.Unlock()
}

// OnResult implements dispatch.Observer
func (p *Publisher) OnResult(r pose.DetectionResult) {
	p.enqueue(p.cfg.Topic+"/result", pose.NewResultEvent(r))
}

// OnError implements dispatch.Observer
func (p *Publisher) OnError(err *pose.Error) {
	p.enqueue(p.cfg.Topic+"/error", pose.NewErrorEvent(err))
}

func (p *Publisher) enqueue(topic string, v interface{}) {
	payload, err := p.cfg.Encoding.Marshal(v)
	if err != nil {
		p.errors.Add(1)
		logger.WithComponent("mqtt").Debug().Err(err).Msg("Failed to encode payload")
		return
	}
	select {
	case p.queue <- message{topic: topic, payload: payload}:
	default:
		p.dropped.Add(1)
	}
}

// Close stops the worker and disconnects
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		if p.client != nil && p.client.IsConnected() {
			p.client.Disconnect(250)
			logger.WithComponent("mqtt").Info().Msg("MQTT disconnected")
		}
		p.setConnected(false)
	})
	return nil
}

// Stats returns publisher statistics
func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	published := make(map[string]uint64, len(p.published))
	for k, v := range p.published {
		published[k] = v
	}
	return Stats{
		Connected: p.connected,
		Published: published,
		Errors:    p.errors.Load(),
		Dropped:   p.dropped.Load(),
	}
}
