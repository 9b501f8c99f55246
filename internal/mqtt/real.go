package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// DefaultOutboxSize is how many messages are kept while disconnected.
const DefaultOutboxSize = 100

// RealConfig configures a RealPublisher.
type RealConfig struct {
	Broker     string
	ClientID   string
	Topics     Topics
	OutboxSize int
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the connection is down are queued and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics

	mu     sync.Mutex
	outbox *outbox
}

// WillPayload is the retained last-will message published by the broker
// when the device drops off without a clean disconnect.
func WillPayload() []byte {
	payload, _ := FormatSystemPayload(SystemEvent{Event: "OFFLINE", Reason: "connection lost"})
	return payload
}

// NewRealPublisher creates a publisher for the given broker. If the broker
// is unreachable the client keeps retrying in the background and messages
// are queued until it connects.
func NewRealPublisher(cfg RealConfig) (*RealPublisher, error) {
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = DefaultOutboxSize
	}
	p := &RealPublisher{
		topics: cfg.Topics,
		outbox: newOutbox(cfg.OutboxSize),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(cfg.Topics.System, string(WillPayload()), 1, true).
		SetOnConnectHandler(func(paho.Client) {
			log.Printf("mqtt: connected to %s", cfg.Broker)
			p.flush()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Printf("mqtt: broker %s not reachable yet, retrying in background", cfg.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// Publish sends an application event to the MQTT broker.
func (p *RealPublisher) Publish(event Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	if err := p.send(outboxMsg{topic: p.topics.Events, payload: payload}); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	msg := outboxMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained}
	if err := p.send(msg); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// IsConnected reports whether the broker connection is currently open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

// send publishes msg, or queues it while the broker is unreachable or a
// replay is still owed. p.mu is held across the check so a message can
// neither slip past flush nor overtake the messages it replays.
func (p *RealPublisher) send(msg outboxMsg) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.client.IsConnectionOpen() || p.outbox.len() > 0 {
		p.outbox.push(msg)
		return nil
	}
	return p.publish(msg)
}

func (p *RealPublisher) publish(msg outboxMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("timeout")
	}
	return token.Error()
}

// flush replays queued messages. Runs on the paho connect handler goroutine
// and holds p.mu until the replay is done.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	queued := p.outbox.drain()

	if len(queued) > 0 {
		log.Printf("mqtt: replaying %d queued messages", len(queued))
	}
	for _, msg := range queued {
		if err := p.publish(msg); err != nil {
			log.Printf("mqtt: replay to %s failed: %v", msg.topic, err)
		}
	}
}
