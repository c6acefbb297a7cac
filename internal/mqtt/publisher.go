// internal/mqtt/publisher.go
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"ppp-gateway/internal/config"
	"ppp-gateway/internal/supervisor"
)

const (
	publishTimeout = 5 * time.Second
	nodeIDLength   = 12
	offlineState   = "offline"
)

// Client is the part of paho.Client the publisher uses
type Client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// StateMessage is the retained payload on the state topic
type StateMessage struct {
	NodeID     string    `json:"node_id"`
	State      string    `json:"state"`
	Device     string    `json:"device,omitempty"`
	Interface  string    `json:"interface,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	ErrorClass string    `json:"error_class,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher mirrors supervisor events to an MQTT broker
type Publisher struct {
	client         Client
	qos            byte
	nodeID         string
	stateTopic     string
	eventsTopic    string
	connectTimeout time.Duration
	logger         *zap.Logger

	mu   sync.Mutex
	last *StateMessage
}

// NodeID returns the configured node id, or a stable id derived from the
// machine id, or the host name
func NodeID(cfg *config.MQTTConfig) string {
	if cfg.NodeID != "" {
		return cfg.NodeID
	}
	if id, err := machineid.ProtectedID("pppd"); err == nil {
		if len(id) > nodeIDLength {
			id = id[:nodeIDLength]
		}
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}

// NewPublisher builds a paho client from cfg
func NewPublisher(cfg *config.MQTTConfig, logger *zap.Logger) *Publisher {
	p := newPublisher(cfg, NodeID(cfg), logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "pppd-" + p.nodeID
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(time.Minute)

	if will, err := json.Marshal(StateMessage{NodeID: p.nodeID, State: offlineState}); err == nil {
		opts.SetBinaryWill(p.stateTopic, will, p.qos, true)
	}

	opts.SetOnConnectHandler(func(paho.Client) {
		p.logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
		p.republish()
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		p.logger.Warn("MQTT connection lost, reconnecting", zap.Error(err))
	})

	p.client = paho.NewClient(opts)
	return p
}

// NewPublisherWithClient uses an existing client
func NewPublisherWithClient(client Client, cfg *config.MQTTConfig, nodeID string, logger *zap.Logger) *Publisher {
	p := newPublisher(cfg, nodeID, logger)
	p.client = client
	return p
}

func newPublisher(cfg *config.MQTTConfig, nodeID string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "pppd"
	}
	base := prefix + "/" + nodeID
	return &Publisher{
		qos:            cfg.QoS,
		nodeID:         nodeID,
		stateTopic:     base + "/state",
		eventsTopic:    base + "/events",
		connectTimeout: cfg.ConnectTimeout,
		logger:         logger.With(zap.String("component", "mqtt")),
	}
}

// StateTopic returns the retained state topic
func (p *Publisher) StateTopic() string { return p.stateTopic }

// EventsTopic returns the event topic
func (p *Publisher) EventsTopic() string { return p.eventsTopic }

// Connect starts connecting to the broker. When the broker is not reachable
// within the connect timeout the client keeps retrying in the background.
func (p *Publisher) Connect() error {
	token := p.client.Connect()
	timeout := p.connectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if !token.WaitTimeout(timeout) {
		p.logger.Warn("MQTT broker not reachable yet, retrying in background")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// Run publishes events until the channel closes or ctx is done
func (p *Publisher) Run(ctx context.Context, events <-chan supervisor.Event) {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := p.Handle(event); err != nil {
				p.logger.Warn("Failed to publish event",
					zap.String("event_type", string(event.Type)),
					zap.Error(err),
				)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Handle publishes one event, and the link state when the event changes it
func (p *Publisher) Handle(event supervisor.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.publish(p.eventsTopic, false, payload); err != nil {
		return err
	}

	switch event.Type {
	case supervisor.EventStateChanged, supervisor.EventConnected,
		supervisor.EventDisconnected, supervisor.EventLinkError:
	default:
		return nil
	}

	state := &StateMessage{
		NodeID:     p.nodeID,
		State:      event.State.String(),
		Device:     event.Device,
		Interface:  event.Interface,
		SessionID:  event.SessionID,
		ErrorClass: event.ErrorClass,
		Timestamp:  event.Timestamp,
	}
	if event.Type == supervisor.EventDisconnected {
		state.SessionID = ""
	}

	p.mu.Lock()
	p.last = state
	p.mu.Unlock()

	return p.publishState(state)
}

func (p *Publisher) republish() {
	p.mu.Lock()
	state := p.last
	p.mu.Unlock()

	if state == nil {
		return
	}
	if err := p.publishState(state); err != nil {
		p.logger.Warn("Failed to republish state", zap.Error(err))
	}
}

func (p *Publisher) publishState(state *StateMessage) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	return p.publish(p.stateTopic, true, payload)
}

func (p *Publisher) publish(topic string, retained bool, payload []byte) error {
	token := p.client.Publish(topic, p.qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("publish timed out on " + topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close publishes the offline state and disconnects
func (p *Publisher) Close() {
	offline, err := json.Marshal(StateMessage{NodeID: p.nodeID, State: offlineState, Timestamp: time.Now()})
	if err == nil {
		if err := p.publish(p.stateTopic, true, offline); err != nil {
			p.logger.Warn("Failed to publish offline state", zap.Error(err))
		}
	}
	p.client.Disconnect(250)
	p.logger.Info("MQTT publisher closed")
}
