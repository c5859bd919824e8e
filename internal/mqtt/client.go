package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"CalibrationMonitorAPI/internal/config"
	"CalibrationMonitorAPI/internal/logger"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	operationTimeout = 5 * time.Second
	handlerTimeout   = 30 * time.Second
)

// MessageHandler processes one inbound message. The context is cancelled when the client
// disconnects or the handler runs past its deadline.
type MessageHandler func(ctx context.Context, topic string, payload []byte) error

type Client struct {
	client mqtt.Client
	cfg    *config.MQTTConfig
	log    *logger.Logger

	mu             sync.RWMutex
	handlers       map[string]MessageHandler
	connected      bool
	lastConnected  time.Time
	lastDisconnect time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func NewClient(cfg *config.MQTTConfig, log *logger.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config cannot be nil")
	}
	if log == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:      cfg,
		log:      log.With("mqtt"),
		handlers: make(map[string]MessageHandler),
		ctx:      ctx,
		cancel:   cancel,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(cfg.AutoReconnect)
	// persistent session so measurements published while we were down are delivered at QoS 1
	opts.SetCleanSession(cfg.QoS == 0)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		c.log.Warn("Reconnecting to %s", cfg.BrokerURL())
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

func (c *Client) Connect() error {
	c.log.Info("Connecting to MQTT broker %s", c.cfg.BrokerURL())

	token := c.client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("connection timeout after %v", c.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	c.mu.Lock()
	c.connected = true
	c.lastConnected = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *Client) Disconnect() {
	c.cancel()

	c.mu.Lock()
	c.connected = false
	c.lastDisconnect = time.Now()
	c.mu.Unlock()

	c.client.Disconnect(250)
	c.log.Info("Disconnected from MQTT broker")
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// Subscribe registers handler for a topic filter. Filters are re-subscribed after a reconnect.
func (c *Client) Subscribe(filter string, handler MessageHandler) error {
	if !c.IsConnected() {
		return fmt.Errorf("not connected to broker")
	}

	c.mu.Lock()
	c.handlers[filter] = handler
	c.mu.Unlock()

	if err := c.subscribe(c.client, filter); err != nil {
		return err
	}
	c.log.Info("Subscribed to %s (QoS %d)", filter, c.cfg.QoS)
	return nil
}

func (c *Client) subscribe(client mqtt.Client, filter string) error {
	token := client.Subscribe(filter, c.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		c.handleMessage(msg)
	})
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("subscribe timeout for topic: %s", filter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe failed for topic %s: %w", filter, err)
	}
	return nil
}

func (c *Client) Publish(topic string, payload []byte) error {
	if !c.IsConnected() {
		return fmt.Errorf("not connected to broker")
	}

	token := c.client.Publish(topic, c.cfg.QoS, c.cfg.RetainMessages, payload)
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("publish timeout for topic: %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed for topic %s: %w", topic, err)
	}

	c.log.Debug("Published %d bytes to %s", len(payload), topic)
	return nil
}

func (c *Client) PublishJSON(topic string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return c.Publish(topic, payload)
}

func (c *Client) handleMessage(msg mqtt.Message) {
	topic := msg.Topic()

	handler, ok := c.lookup(topic)
	if !ok {
		c.log.Warn("No handler for topic %s", topic)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, handlerTimeout)
	defer cancel()

	if err := handler(ctx, topic, msg.Payload()); err != nil {
		c.log.Error("Handler error for topic %s: %v", topic, err)
	}
}

func (c *Client) lookup(topic string) (MessageHandler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if h, ok := c.handlers[topic]; ok {
		return h, true
	}
	for filter, h := range c.handlers {
		if MatchTopic(filter, topic) {
			return h, true
		}
	}
	return nil, false
}

func (c *Client) onConnect(client mqtt.Client) {
	c.mu.Lock()
	c.connected = true
	c.lastConnected = time.Now()
	filters := make([]string, 0, len(c.handlers))
	for f := range c.handlers {
		filters = append(filters, f)
	}
	c.mu.Unlock()

	c.log.Info("MQTT connection established")

	for _, f := range filters {
		if err := c.subscribe(client, f); err != nil {
			c.log.Error("Failed to re-subscribe to %s: %v", f, err)
		}
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.mu.Lock()
	c.connected = false
	c.lastDisconnect = time.Now()
	c.mu.Unlock()

	c.log.Error("MQTT connection lost: %v", err)
}

// MatchTopic reports whether topic matches an MQTT filter with + and # wildcards.
func MatchTopic(filter, topic string) bool {
	if filter == topic {
		return true
	}

	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, part := range fp {
		if part == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if part != "+" && part != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
