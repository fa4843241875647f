package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Options configures a broker connection.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// WillTopic, if set, receives WillPayload when the connection drops.
	WillTopic string
}

// Conn is a broker connection shared by every MQTT component.
// Subscriptions are remembered and replayed after each reconnect.
type Conn struct {
	client paho.Client
	logger zerolog.Logger

	mu       sync.Mutex
	subs     map[string]paho.MessageHandler
	hooks    []func()
	connects int
}

// Connect dials the broker. Reconnection is automatic afterwards.
func Connect(o Options, logger zerolog.Logger) (*Conn, error) {
	c := newConn(logger)

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetUsername(o.Username).
		SetPassword(o.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)
	if o.WillTopic != "" {
		opts.SetBinaryWill(o.WillTopic, WillPayload(), 1, true)
	}

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

// NewConn wraps an existing client. The caller is responsible for
// connecting it; OnConnectHandler should call HandleConnect.
func NewConn(client paho.Client, logger zerolog.Logger) *Conn {
	c := newConn(logger)
	c.client = client
	return c
}

func newConn(logger zerolog.Logger) *Conn {
	return &Conn{logger: logger, subs: make(map[string]paho.MessageHandler)}
}

// HandleConnect replays subscriptions and runs connect hooks.
func (c *Conn) HandleConnect() {
	c.onConnect(c.client)
}

func (c *Conn) onConnect(client paho.Client) {
	c.mu.Lock()
	c.connects++
	n := c.connects
	subs := make(map[string]paho.MessageHandler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	hooks := append([]func(){}, c.hooks...)
	c.mu.Unlock()

	c.logger.Info().Int("connects", n).Msg("connected to broker")
	for topic, h := range subs {
		token := client.Subscribe(topic, 1, h)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			c.logger.Error().Err(token.Error()).Str("topic", topic).Msg("resubscribe failed")
		}
	}
	for _, hook := range hooks {
		hook()
	}
}

func (c *Conn) onConnectionLost(_ paho.Client, err error) {
	c.logger.Warn().Err(err).Msg("connection to broker lost")
}

// OnConnect registers fn to run after every successful connect.
func (c *Conn) OnConnect(fn func()) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// Subscribe registers a handler for topic. It is applied immediately if
// connected and again after every reconnect.
func (c *Conn) Subscribe(topic string, handler paho.MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if !c.client.IsConnected() {
		return nil
	}
	token := c.client.Subscribe(topic, 1, handler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Publish sends payload and waits for the broker, bounded by ctx.
func (c *Conn) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
}

// IsConnected reports whether the client is connected.
func (c *Conn) IsConnected() bool {
	return c.client.IsConnected()
}

// Close disconnects from the broker.
func (c *Conn) Close() error {
	c.client.Disconnect(1000) // 1 second quiesce
	return nil
}
