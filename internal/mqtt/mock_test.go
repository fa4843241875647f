package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// mockClient is an in-memory paho.Client.
type mockClient struct {
	mu         sync.Mutex
	connected  bool
	publishErr error
	published  []publishCall
	subscribed []subscribeCall
}

type publishCall struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

type subscribeCall struct {
	Topic   string
	Handler paho.MessageHandler
}

func (m *mockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}
func (m *mockClient) IsConnectionOpen() bool { return m.IsConnected() }
func (m *mockClient) Connect() paho.Token {
	m.setConnected(true)
	return &mockToken{}
}
func (m *mockClient) Disconnect(uint) { m.setConnected(false) }

func (m *mockClient) setConnected(c bool) {
	m.mu.Lock()
	m.connected = c
	m.mu.Unlock()
}

func (m *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return &mockToken{err: m.publishErr}
	}
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	}
	m.published = append(m.published, publishCall{Topic: topic, QoS: qos, Retained: retained, Payload: data})
	return &mockToken{}
}

func (m *mockClient) Subscribe(topic string, _ byte, callback paho.MessageHandler) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, subscribeCall{Topic: topic, Handler: callback})
	return &mockToken{}
}

func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &mockToken{}
}
func (m *mockClient) Unsubscribe(...string) paho.Token        { return &mockToken{} }
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

// deliver invokes the most recent handler subscribed to topic.
func (m *mockClient) deliver(topic string, payload string) bool {
	m.mu.Lock()
	var h paho.MessageHandler
	for _, s := range m.subscribed {
		if s.Topic == topic {
			h = s.Handler
		}
	}
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(m, &mockMessage{topic: topic, payload: []byte(payload)})
	return true
}

func (m *mockClient) publishes() []publishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishCall(nil), m.published...)
}

func (m *mockClient) subscriptions() []subscribeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]subscribeCall(nil), m.subscribed...)
}

type mockToken struct {
	err error
}

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *mockToken) Error() error { return t.err }

type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 1 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}
