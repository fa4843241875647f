package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/presence-switch/internal/controller"
)

const publishTimeout = 5 * time.Second

// EventPublisher sends controller events to <prefix>/events and
// lifecycle events to <prefix>/system. Messages published while the
// broker is away are buffered and replayed on reconnect.
type EventPublisher struct {
	conn   *Conn
	prefix string
	logger zerolog.Logger

	mu  sync.Mutex
	buf *ringBuffer
}

// NewEventPublisher creates a publisher holding up to bufferSize
// messages during outages.
func NewEventPublisher(conn *Conn, prefix string, bufferSize int, logger zerolog.Logger) *EventPublisher {
	p := &EventPublisher{
		conn:   conn,
		prefix: prefix,
		logger: logger,
		buf:    newRingBuffer(bufferSize, logger),
	}
	conn.OnConnect(p.flush)
	return p
}

// EventsTopic is where controller events are published.
func (p *EventPublisher) EventsTopic() string { return p.prefix + EventsSuffix }

// SystemTopic is where lifecycle events are published.
func (p *EventPublisher) SystemTopic() string { return p.prefix + SystemSuffix }

// Emit implements controller.Sink. QoS 0, not retained.
func (p *EventPublisher) Emit(e controller.Event) {
	payload, err := FormatEvent(e)
	if err != nil {
		p.logger.Error().Err(err).Str("event", string(e.Type)).Msg("format event")
		return
	}
	if err := p.publish(message{topic: p.EventsTopic(), payload: payload}); err != nil {
		p.logger.Debug().Err(err).Msg("event buffered")
	}
}

// PublishSystem sends a lifecycle event with QoS 1.
func (p *EventPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(message{topic: p.SystemTopic(), payload: payload, qos: 1, retained: event.Retained})
}

// Buffered returns the number of messages waiting for the broker.
func (p *EventPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// IsConnected reports the broker connection state.
func (p *EventPublisher) IsConnected() bool {
	return p.conn.IsConnected()
}

func (p *EventPublisher) publish(m message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.conn.IsConnected() {
		p.buf.push(m)
		return fmt.Errorf("publish %s: not connected", m.topic)
	}
	if err := p.send(m); err != nil {
		p.buf.push(m)
		return err
	}
	return nil
}

func (p *EventPublisher) send(m message) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return p.conn.Publish(ctx, m.topic, m.qos, m.retained, m.payload)
}

// flush replays buffered messages in order. Anything that fails goes
// back into the buffer.
func (p *EventPublisher) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	pending := p.buf.drain()
	if len(pending) == 0 {
		return
	}
	p.logger.Info().Int("messages", len(pending)).Msg("replaying buffered events")
	for i, m := range pending {
		if err := p.send(m); err != nil {
			p.logger.Warn().Err(err).Int("remaining", len(pending)-i).Msg("replay interrupted")
			for _, rest := range pending[i:] {
				p.buf.push(rest)
			}
			return
		}
	}
}
