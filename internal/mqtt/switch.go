package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/presence-switch/internal/device"
)

// Switch is an Actuator for a smart plug bridged to MQTT. State is read
// from topic; commands go to commandTopic as {"state":"ON"}.
type Switch struct {
	conn         *Conn
	topic        string
	commandTopic string
	maxAge       time.Duration
	now          func() time.Time
	logger       zerolog.Logger

	mu      sync.Mutex
	state   device.PowerState
	updated time.Time
}

type statePayload struct {
	State string `json:"state"`
}

// NewSwitch subscribes to the state topic. An empty commandTopic
// defaults to topic + "/set".
func NewSwitch(conn *Conn, topic, commandTopic string, maxAge time.Duration, logger zerolog.Logger) (*Switch, error) {
	if commandTopic == "" {
		commandTopic = topic + "/set"
	}
	s := &Switch{
		conn:         conn,
		topic:        topic,
		commandTopic: commandTopic,
		maxAge:       maxAge,
		now:          time.Now,
		logger:       logger,
		state:        device.Unknown,
	}
	if err := conn.Subscribe(topic, s.handle); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Switch) handle(_ paho.Client, msg paho.Message) {
	st := parseSwitchState(msg.Payload())
	if st == device.Unknown {
		s.logger.Debug().Str("topic", msg.Topic()).Bytes("payload", msg.Payload()).Msg("unrecognised switch state")
	}
	s.mu.Lock()
	s.state = st
	s.updated = s.now()
	s.mu.Unlock()
}

func parseSwitchState(payload []byte) device.PowerState {
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "{") {
		var p statePayload
		if err := json.Unmarshal([]byte(text), &p); err != nil {
			return device.Unknown
		}
		return device.ParsePowerState(p.State)
	}
	return device.ParsePowerState(strings.Trim(text, `"`))
}

// SetState publishes a command. It does not wait for the state topic.
func (s *Switch) SetState(ctx context.Context, state device.PowerState) error {
	if state != device.On && state != device.Off {
		return fmt.Errorf("%w: cannot set %s", device.ErrActuatorRejected, state)
	}
	if !s.conn.IsConnected() {
		return fmt.Errorf("%w: broker not connected", device.ErrActuatorUnreachable)
	}
	payload, err := json.Marshal(statePayload{State: string(state)})
	if err != nil {
		return fmt.Errorf("%w: %w", device.ErrActuatorRejected, err)
	}
	if err := s.conn.Publish(ctx, s.commandTopic, 1, false, payload); err != nil {
		return fmt.Errorf("%w: %w", device.ErrActuatorUnreachable, err)
	}
	return nil
}

// GetState returns the last reported state, or Unknown if none arrived
// within maxAge.
func (s *Switch) GetState(context.Context) device.PowerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updated.IsZero() {
		return device.Unknown
	}
	if s.maxAge > 0 && s.now().Sub(s.updated) > s.maxAge {
		return device.Unknown
	}
	return s.state
}
