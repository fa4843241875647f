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

// Source is a PresenceSource fed by a sensor bridge publishing to a
// topic. Payloads are either JSON readings or a bare on/off word.
type Source struct {
	topic  string
	maxAge time.Duration
	policy device.Policy
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.Mutex
	last    device.PresenceSample
	lastErr error
	seen    bool
}

// NewSource subscribes to topic. maxAge bounds how old the latest
// reading may be before Sample reports the sensor unavailable; 0 disables.
func NewSource(conn *Conn, topic string, maxAge time.Duration, policy device.Policy, logger zerolog.Logger) (*Source, error) {
	s := &Source{
		topic:  topic,
		maxAge: maxAge,
		policy: policy,
		now:    time.Now,
		logger: logger,
	}
	if err := conn.Subscribe(topic, s.handle); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) handle(_ paho.Client, msg paho.Message) {
	readings, err := decodeReadings(msg.Payload())

	var sample device.PresenceSample
	if err == nil {
		var occupied bool
		occupied, err = device.Classify(readings, s.policy)
		sample = device.PresenceSample{
			Time:     s.now(),
			Occupied: occupied,
			Detail:   device.Describe(readings),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = true
	if err != nil {
		s.logger.Debug().Err(err).Str("topic", msg.Topic()).Msg("unusable sensor payload")
		s.lastErr = err
		s.last.Time = s.now()
		return
	}
	s.lastErr = nil
	s.last = sample
}

// decodeReadings accepts a JSON object or a bare value such as "on".
func decodeReadings(payload []byte) (map[string]any, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return nil, fmt.Errorf("%w: empty payload", device.ErrSensorFault)
	}
	if strings.HasPrefix(text, "{") {
		var readings map[string]any
		if err := json.Unmarshal([]byte(text), &readings); err != nil {
			return nil, fmt.Errorf("%w: %w", device.ErrSensorFault, err)
		}
		return readings, nil
	}
	return map[string]any{"occupancy": strings.Trim(text, `"`)}, nil
}

// Sample returns the latest reading.
func (s *Source) Sample(context.Context) (device.PresenceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seen {
		return device.PresenceSample{}, fmt.Errorf("%w: no reading on %s yet", device.ErrSensorUnavailable, s.topic)
	}
	if s.maxAge > 0 {
		if age := s.now().Sub(s.last.Time); age > s.maxAge {
			return device.PresenceSample{}, fmt.Errorf("%w: last reading %v old", device.ErrSensorUnavailable, age.Truncate(time.Millisecond))
		}
	}
	if s.lastErr != nil {
		return device.PresenceSample{}, device.SensorError(s.lastErr)
	}
	return s.last, nil
}
