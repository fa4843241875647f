package controller

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/presence-switch/internal/device"
	"github.com/sweeney/presence-switch/internal/logic"
)

// EventType identifies a controller event.
type EventType string

const (
	EventStableTransition        EventType = "STABLE_TRANSITION"
	EventCommandIssued           EventType = "COMMAND_ISSUED"
	EventCommandConfirmed        EventType = "COMMAND_CONFIRMED"
	EventCommandFailed           EventType = "COMMAND_FAILED"
	EventSensorDegraded          EventType = "SENSOR_DEGRADED"
	EventSensorRecovered         EventType = "SENSOR_RECOVERED"
	EventReconciled              EventType = "RECONCILED"
	EventReconciliationExhausted EventType = "RECONCILIATION_EXHAUSTED"
	EventHeartbeat               EventType = "HEARTBEAT"
)

// Event is a structured observability record.
type Event struct {
	Time      time.Time         `json:"time"`
	Type      EventType         `json:"type"`
	Occupancy logic.Occupancy   `json:"occupancy,omitempty"`
	Desired   device.PowerState `json:"desired,omitempty"`
	Actuator  device.PowerState `json:"actuator,omitempty"`
	CommandID string            `json:"command_id,omitempty"`
	Attempt   int               `json:"attempt,omitempty"`
	Error     string            `json:"error,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Counts    *Counts           `json:"counts,omitempty"`
}

// Sink receives controller events. Emit is called from the control loop
// and must not block for long; wrap disk or network sinks in an AsyncSink.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) { f(e) }

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

// Emit forwards e to each sink.
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// LogSink writes events to a zerolog logger. Failures and degraded
// conditions log at warn/error, everything else at info.
type LogSink struct {
	Logger zerolog.Logger
}

// Emit logs e.
func (l LogSink) Emit(e Event) {
	var ev *zerolog.Event
	switch e.Type {
	case EventCommandFailed, EventSensorDegraded:
		ev = l.Logger.Warn()
	case EventReconciliationExhausted:
		ev = l.Logger.Error()
	case EventCommandIssued, EventHeartbeat:
		ev = l.Logger.Debug()
	default:
		ev = l.Logger.Info()
	}
	ev = ev.Str("event", string(e.Type))
	if e.Occupancy != "" {
		ev = ev.Str("occupancy", string(e.Occupancy))
	}
	if e.Desired != "" {
		ev = ev.Str("desired", string(e.Desired))
	}
	if e.Actuator != "" {
		ev = ev.Str("actuator", string(e.Actuator))
	}
	if e.CommandID != "" {
		ev = ev.Str("command", e.CommandID)
	}
	if e.Attempt > 0 {
		ev = ev.Int("attempt", e.Attempt)
	}
	if e.Error != "" {
		ev = ev.Str("error", e.Error)
	}
	if e.Counts != nil {
		ev = ev.Int("samples", e.Counts.Samples).
			Int("sensor_errors", e.Counts.SensorErrors).
			Int("commands", e.Counts.Commands).
			Int("confirmed", e.Counts.Confirmed).
			Int("failed", e.Counts.Failed)
	}
	ev.Msg(e.Detail)
}
