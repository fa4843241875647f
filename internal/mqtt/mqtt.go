// Package mqtt connects presence-switch to an MQTT broker: a shared
// connection, a presence source and a switch backed by topics, and a
// publisher for controller and lifecycle events.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/presence-switch/internal/controller"
)

// Topic suffixes under the configured prefix.
const (
	EventsSuffix = "/events"
	SystemSuffix = "/system"
)

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a process lifecycle event (STARTUP, SHUTDOWN, ...).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g. "STARTUP", "SHUTDOWN", "RECONNECTED"
	Reason     string // e.g. "SIGTERM" (shutdown only)
	RawPayload []byte // Pre-formatted JSON; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// EventPayload is the JSON published for each controller event.
type EventPayload struct {
	Timestamp string             `json:"timestamp"`
	Event     string             `json:"event"`
	Occupancy string             `json:"occupancy,omitempty"`
	Desired   string             `json:"desired,omitempty"`
	Actuator  string             `json:"actuator,omitempty"`
	CommandID string             `json:"command_id,omitempty"`
	Attempt   int                `json:"attempt,omitempty"`
	Error     string             `json:"error,omitempty"`
	Detail    string             `json:"detail,omitempty"`
	Counts    *controller.Counts `json:"counts,omitempty"`
}

// FormatEvent creates the JSON payload for a controller event.
func FormatEvent(e controller.Event) ([]byte, error) {
	return json.Marshal(EventPayload{
		Timestamp: e.Time.UTC().Format(time.RFC3339),
		Event:     string(e.Type),
		Occupancy: string(e.Occupancy),
		Desired:   string(e.Desired),
		Actuator:  string(e.Actuator),
		CommandID: e.CommandID,
		Attempt:   e.Attempt,
		Error:     e.Error,
		Detail:    e.Detail,
		Counts:    e.Counts,
	})
}

// SystemPayload is used for events that carry no status snapshot
// (the will message, RECONNECTED).
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}

// WillPayload is published by the broker if the process drops off.
func WillPayload() []byte {
	data, _ := json.Marshal(SystemPayload{System: SystemPayloadInner{Event: "OFFLINE"}})
	return data
}
