// Package device defines the two capability interfaces the controller
// drives (PresenceSource and Actuator), the error taxonomy every device
// failure is converted into, and guards that bound each call in time.
package device

import (
	"context"
	"time"
)

// PowerState is the on/off state of a switch as last observed.
type PowerState string

const (
	On      PowerState = "ON"
	Off     PowerState = "OFF"
	Unknown PowerState = "UNKNOWN"
)

// PowerFor maps an occupancy decision onto the desired switch state.
func PowerFor(occupied bool) PowerState {
	if occupied {
		return On
	}
	return Off
}

// ParsePowerState accepts the common spellings used by switch bridges.
func ParsePowerState(s string) PowerState {
	switch s {
	case "ON", "on", "On", "true", "1":
		return On
	case "OFF", "off", "Off", "false", "0":
		return Off
	default:
		return Unknown
	}
}

// PresenceSample is a single occupancy reading.
type PresenceSample struct {
	Time     time.Time
	Occupied bool
	// Detail is a short human readable description of the raw reading.
	Detail string
}

// PresenceSource yields occupancy readings on demand.
type PresenceSource interface {
	// Sample performs a single read. It fails with ErrSensorUnavailable
	// or ErrSensorFault and has no side effects.
	Sample(ctx context.Context) (PresenceSample, error)
}

// Actuator is a remotely controlled power switch.
type Actuator interface {
	// SetState requests a state change. A nil return does not mean the
	// switch changed; confirm with GetState.
	// Fails with ErrActuatorUnreachable or ErrActuatorRejected.
	SetState(ctx context.Context, state PowerState) error

	// GetState is a best-effort read. It returns Unknown instead of an error.
	GetState(ctx context.Context) PowerState
}
