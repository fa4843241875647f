// Package logic contains the pure occupancy debounce state machine.
// This package has NO external dependencies (no devices, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Occupancy is a debounced (or candidate) occupancy state.
type Occupancy string

const (
	Vacant   Occupancy = "VACANT"
	Occupied Occupancy = "OCCUPIED"

	// None marks the absence of a candidate.
	None Occupancy = ""
)

// FromBool maps a raw presence reading onto an occupancy state.
func FromBool(occupied bool) Occupancy {
	if occupied {
		return Occupied
	}
	return Vacant
}

// String returns NONE for the empty candidate.
func (o Occupancy) String() string {
	if o == None {
		return "NONE"
	}
	return string(o)
}

// Windows holds the two independently tunable debounce windows.
// Occupied is usually short (fast "on"), Vacant long (no flicker on
// momentary absence).
type Windows struct {
	Occupied time.Duration
	Vacant   time.Duration
}

// For returns the window that guards a transition into target.
func (w Windows) For(target Occupancy) time.Duration {
	if target == Occupied {
		return w.Occupied
	}
	return w.Vacant
}

// DebounceState tracks the stable state and any pending transition.
type DebounceState struct {
	// Last confirmed stable occupancy
	Stable Occupancy
	// Pending state while accumulating evidence; None otherwise
	Candidate Occupancy
	// Time when the candidate was first observed
	CandidateSince time.Time
}

// Transition is emitted when a candidate is promoted to the stable state.
type Transition struct {
	Time time.Time
	From Occupancy
	To   Occupancy
	// When the new state was first detected
	DetectedAt time.Time
}

// TransitionCounts tracks the number of promotions since startup.
type TransitionCounts struct {
	Occupied int
	Vacant   int
}
