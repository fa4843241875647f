package logic

import "time"

// Debouncer converts raw occupancy samples into debounced transitions.
// Not safe for concurrent use; it is owned by a single control loop.
type Debouncer struct {
	windows Windows
	state   DebounceState
	counts  TransitionCounts
}

// NewDebouncer creates a debouncer that starts VACANT with no candidate.
func NewDebouncer(windows Windows) *Debouncer {
	return &Debouncer{
		windows: windows,
		state:   DebounceState{Stable: Vacant},
	}
}

// Process feeds one sample taken at now. It returns a Transition when the
// sample completes a debounce window, nil otherwise.
func (d *Debouncer) Process(occupied bool, now time.Time) *Transition {
	s := FromBool(occupied)

	if s == d.state.Stable {
		// Contradicting sample: the transition must be corroborated by every
		// sample in the window, so start over.
		d.state.Candidate = None
		return nil
	}

	if d.state.Candidate != s {
		d.state.Candidate = s
		d.state.CandidateSince = now
	}

	if now.Sub(d.state.CandidateSince) < d.windows.For(s) {
		return nil
	}

	tr := &Transition{
		Time:       now,
		From:       d.state.Stable,
		To:         s,
		DetectedAt: d.state.CandidateSince,
	}
	d.state.Stable = s
	d.state.Candidate = None
	d.state.CandidateSince = time.Time{}

	if s == Occupied {
		d.counts.Occupied++
	} else {
		d.counts.Vacant++
	}
	return tr
}

// State returns a copy of the current debounce state.
func (d *Debouncer) State() DebounceState {
	return d.state
}

// ClearCandidate drops a pending candidate and keeps the stable state.
// Samples taken before a pause cannot corroborate samples taken after it.
func (d *Debouncer) ClearCandidate() {
	d.state.Candidate = None
	d.state.CandidateSince = time.Time{}
}

// Counts returns the transition counters.
func (d *Debouncer) Counts() TransitionCounts {
	return d.counts
}

// Windows returns the configured debounce windows.
func (d *Debouncer) Windows() Windows {
	return d.windows
}

// SetWindows replaces the debounce windows. A pending candidate keeps its
// start time and is judged against the new window on the next sample.
func (d *Debouncer) SetWindows(w Windows) {
	d.windows = w
}
