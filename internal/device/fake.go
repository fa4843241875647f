package device

import (
	"context"
	"errors"
	"sync"
	"time"
)

// FakeSource is a test double that returns scripted presence readings.
type FakeSource struct {
	mu sync.Mutex

	// Steps contains scripted results. Each call to Sample consumes the
	// next step; once exhausted the last step repeats.
	steps []Step
	index int
	calls int

	// Delay, if set, blocks each Sample for the duration or until ctx ends.
	Delay time.Duration
}

// Step is a single scripted Sample result.
type Step struct {
	Occupied bool
	Err      error
}

// NewFakeSource creates a FakeSource with the given steps.
func NewFakeSource(steps ...Step) *FakeSource {
	return &FakeSource{steps: steps}
}

// Occupancy builds steps from plain booleans.
func Occupancy(values ...bool) []Step {
	steps := make([]Step, len(values))
	for i, v := range values {
		steps[i] = Step{Occupied: v}
	}
	return steps
}

// Sample returns the next scripted step.
func (f *FakeSource) Sample(ctx context.Context) (PresenceSample, error) {
	f.mu.Lock()
	delay := f.Delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return PresenceSample{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.steps) == 0 {
		return PresenceSample{}, errors.New("no samples configured")
	}
	step := f.steps[f.index]
	if f.index < len(f.steps)-1 {
		f.index++
	}
	if step.Err != nil {
		return PresenceSample{}, step.Err
	}
	return PresenceSample{Time: time.Now(), Occupied: step.Occupied, Detail: "fake"}, nil
}

// Set replaces the script with a single repeating step.
func (f *FakeSource) Set(step Step) {
	f.mu.Lock()
	f.steps = []Step{step}
	f.index = 0
	f.mu.Unlock()
}

// Calls returns the number of Sample calls.
func (f *FakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FakeActuator is a test double for a power switch.
type FakeActuator struct {
	mu sync.Mutex

	state PowerState
	// setErrors are returned by successive SetState calls, nil meaning success.
	setErrors []error
	commands  []PowerState
	gets      int

	// stuck accepts commands without changing state.
	stuck bool
	// unreadable makes GetState report Unknown.
	unreadable bool
}

// NewFakeActuator creates a switch in the given state.
func NewFakeActuator(initial PowerState) *FakeActuator {
	return &FakeActuator{state: initial}
}

// FailNext queues errors for the next SetState calls.
func (f *FakeActuator) FailNext(errs ...error) {
	f.mu.Lock()
	f.setErrors = append(f.setErrors, errs...)
	f.mu.Unlock()
}

// SetState records the command and applies it unless an error is queued.
func (f *FakeActuator) SetState(_ context.Context, state PowerState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, state)
	if len(f.setErrors) > 0 {
		err := f.setErrors[0]
		f.setErrors = f.setErrors[1:]
		if err != nil {
			return err
		}
	}
	if !f.stuck {
		f.state = state
	}
	return nil
}

// GetState returns the current state.
func (f *FakeActuator) GetState(context.Context) PowerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.unreadable {
		return Unknown
	}
	return f.state
}

// State returns the physical state without counting a read.
func (f *FakeActuator) State() PowerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Force changes the physical state, as a manual toggle would.
func (f *FakeActuator) Force(state PowerState) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
}

// SetStuck toggles stuck mode.
func (f *FakeActuator) SetStuck(stuck bool) {
	f.mu.Lock()
	f.stuck = stuck
	f.mu.Unlock()
}

// SetUnreadable toggles whether GetState reports Unknown.
func (f *FakeActuator) SetUnreadable(unreadable bool) {
	f.mu.Lock()
	f.unreadable = unreadable
	f.mu.Unlock()
}

// Commands returns every SetState request received.
func (f *FakeActuator) Commands() []PowerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PowerState(nil), f.commands...)
}

// Gets returns the number of GetState calls.
func (f *FakeActuator) Gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}
