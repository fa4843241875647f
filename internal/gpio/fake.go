package gpio

import (
	"errors"
	"sync"
)

// FakeLine is a test double that returns scripted line levels.
type FakeLine struct {
	mu sync.Mutex

	// Values contains scripted levels. Each call to Value consumes the
	// next one; once exhausted the last value repeats.
	Values []int
	index  int

	// ReadError, if set, is returned by Value.
	ReadError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeLine creates a FakeLine with the given levels.
func NewFakeLine(values ...int) *FakeLine {
	return &FakeLine{Values: values}
}

// Value returns the next scripted level.
func (f *FakeLine) Value() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	if len(f.Values) == 0 {
		return 0, errors.New("no values configured")
	}
	v := f.Values[f.index]
	if f.index < len(f.Values)-1 {
		f.index++
	}
	return v, nil
}

// Close marks the line as closed.
func (f *FakeLine) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
