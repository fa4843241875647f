// Package gpio reads an mmWave sensor's OUT pin as a presence source.
// The real implementation uses the Linux GPIO character device.
// The fake line allows testing without hardware.
package gpio

import (
	"context"
	"fmt"
	"time"

	"github.com/sweeney/presence-switch/internal/device"
)

// Line is a single requested input line.
type Line interface {
	// Value returns the logical level, 1 meaning active.
	Value() (int, error)
	Close() error
}

// Source is a PresenceSource reading one line: active means occupied.
type Source struct {
	line Line
	name string
}

// NewSource wraps an already-requested line.
func NewSource(line Line, name string) *Source {
	return &Source{line: line, name: name}
}

// Sample reads the line once.
func (s *Source) Sample(context.Context) (device.PresenceSample, error) {
	v, err := s.line.Value()
	if err != nil {
		return device.PresenceSample{}, device.SensorError(fmt.Errorf("read %s: %w", s.name, err))
	}
	return device.PresenceSample{
		Time:     time.Now(),
		Occupied: v == 1,
		Detail:   fmt.Sprintf("%s=%d", s.name, v),
	}, nil
}

// Close releases the line.
func (s *Source) Close() error {
	return s.line.Close()
}
