//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// chipLine owns the chip together with the requested line.
type chipLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (c *chipLine) Value() (int, error) {
	return c.line.Value()
}

// Close returns the line to an input with pull-down (the Pi boot
// default) before releasing it.
func (c *chipLine) Close() error {
	var errs []error
	if err := c.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure line: %w", err))
	}
	if err := c.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close line: %w", err))
	}
	if err := c.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chip: %w", err))
	}
	return errors.Join(errs...)
}

// Open requests offset on chip as a pulled-down input. With activeLow the
// kernel inverts the level so Value still reports 1 for presence.
func Open(chip string, offset int, activeLow bool) (*Source, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chip, err)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullDown, gpiocdev.WithConsumer("presence-switch")}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := c.RequestLine(offset, opts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("request line %d: %w", offset, err)
	}

	return NewSource(&chipLine{chip: c, line: line}, fmt.Sprintf("%s:%d", chip, offset)), nil
}
