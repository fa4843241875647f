//go:build !linux

package gpio

import "errors"

// Open is not available on non-Linux platforms.
func Open(chip string, offset int, activeLow bool) (*Source, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}
