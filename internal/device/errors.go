package device

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error taxonomy. Adapters wrap their failures with one of these so the
// controller can match with errors.Is and never sees raw transport errors.
var (
	ErrSensorUnavailable   = errors.New("sensor unavailable")
	ErrSensorFault         = errors.New("sensor fault")
	ErrActuatorUnreachable = errors.New("actuator unreachable")
	ErrActuatorRejected    = errors.New("actuator rejected command")
)

// Kind returns the taxonomy sentinel err wraps, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrSensorUnavailable, ErrSensorFault, ErrActuatorUnreachable, ErrActuatorRejected} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// SensorError converts any sensor read error into the taxonomy.
func SensorError(err error) error {
	if err == nil {
		return nil
	}
	switch Kind(err) {
	case ErrSensorUnavailable, ErrSensorFault:
		return err
	case nil:
	default:
		return fmt.Errorf("%w: %w", ErrSensorFault, err)
	}
	if isTransport(err) {
		return fmt.Errorf("%w: %w", ErrSensorUnavailable, err)
	}
	return fmt.Errorf("%w: %w", ErrSensorFault, err)
}

// ActuatorError converts any switch command error into the taxonomy.
// Unclassified errors count as unreachable: most driver failures are
// transport failures and the retry budget bounds the cost of guessing.
func ActuatorError(err error) error {
	if err == nil {
		return nil
	}
	switch Kind(err) {
	case ErrActuatorUnreachable, ErrActuatorRejected:
		return err
	}
	return fmt.Errorf("%w: %w", ErrActuatorUnreachable, err)
}

func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
