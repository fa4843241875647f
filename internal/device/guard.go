package device

import (
	"context"
	"fmt"
	"time"
)

// call runs fn in its own goroutine under a deadline. The result is
// abandoned if the deadline passes first, so a callee that ignores its
// context cannot stall the caller.
func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

type guardedSource struct {
	src     PresenceSource
	timeout time.Duration
}

// GuardSource bounds every Sample call by timeout and classifies errors.
// A timeout is reported as ErrSensorUnavailable.
func GuardSource(src PresenceSource, timeout time.Duration) PresenceSource {
	return &guardedSource{src: src, timeout: timeout}
}

func (g *guardedSource) Sample(ctx context.Context) (PresenceSample, error) {
	s, err := call(ctx, g.timeout, g.src.Sample)
	if err != nil {
		return PresenceSample{}, SensorError(err)
	}
	return s, nil
}

type guardedActuator struct {
	act     Actuator
	timeout time.Duration
}

// GuardActuator bounds every call by timeout. SetState errors are
// classified; a GetState that times out reports Unknown.
func GuardActuator(act Actuator, timeout time.Duration) Actuator {
	return &guardedActuator{act: act, timeout: timeout}
}

func (g *guardedActuator) SetState(ctx context.Context, state PowerState) error {
	if state != On && state != Off {
		return fmt.Errorf("%w: cannot set %s", ErrActuatorRejected, state)
	}
	_, err := call(ctx, g.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.act.SetState(ctx, state)
	})
	return ActuatorError(err)
}

func (g *guardedActuator) GetState(ctx context.Context) PowerState {
	st, err := call(ctx, g.timeout, func(ctx context.Context) (PowerState, error) {
		return g.act.GetState(ctx), nil
	})
	if err != nil {
		return Unknown
	}
	if st != On && st != Off {
		return Unknown
	}
	return st
}
