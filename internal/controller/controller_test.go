package controller

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/presence-switch/internal/device"
	"github.com/sweeney/presence-switch/internal/logic"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// harness drives a Controller with a fake clock. Sleeps are recorded and
// advance the clock instead of blocking.
type harness struct {
	now     time.Time
	sleeps  []time.Duration
	events  []Event
	states  []State
	onSleep func()

	src  *device.FakeSource
	act  *device.FakeActuator
	ctrl *Controller
}

type observerFunc func(State)

func (f observerFunc) Observe(s State) { f(s) }

func newHarness(t *testing.T, cfg Config, act *device.FakeActuator, steps ...device.Step) *harness {
	t.Helper()
	h := &harness{now: t0, src: device.NewFakeSource(steps...), act: act}
	ctrl, err := New(h.src, h.act, cfg,
		WithClock(func() time.Time { return h.now }),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			if h.onSleep != nil {
				h.onSleep()
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			h.sleeps = append(h.sleeps, d)
			h.now = h.now.Add(d)
			return nil
		}),
		WithSink(SinkFunc(func(e Event) { h.events = append(h.events, e) })),
		WithObserver(observerFunc(func(s State) { h.states = append(h.states, s) })),
	)
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

// stepAt runs one cycle at t0+sec.
func (h *harness) stepAt(ctx context.Context, sec float64) {
	h.now = t0.Add(time.Duration(sec * float64(time.Second)))
	h.ctrl.Step(ctx)
}

func (h *harness) ofType(t EventType) []Event {
	var out []Event
	for _, e := range h.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Windows = logic.Windows{Occupied: 2 * time.Second, Vacant: 30 * time.Second}
	cfg.Heartbeat = 0
	return cfg
}

func unreachable() error {
	return fmt.Errorf("%w: connection refused", device.ErrActuatorUnreachable)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = 0
	_, err := New(device.NewFakeSource(), device.NewFakeActuator(device.Off), cfg)
	assert.Error(t, err)

	_, err = New(nil, device.NewFakeActuator(device.Off), testConfig())
	assert.Error(t, err)
}

func TestOccupiedThenVacantScenario(t *testing.T) {
	ctx := context.Background()
	var samples []bool
	for i := 0; i <= 40; i++ {
		samples = append(samples, i <= 2)
	}
	h := newHarness(t, testConfig(), device.NewFakeActuator(device.Off), device.Occupancy(samples...)...)
	h.ctrl.syncActuator(ctx)

	for i := 0; i <= 40; i++ {
		h.stepAt(ctx, float64(i))
	}

	assert.Equal(t, []device.PowerState{device.On, device.Off}, h.act.Commands())

	transitions := h.ofType(EventStableTransition)
	require.Len(t, transitions, 2)
	assert.Equal(t, logic.Occupied, transitions[0].Occupancy)
	assert.True(t, transitions[0].Time.Equal(t0.Add(2*time.Second)), "ON at %v", transitions[0].Time)
	assert.Equal(t, logic.Vacant, transitions[1].Occupancy)
	assert.True(t, transitions[1].Time.Equal(t0.Add(33*time.Second)), "OFF at %v", transitions[1].Time)

	assert.Len(t, h.ofType(EventCommandConfirmed), 2)
	st := h.ctrl.State()
	assert.Equal(t, device.Off, st.Actuator)
	assert.Equal(t, 1, st.Counts.Occupied)
	assert.Equal(t, 1, st.Counts.Vacated)
	assert.Equal(t, 41, st.Counts.Samples)
}

func TestBlipResetsWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), device.NewFakeActuator(device.Off),
		device.Occupancy(true, false, true, true, true)...)
	h.ctrl.syncActuator(ctx)

	for i := 0; i < 4; i++ {
		h.stepAt(ctx, float64(i))
		assert.Empty(t, h.act.Commands(), "no command expected at t=%d", i)
	}
	h.stepAt(ctx, 4)
	assert.Equal(t, []device.PowerState{device.On}, h.act.Commands())
}

func TestSustainedOccupancyCommandsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), device.NewFakeActuator(device.Off), device.Step{Occupied: true})
	h.ctrl.syncActuator(ctx)

	for i := 0; i < 20; i++ {
		h.stepAt(ctx, float64(i))
	}
	assert.Equal(t, []device.PowerState{device.On}, h.act.Commands())
	assert.Len(t, h.ofType(EventStableTransition), 1)
}

func TestZeroWindowActsOnFirstSample(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Windows.Occupied = 0
	h := newHarness(t, cfg, device.NewFakeActuator(device.Off), device.Step{Occupied: true})
	h.ctrl.syncActuator(ctx)

	h.stepAt(ctx, 0)
	assert.Equal(t, []device.PowerState{device.On}, h.act.Commands())
}

func TestStartupAdoptsActuatorState(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Windows.Occupied = 0
	h := newHarness(t, cfg, device.NewFakeActuator(device.On), device.Step{Occupied: true})

	h.ctrl.syncActuator(ctx)
	assert.Equal(t, device.On, h.ctrl.State().Actuator)
	assert.Equal(t, device.PowerState(""), h.ctrl.State().Intent)

	h.stepAt(ctx, 0)
	assert.Empty(t, h.act.Commands(), "switch already on, no command")
	assert.Len(t, h.ofType(EventStableTransition), 1)
	assert.Equal(t, device.On, h.ctrl.State().Intent)
}

func TestUnreachableRetriedWithBackoff(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Windows.Occupied = 0
	act := device.NewFakeActuator(device.Off)
	act.FailNext(unreachable(), unreachable())
	h := newHarness(t, cfg, act, device.Step{Occupied: true})
	h.ctrl.syncActuator(ctx)

	h.stepAt(ctx, 0)

	assert.Equal(t, []device.PowerState{device.On, device.On, device.On}, act.Commands())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, h.sleeps)

	issued := h.ofType(EventCommandIssued)
	require.Len(t, issued, 3)
	for i, e := range issued {
		assert.Equal(t, i+1, e.Attempt)
		assert.Equal(t, issued[0].CommandID, e.CommandID, "retries share the command id")
	}
	require.Len(t, h.ofType(EventCommandConfirmed), 1)
	assert.Equal(t, device.On, h.ctrl.State().Actuator)

	for sec := 1.0; sec <= 5; sec++ {
		h.stepAt(ctx, sec)
	}
	assert.Empty(t, h.ofType(EventReconciliationExhausted))
	assert.Empty(t, h.ofType(EventCommandFailed))
	assert.Len(t, act.Commands(), 3, "no reissue once confirmed")
	assert.False(t, h.ctrl.State().ActuatorDegraded)
}

func TestBackoffCappedAndExhausted(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Windows.Occupied = 0
	cfg.MaxRetries = 5
	cfg.MaxBackoff = time.Second
	act := device.NewFakeActuator(device.Off)
	for i := 0; i < 6; i++ {
		act.FailNext(unreachable())
	}
	h := newHarness(t, cfg, act, device.Step{Occupied: true})
	h.ctrl.syncActuator(ctx)

	h.stepAt(ctx, 0)

	assert.Len(t, act.Commands(), 6)
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond, time.Second, time.Second, time.Second, time.Second,
	}, h.sleeps)
	failed := h.ofType(EventCommandFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Error, "unreachable")
	assert.Equal(t, device.Unknown, h.ctrl.State().Actuator)

	// Next cycle reconciles: the switch is reachable again.
	h.stepAt(ctx, 10)
	assert.Len(t, act.Commands(), 7)
	require.Len(t, h.ofType(EventReconciled), 1)
	st := h.ctrl.State()
	assert.Equal(t, device.On, st.Actuator)
	assert.Equal(t, 0, st.ReconcileAttempts)
}

func TestRejectedNotRetried(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Windows.Occupied = 0
	act := device.NewFakeActuator(device.Off)
	act.FailNext(fmt.Errorf("%w: relay disabled", device.ErrActuatorRejected))
	h := newHarness(t, cfg, act, device.Step{Occupied: true})
	h.ctrl.syncActuator(ctx)

	h.stepAt(ctx, 0)
	assert.Equal(t, []device.PowerState{device.On}, act.Commands())
	assert.Empty(t, h.sleeps)
	require.Len(t, h.ofType(EventCommandFailed), 1)
	assert.Equal(t, device.Off, h.ctrl.State().Actuator)

	for i := 1; i <= 5; i++ {
		h.stepAt(ctx, float64(i))
	}
	assert.Len(t, act.Commands(), 1, "rejected intent must not be reissued")

	// Someone turns it on by hand: reconciliation notices.
	act.Force(device.On)
	h.stepAt(ctx, 6)
	assert.Len(t, h.ofType(EventReconciled), 1)
	assert.Equal(t, device.On, h.ctrl.State().Actuator)
}

func TestUnconfirmedCommandReconcilesThenDegrades(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Windows.Occupied = 0
	cfg.MaxReconcileAttempts = 2
	act := device.NewFakeActuator(device.Off)
	act.SetStuck(true)
	h := newHarness(t, cfg, act, device.Step{Occupied: true})
	h.ctrl.syncActuator(ctx)

	h.stepAt(ctx, 0)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, h.sleeps)
	failed := h.ofType(EventCommandFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "state not confirmed", failed[0].Detail)
	assert.Equal(t, device.Unknown, h.ctrl.State().Actuator)
	assert.Equal(t, cfg.PollInterval, h.ctrl.Interval())

	h.stepAt(ctx, 1)
	h.stepAt(ctx, 2)
	assert.Len(t, act.Commands(), 3)
	require.Len(t, h.ofType(EventReconciliationExhausted), 1)
	assert.True(t, h.ctrl.State().ActuatorDegraded)
	assert.Equal(t, cfg.DegradedPollInterval, h.ctrl.Interval())

	// Degraded: observe only.
	h.stepAt(ctx, 12)
	h.stepAt(ctx, 22)
	assert.Len(t, act.Commands(), 3)
	assert.Len(t, h.ofType(EventReconciliationExhausted), 1)

	act.SetStuck(false)
	act.Force(device.On)
	h.stepAt(ctx, 32)
	assert.Len(t, h.ofType(EventReconciled), 1)
	assert.False(t, h.ctrl.State().ActuatorDegraded)
	assert.Equal(t, cfg.PollInterval, h.ctrl.Interval())
}

func TestNewTransitionEndsDegradedPeriod(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Windows = logic.Windows{}
	cfg.MaxReconcileAttempts = 1
	act := device.NewFakeActuator(device.Off)
	act.SetStuck(true)
	h := newHarness(t, cfg, act, device.Occupancy(true, true, false)...)
	h.ctrl.syncActuator(ctx)

	h.stepAt(ctx, 0)
	h.stepAt(ctx, 1)
	require.True(t, h.ctrl.State().ActuatorDegraded)

	// Stuck OFF already matches the new OFF intent.
	h.stepAt(ctx, 2)
	st := h.ctrl.State()
	assert.False(t, st.ActuatorDegraded)
	assert.Equal(t, device.Off, st.Intent)
}

func TestSensorFaultHoldsStableState(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Windows = logic.Windows{}
	cfg.FailureThreshold = 2
	steps := device.Occupancy(true)
	for i := 0; i < 5; i++ {
		steps = append(steps, device.Step{Err: fmt.Errorf("%w: bad frame", device.ErrSensorFault)})
	}
	steps = append(steps, device.Step{Occupied: true})
	h := newHarness(t, cfg, device.NewFakeActuator(device.Off), steps...)
	h.ctrl.syncActuator(ctx)

	for i := 0; i <= 5; i++ {
		h.stepAt(ctx, float64(i))
	}
	degraded := h.ofType(EventSensorDegraded)
	require.Len(t, degraded, 1)
	assert.True(t, degraded[0].Time.Equal(t0.Add(3*time.Second)), "degraded on the third failure")
	assert.Equal(t, logic.Occupied, degraded[0].Occupancy)
	assert.Equal(t, []device.PowerState{device.On}, h.act.Commands(), "sensor failure must not switch off")
	assert.True(t, h.ctrl.State().SensorDegraded)
	assert.Equal(t, 5, h.ctrl.State().Counts.SensorErrors)

	h.stepAt(ctx, 6)
	assert.Len(t, h.ofType(EventSensorRecovered), 1)
	assert.False(t, h.ctrl.State().SensorDegraded)
}

func TestCancelledContextIssuesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := testConfig()
	cfg.Windows.Occupied = 0
	h := newHarness(t, cfg, device.NewFakeActuator(device.Off), device.Step{Occupied: true})

	h.stepAt(ctx, 0)
	assert.Empty(t, h.act.Commands())
	assert.Equal(t, 0, h.src.Calls())
}

func TestCancelDuringBackoffAbandonsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := testConfig()
	cfg.Windows.Occupied = 0
	act := device.NewFakeActuator(device.Off)
	act.FailNext(unreachable(), unreachable(), unreachable())
	h := newHarness(t, cfg, act, device.Step{Occupied: true})
	h.onSleep = cancel
	h.ctrl.syncActuator(ctx)

	h.stepAt(ctx, 0)
	assert.Len(t, act.Commands(), 1)
	assert.Empty(t, h.ofType(EventCommandFailed))
}

func TestHeartbeatCarriesCounts(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Heartbeat = 10 * time.Second
	h := newHarness(t, cfg, device.NewFakeActuator(device.Off), device.Step{Occupied: false})

	h.stepAt(ctx, 0)
	h.stepAt(ctx, 5)
	assert.Empty(t, h.ofType(EventHeartbeat))
	h.stepAt(ctx, 10)
	beats := h.ofType(EventHeartbeat)
	require.Len(t, beats, 1)
	require.NotNil(t, beats[0].Counts)
	assert.Equal(t, 3, beats[0].Counts.Samples)
}

func TestReconfigureAppliesNextCycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), device.NewFakeActuator(device.Off), device.Step{Occupied: true})
	h.ctrl.syncActuator(ctx)

	bad := testConfig()
	bad.ConfirmAttempts = 0
	assert.Error(t, h.ctrl.Reconfigure(bad))

	cfg := testConfig()
	cfg.Windows.Occupied = 0
	require.NoError(t, h.ctrl.Reconfigure(testConfig()))
	require.NoError(t, h.ctrl.Reconfigure(cfg), "newer config replaces pending one")

	h.stepAt(ctx, 0)
	assert.Equal(t, []device.PowerState{device.On}, h.act.Commands())
	assert.Equal(t, time.Duration(0), h.ctrl.State().Config.Windows.Occupied)
}

func TestObserverSeesEveryCycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), device.NewFakeActuator(device.Off), device.Step{Occupied: true})

	h.stepAt(ctx, 0)
	h.stepAt(ctx, 1)
	require.Len(t, h.states, 2)
	assert.Equal(t, logic.Occupied, h.states[1].Debounce.Candidate)
	assert.Equal(t, "fake", h.states[1].LastSampleDetail)
}

func TestRunTurnsSwitchOnAndStops(t *testing.T) {
	cfg := testConfig()
	cfg.Windows.Occupied = 0
	cfg.PollInterval = 5 * time.Millisecond
	act := device.NewFakeActuator(device.Off)
	ctrl, err := New(device.NewFakeSource(device.Step{Occupied: true}), act, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	assert.Eventually(t, func() bool { return act.State() == device.On }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, []device.PowerState{device.On}, act.Commands())
}

func TestServiceStartStop(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = 5 * time.Millisecond
	src := device.NewFakeSource(device.Step{Occupied: false})
	ctrl, err := New(src, device.NewFakeActuator(device.Off), cfg)
	require.NoError(t, err)

	svc := NewService(context.Background(), ctrl, zerolog.Nop())
	assert.False(t, svc.Running())
	assert.False(t, svc.Stop())

	assert.True(t, svc.Start())
	assert.False(t, svc.Start(), "already running")
	assert.True(t, svc.Running())
	assert.Eventually(t, func() bool { return src.Calls() > 0 }, time.Second, 5*time.Millisecond)

	assert.True(t, svc.Stop())
	assert.False(t, svc.Running())
}

func TestServiceEndsWithBaseContext(t *testing.T) {
	cfg := testConfig()
	ctrl, err := New(device.NewFakeSource(device.Step{}), device.NewFakeActuator(device.Off), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	svc := NewService(ctx, ctrl, zerolog.Nop())
	require.True(t, svc.Start())
	cancel()
	assert.Eventually(t, func() bool { return !svc.Running() }, time.Second, 5*time.Millisecond)
}

func TestRestartDropsPendingCandidate(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Windows = logic.Windows{Occupied: 0, Vacant: 30 * time.Second}
	act := device.NewFakeActuator(device.Off)
	h := newHarness(t, cfg, act, device.Step{Occupied: true}, device.Step{Occupied: false})

	h.stepAt(ctx, 0)
	h.stepAt(ctx, 1)
	require.Equal(t, logic.Vacant, h.ctrl.State().Debounce.Candidate)

	// A loop run between cycles is a stop/start boundary.
	stopped, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, h.ctrl.Run(stopped))
	assert.Equal(t, logic.None, h.ctrl.State().Debounce.Candidate)
	assert.Equal(t, logic.Occupied, h.ctrl.State().Debounce.Stable)

	h.stepAt(ctx, 100)
	h.stepAt(ctx, 129)
	assert.Equal(t, []device.PowerState{device.On}, act.Commands(), "window restarts after the pause")

	h.stepAt(ctx, 130)
	assert.Equal(t, []device.PowerState{device.On, device.Off}, act.Commands())
}

func TestServiceRestartWaitsFullVacantWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Windows = logic.Windows{Occupied: 0, Vacant: 300 * time.Millisecond}
	cfg.PollInterval = 10 * time.Millisecond
	src := device.NewFakeSource(device.Step{Occupied: true})
	act := device.NewFakeActuator(device.Off)
	ctrl, err := New(src, act, cfg)
	require.NoError(t, err)
	svc := NewService(context.Background(), ctrl, zerolog.Nop())

	require.True(t, svc.Start())
	require.Eventually(t, func() bool { return act.State() == device.On }, time.Second, 5*time.Millisecond)

	src.Set(device.Step{Occupied: false})
	time.Sleep(50 * time.Millisecond)
	require.True(t, svc.Stop())
	time.Sleep(400 * time.Millisecond)

	require.True(t, svc.Start())
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []device.PowerState{device.On}, act.Commands(), "no OFF before a full post-restart window")

	assert.Eventually(t, func() bool { return act.State() == device.Off }, 2*time.Second, 10*time.Millisecond)
	require.True(t, svc.Stop())
}

func TestRetryPolicySequence(t *testing.T) {
	cfg := testConfig()
	cfg.RetryBackoff = 250 * time.Millisecond
	cfg.MaxBackoff = time.Second
	cfg.MaxRetries = 4
	h := newHarness(t, cfg, device.NewFakeActuator(device.Off), device.Step{})

	policy := h.ctrl.retryPolicy()
	var got []time.Duration
	for d := policy.NextBackOff(); d != backoff.Stop; d = policy.NextBackOff() {
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{
		250 * time.Millisecond, 500 * time.Millisecond, time.Second, time.Second,
	}, got)

	cfg.MaxRetries = 0
	h = newHarness(t, cfg, device.NewFakeActuator(device.Off), device.Step{})
	assert.Equal(t, backoff.Stop, h.ctrl.retryPolicy().NextBackOff(), "no retries configured")
}
