// Package controller runs the presence control loop: it samples a
// PresenceSource, debounces the readings, and drives an Actuator with
// retried, confirmed, idempotent commands.
//
// All controller state is owned by the goroutine calling Run (or Step);
// other goroutines only talk to it through Reconfigure and the Observer.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sweeney/presence-switch/internal/device"
	"github.com/sweeney/presence-switch/internal/logic"
)

// Counts tracks controller activity since startup.
type Counts struct {
	Samples      int `json:"samples"`
	SensorErrors int `json:"sensor_errors"`
	Occupied     int `json:"occupied"`
	Vacated      int `json:"vacated"`
	Commands     int `json:"commands"`
	Confirmed    int `json:"confirmed"`
	Failed       int `json:"failed"`
	Reconciled   int `json:"reconciled"`
}

// State is a point-in-time copy of the controller state.
type State struct {
	Debounce          logic.DebounceState
	Actuator          device.PowerState
	Intent            device.PowerState
	SensorFailures    int
	SensorDegraded    bool
	ReconcileAttempts int
	ActuatorDegraded  bool
	LastSample        time.Time
	LastSampleDetail  string
	Counts            Counts
	Config            Config
}

// Observer receives a State after every cycle.
type Observer interface {
	Observe(State)
}

// ActuatorCommand is a single request to move the switch to Desired.
type ActuatorCommand struct {
	ID       string
	Desired  device.PowerState
	IssuedAt time.Time
	Attempt  int
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithSleep replaces the cancellable sleep used for backoff and confirmation.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithSink sets the event sink.
func WithSink(s Sink) Option {
	return func(c *Controller) { c.sink = s }
}

// WithObserver sets the per-cycle state observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// Controller is the presence control loop.
type Controller struct {
	source   device.PresenceSource
	actuator device.Actuator
	cfg      Config

	debouncer *logic.Debouncer
	health    *logic.FailureTracker

	// mirrored is the last confirmed actuator state.
	mirrored device.PowerState
	// intent is the state the last stable transition asked for; empty
	// until the first transition.
	intent            device.PowerState
	intentRejected    bool
	reconcileAttempts int
	actuatorDegraded  bool

	lastSample       time.Time
	lastSampleDetail string
	lastHeartbeat    time.Time
	started          time.Time
	counts           Counts

	reconfig chan Config

	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	logger   zerolog.Logger
	sink     Sink
	observer Observer
}

// New creates a controller over the given devices.
func New(source device.PresenceSource, actuator device.Actuator, cfg Config, opts ...Option) (*Controller, error) {
	if source == nil || actuator == nil {
		return nil, errors.New("controller: source and actuator are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}
	c := &Controller{
		source:    source,
		actuator:  actuator,
		cfg:       cfg,
		debouncer: logic.NewDebouncer(cfg.Windows),
		health:    logic.NewFailureTracker(cfg.FailureThreshold),
		mirrored:  device.Unknown,
		reconfig:  make(chan Config, 1),
		now:       time.Now,
		sleep:     sleepCtx,
		logger:    zerolog.Nop(),
		sink:      MultiSink{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.started = c.now()
	return c, nil
}

// Run drives Step on a timer until ctx is cancelled. Device errors never
// end the loop; in-flight retries are abandoned on cancellation.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info().
		Dur("poll", c.cfg.PollInterval).
		Dur("occupied_debounce", c.cfg.Windows.Occupied).
		Dur("vacant_debounce", c.cfg.Windows.Vacant).
		Msg("control loop started")

	c.debouncer.ClearCandidate()
	c.syncActuator(ctx)
	c.observe()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("control loop stopped")
			return nil
		case <-timer.C:
			c.Step(ctx)
			timer.Reset(c.Interval())
		}
	}
}

// Reconfigure hands new tunables to the loop. They apply at the start of
// the next cycle; a newer call replaces a pending one.
func (c *Controller) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	for {
		select {
		case c.reconfig <- cfg:
			return nil
		default:
			select {
			case <-c.reconfig:
			default:
			}
		}
	}
}

// Interval is the delay before the next cycle.
func (c *Controller) Interval() time.Duration {
	if c.actuatorDegraded {
		return c.cfg.DegradedPollInterval
	}
	return c.cfg.PollInterval
}

// Step runs one sampling/actuation cycle.
func (c *Controller) Step(ctx context.Context) {
	c.applyPending()
	if ctx.Err() != nil {
		return
	}

	now := c.now()
	actuated := false

	sample, err := c.sample(ctx)
	if err != nil {
		c.onSensorError(ctx, err)
	} else {
		c.counts.Samples++
		c.lastSample = now
		c.lastSampleDetail = sample.Detail
		if c.health.Succeed() {
			c.emit(Event{Type: EventSensorRecovered, Occupancy: c.debouncer.State().Stable, Detail: "sensor readings resumed"})
		}
		if tr := c.debouncer.Process(sample.Occupied, now); tr != nil {
			c.onTransition(ctx, tr)
			actuated = true
		}
	}

	if !actuated {
		c.reconcile(ctx)
	}
	c.heartbeat(now)
	c.observe()
}

// State returns a copy of the controller state. Call it only from the
// goroutine running the loop, or when the loop is not running.
func (c *Controller) State() State {
	return State{
		Debounce:          c.debouncer.State(),
		Actuator:          c.mirrored,
		Intent:            c.intent,
		SensorFailures:    c.health.Consecutive(),
		SensorDegraded:    c.health.Degraded(),
		ReconcileAttempts: c.reconcileAttempts,
		ActuatorDegraded:  c.actuatorDegraded,
		LastSample:        c.lastSample,
		LastSampleDetail:  c.lastSampleDetail,
		Counts:            c.counts,
		Config:            c.cfg,
	}
}

func (c *Controller) applyPending() {
	select {
	case cfg := <-c.reconfig:
		c.cfg = cfg
		c.debouncer.SetWindows(cfg.Windows)
		c.health.SetThreshold(cfg.FailureThreshold)
		c.logger.Info().
			Dur("poll", cfg.PollInterval).
			Dur("occupied_debounce", cfg.Windows.Occupied).
			Dur("vacant_debounce", cfg.Windows.Vacant).
			Int("max_retries", cfg.MaxRetries).
			Msg("configuration applied")
	default:
	}
}

// syncActuator adopts the switch's current state at startup without
// commanding it. Once an intent exists, reconciliation owns the mirror.
func (c *Controller) syncActuator(ctx context.Context) {
	if c.intent != "" {
		return
	}
	c.mirrored = c.getState(ctx)
	c.logger.Info().Str("actuator", string(c.mirrored)).Msg("initial actuator state")
}

func (c *Controller) onSensorError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	c.counts.SensorErrors++
	c.logger.Debug().Err(err).Int("consecutive", c.health.Consecutive()+1).Msg("sensor read failed, sample skipped")
	if c.health.Fail() {
		c.emit(Event{
			Type:      EventSensorDegraded,
			Occupancy: c.debouncer.State().Stable,
			Actuator:  c.mirrored,
			Error:     err.Error(),
			Detail:    fmt.Sprintf("%d consecutive sensor failures, holding last stable state", c.health.Consecutive()),
		})
	}
}

func (c *Controller) onTransition(ctx context.Context, tr *logic.Transition) {
	if tr.To == logic.Occupied {
		c.counts.Occupied++
	} else {
		c.counts.Vacated++
	}
	desired := device.PowerFor(tr.To == logic.Occupied)
	c.emit(Event{
		Time:      tr.Time,
		Type:      EventStableTransition,
		Occupancy: tr.To,
		Desired:   desired,
		Actuator:  c.mirrored,
		Detail:    fmt.Sprintf("%s -> %s after %v", tr.From, tr.To, tr.Time.Sub(tr.DetectedAt)),
	})

	// A new intent starts a new unknown-period.
	c.intent = desired
	c.intentRejected = false
	c.reconcileAttempts = 0
	c.actuatorDegraded = false

	if c.mirrored == desired {
		c.logger.Debug().Str("desired", string(desired)).Msg("actuator already in desired state, no command")
		return
	}
	c.command(ctx, desired)
}

// command issues desired with retries and confirms it. It reports
// whether the switch was confirmed in the desired state.
func (c *Controller) command(ctx context.Context, desired device.PowerState) bool {
	cmd := ActuatorCommand{ID: uuid.NewString(), Desired: desired, IssuedAt: c.now()}
	c.counts.Commands++

	err := c.issue(ctx, &cmd)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		// Shutdown: leave the partially-issued command as it is.
		return false
	case errors.Is(err, device.ErrActuatorRejected):
		c.intentRejected = true
		c.counts.Failed++
		c.mirrored = c.getState(ctx)
		c.emitCommand(EventCommandFailed, cmd, err, "rejected by actuator, not retried")
		return false
	default:
		c.counts.Failed++
		c.mirrored = device.Unknown
		c.emitCommand(EventCommandFailed, cmd, err, "retries exhausted")
		return false
	}

	if c.confirm(ctx, desired) {
		c.mirrored = desired
		c.counts.Confirmed++
		c.emitCommand(EventCommandConfirmed, cmd, nil, fmt.Sprintf("confirmed after %v", c.now().Sub(cmd.IssuedAt)))
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	c.mirrored = device.Unknown
	c.counts.Failed++
	c.emitCommand(EventCommandFailed, cmd, nil, "state not confirmed")
	return false
}

// retryPolicy spaces the attempts of one command: RetryBackoff doubling
// up to MaxBackoff, no jitter, and Stop after MaxRetries retries.
func (c *Controller) retryPolicy() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.cfg.RetryBackoff,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.cfg.MaxBackoff,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               clockFunc(c.now),
	}
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries))
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

func (c *Controller) issue(ctx context.Context, cmd *ActuatorCommand) error {
	policy := c.retryPolicy()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		cmd.Attempt = attempt
		c.emitCommand(EventCommandIssued, *cmd, nil, "")

		err := c.setState(ctx, cmd.Desired)
		if err == nil {
			return nil
		}
		if errors.Is(err, device.ErrActuatorRejected) {
			return err
		}
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return err
		}

		c.logger.Warn().Err(err).
			Str("command", cmd.ID).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("actuator unreachable, retrying")
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (c *Controller) confirm(ctx context.Context, desired device.PowerState) bool {
	for i := 1; i <= c.cfg.ConfirmAttempts; i++ {
		if c.getState(ctx) == desired {
			return true
		}
		if i < c.cfg.ConfirmAttempts {
			if err := c.sleep(ctx, c.cfg.ConfirmInterval); err != nil {
				return false
			}
		}
	}
	return false
}

// reconcile brings the switch back in line with the intent after a
// failed or unconfirmed command.
func (c *Controller) reconcile(ctx context.Context) {
	if c.intent == "" || c.mirrored == c.intent || ctx.Err() != nil {
		return
	}

	observed := c.getState(ctx)
	if observed == c.intent {
		c.mirrored = observed
		c.reconciled("actuator observed in desired state")
		return
	}
	if observed != device.Unknown {
		c.mirrored = observed
	}

	// Passive only: a rejected intent is never retried blindly, and an
	// exhausted one waits for the next transition or observed recovery.
	if c.intentRejected || c.actuatorDegraded {
		return
	}

	c.reconcileAttempts++
	c.logger.Info().
		Str("desired", string(c.intent)).
		Str("observed", string(observed)).
		Int("attempt", c.reconcileAttempts).
		Msg("reconciling actuator")

	if c.command(ctx, c.intent) {
		c.reconciled("command reissued and confirmed")
		return
	}
	if ctx.Err() != nil || c.intentRejected {
		return
	}
	if c.reconcileAttempts >= c.cfg.MaxReconcileAttempts {
		c.actuatorDegraded = true
		c.emit(Event{
			Type:      EventReconciliationExhausted,
			Occupancy: c.debouncer.State().Stable,
			Desired:   c.intent,
			Actuator:  c.mirrored,
			Attempt:   c.reconcileAttempts,
			Detail:    fmt.Sprintf("polling every %v until recovery", c.cfg.DegradedPollInterval),
		})
	}
}

func (c *Controller) reconciled(detail string) {
	c.counts.Reconciled++
	c.reconcileAttempts = 0
	c.actuatorDegraded = false
	c.emit(Event{
		Type:      EventReconciled,
		Occupancy: c.debouncer.State().Stable,
		Desired:   c.intent,
		Actuator:  c.mirrored,
		Detail:    detail,
	})
}

func (c *Controller) heartbeat(now time.Time) {
	if c.cfg.Heartbeat <= 0 {
		return
	}
	if c.lastHeartbeat.IsZero() {
		c.lastHeartbeat = now
		return
	}
	if now.Sub(c.lastHeartbeat) < c.cfg.Heartbeat {
		return
	}
	c.lastHeartbeat = now
	counts := c.counts
	c.emit(Event{
		Time:      now,
		Type:      EventHeartbeat,
		Occupancy: c.debouncer.State().Stable,
		Actuator:  c.mirrored,
		Counts:    &counts,
		Detail:    fmt.Sprintf("uptime %v", now.Sub(c.started).Truncate(time.Second)),
	})
}

func (c *Controller) emitCommand(t EventType, cmd ActuatorCommand, err error, detail string) {
	e := Event{
		Type:      t,
		Occupancy: c.debouncer.State().Stable,
		Desired:   cmd.Desired,
		Actuator:  c.mirrored,
		CommandID: cmd.ID,
		Attempt:   cmd.Attempt,
		Detail:    detail,
	}
	if err != nil {
		e.Error = err.Error()
	}
	c.emit(e)
}

func (c *Controller) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = c.now()
	}
	c.sink.Emit(e)
}

func (c *Controller) observe() {
	if c.observer != nil {
		c.observer.Observe(c.State())
	}
}

func (c *Controller) sample(ctx context.Context) (device.PresenceSample, error) {
	return device.GuardSource(c.source, c.cfg.CallTimeout).Sample(ctx)
}

func (c *Controller) setState(ctx context.Context, s device.PowerState) error {
	return device.GuardActuator(c.actuator, c.cfg.CallTimeout).SetState(ctx, s)
}

func (c *Controller) getState(ctx context.Context) device.PowerState {
	return device.GuardActuator(c.actuator, c.cfg.CallTimeout).GetState(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
