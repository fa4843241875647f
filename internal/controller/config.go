package controller

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/presence-switch/internal/logic"
)

// Config holds the controller tunables.
type Config struct {
	Windows logic.Windows

	PollInterval         time.Duration
	DegradedPollInterval time.Duration

	// Every device call is bounded by CallTimeout.
	CallTimeout time.Duration

	// Retries after the first attempt on ErrActuatorUnreachable.
	MaxRetries   int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration

	ConfirmAttempts int
	ConfirmInterval time.Duration

	// Sensor health degrades once consecutive failures exceed this.
	FailureThreshold int

	// Commands reissued per unknown-period before giving up.
	MaxReconcileAttempts int

	// Heartbeat interval, 0 disables.
	Heartbeat time.Duration
}

// DefaultConfig polls every second, turns on at first detection and off after 10s of vacancy.
func DefaultConfig() Config {
	return Config{
		Windows:              logic.Windows{Occupied: 0, Vacant: 10 * time.Second},
		PollInterval:         time.Second,
		DegradedPollInterval: 10 * time.Second,
		CallTimeout:          2 * time.Second,
		MaxRetries:           3,
		RetryBackoff:         500 * time.Millisecond,
		MaxBackoff:           8 * time.Second,
		ConfirmAttempts:      3,
		ConfirmInterval:      250 * time.Millisecond,
		FailureThreshold:     5,
		MaxReconcileAttempts: 5,
		Heartbeat:            15 * time.Minute,
	}
}

// Validate reports the first invalid tunable.
func (c Config) Validate() error {
	switch {
	case c.Windows.Occupied < 0 || c.Windows.Vacant < 0:
		return errors.New("debounce windows must not be negative")
	case c.PollInterval <= 0:
		return errors.New("poll interval must be positive")
	case c.DegradedPollInterval < c.PollInterval:
		return fmt.Errorf("degraded poll interval %v is shorter than poll interval %v", c.DegradedPollInterval, c.PollInterval)
	case c.CallTimeout <= 0:
		return errors.New("call timeout must be positive")
	case c.MaxRetries < 0:
		return errors.New("max retries must not be negative")
	case c.RetryBackoff < 0 || c.MaxBackoff < c.RetryBackoff:
		return errors.New("retry backoff must be within [0, max backoff]")
	case c.ConfirmAttempts < 1:
		return errors.New("confirm attempts must be at least 1")
	case c.ConfirmInterval < 0:
		return errors.New("confirm interval must not be negative")
	case c.FailureThreshold < 0:
		return errors.New("failure threshold must not be negative")
	case c.MaxReconcileAttempts < 1:
		return errors.New("max reconcile attempts must be at least 1")
	case c.Heartbeat < 0:
		return errors.New("heartbeat must not be negative")
	}
	return nil
}
