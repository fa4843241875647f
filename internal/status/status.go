// Package status provides a thread-safe view of the controller state for
// the HTTP server and lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/presence-switch/internal/controller"
)

// Config contains daemon configuration for display.
type Config struct {
	Sensor             string
	Kasa               string
	PollMs             int64
	OccupiedDebounceMs int64
	VacantDebounceMs   int64
	HeartbeatMs        int64
	Broker             string
	HTTPAddr           string
}

// ConfigFrom derives the display config from controller settings.
func ConfigFrom(sensor, kasa, broker, httpAddr string, cfg controller.Config) Config {
	return Config{
		Sensor:             sensor,
		Kasa:               kasa,
		PollMs:             cfg.PollInterval.Milliseconds(),
		OccupiedDebounceMs: cfg.Windows.Occupied.Milliseconds(),
		VacantDebounceMs:   cfg.Windows.Vacant.Milliseconds(),
		HeartbeatMs:        cfg.Heartbeat.Milliseconds(),
		Broker:             broker,
		HTTPAddr:           httpAddr,
	}
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	State         controller.State
	Observed      bool // at least one controller state received
	Running       bool
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Observe implements controller.Observer. Called from the control loop
// after every cycle.
func (t *Tracker) Observe(s controller.State) {
	t.mu.Lock()
	t.snap.State = s
	t.snap.Observed = true
	t.mu.Unlock()
}

// SetRunning records whether the control loop is active.
func (t *Tracker) SetRunning(running bool) {
	t.mu.Lock()
	t.snap.Running = running
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetConfig replaces the display config after a reload.
func (t *Tracker) SetConfig(cfg Config) {
	t.mu.Lock()
	t.snap.Config = cfg
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
