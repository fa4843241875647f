// Package registry resolves the component names in the configuration
// into presence sources and actuators.
package registry

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/sweeney/presence-switch/internal/config"
	"github.com/sweeney/presence-switch/internal/device"
	"github.com/sweeney/presence-switch/internal/gpio"
	"github.com/sweeney/presence-switch/internal/mqtt"
)

var (
	ErrNotFound  = errors.New("component not found")
	ErrWrongKind = errors.New("component has the wrong kind")
	ErrNoBroker  = errors.New("mqtt component needs a broker")
)

// Registry builds devices from component declarations.
type Registry struct {
	cfg     config.Config
	conn    *mqtt.Conn
	logger  zerolog.Logger
	closers []io.Closer
}

// New creates a registry over cfg's components. conn may be nil when no
// broker is configured.
func New(cfg config.Config, conn *mqtt.Conn, logger zerolog.Logger) *Registry {
	return &Registry{cfg: cfg, conn: conn, logger: logger}
}

func (r *Registry) lookup(name string) (config.Component, error) {
	c, ok := r.cfg.Component(name)
	if !ok {
		return config.Component{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return c, nil
}

// Source resolves name to a presence source.
func (r *Registry) Source(name string) (device.PresenceSource, error) {
	c, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	log := r.logger.With().Str("component", c.Name).Str("type", c.Type).Logger()

	switch c.Type {
	case config.TypeGPIO:
		src, err := gpio.Open(c.Chip, c.Line, c.ActiveLow)
		if err != nil {
			return nil, fmt.Errorf("component %q: %w", c.Name, err)
		}
		r.closers = append(r.closers, src)
		log.Info().Str("chip", c.Chip).Int("line", c.Line).Msg("gpio sensor ready")
		return src, nil

	case config.TypeMQTTSensor:
		if r.conn == nil {
			return nil, fmt.Errorf("%w: %q", ErrNoBroker, c.Name)
		}
		policy := device.Policy{MaxDistance: c.MaxDistance, MinEnergy: c.MinEnergy}
		src, err := mqtt.NewSource(r.conn, c.Topic, c.MaxAge(), policy, log)
		if err != nil {
			return nil, fmt.Errorf("component %q: %w", c.Name, err)
		}
		log.Info().Str("topic", c.Topic).Msg("mqtt sensor ready")
		return src, nil

	case config.TypeSimSensor:
		log.Warn().Bool("occupied", c.Occupied).Msg("using simulated sensor")
		return device.NewFakeSource(device.Step{Occupied: c.Occupied}), nil
	}
	return nil, fmt.Errorf("%w: %q is a %s, want a sensor", ErrWrongKind, c.Name, c.Type)
}

// Actuator resolves name to a switch.
func (r *Registry) Actuator(name string) (device.Actuator, error) {
	c, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	log := r.logger.With().Str("component", c.Name).Str("type", c.Type).Logger()

	switch c.Type {
	case config.TypeMQTTSwitch:
		if r.conn == nil {
			return nil, fmt.Errorf("%w: %q", ErrNoBroker, c.Name)
		}
		sw, err := mqtt.NewSwitch(r.conn, c.Topic, c.CommandTopic, c.MaxAge(), log)
		if err != nil {
			return nil, fmt.Errorf("component %q: %w", c.Name, err)
		}
		log.Info().Str("topic", c.Topic).Msg("mqtt switch ready")
		return sw, nil

	case config.TypeSimSwitch:
		initial := device.ParsePowerState(c.Initial)
		if initial == device.Unknown {
			initial = device.Off
		}
		log.Warn().Str("initial", string(initial)).Msg("using simulated switch")
		return device.NewFakeActuator(initial), nil
	}
	return nil, fmt.Errorf("%w: %q is a %s, want a switch", ErrWrongKind, c.Name, c.Type)
}

// Close releases hardware held by resolved components.
func (r *Registry) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
