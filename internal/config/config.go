// Package config loads presence-switch settings from a file and the
// environment with viper, and watches the file for live changes.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/sweeney/presence-switch/internal/controller"
	"github.com/sweeney/presence-switch/internal/logic"
)

// EnvPrefix prefixes environment overrides, e.g. PRESENCE_MQTT_BROKER.
const EnvPrefix = "PRESENCE"

// Component types understood by the registry.
const (
	TypeGPIO       = "gpio"
	TypeMQTTSensor = "mqtt_sensor"
	TypeMQTTSwitch = "mqtt_switch"
	TypeSimSensor  = "sim_sensor"
	TypeSimSwitch  = "sim_switch"
)

var (
	ErrMissingSensor = errors.New("config: sensor name is required")
	ErrMissingKasa   = errors.New("config: kasa name is required")
)

// MQTT holds broker settings shared by every MQTT component.
type MQTT struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// Component is a named device declaration. Which fields matter depends
// on Type.
type Component struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"`

	// gpio
	Chip      string `mapstructure:"chip"`
	Line      int    `mapstructure:"line"`
	ActiveLow bool   `mapstructure:"active_low"`

	// mqtt_sensor, mqtt_switch
	Topic        string  `mapstructure:"topic"`
	CommandTopic string  `mapstructure:"command_topic"`
	MaxAgeMs     int     `mapstructure:"max_age_ms"`
	MaxDistance  float64 `mapstructure:"max_distance"`
	MinEnergy    float64 `mapstructure:"min_energy"`

	// sim_sensor, sim_switch
	Occupied bool   `mapstructure:"occupied"`
	Initial  string `mapstructure:"initial"`
}

// MaxAge returns the staleness bound for MQTT readings, 0 meaning none.
func (c Component) MaxAge() time.Duration {
	return ms(c.MaxAgeMs)
}

// Config is the full application configuration.
type Config struct {
	Sensor    string `mapstructure:"sensor"`
	Kasa      string `mapstructure:"kasa"`
	AutoStart bool   `mapstructure:"auto_start"`

	OccupiedDebounceMs     int `mapstructure:"occupied_debounce_ms"`
	VacantDebounceMs       int `mapstructure:"vacant_debounce_ms"`
	PollIntervalMs         int `mapstructure:"poll_interval_ms"`
	MaxRetries             int `mapstructure:"max_retries"`
	RetryBackoffMs         int `mapstructure:"retry_backoff_ms"`
	MaxBackoffMs           int `mapstructure:"max_backoff_ms"`
	CallTimeoutMs          int `mapstructure:"call_timeout_ms"`
	ConfirmAttempts        int `mapstructure:"confirm_attempts"`
	ConfirmIntervalMs      int `mapstructure:"confirm_interval_ms"`
	FailureThreshold       int `mapstructure:"failure_threshold"`
	MaxReconcileAttempts   int `mapstructure:"max_reconcile_attempts"`
	DegradedPollIntervalMs int `mapstructure:"degraded_poll_interval_ms"`
	HeartbeatMs            int `mapstructure:"heartbeat_ms"`

	LogLevel   string `mapstructure:"log_level"`
	HTTPAddr   string `mapstructure:"http_addr"`
	StorePath  string `mapstructure:"store_path"`
	StoreLimit int    `mapstructure:"store_limit"`

	MQTT       MQTT        `mapstructure:"mqtt"`
	Components []Component `mapstructure:"components"`
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// Controller converts the tunables into controller settings.
func (c Config) Controller() controller.Config {
	return controller.Config{
		Windows: logic.Windows{
			Occupied: ms(c.OccupiedDebounceMs),
			Vacant:   ms(c.VacantDebounceMs),
		},
		PollInterval:         ms(c.PollIntervalMs),
		DegradedPollInterval: ms(c.DegradedPollIntervalMs),
		CallTimeout:          ms(c.CallTimeoutMs),
		MaxRetries:           c.MaxRetries,
		RetryBackoff:         ms(c.RetryBackoffMs),
		MaxBackoff:           ms(c.MaxBackoffMs),
		ConfirmAttempts:      c.ConfirmAttempts,
		ConfirmInterval:      ms(c.ConfirmIntervalMs),
		FailureThreshold:     c.FailureThreshold,
		MaxReconcileAttempts: c.MaxReconcileAttempts,
		Heartbeat:            ms(c.HeartbeatMs),
	}
}

// Component looks up a component by name.
func (c Config) Component(name string) (Component, bool) {
	for _, comp := range c.Components {
		if comp.Name == name {
			return comp, true
		}
	}
	return Component{}, false
}

// Validate reports the first configuration error.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Sensor) == "" {
		return ErrMissingSensor
	}
	if strings.TrimSpace(c.Kasa) == "" {
		return ErrMissingKasa
	}
	if err := c.Controller().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.StorePath != "" && c.StoreLimit < 1 {
		return errors.New("config: store_limit must be positive when store_path is set")
	}

	seen := make(map[string]bool)
	for i, comp := range c.Components {
		if comp.Name == "" {
			return fmt.Errorf("config: component %d has no name", i)
		}
		if seen[comp.Name] {
			return fmt.Errorf("config: duplicate component %q", comp.Name)
		}
		seen[comp.Name] = true

		switch comp.Type {
		case TypeGPIO, TypeSimSensor, TypeSimSwitch:
		case TypeMQTTSensor, TypeMQTTSwitch:
			if comp.Topic == "" {
				return fmt.Errorf("config: component %q needs a topic", comp.Name)
			}
		default:
			return fmt.Errorf("config: component %q has unknown type %q", comp.Name, comp.Type)
		}
	}
	return nil
}

// Loader reads configuration through viper.
type Loader struct {
	v        *viper.Viper
	explicit bool
	logger   zerolog.Logger
}

// NewLoader prepares a loader. An empty path searches the default
// locations for presence-switch.{yaml,json,toml}.
func NewLoader(path string, logger zerolog.Logger) *Loader {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("presence-switch")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/presence-switch")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, explicit: path != "", logger: logger}
}

func setDefaults(v *viper.Viper) {
	d := controller.DefaultConfig()
	v.SetDefault("sensor", "")
	v.SetDefault("kasa", "")
	v.SetDefault("auto_start", true)
	v.SetDefault("occupied_debounce_ms", d.Windows.Occupied.Milliseconds())
	v.SetDefault("vacant_debounce_ms", d.Windows.Vacant.Milliseconds())
	v.SetDefault("poll_interval_ms", d.PollInterval.Milliseconds())
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("retry_backoff_ms", d.RetryBackoff.Milliseconds())
	v.SetDefault("max_backoff_ms", d.MaxBackoff.Milliseconds())
	v.SetDefault("call_timeout_ms", d.CallTimeout.Milliseconds())
	v.SetDefault("confirm_attempts", d.ConfirmAttempts)
	v.SetDefault("confirm_interval_ms", d.ConfirmInterval.Milliseconds())
	v.SetDefault("failure_threshold", d.FailureThreshold)
	v.SetDefault("max_reconcile_attempts", d.MaxReconcileAttempts)
	v.SetDefault("degraded_poll_interval_ms", d.DegradedPollInterval.Milliseconds())
	v.SetDefault("heartbeat_ms", d.Heartbeat.Milliseconds())
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("store_path", "")
	v.SetDefault("store_limit", 1000)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "presence-switch")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "home/presence-switch")
	v.SetDefault("components", []map[string]any{})
}

// Load reads the file (if any), applies environment overrides and
// validates the result. A missing file is only an error when it was
// named explicitly.
func (l *Loader) Load() (Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.explicit || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
		l.logger.Warn().Msg("no config file found, using defaults and environment")
	} else {
		l.logger.Info().Str("file", l.v.ConfigFileUsed()).Msg("config loaded")
	}
	return l.decode()
}

func (l *Loader) decode() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// File returns the config file in use, empty if none.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Watch calls fn with every valid configuration written to the file.
// Invalid edits are logged and ignored.
func (l *Loader) Watch(fn func(Config)) {
	if l.File() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.changed(e, fn)
	})
	l.v.WatchConfig()
}

func (l *Loader) changed(e fsnotify.Event, fn func(Config)) {
	l.logger.Info().Str("file", e.Name).Str("op", e.Op.String()).Msg("config file changed")
	cfg, err := l.decode()
	if err != nil {
		l.logger.Warn().Err(err).Msg("ignoring invalid config change")
		return
	}
	fn(cfg)
}
