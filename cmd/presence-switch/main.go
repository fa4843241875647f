// Command presence-switch turns a smart switch on and off from an mmWave
// presence sensor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/presence-switch/internal/config"
	"github.com/sweeney/presence-switch/internal/controller"
	"github.com/sweeney/presence-switch/internal/device"
	"github.com/sweeney/presence-switch/internal/logging"
	"github.com/sweeney/presence-switch/internal/mqtt"
	"github.com/sweeney/presence-switch/internal/registry"
	"github.com/sweeney/presence-switch/internal/status"
	"github.com/sweeney/presence-switch/internal/store"
	"github.com/sweeney/presence-switch/internal/web"
)

const (
	eventBufferSize     = 100
	eventQueueSize      = 256
	connectionCheck     = 5 * time.Second
	httpShutdownTimeout = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "", "Config file (default: search ., ./config, /etc/presence-switch)")
	printState := flag.Bool("print-state", false, "Print current sensor and switch state and exit")
	flag.Parse()

	logger := logging.New("info", os.Stderr)
	if err := run(*configPath, *printState, logger); err != nil {
		logger.Fatal().Err(err).Msg("fatal")
	}
}

func run(configPath string, printState bool, logger zerolog.Logger) error {
	loader := config.NewLoader(configPath, logging.For(logger, "config"))
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	logging.SetLevel(cfg.LogLevel)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if printState {
		return a.printState(context.Background(), os.Stdout)
	}

	loader.Watch(a.applyConfig)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return a.serve(context.Background(), sigCh)
}

// app holds the wired components for one process lifetime.
type app struct {
	cfg    config.Config
	logger zerolog.Logger

	tracker   *status.Tracker
	conn      *mqtt.Conn
	publisher *mqtt.EventPublisher
	journal   *store.Journal
	async     *controller.AsyncSink
	reg       *registry.Registry

	source   device.PresenceSource
	actuator device.Actuator
	ctrl     *controller.Controller
}

func displayConfig(cfg config.Config) status.Config {
	return status.ConfigFrom(cfg.Sensor, cfg.Kasa, cfg.MQTT.Broker, cfg.HTTPAddr, cfg.Controller())
}

func newApp(cfg config.Config, logger zerolog.Logger) (_ *app, err error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		tracker: status.NewTracker(time.Now(), displayConfig(cfg)),
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if cfg.MQTT.Broker != "" {
		a.conn, err = mqtt.Connect(mqtt.Options{
			Broker:    cfg.MQTT.Broker,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			WillTopic: cfg.MQTT.TopicPrefix + mqtt.SystemSuffix,
		}, logging.For(logger, "mqtt"))
		if err != nil {
			return nil, fmt.Errorf("init mqtt: %w", err)
		}
		a.publisher = mqtt.NewEventPublisher(a.conn, cfg.MQTT.TopicPrefix, eventBufferSize, logging.For(logger, "publisher"))
		a.tracker.SetMQTTConnected(a.conn.IsConnected())
	}

	if cfg.StorePath != "" {
		a.journal, err = store.Open(cfg.StorePath, cfg.StoreLimit, logging.For(logger, "journal"))
		if err != nil {
			return nil, fmt.Errorf("init journal: %w", err)
		}
	}

	a.reg = registry.New(cfg, a.conn, logging.For(logger, "registry"))
	if a.source, err = a.reg.Source(cfg.Sensor); err != nil {
		return nil, fmt.Errorf("resolve sensor: %w", err)
	}
	if a.actuator, err = a.reg.Actuator(cfg.Kasa); err != nil {
		return nil, fmt.Errorf("resolve kasa: %w", err)
	}

	var slow controller.MultiSink
	if a.publisher != nil {
		slow = append(slow, a.publisher)
	}
	if a.journal != nil {
		slow = append(slow, a.journal)
	}
	if len(slow) > 0 {
		a.async = controller.NewAsyncSink(slow, eventQueueSize, logging.For(logger, "events"))
	}

	a.ctrl, err = controller.New(a.source, a.actuator, cfg.Controller(),
		controller.WithLogger(logging.For(logger, "controller")),
		controller.WithSink(a.sinks()),
		controller.WithObserver(a.tracker),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// sinks lists the configured event destinations. The journal and the
// broker sit behind the async queue; typed nils are left out.
func (a *app) sinks() controller.MultiSink {
	sinks := controller.MultiSink{controller.LogSink{Logger: logging.For(a.logger, "events")}}
	if a.async != nil {
		sinks = append(sinks, a.async)
	}
	return sinks
}

func (a *app) eventLog() web.EventLog {
	if a.journal == nil {
		return nil
	}
	return a.journal
}

func (a *app) close() {
	if a.reg != nil {
		if err := a.reg.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close components")
		}
	}
	if a.async != nil {
		a.async.Close()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close journal")
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close mqtt")
		}
	}
}

// serve runs until a signal arrives or the HTTP server fails.
func (a *app) serve(ctx context.Context, sig <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	svc := controller.NewService(ctx, a.ctrl, logging.For(a.logger, "service"))

	a.publishSystem("STARTUP", "")
	if a.cfg.AutoStart {
		svc.Start()
	}
	a.tracker.SetRunning(svc.Running())

	if a.cfg.HTTPAddr != "" {
		srv := web.New(a.cfg.HTTPAddr, a.tracker, svc, a.eventLog(), logging.For(a.logger, "http"))
		g.Go(func() error {
			a.logger.Info().Str("addr", a.cfg.HTTPAddr).Msg("http status server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	if a.conn != nil {
		g.Go(func() error {
			a.watchConnection(ctx)
			return nil
		})
	}

	a.logger.Info().
		Str("sensor", a.cfg.Sensor).
		Str("kasa", a.cfg.Kasa).
		Bool("auto_start", a.cfg.AutoStart).
		Msg("started")

	reason := ""
	select {
	case s := <-sig:
		reason = signalName(s)
		a.logger.Info().Str("signal", reason).Msg("shutting down")
	case <-ctx.Done():
	}

	svc.Stop()
	a.tracker.SetRunning(false)
	a.publishSystem("SHUTDOWN", reason)
	cancel()
	return g.Wait()
}

func (a *app) watchConnection(ctx context.Context) {
	ticker := time.NewTicker(connectionCheck)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tracker.SetMQTTConnected(a.conn.IsConnected())
		}
	}
}

func (a *app) publishSystem(event, reason string) {
	if a.publisher == nil {
		return
	}
	a.tracker.SetMQTTConnected(a.conn.IsConnected())
	snap := a.tracker.Snapshot()
	err := a.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		a.logger.Warn().Err(err).Str("event", event).Msg("failed to publish system event")
		return
	}
	a.logger.Info().Str("event", event).Msg("published system event")
}

// applyConfig is called for every valid change to the config file.
// Component wiring is fixed for the process lifetime.
func (a *app) applyConfig(cfg config.Config) {
	level := logging.SetLevel(cfg.LogLevel)
	if cfg.Sensor != a.cfg.Sensor || cfg.Kasa != a.cfg.Kasa {
		a.logger.Warn().Msg("sensor or kasa changed, restart to apply")
	}
	if err := a.ctrl.Reconfigure(cfg.Controller()); err != nil {
		a.logger.Warn().Err(err).Msg("reconfigure rejected")
		return
	}
	a.tracker.SetConfig(displayConfig(cfg))
	a.logger.Info().Str("log_level", level.String()).Msg("config reloaded")
}

func (a *app) printState(ctx context.Context, w io.Writer) error {
	timeout := a.cfg.Controller().CallTimeout
	sample, err := device.GuardSource(a.source, timeout).Sample(ctx)
	occupancy, detail := "UNKNOWN", ""
	switch {
	case err != nil:
		detail = err.Error()
	case sample.Occupied:
		occupancy, detail = "OCCUPIED", sample.Detail
	default:
		occupancy, detail = "VACANT", sample.Detail
	}
	sw := device.GuardActuator(a.actuator, timeout).GetState(ctx)
	_, werr := fmt.Fprintf(w, "Sensor %s: %s (%s), Switch %s: %s\n", a.cfg.Sensor, occupancy, detail, a.cfg.Kasa, sw)
	return werr
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
