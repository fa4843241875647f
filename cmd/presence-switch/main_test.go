package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/presence-switch/internal/config"
	"github.com/sweeney/presence-switch/internal/controller"
	"github.com/sweeney/presence-switch/internal/device"
	"github.com/sweeney/presence-switch/internal/store"
)

func testConfig(t *testing.T, occupied bool) config.Config {
	t.Helper()
	return config.Config{
		Sensor:                 "bench",
		Kasa:                   "lamp",
		AutoStart:              true,
		OccupiedDebounceMs:     0,
		VacantDebounceMs:       0,
		PollIntervalMs:         10,
		MaxRetries:             1,
		RetryBackoffMs:         10,
		MaxBackoffMs:           10,
		CallTimeoutMs:          1000,
		ConfirmAttempts:        3,
		ConfirmIntervalMs:      5,
		FailureThreshold:       3,
		MaxReconcileAttempts:   3,
		DegradedPollIntervalMs: 100,
		LogLevel:               "error",
		StorePath:              filepath.Join(t.TempDir(), "events.db"),
		StoreLimit:             100,
		Components: []config.Component{
			{Name: "bench", Type: config.TypeSimSensor, Occupied: occupied},
			{Name: "lamp", Type: config.TypeSimSwitch, Initial: "off"},
		},
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v) = %q, want %q", tt.sig, got, tt.want)
		}
	}
}

func TestNewAppResolveErrors(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Kasa = "bench"
	if _, err := newApp(cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error when kasa names a sensor")
	}

	cfg = testConfig(t, false)
	cfg.Sensor = "missing"
	if _, err := newApp(cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown sensor")
	}
}

func TestSinksSkipDisabledOutputs(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.StorePath = ""
	a, err := newApp(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	if got := len(a.sinks()); got != 1 {
		t.Errorf("sinks = %d, want 1 (log only)", got)
	}
	if a.eventLog() != nil {
		t.Error("eventLog should be a nil interface without a journal")
	}
}

func TestPrintState(t *testing.T) {
	a, err := newApp(testConfig(t, true), zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	var buf bytes.Buffer
	if err := a.printState(context.Background(), &buf); err != nil {
		t.Fatalf("printState: %v", err)
	}
	want := "Sensor bench: OCCUPIED (fake), Switch lamp: OFF\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestServeDrivesSwitchAndJournals(t *testing.T) {
	cfg := testConfig(t, true)
	a, err := newApp(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}

	sig := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- a.serve(context.Background(), sig) }()

	deadline := time.Now().Add(5 * time.Second)
	for a.actuator.GetState(context.Background()) != device.On {
		if time.Now().After(deadline) {
			t.Fatal("switch never turned on")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sig <- syscall.SIGTERM
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after SIGTERM")
	}
	if a.tracker.Snapshot().Running {
		t.Error("tracker still reports running after shutdown")
	}
	a.close()

	j, err := store.Open(cfg.StorePath, cfg.StoreLimit, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer j.Close()
	records, err := j.Recent(100)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	var seen []string
	for _, r := range records {
		seen = append(seen, string(r.Event.Type))
	}
	joined := strings.Join(seen, ",")
	for _, want := range []controller.EventType{controller.EventStableTransition, controller.EventCommandConfirmed} {
		if !strings.Contains(joined, string(want)) {
			t.Errorf("journal missing %s, got %s", want, joined)
		}
	}
}

func TestServeWithoutAutoStart(t *testing.T) {
	cfg := testConfig(t, true)
	cfg.AutoStart = false
	a, err := newApp(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	sig := make(chan os.Signal, 1)
	sig <- syscall.SIGINT
	if err := a.serve(context.Background(), sig); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if got := a.actuator.GetState(context.Background()); got != device.Off {
		t.Errorf("switch = %s, want OFF when not started", got)
	}
}

func TestApplyConfig(t *testing.T) {
	cfg := testConfig(t, false)
	a, err := newApp(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	next := cfg
	next.VacantDebounceMs = 30000
	a.applyConfig(next)
	if got := a.tracker.Snapshot().Config.VacantDebounceMs; got != 30000 {
		t.Errorf("tracker vacant debounce = %d, want 30000", got)
	}

	bad := cfg
	bad.PollIntervalMs = 0
	a.applyConfig(bad)
	if got := a.tracker.Snapshot().Config.VacantDebounceMs; got != 30000 {
		t.Errorf("invalid config should not replace tracker config, got %d", got)
	}
}

func TestJournalBehindAsyncQueue(t *testing.T) {
	a, err := newApp(testConfig(t, false), zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	if a.async == nil {
		t.Fatal("expected an async queue in front of the journal")
	}
	sinks := a.sinks()
	if len(sinks) != 2 || sinks[1] != controller.Sink(a.async) {
		t.Errorf("sinks = %#v, want log sink then async queue", sinks)
	}
}
