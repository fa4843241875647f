package controller

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Service starts and stops a Controller's loop on demand, for the HTTP
// control endpoints and auto_start.
type Service struct {
	ctrl   *Controller
	base   context.Context
	logger zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService wraps ctrl. Loops started by the service end when base does.
func NewService(base context.Context, ctrl *Controller, logger zerolog.Logger) *Service {
	return &Service{ctrl: ctrl, base: base, logger: logger}
}

// Start launches the loop. It returns false if it is already running.
func (s *Service) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(s.base)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		if err := s.ctrl.Run(ctx); err != nil {
			s.logger.Error().Err(err).Msg("control loop exited")
		}
		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		cancel()
	}()
	s.logger.Info().Msg("controller started")
	return true
}

// Stop cancels the loop and waits for it to exit. It returns false if
// the loop was not running.
func (s *Service) Stop() bool {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done
	s.logger.Info().Msg("controller stopped")
	return true
}

// Running reports whether the loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Reconfigure forwards new tunables to the controller.
func (s *Service) Reconfigure(cfg Config) error {
	return s.ctrl.Reconfigure(cfg)
}
