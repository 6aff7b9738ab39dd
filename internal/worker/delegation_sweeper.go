package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DelegationSweep is the slice of the delegation service the sweeper drives.
type DelegationSweep interface {
	ExpireDue(ctx context.Context) (int, error)
}

// DelegationSweeper deactivates delegations that have passed their expiry,
// so borrowed approval authority never outlives its window.
type DelegationSweeper struct {
	svc      DelegationSweep
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
}

// NewDelegationSweeper creates a new delegation sweeper
func NewDelegationSweeper(svc DelegationSweep, interval time.Duration, logger *zap.Logger) *DelegationSweeper {
	return &DelegationSweeper{
		svc:      svc,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the sweep loop
func (s *DelegationSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("delegation sweeper is already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.isRunning = true

	s.logger.Info("delegation sweeper started", zap.Duration("interval", s.interval))
	go s.loop(ctx)
	return nil
}

// Stop halts the sweep loop
func (s *DelegationSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	s.isRunning = false
	s.cancel()
}

// Name returns the worker name for identification
func (s *DelegationSweeper) Name() string {
	return "DelegationSweeper"
}

func (s *DelegationSweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *DelegationSweeper) sweep(ctx context.Context) {
	expired, err := s.svc.ExpireDue(ctx)
	if err != nil {
		s.logger.Error("delegation sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		s.logger.Info("expired delegations", zap.Int("count", expired))
	}
}
