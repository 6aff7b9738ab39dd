package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimeoutSweep is the slice of the approval service the sweeper drives.
type TimeoutSweep interface {
	SweepTimeouts(ctx context.Context) (int, error)
}

// TimeoutSweeper expires pending override requests whose tier deadline has
// passed. It is the authoritative timeout mechanism; countdowns shown on
// terminals are cosmetic.
type TimeoutSweeper struct {
	svc      TimeoutSweep
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
}

// NewTimeoutSweeper creates a new timeout sweeper
func NewTimeoutSweeper(svc TimeoutSweep, interval time.Duration, logger *zap.Logger) *TimeoutSweeper {
	return &TimeoutSweeper{
		svc:      svc,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the sweep loop
func (s *TimeoutSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("timeout sweeper is already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.isRunning = true

	s.logger.Info("timeout sweeper started", zap.Duration("interval", s.interval))
	go s.loop(ctx)
	return nil
}

// Stop halts the sweep loop
func (s *TimeoutSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	s.isRunning = false
	s.cancel()
}

// Name returns the worker name for identification
func (s *TimeoutSweeper) Name() string {
	return "TimeoutSweeper"
}

func (s *TimeoutSweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Sweep immediately on start so a restart never extends a deadline.
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

func (s *TimeoutSweeper) sweep(ctx context.Context) {
	expired, err := s.svc.SweepTimeouts(ctx)
	if err != nil {
		s.logger.Error("timeout sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		s.logger.Info("timed out pending requests", zap.Int("count", expired))
	}
}
