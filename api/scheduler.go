/*
scheduler.go - Periodic deadline alert checks

PURPOSE:
  Periodically scans pending refund cases and raises alerts for cases close
  to their statutory deadline, already expired, or waiting on a requirement
  response that is almost due.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs one pass immediately on start
  - A failed pass is logged and retried on the next tick
  - Case-level failures do not stop the pass (see refund.AlertChecker)

CONFIGURATION:
  - Interval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewAlertScheduler(checker, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunAlerts endpoint (manual pass)
  - refund/alerts.go: AlertChecker
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/refund-tracker/refund"
)

// AlertScheduler runs the alert checker on a ticker.
type AlertScheduler struct {
	Checker  *refund.AlertChecker
	Interval time.Duration
	Enabled  bool
	Logger   *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAlertScheduler creates a new scheduler.
func NewAlertScheduler(checker *refund.AlertChecker, logger *zap.Logger) *AlertScheduler {
	return &AlertScheduler{
		Checker:  checker,
		Interval: time.Hour,
		Enabled:  true,
		Logger:   logger.Named("scheduler"),
	}
}

// Start begins the scheduler. Calling Start twice is a no-op.
func (s *AlertScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)

	go s.run(ctx, s.ticker.C, s.stop)

	s.Logger.Info("started", zap.Duration("interval", s.Interval))
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (s *AlertScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.cancel()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("stopped")
}

func (s *AlertScheduler) run(ctx context.Context, tick <-chan time.Time, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.check(ctx)

	for {
		select {
		case <-tick:
			s.check(ctx)
		case <-stop:
			return
		}
	}
}

func (s *AlertScheduler) check(ctx context.Context) {
	res, err := s.Checker.Run(ctx)
	if err != nil {
		s.Logger.Error("alert pass failed", zap.Error(err))
		return
	}
	if len(res.Alerts) > 0 || res.Failed > 0 || len(res.Skipped) > 0 {
		s.Logger.Info("alert pass completed",
			zap.Int("checked", res.Checked),
			zap.Int("alerts", len(res.Alerts)),
			zap.Int("failed", res.Failed),
			zap.Strings("skipped", res.Skipped),
		)
	}
}
