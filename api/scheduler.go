/*
scheduler.go - Periodic lot expiry sweeper

PURPOSE:
  Periodically refreshes the stored, display-only status of every lot and
  emits lot.expired notifications for lots that expired with doses still
  on them. Allocation never reads the stored status; it derives validity
  from the expiration date on every call, so a late or skipped sweep only
  delays dashboards and notifications.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Sweeps once immediately on start
  - Each sweep is one retried transaction (stock.Inventory.SweepExpired)
  - Failures are logged and counted; the next tick tries again

CONFIGURATION:
  - Interval: How often to sweep (default: 1 hour, SWEEP_INTERVAL)
  - Enabled:  Whether the sweeper runs (default: true, SWEEP_ENABLED)

USAGE:
  sweeper := NewExpirySweeper(handler.Inventory, log)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - stock/inventory.go: SweepExpired
  - handlers.go: RunSweep endpoint (manual sweep)
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper refreshes stored lot statuses.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// SweepObserver records sweep outcomes. observability.Metrics implements it.
type SweepObserver interface {
	ObserveSweep(expired int, err error)
}

// ExpirySweeper runs a Sweeper on a ticker.
type ExpirySweeper struct {
	Sweeper  Sweeper
	Observer SweepObserver
	Interval time.Duration
	Enabled  bool
	Timeout  time.Duration

	log     *zap.Logger
	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

// NewExpirySweeper creates a new sweeper.
func NewExpirySweeper(sweeper Sweeper, log *zap.Logger) *ExpirySweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExpirySweeper{
		Sweeper:  sweeper,
		Interval: time.Hour,
		Enabled:  true,
		Timeout:  time.Minute,
		log:      log.Named("sweeper"),
	}
}

// Start begins the sweeper.
func (s *ExpirySweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.log.Info("started", zap.Duration("interval", s.Interval))
}

// Stop stops the sweeper and waits for a running sweep to finish.
func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	ticker, stop := s.ticker, s.stop
	s.ticker, s.stop = nil, nil
	s.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	// RunNow takes mu, so wait outside it.
	s.wg.Wait()
	s.log.Info("stopped")
}

func (s *ExpirySweeper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow()

	for {
		select {
		case <-ticker.C:
			s.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep (for testing/admin) and returns the number
// of lots that flipped to expired.
func (s *ExpirySweeper) RunNow() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	started := time.Now()
	n, err := s.Sweeper.SweepExpired(ctx)
	if s.Observer != nil {
		s.Observer.ObserveSweep(n, err)
	}
	if err != nil {
		s.log.Error("sweep failed", zap.Error(err))
		return 0, err
	}

	s.mu.Lock()
	s.lastRun = started
	s.mu.Unlock()

	s.log.Info("sweep complete", zap.Int("expired", n), zap.Duration("took", time.Since(started)))
	return n, nil
}

// LastRun returns when the last successful sweep started.
func (s *ExpirySweeper) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}
