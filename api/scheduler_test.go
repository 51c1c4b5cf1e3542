package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/vaccine-stock/stock"
	"github.com/warp/vaccine-stock/store/memory"
)

type countingSweeper struct {
	mu    sync.Mutex
	calls int
	n     int
	err   error
}

func (c *countingSweeper) SweepExpired(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.n, c.err
}

func (c *countingSweeper) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type sweepRecorder struct {
	mu      sync.Mutex
	expired []int
	errs    []error
}

func (r *sweepRecorder) ObserveSweep(expired int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired = append(r.expired, expired)
	r.errs = append(r.errs, err)
}

func TestExpirySweeper_RunsImmediatelyAndOnTicks(t *testing.T) {
	// GIVEN: A sweeper with a short interval
	sweeper := &countingSweeper{n: 2}
	obs := &sweepRecorder{}
	s := NewExpirySweeper(sweeper, zaptest.NewLogger(t))
	s.Interval = 10 * time.Millisecond
	s.Observer = obs

	// WHEN: Started for a few ticks
	s.Start()
	require.Eventually(t, func() bool { return sweeper.count() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()

	// THEN: Every run was observed and the last run recorded
	calls := sweeper.count()
	obs.mu.Lock()
	assert.Len(t, obs.expired, calls)
	obs.mu.Unlock()
	assert.False(t, s.LastRun().IsZero())

	// AND: No more sweeps after Stop
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, sweeper.count())
}

func TestExpirySweeper_Disabled(t *testing.T) {
	sweeper := &countingSweeper{}
	s := NewExpirySweeper(sweeper, nil)
	s.Enabled = false

	s.Start()
	s.Stop()

	assert.Zero(t, sweeper.count())
}

func TestExpirySweeper_StartTwiceIsNoop(t *testing.T) {
	sweeper := &countingSweeper{}
	s := NewExpirySweeper(sweeper, nil)
	s.Interval = time.Hour

	s.Start()
	s.Start()
	require.Eventually(t, func() bool { return sweeper.count() == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	assert.Equal(t, 1, sweeper.count())
}

func TestExpirySweeper_RunNowError(t *testing.T) {
	boom := errors.New("disk full")
	obs := &sweepRecorder{}
	s := NewExpirySweeper(&countingSweeper{err: boom}, nil)
	s.Observer = obs

	n, err := s.RunNow()

	assert.ErrorIs(t, err, boom)
	assert.Zero(t, n)
	assert.True(t, s.LastRun().IsZero())
	require.Len(t, obs.errs, 1)
	assert.ErrorIs(t, obs.errs[0], boom)
}

func TestExpirySweeper_OverInventory(t *testing.T) {
	// GIVEN: A lot that expired yesterday, loaded while it was still valid
	h := NewHandler(memory.New(), Options{Clock: stock.FixedClock(testToday.Time)})
	ctx := context.Background()
	require.NoError(t, h.loadFEFOScenario(ctx, 5))

	later := NewHandler(h.Store, Options{Clock: stock.FixedClock(testToday.AddDays(11).Time)})

	// WHEN: Sweeping after the 10-day lot's expiry
	s := NewExpirySweeper(later.Inventory, nil)
	n, err := s.RunNow()

	// THEN: Exactly that lot flipped
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
