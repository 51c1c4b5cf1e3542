package stock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/vaccine-stock/stock"
	"github.com/warp/vaccine-stock/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	today = stock.NewDate(2025, time.March, 1)
	clock = stock.FixedClock(today.Time.Add(9 * time.Hour))

	national    = stock.NewScope(stock.ScopeNational, "ng")
	region      = stock.NewScope(stock.ScopeRegional, "r1")
	region2     = stock.NewScope(stock.ScopeRegional, "r2")
	district    = stock.NewScope(stock.ScopeDistrict, "d1")
	district2   = stock.NewScope(stock.ScopeDistrict, "d2")
	farDistrict = stock.NewScope(stock.ScopeDistrict, "d9")
	center      = stock.NewScope(stock.ScopeHealthCenter, "hc1")
)

const bcg stock.VaccineID = "bcg"

func day(n int) stock.Date { return today.AddDays(n) }

type fixture struct {
	ctx    context.Context
	store  *memory.Memory
	ledger *stock.Ledger
	events *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	require.NoError(t, store.SaveVaccine(ctx, stock.Vaccine{
		ID: bcg, Name: "BCG", RequiredDoseCount: 1, GenderRestriction: stock.GenderAny,
	}))

	nodes := []stock.ScopeNode{
		{Scope: national, Name: "Nigeria"},
		{Scope: region, Parent: &national, Name: "Lagos"},
		{Scope: region2, Parent: &national, Name: "Kano"},
		{Scope: district, Parent: &region, Name: "Ikeja"},
		{Scope: district2, Parent: &region, Name: "Epe"},
		{Scope: farDistrict, Parent: &region2, Name: "Dala"},
		{Scope: center, Parent: &district, Name: "Ikeja PHC"},
	}
	for _, n := range nodes {
		require.NoError(t, store.SaveScope(ctx, n))
	}

	return &fixture{
		ctx:    ctx,
		store:  store,
		ledger: stock.NewLedger(store, clock),
		events: &recorder{},
	}
}

func (f *fixture) addLot(t *testing.T, scope stock.Scope, quantity int64, expiresIn int) *stock.Lot {
	t.Helper()
	lot, err := f.ledger.AddFresh(f.ctx, bcg, scope, quantity, day(expiresIn))
	require.NoError(t, err)
	return lot
}

func (f *fixture) lot(t *testing.T, id stock.LotID) *stock.Lot {
	t.Helper()
	lot, err := f.store.GetLot(f.ctx, id)
	require.NoError(t, err)
	require.NoError(t, lot.CheckInvariant())
	return lot
}

func (f *fixture) reservations() *stock.ReservationManager {
	m := stock.NewReservationManager(f.store, clock, f.events, nil)
	m.Retry.Backoff = 0
	return m
}

func (f *fixture) transfers() *stock.TransferWorkflow {
	w := stock.NewTransferWorkflow(f.store, clock, f.events, nil)
	w.Retry.Backoff = 0
	return w
}

// recorder collects delivered events.
type recorder struct {
	mu     sync.Mutex
	events []stock.Event
}

func (r *recorder) Notify(_ context.Context, e stock.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ofType(typ stock.EventType) []stock.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []stock.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// flakyStore makes the first n lot updates lose their version check.
type flakyStore struct {
	*memory.Memory
	conflicts atomic.Int32
}

func newFlakyStore(inner *memory.Memory, conflicts int32) *flakyStore {
	f := &flakyStore{Memory: inner}
	f.conflicts.Store(conflicts)
	return f
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(stock.Store) error) error {
	return f.Memory.WithTx(ctx, func(tx stock.Store) error {
		return fn(&flakyTx{Store: tx, parent: f})
	})
}

type flakyTx struct {
	stock.Store
	parent *flakyStore
}

func (t *flakyTx) UpdateLot(ctx context.Context, lot *stock.Lot) error {
	if t.parent.conflicts.Add(-1) >= 0 {
		return errors.Join(errors.New("simulated race"), stock.ErrConcurrentModification)
	}
	return t.Store.UpdateLot(ctx, lot)
}
