package vaccination_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/vaccine-stock/stock"
	"github.com/warp/vaccine-stock/store/memory"
	"github.com/warp/vaccine-stock/vaccination"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	today = stock.NewDate(2025, time.June, 2)
	clock = stock.FixedClock(today.Time.Add(8 * time.Hour))

	district = stock.NewScope(stock.ScopeDistrict, "d1")
	center   = stock.NewScope(stock.ScopeHealthCenter, "hc1")
)

const (
	opv stock.VaccineID = "opv"
	hpv stock.VaccineID = "hpv"

	boy  vaccination.ChildID = "child-boy"
	girl vaccination.ChildID = "child-girl"
)

func day(n int) stock.Date { return today.AddDays(n) }

type fixture struct {
	ctx     context.Context
	store   *memory.Memory
	ledger  *stock.Ledger
	service *vaccination.Service
	events  *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	require.NoError(t, store.SaveVaccine(ctx, stock.Vaccine{ID: opv, Name: "Oral Polio", RequiredDoseCount: 4, GenderRestriction: stock.GenderAny}))
	require.NoError(t, store.SaveVaccine(ctx, stock.Vaccine{ID: hpv, Name: "HPV", RequiredDoseCount: 2, GenderRestriction: stock.GenderFemaleOnly}))
	require.NoError(t, store.SaveScope(ctx, stock.ScopeNode{Scope: district, Name: "Ikeja"}))
	require.NoError(t, store.SaveScope(ctx, stock.ScopeNode{Scope: center, Parent: &district, Name: "Ikeja PHC"}))

	require.NoError(t, store.SaveChild(ctx, vaccination.Child{
		ID: boy, Name: "Tunde", Gender: vaccination.GenderMale, BirthDate: day(-90), HealthCenter: center,
	}))
	require.NoError(t, store.SaveChild(ctx, vaccination.Child{
		ID: girl, Name: "Ada", Gender: vaccination.GenderFemale, BirthDate: day(-4000), HealthCenter: center,
	}))

	events := &recorder{}
	reservations := stock.NewReservationManager(store, clock, events, nil)
	service := vaccination.NewService(store, reservations, clock, events, nil)
	service.Retry.Backoff = 0

	return &fixture{
		ctx:     ctx,
		store:   store,
		ledger:  stock.NewLedger(store, clock),
		service: service,
		events:  events,
	}
}

func (f *fixture) addLot(t *testing.T, vaccineID stock.VaccineID, quantity int64, expiresIn int) *stock.Lot {
	t.Helper()
	lot, err := f.ledger.AddFresh(f.ctx, vaccineID, center, quantity, day(expiresIn))
	require.NoError(t, err)
	return lot
}

func (f *fixture) schedule(t *testing.T, child vaccination.ChildID, vaccineID stock.VaccineID, date stock.Date) *vaccination.ScheduledVaccination {
	t.Helper()
	appt, err := f.service.Schedule(f.ctx, vaccination.ScheduleRequest{
		ChildID: child, VaccineID: vaccineID, Date: date, PlannerID: "nurse-1",
	})
	require.NoError(t, err)
	return appt
}

func (f *fixture) dose(t *testing.T, id stock.AppointmentID) int {
	t.Helper()
	appt, err := f.store.GetScheduled(f.ctx, id)
	require.NoError(t, err)
	return appt.Dose
}

func (f *fixture) child(t *testing.T, id vaccination.ChildID) *vaccination.Child {
	t.Helper()
	c, err := f.store.GetChild(f.ctx, id)
	require.NoError(t, err)
	return c
}

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
