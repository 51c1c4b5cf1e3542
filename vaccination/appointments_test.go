package vaccination_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vaccine-stock/stock"
	"github.com/warp/vaccine-stock/vaccination"
)

// =============================================================================
// SCHEDULE
// =============================================================================

func TestSchedule_ReservesDoseAndSetsPointer(t *testing.T) {
	f := newFixture(t)
	lot := f.addLot(t, opv, 5, 60)

	appt := f.schedule(t, boy, opv, day(7))

	assert.Equal(t, 1, appt.Dose)
	assert.Equal(t, center, appt.Scope)

	rows, err := f.store.ListReservations(f.ctx, appt.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, lot.ID, rows[0].LotID)

	got, err := f.store.GetLot(f.ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.HeldQuantity)

	child := f.child(t, boy)
	require.NotNil(t, child.NextAppointment)
	assert.Equal(t, appt.ID, child.NextAppointment.AppointmentID)

	scheduled := f.events.ofType(stock.EventDoseScheduled)
	require.Len(t, scheduled, 1)
	assert.Equal(t, "Oral Polio", scheduled[0].VaccineName)
	assert.Equal(t, "Ikeja PHC", scheduled[0].ScopeName)
	assert.Equal(t, "1", scheduled[0].Attributes["dose"])
}

func TestSchedule_InsufficientStock_RollsBackEverything(t *testing.T) {
	// GIVEN: The only lot expires before the appointment date
	// WHEN: Scheduling
	// THEN: InsufficientStock, and no appointment, reservation or pointer exists

	f := newFixture(t)
	f.addLot(t, opv, 5, 3)

	_, err := f.service.Schedule(f.ctx, vaccination.ScheduleRequest{ChildID: boy, VaccineID: opv, Date: day(7)})

	var insufficient *stock.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.NotEmpty(t, insufficient.Message)

	appts, err := f.service.Appointments(f.ctx, vaccination.ScheduleFilter{ChildID: boy})
	require.NoError(t, err)
	assert.Empty(t, appts)
	assert.Nil(t, f.child(t, boy).NextAppointment)
	assert.Empty(t, f.events.ofType(stock.EventDoseScheduled))
}

func TestSchedule_GenderMismatch_TouchesNoStock(t *testing.T) {
	f := newFixture(t)
	lot := f.addLot(t, hpv, 5, 60)

	_, err := f.service.Schedule(f.ctx, vaccination.ScheduleRequest{ChildID: boy, VaccineID: hpv, Date: day(7)})

	assert.ErrorIs(t, err, vaccination.ErrVaccineGenderMismatch)
	got, err := f.store.GetLot(f.ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.RemainingQuantity)

	appt := f.schedule(t, girl, hpv, day(7))
	assert.Equal(t, 1, appt.Dose)
}

func TestSchedule_DoseCapEnforced(t *testing.T) {
	f := newFixture(t)
	f.addLot(t, hpv, 5, 60)
	f.schedule(t, girl, hpv, day(7))
	f.schedule(t, girl, hpv, day(30))

	_, err := f.service.Schedule(f.ctx, vaccination.ScheduleRequest{ChildID: girl, VaccineID: hpv, Date: day(40)})
	assert.ErrorIs(t, err, vaccination.ErrInvalidDose)
}

func TestSchedule_PastDateRejected(t *testing.T) {
	f := newFixture(t)
	f.addLot(t, opv, 5, 60)

	_, err := f.service.Schedule(f.ctx, vaccination.ScheduleRequest{ChildID: boy, VaccineID: opv, Date: day(-1)})
	assert.ErrorIs(t, err, vaccination.ErrInvalidAppointmentDate)
}

func TestSchedule_ConsumesMatchingCalendarBucket(t *testing.T) {
	f := newFixture(t)
	f.addLot(t, opv, 5, 60)
	require.NoError(t, f.store.SaveBucketEntry(f.ctx, vaccination.TimelineEntry{
		Kind: vaccination.KindDue, ChildID: boy, VaccineID: opv, CalendarID: "6-weeks", Dose: 1, Date: day(2),
	}))

	appt, err := f.service.Schedule(f.ctx, vaccination.ScheduleRequest{
		ChildID: boy, VaccineID: opv, CalendarID: "6-weeks", Date: day(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, appt.Dose)

	timeline, err := f.service.Timeline(f.ctx, boy, opv)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.Equal(t, vaccination.KindScheduled, timeline[0].Kind)
}

// =============================================================================
// RESEQUENCING - Out-of-order insert renumbers scheduled doses
// =============================================================================

func TestResequence_InsertBeforeExistingAppointments(t *testing.T) {
	// GIVEN: Dose 1 completed; appointments at D1 (dose 2) and D2 (dose 3)
	// WHEN: A new appointment is booked at D0 < D1
	// THEN: D0 -> 2, D1 -> 3, D2 -> 4; the completed dose is untouched

	f := newFixture(t)
	f.addLot(t, opv, 10, 120)

	first := f.schedule(t, boy, opv, day(0))
	done, err := f.service.Complete(f.ctx, first.ID, "nurse-1")
	require.NoError(t, err)
	require.Equal(t, 1, done.Dose)

	d1 := f.schedule(t, boy, opv, day(30))
	d2 := f.schedule(t, boy, opv, day(60))
	require.Equal(t, 2, d1.Dose)
	require.Equal(t, 3, d2.Dose)

	d0 := f.schedule(t, boy, opv, day(10))

	assert.Equal(t, 2, d0.Dose)
	assert.Equal(t, 3, f.dose(t, d1.ID))
	assert.Equal(t, 4, f.dose(t, d2.ID))

	completed, err := f.store.ListCompleted(f.ctx, boy, opv)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, 1, completed[0].Dose)

	assert.Equal(t, d0.ID, f.child(t, boy).NextAppointment.AppointmentID)
}

// =============================================================================
// CANCEL / COMPLETE / RESCHEDULE
// =============================================================================

func TestCancel_ReleasesAndRenumbers(t *testing.T) {
	f := newFixture(t)
	lot := f.addLot(t, opv, 5, 120)
	a := f.schedule(t, boy, opv, day(10))
	b := f.schedule(t, boy, opv, day(40))
	require.Equal(t, 2, b.Dose)

	require.NoError(t, f.service.Cancel(f.ctx, a.ID, "nurse-1", "family travelling"))

	assert.Equal(t, 1, f.dose(t, b.ID), "remaining appointment moves up to dose 1")
	got, err := f.store.GetLot(f.ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.RemainingQuantity)
	assert.Equal(t, int64(1), got.HeldQuantity)
	assert.Equal(t, b.ID, f.child(t, boy).NextAppointment.AppointmentID)

	cancelled := f.events.ofType(stock.EventAppointmentCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "family travelling", cancelled[0].Attributes["reason"])

	// Cancelling again, or an unknown appointment, is a no-op.
	require.NoError(t, f.service.Cancel(f.ctx, a.ID, "nurse-1", ""))
	require.NoError(t, f.service.Cancel(f.ctx, "missing", "nurse-1", ""))
	assert.Len(t, f.events.ofType(stock.EventAppointmentCancelled), 1)
}

func TestCancel_LastAppointment_ClearsPointer(t *testing.T) {
	f := newFixture(t)
	f.addLot(t, opv, 5, 120)
	a := f.schedule(t, boy, opv, day(10))

	require.NoError(t, f.service.Cancel(f.ctx, a.ID, "nurse-1", ""))

	assert.Nil(t, f.child(t, boy).NextAppointment)
}

func TestComplete_ConsumesReservation(t *testing.T) {
	f := newFixture(t)
	lot := f.addLot(t, opv, 5, 120)
	a := f.schedule(t, boy, opv, day(0))

	done, err := f.service.Complete(f.ctx, a.ID, "nurse-7")
	require.NoError(t, err)

	assert.Equal(t, "nurse-7", done.AdministeredBy)
	got, err := f.store.GetLot(f.ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.HeldQuantity)
	assert.Equal(t, int64(1), got.DistributedQuantity)

	_, err = f.store.GetScheduled(f.ctx, a.ID)
	assert.ErrorIs(t, err, vaccination.ErrAppointmentNotFound)

	_, err = f.service.Complete(f.ctx, a.ID, "nurse-7")
	assert.ErrorIs(t, err, vaccination.ErrAppointmentNotFound)
	assert.Len(t, f.events.ofType(stock.EventDoseAdministered), 1)
}

func TestReschedule_RebooksWhenHeldLotWouldExpire(t *testing.T) {
	// GIVEN: An appointment holding a dose from a lot expiring in 20 days
	// WHEN: Moving the appointment to day 25
	// THEN: The hold moves to a lot still valid on day 25

	f := newFixture(t)
	short := f.addLot(t, opv, 5, 20)
	long := f.addLot(t, opv, 5, 90)
	a := f.schedule(t, boy, opv, day(10))

	moved, err := f.service.Reschedule(f.ctx, a.ID, day(25), "nurse-1")
	require.NoError(t, err)
	assert.True(t, moved.ScheduledFor.Equal(day(25)))

	rows, err := f.store.ListReservations(f.ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, long.ID, rows[0].LotID)

	s, err := f.store.GetLot(f.ctx, short.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.HeldQuantity)
	assert.Equal(t, int64(5), s.RemainingQuantity)
}

func TestReschedule_KeepsHoldWhenLotStillValid(t *testing.T) {
	f := newFixture(t)
	lot := f.addLot(t, opv, 5, 90)
	a := f.schedule(t, boy, opv, day(10))
	b := f.schedule(t, boy, opv, day(20))

	_, err := f.service.Reschedule(f.ctx, a.ID, day(30), "nurse-1")
	require.NoError(t, err)

	rows, err := f.store.ListReservations(f.ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, lot.ID, rows[0].LotID)

	assert.Equal(t, 1, f.dose(t, b.ID), "b is now first")
	assert.Equal(t, 2, f.dose(t, a.ID))
}

func TestReschedule_NoStockForNewDate_KeepsOriginal(t *testing.T) {
	f := newFixture(t)
	f.addLot(t, opv, 5, 20)
	a := f.schedule(t, boy, opv, day(10))

	_, err := f.service.Reschedule(f.ctx, a.ID, day(25), "nurse-1")
	assert.ErrorIs(t, err, stock.ErrInsufficientStock)

	got, err := f.store.GetScheduled(f.ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.ScheduledFor.Equal(day(10)), "rolled back")
}
