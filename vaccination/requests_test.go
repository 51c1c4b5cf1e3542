package vaccination_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vaccine-stock/stock"
	"github.com/warp/vaccine-stock/vaccination"
)

func TestCreateRequest_ResolvesDoseAndRejectsDuplicates(t *testing.T) {
	f := newFixture(t)

	r, err := f.service.CreateRequest(f.ctx, vaccination.CreateRequestInput{ChildID: boy, VaccineID: opv})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Dose)
	assert.Equal(t, vaccination.RequestPending, r.Status)

	// An auto-resolved second request moves past the pending one.
	next, err := f.service.CreateRequest(f.ctx, vaccination.CreateRequestInput{ChildID: boy, VaccineID: opv})
	require.NoError(t, err)
	assert.Equal(t, 2, next.Dose)

	_, err = f.service.CreateRequest(f.ctx, vaccination.CreateRequestInput{ChildID: boy, VaccineID: opv, Dose: 1})
	var dup *vaccination.DuplicateRequestError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, r.ID, dup.Existing)
	assert.True(t, vaccination.IsClientError(err))
}

func TestCreateRequest_GenderRestricted(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateRequest(f.ctx, vaccination.CreateRequestInput{ChildID: boy, VaccineID: hpv})
	assert.ErrorIs(t, err, vaccination.ErrVaccineGenderMismatch)
}

func TestApproveRequest_SchedulesOnce(t *testing.T) {
	// GIVEN: A pending request and stock at the health center
	// WHEN: Approving it twice
	// THEN: One appointment is booked; the second approval is AlreadyProcessed

	f := newFixture(t)
	f.addLot(t, opv, 5, 60)
	r, err := f.service.CreateRequest(f.ctx, vaccination.CreateRequestInput{ChildID: boy, VaccineID: opv})
	require.NoError(t, err)

	appt, err := f.service.ApproveRequest(f.ctx, r.ID, vaccination.ApproveRequestInput{Date: day(5), PlannerID: "planner-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, appt.Dose)

	got, err := f.store.GetRequest(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, vaccination.RequestScheduled, got.Status)
	assert.Equal(t, appt.ID, got.AppointmentID)

	_, err = f.service.ApproveRequest(f.ctx, r.ID, vaccination.ApproveRequestInput{Date: day(6)})
	var processed *stock.AlreadyProcessedError
	require.ErrorAs(t, err, &processed)
	assert.Equal(t, "request", processed.Kind)

	_, err = f.service.CancelRequest(f.ctx, r.ID)
	assert.ErrorIs(t, err, stock.ErrAlreadyProcessed)

	appts, err := f.service.Appointments(f.ctx, vaccination.ScheduleFilter{ChildID: boy})
	require.NoError(t, err)
	assert.Len(t, appts, 1)
}

func TestApproveRequest_InsufficientStock_LeavesRequestPending(t *testing.T) {
	f := newFixture(t)
	r, err := f.service.CreateRequest(f.ctx, vaccination.CreateRequestInput{ChildID: boy, VaccineID: opv})
	require.NoError(t, err)

	_, err = f.service.ApproveRequest(f.ctx, r.ID, vaccination.ApproveRequestInput{Date: day(5)})
	assert.ErrorIs(t, err, stock.ErrInsufficientStock)

	got, err := f.store.GetRequest(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, vaccination.RequestPending, got.Status)
	assert.Empty(t, got.AppointmentID)
}

func TestRequest_DoseCapOnlyAtApproval(t *testing.T) {
	// GIVEN: HPV requires 2 doses
	// WHEN: A request for dose 3 is created, then approved
	// THEN: Creation succeeds; approval is rejected as an invalid dose

	f := newFixture(t)
	f.addLot(t, hpv, 5, 60)

	r, err := f.service.CreateRequest(f.ctx, vaccination.CreateRequestInput{ChildID: girl, VaccineID: hpv, Dose: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Dose)

	_, err = f.service.ApproveRequest(f.ctx, r.ID, vaccination.ApproveRequestInput{Date: day(5)})
	assert.ErrorIs(t, err, vaccination.ErrInvalidDose)
}

func TestCancelRequest(t *testing.T) {
	f := newFixture(t)
	r, err := f.service.CreateRequest(f.ctx, vaccination.CreateRequestInput{ChildID: boy, VaccineID: opv})
	require.NoError(t, err)

	cancelled, err := f.service.CancelRequest(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, vaccination.RequestCancelled, cancelled.Status)

	_, err = f.service.CancelRequest(f.ctx, "missing")
	assert.ErrorIs(t, err, vaccination.ErrRequestNotFound)
	assert.True(t, vaccination.IsNotFound(err))

	// A cancelled request no longer blocks a new one for the same dose.
	again, err := f.service.CreateRequest(f.ctx, vaccination.CreateRequestInput{ChildID: boy, VaccineID: opv, Dose: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, again.Dose)
}

func TestCancelAppointment_CancelsLinkedRequest(t *testing.T) {
	f := newFixture(t)
	f.addLot(t, opv, 5, 60)
	r, err := f.service.CreateRequest(f.ctx, vaccination.CreateRequestInput{ChildID: boy, VaccineID: opv})
	require.NoError(t, err)
	appt, err := f.service.ApproveRequest(f.ctx, r.ID, vaccination.ApproveRequestInput{Date: day(5)})
	require.NoError(t, err)

	require.NoError(t, f.service.Cancel(f.ctx, appt.ID, "planner-1", "no show"))

	got, err := f.store.GetRequest(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, vaccination.RequestCancelled, got.Status)

	scheduled, err := f.service.Requests(f.ctx, vaccination.RequestFilter{Status: vaccination.RequestScheduled})
	require.NoError(t, err)
	assert.Empty(t, scheduled)
}
