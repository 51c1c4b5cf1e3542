/*
Package vaccination schedules vaccine doses for children on top of the
stock engine.

PURPOSE:
  A child's vaccination history for one vaccine is a sequence of doses
  numbered 1..N. Completed doses keep their number forever; scheduled
  (not yet administered) appointments are renumbered chronologically by
  the Dose Sequencer whenever the schedule changes. Every scheduled
  appointment owns a stock reservation at a health center.

KEY CONCEPTS IN THIS FILE (types.go):
  - Child: the vaccinated person, attached to one health center
  - ScheduledVaccination: an appointment (holds one reserved dose)
  - CompletedVaccination: an administered dose, immutable
  - VaccineRequest: parent-initiated request awaiting approval
  - TimelineEntry: one row of the unified DUE/LATE/OVERDUE/SCHEDULED/
    COMPLETED timeline used by the Next-Dose Resolver

SEE ALSO:
  - sequencer.go: Dose Sequencer
  - resolver.go: Next-Dose Resolver
  - appointments.go: schedule, reschedule, cancel, complete
  - requests.go: request create, approve, cancel
*/
package vaccination

import (
	"time"

	"github.com/warp/vaccine-stock/stock"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ChildID string
type CalendarID string
type RequestID string
type CompletionID string

// =============================================================================
// CHILD
// =============================================================================

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// NextAppointment is the child's cached pointer to the earliest scheduled
// appointment. It is recomputed inside every schedule change.
type NextAppointment struct {
	AppointmentID stock.AppointmentID `json:"appointment_id"`
	VaccineID     stock.VaccineID     `json:"vaccine_id"`
	Date          stock.Date          `json:"date"`
}

type Child struct {
	ID           ChildID
	Name         string
	Gender       Gender
	BirthDate    stock.Date
	HealthCenter stock.Scope

	NextAppointment *NextAppointment
}

// Accepts reports whether a vaccine's gender restriction allows this child.
func (c Child) Accepts(v stock.Vaccine) bool {
	switch v.GenderRestriction {
	case stock.GenderMaleOnly:
		return c.Gender == GenderMale
	case stock.GenderFemaleOnly:
		return c.Gender == GenderFemale
	default:
		return true
	}
}

// =============================================================================
// SCHEDULED / COMPLETED VACCINATIONS
// =============================================================================

// ScheduledVaccination is an appointment for one dose. Its Dose is owned by
// the Dose Sequencer and may change when other appointments move.
type ScheduledVaccination struct {
	ID           stock.AppointmentID
	ChildID      ChildID
	VaccineID    stock.VaccineID
	CalendarID   CalendarID // empty when not tied to a calendar entry
	ScheduledFor stock.Date
	Dose         int
	PlannerID    string
	Scope        stock.Scope // health center holding the reserved dose

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CompletedVaccination is an administered dose. Dose never changes.
type CompletedVaccination struct {
	ID             CompletionID
	ChildID        ChildID
	VaccineID      stock.VaccineID
	CalendarID     CalendarID
	Dose           int
	AppointmentID  stock.AppointmentID
	AdministeredAt time.Time
	AdministeredBy string
}

// ScheduleFilter narrows scheduled listings. Zero fields match everything.
type ScheduleFilter struct {
	ChildID   ChildID
	VaccineID stock.VaccineID
}

// =============================================================================
// VACCINE REQUEST
// =============================================================================

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestScheduled RequestStatus = "scheduled"
	RequestCancelled RequestStatus = "cancelled"
)

// VaccineRequest is a parent asking for a dose. Approval converts it into a
// ScheduledVaccination with its reservation.
type VaccineRequest struct {
	ID         RequestID
	ChildID    ChildID
	VaccineID  stock.VaccineID
	CalendarID CalendarID
	Dose       int
	Status     RequestStatus

	AppointmentID stock.AppointmentID // set once scheduled

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RequestFilter narrows request listings. Zero fields match everything.
type RequestFilter struct {
	ChildID       ChildID
	VaccineID     stock.VaccineID
	Status        RequestStatus
	AppointmentID stock.AppointmentID
}

// =============================================================================
// TIMELINE
// =============================================================================

// TimelineKind tags a timeline entry.
type TimelineKind string

const (
	KindDue       TimelineKind = "due"
	KindLate      TimelineKind = "late"
	KindOverdue   TimelineKind = "overdue"
	KindScheduled TimelineKind = "scheduled"
	KindCompleted TimelineKind = "completed"
)

// IsBucket reports whether entries of this kind are fed by the calendar
// process rather than derived from appointments.
func (k TimelineKind) IsBucket() bool {
	return k == KindDue || k == KindLate || k == KindOverdue
}

func (k TimelineKind) Valid() bool {
	switch k {
	case KindDue, KindLate, KindOverdue, KindScheduled, KindCompleted:
		return true
	}
	return false
}

// TimelineEntry is one dose position in a child's vaccination timeline.
type TimelineEntry struct {
	Kind       TimelineKind    `json:"kind"`
	ChildID    ChildID         `json:"child_id"`
	VaccineID  stock.VaccineID `json:"vaccine_id"`
	CalendarID CalendarID      `json:"calendar_id,omitempty"`
	Dose       int             `json:"dose"`
	Date       stock.Date      `json:"date"`
	Reference  string          `json:"reference,omitempty"` // appointment or completion id
}
