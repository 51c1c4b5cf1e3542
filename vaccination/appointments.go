/*
appointments.go - Appointment scheduling

PURPOSE:
  Every change to a child's schedule is one transaction that keeps the
  schedule rows, the stock reservations, the dose numbers and the child's
  next-appointment pointer consistent:

    Schedule    resolve dose -> FEFO reserve -> insert appointment
                -> resequence -> next-appointment pointer
    Reschedule  move date -> re-reserve if a held lot would expire by the
                new date -> resequence -> pointer
    Cancel      release reservation -> delete appointment -> resequence
                -> pointer                                   (idempotent)
    Complete    consume reservation -> delete appointment -> insert
                completed dose -> resequence -> pointer

  If any step fails (InsufficientStock included) nothing is written.
  Notifications go out after commit.

SEE ALSO:
  - stock/reservation.go: ReserveTx, ReleaseTx, ConsumeTx
  - sequencer.go: Resequence
*/
package vaccination

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/vaccine-stock/stock"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service schedules appointments and handles vaccine requests.
type Service struct {
	stock.Runner
	Clock        stock.Clock
	Reservations *stock.ReservationManager
}

func NewService(store stock.TxStore, reservations *stock.ReservationManager, clock stock.Clock, notifier stock.Notifier, log *zap.Logger) *Service {
	return &Service{
		Runner: stock.Runner{
			Store:    store,
			Retry:    stock.DefaultRetryPolicy(),
			Notifier: notifier,
			Logger:   log,
		},
		Clock:        clock,
		Reservations: reservations,
	}
}

// run is Runner.Run with the transactional view narrowed to Store.
func (s *Service) run(ctx context.Context, operation string, fn func(tx Store, out *stock.Outbox) error) error {
	return s.Run(ctx, operation, func(tx stock.Store, out *stock.Outbox) error {
		vs, err := asStore(tx)
		if err != nil {
			return err
		}
		return fn(vs, out)
	})
}

// =============================================================================
// SCHEDULE
// =============================================================================

// ScheduleRequest books one dose. Dose 0 lets the resolver pick it; Scope
// defaults to the child's health center.
type ScheduleRequest struct {
	ChildID    ChildID
	VaccineID  stock.VaccineID
	CalendarID CalendarID
	Date       stock.Date
	Dose       int
	PlannerID  string
	Scope      *stock.Scope
}

// Schedule books an appointment and reserves its dose atomically.
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (*ScheduledVaccination, error) {
	var appt *ScheduledVaccination
	err := s.run(ctx, "appointment.schedule", func(tx Store, out *stock.Outbox) error {
		a, err := s.scheduleTx(ctx, tx, req, out)
		appt = a
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger().Info("dose scheduled",
		zap.String("appointment_id", string(appt.ID)),
		zap.String("child_id", string(appt.ChildID)),
		zap.String("vaccine_id", string(appt.VaccineID)),
		zap.Int("dose", appt.Dose))
	return appt, nil
}

func (s *Service) scheduleTx(ctx context.Context, tx Store, req ScheduleRequest, out *stock.Outbox) (*ScheduledVaccination, error) {
	if err := s.checkDate(req.Date); err != nil {
		return nil, err
	}
	child, vaccine, err := s.eligible(ctx, tx, req.ChildID, req.VaccineID)
	if err != nil {
		return nil, err
	}

	res, err := ResolveDose(ctx, tx, *vaccine, DoseQuery{
		ChildID:       req.ChildID,
		VaccineID:     req.VaccineID,
		CalendarID:    req.CalendarID,
		RequestedDose: req.Dose,
	}, ResolveOptions{EnforceDoseCap: true})
	if err != nil {
		return nil, err
	}
	dose, err := res.Result()
	if err != nil {
		return nil, err
	}

	scope := child.HealthCenter
	if req.Scope != nil {
		scope = *req.Scope
	}

	now := s.Clock.Now()
	appt := &ScheduledVaccination{
		ID:           stock.AppointmentID(uuid.NewString()),
		ChildID:      req.ChildID,
		VaccineID:    req.VaccineID,
		CalendarID:   req.CalendarID,
		ScheduledFor: req.Date,
		Dose:         dose,
		PlannerID:    req.PlannerID,
		Scope:        scope,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Stock first: an unsatisfiable reservation aborts before any schedule row.
	if _, err := s.Reservations.ReserveTx(ctx, tx, stock.ReserveRequest{
		AppointmentID: appt.ID,
		VaccineID:     appt.VaccineID,
		Scope:         scope,
		Quantity:      1,
		Date:          appt.ScheduledFor,
	}, out); err != nil {
		return nil, err
	}
	if err := tx.InsertScheduled(ctx, appt); err != nil {
		return nil, fmt.Errorf("failed to insert appointment: %w", err)
	}
	if appt.CalendarID != "" {
		if _, err := tx.DeleteBucketEntries(ctx, appt.ChildID, appt.VaccineID, appt.CalendarID, dose); err != nil {
			return nil, err
		}
	}

	appt, err = s.settleSchedule(ctx, tx, appt.ChildID, appt.VaccineID, appt.ID)
	if err != nil {
		return nil, err
	}
	out.Add(s.event(ctx, tx, stock.EventDoseScheduled, appt, req.PlannerID))
	return appt, nil
}

// =============================================================================
// RESCHEDULE
// =============================================================================

// Reschedule moves an appointment. When a reserved lot would be expired by
// the new date the reservation is released and made again by FEFO.
func (s *Service) Reschedule(ctx context.Context, id stock.AppointmentID, date stock.Date, actor string) (*ScheduledVaccination, error) {
	var appt *ScheduledVaccination
	err := s.run(ctx, "appointment.reschedule", func(tx Store, out *stock.Outbox) error {
		if err := s.checkDate(date); err != nil {
			return err
		}
		a, err := tx.GetScheduled(ctx, id)
		if err != nil {
			return err
		}
		a.ScheduledFor = date
		a.UpdatedAt = s.Clock.Now()
		if err := tx.UpdateScheduled(ctx, a); err != nil {
			return err
		}

		rebook, quantity, err := s.needsRebook(ctx, tx, id, date)
		if err != nil {
			return err
		}
		if rebook {
			if _, err := s.Reservations.ReleaseTx(ctx, tx, id); err != nil {
				return err
			}
			if _, err := s.Reservations.ReserveTx(ctx, tx, stock.ReserveRequest{
				AppointmentID: id,
				VaccineID:     a.VaccineID,
				Scope:         a.Scope,
				Quantity:      quantity,
				Date:          date,
			}, out); err != nil {
				return err
			}
		}

		a, err = s.settleSchedule(ctx, tx, a.ChildID, a.VaccineID, id)
		if err != nil {
			return err
		}
		e := s.event(ctx, tx, stock.EventDoseScheduled, a, actor)
		e.Attributes["rescheduled"] = "true"
		e.Attributes["rebooked"] = fmt.Sprintf("%t", rebook)
		out.Add(e)
		appt = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// needsRebook reports whether any reserved lot expires on or before date,
// and the total quantity reserved.
func (s *Service) needsRebook(ctx context.Context, tx Store, id stock.AppointmentID, date stock.Date) (bool, int64, error) {
	rows, err := tx.ListReservations(ctx, id)
	if err != nil {
		return false, 0, err
	}
	if len(rows) == 0 {
		return true, 1, nil
	}
	var quantity int64
	rebook := false
	for _, r := range rows {
		quantity += r.Quantity
		lot, err := tx.GetLot(ctx, r.LotID)
		if err != nil {
			return false, 0, err
		}
		if !lot.ExpirationDate.After(date) {
			rebook = true
		}
	}
	return rebook, quantity, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel releases the appointment's dose and removes it. Cancelling an
// appointment that no longer exists is a no-op.
func (s *Service) Cancel(ctx context.Context, id stock.AppointmentID, actor, reason string) error {
	return s.run(ctx, "appointment.cancel", func(tx Store, out *stock.Outbox) error {
		a, err := tx.GetScheduled(ctx, id)
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := s.Reservations.ReleaseTx(ctx, tx, id); err != nil {
			return err
		}
		if err := tx.DeleteScheduled(ctx, id); err != nil {
			return err
		}
		if err := s.cancelLinkedRequests(ctx, tx, id); err != nil {
			return err
		}
		if _, err := s.settleSchedule(ctx, tx, a.ChildID, a.VaccineID, ""); err != nil {
			return err
		}

		e := s.event(ctx, tx, stock.EventAppointmentCancelled, a, actor)
		if reason != "" {
			e.Attributes["reason"] = reason
		}
		out.Add(e)
		return nil
	})
}

func (s *Service) cancelLinkedRequests(ctx context.Context, tx Store, id stock.AppointmentID) error {
	linked, err := tx.ListRequests(ctx, RequestFilter{AppointmentID: id, Status: RequestScheduled})
	if err != nil {
		return err
	}
	for _, r := range linked {
		r.Status = RequestCancelled
		r.UpdatedAt = s.Clock.Now()
		if err := tx.UpdateRequest(ctx, &r); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// COMPLETE
// =============================================================================

// Complete records the administration of the appointment's dose.
func (s *Service) Complete(ctx context.Context, id stock.AppointmentID, actor string) (*CompletedVaccination, error) {
	var done *CompletedVaccination
	err := s.run(ctx, "appointment.complete", func(tx Store, out *stock.Outbox) error {
		a, err := tx.GetScheduled(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.Reservations.ConsumeTx(ctx, tx, id); err != nil {
			return err
		}
		if err := tx.DeleteScheduled(ctx, id); err != nil {
			return err
		}

		c := &CompletedVaccination{
			ID:             CompletionID(uuid.NewString()),
			ChildID:        a.ChildID,
			VaccineID:      a.VaccineID,
			CalendarID:     a.CalendarID,
			Dose:           a.Dose,
			AppointmentID:  a.ID,
			AdministeredAt: s.Clock.Now(),
			AdministeredBy: actor,
		}
		if err := tx.InsertCompleted(ctx, c); err != nil {
			return fmt.Errorf("failed to record administered dose: %w", err)
		}
		if _, err := s.settleSchedule(ctx, tx, a.ChildID, a.VaccineID, ""); err != nil {
			return err
		}

		out.Add(s.event(ctx, tx, stock.EventDoseAdministered, a, actor))
		done = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger().Info("dose administered",
		zap.String("appointment_id", string(id)),
		zap.String("child_id", string(done.ChildID)),
		zap.Int("dose", done.Dose))
	return done, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Timeline returns every known dose position of a child for a vaccine.
func (s *Service) Timeline(ctx context.Context, childID ChildID, vaccineID stock.VaccineID) (Timeline, error) {
	vs, err := asStore(s.Store)
	if err != nil {
		return nil, err
	}
	if _, err := vs.GetChild(ctx, childID); err != nil {
		return nil, err
	}
	return LoadTimeline(ctx, vs, childID, vaccineID)
}

// NextDose resolves the dose a new appointment would target without
// writing anything.
func (s *Service) NextDose(ctx context.Context, q DoseQuery) (DoseResolution, error) {
	vs, err := asStore(s.Store)
	if err != nil {
		return DoseResolution{}, err
	}
	_, vaccine, err := s.eligible(ctx, vs, q.ChildID, q.VaccineID)
	if err != nil {
		return DoseResolution{}, err
	}
	return ResolveDose(ctx, vs, *vaccine, q, ResolveOptions{EnforceDoseCap: true})
}

// Appointments lists scheduled appointments.
func (s *Service) Appointments(ctx context.Context, filter ScheduleFilter) ([]ScheduledVaccination, error) {
	vs, err := asStore(s.Store)
	if err != nil {
		return nil, err
	}
	return vs.ListScheduled(ctx, filter)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) checkDate(d stock.Date) error {
	if d.IsZero() {
		return fmt.Errorf("appointment date is required: %w", ErrInvalidAppointmentDate)
	}
	if d.Before(s.Clock.Today()) {
		return fmt.Errorf("appointment date %s is in the past: %w", d, ErrInvalidAppointmentDate)
	}
	return nil
}

// eligible loads the child and vaccine and applies the gender restriction.
func (s *Service) eligible(ctx context.Context, tx Store, childID ChildID, vaccineID stock.VaccineID) (*Child, *stock.Vaccine, error) {
	child, err := tx.GetChild(ctx, childID)
	if err != nil {
		return nil, nil, err
	}
	vaccine, err := tx.GetVaccine(ctx, vaccineID)
	if err != nil {
		return nil, nil, err
	}
	if !child.Accepts(*vaccine) {
		return nil, nil, &GenderMismatchError{
			ChildID:     child.ID,
			Gender:      child.Gender,
			VaccineID:   vaccine.ID,
			Restriction: vaccine.GenderRestriction,
		}
	}
	return child, vaccine, nil
}

// settleSchedule resequences the (child, vaccine) doses, refreshes the
// child's next-appointment pointer and reloads appointment id if set.
func (s *Service) settleSchedule(ctx context.Context, tx Store, childID ChildID, vaccineID stock.VaccineID, id stock.AppointmentID) (*ScheduledVaccination, error) {
	if _, err := Resequence(ctx, tx, childID, vaccineID, s.Clock); err != nil {
		return nil, err
	}
	if err := s.refreshNextAppointment(ctx, tx, childID); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	return tx.GetScheduled(ctx, id)
}

// refreshNextAppointment points the child at the earliest appointment on or
// after today, across all vaccines.
func (s *Service) refreshNextAppointment(ctx context.Context, tx Store, childID ChildID) error {
	all, err := tx.ListScheduled(ctx, ScheduleFilter{ChildID: childID})
	if err != nil {
		return err
	}
	today := s.Clock.Today()
	var next *NextAppointment
	for _, a := range all {
		if a.ScheduledFor.Before(today) {
			continue
		}
		next = &NextAppointment{AppointmentID: a.ID, VaccineID: a.VaccineID, Date: a.ScheduledFor}
		break
	}
	return tx.SetNextAppointment(ctx, childID, next)
}

func (s *Service) event(ctx context.Context, tx Store, typ stock.EventType, a *ScheduledVaccination, actor string) stock.Event {
	scope := a.Scope
	e := stock.Describe(ctx, tx, stock.Event{
		Type:       typ,
		OccurredAt: s.Clock.Now(),
		VaccineID:  a.VaccineID,
		Quantity:   1,
		Scope:      &scope,
		Date:       a.ScheduledFor,
		Reference:  string(a.ID),
		Actor:      actor,
	})
	if e.Attributes == nil {
		e.Attributes = map[string]string{}
	}
	e.Attributes["child_id"] = string(a.ChildID)
	e.Attributes["dose"] = fmt.Sprintf("%d", a.Dose)
	return e
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
