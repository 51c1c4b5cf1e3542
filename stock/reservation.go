/*
reservation.go - Reservation Manager

PURPOSE:
  Ties held lot quantity to a scheduled appointment. A reservation set is
  created together with its appointment, released when the appointment is
  cancelled and consumed when the dose is administered.

    reserve:  FEFO allocate -> hold each share -> one Reservation row per lot
    release:  release each row's lot quantity -> delete rows   (idempotent)
    consume:  consume each row's lot quantity -> delete rows

TRANSACTIONS:
  The *Tx methods run against the caller's transactional Store so that the
  appointment layer can commit the schedule row, the holds and the dose
  resequencing together. Reserve, Release and Consume wrap the same logic
  in their own retried transaction for callers that only touch stock.

STOCK CRITICAL:
  After a reservation commits, if the allocatable remainder of the vaccine
  at the scope fell below CriticalThreshold a stock.critical event is sent.

SEE ALSO:
  - allocation.go: Ledger.Allocate
  - vaccination/appointments.go: the appointment layer calling the *Tx methods
*/
package stock

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// RESERVATION MANAGER
// =============================================================================

type ReservationManager struct {
	Runner
	Clock Clock

	// CriticalThreshold enables stock.critical events when positive.
	CriticalThreshold int64
}

func NewReservationManager(store TxStore, clock Clock, notifier Notifier, log *zap.Logger) *ReservationManager {
	return &ReservationManager{
		Runner: Runner{
			Store:    store,
			Retry:    DefaultRetryPolicy(),
			Notifier: notifier,
			Logger:   log,
		},
		Clock: clock,
	}
}

// ReserveRequest asks for doses of a vaccine at a scope for one appointment.
type ReserveRequest struct {
	AppointmentID AppointmentID
	VaccineID     VaccineID
	Scope         Scope
	Quantity      int64
	Date          Date // appointment date, the FEFO notBefore bound
}

// Reserve holds doses for an appointment in its own transaction.
func (m *ReservationManager) Reserve(ctx context.Context, req ReserveRequest) ([]Reservation, error) {
	var result []Reservation
	err := m.Run(ctx, "reserve", func(tx Store, out *Outbox) error {
		rs, err := m.ReserveTx(ctx, tx, req, out)
		result = rs
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReserveTx allocates and holds doses inside tx. Nothing is written when
// the allocation cannot be satisfied.
func (m *ReservationManager) ReserveTx(ctx context.Context, tx Store, req ReserveRequest, out *Outbox) ([]Reservation, error) {
	if req.AppointmentID == "" {
		return nil, fmt.Errorf("reserve: appointment id is required")
	}
	if req.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	existing, err := tx.ListReservations(ctx, req.AppointmentID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, &AlreadyProcessedError{Kind: "appointment", ID: string(req.AppointmentID), Status: "reserved", Action: "reserve"}
	}

	ledger := NewLedger(tx, m.Clock)
	allocs, err := ledger.Allocate(ctx, req.VaccineID, req.Scope, req.Quantity, req.Date)
	if err != nil {
		return nil, err
	}

	now := m.Clock.Now()
	rows := make([]Reservation, 0, len(allocs))
	for _, a := range allocs {
		rows = append(rows, Reservation{
			ID:            ReservationID(uuid.NewString()),
			AppointmentID: req.AppointmentID,
			LotID:         a.LotID,
			Quantity:      a.Quantity,
			CreatedAt:     now,
		})
	}
	if err := tx.InsertReservations(ctx, rows); err != nil {
		return nil, fmt.Errorf("failed to insert reservations: %w", err)
	}

	if err := checkCritical(ctx, tx, ledger, m.CriticalThreshold, req.VaccineID, req.Scope, out); err != nil {
		return nil, err
	}
	return rows, nil
}

// Release returns an appointment's held doses in its own transaction.
func (m *ReservationManager) Release(ctx context.Context, appointmentID AppointmentID) (int64, error) {
	var released int64
	err := m.Run(ctx, "release", func(tx Store, _ *Outbox) error {
		n, err := m.ReleaseTx(ctx, tx, appointmentID)
		released = n
		return err
	})
	return released, err
}

// ReleaseTx releases every reservation row of the appointment and deletes
// the rows. An appointment without rows is a no-op.
func (m *ReservationManager) ReleaseTx(ctx context.Context, tx Store, appointmentID AppointmentID) (int64, error) {
	return m.settle(ctx, tx, appointmentID, func(l *Ledger, r Reservation) error {
		_, err := l.Release(ctx, r.LotID, r.Quantity)
		return err
	})
}

// Consume records administration in its own transaction.
func (m *ReservationManager) Consume(ctx context.Context, appointmentID AppointmentID) (int64, error) {
	var consumed int64
	err := m.Run(ctx, "consume", func(tx Store, _ *Outbox) error {
		n, err := m.ConsumeTx(ctx, tx, appointmentID)
		consumed = n
		return err
	})
	return consumed, err
}

// ConsumeTx turns every reservation row of the appointment into distributed
// quantity and deletes the rows.
func (m *ReservationManager) ConsumeTx(ctx context.Context, tx Store, appointmentID AppointmentID) (int64, error) {
	return m.settle(ctx, tx, appointmentID, func(l *Ledger, r Reservation) error {
		_, err := l.Consume(ctx, r.LotID, r.Quantity)
		return err
	})
}

func (m *ReservationManager) settle(ctx context.Context, tx Store, appointmentID AppointmentID, apply func(*Ledger, Reservation) error) (int64, error) {
	rows, err := tx.ListReservations(ctx, appointmentID)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	ledger := NewLedger(tx, m.Clock)
	var total int64
	for _, r := range rows {
		if err := apply(ledger, r); err != nil {
			return 0, err
		}
		total += r.Quantity
	}
	if _, err := tx.DeleteReservations(ctx, appointmentID); err != nil {
		return 0, fmt.Errorf("failed to delete reservations: %w", err)
	}
	return total, nil
}

// =============================================================================
// HELPERS SHARED WITH THE TRANSFER WORKFLOW
// =============================================================================

// checkCritical queues a stock.critical event when the allocatable remainder
// of vaccineID at scope is below threshold.
func checkCritical(ctx context.Context, tx Store, ledger *Ledger, threshold int64, vaccineID VaccineID, scope Scope, out *Outbox) error {
	if threshold <= 0 || out == nil {
		return nil
	}
	today := ledger.Clock.Today()
	left, err := ledger.AllocatableTotal(ctx, vaccineID, scope, today)
	if err != nil {
		return err
	}
	if left >= threshold {
		return nil
	}

	coverage := decimal.NewFromInt(left).Div(decimal.NewFromInt(threshold)).Round(2)
	e := Describe(ctx, tx, Event{
		Type:       EventStockCritical,
		OccurredAt: ledger.Clock.Now(),
		VaccineID:  vaccineID,
		Quantity:   left,
		Scope:      &scope,
		Date:       today,
		Attributes: map[string]string{
			"threshold": fmt.Sprintf("%d", threshold),
			"coverage":  coverage.String(),
		},
	})
	out.Add(e)
	return nil
}

// Describe fills display names on an event. Lookup failures leave the
// names empty; events never fail an operation.
func Describe(ctx context.Context, tx Store, e Event) Event {
	if e.VaccineID != "" && e.VaccineName == "" {
		if v, err := tx.GetVaccine(ctx, e.VaccineID); err == nil {
			e.VaccineName = v.Name
		}
	}
	if e.Scope != nil && e.ScopeName == "" {
		if n, err := tx.GetScope(ctx, *e.Scope); err == nil {
			e.ScopeName = n.Name
		}
	}
	if e.ToScope != nil && e.ToScopeName == "" {
		if n, err := tx.GetScope(ctx, *e.ToScope); err == nil {
			e.ToScopeName = n.Name
		}
	}
	return e
}
