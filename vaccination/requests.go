package vaccination

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/vaccine-stock/stock"
)

// =============================================================================
// VACCINE REQUESTS
// =============================================================================
//
// PENDING ──approve──► SCHEDULED   (appointment + reservation created)
//    └─────cancel────► CANCELLED
//
// Creation resolves the dose and rejects duplicates of a PENDING request.
// The required dose count is only enforced when the request is approved.

// CreateRequestInput is a parent's request for a dose. Dose 0 lets the
// resolver pick it.
type CreateRequestInput struct {
	ChildID    ChildID
	VaccineID  stock.VaccineID
	CalendarID CalendarID
	Dose       int
}

// CreateRequest records a PENDING vaccine request.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (*VaccineRequest, error) {
	var created *VaccineRequest
	err := s.run(ctx, "request.create", func(tx Store, _ *stock.Outbox) error {
		_, vaccine, err := s.eligible(ctx, tx, in.ChildID, in.VaccineID)
		if err != nil {
			return err
		}
		res, err := ResolveDose(ctx, tx, *vaccine, DoseQuery{
			ChildID:       in.ChildID,
			VaccineID:     in.VaccineID,
			CalendarID:    in.CalendarID,
			RequestedDose: in.Dose,
		}, ResolveOptions{GuardDuplicates: true})
		if err != nil {
			return err
		}
		dose, err := res.Result()
		if err != nil {
			return err
		}

		now := s.Clock.Now()
		r := &VaccineRequest{
			ID:         RequestID(uuid.NewString()),
			ChildID:    in.ChildID,
			VaccineID:  in.VaccineID,
			CalendarID: in.CalendarID,
			Dose:       dose,
			Status:     RequestPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertRequest(ctx, r); err != nil {
			return fmt.Errorf("failed to insert request: %w", err)
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger().Info("vaccine request created",
		zap.String("request_id", string(created.ID)),
		zap.String("child_id", string(created.ChildID)),
		zap.Int("dose", created.Dose))
	return created, nil
}

// ApproveRequestInput carries the appointment details chosen by the planner.
type ApproveRequestInput struct {
	Date      stock.Date
	PlannerID string
	Scope     *stock.Scope
}

// ApproveRequest schedules the requested dose and marks the request
// SCHEDULED, all in one transaction.
func (s *Service) ApproveRequest(ctx context.Context, id RequestID, in ApproveRequestInput) (*ScheduledVaccination, error) {
	var appt *ScheduledVaccination
	err := s.run(ctx, "request.approve", func(tx Store, out *stock.Outbox) error {
		r, err := tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != RequestPending {
			return &stock.AlreadyProcessedError{Kind: "request", ID: string(id), Status: string(r.Status), Action: "schedule"}
		}

		a, err := s.scheduleTx(ctx, tx, ScheduleRequest{
			ChildID:    r.ChildID,
			VaccineID:  r.VaccineID,
			CalendarID: r.CalendarID,
			Date:       in.Date,
			Dose:       r.Dose,
			PlannerID:  in.PlannerID,
			Scope:      in.Scope,
		}, out)
		if err != nil {
			return err
		}

		r.Status = RequestScheduled
		r.AppointmentID = a.ID
		r.UpdatedAt = s.Clock.Now()
		if err := tx.UpdateRequest(ctx, r); err != nil {
			return err
		}
		appt = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// CancelRequest withdraws a PENDING request.
func (s *Service) CancelRequest(ctx context.Context, id RequestID) (*VaccineRequest, error) {
	var cancelled *VaccineRequest
	err := s.run(ctx, "request.cancel", func(tx Store, _ *stock.Outbox) error {
		r, err := tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != RequestPending {
			return &stock.AlreadyProcessedError{Kind: "request", ID: string(id), Status: string(r.Status), Action: "cancel"}
		}
		r.Status = RequestCancelled
		r.UpdatedAt = s.Clock.Now()
		if err := tx.UpdateRequest(ctx, r); err != nil {
			return err
		}
		cancelled = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// Requests lists vaccine requests.
func (s *Service) Requests(ctx context.Context, filter RequestFilter) ([]VaccineRequest, error) {
	vs, err := asStore(s.Store)
	if err != nil {
		return nil, err
	}
	return vs.ListRequests(ctx, filter)
}
