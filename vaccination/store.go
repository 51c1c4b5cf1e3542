package vaccination

import (
	"context"
	"fmt"

	"github.com/warp/vaccine-stock/stock"
)

// =============================================================================
// STORE
// =============================================================================

// Store extends stock.Store with schedule and request persistence. Both
// store/memory and store/sqlite implement it; their WithTx views do too.
type Store interface {
	stock.Store

	SaveChild(ctx context.Context, c Child) error
	GetChild(ctx context.Context, id ChildID) (*Child, error)
	SetNextAppointment(ctx context.Context, id ChildID, next *NextAppointment) error

	InsertScheduled(ctx context.Context, s *ScheduledVaccination) error
	GetScheduled(ctx context.Context, id stock.AppointmentID) (*ScheduledVaccination, error)
	UpdateScheduled(ctx context.Context, s *ScheduledVaccination) error
	DeleteScheduled(ctx context.Context, id stock.AppointmentID) error
	// ListScheduled returns appointments ordered by ScheduledFor, then
	// CreatedAt, then ID.
	ListScheduled(ctx context.Context, filter ScheduleFilter) ([]ScheduledVaccination, error)

	InsertCompleted(ctx context.Context, c *CompletedVaccination) error
	ListCompleted(ctx context.Context, childID ChildID, vaccineID stock.VaccineID) ([]CompletedVaccination, error)

	InsertRequest(ctx context.Context, r *VaccineRequest) error
	GetRequest(ctx context.Context, id RequestID) (*VaccineRequest, error)
	UpdateRequest(ctx context.Context, r *VaccineRequest) error
	ListRequests(ctx context.Context, filter RequestFilter) ([]VaccineRequest, error)

	// Bucket entries (DUE/LATE/OVERDUE) are written by the calendar process.
	SaveBucketEntry(ctx context.Context, e TimelineEntry) error
	ListBucketEntries(ctx context.Context, childID ChildID, vaccineID stock.VaccineID) ([]TimelineEntry, error)
	DeleteBucketEntries(ctx context.Context, childID ChildID, vaccineID stock.VaccineID, calendarID CalendarID, dose int) (int, error)
}

// asStore narrows a transactional stock view to the vaccination Store.
func asStore(s stock.Store) (Store, error) {
	vs, ok := s.(Store)
	if !ok {
		return nil, fmt.Errorf("vaccination: %w", stock.ErrStoreRequired)
	}
	return vs, nil
}
