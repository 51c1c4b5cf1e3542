/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the stock and vaccination domain models from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Stock:        ScopeDTO, LotDTO, AddLotRequest
  Transfers:    TransferDTO, CreateTransferRequest, CloseTransferRequest
  Appointments: AppointmentDTO, ScheduleRequest, RescheduleRequest,
                CancelAppointmentRequest, CompletionDTO
  Requests:     VaccineRequestDTO, CreateVaccineRequest, ApproveRequest
  Resolver:     NextDoseDTO
  Scenarios:    ScenarioDTO, LoadScenarioRequest
  Errors:       ErrorResponse

VALIDATION:
  Request types carry go-playground/validator tags; handlers call
  decodeAndValidate before touching the domain. Dates travel as
  YYYY-MM-DD strings.

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: ErrorResponse mapping
*/
package api

import (
	"time"

	"github.com/warp/vaccine-stock/stock"
	"github.com/warp/vaccine-stock/vaccination"
)

// =============================================================================
// STOCK
// =============================================================================

// ScopeDTO identifies a node of the scope tree.
type ScopeDTO struct {
	Kind string `json:"kind" validate:"required,oneof=national regional district health_center"`
	ID   string `json:"id" validate:"required"`
}

func (s ScopeDTO) toScope() stock.Scope {
	return stock.NewScope(stock.ScopeKind(s.Kind), s.ID)
}

func toScopeDTO(s stock.Scope) ScopeDTO {
	return ScopeDTO{Kind: string(s.Kind), ID: s.ID}
}

// LotDTO represents a lot with its status derived for today.
type LotDTO struct {
	ID                  string   `json:"id"`
	VaccineID           string   `json:"vaccine_id"`
	Scope               ScopeDTO `json:"scope"`
	OriginalQuantity    int64    `json:"original_quantity"`
	RemainingQuantity   int64    `json:"remaining_quantity"`
	HeldQuantity        int64    `json:"held_quantity"`
	DistributedQuantity int64    `json:"distributed_quantity"`
	ExpirationDate      string   `json:"expiration_date"`
	Status              string   `json:"status"`
	StoredStatus        string   `json:"stored_status"`
	SourceLotID         string   `json:"source_lot_id,omitempty"`
	Sequence            int64    `json:"sequence"`
	Version             int64    `json:"version"`
}

func toLotDTO(l stock.Lot, status stock.LotStatus) LotDTO {
	return LotDTO{
		ID:                  string(l.ID),
		VaccineID:           string(l.VaccineID),
		Scope:               toScopeDTO(l.Scope),
		OriginalQuantity:    l.OriginalQuantity,
		RemainingQuantity:   l.RemainingQuantity,
		HeldQuantity:        l.HeldQuantity,
		DistributedQuantity: l.DistributedQuantity,
		ExpirationDate:      l.ExpirationDate.String(),
		Status:              string(status),
		StoredStatus:        string(l.StoredStatus),
		SourceLotID:         string(l.SourceLotID),
		Sequence:            l.Sequence,
		Version:             l.Version,
	}
}

// AddLotRequest adds a fresh lot to a scope's stock.
type AddLotRequest struct {
	VaccineID      string   `json:"vaccine_id" validate:"required"`
	Scope          ScopeDTO `json:"scope"`
	Quantity       int64    `json:"quantity" validate:"required,gt=0"`
	ExpirationDate string   `json:"expiration_date" validate:"required,datetime=2006-01-02"`
}

// VaccineDTO represents reference data for one vaccine.
type VaccineDTO struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	RequiredDoseCount int    `json:"required_doses"`
	GenderRestriction string `json:"gender_restriction"`
}

// =============================================================================
// TRANSFERS
// =============================================================================

// TransferDTO represents a transfer in API responses.
type TransferDTO struct {
	ID          string             `json:"id"`
	VaccineID   string             `json:"vaccine_id"`
	From        ScopeDTO           `json:"from"`
	To          ScopeDTO           `json:"to"`
	Quantity    int64              `json:"quantity"`
	Status      string             `json:"status"`
	Allocations []stock.Allocation `json:"allocations"`
	DerivedLots []string           `json:"derived_lots,omitempty"`
	CreatedAt   string             `json:"created_at"`
	CreatedBy   string             `json:"created_by,omitempty"`
	ConfirmedAt string             `json:"confirmed_at,omitempty"`
	ConfirmedBy string             `json:"confirmed_by,omitempty"`
	CancelledAt string             `json:"cancelled_at,omitempty"`
	CancelledBy string             `json:"cancelled_by,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

func toTransferDTO(t stock.Transfer) TransferDTO {
	dto := TransferDTO{
		ID:          string(t.ID),
		VaccineID:   string(t.VaccineID),
		From:        toScopeDTO(t.From),
		To:          toScopeDTO(t.To),
		Quantity:    t.Quantity,
		Status:      string(t.Status),
		Allocations: t.SourceAllocations,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		CreatedBy:   t.CreatedBy,
		ConfirmedBy: t.ConfirmedBy,
		CancelledBy: t.CancelledBy,
		Reason:      t.Reason,
	}
	if dto.Allocations == nil {
		dto.Allocations = []stock.Allocation{}
	}
	for _, id := range t.DerivedLots {
		dto.DerivedLots = append(dto.DerivedLots, string(id))
	}
	if t.ConfirmedAt != nil {
		dto.ConfirmedAt = t.ConfirmedAt.Format(time.RFC3339)
	}
	if t.CancelledAt != nil {
		dto.CancelledAt = t.CancelledAt.Format(time.RFC3339)
	}
	return dto
}

// CreateTransferRequest ships doses from a scope to one of its children.
type CreateTransferRequest struct {
	VaccineID string   `json:"vaccine_id" validate:"required"`
	From      ScopeDTO `json:"from"`
	To        ScopeDTO `json:"to"`
	Quantity  int64    `json:"quantity" validate:"required,gt=0"`
}

// CloseTransferRequest carries the reason of a reject or cancel.
type CloseTransferRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// =============================================================================
// APPOINTMENTS
// =============================================================================

// AppointmentDTO represents a scheduled vaccination.
type AppointmentDTO struct {
	ID           string   `json:"id"`
	ChildID      string   `json:"child_id"`
	VaccineID    string   `json:"vaccine_id"`
	CalendarID   string   `json:"calendar_id,omitempty"`
	ScheduledFor string   `json:"scheduled_for"`
	Dose         int      `json:"dose"`
	PlannerID    string   `json:"planner_id,omitempty"`
	Scope        ScopeDTO `json:"scope"`
}

func toAppointmentDTO(a vaccination.ScheduledVaccination) AppointmentDTO {
	return AppointmentDTO{
		ID:           string(a.ID),
		ChildID:      string(a.ChildID),
		VaccineID:    string(a.VaccineID),
		CalendarID:   string(a.CalendarID),
		ScheduledFor: a.ScheduledFor.String(),
		Dose:         a.Dose,
		PlannerID:    a.PlannerID,
		Scope:        toScopeDTO(a.Scope),
	}
}

// ScheduleRequest books one dose. Dose 0 lets the server pick it and an
// absent scope means the child's health center.
type ScheduleRequest struct {
	ChildID    string    `json:"child_id" validate:"required"`
	VaccineID  string    `json:"vaccine_id" validate:"required"`
	CalendarID string    `json:"calendar_id"`
	Date       string    `json:"date" validate:"required,datetime=2006-01-02"`
	Dose       int       `json:"dose" validate:"gte=0"`
	Scope      *ScopeDTO `json:"scope,omitempty"`
}

// RescheduleRequest moves an appointment to another day.
type RescheduleRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}

// CancelAppointmentRequest carries an optional reason.
type CancelAppointmentRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// CompletionDTO represents an administered dose.
type CompletionDTO struct {
	ID             string `json:"id"`
	ChildID        string `json:"child_id"`
	VaccineID      string `json:"vaccine_id"`
	CalendarID     string `json:"calendar_id,omitempty"`
	Dose           int    `json:"dose"`
	AppointmentID  string `json:"appointment_id"`
	AdministeredAt string `json:"administered_at"`
	AdministeredBy string `json:"administered_by,omitempty"`
}

func toCompletionDTO(c vaccination.CompletedVaccination) CompletionDTO {
	return CompletionDTO{
		ID:             string(c.ID),
		ChildID:        string(c.ChildID),
		VaccineID:      string(c.VaccineID),
		CalendarID:     string(c.CalendarID),
		Dose:           c.Dose,
		AppointmentID:  string(c.AppointmentID),
		AdministeredAt: c.AdministeredAt.Format(time.RFC3339),
		AdministeredBy: c.AdministeredBy,
	}
}

// =============================================================================
// VACCINE REQUESTS
// =============================================================================

// VaccineRequestDTO represents a parent's request.
type VaccineRequestDTO struct {
	ID            string `json:"id"`
	ChildID       string `json:"child_id"`
	VaccineID     string `json:"vaccine_id"`
	CalendarID    string `json:"calendar_id,omitempty"`
	Dose          int    `json:"dose"`
	Status        string `json:"status"`
	AppointmentID string `json:"appointment_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toVaccineRequestDTO(r vaccination.VaccineRequest) VaccineRequestDTO {
	return VaccineRequestDTO{
		ID:            string(r.ID),
		ChildID:       string(r.ChildID),
		VaccineID:     string(r.VaccineID),
		CalendarID:    string(r.CalendarID),
		Dose:          r.Dose,
		Status:        string(r.Status),
		AppointmentID: string(r.AppointmentID),
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
	}
}

// CreateVaccineRequest asks for a dose. Dose 0 means "resolve for me".
type CreateVaccineRequest struct {
	ChildID    string `json:"child_id" validate:"required"`
	VaccineID  string `json:"vaccine_id" validate:"required"`
	CalendarID string `json:"calendar_id"`
	Dose       int    `json:"dose" validate:"gte=0"`
}

// ApproveRequest turns a pending request into an appointment.
type ApproveRequest struct {
	Date  string    `json:"date" validate:"required,datetime=2006-01-02"`
	Scope *ScopeDTO `json:"scope,omitempty"`
}

// =============================================================================
// RESOLVER
// =============================================================================

// NextDoseDTO is the outcome of a dose resolution.
type NextDoseDTO struct {
	ChildID   string `json:"child_id"`
	VaccineID string `json:"vaccine_id"`
	Dose      int    `json:"dose,omitempty"`
	Source    string `json:"source,omitempty"`
	Rejected  bool   `json:"rejected"`
	Reason    string `json:"reason,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable"`
}
