/*
handlers.go - HTTP API handlers for the vaccine stock service

PURPOSE:
  Exposes the stock engine and the vaccination services via REST API.
  Handles HTTP request/response, JSON decoding and validation, and
  delegates to the domain services.

ENDPOINTS:
  Reference data:
    GET    /api/vaccines                             List vaccines
    POST   /api/catalog                              Load a JSON catalog

  Lots and stock:
    GET    /api/lots?vaccine_id=&scope_kind=&scope_id=  List lots (FEFO order)
    POST   /api/lots                                 Add a lot
    GET    /api/lots/{id}                            Get one lot
    DELETE /api/lots/{id}                            Remove an exhausted/expired lot
    GET    /api/stock/{kind}/{id}                    Summaries per vaccine at a scope
    GET    /api/stock/{kind}/{id}/{vaccineID}        Summary of one vaccine

  Transfers:
    GET    /api/transfers?scope_kind=&scope_id=&status=
    POST   /api/transfers                            Create (holds at sender)
    GET    /api/transfers/{id}
    POST   /api/transfers/{id}/confirm               Receiver confirms
    POST   /api/transfers/{id}/reject                Receiver rejects
    POST   /api/transfers/{id}/cancel                Sender cancels

  Appointments:
    GET    /api/appointments?child_id=&vaccine_id=
    POST   /api/appointments                         Schedule (reserves a dose)
    POST   /api/appointments/{id}/reschedule
    POST   /api/appointments/{id}/complete           Administer the dose
    POST   /api/appointments/{id}/cancel             Release the dose

  Vaccine requests:
    GET    /api/requests?child_id=&status=
    POST   /api/requests
    POST   /api/requests/{id}/approve
    POST   /api/requests/{id}/cancel

  Children:
    GET    /api/children/{id}/timeline?vaccine_id=
    GET    /api/children/{id}/next-dose?vaccine_id=&calendar_id=&dose=

  Admin:
    POST   /api/admin/sweep                          Run the expiry sweep now

ACTOR:
  Mutating calls read the acting user from the X-Actor-ID header; it is
  recorded on transfers and completions and carried in events.

ERROR HANDLING:
  See errors.go for the status mapping. Every error body is
  {error, details, code, retryable}.

SECURITY NOTE:
  No authentication. The actor header is trusted as sent.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/vaccine-stock/factory"
	"github.com/warp/vaccine-stock/stock"
	"github.com/warp/vaccine-stock/vaccination"
)

// ActorHeader names the acting user of a mutating request.
const ActorHeader = "X-Actor-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the API needs from persistence: the vaccination store
// with transactions, plus Reset for demo scenarios.
type Store interface {
	vaccination.Store
	WithTx(ctx context.Context, fn func(stock.Store) error) error
	Reset(ctx context.Context) error
}

// Options configures the services built by NewHandler.
type Options struct {
	Clock             stock.Clock
	Notifier          stock.Notifier
	Observer          stock.Observer
	Logger            *zap.Logger
	Retry             stock.RetryPolicy
	CriticalThreshold int64
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        Store
	Clock        stock.Clock
	Inventory    *stock.Inventory
	Reservations *stock.ReservationManager
	Transfers    *stock.TransferWorkflow
	Vaccination  *vaccination.Service
	View         *stock.AggregateView
	Catalogs     *factory.CatalogFactory

	log      *zap.Logger
	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires every service over one store.
func NewHandler(store Store, opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = stock.SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = stock.DefaultRetryPolicy()
	}

	inventory := stock.NewInventory(store, opts.Clock, opts.Notifier, opts.Logger)
	reservations := stock.NewReservationManager(store, opts.Clock, opts.Notifier, opts.Logger)
	transfers := stock.NewTransferWorkflow(store, opts.Clock, opts.Notifier, opts.Logger)
	service := vaccination.NewService(store, reservations, opts.Clock, opts.Notifier, opts.Logger)

	reservations.CriticalThreshold = opts.CriticalThreshold
	transfers.CriticalThreshold = opts.CriticalThreshold
	for _, r := range []*stock.Runner{&inventory.Runner, &reservations.Runner, &transfers.Runner, &service.Runner} {
		r.Retry = opts.Retry
		r.Observer = opts.Observer
	}

	return &Handler{
		Store:        store,
		Clock:        opts.Clock,
		Inventory:    inventory,
		Reservations: reservations,
		Transfers:    transfers,
		Vaccination:  service,
		View:         stock.NewAggregateView(store, opts.Clock),
		Catalogs:     factory.NewCatalogFactory(),
		log:          opts.Logger,
		validate:     validator.New(),
	}
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// ListVaccines returns all vaccines.
func (h *Handler) ListVaccines(w http.ResponseWriter, r *http.Request) {
	vaccines, err := h.Store.ListVaccines(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list vaccines", err)
		return
	}
	dtos := make([]VaccineDTO, 0, len(vaccines))
	for _, v := range vaccines {
		dtos = append(dtos, VaccineDTO{
			ID:                string(v.ID),
			Name:              v.Name,
			RequiredDoseCount: v.RequiredDoseCount,
			GenderRestriction: string(v.GenderRestriction),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"vaccines": dtos})
}

// LoadCatalog imports a JSON catalog on top of the current data.
// POST /api/catalog
func (h *Handler) LoadCatalog(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	catalog, err := h.Catalogs.ParseCatalog(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid catalog", err)
		return
	}
	result, err := catalog.Apply(r.Context(), h.Store, h.Clock)
	if err != nil {
		writeDomainError(w, "Failed to load catalog", err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// =============================================================================
// LOTS & STOCK
// =============================================================================

// ListLots returns lots in FEFO order.
// GET /api/lots
func (h *Handler) ListLots(w http.ResponseWriter, r *http.Request) {
	filter := stock.LotFilter{VaccineID: stock.VaccineID(r.URL.Query().Get("vaccine_id"))}
	if scope, ok, err := scopeFromQuery(r); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid scope", err)
		return
	} else if ok {
		filter.Scope = &scope
	}

	views, err := h.View.Lots(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list lots", err)
		return
	}
	dtos := make([]LotDTO, 0, len(views))
	for _, v := range views {
		dtos = append(dtos, toLotDTO(v.Lot, v.Status))
	}
	writeJSON(w, http.StatusOK, map[string]any{"lots": dtos})
}

// GetLot returns one lot.
// GET /api/lots/{id}
func (h *Handler) GetLot(w http.ResponseWriter, r *http.Request) {
	lot, err := h.Store.GetLot(r.Context(), stock.LotID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get lot", err)
		return
	}
	writeJSON(w, http.StatusOK, toLotDTO(*lot, lot.StatusOn(h.Clock.Today())))
}

// AddLot adds a fresh lot.
// POST /api/lots
func (h *Handler) AddLot(w http.ResponseWriter, r *http.Request) {
	var req AddLotRequest
	if !h.decode(w, r, &req) {
		return
	}
	expiry, err := stock.ParseDate(req.ExpirationDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid expiration date", err)
		return
	}

	lot, err := h.Inventory.AddLot(r.Context(), stock.AddLotRequest{
		VaccineID:      stock.VaccineID(req.VaccineID),
		Scope:          req.Scope.toScope(),
		Quantity:       req.Quantity,
		ExpirationDate: expiry,
	})
	if err != nil {
		writeDomainError(w, "Failed to add lot", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLotDTO(*lot, lot.StatusOn(h.Clock.Today())))
}

// RemoveLot removes a lot with nothing left to allocate or hold.
// DELETE /api/lots/{id}
func (h *Handler) RemoveLot(w http.ResponseWriter, r *http.Request) {
	id := stock.LotID(chi.URLParam(r, "id"))
	if err := h.Inventory.RemoveLot(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to remove lot", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "removed", "lot_id": id})
}

// GetStockSummaries returns one summary per vaccine held at a scope.
// GET /api/stock/{kind}/{id}
func (h *Handler) GetStockSummaries(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeFromPath(w, r)
	if !ok {
		return
	}
	summaries, err := h.View.Summaries(r.Context(), scope)
	if err != nil {
		writeDomainError(w, "Failed to summarize stock", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scope": toScopeDTO(scope), "summaries": summaries})
}

// GetStockSummary returns the summary of one vaccine at a scope.
// GET /api/stock/{kind}/{id}/{vaccineID}
func (h *Handler) GetStockSummary(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeFromPath(w, r)
	if !ok {
		return
	}
	vaccineID := stock.VaccineID(chi.URLParam(r, "vaccineID"))
	if _, err := h.Store.GetVaccine(r.Context(), vaccineID); err != nil {
		writeDomainError(w, "Failed to summarize stock", err)
		return
	}
	summary, err := h.View.Summary(r.Context(), vaccineID, scope)
	if err != nil {
		writeDomainError(w, "Failed to summarize stock", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// TRANSFERS
// =============================================================================

// ListTransfers returns transfers touching a scope.
// GET /api/transfers
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	filter := stock.TransferFilter{Status: stock.TransferStatus(r.URL.Query().Get("status"))}
	if scope, ok, err := scopeFromQuery(r); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid scope", err)
		return
	} else if ok {
		filter.Scope = &scope
	}

	transfers, err := h.Transfers.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list transfers", err)
		return
	}
	dtos := make([]TransferDTO, 0, len(transfers))
	for _, t := range transfers {
		dtos = append(dtos, toTransferDTO(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": dtos})
}

// GetTransfer returns one transfer.
// GET /api/transfers/{id}
func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.Transfers.Get(r.Context(), stock.TransferID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTO(*t))
}

// CreateTransfer holds doses at the sender for a receiver one level down.
// POST /api/transfers
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req CreateTransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.Transfers.Create(r.Context(), stock.CreateTransferRequest{
		VaccineID: stock.VaccineID(req.VaccineID),
		From:      req.From.toScope(),
		To:        req.To.toScope(),
		Quantity:  req.Quantity,
		Actor:     actor(r),
	})
	if err != nil {
		writeDomainError(w, "Failed to create transfer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransferDTO(*t))
}

// ConfirmTransfer moves the held doses into lots at the receiver.
// POST /api/transfers/{id}/confirm
func (h *Handler) ConfirmTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.Transfers.Confirm(r.Context(), stock.TransferID(chi.URLParam(r, "id")), actor(r))
	if err != nil {
		writeDomainError(w, "Failed to confirm transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTO(*t))
}

// RejectTransfer returns the held doses to the sender (receiver side).
// POST /api/transfers/{id}/reject
func (h *Handler) RejectTransfer(w http.ResponseWriter, r *http.Request) {
	h.closeTransfer(w, r, h.Transfers.Reject, "Failed to reject transfer")
}

// CancelTransfer returns the held doses to the sender (sender side).
// POST /api/transfers/{id}/cancel
func (h *Handler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	h.closeTransfer(w, r, h.Transfers.Cancel, "Failed to cancel transfer")
}

func (h *Handler) closeTransfer(w http.ResponseWriter, r *http.Request,
	closeFn func(context.Context, stock.TransferID, string, string) (*stock.Transfer, error), message string) {
	var req CloseTransferRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	t, err := closeFn(r.Context(), stock.TransferID(chi.URLParam(r, "id")), actor(r), req.Reason)
	if err != nil {
		writeDomainError(w, message, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTO(*t))
}

// =============================================================================
// APPOINTMENTS
// =============================================================================

// ListAppointments returns scheduled appointments.
// GET /api/appointments
func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	appts, err := h.Vaccination.Appointments(r.Context(), vaccination.ScheduleFilter{
		ChildID:   vaccination.ChildID(q.Get("child_id")),
		VaccineID: stock.VaccineID(q.Get("vaccine_id")),
	})
	if err != nil {
		writeDomainError(w, "Failed to list appointments", err)
		return
	}
	dtos := make([]AppointmentDTO, 0, len(appts))
	for _, a := range appts {
		dtos = append(dtos, toAppointmentDTO(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": dtos})
}

// ScheduleAppointment books a dose and reserves it.
// POST /api/appointments
func (h *Handler) ScheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := stock.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	in := vaccination.ScheduleRequest{
		ChildID:    vaccination.ChildID(req.ChildID),
		VaccineID:  stock.VaccineID(req.VaccineID),
		CalendarID: vaccination.CalendarID(req.CalendarID),
		Date:       date,
		Dose:       req.Dose,
		PlannerID:  actor(r),
	}
	if req.Scope != nil {
		s := req.Scope.toScope()
		in.Scope = &s
	}

	appt, err := h.Vaccination.Schedule(r.Context(), in)
	if err != nil {
		writeDomainError(w, "Failed to schedule appointment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentDTO(*appt))
}

// RescheduleAppointment moves an appointment, re-reserving if needed.
// POST /api/appointments/{id}/reschedule
func (h *Handler) RescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var req RescheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := stock.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	appt, err := h.Vaccination.Reschedule(r.Context(), stock.AppointmentID(chi.URLParam(r, "id")), date, actor(r))
	if err != nil {
		writeDomainError(w, "Failed to reschedule appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentDTO(*appt))
}

// CompleteAppointment records the administered dose.
// POST /api/appointments/{id}/complete
func (h *Handler) CompleteAppointment(w http.ResponseWriter, r *http.Request) {
	done, err := h.Vaccination.Complete(r.Context(), stock.AppointmentID(chi.URLParam(r, "id")), actor(r))
	if err != nil {
		writeDomainError(w, "Failed to complete appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, toCompletionDTO(*done))
}

// CancelAppointment releases the dose. Unknown ids succeed.
// POST /api/appointments/{id}/cancel
func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	var req CancelAppointmentRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	id := stock.AppointmentID(chi.URLParam(r, "id"))
	if err := h.Vaccination.Cancel(r.Context(), id, actor(r), req.Reason); err != nil {
		writeDomainError(w, "Failed to cancel appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled", "appointment_id": id})
}

// =============================================================================
// VACCINE REQUESTS
// =============================================================================

// ListRequests returns vaccine requests.
// GET /api/requests
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reqs, err := h.Vaccination.Requests(r.Context(), vaccination.RequestFilter{
		ChildID:   vaccination.ChildID(q.Get("child_id")),
		VaccineID: stock.VaccineID(q.Get("vaccine_id")),
		Status:    vaccination.RequestStatus(q.Get("status")),
	})
	if err != nil {
		writeDomainError(w, "Failed to list requests", err)
		return
	}
	dtos := make([]VaccineRequestDTO, 0, len(reqs))
	for _, vr := range reqs {
		dtos = append(dtos, toVaccineRequestDTO(vr))
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": dtos})
}

// CreateRequest records a pending request.
// POST /api/requests
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateVaccineRequest
	if !h.decode(w, r, &req) {
		return
	}
	created, err := h.Vaccination.CreateRequest(r.Context(), vaccination.CreateRequestInput{
		ChildID:    vaccination.ChildID(req.ChildID),
		VaccineID:  stock.VaccineID(req.VaccineID),
		CalendarID: vaccination.CalendarID(req.CalendarID),
		Dose:       req.Dose,
	})
	if err != nil {
		var dup *vaccination.DuplicateRequestError
		if errors.As(err, &dup) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":               "Duplicate request",
				"details":             dup.Error(),
				"code":                "duplicate_request",
				"retryable":           false,
				"existing_request_id": dup.Existing,
			})
			return
		}
		writeDomainError(w, "Failed to create request", err)
		return
	}
	writeJSON(w, http.StatusCreated, toVaccineRequestDTO(*created))
}

// ApproveRequest schedules the requested dose.
// POST /api/requests/{id}/approve
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := stock.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	in := vaccination.ApproveRequestInput{Date: date, PlannerID: actor(r)}
	if req.Scope != nil {
		s := req.Scope.toScope()
		in.Scope = &s
	}
	appt, err := h.Vaccination.ApproveRequest(r.Context(), vaccination.RequestID(chi.URLParam(r, "id")), in)
	if err != nil {
		writeDomainError(w, "Failed to approve request", err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentDTO(*appt))
}

// CancelRequest cancels a pending request.
// POST /api/requests/{id}/cancel
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	vr, err := h.Vaccination.CancelRequest(r.Context(), vaccination.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to cancel request", err)
		return
	}
	writeJSON(w, http.StatusOK, toVaccineRequestDTO(*vr))
}

// =============================================================================
// CHILDREN
// =============================================================================

// GetTimeline returns the child's dose positions for a vaccine.
// GET /api/children/{id}/timeline?vaccine_id=
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	vaccineID := r.URL.Query().Get("vaccine_id")
	if vaccineID == "" {
		writeError(w, http.StatusBadRequest, "vaccine_id is required", nil)
		return
	}
	timeline, err := h.Vaccination.Timeline(r.Context(), vaccination.ChildID(chi.URLParam(r, "id")), stock.VaccineID(vaccineID))
	if err != nil {
		writeDomainError(w, "Failed to load timeline", err)
		return
	}
	if timeline == nil {
		timeline = vaccination.Timeline{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeline": timeline})
}

// GetNextDose resolves the dose a new appointment would target.
// GET /api/children/{id}/next-dose?vaccine_id=&calendar_id=&dose=
func (h *Handler) GetNextDose(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	vaccineID := q.Get("vaccine_id")
	if vaccineID == "" {
		writeError(w, http.StatusBadRequest, "vaccine_id is required", nil)
		return
	}
	requested := 0
	if s := q.Get("dose"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid dose", err)
			return
		}
		requested = n
	}

	childID := chi.URLParam(r, "id")
	res, err := h.Vaccination.NextDose(r.Context(), vaccination.DoseQuery{
		ChildID:       vaccination.ChildID(childID),
		VaccineID:     stock.VaccineID(vaccineID),
		CalendarID:    vaccination.CalendarID(q.Get("calendar_id")),
		RequestedDose: requested,
	})
	if err != nil {
		writeDomainError(w, "Failed to resolve dose", err)
		return
	}

	dto := NextDoseDTO{ChildID: childID, VaccineID: vaccineID}
	if res.Rejected() {
		dto.Rejected = true
		dto.Reason = res.Err.Error()
	} else {
		dto.Dose = res.Dose
		dto.Source = string(res.Source)
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// ADMIN
// =============================================================================

// RunSweep refreshes stored lot statuses now.
// POST /api/admin/sweep
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.Inventory.SweepExpired(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to sweep lots", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "swept", "expired": n})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates it. It writes the error
// response and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return h.check(w, dst)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return h.check(w, dst)
}

func (h *Handler) check(w http.ResponseWriter, dst any) bool {
	if err := h.validate.Struct(dst); err != nil {
		writeDomainError(w, "Validation failed", err)
		return false
	}
	return true
}

func (h *Handler) scopeFromPath(w http.ResponseWriter, r *http.Request) (stock.Scope, bool) {
	scope := stock.NewScope(stock.ScopeKind(chi.URLParam(r, "kind")), chi.URLParam(r, "id"))
	if err := scope.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid scope", err)
		return stock.Scope{}, false
	}
	return scope, true
}

// scopeFromQuery reads scope_kind/scope_id. Both absent means no scope.
func scopeFromQuery(r *http.Request) (stock.Scope, bool, error) {
	q := r.URL.Query()
	kind, id := q.Get("scope_kind"), q.Get("scope_id")
	if kind == "" && id == "" {
		return stock.Scope{}, false, nil
	}
	scope := stock.NewScope(stock.ScopeKind(kind), id)
	if err := scope.Validate(); err != nil {
		return stock.Scope{}, false, err
	}
	return scope, true, nil
}

func actor(r *http.Request) string {
	if a := r.Header.Get(ActorHeader); a != "" {
		return a
	}
	return "anonymous"
}
