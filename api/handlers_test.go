/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Routing, validation and the error mapping (status + code)
- Lots, stock summaries and the expiry sweep
- Transfer lifecycle over HTTP
- Appointments and vaccine requests over HTTP
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vaccine-stock/factory"
	"github.com/warp/vaccine-stock/observability"
	"github.com/warp/vaccine-stock/stock"
	"github.com/warp/vaccine-stock/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testToday = stock.NewDate(2025, time.March, 1)

type testServer struct {
	h      *Handler
	router *chi.Mux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	h := NewHandler(memory.New(), Options{
		Clock: stock.FixedClock(testToday.Time.Add(9 * time.Hour)),
		Retry: stock.RetryPolicy{MaxAttempts: 3},
	})
	return &testServer{h: h, router: NewRouter(h, RouterOptions{})}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActorHeader, "nurse-1")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) loadScenario(t *testing.T, id string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func center() ScopeDTO   { return toScopeDTO(scenarioCenter) }
func region() ScopeDTO   { return toScopeDTO(scenarioRegion) }
func district() ScopeDTO { return toScopeDTO(scenarioDistrict) }

// =============================================================================
// ROUTING & ERRORS
// =============================================================================

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint_MountedWhenConfigured(t *testing.T) {
	// GIVEN: A router with a metrics handler and an instrumented handler
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	h := NewHandler(memory.New(), Options{
		Clock:    stock.FixedClock(testToday.Time),
		Observer: metrics,
	})
	router := NewRouter(h, RouterOptions{Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})})

	// WHEN: An operation runs and /metrics is scraped
	_, err := h.Inventory.SweepExpired(context.Background())
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	// THEN: The operation counter is exposed
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vaccine_stock_operations_total")
}

func TestMetricsEndpoint_AbsentByDefault(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddLot_ValidationErrors(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario(t, "fefo-reservation")

	tests := []struct {
		name string
		body any
	}{
		{"zero quantity", AddLotRequest{VaccineID: "opv", Scope: center(), Quantity: 0, ExpirationDate: "2025-06-01"}},
		{"bad date", AddLotRequest{VaccineID: "opv", Scope: center(), Quantity: 5, ExpirationDate: "06/01/2025"}},
		{"bad scope kind", AddLotRequest{VaccineID: "opv", Scope: ScopeDTO{Kind: "planet", ID: "x"}, Quantity: 5, ExpirationDate: "2025-06-01"}},
		{"malformed json", "not an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/lots", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestGetLot_UnknownIs404(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/lots/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[ErrorResponse](t, rec).Code)
}

func TestStockSummary_InvalidScopeKind(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/stock/planet/earth", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// LOTS & STOCK
// =============================================================================

func TestAddLot_ThenSummary(t *testing.T) {
	// GIVEN: The FEFO scenario (15 opv doses at the health center, 1 held)
	s := newTestServer(t)
	s.loadScenario(t, "fefo-reservation")

	// WHEN: Adding a 7-dose lot
	rec := s.do(t, http.MethodPost, "/api/lots", AddLotRequest{
		VaccineID: "opv", Scope: center(), Quantity: 7, ExpirationDate: "2025-09-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	lot := decodeBody[LotDTO](t, rec)
	assert.Equal(t, int64(7), lot.RemainingQuantity)
	assert.Equal(t, "valid", lot.Status)

	// THEN: The summary counts remaining and held doses separately
	rec = s.do(t, http.MethodGet, "/api/stock/health_center/ikeja-phc/opv", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decodeBody[stock.StockSummary](t, rec)
	assert.Equal(t, int64(21), summary.TotalRemaining)
	assert.Equal(t, int64(1), summary.TotalHeld)
	assert.Equal(t, 3, summary.LotCount)
}

func TestStockSummary_UnknownVaccineIs404(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario(t, "fefo-reservation")

	rec := s.do(t, http.MethodGet, "/api/stock/health_center/ikeja-phc/yellow-fever", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemoveLot_WithStockIsConflict(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario(t, "fefo-reservation")

	rec := s.do(t, http.MethodGet, "/api/lots?vaccine_id=opv&scope_kind=health_center&scope_id=ikeja-phc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lots := decodeBody[map[string][]LotDTO](t, rec)["lots"]
	require.NotEmpty(t, lots)

	rec = s.do(t, http.MethodDelete, "/api/lots/"+lots[0].ID, nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "lot_not_removable", decodeBody[ErrorResponse](t, rec).Code)
}

func TestListLots_HalfScopeIsBadRequest(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/lots?scope_kind=district", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunSweep(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario(t, "fefo-reservation")

	rec := s.do(t, http.MethodPost, "/api/admin/sweep", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "swept", body["status"])
	assert.EqualValues(t, 0, body["expired"])
}

// =============================================================================
// TRANSFERS
// =============================================================================

func TestTransfer_InsufficientStockIsConflict(t *testing.T) {
	// GIVEN: A region holding 20 bcg doses
	s := newTestServer(t)
	require.NoError(t, s.h.applyCatalog(context.Background(), withRegionStock(baseCatalogForTest(), 20)))

	// WHEN: Requesting 25
	rec := s.do(t, http.MethodPost, "/api/transfers", CreateTransferRequest{
		VaccineID: "bcg", From: region(), To: district(), Quantity: 25,
	})

	// THEN: 409 with the insufficient stock code
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "insufficient_stock", resp.Code)
	assert.False(t, resp.Retryable)
}

func TestTransfer_SkippingALevelIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.h.applyCatalog(context.Background(), withRegionStock(baseCatalogForTest(), 20)))

	rec := s.do(t, http.MethodPost, "/api/transfers", CreateTransferRequest{
		VaccineID: "bcg", From: region(), To: center(), Quantity: 5,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_transfer_scope", decodeBody[ErrorResponse](t, rec).Code)
}

func TestTransfer_ConfirmLifecycle(t *testing.T) {
	// GIVEN: A pending transfer of 20 doses from the region
	s := newTestServer(t)
	s.loadScenario(t, "transfer-contention")

	rec := s.do(t, http.MethodGet, "/api/transfers?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	transfers := decodeBody[map[string][]TransferDTO](t, rec)["transfers"]
	require.Len(t, transfers, 1)
	id := transfers[0].ID

	// WHEN: The district confirms
	rec = s.do(t, http.MethodPost, "/api/transfers/"+id+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	confirmed := decodeBody[TransferDTO](t, rec)

	// THEN: The transfer is confirmed by the actor and the district holds 20
	assert.Equal(t, "confirmed", confirmed.Status)
	assert.Equal(t, "nurse-1", confirmed.ConfirmedBy)
	assert.NotEmpty(t, confirmed.DerivedLots)

	rec = s.do(t, http.MethodGet, "/api/stock/district/ikeja/bcg", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(20), decodeBody[stock.StockSummary](t, rec).TotalRemaining)

	// AND: A second confirm is refused
	rec = s.do(t, http.MethodPost, "/api/transfers/"+id+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_processed", decodeBody[ErrorResponse](t, rec).Code)
}

func TestTransfer_CancelReturnsStock(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario(t, "transfer-contention")

	rec := s.do(t, http.MethodGet, "/api/transfers", nil)
	id := decodeBody[map[string][]TransferDTO](t, rec)["transfers"][0].ID

	rec = s.do(t, http.MethodPost, "/api/transfers/"+id+"/cancel", CloseTransferRequest{Reason: "truck broke down"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decodeBody[TransferDTO](t, rec)
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.Equal(t, "truck broke down", cancelled.Reason)

	rec = s.do(t, http.MethodGet, "/api/stock/regional/lagos/bcg", nil)
	summary := decodeBody[stock.StockSummary](t, rec)
	assert.Equal(t, int64(20), summary.TotalRemaining)
	assert.Equal(t, int64(0), summary.TotalHeld)
}

func TestTransfer_RejectWithoutBody(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario(t, "transfer-contention")

	rec := s.do(t, http.MethodGet, "/api/transfers", nil)
	id := decodeBody[map[string][]TransferDTO](t, rec)["transfers"][0].ID

	rec = s.do(t, http.MethodPost, "/api/transfers/"+id+"/reject", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decodeBody[TransferDTO](t, rec).Status)
}

// =============================================================================
// APPOINTMENTS
// =============================================================================

func TestScheduleAppointment_GenderMismatch(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario(t, "fefo-reservation")

	rec := s.do(t, http.MethodPost, "/api/appointments", ScheduleRequest{
		ChildID: "tunde", VaccineID: "hpv", Date: "2025-03-05",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "vaccine_gender_mismatch", decodeBody[ErrorResponse](t, rec).Code)
}

func TestScheduleAppointment_NoStock(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario(t, "fefo-reservation")

	rec := s.do(t, http.MethodPost, "/api/appointments", ScheduleRequest{
		ChildID: "ada", VaccineID: "penta", Date: "2025-03-05",
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_stock", decodeBody[ErrorResponse](t, rec).Code)
}


func TestAppointment_RescheduleMovesHoldPastExpiry(t *testing.T) {
	// GIVEN: Ada booked in 5 days, holding a dose of the lot expiring in 10
	s := newTestServer(t)
	s.loadScenario(t, "fefo-reservation")
	appt := onlyAppointment(t, s, "ada")

	// WHEN: The appointment moves to 15 days out
	rec := s.do(t, http.MethodPost, "/api/appointments/"+appt.ID+"/reschedule", RescheduleRequest{
		Date: testToday.AddDays(15).String(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, testToday.AddDays(15).String(), decodeBody[AppointmentDTO](t, rec).ScheduledFor)

	// THEN: The hold now sits on the lot expiring in 30 days
	held := heldByExpiry(t, s)
	assert.Equal(t, int64(0), held[testToday.AddDays(10).String()])
	assert.Equal(t, int64(1), held[testToday.AddDays(30).String()])
}

func TestAppointment_Complete(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario(t, "fefo-reservation")
	appt := onlyAppointment(t, s, "ada")

	rec := s.do(t, http.MethodPost, "/api/appointments/"+appt.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decodeBody[CompletionDTO](t, rec)
	assert.Equal(t, 1, done.Dose)
	assert.Equal(t, "nurse-1", done.AdministeredBy)

	rec = s.do(t, http.MethodGet, "/api/stock/health_center/ikeja-phc/opv", nil)
	summary := decodeBody[stock.StockSummary](t, rec)
	assert.Equal(t, int64(0), summary.TotalHeld)
	assert.Equal(t, int64(1), summary.TotalDistributed)
	assert.Equal(t, int64(14), summary.TotalRemaining)

	rec = s.do(t, http.MethodGet, "/api/appointments?child_id=ada", nil)
	assert.Empty(t, decodeBody[map[string][]AppointmentDTO](t, rec)["appointments"])
}

func TestAppointment_CancelReleasesAndIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario(t, "fefo-reservation")
	appt := onlyAppointment(t, s, "ada")

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/api/appointments/"+appt.ID+"/cancel", CancelAppointmentRequest{Reason: "family travelled"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := s.do(t, http.MethodGet, "/api/stock/health_center/ikeja-phc/opv", nil)
	summary := decodeBody[stock.StockSummary](t, rec)
	assert.Equal(t, int64(0), summary.TotalHeld)
	assert.Equal(t, int64(15), summary.TotalRemaining)
}

func TestAppointment_CancelUnknownSucceeds(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/appointments/missing/cancel", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// VACCINE REQUESTS & CHILDREN
// =============================================================================

func TestRequest_CreateDuplicateApprove(t *testing.T) {
	// GIVEN: Ada with no opv history beyond the scenario booking
	s := newTestServer(t)
	s.loadScenario(t, "fefo-reservation")

	// WHEN: Requesting dose 2 twice
	rec := s.do(t, http.MethodPost, "/api/requests", CreateVaccineRequest{ChildID: "ada", VaccineID: "opv", Dose: 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[VaccineRequestDTO](t, rec)
	assert.Equal(t, "pending", created.Status)

	rec = s.do(t, http.MethodPost, "/api/requests", CreateVaccineRequest{ChildID: "ada", VaccineID: "opv", Dose: 2})

	// THEN: The second is refused and names the first
	require.Equal(t, http.StatusConflict, rec.Code)
	dup := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "duplicate_request", dup["code"])
	assert.Equal(t, created.ID, dup["existing_request_id"])

	// WHEN: Approving the first for a date after the dose 1 booking
	rec = s.do(t, http.MethodPost, "/api/requests/"+created.ID+"/approve", ApproveRequest{
		Date: testToday.AddDays(7).String(),
	})

	// THEN: An appointment for dose 2 exists and the request is scheduled
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decodeBody[AppointmentDTO](t, rec).Dose)

	rec = s.do(t, http.MethodGet, "/api/requests?child_id=ada", nil)
	reqs := decodeBody[map[string][]VaccineRequestDTO](t, rec)["requests"]
	require.Len(t, reqs, 1)
	assert.Equal(t, "scheduled", reqs[0].Status)
	assert.NotEmpty(t, reqs[0].AppointmentID)
}

func TestRequest_CancelTwiceIsConflict(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario(t, "fefo-reservation")

	rec := s.do(t, http.MethodPost, "/api/requests", CreateVaccineRequest{ChildID: "ada", VaccineID: "opv"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody[VaccineRequestDTO](t, rec).ID

	rec = s.do(t, http.MethodPost, "/api/requests/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decodeBody[VaccineRequestDTO](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/api/requests/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestNextDose(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario(t, "fefo-reservation")

	tests := []struct {
		name     string
		query    string
		status   int
		dose     int
		source   string
		rejected bool
	}{
		{"after scheduled dose 1", "vaccine_id=opv", http.StatusOK, 2, "history", false},
		{"requested wins", "vaccine_id=opv&dose=3", http.StatusOK, 3, "requested", false},
		{"negative dose rejected", "vaccine_id=opv&dose=-1", http.StatusOK, 0, "", true},
		{"missing vaccine", "", http.StatusBadRequest, 0, "", false},
		{"non numeric dose", "vaccine_id=opv&dose=two", http.StatusBadRequest, 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/children/ada/next-dose?"+tt.query, nil)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status != http.StatusOK {
				return
			}
			got := decodeBody[NextDoseDTO](t, rec)
			assert.Equal(t, tt.rejected, got.Rejected)
			assert.Equal(t, tt.dose, got.Dose)
			assert.Equal(t, tt.source, got.Source)
		})
	}
}

func TestTimeline_UnknownChildIs404(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario(t, "fefo-reservation")

	rec := s.do(t, http.MethodGet, "/api/children/nobody/next-dose?vaccine_id=opv", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// HELPERS
// =============================================================================

func onlyAppointment(t *testing.T, s *testServer, childID string) AppointmentDTO {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/api/appointments?child_id="+childID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	appts := decodeBody[map[string][]AppointmentDTO](t, rec)["appointments"]
	require.Len(t, appts, 1)
	return appts[0]
}

// heldByExpiry maps expiration date to held quantity for opv at the center.
func heldByExpiry(t *testing.T, s *testServer) map[string]int64 {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/api/lots?vaccine_id=opv&scope_kind=health_center&scope_id=ikeja-phc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := make(map[string]int64)
	for _, lot := range decodeBody[map[string][]LotDTO](t, rec)["lots"] {
		out[lot.ExpirationDate] += lot.HeldQuantity
	}
	return out
}

func baseCatalogForTest() factory.CatalogJSON { return baseCatalog(testToday) }

func withRegionStock(cj factory.CatalogJSON, quantity int64) factory.CatalogJSON {
	cj.Lots = append(cj.Lots, factory.LotJSON{
		VaccineID: "bcg", Scope: scenarioRegion, Quantity: quantity, ExpiresInDays: expiresIn(60),
	})
	return cj
}
