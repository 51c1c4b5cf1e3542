/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with a scope tree,
	vaccines, children and stock lots, then drive the services into an
	interesting state. Each scenario demonstrates one allocation or
	sequencing rule.

AVAILABLE SCENARIOS:

	fefo-reservation:   two lots at a health center, a booking in 5 days
	                    draws from the lot expiring first (10 days)
	expiry-exclusion:   same lots, a booking in 15 days skips the lot that
	                    would be expired by then
	dose-resequencing:  dose 1 administered, bookings at +30 and +60 days,
	                    then a booking at +10 days takes dose 2
	transfer-contention: a region holding exactly 20 doses ships all 20,
	                    leaving nothing for a second transfer

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Load the base catalog through the factory (dates relative to today)
 3. Add scenario lots
 4. Run service calls (schedule, complete, transfer)

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "fefo-reservation"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: handler wiring
  - factory/catalog.go: catalog loading
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/vaccine-stock/factory"
	"github.com/warp/vaccine-stock/stock"
	"github.com/warp/vaccine-stock/vaccination"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// Scope tree shared by every scenario.
var (
	scenarioNational = stock.NewScope(stock.ScopeNational, "ng")
	scenarioRegion   = stock.NewScope(stock.ScopeRegional, "lagos")
	scenarioDistrict = stock.NewScope(stock.ScopeDistrict, "ikeja")
	scenarioCenter   = stock.NewScope(stock.ScopeHealthCenter, "ikeja-phc")
)

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, h *Handler) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "fefo-reservation",
			Name:        "FEFO Reservation",
			Description: "Booking in 5 days draws from the lot expiring in 10 days before the one expiring in 30",
		},
		load: func(ctx context.Context, h *Handler) error { return h.loadFEFOScenario(ctx, 5) },
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "expiry-exclusion",
			Name:        "Expiry Exclusion",
			Description: "Booking in 15 days skips the lot that expires in 10 days",
		},
		load: func(ctx context.Context, h *Handler) error { return h.loadFEFOScenario(ctx, 15) },
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "dose-resequencing",
			Name:        "Dose Resequencing",
			Description: "An earlier booking takes dose 2 and later bookings shift to doses 3 and 4",
		},
		load: func(ctx context.Context, h *Handler) error { return h.loadResequencingScenario(ctx) },
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "transfer-contention",
			Name:        "Transfer Contention",
			Description: "A region ships its last 20 doses; any further transfer is refused",
		},
		load: func(ctx context.Context, h *Handler) error { return h.loadTransferScenario(ctx) },
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, 0, len(scenarios))
	for _, s := range scenarios {
		dtos = append(dtos, s.ScenarioDTO)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if s, ok := findScenario(current); ok {
		writeJSON(w, http.StatusOK, s.ScenarioDTO)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeDomainError(w, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := s.load(ctx, h); err != nil {
		writeDomainError(w, fmt.Sprintf("Failed to load scenario %s", s.ID), err)
		return
	}
	h.currentScenario = s.ID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeDomainError(w, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// baseCatalog is the reference data every scenario starts from.
func baseCatalog(today stock.Date) factory.CatalogJSON {
	scope := func(s stock.Scope, name string, parent *stock.Scope) factory.ScopeJSON {
		return factory.ScopeJSON{Kind: string(s.Kind), ID: s.ID, Name: name, Parent: parent}
	}
	return factory.CatalogJSON{
		Vaccines: []factory.VaccineJSON{
			{ID: "bcg", Name: "BCG", RequiredDoses: 1},
			{ID: "opv", Name: "Oral Polio", RequiredDoses: 4},
			{ID: "penta", Name: "Pentavalent", RequiredDoses: 3},
			{ID: "hpv", Name: "HPV", RequiredDoses: 2, GenderRestriction: string(stock.GenderFemaleOnly)},
		},
		Scopes: []factory.ScopeJSON{
			scope(scenarioNational, "Nigeria", nil),
			scope(scenarioRegion, "Lagos", &scenarioNational),
			scope(scenarioDistrict, "Ikeja", &scenarioRegion),
			scope(scenarioCenter, "Ikeja PHC", &scenarioDistrict),
		},
		Children: []factory.ChildJSON{
			{ID: "ada", Name: "Ada Obi", Gender: string(vaccination.GenderFemale), BirthDate: today.AddDays(-60), HealthCenter: scenarioCenter},
			{ID: "tunde", Name: "Tunde Bello", Gender: string(vaccination.GenderMale), BirthDate: today.AddDays(-120), HealthCenter: scenarioCenter},
		},
	}
}

func expiresIn(days int) *int { return &days }

func (h *Handler) applyCatalog(ctx context.Context, cj factory.CatalogJSON) error {
	catalog, err := h.Catalogs.FromJSON(cj)
	if err != nil {
		return err
	}
	_, err = catalog.Apply(ctx, h.Store, h.Clock)
	return err
}

// loadFEFOScenario stocks the health center with L1 (10 doses, 30 days)
// and L2 (5 doses, 10 days), then books Ada in bookInDays days.
func (h *Handler) loadFEFOScenario(ctx context.Context, bookInDays int) error {
	today := h.Clock.Today()
	cj := baseCatalog(today)
	cj.Lots = []factory.LotJSON{
		{VaccineID: "opv", Scope: scenarioCenter, Quantity: 10, ExpiresInDays: expiresIn(30)},
		{VaccineID: "opv", Scope: scenarioCenter, Quantity: 5, ExpiresInDays: expiresIn(10)},
	}
	if err := h.applyCatalog(ctx, cj); err != nil {
		return err
	}

	_, err := h.Vaccination.Schedule(ctx, vaccination.ScheduleRequest{
		ChildID:   "ada",
		VaccineID: "opv",
		Date:      today.AddDays(bookInDays),
		PlannerID: "scenario",
	})
	return err
}

// loadResequencingScenario administers dose 1 today, books +30 and +60,
// then inserts a booking at +10.
func (h *Handler) loadResequencingScenario(ctx context.Context) error {
	today := h.Clock.Today()
	cj := baseCatalog(today)
	cj.Lots = []factory.LotJSON{
		{VaccineID: "opv", Scope: scenarioCenter, Quantity: 20, ExpiresInDays: expiresIn(180)},
	}
	cj.Timeline = []factory.TimelineJSON{
		{Kind: string(vaccination.KindDue), ChildID: "tunde", VaccineID: "opv", CalendarID: "opv-birth", Dose: 1, Date: today},
	}
	if err := h.applyCatalog(ctx, cj); err != nil {
		return err
	}

	first, err := h.Vaccination.Schedule(ctx, vaccination.ScheduleRequest{
		ChildID: "tunde", VaccineID: "opv", CalendarID: "opv-birth", Date: today, PlannerID: "scenario",
	})
	if err != nil {
		return err
	}
	if _, err := h.Vaccination.Complete(ctx, first.ID, "scenario"); err != nil {
		return err
	}

	for _, days := range []int{30, 60, 10} {
		if _, err := h.Vaccination.Schedule(ctx, vaccination.ScheduleRequest{
			ChildID: "tunde", VaccineID: "opv", Date: today.AddDays(days), PlannerID: "scenario",
		}); err != nil {
			return fmt.Errorf("booking at +%d days: %w", days, err)
		}
	}
	return nil
}

// loadTransferScenario gives the region exactly 20 doses and ships them
// all to the district. The transfer is left PENDING.
func (h *Handler) loadTransferScenario(ctx context.Context) error {
	cj := baseCatalog(h.Clock.Today())
	cj.Lots = []factory.LotJSON{
		{VaccineID: "bcg", Scope: scenarioRegion, Quantity: 12, ExpiresInDays: expiresIn(60)},
		{VaccineID: "bcg", Scope: scenarioRegion, Quantity: 8, ExpiresInDays: expiresIn(90)},
	}
	if err := h.applyCatalog(ctx, cj); err != nil {
		return err
	}

	_, err := h.Transfers.Create(ctx, stock.CreateTransferRequest{
		VaccineID: "bcg",
		From:      scenarioRegion,
		To:        scenarioDistrict,
		Quantity:  20,
		Actor:     "scenario",
	})
	return err
}
