package stock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vaccine-stock/stock"
)

// =============================================================================
// PLANNER (PURE)
// =============================================================================

func TestPlanFEFO_SplitsAcrossLotsInOrder(t *testing.T) {
	lots := []stock.Lot{
		{ID: "L2", RemainingQuantity: 5, ExpirationDate: day(10)},
		{ID: "L1", RemainingQuantity: 10, ExpirationDate: day(30)},
	}

	plan := stock.PlanFEFO(lots, 7)

	require.True(t, plan.IsSatisfiable)
	assert.Equal(t, int64(15), plan.Available)
	assert.Equal(t, []stock.Allocation{
		{LotID: "L2", Quantity: 5, ExpirationDate: day(10)},
		{LotID: "L1", Quantity: 2, ExpirationDate: day(30)},
	}, plan.Allocations)
	assert.Equal(t, int64(7), stock.TotalQuantity(plan.Allocations))
}

func TestPlanFEFO_Unsatisfiable_AllocatesNothing(t *testing.T) {
	lots := []stock.Lot{
		{ID: "L1", RemainingQuantity: 3, ExpirationDate: day(10)},
	}

	plan := stock.PlanFEFO(lots, 4)

	assert.False(t, plan.IsSatisfiable)
	assert.Equal(t, int64(1), plan.Shortfall)
	assert.Nil(t, plan.Allocations)
}

func TestSortFEFO_TiesBrokenByCreationOrder(t *testing.T) {
	lots := []stock.Lot{
		{ID: "c", Sequence: 3, ExpirationDate: day(20)},
		{ID: "b", Sequence: 2, ExpirationDate: day(20)},
		{ID: "a", Sequence: 9, ExpirationDate: day(5)},
	}

	stock.SortFEFO(lots)

	assert.Equal(t, stock.LotID("a"), lots[0].ID)
	assert.Equal(t, stock.LotID("b"), lots[1].ID)
	assert.Equal(t, stock.LotID("c"), lots[2].ID)
}

// =============================================================================
// FEFO CORRECTNESS
// =============================================================================

func TestAllocate_DrawsEntirelyFromEarliestExpiringLot(t *testing.T) {
	// GIVEN: Lots expiring E1 < E2 < E3, each with enough doses
	// WHEN: Allocating no more than E1's remaining
	// THEN: Everything comes from the E1 lot

	f := newFixture(t)
	e3 := f.addLot(t, center, 10, 90)
	e1 := f.addLot(t, center, 10, 30)
	e2 := f.addLot(t, center, 10, 60)

	allocs, err := f.ledger.Allocate(f.ctx, bcg, center, 10, today)
	require.NoError(t, err)

	require.Len(t, allocs, 1)
	assert.Equal(t, e1.ID, allocs[0].LotID)
	assert.Equal(t, int64(10), f.lot(t, e1.ID).HeldQuantity)
	assert.Equal(t, int64(10), f.lot(t, e2.ID).RemainingQuantity)
	assert.Equal(t, int64(10), f.lot(t, e3.ID).RemainingQuantity)
}

func TestAllocate_Insufficient_HoldsNothing(t *testing.T) {
	f := newFixture(t)
	a := f.addLot(t, center, 3, 30)
	b := f.addLot(t, center, 3, 60)

	_, err := f.ledger.Allocate(f.ctx, bcg, center, 7, today)

	var insufficient *stock.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(7), insufficient.Requested)
	assert.Equal(t, int64(6), insufficient.Available)
	assert.NotEmpty(t, insufficient.UserMessage())
	assert.Equal(t, int64(3), f.lot(t, a.ID).RemainingQuantity)
	assert.Equal(t, int64(3), f.lot(t, b.ID).RemainingQuantity)
}

func TestAllocatableTotal_IgnoresOtherScopes(t *testing.T) {
	f := newFixture(t)
	f.addLot(t, center, 4, 30)
	f.addLot(t, district, 100, 30)

	total, err := f.ledger.AllocatableTotal(f.ctx, bcg, center, today)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestReserve_EarliestEligibleLotIsUsed(t *testing.T) {
	// GIVEN: L1 (10 left, expires in 30 days) and L2 (5 left, expires in 10 days)
	// WHEN: Reserving 1 dose for an appointment in 5 days
	// THEN: The dose comes from L2; L2 remaining 4, held 1

	f := newFixture(t)
	l1 := f.addLot(t, center, 10, 30)
	l2 := f.addLot(t, center, 5, 10)

	rs, err := f.reservations().Reserve(f.ctx, stock.ReserveRequest{
		AppointmentID: "appt-a", VaccineID: bcg, Scope: center, Quantity: 1, Date: day(5),
	})
	require.NoError(t, err)

	require.Len(t, rs, 1)
	assert.Equal(t, l2.ID, rs[0].LotID)
	got := f.lot(t, l2.ID)
	assert.Equal(t, int64(4), got.RemainingQuantity)
	assert.Equal(t, int64(1), got.HeldQuantity)
	assert.Equal(t, int64(10), f.lot(t, l1.ID).RemainingQuantity)
}

func TestReserve_LotExpiringBeforeAppointmentIsSkipped(t *testing.T) {
	// GIVEN: The same lots as the FEFO test above
	// WHEN: Reserving 1 dose for an appointment in 15 days
	// THEN: L2 would be expired by then, so the dose comes from L1

	f := newFixture(t)
	l1 := f.addLot(t, center, 10, 30)
	l2 := f.addLot(t, center, 5, 10)

	rs, err := f.reservations().Reserve(f.ctx, stock.ReserveRequest{
		AppointmentID: "appt-b", VaccineID: bcg, Scope: center, Quantity: 1, Date: day(15),
	})
	require.NoError(t, err)

	require.Len(t, rs, 1)
	assert.Equal(t, l1.ID, rs[0].LotID)
	assert.Equal(t, int64(9), f.lot(t, l1.ID).RemainingQuantity)
	assert.Equal(t, int64(5), f.lot(t, l2.ID).RemainingQuantity)
}
