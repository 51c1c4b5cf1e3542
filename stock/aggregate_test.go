package stock_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vaccine-stock/stock"
)

func TestSummarize_ComputesFromLots(t *testing.T) {
	lots := []stock.Lot{
		{VaccineID: bcg, Scope: center, OriginalQuantity: 10, RemainingQuantity: 6, HeldQuantity: 2, DistributedQuantity: 2, ExpirationDate: day(30)},
		{VaccineID: bcg, Scope: center, OriginalQuantity: 5, RemainingQuantity: 5, ExpirationDate: day(10)},
		{VaccineID: bcg, Scope: center, OriginalQuantity: 4, RemainingQuantity: 3, DistributedQuantity: 1, ExpirationDate: day(-2)},
		{VaccineID: bcg, Scope: center, OriginalQuantity: 3, DistributedQuantity: 3, ExpirationDate: day(5)},
		{VaccineID: "opv", Scope: center, OriginalQuantity: 99, RemainingQuantity: 99, ExpirationDate: day(1)},
		{VaccineID: bcg, Scope: district, OriginalQuantity: 99, RemainingQuantity: 99, ExpirationDate: day(1)},
	}

	s := stock.Summarize(bcg, center, lots, today)

	assert.Equal(t, int64(11), s.TotalRemaining, "expired remaining is not counted")
	assert.Equal(t, int64(2), s.TotalHeld)
	assert.Equal(t, int64(6), s.TotalDistributed)
	assert.Equal(t, 4, s.LotCount)
	assert.Equal(t, 1, s.ExpiredLotCount)
	assert.Equal(t, int64(3), s.ExpiredQuantity)
	assert.True(t, s.NearestExpiration.Equal(day(10)), "exhausted lot expiring in 5 days is ignored")
	assert.True(t, decimal.RequireFromString("0.2143").Equal(s.ExpiredShare), "got %s", s.ExpiredShare)
	assert.True(t, decimal.RequireFromString("0.1538").Equal(s.HeldShare), "got %s", s.HeldShare)
}

func TestSummarize_NoLots(t *testing.T) {
	s := stock.Summarize(bcg, center, nil, today)

	assert.Zero(t, s.TotalRemaining)
	assert.True(t, s.NearestExpiration.IsZero())
	assert.True(t, s.ExpiredShare.IsZero())
}

func TestAggregateView_TracksLedgerWithoutStoredTotals(t *testing.T) {
	// GIVEN: Lots at a health center and a reservation against them
	// WHEN: Reading the summary after each change
	// THEN: Totals always reflect the lot rows

	f := newFixture(t)
	view := stock.NewAggregateView(f.store, clock)
	f.addLot(t, center, 10, 30)
	f.addLot(t, center, 4, -1)

	s, err := view.Summary(f.ctx, bcg, center)
	require.NoError(t, err)
	assert.Equal(t, int64(10), s.TotalRemaining)
	assert.Equal(t, int64(4), s.ExpiredQuantity)

	_, err = f.reservations().Reserve(f.ctx, reserveOne("appt-1", day(1)))
	require.NoError(t, err)

	s, err = view.Summary(f.ctx, bcg, center)
	require.NoError(t, err)
	assert.Equal(t, int64(9), s.TotalRemaining)
	assert.Equal(t, int64(1), s.TotalHeld)

	all, err := view.Summaries(f.ctx, center)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, bcg, all[0].VaccineID)
}

func TestAggregateView_LotsCarryDerivedStatus(t *testing.T) {
	f := newFixture(t)
	view := stock.NewAggregateView(f.store, clock)
	valid := f.addLot(t, center, 10, 30)
	expired := f.addLot(t, center, 4, -1)

	lots, err := view.Lots(f.ctx, stock.LotFilter{Scope: &center})
	require.NoError(t, err)

	require.Len(t, lots, 2)
	assert.Equal(t, expired.ID, lots[0].ID)
	assert.Equal(t, stock.LotExpired, lots[0].Status)
	assert.Equal(t, valid.ID, lots[1].ID)
	assert.Equal(t, stock.LotValid, lots[1].Status)
}
