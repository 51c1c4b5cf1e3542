package stock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vaccine-stock/stock"
)

func (f *fixture) inventory() *stock.Inventory {
	inv := stock.NewInventory(f.store, clock, f.events, nil)
	inv.Retry.Backoff = 0
	return inv
}

func TestInventory_AddAndRemoveLot(t *testing.T) {
	f := newFixture(t)
	inv := f.inventory()

	lot, err := inv.AddLot(f.ctx, stock.AddLotRequest{VaccineID: bcg, Scope: center, Quantity: 2, ExpirationDate: day(30)})
	require.NoError(t, err)
	assert.Equal(t, stock.LotValid, lot.StoredStatus)

	err = inv.RemoveLot(f.ctx, lot.ID)
	assert.ErrorIs(t, err, stock.ErrLotNotRemovable)

	m := f.reservations()
	_, err = m.Reserve(f.ctx, stock.ReserveRequest{AppointmentID: "a1", VaccineID: bcg, Scope: center, Quantity: 2, Date: day(1)})
	require.NoError(t, err)
	_, err = m.Consume(f.ctx, "a1")
	require.NoError(t, err)

	require.NoError(t, inv.RemoveLot(f.ctx, lot.ID))
	_, err = f.store.GetLot(f.ctx, lot.ID)
	assert.ErrorIs(t, err, stock.ErrLotNotFound)
}

func TestInventory_AddLotRejectsUnknownReferences(t *testing.T) {
	f := newFixture(t)
	inv := f.inventory()

	_, err := inv.AddLot(f.ctx, stock.AddLotRequest{VaccineID: "nope", Scope: center, Quantity: 1, ExpirationDate: day(30)})
	assert.ErrorIs(t, err, stock.ErrVaccineNotFound)

	_, err = inv.AddLot(f.ctx, stock.AddLotRequest{VaccineID: bcg, Scope: center, Quantity: 0, ExpirationDate: day(30)})
	assert.ErrorIs(t, err, stock.ErrInvalidQuantity)
}

func TestInventory_SweepExpired(t *testing.T) {
	// GIVEN: Lots stored as VALID ten days ago, one of which has since expired
	// WHEN: The sweep runs today
	// THEN: Only the expired lot flips, and one lot.expired event carries its stock

	f := newFixture(t)
	past := stock.NewLedger(f.store, stock.FixedClock(day(-10).Time))
	gone, err := past.AddFresh(f.ctx, bcg, center, 4, day(-1))
	require.NoError(t, err)
	fresh, err := past.AddFresh(f.ctx, bcg, center, 4, day(20))
	require.NoError(t, err)
	require.Equal(t, stock.LotValid, gone.StoredStatus)

	inv := f.inventory()
	changed, err := inv.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	assert.Equal(t, stock.LotExpired, f.lot(t, gone.ID).StoredStatus)
	assert.Equal(t, stock.LotValid, f.lot(t, fresh.ID).StoredStatus)

	expired := f.events.ofType(stock.EventLotExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, string(gone.ID), expired[0].Reference)
	assert.Equal(t, int64(4), expired[0].Quantity)
	assert.Equal(t, "Ikeja PHC", expired[0].ScopeName)

	again, err := inv.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, again)
	assert.Len(t, f.events.ofType(stock.EventLotExpired), 1)
}
