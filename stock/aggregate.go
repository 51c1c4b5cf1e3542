/*
aggregate.go - Stock Aggregate View

PURPOSE:
  Read-only summary figures per (vaccine, scope), always computed from the
  lot rows. There is no stored total that could drift from its lots.

    lots ──► Summarize(today) ──► StockSummary
                                   TotalRemaining   (VALID lots only)
                                   ExpiredQuantity  (remaining in EXPIRED lots)
                                   LotCount, ExpiredLotCount
                                   NearestExpiration

  The view is for display and reporting. Hold decisions only ever read the
  live lot row through the Ledger.

SEE ALSO:
  - ledger.go: the writer of the rows summarized here
*/
package stock

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SUMMARY
// =============================================================================

// StockSummary is the aggregate of one vaccine's lots at one scope.
type StockSummary struct {
	VaccineID VaccineID `json:"vaccine_id"`
	Scope     Scope     `json:"scope"`

	TotalRemaining   int64 `json:"total_remaining"`
	TotalHeld        int64 `json:"total_held"`
	TotalDistributed int64 `json:"total_distributed"`

	LotCount        int   `json:"lot_count"`
	ExpiredLotCount int   `json:"expired_lot_count"`
	ExpiredQuantity int64 `json:"expired_quantity"`

	// NearestExpiration is the earliest expiration among VALID lots that
	// still have remaining doses. Zero when there are none.
	NearestExpiration Date `json:"nearest_expiration_date"`

	// ExpiredShare is ExpiredQuantity over all undistributed remaining doses.
	ExpiredShare decimal.Decimal `json:"expired_share"`
	// HeldShare is TotalHeld over TotalHeld + TotalRemaining.
	HeldShare decimal.Decimal `json:"held_share"`

	AsOf Date `json:"as_of"`
}

// Summarize computes the summary of lots as of today. Lots belonging to
// another vaccine or scope are ignored.
func Summarize(vaccineID VaccineID, scope Scope, lots []Lot, today Date) StockSummary {
	s := StockSummary{VaccineID: vaccineID, Scope: scope, AsOf: today}
	for _, lot := range lots {
		if lot.VaccineID != vaccineID || lot.Scope != scope {
			continue
		}
		s.LotCount++
		s.TotalHeld += lot.HeldQuantity
		s.TotalDistributed += lot.DistributedQuantity

		if lot.StatusOn(today) == LotExpired {
			s.ExpiredLotCount++
			s.ExpiredQuantity += lot.RemainingQuantity
			continue
		}
		s.TotalRemaining += lot.RemainingQuantity
		if lot.RemainingQuantity > 0 {
			s.NearestExpiration = MinDate(s.NearestExpiration, lot.ExpirationDate)
		}
	}
	s.ExpiredShare = ratio(s.ExpiredQuantity, s.ExpiredQuantity+s.TotalRemaining)
	s.HeldShare = ratio(s.TotalHeld, s.TotalHeld+s.TotalRemaining)
	return s
}

func ratio(part, whole int64) decimal.Decimal {
	if whole == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(part).Div(decimal.NewFromInt(whole)).Round(4)
}

// =============================================================================
// AGGREGATE VIEW
// =============================================================================

// LotView is a lot with its status derived for today.
type LotView struct {
	Lot
	Status LotStatus
}

// AggregateView serves summaries and lot listings to reporting callers.
type AggregateView struct {
	Store Store
	Clock Clock
}

func NewAggregateView(store Store, clock Clock) *AggregateView {
	return &AggregateView{Store: store, Clock: clock}
}

// Summary returns the aggregate of one vaccine at one scope.
func (v *AggregateView) Summary(ctx context.Context, vaccineID VaccineID, scope Scope) (*StockSummary, error) {
	lots, err := v.Store.ListLots(ctx, LotFilter{VaccineID: vaccineID, Scope: &scope})
	if err != nil {
		return nil, err
	}
	s := Summarize(vaccineID, scope, lots, v.Clock.Today())
	return &s, nil
}

// Summaries returns one summary per vaccine held at scope, ordered by
// vaccine id.
func (v *AggregateView) Summaries(ctx context.Context, scope Scope) ([]StockSummary, error) {
	lots, err := v.Store.ListLots(ctx, LotFilter{Scope: &scope})
	if err != nil {
		return nil, err
	}
	byVaccine := make(map[VaccineID][]Lot)
	for _, lot := range lots {
		byVaccine[lot.VaccineID] = append(byVaccine[lot.VaccineID], lot)
	}

	today := v.Clock.Today()
	result := make([]StockSummary, 0, len(byVaccine))
	for id, group := range byVaccine {
		result = append(result, Summarize(id, scope, group, today))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].VaccineID < result[j].VaccineID })
	return result, nil
}

// Lots lists lots with their derived status, in FEFO order.
func (v *AggregateView) Lots(ctx context.Context, filter LotFilter) ([]LotView, error) {
	lots, err := v.Store.ListLots(ctx, filter)
	if err != nil {
		return nil, err
	}
	SortFEFO(lots)
	today := v.Clock.Today()
	views := make([]LotView, len(lots))
	for i, lot := range lots {
		views[i] = LotView{Lot: lot, Status: lot.StatusOn(today)}
	}
	return views, nil
}
