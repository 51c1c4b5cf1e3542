/*
allocation.go - First-expiring-first-out allocation

PURPOSE:
  Decides which lots a request draws from. Given the allocatable lots of a
  (vaccine, scope) in FEFO order, walk them taking min(remaining, needed)
  from each until the request is covered.

    lots:    L2 (exp +10d, 5 left)   L1 (exp +30d, 10 left)
    request: 7 doses
    plan:    L2 x5, L1 x2

ALL OR NOTHING:
  Planning is a pure function. If the eligible lots cannot cover the
  request, the plan is unsatisfiable and nothing is held. Only a
  satisfiable plan is turned into Hold calls, all inside the caller's
  transaction; a Hold that loses a race aborts the whole transaction.

SEE ALSO:
  - ledger.go: ListAllocatable and Hold
  - reservation.go, transfer.go: the two callers
*/
package stock

import (
	"context"
	"sort"
)

// =============================================================================
// FEFO ORDERING
// =============================================================================

// SortFEFO orders lots by expiration date, oldest lot first on ties.
func SortFEFO(lots []Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		if !a.ExpirationDate.Equal(b.ExpirationDate) {
			return a.ExpirationDate.Before(b.ExpirationDate)
		}
		return a.Sequence < b.Sequence
	})
}

// =============================================================================
// ALLOCATION PLAN
// =============================================================================

// AllocationPlan describes how a request is split across lots.
type AllocationPlan struct {
	Requested   int64
	Available   int64
	Allocations []Allocation

	IsSatisfiable bool
	Shortfall     int64
}

// PlanFEFO greedily allocates requested doses from lots, which must already
// be in FEFO order and filtered to allocatable lots.
func PlanFEFO(lots []Lot, requested int64) *AllocationPlan {
	plan := &AllocationPlan{Requested: requested}
	for _, lot := range lots {
		if lot.RemainingQuantity > 0 {
			plan.Available += lot.RemainingQuantity
		}
	}

	needed := requested
	for _, lot := range lots {
		if needed == 0 {
			break
		}
		if lot.RemainingQuantity <= 0 {
			continue
		}
		take := min(lot.RemainingQuantity, needed)
		plan.Allocations = append(plan.Allocations, Allocation{
			LotID:          lot.ID,
			Quantity:       take,
			ExpirationDate: lot.ExpirationDate,
		})
		needed -= take
	}

	plan.IsSatisfiable = needed == 0
	plan.Shortfall = needed
	if !plan.IsSatisfiable {
		plan.Allocations = nil
	}
	return plan
}

// =============================================================================
// ALLOCATE - Plan and hold
// =============================================================================

// Allocate plans a FEFO allocation for quantity doses usable on notBefore and
// holds every selected share. Must run inside the caller's transaction.
func (l *Ledger) Allocate(ctx context.Context, vaccineID VaccineID, scope Scope, quantity int64, notBefore Date) ([]Allocation, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	lots, err := l.ListAllocatable(ctx, vaccineID, scope, notBefore)
	if err != nil {
		return nil, err
	}

	plan := PlanFEFO(lots, quantity)
	if !plan.IsSatisfiable {
		return nil, newInsufficientStock(vaccineID, scope, notBefore, quantity, plan.Available)
	}

	for _, alloc := range plan.Allocations {
		if _, err := l.Hold(ctx, alloc.LotID, alloc.Quantity); err != nil {
			return nil, err
		}
	}
	return plan.Allocations, nil
}

// ReleaseAll reverses every allocation.
func (l *Ledger) ReleaseAll(ctx context.Context, allocs []Allocation) error {
	for _, alloc := range allocs {
		if _, err := l.Release(ctx, alloc.LotID, alloc.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// AllocatableTotal sums the remaining quantity usable on notBefore.
func (l *Ledger) AllocatableTotal(ctx context.Context, vaccineID VaccineID, scope Scope, notBefore Date) (int64, error) {
	lots, err := l.ListAllocatable(ctx, vaccineID, scope, notBefore)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, lot := range lots {
		total += lot.RemainingQuantity
	}
	return total, nil
}
