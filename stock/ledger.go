/*
ledger.go - Lot Ledger

PURPOSE:
  The Ledger is the only component that changes lot quantities. Every
  operation loads the current row, applies the change, checks the lot
  invariant and writes it back with an optimistic version check.

OPERATIONS:
  ListAllocatable  VALID lots with remaining > 0 expiring after notBefore,
                   FEFO ordered (expiration asc, then creation order)
  Hold             remaining -> held
  Release          held -> remaining
  Consume          held -> distributed (dose administered)
  AddFresh         new root lot (no lineage)
  Split            source (remaining or held) -> distributed, plus a new
                   derived lot at the destination with SourceLotID set
  Remove           delete an exhausted/expired lot (remaining == held == 0)
  RefreshStatus    store the display status derived from the clock

TRANSACTIONS:
  The Ledger works on whatever Store it is given. Workflows construct it
  over the transactional view inside TxStore.WithTx so that the check in
  Hold and the write happen in the same transaction:

    store.WithTx(ctx, func(tx stock.Store) error {
        ledger := stock.NewLedger(tx, clock)
        _, err := ledger.Hold(ctx, lotID, 1)
        return err
    })

SEE ALSO:
  - allocation.go: FEFO planner feeding Hold
  - store.go: optimistic version contract
*/
package stock

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store Store
	Clock Clock
}

func NewLedger(store Store, clock Clock) *Ledger {
	return &Ledger{Store: store, Clock: clock}
}

// ListAllocatable returns the lots new holds may draw from, in FEFO order.
// A lot expiring on or before notBefore is excluded even if VALID today.
func (l *Ledger) ListAllocatable(ctx context.Context, vaccineID VaccineID, scope Scope, notBefore Date) ([]Lot, error) {
	lots, err := l.Store.ListLots(ctx, LotFilter{VaccineID: vaccineID, Scope: &scope})
	if err != nil {
		return nil, err
	}
	today := l.Clock.Today()
	var result []Lot
	for _, lot := range lots {
		if lot.IsAllocatable(today, notBefore) {
			result = append(result, lot)
		}
	}
	SortFEFO(result)
	return result, nil
}

// Hold moves quantity from remaining to held. Fails with
// InsufficientStockError if the lot no longer has enough remaining.
func (l *Ledger) Hold(ctx context.Context, lotID LotID, quantity int64) (*Lot, error) {
	return l.mutate(ctx, lotID, quantity, func(lot *Lot) error {
		if lot.RemainingQuantity < quantity {
			return newInsufficientStock(lot.VaccineID, lot.Scope, l.Clock.Today(), quantity, lot.RemainingQuantity)
		}
		lot.RemainingQuantity -= quantity
		lot.HeldQuantity += quantity
		return nil
	})
}

// Release reverses Hold.
func (l *Ledger) Release(ctx context.Context, lotID LotID, quantity int64) (*Lot, error) {
	return l.mutate(ctx, lotID, quantity, func(lot *Lot) error {
		if lot.HeldQuantity < quantity {
			return &InvariantError{LotID: lot.ID, Reason: fmt.Sprintf("release %d exceeds held %d", quantity, lot.HeldQuantity)}
		}
		lot.HeldQuantity -= quantity
		lot.RemainingQuantity += quantity
		return nil
	})
}

// Consume records administration of held doses.
func (l *Ledger) Consume(ctx context.Context, lotID LotID, quantity int64) (*Lot, error) {
	return l.mutate(ctx, lotID, quantity, func(lot *Lot) error {
		if lot.HeldQuantity < quantity {
			return &InvariantError{LotID: lot.ID, Reason: fmt.Sprintf("consume %d exceeds held %d", quantity, lot.HeldQuantity)}
		}
		lot.HeldQuantity -= quantity
		lot.DistributedQuantity += quantity
		return nil
	})
}

// AddFresh creates a root lot with all quantity remaining.
func (l *Ledger) AddFresh(ctx context.Context, vaccineID VaccineID, scope Scope, quantity int64, expiration Date) (*Lot, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("add stock: %w", err)
	}
	if expiration.IsZero() {
		return nil, fmt.Errorf("add stock: expiration date is required")
	}
	if _, err := l.Store.GetVaccine(ctx, vaccineID); err != nil {
		return nil, err
	}
	if _, err := l.Store.GetScope(ctx, scope); err != nil {
		return nil, err
	}

	now := l.Clock.Now()
	lot := &Lot{
		ID:                LotID(uuid.NewString()),
		VaccineID:         vaccineID,
		Scope:             scope,
		OriginalQuantity:  quantity,
		RemainingQuantity: quantity,
		ExpirationDate:    expiration,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	lot.StoredStatus = lot.StatusOn(DateOf(now))
	if err := l.Store.InsertLot(ctx, lot); err != nil {
		return nil, fmt.Errorf("failed to insert lot: %w", err)
	}
	return lot, nil
}

// Split moves quantity off sourceID into a new lot owned by destination.
// When fromHeld is true the quantity comes out of the source's held
// counter (pending transfer), otherwise out of remaining. Either way the
// source records it as distributed and its DerivedCount is incremented.
func (l *Ledger) Split(ctx context.Context, sourceID LotID, quantity int64, destination Scope, fromHeld bool) (*Lot, error) {
	source, err := l.mutate(ctx, sourceID, quantity, func(lot *Lot) error {
		if fromHeld {
			if lot.HeldQuantity < quantity {
				return &InvariantError{LotID: lot.ID, Reason: fmt.Sprintf("split %d exceeds held %d", quantity, lot.HeldQuantity)}
			}
			lot.HeldQuantity -= quantity
		} else {
			if lot.RemainingQuantity < quantity {
				return newInsufficientStock(lot.VaccineID, lot.Scope, l.Clock.Today(), quantity, lot.RemainingQuantity)
			}
			lot.RemainingQuantity -= quantity
		}
		lot.DistributedQuantity += quantity
		lot.DerivedCount++
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := l.Clock.Now()
	derived := &Lot{
		ID:                LotID(uuid.NewString()),
		VaccineID:         source.VaccineID,
		Scope:             destination,
		OriginalQuantity:  quantity,
		RemainingQuantity: quantity,
		ExpirationDate:    source.ExpirationDate,
		SourceLotID:       source.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	derived.StoredStatus = derived.StatusOn(DateOf(now))
	if err := l.Store.InsertLot(ctx, derived); err != nil {
		return nil, fmt.Errorf("failed to insert derived lot: %w", err)
	}
	return derived, nil
}

// Remove deletes a lot with nothing left to allocate or release.
func (l *Ledger) Remove(ctx context.Context, lotID LotID) error {
	lot, err := l.Store.GetLot(ctx, lotID)
	if err != nil {
		return err
	}
	if lot.RemainingQuantity != 0 || lot.HeldQuantity != 0 {
		return fmt.Errorf("lot %s (remaining %d, held %d): %w",
			lot.ID, lot.RemainingQuantity, lot.HeldQuantity, ErrLotNotRemovable)
	}
	return l.Store.DeleteLot(ctx, lotID)
}

// mutate is the single read-modify-write path for lot counters.
func (l *Ledger) mutate(ctx context.Context, lotID LotID, quantity int64, apply func(*Lot) error) (*Lot, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	lot, err := l.Store.GetLot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if err := apply(lot); err != nil {
		return nil, err
	}
	if err := lot.CheckInvariant(); err != nil {
		return nil, err
	}
	lot.UpdatedAt = l.Clock.Now()
	if err := l.Store.UpdateLot(ctx, lot); err != nil {
		return nil, err
	}
	return lot, nil
}

// RefreshStatus stores the status derived for today and reports whether it
// changed. The stored status is display-only; allocation never reads it.
func (l *Ledger) RefreshStatus(ctx context.Context, lot *Lot) (bool, error) {
	status := lot.StatusOn(l.Clock.Today())
	if status == lot.StoredStatus {
		return false, nil
	}
	lot.StoredStatus = status
	lot.UpdatedAt = l.Clock.Now()
	if err := l.Store.UpdateLot(ctx, lot); err != nil {
		return false, err
	}
	return true, nil
}
