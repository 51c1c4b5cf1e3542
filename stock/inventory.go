package stock

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// =============================================================================
// INVENTORY - Transactional lot intake, removal and expiry sweep
// =============================================================================

// Inventory wraps the Ledger's lot-level operations in retried transactions.
type Inventory struct {
	Runner
	Clock Clock
}

func NewInventory(store TxStore, clock Clock, notifier Notifier, log *zap.Logger) *Inventory {
	return &Inventory{
		Runner: Runner{
			Store:    store,
			Retry:    DefaultRetryPolicy(),
			Notifier: notifier,
			Logger:   log,
		},
		Clock: clock,
	}
}

// AddLotRequest registers a delivery of fresh stock at a scope.
type AddLotRequest struct {
	VaccineID      VaccineID
	Scope          Scope
	Quantity       int64
	ExpirationDate Date
}

// AddLot creates a root lot.
func (i *Inventory) AddLot(ctx context.Context, req AddLotRequest) (*Lot, error) {
	var lot *Lot
	err := i.Run(ctx, "lot.add", func(tx Store, _ *Outbox) error {
		l, err := NewLedger(tx, i.Clock).AddFresh(ctx, req.VaccineID, req.Scope, req.Quantity, req.ExpirationDate)
		lot = l
		return err
	})
	if err != nil {
		return nil, err
	}
	i.logger().Info("lot added",
		zap.String("lot_id", string(lot.ID)),
		zap.String("vaccine_id", string(lot.VaccineID)),
		zap.String("scope", lot.Scope.String()),
		zap.Int64("quantity", lot.OriginalQuantity),
		zap.String("expires", lot.ExpirationDate.String()))
	return lot, nil
}

// RemoveLot deletes an exhausted or expired lot.
func (i *Inventory) RemoveLot(ctx context.Context, id LotID) error {
	return i.Run(ctx, "lot.remove", func(tx Store, _ *Outbox) error {
		return NewLedger(tx, i.Clock).Remove(ctx, id)
	})
}

// SweepExpired refreshes the stored status of every lot and emits
// lot.expired for each lot that turned EXPIRED with stock still on it.
// It returns the number of lots whose stored status changed.
func (i *Inventory) SweepExpired(ctx context.Context) (int, error) {
	changed := 0
	err := i.Run(ctx, "lot.sweep", func(tx Store, out *Outbox) error {
		changed = 0
		lots, err := tx.ListLots(ctx, LotFilter{})
		if err != nil {
			return fmt.Errorf("failed to list lots: %w", err)
		}
		ledger := NewLedger(tx, i.Clock)
		for idx := range lots {
			lot := &lots[idx]
			ok, err := ledger.RefreshStatus(ctx, lot)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			changed++
			if lot.StoredStatus != LotExpired || lot.RemainingQuantity+lot.HeldQuantity == 0 {
				continue
			}
			scope := lot.Scope
			out.Add(Describe(ctx, tx, Event{
				Type:       EventLotExpired,
				OccurredAt: i.Clock.Now(),
				VaccineID:  lot.VaccineID,
				Quantity:   lot.RemainingQuantity + lot.HeldQuantity,
				Scope:      &scope,
				Date:       lot.ExpirationDate,
				Reference:  string(lot.ID),
				Attributes: map[string]string{
					"remaining": fmt.Sprintf("%d", lot.RemainingQuantity),
					"held":      fmt.Sprintf("%d", lot.HeldQuantity),
				},
			}))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		i.logger().Info("lot statuses refreshed", zap.Int("changed", changed))
	}
	return changed, nil
}
