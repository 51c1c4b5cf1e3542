/*
transfer.go - Transfer Workflow

PURPOSE:
  Moves doses one level down the administrative tree (parent -> direct
  child) with lot lineage.

STATE MACHINE:

    PENDING ──confirm──► CONFIRMED  (terminal)
       │
       ├──reject (receiver)──► CANCELLED  (terminal)
       └──cancel (sender)────► CANCELLED

  Create   validate scopes and quantity, FEFO-hold against the sender,
           record the holds as SourceAllocations
  Confirm  split every source allocation (held -> distributed on the
           sender lot, new derived lot at the receiver)
  Reject   release the holds; emitted as transfer.rejected
  Cancel   release the holds; emitted as transfer.cancelled

IDEMPOTENCY:
  Cancelling or rejecting a CANCELLED transfer returns it unchanged.
  Any transition out of CONFIRMED, and confirming a CANCELLED transfer,
  fails with AlreadyProcessedError.

CONCURRENCY:
  Holds go through Ledger.Hold, so concurrent transfers from the same
  sender serialize on the lot versions exactly like reservations. Status
  changes go through UpdateTransfer's version check, so a confirm racing a
  cancel is retried and then sees the terminal state.

SEE ALSO:
  - ledger.go: Split, Release
  - allocation.go: Ledger.Allocate
*/
package stock

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// TRANSFER WORKFLOW
// =============================================================================

type TransferWorkflow struct {
	Runner
	Clock Clock

	// CriticalThreshold enables stock.critical events for the sender.
	CriticalThreshold int64
}

func NewTransferWorkflow(store TxStore, clock Clock, notifier Notifier, log *zap.Logger) *TransferWorkflow {
	return &TransferWorkflow{
		Runner: Runner{
			Store:    store,
			Retry:    DefaultRetryPolicy(),
			Notifier: notifier,
			Logger:   log,
		},
		Clock: clock,
	}
}

// CreateTransferRequest asks to ship Quantity doses from From to To.
type CreateTransferRequest struct {
	VaccineID VaccineID
	From      Scope
	To        Scope
	Quantity  int64
	Actor     string
}

// Create validates the request and holds the doses at the sender.
func (w *TransferWorkflow) Create(ctx context.Context, req CreateTransferRequest) (*Transfer, error) {
	var created *Transfer
	err := w.Run(ctx, "transfer.create", func(tx Store, out *Outbox) error {
		t, err := w.create(ctx, tx, req, out)
		created = t
		return err
	})
	if err != nil {
		return nil, err
	}
	w.logger().Info("transfer created",
		zap.String("transfer_id", string(created.ID)),
		zap.String("from", created.From.String()),
		zap.String("to", created.To.String()),
		zap.Int64("quantity", created.Quantity))
	return created, nil
}

func (w *TransferWorkflow) create(ctx context.Context, tx Store, req CreateTransferRequest, out *Outbox) (*Transfer, error) {
	if err := ValidateTransferScopes(ctx, tx, req.From, req.To, req.Quantity); err != nil {
		return nil, err
	}
	if _, err := tx.GetVaccine(ctx, req.VaccineID); err != nil {
		return nil, err
	}

	ledger := NewLedger(tx, w.Clock)
	allocs, err := ledger.Allocate(ctx, req.VaccineID, req.From, req.Quantity, w.Clock.Today())
	if err != nil {
		return nil, err
	}

	t := &Transfer{
		ID:                TransferID(uuid.NewString()),
		VaccineID:         req.VaccineID,
		From:              req.From,
		To:                req.To,
		Quantity:          req.Quantity,
		Status:            TransferPending,
		SourceAllocations: allocs,
		CreatedAt:         w.Clock.Now(),
		CreatedBy:         req.Actor,
	}
	if err := tx.InsertTransfer(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to insert transfer: %w", err)
	}

	out.Add(w.event(ctx, tx, EventTransferCreated, t, req.Actor))
	if err := checkCritical(ctx, tx, ledger, w.CriticalThreshold, t.VaccineID, t.From, out); err != nil {
		return nil, err
	}
	return t, nil
}

// ValidateTransferScopes rejects a transfer that does not go from a scope to
// one of its registered direct children, or whose quantity is not positive.
// It runs before any lot is touched.
func ValidateTransferScopes(ctx context.Context, store Store, from, to Scope, quantity int64) error {
	invalid := func(reason string) error {
		return &InvalidTransferScopeError{From: from, To: to, Quantity: quantity, Reason: reason}
	}
	if quantity <= 0 {
		return invalid("quantity must be positive")
	}
	if err := from.Validate(); err != nil {
		return invalid("sender: " + err.Error())
	}
	if err := to.Validate(); err != nil {
		return invalid("receiver: " + err.Error())
	}
	if want, ok := from.Kind.ChildKind(); !ok || to.Kind != want {
		return invalid(fmt.Sprintf("%s cannot receive from %s", to.Kind, from.Kind))
	}
	if _, err := store.GetScope(ctx, from); err != nil {
		return err
	}
	node, err := store.GetScope(ctx, to)
	if err != nil {
		return err
	}
	if !node.IsDirectChildOf(from) {
		return invalid(fmt.Sprintf("%s is not a direct child of %s", to, from))
	}
	return nil
}

// Confirm accepts the transfer at the receiver: every held source share is
// split into a derived lot owned by the receiver.
func (w *TransferWorkflow) Confirm(ctx context.Context, id TransferID, actor string) (*Transfer, error) {
	var confirmed *Transfer
	err := w.Run(ctx, "transfer.confirm", func(tx Store, out *Outbox) error {
		t, err := tx.GetTransfer(ctx, id)
		if err != nil {
			return err
		}
		if t.Status != TransferPending {
			return &AlreadyProcessedError{Kind: "transfer", ID: string(id), Status: string(t.Status), Action: "confirm"}
		}

		ledger := NewLedger(tx, w.Clock)
		derived := make([]LotID, 0, len(t.SourceAllocations))
		for _, a := range t.SourceAllocations {
			lot, err := ledger.Split(ctx, a.LotID, a.Quantity, t.To, true)
			if err != nil {
				return fmt.Errorf("split lot %s: %w", a.LotID, err)
			}
			derived = append(derived, lot.ID)
		}

		now := w.Clock.Now()
		t.Status = TransferConfirmed
		t.DerivedLots = derived
		t.ConfirmedAt = &now
		t.ConfirmedBy = actor
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		out.Add(w.event(ctx, tx, EventTransferConfirmed, t, actor))
		confirmed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.logger().Info("transfer confirmed",
		zap.String("transfer_id", string(id)),
		zap.Int("derived_lots", len(confirmed.DerivedLots)))
	return confirmed, nil
}

// Reject is the receiver declining a pending transfer.
func (w *TransferWorkflow) Reject(ctx context.Context, id TransferID, actor, reason string) (*Transfer, error) {
	return w.close(ctx, id, actor, reason, "reject", EventTransferRejected)
}

// Cancel is the sender withdrawing a pending transfer.
func (w *TransferWorkflow) Cancel(ctx context.Context, id TransferID, actor, reason string) (*Transfer, error) {
	return w.close(ctx, id, actor, reason, "cancel", EventTransferCancelled)
}

func (w *TransferWorkflow) close(ctx context.Context, id TransferID, actor, reason, action string, eventType EventType) (*Transfer, error) {
	var closed *Transfer
	err := w.Run(ctx, "transfer."+action, func(tx Store, out *Outbox) error {
		t, err := tx.GetTransfer(ctx, id)
		if err != nil {
			return err
		}
		switch t.Status {
		case TransferCancelled:
			closed = t
			return nil
		case TransferConfirmed:
			return &AlreadyProcessedError{Kind: "transfer", ID: string(id), Status: string(t.Status), Action: action}
		}

		if err := NewLedger(tx, w.Clock).ReleaseAll(ctx, t.SourceAllocations); err != nil {
			return fmt.Errorf("release transfer holds: %w", err)
		}

		now := w.Clock.Now()
		t.Status = TransferCancelled
		t.CancelledAt = &now
		t.CancelledBy = actor
		t.Reason = reason
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		e := w.event(ctx, tx, eventType, t, actor)
		if reason != "" {
			e.Attributes = map[string]string{"reason": reason}
		}
		out.Add(e)
		closed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// Get returns a transfer by id.
func (w *TransferWorkflow) Get(ctx context.Context, id TransferID) (*Transfer, error) {
	return w.Store.GetTransfer(ctx, id)
}

// List returns transfers matching filter.
func (w *TransferWorkflow) List(ctx context.Context, filter TransferFilter) ([]Transfer, error) {
	return w.Store.ListTransfers(ctx, filter)
}

func (w *TransferWorkflow) event(ctx context.Context, tx Store, typ EventType, t *Transfer, actor string) Event {
	from, to := t.From, t.To
	return Describe(ctx, tx, Event{
		Type:       typ,
		OccurredAt: w.Clock.Now(),
		VaccineID:  t.VaccineID,
		Quantity:   t.Quantity,
		Scope:      &from,
		ToScope:    &to,
		Date:       w.Clock.Today(),
		Reference:  string(t.ID),
		Actor:      actor,
	})
}
