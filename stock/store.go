/*
store.go - Persistence interface for lots, reservations and transfers

PURPOSE:
  Defines the boundary between the stock engine and the database.
  Implementations: store/sqlite (durable) and store/memory (tests, dev).

OPTIMISTIC LOCKING:
  Every Lot and Transfer carries a Version. UpdateLot/UpdateTransfer only
  write when the stored version still equals the version that was read and
  bump it on success; otherwise they return ErrConcurrentModification.
  Hold re-validates RemainingQuantity on the row it read, so two requests
  racing on lot selection can never oversubscribe: the loser's version
  check fails and its whole transaction is retried or surfaced.

ATOMIC UNITS:
  TxStore.WithTx runs fn against a transactional view. If fn returns an
  error every write made through that view is rolled back.

SEE ALSO:
  - ledger.go: the only writer of lot rows
  - vaccination/store.go: extends Store with schedule/request persistence
*/
package stock

import "context"

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// Reference data
	SaveVaccine(ctx context.Context, v Vaccine) error
	GetVaccine(ctx context.Context, id VaccineID) (*Vaccine, error)
	ListVaccines(ctx context.Context) ([]Vaccine, error)
	SaveScope(ctx context.Context, node ScopeNode) error
	GetScope(ctx context.Context, scope Scope) (*ScopeNode, error)

	// Lots. InsertLot assigns Sequence and sets Version to 1.
	InsertLot(ctx context.Context, lot *Lot) error
	GetLot(ctx context.Context, id LotID) (*Lot, error)
	// ListLots returns lots ordered by ExpirationDate, then Sequence.
	ListLots(ctx context.Context, filter LotFilter) ([]Lot, error)
	// UpdateLot writes lot if its Version is current and increments Version.
	UpdateLot(ctx context.Context, lot *Lot) error
	DeleteLot(ctx context.Context, id LotID) error

	// Reservations
	InsertReservations(ctx context.Context, rs []Reservation) error
	ListReservations(ctx context.Context, appointmentID AppointmentID) ([]Reservation, error)
	DeleteReservations(ctx context.Context, appointmentID AppointmentID) (int, error)

	// Transfers
	InsertTransfer(ctx context.Context, t *Transfer) error
	GetTransfer(ctx context.Context, id TransferID) (*Transfer, error)
	// UpdateTransfer writes t if its Version is current and increments Version.
	UpdateTransfer(ctx context.Context, t *Transfer) error
	ListTransfers(ctx context.Context, filter TransferFilter) ([]Transfer, error)
}

// TransferFilter narrows transfer listings. Zero fields match everything.
type TransferFilter struct {
	Scope  *Scope // matches From or To
	Status TransferStatus
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
