/*
errors.go - Error types for the stock engine

PURPOSE:
  All stock error types in one place. Callers match with errors.Is against
  the sentinels, or errors.As against the structured types for details.

ERROR CATEGORIES:
  1. Client errors - insufficient stock, invalid transfer scope/quantity,
     state conflicts (AlreadyProcessed), non-removable lots
  2. Transient errors - ConcurrentModification after bounded retries
  3. Lookup errors - lot, transfer, scope, vaccine not found

None of these are fatal to the process; all are recoverable at the request
boundary.

SEE ALSO:
  - vaccination/errors.go: dose and request errors
  - api/errors.go: HTTP status mapping
*/
package stock

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientStock is returned when allocatable quantity is below the request.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidTransferScope is returned when a transfer does not go from a
	// scope to one of its direct children, or the quantity is not positive.
	ErrInvalidTransferScope = errors.New("invalid transfer scope")

	// ErrInvalidQuantity is returned for zero or negative quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrConcurrentModification is returned when an optimistic version check
	// loses a race on a lot or transfer row.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrAlreadyProcessed is returned when a workflow object left PENDING.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrInvariantViolation is returned when a mutation would break the lot invariant.
	ErrInvariantViolation = errors.New("lot invariant violation")

	// ErrLotNotRemovable is returned when removing a lot that still has
	// remaining or held quantity.
	ErrLotNotRemovable = errors.New("lot still has remaining or held quantity")

	ErrLotNotFound      = errors.New("lot not found")
	ErrTransferNotFound = errors.New("transfer not found")
	ErrScopeNotFound    = errors.New("scope not found")
	ErrVaccineNotFound  = errors.New("vaccine not found")

	// ErrStoreRequired is returned when an operation needs a store capability
	// the configured store does not implement.
	ErrStoreRequired = errors.New("operation requires extended store interface")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError reports an allocation shortfall. It is surfaced
// before any hold is persisted.
type InsufficientStockError struct {
	VaccineID VaccineID
	Scope     Scope
	NotBefore Date
	Requested int64
	Available int64
	Message   string
	Retryable bool
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock of %s at %s for %s: requested %d, available %d",
		e.VaccineID, e.Scope, e.NotBefore, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// UserMessage is the text shown to the person who asked for the doses.
func (e *InsufficientStockError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Available == 0 {
		return "No usable stock is available for this vaccine on the requested date."
	}
	return fmt.Sprintf("Only %d dose(s) are available for this vaccine on the requested date.", e.Available)
}

func newInsufficientStock(vaccineID VaccineID, scope Scope, notBefore Date, requested, available int64) *InsufficientStockError {
	e := &InsufficientStockError{
		VaccineID: vaccineID,
		Scope:     scope,
		NotBefore: notBefore,
		Requested: requested,
		Available: available,
	}
	e.Message = e.UserMessage()
	return e
}

// InvalidTransferScopeError explains why a transfer request was rejected.
type InvalidTransferScopeError struct {
	From     Scope
	To       Scope
	Quantity int64
	Reason   string
}

func (e *InvalidTransferScopeError) Error() string {
	return fmt.Sprintf("invalid transfer %s -> %s (quantity %d): %s", e.From, e.To, e.Quantity, e.Reason)
}

func (e *InvalidTransferScopeError) Unwrap() error { return ErrInvalidTransferScope }

// AlreadyProcessedError is a state conflict on a workflow object.
type AlreadyProcessedError struct {
	Kind   string // "transfer", "request", "appointment"
	ID     string
	Status string
	Action string
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("cannot %s %s %s: already %s", e.Action, e.Kind, e.ID, e.Status)
}

func (e *AlreadyProcessedError) Unwrap() error { return ErrAlreadyProcessed }

// ConcurrentModificationError is returned once retries are exhausted.
type ConcurrentModificationError struct {
	Operation string
	Attempts  int
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts due to concurrent modification", e.Operation, e.Attempts)
}

func (e *ConcurrentModificationError) Unwrap() error { return ErrConcurrentModification }

// InvariantError reports a lot whose counters would not add up.
type InvariantError struct {
	LotID  LotID
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("lot %s: %s", e.LotID, e.Reason)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidTransferScope) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrLotNotRemovable)
}

// IsConflict returns true for state conflicts.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLotNotFound) ||
		errors.Is(err, ErrTransferNotFound) ||
		errors.Is(err, ErrScopeNotFound) ||
		errors.Is(err, ErrVaccineNotFound)
}
