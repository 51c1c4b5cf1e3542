/*
Package stock provides the vaccine stock lot ledger and its workflows.

PURPOSE:
  Vaccine doses are tracked per lot (a batch sharing one expiration date)
  at every level of the administrative hierarchy. This package owns the lot
  quantities, the first-expiring-first-out (FEFO) allocation used to hold
  doses for appointments and transfers, and the cross-level transfer
  workflow with lot lineage.

KEY CONCEPTS IN THIS FILE (types.go):
  - Scope: a node of the national -> regional -> district -> health-center tree
  - Vaccine: immutable reference data (dose count, gender restriction)
  - Lot: quantities of one batch owned by one scope
  - Allocation: (lot, quantity) pair produced by the FEFO planner
  - Reservation: allocation tied to a scheduled appointment
  - Transfer: quantity moving one level down the tree

LOT INVARIANT:
  OriginalQuantity == RemainingQuantity + HeldQuantity + DistributedQuantity
  and all three counters are >= 0. Every mutation goes through the Ledger,
  which checks the invariant before writing.

SEE ALSO:
  - ledger.go: Lot Ledger operations (hold, release, consume, split)
  - allocation.go: FEFO planner
  - reservation.go: Reservation Manager
  - transfer.go: Transfer Workflow
  - aggregate.go: Stock Aggregate View
*/
package stock

import (
	"fmt"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type VaccineID string
type LotID string
type ReservationID string
type TransferID string

// AppointmentID identifies the scheduled vaccination a reservation belongs to.
type AppointmentID string

// =============================================================================
// OWNING SCOPE - Node of the administrative hierarchy
// =============================================================================

type ScopeKind string

const (
	ScopeNational     ScopeKind = "national"
	ScopeRegional     ScopeKind = "regional"
	ScopeDistrict     ScopeKind = "district"
	ScopeHealthCenter ScopeKind = "health_center"
)

var scopeLevels = map[ScopeKind]int{
	ScopeNational:     0,
	ScopeRegional:     1,
	ScopeDistrict:     2,
	ScopeHealthCenter: 3,
}

// Level returns the depth of the kind in the tree (national = 0).
func (k ScopeKind) Level() (int, bool) {
	l, ok := scopeLevels[k]
	return l, ok
}

// ChildKind returns the kind directly below k.
func (k ScopeKind) ChildKind() (ScopeKind, bool) {
	switch k {
	case ScopeNational:
		return ScopeRegional, true
	case ScopeRegional:
		return ScopeDistrict, true
	case ScopeDistrict:
		return ScopeHealthCenter, true
	default:
		return "", false
	}
}

func (k ScopeKind) Valid() bool {
	_, ok := scopeLevels[k]
	return ok
}

// Scope identifies a hierarchy node that can own stock.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

func NewScope(kind ScopeKind, id string) Scope { return Scope{Kind: kind, ID: id} }

func (s Scope) IsZero() bool   { return s.Kind == "" && s.ID == "" }
func (s Scope) String() string { return fmt.Sprintf("%s:%s", s.Kind, s.ID) }

func (s Scope) Validate() error {
	if !s.Kind.Valid() {
		return fmt.Errorf("unknown scope kind %q", s.Kind)
	}
	if s.ID == "" {
		return fmt.Errorf("scope id is required")
	}
	return nil
}

// ScopeNode is a registered scope with its parent link and display name.
// Parent is nil only for the national scope.
type ScopeNode struct {
	Scope  Scope
	Parent *Scope
	Name   string
}

// IsDirectChildOf reports whether n sits exactly one level below parent.
func (n ScopeNode) IsDirectChildOf(parent Scope) bool {
	childKind, ok := parent.Kind.ChildKind()
	if !ok || n.Scope.Kind != childKind {
		return false
	}
	return n.Parent != nil && *n.Parent == parent
}

// =============================================================================
// VACCINE - Reference data
// =============================================================================

type GenderRestriction string

const (
	GenderAny        GenderRestriction = "none"
	GenderMaleOnly   GenderRestriction = "male_only"
	GenderFemaleOnly GenderRestriction = "female_only"
)

type Vaccine struct {
	ID                VaccineID
	Name              string
	RequiredDoseCount int
	GenderRestriction GenderRestriction
}

func (v Vaccine) Validate() error {
	if v.ID == "" {
		return fmt.Errorf("vaccine id is required")
	}
	if v.RequiredDoseCount <= 0 {
		return fmt.Errorf("vaccine %s: required dose count must be positive, got %d", v.ID, v.RequiredDoseCount)
	}
	switch v.GenderRestriction {
	case GenderAny, GenderMaleOnly, GenderFemaleOnly:
	default:
		return fmt.Errorf("vaccine %s: unknown gender restriction %q", v.ID, v.GenderRestriction)
	}
	return nil
}

// =============================================================================
// STOCK LOT
// =============================================================================

type LotStatus string

const (
	LotValid   LotStatus = "valid"
	LotExpired LotStatus = "expired"
)

// Lot is one batch of doses owned by a scope.
type Lot struct {
	ID        LotID
	VaccineID VaccineID
	Scope     Scope

	OriginalQuantity    int64
	RemainingQuantity   int64 // allocatable
	HeldQuantity        int64 // reserved by appointments or pending transfers
	DistributedQuantity int64 // administered or shipped down the tree

	ExpirationDate Date

	// Lineage: SourceLotID is empty for lots added directly to stock.
	SourceLotID  LotID
	DerivedCount int

	// StoredStatus is refreshed by the expiry sweeper for display only.
	// Allocation always uses StatusOn.
	StoredStatus LotStatus

	// Sequence is the creation order; it breaks FEFO ties.
	Sequence  int64
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusOn derives the lot status for the given day.
func (l Lot) StatusOn(today Date) LotStatus {
	if l.ExpirationDate.Before(today) {
		return LotExpired
	}
	return LotValid
}

// IsAllocatable reports whether new holds may draw from this lot for a dose
// administered on notBefore.
func (l Lot) IsAllocatable(today, notBefore Date) bool {
	return l.StatusOn(today) == LotValid &&
		l.RemainingQuantity > 0 &&
		l.ExpirationDate.After(notBefore)
}

// HasSource reports whether the lot was split off another lot.
func (l Lot) HasSource() bool { return l.SourceLotID != "" }

// CheckInvariant verifies the quantity invariant.
func (l Lot) CheckInvariant() error {
	if l.RemainingQuantity < 0 || l.HeldQuantity < 0 || l.DistributedQuantity < 0 {
		return &InvariantError{LotID: l.ID, Reason: fmt.Sprintf(
			"negative counter (remaining=%d held=%d distributed=%d)",
			l.RemainingQuantity, l.HeldQuantity, l.DistributedQuantity)}
	}
	if sum := l.RemainingQuantity + l.HeldQuantity + l.DistributedQuantity; sum != l.OriginalQuantity {
		return &InvariantError{LotID: l.ID, Reason: fmt.Sprintf(
			"original %d != remaining %d + held %d + distributed %d",
			l.OriginalQuantity, l.RemainingQuantity, l.HeldQuantity, l.DistributedQuantity)}
	}
	return nil
}

// LotFilter narrows lot listings. Zero fields match everything.
type LotFilter struct {
	VaccineID VaccineID
	Scope     *Scope
}

// =============================================================================
// ALLOCATION & RESERVATION
// =============================================================================

// Allocation is the share of a request drawn from one lot.
type Allocation struct {
	LotID          LotID `json:"lot_id"`
	Quantity       int64 `json:"quantity"`
	ExpirationDate Date  `json:"expiration_date"`
}

// TotalQuantity sums the quantities of a set of allocations.
func TotalQuantity(allocs []Allocation) int64 {
	var total int64
	for _, a := range allocs {
		total += a.Quantity
	}
	return total
}

// Reservation ties held lot quantity to one scheduled appointment.
type Reservation struct {
	ID            ReservationID
	AppointmentID AppointmentID
	LotID         LotID
	Quantity      int64
	CreatedAt     time.Time
}

// =============================================================================
// TRANSFER
// =============================================================================

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferConfirmed TransferStatus = "confirmed"
	TransferCancelled TransferStatus = "cancelled"
)

func (s TransferStatus) IsTerminal() bool {
	return s == TransferConfirmed || s == TransferCancelled
}

// Transfer moves quantity from a scope to one of its direct children.
type Transfer struct {
	ID        TransferID
	VaccineID VaccineID
	From      Scope
	To        Scope
	Quantity  int64
	Status    TransferStatus

	// SourceAllocations are the sender lots held while the transfer is pending.
	SourceAllocations []Allocation
	// DerivedLots are the receiver lots created on confirmation.
	DerivedLots []LotID

	CreatedAt   time.Time
	CreatedBy   string
	ConfirmedAt *time.Time
	ConfirmedBy string
	CancelledAt *time.Time
	CancelledBy string
	Reason      string

	Version int64
}
