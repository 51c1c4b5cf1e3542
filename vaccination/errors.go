package vaccination

import (
	"errors"
	"fmt"

	"github.com/warp/vaccine-stock/stock"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrInvalidDose is returned when a dose is non-positive or exceeds the
	// vaccine's required dose count.
	ErrInvalidDose = errors.New("invalid dose")

	// ErrDuplicateRequest is returned when a PENDING request already exists
	// for the same child, vaccine, calendar and dose.
	ErrDuplicateRequest = errors.New("duplicate vaccine request")

	// ErrVaccineGenderMismatch is returned when a vaccine's gender
	// restriction excludes the child.
	ErrVaccineGenderMismatch = errors.New("vaccine gender restriction mismatch")

	ErrInvalidAppointmentDate = errors.New("invalid appointment date")

	ErrChildNotFound       = errors.New("child not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrRequestNotFound     = errors.New("vaccine request not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type InvalidDoseError struct {
	VaccineID stock.VaccineID
	Dose      int
	Max       int
	Reason    string
}

func (e *InvalidDoseError) Error() string {
	return fmt.Sprintf("invalid dose %d for vaccine %s: %s", e.Dose, e.VaccineID, e.Reason)
}

func (e *InvalidDoseError) Unwrap() error { return ErrInvalidDose }

type DuplicateRequestError struct {
	Existing   RequestID
	ChildID    ChildID
	VaccineID  stock.VaccineID
	CalendarID CalendarID
	Dose       int
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("a pending request (%s) already exists for child %s, vaccine %s, dose %d",
		e.Existing, e.ChildID, e.VaccineID, e.Dose)
}

func (e *DuplicateRequestError) Unwrap() error { return ErrDuplicateRequest }

type GenderMismatchError struct {
	ChildID     ChildID
	Gender      Gender
	VaccineID   stock.VaccineID
	Restriction stock.GenderRestriction
}

func (e *GenderMismatchError) Error() string {
	return fmt.Sprintf("vaccine %s is %s, child %s is %s", e.VaccineID, e.Restriction, e.ChildID, e.Gender)
}

func (e *GenderMismatchError) Unwrap() error { return ErrVaccineGenderMismatch }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the request itself,
// including stock client errors surfaced through scheduling.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidDose) ||
		errors.Is(err, ErrDuplicateRequest) ||
		errors.Is(err, ErrVaccineGenderMismatch) ||
		errors.Is(err, ErrInvalidAppointmentDate) ||
		stock.IsClientError(err)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrChildNotFound) ||
		errors.Is(err, ErrAppointmentNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		stock.IsNotFound(err)
}
