/*
sequencer.go - Dose Sequencer

PURPOSE:
  Keeps the dose numbers of a child's scheduled appointments for one
  vaccine chronologically consistent with the completed history.

ALGORITHM:
  completed doses C, scheduled rows sorted by date:
    next := 1
    for each row:
        while next in C: next++
        row.Dose = next        (written only if changed)
        next++

  Example: completed {1}, scheduled D1=2, D2=3, new appointment at D0 < D1

    before:  D0=?  D1=2  D2=3
    after:   D0=2  D1=3  D2=4

  Completed doses are never renumbered. The earliest scheduled appointment
  always holds the smallest free dose number.

SEE ALSO:
  - appointments.go: calls Resequence inside every schedule change
*/
package vaccination

import (
	"context"
	"fmt"

	"github.com/warp/vaccine-stock/stock"
)

// AssignDoses renumbers scheduled, which must be in chronological order,
// around the completed dose numbers. It updates the slice in place and
// returns the indexes whose dose changed.
func AssignDoses(scheduled []ScheduledVaccination, completed []int) []int {
	taken := make(map[int]bool, len(completed))
	for _, d := range completed {
		taken[d] = true
	}

	var changed []int
	next := 1
	for i := range scheduled {
		for taken[next] {
			next++
		}
		if scheduled[i].Dose != next {
			scheduled[i].Dose = next
			changed = append(changed, i)
		}
		next++
	}
	return changed
}

// Resequence reloads the (child, vaccine) schedule inside tx and writes
// back every appointment whose dose number moved.
func Resequence(ctx context.Context, tx Store, childID ChildID, vaccineID stock.VaccineID, clock stock.Clock) (int, error) {
	scheduled, err := tx.ListScheduled(ctx, ScheduleFilter{ChildID: childID, VaccineID: vaccineID})
	if err != nil {
		return 0, err
	}
	completed, err := tx.ListCompleted(ctx, childID, vaccineID)
	if err != nil {
		return 0, err
	}
	doses := make([]int, len(completed))
	for i, c := range completed {
		doses[i] = c.Dose
	}

	changed := AssignDoses(scheduled, doses)
	now := clock.Now()
	for _, i := range changed {
		s := scheduled[i]
		s.UpdatedAt = now
		if err := tx.UpdateScheduled(ctx, &s); err != nil {
			return 0, fmt.Errorf("resequence %s: %w", s.ID, err)
		}
	}
	return len(changed), nil
}
