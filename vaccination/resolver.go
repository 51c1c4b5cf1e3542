/*
resolver.go - Next-Dose Resolver

PURPOSE:
  Decides which dose number a new request or appointment targets when the
  caller did not supply one. The rules are applied in a fixed order and
  the first rule that produces a dose wins:

    1. requested     caller supplied a positive dose
    2. bucket        calendar supplied: first DUE, then LATE, OVERDUE,
                     SCHEDULED timeline entry matching the calendar
    3. history       max(dose) over completed, scheduled and pending
                     requests (+1), or 1 when there is no history

  The resolved dose is then checked against the vaccine's required dose
  count (when EnforceDoseCap) and against pending requests for the same
  tuple (when GuardDuplicates).

  The result is a tagged DoseResolution: either a dose with the rule that
  produced it, or the rejection error. Resolve is pure; Resolver loads the
  timeline once and calls it.

SEE ALSO:
  - types.go: TimelineEntry
*/
package vaccination

import (
	"context"

	"github.com/warp/vaccine-stock/stock"
)

// =============================================================================
// TIMELINE
// =============================================================================

// Timeline is every dose position known for one (child, vaccine).
type Timeline []TimelineEntry

// BuildTimeline merges persisted bucket entries with the entries derived
// from scheduled and completed vaccinations.
func BuildTimeline(buckets []TimelineEntry, scheduled []ScheduledVaccination, completed []CompletedVaccination) Timeline {
	t := make(Timeline, 0, len(buckets)+len(scheduled)+len(completed))
	t = append(t, buckets...)
	for _, s := range scheduled {
		t = append(t, TimelineEntry{
			Kind:       KindScheduled,
			ChildID:    s.ChildID,
			VaccineID:  s.VaccineID,
			CalendarID: s.CalendarID,
			Dose:       s.Dose,
			Date:       s.ScheduledFor,
			Reference:  string(s.ID),
		})
	}
	for _, c := range completed {
		t = append(t, TimelineEntry{
			Kind:       KindCompleted,
			ChildID:    c.ChildID,
			VaccineID:  c.VaccineID,
			CalendarID: c.CalendarID,
			Dose:       c.Dose,
			Date:       stock.DateOf(c.AdministeredAt),
			Reference:  string(c.ID),
		})
	}
	return t
}

// First returns the first entry of kind matching calendarID.
func (t Timeline) First(kind TimelineKind, calendarID CalendarID) (TimelineEntry, bool) {
	for _, e := range t {
		if e.Kind == kind && e.CalendarID == calendarID {
			return e, true
		}
	}
	return TimelineEntry{}, false
}

// MaxDose returns the highest dose among scheduled and completed entries,
// restricted to calendarID when it is not empty.
func (t Timeline) MaxDose(calendarID CalendarID) int {
	highest := 0
	for _, e := range t {
		if e.Kind != KindScheduled && e.Kind != KindCompleted {
			continue
		}
		if calendarID != "" && e.CalendarID != calendarID {
			continue
		}
		highest = max(highest, e.Dose)
	}
	return highest
}

// =============================================================================
// RESOLUTION
// =============================================================================

// DoseSource names the rule that produced a dose.
type DoseSource string

const (
	SourceRequested DoseSource = "requested"
	SourceDue       DoseSource = "due"
	SourceLate      DoseSource = "late"
	SourceOverdue   DoseSource = "overdue"
	SourceScheduled DoseSource = "scheduled"
	SourceHistory   DoseSource = "history"
)

// bucketPriority is the order in which calendar buckets are searched.
var bucketPriority = []struct {
	kind   TimelineKind
	source DoseSource
}{
	{KindDue, SourceDue},
	{KindLate, SourceLate},
	{KindOverdue, SourceOverdue},
	{KindScheduled, SourceScheduled},
}

// DoseQuery is the input of a resolution.
type DoseQuery struct {
	ChildID       ChildID
	VaccineID     stock.VaccineID
	CalendarID    CalendarID
	RequestedDose int // 0 when not supplied
}

type ResolveOptions struct {
	EnforceDoseCap  bool
	GuardDuplicates bool
}

// DoseResolution is either a dose with its source or a rejection.
type DoseResolution struct {
	Dose   int
	Source DoseSource
	Err    error
}

func (r DoseResolution) Rejected() bool { return r.Err != nil }

// Result unpacks the resolution.
func (r DoseResolution) Result() (int, error) {
	if r.Err != nil {
		return 0, r.Err
	}
	return r.Dose, nil
}

// Resolve applies the resolution rules to a loaded timeline. requests are
// the child's requests for the vaccine; only PENDING ones are considered.
func Resolve(vaccine stock.Vaccine, timeline Timeline, requests []VaccineRequest, q DoseQuery, opts ResolveOptions) DoseResolution {
	res := pick(timeline, requests, q)
	if res.Rejected() {
		return res
	}

	if res.Dose <= 0 {
		return reject(&InvalidDoseError{VaccineID: vaccine.ID, Dose: res.Dose, Max: vaccine.RequiredDoseCount, Reason: "dose must be positive"})
	}
	if opts.EnforceDoseCap && res.Dose > vaccine.RequiredDoseCount {
		return reject(&InvalidDoseError{VaccineID: vaccine.ID, Dose: res.Dose, Max: vaccine.RequiredDoseCount, Reason: "exceeds required dose count"})
	}
	if opts.GuardDuplicates {
		for _, r := range requests {
			if r.Status == RequestPending && r.CalendarID == q.CalendarID && r.Dose == res.Dose {
				return reject(&DuplicateRequestError{
					Existing:   r.ID,
					ChildID:    q.ChildID,
					VaccineID:  q.VaccineID,
					CalendarID: q.CalendarID,
					Dose:       res.Dose,
				})
			}
		}
	}
	return res
}

func pick(timeline Timeline, requests []VaccineRequest, q DoseQuery) DoseResolution {
	if q.RequestedDose < 0 {
		return reject(&InvalidDoseError{VaccineID: q.VaccineID, Dose: q.RequestedDose, Reason: "dose must be positive"})
	}
	if q.RequestedDose > 0 {
		return DoseResolution{Dose: q.RequestedDose, Source: SourceRequested}
	}

	if q.CalendarID != "" {
		for _, b := range bucketPriority {
			if e, ok := timeline.First(b.kind, q.CalendarID); ok {
				return DoseResolution{Dose: e.Dose, Source: b.source}
			}
		}
	}

	highest := timeline.MaxDose(q.CalendarID)
	for _, r := range requests {
		if r.Status != RequestPending {
			continue
		}
		if q.CalendarID != "" && r.CalendarID != q.CalendarID {
			continue
		}
		highest = max(highest, r.Dose)
	}
	return DoseResolution{Dose: highest + 1, Source: SourceHistory}
}

func reject(err error) DoseResolution { return DoseResolution{Err: err} }

// =============================================================================
// RESOLVER - Store-backed
// =============================================================================

// LoadTimeline reads the full (child, vaccine) timeline in one pass.
func LoadTimeline(ctx context.Context, s Store, childID ChildID, vaccineID stock.VaccineID) (Timeline, error) {
	buckets, err := s.ListBucketEntries(ctx, childID, vaccineID)
	if err != nil {
		return nil, err
	}
	scheduled, err := s.ListScheduled(ctx, ScheduleFilter{ChildID: childID, VaccineID: vaccineID})
	if err != nil {
		return nil, err
	}
	completed, err := s.ListCompleted(ctx, childID, vaccineID)
	if err != nil {
		return nil, err
	}
	return BuildTimeline(buckets, scheduled, completed), nil
}

// ResolveDose loads what the resolver needs from s and resolves q.
func ResolveDose(ctx context.Context, s Store, vaccine stock.Vaccine, q DoseQuery, opts ResolveOptions) (DoseResolution, error) {
	timeline, err := LoadTimeline(ctx, s, q.ChildID, q.VaccineID)
	if err != nil {
		return DoseResolution{}, err
	}
	requests, err := s.ListRequests(ctx, RequestFilter{ChildID: q.ChildID, VaccineID: q.VaccineID, Status: RequestPending})
	if err != nil {
		return DoseResolution{}, err
	}
	return Resolve(vaccine, timeline, requests, q, opts), nil
}
