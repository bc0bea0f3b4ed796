package schedule

import (
	"time"

	"timeslot-service/internal/models"
)

// Resolved is an occurrence after exception overlay, ready to materialize.
type Resolved struct {
	Occurrence
	ExceptionID *string
	Status      models.SlotStatus
}

// Resolve overlays per-date exceptions onto expanded occurrences.
//
// A Cancellation for date D drops every occurrence on D. A Modification for D
// replaces the day's occurrences with buckets sliced from the override window,
// using the day's original bucket duration; the date is kept and the produced
// occurrences carry the exception id. When several exceptions exist for the
// same date the first one in the supplied order wins; nothing upstream
// prevents duplicates and no policy is inferred here.
//
// booked marks occurrence start times that already carry a reservation; those
// come out Unavailable, everything else Available.
func Resolve(occurrences []Occurrence, exceptions []*models.PatternException, booked map[time.Time]struct{}) []Resolved {
	firstByDate := make(map[time.Time]*models.PatternException, len(exceptions))
	for _, ex := range exceptions {
		date := truncateToDate(ex.Date)
		if _, ok := firstByDate[date]; !ok {
			firstByDate[date] = ex
		}
	}

	resolvedDates := make(map[time.Time]struct{})

	out := make([]Resolved, 0, len(occurrences))
	for _, occ := range occurrences {
		ex, ok := firstByDate[occ.Date]
		if !ok {
			out = append(out, withStatus(Resolved{Occurrence: occ}, booked))
			continue
		}

		if ex.Kind == models.ExceptionCancellation {
			continue
		}

		// Modification: emit the retimed day once, on its first occurrence.
		if _, done := resolvedDates[occ.Date]; done {
			continue
		}
		resolvedDates[occ.Date] = struct{}{}

		slotDur := occ.End.Sub(occ.Start)
		overrideStart := clockOn(occ.Date, ex.OverrideStartTime)
		overrideEnd := clockOn(occ.Date, ex.OverrideEndTime)

		exID := ex.ID
		for cur := overrideStart; !cur.Add(slotDur).After(overrideEnd); cur = cur.Add(slotDur) {
			out = append(out, withStatus(Resolved{
				Occurrence: Occurrence{
					Date:  occ.Date,
					Start: cur,
					End:   cur.Add(slotDur),
				},
				ExceptionID: &exID,
			}, booked))
		}
	}

	return out
}

func withStatus(r Resolved, booked map[time.Time]struct{}) Resolved {
	r.Status = models.SlotAvailable
	if _, ok := booked[r.Start]; ok {
		r.Status = models.SlotUnavailable
	}

	return r
}
