package schedule

import (
	"fmt"
	"time"

	"timeslot-service/internal/models"
	"timeslot-service/internal/recurrence"
	"timeslot-service/pkg/response"

	"github.com/teambition/rrule-go"
)

// Occurrence is a candidate (date, time-range) pair produced by expanding a
// pattern, before exceptions are applied.
type Occurrence struct {
	Date  time.Time
	Start time.Time
	End   time.Time
}

// Expand turns a pattern and a bounded window into ordered candidate
// occurrences: ascending by date, then by start time. The window is mandatory;
// a pattern without an end date is still only expanded inside [from, to].
//
// Each matching day is sliced from dailyStartTime up to dailyEndTime into
// consecutive buckets of exactly SlotDurationMinutes; a trailing remainder
// shorter than a full bucket is discarded.
func Expand(p *models.SlotPattern, from, to time.Time) ([]Occurrence, error) {
	const op = "schedule.Expand"

	if to.Before(from) {
		return nil, fmt.Errorf("%s: window end is before window start: %w", op, response.ErrValidation)
	}

	if p.SlotDurationMinutes <= 0 {
		return nil, fmt.Errorf("%s: invalid slot duration: %d: %w", op, p.SlotDurationMinutes, response.ErrValidation)
	}

	rule, err := recurrence.Decode(p.RecurrenceRule)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	start := truncateToDate(from)
	if patternStart := truncateToDate(p.StartDate); patternStart.After(start) {
		start = patternStart
	}

	end := truncateToDate(to)
	if p.EndDate != nil {
		if patternEnd := truncateToDate(*p.EndDate); patternEnd.Before(end) {
			end = patternEnd
		}
	}

	if start.After(end) {
		return nil, nil
	}

	days, err := matchingDays(rule, start, end)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	slotDur := time.Duration(p.SlotDurationMinutes) * time.Minute

	var occurrences []Occurrence
	for _, d := range days {
		dayStart := clockOn(d, p.DailyStartTime)
		dayEnd := clockOn(d, p.DailyEndTime)

		if !dayEnd.After(dayStart) {
			continue
		}

		for cur := dayStart; !cur.Add(slotDur).After(dayEnd); cur = cur.Add(slotDur) {
			occurrences = append(occurrences, Occurrence{
				Date:  d,
				Start: cur,
				End:   cur.Add(slotDur),
			})
		}
	}

	return occurrences, nil
}

// matchingDays enumerates the calendar days in [start, end] the rule generates.
func matchingDays(rule recurrence.Rule, start, end time.Time) ([]time.Time, error) {
	opt := rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: start,
	}

	if rule.Frequency == models.FreqWeekly {
		if len(rule.Weekdays) == 0 {
			return nil, nil
		}
		opt.Freq = rrule.WEEKLY
		opt.Byweekday = rule.RRuleWeekdays()
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("build rrule: %w", err)
	}

	return r.Between(start, end, true), nil
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func clockOn(day, clock time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, time.UTC)
}
