package recurrence

import (
	"fmt"
	"strings"
	"time"

	"timeslot-service/internal/models"
	"timeslot-service/pkg/response"

	"github.com/teambition/rrule-go"
)

// Rule is the decoded form of a recurrence rule string.
// Weekdays keep the order they were supplied in; the codec never canonicalizes.
type Rule struct {
	Frequency models.Frequency
	Weekdays  []string
}

var weekdayOrder = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var rruleWeekdays = map[string]rrule.Weekday{
	"SU": rrule.SU,
	"MO": rrule.MO,
	"TU": rrule.TU,
	"WE": rrule.WE,
	"TH": rrule.TH,
	"FR": rrule.FR,
	"SA": rrule.SA,
}

// Encode builds the wire form FREQ=<frequency>;BYDAY=<comma-joined codes>.
func Encode(weekdays []string, freq models.Frequency) (string, error) {
	const op = "recurrence.Encode"

	if freq != models.FreqDaily && freq != models.FreqWeekly {
		return "", fmt.Errorf("%s: unknown frequency %q: %w", op, freq, response.ErrValidation)
	}

	if len(weekdays) == 0 {
		return "", fmt.Errorf("%s: weekday set is empty: %w", op, response.ErrValidation)
	}

	for _, d := range weekdays {
		if _, ok := weekdayOrder[d]; !ok {
			return "", fmt.Errorf("%s: unknown weekday code %q: %w", op, d, response.ErrValidation)
		}
	}

	return fmt.Sprintf("FREQ=%s;BYDAY=%s", freq, strings.Join(weekdays, ",")), nil
}

// Decode extracts FREQ and BYDAY from a rule string. A missing BYDAY yields an
// empty weekday set, which is valid for daily rules.
func Decode(rule string) (Rule, error) {
	const op = "recurrence.Decode"

	var out Rule

	for _, part := range strings.Split(rule, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}

		switch key {
		case "FREQ":
			freq := models.Frequency(value)
			if freq != models.FreqDaily && freq != models.FreqWeekly {
				return Rule{}, fmt.Errorf("%s: unsupported frequency %q: %w", op, value, response.ErrParse)
			}
			out.Frequency = freq
		case "BYDAY":
			if value == "" {
				continue
			}
			for _, code := range strings.Split(value, ",") {
				code = strings.TrimSpace(code)
				if _, ok := weekdayOrder[code]; !ok {
					return Rule{}, fmt.Errorf("%s: unknown weekday code %q: %w", op, code, response.ErrParse)
				}
				out.Weekdays = append(out.Weekdays, code)
			}
		}
	}

	if out.Frequency == "" {
		return Rule{}, fmt.Errorf("%s: FREQ is missing: %w", op, response.ErrParse)
	}

	return out, nil
}

// WeekdaySet returns the rule's weekdays as a lookup set.
func (r Rule) WeekdaySet() map[time.Weekday]struct{} {
	set := make(map[time.Weekday]struct{}, len(r.Weekdays))
	for _, code := range r.Weekdays {
		set[weekdayOrder[code]] = struct{}{}
	}

	return set
}

// RRuleWeekdays maps the rule's codes onto rrule weekday values, in caller order.
func (r Rule) RRuleWeekdays() []rrule.Weekday {
	days := make([]rrule.Weekday, 0, len(r.Weekdays))
	for _, code := range r.Weekdays {
		days = append(days, rruleWeekdays[code])
	}

	return days
}

// Generates reports whether the rule produces occurrences on the given weekday.
func (r Rule) Generates(day time.Weekday) bool {
	if r.Frequency == models.FreqDaily {
		return true
	}

	_, ok := r.WeekdaySet()[day]

	return ok
}
