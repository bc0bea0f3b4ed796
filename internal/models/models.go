package models

import "time"

type PatternStatus string

const (
	PatternActive   PatternStatus = "ACTIVE"
	PatternInactive PatternStatus = "INACTIVE"
)

type Frequency string

const (
	FreqDaily  Frequency = "DAILY"
	FreqWeekly Frequency = "WEEKLY"
)

type ExceptionKind string

const (
	ExceptionModification ExceptionKind = "MODIFICATION"
	ExceptionCancellation ExceptionKind = "CANCELLATION"
)

type SlotStatus string

const (
	SlotAvailable   SlotStatus = "AVAILABLE"
	SlotUnavailable SlotStatus = "UNAVAILABLE"
)

type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "PENDING"
	AppointmentAccepted  AppointmentStatus = "ACCEPTED"
	AppointmentDeclined  AppointmentStatus = "DECLINED"
	AppointmentCancelled AppointmentStatus = "CANCELLED"
	AppointmentCompleted AppointmentStatus = "COMPLETED"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s AppointmentStatus) IsTerminal() bool {
	return s == AppointmentDeclined || s == AppointmentCancelled || s == AppointmentCompleted
}

// SlotPattern is a provider's recurring availability rule. Dates are stored as
// midnight UTC, daily times as clock times on the zero date.
type SlotPattern struct {
	ID                  string        `db:"pattern_id"`
	OwnerID             string        `db:"owner_id"`
	OrgID               string        `db:"org_id"`
	StartDate           time.Time     `db:"start_date"`
	EndDate             *time.Time    `db:"end_date"`
	DailyStartTime      time.Time     `db:"daily_start_time"`
	DailyEndTime        time.Time     `db:"daily_end_time"`
	SlotDurationMinutes int           `db:"slot_duration_minutes"`
	RecurrenceRule      string        `db:"recurrence_rule"`
	VisitType           string        `db:"visit_type"`
	Status              PatternStatus `db:"status"`
}

// PatternException is a one-off override for a single date of a pattern.
// Exceptions are never mutated, only superseded during resolution.
type PatternException struct {
	ID                string        `db:"exception_id"`
	PatternID         string        `db:"pattern_id"`
	Date              time.Time     `db:"exception_date"`
	OverrideStartTime time.Time     `db:"override_start_time"`
	OverrideEndTime   time.Time     `db:"override_end_time"`
	Kind              ExceptionKind `db:"kind"`
	Reason            string        `db:"reason"`
}

// Slot is a persisted bookable unit. Date and times never change after
// materialization; a modification exception produces new slot rows instead.
type Slot struct {
	ID          string     `db:"slot_id"`
	OwnerID     string     `db:"owner_id"`
	OrgID       string     `db:"org_id"`
	PatternID   *string    `db:"pattern_id"`
	ExceptionID *string    `db:"exception_id"`
	Date        time.Time  `db:"slot_date"`
	Start       time.Time  `db:"start_time"`
	End         time.Time  `db:"end_time"`
	Status      SlotStatus `db:"status"`
	VisitType   string     `db:"visit_type"`
}

type Appointment struct {
	ID             string            `db:"appointment_id"`
	SlotID         string            `db:"slot_id"`
	RequesterID    string            `db:"requester_id"`
	OwnerID        string            `db:"owner_id"`
	Status         AppointmentStatus `db:"status"`
	Reason         string            `db:"reason"`
	AdditionalInfo string            `db:"additional_info"`
	MeetingLink    *string           `db:"meeting_link"`
	CreatedAt      time.Time         `db:"created_at"`
}
