package api

import "time"

type RecurrenceConfig struct {
	Frequency string   `json:"frequency"`
	Days      []string `json:"days"`
}

type PatternRequest struct {
	OwnerID             string           `json:"owner_id"`
	OrgID               string           `json:"org_id"`
	StartDate           string           `json:"start_date"`
	EndDate             *string          `json:"end_date,omitempty"`
	DailyStartTime      string           `json:"daily_start_time"`
	DailyEndTime        string           `json:"daily_end_time"`
	SlotDurationMinutes int              `json:"slot_duration_minutes"`
	Recurrence          RecurrenceConfig `json:"recurrence"`
	VisitType           string           `json:"visit_type"`
}

type PatternResponse struct {
	ID                  string           `json:"id"`
	OwnerID             string           `json:"owner_id"`
	OrgID               string           `json:"org_id"`
	StartDate           string           `json:"start_date"`
	EndDate             *string          `json:"end_date,omitempty"`
	DailyStartTime      string           `json:"daily_start_time"`
	DailyEndTime        string           `json:"daily_end_time"`
	SlotDurationMinutes int              `json:"slot_duration_minutes"`
	Recurrence          RecurrenceConfig `json:"recurrence"`
	RecurrenceRule      string           `json:"recurrence_rule"`
	VisitType           string           `json:"visit_type"`
	Status              string           `json:"status"`
}

type ExceptionRequest struct {
	PatternID string `json:"pattern_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason,omitempty"`
}

type ExceptionResponse struct {
	ID        string `json:"id"`
	PatternID string `json:"pattern_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason,omitempty"`
}

type SlotResponse struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	OrgID       string    `json:"org_id"`
	PatternID   *string   `json:"pattern_id,omitempty"`
	ExceptionID *string   `json:"exception_id,omitempty"`
	Date        string    `json:"date"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Status      string    `json:"status"`
	VisitType   string    `json:"visit_type"`
}

type SlotPage struct {
	Rows       []SlotResponse `json:"rows"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	Total      int            `json:"total"`
	TotalPages int            `json:"total_pages"`
}

type AppointmentRequest struct {
	SlotID         string `json:"slot_id"`
	RequesterID    string `json:"requester_id"`
	Reason         string `json:"reason,omitempty"`
	AdditionalInfo string `json:"additional_info,omitempty"`
}

type AppointmentResponse struct {
	ID             string    `json:"id"`
	SlotID         string    `json:"slot_id"`
	RequesterID    string    `json:"requester_id"`
	OwnerID        string    `json:"owner_id"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	AdditionalInfo string    `json:"additional_info,omitempty"`
	MeetingLink    *string   `json:"meeting_link,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type AssignRequest struct {
	AppointmentID string `json:"appointment_id"`
	NewOwnerID    string `json:"new_owner_id"`
}
