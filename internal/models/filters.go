package models

import "time"

// SlotFilters bounds a slot listing. Pagination is always applied; callers that
// omit a date range get whatever horizon has been materialized, never an
// unbounded expansion.
type SlotFilters struct {
	Status    *SlotStatus
	StartDate *time.Time
	EndDate   *time.Time
	OwnerID   *string
	OrgID     *string
	Page      int
	PageSize  int
	OrderBy   string
	OrderDir  string
}
