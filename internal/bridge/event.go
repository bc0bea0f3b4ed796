package bridge

import "timeslot-service/api"

type EventType string

const (
	EventNewRequest           EventType = "NewRequest"
	EventRequestStatusChanged EventType = "RequestStatusChanged"
)

// Event is the inbound (and outbound) wire contract. Delivery is
// at-least-once; the id exists so consumers can drop duplicates.
type Event struct {
	ID          string                   `json:"id"`
	Type        EventType                `json:"event_type"`
	Appointment *api.AppointmentResponse `json:"appointment,omitempty"`
}
