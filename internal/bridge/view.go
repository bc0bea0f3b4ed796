package bridge

import (
	"sync"

	"timeslot-service/api"
)

// View is the in-memory appointment collection the event stream folds into.
// Merging is idempotent on event id and keyed on appointment id, so duplicate
// delivery and out-of-band refreshes are both no-ops.
type View struct {
	mu           sync.RWMutex
	seen         map[string]struct{}
	appointments map[string]*api.AppointmentResponse
}

func NewView() *View {
	return &View{
		seen:         make(map[string]struct{}),
		appointments: make(map[string]*api.AppointmentResponse),
	}
}

// Merge folds one event into the view. It reports whether the event changed
// anything; a previously seen event id never does.
func (v *View) Merge(event Event) bool {
	if event.ID == "" || event.Appointment == nil {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, dup := v.seen[event.ID]; dup {
		return false
	}
	v.seen[event.ID] = struct{}{}

	copied := *event.Appointment
	v.appointments[copied.ID] = &copied

	return true
}

func (v *View) Get(appointmentID string) (*api.AppointmentResponse, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	a, ok := v.appointments[appointmentID]
	if !ok {
		return nil, false
	}

	copied := *a

	return &copied, true
}

func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return len(v.appointments)
}
