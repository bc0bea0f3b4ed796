package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"timeslot-service/api"
	"timeslot-service/internal/bridge"
	"timeslot-service/internal/models"
	"timeslot-service/pkg/response"
)

// The service commits and rolls back through *sql.Tx, so the in-memory store
// hands out transactions from a driver that accepts everything. State changes
// are applied directly to the maps; tests that need rollback semantics assert
// on the error path instead.

type nopDriver struct{}

func (nopDriver) Open(string) (driver.Conn, error) { return nopConn{}, nil }

type nopConn struct{}

func (nopConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("unsupported") }
func (nopConn) Close() error                        { return nil }
func (nopConn) Begin() (driver.Tx, error)           { return nopTx{}, nil }

type nopTx struct{}

func (nopTx) Commit() error   { return nil }
func (nopTx) Rollback() error { return nil }

var registerDriver sync.Once

func openNopDB(t *testing.T) *sql.DB {
	t.Helper()

	registerDriver.Do(func() {
		sql.Register("noptx", nopDriver{})
	})

	db, err := sql.Open("noptx", "")
	if err != nil {
		t.Fatalf("open nop db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

type fakeStore struct {
	mu sync.Mutex
	db *sql.DB

	patterns     map[string]*models.SlotPattern
	exceptions   []*models.PatternException
	slots        map[string]*models.Slot
	appointments map[string]*models.Appointment

	nextID int
}

func newFakeStore(t *testing.T) *fakeStore {
	return &fakeStore{
		db:           openNopDB(t),
		patterns:     make(map[string]*models.SlotPattern),
		slots:        make(map[string]*models.Slot),
		appointments: make(map[string]*models.Appointment),
	}
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return f.db.BeginTx(ctx, nil)
}

func (f *fakeStore) CreatePattern(_ context.Context, _ *sql.Tx, p *models.SlotPattern) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := *p
	cp.ID = f.id("pattern")
	f.patterns[cp.ID] = &cp

	return cp.ID, nil
}

func (f *fakeStore) GetPattern(_ context.Context, id string) (*models.SlotPattern, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.patterns[id]
	if !ok {
		return nil, response.ErrNotFound
	}
	cp := *p

	return &cp, nil
}

func (f *fakeStore) SetPatternStatus(_ context.Context, _ *sql.Tx, id string, status models.PatternStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.patterns[id]
	if !ok {
		return response.ErrNotFound
	}
	p.Status = status

	return nil
}

func (f *fakeStore) ListActivePatterns(_ context.Context) ([]*models.SlotPattern, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.SlotPattern
	for _, p := range f.patterns {
		if p.Status == models.PatternActive {
			cp := *p
			out = append(out, &cp)
		}
	}

	return out, nil
}

func (f *fakeStore) CreateException(_ context.Context, _ *sql.Tx, ex *models.PatternException) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := *ex
	cp.ID = f.id("exception")
	f.exceptions = append(f.exceptions, &cp)

	return cp.ID, nil
}

func (f *fakeStore) ListExceptions(_ context.Context, patternID string, from, to time.Time) ([]*models.PatternException, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.PatternException
	for _, ex := range f.exceptions {
		if ex.PatternID != patternID || ex.Date.Before(from) || ex.Date.After(to) {
			continue
		}
		cp := *ex
		out = append(out, &cp)
	}

	return out, nil
}

func (f *fakeStore) InsertSlots(_ context.Context, _ *sql.Tx, slots []*models.Slot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, slot := range slots {
		if f.slotExists(slot) {
			continue
		}
		cp := *slot
		cp.ID = f.id("slot")
		f.slots[cp.ID] = &cp
	}

	return nil
}

func (f *fakeStore) slotExists(slot *models.Slot) bool {
	for _, existing := range f.slots {
		samePattern := existing.PatternID != nil && slot.PatternID != nil && *existing.PatternID == *slot.PatternID
		if samePattern && existing.Date.Equal(slot.Date) && existing.Start.Equal(slot.Start) {
			return true
		}
	}

	return false
}

func (f *fakeStore) GetSlot(_ context.Context, id string) (*models.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot, ok := f.slots[id]
	if !ok {
		return nil, response.ErrNotFound
	}
	cp := *slot

	return &cp, nil
}

func (f *fakeStore) ListSlots(_ context.Context, filters *models.SlotFilters) ([]*models.Slot, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []*models.Slot
	for _, slot := range f.slots {
		if filters.OwnerID != nil && slot.OwnerID != *filters.OwnerID {
			continue
		}
		if filters.Status != nil && slot.Status != *filters.Status {
			continue
		}
		if filters.StartDate != nil && slot.Date.Before(*filters.StartDate) {
			continue
		}
		if filters.EndDate != nil && slot.Date.After(*filters.EndDate) {
			continue
		}
		cp := *slot
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Date.Equal(matched[j].Date) {
			return matched[i].Date.Before(matched[j].Date)
		}
		return matched[i].Start.Before(matched[j].Start)
	})

	total := len(matched)
	offset := (filters.Page - 1) * filters.PageSize
	if offset >= total {
		return nil, total, nil
	}
	end := offset + filters.PageSize
	if end > total {
		end = total
	}

	return matched[offset:end], total, nil
}

func (f *fakeStore) DeleteSlot(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.slots[id]; !ok {
		return response.ErrNotFound
	}
	for _, a := range f.appointments {
		if a.SlotID == id && !a.Status.IsTerminal() {
			return response.ErrInvalidState
		}
	}
	delete(f.slots, id)

	return nil
}

func (f *fakeStore) DeleteUnbookedPatternSlots(_ context.Context, _ *sql.Tx, patternID string, onDate, after *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, slot := range f.slots {
		if slot.PatternID == nil || *slot.PatternID != patternID || slot.Status != models.SlotAvailable {
			continue
		}
		if onDate != nil && !slot.Date.Equal(*onDate) {
			continue
		}
		if after != nil && slot.Date.Before(*after) {
			continue
		}
		delete(f.slots, id)
	}

	return nil
}

func (f *fakeStore) ReserveSlot(_ context.Context, _ *sql.Tx, slotID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot, ok := f.slots[slotID]
	if !ok {
		return response.ErrNotFound
	}
	if slot.Status != models.SlotAvailable {
		return response.ErrSlotUnavailable
	}
	slot.Status = models.SlotUnavailable

	return nil
}

func (f *fakeStore) ReleaseSlot(_ context.Context, _ *sql.Tx, slotID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot, ok := f.slots[slotID]
	if !ok {
		return response.ErrNotFound
	}
	slot.Status = models.SlotAvailable

	return nil
}

func (f *fakeStore) FindAvailableSlot(_ context.Context, _ *sql.Tx, ownerID string, date time.Time) (*models.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var best *models.Slot
	for _, slot := range f.slots {
		if slot.OwnerID != ownerID || !slot.Date.Equal(date) || slot.Status != models.SlotAvailable {
			continue
		}
		if best == nil || slot.Start.Before(best.Start) {
			best = slot
		}
	}
	if best == nil {
		return nil, response.ErrNoAvailability
	}
	cp := *best

	return &cp, nil
}

func (f *fakeStore) CountBookedSlotsOnDate(_ context.Context, patternID string, date time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, slot := range f.slots {
		if slot.PatternID != nil && *slot.PatternID == patternID &&
			slot.Date.Equal(date) && slot.Status == models.SlotUnavailable {
			count++
		}
	}

	return count, nil
}

func (f *fakeStore) CreateAppointment(_ context.Context, _ *sql.Tx, a *models.Appointment) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.appointments {
		if existing.SlotID == a.SlotID && !existing.Status.IsTerminal() {
			return "", response.ErrSlotUnavailable
		}
	}

	cp := *a
	cp.ID = f.id("appt")
	cp.CreatedAt = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	f.appointments[cp.ID] = &cp

	return cp.ID, nil
}

func (f *fakeStore) GetAppointment(_ context.Context, id string) (*models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.appointments[id]
	if !ok {
		return nil, response.ErrNotFound
	}
	cp := *a

	return &cp, nil
}

func (f *fakeStore) SetAppointmentStatus(_ context.Context, _ *sql.Tx, id string, status models.AppointmentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.appointments[id]
	if !ok {
		return response.ErrNotFound
	}
	a.Status = status

	return nil
}

func (f *fakeStore) ReassignAppointment(_ context.Context, _ *sql.Tx, id, newOwnerID, newSlotID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.appointments[id]
	if !ok {
		return response.ErrNotFound
	}
	a.OwnerID = newOwnerID
	a.SlotID = newSlotID
	a.Status = models.AppointmentPending

	return nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	deny bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) Lock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.deny || l.held[key] {
		return "", false, nil
	}
	l.held[key] = true

	return "token", true, nil
}

func (l *fakeLocker) Unlock(_ context.Context, key, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, key)

	return nil
}

func (l *fakeLocker) Close() error { return nil }

type recordNotifier struct {
	mu     sync.Mutex
	events []bridge.Event
}

func (n *recordNotifier) Emit(_ context.Context, event bridge.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.events = append(n.events, event)
}

func (n *recordNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.events)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestService(t *testing.T) (*Service, *fakeStore, *recordNotifier) {
	t.Helper()

	store := newFakeStore(t)
	notifier := &recordNotifier{}

	svc := NewService(store, newFakeLocker(), notifier, Options{
		HorizonDays:     30,
		DefaultPageSize: 50,
		MaxPageSize:     200,
		Now:             func() time.Time { return date(2024, time.January, 1) },
	})

	return svc, store, notifier
}

func seedSlot(store *fakeStore, id, ownerID string, day time.Time, startHour int, status models.SlotStatus) {
	store.mu.Lock()
	defer store.mu.Unlock()

	start := day.Add(time.Duration(startHour) * time.Hour)
	store.slots[id] = &models.Slot{
		ID:      id,
		OwnerID: ownerID,
		OrgID:   "org-1",
		Date:    day,
		Start:   start,
		End:     start.Add(30 * time.Minute),
		Status:  status,
	}
}

func weeklyPatternRequest() *api.PatternRequest {
	end := "2024-01-14"

	return &api.PatternRequest{
		OwnerID:             "owner-1",
		OrgID:               "org-1",
		StartDate:           "2024-01-01",
		EndDate:             &end,
		DailyStartTime:      "09:00",
		DailyEndTime:        "11:00",
		SlotDurationMinutes: 30,
		Recurrence:          api.RecurrenceConfig{Frequency: "WEEKLY", Days: []string{"MO", "WE"}},
		VisitType:           "ONLINE",
	}
}

func TestCreatePatternMaterializesSlots(t *testing.T) {
	svc, store, _ := newTestService(t)

	resp, err := svc.CreatePattern(context.Background(), weeklyPatternRequest())
	if err != nil {
		t.Fatalf("CreatePattern: %v", err)
	}

	if resp.RecurrenceRule != "FREQ=WEEKLY;BYDAY=MO,WE" {
		t.Errorf("recurrence_rule = %q", resp.RecurrenceRule)
	}
	if resp.Status != "ACTIVE" {
		t.Errorf("status = %q, want ACTIVE", resp.Status)
	}

	// Two hours of 30-minute slots on two weekdays across two weeks.
	store.mu.Lock()
	got := len(store.slots)
	store.mu.Unlock()
	if got != 16 {
		t.Errorf("materialized %d slots, want 16", got)
	}
}

func TestCreatePatternRejectsInvalidInput(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name   string
		mutate func(*api.PatternRequest)
	}{
		{"bad start date", func(r *api.PatternRequest) { r.StartDate = "01.01.2024" }},
		{"end before start", func(r *api.PatternRequest) { end := "2023-12-31"; r.EndDate = &end }},
		{"end equals start of window", func(r *api.PatternRequest) { r.DailyEndTime = "09:00" }},
		{"zero duration", func(r *api.PatternRequest) { r.SlotDurationMinutes = 0 }},
		{"unknown weekday", func(r *api.PatternRequest) { r.Recurrence.Days = []string{"XX"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := weeklyPatternRequest()
			tt.mutate(req)

			_, err := svc.CreatePattern(context.Background(), req)
			if !errors.Is(err, response.ErrValidation) && !errors.Is(err, response.ErrParse) {
				t.Errorf("err = %v, want validation error", err)
			}
		})
	}
}

func TestDeactivatePatternDropsFutureUnbookedSlots(t *testing.T) {
	svc, store, _ := newTestService(t)

	resp, err := svc.CreatePattern(context.Background(), weeklyPatternRequest())
	if err != nil {
		t.Fatalf("CreatePattern: %v", err)
	}

	// Book one slot; it must survive the deactivation.
	var bookedID string
	store.mu.Lock()
	for id := range store.slots {
		bookedID = id
		break
	}
	store.slots[bookedID].Status = models.SlotUnavailable
	store.mu.Unlock()

	if err := svc.DeactivatePattern(context.Background(), resp.ID); err != nil {
		t.Fatalf("DeactivatePattern: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.slots) != 1 {
		t.Errorf("%d slots remain, want 1 (the booked one)", len(store.slots))
	}
	if _, ok := store.slots[bookedID]; !ok {
		t.Error("booked slot was deleted")
	}
	if store.patterns[resp.ID].Status != models.PatternInactive {
		t.Error("pattern still active")
	}
}

func TestCreateExceptionOnBookedDateRejected(t *testing.T) {
	svc, store, _ := newTestService(t)

	resp, err := svc.CreatePattern(context.Background(), weeklyPatternRequest())
	if err != nil {
		t.Fatalf("CreatePattern: %v", err)
	}

	// Book one of the Jan 3 slots.
	store.mu.Lock()
	for _, slot := range store.slots {
		if slot.Date.Equal(date(2024, time.January, 3)) {
			slot.Status = models.SlotUnavailable
			break
		}
	}
	store.mu.Unlock()

	_, err = svc.CreateException(context.Background(), &api.ExceptionRequest{
		PatternID: resp.ID,
		Date:      "2024-01-03",
		Kind:      "CANCELLATION",
	})
	if !errors.Is(err, response.ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestCreateExceptionCancellationDropsDate(t *testing.T) {
	svc, store, _ := newTestService(t)

	resp, err := svc.CreatePattern(context.Background(), weeklyPatternRequest())
	if err != nil {
		t.Fatalf("CreatePattern: %v", err)
	}

	if _, err := svc.CreateException(context.Background(), &api.ExceptionRequest{
		PatternID: resp.ID,
		Date:      "2024-01-03",
		Kind:      "CANCELLATION",
		Reason:    "holiday",
	}); err != nil {
		t.Fatalf("CreateException: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, slot := range store.slots {
		if slot.Date.Equal(date(2024, time.January, 3)) {
			t.Fatal("cancelled date still has slots")
		}
	}
	if len(store.slots) != 12 {
		t.Errorf("%d slots remain, want 12", len(store.slots))
	}
}

func TestCreateExceptionModificationRetimesDate(t *testing.T) {
	svc, store, _ := newTestService(t)

	resp, err := svc.CreatePattern(context.Background(), weeklyPatternRequest())
	if err != nil {
		t.Fatalf("CreatePattern: %v", err)
	}

	ex, err := svc.CreateException(context.Background(), &api.ExceptionRequest{
		PatternID: resp.ID,
		Date:      "2024-01-03",
		StartTime: "14:00",
		EndTime:   "16:00",
		Kind:      "MODIFICATION",
	})
	if err != nil {
		t.Fatalf("CreateException: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	onDate := 0
	for _, slot := range store.slots {
		if !slot.Date.Equal(date(2024, time.January, 3)) {
			continue
		}
		onDate++
		if slot.Start.Hour() < 14 || slot.End.Hour() > 16 {
			t.Errorf("slot %s-%s outside override window",
				slot.Start.Format("15:04"), slot.End.Format("15:04"))
		}
		if slot.ExceptionID == nil || *slot.ExceptionID != ex.ID {
			t.Error("override slot not tagged with exception id")
		}
	}
	if onDate != 4 {
		t.Errorf("%d slots on modified date, want 4", onDate)
	}
}

func TestCreateExceptionRejectsNonGeneratedDate(t *testing.T) {
	svc, _, _ := newTestService(t)

	resp, err := svc.CreatePattern(context.Background(), weeklyPatternRequest())
	if err != nil {
		t.Fatalf("CreatePattern: %v", err)
	}

	// Jan 2 is a Tuesday; the pattern runs Mondays and Wednesdays.
	_, err = svc.CreateException(context.Background(), &api.ExceptionRequest{
		PatternID: resp.ID,
		Date:      "2024-01-02",
		Kind:      "CANCELLATION",
	})
	if !errors.Is(err, response.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestRequestAppointment(t *testing.T) {
	svc, store, notifier := newTestService(t)
	seedSlot(store, "slot-1", "owner-1", date(2024, time.January, 8), 9, models.SlotAvailable)

	resp, err := svc.RequestAppointment(context.Background(), &api.AppointmentRequest{
		SlotID:      "slot-1",
		RequesterID: "requester-1",
		Reason:      "checkup",
	})
	if err != nil {
		t.Fatalf("RequestAppointment: %v", err)
	}

	if resp.Status != "PENDING" {
		t.Errorf("status = %q, want PENDING", resp.Status)
	}
	if resp.OwnerID != "owner-1" {
		t.Errorf("owner = %q, want owner-1", resp.OwnerID)
	}

	slot, _ := store.GetSlot(context.Background(), "slot-1")
	if slot.Status != models.SlotUnavailable {
		t.Error("slot not reserved")
	}

	if notifier.count() != 1 {
		t.Errorf("%d events emitted, want 1", notifier.count())
	}
}

func TestRequestAppointmentSecondRequesterLoses(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedSlot(store, "slot-1", "owner-1", date(2024, time.January, 8), 9, models.SlotAvailable)

	if _, err := svc.RequestAppointment(context.Background(), &api.AppointmentRequest{
		SlotID:      "slot-1",
		RequesterID: "requester-1",
	}); err != nil {
		t.Fatalf("first request: %v", err)
	}

	_, err := svc.RequestAppointment(context.Background(), &api.AppointmentRequest{
		SlotID:      "slot-1",
		RequesterID: "requester-2",
	})
	if !errors.Is(err, response.ErrSlotUnavailable) {
		t.Errorf("err = %v, want ErrSlotUnavailable", err)
	}
}

func TestRequestAppointmentConcurrentExactlyOneWins(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedSlot(store, "slot-1", "owner-1", date(2024, time.January, 8), 9, models.SlotAvailable)

	const racers = 8

	var wg sync.WaitGroup
	results := make(chan error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RequestAppointment(context.Background(), &api.AppointmentRequest{
				SlotID:      "slot-1",
				RequesterID: "requester",
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	won, lost := 0, 0
	for err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, response.ErrSlotUnavailable), errors.Is(err, response.ErrLocked):
			lost++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	if won != 1 {
		t.Errorf("%d requests won, want exactly 1", won)
	}
	if won+lost != racers {
		t.Errorf("won+lost = %d, want %d", won+lost, racers)
	}
}

func TestRequestAppointmentLocked(t *testing.T) {
	store := newFakeStore(t)
	locker := newFakeLocker()
	locker.deny = true

	svc := NewService(store, locker, &recordNotifier{}, Options{})
	seedSlot(store, "slot-1", "owner-1", date(2024, time.January, 8), 9, models.SlotAvailable)

	_, err := svc.RequestAppointment(context.Background(), &api.AppointmentRequest{
		SlotID:      "slot-1",
		RequesterID: "requester-1",
	})
	if !errors.Is(err, response.ErrLocked) {
		t.Errorf("err = %v, want ErrLocked", err)
	}
}

func TestAppointmentTransitions(t *testing.T) {
	type op func(*Service, context.Context, string) (*api.AppointmentResponse, error)

	accept := (*Service).AcceptAppointment
	decline := (*Service).DeclineAppointment
	cancel := (*Service).CancelAppointment
	complete := (*Service).CompleteAppointment

	tests := []struct {
		name       string
		from       models.AppointmentStatus
		op         op
		wantStatus models.AppointmentStatus
		wantErr    error
		slotFreed  bool
	}{
		{"accept pending", models.AppointmentPending, accept, models.AppointmentAccepted, nil, false},
		{"accept accepted", models.AppointmentAccepted, accept, "", response.ErrInvalidState, false},
		{"accept declined", models.AppointmentDeclined, accept, "", response.ErrInvalidState, false},
		{"decline pending", models.AppointmentPending, decline, models.AppointmentDeclined, nil, true},
		{"decline accepted", models.AppointmentAccepted, decline, models.AppointmentDeclined, nil, true},
		{"decline completed", models.AppointmentCompleted, decline, "", response.ErrInvalidState, false},
		{"cancel pending", models.AppointmentPending, cancel, models.AppointmentCancelled, nil, true},
		{"cancel accepted", models.AppointmentAccepted, cancel, "", response.ErrInvalidState, false},
		{"cancel cancelled", models.AppointmentCancelled, cancel, "", response.ErrInvalidState, false},
		{"complete accepted", models.AppointmentAccepted, complete, models.AppointmentCompleted, nil, false},
		{"complete pending", models.AppointmentPending, complete, "", response.ErrInvalidState, false},
		{"complete completed", models.AppointmentCompleted, complete, "", response.ErrInvalidState, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := newTestService(t)
			seedSlot(store, "slot-1", "owner-1", date(2024, time.January, 8), 9, models.SlotUnavailable)

			store.mu.Lock()
			store.appointments["appt-1"] = &models.Appointment{
				ID:          "appt-1",
				SlotID:      "slot-1",
				RequesterID: "requester-1",
				OwnerID:     "owner-1",
				Status:      tt.from,
			}
			store.mu.Unlock()

			resp, err := tt.op(svc, context.Background(), "appt-1")

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				got, _ := store.GetAppointment(context.Background(), "appt-1")
				if got.Status != tt.from {
					t.Errorf("rejected transition changed status to %s", got.Status)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Status != string(tt.wantStatus) {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}

			slot, _ := store.GetSlot(context.Background(), "slot-1")
			if tt.slotFreed && slot.Status != models.SlotAvailable {
				t.Error("slot not released")
			}
			if !tt.slotFreed && slot.Status != models.SlotUnavailable {
				t.Error("slot released unexpectedly")
			}
		})
	}
}

func TestDeclinedSlotIsImmediatelyRebookable(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedSlot(store, "slot-1", "owner-1", date(2024, time.January, 8), 9, models.SlotAvailable)

	first, err := svc.RequestAppointment(context.Background(), &api.AppointmentRequest{
		SlotID:      "slot-1",
		RequesterID: "requester-1",
	})
	if err != nil {
		t.Fatalf("first request: %v", err)
	}

	if _, err := svc.DeclineAppointment(context.Background(), first.ID); err != nil {
		t.Fatalf("decline: %v", err)
	}

	second, err := svc.RequestAppointment(context.Background(), &api.AppointmentRequest{
		SlotID:      "slot-1",
		RequesterID: "requester-2",
	})
	if err != nil {
		t.Fatalf("rebooking declined slot: %v", err)
	}
	if second.Status != "PENDING" {
		t.Errorf("status = %q, want PENDING", second.Status)
	}
}

func TestAssignMovesAppointmentToNewOwner(t *testing.T) {
	svc, store, _ := newTestService(t)

	day := date(2024, time.January, 8)
	seedSlot(store, "slot-old", "owner-1", day, 9, models.SlotUnavailable)
	seedSlot(store, "slot-late", "owner-2", day, 15, models.SlotAvailable)
	seedSlot(store, "slot-early", "owner-2", day, 10, models.SlotAvailable)

	store.mu.Lock()
	store.appointments["appt-1"] = &models.Appointment{
		ID:          "appt-1",
		SlotID:      "slot-old",
		RequesterID: "requester-1",
		OwnerID:     "owner-1",
		Status:      models.AppointmentAccepted,
	}
	store.mu.Unlock()

	resp, err := svc.AssignAppointment(context.Background(), "appt-1", "owner-2")
	if err != nil {
		t.Fatalf("AssignAppointment: %v", err)
	}

	if resp.OwnerID != "owner-2" {
		t.Errorf("owner = %q, want owner-2", resp.OwnerID)
	}
	if resp.SlotID != "slot-early" {
		t.Errorf("slot = %q, want the earliest available slot-early", resp.SlotID)
	}
	if resp.Status != "PENDING" {
		t.Errorf("status = %q, want PENDING after reassignment", resp.Status)
	}

	oldSlot, _ := store.GetSlot(context.Background(), "slot-old")
	if oldSlot.Status != models.SlotAvailable {
		t.Error("old slot not released")
	}
	newSlot, _ := store.GetSlot(context.Background(), "slot-early")
	if newSlot.Status != models.SlotUnavailable {
		t.Error("new slot not reserved")
	}
}

func TestAssignNoAvailabilityLeavesAppointmentUnchanged(t *testing.T) {
	svc, store, _ := newTestService(t)

	seedSlot(store, "slot-old", "owner-1", date(2024, time.January, 8), 9, models.SlotUnavailable)

	store.mu.Lock()
	store.appointments["appt-1"] = &models.Appointment{
		ID:      "appt-1",
		SlotID:  "slot-old",
		OwnerID: "owner-1",
		Status:  models.AppointmentPending,
	}
	store.mu.Unlock()

	_, err := svc.AssignAppointment(context.Background(), "appt-1", "owner-2")
	if !errors.Is(err, response.ErrNoAvailability) {
		t.Fatalf("err = %v, want ErrNoAvailability", err)
	}

	got, _ := store.GetAppointment(context.Background(), "appt-1")
	if got.OwnerID != "owner-1" || got.SlotID != "slot-old" || got.Status != models.AppointmentPending {
		t.Errorf("appointment changed on failed assign: %+v", got)
	}
	slot, _ := store.GetSlot(context.Background(), "slot-old")
	if slot.Status != models.SlotUnavailable {
		t.Error("old slot released on failed assign")
	}
}

func TestAssignTerminalAppointmentRejected(t *testing.T) {
	svc, store, _ := newTestService(t)

	store.mu.Lock()
	store.appointments["appt-1"] = &models.Appointment{
		ID:     "appt-1",
		SlotID: "slot-1",
		Status: models.AppointmentCompleted,
	}
	store.mu.Unlock()

	_, err := svc.AssignAppointment(context.Background(), "appt-1", "owner-2")
	if !errors.Is(err, response.ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestMaterializeHorizonIsIdempotent(t *testing.T) {
	svc, store, _ := newTestService(t)

	if _, err := svc.CreatePattern(context.Background(), weeklyPatternRequest()); err != nil {
		t.Fatalf("CreatePattern: %v", err)
	}

	store.mu.Lock()
	before := len(store.slots)
	store.mu.Unlock()

	jobID, err := svc.MaterializeHorizon(context.Background())
	if err != nil {
		t.Fatalf("MaterializeHorizon: %v", err)
	}
	if jobID == "" {
		t.Error("empty job id")
	}

	store.mu.Lock()
	after := len(store.slots)
	store.mu.Unlock()
	if after != before {
		t.Errorf("re-running materialization changed slot count: %d -> %d", before, after)
	}
}

func TestListSlotsPagination(t *testing.T) {
	svc, store, _ := newTestService(t)

	day := date(2024, time.January, 8)
	for hour := 8; hour < 13; hour++ {
		seedSlot(store, fmt.Sprintf("slot-%d", hour), "owner-1", day, hour, models.SlotAvailable)
	}

	page, err := svc.ListSlots(context.Background(), &models.SlotFilters{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("ListSlots: %v", err)
	}

	if page.Total != 5 {
		t.Errorf("total = %d, want 5", page.Total)
	}
	if page.TotalPages != 3 {
		t.Errorf("total_pages = %d, want 3", page.TotalPages)
	}
	if len(page.Rows) != 2 {
		t.Fatalf("%d rows, want 2", len(page.Rows))
	}
	if !page.Rows[0].Start.Before(page.Rows[1].Start) {
		t.Error("rows not ordered by start time")
	}
}

func TestListSlotsClampsPageSize(t *testing.T) {
	svc, _, _ := newTestService(t)

	page, err := svc.ListSlots(context.Background(), &models.SlotFilters{Page: 0, PageSize: 10_000})
	if err != nil {
		t.Fatalf("ListSlots: %v", err)
	}
	if page.Page != 1 {
		t.Errorf("page = %d, want 1", page.Page)
	}
	if page.PageSize != 200 {
		t.Errorf("page_size = %d, want the 200 cap", page.PageSize)
	}
}

func TestApplyRoutesCommands(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedSlot(store, "slot-1", "owner-1", date(2024, time.January, 8), 9, models.SlotAvailable)

	got, err := svc.Apply(context.Background(), RequestCmd{Req: &api.AppointmentRequest{
		SlotID:      "slot-1",
		RequesterID: "requester-1",
	}})
	if err != nil {
		t.Fatalf("Apply(RequestCmd): %v", err)
	}

	appointment, ok := got.(*api.AppointmentResponse)
	if !ok {
		t.Fatalf("result type %T, want *api.AppointmentResponse", got)
	}

	if _, err := svc.Apply(context.Background(), AcceptCmd{AppointmentID: appointment.ID}); err != nil {
		t.Fatalf("Apply(AcceptCmd): %v", err)
	}

	stored, _ := store.GetAppointment(context.Background(), appointment.ID)
	if stored.Status != models.AppointmentAccepted {
		t.Errorf("status = %s, want ACCEPTED", stored.Status)
	}
}

type bogusCmd struct{}

func (bogusCmd) isCommand() {}

func TestApplyUnknownCommand(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Apply(context.Background(), bogusCmd{})
	if !errors.Is(err, response.ErrBadRequest) {
		t.Errorf("err = %v, want ErrBadRequest", err)
	}
}
