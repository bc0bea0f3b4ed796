package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"timeslot-service/api"
	"timeslot-service/internal/bridge"
	"timeslot-service/internal/lock"
	"timeslot-service/internal/models"
	"timeslot-service/internal/recurrence"
	"timeslot-service/internal/schedule"
	"timeslot-service/pkg/response"

	"github.com/google/uuid"
)

type Service struct {
	store    Store
	locker   lock.Locker
	notifier Notifier
	opts     Options
}

type Options struct {
	HorizonDays     int
	LockTTL         time.Duration
	DefaultPageSize int
	MaxPageSize     int
	Now             func() time.Time
}

func NewService(store Store, locker lock.Locker, notifier Notifier, opts Options) *Service {
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 90
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 50
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 200
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{store: store, locker: locker, notifier: notifier, opts: opts}
}

type Store interface {
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Patterns
	CreatePattern(ctx context.Context, tx *sql.Tx, p *models.SlotPattern) (string, error)
	GetPattern(ctx context.Context, id string) (*models.SlotPattern, error)
	SetPatternStatus(ctx context.Context, tx *sql.Tx, id string, status models.PatternStatus) error
	ListActivePatterns(ctx context.Context) ([]*models.SlotPattern, error)

	// Exceptions
	CreateException(ctx context.Context, tx *sql.Tx, ex *models.PatternException) (string, error)
	ListExceptions(ctx context.Context, patternID string, from, to time.Time) ([]*models.PatternException, error)

	// Slots
	InsertSlots(ctx context.Context, tx *sql.Tx, slots []*models.Slot) error
	GetSlot(ctx context.Context, id string) (*models.Slot, error)
	ListSlots(ctx context.Context, f *models.SlotFilters) ([]*models.Slot, int, error)
	DeleteSlot(ctx context.Context, id string) error
	DeleteUnbookedPatternSlots(ctx context.Context, tx *sql.Tx, patternID string, onDate, after *time.Time) error
	ReserveSlot(ctx context.Context, tx *sql.Tx, slotID string) error
	ReleaseSlot(ctx context.Context, tx *sql.Tx, slotID string) error
	FindAvailableSlot(ctx context.Context, tx *sql.Tx, ownerID string, date time.Time) (*models.Slot, error)
	CountBookedSlotsOnDate(ctx context.Context, patternID string, date time.Time) (int, error)

	// Appointments
	CreateAppointment(ctx context.Context, tx *sql.Tx, a *models.Appointment) (string, error)
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
	SetAppointmentStatus(ctx context.Context, tx *sql.Tx, id string, status models.AppointmentStatus) error
	ReassignAppointment(ctx context.Context, tx *sql.Tx, id, newOwnerID, newSlotID string) error
}

// Notifier receives outbound lifecycle events. The bridge's publisher
// implements it; a nop implementation is used when AMQP is disabled.
type Notifier interface {
	Emit(ctx context.Context, event bridge.Event)
}

// Patterns

func (s *Service) CreatePattern(ctx context.Context, req *api.PatternRequest) (*api.PatternResponse, error) {
	const op = "service.CreatePattern"

	pattern, err := s.patternFromRequest(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: begin tx: %w", op, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	id, err := s.store.CreatePattern(ctx, tx, pattern)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pattern.ID = id

	// Materialize the initial horizon in the same transaction, so a pattern is
	// never visible without its slots.
	from, to := s.horizonWindow()
	if err := s.materializePattern(ctx, tx, pattern, from, to, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}

	return s.GetPattern(ctx, id)
}

func (s *Service) GetPattern(ctx context.Context, id string) (*api.PatternResponse, error) {
	const op = "service.GetPattern"

	pattern, err := s.store.GetPattern(ctx, id)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rule, err := recurrence.Decode(pattern.RecurrenceRule)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp := &api.PatternResponse{
		ID:                  pattern.ID,
		OwnerID:             pattern.OwnerID,
		OrgID:               pattern.OrgID,
		StartDate:           pattern.StartDate.Format("2006-01-02"),
		DailyStartTime:      pattern.DailyStartTime.Format("15:04"),
		DailyEndTime:        pattern.DailyEndTime.Format("15:04"),
		SlotDurationMinutes: pattern.SlotDurationMinutes,
		Recurrence: api.RecurrenceConfig{
			Frequency: string(rule.Frequency),
			Days:      rule.Weekdays,
		},
		RecurrenceRule: pattern.RecurrenceRule,
		VisitType:      pattern.VisitType,
		Status:         string(pattern.Status),
	}

	if pattern.EndDate != nil {
		endDate := pattern.EndDate.Format("2006-01-02")
		resp.EndDate = &endDate
	}

	return resp, nil
}

// DeactivatePattern retires a pattern without deleting history: future
// unbooked slots are removed, booked and past slots stay for audit.
func (s *Service) DeactivatePattern(ctx context.Context, id string) error {
	const op = "service.DeactivatePattern"

	if _, err := s.store.GetPattern(ctx, id); err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.store.SetPatternStatus(ctx, tx, id, models.PatternInactive); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	today := truncateToDate(s.opts.Now())
	if err := s.store.DeleteUnbookedPatternSlots(ctx, tx, id, nil, &today); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}

	return nil
}

// Exceptions

func (s *Service) CreateException(ctx context.Context, req *api.ExceptionRequest) (*api.ExceptionResponse, error) {
	const op = "service.CreateException"

	pattern, err := s.store.GetPattern(ctx, req.PatternID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ex, err := s.exceptionFromRequest(req, pattern)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// A day that already carries reservations cannot be retimed or cancelled.
	booked, err := s.store.CountBookedSlotsOnDate(ctx, pattern.ID, ex.Date)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if booked > 0 {
		return nil, fmt.Errorf("%s: date has booked slots: %w", op, response.ErrInvalidState)
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: begin tx: %w", op, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	id, err := s.store.CreateException(ctx, tx, ex)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ex.ID = id

	// Re-materialize the affected date: drop its unbooked slots, then add the
	// override-timed ones for a modification.
	if err := s.store.DeleteUnbookedPatternSlots(ctx, tx, pattern.ID, &ex.Date, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if ex.Kind == models.ExceptionModification {
		if err := s.materializePattern(ctx, tx, pattern, ex.Date, ex.Date, []*models.PatternException{ex}); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}

	resp := &api.ExceptionResponse{
		ID:        ex.ID,
		PatternID: ex.PatternID,
		Date:      ex.Date.Format("2006-01-02"),
		Kind:      string(ex.Kind),
		Reason:    ex.Reason,
	}
	if ex.Kind == models.ExceptionModification {
		resp.StartTime = ex.OverrideStartTime.Format("15:04")
		resp.EndTime = ex.OverrideEndTime.Format("15:04")
	}

	return resp, nil
}

// Slots

func (s *Service) GetSlot(ctx context.Context, id string) (*api.SlotResponse, error) {
	const op = "service.GetSlot"

	slot, err := s.store.GetSlot(ctx, id)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return slotResponse(slot), nil
}

func (s *Service) ListSlots(ctx context.Context, filters *models.SlotFilters) (*api.SlotPage, error) {
	const op = "service.ListSlots"

	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 {
		filters.PageSize = s.opts.DefaultPageSize
	}
	if filters.PageSize > s.opts.MaxPageSize {
		filters.PageSize = s.opts.MaxPageSize
	}

	slots, total, err := s.store.ListSlots(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rows := make([]api.SlotResponse, 0, len(slots))
	for _, slot := range slots {
		rows = append(rows, *slotResponse(slot))
	}

	totalPages := (total + filters.PageSize - 1) / filters.PageSize

	return &api.SlotPage{
		Rows:       rows,
		Page:       filters.Page,
		PageSize:   filters.PageSize,
		Total:      total,
		TotalPages: totalPages,
	}, nil
}

func (s *Service) DeleteSlot(ctx context.Context, id string) error {
	const op = "service.DeleteSlot"

	if err := s.store.DeleteSlot(ctx, id); err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		if errors.Is(err, response.ErrInvalidState) {
			return fmt.Errorf("%s: %w", op, response.ErrInvalidState)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// MaterializeHorizon rolls slot generation forward for every active pattern.
// Insertion is conflict-guarded, so re-running over an already generated range
// changes nothing. Returns a job id for log correlation.
func (s *Service) MaterializeHorizon(ctx context.Context) (string, error) {
	const op = "service.MaterializeHorizon"

	jobID := fmt.Sprintf("job-%s", uuid.NewString())

	patterns, err := s.store.ListActivePatterns(ctx)
	if err != nil {
		return jobID, fmt.Errorf("%s: %w", op, err)
	}

	from, to := s.horizonWindow()

	for _, pattern := range patterns {
		exceptions, err := s.store.ListExceptions(ctx, pattern.ID, from, to)
		if err != nil {
			return jobID, fmt.Errorf("%s: pattern %s: %w", op, pattern.ID, err)
		}

		tx, err := s.store.BeginTx(ctx)
		if err != nil {
			return jobID, fmt.Errorf("%s: begin tx: %w", op, err)
		}

		if err := s.materializePattern(ctx, tx, pattern, from, to, exceptions); err != nil {
			_ = tx.Rollback()
			return jobID, fmt.Errorf("%s: pattern %s: %w", op, pattern.ID, err)
		}

		if err := tx.Commit(); err != nil {
			return jobID, fmt.Errorf("%s: commit: %w", op, err)
		}
	}

	return jobID, nil
}

// materializePattern expands and resolves a pattern over [from, to] and
// persists the result inside the caller's transaction.
func (s *Service) materializePattern(ctx context.Context, tx *sql.Tx, pattern *models.SlotPattern, from, to time.Time, exceptions []*models.PatternException) error {
	occurrences, err := schedule.Expand(pattern, from, to)
	if err != nil {
		return err
	}

	resolved := schedule.Resolve(occurrences, exceptions, nil)
	if len(resolved) == 0 {
		return nil
	}

	slots := make([]*models.Slot, 0, len(resolved))
	for _, r := range resolved {
		slots = append(slots, &models.Slot{
			OwnerID:     pattern.OwnerID,
			OrgID:       pattern.OrgID,
			PatternID:   &pattern.ID,
			ExceptionID: r.ExceptionID,
			Date:        r.Date,
			Start:       r.Start,
			End:         r.End,
			Status:      r.Status,
			VisitType:   pattern.VisitType,
		})
	}

	return s.store.InsertSlots(ctx, tx, slots)
}

func (s *Service) horizonWindow() (time.Time, time.Time) {
	from := truncateToDate(s.opts.Now())
	to := from.AddDate(0, 0, s.opts.HorizonDays)

	return from, to
}

func (s *Service) patternFromRequest(req *api.PatternRequest) (*models.SlotPattern, error) {
	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return nil, fmt.Errorf("invalid start_date: %w", response.ErrValidation)
	}

	var endDate *time.Time
	if req.EndDate != nil {
		parsed, err := time.Parse("2006-01-02", *req.EndDate)
		if err != nil {
			return nil, fmt.Errorf("invalid end_date: %w", response.ErrValidation)
		}
		if parsed.Before(startDate) {
			return nil, fmt.Errorf("end_date precedes start_date: %w", response.ErrValidation)
		}
		endDate = &parsed
	}

	startTime, err := time.Parse("15:04", req.DailyStartTime)
	if err != nil {
		return nil, fmt.Errorf("invalid daily_start_time: %w", response.ErrValidation)
	}

	endTime, err := time.Parse("15:04", req.DailyEndTime)
	if err != nil {
		return nil, fmt.Errorf("invalid daily_end_time: %w", response.ErrValidation)
	}

	if !endTime.After(startTime) {
		return nil, fmt.Errorf("daily_end_time must be after daily_start_time: %w", response.ErrValidation)
	}

	if req.SlotDurationMinutes <= 0 {
		return nil, fmt.Errorf("slot_duration_minutes must be positive: %w", response.ErrValidation)
	}

	freq := models.Frequency(req.Recurrence.Frequency)

	var rule string
	if freq == models.FreqDaily && len(req.Recurrence.Days) == 0 {
		// Daily needs no weekday set; the codec's encode side requires one.
		rule = fmt.Sprintf("FREQ=%s", models.FreqDaily)
	} else {
		rule, err = recurrence.Encode(req.Recurrence.Days, freq)
		if err != nil {
			return nil, err
		}
	}

	return &models.SlotPattern{
		OwnerID:             req.OwnerID,
		OrgID:               req.OrgID,
		StartDate:           startDate,
		EndDate:             endDate,
		DailyStartTime:      startTime,
		DailyEndTime:        endTime,
		SlotDurationMinutes: req.SlotDurationMinutes,
		RecurrenceRule:      rule,
		VisitType:           req.VisitType,
		Status:              models.PatternActive,
	}, nil
}

func (s *Service) exceptionFromRequest(req *api.ExceptionRequest, pattern *models.SlotPattern) (*models.PatternException, error) {
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid date: %w", response.ErrValidation)
	}

	if date.Before(pattern.StartDate) {
		return nil, fmt.Errorf("date precedes pattern start: %w", response.ErrValidation)
	}
	if pattern.EndDate != nil && date.After(*pattern.EndDate) {
		return nil, fmt.Errorf("date is past pattern end: %w", response.ErrValidation)
	}

	rule, err := recurrence.Decode(pattern.RecurrenceRule)
	if err != nil {
		return nil, err
	}
	if !rule.Generates(date.Weekday()) {
		return nil, fmt.Errorf("pattern generates nothing on %s: %w", date.Weekday(), response.ErrValidation)
	}

	kind := models.ExceptionKind(req.Kind)
	if kind != models.ExceptionModification && kind != models.ExceptionCancellation {
		return nil, fmt.Errorf("unknown kind %q: %w", req.Kind, response.ErrValidation)
	}

	ex := &models.PatternException{
		PatternID: pattern.ID,
		Date:      date,
		Kind:      kind,
		Reason:    req.Reason,
	}

	if kind == models.ExceptionModification {
		startTime, err := time.Parse("15:04", req.StartTime)
		if err != nil {
			return nil, fmt.Errorf("invalid start_time: %w", response.ErrValidation)
		}
		endTime, err := time.Parse("15:04", req.EndTime)
		if err != nil {
			return nil, fmt.Errorf("invalid end_time: %w", response.ErrValidation)
		}
		if !endTime.After(startTime) {
			return nil, fmt.Errorf("end_time must be after start_time: %w", response.ErrValidation)
		}

		ex.OverrideStartTime = startTime
		ex.OverrideEndTime = endTime
	}

	return ex, nil
}

func slotResponse(slot *models.Slot) *api.SlotResponse {
	return &api.SlotResponse{
		ID:          slot.ID,
		OwnerID:     slot.OwnerID,
		OrgID:       slot.OrgID,
		PatternID:   slot.PatternID,
		ExceptionID: slot.ExceptionID,
		Date:        slot.Date.Format("2006-01-02"),
		Start:       slot.Start,
		End:         slot.End,
		Status:      string(slot.Status),
		VisitType:   slot.VisitType,
	}
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
