package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"timeslot-service/internal/models"
	"timeslot-service/pkg/response"

	"github.com/lib/pq"
)

type Storage struct {
	db *sql.DB
}

func New(storagePath string) (*Storage, error) {
	const op = "storage.postgres.New"

	db, err := sql.Open("postgres", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

func (s *Storage) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// #### patterns ####

func (s *Storage) CreatePattern(ctx context.Context, tx *sql.Tx, p *models.SlotPattern) (string, error) {
	const op = "storage.postgres.CreatePattern"

	var id string

	err := tx.QueryRowContext(ctx,
		`INSERT INTO slot_patterns
		(owner_id, org_id, start_date, end_date, daily_start_time, daily_end_time,
		 slot_duration_minutes, recurrence_rule, visit_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING pattern_id`,
		p.OwnerID,
		p.OrgID,
		p.StartDate,
		p.EndDate,
		p.DailyStartTime.Format("15:04:05"),
		p.DailyEndTime.Format("15:04:05"),
		p.SlotDurationMinutes,
		p.RecurrenceRule,
		p.VisitType,
		string(p.Status),
	).Scan(&id)
	if err != nil {
		sqlErr, ok := err.(*pq.Error)
		if ok && sqlErr.Code == "23503" {
			return "", fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return "", fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) GetPattern(ctx context.Context, id string) (*models.SlotPattern, error) {
	const op = "storage.postgres.GetPattern"

	var p models.SlotPattern

	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id, org_id, start_date, end_date, daily_start_time, daily_end_time,
		 slot_duration_minutes, recurrence_rule, visit_type, status
		FROM slot_patterns WHERE pattern_id=$1`, id).
		Scan(
			&p.OwnerID,
			&p.OrgID,
			&p.StartDate,
			&p.EndDate,
			&p.DailyStartTime,
			&p.DailyEndTime,
			&p.SlotDurationMinutes,
			&p.RecurrenceRule,
			&p.VisitType,
			&p.Status,
		)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	p.ID = id

	return &p, nil
}

func (s *Storage) SetPatternStatus(ctx context.Context, tx *sql.Tx, id string, status models.PatternStatus) error {
	const op = "storage.postgres.SetPatternStatus"

	res, err := tx.ExecContext(ctx,
		`UPDATE slot_patterns SET status=$1 WHERE pattern_id=$2`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	return nil
}

func (s *Storage) ListActivePatterns(ctx context.Context) ([]*models.SlotPattern, error) {
	const op = "storage.postgres.ListActivePatterns"

	rows, err := s.db.QueryContext(ctx,
		`SELECT pattern_id, owner_id, org_id, start_date, end_date, daily_start_time,
		 daily_end_time, slot_duration_minutes, recurrence_rule, visit_type, status
		FROM slot_patterns WHERE status=$1`, string(models.PatternActive))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var patterns []*models.SlotPattern
	for rows.Next() {
		var p models.SlotPattern
		err := rows.Scan(
			&p.ID,
			&p.OwnerID,
			&p.OrgID,
			&p.StartDate,
			&p.EndDate,
			&p.DailyStartTime,
			&p.DailyEndTime,
			&p.SlotDurationMinutes,
			&p.RecurrenceRule,
			&p.VisitType,
			&p.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		patterns = append(patterns, &p)
	}

	return patterns, nil
}

// #### exceptions ####

func (s *Storage) CreateException(ctx context.Context, tx *sql.Tx, ex *models.PatternException) (string, error) {
	const op = "storage.postgres.CreateException"

	var id string

	err := tx.QueryRowContext(ctx,
		`INSERT INTO pattern_exceptions
		(pattern_id, exception_date, override_start_time, override_end_time, kind, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING exception_id`,
		ex.PatternID,
		ex.Date,
		ex.OverrideStartTime.Format("15:04:05"),
		ex.OverrideEndTime.Format("15:04:05"),
		string(ex.Kind),
		ex.Reason,
	).Scan(&id)
	if err != nil {
		sqlErr, ok := err.(*pq.Error)
		if ok && sqlErr.Code == "23503" {
			return "", fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return "", fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

// ListExceptions returns a pattern's exceptions inside [from, to] in insertion
// order. The resolver relies on that order when duplicate dates exist.
func (s *Storage) ListExceptions(ctx context.Context, patternID string, from, to time.Time) ([]*models.PatternException, error) {
	const op = "storage.postgres.ListExceptions"

	rows, err := s.db.QueryContext(ctx,
		`SELECT exception_id, exception_date, override_start_time, override_end_time, kind, reason
		FROM pattern_exceptions
		WHERE pattern_id=$1 AND exception_date BETWEEN $2 AND $3
		ORDER BY created_at, exception_id`,
		patternID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var exceptions []*models.PatternException
	for rows.Next() {
		var ex models.PatternException
		err := rows.Scan(
			&ex.ID,
			&ex.Date,
			&ex.OverrideStartTime,
			&ex.OverrideEndTime,
			&ex.Kind,
			&ex.Reason,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		ex.PatternID = patternID

		exceptions = append(exceptions, &ex)
	}

	return exceptions, nil
}

// #### slots ####

// InsertSlots materializes resolved occurrences. Re-materialization over an
// already generated range is a no-op per slot thanks to the conflict guard on
// (pattern_id, slot_date, start_time).
func (s *Storage) InsertSlots(ctx context.Context, tx *sql.Tx, slots []*models.Slot) error {
	const op = "storage.postgres.InsertSlots"

	for _, slot := range slots {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO slots
			(owner_id, org_id, pattern_id, exception_id, slot_date, start_time, end_time, status, visit_type)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (pattern_id, slot_date, start_time) DO NOTHING`,
			slot.OwnerID,
			slot.OrgID,
			slot.PatternID,
			slot.ExceptionID,
			slot.Date,
			slot.Start,
			slot.End,
			string(slot.Status),
			slot.VisitType,
		)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	return nil
}

func (s *Storage) GetSlot(ctx context.Context, id string) (*models.Slot, error) {
	const op = "storage.postgres.GetSlot"

	var slot models.Slot

	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id, org_id, pattern_id, exception_id, slot_date, start_time, end_time, status, visit_type
		FROM slots WHERE slot_id=$1`, id).
		Scan(
			&slot.OwnerID,
			&slot.OrgID,
			&slot.PatternID,
			&slot.ExceptionID,
			&slot.Date,
			&slot.Start,
			&slot.End,
			&slot.Status,
			&slot.VisitType,
		)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	slot.ID = id

	return &slot, nil
}

var slotOrderColumns = map[string]string{
	"date":       "slot_date",
	"start_time": "start_time",
	"status":     "status",
}

func (s *Storage) ListSlots(ctx context.Context, f *models.SlotFilters) ([]*models.Slot, int, error) {
	const op = "storage.postgres.ListSlots"

	where := []string{"1=1"}
	args := []any{}

	addArg := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != nil {
		addArg("status=$%d", string(*f.Status))
	}
	if f.StartDate != nil {
		addArg("slot_date>=$%d", *f.StartDate)
	}
	if f.EndDate != nil {
		addArg("slot_date<=$%d", *f.EndDate)
	}
	if f.OwnerID != nil {
		addArg("owner_id=$%d", *f.OwnerID)
	}
	if f.OrgID != nil {
		addArg("org_id=$%d", *f.OrgID)
	}

	cond := strings.Join(where, " AND ")

	var total int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT count(*) FROM slots WHERE %s`, cond), args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: count: %w", op, err)
	}

	orderCol, ok := slotOrderColumns[f.OrderBy]
	if !ok {
		orderCol = "slot_date"
	}
	orderDir := "ASC"
	if strings.EqualFold(f.OrderDir, "desc") {
		orderDir = "DESC"
	}

	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)
	query := fmt.Sprintf(
		`SELECT slot_id, owner_id, org_id, pattern_id, exception_id, slot_date, start_time, end_time, status, visit_type
		FROM slots WHERE %s
		ORDER BY %s %s, start_time ASC
		LIMIT $%d OFFSET $%d`,
		cond, orderCol, orderDir, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var slots []*models.Slot
	for rows.Next() {
		var slot models.Slot
		err := rows.Scan(
			&slot.ID,
			&slot.OwnerID,
			&slot.OrgID,
			&slot.PatternID,
			&slot.ExceptionID,
			&slot.Date,
			&slot.Start,
			&slot.End,
			&slot.Status,
			&slot.VisitType,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", op, err)
		}

		slots = append(slots, &slot)
	}

	return slots, total, nil
}

// DeleteSlot removes a slot unless a pending or accepted appointment still
// references it; the guard and the delete are one statement.
func (s *Storage) DeleteSlot(ctx context.Context, id string) error {
	const op = "storage.postgres.DeleteSlot"

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM slots
		WHERE slot_id=$1
		AND NOT EXISTS (
			SELECT 1 FROM appointments
			WHERE slot_id=$1 AND status IN ('PENDING', 'ACCEPTED')
		)`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM slots WHERE slot_id=$1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	return fmt.Errorf("%s: %w", op, response.ErrInvalidState)
}

// DeleteUnbookedPatternSlots cascades a pattern change onto its slots. Either
// onDate (a single day) or after (everything from that day on) bounds the
// delete; booked slots and slots outside the bound are untouched.
func (s *Storage) DeleteUnbookedPatternSlots(ctx context.Context, tx *sql.Tx, patternID string, onDate, after *time.Time) error {
	const op = "storage.postgres.DeleteUnbookedPatternSlots"

	query := `DELETE FROM slots WHERE pattern_id=$1 AND status=$2`
	args := []any{patternID, string(models.SlotAvailable)}

	switch {
	case onDate != nil:
		args = append(args, *onDate)
		query += fmt.Sprintf(" AND slot_date=$%d", len(args))
	case after != nil:
		args = append(args, *after)
		query += fmt.Sprintf(" AND slot_date>=$%d", len(args))
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ReserveSlot is the atomic check-and-reserve: a conditional update keyed on
// the current status. Losing the race is reported as ErrSlotUnavailable, never
// retried here.
func (s *Storage) ReserveSlot(ctx context.Context, tx *sql.Tx, slotID string) error {
	const op = "storage.postgres.ReserveSlot"

	res, err := tx.ExecContext(ctx,
		`UPDATE slots SET status=$1 WHERE slot_id=$2 AND status=$3`,
		string(models.SlotUnavailable), slotID, string(models.SlotAvailable))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM slots WHERE slot_id=$1)`, slotID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	return fmt.Errorf("%s: %w", op, response.ErrSlotUnavailable)
}

func (s *Storage) ReleaseSlot(ctx context.Context, tx *sql.Tx, slotID string) error {
	const op = "storage.postgres.ReleaseSlot"

	res, err := tx.ExecContext(ctx,
		`UPDATE slots SET status=$1 WHERE slot_id=$2`,
		string(models.SlotAvailable), slotID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	return nil
}

func (s *Storage) FindAvailableSlot(ctx context.Context, tx *sql.Tx, ownerID string, date time.Time) (*models.Slot, error) {
	const op = "storage.postgres.FindAvailableSlot"

	var slot models.Slot

	err := tx.QueryRowContext(ctx,
		`SELECT slot_id, org_id, pattern_id, exception_id, slot_date, start_time, end_time, status, visit_type
		FROM slots
		WHERE owner_id=$1 AND slot_date=$2 AND status=$3
		ORDER BY start_time
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		ownerID, date, string(models.SlotAvailable)).
		Scan(
			&slot.ID,
			&slot.OrgID,
			&slot.PatternID,
			&slot.ExceptionID,
			&slot.Date,
			&slot.Start,
			&slot.End,
			&slot.Status,
			&slot.VisitType,
		)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNoAvailability)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	slot.OwnerID = ownerID

	return &slot, nil
}

func (s *Storage) CountBookedSlotsOnDate(ctx context.Context, patternID string, date time.Time) (int, error) {
	const op = "storage.postgres.CountBookedSlotsOnDate"

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM slots
		WHERE pattern_id=$1 AND slot_date=$2 AND status=$3`,
		patternID, date, string(models.SlotUnavailable)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// #### appointments ####

func (s *Storage) CreateAppointment(ctx context.Context, tx *sql.Tx, a *models.Appointment) (string, error) {
	const op = "storage.postgres.CreateAppointment"

	var id string

	err := tx.QueryRowContext(ctx,
		`INSERT INTO appointments
		(slot_id, requester_id, owner_id, status, reason, additional_info, meeting_link)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING appointment_id`,
		a.SlotID,
		a.RequesterID,
		a.OwnerID,
		string(a.Status),
		a.Reason,
		a.AdditionalInfo,
		a.MeetingLink,
	).Scan(&id)
	if err != nil {
		sqlErr, ok := err.(*pq.Error)
		if ok && sqlErr.Code == "23505" {
			return "", fmt.Errorf("%s: %w", op, response.ErrSlotUnavailable)
		}
		if ok && sqlErr.Code == "23503" {
			return "", fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return "", fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	const op = "storage.postgres.GetAppointment"

	var a models.Appointment

	err := s.db.QueryRowContext(ctx,
		`SELECT slot_id, requester_id, owner_id, status, reason, additional_info, meeting_link, created_at
		FROM appointments WHERE appointment_id=$1`, id).
		Scan(
			&a.SlotID,
			&a.RequesterID,
			&a.OwnerID,
			&a.Status,
			&a.Reason,
			&a.AdditionalInfo,
			&a.MeetingLink,
			&a.CreatedAt,
		)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	a.ID = id

	return &a, nil
}

func (s *Storage) SetAppointmentStatus(ctx context.Context, tx *sql.Tx, id string, status models.AppointmentStatus) error {
	const op = "storage.postgres.SetAppointmentStatus"

	res, err := tx.ExecContext(ctx,
		`UPDATE appointments SET status=$1 WHERE appointment_id=$2`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	return nil
}

func (s *Storage) ReassignAppointment(ctx context.Context, tx *sql.Tx, id, newOwnerID, newSlotID string) error {
	const op = "storage.postgres.ReassignAppointment"

	res, err := tx.ExecContext(ctx,
		`UPDATE appointments
		SET owner_id=$1, slot_id=$2, status=$3
		WHERE appointment_id=$4`,
		newOwnerID, newSlotID, string(models.AppointmentPending), id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	return nil
}
