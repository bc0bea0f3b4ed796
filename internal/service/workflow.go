package service

import (
	"context"
	"errors"
	"fmt"

	"timeslot-service/api"
	"timeslot-service/internal/bridge"
	"timeslot-service/internal/models"
	"timeslot-service/pkg/response"
)

// RequestAppointment reserves a slot and creates the Pending appointment in
// one transaction. The reserve step is a conditional update at the store, so
// of two concurrent requests for the same slot exactly one wins; the loser
// gets ErrSlotUnavailable and must re-fetch availability before retrying.
func (s *Service) RequestAppointment(ctx context.Context, req *api.AppointmentRequest) (*api.AppointmentResponse, error) {
	const op = "service.RequestAppointment"

	lockKey := fmt.Sprintf("slot:%s", req.SlotID)

	token, locked, err := s.locker.Lock(ctx, lockKey, s.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: lock error: %w", op, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", op, response.ErrLocked)
	}
	defer func() {
		_ = s.locker.Unlock(ctx, lockKey, token)
	}()

	slot, err := s.store.GetSlot(ctx, req.SlotID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: begin tx: %w", op, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.store.ReserveSlot(ctx, tx, req.SlotID); err != nil {
		if errors.Is(err, response.ErrSlotUnavailable) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrSlotUnavailable)
		}
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	appointment := &models.Appointment{
		SlotID:         req.SlotID,
		RequesterID:    req.RequesterID,
		OwnerID:        slot.OwnerID,
		Status:         models.AppointmentPending,
		Reason:         req.Reason,
		AdditionalInfo: req.AdditionalInfo,
	}

	id, err := s.store.CreateAppointment(ctx, tx, appointment)
	if err != nil {
		return nil, fmt.Errorf("%s: create appointment: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}

	resp, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.notifier.Emit(ctx, bridge.Event{
		ID:          fmt.Sprintf("evt-%s-requested", id),
		Type:        bridge.EventNewRequest,
		Appointment: resp,
	})

	return resp, nil
}

func (s *Service) GetAppointment(ctx context.Context, id string) (*api.AppointmentResponse, error) {
	const op = "service.GetAppointment"

	appointment, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return appointmentResponse(appointment), nil
}

// AcceptAppointment confirms a pending request. The slot stays Unavailable.
func (s *Service) AcceptAppointment(ctx context.Context, id string) (*api.AppointmentResponse, error) {
	const op = "service.AcceptAppointment"

	return s.transition(ctx, op, id, models.AppointmentAccepted, false,
		models.AppointmentPending)
}

// DeclineAppointment rejects a request and releases its slot back to
// Available. Legal from Pending or Accepted.
func (s *Service) DeclineAppointment(ctx context.Context, id string) (*api.AppointmentResponse, error) {
	const op = "service.DeclineAppointment"

	return s.transition(ctx, op, id, models.AppointmentDeclined, true,
		models.AppointmentPending, models.AppointmentAccepted)
}

// CancelAppointment is the requester's withdrawal: same slot release as a
// decline, but only legal while still Pending.
func (s *Service) CancelAppointment(ctx context.Context, id string) (*api.AppointmentResponse, error) {
	const op = "service.CancelAppointment"

	return s.transition(ctx, op, id, models.AppointmentCancelled, true,
		models.AppointmentPending)
}

// CompleteAppointment closes out an accepted appointment. The slot stays
// Unavailable permanently; completed visits are history.
func (s *Service) CompleteAppointment(ctx context.Context, id string) (*api.AppointmentResponse, error) {
	const op = "service.CompleteAppointment"

	return s.transition(ctx, op, id, models.AppointmentCompleted, false,
		models.AppointmentAccepted)
}

func (s *Service) transition(ctx context.Context, op, id string, to models.AppointmentStatus, releaseSlot bool, from ...models.AppointmentStatus) (*api.AppointmentResponse, error) {
	appointment, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	allowed := false
	for _, status := range from {
		if appointment.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%s: transition from %s: %w", op, appointment.Status, response.ErrInvalidState)
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: begin tx: %w", op, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.store.SetAppointmentStatus(ctx, tx, id, to); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if releaseSlot {
		if err := s.store.ReleaseSlot(ctx, tx, appointment.SlotID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}

	resp, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.notifier.Emit(ctx, bridge.Event{
		ID:          fmt.Sprintf("evt-%s-%s", id, to),
		Type:        bridge.EventRequestStatusChanged,
		Appointment: resp,
	})

	return resp, nil
}

// AssignAppointment moves a non-terminal appointment to another owner who has
// an Available slot on the original requested date. On success the old slot is
// released, the new one reserved, and the appointment is Pending again under
// the new owner. With no matching slot, nothing changes and ErrNoAvailability
// is returned.
func (s *Service) AssignAppointment(ctx context.Context, id, newOwnerID string) (*api.AppointmentResponse, error) {
	const op = "service.AssignAppointment"

	appointment, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if appointment.Status.IsTerminal() {
		return nil, fmt.Errorf("%s: transition from %s: %w", op, appointment.Status, response.ErrInvalidState)
	}

	oldSlot, err := s.store.GetSlot(ctx, appointment.SlotID)
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

	newSlot, err := s.store.FindAvailableSlot(ctx, tx, newOwnerID, oldSlot.Date)
	if err != nil {
		if errors.Is(err, response.ErrNoAvailability) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNoAvailability)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.store.ReserveSlot(ctx, tx, newSlot.ID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.store.ReleaseSlot(ctx, tx, oldSlot.ID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.store.ReassignAppointment(ctx, tx, id, newOwnerID, newSlot.ID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}

	resp, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.notifier.Emit(ctx, bridge.Event{
		ID:          fmt.Sprintf("evt-%s-assigned-%s", id, newOwnerID),
		Type:        bridge.EventRequestStatusChanged,
		Appointment: resp,
	})

	return resp, nil
}

func appointmentResponse(a *models.Appointment) *api.AppointmentResponse {
	return &api.AppointmentResponse{
		ID:             a.ID,
		SlotID:         a.SlotID,
		RequesterID:    a.RequesterID,
		OwnerID:        a.OwnerID,
		Status:         string(a.Status),
		Reason:         a.Reason,
		AdditionalInfo: a.AdditionalInfo,
		MeetingLink:    a.MeetingLink,
		CreatedAt:      a.CreatedAt,
	}
}
