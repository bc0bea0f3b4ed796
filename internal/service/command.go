package service

import (
	"context"
	"fmt"

	"timeslot-service/api"
	"timeslot-service/internal/models"
	"timeslot-service/pkg/response"
)

// Command is the tagged set of mutations the service accepts. Routing them
// through Apply keeps every transition auditable and testable in isolation.
type Command interface {
	isCommand()
}

type CreatePatternCmd struct {
	Req *api.PatternRequest
}

type DeactivatePatternCmd struct {
	PatternID string
}

type CreateExceptionCmd struct {
	Req *api.ExceptionRequest
}

type DeleteSlotCmd struct {
	SlotID string
}

type RequestCmd struct {
	Req *api.AppointmentRequest
}

type AcceptCmd struct {
	AppointmentID string
}

type DeclineCmd struct {
	AppointmentID string
}

type CancelCmd struct {
	AppointmentID string
}

type CompleteCmd struct {
	AppointmentID string
}

type AssignCmd struct {
	AppointmentID string
	NewOwnerID    string
}

type ListSlotsCmd struct {
	Filters *models.SlotFilters
}

func (CreatePatternCmd) isCommand()     {}
func (DeactivatePatternCmd) isCommand() {}
func (CreateExceptionCmd) isCommand()   {}
func (DeleteSlotCmd) isCommand()        {}
func (RequestCmd) isCommand()           {}
func (AcceptCmd) isCommand()            {}
func (DeclineCmd) isCommand()           {}
func (CancelCmd) isCommand()            {}
func (CompleteCmd) isCommand()          {}
func (AssignCmd) isCommand()            {}
func (ListSlotsCmd) isCommand()         {}

// Apply routes a command to its service operation.
func (s *Service) Apply(ctx context.Context, cmd Command) (any, error) {
	const op = "service.Apply"

	switch c := cmd.(type) {
	case CreatePatternCmd:
		return s.CreatePattern(ctx, c.Req)
	case DeactivatePatternCmd:
		return nil, s.DeactivatePattern(ctx, c.PatternID)
	case CreateExceptionCmd:
		return s.CreateException(ctx, c.Req)
	case DeleteSlotCmd:
		return nil, s.DeleteSlot(ctx, c.SlotID)
	case RequestCmd:
		return s.RequestAppointment(ctx, c.Req)
	case AcceptCmd:
		return s.AcceptAppointment(ctx, c.AppointmentID)
	case DeclineCmd:
		return s.DeclineAppointment(ctx, c.AppointmentID)
	case CancelCmd:
		return s.CancelAppointment(ctx, c.AppointmentID)
	case CompleteCmd:
		return s.CompleteAppointment(ctx, c.AppointmentID)
	case AssignCmd:
		return s.AssignAppointment(ctx, c.AppointmentID, c.NewOwnerID)
	case ListSlotsCmd:
		return s.ListSlots(ctx, c.Filters)
	default:
		return nil, fmt.Errorf("%s: unknown command %T: %w", op, cmd, response.ErrBadRequest)
	}
}
