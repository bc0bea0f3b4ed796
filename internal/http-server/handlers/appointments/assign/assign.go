package assign

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"timeslot-service/api"
	"timeslot-service/pkg/response"
	"timeslot-service/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type AppointmentAssigner interface {
	AssignAppointment(ctx context.Context, id, newOwnerID string) (*api.AppointmentResponse, error)
}

type Request struct {
	api.AssignRequest
}

type Response struct {
	response.Response
	Appointment api.AppointmentResponse `json:"appointment,omitempty"`
}

func New(log *slog.Logger, assigner AppointmentAssigner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.appointments.assign.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("Failed to decode request body", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "failed to decode request"))
			return
		}

		log.Info("Request body decoded", slog.Any("request", req))

		if req.AppointmentID == "" {
			log.Error("appointment_id is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "appointment_id is required"))
			return
		}

		if req.NewOwnerID == "" {
			log.Error("new_owner_id is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "new_owner_id is required"))
			return
		}

		appointment, err := assigner.AssignAppointment(r.Context(), req.AppointmentID, req.NewOwnerID)

		if errors.Is(err, response.ErrNotFound) {
			log.Error("resource not found")
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "resource not found"))
			return
		}

		if errors.Is(err, response.ErrNoAvailability) {
			// Expected outcome when the new owner has no free slot that day.
			log.Info("no matching available slot")
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error(string(response.NO_AVAILABILITY), "no matching available slot"))
			return
		}

		if errors.Is(err, response.ErrInvalidState) {
			log.Error("appointment is terminal")
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error(string(response.INVALID_STATE), "appointment is terminal"))
			return
		}

		if err != nil {
			log.Error("Failed to assign appointment", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to assign appointment"))
			return
		}

		log.Info("Appointment assigned", slog.Any("appointment", appointment))

		render.JSON(w, r, Response{
			Appointment: *appointment,
		})
	}
}
