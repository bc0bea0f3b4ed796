package create

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

type ExceptionCreator interface {
	CreateException(ctx context.Context, req *api.ExceptionRequest) (*api.ExceptionResponse, error)
}

type Request struct {
	api.ExceptionRequest
}

type Response struct {
	response.Response
	Exception api.ExceptionResponse `json:"exception,omitempty"`
}

func New(log *slog.Logger, creator ExceptionCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.exceptions.create.New"

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

		if req.PatternID == "" {
			log.Error("pattern_id is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "pattern_id is required"))
			return
		}

		if req.Date == "" {
			log.Error("date is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "date is required"))
			return
		}

		exception, err := creator.CreateException(r.Context(), &req.ExceptionRequest)

		if errors.Is(err, response.ErrNotFound) {
			log.Error("resource not found")
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "resource not found"))
			return
		}

		if errors.Is(err, response.ErrValidation) {
			log.Error("exception validation failed", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.VALIDATION_ERROR), err.Error()))
			return
		}

		if errors.Is(err, response.ErrInvalidState) {
			log.Error("date has booked slots")
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error(string(response.INVALID_STATE), "date has booked slots"))
			return
		}

		if err != nil {
			log.Error("Failed to create exception", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to create exception"))
			return
		}

		log.Info("Exception created", slog.Any("exception", exception))

		w.WriteHeader(http.StatusCreated)
		responseOK(w, r, exception)
	}
}

func responseOK(w http.ResponseWriter, r *http.Request, exception *api.ExceptionResponse) {
	render.JSON(w, r, Response{
		Exception: *exception,
	})
}
