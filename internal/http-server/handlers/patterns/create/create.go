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

type PatternCreator interface {
	CreatePattern(ctx context.Context, req *api.PatternRequest) (*api.PatternResponse, error)
}

type Request struct {
	api.PatternRequest
}

type Response struct {
	response.Response
	Pattern api.PatternResponse `json:"pattern,omitempty"`
}

func New(log *slog.Logger, creator PatternCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.patterns.create.New"

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

		if req.OwnerID == "" {
			log.Error("owner_id is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "owner_id is required"))
			return
		}

		pattern, err := creator.CreatePattern(r.Context(), &req.PatternRequest)

		if errors.Is(err, response.ErrValidation) {
			log.Error("pattern validation failed", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.VALIDATION_ERROR), err.Error()))
			return
		}

		if errors.Is(err, response.ErrParse) {
			log.Error("recurrence rule is not decodable", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.PARSE_ERROR), err.Error()))
			return
		}

		if err != nil {
			log.Error("Failed to create pattern", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to create pattern"))
			return
		}

		log.Info("Pattern created", slog.Any("pattern", pattern))

		w.WriteHeader(http.StatusCreated)
		responseOK(w, r, pattern)
	}
}

func responseOK(w http.ResponseWriter, r *http.Request, pattern *api.PatternResponse) {
	render.JSON(w, r, Response{
		Pattern: *pattern,
	})
}
