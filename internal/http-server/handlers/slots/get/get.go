package get

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"timeslot-service/api"
	"timeslot-service/internal/models"
	"timeslot-service/pkg/response"
	"timeslot-service/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type SlotGetter interface {
	GetSlot(ctx context.Context, id string) (*api.SlotResponse, error)
	ListSlots(ctx context.Context, filters *models.SlotFilters) (*api.SlotPage, error)
}

type Response struct {
	response.Response
	Slot *api.SlotResponse `json:"slot,omitempty"`
	Page *api.SlotPage     `json:"page,omitempty"`
}

func New(log *slog.Logger, getter SlotGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.slots.get.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		id := chi.URLParam(r, "id")

		if id != "" {
			slot, err := getter.GetSlot(r.Context(), id)

			if errors.Is(err, response.ErrNotFound) {
				log.Error("resource not found")
				w.WriteHeader(http.StatusNotFound)
				render.JSON(w, r, response.Error(string(response.NOT_FOUND), "resource not found"))
				return
			}

			if err != nil {
				log.Error("Failed to get slot", sl.Err(err))
				w.WriteHeader(http.StatusInternalServerError)
				render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to get slot"))
				return
			}

			log.Info("Slot retrieved", slog.Any("slot", slot))
			render.JSON(w, r, Response{Slot: slot})
			return
		}

		filters := &models.SlotFilters{}

		if status := r.URL.Query().Get("status"); status != "" {
			s := models.SlotStatus(status)
			filters.Status = &s
		}

		if fromStr := r.URL.Query().Get("start_date"); fromStr != "" {
			if t, err := time.Parse("2006-01-02", fromStr); err == nil {
				filters.StartDate = &t
			}
		}

		if toStr := r.URL.Query().Get("end_date"); toStr != "" {
			if t, err := time.Parse("2006-01-02", toStr); err == nil {
				filters.EndDate = &t
			}
		}

		if ownerID := r.URL.Query().Get("owner_id"); ownerID != "" {
			filters.OwnerID = &ownerID
		}

		if orgID := r.URL.Query().Get("org_id"); orgID != "" {
			filters.OrgID = &orgID
		}

		if pageStr := r.URL.Query().Get("page"); pageStr != "" {
			if page, err := strconv.Atoi(pageStr); err == nil {
				filters.Page = page
			}
		}

		if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
			if pageSize, err := strconv.Atoi(pageSizeStr); err == nil {
				filters.PageSize = pageSize
			}
		}

		filters.OrderBy = r.URL.Query().Get("order_by")
		filters.OrderDir = r.URL.Query().Get("order_direction")

		page, err := getter.ListSlots(r.Context(), filters)

		if err != nil {
			log.Error("Failed to list slots", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to list slots"))
			return
		}

		log.Info("Slots retrieved",
			slog.Int("count", len(page.Rows)),
			slog.Int("total", page.Total),
		)

		render.JSON(w, r, Response{Page: page})
	}
}
