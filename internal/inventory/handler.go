package inventory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockline-erp/stockline/internal/platform/httpx"
	"github.com/stockline-erp/stockline/internal/shared"
)

// Handler exposes stock endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock", h.listItems)
	r.Get("/stock/{productID}", h.getItem)
	r.Get("/stock/{productID}/movements", h.listMovements)
	r.Post("/stock/{productID}/adjust", h.adjust)
	r.Put("/stock/{productID}/threshold", h.setThreshold)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	filters := ListFilters{
		Search:   r.URL.Query().Get("search"),
		LowStock: r.URL.Query().Get("low_stock") == "true",
	}
	items, total, err := h.service.ListItems(r.Context(), limit, offset, filters)
	if err != nil {
		h.logger.Error("list stock", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	page := shared.NewPagination(offset/limit+1, limit, total)
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": page})
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetItem(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"item": item, "low_stock": item.LowStock()})
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	movements, total, err := h.service.ListMovements(r.Context(), chi.URLParam(r, "productID"), limit, offset)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page := shared.NewPagination(offset/limit+1, limit, total)
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements, "pagination": page})
}

type adjustRequest struct {
	Delta float64 `json:"delta" validate:"required"`
	Note  string  `json:"note"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor headers required")
		return
	}
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	item, movement, err := h.service.Adjust(r.Context(), actor, AdjustInput{
		ProductID: chi.URLParam(r, "productID"),
		Delta:     req.Delta,
		Note:      req.Note,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"item": item, "movement": movement})
}

type thresholdRequest struct {
	Threshold float64 `json:"threshold" validate:"gte=0"`
}

func (h *Handler) setThreshold(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor headers required")
		return
	}
	var req thresholdRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	item, err := h.service.SetThreshold(r.Context(), actor, chi.URLParam(r, "productID"), req.Threshold)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"item": item})
}

func pageParams(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
