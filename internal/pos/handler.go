package pos

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockline-erp/stockline/internal/display"
	"github.com/stockline-erp/stockline/internal/platform/httpx"
	"github.com/stockline-erp/stockline/internal/shared"
)

// Handler exposes POS endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers POS routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sales", h.sell)
	r.Get("/sales", h.listSales)
	r.Get("/sales/{id}", h.getSale)
}

type saleLineRequest struct {
	ProductID string  `json:"product_id" validate:"required"`
	Qty       float64 `json:"qty" validate:"gt=0"`
}

type sellRequest struct {
	Lines []saleLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type saleResponse struct {
	Sale       Sale   `json:"sale"`
	TotalLabel string `json:"total_label"`
}

func (h *Handler) sell(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor headers required")
		return
	}
	var req sellRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := SaleInput{}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, SaleLineInput(line))
	}
	sale, err := h.service.Sell(r.Context(), actor, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, saleResponse{Sale: sale, TotalLabel: display.Money(sale.Total)})
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saleResponse{Sale: sale, TotalLabel: display.Money(sale.Total)})
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	sales, total, err := h.service.ListSales(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list sales", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	page := shared.NewPagination(offset/limit+1, limit, total)
	httpx.JSON(w, http.StatusOK, map[string]any{"sales": sales, "pagination": page})
}
