package pricing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockline-erp/stockline/internal/display"
	"github.com/stockline-erp/stockline/internal/platform/httpx"
	"github.com/stockline-erp/stockline/internal/shared"
)

// Handler exposes pricing endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers pricing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/bons", h.listBons)
	r.Get("/bons/{id}", h.getBon)
	r.Put("/bons/{id}/products/{productID}/price", h.setPrice)
	r.Get("/catalog/{productID}", h.catalogEntry)
}

type bonResponse struct {
	Bon     Bon           `json:"bon"`
	Display display.State `json:"display"`
}

func (h *Handler) listBons(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	bons, total, err := h.service.ListBons(r.Context(), limit, offset, r.URL.Query().Get("status"))
	if err != nil {
		h.logger.Error("list bons", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	items := make([]bonResponse, 0, len(bons))
	for _, bon := range bons {
		items = append(items, bonResponse{Bon: bon, Display: display.DeriveBonState(string(bon.Status))})
	}
	page := shared.NewPagination(offset/limit+1, limit, total)
	httpx.JSON(w, http.StatusOK, map[string]any{"bons": items, "pagination": page})
}

func (h *Handler) getBon(w http.ResponseWriter, r *http.Request) {
	bon, err := h.service.GetBon(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bonResponse{Bon: bon, Display: display.DeriveBonState(string(bon.Status))})
}

type setPriceRequest struct {
	SellingPrice float64 `json:"selling_price" validate:"gt=0"`
}

func (h *Handler) setPrice(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor headers required")
		return
	}
	var req setPriceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	bon, err := h.service.SetPrice(r.Context(), actor, chi.URLParam(r, "id"), chi.URLParam(r, "productID"), req.SellingPrice)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bonResponse{Bon: bon, Display: display.DeriveBonState(string(bon.Status))})
}

func (h *Handler) catalogEntry(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	entry, err := h.service.Sellable(r.Context(), productID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.JSON(w, http.StatusOK, map[string]any{"product_id": productID, "sellable": false})
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id":    productID,
		"sellable":      true,
		"unit":          entry.Unit,
		"selling_price": entry.SellingPrice,
		"price_label":   display.Money(entry.SellingPrice),
	})
}
