package procurement

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockline-erp/stockline/internal/display"
	"github.com/stockline-erp/stockline/internal/platform/httpx"
	"github.com/stockline-erp/stockline/internal/shared"
)

// Handler exposes procurement endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/orders", h.listOrders)
	r.Post("/orders", h.submitOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/history", h.orderHistory)
	r.Post("/orders/{id}/approve", h.approveOrder)
	r.Post("/orders/{id}/reject", h.rejectOrder)
	r.Post("/orders/{id}/process", h.processOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Get("/purchases", h.listPurchases)
	r.Get("/purchases/{id}", h.getPurchase)
	r.Post("/purchases/{id}/deliver", h.deliver)
	r.Post("/purchases/{id}/cancel", h.cancelPurchase)
}

type orderItemRequest struct {
	ProductID string  `json:"product_id" validate:"required"`
	Name      string  `json:"name"`
	Qty       float64 `json:"qty" validate:"gt=0"`
	Unit      string  `json:"unit" validate:"required"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
}

type submitOrderRequest struct {
	Title      string             `json:"title" validate:"required"`
	Department string             `json:"department"`
	Items      []orderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type orderResponse struct {
	Order   Order         `json:"order"`
	Display display.State `json:"display"`
}

func (h *Handler) submitOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor headers required")
		return
	}
	var req submitOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := SubmitOrderInput{Title: req.Title, Department: req.Department}
	for _, item := range req.Items {
		input.Items = append(input.Items, OrderItemInput(item))
	}
	order, err := h.service.SubmitOrder(r.Context(), actor, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, orderResponse{Order: order, Display: display.DeriveOrderState(string(order.Status))})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orderResponse{Order: order, Display: display.DeriveOrderState(string(order.Status))})
}

func (h *Handler) orderHistory(w http.ResponseWriter, r *http.Request) {
	logs, err := h.service.History(r.Context(), "orders", chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": logs})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	filters := ListFilters{
		Status:     r.URL.Query().Get("status"),
		Department: r.URL.Query().Get("department"),
		Search:     r.URL.Query().Get("search"),
	}
	orders, total, err := h.service.ListOrders(r.Context(), limit, offset, filters)
	if err != nil {
		h.logger.Error("list orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	items := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		items = append(items, orderResponse{Order: order, Display: display.DeriveOrderState(string(order.Status))})
	}
	page := shared.NewPagination(offset/limit+1, limit, total)
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": items, "pagination": page})
}

type actionRequest struct {
	Comment string `json:"comment"`
}

func (h *Handler) approveOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor headers required")
		return
	}
	order, err := h.service.ApproveOrder(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orderResponse{Order: order, Display: display.DeriveOrderState(string(order.Status))})
}

func (h *Handler) rejectOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor headers required")
		return
	}
	var req actionRequest
	_ = httpx.DecodeJSON(r, &req)
	order, err := h.service.RejectOrder(r.Context(), actor, chi.URLParam(r, "id"), req.Comment)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orderResponse{Order: order, Display: display.DeriveOrderState(string(order.Status))})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor headers required")
		return
	}
	var req actionRequest
	_ = httpx.DecodeJSON(r, &req)
	order, err := h.service.CancelOrder(r.Context(), actor, chi.URLParam(r, "id"), req.Comment)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orderResponse{Order: order, Display: display.DeriveOrderState(string(order.Status))})
}

type confirmedItemRequest struct {
	ProductID string  `json:"product_id" validate:"required"`
	UnitPrice float64 `json:"unit_price" validate:"gt=0"`
	Qty       float64 `json:"qty" validate:"gte=0"`
}

type processOrderRequest struct {
	Supplier         string                 `json:"supplier" validate:"required"`
	ExpectedDelivery time.Time              `json:"expected_delivery" validate:"required"`
	Items            []confirmedItemRequest `json:"items" validate:"required,min=1,dive"`
}

type purchaseResponse struct {
	Purchase Purchase      `json:"purchase"`
	Total    float64       `json:"total"`
	Display  display.State `json:"display"`
}

func (h *Handler) processOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor headers required")
		return
	}
	var req processOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := ProcessOrderInput{
		OrderID:          chi.URLParam(r, "id"),
		Supplier:         req.Supplier,
		ExpectedDelivery: req.ExpectedDelivery,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ConfirmedItemInput(item))
	}
	purchase, err := h.service.ProcessOrder(r.Context(), actor, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, purchaseResponse{Purchase: purchase, Total: purchase.Total(), Display: display.DerivePurchaseState(string(purchase.Status))})
}

func (h *Handler) getPurchase(w http.ResponseWriter, r *http.Request) {
	purchase, err := h.service.GetPurchase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchaseResponse{Purchase: purchase, Total: purchase.Total(), Display: display.DerivePurchaseState(string(purchase.Status))})
}

func (h *Handler) listPurchases(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	filters := ListFilters{
		Status: r.URL.Query().Get("status"),
		Search: r.URL.Query().Get("search"),
	}
	purchases, total, err := h.service.ListPurchases(r.Context(), limit, offset, filters)
	if err != nil {
		h.logger.Error("list purchases", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	items := make([]purchaseResponse, 0, len(purchases))
	for _, purchase := range purchases {
		items = append(items, purchaseResponse{Purchase: purchase, Total: purchase.Total(), Display: display.DerivePurchaseState(string(purchase.Status))})
	}
	page := shared.NewPagination(offset/limit+1, limit, total)
	httpx.JSON(w, http.StatusOK, map[string]any{"purchases": items, "pagination": page})
}

type receivedItemRequest struct {
	ProductID string  `json:"product_id" validate:"required"`
	Qty       float64 `json:"qty" validate:"gt=0"`
}

type deliverRequest struct {
	Items                  []receivedItemRequest `json:"items" validate:"required,min=1,dive"`
	AcknowledgeDiscrepancy bool                  `json:"acknowledge_discrepancy"`
	Note                   string                `json:"note"`
}

func (h *Handler) deliver(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor headers required")
		return
	}
	var req deliverRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := DeliverInput{
		PurchaseID:             chi.URLParam(r, "id"),
		AcknowledgeDiscrepancy: req.AcknowledgeDiscrepancy,
		Note:                   req.Note,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ReceivedItemInput(item))
	}
	purchase, err := h.service.Deliver(r.Context(), actor, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchaseResponse{Purchase: purchase, Total: purchase.Total(), Display: display.DerivePurchaseState(string(purchase.Status))})
}

func (h *Handler) cancelPurchase(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor headers required")
		return
	}
	var req actionRequest
	_ = httpx.DecodeJSON(r, &req)
	purchase, err := h.service.CancelPurchase(r.Context(), actor, chi.URLParam(r, "id"), req.Comment)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchaseResponse{Purchase: purchase, Total: purchase.Total(), Display: display.DerivePurchaseState(string(purchase.Status))})
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
