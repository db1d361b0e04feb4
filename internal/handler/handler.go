// Package handler содержит HTTP-обработчики API сервиса ателье.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/houseoftailors/atelier/internal/loyalty"
	"github.com/houseoftailors/atelier/internal/middleware"
	"github.com/houseoftailors/atelier/internal/model"
	"github.com/houseoftailors/atelier/internal/repository"
	"github.com/houseoftailors/atelier/internal/service"
	"github.com/houseoftailors/atelier/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*model.Order, error)
	AdvanceStatus(ctx context.Context, orderID string, target model.OrderStatus) (*model.Order, error)
	CancelOrder(ctx context.Context, userID, orderID string) error
	GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)
	GetLoyaltyStatus(ctx context.Context, userID string) (model.LoyaltyProgress, error)
}

// Handler реализует HTTP-обработчики API сервиса ателье.
type Handler struct {
	service        Service
	shopConfig     *model.ShopConfig
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, shopConfig *model.ShopConfig, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		shopConfig:     shopConfig,
		logger:         logger,
		authMiddleware: auth,
	}
}

// errorResponse несёт машиночитаемый код ошибки, чтобы клиент мог отличить
// занятое окно самовывоза от системной ошибки.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type createOrderRequest struct {
	PaymentIntentID string                `json:"payment_intent_id"`
	DeliveryMethod  string                `json:"delivery_method"`
	DeliveryInfo    *deliveryInfoRequest  `json:"delivery_info,omitempty"`
	BillingAddress  *model.BillingAddress `json:"billing_address,omitempty"`
	CustomerName    string                `json:"customer_name"`
	CustomerEmail   string                `json:"customer_email"`
	CustomerPhone   string                `json:"customer_phone"`
	OrderItems      []model.OrderItem     `json:"order_items"`
	UseFreeCredit   bool                  `json:"use_free_credit"`
}

type deliveryInfoRequest struct {
	PickupDate string `json:"pickup_date"`
	PickupTime string `json:"pickup_time"`
}

type orderResponse struct {
	ID              string                `json:"id"`
	UserID          string                `json:"user_id"`
	PaymentIntentID string                `json:"payment_intent_id,omitempty"`
	TotalAmount     int64                 `json:"total_amount"`
	Currency        string                `json:"currency"`
	Status          string                `json:"status"`
	DeliveryMethod  string                `json:"delivery_method"`
	DeliveryInfo    *model.DeliveryInfo   `json:"delivery_info,omitempty"`
	BillingAddress  *model.BillingAddress `json:"billing_address,omitempty"`
	OrderItems      []model.OrderItem     `json:"order_items"`
	FreeCreditUsed  bool                  `json:"free_credit_used,omitempty"`
	OrderedAt       string                `json:"ordered_at"`
	CreatedAt       string                `json:"created_at"`
	UpdatedAt       string                `json:"updated_at"`
}

func toOrderResponse(o *model.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		PaymentIntentID: o.PaymentIntentID,
		TotalAmount:     o.TotalAmount,
		Currency:        o.Currency,
		Status:          string(o.Status),
		DeliveryMethod:  string(o.DeliveryMethod),
		DeliveryInfo:    o.DeliveryInfo,
		BillingAddress:  o.BillingAddress,
		OrderItems:      o.Items,
		FreeCreditUsed:  o.FreeCreditUsed,
		OrderedAt:       o.OrderedAt.Format(time.RFC3339),
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       o.UpdatedAt.Format(time.RFC3339),
	}
}

// CreateOrder создаёт заказ для текущего пользователя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	svcReq := service.CreateOrderRequest{
		UserID:          userID,
		PaymentIntentID: req.PaymentIntentID,
		DeliveryMethod:  model.DeliveryMethod(req.DeliveryMethod),
		BillingAddress:  req.BillingAddress,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		Items:           req.OrderItems,
		UseFreeCredit:   req.UseFreeCredit,
	}
	if req.DeliveryInfo != nil {
		svcReq.PickupDate = req.DeliveryInfo.PickupDate
		svcReq.PickupTime = req.DeliveryInfo.PickupTime
	}

	order, err := h.service.CreateOrder(r.Context(), svcReq)
	if err != nil {
		switch {
		case errors.Is(err, validation.ErrValidation):
			writeError(w, http.StatusBadRequest, "validation_error")
		case errors.Is(err, service.ErrSlotUnavailable):
			writeError(w, http.StatusConflict, "slot_unavailable")
		case errors.Is(err, loyalty.ErrNoCredit):
			writeError(w, http.StatusPaymentRequired, "no_free_credit")
		case errors.Is(err, repository.ErrDuplicateOrder):
			writeError(w, http.StatusConflict, "duplicate_order")
		default:
			h.logger.Error("create order error", zap.Error(err), zap.String("userID", userID))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

// GetOrders возвращает список заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.String("userID", userID))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type advanceStatusRequest struct {
	Status string `json:"status"`
}

// AdvanceStatus переводит заказ в следующий статус. Действие персонала.
func (h *Handler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	var req advanceStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	order, err := h.service.AdvanceStatus(r.Context(), orderID, model.OrderStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order_not_found")
		case errors.Is(err, service.ErrAlreadyCompleted):
			writeError(w, http.StatusConflict, "already_completed")
		case errors.Is(err, service.ErrTerminalState):
			writeError(w, http.StatusConflict, "terminal_state")
		case errors.Is(err, service.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "invalid_transition")
		default:
			h.logger.Error("advance status error", zap.Error(err), zap.String("orderID", orderID))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// CancelOrder отменяет заказ текущего пользователя.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	if err := h.service.CancelOrder(r.Context(), userID, orderID); err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order_not_found")
		case errors.Is(err, service.ErrTerminalState), errors.Is(err, service.ErrAlreadyCompleted):
			writeError(w, http.StatusConflict, "terminal_state")
		default:
			h.logger.Error("cancel order error", zap.Error(err), zap.String("orderID", orderID))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

// GetLoyalty возвращает прогресс текущего пользователя в программе лояльности.
func (h *Handler) GetLoyalty(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	progress, err := h.service.GetLoyaltyStatus(r.Context(), userID)
	if err != nil {
		h.logger.Error("get loyalty error", zap.Error(err), zap.String("userID", userID))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, progress)
}

type shopConfigResponse struct {
	Info            model.ShopInfo        `json:"shop_info"`
	DeliveryOptions model.DeliveryOptions `json:"delivery_options"`
	PickupSchedule  model.PickupSchedule  `json:"pickup_slots"`
}

// GetShopConfig возвращает публичную справочную конфигурацию магазина.
func (h *Handler) GetShopConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, shopConfigResponse{
		Info:            h.shopConfig.Info,
		DeliveryOptions: h.shopConfig.DeliveryOptions,
		PickupSchedule:  h.shopConfig.PickupSchedule,
	})
}
