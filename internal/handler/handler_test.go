package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/houseoftailors/atelier/internal/loyalty"
	"github.com/houseoftailors/atelier/internal/middleware"
	"github.com/houseoftailors/atelier/internal/model"
	"github.com/houseoftailors/atelier/internal/repository"
	"github.com/houseoftailors/atelier/internal/service"
	"github.com/houseoftailors/atelier/internal/validation"
)

type stubService struct {
	createResp *model.Order
	createErr  error

	advanceResp *model.Order
	advanceErr  error

	cancelErr error

	ordersResp []model.Order
	ordersErr  error

	loyaltyResp model.LoyaltyProgress
	loyaltyErr  error

	lastCreateReq service.CreateOrderRequest
}

func (s *stubService) CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*model.Order, error) {
	s.lastCreateReq = req
	return s.createResp, s.createErr
}

func (s *stubService) AdvanceStatus(ctx context.Context, orderID string, target model.OrderStatus) (*model.Order, error) {
	return s.advanceResp, s.advanceErr
}

func (s *stubService) CancelOrder(ctx context.Context, userID, orderID string) error {
	return s.cancelErr
}

func (s *stubService) GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return s.ordersResp, s.ordersErr
}

func (s *stubService) GetLoyaltyStatus(ctx context.Context, userID string) (model.LoyaltyProgress, error) {
	return s.loyaltyResp, s.loyaltyErr
}

func testShopConfig() *model.ShopConfig {
	return &model.ShopConfig{
		Info: model.ShopInfo{Name: "House of Tailors", City: "London"},
		DeliveryOptions: model.DeliveryOptions{
			PickupChargePence:          1000,
			FreeDeliveryThresholdPence: 5000,
			Currency:                   "GBP",
		},
		PickupSchedule: model.PickupSchedule{
			Monday: []model.PickupWindow{{Label: "10:00 AM - 11:00 AM", MaxBookings: 5}},
		},
	}
}

func newTestHandler(t *testing.T, svc Service) (*Handler, *middleware.AuthMiddleware) {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, testShopConfig(), logger, auth), auth
}

// authRequest создаёт запрос с валидным cookie авторизации пользователя user-1.
func authRequest(t *testing.T, auth *middleware.AuthMiddleware, method, target string, body []byte) *http.Request {
	t.Helper()

	rec := httptest.NewRecorder()
	auth.SetAuthCookie(rec, "user-1")

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func sampleOrder() *model.Order {
	return &model.Order{
		ID:             "order-1",
		UserID:         "user-1",
		TotalAmount:    2500,
		Currency:       "GBP",
		Status:         model.OrderStatusPickup,
		DeliveryMethod: model.DeliveryMethodPickup,
		DeliveryInfo: &model.DeliveryInfo{
			PickupDate: "2025-06-02",
			PickupTime: "10:00 AM - 11:00 AM",
			PickupCost: 1000,
		},
	}
}

func TestCreateOrder_Created(t *testing.T) {
	svc := &stubService{createResp: sampleOrder()}
	h, auth := newTestHandler(t, svc)
	router := h.SetupRouter()

	body, _ := json.Marshal(createOrderRequest{
		DeliveryMethod: "pickup",
		DeliveryInfo:   &deliveryInfoRequest{PickupDate: "2025-06-02", PickupTime: "10:00 AM - 11:00 AM"},
		CustomerName:   "Ada Lovelace",
		OrderItems: []model.OrderItem{
			{ItemID: "shirt-1", Services: []model.ServiceSelection{{ServiceID: "hemming", TotalPrice: 1500}}},
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authRequest(t, auth, http.MethodPost, "/api/orders", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}

	var resp orderResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "order-1" || resp.Status != "pickup" || resp.TotalAmount != 2500 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if svc.lastCreateReq.UserID != "user-1" {
		t.Fatalf("service got user %q, want user-1", svc.lastCreateReq.UserID)
	}
	if svc.lastCreateReq.PickupDate != "2025-06-02" {
		t.Fatalf("service got pickup date %q", svc.lastCreateReq.PickupDate)
	}
}

func TestCreateOrder_Unauthorized(t *testing.T) {
	h, _ := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", validation.ErrValidation, http.StatusBadRequest, "validation_error"},
		{"slot full", service.ErrSlotUnavailable, http.StatusConflict, "slot_unavailable"},
		{"no credit", loyalty.ErrNoCredit, http.StatusPaymentRequired, "no_free_credit"},
		{"duplicate", repository.ErrDuplicateOrder, http.StatusConflict, "duplicate_order"},
		{"internal", context.DeadlineExceeded, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, auth := newTestHandler(t, &stubService{createErr: tt.err})
			router := h.SetupRouter()

			body, _ := json.Marshal(createOrderRequest{DeliveryMethod: "pickup"})
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, authRequest(t, auth, http.MethodPost, "/api/orders", body))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			var resp errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Error != tt.wantCode {
				t.Fatalf("error code = %q, want %q", resp.Error, tt.wantCode)
			}
		})
	}
}

func TestGetOrders_NoContentWhenEmpty(t *testing.T) {
	h, auth := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authRequest(t, auth, http.MethodGet, "/api/orders", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestGetOrders_ReturnsList(t *testing.T) {
	svc := &stubService{ordersResp: []model.Order{*sampleOrder()}}
	h, auth := newTestHandler(t, svc)
	router := h.SetupRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authRequest(t, auth, http.MethodGet, "/api/orders", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp []orderResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].ID != "order-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAdvanceStatus_Success(t *testing.T) {
	completed := sampleOrder()
	completed.Status = model.OrderStatusCompleted

	h, auth := newTestHandler(t, &stubService{advanceResp: completed})
	router := h.SetupRouter()

	body, _ := json.Marshal(advanceStatusRequest{Status: "completed"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authRequest(t, auth, http.MethodPost, "/api/orders/order-1/status", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp orderResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "completed" {
		t.Fatalf("order status = %q, want completed", resp.Status)
	}
}

func TestAdvanceStatus_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", repository.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
		{"already completed", service.ErrAlreadyCompleted, http.StatusConflict, "already_completed"},
		{"terminal", service.ErrTerminalState, http.StatusConflict, "terminal_state"},
		{"invalid transition", service.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, auth := newTestHandler(t, &stubService{advanceErr: tt.err})
			router := h.SetupRouter()

			body, _ := json.Marshal(advanceStatusRequest{Status: "completed"})
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, authRequest(t, auth, http.MethodPost, "/api/orders/order-1/status", body))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			var resp errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Error != tt.wantCode {
				t.Fatalf("error code = %q, want %q", resp.Error, tt.wantCode)
			}
		})
	}
}

func TestCancelOrder_Success(t *testing.T) {
	h, auth := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authRequest(t, auth, http.MethodDelete, "/api/orders/order-1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestCancelOrder_NotFound(t *testing.T) {
	h, auth := newTestHandler(t, &stubService{cancelErr: repository.ErrOrderNotFound})
	router := h.SetupRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authRequest(t, auth, http.MethodDelete, "/api/orders/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGetLoyalty_ReturnsProgress(t *testing.T) {
	svc := &stubService{
		loyaltyResp: model.LoyaltyProgress{
			UserID:          "user-1",
			CompletedOrders: 3,
			LifetimeOrders:  8,
			FreeCredits:     1,
		},
	}
	h, auth := newTestHandler(t, svc)
	router := h.SetupRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authRequest(t, auth, http.MethodGet, "/api/loyalty", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp model.LoyaltyProgress
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.CompletedOrders != 3 || resp.FreeCredits != 1 {
		t.Fatalf("unexpected progress: %+v", resp)
	}
}

func TestGetShopConfig_Public(t *testing.T) {
	h, _ := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	// Без cookie авторизации.
	req := httptest.NewRequest(http.MethodGet, "/api/shop/config", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp shopConfigResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Info.Name != "House of Tailors" {
		t.Fatalf("shop name = %q", resp.Info.Name)
	}
	if resp.DeliveryOptions.PickupChargePence != 1000 {
		t.Fatalf("pickup charge = %d", resp.DeliveryOptions.PickupChargePence)
	}
	if len(resp.PickupSchedule.Monday) != 1 {
		t.Fatalf("monday windows = %d, want 1", len(resp.PickupSchedule.Monday))
	}
}
