package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/keyshop-system/internal/middleware"
	"github.com/mmeshcher/keyshop-system/internal/model"
	"github.com/mmeshcher/keyshop-system/internal/repository"
)

type stubService struct {
	processResult *model.ReconcileResult
	processErr    error
	lastEvent     model.PaymentEvent

	createOrderErr error

	status    model.OrderStatus
	statusErr error

	coupon    *model.Coupon
	couponErr error
}

func (s *stubService) ProcessPayment(ctx context.Context, event model.PaymentEvent) (*model.ReconcileResult, error) {
	s.lastEvent = event
	return s.processResult, s.processErr
}

func (s *stubService) CreateOrder(ctx context.Context, order model.Order) error {
	return s.createOrderErr
}

func (s *stubService) GetOrderStatus(ctx context.Context, reference string) (model.OrderStatus, error) {
	return s.status, s.statusErr
}

func (s *stubService) GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error) {
	return s.coupon, s.couponErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewWebhookAuth("test-secret", logger)

	return NewHandler(svc, logger, auth)
}

func postWebhook(t *testing.T, h *Handler, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/payment", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Apikey "+token)
	}
	rec := httptest.NewRecorder()

	handler := h.webhookAuth.Middleware(http.HandlerFunc(h.PaymentWebhook))
	handler.ServeHTTP(rec, req)

	return rec
}

func TestPaymentWebhook_Unauthorized(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	rec := postWebhook(t, h, "", `{"transferAmount":50000,"transferContent":"IB ORD000001"}`)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestPaymentWebhook_Success(t *testing.T) {
	svc := &stubService{
		processResult: &model.ReconcileResult{
			Outcome:        model.OutcomeCompleted,
			OrderReference: "ORD000001",
		},
	}
	h := newTestHandler(t, svc)

	rec := postWebhook(t, h, "test-secret", `{"transferAmount":50000,"transferContent":"IB ORD000001","gateway":"MBBank"}`)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp webhookResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("success = false, want true")
	}
	if resp.OrderReference != "ORD000001" {
		t.Fatalf("order_reference = %q, want ORD000001", resp.OrderReference)
	}

	if svc.lastEvent.Reference != "ORD000001" {
		t.Fatalf("extracted reference = %q, want ORD000001", svc.lastEvent.Reference)
	}
	if svc.lastEvent.AmountReceived != 50000 {
		t.Fatalf("amount = %d, want 50000", svc.lastEvent.AmountReceived)
	}
	if svc.lastEvent.Gateway != "MBBank" {
		t.Fatalf("gateway = %q, want MBBank", svc.lastEvent.Gateway)
	}
}

func TestPaymentWebhook_AlternativeFieldNames(t *testing.T) {
	svc := &stubService{
		processResult: &model.ReconcileResult{Outcome: model.OutcomeCompleted},
	}
	h := newTestHandler(t, svc)

	rec := postWebhook(t, h, "test-secret", `{"amount":"120000","description":"MB FT ORD778899"}`)

	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusOK)
	}
	if svc.lastEvent.AmountReceived != 120000 {
		t.Fatalf("amount = %d, want 120000 (string amount accepted)", svc.lastEvent.AmountReceived)
	}
	if svc.lastEvent.Reference != "ORD778899" {
		t.Fatalf("extracted reference = %q, want ORD778899", svc.lastEvent.Reference)
	}
}

func TestPaymentWebhook_BusinessFailuresReturn200(t *testing.T) {
	outcomes := []model.ReconcileOutcome{
		model.OutcomeNoReference,
		model.OutcomeNoMatch,
		model.OutcomeAmbiguous,
		model.OutcomeUnderpaid,
		model.OutcomeOutOfStock,
	}

	for _, outcome := range outcomes {
		t.Run(string(outcome), func(t *testing.T) {
			svc := &stubService{
				processResult: &model.ReconcileResult{Outcome: outcome},
			}
			h := newTestHandler(t, svc)

			rec := postWebhook(t, h, "test-secret", `{"transferAmount":1,"transferContent":"x"}`)

			res := rec.Result()
			if res.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200 (gateway must not retry)", res.StatusCode)
			}

			var resp webhookResponse
			if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Success {
				t.Fatalf("success = true for outcome %s, want false", outcome)
			}
		})
	}
}

func TestPaymentWebhook_DuplicateIsSuccess(t *testing.T) {
	svc := &stubService{
		processResult: &model.ReconcileResult{
			Outcome:        model.OutcomeDuplicate,
			OrderReference: "ORD000001",
		},
	}
	h := newTestHandler(t, svc)

	rec := postWebhook(t, h, "test-secret", `{"transferAmount":50000,"transferContent":"IB ORD000001"}`)

	var resp webhookResponse
	if err := json.NewDecoder(rec.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("duplicate delivery must be reported as success")
	}
}

func TestPaymentWebhook_StorageFailureReturns500(t *testing.T) {
	svc := &stubService{
		processErr: errors.New("connection refused"),
	}
	h := newTestHandler(t, svc)

	rec := postWebhook(t, h, "test-secret", `{"transferAmount":50000,"transferContent":"IB ORD000001"}`)

	if rec.Result().StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusInternalServerError)
	}
}

func TestPaymentWebhook_BadJSON(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	rec := postWebhook(t, h, "test-secret", `{"transferAmount":`)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestCreateOrder_Success(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	body := `{"orderId":"ORD000001","productCode":"WIN11","amount":50000,"email":"buyer@example.com","quantity":1}`

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateOrder(rec, req)

	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusOK)
	}
}

func TestCreateOrder_Conflict(t *testing.T) {
	svc := &stubService{
		createOrderErr: repository.ErrOrderExists,
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/orders",
		strings.NewReader(`{"orderId":"ORD000001","productCode":"WIN11","amount":50000,"email":"a@b.c"}`))
	rec := httptest.NewRecorder()

	h.CreateOrder(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestCheckStatus_NotFound(t *testing.T) {
	svc := &stubService{
		statusErr: repository.ErrOrderNotFound,
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/ORD404", nil)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNotFound)
	}
}

func TestCheckStatus_OK(t *testing.T) {
	svc := &stubService{
		status: model.OrderStatusCompleted,
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/ORD000001", nil)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestCheckCoupon_OK(t *testing.T) {
	svc := &stubService{
		coupon: &model.Coupon{Code: "SALE10", DiscountPercent: 10, IsActive: true},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/coupons/SALE10", nil)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var c model.Coupon
	if err := json.NewDecoder(res.Body).Decode(&c); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if c.Code != "SALE10" || c.DiscountPercent != 10 {
		t.Fatalf("unexpected coupon: %+v", c)
	}
}

func TestCheckCoupon_NotFound(t *testing.T) {
	svc := &stubService{
		couponErr: repository.ErrCouponNotFound,
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/coupons/NOPE", nil)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNotFound)
	}
}
