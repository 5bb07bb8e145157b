// Package handler содержит HTTP-обработчики API сервиса продажи ключей.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/keyshop-system/internal/extractor"
	"github.com/mmeshcher/keyshop-system/internal/middleware"
	"github.com/mmeshcher/keyshop-system/internal/model"
	"github.com/mmeshcher/keyshop-system/internal/repository"
	"github.com/mmeshcher/keyshop-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	ProcessPayment(ctx context.Context, event model.PaymentEvent) (*model.ReconcileResult, error)
	CreateOrder(ctx context.Context, order model.Order) error
	GetOrderStatus(ctx context.Context, reference string) (model.OrderStatus, error)
	GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error)
}

// Handler реализует HTTP-обработчики API сервиса продажи ключей.
type Handler struct {
	service     Service
	logger      *zap.Logger
	webhookAuth *middleware.WebhookAuth
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.WebhookAuth) *Handler {
	return &Handler{
		service:     s,
		logger:      logger,
		webhookAuth: auth,
	}
}

// webhookRequest принимает полезную нагрузку платёжного шлюза. Разные
// конфигурации шлюза называют одни и те же поля по-разному, поэтому
// принимаются все известные варианты. Сумма приходит числом или строкой.
type webhookRequest struct {
	TransferAmount  *decimal.Decimal `json:"transferAmount"`
	Amount          *decimal.Decimal `json:"amount"`
	TransferContent string           `json:"transferContent"`
	Content         string           `json:"content"`
	Description     string           `json:"description"`
	Gateway         string           `json:"gateway"`
}

func (r *webhookRequest) amountReceived() int64 {
	if r.TransferAmount != nil {
		return r.TransferAmount.IntPart()
	}
	if r.Amount != nil {
		return r.Amount.IntPart()
	}
	return 0
}

func (r *webhookRequest) description() string {
	if r.TransferContent != "" {
		return r.TransferContent
	}
	if r.Content != "" {
		return r.Content
	}
	return r.Description
}

type webhookResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message,omitempty"`
	OrderReference string `json:"order_reference,omitempty"`
}

// outcomeMessages — ответы шлюзу по бизнес-итогам сверки. Любой из них
// отдаётся со статусом 200: повторная доставка здесь ничего не исправит.
var outcomeMessages = map[model.ReconcileOutcome]string{
	model.OutcomeCompleted:   "order completed",
	model.OutcomeDuplicate:   "order already completed",
	model.OutcomeNoReference: "no order reference found",
	model.OutcomeNoMatch:     "order not found",
	model.OutcomeAmbiguous:   "ambiguous order reference",
	model.OutcomeUnderpaid:   "insufficient amount",
	model.OutcomeOutOfStock:  "out of stock, manual resolution required",
}

// PaymentWebhook обрабатывает уведомление платёжного шлюза о переводе.
// 500 возвращается только при недоступности хранилища — это единственный
// случай, когда повторная доставка от шлюза желательна.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	event := extractor.Extract(req.description(), req.amountReceived(), req.Gateway)

	result, err := h.service.ProcessPayment(r.Context(), event)
	if err != nil {
		h.logger.Error("process payment error", zap.Error(err),
			zap.String("reference", event.Reference))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, webhookResponse{
		Success:        result.Completed() || result.Outcome == model.OutcomeDuplicate,
		Message:        outcomeMessages[result.Outcome],
		OrderReference: result.OrderReference,
	})
}

type createOrderRequest struct {
	OrderID     string           `json:"orderId"`
	ProductCode string           `json:"productCode"`
	Amount      *decimal.Decimal `json:"amount"`
	Email       string           `json:"email"`
	Quantity    int              `json:"quantity"`
}

// CreateOrder регистрирует новый заказ в статусе pending.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var amount int64
	if req.Amount != nil {
		amount = req.Amount.IntPart()
	}

	order := model.Order{
		Reference:     req.OrderID,
		ProductCode:   req.ProductCode,
		AmountDue:     amount,
		Quantity:      req.Quantity,
		CustomerEmail: req.Email,
		Status:        model.OrderStatusPending,
	}

	err := h.service.CreateOrder(r.Context(), order)
	if err != nil {
		if errors.Is(err, repository.ErrOrderExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		if errors.Is(err, service.ErrInvalidOrder) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("create order error", zap.Error(err), zap.String("order", req.OrderID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type statusResponse struct {
	Status string `json:"status"`
}

// CheckStatus возвращает статус заказа по его номеру.
func (h *Handler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	status, err := h.service.GetOrderStatus(r.Context(), reference)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("check status error", zap.Error(err), zap.String("order", reference))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, statusResponse{Status: string(status)})
}

// CheckCoupon возвращает активный промокод по его коду.
func (h *Handler) CheckCoupon(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	coupon, err := h.service.GetCouponByCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, repository.ErrCouponNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("check coupon error", zap.Error(err), zap.String("code", code))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, coupon)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}