// Package service реализует сверку платежей и выдачу ключей.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/keyshop-system/internal/model"
	"github.com/mmeshcher/keyshop-system/internal/repository"
)

// ErrInvalidOrder возвращается при создании заказа с неполными или
// некорректными данными.
var ErrInvalidOrder = errors.New("invalid order")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateOrder(ctx context.Context, order model.Order) error
	GetOrderByReference(ctx context.Context, reference string) (*model.Order, error)
	GetPendingOrders(ctx context.Context) ([]model.Order, error)
	CompleteOrder(ctx context.Context, reference string) (bool, error)
	ReserveStock(ctx context.Context, productCode, orderReference string, count int) ([]model.StockItem, error)
	AppendAudit(ctx context.Context, rec model.AuditRecord) error
	GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error)
}

// Dispatcher описывает канал доставки ключей покупателю.
type Dispatcher interface {
	SendKeys(ctx context.Context, email, orderReference, productCode string, serials []string) error
}

// Service содержит бизнес-логику сверки платежей.
type Service struct {
	repo             Repository
	dispatcher       Dispatcher
	logger           *zap.Logger
	reconcileTimeout time.Duration
}

// NewService создаёт сервис с указанным репозиторием и каналом доставки.
// Dispatcher может быть nil: тогда доставка фиксируется как сбой в аудите,
// а сверка остаётся успешной.
func NewService(repo Repository, dispatcher Dispatcher, logger *zap.Logger, reconcileTimeout time.Duration) *Service {
	if reconcileTimeout <= 0 {
		reconcileTimeout = 10 * time.Second
	}

	return &Service{
		repo:             repo,
		dispatcher:       dispatcher,
		logger:           logger,
		reconcileTimeout: reconcileTimeout,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// ProcessPayment сверяет платёжное событие с реестром заказов и при успехе
// резервирует ключи и передаёт их в доставку. Все бизнес-итоги возвращаются
// значением; ошибка означает недоступность хранилища.
//
// Шлюз доставляет уведомления как минимум один раз, поэтому повторные
// доставки — ожидаемый режим: единственной точкой сериализации служит
// условный переход pending → completed в хранилище.
func (s *Service) ProcessPayment(ctx context.Context, event model.PaymentEvent) (*model.ReconcileResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.reconcileTimeout)
	defer cancel()

	order, result, err := s.matchOrder(ctx, event)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	// Недоплата не переводит заказ: корректная доставка может прийти позже.
	if event.AmountReceived < order.AmountDue {
		s.audit(ctx, model.AuditAmountMismatch, order.Reference,
			fmt.Sprintf("required %d, received %d, description %q",
				order.AmountDue, event.AmountReceived, event.RawDescription))
		return &model.ReconcileResult{Outcome: model.OutcomeUnderpaid, OrderReference: order.Reference}, nil
	}

	completed, err := s.repo.CompleteOrder(ctx, order.Reference)
	if err != nil {
		return nil, fmt.Errorf("complete order %s: %w", order.Reference, err)
	}
	if !completed {
		// Параллельная доставка уже завершила заказ: повтор безвреден.
		return &model.ReconcileResult{Outcome: model.OutcomeDuplicate, OrderReference: order.Reference}, nil
	}

	quantity := order.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	items, err := s.repo.ReserveStock(ctx, order.ProductCode, order.Reference, quantity)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientStock) {
			// Заказ остаётся completed: возврат в pending позволил бы
			// повторной доставке выдать ключи дважды после пополнения.
			s.audit(ctx, model.AuditOutOfStock, order.Reference,
				fmt.Sprintf("product %s, need %d units, manual restock required",
					order.ProductCode, quantity))
			return &model.ReconcileResult{Outcome: model.OutcomeOutOfStock, OrderReference: order.Reference}, nil
		}
		return nil, fmt.Errorf("reserve stock for %s: %w", order.Reference, err)
	}

	serials := make([]string, 0, len(items))
	for _, item := range items {
		serials = append(serials, item.Serial)
	}

	s.dispatch(ctx, order, serials)

	return &model.ReconcileResult{Outcome: model.OutcomeCompleted, OrderReference: order.Reference}, nil
}

// dispatch передаёт ключи в канал доставки. Сбой доставки не влияет на итог
// сверки: заказ завершён, ключи списаны, серийные номера сохраняются в аудите
// для ручной повторной отправки.
func (s *Service) dispatch(ctx context.Context, order *model.Order, serials []string) {
	var err error
	if s.dispatcher == nil {
		err = errors.New("dispatcher not configured")
	} else {
		err = s.dispatcher.SendKeys(ctx, order.CustomerEmail, order.Reference, order.ProductCode, serials)
	}

	if err != nil {
		s.audit(ctx, model.AuditDeliveryFailure, order.Reference,
			fmt.Sprintf("send to %s failed: %v; serials: %v", order.CustomerEmail, err, serials))
	}
}

// audit добавляет запись в журнал. Сбой записи аудита не должен влиять
// на ответ шлюзу, поэтому он только логируется.
func (s *Service) audit(ctx context.Context, auditCtx model.AuditContext, orderReference, detail string) {
	rec := model.AuditRecord{
		Context:        auditCtx,
		OrderReference: orderReference,
		Detail:         detail,
	}
	if rec.OrderReference == "" {
		rec.OrderReference = model.UnknownOrderReference
	}

	if err := s.repo.AppendAudit(ctx, rec); err != nil {
		s.logger.Error("append audit failed",
			zap.String("context", string(auditCtx)),
			zap.String("order", rec.OrderReference),
			zap.Error(err),
		)
	}
}

// CreateOrder сохраняет новый заказ в статусе pending.
func (s *Service) CreateOrder(ctx context.Context, order model.Order) error {
	if order.Reference == "" || order.ProductCode == "" || order.CustomerEmail == "" {
		return fmt.Errorf("%w: reference, product code and email are required", ErrInvalidOrder)
	}
	if order.AmountDue <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	return s.repo.CreateOrder(ctx, order)
}

// GetOrderStatus возвращает статус заказа по его номеру.
func (s *Service) GetOrderStatus(ctx context.Context, reference string) (model.OrderStatus, error) {
	order, err := s.repo.GetOrderByReference(ctx, reference)
	if err != nil {
		return "", err
	}
	return order.Status, nil
}

// GetCouponByCode возвращает активный промокод.
func (s *Service) GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error) {
	return s.repo.GetCouponByCode(ctx, code)
}
