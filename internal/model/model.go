// Package model содержит доменные сущности магазина цифровых ключей.
package model

import "time"

// OrderStatus описывает статус обработки заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
)

// UnknownOrderReference используется в записях аудита, когда событие
// не удалось привязать ни к одному заказу.
const UnknownOrderReference = "unknown"

// Order описывает заказ покупателя. Сумма хранится в минимальных
// единицах валюты, чтобы исключить ошибки округления.
type Order struct {
	Reference     string
	ProductCode   string
	AmountDue     int64
	Quantity      int
	CustomerEmail string
	Status        OrderStatus
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// StockItem описывает одну единицу товара (лицензионный ключ).
type StockItem struct {
	ID             int64
	ProductCode    string
	Serial         string
	Sold           bool
	OrderReference string
	SoldAt         *time.Time
}

// PaymentEvent описывает входящее уведомление о банковском переводе.
// Не сохраняется в БД, кроме как через журнал аудита на ошибочных ветках.
type PaymentEvent struct {
	RawDescription string
	AmountReceived int64
	Reference      string
	Gateway        string
}

// AuditContext классифицирует запись журнала аудита.
type AuditContext string

const (
	AuditUnauthorized    AuditContext = "unauthorized"
	AuditNoReference     AuditContext = "no-reference-found"
	AuditOrderNotFound   AuditContext = "order-not-found"
	AuditAmbiguousMatch  AuditContext = "ambiguous-match"
	AuditAmountMismatch  AuditContext = "amount-mismatch"
	AuditOutOfStock      AuditContext = "out-of-stock"
	AuditDeliveryFailure AuditContext = "delivery-failure"
	AuditSystemError     AuditContext = "system-error"
)

// AuditRecord описывает запись журнала аудита. Журнал только дополняется.
type AuditRecord struct {
	Context        AuditContext
	OrderReference string
	Detail         string
	CreatedAt      time.Time
}

// ReconcileOutcome описывает бизнес-итог обработки платёжного события.
type ReconcileOutcome string

const (
	OutcomeCompleted   ReconcileOutcome = "completed"
	OutcomeDuplicate   ReconcileOutcome = "duplicate"
	OutcomeNoReference ReconcileOutcome = "no_reference"
	OutcomeNoMatch     ReconcileOutcome = "no_match"
	OutcomeAmbiguous   ReconcileOutcome = "ambiguous"
	OutcomeUnderpaid   ReconcileOutcome = "underpaid"
	OutcomeOutOfStock  ReconcileOutcome = "out_of_stock"
)

// ReconcileResult содержит итог сверки платёжного события с заказом.
type ReconcileResult struct {
	Outcome        ReconcileOutcome
	OrderReference string
}

// Completed сообщает, привела ли сверка к выдаче ключей покупателю.
func (r *ReconcileResult) Completed() bool {
	return r.Outcome == OutcomeCompleted
}

// Coupon описывает промокод на скидку.
type Coupon struct {
	Code            string `json:"code"`
	DiscountPercent int    `json:"discount_percent"`
	IsActive        bool   `json:"is_active"`
}
