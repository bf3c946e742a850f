package service

import (
	"context"
	"errors"
	"time"

	"checkout-service/internal/models"
)

var (
	// ErrNotFound is returned when the requested order or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnknownTransaction is returned for an order referencing a payment the
	// gateway never authorized.
	ErrUnknownTransaction = errors.New("unknown transaction")
	// ErrPaymentNotAuthorized is returned when the referenced payment is no
	// longer open for an order, usually because it was already captured.
	ErrPaymentNotAuthorized = errors.New("payment is not authorized")
	// ErrTotalMismatch is returned when an order total differs from the
	// authorized amount.
	ErrTotalMismatch = errors.New("order total does not match authorized amount")
	// ErrCommitInProgress is returned while another request commits the same
	// transaction.
	ErrCommitInProgress = errors.New("order commit already in progress")
)

// CustomerStore looks up customers for discount eligibility and e-mail.
type CustomerStore interface {
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)
}

// PricingCache caches pricing results. Implementations must treat a miss
// as (nil, nil).
type PricingCache interface {
	GetCachedPricing(ctx context.Context, key string) (*models.PricingResult, error)
	CachePricing(ctx context.Context, key string, result models.PricingResult, ttl time.Duration) error
}

// PaymentStore persists gateway payments.
type PaymentStore interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error)
}

// OrderStore persists orders.
type OrderStore interface {
	CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByTransactionID(ctx context.Context, transactionID string) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
}

// FailureStore persists failure records.
type FailureStore interface {
	CreateFailedOrder(ctx context.Context, rec *models.FailedOrderRecord) error
	ListFailedOrders(ctx context.Context, includeResolved bool, limit int) ([]models.FailedOrderRecord, error)
	ResolveFailedOrder(ctx context.Context, id int64) error
}

// IdempotencyStore guards order commits per transaction.
type IdempotencyStore interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// Publisher emits checkout domain events.
type Publisher interface {
	PublishPaymentAuthorized(ctx context.Context, event *models.PaymentAuthorizedEvent) error
	PublishPaymentDeclined(ctx context.Context, event *models.PaymentDeclinedEvent) error
	PublishOrderCommitted(ctx context.Context, event *models.OrderCommittedEvent) error
	PublishConfirmationRequested(ctx context.Context, event *models.ConfirmationRequestedEvent) error
	PublishCheckoutFailed(ctx context.Context, event *models.CheckoutFailedEvent) error
}
