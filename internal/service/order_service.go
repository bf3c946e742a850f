package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

const (
	commitLockTTL  = 30 * time.Second
	idempotencyTTL = 24 * time.Hour
)

// OrderService commits orders for authorized payments
type OrderService struct {
	store       OrderStore
	idempotency IdempotencyStore
	publisher   Publisher
	currency    string
	logger      *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store OrderStore, idempotency IdempotencyStore, publisher Publisher, currency string) *OrderService {
	return &OrderService{
		store:       store,
		idempotency: idempotency,
		publisher:   publisher,
		currency:    strings.ToUpper(currency),
		logger:      util.GetLogger(),
	}
}

// CreateOrder persists the order for req.TransactionID. It is idempotent per
// transaction: a repeated request returns the existing order id.
func (s *OrderService) CreateOrder(ctx context.Context, userID string, req models.CreateOrderRequest) (int64, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := s.validate(req); err != nil {
		util.OrdersRejectedTotal.WithLabelValues("invalid").Inc()
		return 0, err
	}

	key := "order:" + req.TransactionID
	if id, ok := s.lookupExisting(ctx, key, req.TransactionID); ok {
		s.logger.Info("Duplicate order request detected",
			zap.String("transaction_id", req.TransactionID),
			zap.Int64("order_id", id))
		return id, nil
	}

	token, acquired, err := s.idempotency.AcquireLock(ctx, key, commitLockTTL)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire commit lock: %w", err)
	}
	if !acquired {
		util.OrdersRejectedTotal.WithLabelValues("in_progress").Inc()
		return 0, ErrCommitInProgress
	}
	defer func() {
		if err := s.idempotency.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger.Error("Failed to release commit lock", zap.String("key", key), zap.Error(err))
		}
	}()

	// Another request may have committed while we waited for the lock.
	if id, ok := s.lookupExisting(ctx, key, req.TransactionID); ok {
		return id, nil
	}

	order, items, err := s.buildOrder(userID, req)
	if err != nil {
		return 0, err
	}

	if err := s.store.CreateOrderTx(ctx, order, items); err != nil {
		util.RecordSpanError(span, err)
		switch {
		case errors.Is(err, store.ErrNotFound):
			util.OrdersRejectedTotal.WithLabelValues("unknown_transaction").Inc()
			return 0, fmt.Errorf("%s: %w", req.TransactionID, ErrUnknownTransaction)
		case errors.Is(err, store.ErrPaymentNotAuthorized):
			util.OrdersRejectedTotal.WithLabelValues("not_authorized").Inc()
			return 0, fmt.Errorf("%s: %w", req.TransactionID, ErrPaymentNotAuthorized)
		case errors.Is(err, store.ErrPaymentAmountMismatch):
			util.OrdersRejectedTotal.WithLabelValues("total_mismatch").Inc()
			return 0, fmt.Errorf("%s: %w", req.TransactionID, ErrTotalMismatch)
		}
		util.OrdersRejectedTotal.WithLabelValues("db_error").Inc()
		return 0, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCommittedTotal.Inc()
	s.logger.Info("Order committed",
		zap.Int64("order_id", order.ID),
		zap.String("transaction_id", order.TransactionID),
		zap.Int64("total", order.Total))

	if err := s.idempotency.SetIdempotencyKey(ctx, key, order.ID, idempotencyTTL); err != nil {
		s.logger.Warn("Failed to store idempotency key", zap.String("key", key), zap.Error(err))
	}

	event := &models.OrderCommittedEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeOrderCommitted),
		OrderID:       order.ID,
		UserID:        order.UserID,
		TransactionID: order.TransactionID,
		Total:         order.Total,
		Currency:      order.Currency,
		DeliveryType:  order.DeliveryType,
	}
	if err := s.publisher.PublishOrderCommitted(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCommitted event", zap.Error(err))
	}

	return order.ID, nil
}

func (s *OrderService) lookupExisting(ctx context.Context, key, transactionID string) (int64, bool) {
	if val, ok, err := s.idempotency.GetIdempotencyKey(ctx, key); err != nil {
		s.logger.Warn("Failed to check idempotency key", zap.String("key", key), zap.Error(err))
	} else if ok {
		if id, err := strconv.ParseInt(val, 10, 64); err == nil {
			return id, true
		}
	}

	existing, err := s.store.GetOrderByTransactionID(ctx, transactionID)
	if err != nil {
		s.logger.Warn("Failed to look up order by transaction", zap.String("transaction_id", transactionID), zap.Error(err))
		return 0, false
	}
	if existing != nil {
		return existing.ID, true
	}
	return 0, false
}

// validate checks the totals add up and the order is complete. The payment
// amount itself is checked inside the commit transaction.
func (s *OrderService) validate(req models.CreateOrderRequest) error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), apperr.ErrInvalidInput)
	}

	if strings.TrimSpace(req.TransactionID) == "" {
		return invalid("transactionId is required")
	}
	if len(req.Items) == 0 {
		return invalid("order has no items")
	}

	var itemsTotal int64
	for _, item := range req.Items {
		if item.Quantity <= 0 || item.UnitPrice < 0 {
			return invalid("item %s has invalid quantity or price", item.ProductID)
		}
		itemsTotal += int64(item.Quantity) * item.UnitPrice
	}
	if itemsTotal != req.SubtotalBeforeDiscount {
		return invalid("items add up to %d, subtotalBeforeDiscount is %d", itemsTotal, req.SubtotalBeforeDiscount)
	}

	var discount int64
	if req.Discount != nil {
		discount = req.Discount.Amount
		if discount < 0 || req.Discount.Percentage <= 0 || req.Discount.Percentage > 100 {
			return invalid("discount is out of range")
		}
	}
	if req.Subtotal != req.SubtotalBeforeDiscount-discount {
		return invalid("subtotal %d does not match %d minus discount %d", req.Subtotal, req.SubtotalBeforeDiscount, discount)
	}
	if req.Tax < 0 || req.DeliveryCost < 0 {
		return invalid("tax and delivery cost must not be negative")
	}
	if req.Total != req.Subtotal+req.Tax+req.DeliveryCost {
		return invalid("total %d does not add up", req.Total)
	}

	switch req.Metadata.DeliveryType {
	case models.DeliveryTypeDelivery:
		if req.ShippingAddress == nil {
			return invalid("delivery orders need a shipping address")
		}
	case models.DeliveryTypePickup:
	default:
		return invalid("unknown delivery type %q", req.Metadata.DeliveryType)
	}

	if req.Currency != "" && !strings.EqualFold(req.Currency, s.currency) {
		return invalid("unsupported currency %s", req.Currency)
	}
	return nil
}

func (s *OrderService) buildOrder(userID string, req models.CreateOrderRequest) (*models.Order, []models.OrderItem, error) {
	var address json.RawMessage
	if req.ShippingAddress != nil && req.Metadata.DeliveryType == models.DeliveryTypeDelivery {
		raw, err := json.Marshal(req.ShippingAddress)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal address: %w", err)
		}
		address = raw
	}

	order := &models.Order{
		UserID:                 userID,
		TransactionID:          req.TransactionID,
		Status:                 models.OrderStatusConfirmed,
		SubtotalBeforeDiscount: req.SubtotalBeforeDiscount,
		Subtotal:               req.Subtotal,
		Tax:                    req.Tax,
		DeliveryCost:           req.DeliveryCost,
		Total:                  req.Total,
		Currency:               s.currency,
		DeliveryType:           req.Metadata.DeliveryType,
		PaymentMethod:          req.Metadata.PaymentMethod,
		ShippingAddress:        address,
	}
	if req.Discount != nil {
		order.DiscountPercentage = req.Discount.Percentage
		order.DiscountAmount = req.Discount.Amount
	}
	if order.PaymentMethod == "" {
		order.PaymentMethod = "card"
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, models.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return order, items, nil
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, nil, err
	}

	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, items, nil
}
