package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"
)

const orderColumns = `id, user_id, transaction_id, status, subtotal_before_discount, subtotal,
	discount_percentage, discount_amount, tax, delivery_cost, total, currency, delivery_type,
	payment_method, COALESCE(shipping_address, 'null'::jsonb) AS shipping_address, created_at, updated_at`

// CreateOrderTx inserts the order and its items and captures the payment in
// one transaction. The payment row is locked so two commits for the same
// transaction cannot both succeed.
func (s *Store) CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var payment models.Payment
	err = tx.GetContext(ctx, &payment,
		`SELECT id, transaction_id, user_id, amount, currency, status, created_at, updated_at
		 FROM payments WHERE transaction_id = $1 FOR UPDATE`, order.TransactionID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("payment %s: %w", order.TransactionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock payment: %w", err)
	}
	if payment.Status != models.PaymentStatusAuthorized {
		return fmt.Errorf("payment %s is %s: %w", payment.TransactionID, payment.Status, ErrPaymentNotAuthorized)
	}
	if payment.Amount != order.Total {
		return fmt.Errorf("payment %s authorized %d, order total %d: %w",
			payment.TransactionID, payment.Amount, order.Total, ErrPaymentAmountMismatch)
	}

	err = tx.GetContext(ctx, order, `
		INSERT INTO orders (user_id, transaction_id, status, subtotal_before_discount, subtotal,
			discount_percentage, discount_amount, tax, delivery_cost, total, currency, delivery_type,
			payment_method, shipping_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+orderColumns,
		order.UserID, order.TransactionID, order.Status, order.SubtotalBeforeDiscount, order.Subtotal,
		order.DiscountPercentage, order.DiscountAmount, order.Tax, order.DeliveryCost, order.Total,
		order.Currency, order.DeliveryType, order.PaymentMethod, nullableJSON(order.ShippingAddress))
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		err = tx.GetContext(ctx, &items[i].ID, `
			INSERT INTO order_items (order_id, product_id, name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			items[i].OrderID, items[i].ProductID, items[i].Name, items[i].Quantity, items[i].UnitPrice)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2",
		models.PaymentStatusCaptured, payment.ID)
	if err != nil {
		return fmt.Errorf("failed to capture payment: %w", err)
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByTransactionID returns the order committed for a transaction, or
// nil when there is none yet.
func (s *Store) GetOrderByTransactionID(ctx context.Context, transactionID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE transaction_id = $1", transactionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT id, order_id, product_id, name, quantity, unit_price FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}
