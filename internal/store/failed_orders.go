package store

import (
	"context"
	"fmt"

	"checkout-service/internal/models"
)

// CreateFailedOrder stores a failure record. Records are never deleted.
func (s *Store) CreateFailedOrder(ctx context.Context, rec *models.FailedOrderRecord) error {
	query := `
		INSERT INTO failed_orders (transaction_id, order_data, error_kind, error_details)
		VALUES ($1, $2, $3, $4)
		RETURNING id, resolved, created_at`

	return s.db.QueryRowxContext(ctx, query,
		rec.TransactionID, nullableJSON(rec.OrderData), rec.ErrorKind, rec.ErrorDetails,
	).Scan(&rec.ID, &rec.Resolved, &rec.CreatedAt)
}

// ListFailedOrders returns the newest records first.
func (s *Store) ListFailedOrders(ctx context.Context, includeResolved bool, limit int) ([]models.FailedOrderRecord, error) {
	query := `SELECT id, transaction_id, COALESCE(order_data, 'null'::jsonb) AS order_data, error_kind,
		error_details, resolved, created_at FROM failed_orders`
	if !includeResolved {
		query += " WHERE resolved = FALSE"
	}
	query += " ORDER BY created_at DESC LIMIT $1"

	records := []models.FailedOrderRecord{}
	err := s.db.SelectContext(ctx, &records, query, limit)
	return records, err
}

// ResolveFailedOrder marks a record as reviewed by an operator.
func (s *Store) ResolveFailedOrder(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE failed_orders SET resolved = TRUE, resolved_at = NOW() WHERE id = $1", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("failed order %d: %w", id, ErrNotFound)
	}
	return nil
}
