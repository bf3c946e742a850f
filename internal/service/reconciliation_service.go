package service

import (
	"context"
	"errors"
	"fmt"

	"checkout-service/internal/apperr"
	"checkout-service/internal/checkout"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// EventLog remembers which events a consumer has already handled.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// ReconciliationService consumes checkout events that need follow-up:
// confirmation e-mails and failures where money may have moved.
type ReconciliationService struct {
	events   EventLog
	payments PaymentStore
	orders   OrderStore
	emails   *EmailService
	logger   *zap.Logger
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(events EventLog, payments PaymentStore, orders OrderStore, emails *EmailService) *ReconciliationService {
	return &ReconciliationService{
		events:   events,
		payments: payments,
		orders:   orders,
		emails:   emails,
		logger:   util.GetLogger(),
	}
}

// HandleConfirmationRequested sends the confirmation e-mail once per event.
func (rs *ReconciliationService) HandleConfirmationRequested(ctx context.Context, event *models.ConfirmationRequestedEvent) error {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.HandleConfirmationRequested")
	defer span.End()

	return rs.once(ctx, event.BaseEvent, func() error {
		return rs.emails.SendOrderConfirmation(ctx, event)
	})
}

// HandleCheckoutFailed raises an alert when a failure may have left an
// authorized payment without an order.
func (rs *ReconciliationService) HandleCheckoutFailed(ctx context.Context, event *models.CheckoutFailedEvent) error {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.HandleCheckoutFailed")
	defer span.End()

	return rs.once(ctx, event.BaseEvent, func() error {
		kind := apperr.Kind(event.ErrorKind)
		fields := []zap.Field{
			zap.Int64("failure_id", event.FailureID),
			zap.String("transaction_id", event.TransactionID),
			zap.String("error_kind", event.ErrorKind),
		}

		if !apperr.OutcomeUnknown(kind) {
			rs.logger.Info("Checkout failure needs no reconciliation", fields...)
			return nil
		}
		if checkout.IsPlaceholder(event.TransactionID) {
			// No transaction id: the gateway answer was lost, so only an
			// operator can match this against the gateway's own records.
			util.ReconciliationAlertsTotal.WithLabelValues(event.ErrorKind).Inc()
			rs.logger.Error("Checkout outcome unknown and no transaction id; check gateway records", fields...)
			return nil
		}

		orphaned, err := rs.orphanedPayment(ctx, event.TransactionID)
		if err != nil {
			return err
		}
		if orphaned == nil {
			rs.logger.Info("Failure reconciled: no open authorization", fields...)
			return nil
		}

		util.ReconciliationAlertsTotal.WithLabelValues(event.ErrorKind).Inc()
		rs.logger.Error("Authorized payment has no order; refund or create the order manually",
			append(fields,
				zap.Int64("amount", orphaned.Amount),
				zap.String("currency", orphaned.Currency),
				zap.String("user_id", orphaned.UserID))...)
		return nil
	})
}

// orphanedPayment returns the payment for transactionID if it is authorized
// and no order references it.
func (rs *ReconciliationService) orphanedPayment(ctx context.Context, transactionID string) (*models.Payment, error) {
	payment, err := rs.payments.GetPaymentByTransactionID(ctx, transactionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	if payment.Status != models.PaymentStatusAuthorized {
		return nil, nil
	}

	order, err := rs.orders.GetOrderByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if order != nil {
		return nil, nil
	}
	return payment, nil
}

func (rs *ReconciliationService) once(ctx context.Context, event models.BaseEvent, handle func() error) error {
	processed, err := rs.events.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		rs.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	if err := handle(); err != nil {
		return err
	}

	if err := rs.events.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		rs.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}
