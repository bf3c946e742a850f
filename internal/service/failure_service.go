package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"checkout-service/internal/apperr"
	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

const (
	maxErrorDetails  = 4000
	maxErrorKind     = 64
	maxTransactionID = 80
	defaultListLimit = 50
	maxListLimit     = 500
)

// FailureService stores failed checkout attempts for manual reconciliation.
type FailureService struct {
	store     FailureStore
	publisher Publisher
	policy    *bluemonday.Policy
	logger    *zap.Logger
}

// NewFailureService creates a new failure service
func NewFailureService(store FailureStore, publisher Publisher) *FailureService {
	return &FailureService{
		store:     store,
		publisher: publisher,
		policy:    bluemonday.StrictPolicy(),
		logger:    util.GetLogger(),
	}
}

// Record stores a failure record. Markup is stripped from the free text but
// the text itself is kept verbatim; readers escape it when rendering. The
// transaction id is stored as sent so reconciliation lookups match.
func (s *FailureService) Record(ctx context.Context, req models.FailedOrderRequest) (int64, error) {
	ctx, span := util.StartSpan(ctx, "FailureService.Record")
	defer span.End()

	if strings.TrimSpace(req.TransactionID) == "" || strings.TrimSpace(req.Error) == "" {
		return 0, fmt.Errorf("transactionId and error are required: %w", apperr.ErrInvalidInput)
	}

	data, err := json.Marshal(req.OrderData)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal order data: %w", err)
	}

	rec := &models.FailedOrderRecord{
		TransactionID: truncate(strings.TrimSpace(req.TransactionID), maxTransactionID),
		OrderData:     data,
		ErrorKind:     truncate(s.plainText(req.Error), maxErrorKind),
		ErrorDetails:  truncate(s.plainText(req.ErrorDetails), maxErrorDetails),
	}
	if err := s.store.CreateFailedOrder(ctx, rec); err != nil {
		util.RecordSpanError(span, err)
		return 0, fmt.Errorf("failed to store failure record: %w", err)
	}

	util.FailureRecordsTotal.WithLabelValues(rec.ErrorKind).Inc()
	s.logger.Warn("Checkout failure recorded",
		zap.Int64("failure_id", rec.ID),
		zap.String("transaction_id", rec.TransactionID),
		zap.String("error_kind", rec.ErrorKind))

	event := &models.CheckoutFailedEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeCheckoutFailed),
		FailureID:     rec.ID,
		TransactionID: rec.TransactionID,
		ErrorKind:     rec.ErrorKind,
		ErrorDetails:  rec.ErrorDetails,
	}
	if err := s.publisher.PublishCheckoutFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish CheckoutFailed event", zap.Error(err))
	}

	return rec.ID, nil
}

// List returns failure records, newest first.
func (s *FailureService) List(ctx context.Context, includeResolved bool, limit int) ([]models.FailedOrderRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.store.ListFailedOrders(ctx, includeResolved, limit)
}

// Resolve marks a record as handled. The record itself is kept.
func (s *FailureService) Resolve(ctx context.Context, id int64) error {
	err := s.store.ResolveFailedOrder(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	s.logger.Info("Checkout failure resolved", zap.Int64("failure_id", id))
	return nil
}

// plainText drops tags. StrictPolicy escapes the text it keeps, so the
// entities are decoded again.
func (s *FailureService) plainText(text string) string {
	return html.UnescapeString(s.policy.Sanitize(text))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
