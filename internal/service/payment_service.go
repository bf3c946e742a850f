package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Decline reasons reported by the mock gateway
const (
	DeclineInvalidAmount       = "invalid_amount"
	DeclineUnsupportedCurrency = "unsupported_currency"
	DeclineLimitExceeded       = "limit_exceeded"
	DeclineAmountMismatch      = "amount_mismatch"
)

// PaymentService is a mock gateway. It never moves money but behaves like
// one towards the checkout: it authorizes only the amount the pricing engine
// would charge and echoes what it authorized.
type PaymentService struct {
	store        PaymentStore
	pricing      *PricingService
	publisher    Publisher
	currency     string
	declineAbove int64
	newTxID      func() string
	logger       *zap.Logger
}

// NewPaymentService creates a new payment service. declineAbove of zero
// disables the limit.
func NewPaymentService(store PaymentStore, pricing *PricingService, publisher Publisher, currency string, declineAbove int64) *PaymentService {
	return &PaymentService{
		store:        store,
		pricing:      pricing,
		publisher:    publisher,
		currency:     strings.ToUpper(currency),
		declineAbove: declineAbove,
		newTxID:      newTransactionID,
		logger:       util.GetLogger(),
	}
}

func newTransactionID() string {
	return "txn_" + strings.ToLower(ulid.Make().String())
}

// Authorize reserves req.Amount for userID. A decline returns a response
// with Success=false and an error wrapping apperr.ErrAuthorizationDeclined.
func (ps *PaymentService) Authorize(ctx context.Context, userID string, req models.AuthorizeRequest) (models.AuthorizeResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Authorize")
	defer span.End()

	util.PaymentAttemptsTotal.Inc()
	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	ps.logger.Info("Authorizing payment",
		zap.String("user_id", userID),
		zap.Int64("amount", req.Amount),
		zap.String("currency", req.Currency))

	if reason := ps.precheck(req); reason != "" {
		return ps.decline(ctx, userID, req, reason)
	}

	expected, err := ps.pricing.CalculateTotal(ctx, userID, models.PricingRequest{
		Subtotal:     req.Subtotal,
		Tax:          req.Tax,
		DeliveryCost: req.DeliveryCost,
	})
	if err != nil {
		util.RecordSpanError(span, err)
		return models.AuthorizeResponse{}, fmt.Errorf("failed to price authorization: %w", err)
	}
	if expected.Total != req.Amount {
		ps.logger.Warn("Authorization amount differs from priced total",
			zap.Int64("amount", req.Amount),
			zap.Int64("expected", expected.Total))
		return ps.decline(ctx, userID, req, DeclineAmountMismatch)
	}

	payment := &models.Payment{
		TransactionID: ps.newTxID(),
		UserID:        userID,
		Amount:        req.Amount,
		Currency:      ps.currency,
		Status:        models.PaymentStatusAuthorized,
	}
	if err := ps.store.CreatePayment(ctx, payment); err != nil {
		util.RecordSpanError(span, err)
		return models.AuthorizeResponse{}, fmt.Errorf("failed to create payment: %w", err)
	}

	util.PaymentSuccessTotal.Inc()
	ps.logger.Info("Payment authorized",
		zap.String("transaction_id", payment.TransactionID),
		zap.Int64("amount", payment.Amount))

	event := &models.PaymentAuthorizedEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypePaymentAuthorized),
		TransactionID: payment.TransactionID,
		UserID:        userID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
	}
	if err := ps.publisher.PublishPaymentAuthorized(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PaymentAuthorized event", zap.Error(err))
	}

	return models.AuthorizeResponse{
		Success:       true,
		TransactionID: payment.TransactionID,
		Amount:        payment.Amount,
	}, nil
}

func (ps *PaymentService) precheck(req models.AuthorizeRequest) string {
	switch {
	case req.Amount <= 0:
		return DeclineInvalidAmount
	case !strings.EqualFold(req.Currency, ps.currency):
		return DeclineUnsupportedCurrency
	case ps.declineAbove > 0 && req.Amount > ps.declineAbove:
		return DeclineLimitExceeded
	}
	return ""
}

func (ps *PaymentService) decline(ctx context.Context, userID string, req models.AuthorizeRequest, reason string) (models.AuthorizeResponse, error) {
	util.PaymentFailedTotal.WithLabelValues(reason).Inc()
	ps.logger.Warn("Payment declined",
		zap.String("user_id", userID),
		zap.Int64("amount", req.Amount),
		zap.String("reason", reason))

	event := &models.PaymentDeclinedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypePaymentDeclined),
		UserID:    userID,
		Amount:    req.Amount,
		Reason:    reason,
	}
	if err := ps.publisher.PublishPaymentDeclined(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PaymentDeclined event", zap.Error(err))
	}

	return models.AuthorizeResponse{Success: false, Error: reason},
		fmt.Errorf("%s: %w", reason, apperr.ErrAuthorizationDeclined)
}
