package checkout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/util"
)

// PaymentAuthorizer reserves funds for an amount.
type PaymentAuthorizer interface {
	Authorize(ctx context.Context, req models.AuthorizeRequest) (models.AuthorizeResponse, error)
}

// OrderCreator persists an order after a successful authorization.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req models.CreateOrderRequest) (int64, error)
}

// ConfirmationSender triggers the receipt e-mail.
type ConfirmationSender interface {
	SendOrderConfirmation(ctx context.Context, req models.ConfirmationEmailRequest) error
}

// Gate hands out the quote payment must use, or the reason there is none.
type Gate interface {
	Quote() (Quote, error)
}

// Cart is what the customer is buying and how it is fulfilled.
type Cart struct {
	Items         []models.CartItem
	DeliveryType  string
	Address       *models.Address
	Email         string
	PaymentMethod string
}

// Authorization is a confirmed payment for a quote.
type Authorization struct {
	TransactionID string
	Amount        int64
	Quote         Quote
}

// Receipt is the single terminal success of a checkout.
type Receipt struct {
	OrderID       int64  `json:"orderId"`
	TransactionID string `json:"transactionId"`
	Total         int64  `json:"total"`
	Currency      string `json:"currency"`
	Quote         Quote  `json:"quote"`
}

const (
	defaultPaymentMethod = "card"
	confirmationTimeout  = 10 * time.Second
)

// Flow authorizes the quoted total and commits the order. Every failure
// after the gate check is handed to the FailureLogger before it is returned.
type Flow struct {
	payments PaymentAuthorizer
	orders   OrderCreator
	mailer   ConfirmationSender
	failures *FailureLogger
	currency string
	logger   *zap.Logger
	side     sync.WaitGroup
}

func NewFlow(payments PaymentAuthorizer, orders OrderCreator, mailer ConfirmationSender, failures *FailureLogger, currency string) *Flow {
	return &Flow{
		payments: payments,
		orders:   orders,
		mailer:   mailer,
		failures: failures,
		currency: strings.ToUpper(currency),
		logger:   util.GetLogger(),
	}
}

// Checkout runs gate check, authorization and commit. tracker may be nil.
func (f *Flow) Checkout(ctx context.Context, gate Gate, cart Cart, tracker *Tracker) (Receipt, error) {
	ctx, span := util.StartSpan(ctx, "Flow.Checkout")
	defer span.End()

	quote, err := gate.Quote()
	if err != nil {
		// Nothing chargeable was attempted; no failure record.
		util.RecordSpanError(span, err)
		return Receipt{}, err
	}
	if err := validateCart(cart); err != nil {
		util.RecordSpanError(span, err)
		return Receipt{}, err
	}

	if tracker == nil {
		tracker = NewTracker(PhaseReady)
	}
	if err := tracker.Advance(PhaseAuthorizing); err != nil {
		return Receipt{}, err
	}

	auth, err := f.Authorize(ctx, quote, cart.DeliveryType)
	if err != nil {
		_ = tracker.Advance(PhaseAuthorizationFailed)
		util.RecordSpanError(span, err)
		return Receipt{}, err
	}
	_ = tracker.Advance(PhaseAuthorized)
	_ = tracker.Advance(PhaseCommitting)

	receipt, err := f.Commit(ctx, auth, cart)
	if err != nil {
		_ = tracker.Advance(PhaseCommitFailedAfterPayment)
		util.RecordSpanError(span, err)
		return Receipt{}, err
	}
	_ = tracker.Advance(PhaseCommitted)
	return receipt, nil
}

func validateCart(cart Cart) error {
	if len(cart.Items) == 0 {
		return fmt.Errorf("cart is empty: %w", apperr.ErrInvalidInput)
	}
	switch cart.DeliveryType {
	case models.DeliveryTypeDelivery:
		if cart.Address == nil {
			return fmt.Errorf("delivery requires a shipping address: %w", apperr.ErrInvalidInput)
		}
	case models.DeliveryTypePickup:
	default:
		return fmt.Errorf("unknown delivery type %q: %w", cart.DeliveryType, apperr.ErrInvalidInput)
	}
	return nil
}

// Authorize submits exactly quote's total. The echoed amount must match
// what was sent; anything else fails the attempt.
func (f *Flow) Authorize(ctx context.Context, quote Quote, deliveryType string) (Authorization, error) {
	ctx, span := util.StartSpan(ctx, "Flow.Authorize")
	defer span.End()

	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()
	util.PaymentAttemptsTotal.Inc()

	amount := quote.Result.Total
	req := models.AuthorizeRequest{
		Amount:       amount,
		Currency:     f.currency,
		Subtotal:     quote.Request.Subtotal,
		Tax:          quote.Request.Tax,
		DeliveryCost: quote.Request.DeliveryCost,
	}
	attempted := models.AttemptedOrder{
		Pricing:         quote.Request,
		Result:          &quote.Result,
		Currency:        f.currency,
		RequestedAmount: amount,
		DeliveryType:    deliveryType,
	}

	resp, err := f.payments.Authorize(ctx, req)
	if err != nil {
		kind := apperr.KindOf(err)
		util.PaymentFailedTotal.WithLabelValues(string(kind)).Inc()
		util.RecordSpanError(span, err)
		f.failures.LogFailure(ctx, resp.TransactionID, attempted, kind, err.Error())
		return Authorization{}, err
	}

	if resp.Amount != amount {
		authorized := resp.Amount
		attempted.AuthorizedAmount = &authorized
		err := &apperr.AmountMismatchError{
			TransactionID: resp.TransactionID,
			Requested:     amount,
			Authorized:    resp.Amount,
		}
		util.AmountMismatchTotal.Inc()
		util.PaymentFailedTotal.WithLabelValues(string(apperr.KindAmountMismatch)).Inc()
		util.RecordSpanError(span, err)
		f.failures.LogFailure(ctx, resp.TransactionID, attempted, apperr.KindAmountMismatch, err.Error())
		return Authorization{}, err
	}

	util.PaymentSuccessTotal.Inc()
	f.logger.Info("Payment authorized",
		zap.String("transaction_id", resp.TransactionID),
		zap.Int64("amount", resp.Amount),
	)
	return Authorization{TransactionID: resp.TransactionID, Amount: resp.Amount, Quote: quote}, nil
}

// BuildOrder assembles the order for auth. Totals come only from the
// confirmed quote and the authorized amount.
func (f *Flow) BuildOrder(auth Authorization, cart Cart) models.CreateOrderRequest {
	quote := auth.Quote
	var address *models.Address
	if cart.DeliveryType == models.DeliveryTypeDelivery {
		address = cart.Address
	}
	method := cart.PaymentMethod
	if method == "" {
		method = defaultPaymentMethod
	}

	items := make([]models.CartItem, len(cart.Items))
	copy(items, cart.Items)

	return models.CreateOrderRequest{
		Items:                  items,
		ShippingAddress:        address,
		SubtotalBeforeDiscount: quote.Request.Subtotal,
		Subtotal:               quote.SubtotalAfterDiscount(),
		Discount:               quote.Result.Discount,
		Tax:                    quote.Request.Tax,
		DeliveryCost:           quote.Request.DeliveryCost,
		Total:                  auth.Amount,
		Currency:               f.currency,
		TransactionID:          auth.TransactionID,
		Metadata: models.OrderMetadata{
			PaymentMethod: method,
			DeliveryType:  cart.DeliveryType,
		},
	}
}

// Commit creates the order for a confirmed authorization. Any failure here
// is CommitFailedAfterPayment: the money has already moved.
func (f *Flow) Commit(ctx context.Context, auth Authorization, cart Cart) (Receipt, error) {
	ctx, span := util.StartSpan(ctx, "Flow.Commit")
	defer span.End()

	order := f.BuildOrder(auth, cart)
	authorized := auth.Amount
	attempted := models.AttemptedOrder{
		Pricing:          auth.Quote.Request,
		Result:           &auth.Quote.Result,
		Currency:         f.currency,
		RequestedAmount:  auth.Quote.Result.Total,
		AuthorizedAmount: &authorized,
		DeliveryType:     cart.DeliveryType,
		Order:            &order,
	}

	// Refused authorizations are still recorded: the gateway may hold funds.
	var refused error
	switch {
	case auth.TransactionID == "":
		refused = fmt.Errorf("commit requires an authorized transaction: %w", apperr.ErrInvalidInput)
	case auth.Amount != auth.Quote.Result.Total:
		refused = &apperr.AmountMismatchError{
			TransactionID: auth.TransactionID,
			Requested:     auth.Quote.Result.Total,
			Authorized:    auth.Amount,
		}
	}
	if refused != nil {
		util.RecordSpanError(span, refused)
		f.failures.LogFailure(ctx, auth.TransactionID, attempted, apperr.KindOf(refused), refused.Error())
		return Receipt{}, refused
	}

	orderID, err := f.orders.CreateOrder(ctx, order)
	if err != nil {
		commitErr := apperr.CommitFailed(auth.TransactionID, err)
		util.CommitFailedAfterPaymentTotal.Inc()
		util.RecordSpanError(span, commitErr)
		f.failures.LogFailure(ctx, auth.TransactionID, attempted, apperr.KindCommitFailedAfterPayment, commitErr.Error())
		return Receipt{}, commitErr
	}

	f.logger.Info("Order committed",
		zap.Int64("order_id", orderID),
		zap.String("transaction_id", auth.TransactionID),
		zap.Int64("total", order.Total),
	)
	f.sendConfirmation(ctx, models.ConfirmationEmailRequest{
		OrderID:       orderID,
		Email:         cart.Email,
		TransactionID: auth.TransactionID,
		Total:         order.Total,
		Currency:      f.currency,
	})

	return Receipt{
		OrderID:       orderID,
		TransactionID: auth.TransactionID,
		Total:         order.Total,
		Currency:      f.currency,
		Quote:         auth.Quote,
	}, nil
}

// sendConfirmation is fire-and-forget; a failure never touches the order.
func (f *Flow) sendConfirmation(ctx context.Context, req models.ConfirmationEmailRequest) {
	if f.mailer == nil {
		return
	}
	mailCtx := context.WithoutCancel(ctx)
	f.side.Add(1)
	go func() {
		defer f.side.Done()
		ctx, cancel := context.WithTimeout(mailCtx, confirmationTimeout)
		defer cancel()

		if err := f.mailer.SendOrderConfirmation(ctx, req); err != nil {
			f.logger.Error("Failed to request order confirmation",
				zap.Int64("order_id", req.OrderID),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until background side effects have finished.
func (f *Flow) Wait() {
	f.side.Wait()
	f.failures.Wait()
}
