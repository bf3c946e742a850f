package service

import (
	"context"
	"errors"
	"fmt"

	"checkout-service/internal/apperr"
	"checkout-service/internal/broker"
	"checkout-service/internal/checkout"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/text/language"
)

// EmailMessage is a rendered e-mail.
type EmailMessage struct {
	To      string
	Subject string
	Body    string
}

// EmailSender delivers rendered e-mail.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// LogEmailSender writes e-mails to the log instead of delivering them.
type LogEmailSender struct {
	logger *zap.Logger
}

func NewLogEmailSender() *LogEmailSender {
	return &LogEmailSender{logger: util.GetLogger()}
}

func (s *LogEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.logger.Info("Sending e-mail",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body))
	return nil
}

// EmailService queues and sends order confirmation e-mails.
type EmailService struct {
	orders    OrderStore
	customers CustomerStore
	publisher Publisher
	sender    EmailSender
	logger    *zap.Logger
}

// NewEmailService creates a new e-mail service
func NewEmailService(orders OrderStore, customers CustomerStore, publisher Publisher, sender EmailSender) *EmailService {
	return &EmailService{
		orders:    orders,
		customers: customers,
		publisher: publisher,
		sender:    sender,
		logger:    util.GetLogger(),
	}
}

// RequestOrderConfirmation queues a confirmation for a committed order. The
// order must exist; the e-mail is sent by the notification worker.
func (s *EmailService) RequestOrderConfirmation(ctx context.Context, req models.ConfirmationEmailRequest) error {
	ctx, span := util.StartSpan(ctx, "EmailService.RequestOrderConfirmation")
	defer span.End()

	if req.OrderID <= 0 {
		return fmt.Errorf("orderId is required: %w", apperr.ErrInvalidInput)
	}
	order, err := s.orders.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("order %d: %w", req.OrderID, ErrNotFound)
		}
		return err
	}

	event := &models.ConfirmationRequestedEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeConfirmationRequested),
		OrderID:       order.ID,
		Email:         req.Email,
		TransactionID: order.TransactionID,
		Total:         order.Total,
		Currency:      order.Currency,
	}
	if err := s.publisher.PublishConfirmationRequested(ctx, event); err != nil {
		util.ConfirmationEmailsTotal.WithLabelValues("enqueue_failed").Inc()
		util.RecordSpanError(span, err)
		return fmt.Errorf("failed to queue confirmation: %w", err)
	}

	util.ConfirmationEmailsTotal.WithLabelValues("queued").Inc()
	return nil
}

// SendOrderConfirmation renders and sends the confirmation for event.
func (s *EmailService) SendOrderConfirmation(ctx context.Context, event *models.ConfirmationRequestedEvent) error {
	ctx, span := util.StartSpan(ctx, "EmailService.SendOrderConfirmation")
	defer span.End()

	to := event.Email
	if to == "" {
		order, err := s.orders.GetOrderByID(ctx, event.OrderID)
		if err != nil {
			return fmt.Errorf("failed to load order: %w", err)
		}
		if order.UserID != "" {
			customer, err := s.customers.GetCustomer(ctx, order.UserID)
			if err != nil && !isNotFound(err) {
				return fmt.Errorf("failed to load customer: %w", err)
			}
			if customer != nil {
				to = customer.Email
			}
		}
	}
	if to == "" {
		util.ConfirmationEmailsTotal.WithLabelValues("no_recipient").Inc()
		s.logger.Warn("No recipient for order confirmation", zap.Int64("order_id", event.OrderID))
		return nil
	}

	msg := EmailMessage{
		To:      to,
		Subject: fmt.Sprintf("Your order #%d is confirmed", event.OrderID),
		Body: fmt.Sprintf("Thank you for your order.\nOrder: #%d\nTotal: %s\nPayment reference: %s\n",
			event.OrderID, checkout.FormatAmount(event.Total, event.Currency, language.English), event.TransactionID),
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		util.ConfirmationEmailsTotal.WithLabelValues("failed").Inc()
		util.RecordSpanError(span, err)
		return fmt.Errorf("failed to send confirmation: %w", err)
	}

	util.ConfirmationEmailsTotal.WithLabelValues("sent").Inc()
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, store.ErrNotFound)
}
