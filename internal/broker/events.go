package broker

import (
	"context"
	"errors"
	"encoding/json"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventProducer writes a keyed event to the checkout topic.
type EventProducer interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer EventProducer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer EventProducer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// NewBaseEvent stamps a fresh event id and time.
func NewBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

func transactionKey(id string) string {
	return "txn-" + id
}

// PublishPaymentAuthorized publishes PaymentAuthorized event
func (ep *EventPublisher) PublishPaymentAuthorized(ctx context.Context, event *models.PaymentAuthorizedEvent) error {
	return ep.producer.PublishEvent(ctx, transactionKey(event.TransactionID), event)
}

// PublishPaymentDeclined publishes PaymentDeclined event
func (ep *EventPublisher) PublishPaymentDeclined(ctx context.Context, event *models.PaymentDeclinedEvent) error {
	return ep.producer.PublishEvent(ctx, "user-"+event.UserID, event)
}

// PublishOrderCommitted publishes OrderCommitted event keyed by transaction,
// so it follows the PaymentAuthorized event for the same payment.
func (ep *EventPublisher) PublishOrderCommitted(ctx context.Context, event *models.OrderCommittedEvent) error {
	return ep.producer.PublishEvent(ctx, transactionKey(event.TransactionID), event)
}

// PublishConfirmationRequested publishes ConfirmationRequested event
func (ep *EventPublisher) PublishConfirmationRequested(ctx context.Context, event *models.ConfirmationRequestedEvent) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("order-%d", event.OrderID), event)
}

// PublishCheckoutFailed publishes CheckoutFailed event
func (ep *EventPublisher) PublishCheckoutFailed(ctx context.Context, event *models.CheckoutFailedEvent) error {
	return ep.producer.PublishEvent(ctx, transactionKey(event.TransactionID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrderCommitted        func(context.Context, *models.OrderCommittedEvent) error
	onConfirmationRequested func(context.Context, *models.ConfirmationRequestedEvent) error
	onCheckoutFailed        func(context.Context, *models.CheckoutFailedEvent) error
	logger                  *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderCommitted registers a handler for OrderCommitted events
func (eh *EventHandler) OnOrderCommitted(handler func(context.Context, *models.OrderCommittedEvent) error) {
	eh.onOrderCommitted = handler
}

// OnConfirmationRequested registers a handler for ConfirmationRequested events
func (eh *EventHandler) OnConfirmationRequested(handler func(context.Context, *models.ConfirmationRequestedEvent) error) {
	eh.onConfirmationRequested = handler
}

// OnCheckoutFailed registers a handler for CheckoutFailed events
func (eh *EventHandler) OnCheckoutFailed(handler func(context.Context, *models.CheckoutFailedEvent) error) {
	eh.onCheckoutFailed = handler
}

// ErrUndecodable marks a message that no retry can fix.
var ErrUndecodable = errors.New("undecodable event")

// HandleMessage routes messages to appropriate handlers. Events nobody
// registered for are skipped so they get committed.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w: %w", ErrUndecodable, err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID),
	)

	switch baseEvent.EventType {
	case models.EventTypeOrderCommitted:
		if eh.onOrderCommitted != nil {
			var event models.OrderCommittedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderCommitted event: %w: %w", ErrUndecodable, err)
			}
			return eh.onOrderCommitted(ctx, &event)
		}

	case models.EventTypeConfirmationRequested:
		if eh.onConfirmationRequested != nil {
			var event models.ConfirmationRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ConfirmationRequested event: %w: %w", ErrUndecodable, err)
			}
			return eh.onConfirmationRequested(ctx, &event)
		}

	case models.EventTypeCheckoutFailed:
		if eh.onCheckoutFailed != nil {
			var event models.CheckoutFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal CheckoutFailed event: %w: %w", ErrUndecodable, err)
			}
			return eh.onCheckoutFailed(ctx, &event)
		}
	}

	return nil
}
