package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/store"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// replaySource hands each message to the handler once, then returns. With
// retry set it wraps the handler like the Kafka consumer does.
type replaySource struct {
	messages []kafka.Message
	retry    *broker.RetryPolicy
	errs     []error
	closed   bool
}

func (s *replaySource) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	if s.retry != nil {
		handler = broker.WithRetry(handler, *s.retry, zap.NewNop())
	}
	for _, msg := range s.messages {
		s.errs = append(s.errs, handler(ctx, msg))
	}
	return nil
}

func (s *replaySource) Close() error {
	s.closed = true
	return nil
}

type memEvents map[string]bool

func (m memEvents) IsEventProcessed(_ context.Context, id string) (bool, error) { return m[id], nil }

func (m memEvents) MarkEventProcessed(_ context.Context, id, _ string) error {
	m[id] = true
	return nil
}

type noPayments struct{}

func (noPayments) CreatePayment(context.Context, *models.Payment) error { return nil }

func (noPayments) GetPaymentByTransactionID(context.Context, string) (*models.Payment, error) {
	return nil, store.ErrNotFound
}

type noOrders struct{}

func (noOrders) CreateOrderTx(context.Context, *models.Order, []models.OrderItem) error { return nil }

func (noOrders) GetOrderByID(context.Context, int64) (*models.Order, error) {
	return nil, store.ErrNotFound
}

func (noOrders) GetOrderByTransactionID(context.Context, string) (*models.Order, error) {
	return nil, nil
}

func (noOrders) GetOrderItemsByOrderID(context.Context, int64) ([]models.OrderItem, error) {
	return nil, nil
}

type noCustomers struct{}

func (noCustomers) GetCustomer(context.Context, string) (*models.Customer, error) {
	return nil, store.ErrNotFound
}

type inbox struct {
	sent []service.EmailMessage
}

func (i *inbox) Send(_ context.Context, msg service.EmailMessage) error {
	i.sent = append(i.sent, msg)
	return nil
}

func encode(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: raw}
}

func newReconciliation(events memEvents, mail *inbox) *service.ReconciliationService {
	emails := service.NewEmailService(noOrders{}, noCustomers{}, nil, mail)
	return service.NewReconciliationService(events, noPayments{}, noOrders{}, emails)
}

func TestNotificationWorkerSendsEachConfirmationOnce(t *testing.T) {
	events := memEvents{}
	mail := &inbox{}
	event := &models.ConfirmationRequestedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeConfirmationRequested),
		OrderID:   42,
		Email:     "ada@example.com",
		Total:     14500,
		Currency:  "USD",
	}
	other := &models.CheckoutFailedEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeCheckoutFailed),
		TransactionID: "T1",
		ErrorKind:     "rejected",
	}
	source := &replaySource{messages: []kafka.Message{encode(t, event), encode(t, event), encode(t, other)}}

	w := NewNotificationWorker(source, newReconciliation(events, mail))
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())

	assert.Equal(t, []error{nil, nil, nil}, source.errs)
	require.Len(t, mail.sent, 1)
	assert.Equal(t, "ada@example.com", mail.sent[0].To)
	assert.True(t, events[event.EventID])
	assert.False(t, events[other.EventID])
	assert.True(t, source.closed)
}

// flakyEvents fails the first lookup, like a dropped database connection.
type flakyEvents struct {
	memEvents
	failures int
}

func (f *flakyEvents) IsEventProcessed(ctx context.Context, id string) (bool, error) {
	if f.failures > 0 {
		f.failures--
		return false, errors.New("connection refused")
	}
	return f.memEvents.IsEventProcessed(ctx, id)
}

func TestReconciliationWorkerRetriesTransientFailure(t *testing.T) {
	events := &flakyEvents{memEvents: memEvents{}, failures: 1}
	failed := &models.CheckoutFailedEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeCheckoutFailed),
		TransactionID: "T1",
		ErrorKind:     "commit_failed_after_payment",
	}
	source := &replaySource{
		messages: []kafka.Message{encode(t, failed)},
		retry:    &broker.RetryPolicy{Attempts: 3, Backoff: time.Millisecond},
	}
	emails := service.NewEmailService(noOrders{}, noCustomers{}, nil, &inbox{})

	w := NewReconciliationWorker(source, service.NewReconciliationService(events, noPayments{}, noOrders{}, emails))
	require.NoError(t, w.Start(context.Background()))

	assert.Equal(t, []error{nil}, source.errs)
	assert.Zero(t, events.failures)
	assert.True(t, events.memEvents[failed.EventID])
}

func TestReconciliationWorkerMarksFailuresProcessed(t *testing.T) {
	events := memEvents{}
	failed := &models.CheckoutFailedEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeCheckoutFailed),
		TransactionID: "T1",
		ErrorKind:     "commit_failed_after_payment",
	}
	source := &replaySource{messages: []kafka.Message{encode(t, failed), {Value: []byte("not json")}}}

	w := NewReconciliationWorker(source, newReconciliation(events, &inbox{}))
	require.NoError(t, w.Start(context.Background()))

	require.Len(t, source.errs, 2)
	assert.NoError(t, source.errs[0])
	assert.ErrorIs(t, source.errs[1], broker.ErrUndecodable)
	assert.True(t, events[failed.EventID])
}
