package service

import (
	"context"
	"testing"

	"checkout-service/internal/apperr"
	"checkout-service/internal/broker"
	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newReconciliation(t *testing.T) (*ReconciliationService, *memDB, *recordingSender, *observer.ObservedLogs) {
	t.Helper()
	db := newMemDB()
	sender := &recordingSender{}
	emails := NewEmailService(db, &memCustomers{}, &recordingPublisher{}, sender)
	svc := NewReconciliationService(db, db, db, emails)
	core, logs := observer.New(zapcore.ErrorLevel)
	svc.logger = zap.New(core)
	return svc, db, sender, logs
}

func failedEvent(txID string, kind apperr.Kind) *models.CheckoutFailedEvent {
	return &models.CheckoutFailedEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeCheckoutFailed),
		FailureID:     1,
		TransactionID: txID,
		ErrorKind:     string(kind),
	}
}

func TestHandleCheckoutFailedAlertsOnOrphanedPayment(t *testing.T) {
	svc, db, _, logs := newReconciliation(t)
	authorizedPayment(t, db, "T1", 145)

	event := failedEvent("T1", apperr.KindCommitFailedAfterPayment)
	require.NoError(t, svc.HandleCheckoutFailed(context.Background(), event))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Contains(t, entry.Message, "refund")
	assert.Equal(t, int64(145), entry.ContextMap()["amount"])
	assert.True(t, db.processed[event.EventID])

	// Redelivery is a no-op.
	require.NoError(t, svc.HandleCheckoutFailed(context.Background(), event))
	assert.Equal(t, 1, logs.Len())
}

func TestHandleCheckoutFailedNoAlert(t *testing.T) {
	t.Run("order exists", func(t *testing.T) {
		svc, db, _, logs := newReconciliation(t)
		authorizedPayment(t, db, "T1", 145)
		db.payments["T1"].Status = models.PaymentStatusCaptured

		require.NoError(t, svc.HandleCheckoutFailed(context.Background(), failedEvent("T1", apperr.KindNetwork)))
		assert.Zero(t, logs.Len())
	})

	t.Run("payment never stored", func(t *testing.T) {
		svc, _, _, logs := newReconciliation(t)

		require.NoError(t, svc.HandleCheckoutFailed(context.Background(), failedEvent("T9", apperr.KindMalformedResponse)))
		assert.Zero(t, logs.Len())
	})

	t.Run("known outcome", func(t *testing.T) {
		svc, db, _, logs := newReconciliation(t)
		authorizedPayment(t, db, "T1", 145)

		require.NoError(t, svc.HandleCheckoutFailed(context.Background(), failedEvent("T1", apperr.KindAuthorizationFailed)))
		assert.Zero(t, logs.Len())
	})
}

func TestHandleCheckoutFailedPlaceholderAlerts(t *testing.T) {
	svc, _, _, logs := newReconciliation(t)

	require.NoError(t, svc.HandleCheckoutFailed(context.Background(), failedEvent("no-txn-abc", apperr.KindNetwork)))
	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "no transaction id")
}

func TestHandleCheckoutFailedStoreError(t *testing.T) {
	db := newMemDB()
	svc := NewReconciliationService(db, brokenPayments{}, db, nil)

	event := failedEvent("T1", apperr.KindCommitFailedAfterPayment)
	assert.ErrorIs(t, svc.HandleCheckoutFailed(context.Background(), event), errDB)
	assert.False(t, db.processed[event.EventID])
}

func TestHandleConfirmationRequestedOnce(t *testing.T) {
	svc, _, sender, _ := newReconciliation(t)
	event := &models.ConfirmationRequestedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeConfirmationRequested),
		OrderID:   7,
		Email:     "ada@example.com",
		Total:     100,
		Currency:  "USD",
	}

	require.NoError(t, svc.HandleConfirmationRequested(context.Background(), event))
	require.NoError(t, svc.HandleConfirmationRequested(context.Background(), event))
	assert.Len(t, sender.sent, 1)
}
