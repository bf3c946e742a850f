package checkout

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/util"
)

// PlaceholderPrefix marks transaction ids synthesized for attempts that
// never received one from the gateway.
const PlaceholderPrefix = "no-txn-"

const defaultSinkTimeout = 5 * time.Second

// FailureSink stores failure records for manual reconciliation.
type FailureSink interface {
	RecordFailure(ctx context.Context, req models.FailedOrderRequest) (int64, error)
}

// FailureLogger writes failure records in the background. Logging never
// blocks the caller and its own failures are only logged.
type FailureLogger struct {
	sink    FailureSink
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewFailureLogger(sink FailureSink, timeout time.Duration) *FailureLogger {
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	return &FailureLogger{
		sink:    sink,
		timeout: timeout,
		logger:  util.GetLogger(),
	}
}

// PlaceholderTransactionID returns a fresh, clearly marked placeholder id.
func PlaceholderTransactionID() string {
	return PlaceholderPrefix + uuid.NewString()
}

// IsPlaceholder reports whether id was synthesized by PlaceholderTransactionID.
func IsPlaceholder(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

// LogFailure records a failed attempt. An empty transactionID is replaced
// by a placeholder. The returned id is the one the record is stored under.
func (l *FailureLogger) LogFailure(ctx context.Context, transactionID string, data models.AttemptedOrder, kind apperr.Kind, detail string) string {
	if strings.TrimSpace(transactionID) == "" {
		transactionID = PlaceholderTransactionID()
	}
	util.FailureRecordsTotal.WithLabelValues(string(kind)).Inc()

	fields := []zap.Field{
		zap.String("transaction_id", transactionID),
		zap.String("error_kind", string(kind)),
		zap.String("error_details", detail),
		zap.Int64("requested_amount", data.RequestedAmount),
	}
	if apperr.OutcomeUnknown(kind) {
		l.logger.Error("Checkout failed with unknown outcome; manual reconciliation required", fields...)
	} else {
		l.logger.Warn("Checkout attempt failed", fields...)
	}

	req := models.FailedOrderRequest{
		TransactionID: transactionID,
		OrderData:     data,
		Error:         string(kind),
		ErrorDetails:  detail,
	}

	sinkCtx := context.WithoutCancel(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				util.FailureLogErrorsTotal.Inc()
				l.logger.Error("Failure sink panicked", zap.Any("panic", r), zap.String("transaction_id", transactionID))
			}
		}()

		ctx, cancel := context.WithTimeout(sinkCtx, l.timeout)
		defer cancel()

		id, err := l.sink.RecordFailure(ctx, req)
		if err != nil {
			util.FailureLogErrorsTotal.Inc()
			l.logger.Error("Failed to record checkout failure",
				zap.String("transaction_id", transactionID),
				zap.String("error_kind", string(kind)),
				zap.Error(err),
			)
			return
		}
		l.logger.Info("Checkout failure recorded",
			zap.Int64("failure_id", id),
			zap.String("transaction_id", transactionID),
		)
	}()

	return transactionID
}

// Wait blocks until every pending record has been delivered or given up on.
func (l *FailureLogger) Wait() {
	l.wg.Wait()
}
