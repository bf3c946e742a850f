package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PricingRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_requests_total",
		Help: "Total number of pricing calculations by outcome",
	}, []string{"outcome"})

	DiscountsGrantedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_discounts_granted_total",
		Help: "Total number of pricing results carrying a discount",
	})

	PricingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricing_latency_seconds",
		Help:    "Latency of pricing calculations",
		Buckets: prometheus.DefBuckets,
	})

	RecalculationsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_recalculations_issued_total",
		Help: "Total number of pricing recalculations issued by storefront sessions",
	})

	StalePricingResponsesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_stale_pricing_responses_total",
		Help: "Total number of pricing responses dropped because a newer recalculation was issued",
	})

	PaymentAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment authorization attempts",
	})

	PaymentSuccessTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_success_total",
		Help: "Total number of authorized payments",
	})

	PaymentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of failed payment authorizations",
	}, []string{"reason"})

	AmountMismatchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_amount_mismatch_total",
		Help: "Total number of authorizations rejected because the echoed amount differed",
	})

	PaymentProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_processing_latency_seconds",
		Help:    "Latency of payment authorization",
		Buckets: prometheus.DefBuckets,
	})

	OrdersCommittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_committed_total",
		Help: "Total number of orders committed after payment",
	})

	OrdersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_rejected_total",
		Help: "Total number of order creation requests rejected",
	}, []string{"reason"})

	CommitFailedAfterPaymentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_commit_failed_after_payment_total",
		Help: "Total number of checkouts whose payment succeeded but order commit failed",
	})

	FailureRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_failure_records_total",
		Help: "Total number of failure records by error kind",
	}, []string{"kind"})

	FailureLogErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_failure_log_errors_total",
		Help: "Total number of failure records that could not be delivered to the sink",
	})

	ReconciliationAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_reconciliation_alerts_total",
		Help: "Total number of failures that need an operator to refund or recreate an order",
	}, []string{"kind"})

	ConfirmationEmailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_confirmation_emails_total",
		Help: "Total number of order confirmation e-mails by outcome",
	}, []string{"outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
