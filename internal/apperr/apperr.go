// Package apperr defines the checkout error taxonomy.
//
// Each failure class has a sentinel so callers can branch with errors.Is,
// and Kind gives operators a stable triage label without reading messages.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the triage label stored with failure records.
type Kind string

const (
	KindNone                     Kind = ""
	KindStillCalculating         Kind = "still_calculating"
	KindCalculation              Kind = "calculation_error"
	KindAmountMismatch           Kind = "amount_mismatch"
	KindAuthorizationFailed      Kind = "authorization_failed"
	KindNetwork                  Kind = "network_error"
	KindMalformedResponse        Kind = "malformed_response"
	KindCommitFailedAfterPayment Kind = "commit_failed_after_payment"
	KindRejected                 Kind = "rejected"
	KindInvalidInput             Kind = "invalid_input"
	KindInternal                 Kind = "internal"
)

var (
	ErrStillCalculating         = errors.New("total is still being calculated")
	ErrCalculation              = errors.New("unable to calculate total")
	ErrAmountMismatch           = errors.New("authorized amount does not match requested amount")
	ErrAuthorizationDeclined    = errors.New("payment authorization declined")
	ErrNetwork                  = errors.New("network failure")
	ErrMalformedResponse        = errors.New("malformed response")
	ErrCommitFailedAfterPayment = errors.New("payment succeeded but order creation failed")
	ErrInvalidInput             = errors.New("invalid input")
	ErrRejected                 = errors.New("request rejected")
)

// StatusError is a non-2xx answer from a collaborator endpoint.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrRejected
}

// AmountMismatchError carries both values so the failure record shows what
// was sent and what the gateway claims it authorized.
type AmountMismatchError struct {
	TransactionID string
	Requested     int64
	Authorized    int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("authorized amount %d does not match requested amount %d (transaction %s)",
		e.Authorized, e.Requested, e.TransactionID)
}

func (e *AmountMismatchError) Is(target error) bool {
	return target == ErrAmountMismatch
}

// CommitFailed wraps an order-creation failure that happened after a
// confirmed authorization. The cause stays reachable through errors.Is.
func CommitFailed(transactionID string, cause error) error {
	return fmt.Errorf("%w (transaction %s): %w", ErrCommitFailedAfterPayment, transactionID, cause)
}

// KindOf classifies err. CommitFailedAfterPayment wins over its cause.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrCommitFailedAfterPayment):
		return KindCommitFailedAfterPayment
	case errors.Is(err, ErrStillCalculating):
		return KindStillCalculating
	case errors.Is(err, ErrCalculation):
		return KindCalculation
	case errors.Is(err, ErrAmountMismatch):
		return KindAmountMismatch
	case errors.Is(err, ErrAuthorizationDeclined):
		return KindAuthorizationFailed
	case errors.Is(err, ErrMalformedResponse):
		return KindMalformedResponse
	case errors.Is(err, ErrNetwork),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindNetwork
	case errors.Is(err, ErrRejected):
		return KindRejected
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	default:
		return KindInternal
	}
}

// OutcomeUnknown reports whether the remote side may have acted even though
// we saw a failure, which makes the record mandatory reading for an operator.
func OutcomeUnknown(kind Kind) bool {
	switch kind {
	case KindNetwork, KindMalformedResponse, KindCommitFailedAfterPayment:
		return true
	}
	return false
}

// RequiresSupport reports whether money may have moved, so the user must
// not be told to retry.
func RequiresSupport(err error) bool {
	return errors.Is(err, ErrCommitFailedAfterPayment)
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNone:
		return http.StatusOK
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindStillCalculating:
		return http.StatusConflict
	case KindAuthorizationFailed, KindAmountMismatch:
		return http.StatusPaymentRequired
	case KindCalculation, KindNetwork, KindMalformedResponse, KindRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage is the copy shown to the customer for err.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindNone:
		return ""
	case KindStillCalculating:
		return "We are still calculating your total. Please wait a moment."
	case KindCalculation:
		return "We could not calculate your total. Please refresh and try again."
	case KindAmountMismatch:
		return "The payment amount could not be verified, so no order was placed. Please try again."
	case KindAuthorizationFailed:
		return "Your payment was declined. No money was taken; please check your details and try again."
	case KindNetwork, KindMalformedResponse:
		return "We could not confirm your payment. Please do not pay again; contact support if you see a charge."
	case KindCommitFailedAfterPayment:
		return "Your payment went through but we could not create your order. Please contact support with your transaction reference; do not retry, as you may be charged twice."
	default:
		return "Something went wrong. Please try again."
	}
}
