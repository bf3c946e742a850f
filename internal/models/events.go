package models

import "time"

// Event types
const (
	EventTypePaymentAuthorized     = "PAYMENT_AUTHORIZED"
	EventTypePaymentDeclined       = "PAYMENT_DECLINED"
	EventTypeOrderCommitted        = "ORDER_COMMITTED"
	EventTypeConfirmationRequested = "ORDER_CONFIRMATION_REQUESTED"
	EventTypeCheckoutFailed        = "CHECKOUT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentAuthorizedEvent published when the gateway authorizes an amount
type PaymentAuthorizedEvent struct {
	BaseEvent
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
}

// PaymentDeclinedEvent published when the gateway declines
type PaymentDeclinedEvent struct {
	BaseEvent
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// OrderCommittedEvent published once the order row exists
type OrderCommittedEvent struct {
	BaseEvent
	OrderID       int64  `json:"order_id"`
	UserID        string `json:"user_id"`
	TransactionID string `json:"transaction_id"`
	Total         int64  `json:"total"`
	Currency      string `json:"currency"`
	DeliveryType  string `json:"delivery_type"`
}

// ConfirmationRequestedEvent asks the notification worker to send a receipt e-mail
type ConfirmationRequestedEvent struct {
	BaseEvent
	OrderID       int64  `json:"order_id"`
	Email         string `json:"email"`
	TransactionID string `json:"transaction_id"`
	Total         int64  `json:"total"`
	Currency      string `json:"currency"`
}

// CheckoutFailedEvent mirrors a stored failure record for alerting
type CheckoutFailedEvent struct {
	BaseEvent
	FailureID     int64  `json:"failure_id"`
	TransactionID string `json:"transaction_id"`
	ErrorKind     string `json:"error_kind"`
	ErrorDetails  string `json:"error_details"`
}
