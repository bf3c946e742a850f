package models

import (
	"encoding/json"
	"time"
)

// Delivery types
const (
	DeliveryTypeDelivery = "delivery"
	DeliveryTypePickup   = "pickup"
)

// PricingRequest is the immutable input of one pricing recalculation.
// All amounts are in minor currency units.
type PricingRequest struct {
	Subtotal     int64 `json:"subtotal"`
	Tax          int64 `json:"tax"`
	DeliveryCost int64 `json:"deliveryCost"`
}

// Discount is the server-granted reduction applied to the subtotal.
type Discount struct {
	Percentage float64 `json:"percentage"`
	Amount     int64   `json:"amount"`
}

// PricingResult is the pricing engine answer for a PricingRequest.
type PricingResult struct {
	Total    int64     `json:"total"`
	Discount *Discount `json:"discount,omitempty"`
}

// DiscountAmount returns the discount amount, zero when no discount applies.
func (r PricingResult) DiscountAmount() int64 {
	if r.Discount == nil {
		return 0
	}
	return r.Discount.Amount
}

// Address is a shipping address. Pickup orders carry none.
type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// CartItem is a line in the customer's cart.
type CartItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

// Customer is the identity the pricing engine evaluates eligibility for.
type Customer struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Payment represents an authorized (or declined) payment transaction
type Payment struct {
	ID            int64     `db:"id" json:"id"`
	TransactionID string    `db:"transaction_id" json:"transactionId"`
	UserID        string    `db:"user_id" json:"userId"`
	Amount        int64     `db:"amount" json:"amount"`
	Currency      string    `db:"currency" json:"currency"`
	Status        string    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// Order is the durable record created after a successful authorization.
type Order struct {
	ID                     int64           `db:"id" json:"id"`
	UserID                 string          `db:"user_id" json:"userId"`
	TransactionID          string          `db:"transaction_id" json:"transactionId"`
	Status                 string          `db:"status" json:"status"`
	SubtotalBeforeDiscount int64           `db:"subtotal_before_discount" json:"subtotalBeforeDiscount"`
	Subtotal               int64           `db:"subtotal" json:"subtotal"`
	DiscountPercentage     float64         `db:"discount_percentage" json:"discountPercentage"`
	DiscountAmount         int64           `db:"discount_amount" json:"discountAmount"`
	Tax                    int64           `db:"tax" json:"tax"`
	DeliveryCost           int64           `db:"delivery_cost" json:"deliveryCost"`
	Total                  int64           `db:"total" json:"total"`
	Currency               string          `db:"currency" json:"currency"`
	DeliveryType           string          `db:"delivery_type" json:"deliveryType"`
	PaymentMethod          string          `db:"payment_method" json:"paymentMethod"`
	ShippingAddress        json.RawMessage `db:"shipping_address" json:"shippingAddress"`
	CreatedAt              time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt              time.Time       `db:"updated_at" json:"updatedAt"`
}

// OrderItem represents items in an order
type OrderItem struct {
	ID        int64  `db:"id" json:"id"`
	OrderID   int64  `db:"order_id" json:"orderId"`
	ProductID string `db:"product_id" json:"productId"`
	Name      string `db:"name" json:"name"`
	Quantity  int    `db:"quantity" json:"quantity"`
	UnitPrice int64  `db:"unit_price" json:"unitPrice"`
}

// FailedOrderRecord is an audit entry for a checkout attempt that did not
// reach its success state. Records are never deleted automatically.
type FailedOrderRecord struct {
	ID            int64           `db:"id" json:"id"`
	TransactionID string          `db:"transaction_id" json:"transactionId"`
	OrderData     json.RawMessage `db:"order_data" json:"orderData"`
	ErrorKind     string          `db:"error_kind" json:"error"`
	ErrorDetails  string          `db:"error_details" json:"errorDetails"`
	Resolved      bool            `db:"resolved" json:"resolved"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
}

// Order statuses
const (
	OrderStatusConfirmed = "CONFIRMED"
)

// Payment statuses
const (
	PaymentStatusAuthorized = "AUTHORIZED"
	PaymentStatusDeclined   = "DECLINED"
	PaymentStatusCaptured   = "CAPTURED"
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
