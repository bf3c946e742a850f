package models

// AuthorizeRequest is the body of POST /payment/authorize.
type AuthorizeRequest struct {
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency" binding:"required"`
	Subtotal     int64  `json:"subtotal"`
	Tax          int64  `json:"tax"`
	DeliveryCost int64  `json:"deliveryCost"`
}

// AuthorizeResponse echoes the authorized amount. The echoed amount is the
// source of truth for what was charged.
type AuthorizeResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	Error         string `json:"error,omitempty"`
}

// OrderMetadata tags an order with how it was paid and fulfilled.
type OrderMetadata struct {
	PaymentMethod string `json:"paymentMethod"`
	DeliveryType  string `json:"deliveryType"`
}

// CreateOrderRequest is the body of POST /orders/create.
type CreateOrderRequest struct {
	Items                  []CartItem    `json:"items" binding:"required,min=1"`
	ShippingAddress        *Address      `json:"shippingAddress"`
	SubtotalBeforeDiscount int64         `json:"subtotalBeforeDiscount"`
	Subtotal               int64         `json:"subtotal"`
	Discount               *Discount     `json:"discount,omitempty"`
	Tax                    int64         `json:"tax"`
	DeliveryCost           int64         `json:"deliveryCost"`
	Total                  int64         `json:"total"`
	Currency               string        `json:"currency"`
	TransactionID          string        `json:"transactionId" binding:"required"`
	Metadata               OrderMetadata `json:"metadata"`
}

// CreateOrderResponse is returned by POST /orders/create.
type CreateOrderResponse struct {
	ID int64 `json:"id"`
}

// AttemptedOrder is the context stored with a failure record so an operator
// can refund or recreate the order by hand.
type AttemptedOrder struct {
	Pricing          PricingRequest      `json:"pricing"`
	Result           *PricingResult      `json:"result,omitempty"`
	Currency         string              `json:"currency"`
	RequestedAmount  int64               `json:"requestedAmount"`
	AuthorizedAmount *int64              `json:"authorizedAmount,omitempty"`
	DeliveryType     string              `json:"deliveryType,omitempty"`
	Order            *CreateOrderRequest `json:"order,omitempty"`
}

// FailedOrderRequest is the body of POST /orders/failed.
type FailedOrderRequest struct {
	TransactionID string         `json:"transactionId" binding:"required"`
	OrderData     AttemptedOrder `json:"orderData"`
	Error         string         `json:"error" binding:"required"`
	ErrorDetails  string         `json:"errorDetails"`
}

// ConfirmationEmailRequest is the body of POST /email/order-confirmation.
type ConfirmationEmailRequest struct {
	OrderID       int64  `json:"orderId" binding:"required"`
	Email         string `json:"email"`
	TransactionID string `json:"transactionId"`
	Total         int64  `json:"total"`
	Currency      string `json:"currency"`
}

// IDResponse is the generic {id} answer of the write endpoints.
type IDResponse struct {
	ID int64 `json:"id"`
}
