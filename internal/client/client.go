// Package client talks JSON over HTTP to the back-office endpoints the
// storefront checkout depends on: pricing, payment, order creation, the
// failed-order sink and the confirmation e-mail trigger.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
)

const (
	defaultTimeout = 8 * time.Second
	identityHeader = "X-User-ID"
	maxErrorBody   = 512
)

// Client issues checkout calls against the back-office API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a client. Every request is bounded by timeout; a timeout
// surfaces as a network error.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type identityKey struct{}

// WithIdentity attaches the customer id sent with every request made with ctx.
func WithIdentity(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, identityKey{}, strings.TrimSpace(userID))
}

func identityFrom(ctx context.Context) string {
	id, _ := ctx.Value(identityKey{}).(string)
	return id
}

// CalculateTotal asks the pricing engine for the total of req.
func (c *Client) CalculateTotal(ctx context.Context, req models.PricingRequest) (models.PricingResult, error) {
	const op = "pricing"
	resp, body, err := c.post(ctx, op, []string{"pricing", "calculate-total"}, req)
	if err != nil {
		return models.PricingResult{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.PricingResult{}, statusError(op, resp.StatusCode, body)
	}

	var result models.PricingResult
	if err := json.Unmarshal(body, &result); err != nil {
		return models.PricingResult{}, fmt.Errorf("%s: %w: %v", op, apperr.ErrMalformedResponse, err)
	}
	return result, nil
}

// Authorize submits amount to the payment endpoint. A decline is reported
// as ErrAuthorizationDeclined; an answer we cannot read as ErrMalformedResponse.
// The caller checks the echoed amount.
func (c *Client) Authorize(ctx context.Context, req models.AuthorizeRequest) (models.AuthorizeResponse, error) {
	const op = "authorize"
	resp, body, err := c.post(ctx, op, []string{"payment", "authorize"}, req)
	if err != nil {
		return models.AuthorizeResponse{}, err
	}

	var payload models.AuthorizeResponse
	decodeErr := json.Unmarshal(body, &payload)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && !payload.Success && payload.Error != "" {
			return payload, fmt.Errorf("%s: status %d: %s: %w", op, resp.StatusCode, payload.Error, apperr.ErrAuthorizationDeclined)
		}
		return models.AuthorizeResponse{}, fmt.Errorf("%s: status %d: %s: %w", op, resp.StatusCode, drain(body), apperr.ErrMalformedResponse)
	}
	if decodeErr != nil {
		return models.AuthorizeResponse{}, fmt.Errorf("%s: %w: %v", op, apperr.ErrMalformedResponse, decodeErr)
	}
	if !payload.Success {
		return payload, fmt.Errorf("%s: %s: %w", op, defaultString(payload.Error, "declined"), apperr.ErrAuthorizationDeclined)
	}
	if strings.TrimSpace(payload.TransactionID) == "" {
		return models.AuthorizeResponse{}, fmt.Errorf("%s: missing transaction id: %w", op, apperr.ErrMalformedResponse)
	}
	return payload, nil
}

// CreateOrder submits the order after a successful authorization.
func (c *Client) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (int64, error) {
	const op = "create order"
	return c.postForID(ctx, op, []string{"orders", "create"}, req)
}

// RecordFailure writes a failure record to the failed-order sink.
func (c *Client) RecordFailure(ctx context.Context, req models.FailedOrderRequest) (int64, error) {
	const op = "record failure"
	return c.postForID(ctx, op, []string{"orders", "failed"}, req)
}

// SendOrderConfirmation triggers the confirmation e-mail for a committed order.
func (c *Client) SendOrderConfirmation(ctx context.Context, req models.ConfirmationEmailRequest) error {
	const op = "order confirmation"
	resp, body, err := c.post(ctx, op, []string{"email", "order-confirmation"}, req)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, resp.StatusCode, body)
	}
	return nil
}

func (c *Client) postForID(ctx context.Context, op string, path []string, payload any) (int64, error) {
	resp, body, err := c.post(ctx, op, path, payload)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, statusError(op, resp.StatusCode, body)
	}

	var out models.IDResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("%s: %w: %v", op, apperr.ErrMalformedResponse, err)
	}
	if out.ID == 0 {
		return 0, fmt.Errorf("%s: missing id: %w", op, apperr.ErrMalformedResponse)
	}
	return out.ID, nil
}

// post sends payload and returns the fully read body. Transport failures,
// including timeouts, come back wrapped in ErrNetwork.
func (c *Client) post(ctx context.Context, op string, path []string, payload any) (*http.Response, []byte, error) {
	endpoint, err := url.JoinPath(c.baseURL, path...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to marshal request: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if id := identityFrom(ctx); id != "" {
		httpReq.Header.Set(identityHeader, id)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if IsTimeout(err) {
			return nil, nil, fmt.Errorf("%s: timed out after %s: %w: %w", op, c.http.Timeout, apperr.ErrNetwork, err)
		}
		return nil, nil, fmt.Errorf("%s: %w: %w", op, apperr.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: reading body: %w: %w", op, apperr.ErrNetwork, err)
	}
	return resp, body, nil
}

type errorPayload struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func statusError(op string, code int, body []byte) error {
	var payload errorPayload
	msg := drain(body)
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
		if payload.Details != "" {
			msg += ": " + payload.Details
		}
	}
	return &apperr.StatusError{Op: op, Code: code, Message: msg}
}

func drain(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return strings.TrimSpace(string(body))
}

func defaultString(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return strings.TrimSpace(val)
}

// IsTimeout reports whether err came from a request deadline.
func IsTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
