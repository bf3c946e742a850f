package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/checkout"
	"checkout-service/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// percentPricer grants 5% like the back office does for a new account.
// When hold is set every call blocks until it is closed.
type percentPricer struct {
	hold chan struct{}
}

func (p *percentPricer) CalculateTotal(ctx context.Context, req models.PricingRequest) (models.PricingResult, error) {
	if p.hold != nil {
		select {
		case <-p.hold:
		case <-ctx.Done():
			return models.PricingResult{}, ctx.Err()
		}
	}
	discount := req.Subtotal * 5 / 100
	res := models.PricingResult{Total: req.Subtotal - discount + req.Tax + req.DeliveryCost}
	if discount > 0 {
		res.Discount = &models.Discount{Percentage: 5, Amount: discount}
	}
	return res, nil
}

type gatewayStub struct {
	mu      sync.Mutex
	amounts []int64
	entered chan struct{}
	release chan struct{}
}

func (g *gatewayStub) Authorize(_ context.Context, req models.AuthorizeRequest) (models.AuthorizeResponse, error) {
	if g.entered != nil {
		g.entered <- struct{}{}
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.amounts = append(g.amounts, req.Amount)
	return models.AuthorizeResponse{Success: true, TransactionID: "txn_1", Amount: req.Amount}, nil
}

func (g *gatewayStub) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.amounts)
}

type ordersStub struct {
	mu   sync.Mutex
	reqs []models.CreateOrderRequest
	err  error
}

func (o *ordersStub) CreateOrder(_ context.Context, req models.CreateOrderRequest) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reqs = append(o.reqs, req)
	if o.err != nil {
		return 0, o.err
	}
	return 42, nil
}

type mailerStub struct{}

func (mailerStub) SendOrderConfirmation(context.Context, models.ConfirmationEmailRequest) error {
	return nil
}

type sinkStub struct {
	mu      sync.Mutex
	records []models.FailedOrderRequest
}

func (s *sinkStub) RecordFailure(_ context.Context, req models.FailedOrderRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, req)
	return int64(len(s.records)), nil
}

type storefront struct {
	pricer   *percentPricer
	gateway  *gatewayStub
	orders   *ordersStub
	sink     *sinkStub
	failures *checkout.FailureLogger
	flow     *checkout.Flow
	manager  *Manager
	router   *gin.Engine
}

func newStorefront(t *testing.T) *storefront {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sf := &storefront{
		pricer:  &percentPricer{},
		gateway: &gatewayStub{},
		orders:  &ordersStub{},
		sink:    &sinkStub{},
		router:  gin.New(),
	}
	sf.failures = checkout.NewFailureLogger(sf.sink, time.Second)
	sf.flow = checkout.NewFlow(sf.gateway, sf.orders, mailerStub{}, sf.failures, "USD")
	sf.manager = NewManager(sf.pricer, checkout.CoordinatorConfig{Timeout: time.Second}, PricingRules{DeliveryFee: 50})
	NewHandler(sf.manager, sf.flow, "USD").SetupRoutes(sf.router)
	t.Cleanup(func() {
		sf.flow.Wait()
		sf.failures.Wait()
	})
	return sf
}

func (sf *storefront) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Language", "en-US")
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	w := httptest.NewRecorder()
	sf.router.ServeHTTP(w, req)
	return w
}

// openCart creates a session for user-1 with 2×50 delivered to an address.
func (sf *storefront) openCart(t *testing.T) string {
	t.Helper()
	w := sf.do(t, http.MethodPost, "/api/v1/sessions", "user-1", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := created.SessionID

	w = sf.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/cart", "user-1", cartRequest{
		Items: []models.CartItem{{ProductID: "sku-1", Name: "Mug", Quantity: 2, UnitPrice: 50}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = sf.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/delivery", "user-1", deliveryRequest{
		DeliveryType: models.DeliveryTypeDelivery,
		Address:      &models.Address{Name: "Ada", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	return id
}

func (sf *storefront) status(t *testing.T, id string) Status {
	t.Helper()
	w := sf.do(t, http.MethodGet, "/api/v1/sessions/"+id+"?wait=true", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	return st
}

func TestPricingRulesRequest(t *testing.T) {
	rules := PricingRules{TaxRateBps: 800, DeliveryFee: 50}
	items := []models.CartItem{
		{ProductID: "a", Quantity: 2, UnitPrice: 50},
		{ProductID: "b", Quantity: 1, UnitPrice: 25},
	}

	assert.Equal(t, models.PricingRequest{Subtotal: 125, Tax: 10, DeliveryCost: 50}, rules.Request(items, models.DeliveryTypeDelivery))
	assert.Equal(t, models.PricingRequest{Subtotal: 125, Tax: 10}, rules.Request(items, models.DeliveryTypePickup))

	half := PricingRules{TaxRateBps: 50}
	assert.Equal(t, int64(1), half.Request([]models.CartItem{{ProductID: "a", Quantity: 1, UnitPrice: 100}}, models.DeliveryTypePickup).Tax)
	assert.Equal(t, models.PricingRequest{}, rules.Request(nil, models.DeliveryTypePickup))
}

func TestStatusShowsQuoteAndLabel(t *testing.T) {
	sf := newStorefront(t)
	id := sf.openCart(t)

	st := sf.status(t, id)
	assert.Equal(t, checkout.PhaseReady, st.Phase)
	require.NotNil(t, st.Quote)
	assert.Equal(t, int64(145), st.Quote.Result.Total)
	assert.Equal(t, int64(5), st.Quote.Result.DiscountAmount())
	assert.True(t, st.ButtonEnabled)
	assert.Contains(t, st.ButtonLabel, "Proceed to Payment (")
	assert.Contains(t, st.ButtonLabel, "1.45")

	// Pickup drops the delivery fee.
	w := sf.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/delivery", "user-1", deliveryRequest{DeliveryType: models.DeliveryTypePickup})
	require.Equal(t, http.StatusOK, w.Code)
	st = sf.status(t, id)
	require.NotNil(t, st.Quote)
	assert.Equal(t, int64(95), st.Quote.Result.Total)
	require.NotNil(t, st.Address)
}

func TestNewSessionIsIdle(t *testing.T) {
	sf := newStorefront(t)
	w := sf.do(t, http.MethodPost, "/api/v1/sessions", "user-1", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	st := sf.status(t, created.SessionID)
	assert.Equal(t, checkout.PhaseIdle, st.Phase)
	assert.Equal(t, checkout.LabelIdle, st.ButtonLabel)
	assert.False(t, st.ButtonEnabled)
}

func TestCheckoutCommitsAndClearsCart(t *testing.T) {
	sf := newStorefront(t)
	id := sf.openCart(t)
	sf.status(t, id)

	w := sf.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/contact", "user-1", contactRequest{Email: "ada@example.com"})
	require.Equal(t, http.StatusOK, w.Code)

	w = sf.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/checkout", "user-1", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var receipt checkout.Receipt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
	assert.Equal(t, int64(42), receipt.OrderID)
	assert.Equal(t, "txn_1", receipt.TransactionID)
	assert.Equal(t, int64(145), receipt.Total)

	assert.Equal(t, []int64{145}, sf.gateway.amounts)
	require.Len(t, sf.orders.reqs, 1)
	assert.Equal(t, int64(145), sf.orders.reqs[0].Total)
	assert.Equal(t, "txn_1", sf.orders.reqs[0].TransactionID)

	st := sf.status(t, id)
	assert.Empty(t, st.Items)
	assert.Equal(t, checkout.PhaseCommitted, st.CheckoutPhase)
	require.NotNil(t, st.LastReceipt)
	assert.Equal(t, int64(42), st.LastReceipt.OrderID)
}

func TestCheckoutCommitFailureKeepsCartAndLocksSession(t *testing.T) {
	sf := newStorefront(t)
	sf.orders.err = &apperr.StatusError{Op: "orders.create", Code: http.StatusInternalServerError}
	id := sf.openCart(t)
	sf.status(t, id)

	w := sf.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/checkout", "user-1", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(apperr.KindCommitFailedAfterPayment), body["kind"])
	assert.Contains(t, body["error"], "contact support")

	st := sf.status(t, id)
	assert.Len(t, st.Items, 1)
	assert.Equal(t, checkout.PhaseCommitFailedAfterPayment, st.CheckoutPhase)
	assert.False(t, st.ButtonEnabled)

	// Paying again could charge twice.
	w = sf.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/checkout", "user-1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 1, sf.gateway.calls())

	sf.failures.Wait()
	sf.sink.mu.Lock()
	defer sf.sink.mu.Unlock()
	require.Len(t, sf.sink.records, 1)
	assert.Equal(t, "txn_1", sf.sink.records[0].TransactionID)
	assert.Equal(t, string(apperr.KindCommitFailedAfterPayment), sf.sink.records[0].Error)
}

func TestCheckoutWhileCalculating(t *testing.T) {
	sf := newStorefront(t)
	sf.pricer.hold = make(chan struct{})
	id := sf.openCart(t)

	w := sf.do(t, http.MethodGet, "/api/v1/sessions/"+id, "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, checkout.PhaseCalculating, st.Phase)
	assert.Equal(t, checkout.LabelCalculating, st.ButtonLabel)
	assert.False(t, st.ButtonEnabled)

	w = sf.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/checkout", "user-1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, sf.gateway.calls())

	close(sf.pricer.hold)
	st = sf.status(t, id)
	assert.Equal(t, checkout.PhaseReady, st.Phase)
	assert.Len(t, st.Items, 1)
}

func TestConcurrentCheckoutIsRejected(t *testing.T) {
	sf := newStorefront(t)
	sf.gateway.entered = make(chan struct{})
	sf.gateway.release = make(chan struct{})
	id := sf.openCart(t)
	sf.status(t, id)

	done := make(chan int)
	go func() {
		w := sf.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/checkout", "user-1", nil)
		done <- w.Code
	}()
	<-sf.gateway.entered

	w := sf.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/checkout", "user-1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = sf.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/cart", "user-1", cartRequest{})
	assert.Equal(t, http.StatusConflict, w.Code)

	close(sf.gateway.release)
	assert.Equal(t, http.StatusCreated, <-done)
}

func TestSessionOwnership(t *testing.T) {
	sf := newStorefront(t)
	id := sf.openCart(t)

	w := sf.do(t, http.MethodGet, "/api/v1/sessions/"+id, "user-2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = sf.do(t, http.MethodGet, "/api/v1/sessions/nope", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInvalidCartAndDelivery(t *testing.T) {
	sf := newStorefront(t)
	id := sf.openCart(t)

	w := sf.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/cart", "user-1", cartRequest{
		Items: []models.CartItem{{ProductID: "sku-1", Quantity: 0, UnitPrice: 50}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = sf.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/delivery", "user-1", deliveryRequest{DeliveryType: "drone"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEmptyCartCannotCheckout(t *testing.T) {
	sf := newStorefront(t)
	id := sf.openCart(t)

	w := sf.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/cart", "user-1", cartRequest{})
	require.Equal(t, http.StatusOK, w.Code)
	sf.status(t, id)

	w = sf.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/checkout", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, sf.gateway.calls())
}

func TestManagerSweep(t *testing.T) {
	m := NewManager(&percentPricer{}, checkout.CoordinatorConfig{}, PricingRules{})
	idle := m.Create("user-1")
	fresh := m.Create("user-2")

	idle.mu.Lock()
	idle.lastActive = time.Now().Add(-2 * time.Hour)
	idle.mu.Unlock()

	assert.Equal(t, 1, m.Sweep(time.Hour))
	assert.Equal(t, 1, m.Len())

	_, err := m.Get(idle.ID, "user-1")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	_, err = m.Get(fresh.ID, "user-2")
	assert.NoError(t, err)
}
