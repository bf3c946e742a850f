package checkout

import (
	"context"
	"errors"
	"sync"

	"checkout-service/internal/models"
)

// pricerFunc adapts a function to Pricer and counts calls.
type pricerFunc struct {
	mu    sync.Mutex
	calls []models.PricingRequest
	fn    func(ctx context.Context, req models.PricingRequest) (models.PricingResult, error)
}

func (p *pricerFunc) CalculateTotal(ctx context.Context, req models.PricingRequest) (models.PricingResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()
	return p.fn(ctx, req)
}

func (p *pricerFunc) Calls() []models.PricingRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.PricingRequest, len(p.calls))
	copy(out, p.calls)
	return out
}

// fivePercent prices like the back office with an eligible customer.
func fivePercent(_ context.Context, req models.PricingRequest) (models.PricingResult, error) {
	discount := req.Subtotal * 5 / 100
	res := models.PricingResult{Total: req.Subtotal - discount + req.Tax + req.DeliveryCost}
	if discount > 0 {
		res.Discount = &models.Discount{Percentage: 5, Amount: discount}
	}
	return res, nil
}

type staticGate struct {
	quote Quote
	err   error
}

func (g staticGate) Quote() (Quote, error) { return g.quote, g.err }

type fakePayments struct {
	mu    sync.Mutex
	reqs  []models.AuthorizeRequest
	resp  models.AuthorizeResponse
	err   error
	echo  *int64
	calls int
}

func (f *fakePayments) Authorize(_ context.Context, req models.AuthorizeRequest) (models.AuthorizeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return f.resp, f.err
	}
	resp := f.resp
	resp.Success = true
	resp.Amount = req.Amount
	if f.echo != nil {
		resp.Amount = *f.echo
	}
	return resp, nil
}

type fakeOrders struct {
	mu    sync.Mutex
	reqs  []models.CreateOrderRequest
	id    int64
	err   error
	calls int
}

func (f *fakeOrders) CreateOrder(_ context.Context, req models.CreateOrderRequest) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return 0, f.err
	}
	return f.id, nil
}

type fakeSink struct {
	mu      sync.Mutex
	records []models.FailedOrderRequest
	err     error
	panics  bool
}

func (f *fakeSink) RecordFailure(_ context.Context, req models.FailedOrderRequest) (int64, error) {
	if f.panics {
		panic("sink exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, req)
	if f.err != nil {
		return 0, f.err
	}
	return int64(len(f.records)), nil
}

func (f *fakeSink) Records() []models.FailedOrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.FailedOrderRequest, len(f.records))
	copy(out, f.records)
	return out
}

type fakeMailer struct {
	mu   sync.Mutex
	reqs []models.ConfirmationEmailRequest
	err  error
}

func (f *fakeMailer) SendOrderConfirmation(_ context.Context, req models.ConfirmationEmailRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.err
}

var errBoom = errors.New("boom")
