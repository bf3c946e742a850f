// Package checkout runs the storefront side of a purchase: it keeps one
// current pricing quote per cart, authorizes exactly that amount and commits
// the order only after the payment is confirmed.
package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/util"
)

// Pricer computes the total for a pricing request.
type Pricer interface {
	CalculateTotal(ctx context.Context, req models.PricingRequest) (models.PricingResult, error)
}

// Quote is a pricing result accepted for the latest issued token.
type Quote struct {
	Token   uint64                `json:"token"`
	Request models.PricingRequest `json:"request"`
	Result  models.PricingResult  `json:"result"`
}

// SubtotalAfterDiscount is the subtotal the customer pays before tax and delivery.
func (q Quote) SubtotalAfterDiscount() int64 {
	return q.Request.Subtotal - q.Result.DiscountAmount()
}

// Snapshot is a consistent view of the coordinator state.
type Snapshot struct {
	Phase   Phase
	Token   uint64
	Quote   *Quote
	Err     error
	Dropped uint64
}

// CoordinatorConfig tunes recalculation behaviour.
type CoordinatorConfig struct {
	// Debounce delays the pricing call so a burst of changes sends only the
	// last request. Zero sends immediately.
	Debounce time.Duration
	// Timeout bounds each pricing call.
	Timeout time.Duration
}

// Coordinator keeps exactly one current pricing computation per cart.
// Every request gets a fresh token; a response is applied only while its
// token is still the latest issued, otherwise it is dropped.
type Coordinator struct {
	pricer Pricer
	cfg    CoordinatorConfig
	logger *zap.Logger

	mu       sync.Mutex
	latest   uint64
	phase    Phase
	lastReq  *models.PricingRequest
	quote    *Quote
	err      error
	dropped  uint64
	settled  chan struct{}
	debounce *time.Timer
}

func NewCoordinator(pricer Pricer, cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{
		pricer:  pricer,
		cfg:     cfg,
		logger:  util.GetLogger(),
		phase:   PhaseIdle,
		settled: make(chan struct{}),
	}
}

// RequestRecalculation issues a pricing recalculation for req and returns
// its token. The call does not block. A request identical to the one
// already in flight or accepted is not sent again and keeps its token.
// ctx carries the caller identity; its cancellation does not abort the call.
func (c *Coordinator) RequestRecalculation(ctx context.Context, req models.PricingRequest) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastReq != nil && *c.lastReq == req && (c.phase == PhaseCalculating || c.phase == PhaseReady) {
		return c.latest
	}

	c.latest++
	token := c.latest
	reqCopy := req
	c.lastReq = &reqCopy
	c.phase = PhaseCalculating
	c.quote = nil
	c.err = nil

	// Wake anyone waiting on the superseded token so they pick up the new one.
	close(c.settled)
	c.settled = make(chan struct{})

	util.RecalculationsIssuedTotal.Inc()

	callCtx := context.WithoutCancel(ctx)
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	if c.cfg.Debounce > 0 {
		c.debounce = time.AfterFunc(c.cfg.Debounce, func() {
			if c.isLatest(token) {
				c.calculate(callCtx, token, req)
			}
		})
	} else {
		go c.calculate(callCtx, token, req)
	}
	return token
}

func (c *Coordinator) calculate(ctx context.Context, token uint64, req models.PricingRequest) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	ctx, span := util.StartSpan(ctx, "Coordinator.Calculate")
	defer span.End()

	result, err := c.pricer.CalculateTotal(ctx, req)
	if err == nil {
		err = verifyTotal(req, result)
	}
	util.RecordSpanError(span, err)
	c.settle(token, req, result, err)
}

// verifyTotal checks the server's arithmetic before the total is offered
// for payment.
func verifyTotal(req models.PricingRequest, res models.PricingResult) error {
	if res.Discount != nil && (res.Discount.Amount < 0 || res.Discount.Amount > req.Subtotal) {
		return fmt.Errorf("discount %d outside subtotal %d: %w", res.Discount.Amount, req.Subtotal, apperr.ErrMalformedResponse)
	}
	want := req.Subtotal - res.DiscountAmount() + req.Tax + req.DeliveryCost
	if res.Total != want {
		return fmt.Errorf("total %d does not add up to %d: %w", res.Total, want, apperr.ErrMalformedResponse)
	}
	return nil
}

func (c *Coordinator) settle(token uint64, req models.PricingRequest, result models.PricingResult, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if token != c.latest {
		c.dropped++
		util.StalePricingResponsesTotal.Inc()
		c.logger.Debug("Dropping stale pricing response",
			zap.Uint64("token", token),
			zap.Uint64("latest", c.latest),
		)
		return
	}

	if err != nil {
		c.phase = PhaseCalculationError
		c.quote = nil
		c.err = fmt.Errorf("%w: %w", apperr.ErrCalculation, err)
		c.logger.Warn("Pricing recalculation failed",
			zap.Uint64("token", token),
			zap.Error(err),
		)
	} else {
		c.phase = PhaseReady
		c.quote = &Quote{Token: token, Request: req, Result: result}
		c.err = nil
	}

	close(c.settled)
	c.settled = make(chan struct{})
}

func (c *Coordinator) isLatest(token uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return token == c.latest
}

// IsReadyForPayment is true only when the latest request has completed
// without error.
func (c *Coordinator) IsReadyForPayment() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyLocked()
}

func (c *Coordinator) readyLocked() bool {
	return c.phase == PhaseReady && c.err == nil && c.quote != nil && c.quote.Token == c.latest
}

// Quote returns the quote payment must use. It fails with
// ErrStillCalculating or ErrCalculation when the gate is closed.
func (c *Coordinator) Quote() (Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readyLocked() {
		return *c.quote, nil
	}
	if c.phase == PhaseCalculationError && c.err != nil {
		return Quote{}, c.err
	}
	return Quote{}, apperr.ErrStillCalculating
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Phase:   c.phase,
		Token:   c.latest,
		Err:     c.err,
		Dropped: c.dropped,
	}
	if c.quote != nil {
		q := *c.quote
		snap.Quote = &q
	}
	return snap
}

// Wait blocks until the latest request settles or ctx is done. It returns
// immediately when nothing is in flight.
func (c *Coordinator) Wait(ctx context.Context) (Snapshot, error) {
	for {
		c.mu.Lock()
		if c.phase != PhaseCalculating {
			c.mu.Unlock()
			return c.Snapshot(), nil
		}
		ch := c.settled
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		}
	}
}
