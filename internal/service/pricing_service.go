package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// sharedPricingTimeout bounds a calculation shared by concurrent callers.
const sharedPricingTimeout = 5 * time.Second

// PricingRules configures the discount the pricing engine grants.
type PricingRules struct {
	DiscountPercentage float64
	// EligibilityWindow is how long after sign-up an account qualifies.
	EligibilityWindow time.Duration
	// Zero bounds leave the promotion open on that side.
	PromotionStartsAt time.Time
	PromotionEndsAt   time.Time
	CacheTTL          time.Duration
}

// PricingService computes order totals. Discount eligibility is decided here
// from the caller identity and never taken from the request.
type PricingService struct {
	customers CustomerStore
	cache     PricingCache
	rules     PricingRules
	group     singleflight.Group
	now       func() time.Time
	logger    *zap.Logger
}

// NewPricingService creates a pricing service. cache may be nil.
func NewPricingService(customers CustomerStore, cache PricingCache, rules PricingRules) *PricingService {
	return &PricingService{
		customers: customers,
		cache:     cache,
		rules:     rules,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// CalculateTotal prices req for userID. An empty userID is an anonymous
// shopper and never gets a discount.
func (s *PricingService) CalculateTotal(ctx context.Context, userID string, req models.PricingRequest) (models.PricingResult, error) {
	ctx, span := util.StartSpan(ctx, "PricingService.CalculateTotal")
	defer span.End()

	start := time.Now()
	defer func() {
		util.PricingLatency.Observe(time.Since(start).Seconds())
	}()

	if req.Subtotal < 0 || req.Tax < 0 || req.DeliveryCost < 0 {
		util.PricingRequestsTotal.WithLabelValues("invalid").Inc()
		return models.PricingResult{}, fmt.Errorf("amounts must not be negative: %w", apperr.ErrInvalidInput)
	}

	// Callers share one calculation per key, so it must not die with
	// whichever caller started it.
	key := pricingKey(userID, req)
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		calcCtx, cancel := context.WithTimeout(shared, sharedPricingTimeout)
		defer cancel()
		return s.calculate(calcCtx, key, userID, req)
	})

	select {
	case <-ctx.Done():
		util.PricingRequestsTotal.WithLabelValues("canceled").Inc()
		return models.PricingResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			util.PricingRequestsTotal.WithLabelValues("error").Inc()
			util.RecordSpanError(span, res.Err)
			return models.PricingResult{}, res.Err
		}
		util.PricingRequestsTotal.WithLabelValues("ok").Inc()
		return res.Val.(models.PricingResult), nil
	}
}

func (s *PricingService) calculate(ctx context.Context, key, userID string, req models.PricingRequest) (models.PricingResult, error) {
	if s.cache != nil {
		cached, err := s.cache.GetCachedPricing(ctx, key)
		if err != nil {
			s.logger.Warn("Pricing cache read failed", zap.Error(err))
		} else if cached != nil {
			return *cached, nil
		}
	}

	pct, err := s.discountFor(ctx, userID)
	if err != nil {
		return models.PricingResult{}, err
	}

	result := models.PricingResult{Total: req.Subtotal + req.Tax + req.DeliveryCost}
	if amount := DiscountAmount(req.Subtotal, pct); amount > 0 {
		result.Discount = &models.Discount{Percentage: pct, Amount: amount}
		result.Total -= amount
		util.DiscountsGrantedTotal.Inc()
	}

	if s.cache != nil {
		if ttl := s.cacheTTL(); ttl > 0 {
			if err := s.cache.CachePricing(ctx, key, result, ttl); err != nil {
				s.logger.Warn("Pricing cache write failed", zap.Error(err))
			}
		}
	}
	return result, nil
}

// discountFor returns the percentage userID qualifies for right now, or 0.
func (s *PricingService) discountFor(ctx context.Context, userID string) (float64, error) {
	pct := s.rules.DiscountPercentage
	if userID == "" || pct <= 0 || pct > 100 {
		return 0, nil
	}
	now := s.now()
	if !s.promotionActive(now) {
		return 0, nil
	}

	customer, err := s.customers.GetCustomer(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load customer: %w", err)
	}

	if s.rules.EligibilityWindow > 0 && now.Sub(customer.CreatedAt) > s.rules.EligibilityWindow {
		return 0, nil
	}
	return pct, nil
}

func (s *PricingService) promotionActive(now time.Time) bool {
	if !s.rules.PromotionStartsAt.IsZero() && now.Before(s.rules.PromotionStartsAt) {
		return false
	}
	if !s.rules.PromotionEndsAt.IsZero() && !now.Before(s.rules.PromotionEndsAt) {
		return false
	}
	return true
}

// cacheTTL never lets a cached discount outlive the promotion.
func (s *PricingService) cacheTTL() time.Duration {
	ttl := s.rules.CacheTTL
	if !s.rules.PromotionEndsAt.IsZero() {
		if left := s.rules.PromotionEndsAt.Sub(s.now()); left < ttl {
			ttl = left
		}
	}
	return ttl
}

// DiscountAmount is subtotal × pct / 100 rounded half up to minor units.
func DiscountAmount(subtotal int64, pct float64) int64 {
	if subtotal <= 0 || pct <= 0 {
		return 0
	}
	amount := decimal.NewFromInt(subtotal).
		Mul(decimal.NewFromFloat(pct)).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
	if amount > subtotal {
		return subtotal
	}
	return amount
}

func pricingKey(userID string, req models.PricingRequest) string {
	if userID == "" {
		userID = "anonymous"
	}
	return fmt.Sprintf("%s:%d:%d:%d", userID, req.Subtotal, req.Tax, req.DeliveryCost)
}
