// Package storefront serves the customer-facing side of checkout: one
// session per cart, each driving its own pricing coordinator.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/checkout"
	"checkout-service/internal/client"
	"checkout-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrSessionNotFound is returned for unknown or foreign sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrCheckoutInProgress is returned while the session is already paying.
	ErrCheckoutInProgress = errors.New("checkout already in progress")
	// ErrSessionLocked is returned after a payment went through without an
	// order. Paying again could charge the customer twice.
	ErrSessionLocked = errors.New("session needs support before another checkout")
)

// PricingRules derives the pricing request from a cart.
type PricingRules struct {
	TaxRateBps  int64
	DeliveryFee int64
}

// Request builds the pricing request for items fulfilled by deliveryType.
// Tax is charged on the subtotal before discount, rounded half up.
func (r PricingRules) Request(items []models.CartItem, deliveryType string) models.PricingRequest {
	var subtotal int64
	for _, item := range items {
		subtotal += int64(item.Quantity) * item.UnitPrice
	}

	req := models.PricingRequest{Subtotal: subtotal}
	if r.TaxRateBps > 0 {
		req.Tax = decimal.NewFromInt(subtotal).
			Mul(decimal.NewFromInt(r.TaxRateBps)).
			Div(decimal.NewFromInt(10000)).
			Round(0).
			IntPart()
	}
	if deliveryType == models.DeliveryTypeDelivery {
		req.DeliveryCost = r.DeliveryFee
	}
	return req
}

// Session is one shopper's cart. All methods are safe for concurrent use.
type Session struct {
	ID     string
	UserID string

	rules       PricingRules
	coordinator *checkout.Coordinator

	mu            sync.Mutex
	items         []models.CartItem
	deliveryType  string
	address       *models.Address
	email         string
	paymentMethod string
	checkingOut   bool
	locked        bool
	lastPhase     checkout.Phase
	lastErr       error
	lastReceipt   *checkout.Receipt
	lastActive    time.Time
}

// Status is the session view rendered to the shopper.
type Status struct {
	SessionID      string            `json:"sessionId"`
	Items          []models.CartItem `json:"items"`
	DeliveryType   string            `json:"deliveryType"`
	Address        *models.Address   `json:"address,omitempty"`
	Phase          checkout.Phase    `json:"phase"`
	Token          uint64            `json:"token"`
	Quote          *checkout.Quote   `json:"quote,omitempty"`
	ButtonLabel    string            `json:"buttonLabel"`
	ButtonEnabled  bool              `json:"buttonEnabled"`
	CheckoutPhase  checkout.Phase    `json:"checkoutPhase,omitempty"`
	CheckoutError  string            `json:"checkoutError,omitempty"`
	CheckingOut    bool              `json:"checkingOut"`
	LastReceipt    *checkout.Receipt `json:"lastReceipt,omitempty"`
	StaleResponses uint64            `json:"staleResponses"`
}

func newSession(userID string, pricer checkout.Pricer, cfg checkout.CoordinatorConfig, rules PricingRules) *Session {
	return &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		rules:        rules,
		coordinator:  checkout.NewCoordinator(pricer, cfg),
		deliveryType: models.DeliveryTypeDelivery,
		lastActive:   time.Now(),
	}
}

// SetItems replaces the cart contents and reprices.
func (s *Session) SetItems(ctx context.Context, items []models.CartItem) error {
	for _, item := range items {
		if strings.TrimSpace(item.ProductID) == "" || item.Quantity <= 0 || item.UnitPrice < 0 {
			return fmt.Errorf("item %q has invalid quantity or price: %w", item.ProductID, apperr.ErrInvalidInput)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkingOut {
		return ErrCheckoutInProgress
	}
	s.items = append([]models.CartItem(nil), items...)
	s.repriceLocked(ctx)
	return nil
}

// SetDelivery switches between delivery and pickup. The address is kept for
// pickup so switching back does not lose it.
func (s *Session) SetDelivery(ctx context.Context, deliveryType string, address *models.Address) error {
	if deliveryType != models.DeliveryTypeDelivery && deliveryType != models.DeliveryTypePickup {
		return fmt.Errorf("unknown delivery type %q: %w", deliveryType, apperr.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkingOut {
		return ErrCheckoutInProgress
	}
	s.deliveryType = deliveryType
	if address != nil {
		a := *address
		s.address = &a
	}
	s.repriceLocked(ctx)
	return nil
}

// SetContact sets where the receipt goes and how the shopper pays.
func (s *Session) SetContact(email, paymentMethod string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.email = strings.TrimSpace(email)
	s.paymentMethod = strings.TrimSpace(paymentMethod)
	s.lastActive = time.Now()
}

// repriceLocked asks the coordinator for the current cart. Identical
// requests are collapsed by the coordinator itself.
func (s *Session) repriceLocked(ctx context.Context) {
	s.lastActive = time.Now()
	req := s.rules.Request(s.items, s.deliveryType)
	s.coordinator.RequestRecalculation(client.WithIdentity(ctx, s.UserID), req)
}

// Wait blocks until the latest pricing request settles or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	_, err := s.coordinator.Wait(ctx)
	return err
}

// Status returns the current view. render produces the button label for
// the pricing snapshot.
func (s *Session) Status(render func(checkout.Snapshot) (string, bool)) Status {
	snap := s.coordinator.Snapshot()
	label, enabled := render(snap)

	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		SessionID:      s.ID,
		Items:          append([]models.CartItem{}, s.items...),
		DeliveryType:   s.deliveryType,
		Address:        s.address,
		Phase:          snap.Phase,
		Token:          snap.Token,
		Quote:          snap.Quote,
		ButtonLabel:    label,
		ButtonEnabled:  enabled && !s.checkingOut && !s.locked,
		CheckoutPhase:  s.lastPhase,
		CheckingOut:    s.checkingOut,
		LastReceipt:    s.lastReceipt,
		StaleResponses: snap.Dropped,
	}
	if s.lastErr != nil {
		st.CheckoutError = apperr.UserMessage(s.lastErr)
	}
	return st
}

// Checkout pays for the current quote and commits the order. The cart is
// cleared only once the order exists.
func (s *Session) Checkout(ctx context.Context, flow *checkout.Flow) (checkout.Receipt, error) {
	s.mu.Lock()
	if s.checkingOut {
		s.mu.Unlock()
		return checkout.Receipt{}, ErrCheckoutInProgress
	}
	if s.locked {
		s.mu.Unlock()
		return checkout.Receipt{}, ErrSessionLocked
	}
	s.checkingOut = true
	s.lastActive = time.Now()
	cart := checkout.Cart{
		Items:         append([]models.CartItem(nil), s.items...),
		DeliveryType:  s.deliveryType,
		Address:       s.address,
		Email:         s.email,
		PaymentMethod: s.paymentMethod,
	}
	s.mu.Unlock()

	tracker := checkout.NewTracker(checkout.PhaseReady)
	receipt, err := flow.Checkout(client.WithIdentity(ctx, s.UserID), s.coordinator, cart, tracker)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkingOut = false
	s.lastErr = err
	// Money may have moved; another attempt could charge twice.
	s.locked = apperr.RequiresSupport(err)
	s.lastActive = time.Now()

	switch {
	case err == nil:
		s.lastPhase = checkout.PhaseCommitted
		s.lastReceipt = &receipt
		s.items = nil
		s.repriceLocked(ctx)
	case tracker.Phase() == checkout.PhaseReady:
		// Rejected before authorization; the session is unchanged.
		s.lastPhase = checkout.PhaseOf(err)
	default:
		s.lastPhase = tracker.Phase()
	}
	return receipt, err
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkingOut
}

// Manager owns the live sessions.
type Manager struct {
	pricer checkout.Pricer
	cfg    checkout.CoordinatorConfig
	rules  PricingRules

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(pricer checkout.Pricer, cfg checkout.CoordinatorConfig, rules PricingRules) *Manager {
	return &Manager{
		pricer:   pricer,
		cfg:      cfg,
		rules:    rules,
		sessions: make(map[string]*Session),
	}
}

// Create opens a session for userID. An empty userID is an anonymous shopper.
func (m *Manager) Create(userID string) *Session {
	s := newSession(userID, m.pricer, m.cfg, m.rules)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns the session id owned by userID.
func (m *Manager) Get(id, userID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || s.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Sweep drops sessions idle for longer than maxIdle and returns how many
// were removed. Sessions in the middle of a checkout are kept.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) && !s.busy() {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
