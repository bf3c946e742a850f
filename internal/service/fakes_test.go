package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
)

var errDB = errors.New("db unavailable")

type memCustomers struct {
	customers map[string]*models.Customer
	calls     int
	mu        sync.Mutex
}

func (m *memCustomers) GetCustomer(_ context.Context, id string) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if c, ok := m.customers[id]; ok {
		return c, nil
	}
	return nil, store.ErrNotFound
}

type memCache struct {
	entries map[string]models.PricingResult
	ttls    map[string]time.Duration
	mu      sync.Mutex
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]models.PricingResult{}, ttls: map[string]time.Duration{}}
}

func (m *memCache) GetCachedPricing(_ context.Context, key string) (*models.PricingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.entries[key]; ok {
		return &res, nil
	}
	return nil, nil
}

func (m *memCache) CachePricing(_ context.Context, key string, result models.PricingResult, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = result
	m.ttls[key] = ttl
	return nil
}

// memDB implements the payment, order and failure stores with the same
// rules the SQL store enforces.
type memDB struct {
	mu        sync.Mutex
	payments  map[string]*models.Payment
	orders    map[int64]*models.Order
	items     map[int64][]models.OrderItem
	failures  []*models.FailedOrderRecord
	processed map[string]bool
	createErr error
}

func newMemDB() *memDB {
	return &memDB{
		payments:  map[string]*models.Payment{},
		orders:    map[int64]*models.Order{},
		items:     map[int64][]models.OrderItem{},
		processed: map[string]bool{},
	}
}

func (m *memDB) CreatePayment(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = int64(len(m.payments) + 1)
	cp := *p
	m.payments[p.TransactionID] = &cp
	return nil
}

func (m *memDB) GetPaymentByTransactionID(_ context.Context, id string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (m *memDB) CreateOrderTx(_ context.Context, order *models.Order, items []models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	p, ok := m.payments[order.TransactionID]
	if !ok {
		return fmt.Errorf("payment %s: %w", order.TransactionID, store.ErrNotFound)
	}
	if p.Status != models.PaymentStatusAuthorized {
		return store.ErrPaymentNotAuthorized
	}
	if p.Amount != order.Total {
		return store.ErrPaymentAmountMismatch
	}
	order.ID = int64(len(m.orders) + 1)
	m.orders[order.ID] = order
	m.items[order.ID] = items
	p.Status = models.PaymentStatusCaptured
	return nil
}

func (m *memDB) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		return o, nil
	}
	return nil, store.ErrNotFound
}

func (m *memDB) GetOrderByTransactionID(_ context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.TransactionID == id {
			return o, nil
		}
	}
	return nil, nil
}

func (m *memDB) GetOrderItemsByOrderID(_ context.Context, id int64) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id], nil
}

func (m *memDB) CreateFailedOrder(_ context.Context, rec *models.FailedOrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	rec.ID = int64(len(m.failures) + 1)
	m.failures = append(m.failures, rec)
	return nil
}

func (m *memDB) ListFailedOrders(_ context.Context, includeResolved bool, limit int) ([]models.FailedOrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.FailedOrderRecord
	for i := len(m.failures) - 1; i >= 0 && len(out) < limit; i-- {
		if includeResolved || !m.failures[i].Resolved {
			out = append(out, *m.failures[i])
		}
	}
	return out, nil
}

func (m *memDB) ResolveFailedOrder(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.failures {
		if rec.ID == id {
			rec.Resolved = true
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memDB) IsEventProcessed(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed[id], nil
}

func (m *memDB) MarkEventProcessed(_ context.Context, id, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[id] = true
	return nil
}

type memIdempotency struct {
	mu     sync.Mutex
	keys   map[string]string
	locks  map[string]string
	locked bool
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{keys: map[string]string{}, locks: map[string]string{}}
}

func (m *memIdempotency) GetIdempotencyKey(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.keys[key]
	return v, ok, nil
}

func (m *memIdempotency) SetIdempotencyKey(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = fmt.Sprint(value)
	return nil
}

func (m *memIdempotency) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return "", false, nil
	}
	if _, held := m.locks[key]; held {
		return "", false, nil
	}
	m.locks[key] = "token"
	return "token", true, nil
}

func (m *memIdempotency) ReleaseLock(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] == token {
		delete(m.locks, key)
	}
	return nil
}

type recordingPublisher struct {
	mu            sync.Mutex
	authorized    []*models.PaymentAuthorizedEvent
	declined      []*models.PaymentDeclinedEvent
	committed     []*models.OrderCommittedEvent
	confirmations []*models.ConfirmationRequestedEvent
	failed        []*models.CheckoutFailedEvent
	err           error
}

func (p *recordingPublisher) PublishPaymentAuthorized(_ context.Context, e *models.PaymentAuthorizedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authorized = append(p.authorized, e)
	return p.err
}

func (p *recordingPublisher) PublishPaymentDeclined(_ context.Context, e *models.PaymentDeclinedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.declined = append(p.declined, e)
	return p.err
}

func (p *recordingPublisher) PublishOrderCommitted(_ context.Context, e *models.OrderCommittedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.committed = append(p.committed, e)
	return p.err
}

func (p *recordingPublisher) PublishConfirmationRequested(_ context.Context, e *models.ConfirmationRequestedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmations = append(p.confirmations, e)
	return p.err
}

func (p *recordingPublisher) PublishCheckoutFailed(_ context.Context, e *models.CheckoutFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, e)
	return p.err
}

type recordingSender struct {
	sent []EmailMessage
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg EmailMessage) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}
