package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	apperrors "checkout-service/common/errors"
	"checkout-service/models"
	"checkout-service/repository"
	"checkout-service/services"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// memStore is an in-memory OrderRepository and ProductRepository. Every
// method holds one lock, so CreateWithStock is atomic like the real stores.
type memStore struct {
	mu        sync.Mutex
	products  map[string]models.Product
	orders    map[uuid.UUID]models.Order
	mutateFn  func() error
	createErr error
}

func newMemStore(products ...models.Product) *memStore {
	s := &memStore{products: map[string]models.Product{}, orders: map[uuid.UUID]models.Order{}}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func product(id string, price string, stock int) models.Product {
	return models.Product{ID: id, Name: id, Price: decimal.RequireFromString(price), StockQuantity: stock}
}

func clone(o models.Order) *models.Order {
	c := o
	c.Items = append([]models.OrderItem(nil), o.Items...)
	if o.PaymentIntentID != nil {
		id := *o.PaymentIntentID
		c.PaymentIntentID = &id
	}
	return &c
}

func (s *memStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	return &p, nil
}

func (s *memStore) setPrice(id, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[id]
	p.Price = decimal.RequireFromString(price)
	s.products[id] = p
}

func (s *memStore) stock(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].StockQuantity
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) put(o models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = *clone(o)
}

func (s *memStore) get(id uuid.UUID) *models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil
	}
	return clone(o)
}

func (s *memStore) CreateWithStock(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	for _, item := range order.Items {
		p, ok := s.products[item.ProductID]
		if !ok {
			return repository.ErrProductNotFound
		}
		if p.StockQuantity < item.Quantity {
			return &repository.InsufficientStockError{ProductID: p.ID, Available: p.StockQuantity}
		}
	}
	for _, item := range order.Items {
		p := s.products[item.ProductID]
		p.StockQuantity -= item.Quantity
		s.products[item.ProductID] = p
	}
	s.orders[order.ID] = *clone(*order)
	return nil
}

func (s *memStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if o := s.get(id); o != nil {
		return o, nil
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) FindByPaymentIntentID(ctx context.Context, intentID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.IntentID() == intentID {
			return clone(o), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) FindByUserID(ctx context.Context, userID string, page, limit int) ([]models.Order, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			all = append(all, *clone(o))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	start := (page - 1) * limit
	if start >= len(all) {
		return []models.Order{}, int64(len(all)), nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

func (s *memStore) Mutate(ctx context.Context, id uuid.UUID, fn repository.MutateFunc) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.apply(o, fn)
}

func (s *memStore) MutateByPaymentIntent(ctx context.Context, intentID string, fn repository.MutateFunc) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.IntentID() == intentID {
			return s.apply(o, fn)
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) apply(o models.Order, fn repository.MutateFunc) (*models.Order, error) {
	if s.mutateFn != nil {
		if err := s.mutateFn(); err != nil {
			return nil, err
		}
	}
	working := clone(o)
	changed, err := fn(working)
	if err != nil {
		return nil, err
	}
	if changed {
		if o.PaymentIntentID != nil && working.IntentID() != o.IntentID() {
			return nil, repository.ErrIntentAlreadyAssigned
		}
		s.orders[o.ID] = *clone(*working)
	}
	return working, nil
}

type fakeGateway struct {
	mu        sync.Mutex
	requests  []services.PaymentIntentRequest
	createErr error
	secretErr error
	next      int
}

func (g *fakeGateway) CreatePaymentIntent(ctx context.Context, req services.PaymentIntentRequest) (*services.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.next++
	id := fmt.Sprintf("pi_%d", g.next)
	return &services.PaymentIntent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (g *fakeGateway) GetClientSecret(ctx context.Context, intentID string) (string, error) {
	if g.secretErr != nil {
		return "", g.secretErr
	}
	return intentID + "_secret", nil
}

// VerifyEvent accepts the signature "valid" and decodes the payload as a GatewayEvent.
func (g *fakeGateway) VerifyEvent(payload []byte, signatureHeader string) (*models.GatewayEvent, error) {
	if signatureHeader != "valid" {
		return nil, apperrors.SignatureInvalid(errors.New("signature mismatch"))
	}
	var event models.GatewayEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, apperrors.Validation("malformed event")
	}
	return &event, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(ctx context.Context, event models.OrderEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type memLedger struct {
	mu      sync.Mutex
	seen    map[string]bool
	seenErr error
}

func newMemLedger() *memLedger { return &memLedger{seen: map[string]bool{}} }

func (l *memLedger) Seen(ctx context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seenErr != nil {
		return false, l.seenErr
	}
	return l.seen[id], nil
}

func (l *memLedger) MarkProcessed(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[id] = true
	return nil
}

func testPricing() *services.Pricing {
	rates, err := services.ParseShippingRates(services.DefaultShippingRates)
	if err != nil {
		panic(err)
	}
	p, err := services.NewPricing(rates, decimal.RequireFromString("0.10"), "usd")
	if err != nil {
		panic(err)
	}
	return p
}

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func address() models.Address {
	return models.Address{Name: "Ada Lovelace", Line1: "1 Main St", City: "London", PostalCode: "N1 9GU", Country: "GB"}
}

func checkoutRequest(items ...models.CheckoutItem) *models.CheckoutRequest {
	return &models.CheckoutRequest{
		Items:           items,
		ShippingAddress: address(),
		ShippingMethod:  "standard",
		PaymentMethod:   "card",
	}
}

// seedOrder stores an order owned by userID in the given states.
func seedOrder(s *memStore, userID string, status models.OrderStatus, payment models.PaymentStatus, intentID string) models.Order {
	o := models.Order{
		ID:            uuid.New(),
		UserID:        userID,
		Items:         []models.OrderItem{{ProductID: "sku-1", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
		TotalAmount:   decimal.RequireFromString("16.99"),
		Currency:      "usd",
		Status:        status,
		PaymentStatus: payment,
		PaymentMethod: models.PaymentMethodCard,
	}
	if intentID != "" {
		o.PaymentIntentID = &intentID
	}
	s.put(o)
	return o
}
