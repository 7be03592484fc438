// Package memstore is an in-memory store for local development and tests. It
// honours the same contracts as the Postgres store: a single mutex stands in
// for row locks and transactions.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storefront/internal/models"

	"github.com/google/uuid"
)

type Store struct {
	mu       sync.RWMutex
	products map[string]models.Product
	users    map[string]models.User
	carts    map[string]models.Cart
	orders   map[string]models.Order
	orderLog []string
	events   map[string]models.ProcessedEvent
	now      func() time.Time
}

// New constructs an empty store
func New() *Store {
	return &Store{
		products: make(map[string]models.Product),
		users:    make(map[string]models.User),
		carts:    make(map[string]models.Cart),
		orders:   make(map[string]models.Order),
		events:   make(map[string]models.ProcessedEvent),
		now:      time.Now,
	}
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error { return nil }

// CreateProduct stores a product, assigning an id when missing
func (s *Store) CreateProduct(_ context.Context, product *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	product.CreatedAt = s.now()
	s.products[product.ID] = *product
	return nil
}

// GetProductByID returns a copy of the product
func (s *Store) GetProductByID(_ context.Context, id string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	product, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", models.ErrNotFound, id)
	}
	return &product, nil
}

// CreateUser stores a user profile
func (s *Store) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	user.CreatedAt = s.now()
	s.users[user.ID] = cloneUser(*user)
	return nil
}

// GetUserByID returns a copy of the user
func (s *Store) GetUserByID(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, id)
	}
	clone := cloneUser(user)
	return &clone, nil
}

// UpdateUserAddress stores the checkout address
func (s *Store) UpdateUserAddress(_ context.Context, userID string, address models.ShippingAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
	}
	user.Address = &address
	s.users[userID] = user
	return nil
}

// UpdateUserPaymentMethod stores the preferred payment method
func (s *Store) UpdateUserPaymentMethod(_ context.Context, userID, method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
	}
	user.PaymentMethod = &method
	s.users[userID] = user
	return nil
}

func cloneUser(u models.User) models.User {
	if u.Address != nil {
		address := *u.Address
		u.Address = &address
	}
	if u.PaymentMethod != nil {
		method := *u.PaymentMethod
		u.PaymentMethod = &method
	}
	return u
}
