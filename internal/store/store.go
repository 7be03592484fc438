package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// inTx runs fn inside a transaction, committing only when fn returns nil
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	return getProduct(ctx, s.db, id)
}

func getProduct(ctx context.Context, q sqlx.QueryerContext, id string) (*models.Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: product %s", models.ErrNotFound, id)
	}

	var product models.Product
	err := sqlx.GetContext(ctx, q, &product,
		"SELECT id, name, slug, image, price, stock, created_at FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// CreateProduct inserts a catalog product
func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	if product.ID == "" {
		product.ID = uuid.New().String()
	}

	query := `
		INSERT INTO products (id, name, slug, image, price, stock)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	return s.db.GetContext(ctx, &product.CreatedAt, query,
		product.ID, product.Name, product.Slug, product.Image, product.Price, product.Stock)
}

// GetUserByID retrieves a user profile by ID
func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, id)
	}

	var user models.User
	err := s.db.GetContext(ctx, &user,
		"SELECT id, name, email, role, address, payment_method, created_at FROM users WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a user profile
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}

	query := `
		INSERT INTO users (id, name, email, role, address, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	return s.db.GetContext(ctx, &user.CreatedAt, query,
		user.ID, user.Name, user.Email, user.Role, user.Address, user.PaymentMethod)
}

// UpdateUserAddress stores the shipping address used at checkout
func (s *Store) UpdateUserAddress(ctx context.Context, userID string, address models.ShippingAddress) error {
	if _, err := uuid.Parse(userID); err != nil {
		return fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET address = $1 WHERE id = $2", address, userID)
	if err != nil {
		return fmt.Errorf("failed to update address: %w", err)
	}
	return expectOneRow(result, "user", userID)
}

// UpdateUserPaymentMethod stores the preferred payment method
func (s *Store) UpdateUserPaymentMethod(ctx context.Context, userID, method string) error {
	if _, err := uuid.Parse(userID); err != nil {
		return fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET payment_method = $1 WHERE id = $2", method, userID)
	if err != nil {
		return fmt.Errorf("failed to update payment method: %w", err)
	}
	return expectOneRow(result, "user", userID)
}

func expectOneRow(result sql.Result, entity, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", models.ErrNotFound, entity, id)
	}
	return nil
}
