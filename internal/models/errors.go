package models

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("not enough stock")
	ErrAlreadyPaid       = errors.New("order is already paid")
	ErrPaymentValidation = errors.New("payment validation failed")
	ErrNotPaid           = errors.New("order is not paid")
	ErrAlreadyDelivered  = errors.New("order is already delivered")
	ErrUnauthorized      = errors.New("not authorized")
	ErrValidation        = errors.New("invalid input")
	ErrNoCartSession     = errors.New("cart session not found")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
)

// StockLevel is a product's stock after a ledger write
type StockLevel struct {
	ProductID string `db:"id"`
	Stock     int    `db:"stock"`
}
