package service

import (
	"context"
	"fmt"
	"strings"

	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// UserService saves the checkout profile: shipping address and payment method
type UserService struct {
	users          UserStore
	paymentMethods []string
	logger         *zap.Logger
}

// NewUserService creates a new user service accepting the given payment methods
func NewUserService(users UserStore, paymentMethods []string) *UserService {
	return &UserService{
		users:          users,
		paymentMethods: paymentMethods,
		logger:         util.GetLogger(),
	}
}

// PaymentMethodRequest represents a payment method selection
type PaymentMethodRequest struct {
	Type string `json:"type" binding:"required"`
}

// SaveAddress stores the signed-in user's shipping address
func (s *UserService) SaveAddress(ctx context.Context, id models.Identity, address models.ShippingAddress) error {
	ctx, span := util.StartSpan(ctx, "UserService.SaveAddress")
	defer span.End()

	if !id.Authenticated() {
		return models.ErrUnauthorized
	}

	fields := []struct{ name, value string }{
		{"fullName", address.FullName},
		{"streetAddress", address.StreetAddress},
		{"city", address.City},
		{"postalCode", address.PostalCode},
		{"country", address.Country},
	}
	for _, f := range fields {
		if len(strings.TrimSpace(f.value)) < 3 {
			return fmt.Errorf("%w: %s must be at least 3 characters", models.ErrValidation, f.name)
		}
	}

	if err := s.users.UpdateUserAddress(ctx, id.UserID, address); err != nil {
		return err
	}

	s.logger.Info("Shipping address saved", zap.String("user_id", id.UserID))
	return nil
}

// SavePaymentMethod stores the signed-in user's preferred payment method
func (s *UserService) SavePaymentMethod(ctx context.Context, id models.Identity, method string) error {
	ctx, span := util.StartSpan(ctx, "UserService.SavePaymentMethod")
	defer span.End()

	if !id.Authenticated() {
		return models.ErrUnauthorized
	}
	if !s.accepts(method) {
		return fmt.Errorf("%w: unsupported payment method %q", models.ErrValidation, method)
	}

	if err := s.users.UpdateUserPaymentMethod(ctx, id.UserID, method); err != nil {
		return err
	}

	s.logger.Info("Payment method saved", zap.String("user_id", id.UserID), zap.String("method", method))
	return nil
}

func (s *UserService) accepts(method string) bool {
	for _, m := range s.paymentMethods {
		if strings.TrimSpace(m) == method {
			return true
		}
	}
	return false
}
