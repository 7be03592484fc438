package payment

import (
	"encoding/json"
	"fmt"

	"storefront/internal/models"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeVerifier authenticates Stripe webhook deliveries with the endpoint secret
type StripeVerifier struct {
	secret string
}

func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret}
}

// Verify checks the Stripe-Signature header and reduces the event to the
// fields settlement needs. Charge fields are only filled for charge.succeeded.
func (v *StripeVerifier) Verify(payload []byte, signatureHeader string) (*models.WebhookEvent, error) {
	if v.secret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", models.ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret,
		webhook.ConstructEventOptions{
			Tolerance:                webhook.DefaultTolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidSignature, err)
	}

	result := &models.WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if result.Type != models.EventChargeSucceeded {
		return result, nil
	}

	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return nil, fmt.Errorf("%w: malformed charge: %v", models.ErrValidation, err)
	}

	result.ChargeID = charge.ID
	result.AmountMinor = charge.Amount
	result.OrderID = charge.Metadata["orderId"]
	if charge.BillingDetails != nil {
		result.Email = charge.BillingDetails.Email
	}
	return result, nil
}
