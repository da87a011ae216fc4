// internal/services/checkout_service.go
package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"gorm.io/gorm"

	"github.com/keyhaven/licensing-backend/internal/config"
	"github.com/keyhaven/licensing-backend/internal/models"
	"github.com/keyhaven/licensing-backend/internal/utils"
)

// CheckoutService originates the open invoice / pending subscription pair
// that the reconciliation engine later consumes. The invoice id is embedded
// as provider metadata at intent creation and echoed back by the webhook as
// the correlation id.
type CheckoutService struct {
	db     *gorm.DB
	config *config.Config
}

type CheckoutRequest struct {
	PlanID      string `json:"plan_id" validate:"required,plan_id"`
	Provider    string `json:"provider" validate:"required,oneof=stripe paypal"`
	AmountCents int64  `json:"amount_cents" validate:"required,min=1"`
	Currency    string `json:"currency" validate:"required,currency"`
}

type CheckoutResponse struct {
	InvoiceID      uuid.UUID `json:"invoice_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	ClientSecret   string    `json:"client_secret,omitempty"`
	CorrelationID  string    `json:"correlation_id"`
}

func NewCheckoutService(db *gorm.DB, config *config.Config) *CheckoutService {
	// Initialize Stripe
	stripe.Key = config.Payment.StripeSecretKey

	return &CheckoutService{
		db:     db,
		config: config,
	}
}

func (s *CheckoutService) CreateCheckout(customerID uuid.UUID, req *CheckoutRequest) (*CheckoutResponse, error) {
	// Validate request
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if _, ok := s.config.Plans.Plans[req.PlanID]; !ok {
		return nil, errors.New("unknown plan")
	}
	if req.PlanID == models.PlanTrial {
		return nil, errors.New("trial plans cannot be purchased")
	}

	var customer models.Customer
	if err := s.db.First(&customer, "id = ?", customerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("customer not found")
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	if customer.Status != models.CustomerStatusActive {
		return nil, errors.New("customer account is not active")
	}

	provider := models.PaymentProvider(strings.ToLower(req.Provider))
	currency := strings.ToUpper(req.Currency)

	var invoice *models.Invoice
	var subscription *models.Subscription

	// Create the pending subscription and its first open invoice together;
	// the engine owns every later status transition of both rows.
	err := s.db.Transaction(func(tx *gorm.DB) error {
		periodStart := time.Now()
		periodEnd := periodStart.AddDate(0, 0, s.config.Plans.Spec(req.PlanID).PeriodDays)

		subscription = &models.Subscription{
			Status:             models.SubscriptionStatusPending,
			PlanID:             req.PlanID,
			CustomerID:         customer.ID,
			OrgID:              customer.OrgID,
			Provider:           provider,
			CurrentPeriodStart: &periodStart,
			CurrentPeriodEnd:   &periodEnd,
		}
		if err := tx.Create(subscription).Error; err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}

		invoice = &models.Invoice{
			Status:         models.InvoiceStatusOpen,
			AmountCents:    req.AmountCents,
			Currency:       currency,
			OrgID:          customer.OrgID,
			CustomerID:     customer.ID,
			SubscriptionID: &subscription.ID,
			Provider:       provider,
		}
		if err := tx.Create(invoice).Error; err != nil {
			return fmt.Errorf("failed to create invoice: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	response := &CheckoutResponse{
		InvoiceID:      invoice.ID,
		SubscriptionID: subscription.ID,
		CorrelationID:  invoice.ID.String(),
	}

	if provider == models.ProviderStripe {
		params := &stripe.PaymentIntentParams{
			Amount:   stripe.Int64(req.AmountCents),
			Currency: stripe.String(strings.ToLower(currency)),
		}
		params.AddMetadata("invoice_id", invoice.ID.String())
		params.AddMetadata("customer_id", customer.ID.String())

		pi, err := paymentintent.New(params)
		if err != nil {
			return nil, fmt.Errorf("failed to create payment intent: %w", err)
		}

		response.ClientSecret = pi.ClientSecret
	}
	// For PayPal the client creates the order itself and must attach
	// CorrelationID as the purchase unit custom_id so the webhook can
	// correlate back to this invoice.

	return response, nil
}
