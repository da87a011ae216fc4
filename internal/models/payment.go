// internal/models/payment.go
package models

import (
	"github.com/google/uuid"
)

// Payment records one successfully reconciled provider payment. Exactly one
// row is created per traversal of the payment-completed handler; duplicate
// webhook deliveries never create duplicate rows because the invoice
// idempotency gate runs first.
type Payment struct {
	BaseModel
	Provider          PaymentProvider `json:"provider" gorm:"type:varchar(20);not null;index"`
	ProviderPaymentID string          `json:"provider_payment_id" gorm:"size:255;not null;index"`
	AmountCents       int64           `json:"amount_cents" gorm:"not null"`
	Currency          string          `json:"currency" gorm:"size:3;not null"`
	Status            PaymentStatus   `json:"status" gorm:"type:varchar(20);not null;index"`
	InvoiceID         *uuid.UUID      `json:"invoice_id" gorm:"type:uuid;index"`
	SubscriptionID    *uuid.UUID      `json:"subscription_id" gorm:"type:uuid;index"`

	// Relationships
	Invoice      *Invoice      `json:"invoice,omitempty" gorm:"foreignKey:InvoiceID"`
	Subscription *Subscription `json:"subscription,omitempty" gorm:"foreignKey:SubscriptionID"`
}

// WebhookEvent is the received-webhook audit trail. Every delivery is
// recorded with its reconciliation outcome, including advisory and ignored
// events.
type WebhookEvent struct {
	BaseModel
	Provider        PaymentProvider `json:"provider" gorm:"type:varchar(20);not null;index"`
	ProviderEventID string          `json:"provider_event_id" gorm:"size:255;index"`
	EventType       string          `json:"event_type" gorm:"size:100;index"`
	Payload         JSONB           `json:"payload" gorm:"type:jsonb"`
	Processed       bool            `json:"processed" gorm:"default:false"`
	ResultMessage   string          `json:"result_message" gorm:"size:255"`
}
