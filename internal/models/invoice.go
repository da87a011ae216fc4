// internal/models/invoice.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Invoice is created at checkout time and reconciled against provider webhook
// events. Status only ever moves open -> paid; paid is terminal.
type Invoice struct {
	BaseModel
	Status         InvoiceStatus   `json:"status" gorm:"type:varchar(20);default:'open';index"`
	AmountCents    int64           `json:"amount_cents" gorm:"not null"`
	Currency       string          `json:"currency" gorm:"size:3;not null"`
	OrgID          uuid.UUID       `json:"org_id" gorm:"type:uuid;not null;index"`
	CustomerID     uuid.UUID       `json:"customer_id" gorm:"type:uuid;not null;index"`
	SubscriptionID *uuid.UUID      `json:"subscription_id" gorm:"type:uuid;index"`
	Provider       PaymentProvider `json:"provider" gorm:"type:varchar(20)"`
	ProviderRef    string          `json:"provider_ref" gorm:"size:255;index"`
	PaidAt         *time.Time      `json:"paid_at"`

	// Relationships
	Customer     Customer      `json:"customer,omitempty" gorm:"foreignKey:CustomerID"`
	Subscription *Subscription `json:"subscription,omitempty" gorm:"foreignKey:SubscriptionID"`
	Payments     []Payment     `json:"payments,omitempty" gorm:"foreignKey:InvoiceID"`
}
