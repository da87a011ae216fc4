// internal/models/subscription.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription tracks the provider-side billing agreement. Provider-initiated
// lifecycle events (cancel, suspend) correlate by ProviderSubID, not by
// invoice.
type Subscription struct {
	BaseModel
	Status             SubscriptionStatus `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	PlanID             string             `json:"plan_id" gorm:"size:50;not null"`
	CustomerID         uuid.UUID          `json:"customer_id" gorm:"type:uuid;not null;index"`
	OrgID              uuid.UUID          `json:"org_id" gorm:"type:uuid;not null;index"`
	Provider           PaymentProvider    `json:"provider" gorm:"type:varchar(20)"`
	ProviderSubID      string             `json:"provider_sub_id" gorm:"size:255;index"`
	CurrentPeriodStart *time.Time         `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end" gorm:"default:false"`
	CancelledAt        *time.Time         `json:"cancelled_at"`

	// Relationships
	Customer Customer  `json:"customer,omitempty" gorm:"foreignKey:CustomerID"`
	Invoices []Invoice `json:"invoices,omitempty" gorm:"foreignKey:SubscriptionID"`
}
