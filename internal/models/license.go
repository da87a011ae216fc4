// internal/models/license.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// License entitles a customer to use the product. The engine enforces at most
// one active non-trial license per customer; the partial unique index created
// in database.RunMigrations backs that invariant at the storage boundary.
type License struct {
	BaseModel
	Status     LicenseStatus  `json:"status" gorm:"type:varchar(20);default:'active';index"`
	Plan       string         `json:"plan" gorm:"size:50;not null;index"`
	Key        string         `json:"key" gorm:"size:64;uniqueIndex;not null"`
	MaxDevices int            `json:"max_devices" gorm:"not null;default:1"`
	Features   pq.StringArray `json:"features" gorm:"type:text[]"`
	ValidFrom  time.Time      `json:"valid_from" gorm:"not null"`
	ValidUntil time.Time      `json:"valid_until" gorm:"not null"`
	CustomerID uuid.UUID      `json:"customer_id" gorm:"type:uuid;not null;index"`
	RevokedAt  *time.Time     `json:"revoked_at"`

	// Relationships
	Customer Customer       `json:"customer,omitempty" gorm:"foreignKey:CustomerID"`
	Events   []LicenseEvent `json:"events,omitempty" gorm:"foreignKey:LicenseID"`
}

func (l *License) IsTrial() bool {
	return l.Plan == PlanTrial
}

// LicenseEvent is an append-only audit record of license lifecycle causes.
// Metadata carries the triggering invoice id and provider event id.
type LicenseEvent struct {
	BaseModel
	LicenseID uuid.UUID        `json:"license_id" gorm:"type:uuid;not null;index"`
	EventType LicenseEventType `json:"event_type" gorm:"type:varchar(20);not null;index"`
	Metadata  JSONB            `json:"metadata" gorm:"type:jsonb"`

	// Relationships
	License License `json:"license,omitempty" gorm:"foreignKey:LicenseID"`
}
