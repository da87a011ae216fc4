// internal/models/notification.go
package models

import (
	"github.com/google/uuid"
)

// Notification is an outbound reconciliation outcome queued for downstream
// observers. Delivery is fire-and-forget; failures never roll back entity
// mutations already committed.
type Notification struct {
	BaseModel
	CustomerID          uuid.UUID  `json:"customer_id" gorm:"type:uuid;not null;index"`
	Type                string     `json:"type" gorm:"size:50;not null;index"`
	Title               string     `json:"title" gorm:"size:255;not null"`
	Message             string     `json:"message" gorm:"type:text"`
	Data                JSONB      `json:"data" gorm:"type:jsonb"`
	RelatedResourceType string     `json:"related_resource_type" gorm:"size:50"`
	RelatedResourceID   *uuid.UUID `json:"related_resource_id" gorm:"type:uuid"`
}
