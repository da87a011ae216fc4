// internal/models/customer.go
package models

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type Customer struct {
	BaseModel
	Email        string         `json:"email" gorm:"uniqueIndex;size:255;not null"`
	Name         string         `json:"name" gorm:"size:100"`
	PasswordHash string         `json:"-" gorm:"size:255;not null"`
	OrgID        uuid.UUID      `json:"org_id" gorm:"type:uuid;not null;index"`
	Status       CustomerStatus `json:"status" gorm:"type:varchar(20);default:'active'"`
	LastLoginAt  *time.Time     `json:"last_login_at"`

	// Relationships
	Invoices      []Invoice      `json:"invoices,omitempty" gorm:"foreignKey:CustomerID"`
	Subscriptions []Subscription `json:"subscriptions,omitempty" gorm:"foreignKey:CustomerID"`
	Licenses      []License      `json:"licenses,omitempty" gorm:"foreignKey:CustomerID"`
}

func (c *Customer) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	c.PasswordHash = string(hashedPassword)
	return nil
}

func (c *Customer) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(password))
}
