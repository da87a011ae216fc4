// internal/services/license_service.go
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keyhaven/licensing-backend/internal/config"
	"github.com/keyhaven/licensing-backend/internal/models"
	"github.com/keyhaven/licensing-backend/internal/utils"
)

type LicenseService struct {
	db     *gorm.DB
	config *config.Config
}

type LicenseVerification struct {
	Valid      bool       `json:"valid"`
	Reason     string     `json:"reason,omitempty"`
	Plan       string     `json:"plan,omitempty"`
	MaxDevices int        `json:"max_devices,omitempty"`
	Features   []string   `json:"features,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

func NewLicenseService(db *gorm.DB, config *config.Config) *LicenseService {
	return &LicenseService{
		db:     db,
		config: config,
	}
}

// VerifyLicense checks a license key and lazily expires licenses whose
// validity window has passed. Revocations only ever come from the
// reconciliation flow, never from verification.
func (s *LicenseService) VerifyLicense(key string) (*LicenseVerification, error) {
	var license models.License
	if err := s.db.First(&license, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &LicenseVerification{Valid: false, Reason: "license not found"}, nil
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	switch license.Status {
	case models.LicenseStatusRevoked:
		return &LicenseVerification{Valid: false, Reason: "license revoked"}, nil
	case models.LicenseStatusExpired:
		return &LicenseVerification{Valid: false, Reason: "license expired"}, nil
	}

	if license.ValidUntil.Before(time.Now()) {
		err := s.db.Model(&models.License{}).
			Where("id = ? AND status = ?", license.ID, models.LicenseStatusActive).
			Update("status", models.LicenseStatusExpired).Error
		if err != nil {
			return nil, fmt.Errorf("failed to expire license: %w", err)
		}
		return &LicenseVerification{Valid: false, Reason: "license expired"}, nil
	}

	return &LicenseVerification{
		Valid:      true,
		Plan:       license.Plan,
		MaxDevices: license.MaxDevices,
		Features:   license.Features,
		ValidUntil: &license.ValidUntil,
	}, nil
}

func (s *LicenseService) GetCustomerLicenses(customerID uuid.UUID, params utils.PaginationParams) (*utils.PaginationResult, error) {
	var licenses []models.License
	var total int64

	query := s.db.Model(&models.License{}).Where("customer_id = ?", customerID)

	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count licenses: %w", err)
	}

	query = utils.ApplySort(query, params, []string{"created_at", "valid_until", "plan", "status"})
	query = utils.ApplyPagination(query, params)

	if err := query.Find(&licenses).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch licenses: %w", err)
	}

	result := utils.CreatePaginationResult(licenses, total, params)
	return &result, nil
}

func (s *LicenseService) GetCustomerPayments(customerID uuid.UUID, params utils.PaginationParams) (*utils.PaginationResult, error) {
	var payments []models.Payment
	var total int64

	query := s.db.Model(&models.Payment{}).
		Joins("JOIN invoices ON invoices.id = payments.invoice_id").
		Where("invoices.customer_id = ?", customerID)

	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count payments: %w", err)
	}

	query = utils.ApplySort(query, params, []string{"payments.created_at", "payments.amount_cents", "payments.status"})
	query = utils.ApplyPagination(query, params)

	if err := query.Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch payments: %w", err)
	}

	result := utils.CreatePaginationResult(payments, total, params)
	return &result, nil
}

// IssueTrialLicense creates a trial license for a customer who has no
// active license of any kind. Paid licenses are only ever issued by the
// reconciliation engine.
func (s *LicenseService) IssueTrialLicense(customerID uuid.UUID) (*models.License, error) {
	var existing models.License
	err := s.db.Where("customer_id = ? AND status = ?", customerID, models.LicenseStatusActive).
		First(&existing).Error
	if err == nil {
		return nil, errors.New("customer already has an active license")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("database error: %w", err)
	}

	spec := s.config.Plans.Spec(models.PlanTrial)
	now := time.Now()
	validUntil := now.AddDate(0, 0, spec.PeriodDays)

	key, err := utils.GenerateLicenseKey(s.config.Plans.KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to generate license key: %w", err)
	}

	license := &models.License{
		Status:     models.LicenseStatusActive,
		Plan:       models.PlanTrial,
		Key:        key,
		MaxDevices: spec.MaxDevices,
		Features:   spec.Features,
		ValidFrom:  now,
		ValidUntil: validUntil,
		CustomerID: customerID,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(license).Error; err != nil {
			return fmt.Errorf("failed to create license: %w", err)
		}

		event := &models.LicenseEvent{
			LicenseID: license.ID,
			EventType: models.LicenseEventCreated,
			Metadata:  models.JSONB{"plan": models.PlanTrial},
		}
		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("failed to record license event: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return license, nil
}
