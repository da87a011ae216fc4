// internal/store/gorm_store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/keyhaven/licensing-backend/internal/models"
)

// GormStore is the PostgreSQL-backed EntityStore.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetInvoiceByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := s.db.WithContext(ctx).First(&invoice, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch invoice: %w", err)
	}
	return &invoice, nil
}

func (s *GormStore) GetSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var subscription models.Subscription
	if err := s.db.WithContext(ctx).First(&subscription, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch subscription: %w", err)
	}
	return &subscription, nil
}

func (s *GormStore) GetSubscriptionByProviderRef(ctx context.Context, provider models.PaymentProvider, providerSubID string) (*models.Subscription, error) {
	var subscription models.Subscription
	err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_sub_id = ?", provider, providerSubID).
		First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch subscription by provider ref: %w", err)
	}
	return &subscription, nil
}

func (s *GormStore) GetActiveNonTrialLicense(ctx context.Context, customerID uuid.UUID) (*models.License, error) {
	var license models.License
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND status = ? AND plan <> ?", customerID, models.LicenseStatusActive, models.PlanTrial).
		First(&license).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch active license: %w", err)
	}
	return &license, nil
}

func (s *GormStore) GetActiveTrialLicense(ctx context.Context, customerID uuid.UUID) (*models.License, error) {
	var license models.License
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND status = ? AND plan = ?", customerID, models.LicenseStatusActive, models.PlanTrial).
		First(&license).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch trial license: %w", err)
	}
	return &license, nil
}

func (s *GormStore) MarkInvoicePaid(ctx context.Context, id uuid.UUID, provider models.PaymentProvider, providerRef string, paidAt time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND status = ?", id, models.InvoiceStatusOpen).
		Updates(map[string]interface{}{
			"status":       models.InvoiceStatusPaid,
			"paid_at":      paidAt,
			"provider":     provider,
			"provider_ref": providerRef,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark invoice paid: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) UpdateSubscriptionStatus(ctx context.Context, id uuid.UUID, to models.SubscriptionStatus, from ...models.SubscriptionStatus) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update subscription status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) CancelSubscription(ctx context.Context, id uuid.UUID, cancelledAt time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status <> ?", id, models.SubscriptionStatusCancelled).
		Updates(map[string]interface{}{
			"status":               models.SubscriptionStatusCancelled,
			"cancelled_at":         cancelledAt,
			"cancel_at_period_end": false,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to cancel subscription: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) InsertPayment(ctx context.Context, payment *models.Payment) error {
	if err := s.db.WithContext(ctx).Create(payment).Error; err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (s *GormStore) InsertLicenseIfAbsent(ctx context.Context, license *models.License) (bool, error) {
	// ON CONFLICT DO NOTHING rides on the partial unique index
	// idx_licenses_one_active_paid, so the check-then-act race between two
	// concurrent deliveries resolves at the database, not in the engine.
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(license)
	if result.Error != nil {
		return false, fmt.Errorf("failed to create license: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) InsertLicenseEvent(ctx context.Context, event *models.LicenseEvent) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to create license event: %w", err)
	}
	return nil
}

func (s *GormStore) RevokeLicense(ctx context.Context, id uuid.UUID, revokedAt time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.License{}).
		Where("id = ? AND status = ?", id, models.LicenseStatusActive).
		Updates(map[string]interface{}{
			"status":     models.LicenseStatusRevoked,
			"revoked_at": revokedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to revoke license: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}
