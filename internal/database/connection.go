// internal/database/connection.go
package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/keyhaven/licensing-backend/internal/config"
	"github.com/keyhaven/licensing-backend/internal/models"
)

var DB *gorm.DB

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var err error
	var gormConfig *gorm.Config

	// Configure GORM logger
	if cfg.LogLevel == "silent" {
		gormConfig = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		}
	} else {
		gormConfig = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Info),
		}
	}

	// Connect to database
	DB, err = gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Database connection established successfully")
	return DB, nil
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Error getting underlying sql.DB: %v", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Printf("Error closing database connection: %v", err)
	} else {
		log.Println("Database connection closed successfully")
	}
}

func RunMigrations(db *gorm.DB) error {
	log.Println("Running database migrations...")

	// Enable UUID extension
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"").Error; err != nil {
		return fmt.Errorf("failed to create UUID extension: %w", err)
	}

	// Run auto-migrations
	err := db.AutoMigrate(
		&models.Customer{},
		&models.Subscription{},
		&models.Invoice{},
		&models.Payment{},
		&models.License{},
		&models.LicenseEvent{},
		&models.WebhookEvent{},
		&models.Notification{},
	)

	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Create indexes
	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	log.Println("Database migrations completed successfully")
	return nil
}

func createIndexes(db *gorm.DB) error {
	// The partial unique index is the storage-level backstop for the "at most
	// one active non-trial license per customer" invariant. License issuance
	// uses ON CONFLICT DO NOTHING against it, so two racing deliveries cannot
	// both insert.
	if err := db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_licenses_one_active_paid " +
			"ON licenses(customer_id) WHERE status = 'active' AND plan <> 'trial' AND deleted_at IS NULL",
	).Error; err != nil {
		return fmt.Errorf("failed to create active license index: %w", err)
	}

	indexes := []string{
		// Invoice indexes
		"CREATE INDEX IF NOT EXISTS idx_invoices_customer_status ON invoices(customer_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_invoices_provider_ref ON invoices(provider, provider_ref)",
		"CREATE INDEX IF NOT EXISTS idx_invoices_created_at ON invoices(created_at DESC)",

		// Subscription indexes
		"CREATE INDEX IF NOT EXISTS idx_subscriptions_customer_status ON subscriptions(customer_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_subscriptions_provider_sub ON subscriptions(provider, provider_sub_id)",

		// Payment indexes
		"CREATE INDEX IF NOT EXISTS idx_payments_provider_payment ON payments(provider, provider_payment_id)",
		"CREATE INDEX IF NOT EXISTS idx_payments_created_at ON payments(created_at DESC)",

		// License indexes
		"CREATE INDEX IF NOT EXISTS idx_licenses_customer_status ON licenses(customer_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_license_events_license ON license_events(license_id, created_at DESC)",

		// Webhook audit indexes
		"CREATE INDEX IF NOT EXISTS idx_webhook_events_provider_event ON webhook_events(provider, provider_event_id)",
		"CREATE INDEX IF NOT EXISTS idx_webhook_events_created_at ON webhook_events(created_at DESC)",

		// Notification indexes
		"CREATE INDEX IF NOT EXISTS idx_notifications_customer_type ON notifications(customer_id, type)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			log.Printf("Warning: Failed to create index: %s, Error: %v", index, err)
			// Continue with other indexes instead of failing completely
		}
	}

	return nil
}

// Transaction helper
func WithTransaction(db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
