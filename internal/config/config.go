// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	AWS         AWSConfig
	Payment     PaymentConfig
	Webhook     WebhookConfig
	Email       EmailConfig
	Plans       PlanConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	SecretKey       string
	AccessTokenTTL  int // in hours
	RefreshTokenTTL int // in hours
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
}

type PaymentConfig struct {
	StripeSecretKey      string
	StripePublishableKey string
	PayPalClientID       string
	PayPalClientSecret   string
}

type WebhookConfig struct {
	ArchivePayloads bool
	ArchivePrefix   string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string
}

// PlanSpec defines the entitlements a license issued for a plan carries.
// Plan definitions change independently of the reconciliation logic, so they
// are injected here instead of living inline in the engine.
type PlanSpec struct {
	MaxDevices int
	PeriodDays int
	Features   []string
}

type PlanConfig struct {
	KeyPrefix string
	Plans     map[string]PlanSpec
}

// Spec returns the plan definition, falling back to the starter plan for
// unknown plan ids so a mismapped provider plan still yields a usable license.
func (p PlanConfig) Spec(planID string) PlanSpec {
	if spec, ok := p.Plans[planID]; ok {
		return spec
	}
	return p.Plans["starter"]
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "keyhaven"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "silent"),
		},
		JWT: JWTConfig{
			SecretKey:       getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			AccessTokenTTL:  getEnvAsInt("JWT_ACCESS_TTL", 24),   // 24 hours
			RefreshTokenTTL: getEnvAsInt("JWT_REFRESH_TTL", 168), // 7 days
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3Bucket:        getEnv("AWS_S3_BUCKET", "keyhaven-webhook-archive"),
		},
		Payment: PaymentConfig{
			StripeSecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			StripePublishableKey: getEnv("STRIPE_PUBLISHABLE_KEY", ""),
			PayPalClientID:       getEnv("PAYPAL_CLIENT_ID", ""),
			PayPalClientSecret:   getEnv("PAYPAL_CLIENT_SECRET", ""),
		},
		Webhook: WebhookConfig{
			ArchivePayloads: getEnvAsBool("WEBHOOK_ARCHIVE_PAYLOADS", false),
			ArchivePrefix:   getEnv("WEBHOOK_ARCHIVE_PREFIX", "webhooks"),
		},
		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			FromEmail:    getEnv("FROM_EMAIL", "noreply@keyhaven.io"),
			FromName:     getEnv("FROM_NAME", "KeyHaven"),
		},
		Plans: PlanConfig{
			KeyPrefix: getEnv("LICENSE_KEY_PREFIX", "KH"),
			Plans: map[string]PlanSpec{
				PlanTrial: {
					MaxDevices: getEnvAsInt("PLAN_TRIAL_MAX_DEVICES", 1),
					PeriodDays: getEnvAsInt("PLAN_TRIAL_PERIOD_DAYS", 14),
					Features:   []string{"core"},
				},
				"starter": {
					MaxDevices: getEnvAsInt("PLAN_STARTER_MAX_DEVICES", 3),
					PeriodDays: getEnvAsInt("PLAN_STARTER_PERIOD_DAYS", 30),
					Features:   []string{"core", "sync"},
				},
				"pro": {
					MaxDevices: getEnvAsInt("PLAN_PRO_MAX_DEVICES", 10),
					PeriodDays: getEnvAsInt("PLAN_PRO_PERIOD_DAYS", 30),
					Features:   []string{"core", "sync", "priority_support"},
				},
				"enterprise": {
					MaxDevices: getEnvAsInt("PLAN_ENTERPRISE_MAX_DEVICES", 100),
					PeriodDays: getEnvAsInt("PLAN_ENTERPRISE_PERIOD_DAYS", 365),
					Features:   []string{"core", "sync", "priority_support", "sso"},
				},
			},
		},
	}

	return config, config.Validate()
}

// PlanTrial mirrors models.PlanTrial; config stays import-free of the model
// layer.
const PlanTrial = "trial"

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "your-secret-key-change-in-production" && c.Environment == "production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Password == "" && c.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}

	if _, ok := c.Plans.Plans["starter"]; !ok {
		return fmt.Errorf("plan table must define the starter fallback plan")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
