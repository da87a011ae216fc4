// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/keyhaven/licensing-backend/internal/config"
	"github.com/keyhaven/licensing-backend/internal/handlers"
	"github.com/keyhaven/licensing-backend/internal/middleware"
	"github.com/keyhaven/licensing-backend/internal/services"
	"github.com/keyhaven/licensing-backend/internal/store"
	"github.com/keyhaven/licensing-backend/internal/utils"
)

func Initialize(db *gorm.DB, cfg *config.Config) *gin.Engine {
	// Initialize services
	entityStore := store.NewGormStore(db)
	notificationService := services.NewNotificationService(db, cfg)
	archiveService, err := services.NewArchiveService(cfg)
	if err != nil {
		logrus.WithError(err).Warn("Payload archival unavailable")
	}

	engine := services.NewReconciliationService(entityStore, notificationService, cfg.Plans)
	eventRouter := services.NewEventRouter(engine)
	normalizer := services.NewProviderNormalizer()

	authService := services.NewAuthService(db, cfg)
	checkoutService := services.NewCheckoutService(db, cfg)
	licenseService := services.NewLicenseService(db, cfg)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	webhookHandler := handlers.NewWebhookHandler(normalizer, eventRouter, entityStore, archiveService)
	checkoutHandler := handlers.NewCheckoutHandler(checkoutService)
	licenseHandler := handlers.NewLicenseHandler(licenseService)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS())
	r.Use(middleware.GeneralRateLimit())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Authentication routes
		auth := v1.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		// Provider webhook ingress
		webhooks := v1.Group("/webhooks")
		webhooks.Use(middleware.WebhookRateLimit())
		{
			webhooks.POST("/:provider", webhookHandler.HandleWebhook)
		}

		// Checkout routes
		checkout := v1.Group("/checkout")
		checkout.Use(middleware.AuthRequired(), middleware.CheckoutRateLimit())
		{
			checkout.POST("", checkoutHandler.CreateCheckout)
		}

		// License routes
		licenses := v1.Group("/licenses")
		{
			licenses.GET("/:key/verify", licenseHandler.VerifyLicense)

			protected := licenses.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.GET("", licenseHandler.GetLicenses)
				protected.POST("/trial", licenseHandler.IssueTrialLicense)
			}
		}

		// Payment history
		payments := v1.Group("/payments")
		payments.Use(middleware.AuthRequired())
		{
			payments.GET("", licenseHandler.GetPayments)
		}
	}

	return r
}
