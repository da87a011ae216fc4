// internal/services/notification_service.go
package services

import (
	"context"
	"fmt"
	"net/smtp"

	"gorm.io/gorm"

	"github.com/keyhaven/licensing-backend/internal/config"
	"github.com/keyhaven/licensing-backend/internal/models"
)

// NotificationService persists reconciliation outcomes as notification rows
// and mails the affected customer. It implements NotificationSink; callers
// treat delivery as fire-and-forget.
type NotificationService struct {
	db     *gorm.DB
	config *config.Config
}

func NewNotificationService(db *gorm.DB, config *config.Config) *NotificationService {
	return &NotificationService{
		db:     db,
		config: config,
	}
}

func (s *NotificationService) NotifyPaymentCompleted(ctx context.Context, notice PaymentCompletedNotice) error {
	data := models.JSONB{
		"invoice_id":   notice.InvoiceID.String(),
		"amount_cents": notice.AmountCents,
		"currency":     notice.Currency,
	}
	if notice.LicenseID != nil {
		data["license_id"] = notice.LicenseID.String()
	}

	notification := &models.Notification{
		CustomerID:          notice.CustomerID,
		Type:                "payment_completed",
		Title:               "Payment received",
		Message:             fmt.Sprintf("Your payment of %s %.2f has been received.", notice.Currency, float64(notice.AmountCents)/100),
		Data:                data,
		RelatedResourceType: "invoice",
		RelatedResourceID:   &notice.InvoiceID,
	}

	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	var customer models.Customer
	if err := s.db.WithContext(ctx).First(&customer, "id = ?", notice.CustomerID).Error; err != nil {
		return fmt.Errorf("failed to load customer for notification: %w", err)
	}

	body := notification.Message
	if notice.LicenseID != nil {
		body += " Your license is now active."
	}

	return s.sendEmail(customer.Email, notification.Title, body)
}

func (s *NotificationService) NotifySubscriptionCancelled(ctx context.Context, notice SubscriptionCancelledNotice) error {
	notification := &models.Notification{
		CustomerID: notice.CustomerID,
		Type:       "subscription_cancelled",
		Title:      "Subscription cancelled",
		Message:    fmt.Sprintf("Your %s subscription has been cancelled.", notice.PlanID),
		Data: models.JSONB{
			"subscription_id": notice.SubscriptionID.String(),
			"plan_id":         notice.PlanID,
		},
		RelatedResourceType: "subscription",
		RelatedResourceID:   &notice.SubscriptionID,
	}

	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	var customer models.Customer
	if err := s.db.WithContext(ctx).First(&customer, "id = ?", notice.CustomerID).Error; err != nil {
		return fmt.Errorf("failed to load customer for notification: %w", err)
	}

	return s.sendEmail(customer.Email, notification.Title, notification.Message)
}

func (s *NotificationService) sendEmail(to, subject, body string) error {
	if s.config.Email.SMTPUsername == "" {
		// SMTP not configured; the notification row alone satisfies delivery.
		return nil
	}

	auth := smtp.PlainAuth("", s.config.Email.SMTPUsername, s.config.Email.SMTPPassword, s.config.Email.SMTPHost)

	msg := fmt.Sprintf("From: %s <%s>\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		s.config.Email.FromName, s.config.Email.FromEmail, to, subject, body)

	addr := s.config.Email.SMTPHost + ":" + s.config.Email.SMTPPort
	if err := smtp.SendMail(addr, auth, s.config.Email.FromEmail, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}
