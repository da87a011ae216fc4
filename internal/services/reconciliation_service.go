// internal/services/reconciliation_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/keyhaven/licensing-backend/internal/config"
	"github.com/keyhaven/licensing-backend/internal/models"
	"github.com/keyhaven/licensing-backend/internal/store"
	"github.com/keyhaven/licensing-backend/internal/utils"
)

// ProcessResult is the outcome contract returned for every delivery. It is
// always returned without panicking for expected business conditions; only
// infrastructure failures surface as Go errors so the transport layer can
// trigger provider-side retry.
type ProcessResult struct {
	Success        bool       `json:"success"`
	Processed      bool       `json:"processed"`
	Message        string     `json:"message"`
	InvoiceID      *uuid.UUID `json:"updated_invoice_id,omitempty"`
	SubscriptionID *uuid.UUID `json:"updated_subscription_id,omitempty"`
	PaymentID      *uuid.UUID `json:"created_payment_id,omitempty"`
	LicenseID      *uuid.UUID `json:"created_license_id,omitempty"`
}

// PaymentCompletedNotice carries a completed reconciliation outcome to
// downstream observers.
type PaymentCompletedNotice struct {
	InvoiceID   uuid.UUID
	CustomerID  uuid.UUID
	AmountCents int64
	Currency    string
	LicenseID   *uuid.UUID
}

type SubscriptionCancelledNotice struct {
	SubscriptionID uuid.UUID
	CustomerID     uuid.UUID
	PlanID         string
}

// NotificationSink delivers reconciliation outcomes downstream. Delivery is
// fire-and-forget: errors are logged by the engine and never roll back entity
// mutations already committed.
type NotificationSink interface {
	NotifyPaymentCompleted(ctx context.Context, notice PaymentCompletedNotice) error
	NotifySubscriptionCancelled(ctx context.Context, notice SubscriptionCancelledNotice) error
}

// KeyGenerator produces an opaque, collision-free license key. Pure from the
// engine's perspective.
type KeyGenerator func(prefix string) (string, error)

// ReconciliationService converts normalized provider events into idempotent
// transitions of invoices, subscriptions, licenses and payments. Deliveries
// are at-least-once and unordered, so every mutating step re-validates its
// precondition through the store's conditional primitives instead of trusting
// state read earlier in the same call.
type ReconciliationService struct {
	store  store.EntityStore
	sink   NotificationSink
	plans  config.PlanConfig
	keyGen KeyGenerator
	now    func() time.Time
}

func NewReconciliationService(entityStore store.EntityStore, sink NotificationSink, plans config.PlanConfig) *ReconciliationService {
	return &ReconciliationService{
		store:  entityStore,
		sink:   sink,
		plans:  plans,
		keyGen: utils.GenerateLicenseKey,
		now:    time.Now,
	}
}

// WithClock overrides the engine clock; used by tests.
func (s *ReconciliationService) WithClock(now func() time.Time) *ReconciliationService {
	s.now = now
	return s
}

// WithKeyGenerator overrides the license key generator.
func (s *ReconciliationService) WithKeyGenerator(gen KeyGenerator) *ReconciliationService {
	s.keyGen = gen
	return s
}

// HandlePaymentCompleted reconciles a provider-reported successful payment:
// invoice -> paid, subscription -> active, one payment row, license issuance,
// trial revocation, one completion notification. Replays stop at the
// conditional invoice write and mutate nothing further.
func (s *ReconciliationService) HandlePaymentCompleted(ctx context.Context, event *NormalizedEvent) (*ProcessResult, error) {
	invoiceID, err := uuid.Parse(event.CorrelationID)
	if err != nil {
		return &ProcessResult{Success: false, Message: "correlation not found"}, nil
	}

	invoice, err := s.store.GetInvoiceByID(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &ProcessResult{Success: false, Message: "correlation not found"}, nil
		}
		return nil, err
	}

	// Idempotency gate, re-validated at write time: the conditional update
	// only succeeds while the invoice is still open, so out of any number of
	// concurrent duplicate deliveries exactly one proceeds past this point.
	updated, err := s.store.MarkInvoicePaid(ctx, invoice.ID, event.Provider, event.ProviderRef, s.now())
	if err != nil {
		return nil, err
	}
	if !updated {
		s.log(event).Info("Invoice already paid, replay acknowledged")
		return &ProcessResult{
			Success:   true,
			Processed: false,
			Message:   "invoice already paid",
			InvoiceID: &invoice.ID,
		}, nil
	}

	result := &ProcessResult{
		Success:   true,
		Processed: true,
		Message:   "payment reconciled",
		InvoiceID: &invoice.ID,
	}

	// Subscription activation. Cancelled is terminal and deliberately absent
	// from the allowed source states; past_due reactivates here, which is the
	// only path out of suspension.
	var subscription *models.Subscription
	if invoice.SubscriptionID != nil {
		if _, err := s.store.UpdateSubscriptionStatus(ctx, *invoice.SubscriptionID, models.SubscriptionStatusActive,
			models.SubscriptionStatusPending, models.SubscriptionStatusPastDue); err != nil {
			return nil, err
		}
		result.SubscriptionID = invoice.SubscriptionID

		subscription, err = s.store.GetSubscriptionByID(ctx, *invoice.SubscriptionID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	// Exactly one payment row per traversal; duplicate deliveries never reach
	// this point.
	payment := &models.Payment{
		Provider:          event.Provider,
		ProviderPaymentID: event.ProviderRef,
		AmountCents:       event.AmountCents,
		Currency:          event.Currency,
		Status:            models.PaymentStatusSucceeded,
		InvoiceID:         &invoice.ID,
		SubscriptionID:    invoice.SubscriptionID,
	}
	if payment.AmountCents == 0 {
		payment.AmountCents = invoice.AmountCents
	}
	if payment.Currency == "" {
		payment.Currency = invoice.Currency
	}
	if err := s.store.InsertPayment(ctx, payment); err != nil {
		return nil, err
	}
	result.PaymentID = &payment.ID

	licenseID, err := s.issueLicense(ctx, event, invoice, subscription)
	if err != nil {
		return nil, err
	}
	result.LicenseID = licenseID

	// Trial revocation runs after issuance regardless of whether issuance
	// happened in this call, so trial cleanup also lands on redeliveries that
	// find the paid license already in place.
	if err := s.revokeTrial(ctx, event, invoice.CustomerID); err != nil {
		return nil, err
	}

	notice := PaymentCompletedNotice{
		InvoiceID:   invoice.ID,
		CustomerID:  invoice.CustomerID,
		AmountCents: payment.AmountCents,
		Currency:    payment.Currency,
		LicenseID:   licenseID,
	}
	if err := s.sink.NotifyPaymentCompleted(ctx, notice); err != nil {
		s.log(event).WithError(err).Warn("Payment completed notification failed")
	}

	s.log(event).WithFields(logrus.Fields{
		"invoice_id": invoice.ID,
		"payment_id": payment.ID,
	}).Info("Payment reconciled")

	return result, nil
}

// issueLicense creates the customer's paid license unless one already exists.
// The storage-level conditional insert, not the preceding read, is what makes
// this safe against a concurrent delivery for the same customer.
func (s *ReconciliationService) issueLicense(ctx context.Context, event *NormalizedEvent, invoice *models.Invoice, subscription *models.Subscription) (*uuid.UUID, error) {
	_, err := s.store.GetActiveNonTrialLicense(ctx, invoice.CustomerID)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	plan := "starter"
	if subscription != nil {
		plan = subscription.PlanID
	}
	spec := s.plans.Spec(plan)

	now := s.now()
	validUntil := now.AddDate(0, 0, spec.PeriodDays)
	if subscription != nil && subscription.CurrentPeriodEnd != nil && subscription.CurrentPeriodEnd.After(now) {
		validUntil = *subscription.CurrentPeriodEnd
	}

	key, err := s.keyGen(s.plans.KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to generate license key: %w", err)
	}

	license := &models.License{
		Status:     models.LicenseStatusActive,
		Plan:       plan,
		Key:        key,
		MaxDevices: spec.MaxDevices,
		Features:   spec.Features,
		ValidFrom:  now,
		ValidUntil: validUntil,
		CustomerID: invoice.CustomerID,
	}

	created, err := s.store.InsertLicenseIfAbsent(ctx, license)
	if err != nil {
		return nil, err
	}
	if !created {
		// Lost the insert race to a concurrent delivery; their license stands.
		return nil, nil
	}

	licenseEvent := &models.LicenseEvent{
		LicenseID: license.ID,
		EventType: models.LicenseEventCreated,
		Metadata: models.JSONB{
			"invoice_id":        invoice.ID.String(),
			"provider":          string(event.Provider),
			"provider_event_id": event.EventID,
		},
	}
	if err := s.store.InsertLicenseEvent(ctx, licenseEvent); err != nil {
		return nil, err
	}

	s.log(event).WithFields(logrus.Fields{
		"license_id":  license.ID,
		"customer_id": invoice.CustomerID,
		"plan":        plan,
	}).Info("License issued")

	return &license.ID, nil
}

func (s *ReconciliationService) revokeTrial(ctx context.Context, event *NormalizedEvent, customerID uuid.UUID) error {
	trial, err := s.store.GetActiveTrialLicense(ctx, customerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	revoked, err := s.store.RevokeLicense(ctx, trial.ID, s.now())
	if err != nil {
		return err
	}
	if !revoked {
		return nil
	}

	licenseEvent := &models.LicenseEvent{
		LicenseID: trial.ID,
		EventType: models.LicenseEventRevoked,
		Metadata: models.JSONB{
			"reason":            "superseded_by_paid_plan",
			"provider":          string(event.Provider),
			"provider_event_id": event.EventID,
		},
	}
	if err := s.store.InsertLicenseEvent(ctx, licenseEvent); err != nil {
		return err
	}

	s.log(event).WithField("license_id", trial.ID).Info("Trial license revoked")
	return nil
}

// HandlePaymentFailed records a provider-reported charge failure without
// touching invoice state: the invoice stays open and retryable because the
// provider or the customer may retry the charge. Advisory, always a success.
func (s *ReconciliationService) HandlePaymentFailed(ctx context.Context, event *NormalizedEvent) (*ProcessResult, error) {
	invoiceID, err := uuid.Parse(event.CorrelationID)
	if err != nil {
		return &ProcessResult{Success: true, Processed: false, Message: "correlation not found"}, nil
	}

	invoice, err := s.store.GetInvoiceByID(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &ProcessResult{Success: true, Processed: false, Message: "correlation not found"}, nil
		}
		return nil, err
	}

	s.log(event).WithFields(logrus.Fields{
		"invoice_id": invoice.ID,
		"status":     invoice.Status,
	}).Warn("Provider reported payment failure, invoice left open")

	return &ProcessResult{
		Success:   true,
		Processed: true,
		Message:   "payment failure recorded",
		InvoiceID: &invoice.ID,
	}, nil
}

// HandleSubscriptionCancelled applies the terminal cancellation transition.
// Correlation is by provider subscription id, not by invoice.
func (s *ReconciliationService) HandleSubscriptionCancelled(ctx context.Context, event *NormalizedEvent) (*ProcessResult, error) {
	subscription, err := s.store.GetSubscriptionByProviderRef(ctx, event.Provider, event.ProviderRef)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &ProcessResult{Success: false, Message: "subscription not found"}, nil
		}
		return nil, err
	}

	cancelled, err := s.store.CancelSubscription(ctx, subscription.ID, s.now())
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return &ProcessResult{
			Success:        true,
			Processed:      false,
			Message:        "subscription already cancelled",
			SubscriptionID: &subscription.ID,
		}, nil
	}

	notice := SubscriptionCancelledNotice{
		SubscriptionID: subscription.ID,
		CustomerID:     subscription.CustomerID,
		PlanID:         subscription.PlanID,
	}
	if err := s.sink.NotifySubscriptionCancelled(ctx, notice); err != nil {
		s.log(event).WithError(err).Warn("Subscription cancelled notification failed")
	}

	s.log(event).WithField("subscription_id", subscription.ID).Info("Subscription cancelled")

	return &ProcessResult{
		Success:        true,
		Processed:      true,
		Message:        "subscription cancelled",
		SubscriptionID: &subscription.ID,
	}, nil
}

// HandleSubscriptionSuspended moves a subscription to past_due, a reversible
// holding state. Reactivation happens only through a later payment-completed
// event; there is no separate "resumed" event kind.
func (s *ReconciliationService) HandleSubscriptionSuspended(ctx context.Context, event *NormalizedEvent) (*ProcessResult, error) {
	subscription, err := s.store.GetSubscriptionByProviderRef(ctx, event.Provider, event.ProviderRef)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &ProcessResult{Success: false, Message: "subscription not found"}, nil
		}
		return nil, err
	}

	suspended, err := s.store.UpdateSubscriptionStatus(ctx, subscription.ID, models.SubscriptionStatusPastDue,
		models.SubscriptionStatusPending, models.SubscriptionStatusActive)
	if err != nil {
		return nil, err
	}
	if !suspended {
		// Already past_due, or cancelled and therefore terminal.
		return &ProcessResult{
			Success:        true,
			Processed:      false,
			Message:        "subscription not suspendable",
			SubscriptionID: &subscription.ID,
		}, nil
	}

	s.log(event).WithField("subscription_id", subscription.ID).Info("Subscription suspended")

	return &ProcessResult{
		Success:        true,
		Processed:      true,
		Message:        "subscription suspended",
		SubscriptionID: &subscription.ID,
	}, nil
}

func (s *ReconciliationService) log(event *NormalizedEvent) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"provider":   event.Provider,
		"event_type": event.EventType,
		"event_id":   event.EventID,
	})
}
