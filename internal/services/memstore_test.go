// internal/services/memstore_test.go
package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keyhaven/licensing-backend/internal/models"
	"github.com/keyhaven/licensing-backend/internal/store"
)

// memStore is an in-memory EntityStore whose conditional mutations mirror the
// write-time re-validation the SQL implementation gets from conditional
// UPDATEs and the partial unique index.
type memStore struct {
	mu            sync.Mutex
	invoices      map[uuid.UUID]*models.Invoice
	subscriptions map[uuid.UUID]*models.Subscription
	licenses      map[uuid.UUID]*models.License
	payments      []*models.Payment
	licenseEvents []*models.LicenseEvent
	webhookEvents []*models.WebhookEvent
}

func newMemStore() *memStore {
	return &memStore{
		invoices:      make(map[uuid.UUID]*models.Invoice),
		subscriptions: make(map[uuid.UUID]*models.Subscription),
		licenses:      make(map[uuid.UUID]*models.License),
	}
}

func (m *memStore) addInvoice(inv *models.Invoice) {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	m.invoices[inv.ID] = inv
}

func (m *memStore) addSubscription(sub *models.Subscription) {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	m.subscriptions[sub.ID] = sub
}

func (m *memStore) addLicense(lic *models.License) {
	if lic.ID == uuid.Nil {
		lic.ID = uuid.New()
	}
	m.licenses[lic.ID] = lic
}

func (m *memStore) GetInvoiceByID(_ context.Context, id uuid.UUID) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *inv
	return &copied, nil
}

func (m *memStore) GetSubscriptionByID(_ context.Context, id uuid.UUID) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *sub
	return &copied, nil
}

func (m *memStore) GetSubscriptionByProviderRef(_ context.Context, provider models.PaymentProvider, providerSubID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subscriptions {
		if sub.Provider == provider && sub.ProviderSubID == providerSubID && providerSubID != "" {
			copied := *sub
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) GetActiveNonTrialLicense(_ context.Context, customerID uuid.UUID) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lic := range m.licenses {
		if lic.CustomerID == customerID && lic.Status == models.LicenseStatusActive && !lic.IsTrial() {
			copied := *lic
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) GetActiveTrialLicense(_ context.Context, customerID uuid.UUID) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lic := range m.licenses {
		if lic.CustomerID == customerID && lic.Status == models.LicenseStatusActive && lic.IsTrial() {
			copied := *lic
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) MarkInvoicePaid(_ context.Context, id uuid.UUID, provider models.PaymentProvider, providerRef string, paidAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok || inv.Status != models.InvoiceStatusOpen {
		return false, nil
	}
	inv.Status = models.InvoiceStatusPaid
	inv.Provider = provider
	inv.ProviderRef = providerRef
	inv.PaidAt = &paidAt
	return true, nil
}

func (m *memStore) UpdateSubscriptionStatus(_ context.Context, id uuid.UUID, to models.SubscriptionStatus, from ...models.SubscriptionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if sub.Status == f {
			sub.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CancelSubscription(_ context.Context, id uuid.UUID, cancelledAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[id]
	if !ok || sub.Status == models.SubscriptionStatusCancelled {
		return false, nil
	}
	sub.Status = models.SubscriptionStatusCancelled
	sub.CancelledAt = &cancelledAt
	sub.CancelAtPeriodEnd = false
	return true, nil
}

func (m *memStore) InsertPayment(_ context.Context, payment *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	copied := *payment
	m.payments = append(m.payments, &copied)
	return nil
}

func (m *memStore) InsertLicenseIfAbsent(_ context.Context, license *models.License) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !license.IsTrial() && license.Status == models.LicenseStatusActive {
		for _, existing := range m.licenses {
			if existing.CustomerID == license.CustomerID &&
				existing.Status == models.LicenseStatusActive && !existing.IsTrial() {
				return false, nil
			}
		}
	}
	if license.ID == uuid.Nil {
		license.ID = uuid.New()
	}
	copied := *license
	m.licenses[license.ID] = &copied
	return true, nil
}

func (m *memStore) InsertLicenseEvent(_ context.Context, event *models.LicenseEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	copied := *event
	m.licenseEvents = append(m.licenseEvents, &copied)
	return nil
}

func (m *memStore) RevokeLicense(_ context.Context, id uuid.UUID, revokedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lic, ok := m.licenses[id]
	if !ok || lic.Status != models.LicenseStatusActive {
		return false, nil
	}
	lic.Status = models.LicenseStatusRevoked
	lic.RevokedAt = &revokedAt
	return true, nil
}

func (m *memStore) RecordWebhookEvent(_ context.Context, event *models.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *event
	m.webhookEvents = append(m.webhookEvents, &copied)
	return nil
}

// snapshot captures entity state for no-mutation assertions.
type storeSnapshot struct {
	invoices      map[uuid.UUID]models.Invoice
	subscriptions map[uuid.UUID]models.Subscription
	licenses      map[uuid.UUID]models.License
	payments      int
	licenseEvents int
}

func (m *memStore) snapshot() storeSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := storeSnapshot{
		invoices:      make(map[uuid.UUID]models.Invoice, len(m.invoices)),
		subscriptions: make(map[uuid.UUID]models.Subscription, len(m.subscriptions)),
		licenses:      make(map[uuid.UUID]models.License, len(m.licenses)),
		payments:      len(m.payments),
		licenseEvents: len(m.licenseEvents),
	}
	for id, inv := range m.invoices {
		snap.invoices[id] = *inv
	}
	for id, sub := range m.subscriptions {
		snap.subscriptions[id] = *sub
	}
	for id, lic := range m.licenses {
		snap.licenses[id] = *lic
	}
	return snap
}

// fakeSink records notifications; optionally fails to verify that delivery
// errors never affect the reconciliation outcome.
type fakeSink struct {
	mu         sync.Mutex
	payments   []PaymentCompletedNotice
	cancels    []SubscriptionCancelledNotice
	failNotify bool
}

func (f *fakeSink) NotifyPaymentCompleted(_ context.Context, notice PaymentCompletedNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNotify {
		return context.DeadlineExceeded
	}
	f.payments = append(f.payments, notice)
	return nil
}

func (f *fakeSink) NotifySubscriptionCancelled(_ context.Context, notice SubscriptionCancelledNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNotify {
		return context.DeadlineExceeded
	}
	f.cancels = append(f.cancels, notice)
	return nil
}
