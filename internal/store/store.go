// internal/store/store.go
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/keyhaven/licensing-backend/internal/models"
)

// ErrNotFound distinguishes a missing row from an infrastructure failure.
// The reconciliation engine maps it to a business result; every other error
// propagates so the transport layer can trigger provider-side retry.
var ErrNotFound = errors.New("record not found")

// EntityStore is the persistence boundary consumed by the reconciliation
// engine. The conditional mutations return whether a row actually changed;
// that flag is the idempotency gate, re-validated at write time against the
// freshest persisted state rather than a value read earlier in the same call.
type EntityStore interface {
	GetInvoiceByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	GetSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	GetSubscriptionByProviderRef(ctx context.Context, provider models.PaymentProvider, providerSubID string) (*models.Subscription, error)
	GetActiveNonTrialLicense(ctx context.Context, customerID uuid.UUID) (*models.License, error)
	GetActiveTrialLicense(ctx context.Context, customerID uuid.UUID) (*models.License, error)

	// MarkInvoicePaid performs "set paid where status = open". A false return
	// with nil error means another delivery already won the transition.
	MarkInvoicePaid(ctx context.Context, id uuid.UUID, provider models.PaymentProvider, providerRef string, paidAt time.Time) (bool, error)

	// UpdateSubscriptionStatus transitions only when the current status is one
	// of from; cancelled stays terminal because it is never listed in from.
	UpdateSubscriptionStatus(ctx context.Context, id uuid.UUID, to models.SubscriptionStatus, from ...models.SubscriptionStatus) (bool, error)

	// CancelSubscription is the terminal transition: records the cancel
	// timestamp and clears the cancel-at-period-end flag.
	CancelSubscription(ctx context.Context, id uuid.UUID, cancelledAt time.Time) (bool, error)

	InsertPayment(ctx context.Context, payment *models.Payment) error

	// InsertLicenseIfAbsent inserts unless the partial unique index (one
	// active non-trial license per customer) rejects it. Returns whether the
	// row was created.
	InsertLicenseIfAbsent(ctx context.Context, license *models.License) (bool, error)

	InsertLicenseEvent(ctx context.Context, event *models.LicenseEvent) error

	// RevokeLicense transitions active -> revoked; a no-op on any other state.
	RevokeLicense(ctx context.Context, id uuid.UUID, revokedAt time.Time) (bool, error)

	RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) error
}
