// internal/services/event_router.go
package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/keyhaven/licensing-backend/internal/models"
)

// stripeEventKinds and paypalEventKinds are the exhaustive routing tables.
// Anything absent routes to KindUnrecognized, which is acknowledged as a
// successful no-op: providers send many event types this service does not act
// on, and surfacing them as failures would trip provider retry loops.
var stripeEventKinds = map[string]EventKind{
	"checkout.session.completed":    KindPaymentCompleted,
	"invoice.payment_succeeded":     KindPaymentCompleted,
	"payment_intent.succeeded":      KindPaymentCompleted,
	"invoice.payment_failed":        KindPaymentFailed,
	"payment_intent.payment_failed": KindPaymentFailed,
	"customer.subscription.deleted": KindSubscriptionCancelled,
	"customer.subscription.updated": KindSubscriptionSuspended,
	"customer.subscription.paused":  KindSubscriptionSuspended,
}

var paypalEventKinds = map[string]EventKind{
	"PAYMENT.CAPTURE.COMPLETED":      KindPaymentCompleted,
	"PAYMENT.SALE.COMPLETED":         KindPaymentCompleted,
	"CHECKOUT.ORDER.COMPLETED":       KindPaymentCompleted,
	"PAYMENT.CAPTURE.DENIED":         KindPaymentFailed,
	"PAYMENT.SALE.DENIED":            KindPaymentFailed,
	"BILLING.SUBSCRIPTION.CANCELLED": KindSubscriptionCancelled,
	"BILLING.SUBSCRIPTION.EXPIRED":   KindSubscriptionCancelled,
	"BILLING.SUBSCRIPTION.SUSPENDED": KindSubscriptionSuspended,
	"BILLING.SUBSCRIPTION.UPDATED":   KindSubscriptionSuspended,
}

func classifyEventType(provider models.PaymentProvider, eventType string) EventKind {
	var table map[string]EventKind
	switch provider {
	case models.ProviderStripe:
		table = stripeEventKinds
	case models.ProviderPayPal:
		table = paypalEventKinds
	default:
		return KindUnrecognized
	}

	if kind, ok := table[eventType]; ok {
		return kind
	}
	return KindUnrecognized
}

// EventRouter selects the reconciliation handler for a normalized event.
type EventRouter struct {
	engine *ReconciliationService
}

func NewEventRouter(engine *ReconciliationService) *EventRouter {
	return &EventRouter{engine: engine}
}

// Route dispatches to the matching handler. The returned error is reserved
// for infrastructure failures; every expected business condition arrives as a
// ProcessResult.
func (r *EventRouter) Route(ctx context.Context, event *NormalizedEvent) (*ProcessResult, error) {
	switch event.Kind {
	case KindPaymentCompleted:
		return r.engine.HandlePaymentCompleted(ctx, event)
	case KindPaymentFailed:
		return r.engine.HandlePaymentFailed(ctx, event)
	case KindSubscriptionCancelled:
		return r.engine.HandleSubscriptionCancelled(ctx, event)
	case KindSubscriptionSuspended:
		return r.engine.HandleSubscriptionSuspended(ctx, event)
	default:
		logrus.WithFields(logrus.Fields{
			"provider":   event.Provider,
			"event_type": event.EventType,
			"event_id":   event.EventID,
		}).Debug("Ignoring unrecognized webhook event type")

		return &ProcessResult{
			Success:   true,
			Processed: false,
			Message:   "ignored",
		}, nil
	}
}
