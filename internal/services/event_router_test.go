// internal/services/event_router_test.go
package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyhaven/licensing-backend/internal/models"
)

func TestClassifyEventType(t *testing.T) {
	cases := []struct {
		provider  models.PaymentProvider
		eventType string
		want      EventKind
	}{
		{models.ProviderStripe, "checkout.session.completed", KindPaymentCompleted},
		{models.ProviderStripe, "invoice.payment_succeeded", KindPaymentCompleted},
		{models.ProviderStripe, "payment_intent.succeeded", KindPaymentCompleted},
		{models.ProviderStripe, "invoice.payment_failed", KindPaymentFailed},
		{models.ProviderStripe, "customer.subscription.deleted", KindSubscriptionCancelled},
		{models.ProviderStripe, "customer.subscription.paused", KindSubscriptionSuspended},
		{models.ProviderStripe, "customer.created", KindUnrecognized},
		{models.ProviderPayPal, "PAYMENT.CAPTURE.COMPLETED", KindPaymentCompleted},
		{models.ProviderPayPal, "PAYMENT.SALE.COMPLETED", KindPaymentCompleted},
		{models.ProviderPayPal, "PAYMENT.CAPTURE.DENIED", KindPaymentFailed},
		{models.ProviderPayPal, "BILLING.SUBSCRIPTION.CANCELLED", KindSubscriptionCancelled},
		{models.ProviderPayPal, "BILLING.SUBSCRIPTION.SUSPENDED", KindSubscriptionSuspended},
		{models.ProviderPayPal, "CUSTOMER.DISPUTE.CREATED", KindUnrecognized},
		{models.PaymentProvider("square"), "anything", KindUnrecognized},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyEventType(tc.provider, tc.eventType),
			"%s %s", tc.provider, tc.eventType)
	}
}

func TestRouteUnrecognizedIsAcknowledgedNoOp(t *testing.T) {
	memStore := newMemStore()
	sink := &fakeSink{}
	router := NewEventRouter(NewReconciliationService(memStore, sink, testPlans()))

	snap := memStore.snapshot()

	result, err := router.Route(context.Background(), &NormalizedEvent{
		Provider:  models.ProviderStripe,
		Kind:      KindUnrecognized,
		EventID:   "evt_noise",
		EventType: "customer.created",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.Processed)
	assert.Equal(t, "ignored", result.Message)
	assert.Equal(t, snap, memStore.snapshot())
	assert.Empty(t, sink.payments)
}

func TestRouteDispatchesToHandlers(t *testing.T) {
	memStore := newMemStore()
	sink := &fakeSink{}
	router := NewEventRouter(NewReconciliationService(memStore, sink, testPlans()))

	customerID := uuid.New()
	invoice := &models.Invoice{
		Status:      models.InvoiceStatusOpen,
		AmountCents: 2500,
		Currency:    "USD",
		CustomerID:  customerID,
		OrgID:       uuid.New(),
	}
	memStore.addInvoice(invoice)

	result, err := router.Route(context.Background(), &NormalizedEvent{
		Provider:      models.ProviderPayPal,
		Kind:          KindPaymentCompleted,
		EventID:       "WH-9",
		EventType:     "PAYMENT.CAPTURE.COMPLETED",
		CorrelationID: invoice.ID.String(),
		ProviderRef:   "CAPTURE-9",
		AmountCents:   2500,
		Currency:      "USD",
	})
	require.NoError(t, err)

	assert.True(t, result.Processed)
	assert.Equal(t, models.InvoiceStatusPaid, memStore.invoices[invoice.ID].Status)
}
