// internal/services/reconciliation_service_test.go
package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/keyhaven/licensing-backend/internal/config"
	"github.com/keyhaven/licensing-backend/internal/models"
)

type ReconciliationTestSuite struct {
	suite.Suite
	store  *memStore
	sink   *fakeSink
	engine *ReconciliationService
	now    time.Time

	customerID     uuid.UUID
	orgID          uuid.UUID
	invoiceID      uuid.UUID
	subscriptionID uuid.UUID
}

func testPlans() config.PlanConfig {
	return config.PlanConfig{
		KeyPrefix: "KH",
		Plans: map[string]config.PlanSpec{
			models.PlanTrial: {MaxDevices: 1, PeriodDays: 14, Features: []string{"core"}},
			"starter":        {MaxDevices: 3, PeriodDays: 30, Features: []string{"core", "sync"}},
			"pro":            {MaxDevices: 10, PeriodDays: 30, Features: []string{"core", "sync", "priority_support"}},
		},
	}
}

func (suite *ReconciliationTestSuite) SetupTest() {
	suite.store = newMemStore()
	suite.sink = &fakeSink{}
	suite.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	keyCounter := 0
	suite.engine = NewReconciliationService(suite.store, suite.sink, testPlans()).
		WithClock(func() time.Time { return suite.now }).
		WithKeyGenerator(func(prefix string) (string, error) {
			keyCounter++
			return fmt.Sprintf("%s-TEST-%04d", prefix, keyCounter), nil
		})

	suite.customerID = uuid.New()
	suite.orgID = uuid.New()

	periodEnd := suite.now.AddDate(0, 1, 0)
	sub := &models.Subscription{
		Status:           models.SubscriptionStatusPending,
		PlanID:           "pro",
		CustomerID:       suite.customerID,
		OrgID:            suite.orgID,
		Provider:         models.ProviderStripe,
		ProviderSubID:    "sub_123",
		CurrentPeriodEnd: &periodEnd,
	}
	suite.store.addSubscription(sub)
	suite.subscriptionID = sub.ID

	inv := &models.Invoice{
		Status:         models.InvoiceStatusOpen,
		AmountCents:    4900,
		Currency:       "USD",
		OrgID:          suite.orgID,
		CustomerID:     suite.customerID,
		SubscriptionID: &sub.ID,
	}
	suite.store.addInvoice(inv)
	suite.invoiceID = inv.ID
}

func (suite *ReconciliationTestSuite) paymentEvent() *NormalizedEvent {
	return &NormalizedEvent{
		Provider:      models.ProviderStripe,
		Kind:          KindPaymentCompleted,
		EventID:       "evt_1",
		EventType:     "checkout.session.completed",
		CorrelationID: suite.invoiceID.String(),
		ProviderRef:   "cs_123",
		AmountCents:   4900,
		Currency:      "USD",
	}
}

func (suite *ReconciliationTestSuite) TestPaymentCompletedCascade() {
	result, err := suite.engine.HandlePaymentCompleted(context.Background(), suite.paymentEvent())
	suite.NoError(err)
	suite.True(result.Success)
	suite.True(result.Processed)
	suite.NotNil(result.LicenseID)
	suite.NotNil(result.PaymentID)

	inv := suite.store.invoices[suite.invoiceID]
	suite.Equal(models.InvoiceStatusPaid, inv.Status)
	suite.Equal("cs_123", inv.ProviderRef)
	suite.NotNil(inv.PaidAt)

	sub := suite.store.subscriptions[suite.subscriptionID]
	suite.Equal(models.SubscriptionStatusActive, sub.Status)

	suite.Len(suite.store.payments, 1)
	suite.Equal(int64(4900), suite.store.payments[0].AmountCents)
	suite.Equal(models.PaymentStatusSucceeded, suite.store.payments[0].Status)

	license := suite.store.licenses[*result.LicenseID]
	suite.Equal("pro", license.Plan)
	suite.Equal(10, license.MaxDevices)
	suite.Equal(models.LicenseStatusActive, license.Status)
	// Validity follows the subscription period when it extends past now
	suite.Equal(suite.now.AddDate(0, 1, 0), license.ValidUntil)

	suite.Len(suite.sink.payments, 1)
	suite.Equal(suite.invoiceID, suite.sink.payments[0].InvoiceID)
}

func (suite *ReconciliationTestSuite) TestPaymentCompletedReplayIsNoOp() {
	ctx := context.Background()
	first, err := suite.engine.HandlePaymentCompleted(ctx, suite.paymentEvent())
	suite.NoError(err)
	suite.True(first.Processed)

	snap := suite.store.snapshot()

	replay := suite.paymentEvent()
	replay.EventID = "evt_1_redelivery"
	second, err := suite.engine.HandlePaymentCompleted(ctx, replay)
	suite.NoError(err)
	suite.True(second.Success)
	suite.False(second.Processed)
	suite.Equal("invoice already paid", second.Message)

	suite.Equal(snap, suite.store.snapshot())
	suite.Len(suite.sink.payments, 1)
}

func (suite *ReconciliationTestSuite) TestConcurrentDuplicateDeliveries() {
	ctx := context.Background()
	var wg sync.WaitGroup
	results := make([]*ProcessResult, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := suite.engine.HandlePaymentCompleted(ctx, suite.paymentEvent())
			assert.NoError(suite.T(), err)
			results[i] = result
		}(i)
	}
	wg.Wait()

	processed := 0
	for _, r := range results {
		suite.True(r.Success)
		if r.Processed {
			processed++
		}
	}
	suite.Equal(1, processed)
	suite.Len(suite.store.payments, 1)

	active := 0
	for _, lic := range suite.store.licenses {
		if lic.Status == models.LicenseStatusActive && !lic.IsTrial() {
			active++
		}
	}
	suite.Equal(1, active)
}

func (suite *ReconciliationTestSuite) TestTrialRevokedOnFirstPaidInvoice() {
	trialUntil := suite.now.AddDate(0, 0, 7)
	trial := &models.License{
		Status:     models.LicenseStatusActive,
		Plan:       models.PlanTrial,
		Key:        "KH-TRIAL-0001",
		MaxDevices: 1,
		ValidFrom:  suite.now.AddDate(0, 0, -7),
		ValidUntil: trialUntil,
		CustomerID: suite.customerID,
	}
	suite.store.addLicense(trial)

	result, err := suite.engine.HandlePaymentCompleted(context.Background(), suite.paymentEvent())
	suite.NoError(err)
	suite.NotNil(result.LicenseID)

	revoked := suite.store.licenses[trial.ID]
	suite.Equal(models.LicenseStatusRevoked, revoked.Status)
	suite.NotNil(revoked.RevokedAt)

	var revokeEvent *models.LicenseEvent
	for _, ev := range suite.store.licenseEvents {
		if ev.EventType == models.LicenseEventRevoked {
			revokeEvent = ev
		}
	}
	suite.Require().NotNil(revokeEvent)
	suite.Equal(trial.ID, revokeEvent.LicenseID)
	suite.Equal("superseded_by_paid_plan", revokeEvent.Metadata["reason"])
}

func (suite *ReconciliationTestSuite) TestExistingPaidLicenseIsKept() {
	existing := &models.License{
		Status:     models.LicenseStatusActive,
		Plan:       "starter",
		Key:        "KH-PAID-0001",
		MaxDevices: 3,
		ValidFrom:  suite.now.AddDate(0, 0, -10),
		ValidUntil: suite.now.AddDate(0, 0, 20),
		CustomerID: suite.customerID,
	}
	suite.store.addLicense(existing)

	result, err := suite.engine.HandlePaymentCompleted(context.Background(), suite.paymentEvent())
	suite.NoError(err)
	suite.True(result.Processed)
	suite.Nil(result.LicenseID)

	nonTrial := 0
	for _, lic := range suite.store.licenses {
		if !lic.IsTrial() {
			nonTrial++
		}
	}
	suite.Equal(1, nonTrial)
}

func (suite *ReconciliationTestSuite) TestUnknownCorrelationMutatesNothing() {
	snap := suite.store.snapshot()

	event := suite.paymentEvent()
	event.CorrelationID = uuid.New().String()
	result, err := suite.engine.HandlePaymentCompleted(context.Background(), event)
	suite.NoError(err)
	suite.False(result.Success)
	suite.Equal("correlation not found", result.Message)
	suite.Equal(snap, suite.store.snapshot())

	event.CorrelationID = "not-a-uuid"
	result, err = suite.engine.HandlePaymentCompleted(context.Background(), event)
	suite.NoError(err)
	suite.False(result.Success)
	suite.Equal(snap, suite.store.snapshot())
}

func (suite *ReconciliationTestSuite) TestPaymentFailedLeavesInvoiceOpen() {
	event := suite.paymentEvent()
	event.Kind = KindPaymentFailed
	event.EventType = "invoice.payment_failed"

	result, err := suite.engine.HandlePaymentFailed(context.Background(), event)
	suite.NoError(err)
	suite.True(result.Success)
	suite.True(result.Processed)

	inv := suite.store.invoices[suite.invoiceID]
	suite.Equal(models.InvoiceStatusOpen, inv.Status)
	suite.Nil(inv.PaidAt)
	suite.Empty(suite.store.payments)
}

func (suite *ReconciliationTestSuite) TestPaymentFailedUnknownCorrelationIsAdvisory() {
	event := suite.paymentEvent()
	event.Kind = KindPaymentFailed
	event.CorrelationID = uuid.New().String()

	result, err := suite.engine.HandlePaymentFailed(context.Background(), event)
	suite.NoError(err)
	suite.True(result.Success)
	suite.False(result.Processed)
	suite.Equal("correlation not found", result.Message)
}

func (suite *ReconciliationTestSuite) TestFailureThenSuccessStillReconciles() {
	ctx := context.Background()

	failed := suite.paymentEvent()
	failed.Kind = KindPaymentFailed
	_, err := suite.engine.HandlePaymentFailed(ctx, failed)
	suite.NoError(err)

	result, err := suite.engine.HandlePaymentCompleted(ctx, suite.paymentEvent())
	suite.NoError(err)
	suite.True(result.Processed)
	suite.Equal(models.InvoiceStatusPaid, suite.store.invoices[suite.invoiceID].Status)
}

func (suite *ReconciliationTestSuite) subscriptionEvent(kind EventKind) *NormalizedEvent {
	return &NormalizedEvent{
		Provider:    models.ProviderStripe,
		Kind:        kind,
		EventID:     "evt_sub_1",
		EventType:   "customer.subscription.deleted",
		ProviderRef: "sub_123",
	}
}

func (suite *ReconciliationTestSuite) TestSubscriptionCancelled() {
	result, err := suite.engine.HandleSubscriptionCancelled(context.Background(), suite.subscriptionEvent(KindSubscriptionCancelled))
	suite.NoError(err)
	suite.True(result.Success)
	suite.True(result.Processed)

	sub := suite.store.subscriptions[suite.subscriptionID]
	suite.Equal(models.SubscriptionStatusCancelled, sub.Status)
	suite.NotNil(sub.CancelledAt)
	suite.Len(suite.sink.cancels, 1)
}

func (suite *ReconciliationTestSuite) TestSubscriptionCancelledReplay() {
	ctx := context.Background()
	_, err := suite.engine.HandleSubscriptionCancelled(ctx, suite.subscriptionEvent(KindSubscriptionCancelled))
	suite.NoError(err)

	result, err := suite.engine.HandleSubscriptionCancelled(ctx, suite.subscriptionEvent(KindSubscriptionCancelled))
	suite.NoError(err)
	suite.True(result.Success)
	suite.False(result.Processed)
	suite.Equal("subscription already cancelled", result.Message)
	suite.Len(suite.sink.cancels, 1)
}

func (suite *ReconciliationTestSuite) TestSubscriptionCancelledUnknownRef() {
	event := suite.subscriptionEvent(KindSubscriptionCancelled)
	event.ProviderRef = "sub_unknown"

	result, err := suite.engine.HandleSubscriptionCancelled(context.Background(), event)
	suite.NoError(err)
	suite.False(result.Success)
	suite.Equal("subscription not found", result.Message)
}

func (suite *ReconciliationTestSuite) TestCancellationIsTerminal() {
	ctx := context.Background()
	_, err := suite.engine.HandleSubscriptionCancelled(ctx, suite.subscriptionEvent(KindSubscriptionCancelled))
	suite.NoError(err)

	// A late payment-completed delivery must not resurrect the subscription.
	result, err := suite.engine.HandlePaymentCompleted(ctx, suite.paymentEvent())
	suite.NoError(err)
	suite.True(result.Processed)

	sub := suite.store.subscriptions[suite.subscriptionID]
	suite.Equal(models.SubscriptionStatusCancelled, sub.Status)
}

func (suite *ReconciliationTestSuite) TestSubscriptionSuspendedAndReactivated() {
	ctx := context.Background()
	suite.store.subscriptions[suite.subscriptionID].Status = models.SubscriptionStatusActive

	result, err := suite.engine.HandleSubscriptionSuspended(ctx, suite.subscriptionEvent(KindSubscriptionSuspended))
	suite.NoError(err)
	suite.True(result.Processed)
	suite.Equal(models.SubscriptionStatusPastDue, suite.store.subscriptions[suite.subscriptionID].Status)

	// Replay finds past_due, which is not a suspendable source state
	result, err = suite.engine.HandleSubscriptionSuspended(ctx, suite.subscriptionEvent(KindSubscriptionSuspended))
	suite.NoError(err)
	suite.False(result.Processed)
	suite.Equal("subscription not suspendable", result.Message)

	// Payment completion is the only path out of past_due
	_, err = suite.engine.HandlePaymentCompleted(ctx, suite.paymentEvent())
	suite.NoError(err)
	suite.Equal(models.SubscriptionStatusActive, suite.store.subscriptions[suite.subscriptionID].Status)
}

func (suite *ReconciliationTestSuite) TestSuspensionSkipsCancelled() {
	ctx := context.Background()
	_, err := suite.engine.HandleSubscriptionCancelled(ctx, suite.subscriptionEvent(KindSubscriptionCancelled))
	suite.NoError(err)

	result, err := suite.engine.HandleSubscriptionSuspended(ctx, suite.subscriptionEvent(KindSubscriptionSuspended))
	suite.NoError(err)
	suite.True(result.Success)
	suite.False(result.Processed)
	suite.Equal(models.SubscriptionStatusCancelled, suite.store.subscriptions[suite.subscriptionID].Status)
}

func (suite *ReconciliationTestSuite) TestPaymentAmountFallsBackToInvoice() {
	event := suite.paymentEvent()
	event.AmountCents = 0
	event.Currency = ""

	_, err := suite.engine.HandlePaymentCompleted(context.Background(), event)
	suite.NoError(err)
	suite.Require().Len(suite.store.payments, 1)
	suite.Equal(int64(4900), suite.store.payments[0].AmountCents)
	suite.Equal("USD", suite.store.payments[0].Currency)
}

func (suite *ReconciliationTestSuite) TestSinkFailureDoesNotAffectOutcome() {
	suite.sink.failNotify = true

	result, err := suite.engine.HandlePaymentCompleted(context.Background(), suite.paymentEvent())
	suite.NoError(err)
	suite.True(result.Success)
	suite.True(result.Processed)
	suite.Equal(models.InvoiceStatusPaid, suite.store.invoices[suite.invoiceID].Status)
}

func (suite *ReconciliationTestSuite) TestCrossProviderEquivalence() {
	ctx := context.Background()

	run := func(provider models.PaymentProvider, ref string) storeSnapshot {
		s := suite
		s.SetupTest()
		event := s.paymentEvent()
		event.Provider = provider
		event.ProviderRef = ref
		_, err := s.engine.HandlePaymentCompleted(ctx, event)
		s.NoError(err)
		return s.store.snapshot()
	}

	stripeSnap := run(models.ProviderStripe, "pi_1")
	paypalSnap := run(models.ProviderPayPal, "CAPTURE-1")

	suite.Equal(len(stripeSnap.licenses), len(paypalSnap.licenses))
	suite.Equal(stripeSnap.payments, paypalSnap.payments)

	for _, inv := range stripeSnap.invoices {
		suite.Equal(models.InvoiceStatusPaid, inv.Status)
	}
	for _, inv := range paypalSnap.invoices {
		suite.Equal(models.InvoiceStatusPaid, inv.Status)
	}
	for _, sub := range stripeSnap.subscriptions {
		suite.Equal(models.SubscriptionStatusActive, sub.Status)
	}
	for _, sub := range paypalSnap.subscriptions {
		suite.Equal(models.SubscriptionStatusActive, sub.Status)
	}
}

func TestReconciliationTestSuite(t *testing.T) {
	suite.Run(t, new(ReconciliationTestSuite))
}
