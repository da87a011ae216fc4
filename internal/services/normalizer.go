// internal/services/normalizer.go
package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/keyhaven/licensing-backend/internal/models"
)

// EventKind is the provider-agnostic classification of a webhook event.
type EventKind string

const (
	KindPaymentCompleted      EventKind = "payment_completed"
	KindPaymentFailed         EventKind = "payment_failed"
	KindSubscriptionCancelled EventKind = "subscription_cancelled"
	KindSubscriptionSuspended EventKind = "subscription_suspended"
	KindUnrecognized          EventKind = "unrecognized"
)

// NormalizedEvent is the provider-agnostic shape handed to the router and the
// reconciliation engine. CorrelationID bridges the external event to an
// internal invoice; ProviderRef carries the provider-side payment or
// subscription id.
type NormalizedEvent struct {
	Provider      models.PaymentProvider `json:"provider"`
	Kind          EventKind              `json:"kind"`
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	CorrelationID string                 `json:"correlation_id"`
	ProviderRef   string                 `json:"provider_ref"`
	AmountCents   int64                  `json:"amount_cents"`
	Currency      string                 `json:"currency"`
	Raw           json.RawMessage        `json:"-"`
}

// UnrecognizedPayloadError reports a payload from which no correlation id (or
// provider subscription ref) could be extracted from any of the provider's
// known field locations. Tried lists the field paths in the order attempted.
type UnrecognizedPayloadError struct {
	Provider  models.PaymentProvider
	EventType string
	Tried     []string
}

func (e *UnrecognizedPayloadError) Error() string {
	return fmt.Sprintf("unrecognized %s payload for event type %q: no usable id in any of [%s]",
		e.Provider, e.EventType, strings.Join(e.Tried, ", "))
}

// ProviderNormalizer converts raw provider webhook envelopes into
// NormalizedEvents. Each provider gets an explicit payload struct; there is
// deliberately no generic map traversal, so a payload the structs cannot
// represent surfaces as UnrecognizedPayloadError instead of a silent nil.
type ProviderNormalizer struct{}

func NewProviderNormalizer() *ProviderNormalizer {
	return &ProviderNormalizer{}
}

func (n *ProviderNormalizer) Normalize(provider models.PaymentProvider, payload []byte) (*NormalizedEvent, error) {
	switch provider {
	case models.ProviderStripe:
		return n.normalizeStripe(payload)
	case models.ProviderPayPal:
		return n.normalizePayPal(payload)
	default:
		return nil, fmt.Errorf("unsupported payment provider: %q", provider)
	}
}

// Stripe payload shapes. data.object is polymorphic (checkout session,
// invoice, payment intent, subscription); the fields below cover every
// location this service reads.
type stripeEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object stripeObject `json:"object"`
	} `json:"data"`
}

type stripeObject struct {
	ID                string            `json:"id"`
	Object            string            `json:"object"`
	Amount            int64             `json:"amount"`
	AmountTotal       int64             `json:"amount_total"`
	AmountPaid        int64             `json:"amount_paid"`
	Currency          string            `json:"currency"`
	ClientReferenceID string            `json:"client_reference_id"`
	Subscription      string            `json:"subscription"`
	Customer          string            `json:"customer"`
	Metadata          map[string]string `json:"metadata"`
}

func (n *ProviderNormalizer) normalizeStripe(payload []byte) (*NormalizedEvent, error) {
	var env stripeEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &UnrecognizedPayloadError{
			Provider:  models.ProviderStripe,
			EventType: "invalid-json",
			Tried:     []string{"<envelope>"},
		}
	}

	event := &NormalizedEvent{
		Provider:  models.ProviderStripe,
		Kind:      classifyEventType(models.ProviderStripe, env.Type),
		EventID:   env.ID,
		EventType: env.Type,
		Currency:  strings.ToUpper(env.Data.Object.Currency),
		Raw:       json.RawMessage(payload),
	}

	obj := env.Data.Object

	// Largest-first amount fallback: checkout sessions carry amount_total,
	// invoices amount_paid, payment intents amount.
	switch {
	case obj.AmountTotal > 0:
		event.AmountCents = obj.AmountTotal
	case obj.AmountPaid > 0:
		event.AmountCents = obj.AmountPaid
	default:
		event.AmountCents = obj.Amount
	}

	switch event.Kind {
	case KindPaymentCompleted, KindPaymentFailed:
		// Ordered correlation fallback: checkout metadata, session reference,
		// generic correlation metadata.
		tried := []string{"data.object.metadata.invoice_id", "data.object.client_reference_id", "data.object.metadata.correlation_id"}
		event.CorrelationID = firstNonEmpty(
			obj.Metadata["invoice_id"],
			obj.ClientReferenceID,
			obj.Metadata["correlation_id"],
		)
		if event.CorrelationID == "" {
			return nil, &UnrecognizedPayloadError{Provider: models.ProviderStripe, EventType: env.Type, Tried: tried}
		}
		event.ProviderRef = obj.ID

	case KindSubscriptionCancelled, KindSubscriptionSuspended:
		tried := []string{"data.object.id", "data.object.subscription"}
		event.ProviderRef = firstNonEmpty(obj.ID, obj.Subscription)
		if event.ProviderRef == "" {
			return nil, &UnrecognizedPayloadError{Provider: models.ProviderStripe, EventType: env.Type, Tried: tried}
		}
	}

	return event, nil
}

// PayPal payload shapes. Capture events carry custom_id on the resource;
// order events nest it inside purchase_units; subscription events carry the
// subscription id as the resource id.
type paypalEnvelope struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Resource  paypalResource `json:"resource"`
}

type paypalResource struct {
	ID                 string               `json:"id"`
	CustomID           string               `json:"custom_id"`
	InvoiceID          string               `json:"invoice_id"`
	BillingAgreementID string               `json:"billing_agreement_id"`
	Amount             *paypalAmount        `json:"amount"`
	PurchaseUnits      []paypalPurchaseUnit `json:"purchase_units"`
}

type paypalPurchaseUnit struct {
	ReferenceID string        `json:"reference_id"`
	CustomID    string        `json:"custom_id"`
	Amount      *paypalAmount `json:"amount"`
}

type paypalAmount struct {
	Value        string `json:"value"`
	Total        string `json:"total"`
	Currency     string `json:"currency"`
	CurrencyCode string `json:"currency_code"`
}

func (n *ProviderNormalizer) normalizePayPal(payload []byte) (*NormalizedEvent, error) {
	var env paypalEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &UnrecognizedPayloadError{
			Provider:  models.ProviderPayPal,
			EventType: "invalid-json",
			Tried:     []string{"<envelope>"},
		}
	}

	event := &NormalizedEvent{
		Provider:  models.ProviderPayPal,
		Kind:      classifyEventType(models.ProviderPayPal, env.EventType),
		EventID:   env.ID,
		EventType: env.EventType,
		Raw:       json.RawMessage(payload),
	}

	res := env.Resource

	amount := res.Amount
	if amount == nil && len(res.PurchaseUnits) > 0 {
		amount = res.PurchaseUnits[0].Amount
	}
	if amount != nil {
		event.Currency = strings.ToUpper(firstNonEmpty(amount.CurrencyCode, amount.Currency))
		if cents, err := parseDecimalCents(firstNonEmpty(amount.Value, amount.Total)); err == nil {
			event.AmountCents = cents
		}
	}

	switch event.Kind {
	case KindPaymentCompleted, KindPaymentFailed:
		tried := []string{"resource.custom_id", "resource.invoice_id", "resource.purchase_units[0].custom_id", "resource.purchase_units[0].reference_id"}
		event.CorrelationID = res.CustomID
		if event.CorrelationID == "" {
			event.CorrelationID = res.InvoiceID
		}
		if event.CorrelationID == "" && len(res.PurchaseUnits) > 0 {
			event.CorrelationID = firstNonEmpty(res.PurchaseUnits[0].CustomID, res.PurchaseUnits[0].ReferenceID)
		}
		if event.CorrelationID == "" {
			return nil, &UnrecognizedPayloadError{Provider: models.ProviderPayPal, EventType: env.EventType, Tried: tried}
		}
		event.ProviderRef = res.ID

	case KindSubscriptionCancelled, KindSubscriptionSuspended:
		tried := []string{"resource.id", "resource.billing_agreement_id"}
		event.ProviderRef = firstNonEmpty(res.ID, res.BillingAgreementID)
		if event.ProviderRef == "" {
			return nil, &UnrecognizedPayloadError{Provider: models.ProviderPayPal, EventType: env.EventType, Tried: tried}
		}
	}

	return event, nil
}

// parseDecimalCents converts a provider decimal amount string ("12.34") to
// integer minor units without going through float64.
func parseDecimalCents(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty amount")
	}

	whole := value
	frac := ""
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		whole, frac = value[:idx], value[idx+1:]
	}

	// Normalize the fraction to exactly two digits
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount fraction %q: %w", value, err)
	}

	if units < 0 {
		return units*100 - cents, nil
	}
	return units*100 + cents, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
