package billing

import (
	"context"
	"time"

	"github.com/billing/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
)

// ProviderEventType classifies the asynchronous events a payment provider
// delivers about payment intents
type ProviderEventType string

const (
	ProviderEventPaymentSucceeded ProviderEventType = "payment.succeeded"
	ProviderEventPaymentFailed    ProviderEventType = "payment.failed"
	ProviderEventPaymentCanceled  ProviderEventType = "payment.canceled"
	ProviderEventRefundCompleted  ProviderEventType = "refund.completed"
)

// IsValid checks if the event type is recognized
func (t ProviderEventType) IsValid() bool {
	switch t {
	case ProviderEventPaymentSucceeded, ProviderEventPaymentFailed,
		ProviderEventPaymentCanceled, ProviderEventRefundCompleted:
		return true
	}
	return false
}

// String returns the string representation of ProviderEventType
func (t ProviderEventType) String() string {
	return string(t)
}

// ProviderEvent is a normalized payment event received from an external
// provider, after signature verification and payload decoding.
// ProviderReference is the per-payment identifier recorded as the ledger
// external reference; InvoiceID/TenantID, when present, come from provider
// metadata and correlate the event directly. Events without metadata fall
// back to matching ProviderReference against the invoice's attached
// payment-intent identifier.
type ProviderEvent struct {
	EventID           string            `json:"event_id"` // Provider-assigned, unique per event
	Type              ProviderEventType `json:"type"`
	ProviderReference string            `json:"provider_reference"`
	Amount            valueobject.Money `json:"amount"`
	InvoiceID         uuid.UUID         `json:"invoice_id,omitempty"`
	TenantID          uuid.UUID         `json:"tenant_id,omitempty"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	OccurredAt        time.Time         `json:"occurred_at"`
}

// PaymentLookupStatus is the provider-side status of a payment intent as
// reported by an on-demand query
type PaymentLookupStatus string

const (
	PaymentLookupSucceeded PaymentLookupStatus = "succeeded"
	PaymentLookupPending   PaymentLookupStatus = "pending"
	PaymentLookupFailed    PaymentLookupStatus = "failed"
	PaymentLookupCanceled  PaymentLookupStatus = "canceled"
	PaymentLookupUnknown   PaymentLookupStatus = "unknown"
)

// PaymentLookup is the result of querying the provider for the current
// state of a payment
type PaymentLookup struct {
	ProviderReference string              `json:"provider_reference"`
	Status            PaymentLookupStatus `json:"status"`
	Amount            valueobject.Money   `json:"amount"`
}

// PaymentProvider is the outbound port to the external payment provider.
// Implementations verify webhook signatures, decode provider payloads into
// normalized ProviderEvents, and answer on-demand payment-state queries.
type PaymentProvider interface {
	// VerifyWebhook checks the signature over the raw payload and decodes
	// it into a normalized event. Returns ErrUnrecognizedEvent for event
	// kinds the reconciler does not handle.
	VerifyWebhook(payload []byte, signature string) (*ProviderEvent, error)

	// LookupPaymentStatus queries the provider for the current state of a
	// payment. Used by the reconciler to resolve conflicting local state
	// against the provider's source of truth.
	LookupPaymentStatus(ctx context.Context, providerRef string) (*PaymentLookup, error)
}
