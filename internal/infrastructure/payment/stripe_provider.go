package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"
)

// StripeConfig holds credentials for the Stripe payment provider
type StripeConfig struct {
	// APIKey is the Stripe secret API key (sk_test_xxx or sk_live_xxx)
	APIKey string `json:"api_key" mapstructure:"api_key"`

	// WebhookSecret is the endpoint secret for verifying webhook signatures
	WebhookSecret string `json:"webhook_secret" mapstructure:"webhook_secret"`
}

// Validate validates the Stripe configuration
func (c *StripeConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("stripe: API key is required")
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("stripe: webhook secret is required")
	}
	return nil
}

// StripeProvider implements the billing.PaymentProvider port against Stripe.
// Webhook payloads are verified with the endpoint secret and decoded into
// normalized provider events; payment intents are queried on demand for the
// reconciler's conflict resolution.
type StripeProvider struct {
	config *StripeConfig
	logger *zap.Logger
}

// NewStripeProvider creates a new Stripe provider adapter
func NewStripeProvider(config *StripeConfig, logger *zap.Logger) (*StripeProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	stripe.Key = config.APIKey

	return &StripeProvider{
		config: config,
		logger: logger,
	}, nil
}

// VerifyWebhook checks the Stripe-Signature header over the raw payload and
// decodes the event into a normalized billing.ProviderEvent. Event kinds the
// reconciler does not handle return billing.ErrUnrecognizedEvent.
func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) (*billing.ProviderEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.config.WebhookSecret)
	if err != nil {
		p.logger.Warn("Stripe webhook signature verification failed", zap.Error(err))
		return nil, fmt.Errorf("stripe: webhook verification failed: %w", err)
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		return p.paymentIntentEvent(&event, billing.ProviderEventPaymentSucceeded)
	case stripe.EventTypePaymentIntentPaymentFailed:
		return p.paymentIntentEvent(&event, billing.ProviderEventPaymentFailed)
	case stripe.EventTypePaymentIntentCanceled:
		return p.paymentIntentEvent(&event, billing.ProviderEventPaymentCanceled)
	case stripe.EventTypeChargeRefunded:
		return p.chargeRefundedEvent(&event)
	default:
		p.logger.Debug("Ignoring unhandled Stripe event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)))
		return nil, fmt.Errorf("%w: stripe event type %s", billing.ErrUnrecognizedEvent, event.Type)
	}
}

// paymentIntentEvent decodes a payment_intent.* event payload
func (p *StripeProvider) paymentIntentEvent(event *stripe.Event, eventType billing.ProviderEventType) (*billing.ProviderEvent, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("stripe: failed to decode payment intent payload: %w", err)
	}

	amount := pi.Amount
	if eventType == billing.ProviderEventPaymentSucceeded && pi.AmountReceived > 0 {
		amount = pi.AmountReceived
	}

	out := &billing.ProviderEvent{
		EventID:           event.ID,
		Type:              eventType,
		ProviderReference: pi.ID,
		Amount:            moneyFromStripe(amount, pi.Currency),
		OccurredAt:        time.Unix(event.Created, 0),
	}
	fillCorrelation(out, pi.Metadata)

	switch eventType {
	case billing.ProviderEventPaymentFailed:
		if pi.LastPaymentError != nil {
			out.FailureReason = pi.LastPaymentError.Msg
		}
	case billing.ProviderEventPaymentCanceled:
		out.FailureReason = string(pi.CancellationReason)
	}

	p.logger.Debug("Decoded Stripe payment intent event",
		zap.String("event_id", event.ID),
		zap.String("payment_intent_id", pi.ID),
		zap.String("type", eventType.String()))

	return out, nil
}

// chargeRefundedEvent decodes a charge.refunded event payload. The refund
// amount is the cumulative refunded amount on the charge.
func (p *StripeProvider) chargeRefundedEvent(event *stripe.Event) (*billing.ProviderEvent, error) {
	var ch stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
		return nil, fmt.Errorf("stripe: failed to decode charge payload: %w", err)
	}

	out := &billing.ProviderEvent{
		EventID:    event.ID,
		Type:       billing.ProviderEventRefundCompleted,
		Amount:     moneyFromStripe(ch.AmountRefunded, ch.Currency),
		OccurredAt: time.Unix(event.Created, 0),
	}
	if ch.PaymentIntent != nil {
		out.ProviderReference = ch.PaymentIntent.ID
	}
	fillCorrelation(out, ch.Metadata)

	if out.ProviderReference == "" {
		return nil, fmt.Errorf("%w: charge %s carries no payment intent", billing.ErrUnrecognizedEvent, ch.ID)
	}

	return out, nil
}

// LookupPaymentStatus queries Stripe for the current state of a payment intent
func (p *StripeProvider) LookupPaymentStatus(ctx context.Context, providerRef string) (*billing.PaymentLookup, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(providerRef, params)
	if err != nil {
		p.logger.Error("Failed to look up Stripe payment intent",
			zap.String("payment_intent_id", providerRef),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to get payment intent: %w", err)
	}

	amount := pi.Amount
	if pi.Status == stripe.PaymentIntentStatusSucceeded && pi.AmountReceived > 0 {
		amount = pi.AmountReceived
	}

	return &billing.PaymentLookup{
		ProviderReference: pi.ID,
		Status:            mapPaymentIntentStatus(pi),
		Amount:            moneyFromStripe(amount, pi.Currency),
	}, nil
}

// fillCorrelation extracts invoice and tenant correlation IDs from provider
// metadata. Malformed values are ignored; the reconciler falls back to the
// attached payment-intent reference.
func fillCorrelation(out *billing.ProviderEvent, metadata map[string]string) {
	if raw, ok := metadata["invoice_id"]; ok {
		if id, err := uuid.Parse(raw); err == nil {
			out.InvoiceID = id
		}
	}
	if raw, ok := metadata["tenant_id"]; ok {
		if id, err := uuid.Parse(raw); err == nil {
			out.TenantID = id
		}
	}
}

// moneyFromStripe converts a Stripe minor-unit amount and lowercase currency
// code into a Money value
func moneyFromStripe(amount int64, currency stripe.Currency) valueobject.Money {
	code := valueobject.Currency(strings.ToUpper(string(currency)))
	if code == "" {
		code = valueobject.DefaultCurrency
	}
	m, _ := valueobject.NewMoney(amount, code)
	return m
}

// mapPaymentIntentStatus maps a Stripe payment intent status to the
// provider-neutral lookup status
func mapPaymentIntentStatus(pi *stripe.PaymentIntent) billing.PaymentLookupStatus {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return billing.PaymentLookupSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return billing.PaymentLookupCanceled
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresCapture:
		return billing.PaymentLookupPending
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// After a decline Stripe parks the intent back here with the error
		// attached; without one the intent simply has not been attempted.
		if pi.LastPaymentError != nil {
			return billing.PaymentLookupFailed
		}
		return billing.PaymentLookupPending
	default:
		return billing.PaymentLookupUnknown
	}
}

var _ billing.PaymentProvider = (*StripeProvider)(nil)
