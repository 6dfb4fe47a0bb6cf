package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrWebhookVerificationFailed is returned when the webhook signature
	// cannot be verified. Rejected at the boundary, never reconciled.
	ErrWebhookVerificationFailed = errors.New("webhook: signature verification failed")
	// ErrWebhookInvalidPayload is returned when the webhook payload is invalid
	ErrWebhookInvalidPayload = errors.New("webhook: invalid payload")
)

// ReconcileOutcome classifies the terminal result of processing one provider
// event
type ReconcileOutcome string

const (
	// OutcomeApplied means the event mutated the invoice and was committed
	OutcomeApplied ReconcileOutcome = "applied"
	// OutcomeReplay means the event was already applied; no-op success
	OutcomeReplay ReconcileOutcome = "replay"
	// OutcomeIgnored means the event carries no actionable change (e.g. a
	// stale failure for a payment the provider reports as succeeded)
	OutcomeIgnored ReconcileOutcome = "ignored"
	// OutcomeUnrecognized means the event correlates to no known invoice;
	// dropped, redelivery can never succeed
	OutcomeUnrecognized ReconcileOutcome = "unrecognized"
	// OutcomeUnresolved means compensation was recorded and an operator
	// must intervene
	OutcomeUnresolved ReconcileOutcome = "unresolved"
)

// ReconcileResult reports the outcome of processing one provider event.
// A nil error with a terminal outcome means the delivery channel should
// acknowledge; an error means it should redeliver.
type ReconcileResult struct {
	Outcome   ReconcileOutcome
	InvoiceID uuid.UUID
	AutoPaid  bool
	Overpaid  bool
	Reason    string
}

// ReconcilerConfig holds configuration for the reconciler
type ReconcilerConfig struct {
	Provider       billing.PaymentProvider
	InvoiceRepo    billing.InvoiceRepository
	Idempotency    shared.IdempotencyStore
	EventPublisher shared.EventPublisher
	Mailer         billing.Mailer
	Locks          *InvoiceLocks
	Logger         *zap.Logger

	// IdempotencyTTL bounds the fast-path dedup window on provider event
	// ids; the ledger lookup remains the authoritative check
	IdempotencyTTL time.Duration
	// LookupTimeout bounds provider status lookups used to resolve
	// conflicting local state
	LookupTimeout time.Duration
	// SaveRetries is how many times a conflicting save is retried with a
	// fresh load before compensation kicks in
	SaveRetries int
}

// Reconciler applies externally-sourced payment events to invoices exactly
// once. The delivery channel may redeliver the same event arbitrarily many
// times and out of order; the ledger lookup by provider reference is the
// ordering defense, and the shared per-invoice lock registry serializes
// reconciliation against manual entry for the same invoice.
type Reconciler struct {
	provider       billing.PaymentProvider
	invoiceRepo    billing.InvoiceRepository
	idempotency    shared.IdempotencyStore
	eventPublisher shared.EventPublisher
	mailer         billing.Mailer
	locks          *InvoiceLocks
	logger         *zap.Logger
	idempotencyTTL time.Duration
	lookupTimeout  time.Duration
	saveRetries    int
}

// NewReconciler creates a new Reconciler
func NewReconciler(config ReconcilerConfig) *Reconciler {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	locks := config.Locks
	if locks == nil {
		locks = NewInvoiceLocks()
	}
	ttl := config.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	lookupTimeout := config.LookupTimeout
	if lookupTimeout <= 0 {
		lookupTimeout = 10 * time.Second
	}
	retries := config.SaveRetries
	if retries <= 0 {
		retries = 3
	}
	return &Reconciler{
		provider:       config.Provider,
		invoiceRepo:    config.InvoiceRepo,
		idempotency:    config.Idempotency,
		eventPublisher: config.EventPublisher,
		mailer:         config.Mailer,
		locks:          locks,
		logger:         logger,
		idempotencyTTL: ttl,
		lookupTimeout:  lookupTimeout,
		saveRetries:    retries,
	}
}

// ProcessWebhook verifies a raw webhook delivery and reconciles the decoded
// event. Signature failures never reach ProcessEvent.
func (r *Reconciler) ProcessWebhook(ctx context.Context, payload []byte, signature string) (*ReconcileResult, error) {
	event, err := r.provider.VerifyWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, billing.ErrUnrecognizedEvent) {
			// Verified but not an event kind the reconciler handles
			r.logger.Debug("Ignoring unhandled provider event kind", zap.Error(err))
			return &ReconcileResult{Outcome: OutcomeIgnored, Reason: "unhandled event kind"}, nil
		}
		r.logger.Warn("Webhook verification failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrWebhookVerificationFailed, err)
	}
	if event == nil {
		return nil, ErrWebhookInvalidPayload
	}

	return r.ProcessEvent(ctx, event)
}

// ProcessEvent applies one normalized provider event to its invoice.
// Terminal outcomes (applied, replay, ignored, unrecognized, unresolved)
// return a nil error so the delivery channel acknowledges; a non-nil error
// signals a transient condition and requests redelivery. No mutation is
// committed on the error path.
func (r *Reconciler) ProcessEvent(ctx context.Context, event *billing.ProviderEvent) (*ReconcileResult, error) {
	if event == nil || event.ProviderReference == "" {
		return nil, ErrWebhookInvalidPayload
	}
	if !event.Type.IsValid() {
		r.logger.Info("Dropping provider event of unknown type",
			zap.String("event_id", event.EventID),
			zap.String("type", event.Type.String()))
		return &ReconcileResult{Outcome: OutcomeIgnored, Reason: "unknown event type"}, nil
	}

	// Fast-path dedup on the provider event id. A store error degrades to
	// the authoritative ledger check rather than failing the event.
	if r.idempotency != nil && event.EventID != "" {
		processed, err := r.idempotency.IsProcessed(ctx, r.idempotencyKey(event))
		if err != nil {
			r.logger.Warn("Idempotency pre-check failed, falling back to ledger",
				zap.String("event_id", event.EventID),
				zap.Error(err))
		} else if processed {
			r.logger.Info("Provider event already processed",
				zap.String("event_id", event.EventID),
				zap.String("provider_reference", event.ProviderReference))
			return &ReconcileResult{Outcome: OutcomeReplay}, nil
		}
	}

	inv, err := r.resolveInvoice(ctx, event)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			r.logger.Warn("Provider event correlates to no invoice, dropping",
				zap.String("event_id", event.EventID),
				zap.String("provider_reference", event.ProviderReference))
			return &ReconcileResult{Outcome: OutcomeUnrecognized, Reason: billing.ErrUnrecognizedEvent.Message}, nil
		}
		return nil, fmt.Errorf("%w: loading invoice: %v", billing.ErrRetryable, err)
	}

	unlock := r.locks.Lock(inv.ID)
	defer unlock()

	// Reload under the lock so the decision is made against committed state
	inv, err = r.invoiceRepo.FindByID(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: reloading invoice: %v", billing.ErrRetryable, err)
	}

	result, err := r.apply(ctx, inv, event)
	if err != nil {
		return nil, err
	}

	if r.idempotency != nil && event.EventID != "" {
		if _, err := r.idempotency.MarkProcessed(ctx, r.idempotencyKey(event), r.idempotencyTTL); err != nil {
			// The ledger remains the authoritative replay guard
			r.logger.Warn("Failed to mark provider event processed",
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}
	}

	return result, nil
}

func (r *Reconciler) idempotencyKey(event *billing.ProviderEvent) string {
	return "webhook:" + event.EventID
}

// resolveInvoice correlates the event to an invoice: explicit invoice/tenant
// metadata when present, otherwise the attached payment-intent identifier.
func (r *Reconciler) resolveInvoice(ctx context.Context, event *billing.ProviderEvent) (*billing.Invoice, error) {
	if event.InvoiceID != uuid.Nil {
		var inv *billing.Invoice
		var err error
		if event.TenantID != uuid.Nil {
			inv, err = r.invoiceRepo.FindByIDForTenant(ctx, event.TenantID, event.InvoiceID)
		} else {
			inv, err = r.invoiceRepo.FindByID(ctx, event.InvoiceID)
		}
		if err != nil {
			return nil, err
		}
		return inv, nil
	}

	inv, err := r.invoiceRepo.FindByPaymentIntentID(ctx, event.ProviderReference)
	if err != nil {
		return nil, err
	}
	if event.TenantID != uuid.Nil && inv.TenantID != event.TenantID {
		// Reference matched but the tenant does not own this invoice
		return nil, shared.ErrNotFound
	}
	return inv, nil
}

// apply holds the per-invoice reconciliation decision tree. Runs under the
// invoice lock against freshly loaded state.
func (r *Reconciler) apply(ctx context.Context, inv *billing.Invoice, event *billing.ProviderEvent) (*ReconcileResult, error) {
	existing := inv.Payments.Find(event.ProviderReference)

	if existing != nil {
		if outcomeMatches(existing.Status, event.Type) {
			r.logger.Info("Provider event is a replay, ledger already matches",
				zap.String("invoice_id", inv.ID.String()),
				zap.String("provider_reference", event.ProviderReference),
				zap.String("record_status", existing.Status.String()))
			return &ReconcileResult{Outcome: OutcomeReplay, InvoiceID: inv.ID}, nil
		}
		return r.applyToExisting(ctx, inv, existing, event)
	}

	return r.applyNew(ctx, inv, event)
}

// applyNew appends a fresh payment record for the event and commits it
// through the same RecordPayment path as manual entry
func (r *Reconciler) applyNew(ctx context.Context, inv *billing.Invoice, event *billing.ProviderEvent) (*ReconcileResult, error) {
	if event.Type == billing.ProviderEventRefundCompleted {
		// A refund for a payment this ledger never saw
		return r.raiseUnresolved(ctx, inv, event, "refund event with no prior payment record")
	}

	status, reason := recordStatusFor(event)

	record, err := billing.NewPaymentRecord(event.Amount, billing.PaymentMethodProvider, event.ProviderReference, status, event.OccurredAt)
	if err != nil {
		r.logger.Error("Provider event produced an invalid payment record, dropping",
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return &ReconcileResult{Outcome: OutcomeUnrecognized, InvoiceID: inv.ID, Reason: err.Error()}, nil
	}
	if reason != "" {
		record.FailureReason = reason
	}

	var result *billing.PaymentResult
	mutate := func(fresh *billing.Invoice) error {
		var err error
		result, err = fresh.RecordPayment(record)
		return err
	}

	committed, err := r.commit(ctx, inv, record, mutate)
	if err != nil {
		return nil, err
	}
	if committed.Outcome != OutcomeApplied {
		return committed, nil
	}

	r.logger.Info("Provider event reconciled",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("event_id", event.EventID),
		zap.String("provider_reference", event.ProviderReference),
		zap.String("type", event.Type.String()))

	if result != nil {
		committed.AutoPaid = result.AutoPaid
		committed.Overpaid = result.Overpaid
		if result.Record.IsCompleted() {
			r.sendReceipt(ctx, inv, result)
		}
	}

	return committed, nil
}

// applyToExisting resolves an event against a ledger record in a different
// state than the event reports. Pending records accept their terminal
// outcome directly; contradictions between two terminal states are resolved
// against the provider's source of truth.
func (r *Reconciler) applyToExisting(ctx context.Context, inv *billing.Invoice, record *billing.PaymentRecord, event *billing.ProviderEvent) (*ReconcileResult, error) {
	ref := event.ProviderReference

	if record.Status == billing.PaymentStatusPending {
		var result *billing.PaymentResult
		mutate := func(fresh *billing.Invoice) error {
			var err error
			switch event.Type {
			case billing.ProviderEventPaymentSucceeded:
				result, err = fresh.CompletePayment(ref)
			case billing.ProviderEventPaymentFailed:
				rec := fresh.Payments.Find(ref)
				if rec == nil {
					return shared.ErrNotFound
				}
				return fresh.FailPayment(rec.ID, failureReason(event))
			case billing.ProviderEventPaymentCanceled:
				rec := fresh.Payments.Find(ref)
				if rec == nil {
					return shared.ErrNotFound
				}
				return fresh.CancelPayment(rec.ID, failureReason(event))
			case billing.ProviderEventRefundCompleted:
				// Refund for a payment that never completed locally
				return billing.ErrUnresolved
			}
			return err
		}

		committed, err := r.commit(ctx, inv, nil, mutate)
		if err != nil {
			return nil, err
		}
		if committed.Outcome == OutcomeApplied && result != nil {
			committed.AutoPaid = result.AutoPaid
			committed.Overpaid = result.Overpaid
			r.sendReceipt(ctx, inv, result)
		}
		return committed, nil
	}

	// Two terminal states disagree; ask the provider which is true
	switch {
	case record.IsCompleted() && event.Type == billing.ProviderEventRefundCompleted:
		mutate := func(fresh *billing.Invoice) error {
			return fresh.RefundPayment(ref)
		}
		return r.commitSimple(ctx, inv, mutate)

	case record.IsCompleted() && (event.Type == billing.ProviderEventPaymentFailed || event.Type == billing.ProviderEventPaymentCanceled):
		lookup, err := r.lookup(ctx, ref)
		if err != nil {
			return nil, err
		}
		if lookup.Status == billing.PaymentLookupSucceeded {
			// The failure event is stale; our record matches the provider
			return &ReconcileResult{Outcome: OutcomeIgnored, InvoiceID: inv.ID, Reason: "stale failure event"}, nil
		}
		mutate := func(fresh *billing.Invoice) error {
			if event.Type == billing.ProviderEventPaymentCanceled {
				// Cancellation of a captured payment means the money went
				// back, so the record resolves as refunded
				return fresh.RefundPayment(ref)
			}
			rec := fresh.Payments.Find(ref)
			if rec == nil {
				return shared.ErrNotFound
			}
			return fresh.FailPayment(rec.ID, failureReason(event))
		}
		return r.commitSimple(ctx, inv, mutate)

	case record.Status == billing.PaymentStatusFailed && event.Type == billing.ProviderEventPaymentSucceeded:
		lookup, err := r.lookup(ctx, ref)
		if err != nil {
			return nil, err
		}
		if lookup.Status != billing.PaymentLookupSucceeded {
			// The success event is stale; our record matches the provider
			return &ReconcileResult{Outcome: OutcomeIgnored, InvoiceID: inv.ID, Reason: "stale success event"}, nil
		}
		// The provider confirms success but the local record is terminally
		// failed; amounts and timestamps are never rewritten, so this needs
		// an operator
		return r.raiseUnresolved(ctx, inv, event, "provider reports success for a locally failed payment")
	}

	return r.raiseUnresolved(ctx, inv, event, fmt.Sprintf("event %s contradicts record status %s", event.Type, record.Status))
}

// commit persists the mutated invoice with optimistic locking. Conflicts are
// retried against freshly loaded state; when retries are exhausted after a
// record append, the compensation path marks the record failed so a
// completed record is never silently left without its status change.
func (r *Reconciler) commit(ctx context.Context, inv *billing.Invoice, appended *billing.PaymentRecord, mutate func(*billing.Invoice) error) (*ReconcileResult, error) {
	current := inv
	var lastErr error

	for attempt := 0; attempt < r.saveRetries; attempt++ {
		if attempt > 0 {
			fresh, err := r.invoiceRepo.FindByID(ctx, inv.ID)
			if err != nil {
				return nil, fmt.Errorf("%w: reloading invoice after conflict: %v", billing.ErrRetryable, err)
			}
			current = fresh
		}

		if err := mutate(current); err != nil {
			return r.classifyMutationError(ctx, current, err)
		}

		if err := r.invoiceRepo.SaveWithLock(ctx, current); err != nil {
			if isConcurrencyConflict(err) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("%w: saving invoice: %v", billing.ErrRetryable, err)
		}

		r.publishEvents(ctx, current)
		*inv = *current
		return &ReconcileResult{Outcome: OutcomeApplied, InvoiceID: inv.ID}, nil
	}

	r.logger.Error("Reconciliation save conflicted past retry budget",
		zap.String("invoice_id", inv.ID.String()),
		zap.Error(lastErr))

	if appended != nil {
		return r.compensate(ctx, inv, appended)
	}
	return nil, fmt.Errorf("%w: persistent save conflict: %v", billing.ErrRetryable, lastErr)
}

// commitSimple is commit without a compensation record
func (r *Reconciler) commitSimple(ctx context.Context, inv *billing.Invoice, mutate func(*billing.Invoice) error) (*ReconcileResult, error) {
	return r.commit(ctx, inv, nil, mutate)
}

// classifyMutationError maps domain errors raised during the mutation to
// terminal outcomes; anything else is transient
func (r *Reconciler) classifyMutationError(ctx context.Context, inv *billing.Invoice, err error) (*ReconcileResult, error) {
	if errors.Is(err, billing.ErrDuplicateExternalReference) {
		// Another writer applied the same reference between our replay
		// check and the mutation; treat as replay
		return &ReconcileResult{Outcome: OutcomeReplay, InvoiceID: inv.ID}, nil
	}
	if errors.Is(err, billing.ErrUnresolved) {
		return r.raiseUnresolved(ctx, inv, nil, "event cannot be applied to local ledger state")
	}
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		// State guards (cancelled invoice, draft, currency mismatch) are
		// permanent for this event; redelivery cannot change them
		r.logger.Warn("Provider event rejected by invoice state, dropping",
			zap.String("invoice_id", inv.ID.String()),
			zap.String("code", domainErr.Code),
			zap.String("message", domainErr.Message))
		return &ReconcileResult{Outcome: OutcomeUnrecognized, InvoiceID: inv.ID, Reason: domainErr.Message}, nil
	}
	return nil, fmt.Errorf("%w: applying event: %v", billing.ErrRetryable, err)
}

// compensate marks the just-appended record failed on freshly loaded state
// and raises the unresolved alert. Partial success is never silently left
// half-applied.
func (r *Reconciler) compensate(ctx context.Context, inv *billing.Invoice, appended *billing.PaymentRecord) (*ReconcileResult, error) {
	fresh, err := r.invoiceRepo.FindByID(ctx, inv.ID)
	if err != nil {
		r.logger.Error("Compensation could not load invoice",
			zap.String("invoice_id", inv.ID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("%w: compensation load failed: %v", billing.ErrUnresolved, err)
	}

	failed := *appended
	failed.Status = billing.PaymentStatusFailed
	now := time.Now()
	failed.FailedAt = &now
	failed.FailureReason = "reconciliation could not commit; marked failed by compensation"

	if existing := fresh.Payments.Find(appended.ExternalReference); existing == nil {
		if _, err := fresh.RecordPayment(&failed); err != nil {
			r.logger.Error("Compensation could not append failed record",
				zap.String("invoice_id", inv.ID.String()),
				zap.Error(err))
			return nil, fmt.Errorf("%w: compensation append failed: %v", billing.ErrUnresolved, err)
		}
	} else if err := fresh.FailPayment(existing.ID, failed.FailureReason); err != nil {
		r.logger.Error("Compensation could not mark record failed",
			zap.String("invoice_id", inv.ID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("%w: compensation update failed: %v", billing.ErrUnresolved, err)
	}

	fresh.AddDomainEvent(billing.NewReconciliationUnresolvedEvent(fresh, appended.ExternalReference, failed.FailureReason))

	if err := r.invoiceRepo.SaveWithLock(ctx, fresh); err != nil {
		r.logger.Error("Compensation save failed, manual intervention required",
			zap.String("invoice_id", inv.ID.String()),
			zap.String("provider_reference", appended.ExternalReference),
			zap.Error(err))
		return nil, fmt.Errorf("%w: compensation save failed: %v", billing.ErrUnresolved, err)
	}

	r.publishEvents(ctx, fresh)

	r.logger.Error("Reconciliation unresolved, compensation recorded",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("provider_reference", appended.ExternalReference))

	return &ReconcileResult{Outcome: OutcomeUnresolved, InvoiceID: inv.ID, Reason: failed.FailureReason}, nil
}

// raiseUnresolved records the unresolved alert durably (event + error log)
// and acknowledges the delivery so the provider stops redelivering
func (r *Reconciler) raiseUnresolved(ctx context.Context, inv *billing.Invoice, event *billing.ProviderEvent, reason string) (*ReconcileResult, error) {
	providerEventID := ""
	ref := inv.PaymentIntentID
	if event != nil {
		providerEventID = event.EventID
		ref = event.ProviderReference
	}

	inv.AddDomainEvent(billing.NewReconciliationUnresolvedEvent(inv, providerEventID, reason))
	r.publishEvents(ctx, inv)

	r.logger.Error("Reconciliation unresolved, manual intervention required",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("provider_reference", ref),
		zap.String("reason", reason))

	return &ReconcileResult{Outcome: OutcomeUnresolved, InvoiceID: inv.ID, Reason: reason}, nil
}

// lookup queries the provider's view of a payment with a bounded timeout.
// Any failure is transient: the event is redelivered rather than guessed at.
func (r *Reconciler) lookup(ctx context.Context, providerRef string) (*billing.PaymentLookup, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	lookup, err := r.provider.LookupPaymentStatus(lookupCtx, providerRef)
	if err != nil {
		return nil, fmt.Errorf("%w: provider lookup: %v", billing.ErrRetryable, err)
	}
	return lookup, nil
}

func (r *Reconciler) publishEvents(ctx context.Context, inv *billing.Invoice) {
	if r.eventPublisher == nil {
		return
	}
	events := inv.GetDomainEvents()
	if len(events) == 0 {
		return
	}
	if err := r.eventPublisher.Publish(ctx, events...); err != nil {
		r.logger.Warn("Failed to publish domain events",
			zap.String("invoice_id", inv.ID.String()),
			zap.Error(err))
	}
	inv.ClearDomainEvents()
}

// sendReceipt emails the customer after a completed reconciliation.
// Failures are logged, never retried by the core.
func (r *Reconciler) sendReceipt(ctx context.Context, inv *billing.Invoice, result *billing.PaymentResult) {
	if r.mailer == nil || inv.CustomerEmail == "" {
		return
	}
	err := r.mailer.SendPaymentReceipt(ctx, inv.CustomerEmail, billing.PaymentNotification{
		InvoiceNumber: inv.InvoiceNumber,
		CustomerName:  inv.CustomerName,
		AmountPaid:    result.Record.Amount.Display(),
		Currency:      string(inv.Currency),
		BalanceDue:    result.BalanceDue.FloorZero().Display(),
		FullyPaid:     inv.IsPaid(),
	})
	if err != nil {
		r.logger.Warn("Failed to send payment receipt email",
			zap.String("invoice_number", inv.InvoiceNumber),
			zap.Error(err))
	}
}

// outcomeMatches reports whether a ledger record's status already reflects
// the event's outcome, making the event an idempotent replay
func outcomeMatches(status billing.PaymentStatus, eventType billing.ProviderEventType) bool {
	switch eventType {
	case billing.ProviderEventPaymentSucceeded:
		return status == billing.PaymentStatusCompleted
	case billing.ProviderEventPaymentFailed:
		return status == billing.PaymentStatusFailed
	case billing.ProviderEventPaymentCanceled:
		return status == billing.PaymentStatusRefunded
	case billing.ProviderEventRefundCompleted:
		return status == billing.PaymentStatusRefunded
	}
	return false
}

// recordStatusFor maps an event type to the status of a freshly appended
// record
func recordStatusFor(event *billing.ProviderEvent) (billing.PaymentStatus, string) {
	switch event.Type {
	case billing.ProviderEventPaymentSucceeded:
		return billing.PaymentStatusCompleted, ""
	case billing.ProviderEventPaymentFailed:
		return billing.PaymentStatusFailed, failureReason(event)
	case billing.ProviderEventPaymentCanceled:
		return billing.PaymentStatusRefunded, failureReason(event)
	}
	return billing.PaymentStatusFailed, "unknown event type"
}

func failureReason(event *billing.ProviderEvent) string {
	if event.FailureReason != "" {
		return event.FailureReason
	}
	if event.Type == billing.ProviderEventPaymentCanceled {
		return "canceled by provider"
	}
	return "payment failed at provider"
}

func isConcurrencyConflict(err error) bool {
	if errors.Is(err, shared.ErrConcurrencyConflict) {
		return true
	}
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == "OPTIMISTIC_LOCK_ERROR" || domainErr.Code == "CONCURRENCY_CONFLICT"
	}
	return false
}
