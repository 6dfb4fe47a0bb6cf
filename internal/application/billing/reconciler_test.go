package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newSentInvoice(t *testing.T, totalCents int64, paymentIntentID string) *billing.Invoice {
	t.Helper()
	inv, err := billing.NewInvoice(uuid.New(), "INV-20260115-00001", uuid.New(), "Acme Co", "billing@acme.test", valueobject.USD, nil, nil)
	require.NoError(t, err)

	qty, err := valueobject.NewQuantityFromInt(1)
	require.NoError(t, err)
	item, err := billing.NewLineItem("Service", "", qty, valueobject.NewMoneyUSD(totalCents), 0)
	require.NoError(t, err)
	require.NoError(t, inv.AddLineItem(item))
	require.NoError(t, inv.ChangeStatus(billing.InvoiceStatusSent))
	if paymentIntentID != "" {
		require.NoError(t, inv.AttachPaymentIntent(paymentIntentID))
	}
	inv.ClearDomainEvents()
	return inv
}

func newTestReconciler(repo *memInvoiceRepo, provider *MockPaymentProvider) *Reconciler {
	return NewReconciler(ReconcilerConfig{
		Provider:    provider,
		InvoiceRepo: repo,
		Idempotency: newMemIdempotencyStore(),
	})
}

func succeededEvent(eventID, ref string, cents int64, invoiceID, tenantID uuid.UUID) *billing.ProviderEvent {
	return &billing.ProviderEvent{
		EventID:           eventID,
		Type:              billing.ProviderEventPaymentSucceeded,
		ProviderReference: ref,
		Amount:            valueobject.NewMoneyUSD(cents),
		InvoiceID:         invoiceID,
		TenantID:          tenantID,
		OccurredAt:        time.Now(),
	}
}

func TestReconciler_AppliesSucceededEvent(t *testing.T) {
	repo := newMemInvoiceRepo()
	inv := newSentInvoice(t, 10000, "pi_abc")
	repo.put(inv)

	r := newTestReconciler(repo, &MockPaymentProvider{})

	result, err := r.ProcessEvent(context.Background(), succeededEvent("evt_1", "pi_abc", 10000, uuid.Nil, uuid.Nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, result.Outcome)
	assert.True(t, result.AutoPaid)

	stored, err := repo.FindByID(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceStatusPaid, stored.Status)
	assert.True(t, stored.BalanceDue().IsZero())
	assert.Equal(t, 1, stored.PaymentCount())
}

func TestReconciler_ManualThenProviderSettlesInvoice(t *testing.T) {
	// Invoice total 10000: manual 4000 leaves balance 6000, provider event
	// for 6000 settles it through the same path
	repo := newMemInvoiceRepo()
	inv := newSentInvoice(t, 10000, "pi_abc")
	manual, err := billing.NewPaymentRecord(valueobject.NewMoneyUSD(4000), billing.PaymentMethodCash, "", billing.PaymentStatusCompleted, time.Now())
	require.NoError(t, err)
	_, err = inv.RecordPayment(manual)
	require.NoError(t, err)
	require.Equal(t, billing.InvoiceStatusSent, inv.Status)
	repo.put(inv)

	r := newTestReconciler(repo, &MockPaymentProvider{})

	result, err := r.ProcessEvent(context.Background(), succeededEvent("evt_1", "pi_abc", 6000, uuid.Nil, uuid.Nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, result.Outcome)
	assert.True(t, result.AutoPaid)

	stored, _ := repo.FindByID(context.Background(), inv.ID)
	assert.Equal(t, billing.InvoiceStatusPaid, stored.Status)
	assert.Equal(t, int64(0), stored.BalanceDue().MinorUnits())
}

func TestReconciler_RedeliveryIsIdempotent(t *testing.T) {
	repo := newMemInvoiceRepo()
	inv := newSentInvoice(t, 10000, "pi_abc")
	repo.put(inv)

	r := newTestReconciler(repo, &MockPaymentProvider{})
	ctx := context.Background()

	first, err := r.ProcessEvent(ctx, succeededEvent("evt_1", "pi_abc", 10000, uuid.Nil, uuid.Nil))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, first.Outcome)

	// Same event id: fast-path dedup
	replay, err := r.ProcessEvent(ctx, succeededEvent("evt_1", "pi_abc", 10000, uuid.Nil, uuid.Nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplay, replay.Outcome)

	// New event id, same reference: ledger is the authoritative guard
	replay2, err := r.ProcessEvent(ctx, succeededEvent("evt_2", "pi_abc", 10000, uuid.Nil, uuid.Nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplay, replay2.Outcome)

	stored, _ := repo.FindByID(ctx, inv.ID)
	assert.Equal(t, 1, stored.PaymentCount())
	assert.Equal(t, int64(0), stored.BalanceDue().MinorUnits())
}

func TestReconciler_ConcurrentEventsForSameInvoice(t *testing.T) {
	// Two distinct references against one invoice with total 6000: both must
	// apply with no lost update, regardless of arrival order
	repo := newMemInvoiceRepo()
	inv := newSentInvoice(t, 6000, "")
	repo.put(inv)

	r := newTestReconciler(repo, &MockPaymentProvider{})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*ReconcileResult, 2)
	errs := make([]error, 2)
	refs := []string{"pi_a", "pi_b"}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.ProcessEvent(ctx, succeededEvent("evt_"+refs[i], refs[i], 3000, inv.ID, inv.TenantID))
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, OutcomeApplied, results[0].Outcome)
	assert.Equal(t, OutcomeApplied, results[1].Outcome)

	stored, _ := repo.FindByID(ctx, inv.ID)
	assert.Equal(t, billing.InvoiceStatusPaid, stored.Status)
	assert.Equal(t, int64(0), stored.BalanceDue().MinorUnits())
	assert.Equal(t, 2, stored.PaymentCount())
}

func TestReconciler_UnrecognizedEventIsDropped(t *testing.T) {
	repo := newMemInvoiceRepo()
	r := newTestReconciler(repo, &MockPaymentProvider{})

	result, err := r.ProcessEvent(context.Background(), succeededEvent("evt_1", "pi_unknown", 1000, uuid.Nil, uuid.Nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnrecognized, result.Outcome)
}

func TestReconciler_TenantMismatchIsUnrecognized(t *testing.T) {
	repo := newMemInvoiceRepo()
	inv := newSentInvoice(t, 1000, "pi_abc")
	repo.put(inv)

	r := newTestReconciler(repo, &MockPaymentProvider{})

	event := succeededEvent("evt_1", "pi_abc", 1000, uuid.Nil, uuid.New())
	result, err := r.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnrecognized, result.Outcome)

	stored, _ := repo.FindByID(context.Background(), inv.ID)
	assert.Equal(t, 0, stored.PaymentCount())
}

func TestReconciler_TransientLoadErrorIsRetryable(t *testing.T) {
	repo := newMemInvoiceRepo()
	inv := newSentInvoice(t, 1000, "pi_abc")
	repo.put(inv)
	repo.loadErr = errors.New("connection reset")

	r := newTestReconciler(repo, &MockPaymentProvider{})

	_, err := r.ProcessEvent(context.Background(), succeededEvent("evt_1", "pi_abc", 1000, uuid.Nil, uuid.Nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrRetryable)

	// No mutation committed; redelivery succeeds once the store recovers
	repo.loadErr = nil
	result, err := r.ProcessEvent(context.Background(), succeededEvent("evt_1", "pi_abc", 1000, uuid.Nil, uuid.Nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, result.Outcome)
}

func TestReconciler_FailedEventAppendsFailedRecord(t *testing.T) {
	repo := newMemInvoiceRepo()
	inv := newSentInvoice(t, 10000, "pi_abc")
	repo.put(inv)

	r := newTestReconciler(repo, &MockPaymentProvider{})

	event := &billing.ProviderEvent{
		EventID:           "evt_fail",
		Type:              billing.ProviderEventPaymentFailed,
		ProviderReference: "pi_abc",
		Amount:            valueobject.NewMoneyUSD(10000),
		FailureReason:     "card declined",
		OccurredAt:        time.Now(),
	}
	result, err := r.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, result.Outcome)
	assert.False(t, result.AutoPaid)

	stored, _ := repo.FindByID(context.Background(), inv.ID)
	assert.Equal(t, billing.InvoiceStatusSent, stored.Status)
	record := stored.Payments.Find("pi_abc")
	require.NotNil(t, record)
	assert.Equal(t, billing.PaymentStatusFailed, record.Status)
	assert.Equal(t, "card declined", record.FailureReason)
	assert.Equal(t, int64(10000), stored.BalanceDue().MinorUnits())
}

func TestReconciler_CanceledEventAppendsRefundedRecord(t *testing.T) {
	repo := newMemInvoiceRepo()
	inv := newSentInvoice(t, 10000, "pi_cancel")
	repo.put(inv)

	r := newTestReconciler(repo, &MockPaymentProvider{})

	event := &billing.ProviderEvent{
		EventID:           "evt_cancel",
		Type:              billing.ProviderEventPaymentCanceled,
		ProviderReference: "pi_cancel",
		Amount:            valueobject.NewMoneyUSD(10000),
		OccurredAt:        time.Now(),
	}
	result, err := r.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, result.Outcome)

	stored, _ := repo.FindByID(context.Background(), inv.ID)
	assert.Equal(t, billing.InvoiceStatusSent, stored.Status)
	record := stored.Payments.Find("pi_cancel")
	require.NotNil(t, record)
	assert.Equal(t, billing.PaymentStatusRefunded, record.Status)
	assert.Equal(t, int64(10000), stored.BalanceDue().MinorUnits())

	// Redelivery finds the ledger already matching and does not mutate
	event.EventID = "evt_cancel_redelivered"
	result, err = r.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplay, result.Outcome)
}

func TestReconciler_PendingRecordCanceledByEvent(t *testing.T) {
	repo := newMemInvoiceRepo()
	inv := newSentInvoice(t, 10000, "pi_cancel")
	pending, err := billing.NewPaymentRecord(valueobject.NewMoneyUSD(10000), billing.PaymentMethodProvider, "pi_cancel", billing.PaymentStatusPending, time.Now())
	require.NoError(t, err)
	_, err = inv.RecordPayment(pending)
	require.NoError(t, err)
	repo.put(inv)

	r := newTestReconciler(repo, &MockPaymentProvider{})

	event := &billing.ProviderEvent{
		EventID:           "evt_cancel",
		Type:              billing.ProviderEventPaymentCanceled,
		ProviderReference: "pi_cancel",
		Amount:            valueobject.NewMoneyUSD(10000),
		OccurredAt:        time.Now(),
	}
	result, err := r.ProcessEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, result.Outcome)

	stored, _ := repo.FindByID(context.Background(), inv.ID)
	assert.Equal(t, billing.InvoiceStatusSent, stored.Status)
	record := stored.Payments.Find("pi_cancel")
	require.NotNil(t, record)
	assert.Equal(t, billing.PaymentStatusRefunded, record.Status)
}

func TestReconciler_PendingRecordCompletedByEvent(t *testing.T) {
	repo := newMemInvoiceRepo()
	inv := newSentInvoice(t, 10000, "pi_abc")
	pending, err := billing.NewPaymentRecord(valueobject.NewMoneyUSD(10000), billing.PaymentMethodProvider, "pi_abc", billing.PaymentStatusPending, time.Now())
	require.NoError(t, err)
	_, err = inv.RecordPayment(pending)
	require.NoError(t, err)
	repo.put(inv)

	r := newTestReconciler(repo, &MockPaymentProvider{})

	result, err := r.ProcessEvent(context.Background(), succeededEvent("evt_1", "pi_abc", 10000, uuid.Nil, uuid.Nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, result.Outcome)
	assert.True(t, result.AutoPaid)

	stored, _ := repo.FindByID(context.Background(), inv.ID)
	assert.Equal(t, billing.InvoiceStatusPaid, stored.Status)
	assert.Equal(t, 1, stored.PaymentCount())
}

func TestReconciler_OverpaymentAcceptedAndSurfaced(t *testing.T) {
	repo := newMemInvoiceRepo()
	inv := newSentInvoice(t, 10000, "pi_abc")
	repo.put(inv)

	r := newTestReconciler(repo, &MockPaymentProvider{})

	result, err := r.ProcessEvent(context.Background(), succeededEvent("evt_1", "pi_abc", 12500, uuid.Nil, uuid.Nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, result.Outcome)
	assert.True(t, result.Overpaid)
	assert.True(t, result.AutoPaid)

	stored, _ := repo.FindByID(context.Background(), inv.ID)
	assert.Equal(t, int64(-2500), stored.BalanceDue().MinorUnits())
	assert.Equal(t, int64(0), stored.DisplayBalanceDue().MinorUnits())
}

func TestReconciler_RefundEventOnCompletedRecord(t *testing.T) {
	repo := newMemInvoiceRepo()
	inv := newSentInvoice(t, 10000, "pi_abc")
	repo.put(inv)

	r := newTestReconciler(repo, &MockPaymentProvider{})
	ctx := context.Background()

	_, err := r.ProcessEvent(ctx, succeededEvent("evt_1", "pi_abc", 10000, uuid.Nil, uuid.Nil))
	require.NoError(t, err)

	refund := &billing.ProviderEvent{
		EventID:           "evt_refund",
		Type:              billing.ProviderEventRefundCompleted,
		ProviderReference: "pi_abc",
		Amount:            valueobject.NewMoneyUSD(10000),
		OccurredAt:        time.Now(),
	}
	result, err := r.ProcessEvent(ctx, refund)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, result.Outcome)

	// PAID is terminal; the refund shows in the ledger only
	stored, _ := repo.FindByID(ctx, inv.ID)
	assert.Equal(t, billing.InvoiceStatusPaid, stored.Status)
	assert.Equal(t, billing.PaymentStatusRefunded, stored.Payments.Find("pi_abc").Status)
}

func TestReconciler_StaleFailureResolvedAgainstProvider(t *testing.T) {
	repo := newMemInvoiceRepo()
	inv := newSentInvoice(t, 10000, "pi_abc")
	repo.put(inv)

	provider := &MockPaymentProvider{}
	provider.On("LookupPaymentStatus", mock.Anything, "pi_abc").Return(&billing.PaymentLookup{
		ProviderReference: "pi_abc",
		Status:            billing.PaymentLookupSucceeded,
		Amount:            valueobject.NewMoneyUSD(10000),
	}, nil)

	r := newTestReconciler(repo, provider)
	ctx := context.Background()

	_, err := r.ProcessEvent(ctx, succeededEvent("evt_1", "pi_abc", 10000, uuid.Nil, uuid.Nil))
	require.NoError(t, err)

	// A late failure event for a payment the provider says succeeded
	stale := &billing.ProviderEvent{
		EventID:           "evt_stale",
		Type:              billing.ProviderEventPaymentFailed,
		ProviderReference: "pi_abc",
		Amount:            valueobject.NewMoneyUSD(10000),
		OccurredAt:        time.Now(),
	}
	result, err := r.ProcessEvent(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, result.Outcome)

	stored, _ := repo.FindByID(ctx, inv.ID)
	assert.Equal(t, billing.PaymentStatusCompleted, stored.Payments.Find("pi_abc").Status)
	provider.AssertExpectations(t)
}

func TestReconciler_LookupTimeoutIsRetryable(t *testing.T) {
	repo := newMemInvoiceRepo()
	inv := newSentInvoice(t, 10000, "pi_abc")
	repo.put(inv)

	provider := &MockPaymentProvider{}
	provider.On("LookupPaymentStatus", mock.Anything, "pi_abc").Return(nil, context.DeadlineExceeded)

	r := newTestReconciler(repo, provider)
	ctx := context.Background()

	_, err := r.ProcessEvent(ctx, succeededEvent("evt_1", "pi_abc", 10000, uuid.Nil, uuid.Nil))
	require.NoError(t, err)

	stale := &billing.ProviderEvent{
		EventID:           "evt_stale",
		Type:              billing.ProviderEventPaymentFailed,
		ProviderReference: "pi_abc",
		Amount:            valueobject.NewMoneyUSD(10000),
		OccurredAt:        time.Now(),
	}
	_, err = r.ProcessEvent(ctx, stale)
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrRetryable)
}

func TestReconciler_CompensationMarksRecordFailed(t *testing.T) {
	repo := newMemInvoiceRepo()
	inv := newSentInvoice(t, 10000, "pi_abc")
	repo.put(inv)
	repo.failSaves = 3 // Default retry budget; compensation save then succeeds

	r := newTestReconciler(repo, &MockPaymentProvider{})

	result, err := r.ProcessEvent(context.Background(), succeededEvent("evt_1", "pi_abc", 10000, uuid.Nil, uuid.Nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnresolved, result.Outcome)

	// The record exists but is failed, never a completed record with no
	// corresponding status change
	stored, _ := repo.FindByID(context.Background(), inv.ID)
	record := stored.Payments.Find("pi_abc")
	require.NotNil(t, record)
	assert.Equal(t, billing.PaymentStatusFailed, record.Status)
	assert.Equal(t, billing.InvoiceStatusSent, stored.Status)
	assert.Equal(t, int64(10000), stored.BalanceDue().MinorUnits())
}

func TestReconciler_CompensationFailureIsUnresolvedError(t *testing.T) {
	repo := newMemInvoiceRepo()
	inv := newSentInvoice(t, 10000, "pi_abc")
	repo.put(inv)
	repo.failSaves = 4 // Retries and the compensation save all conflict

	r := newTestReconciler(repo, &MockPaymentProvider{})

	_, err := r.ProcessEvent(context.Background(), succeededEvent("evt_1", "pi_abc", 10000, uuid.Nil, uuid.Nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrUnresolved)
}

func TestReconciler_RefundWithNoPriorRecordIsUnresolved(t *testing.T) {
	repo := newMemInvoiceRepo()
	inv := newSentInvoice(t, 10000, "pi_abc")
	repo.put(inv)

	r := newTestReconciler(repo, &MockPaymentProvider{})

	refund := &billing.ProviderEvent{
		EventID:           "evt_refund",
		Type:              billing.ProviderEventRefundCompleted,
		ProviderReference: "pi_abc",
		Amount:            valueobject.NewMoneyUSD(10000),
		OccurredAt:        time.Now(),
	}
	result, err := r.ProcessEvent(context.Background(), refund)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnresolved, result.Outcome)
}

func TestReconciler_ProcessWebhook(t *testing.T) {
	repo := newMemInvoiceRepo()
	inv := newSentInvoice(t, 10000, "pi_abc")
	repo.put(inv)

	payload := []byte(`{"id":"evt_1"}`)

	t.Run("verified event is reconciled", func(t *testing.T) {
		provider := &MockPaymentProvider{}
		provider.On("VerifyWebhook", payload, "sig").Return(succeededEvent("evt_1", "pi_abc", 10000, uuid.Nil, uuid.Nil), nil)

		r := newTestReconciler(repo, provider)
		result, err := r.ProcessWebhook(context.Background(), payload, "sig")
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, result.Outcome)
		provider.AssertExpectations(t)
	})

	t.Run("signature failure is rejected at the boundary", func(t *testing.T) {
		provider := &MockPaymentProvider{}
		provider.On("VerifyWebhook", payload, "bad").Return(nil, errors.New("signature mismatch"))

		r := newTestReconciler(repo, provider)
		_, err := r.ProcessWebhook(context.Background(), payload, "bad")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrWebhookVerificationFailed)
	})

	t.Run("unhandled event kind is acknowledged", func(t *testing.T) {
		provider := &MockPaymentProvider{}
		provider.On("VerifyWebhook", payload, "sig").Return(nil, billing.ErrUnrecognizedEvent)

		r := newTestReconciler(repo, provider)
		result, err := r.ProcessWebhook(context.Background(), payload, "sig")
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, result.Outcome)
	})
}
