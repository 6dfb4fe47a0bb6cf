package handler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	billingapp "github.com/billing/backend/internal/application/billing"
	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/domain/shared/valueobject"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// In-memory invoice repository
// =============================================================================

// memInvoiceRepo is a stateful in-memory InvoiceRepository so handlers can be
// exercised end-to-end through a real service without a database. loadErr
// forces every load to fail, for the transient-error paths.
type memInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]*billing.Invoice
	loadErr  error
}

func newMemInvoiceRepo() *memInvoiceRepo {
	return &memInvoiceRepo{invoices: make(map[uuid.UUID]*billing.Invoice)}
}

func cloneInvoice(inv *billing.Invoice) *billing.Invoice {
	cp := *inv
	cp.LineItems = append(billing.LineItems{}, inv.LineItems...)
	cp.Payments = append(billing.Ledger{}, inv.Payments...)
	cp.ClearDomainEvents()
	return &cp
}

func (r *memInvoiceRepo) put(inv *billing.Invoice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoices[inv.ID] = cloneInvoice(inv)
}

func (r *memInvoiceRepo) FindByID(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	inv, ok := r.invoices[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneInvoice(inv), nil
}

func (r *memInvoiceRepo) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*billing.Invoice, error) {
	inv, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return inv, nil
}

func (r *memInvoiceRepo) FindByInvoiceNumber(ctx context.Context, tenantID uuid.UUID, number string) (*billing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invoices {
		if inv.TenantID == tenantID && inv.InvoiceNumber == number {
			return cloneInvoice(inv), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memInvoiceRepo) FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*billing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	for _, inv := range r.invoices {
		if inv.PaymentIntentID == paymentIntentID {
			return cloneInvoice(inv), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memInvoiceRepo) FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter billing.InvoiceFilter) ([]billing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []billing.Invoice
	for _, inv := range r.invoices {
		if inv.TenantID == tenantID {
			out = append(out, *cloneInvoice(inv))
		}
	}
	return out, nil
}

func (r *memInvoiceRepo) FindByCustomer(ctx context.Context, tenantID, customerID uuid.UUID, filter billing.InvoiceFilter) ([]billing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []billing.Invoice
	for _, inv := range r.invoices {
		if inv.TenantID == tenantID && inv.CustomerID == customerID {
			out = append(out, *cloneInvoice(inv))
		}
	}
	return out, nil
}

func (r *memInvoiceRepo) FindDueForOverdueSweep(ctx context.Context, asOf time.Time, limit int) ([]billing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []billing.Invoice
	for _, inv := range r.invoices {
		if inv.Status == billing.InvoiceStatusSent && inv.DueDate != nil && asOf.After(*inv.DueDate) {
			out = append(out, *cloneInvoice(inv))
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memInvoiceRepo) Save(ctx context.Context, inv *billing.Invoice) error {
	r.put(inv)
	return nil
}

func (r *memInvoiceRepo) SaveWithLock(ctx context.Context, inv *billing.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.invoices[inv.ID]
	if ok && stored.Version >= inv.Version {
		return shared.ErrConcurrencyConflict
	}
	r.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (r *memInvoiceRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.invoices, id)
	return nil
}

func (r *memInvoiceRepo) CountForTenant(ctx context.Context, tenantID uuid.UUID, filter billing.InvoiceFilter) (int64, error) {
	invoices, _ := r.FindAllForTenant(ctx, tenantID, filter)
	return int64(len(invoices)), nil
}

func (r *memInvoiceRepo) CountByStatus(ctx context.Context, tenantID uuid.UUID, status billing.InvoiceStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, inv := range r.invoices {
		if inv.TenantID == tenantID && inv.Status == status {
			n++
		}
	}
	return n, nil
}

var _ billing.InvoiceRepository = (*memInvoiceRepo)(nil)

// =============================================================================
// Supporting fakes
// =============================================================================

type seqNumberGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqNumberGen) GenerateInvoiceNumber(ctx context.Context, tenantID uuid.UUID) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("INV-20260901-%05d", g.n), nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error { return nil }

type nopMailer struct{}

func (nopMailer) SendPaymentReceipt(ctx context.Context, recipient string, n billing.PaymentNotification) error {
	return nil
}

func (nopMailer) SendInvoiceIssued(ctx context.Context, recipient string, n billing.InvoiceNotification) error {
	return nil
}

type memIdempotencyStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemIdempotencyStore() *memIdempotencyStore {
	return &memIdempotencyStore{seen: make(map[string]bool)}
}

func (s *memIdempotencyStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[eventID] {
		return false, nil
	}
	s.seen[eventID] = true
	return true, nil
}

func (s *memIdempotencyStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[eventID], nil
}

func (s *memIdempotencyStore) Close() error { return nil }

// scriptProvider returns whatever the test scripted, so handler tests stay
// independent of real signature verification.
type scriptProvider struct {
	event     *billing.ProviderEvent
	verifyErr error
	lookup    *billing.PaymentLookup
	lookupErr error
}

func (p *scriptProvider) VerifyWebhook(payload []byte, signature string) (*billing.ProviderEvent, error) {
	if p.verifyErr != nil {
		return nil, p.verifyErr
	}
	return p.event, nil
}

func (p *scriptProvider) LookupPaymentStatus(ctx context.Context, providerRef string) (*billing.PaymentLookup, error) {
	if p.lookupErr != nil {
		return nil, p.lookupErr
	}
	return p.lookup, nil
}

var _ billing.PaymentProvider = (*scriptProvider)(nil)

// =============================================================================
// Fixture
// =============================================================================

// handlerFixture wires real application services over in-memory fakes and
// mounts all billing routes on a test engine.
type handlerFixture struct {
	repo     *memInvoiceRepo
	provider *scriptProvider
	router   *gin.Engine
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	repo := newMemInvoiceRepo()
	provider := &scriptProvider{}

	service := billingapp.NewInvoiceService(billingapp.InvoiceServiceConfig{
		InvoiceRepo:    repo,
		NumberGen:      &seqNumberGen{},
		EventPublisher: nopPublisher{},
		Mailer:         nopMailer{},
	})

	reconciler := billingapp.NewReconciler(billingapp.ReconcilerConfig{
		Provider:       provider,
		InvoiceRepo:    repo,
		Idempotency:    newMemIdempotencyStore(),
		EventPublisher: nopPublisher{},
		Mailer:         nopMailer{},
		Locks:          service.Locks(),
	})

	invoiceHandler := NewInvoiceHandler(service)
	webhookHandler := NewWebhookHandler(reconciler)

	router := gin.New()
	invoices := router.Group("/api/v1/billing/invoices")
	{
		invoices.POST("", invoiceHandler.Create)
		invoices.GET("", invoiceHandler.List)
		invoices.POST("/sweep-overdue", invoiceHandler.RunOverdueSweep)
		invoices.GET("/number/:number", invoiceHandler.GetByNumber)
		invoices.GET("/:id", invoiceHandler.GetByID)
		invoices.POST("/:id/line-items", invoiceHandler.AddLineItem)
		invoices.DELETE("/:id/line-items/:itemId", invoiceHandler.RemoveLineItem)
		invoices.PUT("/:id/tax", invoiceHandler.SetTax)
		invoices.POST("/:id/send", invoiceHandler.Send)
		invoices.POST("/:id/cancel", invoiceHandler.Cancel)
		invoices.POST("/:id/payments", invoiceHandler.RecordPayment)
		invoices.PUT("/:id/payment-intent", invoiceHandler.AttachPaymentIntent)
	}
	router.POST("/webhooks/payment", webhookHandler.HandlePaymentWebhook)

	return &handlerFixture{repo: repo, provider: provider, router: router}
}

// seedInvoice stores a draft invoice with one line item worth totalCents.
func seedInvoice(t *testing.T, repo *memInvoiceRepo, tenantID uuid.UUID, totalCents int64) *billing.Invoice {
	t.Helper()
	inv, err := billing.NewInvoice(tenantID, fmt.Sprintf("INV-20260901-%05d", len(repo.invoices)+1), uuid.New(), "Acme Corp", "billing@acme.com", valueobject.USD, nil, nil)
	require.NoError(t, err)
	qty, err := valueobject.NewQuantityFromInt(1)
	require.NoError(t, err)
	item, err := billing.NewLineItem("Consulting", "", qty, valueobject.NewMoneyUSD(totalCents), 0)
	require.NoError(t, err)
	require.NoError(t, inv.AddLineItem(item))
	inv.ClearDomainEvents()
	repo.put(inv)
	return inv
}

// seedSentInvoice stores a sent invoice, optionally with an attached payment
// intent so webhook events can correlate to it.
func seedSentInvoice(t *testing.T, repo *memInvoiceRepo, tenantID uuid.UUID, totalCents int64, intentID string) *billing.Invoice {
	t.Helper()
	inv := seedInvoice(t, repo, tenantID, totalCents)
	require.NoError(t, inv.ChangeStatus(billing.InvoiceStatusSent))
	if intentID != "" {
		require.NoError(t, inv.AttachPaymentIntent(intentID))
	}
	inv.ClearDomainEvents()
	repo.put(inv)
	return inv
}
