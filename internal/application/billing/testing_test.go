package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// =============================================================================
// In-memory invoice repository
// =============================================================================

// memInvoiceRepo is a stateful in-memory InvoiceRepository with optimistic
// locking, so concurrency and conflict paths can be exercised without a
// database. failSaves forces the next N SaveWithLock calls to conflict.
type memInvoiceRepo struct {
	mu        sync.Mutex
	invoices  map[uuid.UUID]*billing.Invoice
	failSaves int
	loadErr   error
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
	if r.failSaves > 0 {
		r.failSaves--
		return shared.ErrConcurrencyConflict
	}
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
// In-memory idempotency store
// =============================================================================

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

// =============================================================================
// Mock payment provider
// =============================================================================

type MockPaymentProvider struct {
	mock.Mock
}

func (m *MockPaymentProvider) VerifyWebhook(payload []byte, signature string) (*billing.ProviderEvent, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.ProviderEvent), args.Error(1)
}

func (m *MockPaymentProvider) LookupPaymentStatus(ctx context.Context, providerRef string) (*billing.PaymentLookup, error) {
	args := m.Called(ctx, providerRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.PaymentLookup), args.Error(1)
}

// =============================================================================
// Mock mailer and number generator
// =============================================================================

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendPaymentReceipt(ctx context.Context, recipient string, n billing.PaymentNotification) error {
	args := m.Called(ctx, recipient, n)
	return args.Error(0)
}

func (m *MockMailer) SendInvoiceIssued(ctx context.Context, recipient string, n billing.InvoiceNotification) error {
	args := m.Called(ctx, recipient, n)
	return args.Error(0)
}

type seqNumberGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqNumberGen) GenerateInvoiceNumber(ctx context.Context, tenantID uuid.UUID) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("INV-20260115-%05d", g.n), nil
}
