package billing

import (
	"context"
	"time"

	"github.com/billing/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// InvoiceFilter defines filtering options for invoice queries
type InvoiceFilter struct {
	shared.Filter
	CustomerID *uuid.UUID     // Filter by customer
	Status     *InvoiceStatus // Filter by status
	QuoteID    *uuid.UUID     // Filter by originating quote
	FromDate   *time.Time     // Filter by creation date range start
	ToDate     *time.Time     // Filter by creation date range end
	DueFrom    *time.Time     // Filter by due date range start
	DueTo      *time.Time     // Filter by due date range end
	Overdue    *bool          // Filter only invoices past due with an open balance
}

// InvoiceRepository defines the interface for invoice persistence
type InvoiceRepository interface {
	// FindByID finds an invoice by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Invoice, error)

	// FindByIDForTenant finds an invoice by ID for a specific tenant
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error)

	// FindByInvoiceNumber finds by invoice number for a tenant
	FindByInvoiceNumber(ctx context.Context, tenantID uuid.UUID, invoiceNumber string) (*Invoice, error)

	// FindByPaymentIntentID finds the invoice correlated to a provider
	// payment intent. Returns shared.ErrNotFound when no invoice carries
	// the identifier.
	FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*Invoice, error)

	// FindAllForTenant finds all invoices for a tenant with filtering
	FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter InvoiceFilter) ([]Invoice, error)

	// FindByCustomer finds invoices for a customer
	FindByCustomer(ctx context.Context, tenantID, customerID uuid.UUID, filter InvoiceFilter) ([]Invoice, error)

	// FindDueForOverdueSweep finds sent invoices whose due date has passed,
	// candidates for the OVERDUE transition
	FindDueForOverdueSweep(ctx context.Context, asOf time.Time, limit int) ([]Invoice, error)

	// Save creates or updates an invoice
	Save(ctx context.Context, invoice *Invoice) error

	// SaveWithLock saves with optimistic locking (version check)
	SaveWithLock(ctx context.Context, invoice *Invoice) error

	// Delete soft deletes an invoice
	Delete(ctx context.Context, id uuid.UUID) error

	// CountForTenant counts invoices for a tenant with optional filters
	CountForTenant(ctx context.Context, tenantID uuid.UUID, filter InvoiceFilter) (int64, error)

	// CountByStatus counts invoices by status for a tenant
	CountByStatus(ctx context.Context, tenantID uuid.UUID, status InvoiceStatus) (int64, error)
}

// InvoiceNumberGenerator produces unique, human-readable invoice numbers
// per tenant (INV-YYYYMMDD-NNNNN)
type InvoiceNumberGenerator interface {
	GenerateInvoiceNumber(ctx context.Context, tenantID uuid.UUID) (string, error)
}
