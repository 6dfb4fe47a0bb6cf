package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InvoiceService provides application-level invoice operations. All mutating
// operations serialize per invoice id through the shared lock registry, the
// same one the reconciler uses, so manual entry and webhook reconciliation
// never interleave on one invoice.
type InvoiceService struct {
	invoiceRepo    billing.InvoiceRepository
	numberGen      billing.InvoiceNumberGenerator
	eventPublisher shared.EventPublisher
	mailer         billing.Mailer
	locks          *InvoiceLocks
	logger         *zap.Logger
}

// InvoiceServiceConfig holds configuration for the invoice service
type InvoiceServiceConfig struct {
	InvoiceRepo    billing.InvoiceRepository
	NumberGen      billing.InvoiceNumberGenerator
	EventPublisher shared.EventPublisher
	Mailer         billing.Mailer
	Locks          *InvoiceLocks
	Logger         *zap.Logger
}

// NewInvoiceService creates a new InvoiceService
func NewInvoiceService(config InvoiceServiceConfig) *InvoiceService {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	locks := config.Locks
	if locks == nil {
		locks = NewInvoiceLocks()
	}
	return &InvoiceService{
		invoiceRepo:    config.InvoiceRepo,
		numberGen:      config.NumberGen,
		eventPublisher: config.EventPublisher,
		mailer:         config.Mailer,
		locks:          locks,
		logger:         logger,
	}
}

// Locks exposes the per-invoice lock registry so the reconciler can share it
func (s *InvoiceService) Locks() *InvoiceLocks {
	return s.locks
}

// ===================== Inputs and responses =====================

// LineItemInput describes one line on invoice creation or line addition
type LineItemInput struct {
	Title       string
	Description string
	Quantity    string // Decimal string, must be positive
	UnitPrice   int64  // Minor units
	Position    int
}

// CreateInvoiceInput describes a new draft invoice
type CreateInvoiceInput struct {
	TenantID      uuid.UUID
	CustomerID    uuid.UUID
	CustomerName  string
	CustomerEmail string
	Currency      valueobject.Currency
	DueDate       *time.Time
	QuoteID       *uuid.UUID
	Tax           int64 // Minor units
	LineItems     []LineItemInput
}

// ManualPaymentInput describes an out-of-band payment entered by a
// collaborator
type ManualPaymentInput struct {
	Amount     int64 // Minor units
	Method     billing.PaymentMethod
	Reference  string
	ReceivedAt time.Time
}

// PaymentRecordResponse represents a ledger record in API responses
type PaymentRecordResponse struct {
	ID            uuid.UUID  `json:"id"`
	Amount        int64      `json:"amount_minor_units"`
	AmountDisplay string     `json:"amount_display"`
	Method        string     `json:"method"`
	ExternalRef   string     `json:"external_reference,omitempty"`
	Status        string     `json:"status"`
	ReceivedAt    time.Time  `json:"received_at"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// LineItemResponse represents a line item in API responses
type LineItemResponse struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Quantity    string    `json:"quantity"`
	UnitPrice   int64     `json:"unit_price_minor_units"`
	LineTotal   int64     `json:"line_total_minor_units"`
	Position    int       `json:"position"`
}

// InvoiceResponse represents an invoice in API responses.
// BalanceDue is the signed value; DisplayBalanceDue is floored at zero.
type InvoiceResponse struct {
	ID                uuid.UUID               `json:"id"`
	TenantID          uuid.UUID               `json:"tenant_id"`
	InvoiceNumber     string                  `json:"invoice_number"`
	CustomerID        uuid.UUID               `json:"customer_id"`
	CustomerName      string                  `json:"customer_name"`
	CustomerEmail     string                  `json:"customer_email,omitempty"`
	Currency          string                  `json:"currency"`
	Status            string                  `json:"status"`
	Subtotal          int64                   `json:"subtotal_minor_units"`
	Tax               int64                   `json:"tax_minor_units"`
	Total             int64                   `json:"total_minor_units"`
	PaidToDate        int64                   `json:"paid_to_date_minor_units"`
	BalanceDue        int64                   `json:"balance_due_minor_units"`
	DisplayBalanceDue string                  `json:"display_balance_due"`
	Overpaid          bool                    `json:"overpaid"`
	DueDate           *time.Time              `json:"due_date,omitempty"`
	QuoteID           *uuid.UUID              `json:"quote_id,omitempty"`
	PaymentIntentID   string                  `json:"payment_intent_id,omitempty"`
	LineItems         []LineItemResponse      `json:"line_items"`
	Payments          []PaymentRecordResponse `json:"payments"`
	SentAt            *time.Time              `json:"sent_at,omitempty"`
	PaidAt            *time.Time              `json:"paid_at,omitempty"`
	CancelledAt       *time.Time              `json:"cancelled_at,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
	Version           int                     `json:"version"`
}

func toInvoiceResponse(inv *billing.Invoice) *InvoiceResponse {
	balance := inv.BalanceDue()

	items := make([]LineItemResponse, 0, len(inv.LineItems))
	for i := range inv.LineItems {
		item := &inv.LineItems[i]
		items = append(items, LineItemResponse{
			ID:          item.ID,
			Title:       item.Title,
			Description: item.Description,
			Quantity:    item.Quantity.String(),
			UnitPrice:   item.UnitPrice.MinorUnits(),
			LineTotal:   item.LineTotal.MinorUnits(),
			Position:    item.Position,
		})
	}

	payments := make([]PaymentRecordResponse, 0, inv.Payments.Count())
	for i := range inv.Payments {
		record := &inv.Payments[i]
		payments = append(payments, PaymentRecordResponse{
			ID:            record.ID,
			Amount:        record.Amount.MinorUnits(),
			AmountDisplay: record.Amount.Display(),
			Method:        record.Method.String(),
			ExternalRef:   record.ExternalReference,
			Status:        record.Status.String(),
			ReceivedAt:    record.ReceivedAt,
			FailedAt:      record.FailedAt,
			FailureReason: record.FailureReason,
		})
	}

	return &InvoiceResponse{
		ID:                inv.ID,
		TenantID:          inv.TenantID,
		InvoiceNumber:     inv.InvoiceNumber,
		CustomerID:        inv.CustomerID,
		CustomerName:      inv.CustomerName,
		CustomerEmail:     inv.CustomerEmail,
		Currency:          string(inv.Currency),
		Status:            inv.Status.String(),
		Subtotal:          inv.Subtotal.MinorUnits(),
		Tax:               inv.Tax.MinorUnits(),
		Total:             inv.Total.MinorUnits(),
		PaidToDate:        inv.PaidToDate().MinorUnits(),
		BalanceDue:        balance.MinorUnits(),
		DisplayBalanceDue: inv.DisplayBalanceDue().Display(),
		Overpaid:          balance.IsNegative(),
		DueDate:           inv.DueDate,
		QuoteID:           inv.QuoteID,
		PaymentIntentID:   inv.PaymentIntentID,
		LineItems:         items,
		Payments:          payments,
		SentAt:            inv.SentAt,
		PaidAt:            inv.PaidAt,
		CancelledAt:       inv.CancelledAt,
		CreatedAt:         inv.CreatedAt,
		UpdatedAt:         inv.UpdatedAt,
		Version:           inv.Version,
	}
}

// ===================== Commands =====================

// CreateInvoice creates a new draft invoice with its initial line items
func (s *InvoiceService) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (*InvoiceResponse, error) {
	number, err := s.numberGen.GenerateInvoiceNumber(ctx, input.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate invoice number: %w", err)
	}

	inv, err := billing.NewInvoice(
		input.TenantID,
		number,
		input.CustomerID,
		input.CustomerName,
		input.CustomerEmail,
		input.Currency,
		input.DueDate,
		input.QuoteID,
	)
	if err != nil {
		return nil, err
	}

	for _, li := range input.LineItems {
		item, err := buildLineItem(li, inv.Currency)
		if err != nil {
			return nil, err
		}
		if err := inv.AddLineItem(item); err != nil {
			return nil, err
		}
	}

	if input.Tax > 0 {
		tax, err := valueobject.NewMoney(input.Tax, inv.Currency)
		if err != nil {
			return nil, err
		}
		if err := inv.SetTax(tax); err != nil {
			return nil, err
		}
	}

	if err := s.invoiceRepo.Save(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to save invoice: %w", err)
	}

	s.publishEvents(ctx, inv)

	s.logger.Info("Invoice created",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.Int64("total", inv.Total.MinorUnits()))

	return toInvoiceResponse(inv), nil
}

// GetInvoice gets an invoice by ID
func (s *InvoiceService) GetInvoice(ctx context.Context, tenantID, id uuid.UUID) (*InvoiceResponse, error) {
	inv, err := s.invoiceRepo.FindByIDForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return toInvoiceResponse(inv), nil
}

// GetInvoiceByNumber gets an invoice by its number
func (s *InvoiceService) GetInvoiceByNumber(ctx context.Context, tenantID uuid.UUID, number string) (*InvoiceResponse, error) {
	inv, err := s.invoiceRepo.FindByInvoiceNumber(ctx, tenantID, number)
	if err != nil {
		return nil, err
	}
	return toInvoiceResponse(inv), nil
}

// ListInvoices lists invoices for a tenant with filtering and pagination
func (s *InvoiceService) ListInvoices(ctx context.Context, tenantID uuid.UUID, filter billing.InvoiceFilter) (*shared.Paginated[InvoiceResponse], error) {
	invoices, err := s.invoiceRepo.FindAllForTenant(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}

	total, err := s.invoiceRepo.CountForTenant(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}

	responses := make([]InvoiceResponse, 0, len(invoices))
	for i := range invoices {
		responses = append(responses, *toInvoiceResponse(&invoices[i]))
	}

	page := shared.NewPaginated(responses, total, filter.Page, filter.PageSize)
	return &page, nil
}

// AddLineItem appends a line item to a draft invoice
func (s *InvoiceService) AddLineItem(ctx context.Context, tenantID, invoiceID uuid.UUID, input LineItemInput) (*InvoiceResponse, error) {
	return s.mutate(ctx, tenantID, invoiceID, func(inv *billing.Invoice) error {
		item, err := buildLineItem(input, inv.Currency)
		if err != nil {
			return err
		}
		return inv.AddLineItem(item)
	})
}

// RemoveLineItem removes a line item from a draft invoice
func (s *InvoiceService) RemoveLineItem(ctx context.Context, tenantID, invoiceID, itemID uuid.UUID) (*InvoiceResponse, error) {
	return s.mutate(ctx, tenantID, invoiceID, func(inv *billing.Invoice) error {
		return inv.RemoveLineItem(itemID)
	})
}

// SetTax sets the tax amount on a draft invoice
func (s *InvoiceService) SetTax(ctx context.Context, tenantID, invoiceID uuid.UUID, taxMinorUnits int64) (*InvoiceResponse, error) {
	return s.mutate(ctx, tenantID, invoiceID, func(inv *billing.Invoice) error {
		tax, err := valueobject.NewMoney(taxMinorUnits, inv.Currency)
		if err != nil {
			return err
		}
		return inv.SetTax(tax)
	})
}

// SendInvoice issues a draft invoice to the customer and emails them
func (s *InvoiceService) SendInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*InvoiceResponse, error) {
	resp, err := s.mutate(ctx, tenantID, invoiceID, func(inv *billing.Invoice) error {
		return inv.ChangeStatus(billing.InvoiceStatusSent)
	})
	if err != nil {
		return nil, err
	}

	s.sendIssuedMail(ctx, resp)

	return resp, nil
}

// CancelInvoice voids an invoice with a reason
func (s *InvoiceService) CancelInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID, reason string) (*InvoiceResponse, error) {
	return s.mutate(ctx, tenantID, invoiceID, func(inv *billing.Invoice) error {
		return inv.Cancel(reason)
	})
}

// AttachPaymentIntent records the provider correlation identifier on the
// invoice so asynchronous provider events can be reconciled against it
func (s *InvoiceService) AttachPaymentIntent(ctx context.Context, tenantID, invoiceID uuid.UUID, paymentIntentID string) (*InvoiceResponse, error) {
	return s.mutate(ctx, tenantID, invoiceID, func(inv *billing.Invoice) error {
		return inv.AttachPaymentIntent(paymentIntentID)
	})
}

// RecordManualPayment applies an out-of-band payment (cash, check, manual
// card entry) through the same aggregate path the reconciler uses, so the
// auto-transition to PAID behaves identically.
func (s *InvoiceService) RecordManualPayment(ctx context.Context, tenantID, invoiceID uuid.UUID, input ManualPaymentInput) (*InvoiceResponse, error) {
	var result *billing.PaymentResult

	resp, err := s.mutate(ctx, tenantID, invoiceID, func(inv *billing.Invoice) error {
		amount, err := valueobject.NewMoney(input.Amount, inv.Currency)
		if err != nil {
			return err
		}
		record, err := billing.NewPaymentRecord(amount, input.Method, input.Reference, billing.PaymentStatusCompleted, input.ReceivedAt)
		if err != nil {
			return err
		}
		result, err = inv.RecordPayment(record)
		return err
	})
	if err != nil {
		return nil, err
	}

	if result != nil {
		s.logger.Info("Manual payment recorded",
			zap.String("invoice_id", invoiceID.String()),
			zap.Int64("amount", input.Amount),
			zap.Int64("balance_due", result.BalanceDue.MinorUnits()),
			zap.Bool("overpaid", result.Overpaid),
			zap.Bool("auto_paid", result.AutoPaid))

		s.sendReceiptMail(ctx, resp, result)
	}

	return resp, nil
}

// RunOverdueSweep transitions sent invoices past their due date to OVERDUE.
// Returns the number of invoices transitioned.
func (s *InvoiceService) RunOverdueSweep(ctx context.Context, asOf time.Time, limit int) (int, error) {
	candidates, err := s.invoiceRepo.FindDueForOverdueSweep(ctx, asOf, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to find overdue candidates: %w", err)
	}

	swept := 0
	for i := range candidates {
		id := candidates[i].ID
		tenantID := candidates[i].TenantID

		fired, err := s.sweepOne(ctx, tenantID, id, asOf)
		if err != nil {
			s.logger.Warn("Overdue sweep failed for invoice",
				zap.String("invoice_id", id.String()),
				zap.Error(err))
			continue
		}
		if fired {
			swept++
		}
	}

	s.logger.Info("Overdue sweep completed",
		zap.Int("candidates", len(candidates)),
		zap.Int("swept", swept))

	return swept, nil
}

func (s *InvoiceService) sweepOne(ctx context.Context, tenantID, invoiceID uuid.UUID, asOf time.Time) (bool, error) {
	unlock := s.locks.Lock(invoiceID)
	defer unlock()

	// Reload under the lock; the candidate list may be stale
	inv, err := s.invoiceRepo.FindByIDForTenant(ctx, tenantID, invoiceID)
	if err != nil {
		return false, err
	}

	fired, err := inv.MarkOverdue(asOf)
	if err != nil || !fired {
		return false, err
	}

	if err := s.invoiceRepo.SaveWithLock(ctx, inv); err != nil {
		return false, err
	}

	s.publishEvents(ctx, inv)
	return true, nil
}

// ===================== Helpers =====================

// mutate runs fn against the invoice under its per-invoice lock and persists
// with optimistic locking
func (s *InvoiceService) mutate(ctx context.Context, tenantID, invoiceID uuid.UUID, fn func(*billing.Invoice) error) (*InvoiceResponse, error) {
	unlock := s.locks.Lock(invoiceID)
	defer unlock()

	inv, err := s.invoiceRepo.FindByIDForTenant(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}

	if err := fn(inv); err != nil {
		return nil, err
	}

	if err := s.invoiceRepo.SaveWithLock(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to save invoice: %w", err)
	}

	s.publishEvents(ctx, inv)

	return toInvoiceResponse(inv), nil
}

// publishEvents publishes and clears the aggregate's pending events.
// Publish failures are logged, never propagated: the state change already
// committed.
func (s *InvoiceService) publishEvents(ctx context.Context, inv *billing.Invoice) {
	if s.eventPublisher == nil {
		return
	}
	events := inv.GetDomainEvents()
	if len(events) == 0 {
		return
	}
	if err := s.eventPublisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("Failed to publish domain events",
			zap.String("invoice_id", inv.ID.String()),
			zap.Int("event_count", len(events)),
			zap.Error(err))
	}
	inv.ClearDomainEvents()
}

func (s *InvoiceService) sendIssuedMail(ctx context.Context, resp *InvoiceResponse) {
	if s.mailer == nil || resp.CustomerEmail == "" {
		return
	}

	dueDate := ""
	if resp.DueDate != nil {
		dueDate = resp.DueDate.Format("2006-01-02")
	}

	err := s.mailer.SendInvoiceIssued(ctx, resp.CustomerEmail, billing.InvoiceNotification{
		InvoiceNumber: resp.InvoiceNumber,
		CustomerName:  resp.CustomerName,
		Total:         decimal.New(resp.Total, -2).StringFixed(2),
		Currency:      resp.Currency,
		DueDate:       dueDate,
	})
	if err != nil {
		s.logger.Warn("Failed to send invoice issued email",
			zap.String("invoice_number", resp.InvoiceNumber),
			zap.Error(err))
	}
}

func (s *InvoiceService) sendReceiptMail(ctx context.Context, resp *InvoiceResponse, result *billing.PaymentResult) {
	if s.mailer == nil || resp.CustomerEmail == "" {
		return
	}

	err := s.mailer.SendPaymentReceipt(ctx, resp.CustomerEmail, billing.PaymentNotification{
		InvoiceNumber: resp.InvoiceNumber,
		CustomerName:  resp.CustomerName,
		AmountPaid:    result.Record.Amount.Display(),
		Currency:      resp.Currency,
		BalanceDue:    result.BalanceDue.FloorZero().Display(),
		FullyPaid:     result.AutoPaid || resp.Status == billing.InvoiceStatusPaid.String(),
	})
	if err != nil {
		s.logger.Warn("Failed to send payment receipt email",
			zap.String("invoice_number", resp.InvoiceNumber),
			zap.Error(err))
	}
}

func buildLineItem(input LineItemInput, currency valueobject.Currency) (*billing.LineItem, error) {
	quantity, err := valueobject.NewQuantityFromString(input.Quantity)
	if err != nil {
		return nil, shared.NewDomainError("INVALID_QUANTITY", err.Error())
	}
	unitPrice, err := valueobject.NewMoney(input.UnitPrice, currency)
	if err != nil {
		return nil, err
	}
	return billing.NewLineItem(input.Title, input.Description, quantity, unitPrice, input.Position)
}
