package billing

import (
	"strings"
	"time"

	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
)

// InvoiceStatus represents the lifecycle status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"     // Being composed, line items editable
	InvoiceStatusSent      InvoiceStatus = "SENT"      // Issued to the customer, awaiting payment
	InvoiceStatusPaid      InvoiceStatus = "PAID"      // Balance fully covered (terminal)
	InvoiceStatusOverdue   InvoiceStatus = "OVERDUE"   // Past due date with an open balance
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED" // Voided (terminal)
)

// IsValid checks if the status is a valid InvoiceStatus
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPaid,
		InvoiceStatusOverdue, InvoiceStatusCancelled:
		return true
	}
	return false
}

// String returns the string representation of InvoiceStatus
func (s InvoiceStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the status has no outgoing transitions
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

// CanRecordCompletedPayment returns true if completed payments can be
// recorded in this status
func (s InvoiceStatus) CanRecordCompletedPayment() bool {
	return s == InvoiceStatusSent || s == InvoiceStatusOverdue
}

// invoiceTransitions is the explicit status edge table. Any edge not listed
// here fails with ILLEGAL_TRANSITION. No edge re-enters DRAFT.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:   {InvoiceStatusSent, InvoiceStatusCancelled},
	InvoiceStatusSent:    {InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled},
	InvoiceStatusOverdue: {InvoiceStatusPaid, InvoiceStatusCancelled},
}

// CanTransitionTo returns true if the edge from s to target exists
func (s InvoiceStatus) CanTransitionTo(target InvoiceStatus) bool {
	for _, t := range invoiceTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// PaymentResult reports the outcome of applying a payment to an invoice.
// BalanceDue carries the true signed value; a negative balance means
// overpayment, which is a condition surfaced to the caller, not an error.
type PaymentResult struct {
	Record     *PaymentRecord
	PaidToDate valueobject.Money
	BalanceDue valueobject.Money
	Overpaid   bool
	AutoPaid   bool // True if the payment auto-transitioned the invoice to PAID
}

// Invoice is the aggregate root for billing. It owns its line items and
// payment ledger and is the single consistency boundary for totals, status,
// and balance derivation. All monetary fields are integer minor units.
type Invoice struct {
	shared.TenantAggregateRoot
	InvoiceNumber   string                `json:"invoice_number"`
	CustomerID      uuid.UUID             `json:"customer_id"`
	CustomerName    string                `json:"customer_name"`
	CustomerEmail   string                `json:"customer_email,omitempty"`
	Currency        valueobject.Currency  `json:"currency"`
	LineItems       LineItems             `json:"line_items"`
	Subtotal        valueobject.Money     `json:"subtotal"`
	Tax             valueobject.Money     `json:"tax"`
	Total           valueobject.Money     `json:"total"`
	Status          InvoiceStatus         `json:"status"`
	DueDate         *time.Time            `json:"due_date,omitempty"`
	QuoteID         *uuid.UUID            `json:"quote_id,omitempty"`         // Originating quote, if converted
	PaymentIntentID string                `json:"payment_intent_id,omitempty"` // Provider correlation identifier, set at most once
	Payments        Ledger                `json:"payments"`
	SentAt          *time.Time            `json:"sent_at,omitempty"`
	PaidAt          *time.Time            `json:"paid_at,omitempty"`
	CancelledAt     *time.Time            `json:"cancelled_at,omitempty"`
	CancelReason    string                `json:"cancel_reason,omitempty"`
}

// NewInvoice creates a new invoice in draft status
func NewInvoice(
	tenantID uuid.UUID,
	invoiceNumber string,
	customerID uuid.UUID,
	customerName string,
	customerEmail string,
	currency valueobject.Currency,
	dueDate *time.Time,
	quoteID *uuid.UUID,
) (*Invoice, error) {
	invoiceNumber = strings.TrimSpace(invoiceNumber)
	if invoiceNumber == "" {
		return nil, shared.NewDomainError("INVALID_INVOICE_NUMBER", "Invoice number cannot be empty")
	}
	if len(invoiceNumber) > 50 {
		return nil, shared.NewDomainError("INVALID_INVOICE_NUMBER", "Invoice number cannot exceed 50 characters")
	}
	if customerID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_CUSTOMER", "Customer ID cannot be empty")
	}
	if customerName == "" {
		return nil, shared.NewDomainError("INVALID_CUSTOMER_NAME", "Customer name cannot be empty")
	}
	if currency == "" {
		currency = valueobject.DefaultCurrency
	}

	inv := &Invoice{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		InvoiceNumber:       invoiceNumber,
		CustomerID:          customerID,
		CustomerName:        customerName,
		CustomerEmail:       customerEmail,
		Currency:            currency,
		LineItems:           LineItems{},
		Subtotal:            valueobject.Zero(currency),
		Tax:                 valueobject.Zero(currency),
		Total:               valueobject.Zero(currency),
		Status:              InvoiceStatusDraft,
		DueDate:             dueDate,
		QuoteID:             quoteID,
		Payments:            Ledger{},
	}

	inv.AddDomainEvent(NewInvoiceCreatedEvent(inv))

	return inv, nil
}

// recompute rederives subtotal and total from the line items. Only called
// while the invoice is in draft.
func (inv *Invoice) recompute() {
	inv.Subtotal = inv.LineItems.SubtotalIn(inv.Currency)
	inv.Total = inv.Subtotal.MustAdd(inv.Tax)
}

// touch updates the modification timestamp and bumps the optimistic-lock
// version
func (inv *Invoice) touch() {
	inv.UpdatedAt = time.Now()
	inv.IncrementVersion()
}

// AddLineItem appends a line item and recomputes the totals.
// Fails with INVALID_STATE unless the invoice is in draft.
func (inv *Invoice) AddLineItem(item *LineItem) error {
	if inv.Status != InvoiceStatusDraft {
		return NewInvalidState("Cannot add line items to invoice in %s status", inv.Status)
	}
	if item == nil {
		return shared.ErrInvalidInput
	}
	if item.UnitPrice.Currency() != inv.Currency {
		return shared.NewDomainError("CURRENCY_MISMATCH", "Line item currency does not match invoice currency")
	}

	inv.LineItems = append(inv.LineItems, *item)
	inv.recompute()
	inv.touch()

	return nil
}

// RemoveLineItem removes a line item by ID and recomputes the totals.
// Fails with INVALID_STATE unless the invoice is in draft.
func (inv *Invoice) RemoveLineItem(itemID uuid.UUID) error {
	if inv.Status != InvoiceStatusDraft {
		return NewInvalidState("Cannot remove line items from invoice in %s status", inv.Status)
	}

	for i := range inv.LineItems {
		if inv.LineItems[i].ID == itemID {
			inv.LineItems = append(inv.LineItems[:i], inv.LineItems[i+1:]...)
			inv.recompute()
			inv.touch()
			return nil
		}
	}
	return shared.ErrNotFound
}

// SetTax sets the tax amount and recomputes the total.
// Fails with INVALID_STATE unless the invoice is in draft.
func (inv *Invoice) SetTax(tax valueobject.Money) error {
	if inv.Status != InvoiceStatusDraft {
		return NewInvalidState("Cannot change tax on invoice in %s status", inv.Status)
	}
	if tax.IsNegative() {
		return shared.NewDomainError("INVALID_AMOUNT", "Tax amount cannot be negative")
	}
	if tax.Currency() != inv.Currency {
		return shared.NewDomainError("CURRENCY_MISMATCH", "Tax currency does not match invoice currency")
	}

	inv.Tax = tax
	inv.recompute()
	inv.touch()

	return nil
}

// SetDueDate updates the due date
func (inv *Invoice) SetDueDate(dueDate *time.Time) error {
	if inv.Status.IsTerminal() {
		return NewInvalidState("Cannot modify due date for invoice in %s status", inv.Status)
	}

	inv.DueDate = dueDate
	inv.touch()

	return nil
}

// AttachPaymentIntent records the provider's payment-intent identifier under
// which asynchronous events are correlated. It may be set at most once;
// attaching the same identifier again is a no-op.
func (inv *Invoice) AttachPaymentIntent(paymentIntentID string) error {
	if paymentIntentID == "" {
		return shared.ErrInvalidInput
	}
	if inv.PaymentIntentID == paymentIntentID {
		return nil
	}
	if inv.PaymentIntentID != "" {
		return NewInvalidState("Invoice already has payment intent %s attached", inv.PaymentIntentID)
	}
	if inv.Status.IsTerminal() {
		return NewInvalidState("Cannot attach payment intent to invoice in %s status", inv.Status)
	}

	inv.PaymentIntentID = paymentIntentID
	inv.touch()

	return nil
}

// ChangeStatus transitions the invoice along an edge of the status state
// machine. Fails with ILLEGAL_TRANSITION if the edge does not exist.
func (inv *Invoice) ChangeStatus(target InvoiceStatus) error {
	if !target.IsValid() {
		return shared.NewDomainError("INVALID_STATUS", "Target status is not valid")
	}
	if !inv.Status.CanTransitionTo(target) {
		return NewIllegalTransition(inv.Status, target)
	}

	inv.applyStatus(target)
	inv.touch()

	return nil
}

// applyStatus performs the transition side effects. Callers have already
// validated the edge.
func (inv *Invoice) applyStatus(target InvoiceStatus) {
	now := time.Now()
	inv.Status = target

	switch target {
	case InvoiceStatusSent:
		inv.SentAt = &now
		inv.AddDomainEvent(NewInvoiceSentEvent(inv))
	case InvoiceStatusPaid:
		// Entering PAID clears due-date obligations: no further balance
		// warnings, and IsOverdue reports false from here on.
		inv.PaidAt = &now
		inv.AddDomainEvent(NewInvoicePaidEvent(inv))
	case InvoiceStatusOverdue:
		inv.AddDomainEvent(NewInvoiceOverdueEvent(inv))
	case InvoiceStatusCancelled:
		inv.CancelledAt = &now
		inv.AddDomainEvent(NewInvoiceCancelledEvent(inv))
	}
}

// Cancel cancels the invoice with a reason. Terminal: no further mutation is
// permitted afterwards.
func (inv *Invoice) Cancel(reason string) error {
	if reason == "" {
		return shared.NewDomainError("INVALID_REASON", "Cancel reason is required")
	}
	if !inv.Status.CanTransitionTo(InvoiceStatusCancelled) {
		return NewIllegalTransition(inv.Status, InvoiceStatusCancelled)
	}

	inv.CancelReason = reason
	inv.applyStatus(InvoiceStatusCancelled)
	inv.touch()

	return nil
}

// RecordPayment appends a payment record to the ledger and applies its
// effect on the invoice. This is the single code path for "money received":
// both the manual entry flow and the automated reconciliation flow go
// through here, so the auto-transition-to-PAID rule fires identically for
// both.
func (inv *Invoice) RecordPayment(record *PaymentRecord) (*PaymentResult, error) {
	if record == nil {
		return nil, shared.ErrInvalidInput
	}
	if record.Amount.Currency() != inv.Currency {
		return nil, shared.NewDomainError("CURRENCY_MISMATCH", "Payment currency does not match invoice currency")
	}
	if inv.Status == InvoiceStatusCancelled {
		return nil, NewInvalidState("Cannot record payments on a cancelled invoice")
	}
	if record.IsCompleted() && !inv.Status.CanRecordCompletedPayment() {
		return nil, NewInvalidState("Cannot record completed payment on invoice in %s status", inv.Status)
	}

	if err := inv.Payments.Append(record); err != nil {
		return nil, err
	}

	switch record.Status {
	case PaymentStatusCompleted:
		inv.AddDomainEvent(NewPaymentRecordedEvent(inv, record))
	case PaymentStatusFailed:
		inv.AddDomainEvent(NewPaymentFailedEvent(inv, record))
	case PaymentStatusRefunded:
		inv.AddDomainEvent(NewPaymentRefundedEvent(inv, record))
	}

	result := inv.settle(record)
	inv.touch()

	return result, nil
}

// CompletePayment transitions an existing pending record to completed and
// applies the same settlement rules as a freshly recorded payment.
func (inv *Invoice) CompletePayment(externalRef string) (*PaymentResult, error) {
	record := inv.Payments.Find(externalRef)
	if record == nil {
		return nil, shared.ErrNotFound
	}
	if err := record.MarkCompleted(); err != nil {
		return nil, err
	}

	inv.AddDomainEvent(NewPaymentRecordedEvent(inv, record))
	result := inv.settle(record)
	inv.touch()

	return result, nil
}

// FailPayment marks an existing record failed. Used for provider-reported
// failures and for the reconciler's compensating update.
func (inv *Invoice) FailPayment(recordID uuid.UUID, reason string) error {
	record := inv.Payments.FindByID(recordID)
	if record == nil {
		return shared.ErrNotFound
	}
	if err := record.MarkFailed(reason); err != nil {
		return err
	}

	inv.AddDomainEvent(NewPaymentFailedEvent(inv, record))
	inv.touch()

	return nil
}

// CancelPayment resolves an existing pending record as refunded after the
// provider reports the payment canceled.
func (inv *Invoice) CancelPayment(recordID uuid.UUID, reason string) error {
	record := inv.Payments.FindByID(recordID)
	if record == nil {
		return shared.ErrNotFound
	}
	if err := record.MarkCanceled(reason); err != nil {
		return err
	}

	inv.AddDomainEvent(NewPaymentRefundedEvent(inv, record))
	inv.touch()

	return nil
}

// RefundPayment marks an existing completed record refunded. Refunds never
// roll back the invoice status; PAID is terminal.
func (inv *Invoice) RefundPayment(externalRef string) error {
	record := inv.Payments.Find(externalRef)
	if record == nil {
		return shared.ErrNotFound
	}
	if err := record.MarkRefunded(); err != nil {
		return err
	}

	inv.AddDomainEvent(NewPaymentRefundedEvent(inv, record))
	inv.touch()

	return nil
}

// settle rederives the balance after a ledger change and fires the
// auto-transition to PAID when a completed payment covers the total.
func (inv *Invoice) settle(record *PaymentRecord) *PaymentResult {
	paid := inv.PaidToDate()
	balance := inv.BalanceDue()

	result := &PaymentResult{
		Record:     record,
		PaidToDate: paid,
		BalanceDue: balance,
		Overpaid:   balance.IsNegative(),
	}

	if record.IsCompleted() && !balance.IsPositive() && inv.Status.CanRecordCompletedPayment() {
		inv.applyStatus(InvoiceStatusPaid)
		result.AutoPaid = true
	}

	return result
}

// PaidToDate sums the completed payment records. Always computed from the
// ledger, never cached.
func (inv *Invoice) PaidToDate() valueobject.Money {
	return inv.Payments.CompletedTotal(inv.Currency)
}

// BalanceDue returns total minus paid-to-date as a signed amount; negative
// means overpayment
func (inv *Invoice) BalanceDue() valueobject.Money {
	return inv.Total.MustSubtract(inv.PaidToDate())
}

// DisplayBalanceDue returns the balance floored at zero for display
func (inv *Invoice) DisplayBalanceDue() valueobject.Money {
	return inv.BalanceDue().FloorZero()
}

// IsOverdue returns true if the invoice is past its due date with an open
// balance and not in a terminal state
func (inv *Invoice) IsOverdue(now time.Time) bool {
	if inv.Status.IsTerminal() || inv.DueDate == nil {
		return false
	}
	return now.After(*inv.DueDate) && inv.BalanceDue().IsPositive()
}

// MarkOverdue transitions a sent invoice to OVERDUE if its due date has
// passed with an open balance. Returns true if the transition fired.
func (inv *Invoice) MarkOverdue(now time.Time) (bool, error) {
	if inv.Status != InvoiceStatusSent {
		return false, nil
	}
	if !inv.IsOverdue(now) {
		return false, nil
	}
	if err := inv.ChangeStatus(InvoiceStatusOverdue); err != nil {
		return false, err
	}
	return true, nil
}

// IsDraft returns true if the invoice is in draft
func (inv *Invoice) IsDraft() bool {
	return inv.Status == InvoiceStatusDraft
}

// IsPaid returns true if the invoice is fully paid
func (inv *Invoice) IsPaid() bool {
	return inv.Status == InvoiceStatusPaid
}

// PaymentCount returns the number of ledger records
func (inv *Invoice) PaymentCount() int {
	return inv.Payments.Count()
}
