package billing

import (
	"time"

	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
)

// InvoiceCreatedEvent is raised when a new invoice is created
type InvoiceCreatedEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID         `json:"invoice_id"`
	InvoiceNumber string            `json:"invoice_number"`
	CustomerID    uuid.UUID         `json:"customer_id"`
	CustomerName  string            `json:"customer_name"`
	Total         valueobject.Money `json:"total"`
	DueDate       *time.Time        `json:"due_date,omitempty"`
	QuoteID       *uuid.UUID        `json:"quote_id,omitempty"`
}

// EventType returns the event type name
func (e *InvoiceCreatedEvent) EventType() string {
	return "InvoiceCreated"
}

// NewInvoiceCreatedEvent creates a new InvoiceCreatedEvent
func NewInvoiceCreatedEvent(inv *Invoice) *InvoiceCreatedEvent {
	return &InvoiceCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("InvoiceCreated", "Invoice", inv.ID, inv.TenantID),
		InvoiceID:       inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		CustomerID:      inv.CustomerID,
		CustomerName:    inv.CustomerName,
		Total:           inv.Total,
		DueDate:         inv.DueDate,
		QuoteID:         inv.QuoteID,
	}
}

// InvoiceSentEvent is raised when an invoice is issued to the customer
type InvoiceSentEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID         `json:"invoice_id"`
	InvoiceNumber string            `json:"invoice_number"`
	CustomerID    uuid.UUID         `json:"customer_id"`
	CustomerName  string            `json:"customer_name"`
	Total         valueobject.Money `json:"total"`
	DueDate       *time.Time        `json:"due_date,omitempty"`
	SentAt        time.Time         `json:"sent_at"`
}

// EventType returns the event type name
func (e *InvoiceSentEvent) EventType() string {
	return "InvoiceSent"
}

// NewInvoiceSentEvent creates a new InvoiceSentEvent
func NewInvoiceSentEvent(inv *Invoice) *InvoiceSentEvent {
	sentAt := time.Now()
	if inv.SentAt != nil {
		sentAt = *inv.SentAt
	}
	return &InvoiceSentEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("InvoiceSent", "Invoice", inv.ID, inv.TenantID),
		InvoiceID:       inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		CustomerID:      inv.CustomerID,
		CustomerName:    inv.CustomerName,
		Total:           inv.Total,
		DueDate:         inv.DueDate,
		SentAt:          sentAt,
	}
}

// InvoicePaidEvent is raised when an invoice becomes fully paid
type InvoicePaidEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID         `json:"invoice_id"`
	InvoiceNumber string            `json:"invoice_number"`
	CustomerID    uuid.UUID         `json:"customer_id"`
	CustomerName  string            `json:"customer_name"`
	Total         valueobject.Money `json:"total"`
	PaidToDate    valueobject.Money `json:"paid_to_date"`
	PaidAt        time.Time         `json:"paid_at"`
}

// EventType returns the event type name
func (e *InvoicePaidEvent) EventType() string {
	return "InvoicePaid"
}

// NewInvoicePaidEvent creates a new InvoicePaidEvent
func NewInvoicePaidEvent(inv *Invoice) *InvoicePaidEvent {
	paidAt := time.Now()
	if inv.PaidAt != nil {
		paidAt = *inv.PaidAt
	}
	return &InvoicePaidEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("InvoicePaid", "Invoice", inv.ID, inv.TenantID),
		InvoiceID:       inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		CustomerID:      inv.CustomerID,
		CustomerName:    inv.CustomerName,
		Total:           inv.Total,
		PaidToDate:      inv.PaidToDate(),
		PaidAt:          paidAt,
	}
}

// InvoiceOverdueEvent is raised when an invoice passes its due date with an
// open balance
type InvoiceOverdueEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID         `json:"invoice_id"`
	InvoiceNumber string            `json:"invoice_number"`
	CustomerID    uuid.UUID         `json:"customer_id"`
	CustomerName  string            `json:"customer_name"`
	BalanceDue    valueobject.Money `json:"balance_due"`
	DueDate       *time.Time        `json:"due_date,omitempty"`
}

// EventType returns the event type name
func (e *InvoiceOverdueEvent) EventType() string {
	return "InvoiceOverdue"
}

// NewInvoiceOverdueEvent creates a new InvoiceOverdueEvent
func NewInvoiceOverdueEvent(inv *Invoice) *InvoiceOverdueEvent {
	return &InvoiceOverdueEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("InvoiceOverdue", "Invoice", inv.ID, inv.TenantID),
		InvoiceID:       inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		CustomerID:      inv.CustomerID,
		CustomerName:    inv.CustomerName,
		BalanceDue:      inv.BalanceDue(),
		DueDate:         inv.DueDate,
	}
}

// InvoiceCancelledEvent is raised when an invoice is voided
type InvoiceCancelledEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID `json:"invoice_id"`
	InvoiceNumber string    `json:"invoice_number"`
	CustomerID    uuid.UUID `json:"customer_id"`
	Reason        string    `json:"reason,omitempty"`
	CancelledAt   time.Time `json:"cancelled_at"`
}

// EventType returns the event type name
func (e *InvoiceCancelledEvent) EventType() string {
	return "InvoiceCancelled"
}

// NewInvoiceCancelledEvent creates a new InvoiceCancelledEvent
func NewInvoiceCancelledEvent(inv *Invoice) *InvoiceCancelledEvent {
	cancelledAt := time.Now()
	if inv.CancelledAt != nil {
		cancelledAt = *inv.CancelledAt
	}
	return &InvoiceCancelledEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("InvoiceCancelled", "Invoice", inv.ID, inv.TenantID),
		InvoiceID:       inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		CustomerID:      inv.CustomerID,
		Reason:          inv.CancelReason,
		CancelledAt:     cancelledAt,
	}
}

// PaymentRecordedEvent is raised when a completed payment is applied to an
// invoice ledger
type PaymentRecordedEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID         `json:"invoice_id"`
	InvoiceNumber string            `json:"invoice_number"`
	RecordID      uuid.UUID         `json:"record_id"`
	Amount        valueobject.Money `json:"amount"`
	Method        PaymentMethod     `json:"method"`
	ExternalRef   string            `json:"external_ref,omitempty"`
	BalanceDue    valueobject.Money `json:"balance_due"`
}

// EventType returns the event type name
func (e *PaymentRecordedEvent) EventType() string {
	return "PaymentRecorded"
}

// NewPaymentRecordedEvent creates a new PaymentRecordedEvent
func NewPaymentRecordedEvent(inv *Invoice, record *PaymentRecord) *PaymentRecordedEvent {
	return &PaymentRecordedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("PaymentRecorded", "Invoice", inv.ID, inv.TenantID),
		InvoiceID:       inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		RecordID:        record.ID,
		Amount:          record.Amount,
		Method:          record.Method,
		ExternalRef:     record.ExternalReference,
		BalanceDue:      inv.BalanceDue(),
	}
}

// PaymentFailedEvent is raised when a payment record is marked failed
type PaymentFailedEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID         `json:"invoice_id"`
	InvoiceNumber string            `json:"invoice_number"`
	RecordID      uuid.UUID         `json:"record_id"`
	Amount        valueobject.Money `json:"amount"`
	ExternalRef   string            `json:"external_ref,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// EventType returns the event type name
func (e *PaymentFailedEvent) EventType() string {
	return "PaymentFailed"
}

// NewPaymentFailedEvent creates a new PaymentFailedEvent
func NewPaymentFailedEvent(inv *Invoice, record *PaymentRecord) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("PaymentFailed", "Invoice", inv.ID, inv.TenantID),
		InvoiceID:       inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		RecordID:        record.ID,
		Amount:          record.Amount,
		ExternalRef:     record.ExternalReference,
		Reason:          record.FailureReason,
	}
}

// PaymentRefundedEvent is raised when a payment record is marked refunded
type PaymentRefundedEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID         `json:"invoice_id"`
	InvoiceNumber string            `json:"invoice_number"`
	RecordID      uuid.UUID         `json:"record_id"`
	Amount        valueobject.Money `json:"amount"`
	ExternalRef   string            `json:"external_ref,omitempty"`
}

// EventType returns the event type name
func (e *PaymentRefundedEvent) EventType() string {
	return "PaymentRefunded"
}

// NewPaymentRefundedEvent creates a new PaymentRefundedEvent
func NewPaymentRefundedEvent(inv *Invoice, record *PaymentRecord) *PaymentRefundedEvent {
	return &PaymentRefundedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("PaymentRefunded", "Invoice", inv.ID, inv.TenantID),
		InvoiceID:       inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		RecordID:        record.ID,
		Amount:          record.Amount,
		ExternalRef:     record.ExternalReference,
	}
}

// ReconciliationUnresolvedEvent is raised when an external payment event
// cannot be reconciled automatically and needs operator attention
type ReconciliationUnresolvedEvent struct {
	shared.BaseDomainEvent
	InvoiceID       uuid.UUID `json:"invoice_id"`
	InvoiceNumber   string    `json:"invoice_number"`
	PaymentIntentID string    `json:"payment_intent_id"`
	ProviderEventID string    `json:"provider_event_id"`
	Reason          string    `json:"reason"`
}

// EventType returns the event type name
func (e *ReconciliationUnresolvedEvent) EventType() string {
	return "ReconciliationUnresolved"
}

// NewReconciliationUnresolvedEvent creates a new ReconciliationUnresolvedEvent
func NewReconciliationUnresolvedEvent(inv *Invoice, providerEventID, reason string) *ReconciliationUnresolvedEvent {
	return &ReconciliationUnresolvedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("ReconciliationUnresolved", "Invoice", inv.ID, inv.TenantID),
		InvoiceID:       inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		PaymentIntentID: inv.PaymentIntentID,
		ProviderEventID: providerEventID,
		Reason:          reason,
	}
}
