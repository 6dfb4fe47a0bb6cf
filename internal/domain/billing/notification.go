package billing

import "context"

// PaymentNotification carries the details of a settled payment for the
// customer receipt email
type PaymentNotification struct {
	InvoiceNumber string
	CustomerName  string
	AmountPaid    string // Formatted decimal string, e.g. "125.00"
	Currency      string
	BalanceDue    string // Display balance, floored at zero
	FullyPaid     bool
}

// InvoiceNotification carries the details of an issued invoice for the
// customer email
type InvoiceNotification struct {
	InvoiceNumber string
	CustomerName  string
	Total         string
	Currency      string
	DueDate       string // Empty when the invoice has no due date
}

// Mailer is the outbound port for customer-facing email. Implementations
// must not block reconciliation: a send failure is logged, never propagated
// as a reconciliation error.
type Mailer interface {
	// SendPaymentReceipt notifies the customer that a payment was applied
	SendPaymentReceipt(ctx context.Context, recipient string, notification PaymentNotification) error

	// SendInvoiceIssued notifies the customer that an invoice was issued
	SendInvoiceIssued(ctx context.Context, recipient string, notification InvoiceNotification) error
}
