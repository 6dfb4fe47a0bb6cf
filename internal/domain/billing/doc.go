// Package billing provides the domain model for invoicing and payment
// reconciliation in a multi-tenant billing application.
//
// The Invoice aggregate is the consistency boundary for an invoice's line
// items, totals, status, and payment ledger. Paid-to-date and balance-due
// are always derived from the ledger, never stored.
//
// Key Aggregates:
//   - Invoice: Owns line items, the status state machine, and the payment
//     ledger
//
// Value Objects:
//   - LineItem: Immutable billable line with a derived line total
//   - PaymentRecord: One observed payment attempt; the ledger is append-only
//     and records transition status rather than being removed
//
// Outbound Ports:
//   - InvoiceRepository: Persistence with optimistic locking
//   - PaymentProvider: Webhook verification and payment-state lookup against
//     the external payment provider
//   - Mailer: Customer-facing email
//
// The billing domain integrates with the external payment provider through
// normalized ProviderEvents; provider payload formats never leak past the
// PaymentProvider port.
package billing
