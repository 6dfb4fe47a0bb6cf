// Package notification provides outbound customer notification adapters.
package notification

import (
	"context"

	"github.com/billing/backend/internal/domain/billing"
	"go.uber.org/zap"
)

// LogMailer implements billing.Mailer by writing structured log entries
// instead of sending real email. Suitable for development and for
// deployments where delivery is handled by a downstream log pipeline.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer creates a new logging mailer
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// SendPaymentReceipt logs a payment receipt notification
func (m *LogMailer) SendPaymentReceipt(ctx context.Context, recipient string, n billing.PaymentNotification) error {
	m.logger.Info("Payment receipt notification",
		zap.String("recipient", recipient),
		zap.String("invoice_number", n.InvoiceNumber),
		zap.String("customer_name", n.CustomerName),
		zap.String("amount_paid", n.AmountPaid),
		zap.String("currency", n.Currency),
		zap.String("balance_due", n.BalanceDue),
		zap.Bool("fully_paid", n.FullyPaid))
	return nil
}

// SendInvoiceIssued logs an invoice issued notification
func (m *LogMailer) SendInvoiceIssued(ctx context.Context, recipient string, n billing.InvoiceNotification) error {
	m.logger.Info("Invoice issued notification",
		zap.String("recipient", recipient),
		zap.String("invoice_number", n.InvoiceNumber),
		zap.String("customer_name", n.CustomerName),
		zap.String("total", n.Total),
		zap.String("currency", n.Currency),
		zap.String("due_date", n.DueDate))
	return nil
}

// Ensure LogMailer implements Mailer
var _ billing.Mailer = (*LogMailer)(nil)
