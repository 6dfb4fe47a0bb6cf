package models

import (
	"time"

	"github.com/billing/backend/internal/domain/billing"
	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
)

// InvoiceModel is the persistence model for the Invoice aggregate root.
// Monetary amounts are stored as bigint minor units; the currency lives in
// its own column and is reapplied on load.
type InvoiceModel struct {
	TenantAggregateModel
	InvoiceNumber   string                `gorm:"type:varchar(50);not null;uniqueIndex:idx_invoice_tenant_number,priority:2"`
	CustomerID      uuid.UUID             `gorm:"type:uuid;not null;index"`
	CustomerName    string                `gorm:"type:varchar(200);not null"`
	CustomerEmail   string                `gorm:"type:varchar(320)"`
	Currency        valueobject.Currency  `gorm:"type:varchar(3);not null"`
	LineItems       billing.LineItems     `gorm:"type:jsonb;default:'[]'"`
	Subtotal        int64                 `gorm:"type:bigint;not null"`
	Tax             int64                 `gorm:"type:bigint;not null"`
	Total           int64                 `gorm:"type:bigint;not null"`
	Status          billing.InvoiceStatus `gorm:"type:varchar(20);not null;default:'DRAFT';index"`
	DueDate         *time.Time            `gorm:"index"`
	QuoteID         *uuid.UUID            `gorm:"type:uuid;index"`
	PaymentIntentID string                `gorm:"type:varchar(100);index"`
	Payments        billing.Ledger        `gorm:"type:jsonb;default:'[]'"`
	SentAt          *time.Time
	PaidAt          *time.Time
	CancelledAt     *time.Time
	CancelReason    string `gorm:"type:varchar(500)"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// moneyFrom rehydrates a Money from stored minor units. The currency column
// is not null so the error path cannot fire for loaded rows.
func moneyFrom(minorUnits int64, currency valueobject.Currency) valueobject.Money {
	m, err := valueobject.NewMoney(minorUnits, currency)
	if err != nil {
		return valueobject.Zero(valueobject.DefaultCurrency)
	}
	return m
}

// ToDomain converts the persistence model to a domain Invoice entity.
func (m *InvoiceModel) ToDomain() *billing.Invoice {
	return &billing.Invoice{
		TenantAggregateRoot: shared.TenantAggregateRoot{
			BaseAggregateRoot: shared.BaseAggregateRoot{
				BaseEntity: shared.BaseEntity{
					ID:        m.ID,
					CreatedAt: m.CreatedAt,
					UpdatedAt: m.UpdatedAt,
				},
				Version: m.Version,
			},
			TenantID:  m.TenantID,
			CreatedBy: m.CreatedBy,
		},
		InvoiceNumber:   m.InvoiceNumber,
		CustomerID:      m.CustomerID,
		CustomerName:    m.CustomerName,
		CustomerEmail:   m.CustomerEmail,
		Currency:        m.Currency,
		LineItems:       m.LineItems,
		Subtotal:        moneyFrom(m.Subtotal, m.Currency),
		Tax:             moneyFrom(m.Tax, m.Currency),
		Total:           moneyFrom(m.Total, m.Currency),
		Status:          m.Status,
		DueDate:         m.DueDate,
		QuoteID:         m.QuoteID,
		PaymentIntentID: m.PaymentIntentID,
		Payments:        m.Payments,
		SentAt:          m.SentAt,
		PaidAt:          m.PaidAt,
		CancelledAt:     m.CancelledAt,
		CancelReason:    m.CancelReason,
	}
}

// FromDomain populates the persistence model from a domain Invoice entity.
func (m *InvoiceModel) FromDomain(inv *billing.Invoice) {
	m.FromDomainTenantAggregateRoot(inv.TenantAggregateRoot)
	m.InvoiceNumber = inv.InvoiceNumber
	m.CustomerID = inv.CustomerID
	m.CustomerName = inv.CustomerName
	m.CustomerEmail = inv.CustomerEmail
	m.Currency = inv.Currency
	m.LineItems = inv.LineItems
	m.Subtotal = inv.Subtotal.MinorUnits()
	m.Tax = inv.Tax.MinorUnits()
	m.Total = inv.Total.MinorUnits()
	m.Status = inv.Status
	m.DueDate = inv.DueDate
	m.QuoteID = inv.QuoteID
	m.PaymentIntentID = inv.PaymentIntentID
	m.Payments = inv.Payments
	m.SentAt = inv.SentAt
	m.PaidAt = inv.PaidAt
	m.CancelledAt = inv.CancelledAt
	m.CancelReason = inv.CancelReason
}

// InvoiceModelFromDomain creates a new persistence model from a domain Invoice.
func InvoiceModelFromDomain(inv *billing.Invoice) *InvoiceModel {
	m := &InvoiceModel{}
	m.FromDomain(inv)
	return m
}
