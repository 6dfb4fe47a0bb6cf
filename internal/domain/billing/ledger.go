package billing

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
)

// PaymentMethod represents how a payment was made
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodCheck        PaymentMethod = "CHECK"
	PaymentMethodCardManual   PaymentMethod = "CARD_MANUAL"   // Card payment keyed in manually
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodProvider     PaymentMethod = "PROVIDER"      // Processed by the payment provider
	PaymentMethodOther        PaymentMethod = "OTHER"
)

// IsValid checks if the payment method is valid
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCheck, PaymentMethodCardManual,
		PaymentMethodBankTransfer, PaymentMethodProvider, PaymentMethodOther:
		return true
	}
	return false
}

// String returns the string representation of PaymentMethod
func (m PaymentMethod) String() string {
	return string(m)
}

// PaymentStatus represents the status of a payment record
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// IsValid checks if the payment status is valid
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// String returns the string representation of PaymentStatus
func (s PaymentStatus) String() string {
	return string(s)
}

// PaymentRecord represents one payment applied to an invoice.
// It is a value object within the Invoice aggregate, stored as JSONB.
// Records are append-only: amount and timestamp never change after creation,
// only the status may transition.
type PaymentRecord struct {
	ID                uuid.UUID          `json:"id"`
	Amount            valueobject.Money  `json:"amount"`
	Method            PaymentMethod      `json:"method"`
	ExternalReference string             `json:"external_reference,omitempty"` // Provider payment-intent identifier
	Status            PaymentStatus      `json:"status"`
	ReceivedAt        time.Time          `json:"received_at"`
	FailedAt          *time.Time         `json:"failed_at,omitempty"`
	FailureReason     string             `json:"failure_reason,omitempty"`
}

// NewPaymentRecord creates a payment record in the given status
func NewPaymentRecord(amount valueobject.Money, method PaymentMethod, externalRef string, status PaymentStatus, receivedAt time.Time) (*PaymentRecord, error) {
	if !amount.IsPositive() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Payment amount must be positive")
	}
	if !method.IsValid() {
		return nil, shared.NewDomainError("INVALID_METHOD", "Payment method is not valid")
	}
	if !status.IsValid() {
		return nil, shared.NewDomainError("INVALID_PAYMENT_STATUS", "Payment status is not valid")
	}
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	return &PaymentRecord{
		ID:                uuid.New(),
		Amount:            amount,
		Method:            method,
		ExternalReference: externalRef,
		Status:            status,
		ReceivedAt:        receivedAt,
	}, nil
}

// IsCompleted returns true if the record counts toward paid-to-date
func (p *PaymentRecord) IsCompleted() bool {
	return p.Status == PaymentStatusCompleted
}

// MarkCompleted transitions a pending record to completed
func (p *PaymentRecord) MarkCompleted() error {
	if p.Status != PaymentStatusPending {
		return shared.NewDomainError("INVALID_STATE", "Only pending payment records can be completed")
	}
	p.Status = PaymentStatusCompleted
	return nil
}

// MarkFailed transitions the record to failed with a reason.
// Used by the reconciler both for provider-reported failures and as the
// compensating update when an aggregate mutation cannot be committed after
// the record was already appended.
func (p *PaymentRecord) MarkFailed(reason string) error {
	if p.Status == PaymentStatusRefunded {
		return shared.NewDomainError("INVALID_STATE", "Refunded payment records cannot be failed")
	}
	now := time.Now()
	p.Status = PaymentStatusFailed
	p.FailedAt = &now
	p.FailureReason = reason
	return nil
}

// MarkRefunded transitions a completed record to refunded
func (p *PaymentRecord) MarkRefunded() error {
	if p.Status != PaymentStatusCompleted {
		return shared.NewDomainError("INVALID_STATE", "Only completed payment records can be refunded")
	}
	p.Status = PaymentStatusRefunded
	return nil
}

// MarkCanceled resolves a pending record as refunded. A provider
// cancellation means the attempt ended with the money back with the
// customer, which is a different terminal state than a declined payment.
func (p *PaymentRecord) MarkCanceled(reason string) error {
	if p.Status != PaymentStatusPending {
		return shared.NewDomainError("INVALID_STATE", "Only pending payment records can be canceled")
	}
	p.Status = PaymentStatusRefunded
	p.FailureReason = reason
	return nil
}

// Ledger is the append-only collection of payment records for one invoice.
// It implements GORM Scanner/Valuer for JSONB storage.
type Ledger []PaymentRecord

// Value implements driver.Valuer interface for GORM to store as JSONB
func (l Ledger) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner interface for GORM to read from JSONB
func (l *Ledger) Scan(value interface{}) error {
	if value == nil {
		*l = Ledger{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan Ledger: unsupported type")
	}

	if len(bytes) == 0 {
		*l = Ledger{}
		return nil
	}

	return json.Unmarshal(bytes, l)
}

// Append adds a record to the ledger.
// Fails with DUPLICATE_EXTERNAL_REFERENCE if a record with the same non-empty
// external reference already exists; the reconciler's replay check should make
// this unreachable, so seeing it indicates a programming error.
func (l *Ledger) Append(record *PaymentRecord) error {
	if record == nil {
		return shared.ErrInvalidInput
	}
	if record.ExternalReference != "" {
		if existing := l.Find(record.ExternalReference); existing != nil {
			return ErrDuplicateExternalReference
		}
	}
	*l = append(*l, *record)
	return nil
}

// Find returns the record with the given external reference, or nil
func (l Ledger) Find(externalRef string) *PaymentRecord {
	if externalRef == "" {
		return nil
	}
	for i := range l {
		if l[i].ExternalReference == externalRef {
			return &l[i]
		}
	}
	return nil
}

// FindByID returns the record with the given ID, or nil
func (l Ledger) FindByID(id uuid.UUID) *PaymentRecord {
	for i := range l {
		if l[i].ID == id {
			return &l[i]
		}
	}
	return nil
}

// CompletedTotal sums the amounts of completed records in the given currency
func (l Ledger) CompletedTotal(currency valueobject.Currency) valueobject.Money {
	total := valueobject.Zero(currency)
	for i := range l {
		if l[i].IsCompleted() {
			total = total.MustAdd(l[i].Amount)
		}
	}
	return total
}

// Count returns the number of records in the ledger
func (l Ledger) Count() int {
	return len(l)
}
