package billing

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"

	"github.com/billing/backend/internal/domain/shared"
	"github.com/billing/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LineItem represents one billable line on an invoice.
// It is a value object within the Invoice aggregate, stored as JSONB.
// Line items are only mutable while the invoice is in draft; the position
// field controls display order and carries no other meaning.
type LineItem struct {
	ID          uuid.UUID         `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Quantity    decimal.Decimal   `json:"quantity"`
	UnitPrice   valueobject.Money `json:"unit_price"`
	LineTotal   valueobject.Money `json:"line_total"`
	Position    int               `json:"position"`
}

// NewLineItem creates a line item, computing the line total as
// quantity x unit price truncated to the cent
func NewLineItem(title, description string, quantity valueobject.Quantity, unitPrice valueobject.Money, position int) (*LineItem, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, shared.NewDomainError("INVALID_TITLE", "Line item title cannot be empty")
	}
	if len(title) > 200 {
		return nil, shared.NewDomainError("INVALID_TITLE", "Line item title cannot exceed 200 characters")
	}
	if unitPrice.IsNegative() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Unit price cannot be negative")
	}

	return &LineItem{
		ID:          uuid.New(),
		Title:       title,
		Description: description,
		Quantity:    quantity.Amount(),
		UnitPrice:   unitPrice,
		LineTotal:   quantity.Times(unitPrice),
		Position:    position,
	}, nil
}

// LineItems is a slice of LineItem that implements GORM Scanner/Valuer for
// JSONB storage
type LineItems []LineItem

// Value implements driver.Valuer interface for GORM to store as JSONB
func (li LineItems) Value() (driver.Value, error) {
	if li == nil {
		return "[]", nil
	}
	return json.Marshal(li)
}

// Scan implements sql.Scanner interface for GORM to read from JSONB
func (li *LineItems) Scan(value interface{}) error {
	if value == nil {
		*li = LineItems{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan LineItems: unsupported type")
	}

	if len(bytes) == 0 {
		*li = LineItems{}
		return nil
	}

	return json.Unmarshal(bytes, li)
}

// SubtotalIn sums all line totals in the given currency
func (li LineItems) SubtotalIn(currency valueobject.Currency) valueobject.Money {
	subtotal := valueobject.Zero(currency)
	for i := range li {
		subtotal = subtotal.MustAdd(li[i].LineTotal)
	}
	return subtotal
}
