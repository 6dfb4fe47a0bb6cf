package valueobject

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Quantity is a value object representing a positive rational quantity,
// such as the number of billable units on an invoice line. It supports
// fractional values for items billed by weight, volume, or hours.
// It is immutable - all operations return new Quantity instances.
type Quantity struct {
	value decimal.Decimal
}

// NewQuantity creates a new Quantity with the specified value
func NewQuantity(value decimal.Decimal) (Quantity, error) {
	if !value.IsPositive() {
		return Quantity{}, errors.New("quantity must be positive")
	}
	return Quantity{value: value}, nil
}

// NewQuantityFromInt creates Quantity from an int64 value
func NewQuantityFromInt(value int64) (Quantity, error) {
	return NewQuantity(decimal.NewFromInt(value))
}

// NewQuantityFromString creates Quantity from a string representation
func NewQuantityFromString(value string) (Quantity, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Quantity{}, fmt.Errorf("invalid quantity string: %w", err)
	}
	return NewQuantity(d)
}

// MustNewQuantity creates a Quantity and panics on error
func MustNewQuantity(value decimal.Decimal) Quantity {
	q, err := NewQuantity(value)
	if err != nil {
		panic(err)
	}
	return q
}

// Amount returns the decimal value
func (q Quantity) Amount() decimal.Decimal {
	return q.value
}

// Times returns quantity x unit price, truncated (not rounded) to the cent.
// Truncation keeps line totals stable regardless of how the factors are
// decomposed and never over-bills by a sub-cent remainder.
func (q Quantity) Times(unitPrice Money) Money {
	total := q.value.Mul(unitPrice.Decimal()).Truncate(2)
	cents := total.Mul(decimal.NewFromInt(100)).IntPart()
	m, _ := NewMoney(cents, unitPrice.Currency())
	return m
}

// Equals returns true if both quantities are equal
func (q Quantity) Equals(other Quantity) bool {
	return q.value.Equal(other.value)
}

// String returns a string representation of the Quantity
func (q Quantity) String() string {
	return q.value.String()
}

// MarshalJSON implements json.Marshaler
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + q.value.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler, validating positivity so the
// domain invariant holds even for values bound from external JSON
func (q *Quantity) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	value, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid quantity: %w", err)
	}
	if !value.IsPositive() {
		return errors.New("quantity must be positive")
	}
	q.value = value
	return nil
}

// Value implements driver.Valuer for database storage
func (q Quantity) Value() (driver.Value, error) {
	return q.value.String(), nil
}

// Scan implements sql.Scanner for database retrieval
func (q *Quantity) Scan(value any) error {
	if value == nil {
		q.value = decimal.Zero
		return nil
	}

	var strVal string
	switch v := value.(type) {
	case string:
		strVal = v
	case []byte:
		strVal = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Quantity", value)
	}

	val, err := decimal.NewFromString(strVal)
	if err != nil {
		return fmt.Errorf("invalid decimal value: %w", err)
	}
	q.value = val
	return nil
}
