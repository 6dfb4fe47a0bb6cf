package valueobject

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency represents a currency code (ISO 4217)
type Currency string

const (
	USD Currency = "USD" // US Dollar (default)
	EUR Currency = "EUR" // Euro
	GBP Currency = "GBP" // British Pound
	CAD Currency = "CAD" // Canadian Dollar
	AUD Currency = "AUD" // Australian Dollar
)

// DefaultCurrency is the default currency for the system
const DefaultCurrency = USD

// Money is a value object representing monetary amounts as integer minor
// currency units (cents). It is never backed by floating point.
// It is immutable - all operations return new Money instances.
type Money struct {
	minorUnits int64
	currency   Currency
}

// NewMoney creates a new Money from minor currency units (cents)
func NewMoney(minorUnits int64, currency Currency) (Money, error) {
	if currency == "" {
		return Money{}, errors.New("currency cannot be empty")
	}
	return Money{
		minorUnits: minorUnits,
		currency:   currency,
	}, nil
}

// NewMoneyUSD creates Money in USD from minor units (cents)
func NewMoneyUSD(minorUnits int64) Money {
	return Money{minorUnits: minorUnits, currency: USD}
}

// NewMoneyFromDecimal creates Money from a decimal major-unit amount,
// truncating anything beyond the cent
func NewMoneyFromDecimal(amount decimal.Decimal, currency Currency) (Money, error) {
	if currency == "" {
		return Money{}, errors.New("currency cannot be empty")
	}
	cents := amount.Mul(decimal.NewFromInt(100)).Truncate(0).IntPart()
	return Money{minorUnits: cents, currency: currency}, nil
}

// NewMoneyFromString creates Money from a decimal string such as "19.99"
func NewMoneyFromString(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount string: %w", err)
	}
	return NewMoneyFromDecimal(d, currency)
}

// Zero returns a zero-value Money in the specified currency
func Zero(currency Currency) Money {
	return Money{minorUnits: 0, currency: currency}
}

// ZeroUSD returns a zero-value Money in USD
func ZeroUSD() Money {
	return Zero(USD)
}

// MinorUnits returns the amount in minor currency units (cents)
func (m Money) MinorUnits() int64 {
	return m.minorUnits
}

// Currency returns the currency code
func (m Money) Currency() Currency {
	return m.currency
}

// IsZero returns true if the amount is zero
func (m Money) IsZero() bool {
	return m.minorUnits == 0
}

// IsPositive returns true if the amount is positive
func (m Money) IsPositive() bool {
	return m.minorUnits > 0
}

// IsNegative returns true if the amount is negative
func (m Money) IsNegative() bool {
	return m.minorUnits < 0
}

// Add returns a new Money with the sum of both amounts
// Returns error if currencies don't match
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("cannot add money with different currencies: %s and %s", m.currency, other.currency)
	}
	return Money{
		minorUnits: m.minorUnits + other.minorUnits,
		currency:   m.currency,
	}, nil
}

// MustAdd adds two Money values, panics if currencies don't match
func (m Money) MustAdd(other Money) Money {
	result, err := m.Add(other)
	if err != nil {
		panic(err)
	}
	return result
}

// Subtract returns a new Money with the difference
// Returns error if currencies don't match
func (m Money) Subtract(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("cannot subtract money with different currencies: %s and %s", m.currency, other.currency)
	}
	return Money{
		minorUnits: m.minorUnits - other.minorUnits,
		currency:   m.currency,
	}, nil
}

// MustSubtract subtracts two Money values, panics if currencies don't match
func (m Money) MustSubtract(other Money) Money {
	result, err := m.Subtract(other)
	if err != nil {
		panic(err)
	}
	return result
}

// Negate returns a new Money with the sign reversed
func (m Money) Negate() Money {
	return Money{
		minorUnits: -m.minorUnits,
		currency:   m.currency,
	}
}

// FloorZero returns this Money floored at zero, for display of balances
// that may be negative due to overpayment
func (m Money) FloorZero() Money {
	if m.minorUnits < 0 {
		return Zero(m.currency)
	}
	return m
}

// Equals returns true if both Money values are equal (same amount and currency)
func (m Money) Equals(other Money) bool {
	return m.currency == other.currency && m.minorUnits == other.minorUnits
}

// Cmp compares two Money values; -1 if m < other, 0 if equal, +1 if m > other
// Returns error if currencies don't match
func (m Money) Cmp(other Money) (int, error) {
	if m.currency != other.currency {
		return 0, fmt.Errorf("cannot compare money with different currencies: %s and %s", m.currency, other.currency)
	}
	switch {
	case m.minorUnits < other.minorUnits:
		return -1, nil
	case m.minorUnits > other.minorUnits:
		return 1, nil
	default:
		return 0, nil
	}
}

// LessThanOrEqual returns true if this Money is less than or equal to the other
func (m Money) LessThanOrEqual(other Money) (bool, error) {
	c, err := m.Cmp(other)
	if err != nil {
		return false, err
	}
	return c <= 0, nil
}

// GreaterThan returns true if this Money is greater than the other
func (m Money) GreaterThan(other Money) (bool, error) {
	c, err := m.Cmp(other)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// Decimal returns the amount in major units as a decimal (e.g. 1234 -> 12.34)
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.minorUnits, -2)
}

// Display returns the amount formatted in major units, e.g. "12.34"
func (m Money) Display() string {
	return m.Decimal().StringFixed(2)
}

// String returns a string representation of the Money
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Display(), m.currency)
}

// MarshalJSON implements json.Marshaler
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AmountMinorUnits int64    `json:"amount_minor_units"`
		Currency         Currency `json:"currency"`
	}{
		AmountMinorUnits: m.minorUnits,
		Currency:         m.currency,
	})
}

// UnmarshalJSON implements json.Unmarshaler. An empty currency falls back to
// DefaultCurrency so that ledger records persisted before currency tagging
// remain readable.
func (m *Money) UnmarshalJSON(data []byte) error {
	var v struct {
		AmountMinorUnits int64    `json:"amount_minor_units"`
		Currency         Currency `json:"currency"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	m.minorUnits = v.AmountMinorUnits
	m.currency = v.Currency
	if m.currency == "" {
		m.currency = DefaultCurrency
	}
	return nil
}

// Value implements driver.Valuer for database storage
// Stores the minor-unit amount only
func (m Money) Value() (driver.Value, error) {
	return m.minorUnits, nil
}

// Scan implements sql.Scanner for database retrieval.
// Scans only the minor-unit amount; currency defaults to DefaultCurrency
// if not already set. Store currency in a separate column when it matters.
func (m *Money) Scan(value any) error {
	if value == nil {
		m.minorUnits = 0
		m.currency = DefaultCurrency
		return nil
	}

	switch v := value.(type) {
	case int64:
		m.minorUnits = v
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("invalid money value: %w", err)
		}
		m.minorUnits = d.IntPart()
	default:
		return fmt.Errorf("cannot scan %T into Money", value)
	}
	if m.currency == "" {
		m.currency = DefaultCurrency
	}
	return nil
}
