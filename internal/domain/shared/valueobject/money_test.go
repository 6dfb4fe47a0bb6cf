package valueobject

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMoney(t *testing.T) {
	tests := []struct {
		name       string
		minorUnits int64
		currency   Currency
		wantErr    bool
	}{
		{"positive amount", 1999, USD, false},
		{"zero amount", 0, USD, false},
		{"negative amount", -500, USD, false},
		{"other currency", 1250, EUR, false},
		{"empty currency", 100, Currency(""), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMoney(tt.minorUnits, tt.currency)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.minorUnits, m.MinorUnits())
			assert.Equal(t, tt.currency, m.Currency())
		})
	}
}

func TestNewMoneyFromDecimal_TruncatesToCent(t *testing.T) {
	tests := []struct {
		name      string
		amount    string
		wantCents int64
	}{
		{"exact cents", "19.99", 1999},
		{"sub-cent truncated down", "10.999", 1099},
		{"sub-cent never rounds up", "0.019", 1},
		{"whole amount", "100", 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := decimal.NewFromString(tt.amount)
			require.NoError(t, err)
			m, err := NewMoneyFromDecimal(d, USD)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCents, m.MinorUnits())
		})
	}
}

func TestMoney_AddSubtract(t *testing.T) {
	a := NewMoneyUSD(1000)
	b := NewMoneyUSD(250)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(1250), sum.MinorUnits())

	diff, err := a.Subtract(b)
	require.NoError(t, err)
	assert.Equal(t, int64(750), diff.MinorUnits())

	// Original values unchanged
	assert.Equal(t, int64(1000), a.MinorUnits())
	assert.Equal(t, int64(250), b.MinorUnits())
}

func TestMoney_CurrencyMismatch(t *testing.T) {
	usd := NewMoneyUSD(100)
	eur, err := NewMoney(100, EUR)
	require.NoError(t, err)

	_, err = usd.Add(eur)
	assert.Error(t, err)

	_, err = usd.Subtract(eur)
	assert.Error(t, err)

	_, err = usd.Cmp(eur)
	assert.Error(t, err)

	assert.Panics(t, func() { usd.MustAdd(eur) })
}

func TestMoney_SignedBalance(t *testing.T) {
	total := NewMoneyUSD(10000)
	paid := NewMoneyUSD(12500)

	balance := total.MustSubtract(paid)
	assert.True(t, balance.IsNegative())
	assert.Equal(t, int64(-2500), balance.MinorUnits())

	// Display flooring keeps the signed value intact
	assert.Equal(t, int64(0), balance.FloorZero().MinorUnits())
	assert.Equal(t, int64(-2500), balance.MinorUnits())
}

func TestMoney_FloorZero(t *testing.T) {
	tests := []struct {
		name  string
		cents int64
		want  int64
	}{
		{"positive untouched", 500, 500},
		{"zero untouched", 0, 0},
		{"negative floored", -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewMoneyUSD(tt.cents).FloorZero().MinorUnits())
		})
	}
}

func TestMoney_Comparisons(t *testing.T) {
	small := NewMoneyUSD(100)
	large := NewMoneyUSD(200)

	c, err := small.Cmp(large)
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	le, err := small.LessThanOrEqual(large)
	require.NoError(t, err)
	assert.True(t, le)

	gt, err := large.GreaterThan(small)
	require.NoError(t, err)
	assert.True(t, gt)

	assert.True(t, small.Equals(NewMoneyUSD(100)))
	assert.False(t, small.Equals(large))
}

func TestMoney_Display(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{1999, "19.99"},
		{100, "1.00"},
		{5, "0.05"},
		{0, "0.00"},
		{-250, "-2.50"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, NewMoneyUSD(tt.cents).Display())
		})
	}
}

func TestMoney_JSONRoundTrip(t *testing.T) {
	m, err := NewMoney(4550, EUR)
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount_minor_units":4550,"currency":"EUR"}`, string(data))

	var decoded Money
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, m.Equals(decoded))
}

func TestMoney_UnmarshalJSON_EmptyCurrencyDefaults(t *testing.T) {
	var m Money
	require.NoError(t, json.Unmarshal([]byte(`{"amount_minor_units":300}`), &m))
	assert.Equal(t, DefaultCurrency, m.Currency())
	assert.Equal(t, int64(300), m.MinorUnits())
}

func TestMoney_Scan(t *testing.T) {
	var m Money
	require.NoError(t, m.Scan(int64(1234)))
	assert.Equal(t, int64(1234), m.MinorUnits())
	assert.Equal(t, DefaultCurrency, m.Currency())

	var n Money
	require.NoError(t, n.Scan(nil))
	assert.True(t, n.IsZero())
}
