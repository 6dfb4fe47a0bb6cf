package valueobject

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQuantity(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"whole units", "3", false},
		{"fractional units", "2.5", false},
		{"small fraction", "0.001", false},
		{"zero rejected", "0", true},
		{"negative rejected", "-1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewQuantityFromString(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.value, q.Amount().String())
		})
	}
}

func TestQuantity_Times_TruncatesToCent(t *testing.T) {
	tests := []struct {
		name      string
		quantity  string
		unitPrice int64 // cents
		wantCents int64
	}{
		{"whole quantity", "3", 1999, 5997},
		{"fractional quantity", "2.5", 1000, 2500},
		{"sub-cent result truncated", "3", 333, 999},
		{"repeating fraction truncated", "0.333", 1000, 333},
		{"never rounds up", "1.005", 999, 1003}, // 10.03995 -> 10.03
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewQuantityFromString(tt.quantity)
			require.NoError(t, err)
			total := q.Times(NewMoneyUSD(tt.unitPrice))
			assert.Equal(t, tt.wantCents, total.MinorUnits())
			assert.Equal(t, USD, total.Currency())
		})
	}
}

func TestQuantity_JSONRoundTrip(t *testing.T) {
	q := MustNewQuantity(decimal.RequireFromString("2.75"))

	data, err := json.Marshal(q)
	require.NoError(t, err)
	assert.Equal(t, `"2.75"`, string(data))

	var decoded Quantity
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, q.Equals(decoded))
}

func TestQuantity_UnmarshalJSON_RejectsNonPositive(t *testing.T) {
	var q Quantity
	assert.Error(t, json.Unmarshal([]byte(`"0"`), &q))
	assert.Error(t, json.Unmarshal([]byte(`"-2"`), &q))
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &q))
}
