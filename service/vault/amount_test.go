package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecimalAmount(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int64
	}{
		{"whole number", "1", 1_000_000_000},
		{"fraction only", "0.5", 500_000_000},
		{"leading point", ".5", 500_000_000},
		{"mixed", "2.25", 2_250_000_000},
		{"full precision", "0.000000001", 1},
		{"trailing zeros", "1.500000000", 1_500_000_000},
		{"extra digits truncate toward zero", "0.0000000019", 1},
		{"large", "1000000", 1_000_000_000_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDecimalAmount(tt.value, 9)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDecimalAmount_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"negative", "-1"},
		{"explicit plus", "+1"},
		{"zero", "0"},
		{"zero with fraction", "0.0000000000"},
		{"letters", "1a.5"},
		{"two points", "1.2.3"},
		{"scientific notation", "1e9"},
		{"overflow", "99999999999999999999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDecimalAmount(tt.value, 9)
			require.Error(t, err)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestFormatDecimalAmount(t *testing.T) {
	assert.Equal(t, "0.5", FormatDecimalAmount(500_000_000, 9))
	assert.Equal(t, "1", FormatDecimalAmount(1_000_000_000, 9))
	assert.Equal(t, "2.25", FormatDecimalAmount(2_250_000_000, 9))
	assert.Equal(t, "0.000000001", FormatDecimalAmount(1, 9))
	assert.Equal(t, "42", FormatDecimalAmount(42, 0))
}

func TestParseDecimalAmount_ZeroDecimals(t *testing.T) {
	got, err := ParseDecimalAmount("42.9", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
}
