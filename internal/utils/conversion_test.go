package utils

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntToFloat64(t *testing.T) {
	f, err := IntToFloat64(sdkmath.NewInt(1_500_000), 6)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, f, 1e-12)

	f, err = IntToFloat64(sdkmath.NewInt(42), 0)
	require.NoError(t, err)
	assert.Equal(t, 42.0, f)

	_, err = IntToFloat64(sdkmath.NewInt(-1), 0)
	assert.True(t, errors.Is(err, ErrAmountNegative))

	_, err = IntToFloat64(sdkmath.Int{}, 0)
	assert.True(t, errors.Is(err, ErrAmountNil))

	_, err = IntToFloat64(sdkmath.NewInt(1), 19)
	assert.True(t, errors.Is(err, ErrInvalidPrecision))
}

func TestParseInt(t *testing.T) {
	amount, err := ParseInt(" 123456789012345678901234567890 ")
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", amount.String())

	amount, err = ParseInt("-5")
	require.NoError(t, err)
	assert.Equal(t, "-5", amount.String())

	_, err = ParseNonNegativeInt("-5")
	assert.True(t, errors.Is(err, ErrAmountNegative))

	_, err = ParseInt("1.5")
	assert.True(t, errors.Is(err, ErrConversionFailed))

	_, err = ParseInt("")
	assert.True(t, errors.Is(err, ErrAmountNil))
}

func TestParsePercentage(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{in: "0.5", want: "0.500000000000000000"},
		{in: "50%", want: "0.500000000000000000"},
		{in: " 12.5 % ", want: "0.125000000000000000"},
		{in: "1", want: "1.000000000000000000"},
		{in: "0", want: "0.000000000000000000"},
		{in: "1.01", wantErr: ErrOutOfRange},
		{in: "-0.1", wantErr: ErrOutOfRange},
		{in: "150%", wantErr: ErrOutOfRange},
		{in: "abc", wantErr: ErrConversionFailed},
		{in: "", wantErr: ErrAmountNil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePercentage(tt.in)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}
