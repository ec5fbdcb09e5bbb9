package fx

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennywise/pennywise/internal/apperr"
)

func TestConvertCrossCurrency(t *testing.T) {
	rates := DefaultRates()

	tests := []struct {
		name   string
		amount int64
		from   string
		to     string
		want   int64
		rate   string
	}{
		{name: "usd to eur", amount: 1_000, from: "USD", to: "EUR", want: 920, rate: "0.92"},
		{name: "eur to usd rounds to nearest unit", amount: 1_000, from: "eur", to: "usd", want: 1_087, rate: "1.0869565217"},
		{name: "gbp to hkd", amount: 250, from: "GBP", to: "HKD", want: 2_468, rate: "9.8734177215"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv, err := Convert(tt.amount, tt.from, tt.to, rates)
			require.NoError(t, err)
			assert.True(t, conv.Cross)
			assert.Equal(t, tt.want, conv.Amount)
			assert.True(t, conv.Rate.Equal(decimal.RequireFromString(tt.rate)), "rate %s", conv.Rate)
		})
	}
}

func TestConvertStoredRateReproducesAmount(t *testing.T) {
	rates := DefaultRates()
	for _, pair := range [][2]string{{"USD", "JPY"}, {"EUR", "GBP"}, {"CNY", "AUD"}, {"HKD", "USD"}} {
		for amount := int64(1); amount < 5_000; amount += 37 {
			conv, err := Convert(amount, pair[0], pair[1], rates)
			if err != nil {
				// tiny amounts may round to zero in weaker currencies
				require.True(t, apperr.Is(err, apperr.KindValidation))
				continue
			}
			stored := decimal.RequireFromString(conv.Rate.String())
			require.Equal(t, ApplyRate(amount, stored), conv.Amount, "%s->%s %d", pair[0], pair[1], amount)
		}
	}
}

func TestConvertSameCurrency(t *testing.T) {
	conv, err := Convert(4_200, "usd", "USD", Rates{})
	require.NoError(t, err)
	assert.False(t, conv.Cross)
	assert.Equal(t, int64(4_200), conv.Amount)
}

func TestConvertRejectsUnknownCurrencyAndTinyAmounts(t *testing.T) {
	_, err := Convert(100, "USD", "XYZ", DefaultRates())
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = Convert(0, "USD", "EUR", DefaultRates())
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = Convert(1, "JPY", "USD", DefaultRates())
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestConverterSkipsProviderForSameCurrency(t *testing.T) {
	c := NewConverter(StaticProvider{Err: errors.New("should not be called")})

	conv, err := c.Convert(context.Background(), 500, "EUR", "EUR")
	require.NoError(t, err)
	assert.Equal(t, int64(500), conv.Amount)

	_, err = c.Convert(context.Background(), 500, "EUR", "USD")
	require.Error(t, err)
}
