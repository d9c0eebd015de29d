package portfolio

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametelin/finwatch/internal/domain"
	"github.com/ametelin/finwatch/internal/modules/instruments"
)

func strPtr(s string) *string   { return &s }
func f64Ptr(v float64) *float64 { return &v }

func seededCache(positions []domain.BrokerPosition, details map[string]domain.InstrumentDetails) *instruments.Cache {
	cache := instruments.NewCache(zerolog.Nop())
	cache.SeedFromPositions(positions)
	for _, d := range details {
		cache.Put(d)
	}
	return cache
}

func TestDerivePositionsComputesValueAndYield(t *testing.T) {
	raw := []domain.BrokerPosition{
		{
			Figi:            "BBG001",
			InstrumentType:  strPtr("share"),
			Quantity:        f64Ptr(10),
			AveragePrice:    f64Ptr(100),
			CurrentPrice:    f64Ptr(120),
			CurrentCurrency: strPtr("RUB"),
		},
	}
	cache := seededCache(raw, map[string]domain.InstrumentDetails{
		"BBG001": {Figi: "BBG001", Ticker: strPtr("SBER"), Name: strPtr("Sberbank"), Lot: f64Ptr(10), Currency: strPtr("RUB")},
	})

	rows := DerivePositions("conn-1", raw, cache)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "conn-1", row.ConnectionID)
	require.NotNil(t, row.Ticker)
	assert.Equal(t, "SBER", *row.Ticker)
	assert.Equal(t, 10.0, row.Balance)
	require.NotNil(t, row.InvestedAmount)
	assert.Equal(t, 1000.0, *row.InvestedAmount)
	require.NotNil(t, row.CurrentValue)
	assert.Equal(t, 1200.0, *row.CurrentValue)
	require.NotNil(t, row.ExpectedYield)
	assert.Equal(t, 200.0, *row.ExpectedYield)
	require.NotNil(t, row.ExpectedYieldPercent)
	assert.Equal(t, 20.0, *row.ExpectedYieldPercent)
	require.NotNil(t, row.Lot)
	assert.Equal(t, 1.0, *row.Lot, "lot count derives from balance over lot size")
}

func TestDerivePositionsNoCurrentPriceFallsBackToInvested(t *testing.T) {
	raw := []domain.BrokerPosition{
		{Figi: "BBG002", Quantity: f64Ptr(5), AveragePrice: f64Ptr(50), AverageCurrency: strPtr("USD")},
	}

	rows := DerivePositions("conn-1", raw, instruments.NewCache(zerolog.Nop()))
	require.Len(t, rows, 1)

	row := rows[0]
	require.NotNil(t, row.CurrentValue)
	assert.Equal(t, 250.0, *row.CurrentValue)
	require.NotNil(t, row.ExpectedYield)
	assert.Equal(t, 0.0, *row.ExpectedYield)
	require.NotNil(t, row.Currency)
	assert.Equal(t, "USD", *row.Currency)
	assert.Nil(t, row.Ticker, "no metadata leaves the ticker unresolved")
}

func TestDerivePositionsZeroInvestedHasNoYieldPercent(t *testing.T) {
	raw := []domain.BrokerPosition{
		{Figi: "BBG003", Quantity: f64Ptr(3), CurrentPrice: f64Ptr(10)},
	}

	rows := DerivePositions("conn-1", raw, nil)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].ExpectedYieldPercent, "yield percent is undefined at zero invested amount")
	require.NotNil(t, rows[0].ExpectedYield)
	assert.Equal(t, 30.0, *rows[0].ExpectedYield)
}

func TestDerivePositionsDropsIncompleteRecords(t *testing.T) {
	raw := []domain.BrokerPosition{
		{Figi: "", Quantity: f64Ptr(1)},
		{Figi: "BBG004"},
	}

	assert.Empty(t, DerivePositions("conn-1", raw, nil))
}

func TestDerivePositionsFeedLotCountWins(t *testing.T) {
	raw := []domain.BrokerPosition{
		{Figi: "BBG005", Quantity: f64Ptr(100), QuantityLots: f64Ptr(10)},
	}
	cache := seededCache(nil, map[string]domain.InstrumentDetails{
		"BBG005": {Figi: "BBG005", Ticker: strPtr("X"), Lot: f64Ptr(5)},
	})

	rows := DerivePositions("conn-1", raw, cache)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Lot)
	assert.Equal(t, 10.0, *rows[0].Lot, "the feed's lot count takes precedence over the derived one")
}
