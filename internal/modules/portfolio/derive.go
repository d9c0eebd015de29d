// Package portfolio derives stored position rows from the raw brokerage
// portfolio feed and persists them.
package portfolio

import (
	"github.com/ametelin/finwatch/internal/domain"
	"github.com/ametelin/finwatch/internal/modules/instruments"
	"github.com/ametelin/finwatch/pkg/money"
)

// DerivePositions turns raw portfolio positions into stored rows, enriched
// from the metadata cache. Positions without a quantity are dropped. The
// lot count comes from the feed when present, otherwise from balance
// divided by the instrument's lot size. Monetary figures are rounded here,
// at the storage boundary.
func DerivePositions(connectionID string, positions []domain.BrokerPosition, cache *instruments.Cache) []domain.Position {
	rows := make([]domain.Position, 0, len(positions))
	for _, position := range positions {
		if position.Figi == "" || position.Quantity == nil {
			continue
		}
		balance := *position.Quantity

		var meta domain.InstrumentDetails
		if cache != nil {
			meta, _ = cache.Lookup(position.Figi)
		}

		var lotSize *float64
		if meta.Lot != nil && *meta.Lot > 0 {
			lotSize = meta.Lot
		}
		lot := position.QuantityLots
		if lot == nil && lotSize != nil {
			count := balance / *lotSize
			lot = &count
		}

		averagePrice := 0.0
		if position.AveragePrice != nil {
			averagePrice = *position.AveragePrice
		}
		invested := averagePrice * balance
		currentValue := invested
		if position.CurrentPrice != nil {
			currentValue = *position.CurrentPrice * balance
		}
		expectedYield := currentValue - invested

		var yieldPercent *float64
		if invested != 0 {
			percent := expectedYield / invested * 100
			yieldPercent = &percent
		}

		instrumentType := position.InstrumentType
		if instrumentType == nil {
			instrumentType = meta.InstrumentType
		}
		currency := position.Currency()
		if currency == nil {
			currency = meta.Currency
		}

		yield := money.Round2(expectedYield)
		rows = append(rows, domain.Position{
			ConnectionID:         connectionID,
			Figi:                 position.Figi,
			Ticker:               meta.Ticker,
			Name:                 meta.Name,
			InstrumentType:       instrumentType,
			Balance:              balance,
			Lot:                  money.RoundPtr(lot, 4),
			AveragePrice:         money.RoundPtr(position.AveragePrice, 2),
			CurrentPrice:         money.RoundPtr(position.CurrentPrice, 2),
			InvestedAmount:       money.RoundPtr(&invested, 2),
			CurrentValue:         money.RoundPtr(&currentValue, 2),
			ExpectedYield:        &yield,
			ExpectedYieldPercent: money.RoundPtr(yieldPercent, 2),
			Currency:             currency,
		})
	}
	return rows
}
