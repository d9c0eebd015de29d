// Package snapshots reconstructs a portfolio valuation timeline from sparse
// cash-flow data and live positions, and buckets it into calendar months for
// passive-income attribution.
package snapshots

import (
	"sort"
	"time"

	"github.com/ametelin/finwatch/internal/domain"
	"github.com/ametelin/finwatch/internal/modules/operations"
	"github.com/ametelin/finwatch/pkg/money"
)

// BuildOperationTimeline reconstructs a valuation series purely from cash
// flows: cash-only operation payments are bucketed by (day, currency) and
// walked once in day order, emitting the per-currency running total for
// every day that saw at least one movement. Running sums keep full float
// precision; rounding happens only on emit.
func BuildOperationTimeline(connectionID string, ops []domain.Operation) []domain.Snapshot {
	flows := operations.AggregateDailyCash(ops)

	running := make(map[string]float64)
	timeline := make([]domain.Snapshot, 0, len(flows))
	for _, flow := range flows {
		running[flow.Currency] += flow.Amount

		capturedAt, err := time.Parse("2006-01-02", flow.Day)
		if err != nil {
			continue
		}
		timeline = append(timeline, domain.Snapshot{
			ConnectionID: connectionID,
			CapturedAt:   capturedAt.UTC(),
			Currency:     flow.Currency,
			TotalAmount:  money.Round2(running[flow.Currency]),
		})
	}
	return timeline
}

// SynthesizeNow builds one closing snapshot per currency from the live
// portfolio: per-position current value (falling back to invested value when
// no current price is known) plus cash balances, with the unrealized yield
// carried alongside.
func SynthesizeNow(connectionID string, positions []domain.BrokerPosition, balances []domain.MoneyBalance, at time.Time) []domain.Snapshot {
	type bucket struct {
		total float64
		yield float64
	}
	totals := make(map[string]*bucket)
	get := func(currency string) *bucket {
		b, ok := totals[currency]
		if !ok {
			b = &bucket{}
			totals[currency] = b
		}
		return b
	}

	for _, position := range positions {
		if position.Quantity == nil {
			continue
		}
		balance := *position.Quantity

		averagePrice := 0.0
		if position.AveragePrice != nil {
			averagePrice = *position.AveragePrice
		}
		invested := averagePrice * balance
		currentTotal := invested
		if position.CurrentPrice != nil {
			currentTotal = *position.CurrentPrice * balance
		}

		b := get(operations.NormalizeCurrency(position.Currency()))
		b.total += currentTotal
		b.yield += currentTotal - invested
	}

	for _, balance := range balances {
		get(operations.NormalizeCurrency(&balance.Currency)).total += balance.Amount
	}

	currencies := make([]string, 0, len(totals))
	for currency := range totals {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)

	snapshots := make([]domain.Snapshot, 0, len(currencies))
	for _, currency := range currencies {
		b := totals[currency]
		yield := money.Round2(b.yield)
		snapshots = append(snapshots, domain.Snapshot{
			ConnectionID:  connectionID,
			CapturedAt:    at.UTC(),
			Currency:      currency,
			TotalAmount:   money.Round2(b.total),
			ExpectedYield: &yield,
		})
	}
	return snapshots
}
