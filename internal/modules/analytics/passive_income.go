package analytics

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ametelin/finwatch/internal/domain"
	"github.com/ametelin/finwatch/internal/modules/snapshots"
	"github.com/ametelin/finwatch/pkg/money"
)

// MonthlyIncome is the passive-income figure of one calendar month.
type MonthlyIncome struct {
	Month  string  `json:"month"`
	Amount float64 `json:"amount"`
}

// Summary is the passive income of a period: the per-month series, its sum
// and basic distribution statistics over the monthly amounts.
type Summary struct {
	Total   float64         `json:"total"`
	ByMonth []MonthlyIncome `json:"byMonth"`
	Mean    float64         `json:"mean"`
	StdDev  float64         `json:"stdDev"`
}

// EmptySummary is the summary of a user with no brokerage connection: every
// requested month is exactly zero, never undefined. It runs the regular
// attribution over empty data so the response shape cannot drift from the
// connected case.
func EmptySummary(start, end time.Time) Summary {
	return PassiveIncome(nil, nil, start, end)
}

// PassiveIncome walks the requested months and computes, per month, the
// portfolio value delta summed across currencies minus the external cash
// contribution of that month:
//
//	income(month) = sum_currency(end - start) - contribution(month)
//
// Contributions are cash-only operation payments (no instrument id), the
// proxy for money the user actively moved in or out. Monthly figures are
// rounded to 2 decimals; the total is the rounded sum of the monthlies, so
// additivity holds exactly.
func PassiveIncome(series []domain.Snapshot, ops []domain.Operation, start, end time.Time) Summary {
	months := EnumerateMonths(start, end)
	contributions := contributionByMonth(ops)
	buckets := snapshots.BucketByMonth(series, months)

	byMonth := make([]MonthlyIncome, 0, len(months))
	var total float64
	amounts := make([]float64, 0, len(months))
	for _, month := range months {
		key := MonthKey(month)

		var delta float64
		for _, value := range buckets[key] {
			if value.Start != nil && value.End != nil {
				delta += *value.End - *value.Start
			}
		}

		amount := money.Round2(delta - contributions[key])
		byMonth = append(byMonth, MonthlyIncome{Month: key, Amount: amount})
		amounts = append(amounts, amount)
		total += amount
	}

	summary := Summary{Total: money.Round2(total), ByMonth: byMonth}
	if len(amounts) > 0 {
		summary.Mean = money.Round2(stat.Mean(amounts, nil))
		stdDev := math.Sqrt(stat.PopVariance(amounts, nil))
		summary.StdDev = money.Round2(stdDev)
	}
	return summary
}

// contributionByMonth sums cash-only operation payments per month key.
// Zero-value payments carry no information and are skipped.
func contributionByMonth(ops []domain.Operation) map[string]float64 {
	contributions := make(map[string]float64)
	for _, op := range ops {
		if !op.CashOnly() {
			continue
		}
		if op.Payment == nil || math.IsNaN(*op.Payment) || *op.Payment == 0 {
			continue
		}
		contributions[MonthKey(op.Date)] += *op.Payment
	}
	return contributions
}
