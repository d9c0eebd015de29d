package snapshots

import (
	"sort"
	"time"

	"github.com/ametelin/finwatch/internal/domain"
	"github.com/ametelin/finwatch/internal/modules/operations"
)

// MonthValue is the start and end valuation of one currency for one month.
// Nil means no value is known for that boundary; a nil pair contributes no
// delta downstream.
type MonthValue struct {
	Start *float64
	End   *float64
}

// currencyCursor walks one currency's time-sorted snapshots across the
// requested months, carrying the last known value forward over gaps.
type currencyCursor struct {
	entries  []domain.Snapshot
	index    int
	previous *float64
}

// BucketByMonth reduces a snapshot series to per-month, per-currency start
// and end values. For each month the cursor consumes snapshots strictly
// before the month start as carry-over, then everything up to the month end
// as in-month values. A month with no snapshots inherits the carried value
// as both start and end; with no prior value at all, both stay nil.
//
// The result maps month key ("2006-01") to currency to MonthValue. Months
// must be first-of-month instants in UTC, ascending.
func BucketByMonth(snapshots []domain.Snapshot, months []time.Time) map[string]map[string]MonthValue {
	cursors := make(map[string]*currencyCursor)
	for _, snapshot := range snapshots {
		currency := operations.NormalizeCurrency(&snapshot.Currency)
		cursor, ok := cursors[currency]
		if !ok {
			cursor = &currencyCursor{}
			cursors[currency] = cursor
		}
		cursor.entries = append(cursor.entries, snapshot)
	}
	for _, cursor := range cursors {
		entries := cursor.entries
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].CapturedAt.Before(entries[j].CapturedAt)
		})
	}

	result := make(map[string]map[string]MonthValue, len(months))
	for _, month := range months {
		monthStart := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
		nextMonth := monthStart.AddDate(0, 1, 0)
		key := monthStart.Format("2006-01")

		values := make(map[string]MonthValue, len(cursors))
		for currency, cursor := range cursors {
			entries := cursor.entries

			for cursor.index < len(entries) && entries[cursor.index].CapturedAt.Before(monthStart) {
				value := entries[cursor.index].TotalAmount
				cursor.previous = &value
				cursor.index++
			}

			var firstInMonth, lastInMonth *float64
			for cursor.index < len(entries) && entries[cursor.index].CapturedAt.Before(nextMonth) {
				value := entries[cursor.index].TotalAmount
				if firstInMonth == nil {
					firstInMonth = &value
				}
				lastInMonth = &value
				cursor.index++
			}

			start := cursor.previous
			if start == nil {
				start = firstInMonth
			}
			end := lastInMonth
			if end == nil {
				end = start
			}
			if end != nil {
				cursor.previous = end
			}

			values[currency] = MonthValue{Start: start, End: end}
		}
		result[key] = values
	}
	return result
}
