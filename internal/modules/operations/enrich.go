package operations

import (
	"github.com/ametelin/finwatch/internal/domain"
	"github.com/ametelin/finwatch/internal/modules/instruments"
	"github.com/ametelin/finwatch/pkg/money"
)

// ApplyMetadata prepares normalized operations for storage: instrument-linked
// operations pick up the cached ticker and fall back to cached type and
// currency, and monetary fields are rounded at this boundary. Timeline
// aggregation must run on the unrounded batch before this call.
func ApplyMetadata(ops []domain.Operation, cache *instruments.Cache) []domain.Operation {
	rows := make([]domain.Operation, 0, len(ops))
	for _, op := range ops {
		var meta domain.InstrumentDetails
		if cache != nil && op.Figi != nil && *op.Figi != "" {
			meta, _ = cache.Lookup(*op.Figi)
		}

		if op.Ticker == nil {
			op.Ticker = meta.Ticker
		}
		if op.InstrumentType == nil {
			op.InstrumentType = meta.InstrumentType
		}
		if op.Currency == nil {
			op.Currency = meta.Currency
		}

		op.Payment = money.RoundPtr(op.Payment, 2)
		op.Price = money.RoundPtr(op.Price, 2)
		op.Quantity = money.RoundPtr(op.Quantity, 2)
		op.Commission = money.RoundPtr(op.Commission, 2)
		rows = append(rows, op)
	}
	return rows
}
