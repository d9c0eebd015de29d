// Package operations normalizes raw brokerage operation records into
// canonical entities, filters them to settled state, and buckets them for
// timeline and dividend derivation.
package operations

import (
	"math"
	"sort"
	"strings"

	"github.com/ametelin/finwatch/internal/domain"
)

const (
	// StateExecuted is the terminal settlement state. Only operations in
	// this state participate in any derived computation.
	StateExecuted = "OPERATION_STATE_EXECUTED"

	// StateUnspecified substitutes for an absent state field.
	StateUnspecified = "OPERATION_STATE_UNSPECIFIED"

	operationTypePrefix = "OPERATION_TYPE_"
)

// dividendMarkers are the operation types that place an operation into the
// derived dividend set, raw enum codes and humanized labels alike.
var dividendMarkers = map[string]struct{}{
	"OPERATION_TYPE_DIVIDEND": {},
	"OPERATION_TYPE_COUPON":   {},
	"Dividend":                {},
	"Coupon":                  {},
}

// HumanizeType converts a raw operation type code into a readable label:
// the known prefix is stripped, the remainder lower-cased, the first word
// title-cased and the words joined with spaces. A code without the known
// prefix passes through unchanged.
func HumanizeType(value *string) *string {
	if value == nil || *value == "" {
		return nil
	}
	if !strings.HasPrefix(*value, operationTypePrefix) {
		return value
	}

	rest := strings.ToLower(strings.TrimPrefix(*value, operationTypePrefix))
	parts := make([]string, 0, 4)
	for _, part := range strings.Split(rest, "_") {
		if part == "" {
			continue
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return nil
	}
	parts[0] = strings.ToUpper(parts[0][:1]) + parts[0][1:]

	label := strings.Join(parts, " ")
	return &label
}

// Normalize converts one raw record into a canonical Operation. Records
// missing an id or a date are malformed; they are reported as not-ok and
// dropped from the batch, never treated as zero-value operations.
func Normalize(raw domain.BrokerOperation) (domain.Operation, bool) {
	if raw.ID == nil || *raw.ID == "" || raw.Date == nil {
		return domain.Operation{}, false
	}

	state := StateUnspecified
	if raw.State != nil && *raw.State != "" {
		state = *raw.State
	}

	// Executed quantity: requested minus the unfilled remainder.
	var quantity *float64
	if raw.Quantity != nil {
		executed := *raw.Quantity
		if raw.QuantityRest != nil {
			executed -= *raw.QuantityRest
		}
		quantity = &executed
	}

	label := HumanizeType(raw.OperationType)
	if label == nil {
		label = raw.Type
	}
	if label == nil {
		label = HumanizeType(&state)
	}
	operationType := "Operation"
	if label != nil && *label != "" {
		operationType = *label
	}

	currency := raw.Currency
	if currency == nil {
		currency = raw.PaymentCurrency
	}

	description := raw.Description
	if description == nil {
		description = raw.Type
	}
	if description == nil {
		description = HumanizeType(raw.OperationType)
	}

	return domain.Operation{
		OperationID:      *raw.ID,
		Figi:             raw.Figi,
		InstrumentType:   raw.InstrumentType,
		OperationType:    operationType,
		RawOperationType: raw.OperationType,
		Payment:          raw.Payment,
		Price:            raw.Price,
		Quantity:         quantity,
		Commission:       raw.Commission,
		Currency:         currency,
		Date:             raw.Date.UTC(),
		Description:      description,
		State:            state,
	}, true
}

// NormalizeBatch normalizes a batch, keeping only executed operations.
// Malformed and non-executed records are returned as a skipped count for
// logging; they never abort the batch.
func NormalizeBatch(raw []domain.BrokerOperation) (kept []domain.Operation, skipped int) {
	kept = make([]domain.Operation, 0, len(raw))
	for _, record := range raw {
		op, ok := Normalize(record)
		if !ok || op.State != StateExecuted {
			skipped++
			continue
		}
		kept = append(kept, op)
	}
	return kept, skipped
}

// IsDividend reports whether the operation belongs to the derived dividend
// set: its raw type (preferred) or humanized label equals one of the fixed
// dividend/coupon markers.
func IsDividend(op domain.Operation) bool {
	opType := op.OperationType
	if op.RawOperationType != nil && *op.RawOperationType != "" {
		opType = *op.RawOperationType
	}
	_, ok := dividendMarkers[opType]
	return ok
}

// DeriveDividends extracts the dividend rows from normalized operations.
// Amount is the absolute payment; a missing payment yields zero.
func DeriveDividends(connectionID string, ops []domain.Operation) []domain.Dividend {
	dividends := make([]domain.Dividend, 0)
	for _, op := range ops {
		if !IsDividend(op) {
			continue
		}
		amount := 0.0
		if op.Payment != nil && !math.IsNaN(*op.Payment) {
			amount = math.Abs(*op.Payment)
		}
		dividends = append(dividends, domain.Dividend{
			ConnectionID: connectionID,
			Figi:         op.Figi,
			Ticker:       op.Ticker,
			Amount:       amount,
			Currency:     op.Currency,
			PaymentDate:  op.Date,
		})
	}
	return dividends
}

// NormalizeCurrency maps a nullable currency code to its canonical grouping
// key: upper-cased, with RUB for absent codes. The API mixes "rub" and "RUB"
// across endpoints; grouping is case-insensitive so they land together.
func NormalizeCurrency(currency *string) string {
	if currency == nil || *currency == "" {
		return "RUB"
	}
	return strings.ToUpper(*currency)
}

// DailyCashFlow is the payment sum of one (day, currency) bucket of
// cash-only operations - movements with no instrument id.
type DailyCashFlow struct {
	Day      string // "2006-01-02", UTC
	Currency string
	Amount   float64
}

// AggregateDailyCash buckets cash-only operation payments by (day,
// currency). Results are sorted by day then currency so the timeline walk
// is deterministic.
func AggregateDailyCash(ops []domain.Operation) []DailyCashFlow {
	type key struct {
		day      string
		currency string
	}
	buckets := make(map[key]float64)

	for _, op := range ops {
		if !op.CashOnly() || op.Payment == nil || math.IsNaN(*op.Payment) {
			continue
		}
		k := key{day: op.Date.UTC().Format("2006-01-02"), currency: NormalizeCurrency(op.Currency)}
		buckets[k] += *op.Payment
	}

	flows := make([]DailyCashFlow, 0, len(buckets))
	for k, amount := range buckets {
		flows = append(flows, DailyCashFlow{Day: k.day, Currency: k.currency, Amount: amount})
	}
	sort.Slice(flows, func(i, j int) bool {
		if flows[i].Day != flows[j].Day {
			return flows[i].Day < flows[j].Day
		}
		return flows[i].Currency < flows[j].Currency
	})
	return flows
}
