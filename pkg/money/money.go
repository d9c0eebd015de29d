// Package money normalizes the brokerage API's split integer/fractional
// monetary encoding ("units" plus a nano part at 10^-9 scale) into plain
// float64 amounts, and provides the rounding applied at storage and
// reporting boundaries.
package money

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// NanoFactor is the scale of the fractional part of a MoneyValue/Quotation.
const NanoFactor = 1_000_000_000

// ParseNumber converts a loosely typed numeric value into *float64.
// The brokerage API emits units/nano parts as JSON numbers or as decimal
// strings depending on the endpoint. Absent, empty and unparsable values
// all map to nil - never to zero, because "unknown" and "0" are different
// answers for monetary data.
func ParseNumber(value interface{}) *float64 {
	switch v := value.(type) {
	case nil:
		return nil
	case float64:
		return finite(v)
	case float32:
		return finite(float64(v))
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	case json.Number:
		return parseString(v.String())
	case string:
		return parseString(v)
	case *string:
		if v == nil {
			return nil
		}
		return parseString(*v)
	default:
		return nil
	}
}

func parseString(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return finite(parsed)
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// FromParts combines a units part and a nano part into a single amount:
// value = units + nano/1e9. If both parts are absent the result is nil.
// A present part substitutes 0 for the missing one.
func FromParts(units, nano interface{}) *float64 {
	u := ParseNumber(units)
	n := ParseNumber(nano)
	if u == nil && n == nil {
		return nil
	}
	uv := 0.0
	if u != nil {
		uv = *u
	}
	nv := 0.0
	if n != nil {
		nv = *n
	}
	result := uv + nv/NanoFactor
	return &result
}

// Round rounds to the given number of decimal places using half-up on
// value*10^precision. Intermediate computations keep full float precision;
// this is applied only when a figure is finally stored or reported.
func Round(value float64, precision int) float64 {
	factor := math.Pow(10, float64(precision))
	return math.Floor(value*factor+0.5) / factor
}

// Round2 rounds to two decimal places, the storage precision for amounts.
func Round2(value float64) float64 {
	return Round(value, 2)
}

// RoundPtr rounds a nullable amount, propagating nil. NaN collapses to nil
// rather than poisoning stored rows.
func RoundPtr(value *float64, precision int) *float64 {
	if value == nil || math.IsNaN(*value) {
		return nil
	}
	rounded := Round(*value, precision)
	return &rounded
}
