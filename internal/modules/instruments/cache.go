// Package instruments resolves and memoizes per-instrument reference data
// (ticker, name, type, lot size, currency). Position data seeds the cache
// and is never overwritten by a slower remote lookup.
package instruments

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/ametelin/finwatch/internal/domain"
)

// Cache maps a figi to its known reference data. Not safe for concurrent
// use; each sync pass builds its own cache.
type Cache struct {
	entries map[string]domain.InstrumentDetails
	log     zerolog.Logger
}

// NewCache creates an empty metadata cache.
func NewCache(log zerolog.Logger) *Cache {
	return &Cache{
		entries: make(map[string]domain.InstrumentDetails),
		log:     log.With().Str("component", "instrument_cache").Logger(),
	}
}

// SeedFromPositions primes the cache from portfolio positions. Positions
// know the instrument type and currency directly; the lot-count figure
// stands in for lot size until a remote lookup replaces it.
func (c *Cache) SeedFromPositions(positions []domain.BrokerPosition) {
	for _, position := range positions {
		if position.Figi == "" {
			continue
		}
		c.entries[position.Figi] = domain.InstrumentDetails{
			Figi:           position.Figi,
			InstrumentType: position.InstrumentType,
			Lot:            position.QuantityLots,
			Currency:       position.Currency(),
		}
	}
}

// SeedFromOperations adds figis only known from operation history. The
// operation record carries just the instrument type; a position seed for
// the same figi always wins.
func (c *Cache) SeedFromOperations(ops []domain.Operation) {
	for _, op := range ops {
		if op.Figi == nil || *op.Figi == "" {
			continue
		}
		if _, ok := c.entries[*op.Figi]; ok {
			continue
		}
		c.entries[*op.Figi] = domain.InstrumentDetails{
			Figi:           *op.Figi,
			InstrumentType: op.InstrumentType,
		}
	}
}

// Enrich issues one metadata lookup for every cached figi still missing a
// ticker. A failed lookup is logged and skipped, leaving the seed data in
// place; enrichment never aborts the sync.
func (c *Cache) Enrich(ctx context.Context, gateway domain.BrokerageGateway, token string) {
	figis := make([]string, 0, len(c.entries))
	for figi := range c.entries {
		figis = append(figis, figi)
	}
	sort.Strings(figis)

	for _, figi := range figis {
		existing := c.entries[figi]
		if existing.Ticker != nil && *existing.Ticker != "" {
			continue
		}

		details, err := gateway.GetInstrumentMetadata(ctx, token, figi)
		if err != nil {
			c.log.Warn().Err(err).Str("figi", figi).Msg("Instrument metadata lookup failed, keeping seed data")
			continue
		}
		if details == nil {
			continue
		}

		merged := domain.InstrumentDetails{
			Figi:           figi,
			Ticker:         details.Ticker,
			Name:           details.Name,
			InstrumentType: details.InstrumentType,
			Lot:            details.Lot,
			Currency:       details.Currency,
		}
		if merged.InstrumentType == nil {
			merged.InstrumentType = existing.InstrumentType
		}
		if merged.Currency == nil {
			merged.Currency = existing.Currency
		}
		if merged.Lot == nil {
			merged.Lot = existing.Lot
		}
		c.entries[figi] = merged
	}
}

// Put stores reference data for a figi, replacing any seed.
func (c *Cache) Put(details domain.InstrumentDetails) {
	if details.Figi == "" {
		return
	}
	c.entries[details.Figi] = details
}

// Lookup returns the cached reference data for a figi.
func (c *Cache) Lookup(figi string) (domain.InstrumentDetails, bool) {
	details, ok := c.entries[figi]
	return details, ok
}

// Len reports the number of cached instruments.
func (c *Cache) Len() int {
	return len(c.entries)
}
