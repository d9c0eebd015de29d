package tbank

import (
	"time"

	"github.com/ametelin/finwatch/pkg/money"
)

// Raw wire shapes of the T-Bank Invest REST contract. Units and nano parts
// arrive as JSON numbers or decimal strings depending on the endpoint, so
// they decode into interface{} and are collapsed by pkg/money.

type apiMoneyValue struct {
	Currency *string     `json:"currency"`
	Units    interface{} `json:"units"`
	Nano     interface{} `json:"nano"`
}

func (m *apiMoneyValue) amount() *float64 {
	if m == nil {
		return nil
	}
	return money.FromParts(m.Units, m.Nano)
}

func (m *apiMoneyValue) currency() *string {
	if m == nil {
		return nil
	}
	return m.Currency
}

type apiQuotation struct {
	Units interface{} `json:"units"`
	Nano  interface{} `json:"nano"`
}

func (q *apiQuotation) amount() *float64 {
	if q == nil {
		return nil
	}
	return money.FromParts(q.Units, q.Nano)
}

type apiAccount struct {
	ID          *string `json:"id"`
	Type        *string `json:"type"`
	Name        *string `json:"name"`
	Status      *string `json:"status"`
	AccessLevel *string `json:"accessLevel"`
}

type getAccountsResponse struct {
	Accounts []apiAccount `json:"accounts"`
}

type apiPortfolioPosition struct {
	Figi                 *string        `json:"figi"`
	InstrumentType       *string        `json:"instrumentType"`
	Quantity             *apiQuotation  `json:"quantity"`
	QuantityLots         *apiQuotation  `json:"quantityLots"`
	AveragePositionPrice *apiMoneyValue `json:"averagePositionPrice"`
	CurrentPrice         *apiMoneyValue `json:"currentPrice"`
}

type portfolioResponse struct {
	Positions []apiPortfolioPosition `json:"positions"`
}

type positionsResponse struct {
	Money []apiMoneyValue `json:"money"`
}

type apiOperation struct {
	ID             *string        `json:"id"`
	Currency       *string        `json:"currency"`
	Payment        *apiMoneyValue `json:"payment"`
	Price          *apiMoneyValue `json:"price"`
	State          *string        `json:"state"`
	Quantity       interface{}    `json:"quantity"`
	QuantityRest   interface{}    `json:"quantityRest"`
	Figi           *string        `json:"figi"`
	InstrumentType *string        `json:"instrumentType"`
	Date           *string        `json:"date"`
	Type           *string        `json:"type"`
	Description    *string        `json:"description"`
	OperationType  *string        `json:"operationType"`
	Commission     *apiMoneyValue `json:"commission"`
}

type operationsResponse struct {
	Operations []apiOperation `json:"operations"`
}

type apiInstrument struct {
	Figi           *string     `json:"figi"`
	Ticker         *string     `json:"ticker"`
	Name           *string     `json:"name"`
	InstrumentType *string     `json:"instrumentType"`
	Lot            interface{} `json:"lot"`
	Currency       *string     `json:"currency"`
}

type instrumentResponse struct {
	Instrument *apiInstrument `json:"instrument"`
}

// parseDate parses the RFC3339 timestamps the API emits. A malformed or
// absent date maps to nil; the operations classifier drops such records.
func parseDate(value *string) *time.Time {
	if value == nil || *value == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, *value)
	if err != nil {
		return nil
	}
	utc := parsed.UTC()
	return &utc
}
