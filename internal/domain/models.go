// Package domain contains the core entities of the portfolio sync engine
// and the interfaces that break dependencies between modules, clients and
// services. The domain layer is pure: no database, HTTP or logging imports.
package domain

import "time"

// Connection links a user to a brokerage account. One per user; owns the
// access token and the selected account. Deleting a connection removes all
// derived data with it.
type Connection struct {
	ID                string
	UserID            string
	Token             string
	Account           AccountSelector
	BrokerAccountType *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastSyncedAt      *time.Time
}

// Position is a stored portfolio position, fully recomputed on every sync.
type Position struct {
	ConnectionID         string
	Figi                 string
	Ticker               *string
	Name                 *string
	InstrumentType       *string
	Balance              float64
	Lot                  *float64
	AveragePrice         *float64
	CurrentPrice         *float64
	InvestedAmount       *float64
	CurrentValue         *float64
	ExpectedYield        *float64
	ExpectedYieldPercent *float64
	Currency             *string
}

// Operation is a normalized, settled brokerage transaction.
type Operation struct {
	ConnectionID     string
	OperationID      string
	Figi             *string
	Ticker           *string
	InstrumentType   *string
	OperationType    string // humanized label
	RawOperationType *string
	Payment          *float64
	Price            *float64
	Quantity         *float64
	Commission       *float64
	Currency         *string
	Date             time.Time
	Description      *string
	State            string
}

// CashOnly reports whether the operation is a cash-level movement not tied
// to a specific instrument. Cash-only payments proxy money the user moved
// in or out, which passive-income attribution must exclude.
func (o Operation) CashOnly() bool {
	return o.Figi == nil || *o.Figi == ""
}

// Dividend is the derived subset of operations with dividend/coupon types.
// Amount is the absolute value of the payment.
type Dividend struct {
	ConnectionID string
	Figi         *string
	Ticker       *string
	Amount       float64
	Currency     *string
	PaymentDate  time.Time
	RecordDate   *time.Time
}

// Snapshot is one point on the reconstructed valuation timeline: the
// cumulative total portfolio value in one currency at one instant.
type Snapshot struct {
	ConnectionID  string
	CapturedAt    time.Time
	Currency      string
	TotalAmount   float64
	ExpectedYield *float64
}

// AccountPreview describes a brokerage account as returned by ListAccounts.
type AccountPreview struct {
	BrokerAccountID   string  `json:"brokerAccountId"`
	BrokerAccountType *string `json:"brokerAccountType"`
	Name              *string `json:"name"`
	Status            *string `json:"status"`
	AccessLevel       *string `json:"accessLevel"`
}

// BrokerPosition is a raw portfolio position from the gateway, monetary
// parts already collapsed to floats but otherwise untouched.
type BrokerPosition struct {
	Figi            string
	InstrumentType  *string
	Quantity        *float64
	QuantityLots    *float64
	AveragePrice    *float64
	CurrentPrice    *float64
	AverageCurrency *string
	CurrentCurrency *string
}

// Currency resolves the position currency: the current-price currency wins,
// then the average-price currency.
func (p BrokerPosition) Currency() *string {
	if p.CurrentCurrency != nil && *p.CurrentCurrency != "" {
		return p.CurrentCurrency
	}
	if p.AverageCurrency != nil && *p.AverageCurrency != "" {
		return p.AverageCurrency
	}
	return nil
}

// MoneyBalance is a cash balance in one currency from the positions feed.
type MoneyBalance struct {
	Currency string
	Amount   float64
}

// BrokerOperation is a raw operation record from the gateway. Fields may be
// absent; the operations classifier decides what is usable.
type BrokerOperation struct {
	ID              *string
	Figi            *string
	InstrumentType  *string
	Type            *string // display label supplied by the API
	OperationType   *string // raw enum code, e.g. OPERATION_TYPE_DIVIDEND
	State           *string
	Payment         *float64
	PaymentCurrency *string
	Price           *float64
	Quantity        *float64
	QuantityRest    *float64
	Commission      *float64
	Currency        *string
	Date            *time.Time
	Description     *string
}

// InstrumentDetails is per-instrument reference data from the gateway.
type InstrumentDetails struct {
	Figi           string
	Ticker         *string
	Name           *string
	InstrumentType *string
	Lot            *float64
	Currency       *string
}

// PortfolioState bundles everything derived from one sync pass. The four
// parts are always replaced together in one transaction.
type PortfolioState struct {
	Positions  []Position
	Operations []Operation
	Dividends  []Dividend
	Snapshots  []Snapshot
}
