package domain

import (
	"context"
	"time"
)

// BrokerageGateway abstracts the brokerage API behind one capability
// interface so implementations (REST contract client, SDK wrapper) can be
// swapped without branching in the sync flow. All calls are read-only.
type BrokerageGateway interface {
	// ListAccounts returns the accounts visible to the token.
	ListAccounts(ctx context.Context, token string) ([]AccountPreview, error)

	// GetPortfolio returns the current instrument positions of one account.
	GetPortfolio(ctx context.Context, token, accountID string) ([]BrokerPosition, error)

	// GetPositions returns the cash balances of one account.
	GetPositions(ctx context.Context, token, accountID string) ([]MoneyBalance, error)

	// GetOperations returns the executed-state operation history of one
	// account for the given window.
	GetOperations(ctx context.Context, token, accountID string, from, to time.Time) ([]BrokerOperation, error)

	// GetInstrumentMetadata resolves reference data for one instrument id.
	GetInstrumentMetadata(ctx context.Context, token, figi string) (*InstrumentDetails, error)
}
