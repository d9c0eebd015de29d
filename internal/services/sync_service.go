// Package services coordinates full portfolio synchronization passes:
// fetching the raw brokerage feed, running the transformation pipeline and
// atomically replacing the stored portfolio state of a connection.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametelin/finwatch/internal/database"
	"github.com/ametelin/finwatch/internal/domain"
	"github.com/ametelin/finwatch/internal/modules/connections"
	"github.com/ametelin/finwatch/internal/modules/instruments"
	"github.com/ametelin/finwatch/internal/modules/operations"
	"github.com/ametelin/finwatch/internal/modules/portfolio"
	"github.com/ametelin/finwatch/internal/modules/snapshots"
)

// SyncService orchestrates connect, sync and disconnect for brokerage
// connections. At most one sync runs per connection at a time; a second
// caller gets ErrSyncInProgress instead of racing the transactional replace.
type SyncService struct {
	gateway       domain.BrokerageGateway
	connections   *connections.Repository
	positions     *portfolio.PositionRepository
	operations    *operations.Repository
	dividends     *operations.DividendRepository
	snapshots     *snapshots.Repository
	db            *sql.DB
	lookbackYears int
	log           zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewSyncService creates the sync orchestrator. lookbackYears bounds the
// operations history fetched from the brokerage.
func NewSyncService(
	gateway domain.BrokerageGateway,
	connectionRepo *connections.Repository,
	positionRepo *portfolio.PositionRepository,
	operationRepo *operations.Repository,
	dividendRepo *operations.DividendRepository,
	snapshotRepo *snapshots.Repository,
	db *sql.DB,
	lookbackYears int,
	log zerolog.Logger,
) *SyncService {
	if lookbackYears <= 0 {
		lookbackYears = 5
	}
	return &SyncService{
		gateway:       gateway,
		connections:   connectionRepo,
		positions:     positionRepo,
		operations:    operationRepo,
		dividends:     dividendRepo,
		snapshots:     snapshotRepo,
		db:            db,
		lookbackYears: lookbackYears,
		log:           log.With().Str("service", "sync").Logger(),
		inFlight:      make(map[string]struct{}),
	}
}

// Connect resolves the target account for the token, probes access with a
// lightweight portfolio read, persists the connection and runs the first
// sync. Account-resolution failures surface as AccountResolutionError so
// the caller can prompt for an explicit choice.
func (s *SyncService) Connect(ctx context.Context, userID, token string, selector domain.AccountSelector) (*domain.Connection, error) {
	accounts, err := s.gateway.ListAccounts(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	resolved, brokerAccountType, err := resolveSelection(accounts, selector)
	if err != nil {
		return nil, err
	}

	// Probe access before persisting anything.
	probeID := firstAccountID(accounts, resolved)
	if probeID != "" {
		if _, err := s.gateway.GetPortfolio(ctx, token, probeID); err != nil {
			return nil, fmt.Errorf("portfolio access probe failed: %w", err)
		}
	}

	connection, err := s.connections.Upsert(userID, token, resolved, brokerAccountType)
	if err != nil {
		return nil, err
	}

	if err := s.Sync(ctx, connection.ID); err != nil {
		return nil, err
	}
	return s.connections.GetByID(connection.ID)
}

// Disconnect removes the user's connection and, through the schema cascade,
// every derived row.
func (s *SyncService) Disconnect(ctx context.Context, userID string) error {
	return s.connections.DeleteByUserID(userID)
}

// SyncUser runs a sync for the user's connection.
func (s *SyncService) SyncUser(ctx context.Context, userID string) (*domain.Connection, error) {
	connection, err := s.connections.GetByUserID(userID)
	if err != nil {
		return nil, err
	}
	if err := s.Sync(ctx, connection.ID); err != nil {
		return nil, err
	}
	return s.connections.GetByID(connection.ID)
}

// Sync runs one full synchronization pass for a connection: fetch the raw
// feed, normalize and enrich it, reconstruct the valuation timeline and
// replace all derived rows in one transaction.
func (s *SyncService) Sync(ctx context.Context, connectionID string) error {
	if !s.acquire(connectionID) {
		return domain.ErrSyncInProgress
	}
	defer s.release(connectionID)

	connection, err := s.connections.GetByID(connectionID)
	if err != nil {
		return err
	}

	accounts, err := s.gateway.ListAccounts(ctx, connection.Token)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	resolved, brokerAccountType, err := resolveSelection(accounts, connection.Account)
	if err != nil {
		return err
	}

	accountIDs := selectedAccountIDs(accounts, resolved)
	now := time.Now().UTC()
	from := now.AddDate(-s.lookbackYears, 0, 0)

	feed, err := s.fetchFeed(ctx, connection.Token, accountIDs, from, now)
	if err != nil {
		return err
	}

	normalized, skipped := operations.NormalizeBatch(feed.operations)
	if skipped > 0 {
		s.log.Debug().Str("connection_id", connectionID).Int("skipped", skipped).
			Msg("Dropped malformed or unsettled operations")
	}

	cache := instruments.NewCache(s.log)
	cache.SeedFromPositions(feed.positions)
	cache.SeedFromOperations(normalized)
	cache.Enrich(ctx, s.gateway, connection.Token)

	// The flow timeline works on unrounded payments; storage rounding
	// happens in ApplyMetadata afterwards.
	series := snapshots.BuildOperationTimeline(connectionID, normalized)
	series = append(series, snapshots.SynthesizeNow(connectionID, feed.positions, feed.balances, now)...)

	operationRows := operations.ApplyMetadata(normalized, cache)
	state := domain.PortfolioState{
		Positions:  portfolio.DerivePositions(connectionID, feed.positions, cache),
		Operations: operationRows,
		Dividends:  operations.DeriveDividends(connectionID, operationRows),
		Snapshots:  series,
	}

	if err := s.replaceState(connectionID, state, resolved, brokerAccountType, now); err != nil {
		return fmt.Errorf("failed to replace portfolio state: %w", err)
	}

	s.log.Info().
		Str("connection_id", connectionID).
		Int("accounts", len(accountIDs)).
		Int("positions", len(state.Positions)).
		Int("operations", len(state.Operations)).
		Int("dividends", len(state.Dividends)).
		Int("snapshots", len(state.Snapshots)).
		Msg("Portfolio synced")
	return nil
}

// replaceState swaps the stored portfolio state of a connection in one
// transaction, including the connection's own sync bookkeeping.
func (s *SyncService) replaceState(connectionID string, state domain.PortfolioState, resolved domain.AccountSelector, brokerAccountType *string, syncedAt time.Time) error {
	return database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if err := s.positions.ReplaceForConnection(tx, connectionID, state.Positions); err != nil {
			return err
		}
		if err := s.operations.ReplaceForConnection(tx, connectionID, state.Operations); err != nil {
			return err
		}
		if err := s.dividends.ReplaceForConnection(tx, connectionID, state.Dividends); err != nil {
			return err
		}
		if err := s.snapshots.ReplaceForConnection(tx, connectionID, state.Snapshots); err != nil {
			return err
		}
		return s.connections.UpdateSyncState(tx, connectionID, resolved, brokerAccountType, syncedAt)
	})
}

// feed is the raw brokerage data of one sync pass, aggregated across the
// selected accounts.
type feed struct {
	positions  []domain.BrokerPosition
	balances   []domain.MoneyBalance
	operations []domain.BrokerOperation
}

// fetchFeed issues the three reads of each account concurrently and awaits
// them together. Any fetch failure aborts the whole sync.
func (s *SyncService) fetchFeed(ctx context.Context, token string, accountIDs []string, from, to time.Time) (*feed, error) {
	result := &feed{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil && err != nil {
			firstErr = err
		}
	}

	for _, accountID := range accountIDs {
		wg.Add(3)
		go func(id string) {
			defer wg.Done()
			positions, err := s.gateway.GetPortfolio(ctx, token, id)
			if err != nil {
				record(fmt.Errorf("failed to fetch portfolio for account %s: %w", id, err))
				return
			}
			mu.Lock()
			result.positions = append(result.positions, positions...)
			mu.Unlock()
		}(accountID)
		go func(id string) {
			defer wg.Done()
			balances, err := s.gateway.GetPositions(ctx, token, id)
			if err != nil {
				record(fmt.Errorf("failed to fetch balances for account %s: %w", id, err))
				return
			}
			mu.Lock()
			result.balances = append(result.balances, balances...)
			mu.Unlock()
		}(accountID)
		go func(id string) {
			defer wg.Done()
			ops, err := s.gateway.GetOperations(ctx, token, id, from, to)
			if err != nil {
				record(fmt.Errorf("failed to fetch operations for account %s: %w", id, err))
				return
			}
			mu.Lock()
			result.operations = append(result.operations, ops...)
			mu.Unlock()
		}(accountID)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return result, nil
}

func (s *SyncService) acquire(connectionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[connectionID]; busy {
		return false
	}
	s.inFlight[connectionID] = struct{}{}
	return true
}

func (s *SyncService) release(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, connectionID)
}

// resolveSelection validates an account selector against the accounts the
// token can see. An unset selector resolves to the only account when there
// is exactly one; otherwise the caller must disambiguate.
func resolveSelection(accounts []domain.AccountPreview, selector domain.AccountSelector) (domain.AccountSelector, *string, error) {
	if selector.IsAll() {
		if len(accounts) == 0 {
			return domain.AccountSelector{}, nil, &domain.AccountResolutionError{Kind: domain.NoAccounts}
		}
		return domain.AllAccounts(), nil, nil
	}

	if id, ok := selector.AccountID(); ok {
		for _, account := range accounts {
			if account.BrokerAccountID == id {
				return domain.SingleAccount(id), account.BrokerAccountType, nil
			}
		}
		return domain.AccountSelector{}, nil, &domain.AccountResolutionError{Kind: domain.AccountNotFound, Accounts: accounts}
	}

	switch len(accounts) {
	case 0:
		return domain.AccountSelector{}, nil, &domain.AccountResolutionError{Kind: domain.NoAccounts}
	case 1:
		return domain.SingleAccount(accounts[0].BrokerAccountID), accounts[0].BrokerAccountType, nil
	default:
		return domain.AccountSelector{}, nil, &domain.AccountResolutionError{Kind: domain.AccountSelectionRequired, Accounts: accounts}
	}
}

// selectedAccountIDs lists the concrete accounts a resolved selector covers.
func selectedAccountIDs(accounts []domain.AccountPreview, selector domain.AccountSelector) []string {
	if selector.IsAll() {
		ids := make([]string, 0, len(accounts))
		for _, account := range accounts {
			ids = append(ids, account.BrokerAccountID)
		}
		return ids
	}
	if id, ok := selector.AccountID(); ok {
		return []string{id}
	}
	return nil
}

// firstAccountID picks the account used for the access probe.
func firstAccountID(accounts []domain.AccountPreview, selector domain.AccountSelector) string {
	if id, ok := selector.AccountID(); ok {
		return id
	}
	if len(accounts) > 0 {
		return accounts[0].BrokerAccountID
	}
	return ""
}
