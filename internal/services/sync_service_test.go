package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametelin/finwatch/internal/database"
	"github.com/ametelin/finwatch/internal/domain"
	"github.com/ametelin/finwatch/internal/modules/connections"
	"github.com/ametelin/finwatch/internal/modules/operations"
	"github.com/ametelin/finwatch/internal/modules/portfolio"
	"github.com/ametelin/finwatch/internal/modules/snapshots"
	testdb "github.com/ametelin/finwatch/internal/testing"
)

func strPtr(s string) *string   { return &s }
func f64Ptr(v float64) *float64 { return &v }
func timePtr(t time.Time) *time.Time {
	return &t
}

// stubGateway serves canned per-account data for orchestrator tests.
type stubGateway struct {
	mu         sync.Mutex
	accounts   []domain.AccountPreview
	positions  map[string][]domain.BrokerPosition
	balances   map[string][]domain.MoneyBalance
	operations map[string][]domain.BrokerOperation
	metadata   map[string]*domain.InstrumentDetails

	listErr      error
	portfolioErr error

	// block, when set, stalls GetOperations until released. Used to hold a
	// sync open while a second one is attempted.
	block chan struct{}
}

func (g *stubGateway) ListAccounts(context.Context, string) ([]domain.AccountPreview, error) {
	if g.listErr != nil {
		return nil, g.listErr
	}
	return g.accounts, nil
}

func (g *stubGateway) GetPortfolio(_ context.Context, _ string, accountID string) ([]domain.BrokerPosition, error) {
	if g.portfolioErr != nil {
		return nil, g.portfolioErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.positions[accountID], nil
}

func (g *stubGateway) GetPositions(_ context.Context, _ string, accountID string) ([]domain.MoneyBalance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[accountID], nil
}

func (g *stubGateway) GetOperations(_ context.Context, _ string, accountID string, _, _ time.Time) ([]domain.BrokerOperation, error) {
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.operations[accountID], nil
}

func (g *stubGateway) GetInstrumentMetadata(_ context.Context, _ string, figi string) (*domain.InstrumentDetails, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.metadata[figi], nil
}

func newTestService(t *testing.T, gateway *stubGateway) (*SyncService, *connections.Repository, *database.DB, func()) {
	t.Helper()
	db, cleanup := testdb.NewTestDB(t)
	log := zerolog.Nop()

	connectionRepo := connections.NewRepository(db.Conn(), log)
	service := NewSyncService(
		gateway,
		connectionRepo,
		portfolio.NewPositionRepository(db.Conn(), log),
		operations.NewRepository(db.Conn(), log),
		operations.NewDividendRepository(db.Conn(), log),
		snapshots.NewRepository(db.Conn(), log),
		db.Conn(),
		5,
		log,
	)
	return service, connectionRepo, db, cleanup
}

func singleAccountGateway() *stubGateway {
	date := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	return &stubGateway{
		accounts: []domain.AccountPreview{
			{BrokerAccountID: "acc-1", BrokerAccountType: strPtr("Tinkoff")},
		},
		positions: map[string][]domain.BrokerPosition{
			"acc-1": {{
				Figi:            "BBG001",
				InstrumentType:  strPtr("share"),
				Quantity:        f64Ptr(10),
				AveragePrice:    f64Ptr(100),
				CurrentPrice:    f64Ptr(120),
				CurrentCurrency: strPtr("RUB"),
			}},
		},
		balances: map[string][]domain.MoneyBalance{
			"acc-1": {{Currency: "RUB", Amount: 500}},
		},
		operations: map[string][]domain.BrokerOperation{
			"acc-1": {
				{
					ID:            strPtr("op-deposit"),
					OperationType: strPtr("OPERATION_TYPE_INPUT"),
					State:         strPtr(operations.StateExecuted),
					Payment:       f64Ptr(5000),
					Currency:      strPtr("RUB"),
					Date:          timePtr(date),
				},
				{
					ID:            strPtr("op-dividend"),
					Figi:          strPtr("BBG001"),
					OperationType: strPtr("OPERATION_TYPE_DIVIDEND"),
					State:         strPtr(operations.StateExecuted),
					Payment:       f64Ptr(300),
					Currency:      strPtr("RUB"),
					Date:          timePtr(date.AddDate(0, 0, 5)),
				},
				{
					ID:            strPtr("op-pending"),
					OperationType: strPtr("OPERATION_TYPE_INPUT"),
					State:         strPtr("OPERATION_STATE_PROGRESS"),
					Payment:       f64Ptr(999),
					Currency:      strPtr("RUB"),
					Date:          timePtr(date),
				},
			},
		},
		metadata: map[string]*domain.InstrumentDetails{
			"BBG001": {Figi: "BBG001", Ticker: strPtr("SBER"), Name: strPtr("Sberbank"), Lot: f64Ptr(10), Currency: strPtr("RUB")},
		},
	}
}

func TestConnectResolvesSingleAccountAndSyncs(t *testing.T) {
	gateway := singleAccountGateway()
	service, _, db, cleanup := newTestService(t, gateway)
	defer cleanup()

	connection, err := service.Connect(context.Background(), "user-1", "token", domain.AccountSelector{})
	require.NoError(t, err)

	accountID, ok := connection.Account.AccountID()
	require.True(t, ok, "the only account is selected automatically")
	assert.Equal(t, "acc-1", accountID)
	require.NotNil(t, connection.LastSyncedAt)

	log := zerolog.Nop()
	positions, err := portfolio.NewPositionRepository(db.Conn(), log).ListByConnection(connection.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.NotNil(t, positions[0].Ticker)
	assert.Equal(t, "SBER", *positions[0].Ticker)

	ops, err := operations.NewRepository(db.Conn(), log).ListByConnection(connection.ID)
	require.NoError(t, err)
	require.Len(t, ops, 2, "only executed operations are stored")
	for _, op := range ops {
		assert.Equal(t, operations.StateExecuted, op.State)
	}

	dividends, err := operations.NewDividendRepository(db.Conn(), log).ListByConnection(connection.ID)
	require.NoError(t, err)
	require.Len(t, dividends, 1)
	assert.Equal(t, 300.0, dividends[0].Amount)

	series, err := snapshots.NewRepository(db.Conn(), log).ListByConnection(connection.ID)
	require.NoError(t, err)
	// One flow point from the deposit plus the synthesized now-snapshot.
	require.Len(t, series, 2)
	assert.Equal(t, 5000.0, series[0].TotalAmount)
	assert.Equal(t, 1700.0, series[1].TotalAmount, "now-snapshot is positions value plus cash")
	require.NotNil(t, series[1].ExpectedYield)
	assert.Equal(t, 200.0, *series[1].ExpectedYield)
}

func TestConnectRequiresSelectionWithManyAccounts(t *testing.T) {
	gateway := singleAccountGateway()
	gateway.accounts = append(gateway.accounts, domain.AccountPreview{BrokerAccountID: "acc-2"})
	service, _, _, cleanup := newTestService(t, gateway)
	defer cleanup()

	_, err := service.Connect(context.Background(), "user-1", "token", domain.AccountSelector{})
	resErr, ok := domain.AsAccountResolutionError(err)
	require.True(t, ok)
	assert.Equal(t, domain.AccountSelectionRequired, resErr.Kind)
	assert.Len(t, resErr.Accounts, 2, "the error carries the choices for the prompt")
}

func TestConnectUnknownAccountID(t *testing.T) {
	gateway := singleAccountGateway()
	service, _, _, cleanup := newTestService(t, gateway)
	defer cleanup()

	_, err := service.Connect(context.Background(), "user-1", "token", domain.SingleAccount("acc-404"))
	resErr, ok := domain.AsAccountResolutionError(err)
	require.True(t, ok)
	assert.Equal(t, domain.AccountNotFound, resErr.Kind)
}

func TestConnectNoAccounts(t *testing.T) {
	gateway := &stubGateway{}
	service, _, _, cleanup := newTestService(t, gateway)
	defer cleanup()

	_, err := service.Connect(context.Background(), "user-1", "token", domain.AccountSelector{})
	resErr, ok := domain.AsAccountResolutionError(err)
	require.True(t, ok)
	assert.Equal(t, domain.NoAccounts, resErr.Kind)
}

func TestSyncAllAccountsAggregates(t *testing.T) {
	gateway := singleAccountGateway()
	gateway.accounts = append(gateway.accounts, domain.AccountPreview{BrokerAccountID: "acc-2"})
	gateway.balances["acc-2"] = []domain.MoneyBalance{{Currency: "RUB", Amount: 250}}
	service, _, db, cleanup := newTestService(t, gateway)
	defer cleanup()

	connection, err := service.Connect(context.Background(), "user-1", "token", domain.AllAccounts())
	require.NoError(t, err)
	assert.True(t, connection.Account.IsAll())

	series, err := snapshots.NewRepository(db.Conn(), zerolog.Nop()).ListByConnection(connection.ID)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, 1950.0, series[1].TotalAmount, "cash from every account feeds the now-snapshot")
}

func TestSyncReplacesPreviousState(t *testing.T) {
	gateway := singleAccountGateway()
	service, _, db, cleanup := newTestService(t, gateway)
	defer cleanup()

	connection, err := service.Connect(context.Background(), "user-1", "token", domain.AccountSelector{})
	require.NoError(t, err)

	// The next sync sees a shrunken feed; stored rows must follow it.
	gateway.mu.Lock()
	gateway.positions["acc-1"] = nil
	gateway.operations["acc-1"] = gateway.operations["acc-1"][:1]
	gateway.mu.Unlock()

	require.NoError(t, service.Sync(context.Background(), connection.ID))

	log := zerolog.Nop()
	positions, err := portfolio.NewPositionRepository(db.Conn(), log).ListByConnection(connection.ID)
	require.NoError(t, err)
	assert.Empty(t, positions)

	ops, err := operations.NewRepository(db.Conn(), log).ListByConnection(connection.ID)
	require.NoError(t, err)
	assert.Len(t, ops, 1)

	dividends, err := operations.NewDividendRepository(db.Conn(), log).ListByConnection(connection.ID)
	require.NoError(t, err)
	assert.Empty(t, dividends, "stale dividends do not survive a replace")
}

func TestSyncGuardsAgainstConcurrentRuns(t *testing.T) {
	gateway := singleAccountGateway()
	service, connectionRepo, _, cleanup := newTestService(t, gateway)
	defer cleanup()

	connection, err := connectionRepo.Upsert("user-1", "token", domain.SingleAccount("acc-1"), nil)
	require.NoError(t, err)

	gateway.block = make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- service.Sync(context.Background(), connection.ID)
	}()

	// Wait for the first sync to hold the per-connection slot.
	require.Eventually(t, func() bool {
		service.mu.Lock()
		defer service.mu.Unlock()
		_, busy := service.inFlight[connection.ID]
		return busy
	}, time.Second, 5*time.Millisecond)

	err = service.Sync(context.Background(), connection.ID)
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)

	close(gateway.block)
	require.NoError(t, <-firstDone)

	// The slot frees up once the first sync finishes.
	gateway.block = nil
	assert.NoError(t, service.Sync(context.Background(), connection.ID))
}

func TestSyncUnknownConnection(t *testing.T) {
	service, _, _, cleanup := newTestService(t, singleAccountGateway())
	defer cleanup()

	err := service.Sync(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
}
