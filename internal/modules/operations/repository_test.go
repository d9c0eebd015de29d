package operations

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametelin/finwatch/internal/database"
	"github.com/ametelin/finwatch/internal/domain"
	testdb "github.com/ametelin/finwatch/internal/testing"
)

func seedConnection(t *testing.T, db *database.DB, id string) {
	t.Helper()
	now := time.Now().Unix()
	_, err := db.Exec(`
		INSERT INTO connections (id, user_id, token, account_id, all_accounts, created_at, updated_at)
		VALUES (?, ?, 'token', 'acc-1', 0, ?, ?)
	`, id, "user-"+id, now, now)
	require.NoError(t, err)
}

func TestOperationRepositoryReplaceAndList(t *testing.T) {
	db, cleanup := testdb.NewTestDB(t)
	defer cleanup()
	seedConnection(t, db, "conn-1")

	repo := NewRepository(db.Conn(), zerolog.Nop())

	first := []domain.Operation{
		{
			OperationID:   "op-1",
			Figi:          strPtr("BBG1"),
			OperationType: "Buy",
			Payment:       f64Ptr(-100.5),
			Currency:      strPtr("RUB"),
			Date:          time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC),
			State:         StateExecuted,
		},
		{
			OperationID:   "op-2",
			OperationType: "Input",
			Payment:       f64Ptr(5000),
			Currency:      strPtr("RUB"),
			Date:          time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC),
			State:         StateExecuted,
		},
	}

	err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		return repo.ReplaceForConnection(tx, "conn-1", first)
	})
	require.NoError(t, err)

	stored, err := repo.ListByConnection("conn-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	// Oldest first.
	assert.Equal(t, "op-2", stored[0].OperationID)
	assert.Equal(t, "op-1", stored[1].OperationID)
	require.NotNil(t, stored[1].Payment)
	assert.InDelta(t, -100.5, *stored[1].Payment, 1e-9)

	// Replace fully supersedes previous rows.
	err = database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		return repo.ReplaceForConnection(tx, "conn-1", first[:1])
	})
	require.NoError(t, err)

	stored, err = repo.ListByConnection("conn-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "op-1", stored[0].OperationID)
}

func TestOperationRepositoryWindow(t *testing.T) {
	db, cleanup := testdb.NewTestDB(t)
	defer cleanup()
	seedConnection(t, db, "conn-1")

	repo := NewRepository(db.Conn(), zerolog.Nop())

	ops := []domain.Operation{
		{OperationID: "early", OperationType: "Input", Date: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), State: StateExecuted},
		{OperationID: "inside", OperationType: "Input", Date: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), State: StateExecuted},
		{OperationID: "late", OperationType: "Input", Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), State: StateExecuted},
	}
	err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		return repo.ReplaceForConnection(tx, "conn-1", ops)
	})
	require.NoError(t, err)

	window, err := repo.ListForWindow(
		[]string{"conn-1"},
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC),
	)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "inside", window[0].OperationID)

	empty, err := repo.ListForWindow(nil, time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDividendRepositoryReplaceAndList(t *testing.T) {
	db, cleanup := testdb.NewTestDB(t)
	defer cleanup()
	seedConnection(t, db, "conn-1")

	repo := NewDividendRepository(db.Conn(), zerolog.Nop())

	dividends := []domain.Dividend{
		{Figi: strPtr("BBG1"), Ticker: strPtr("SBER"), Amount: 300, Currency: strPtr("RUB"),
			PaymentDate: time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)},
		{Amount: 12.5, Currency: strPtr("USD"),
			PaymentDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		return repo.ReplaceForConnection(tx, "conn-1", dividends)
	})
	require.NoError(t, err)

	stored, err := repo.ListByConnection("conn-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	// Newest payment first.
	assert.InDelta(t, 12.5, stored[0].Amount, 1e-9)
	assert.InDelta(t, 300.0, stored[1].Amount, 1e-9)
	require.NotNil(t, stored[1].Ticker)
	assert.Equal(t, "SBER", *stored[1].Ticker)
	assert.Nil(t, stored[0].RecordDate)
}
