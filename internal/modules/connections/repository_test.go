package connections

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametelin/finwatch/internal/domain"
	testdb "github.com/ametelin/finwatch/internal/testing"
)

func strPtr(s string) *string { return &s }

func TestConnectionUpsertKeepsIDOnReconnect(t *testing.T) {
	db, cleanup := testdb.NewTestDB(t)
	defer cleanup()

	repo := NewRepository(db.Conn(), zerolog.Nop())

	first, err := repo.Upsert("user-1", "token-a", domain.SingleAccount("acc-1"), strPtr("Tinkoff"))
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	accountID, ok := first.Account.AccountID()
	require.True(t, ok)
	assert.Equal(t, "acc-1", accountID)

	second, err := repo.Upsert("user-1", "token-b", domain.AllAccounts(), nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "reconnecting must keep the connection id")
	assert.Equal(t, "token-b", second.Token)
	assert.True(t, second.Account.IsAll())
}

func TestConnectionGetByUserIDNotFound(t *testing.T) {
	db, cleanup := testdb.NewTestDB(t)
	defer cleanup()

	repo := NewRepository(db.Conn(), zerolog.Nop())

	_, err := repo.GetByUserID("nobody")
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)

	ids, err := repo.ListIDsByUser("nobody")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestConnectionDeleteCascadesDerivedRows(t *testing.T) {
	db, cleanup := testdb.NewTestDB(t)
	defer cleanup()

	repo := NewRepository(db.Conn(), zerolog.Nop())
	connection, err := repo.Upsert("user-1", "token", domain.SingleAccount("acc-1"), nil)
	require.NoError(t, err)

	_, err = db.Exec(`
		INSERT INTO snapshots (connection_id, captured_at, currency, total_amount)
		VALUES (?, ?, 'RUB', 100)
	`, connection.ID, time.Now().Unix())
	require.NoError(t, err)

	require.NoError(t, repo.DeleteByUserID("user-1"))

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM snapshots WHERE connection_id = ?", connection.ID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "derived rows are removed with the connection")

	// Deleting again is a no-op, not an error.
	assert.NoError(t, repo.DeleteByUserID("user-1"))
}

func TestConnectionListStale(t *testing.T) {
	db, cleanup := testdb.NewTestDB(t)
	defer cleanup()

	repo := NewRepository(db.Conn(), zerolog.Nop())
	fresh, err := repo.Upsert("user-fresh", "token", domain.SingleAccount("acc-1"), nil)
	require.NoError(t, err)
	stale, err := repo.Upsert("user-stale", "token", domain.SingleAccount("acc-2"), nil)
	require.NoError(t, err)
	never, err := repo.Upsert("user-never", "token", domain.SingleAccount("acc-3"), nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	setSyncedAt := func(id string, at time.Time) {
		_, err := db.Exec("UPDATE connections SET last_synced_at = ? WHERE id = ?", at.Unix(), id)
		require.NoError(t, err)
	}
	setSyncedAt(fresh.ID, now)
	setSyncedAt(stale.ID, now.Add(-12*time.Hour))

	result, err := repo.ListStale(now.Add(-6 * time.Hour))
	require.NoError(t, err)
	require.Len(t, result, 2)

	ids := []string{result[0].ID, result[1].ID}
	assert.Contains(t, ids, stale.ID)
	assert.Contains(t, ids, never.ID, "never-synced connections count as stale")
}
