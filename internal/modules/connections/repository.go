// Package connections persists brokerage connections: one per user, owning
// the access token and the selected account.
package connections

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ametelin/finwatch/internal/domain"
)

// Repository handles connection persistence in portfolio.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new connection repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "connections").Logger(),
	}
}

// Upsert creates or replaces the user's connection, keyed by user id. A new
// connection gets a fresh uuid; re-connecting keeps the existing id so
// derived rows stay attached. Returns the stored connection.
func (r *Repository) Upsert(userID, token string, account domain.AccountSelector, brokerAccountType *string) (*domain.Connection, error) {
	now := time.Now().UTC()

	accountID, allAccounts := accountColumns(account)
	id := uuid.New().String()
	_, err := r.db.Exec(`
		INSERT INTO connections (id, user_id, token, account_id, all_accounts, broker_account_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			token = excluded.token,
			account_id = excluded.account_id,
			all_accounts = excluded.all_accounts,
			broker_account_type = excluded.broker_account_type,
			updated_at = excluded.updated_at
	`, id, userID, token, accountID, allAccounts, brokerAccountType, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to upsert connection for user %s: %w", userID, err)
	}

	connection, err := r.GetByUserID(userID)
	if err != nil {
		return nil, err
	}
	r.log.Info().Str("connection_id", connection.ID).Str("user_id", userID).Msg("Connection stored")
	return connection, nil
}

// GetByUserID returns the user's connection, or ErrConnectionNotFound.
func (r *Repository) GetByUserID(userID string) (*domain.Connection, error) {
	return r.getOne("user_id", userID)
}

// GetByID returns a connection by id, or ErrConnectionNotFound.
func (r *Repository) GetByID(id string) (*domain.Connection, error) {
	return r.getOne("id", id)
}

func (r *Repository) getOne(column, value string) (*domain.Connection, error) {
	row := r.db.QueryRow(`
		SELECT id, user_id, token, account_id, all_accounts, broker_account_type,
		       created_at, updated_at, last_synced_at
		FROM connections
		WHERE `+column+` = ?
	`, value)

	connection, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	return connection, nil
}

// ListAll returns every stored connection, oldest sync first.
func (r *Repository) ListAll() ([]domain.Connection, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, token, account_id, all_accounts, broker_account_type,
		       created_at, updated_at, last_synced_at
		FROM connections
		ORDER BY last_synced_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	connections := make([]domain.Connection, 0)
	for rows.Next() {
		connection, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		connections = append(connections, *connection)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return connections, nil
}

// ListIDsByUser returns the connection ids of one user. The schema allows a
// single connection per user, so the slice has at most one element.
func (r *Repository) ListIDsByUser(userID string) ([]string, error) {
	connection, err := r.GetByUserID(userID)
	if err == domain.ErrConnectionNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []string{connection.ID}, nil
}

// ListStale returns connections whose last sync is older than the given
// instant, including connections never synced at all.
func (r *Repository) ListStale(olderThan time.Time) ([]domain.Connection, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, token, account_id, all_accounts, broker_account_type,
		       created_at, updated_at, last_synced_at
		FROM connections
		WHERE last_synced_at IS NULL OR last_synced_at < ?
		ORDER BY last_synced_at ASC
	`, olderThan.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query stale connections: %w", err)
	}
	defer rows.Close()

	connections := make([]domain.Connection, 0)
	for rows.Next() {
		connection, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		connections = append(connections, *connection)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale connections: %w", err)
	}
	return connections, nil
}

// UpdateSyncState records the resolved account, broker account type and
// sync time within the sync transaction, atomically with the derived rows.
func (r *Repository) UpdateSyncState(tx *sql.Tx, connectionID string, account domain.AccountSelector, brokerAccountType *string, syncedAt time.Time) error {
	accountID, allAccounts := accountColumns(account)
	_, err := tx.Exec(`
		UPDATE connections
		SET account_id = ?, all_accounts = ?, broker_account_type = ?,
		    last_synced_at = ?, updated_at = ?
		WHERE id = ?
	`, accountID, allAccounts, brokerAccountType, syncedAt.Unix(), syncedAt.Unix(), connectionID)
	if err != nil {
		return fmt.Errorf("failed to update sync state for connection %s: %w", connectionID, err)
	}
	return nil
}

// DeleteByUserID removes the user's connection. Derived rows go with it via
// foreign-key cascade. Deleting a non-existent connection is not an error.
func (r *Repository) DeleteByUserID(userID string) error {
	result, err := r.db.Exec("DELETE FROM connections WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("failed to delete connection for user %s: %w", userID, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected > 0 {
		r.log.Info().Str("user_id", userID).Msg("Connection deleted")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConnection(row rowScanner) (*domain.Connection, error) {
	var connection domain.Connection
	var accountID *string
	var allAccounts int
	var createdAt, updatedAt int64
	var lastSyncedAt *int64

	err := row.Scan(&connection.ID, &connection.UserID, &connection.Token,
		&accountID, &allAccounts, &connection.BrokerAccountType,
		&createdAt, &updatedAt, &lastSyncedAt)
	if err != nil {
		return nil, err
	}

	switch {
	case allAccounts != 0:
		connection.Account = domain.AllAccounts()
	case accountID != nil && *accountID != "":
		connection.Account = domain.SingleAccount(*accountID)
	}
	connection.CreatedAt = time.Unix(createdAt, 0).UTC()
	connection.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if lastSyncedAt != nil {
		t := time.Unix(*lastSyncedAt, 0).UTC()
		connection.LastSyncedAt = &t
	}
	return &connection, nil
}

func accountColumns(account domain.AccountSelector) (*string, int) {
	if account.IsAll() {
		return nil, 1
	}
	if id, ok := account.AccountID(); ok {
		return &id, 0
	}
	return nil, 0
}
