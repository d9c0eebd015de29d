package operations

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametelin/finwatch/internal/domain"
)

// Repository handles operation persistence in portfolio.db. Operation rows
// are transient: every sync deletes and rewrites the full set for a
// connection inside the caller's transaction.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new operation repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "operations").Logger(),
	}
}

// ReplaceForConnection replaces all operation rows of one connection within
// the given transaction.
func (r *Repository) ReplaceForConnection(tx *sql.Tx, connectionID string, ops []domain.Operation) error {
	if _, err := tx.Exec("DELETE FROM operations WHERE connection_id = ?", connectionID); err != nil {
		return fmt.Errorf("failed to delete operations for connection %s: %w", connectionID, err)
	}

	if len(ops) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(`
		INSERT INTO operations (
			connection_id, operation_id, figi, ticker, instrument_type,
			operation_type, raw_operation_type, payment, price, quantity,
			commission, currency, date, description, state
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare operation insert: %w", err)
	}
	defer stmt.Close()

	for _, op := range ops {
		_, err := stmt.Exec(
			connectionID, op.OperationID, op.Figi, op.Ticker, op.InstrumentType,
			op.OperationType, op.RawOperationType, op.Payment, op.Price, op.Quantity,
			op.Commission, op.Currency, op.Date.Unix(), op.Description, op.State,
		)
		if err != nil {
			return fmt.Errorf("failed to insert operation %s: %w", op.OperationID, err)
		}
	}

	r.log.Debug().Str("connection_id", connectionID).Int("count", len(ops)).Msg("Replaced operations")
	return nil
}

// ListByConnection returns the stored operations of one connection, oldest
// first.
func (r *Repository) ListByConnection(connectionID string) ([]domain.Operation, error) {
	rows, err := r.db.Query(`
		SELECT operation_id, figi, ticker, instrument_type, operation_type,
		       raw_operation_type, payment, price, quantity, commission,
		       currency, date, description, state
		FROM operations
		WHERE connection_id = ?
		ORDER BY date ASC
	`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	return scanOperations(rows, connectionID)
}

// ListRecentByConnection returns the newest operations of one connection,
// newest first, capped at limit.
func (r *Repository) ListRecentByConnection(connectionID string, limit int) ([]domain.Operation, error) {
	rows, err := r.db.Query(`
		SELECT operation_id, figi, ticker, instrument_type, operation_type,
		       raw_operation_type, payment, price, quantity, commission,
		       currency, date, description, state
		FROM operations
		WHERE connection_id = ?
		ORDER BY date DESC
		LIMIT ?
	`, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent operations: %w", err)
	}
	defer rows.Close()

	return scanOperations(rows, connectionID)
}

// ListForWindow returns operations of the given connections dated within
// [from, to], oldest first. Used by passive-income attribution.
func (r *Repository) ListForWindow(connectionIDs []string, from, to time.Time) ([]domain.Operation, error) {
	if len(connectionIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT operation_id, figi, ticker, instrument_type, operation_type,
		       raw_operation_type, payment, price, quantity, commission,
		       currency, date, description, state
		FROM operations
		WHERE connection_id IN (` + placeholders(len(connectionIDs)) + `)
		  AND date >= ? AND date <= ?
		ORDER BY date ASC
	`
	args := make([]interface{}, 0, len(connectionIDs)+2)
	for _, id := range connectionIDs {
		args = append(args, id)
	}
	args = append(args, from.Unix(), to.Unix())

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations window: %w", err)
	}
	defer rows.Close()

	return scanOperations(rows, "")
}

func scanOperations(rows *sql.Rows, connectionID string) ([]domain.Operation, error) {
	ops := make([]domain.Operation, 0)
	for rows.Next() {
		var op domain.Operation
		var date int64
		if err := rows.Scan(
			&op.OperationID, &op.Figi, &op.Ticker, &op.InstrumentType, &op.OperationType,
			&op.RawOperationType, &op.Payment, &op.Price, &op.Quantity, &op.Commission,
			&op.Currency, &date, &op.Description, &op.State,
		); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		op.ConnectionID = connectionID
		op.Date = time.Unix(date, 0).UTC()
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}
	return ops, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ", ?"
	}
	return out
}
