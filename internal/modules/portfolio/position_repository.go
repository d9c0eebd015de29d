package portfolio

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ametelin/finwatch/internal/domain"
)

// PositionRepository handles position persistence in portfolio.db. Position
// rows are transient: every sync deletes and rewrites the full set for a
// connection inside the caller's transaction.
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPositionRepository creates a new position repository.
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: log.With().Str("repo", "positions").Logger(),
	}
}

// ReplaceForConnection replaces all position rows of one connection within
// the given transaction.
func (r *PositionRepository) ReplaceForConnection(tx *sql.Tx, connectionID string, positions []domain.Position) error {
	if _, err := tx.Exec("DELETE FROM positions WHERE connection_id = ?", connectionID); err != nil {
		return fmt.Errorf("failed to delete positions for connection %s: %w", connectionID, err)
	}

	if len(positions) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(`
		INSERT INTO positions (
			connection_id, figi, ticker, name, instrument_type, balance, lot,
			average_price, current_price, invested_amount, current_value,
			expected_yield, expected_yield_percent, currency
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare position insert: %w", err)
	}
	defer stmt.Close()

	for _, position := range positions {
		_, err := stmt.Exec(
			connectionID, position.Figi, position.Ticker, position.Name,
			position.InstrumentType, position.Balance, position.Lot,
			position.AveragePrice, position.CurrentPrice, position.InvestedAmount,
			position.CurrentValue, position.ExpectedYield, position.ExpectedYieldPercent,
			position.Currency,
		)
		if err != nil {
			return fmt.Errorf("failed to insert position %s: %w", position.Figi, err)
		}
	}

	r.log.Debug().Str("connection_id", connectionID).Int("count", len(positions)).Msg("Replaced positions")
	return nil
}

// ListByConnection returns the stored positions of one connection, largest
// current value first.
func (r *PositionRepository) ListByConnection(connectionID string) ([]domain.Position, error) {
	rows, err := r.db.Query(`
		SELECT figi, ticker, name, instrument_type, balance, lot,
		       average_price, current_price, invested_amount, current_value,
		       expected_yield, expected_yield_percent, currency
		FROM positions
		WHERE connection_id = ?
		ORDER BY current_value DESC
	`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := make([]domain.Position, 0)
	for rows.Next() {
		var position domain.Position
		if err := rows.Scan(
			&position.Figi, &position.Ticker, &position.Name, &position.InstrumentType,
			&position.Balance, &position.Lot, &position.AveragePrice, &position.CurrentPrice,
			&position.InvestedAmount, &position.CurrentValue, &position.ExpectedYield,
			&position.ExpectedYieldPercent, &position.Currency,
		); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		position.ConnectionID = connectionID
		positions = append(positions, position)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return positions, nil
}
