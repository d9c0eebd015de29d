package operations

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametelin/finwatch/internal/domain"
)

// DividendRepository handles the derived dividend rows in portfolio.db.
type DividendRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewDividendRepository creates a new dividend repository.
func NewDividendRepository(db *sql.DB, log zerolog.Logger) *DividendRepository {
	return &DividendRepository{
		db:  db,
		log: log.With().Str("repo", "dividends").Logger(),
	}
}

// ReplaceForConnection replaces all dividend rows of one connection within
// the given transaction.
func (r *DividendRepository) ReplaceForConnection(tx *sql.Tx, connectionID string, dividends []domain.Dividend) error {
	if _, err := tx.Exec("DELETE FROM dividends WHERE connection_id = ?", connectionID); err != nil {
		return fmt.Errorf("failed to delete dividends for connection %s: %w", connectionID, err)
	}

	if len(dividends) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(`
		INSERT INTO dividends (connection_id, figi, ticker, amount, currency, payment_date, record_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare dividend insert: %w", err)
	}
	defer stmt.Close()

	for _, dividend := range dividends {
		var recordDate interface{}
		if dividend.RecordDate != nil {
			recordDate = dividend.RecordDate.Unix()
		}
		_, err := stmt.Exec(
			connectionID, dividend.Figi, dividend.Ticker, dividend.Amount,
			dividend.Currency, dividend.PaymentDate.Unix(), recordDate,
		)
		if err != nil {
			return fmt.Errorf("failed to insert dividend: %w", err)
		}
	}

	r.log.Debug().Str("connection_id", connectionID).Int("count", len(dividends)).Msg("Replaced dividends")
	return nil
}

// ListByConnection returns the stored dividends of one connection, newest
// payment first.
func (r *DividendRepository) ListByConnection(connectionID string) ([]domain.Dividend, error) {
	rows, err := r.db.Query(`
		SELECT figi, ticker, amount, currency, payment_date, record_date
		FROM dividends
		WHERE connection_id = ?
		ORDER BY payment_date DESC
	`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dividends: %w", err)
	}
	defer rows.Close()

	dividends := make([]domain.Dividend, 0)
	for rows.Next() {
		var dividend domain.Dividend
		var paymentDate int64
		var recordDate *int64
		if err := rows.Scan(&dividend.Figi, &dividend.Ticker, &dividend.Amount,
			&dividend.Currency, &paymentDate, &recordDate); err != nil {
			return nil, fmt.Errorf("failed to scan dividend: %w", err)
		}
		dividend.ConnectionID = connectionID
		dividend.PaymentDate = time.Unix(paymentDate, 0).UTC()
		if recordDate != nil {
			t := time.Unix(*recordDate, 0).UTC()
			dividend.RecordDate = &t
		}
		dividends = append(dividends, dividend)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dividends: %w", err)
	}
	return dividends, nil
}
