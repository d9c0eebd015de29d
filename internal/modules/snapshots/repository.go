package snapshots

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametelin/finwatch/internal/domain"
)

// Repository handles valuation snapshot persistence in portfolio.db. The
// series is transient and fully rewritten on every sync.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new snapshot repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "snapshots").Logger(),
	}
}

// ReplaceForConnection replaces all snapshot rows of one connection within
// the given transaction.
func (r *Repository) ReplaceForConnection(tx *sql.Tx, connectionID string, snapshots []domain.Snapshot) error {
	if _, err := tx.Exec("DELETE FROM snapshots WHERE connection_id = ?", connectionID); err != nil {
		return fmt.Errorf("failed to delete snapshots for connection %s: %w", connectionID, err)
	}

	if len(snapshots) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(`
		INSERT INTO snapshots (connection_id, captured_at, currency, total_amount, expected_yield)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, snapshot := range snapshots {
		_, err := stmt.Exec(
			connectionID, snapshot.CapturedAt.Unix(), snapshot.Currency,
			snapshot.TotalAmount, snapshot.ExpectedYield,
		)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}
	}

	r.log.Debug().Str("connection_id", connectionID).Int("count", len(snapshots)).Msg("Replaced snapshots")
	return nil
}

// ListByConnection returns the stored snapshot series of one connection,
// oldest first.
func (r *Repository) ListByConnection(connectionID string) ([]domain.Snapshot, error) {
	rows, err := r.db.Query(`
		SELECT connection_id, captured_at, currency, total_amount, expected_yield
		FROM snapshots
		WHERE connection_id = ?
		ORDER BY captured_at ASC
	`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// ListForWindow returns snapshots of the given connections captured within
// [from, to], oldest first. The attribution window starts one day before the
// first requested month so a boundary value can carry in.
func (r *Repository) ListForWindow(connectionIDs []string, from, to time.Time) ([]domain.Snapshot, error) {
	if len(connectionIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT connection_id, captured_at, currency, total_amount, expected_yield
		FROM snapshots
		WHERE connection_id IN (` + placeholders(len(connectionIDs)) + `)
		  AND captured_at >= ? AND captured_at <= ?
		ORDER BY captured_at ASC
	`
	args := make([]interface{}, 0, len(connectionIDs)+2)
	for _, id := range connectionIDs {
		args = append(args, id)
	}
	args = append(args, from.Unix(), to.Unix())

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot window: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

func scanSnapshots(rows *sql.Rows) ([]domain.Snapshot, error) {
	snapshots := make([]domain.Snapshot, 0)
	for rows.Next() {
		var snapshot domain.Snapshot
		var capturedAt int64
		if err := rows.Scan(&snapshot.ConnectionID, &capturedAt, &snapshot.Currency,
			&snapshot.TotalAmount, &snapshot.ExpectedYield); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshot.CapturedAt = time.Unix(capturedAt, 0).UTC()
		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snapshots, nil
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
