package analytics

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametelin/finwatch/internal/modules/operations"
	"github.com/ametelin/finwatch/internal/modules/snapshots"
)

// ConnectionSource lists the brokerage connection ids of a user.
type ConnectionSource interface {
	ListIDsByUser(userID string) ([]string, error)
}

// Service computes passive-income summaries from stored portfolio data.
type Service struct {
	connections ConnectionSource
	snapshots   *snapshots.Repository
	operations  *operations.Repository
	log         zerolog.Logger
}

// NewService creates a new analytics service.
func NewService(connections ConnectionSource, snapshotRepo *snapshots.Repository, operationRepo *operations.Repository, log zerolog.Logger) *Service {
	return &Service{
		connections: connections,
		snapshots:   snapshotRepo,
		operations:  operationRepo,
		log:         log.With().Str("service", "analytics").Logger(),
	}
}

// Summary computes the passive income of one user for [start, end]. The
// data window opens one day before the first month so a boundary snapshot
// can carry in as that month's start value.
func (s *Service) Summary(userID string, start, end time.Time) (Summary, error) {
	ids, err := s.connections.ListIDsByUser(userID)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list connections: %w", err)
	}
	if len(ids) == 0 {
		return EmptySummary(start, end), nil
	}

	boundaryStart := StartOfMonth(start).AddDate(0, 0, -1)
	boundaryEnd := EndOfMonth(end)

	series, err := s.snapshots.ListForWindow(ids, boundaryStart, boundaryEnd)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load snapshot window: %w", err)
	}
	ops, err := s.operations.ListForWindow(ids, boundaryStart, boundaryEnd)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load operation window: %w", err)
	}

	s.log.Debug().
		Str("user_id", userID).
		Int("connections", len(ids)).
		Int("snapshots", len(series)).
		Int("operations", len(ops)).
		Msg("Computing passive income summary")

	return PassiveIncome(series, ops, start, end), nil
}
