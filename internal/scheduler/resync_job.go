package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametelin/finwatch/internal/domain"
	"github.com/ametelin/finwatch/internal/modules/connections"
	"github.com/ametelin/finwatch/internal/services"
)

// ResyncJob re-syncs every connection whose last sync is older than the
// configured interval. Per-connection failures are logged and the job moves
// on; an already-running sync is not an error.
type ResyncJob struct {
	connections *connections.Repository
	service     *services.SyncService
	interval    time.Duration
	log         zerolog.Logger
}

// NewResyncJob creates the periodic re-sync job.
func NewResyncJob(connectionRepo *connections.Repository, service *services.SyncService, interval time.Duration, log zerolog.Logger) *ResyncJob {
	return &ResyncJob{
		connections: connectionRepo,
		service:     service,
		interval:    interval,
		log:         log.With().Str("job", "portfolio_resync").Logger(),
	}
}

// Name implements Job.
func (j *ResyncJob) Name() string { return "portfolio_resync" }

// Run implements Job.
func (j *ResyncJob) Run() error {
	stale, err := j.connections.ListStale(time.Now().UTC().Add(-j.interval))
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	j.log.Info().Int("count", len(stale)).Msg("Re-syncing stale connections")
	for _, connection := range stale {
		err := j.service.Sync(context.Background(), connection.ID)
		switch {
		case errors.Is(err, domain.ErrSyncInProgress):
			j.log.Debug().Str("connection_id", connection.ID).Msg("Sync already running, skipping")
		case err != nil:
			j.log.Error().Err(err).Str("connection_id", connection.ID).Msg("Scheduled sync failed")
		}
	}
	return nil
}
