// Package main is the entry point for the finwatch portfolio sync and
// passive-income attribution service. It wires the T-Bank Invest gateway,
// the sqlite-backed repositories, the sync service, the HTTP API and the
// background re-sync scheduler, then runs until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametelin/finwatch/internal/clients/tbank"
	"github.com/ametelin/finwatch/internal/config"
	"github.com/ametelin/finwatch/internal/database"
	"github.com/ametelin/finwatch/internal/domain"
	"github.com/ametelin/finwatch/internal/modules/analytics"
	analyticshandlers "github.com/ametelin/finwatch/internal/modules/analytics/handlers"
	"github.com/ametelin/finwatch/internal/modules/connections"
	connectionhandlers "github.com/ametelin/finwatch/internal/modules/connections/handlers"
	"github.com/ametelin/finwatch/internal/modules/operations"
	"github.com/ametelin/finwatch/internal/modules/portfolio"
	portfoliohandlers "github.com/ametelin/finwatch/internal/modules/portfolio/handlers"
	"github.com/ametelin/finwatch/internal/modules/snapshots"
	"github.com/ametelin/finwatch/internal/scheduler"
	"github.com/ametelin/finwatch/internal/server"
	"github.com/ametelin/finwatch/internal/services"
	"github.com/ametelin/finwatch/pkg/logger"
)

func main() {
	// Load configuration first to get log level.
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting finwatch")

	// Portfolio database: connections, positions, operations, dividends
	// and valuation snapshots all live in one sqlite file.
	portfolioDB, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "portfolio.db"),
		Name: "portfolio",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open portfolio database")
	}
	defer portfolioDB.Close()

	if err := portfolioDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate portfolio database")
	}

	// Brokerage gateway. The HTTP client carries the optional custom CA
	// bundle used when the Invest API sits behind a corporate proxy.
	httpClient, err := tbank.NewHTTPClient(cfg.CABundlePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build brokerage HTTP client")
	}
	gateway := tbank.NewClient(cfg.InvestAPIURL, httpClient, log)

	// Repositories.
	conn := portfolioDB.Conn()
	connectionRepo := connections.NewRepository(conn, log)
	positionRepo := portfolio.NewPositionRepository(conn, log)
	operationRepo := operations.NewRepository(conn, log)
	dividendRepo := operations.NewDividendRepository(conn, log)
	snapshotRepo := snapshots.NewRepository(conn, log)

	// Services.
	syncService := services.NewSyncService(
		gateway,
		connectionRepo,
		positionRepo,
		operationRepo,
		dividendRepo,
		snapshotRepo,
		conn,
		cfg.LookbackYears,
		log,
	)
	analyticsService := analytics.NewService(connectionRepo, snapshotRepo, operationRepo, log)

	// HTTP server.
	srv := server.New(server.Config{
		Log:               log,
		Cfg:               cfg,
		PortfolioDB:       portfolioDB,
		ConnectionHandler: connectionhandlers.NewHandler(connectionRepo, syncService, log),
		PortfolioHandler:  portfoliohandlers.NewHandler(connectionRepo, positionRepo, operationRepo, dividendRepo, snapshotRepo, log),
		AnalyticsHandler:  analyticshandlers.NewHandler(analyticsService, log),
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	// Background re-sync: connections that have not synced within the
	// configured interval are refreshed on a matching cron cadence.
	sched := scheduler.New(log)
	resyncJob := scheduler.NewResyncJob(connectionRepo, syncService, cfg.SyncInterval, log)
	if err := sched.AddJob(fmt.Sprintf("@every %s", cfg.SyncInterval), resyncJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register re-sync job")
	}
	sched.Start()

	// Optional websocket streams: one per stored connection, each change
	// notification triggers an immediate re-sync of that connection.
	var streams []*tbank.PortfolioStream
	if cfg.StreamEnabled {
		streams = startPortfolioStreams(cfg, connectionRepo, syncService, log)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	for _, stream := range streams {
		if err := stream.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping portfolio stream")
		}
	}

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// startPortfolioStreams opens a portfolio websocket stream for every stored
// connection. Dial failures never block startup; streams keep reconnecting
// in the background and the cron re-sync covers the gaps.
func startPortfolioStreams(cfg *config.Config, connectionRepo *connections.Repository, syncService *services.SyncService, log zerolog.Logger) []*tbank.PortfolioStream {
	stored, err := connectionRepo.ListAll()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list connections for streaming")
		return nil
	}

	streams := make([]*tbank.PortfolioStream, 0, len(stored))
	for _, connection := range stored {
		connectionID := connection.ID
		onChange := func(accountID string) {
			go func() {
				if err := syncService.Sync(context.Background(), connectionID); err != nil {
					if errors.Is(err, domain.ErrSyncInProgress) {
						return
					}
					log.Error().Err(err).Str("connection_id", connectionID).
						Str("account_id", accountID).Msg("Stream-triggered sync failed")
				}
			}()
		}

		stream := tbank.NewPortfolioStream(cfg.InvestSocketURL, connection.Token, onChange, log)
		if err := stream.Start(); err != nil {
			// Start keeps reconnecting in the background; track the
			// stream anyway so shutdown stops the retry loop.
			log.Warn().Err(err).Str("connection_id", connectionID).Msg("Portfolio stream not yet connected")
		}
		streams = append(streams, stream)
	}

	if len(streams) > 0 {
		log.Info().Int("streams", len(streams)).Msg("Portfolio streams started")
	}
	return streams
}
