package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ametelin/finwatch/internal/database"
)

// SystemHandlers serves process and host monitoring endpoints.
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	portfolioDB *database.DB
}

// NewSystemHandlers creates a new system handlers instance.
func NewSystemHandlers(log zerolog.Logger, dataDir string, portfolioDB *database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now().UTC(),
		portfolioDB: portfolioDB,
	}
}

// HandleSystemHealth reports host stats, database health and uptime.
func (h *SystemHandlers) HandleSystemHealth(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := h.getSystemStats()

	dbStatus := "ok"
	if err := h.portfolioDB.QuickCheck(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("Portfolio database quick check failed")
		dbStatus = "error"
	}

	response := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startupTime).Seconds()),
		"cpu_percent":    cpuPercent,
		"ram_percent":    ramPercent,
		"database": map[string]interface{}{
			"portfolio":  dbStatus,
			"size_bytes": h.databaseSize(),
		},
	}
	if dbStatus != "ok" {
		response["status"] = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode health response")
	}
}

// getSystemStats samples CPU and RAM usage percentages. A short 100ms
// sampling window keeps the endpoint responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) databaseSize() int64 {
	info, err := os.Stat(filepath.Join(h.dataDir, "portfolio.db"))
	if err != nil {
		return 0
	}
	return info.Size()
}
