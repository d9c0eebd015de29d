// Package handlers provides the HTTP handler for the stored portfolio view.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ametelin/finwatch/internal/domain"
	"github.com/ametelin/finwatch/internal/modules/connections"
	"github.com/ametelin/finwatch/internal/modules/operations"
	"github.com/ametelin/finwatch/internal/modules/portfolio"
	"github.com/ametelin/finwatch/internal/modules/snapshots"
)

// recentOperationsLimit caps the operation history in the portfolio view.
const recentOperationsLimit = 200

// Handler handles portfolio read requests.
type Handler struct {
	connections *connections.Repository
	positions   *portfolio.PositionRepository
	operations  *operations.Repository
	dividends   *operations.DividendRepository
	snapshots   *snapshots.Repository
	log         zerolog.Logger
}

// NewHandler creates a new portfolio handler.
func NewHandler(
	connectionRepo *connections.Repository,
	positionRepo *portfolio.PositionRepository,
	operationRepo *operations.Repository,
	dividendRepo *operations.DividendRepository,
	snapshotRepo *snapshots.Repository,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		connections: connectionRepo,
		positions:   positionRepo,
		operations:  operationRepo,
		dividends:   dividendRepo,
		snapshots:   snapshotRepo,
		log:         log.With().Str("handler", "portfolio").Logger(),
	}
}

// RegisterRoutes registers the portfolio routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/invest/portfolio", h.HandleGetPortfolio)
}

// HandleGetPortfolio returns the user's stored portfolio: positions,
// recent operations, dividends and the valuation timeline.
func (h *Handler) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	connection, err := h.connections.GetByUserID(userID(r))
	if errors.Is(err, domain.ErrConnectionNotFound) {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"connection": nil})
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load connection")
		return
	}

	positions, err := h.positions.ListByConnection(connection.ID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load positions")
		return
	}
	ops, err := h.operations.ListRecentByConnection(connection.ID, recentOperationsLimit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load operations")
		return
	}
	dividends, err := h.dividends.ListByConnection(connection.ID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load dividends")
		return
	}
	series, err := h.snapshots.ListByConnection(connection.ID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load snapshots")
		return
	}

	accountID, _ := connection.Account.AccountID()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"connection": map[string]interface{}{
			"id":                connection.ID,
			"accountId":         accountID,
			"allAccounts":       connection.Account.IsAll(),
			"brokerAccountType": connection.BrokerAccountType,
			"lastSyncedAt":      formatTime(connection.LastSyncedAt),
			"createdAt":         connection.CreatedAt.Format(time.RFC3339),
		},
		"positions":  positionRows(positions),
		"operations": operationRows(ops),
		"dividends":  dividendRows(dividends),
		"snapshots":  snapshotRows(series),
	})
}

func positionRows(positions []domain.Position) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(positions))
	for _, position := range positions {
		rows = append(rows, map[string]interface{}{
			"figi":                 position.Figi,
			"ticker":               position.Ticker,
			"name":                 position.Name,
			"instrumentType":       position.InstrumentType,
			"balance":              position.Balance,
			"lot":                  position.Lot,
			"averagePrice":         position.AveragePrice,
			"currentPrice":         position.CurrentPrice,
			"investedAmount":       position.InvestedAmount,
			"currentValue":         position.CurrentValue,
			"expectedYield":        position.ExpectedYield,
			"expectedYieldPercent": position.ExpectedYieldPercent,
			"currency":             position.Currency,
		})
	}
	return rows
}

func operationRows(ops []domain.Operation) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(ops))
	for _, op := range ops {
		rows = append(rows, map[string]interface{}{
			"operationId":    op.OperationID,
			"figi":           op.Figi,
			"ticker":         op.Ticker,
			"instrumentType": op.InstrumentType,
			"operationType":  op.OperationType,
			"payment":        op.Payment,
			"price":          op.Price,
			"quantity":       op.Quantity,
			"commission":     op.Commission,
			"currency":       op.Currency,
			"date":           op.Date.Format(time.RFC3339),
			"description":    op.Description,
		})
	}
	return rows
}

func dividendRows(dividends []domain.Dividend) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(dividends))
	for _, dividend := range dividends {
		rows = append(rows, map[string]interface{}{
			"figi":        dividend.Figi,
			"ticker":      dividend.Ticker,
			"amount":      dividend.Amount,
			"currency":    dividend.Currency,
			"paymentDate": dividend.PaymentDate.Format(time.RFC3339),
			"recordDate":  formatTime(dividend.RecordDate),
		})
	}
	return rows
}

func snapshotRows(series []domain.Snapshot) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(series))
	for _, snapshot := range series {
		rows = append(rows, map[string]interface{}{
			"capturedAt":    snapshot.CapturedAt.Format(time.RFC3339),
			"currency":      snapshot.Currency,
			"totalAmount":   snapshot.TotalAmount,
			"expectedYield": snapshot.ExpectedYield,
		})
	}
	return rows
}

func formatTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "default"
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
