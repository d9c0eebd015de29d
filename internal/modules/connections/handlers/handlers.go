// Package handlers provides HTTP handlers for brokerage connection
// management and manual sync.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ametelin/finwatch/internal/domain"
	"github.com/ametelin/finwatch/internal/modules/connections"
	"github.com/ametelin/finwatch/internal/services"
)

// Handler handles connection HTTP requests.
type Handler struct {
	repo    *connections.Repository
	service *services.SyncService
	log     zerolog.Logger
}

// NewHandler creates a new connection handler.
func NewHandler(repo *connections.Repository, service *services.SyncService, log zerolog.Logger) *Handler {
	return &Handler{
		repo:    repo,
		service: service,
		log:     log.With().Str("handler", "connections").Logger(),
	}
}

// RegisterRoutes registers the connection routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/invest", func(r chi.Router) {
		r.Get("/connection", h.HandleGetConnection)
		r.Post("/connection", h.HandleConnect)
		r.Delete("/connection", h.HandleDisconnect)
		r.Post("/sync", h.HandleSync)
	})
}

type connectRequest struct {
	Token       string `json:"token"`
	AccountID   string `json:"accountId"`
	AllAccounts bool   `json:"allAccounts"`
}

// HandleGetConnection returns the user's connection, without the token.
func (h *Handler) HandleGetConnection(w http.ResponseWriter, r *http.Request) {
	connection, err := h.repo.GetByUserID(userID(r))
	if errors.Is(err, domain.ErrConnectionNotFound) {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"connection": nil})
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load connection")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"connection": connectionResponse(connection),
	})
}

// HandleConnect links a brokerage account: resolve the account choice, probe
// access, persist and run the first sync. When the token sees several
// accounts and none was chosen, the response carries the options, including
// the aggregate over all accounts.
func (h *Handler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		h.writeError(w, http.StatusBadRequest, "An access token from T-Bank Invest settings is required")
		return
	}

	selector := domain.AccountSelector{}
	if req.AllAccounts {
		selector = domain.AllAccounts()
	} else if req.AccountID != "" {
		selector = domain.SingleAccount(req.AccountID)
	}

	connection, err := h.service.Connect(r.Context(), userID(r), req.Token, selector)
	if err != nil {
		h.writeConnectError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"connection": connectionResponse(connection),
	})
}

// HandleDisconnect removes the connection and all derived data.
func (h *Handler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Disconnect(r.Context(), userID(r)); err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to disconnect portfolio")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleSync triggers a manual re-sync of the user's connection.
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	connection, err := h.service.SyncUser(r.Context(), userID(r))
	if errors.Is(err, domain.ErrConnectionNotFound) {
		h.writeError(w, http.StatusNotFound, "Connect an investment portfolio first")
		return
	}
	if errors.Is(err, domain.ErrSyncInProgress) {
		h.writeError(w, http.StatusConflict, "A sync is already running for this portfolio")
		return
	}
	if err != nil {
		h.writeConnectError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"connection": connectionResponse(connection),
	})
}

// writeConnectError maps the error taxonomy to user-facing responses:
// account resolution asks for a choice, 401/403 from the brokerage asks for
// a new token, anything else is a generic failure.
func (h *Handler) writeConnectError(w http.ResponseWriter, err error) {
	if resErr, ok := domain.AsAccountResolutionError(err); ok {
		switch resErr.Kind {
		case domain.AccountSelectionRequired:
			h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":                    "Choose an account to connect",
				"requiresAccountSelection": true,
				"accounts":                 accountOptions(resErr.Accounts),
			})
		case domain.AccountNotFound:
			h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":                    "The requested account was not found. Choose one of the available accounts.",
				"requiresAccountSelection": true,
				"accounts":                 accountOptions(resErr.Accounts),
			})
		case domain.NoAccounts:
			h.writeError(w, http.StatusBadRequest, "T-Bank Invest returned no accounts. Check that the token was created correctly.")
		default:
			h.writeError(w, http.StatusBadRequest, resErr.Error())
		}
		return
	}

	if apiErr, ok := domain.AsRemoteAPIError(err); ok {
		if apiErr.Unauthorized() {
			h.writeError(w, http.StatusUnauthorized, "The brokerage rejected the token. Issue a new one and reconnect.")
			return
		}
		h.log.Error().Err(err).Msg("Brokerage API error during connect")
		h.writeError(w, http.StatusBadGateway, "The brokerage API is unavailable. Try again later.")
		return
	}

	h.log.Error().Err(err).Msg("Failed to connect portfolio")
	h.writeError(w, http.StatusInternalServerError, "Failed to connect the portfolio. Try again later.")
}

// accountOptions renders account previews for the selection prompt. With
// more than one account an aggregate option is offered alongside.
func accountOptions(accounts []domain.AccountPreview) map[string]interface{} {
	return map[string]interface{}{
		"available":            accounts,
		"allAccountsAvailable": len(accounts) > 1,
	}
}

func connectionResponse(connection *domain.Connection) map[string]interface{} {
	accountID, _ := connection.Account.AccountID()
	response := map[string]interface{}{
		"id":                connection.ID,
		"accountId":         accountID,
		"allAccounts":       connection.Account.IsAll(),
		"brokerAccountType": connection.BrokerAccountType,
		"createdAt":         connection.CreatedAt.Format(time.RFC3339),
		"updatedAt":         connection.UpdatedAt.Format(time.RFC3339),
		"hasToken":          true,
	}
	if connection.LastSyncedAt != nil {
		response["lastSyncedAt"] = connection.LastSyncedAt.Format(time.RFC3339)
	} else {
		response["lastSyncedAt"] = nil
	}
	return response
}

// userID identifies the requesting user. The service fronts a single-user
// deployment; a reverse proxy can scope users with the X-User-ID header.
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
