package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/candy-clash/internal/domain"
	"github.com/candy-clash/internal/service"
)

// Handler provides HTTP handlers for the tournament API
type Handler struct {
	service *service.TournamentService
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.TournamentService, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Errors  []string    `json:"errors,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Attempt submission
		r.Post("/attempts", h.SubmitAttempt)

		// Period operations
		r.Route("/periods", func(r chi.Router) {
			r.Post("/", h.CreatePeriod)
			r.Get("/", h.ListPeriods)

			r.Route("/{periodID}", func(r chi.Router) {
				r.Get("/", h.GetPeriod)
				r.Get("/leaderboard", h.GetLeaderboard)
				r.Get("/payouts", h.GetPayouts)
				r.Post("/settle", h.SettlePeriod)
			})
		})

		// Player operations
		r.Route("/players", func(r chi.Router) {
			r.Post("/", h.CreatePlayer)

			r.Route("/{playerID}", func(r chi.Router) {
				r.Get("/", h.GetPlayer)
				r.Get("/transactions", h.GetPlayerTransactions)
				r.Post("/adjust", h.AdjustBalance)
			})
		})

		// Distribution templates
		r.Get("/templates", h.ListTemplates)
		r.Get("/templates/{name}", h.GetTemplate)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	resp := APIResponse{
		Success: false,
		Error:   err.Error(),
	}
	// Config validation reports every violation at once.
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.Errors = verr.Problems
	}
	h.writeJSON(w, status, resp)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// SubmitAttempt handles attempt result submission
func (h *Handler) SubmitAttempt(w http.ResponseWriter, r *http.Request) {
	var sub domain.AttemptSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if sub.UserID == "" || sub.PeriodID == "" || sub.TimeMs <= 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.SubmitAttempt(r.Context(), sub); err != nil {
		switch {
		case domain.IsNotFoundError(err):
			h.writeError(w, http.StatusNotFound, err)
		case errors.Is(err, domain.ErrPeriodNotActive):
			h.writeError(w, http.StatusConflict, err)
		case errors.Is(err, domain.ErrInsufficientBalance):
			h.writeError(w, http.StatusPaymentRequired, err)
		case errors.Is(err, domain.ErrInvalidRequest):
			h.writeError(w, http.StatusBadRequest, err)
		default:
			h.logger.Error("failed to submit attempt", "error", err)
			h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		}
		return
	}

	h.writeSuccess(w, map[string]string{"status": "accepted"})
}

// CreatePeriod handles tournament period creation
func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	period, err := h.service.CreatePeriod(r.Context(), req)
	if err != nil {
		var verr *domain.ValidationError
		switch {
		case errors.As(err, &verr):
			h.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, domain.ErrTemplateNotFound), errors.Is(err, domain.ErrInvalidRequest):
			h.writeError(w, http.StatusBadRequest, err)
		default:
			h.logger.Error("failed to create period", "error", err)
			h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    period,
	})
}

// ListPeriods returns periods, optionally filtered by ?status=
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	status := domain.PeriodStatus(r.URL.Query().Get("status"))

	periods, err := h.service.ListPeriods(r.Context(), status)
	if err != nil {
		h.logger.Error("failed to list periods", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, periods)
}

// GetPeriod returns a period by ID
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	periodID := chi.URLParam(r, "periodID")

	period, err := h.service.GetPeriod(r.Context(), periodID)
	if err != nil {
		if domain.IsNotFoundError(err) {
			h.writeError(w, http.StatusNotFound, err)
			return
		}
		h.logger.Error("failed to get period", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, period)
}

// GetLeaderboard returns the ranked entries for a period
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	periodID := chi.URLParam(r, "periodID")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
			return
		}
		limit = parsed
	}

	entries, err := h.service.Leaderboard(r.Context(), periodID, limit)
	if err != nil {
		h.logger.Error("failed to get leaderboard", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, entries)
}

// GetPayouts returns the settlement audit snapshot of a closed period
func (h *Handler) GetPayouts(w http.ResponseWriter, r *http.Request) {
	periodID := chi.URLParam(r, "periodID")

	snapshot, err := h.service.PeriodPayouts(r.Context(), periodID)
	if err != nil {
		switch {
		case domain.IsNotFoundError(err):
			h.writeError(w, http.StatusNotFound, err)
		case errors.Is(err, domain.ErrPeriodNotSettled):
			h.writeError(w, http.StatusConflict, err)
		default:
			h.logger.Error("failed to get payouts", "error", err)
			h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		}
		return
	}

	h.writeSuccess(w, snapshot)
}

// SettlePeriod triggers settlement of a period. Safe to call repeatedly: an
// already-settled period returns its prior snapshot.
func (h *Handler) SettlePeriod(w http.ResponseWriter, r *http.Request) {
	periodID := chi.URLParam(r, "periodID")

	outcome, err := h.service.Settle(r.Context(), periodID)
	if err != nil {
		var verr *domain.ValidationError
		switch {
		case domain.IsNotFoundError(err):
			h.writeError(w, http.StatusNotFound, err)
		case errors.As(err, &verr):
			h.writeError(w, http.StatusUnprocessableEntity, err)
		default:
			h.logger.Error("failed to settle period", "period_id", periodID, "error", err)
			h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		}
		return
	}

	h.writeSuccess(w, outcome)
}

// CreatePlayerRequest is the payload for player registration
type CreatePlayerRequest struct {
	ID              string `json:"id"`
	DisplayName     string `json:"display_name"`
	StartingBalance int64  `json:"starting_balance,omitempty"`
}

// CreatePlayer registers a new player account
func (h *Handler) CreatePlayer(w http.ResponseWriter, r *http.Request) {
	var req CreatePlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	player, err := h.service.CreatePlayer(r.Context(), req.ID, req.DisplayName, req.StartingBalance)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPlayerExists):
			h.writeError(w, http.StatusConflict, err)
		case errors.Is(err, domain.ErrInvalidRequest):
			h.writeError(w, http.StatusBadRequest, err)
		default:
			h.logger.Error("failed to create player", "error", err)
			h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    player,
	})
}

// GetPlayer returns a player's account state
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")

	player, err := h.service.GetPlayer(r.Context(), playerID)
	if err != nil {
		if domain.IsNotFoundError(err) {
			h.writeError(w, http.StatusNotFound, err)
			return
		}
		h.logger.Error("failed to get player", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, player)
}

// GetPlayerTransactions returns a player's recent ledger records
func (h *Handler) GetPlayerTransactions(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
			return
		}
		limit = parsed
	}

	txs, err := h.service.PlayerTransactions(r.Context(), playerID, limit)
	if err != nil {
		h.logger.Error("failed to list transactions", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, txs)
}

// AdjustBalanceRequest is the payload for an admin balance adjustment
type AdjustBalanceRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

// AdjustBalance applies a signed admin adjustment to a player's balance
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")

	var req AdjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.service.AdjustBalance(r.Context(), playerID, req.Amount, req.Reason); err != nil {
		switch {
		case domain.IsNotFoundError(err):
			h.writeError(w, http.StatusNotFound, err)
		case errors.Is(err, domain.ErrInvalidRequest):
			h.writeError(w, http.StatusBadRequest, err)
		default:
			h.logger.Error("failed to adjust balance", "error", err)
			h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		}
		return
	}

	h.writeSuccess(w, map[string]string{"status": "adjusted"})
}

// ListTemplates returns the available distribution templates
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, domain.TemplateNames())
}

// GetTemplate returns one named distribution template
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	tmpl, err := domain.Template(name)
	if err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return
	}

	h.writeSuccess(w, tmpl)
}
