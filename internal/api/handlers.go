// Package api provides the HTTP adapter of the progression engine
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/alexbotov/progression/internal/domain"
	"github.com/alexbotov/progression/internal/progression"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Version is reported by ServerInfo
const Version = "1.0.0"

// Pinger reports whether the database answers
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler contains all HTTP handlers
type Handler struct {
	engine  *progression.Engine
	db      Pinger
	log     logrus.FieldLogger
	metrics http.Handler
}

// New creates a new API handler. metrics may be nil to disable /metrics.
func New(engine *progression.Engine, db Pinger, log logrus.FieldLogger, metrics http.Handler) *Handler {
	return &Handler{
		engine:  engine,
		db:      db,
		log:     log,
		metrics: metrics,
	}
}

// Response helpers

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}

// respondErr maps an engine error kind to its status code
func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		respondError(w, http.StatusConflict, "INVALID_STATE", err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	default:
		h.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func queryString(r *http.Request, key string) *string {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	return &v
}

// === Health & Info ===

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		h.log.WithError(err).Warn("health check failed")
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "unhealthy",
			"database": "unreachable",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"database": "ok",
	})
}

// ServerInfo handles GET /
func (h *Handler) ServerInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "progression",
		"version":     Version,
		"description": "Game progression engine",
	})
}

// === Sessions ===

// StartSession handles POST /api/v1/sessions
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GameID       string         `json:"game_id"`
		UserID       string         `json:"user_id"`
		InitialState domain.JSONMap `json:"initial_state"`
	}
	if !decode(w, r, &req) {
		return
	}

	session, err := h.engine.StartSession(r.Context(), req.GameID, req.UserID, req.InitialState)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, session)
}

// GetSession handles GET /api/v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// UpdateSessionState handles PUT /api/v1/sessions/{id}/state
func (h *Handler) UpdateSessionState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State domain.JSONMap `json:"state"`
	}
	if !decode(w, r, &req) {
		return
	}

	session, err := h.engine.UpdateSessionState(r.Context(), mux.Vars(r)["id"], req.State)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// CompleteSession handles POST /api/v1/sessions/{id}/complete
func (h *Handler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Score      *int64         `json:"score"`
		FinalStats domain.JSONMap `json:"final_stats"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Score == nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "score is required")
		return
	}

	result, err := h.engine.CompleteSession(r.Context(), mux.Vars(r)["id"], *req.Score, req.FinalStats)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// AbandonSession handles POST /api/v1/sessions/{id}/abandon
func (h *Handler) AbandonSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.AbandonSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// PlayAction handles POST /api/v1/sessions/{id}/actions
func (h *Handler) PlayAction(w http.ResponseWriter, r *http.Request) {
	var action domain.JSONMap
	if !decode(w, r, &action) {
		return
	}

	result, err := h.engine.PlayAction(r.Context(), mux.Vars(r)["id"], action)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// NextChallenge handles GET /api/v1/sessions/{id}/challenge
func (h *Handler) NextChallenge(w http.ResponseWriter, r *http.Request) {
	challenge, err := h.engine.NextChallenge(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"challenge": challenge})
}

// === Users ===

// GetUser handles GET /api/v1/users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.engine.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// ListUserSessions handles GET /api/v1/users/{id}/sessions
func (h *Handler) ListUserSessions(w http.ResponseWriter, r *http.Request) {
	var status *domain.SessionStatus
	if s := queryString(r, "status"); s != nil {
		st := domain.SessionStatus(*s)
		status = &st
	}

	sessions, err := h.engine.ListUserSessions(r.Context(), mux.Vars(r)["id"], queryString(r, "game_id"), status, queryInt(r, "limit"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sessions)
}

// GetActiveSession handles GET /api/v1/users/{id}/games/{game_id}/session
func (h *Handler) GetActiveSession(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	session, err := h.engine.GetActiveSession(r.Context(), vars["id"], vars["game_id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if session == nil {
		respondError(w, http.StatusNotFound, "NO_ACTIVE_SESSION", "No active session")
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// GetUserGameStats handles GET /api/v1/users/{id}/games/{game_id}/stats
func (h *Handler) GetUserGameStats(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	stats, err := h.engine.GetUserGameStats(r.Context(), vars["id"], vars["game_id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// GetUserAchievements handles GET /api/v1/users/{id}/achievements
func (h *Handler) GetUserAchievements(w http.ResponseWriter, r *http.Request) {
	unlockedOnly, _ := strconv.ParseBool(r.URL.Query().Get("unlocked_only"))

	views, err := h.engine.GetUserAchievements(r.Context(), mux.Vars(r)["id"], queryString(r, "game_id"), unlockedOnly)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, views)
}

// ListXPTransactions handles GET /api/v1/users/{id}/xp
func (h *Handler) ListXPTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.engine.ListXPTransactions(r.Context(), mux.Vars(r)["id"], queryInt(r, "limit"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, txns)
}

// AwardXP handles POST /api/v1/users/{id}/xp
func (h *Handler) AwardXP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64                    `json:"amount"`
		Type   domain.XPTransactionType `json:"type"`
		Meta   domain.JSONMap           `json:"meta"`
	}
	if !decode(w, r, &req) {
		return
	}

	result, err := h.engine.AwardXP(r.Context(), mux.Vars(r)["id"], req.Amount, req.Type, req.Meta)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// === Leaderboards ===

// GetLeaderboard handles GET /api/v1/leaderboards/{id}
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.GetLeaderboard(r.Context(), mux.Vars(r)["id"], queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// GetUserRank handles GET /api/v1/leaderboards/{id}/users/{user_id}
func (h *Handler) GetUserRank(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entry, err := h.engine.GetUserRank(r.Context(), vars["id"], vars["user_id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if entry == nil {
		respondError(w, http.StatusNotFound, "NOT_RANKED", "User has no entry in the current period")
		return
	}
	respondJSON(w, http.StatusOK, entry)
}
