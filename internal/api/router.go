// Package api - Router setup
package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRouter creates and configures the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(NotFoundHandler)

	// Apply global middleware
	r.Use(h.RecoveryMiddleware)
	r.Use(CORSMiddleware)
	r.Use(h.LoggingMiddleware)

	// Public routes
	r.HandleFunc("/", h.ServerInfo).Methods("GET")
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods("GET")
	}

	// API v1 routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Sessions
	api.HandleFunc("/sessions", h.StartSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}/state", h.UpdateSessionState).Methods("PUT")
	api.HandleFunc("/sessions/{id}/complete", h.CompleteSession).Methods("POST")
	api.HandleFunc("/sessions/{id}/abandon", h.AbandonSession).Methods("POST")
	api.HandleFunc("/sessions/{id}/actions", h.PlayAction).Methods("POST")
	api.HandleFunc("/sessions/{id}/challenge", h.NextChallenge).Methods("GET")

	// Users
	api.HandleFunc("/users/{id}", h.GetUser).Methods("GET")
	api.HandleFunc("/users/{id}/sessions", h.ListUserSessions).Methods("GET")
	api.HandleFunc("/users/{id}/achievements", h.GetUserAchievements).Methods("GET")
	api.HandleFunc("/users/{id}/xp", h.ListXPTransactions).Methods("GET")
	api.HandleFunc("/users/{id}/xp", h.AwardXP).Methods("POST")
	api.HandleFunc("/users/{id}/games/{game_id}/session", h.GetActiveSession).Methods("GET")
	api.HandleFunc("/users/{id}/games/{game_id}/stats", h.GetUserGameStats).Methods("GET")

	// Leaderboards
	api.HandleFunc("/leaderboards/{id}", h.GetLeaderboard).Methods("GET")
	api.HandleFunc("/leaderboards/{id}/users/{user_id}", h.GetUserRank).Methods("GET")

	return r
}

// NotFoundHandler handles 404 errors
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}
