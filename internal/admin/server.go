// ABOUTME: Admin HTTP API for operating bot sessions at runtime.
// ABOUTME: Serves session stats and start/stop/restart controls behind JWT auth.

package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pennyworth/pennyworth/internal/auth"
	"github.com/pennyworth/pennyworth/internal/bot"
)

// SessionController is the part of the session registry the admin API drives.
type SessionController interface {
	Start(userID string) error
	Stop(userID string) error
	Restart(userID string) error
	Stats() (active int, stats []bot.SessionStat)
}

// Server exposes the admin API over HTTP.
type Server struct {
	controller SessionController
	verifier   auth.TokenVerifier
	logger     *slog.Logger
}

// NewServer creates an admin API server around the session controller.
func NewServer(controller SessionController, verifier auth.TokenVerifier) *Server {
	return &Server{
		controller: controller,
		verifier:   verifier,
		logger:     slog.Default().With("component", "admin"),
	}
}

// Handler builds the chi router with auth applied to every endpoint.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(auth.Middleware(s.verifier))

	r.Get("/api/stats", s.handleStats)
	r.Post("/api/sessions/{userID}/start", s.handleSessionAction("start"))
	r.Post("/api/sessions/{userID}/stop", s.handleSessionAction("stop"))
	r.Post("/api/sessions/{userID}/restart", s.handleSessionAction("restart"))

	return r
}

type statsResponse struct {
	ActiveSessions int               `json:"active_sessions"`
	Sessions       []bot.SessionStat `json:"sessions"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	active, stats := s.controller.Stats()
	sort.Slice(stats, func(i, j int) bool { return stats[i].UserID < stats[j].UserID })
	writeJSON(w, http.StatusOK, statsResponse{ActiveSessions: active, Sessions: stats})
}

func (s *Server) handleSessionAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user id is required")
			return
		}

		var err error
		switch action {
		case "start":
			err = s.controller.Start(userID)
		case "stop":
			err = s.controller.Stop(userID)
		case "restart":
			err = s.controller.Restart(userID)
		}

		if errors.Is(err, bot.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		if err != nil {
			s.logger.Error("session action failed", "action", action, "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "session action failed")
			return
		}

		s.logger.Info("session action applied", "action", action, "user_id", userID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "user_id": userID})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
