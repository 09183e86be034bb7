package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/WessleyAI/carwatch/engine/domain"
	"github.com/WessleyAI/carwatch/engine/rules"
	"github.com/WessleyAI/carwatch/engine/watch"
	"github.com/WessleyAI/carwatch/pkg/metrics"
	"github.com/WessleyAI/carwatch/pkg/mid"
	"github.com/WessleyAI/carwatch/pkg/notify"
	"github.com/WessleyAI/carwatch/pkg/repo"
)

const (
	defaultListingLimit = 20
	maxListingLimit     = 200
)

// server is the HTTP control surface of a running watcher.
type server struct {
	watcher  *watch.Watcher
	store    repo.ListingStore
	rules    *rules.Engine
	hub      *notify.Hub
	registry *metrics.Registry
	log      *slog.Logger
}

func (s *server) routes(corsOrigin string) http.Handler {
	r := chi.NewRouter()
	r.Use(
		mid.RequestID,
		mid.Recover(s.log),
		mid.Logger(s.log, "/api/health", "/metrics"),
		mid.CORS(corsOrigin),
		mid.OTel(serviceName),
	)

	r.Get("/api/health", handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/listings", s.handleListings)
	r.Get("/api/stats", s.handleStats)
	r.Post("/api/commands", s.handleCommand)
	r.Put("/api/thresholds/high", s.handleHighThreshold)
	r.Method(http.MethodGet, "/metrics", s.registry.Handler())
	r.Method(http.MethodGet, "/ws/listings", s.hub)
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// errorStatus maps command and validation failures onto HTTP codes.
func errorStatus(err error) int {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownCommand):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.watcher.Status(r.Context())
	if err != nil {
		s.log.Error("status failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) handleListings(w http.ResponseWriter, r *http.Request) {
	limit := defaultListingLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListingLimit)
	}
	recs, err := s.store.Last(r.Context(), limit)
	if err != nil {
		s.log.Error("listings failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if recs == nil {
		recs = []repo.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.watcher.Stats(r.Context())
	if err != nil {
		s.log.Error("stats failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// CommandRequest is the JSON body for POST /api/commands. Either Line
// ("/sethighscore 18") or Name with Args is accepted.
type CommandRequest struct {
	Line string   `json:"line,omitempty"`
	Name string   `json:"name,omitempty"`
	Args []string `json:"args,omitempty"`
}

func (s *server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cmd := watch.Command{Name: req.Name, Args: req.Args}
	if req.Line != "" {
		cmd = watch.ParseCommand(req.Line)
	}
	if cmd.Name == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	reply, err := s.watcher.Handle(r.Context(), cmd)
	if err != nil {
		code := errorStatus(err)
		if code == http.StatusInternalServerError {
			s.log.Error("command failed", "command", cmd.Name, "err", err)
		}
		reply.Error = err.Error()
		writeJSON(w, code, reply)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// ThresholdRequest is the JSON body for PUT /api/thresholds/high.
type ThresholdRequest struct {
	Value *int `json:"value"`
}

func (s *server) handleHighThreshold(w http.ResponseWriter, r *http.Request) {
	var req ThresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	if err := s.watcher.SetHighThreshold(r.Context(), *req.Value); err != nil {
		code := errorStatus(err)
		if code == http.StatusInternalServerError {
			s.log.Error("threshold update failed", "err", err)
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.rules.Thresholds())
}
