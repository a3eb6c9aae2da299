package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/aretw0/gridsession/internal/logging"
	"github.com/aretw0/gridsession/pkg/domain"
	"github.com/aretw0/gridsession/pkg/session"
	"github.com/go-chi/chi/v5"
)

// Admin serves the session administration API.
type Admin struct {
	Repo    *session.Repository
	Streams *StreamManager
	Logger  *slog.Logger
}

// NewAdminRouter creates the administration router:
//
//	GET    /healthz
//	GET    /sessions               IDs of all stored sessions
//	GET    /sessions?principal=p   sessions of a principal
//	GET    /sessions/{id}
//	DELETE /sessions/{id}
//	GET    /events[?session_id=]   server-sent session events
//
// streams may be nil, in which case /events is not served. It only receives
// events when registered as a publisher of a started repository.
func NewAdminRouter(repo *session.Repository, streams *StreamManager, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	a := &Admin{Repo: repo, Streams: streams, Logger: logger}

	r := chi.NewRouter()
	r.Get("/healthz", a.GetHealth)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", a.ListSessions)
		r.Get("/{id}", a.GetSession)
		r.Delete("/{id}", a.DeleteSession)
	})
	if streams != nil {
		r.Get("/events", a.SubscribeEvents)
	}
	return r
}

// GetHealth handles the GET /healthz request.
func (a *Admin) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":              "ok",
		"server_side_updates": a.Repo.ServerSideUpdatesEnabled(),
	}
	writeJSON(w, http.StatusOK, status, a.Logger)
}

// ListSessions handles the GET /sessions request.
func (a *Admin) ListSessions(w http.ResponseWriter, r *http.Request) {
	principal := r.URL.Query().Get("principal")
	if principal == "" {
		ids, err := a.Repo.Store().List(r.Context())
		if err != nil {
			a.fail(w, "List sessions failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ids": ids}, a.Logger)
		return
	}

	found, err := a.Repo.FindByPrincipalName(r.Context(), principal)
	if err != nil {
		a.fail(w, "Find sessions failed", err)
		return
	}
	snaps := make([]*session.Snapshot, 0, len(found))
	for _, s := range found {
		snap, err := s.Snapshot()
		if err != nil {
			a.fail(w, "Decode session failed", err)
			return
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	writeJSON(w, http.StatusOK, snaps, a.Logger)
}

// GetSession handles the GET /sessions/{id} request.
func (a *Admin) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := a.Repo.FindByID(r.Context(), id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.fail(w, "Load session failed", err)
		return
	}
	snap, err := s.Snapshot()
	if err != nil {
		a.fail(w, "Decode session failed", err)
		return
	}
	writeJSON(w, http.StatusOK, snap, a.Logger)
}

// DeleteSession handles the DELETE /sessions/{id} request.
func (a *Admin) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.Repo.DeleteByID(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, "Delete session failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubscribeEvents handles the GET /events request (SSE).
func (a *Admin) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		a.Logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	ch, cancel := a.Streams.Subscribe(sessionID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	a.Logger.Info("SSE: Subscribing to session events", "session_id", sessionID)
	if _, err := fmt.Fprintf(w, "event: ping\ndata: connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			a.Logger.Info("SSE Client Disconnected")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				a.Logger.Info("SSE Client Disconnected", "err", err)
				return
			}
			flusher.Flush()
		}
	}
}

func (a *Admin) fail(w http.ResponseWriter, msg string, err error) {
	a.Logger.Error(msg, "err", err)
	http.Error(w, fmt.Sprintf("%s: %v", msg, err), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Response encode failed", "err", err)
	}
}
