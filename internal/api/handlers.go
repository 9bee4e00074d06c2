package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/journal"
	"github.com/mattjoyce/switchboard/internal/plugin"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

// handleRoot handles GET / (no auth).
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, RootResponse{Status: "online", System: s.config.Name})
}

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:             "ok",
		UptimeSeconds:      int64(time.Since(s.startedAt).Seconds()),
		ActionsLoaded:      s.registry.Len(),
		RegistryGeneration: s.registry.Generation(),
		RegistryLoadedAt:   s.registry.LoadedAt(),
		EventSubscribers:   s.events.Subscribers(),
	})
}

// handleExecute handles POST /execute. Every decoded command gets HTTP 200;
// the outcome lives in the envelope status.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	var cmd protocol.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondJSON(w, http.StatusRequestEntityTooLarge, protocol.Failure("request body too large"))
			return
		}
		respondJSON(w, http.StatusBadRequest, protocol.Failure("invalid JSON body: "+err.Error()))
		return
	}
	if err := cmd.Validate(); err != nil {
		respondJSON(w, http.StatusBadRequest, protocol.Failure(err.Error()))
		return
	}

	res := s.dispatcher.Run(r.Context(), cmd)
	w.Header().Set("X-Dispatch-ID", res.ID)
	respondJSON(w, http.StatusOK, res.Envelope)
}

// handleListActions handles GET /actions.
func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.Entries()
	out := make([]ActionInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, ActionInfo{
			Action:      e.Action,
			Source:      e.Source,
			Origin:      e.Origin,
			Description: e.Description,
		})
	}
	respondJSON(w, http.StatusOK, ActionsResponse{
		Generation: s.registry.Generation(),
		Actions:    out,
	})
}

// handleListPlugins handles GET /plugins with the last load manifest.
func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	manifest := s.registry.Manifest()
	if manifest == nil {
		manifest = &plugin.Manifest{}
	}
	respondJSON(w, http.StatusOK, PluginsResponse{
		Generation: s.registry.Generation(),
		Manifest:   manifest,
	})
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.config.Name, s.registry.Entries()))
}

// handleGetDispatch handles GET /dispatch/{id}.
func (s *Server) handleGetDispatch(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "dispatch journal is disabled")
		return
	}

	entry, err := s.journal.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, journal.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "dispatch not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to read dispatch", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read dispatch")
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// handleListDispatches handles GET /dispatches?limit=&action=&target=&status=.
func (s *Server) handleListDispatches(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "dispatch journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Action: q.Get("action"),
		Target: q.Get("target"),
		Status: q.Get("status"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > journal.MaxRecentLimit {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be an integer between 1 and %d", journal.MaxRecentLimit))
			return
		}
		filter.Limit = n
	}

	entries, err := s.journal.Recent(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list dispatches", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list dispatches")
		return
	}
	if entries == nil {
		entries = []*journal.Entry{}
	}
	respondJSON(w, http.StatusOK, DispatchListResponse{Dispatches: entries})
}

// handleReload handles POST /admin/reload.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	res, err := s.Reload(r.Context())
	switch {
	case errors.Is(err, plugin.ErrReloadUnsupported):
		s.writeError(w, http.StatusNotImplemented, err.Error())
		return
	case errors.Is(err, plugin.ErrEmptyReload):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := ReloadResponse{
		Status:     "reloaded",
		Generation: res.Generation,
		Actions:    res.Actions,
		Added:      nonNil(res.Added),
		Removed:    nonNil(res.Removed),
		Replaced:   nonNil(res.Replaced),
	}
	if res.Manifest != nil {
		resp.Failed = res.Manifest.Count(plugin.OutcomeFailed)
		resp.Conflicts = len(res.Manifest.Conflicts)
	}
	respondJSON(w, http.StatusOK, resp)
}

// Reload rebuilds the registry and announces the outcome on the event hub.
// Both the admin endpoint and SIGHUP go through here.
func (s *Server) Reload(ctx context.Context) (*plugin.ReloadResult, error) {
	res, err := s.registry.Reload(ctx)
	if err != nil {
		s.events.Publish(events.RegistryReloadFailed, map[string]any{
			"generation": s.registry.Generation(),
			"error":      err.Error(),
		})
		return nil, err
	}
	s.events.Publish(events.RegistryReloaded, map[string]any{
		"generation": res.Generation,
		"actions":    res.Actions,
		"added":      nonNil(res.Added),
		"removed":    nonNil(res.Removed),
		"replaced":   nonNil(res.Replaced),
	})
	return res, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// respondJSON writes data as a JSON response with the given status code
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
