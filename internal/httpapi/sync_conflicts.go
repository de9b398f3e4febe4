package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/farmassist/sync-api/internal/auth"
	"github.com/farmassist/sync-api/internal/syncx"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// GetPendingConflicts handles GET /api/v1/sync/conflicts
func (s *Server) GetPendingConflicts(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	conflicts, err := s.Conflicts.PendingConflicts(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("list pending conflicts failed")
		writeError(w, r, http.StatusInternalServerError, "failed to list conflicts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conflicts": conflicts,
		"count":     len(conflicts),
	})
}

// GetAllConflicts handles GET /api/v1/sync/conflicts/all
func (s *Server) GetAllConflicts(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	conflicts, err := s.Conflicts.AllConflicts(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("list conflicts failed")
		writeError(w, r, http.StatusInternalServerError, "failed to list conflicts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conflicts": conflicts,
		"count":     len(conflicts),
	})
}

// AutoResolveAllConflicts handles POST /api/v1/sync/conflicts/auto-resolve-all
func (s *Server) AutoResolveAllConflicts(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	resolved, err := s.Conflicts.AutoResolveAll(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("auto-resolve conflicts failed")
		writeError(w, r, http.StatusInternalServerError, "failed to auto-resolve conflicts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": resolved})
}

// ResolveConflictByTimestamp handles POST /api/v1/sync/conflicts/{conflictID}/resolve/timestamp
func (s *Server) ResolveConflictByTimestamp(w http.ResponseWriter, r *http.Request) {
	conflictID, err := strconv.ParseInt(chi.URLParam(r, "conflictID"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid conflict id")
		return
	}

	c, err := s.Conflicts.ResolveByTimestamp(r.Context(), conflictID)
	if err != nil {
		if errors.Is(err, syncx.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "conflict not found")
			return
		}
		log.Error().Err(err).Int64("conflictId", conflictID).Msg("timestamp resolution failed")
		writeError(w, r, http.StatusInternalServerError, "failed to resolve conflict")
		return
	}
	writeJSON(w, http.StatusOK, syncx.NewConflictDTO(c))
}

// ResolveConflictManually handles POST /api/v1/sync/conflicts/{conflictID}/resolve
// Body: {"resolvedData": "...", "resolvedBy": "...", "resolutionStrategy": "MANUAL"}
func (s *Server) ResolveConflictManually(w http.ResponseWriter, r *http.Request) {
	conflictID, err := strconv.ParseInt(chi.URLParam(r, "conflictID"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid conflict id")
		return
	}

	var req struct {
		ResolvedData string         `json:"resolvedData"`
		ResolvedBy   string         `json:"resolvedBy"`
		Strategy     syncx.Strategy `json:"resolutionStrategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = auth.UserID(r.Context())
	}

	c, err := s.Conflicts.ResolveManually(r.Context(), conflictID, req.ResolvedData, req.ResolvedBy, req.Strategy)
	if err != nil {
		if errors.Is(err, syncx.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "conflict not found")
			return
		}
		log.Error().Err(err).Int64("conflictId", conflictID).Msg("manual resolution failed")
		writeError(w, r, http.StatusInternalServerError, "failed to resolve conflict")
		return
	}
	writeJSON(w, http.StatusOK, syncx.NewConflictDTO(c))
}
