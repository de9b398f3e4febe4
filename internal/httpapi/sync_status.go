package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/farmassist/sync-api/internal/auth"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// GetSyncStatus handles GET /api/v1/sync/status
func (s *Server) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	dto, err := s.Status.StatusDTO(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("load sync status failed")
		writeError(w, r, http.StatusInternalServerError, "failed to load sync status")
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// EnterOfflineMode handles POST /api/v1/sync/offline
func (s *Server) EnterOfflineMode(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	if err := s.Status.EnterOffline(r.Context(), userID); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("enter offline mode failed")
		writeError(w, r, http.StatusInternalServerError, "failed to enter offline mode")
		return
	}
	s.respondStatus(w, r, userID)
}

// ExitOfflineMode handles POST /api/v1/sync/online
func (s *Server) ExitOfflineMode(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	if err := s.Status.ExitOffline(r.Context(), userID); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("exit offline mode failed")
		writeError(w, r, http.StatusInternalServerError, "failed to exit offline mode")
		return
	}
	s.respondStatus(w, r, userID)
}

// UpdateConnectivity handles POST /api/v1/sync/connectivity
// Body: {"isConnected": true|false}
func (s *Server) UpdateConnectivity(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req struct {
		IsConnected *bool `json:"isConnected"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsConnected == nil {
		writeError(w, r, http.StatusBadRequest, "isConnected is required")
		return
	}

	if _, err := s.Offline.UpdateConnectivityState(r.Context(), userID, *req.IsConnected); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("update connectivity failed")
		writeError(w, r, http.StatusInternalServerError, "failed to update connectivity state")
		return
	}
	s.respondStatus(w, r, userID)
}

// TriggerSync handles POST /api/v1/sync/trigger
// Drains the user's queue when an applier is wired; otherwise reports the
// current status so clients on a queue-only deployment still get an answer.
func (s *Server) TriggerSync(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	if s.Processor == nil {
		s.respondStatus(w, r, userID)
		return
	}

	progress, err := s.Processor.ProcessPending(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("sync drain failed")
		writeError(w, r, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// UpdateDeviceInfo handles PUT /api/v1/sync/device
// Body: {"deviceId": "...", "appVersion": "..."}
func (s *Server) UpdateDeviceInfo(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req struct {
		DeviceID   string `json:"deviceId"`
		AppVersion string `json:"appVersion"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = uuid.New().String()
	}

	if err := s.Status.UpdateDeviceInfo(r.Context(), userID, req.DeviceID, req.AppVersion); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("update device info failed")
		writeError(w, r, http.StatusInternalServerError, "failed to update device info")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deviceId": req.DeviceID})
}

// respondStatus writes the caller's current status DTO.
func (s *Server) respondStatus(w http.ResponseWriter, r *http.Request, userID string) {
	dto, err := s.Status.StatusDTO(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("load sync status failed")
		writeError(w, r, http.StatusInternalServerError, "failed to load sync status")
		return
	}
	writeJSON(w, http.StatusOK, dto)
}
