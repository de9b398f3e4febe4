package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/farmassist/sync-api/internal/auth"
	"github.com/farmassist/sync-api/internal/syncx"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// queueItemResponse is the wire representation of a queue item.
type queueItemResponse struct {
	QueueID         int64            `json:"queueId"`
	UserID          string           `json:"userId"`
	EntityType      string           `json:"entityType"`
	OperationType   syncx.Operation  `json:"operationType"`
	EntityID        string           `json:"entityId,omitempty"`
	Status          syncx.ItemStatus `json:"status"`
	RetryCount      int              `json:"retryCount"`
	ErrorMessage    string           `json:"errorMessage,omitempty"`
	Priority        int              `json:"priority"`
	ClientTimestamp time.Time        `json:"clientTimestamp"`
	CreatedAt       time.Time        `json:"createdAt"`
	ProcessedAt     *time.Time       `json:"processedAt,omitempty"`
}

func mapQueueItem(item *syncx.QueueItem) queueItemResponse {
	return queueItemResponse{
		QueueID:         item.ID,
		UserID:          item.UserID,
		EntityType:      item.EntityType,
		OperationType:   item.Operation,
		EntityID:        item.EntityID,
		Status:          item.Status,
		RetryCount:      item.RetryCount,
		ErrorMessage:    item.LastError,
		Priority:        item.Priority,
		ClientTimestamp: item.ClientTimestamp,
		CreatedAt:       item.CreatedAt,
		ProcessedAt:     item.ProcessedAt,
	}
}

func validOperation(op syncx.Operation) bool {
	switch op {
	case syncx.OpCreate, syncx.OpUpdate, syncx.OpDelete:
		return true
	}
	return false
}

// EnqueueItem handles POST /api/v1/sync/queue
func (s *Server) EnqueueItem(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req syncx.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.EntityType == "" {
		writeError(w, r, http.StatusBadRequest, "entityType is required")
		return
	}
	if !validOperation(req.Operation) {
		writeError(w, r, http.StatusBadRequest, "operationType must be CREATE, UPDATE or DELETE")
		return
	}

	item, err := s.Queue.Enqueue(r.Context(), userID, req)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("enqueue failed")
		writeError(w, r, http.StatusInternalServerError, "failed to queue sync request")
		return
	}

	writeJSON(w, http.StatusCreated, mapQueueItem(item))
}

// GetPendingItems handles GET /api/v1/sync/queue
func (s *Server) GetPendingItems(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	items, err := s.Queue.PendingItems(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("list pending items failed")
		writeError(w, r, http.StatusInternalServerError, "failed to list pending items")
		return
	}

	out := make([]queueItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, mapQueueItem(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": out,
		"count": len(out),
	})
}

// ClearCompletedItems handles DELETE /api/v1/sync/queue
func (s *Server) ClearCompletedItems(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	n, err := s.Queue.ClearCompleted(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("clear completed items failed")
		writeError(w, r, http.StatusInternalServerError, "failed to clear completed items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}

// CancelPendingItems handles POST /api/v1/sync/queue/cancel
func (s *Server) CancelPendingItems(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	n, err := s.Queue.CancelPending(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("cancel pending items failed")
		writeError(w, r, http.StatusInternalServerError, "failed to cancel pending items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": n})
}

// DeleteQueueItem handles DELETE /api/v1/sync/queue/{itemID}
func (s *Server) DeleteQueueItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid item id")
		return
	}

	if err := s.Queue.Delete(r.Context(), itemID); err != nil {
		if errors.Is(err, syncx.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "queue item not found")
			return
		}
		log.Error().Err(err).Int64("itemId", itemID).Msg("delete queue item failed")
		writeError(w, r, http.StatusInternalServerError, "failed to delete queue item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
