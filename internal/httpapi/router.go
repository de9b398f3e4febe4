package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/farmassist/sync-api/internal/auth"
	"github.com/farmassist/sync-api/internal/syncx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Server holds dependencies for HTTP handlers
type Server struct {
	Queue     *syncx.QueueService
	Conflicts *syncx.ConflictService
	Status    *syncx.StatusService
	Offline   *syncx.OfflineDetector
	Processor *syncx.Processor

	RateLimitConfig RateLimitInfo
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"error":         msg,
		"correlationId": GetCorrelationID(r.Context()),
	})
}

// Routes creates the HTTP router with all sync endpoints
func (s *Server) Routes(jwtCfg auth.JWTCfg) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorrelationMiddleware)

	// Health check (unauthenticated)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})

	// All sync endpoints require authentication
	r.Route("/api/v1/sync", func(r chi.Router) {
		r.Use(auth.Middleware(jwtCfg))
		r.Use(RateLimitMiddleware(s.RateLimitConfig))

		// Queue
		r.Post("/queue", s.EnqueueItem)
		r.Get("/queue", s.GetPendingItems)
		r.Delete("/queue", s.ClearCompletedItems)
		r.Post("/queue/cancel", s.CancelPendingItems)
		r.Delete("/queue/{itemID}", s.DeleteQueueItem)

		// Status and connectivity
		r.Get("/status", s.GetSyncStatus)
		r.Post("/offline", s.EnterOfflineMode)
		r.Post("/online", s.ExitOfflineMode)
		r.Post("/connectivity", s.UpdateConnectivity)
		r.Post("/trigger", s.TriggerSync)
		r.Put("/device", s.UpdateDeviceInfo)

		// Conflicts
		r.Get("/conflicts", s.GetPendingConflicts)
		r.Get("/conflicts/all", s.GetAllConflicts)
		r.Post("/conflicts/auto-resolve-all", s.AutoResolveAllConflicts)
		r.Post("/conflicts/{conflictID}/resolve/timestamp", s.ResolveConflictByTimestamp)
		r.Post("/conflicts/{conflictID}/resolve", s.ResolveConflictManually)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
