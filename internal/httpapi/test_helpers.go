package httpapi

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/farmassist/sync-api/internal/auth"
	"github.com/farmassist/sync-api/internal/syncx"
)

// testEnv bundles the in-memory service graph behind a ready-to-serve router.
type testEnv struct {
	server  *Server
	handler http.Handler

	queueRepo    *syncx.MemoryQueueRepository
	conflictRepo *syncx.MemoryConflictRepository
	statusRepo   *syncx.MemoryStatusRepository

	queue     *syncx.QueueService
	conflicts *syncx.ConflictService
	status    *syncx.StatusService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	queueRepo := syncx.NewMemoryQueueRepository()
	conflictRepo := syncx.NewMemoryConflictRepository()
	statusRepo := syncx.NewMemoryStatusRepository()

	status := syncx.NewStatusService(statusRepo, queueRepo)
	conflicts := syncx.NewConflictService(conflictRepo)
	queue := syncx.NewQueueService(queueRepo, status, conflicts)
	offline := syncx.NewOfflineDetector(statusRepo)

	srv := &Server{
		Queue:           queue,
		Conflicts:       conflicts,
		Status:          status,
		Offline:         offline,
		RateLimitConfig: DefaultRateLimitConfig,
	}

	return &testEnv{
		server:       srv,
		handler:      srv.Routes(auth.JWTCfg{HS256Secret: "test-secret", DevMode: true}),
		queueRepo:    queueRepo,
		conflictRepo: conflictRepo,
		statusRepo:   statusRepo,
		queue:        queue,
		conflicts:    conflicts,
		status:       status,
	}
}

// enqueueBody builds a minimal valid enqueue request for seeding tests.
func enqueueBody(entityType string) syncx.EnqueueRequest {
	return syncx.EnqueueRequest{
		EntityType: entityType,
		Operation:  syncx.OpCreate,
		Payload:    "{}",
	}
}

// doAs performs a request authenticated as the given user via the dev header.
func (e *testEnv) doAs(t *testing.T, user, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if user != "" {
		req.Header.Set("X-Debug-Sub", user)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}
