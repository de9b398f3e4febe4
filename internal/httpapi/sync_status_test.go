package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/farmassist/sync-api/internal/syncx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusResponse struct {
	UserID                 string `json:"userId"`
	PendingChanges         int    `json:"pendingChanges"`
	SyncState              string `json:"syncState"`
	IsOffline              bool   `json:"isOffline"`
	OfflineDurationSeconds *int64 `json:"offlineDurationSeconds"`
	StatusMessage          string `json:"statusMessage"`
}

func TestGetSyncStatusNewUser(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doAs(t, "farmer-1", "GET", "/api/v1/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "farmer-1", resp.UserID)
	assert.Equal(t, "IDLE", resp.SyncState)
	assert.False(t, resp.IsOffline)
	assert.Equal(t, "All data is synced.", resp.StatusMessage)
}

func TestGetSyncStatusWithPendingChanges(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doAs(t, "farmer-1", "POST", "/api/v1/sync/queue",
		`{"entityType":"crop","operationType":"CREATE","payload":"{}"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.doAs(t, "farmer-1", "GET", "/api/v1/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.PendingChanges)
	assert.Equal(t, "PENDING_SYNC", resp.SyncState)
	assert.Equal(t, "1 changes pending sync.", resp.StatusMessage)
}

func TestOfflineAndOnlineEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doAs(t, "farmer-1", "POST", "/api/v1/sync/offline", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsOffline)
	assert.Equal(t, "OFFLINE", resp.SyncState)
	require.NotNil(t, resp.OfflineDurationSeconds)
	assert.Equal(t, "You are offline. Changes will sync when you're back online.", resp.StatusMessage)

	rec = env.doAs(t, "farmer-1", "POST", "/api/v1/sync/online", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp = statusResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.IsOffline)
	assert.Equal(t, "SYNCING", resp.SyncState)
	assert.Nil(t, resp.OfflineDurationSeconds)
}

func TestUpdateConnectivity(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doAs(t, "farmer-1", "POST", "/api/v1/sync/connectivity", `{"isConnected":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsOffline)
	assert.Equal(t, "OFFLINE", resp.SyncState)

	// Reconnect flips state to SYNCING but keeps the offline flag until the
	// drain clears it.
	rec = env.doAs(t, "farmer-1", "POST", "/api/v1/sync/connectivity", `{"isConnected":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsOffline)
	assert.Equal(t, "SYNCING", resp.SyncState)
}

func TestUpdateConnectivityValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doAs(t, "farmer-1", "POST", "/api/v1/sync/connectivity", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.doAs(t, "farmer-1", "POST", "/api/v1/sync/connectivity", `{"isConnected":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerSyncWithoutProcessor(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doAs(t, "farmer-1", "POST", "/api/v1/sync/trigger", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "farmer-1", resp.UserID)
}

type stubApplier struct {
	err error
}

func (a *stubApplier) Apply(ctx context.Context, item *syncx.QueueItem) error {
	return a.err
}

func TestTriggerSyncDrainsQueue(t *testing.T) {
	env := newTestEnv(t)
	env.server.Processor = syncx.NewProcessor(env.queue, env.status, &stubApplier{})

	ctx := context.Background()
	_, err := env.queue.Enqueue(ctx, "farmer-1", enqueueBody("crop"))
	require.NoError(t, err)
	_, err = env.queue.Enqueue(ctx, "farmer-1", enqueueBody("fertilizer"))
	require.NoError(t, err)

	rec := env.doAs(t, "farmer-1", "POST", "/api/v1/sync/trigger", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var progress syncx.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &progress))
	assert.Equal(t, syncx.DrainCompleted, progress.Status)
	assert.Equal(t, 2, progress.ProcessedItems)
	assert.Equal(t, 100, progress.ProgressPercent)
}

func TestTriggerSyncAfterReconnectReportsOnline(t *testing.T) {
	env := newTestEnv(t)
	env.server.Processor = syncx.NewProcessor(env.queue, env.status, &stubApplier{})

	_, err := env.queue.Enqueue(context.Background(), "farmer-1", enqueueBody("crop"))
	require.NoError(t, err)

	rec := env.doAs(t, "farmer-1", "POST", "/api/v1/sync/connectivity", `{"isConnected":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.doAs(t, "farmer-1", "POST", "/api/v1/sync/connectivity", `{"isConnected":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.doAs(t, "farmer-1", "POST", "/api/v1/sync/trigger", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// After the drain the status no longer carries any offline residue.
	rec = env.doAs(t, "farmer-1", "GET", "/api/v1/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.IsOffline)
	assert.Equal(t, string(syncx.StateIdle), resp.SyncState)
	assert.Equal(t, "All data is synced.", resp.StatusMessage)
}

func TestTriggerSyncReportsFailure(t *testing.T) {
	env := newTestEnv(t)
	env.server.Processor = syncx.NewProcessor(env.queue, env.status, &stubApplier{err: errors.New("upstream down")})

	_, err := env.queue.Enqueue(context.Background(), "farmer-1", enqueueBody("crop"))
	require.NoError(t, err)

	rec := env.doAs(t, "farmer-1", "POST", "/api/v1/sync/trigger", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var progress syncx.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &progress))
	assert.Equal(t, syncx.DrainPartial, progress.Status)
	assert.Equal(t, 1, progress.FailedItems)
}

func TestUpdateDeviceInfo(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doAs(t, "farmer-1", "PUT", "/api/v1/sync/device",
		`{"deviceId":"device-9","appVersion":"2.4.1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deviceId":"device-9"}`, rec.Body.String())

	st, err := env.status.GetOrCreate(context.Background(), "farmer-1")
	require.NoError(t, err)
	assert.Equal(t, "device-9", st.DeviceID)
	assert.Equal(t, "2.4.1", st.AppVersion)
}

func TestUpdateDeviceInfoGeneratesID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doAs(t, "farmer-1", "PUT", "/api/v1/sync/device", `{"appVersion":"2.4.1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		DeviceID string `json:"deviceId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.DeviceID, "a device id is assigned when the client sends none")
}

func TestHealthzUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doAs(t, "", "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
