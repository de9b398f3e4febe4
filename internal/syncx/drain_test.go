package syncx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type applierFunc func(ctx context.Context, item *QueueItem) error

func (f applierFunc) Apply(ctx context.Context, item *QueueItem) error {
	return f(ctx, item)
}

func TestProcessPendingEmptyQueue(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := NewProcessor(f.queue, f.status, applierFunc(func(ctx context.Context, item *QueueItem) error {
		t.Fatal("applier must not be called for an empty queue")
		return nil
	}))

	progress, err := p.ProcessPending(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Equal(t, DrainNoPendingItems, progress.Status)
	assert.Equal(t, 100, progress.ProgressPercent)

	st, err := f.status.GetOrCreate(ctx, "farmer-1")
	require.NoError(t, err)
	require.NotNil(t, st.LastSyncAt, "an empty drain still records a successful sync")
}

func TestProcessPendingAllSucceed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		enqueue(t, f, "farmer-1", EnqueueRequest{EntityType: "crop", Operation: OpCreate, Payload: `{}`})
		f.clock.Advance(time.Second)
	}

	var applied []int64
	p := NewProcessor(f.queue, f.status, applierFunc(func(ctx context.Context, item *QueueItem) error {
		applied = append(applied, item.ID)
		return nil
	}))

	progress, err := p.ProcessPending(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Equal(t, DrainCompleted, progress.Status)
	assert.Equal(t, 3, progress.TotalItems)
	assert.Equal(t, 3, progress.ProcessedItems)
	assert.Equal(t, 100, progress.ProgressPercent)
	assert.Equal(t, []int64{1, 2, 3}, applied, "items applied in queue order")

	st, err := f.status.GetOrCreate(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, st.State)
	assert.Zero(t, st.PendingChanges)
}

func TestProcessPendingTransientFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ok := enqueue(t, f, "farmer-1", EnqueueRequest{EntityType: "crop", Operation: OpCreate, Payload: `{}`})
	f.clock.Advance(time.Second)
	bad := enqueue(t, f, "farmer-1", EnqueueRequest{EntityType: "crop", Operation: OpUpdate, EntityID: "c1", Payload: `{}`})

	p := NewProcessor(f.queue, f.status, applierFunc(func(ctx context.Context, item *QueueItem) error {
		if item.ID == bad.ID {
			return errors.New("upstream timeout")
		}
		return nil
	}))

	progress, err := p.ProcessPending(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Equal(t, DrainPartial, progress.Status)
	assert.Equal(t, 1, progress.ProcessedItems)
	assert.Equal(t, 1, progress.FailedItems)

	okItem, err := f.queueRepo.GetByID(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, ItemCompleted, okItem.Status)

	// The failed item went back to PENDING behind its backoff window.
	badItem, err := f.queueRepo.GetByID(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, ItemPending, badItem.Status)
	assert.Equal(t, 1, badItem.RetryCount)
	require.NotNil(t, badItem.NotBefore)
	assert.True(t, badItem.NotBefore.After(f.clock.Now()))
}

func TestProcessPendingTerminalFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.queue.SetRetryPolicy(1, time.Second)

	enqueue(t, f, "farmer-1", EnqueueRequest{EntityType: "crop", Operation: OpCreate, Payload: `{}`})

	p := NewProcessor(f.queue, f.status, applierFunc(func(ctx context.Context, item *QueueItem) error {
		return errors.New("validation rejected")
	}))

	progress, err := p.ProcessPending(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Equal(t, DrainPartial, progress.Status)
	assert.Equal(t, 1, progress.FailedItems)
	assert.Equal(t, 100, progress.ProgressPercent, "terminal failures count toward completion")

	st, err := f.status.GetOrCreate(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Equal(t, StateError, st.State)
}

func TestProcessPendingConflict(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	remoteTS := f.clock.Now().Add(-time.Hour)
	enqueue(t, f, "farmer-1", EnqueueRequest{EntityType: "crop", Operation: OpUpdate, EntityID: "c1", Payload: `{"v":2}`})

	p := NewProcessor(f.queue, f.status, applierFunc(func(ctx context.Context, item *QueueItem) error {
		return &ConflictError{
			RemoteData:      `{"v":1}`,
			RemoteTimestamp: remoteTS,
			RemoteDeviceID:  "device-2",
		}
	}))

	progress, err := p.ProcessPending(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Equal(t, DrainCompleted, progress.Status, "conflicts do not fail the cycle")
	assert.Equal(t, 1, progress.ConflictItems)
	assert.Zero(t, progress.FailedItems)

	conflicts, err := f.conflicts.PendingConflicts(ctx, "farmer-1")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, `{"v":2}`, conflicts[0].LocalData)
	assert.Equal(t, `{"v":1}`, conflicts[0].RemoteData)
	assert.Equal(t, "local", conflicts[0].SuggestedResolution)
}

func TestProcessPendingClearsOfflineFlag(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	enqueue(t, f, "farmer-1", EnqueueRequest{EntityType: "crop", Operation: OpCreate, Payload: `{}`})

	_, err := f.offline.UpdateConnectivityState(ctx, "farmer-1", false)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.offline.UpdateConnectivityState(ctx, "farmer-1", true)
	require.NoError(t, err)

	p := NewProcessor(f.queue, f.status, applierFunc(func(ctx context.Context, item *QueueItem) error {
		return nil
	}))

	progress, err := p.ProcessPending(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Equal(t, DrainCompleted, progress.Status)

	// The drain after a reconnect leaves the user fully online again.
	st, err := f.status.GetOrCreate(ctx, "farmer-1")
	require.NoError(t, err)
	assert.False(t, st.IsOffline)
	assert.Nil(t, st.OfflineSince)
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, "All data is synced.", StatusMessage(st))
}

func TestProcessPendingEmptyQueueClearsOfflineFlag(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.offline.UpdateConnectivityState(ctx, "farmer-1", false)
	require.NoError(t, err)
	_, err = f.offline.UpdateConnectivityState(ctx, "farmer-1", true)
	require.NoError(t, err)

	p := NewProcessor(f.queue, f.status, applierFunc(func(ctx context.Context, item *QueueItem) error {
		return nil
	}))

	progress, err := p.ProcessPending(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Equal(t, DrainNoPendingItems, progress.Status)

	st, err := f.status.GetOrCreate(ctx, "farmer-1")
	require.NoError(t, err)
	assert.False(t, st.IsOffline)
	assert.Nil(t, st.OfflineSince)
}

func TestProcessPendingContextCancelled(t *testing.T) {
	f := newFixture()

	enqueue(t, f, "farmer-1", EnqueueRequest{EntityType: "crop", Operation: OpCreate, Payload: `{}`})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProcessor(f.queue, f.status, applierFunc(func(ctx context.Context, item *QueueItem) error {
		return nil
	}))

	_, err := p.ProcessPending(ctx, "farmer-1")
	assert.ErrorIs(t, err, context.Canceled)
}
