package syncx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enqueue(t *testing.T, f *fixture, userID string, req EnqueueRequest) *QueueItem {
	t.Helper()
	item, err := f.queue.Enqueue(context.Background(), userID, req)
	require.NoError(t, err)
	return item
}

func TestEnqueueDefaults(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	item := enqueue(t, f, "farmer-1", EnqueueRequest{
		EntityType: "crop",
		Operation:  OpCreate,
		Payload:    `{"name":"wheat"}`,
	})

	assert.Equal(t, ItemPending, item.Status)
	assert.Equal(t, f.clock.Now(), item.ClientTimestamp, "zero client timestamp defaults to now")
	assert.Equal(t, f.clock.Now(), item.CreatedAt)
	assert.Empty(t, item.EntityID)

	// Enqueue refreshes the pending-change count on the status row.
	st, err := f.status.GetOrCreate(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.PendingChanges)
	assert.Equal(t, StatePendingSync, st.State)
}

func TestClaimFIFOOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first := enqueue(t, f, "farmer-1", EnqueueRequest{EntityType: "crop", Operation: OpCreate, Payload: `{"n":1}`})
	f.clock.Advance(time.Second)
	second := enqueue(t, f, "farmer-1", EnqueueRequest{EntityType: "crop", Operation: OpCreate, Payload: `{"n":2}`})
	f.clock.Advance(time.Second)
	third := enqueue(t, f, "farmer-1", EnqueueRequest{EntityType: "crop", Operation: OpCreate, Payload: `{"n":3}`})

	for _, want := range []*QueueItem{first, second, third} {
		got, err := f.queue.ClaimNext(ctx, "farmer-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, ItemInProgress, got.Status, "claimed item comes back in flight")

		require.NoError(t, f.queue.MarkCompleted(ctx, got.ID))
	}

	got, err := f.queue.ClaimNext(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Nil(t, got, "queue drained")
}

func TestClaimHonorsPriority(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	enqueue(t, f, "farmer-1", EnqueueRequest{EntityType: "crop", Operation: OpCreate, Payload: `{}`, Priority: 0})
	f.clock.Advance(time.Second)
	urgent := enqueue(t, f, "farmer-1", EnqueueRequest{EntityType: "document", Operation: OpCreate, Payload: `{}`, Priority: 5})

	got, err := f.queue.ClaimNext(ctx, "farmer-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, urgent.ID, got.ID, "higher priority claimed first despite later creation")
}

func TestClaimSingleInFlight(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first := enqueue(t, f, "farmer-1", EnqueueRequest{EntityType: "crop", Operation: OpCreate, Payload: `{}`})
	f.clock.Advance(time.Second)
	enqueue(t, f, "farmer-1", EnqueueRequest{EntityType: "crop", Operation: OpUpdate, EntityID: "c1", Payload: `{}`})

	got, err := f.queue.ClaimNext(ctx, "farmer-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)

	// A second claim while the first item is still in flight hands out
	// nothing, not the next item and not the same item again.
	again, err := f.queue.ClaimNext(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Nil(t, again, "no item while one is in progress")

	require.NoError(t, f.queue.MarkCompleted(ctx, first.ID))

	got, err = f.queue.ClaimNext(ctx, "farmer-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotEqual(t, first.ID, got.ID, "completed item is never claimed again")
}

func TestClaimIsolatedPerUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a := enqueue(t, f, "farmer-a", EnqueueRequest{EntityType: "crop", Operation: OpCreate, Payload: `{}`})
	b := enqueue(t, f, "farmer-b", EnqueueRequest{EntityType: "crop", Operation: OpCreate, Payload: `{}`})

	got, err := f.queue.ClaimNext(ctx, "farmer-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)

	got, err = f.queue.ClaimNext(ctx, "farmer-b")
	require.NoError(t, err)
	require.NotNil(t, got, "one user's in-flight item does not block another")
	assert.Equal(t, b.ID, got.ID)
}

func TestMarkFailedBackoffAndTerminal(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	item := enqueue(t, f, "farmer-1", EnqueueRequest{EntityType: "crop", Operation: OpUpdate, EntityID: "c1", Payload: `{}`})

	// First failure: retried after 1s.
	canRetry, err := f.queue.MarkFailed(ctx, item.ID, "connection reset")
	require.NoError(t, err)
	assert.True(t, canRetry)

	got, err := f.queue.ClaimNext(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Nil(t, got, "item ineligible until the backoff window elapses")

	f.clock.Advance(time.Second)
	got, err = f.queue.ClaimNext(ctx, "farmer-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.RetryCount)

	// Second failure: retried after 2s.
	canRetry, err = f.queue.MarkFailed(ctx, item.ID, "connection reset")
	require.NoError(t, err)
	assert.True(t, canRetry)

	f.clock.Advance(time.Second)
	got, err = f.queue.ClaimNext(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Nil(t, got, "second backoff window is 2s")

	f.clock.Advance(time.Second)
	got, err = f.queue.ClaimNext(ctx, "farmer-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	// Third failure exhausts the retry bound.
	canRetry, err = f.queue.MarkFailed(ctx, item.ID, "connection reset")
	require.NoError(t, err)
	assert.False(t, canRetry)

	final, err := f.queueRepo.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, ItemFailed, final.Status)
	assert.Equal(t, 3, final.RetryCount)

	f.clock.Advance(time.Hour)
	got, err = f.queue.ClaimNext(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Nil(t, got, "terminal items are never claimed again")

	// Terminal failure is surfaced through the status tracker.
	st, err := f.status.GetOrCreate(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Equal(t, StateError, st.State)
	assert.Contains(t, st.LastError, "failed after 3 attempts")
	assert.Contains(t, st.LastError, "connection reset")
}

func TestMarkConflictOpensConflictRecord(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	localTS := f.clock.Now()
	item := enqueue(t, f, "farmer-1", EnqueueRequest{
		EntityType:      "crop",
		Operation:       OpUpdate,
		EntityID:        "c1",
		Payload:         `{"stage":"flowering"}`,
		ClientTimestamp: localTS,
	})

	remoteTS := localTS.Add(-time.Minute)
	c, err := f.queue.MarkConflict(ctx, item.ID, `{"stage":"sowing"}`, remoteTS, "device-2")
	require.NoError(t, err)

	assert.Equal(t, ConflictPending, c.Status)
	assert.Equal(t, `{"stage":"flowering"}`, c.LocalData)
	assert.Equal(t, localTS, c.LocalTimestamp)
	assert.Equal(t, `{"stage":"sowing"}`, c.RemoteData)
	assert.Equal(t, "device-2", c.RemoteDeviceID)

	got, err := f.queueRepo.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, ItemConflict, got.Status)
}

func TestClearCompletedAndCancelPending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	done := enqueue(t, f, "farmer-1", EnqueueRequest{EntityType: "crop", Operation: OpCreate, Payload: `{}`})
	enqueue(t, f, "farmer-1", EnqueueRequest{EntityType: "crop", Operation: OpCreate, Payload: `{}`})
	enqueue(t, f, "farmer-1", EnqueueRequest{EntityType: "crop", Operation: OpCreate, Payload: `{}`})
	require.NoError(t, f.queue.MarkCompleted(ctx, done.ID))

	cleared, err := f.queue.ClearCompleted(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	cancelled, err := f.queue.CancelPending(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Equal(t, 2, cancelled)

	count, err := f.queue.PendingCount(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	st, err := f.status.GetOrCreate(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Zero(t, st.PendingChanges)
}

func TestSetRetryPolicy(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.queue.SetRetryPolicy(1, 500*time.Millisecond)

	item := enqueue(t, f, "farmer-1", EnqueueRequest{EntityType: "crop", Operation: OpCreate, Payload: `{}`})

	canRetry, err := f.queue.MarkFailed(ctx, item.ID, "boom")
	require.NoError(t, err)
	assert.False(t, canRetry, "single-attempt policy fails terminally on first error")

	got, err := f.queueRepo.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, ItemFailed, got.Status)
}
