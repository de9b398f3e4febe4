package syncx

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxRetries bounds automatic retries of failed items; the
	// platform-wide external-API retry policy uses the same bound.
	DefaultMaxRetries = 3

	// DefaultRetryBase is the first backoff window; it doubles on each
	// subsequent failure (1s, 2s, 4s).
	DefaultRetryBase = time.Second
)

// QueueService manages the durable per-user FIFO queue of pending
// mutations. It tracks state transitions only; transmitting an item to the
// entity's own service is the calling collaborator's job.
type QueueService struct {
	queue      QueueRepository
	status     *StatusService
	conflicts  *ConflictService
	maxRetries int
	retryBase  time.Duration
	now        func() time.Time
}

func NewQueueService(queue QueueRepository, status *StatusService, conflicts *ConflictService) *QueueService {
	return &QueueService{
		queue:      queue,
		status:     status,
		conflicts:  conflicts,
		maxRetries: DefaultMaxRetries,
		retryBase:  DefaultRetryBase,
		now:        time.Now,
	}
}

// SetRetryPolicy overrides the retry bound and base backoff window.
func (s *QueueService) SetRetryPolicy(maxRetries int, base time.Duration) {
	if maxRetries > 0 {
		s.maxRetries = maxRetries
	}
	if base > 0 {
		s.retryBase = base
	}
}

// EnqueueRequest carries a mutation a client could not apply directly.
// Payload contents are not validated here; that is the concern of the
// collaborator service that supplied them.
type EnqueueRequest struct {
	EntityType      string    `json:"entityType"`
	Operation       Operation `json:"operationType"`
	EntityID        string    `json:"entityId,omitempty"`
	Payload         string    `json:"payload"`
	ClientTimestamp time.Time `json:"clientTimestamp,omitempty"`
	Priority        int       `json:"priority,omitempty"`
}

// Enqueue stores a PENDING item and refreshes the user's pending-change
// count. An absent entity id implies CREATE; a zero client timestamp
// defaults to now.
func (s *QueueService) Enqueue(ctx context.Context, userID string, req EnqueueRequest) (*QueueItem, error) {
	clientTS := req.ClientTimestamp
	if clientTS.IsZero() {
		clientTS = s.now()
	}

	item := &QueueItem{
		UserID:          userID,
		EntityType:      req.EntityType,
		Operation:       req.Operation,
		EntityID:        req.EntityID,
		Payload:         req.Payload,
		Status:          ItemPending,
		Priority:        req.Priority,
		ClientTimestamp: clientTS,
		CreatedAt:       s.now(),
	}
	if err := s.queue.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("enqueue item: %w", err)
	}

	if err := s.status.RefreshPendingChanges(ctx, userID); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to refresh pending changes")
	}

	log.Info().
		Int64("queue_id", item.ID).
		Str("user_id", userID).
		Str("entity_type", req.EntityType).
		Str("operation", string(req.Operation)).
		Msg("queued sync request")
	return item, nil
}

// ClaimNext atomically claims the highest-priority, oldest eligible PENDING
// item for the user and returns it already IN_PROGRESS, or nil. The claim
// never hands out a second item while one is in flight: item B might depend
// on entity state left by item A, so a user's drain is strictly one in
// flight at a time, even across concurrent drain cycles.
func (s *QueueService) ClaimNext(ctx context.Context, userID string) (*QueueItem, error) {
	item, err := s.queue.ClaimNextPending(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("claim next item: %w", err)
	}
	return item, nil
}

// MarkCompleted finishes an item successfully.
func (s *QueueService) MarkCompleted(ctx context.Context, itemID int64) error {
	item, err := s.queue.GetByID(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load queue item %d: %w", itemID, err)
	}

	now := s.now()
	item.Status = ItemCompleted
	item.ProcessedAt = &now
	item.NotBefore = nil
	if err := s.queue.Update(ctx, item); err != nil {
		return fmt.Errorf("save queue item %d: %w", itemID, err)
	}
	log.Info().Int64("queue_id", itemID).Msg("sync item completed")
	return nil
}

// MarkFailed records a transient failure. The item returns to PENDING with
// an exponential backoff window (1s, 2s, 4s) until the retry bound is
// exhausted, at which point it becomes terminal FAILED and is reported
// through the status tracker rather than silently dropped. Returns whether
// the item will be retried.
func (s *QueueService) MarkFailed(ctx context.Context, itemID int64, errMsg string) (bool, error) {
	item, err := s.queue.GetByID(ctx, itemID)
	if err != nil {
		return false, fmt.Errorf("load queue item %d: %w", itemID, err)
	}

	now := s.now()
	item.RetryCount++
	item.LastError = errMsg
	item.ProcessedAt = &now

	canRetry := item.RetryCount < s.maxRetries
	if canRetry {
		item.Status = ItemPending
		notBefore := now.Add(s.retryBase << (item.RetryCount - 1))
		item.NotBefore = &notBefore
	} else {
		item.Status = ItemFailed
		item.NotBefore = nil
	}

	if err := s.queue.Update(ctx, item); err != nil {
		return false, fmt.Errorf("save queue item %d: %w", itemID, err)
	}

	log.Warn().
		Int64("queue_id", itemID).
		Int("retry_count", item.RetryCount).
		Bool("will_retry", canRetry).
		Str("error", errMsg).
		Msg("sync item failed")

	if !canRetry {
		msg := fmt.Sprintf("sync of %s %s failed after %d attempts: %s",
			item.EntityType, string(item.Operation), item.RetryCount, errMsg)
		if err := s.status.SetSyncError(ctx, item.UserID, msg); err != nil {
			log.Error().Err(err).Str("user_id", item.UserID).Msg("failed to record sync error")
		}
	}
	return canRetry, nil
}

// MarkConflict transitions the item to CONFLICT and opens a conflict record
// using the item's payload and client timestamp as the local version.
func (s *QueueService) MarkConflict(ctx context.Context, itemID int64, remoteData string, remoteTimestamp time.Time, remoteDeviceID string) (*Conflict, error) {
	item, err := s.queue.GetByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load queue item %d: %w", itemID, err)
	}

	now := s.now()
	item.Status = ItemConflict
	item.ProcessedAt = &now
	if err := s.queue.Update(ctx, item); err != nil {
		return nil, fmt.Errorf("save queue item %d: %w", itemID, err)
	}

	return s.conflicts.DetectConflict(ctx, item.UserID, item.EntityType, item.EntityID,
		item.Payload, item.ClientTimestamp, remoteData, remoteTimestamp, remoteDeviceID)
}

// PendingItems returns the user's PENDING items in creation order.
func (s *QueueService) PendingItems(ctx context.Context, userID string) ([]*QueueItem, error) {
	return s.queue.ListByUserAndStatus(ctx, userID, ItemPending)
}

// PendingCount returns the number of PENDING items for the user.
func (s *QueueService) PendingCount(ctx context.Context, userID string) (int, error) {
	return s.queue.CountByUserAndStatus(ctx, userID, ItemPending)
}

// ClearCompleted deletes COMPLETED items for the user and returns the
// number removed.
func (s *QueueService) ClearCompleted(ctx context.Context, userID string) (int, error) {
	n, err := s.queue.DeleteByUserAndStatus(ctx, userID, ItemCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed items: %w", err)
	}
	log.Info().Str("user_id", userID).Int("cleared", n).Msg("cleared completed sync items")
	return n, nil
}

// CancelPending deletes the user's PENDING items and returns the number
// cancelled.
func (s *QueueService) CancelPending(ctx context.Context, userID string) (int, error) {
	n, err := s.queue.DeleteByUserAndStatus(ctx, userID, ItemPending)
	if err != nil {
		return 0, fmt.Errorf("cancel pending items: %w", err)
	}
	if err := s.status.RefreshPendingChanges(ctx, userID); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to refresh pending changes")
	}
	log.Info().Str("user_id", userID).Int("cancelled", n).Msg("cancelled pending sync items")
	return n, nil
}

// Delete removes a single queue item.
func (s *QueueService) Delete(ctx context.Context, itemID int64) error {
	if err := s.queue.Delete(ctx, itemID); err != nil {
		return fmt.Errorf("delete queue item %d: %w", itemID, err)
	}
	return nil
}
