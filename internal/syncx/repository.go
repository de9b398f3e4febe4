package syncx

import (
	"context"
	"time"
)

// QueueRepository persists sync queue items. Implementations must return
// ErrNotFound for unknown ids.
type QueueRepository interface {
	Create(ctx context.Context, item *QueueItem) error
	GetByID(ctx context.Context, id int64) (*QueueItem, error)
	Update(ctx context.Context, item *QueueItem) error
	Delete(ctx context.Context, id int64) error

	// ClaimNextPending atomically selects the highest-priority, oldest
	// PENDING item for the user whose NotBefore (if any) is not after now
	// and transitions it to IN_PROGRESS, or returns nil. The select and
	// the claim are one operation, and the claim must refuse while the
	// user already has an item in flight, so concurrent drains can never
	// hold the same item or two items for one user.
	ClaimNextPending(ctx context.Context, userID string, now time.Time) (*QueueItem, error)

	ListByUserAndStatus(ctx context.Context, userID string, status ItemStatus) ([]*QueueItem, error)
	CountByUserAndStatus(ctx context.Context, userID string, status ItemStatus) (int, error)
	DeleteByUserAndStatus(ctx context.Context, userID string, status ItemStatus) (int, error)
}

// ConflictRepository persists detected conflicts.
type ConflictRepository interface {
	Create(ctx context.Context, c *Conflict) error
	GetByID(ctx context.Context, id int64) (*Conflict, error)
	Update(ctx context.Context, c *Conflict) error

	// FindOpen returns the PENDING conflict for the tuple, or nil.
	FindOpen(ctx context.Context, userID, entityType, entityID string) (*Conflict, error)

	// ListPending returns PENDING conflicts for the user, newest detected
	// first.
	ListPending(ctx context.Context, userID string) ([]*Conflict, error)
	ListByUser(ctx context.Context, userID string) ([]*Conflict, error)
	CountPending(ctx context.Context, userID string) (int, error)

	// DeleteResolvedBefore purges resolved conflicts older than the cutoff
	// and returns the number removed.
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// StatusRepository persists the one sync status row per user.
type StatusRepository interface {
	// GetByUser returns the user's status row, or nil if none exists yet.
	GetByUser(ctx context.Context, userID string) (*Status, error)

	// Save upserts the status row keyed by user id. Field-level writes are
	// last-write-wins; the single-in-flight contract keeps concurrent
	// writers off a given user's row in normal operation.
	Save(ctx context.Context, s *Status) error
}
