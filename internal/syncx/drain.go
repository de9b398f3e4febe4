package syncx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Applier is implemented by the collaborator that owns the entity being
// synced (crop, fertilizer, document services). Apply transmits one queued
// mutation to the authoritative store. A *ConflictError return means the
// server's version differs from the device's last-known version; any other
// error is treated as transient and retried under the queue's policy.
type Applier interface {
	Apply(ctx context.Context, item *QueueItem) error
}

// ConflictError reports that the remote version of the entity diverged from
// the queued local version.
type ConflictError struct {
	RemoteData      string
	RemoteTimestamp time.Time
	RemoteDeviceID  string
}

func (e *ConflictError) Error() string {
	return "remote version differs from local version"
}

// Progress summarizes one drain cycle.
type Progress struct {
	UserID          string `json:"userId"`
	TotalItems      int    `json:"totalItems"`
	ProcessedItems  int    `json:"processedItems"`
	FailedItems     int    `json:"failedItems"`
	ConflictItems   int    `json:"conflictItems"`
	ProgressPercent int    `json:"progressPercent"`
	Status          string `json:"status"`
}

// Drain cycle outcomes.
const (
	DrainCompleted      = "COMPLETED"
	DrainPartial        = "PARTIAL"
	DrainNoPendingItems = "NO_PENDING_ITEMS"
)

// Processor drains a user's queue once connectivity is available. Ordering
// is enforced by ClaimNext's atomic single-in-flight claim, not by any
// global lock: different users drain fully in parallel.
type Processor struct {
	queue   *QueueService
	status  *StatusService
	applier Applier
}

func NewProcessor(queue *QueueService, status *StatusService, applier Applier) *Processor {
	return &Processor{queue: queue, status: status, applier: applier}
}

// ProcessPending drains the user's eligible PENDING items in order. Items
// failing transiently go back to PENDING behind their backoff window and do
// not stall the cycle; conflicts are recorded and surfaced, never treated
// as errors.
func (p *Processor) ProcessPending(ctx context.Context, userID string) (*Progress, error) {
	// The drain starting is the moment the user is back online: the
	// connectivity detector only flips state to SYNCING on reconnect and
	// leaves the offline flag to us, so clear it here before any status
	// update can surface a stale offline indicator.
	offline, err := p.status.IsOffline(ctx, userID)
	if err != nil {
		return nil, err
	}
	if offline {
		if err := p.status.ExitOffline(ctx, userID); err != nil {
			return nil, err
		}
	}

	total, err := p.queue.PendingCount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count pending items: %w", err)
	}

	if total == 0 {
		if err := p.status.UpdateLastSyncTime(ctx, userID); err != nil {
			return nil, err
		}
		return &Progress{
			UserID:          userID,
			ProgressPercent: 100,
			Status:          DrainNoPendingItems,
		}, nil
	}

	log.Info().Str("user_id", userID).Int("total", total).Msg("starting queue drain")

	var processed, failed, conflicts, terminal int
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		item, err := p.queue.ClaimNext(ctx, userID)
		if err != nil {
			return nil, err
		}
		if item == nil {
			break
		}

		applyErr := p.applier.Apply(ctx, item)
		var conflictErr *ConflictError
		switch {
		case applyErr == nil:
			if err := p.queue.MarkCompleted(ctx, item.ID); err != nil {
				return nil, err
			}
			processed++

		case errors.As(applyErr, &conflictErr):
			if _, err := p.queue.MarkConflict(ctx, item.ID,
				conflictErr.RemoteData, conflictErr.RemoteTimestamp, conflictErr.RemoteDeviceID); err != nil {
				return nil, err
			}
			conflicts++

		default:
			canRetry, err := p.queue.MarkFailed(ctx, item.ID, applyErr.Error())
			if err != nil {
				return nil, err
			}
			failed++
			if !canRetry {
				terminal++
			}
		}

		done := processed + conflicts + terminal
		percent := done * 100 / total
		if err := p.status.UpdateProgress(ctx, userID, done, total, percent); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("failed to update sync progress")
		}
	}

	remaining, err := p.queue.PendingCount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count remaining items: %w", err)
	}

	outcome := DrainPartial
	if remaining == 0 && terminal == 0 {
		outcome = DrainCompleted
		if err := p.status.UpdateLastSyncTime(ctx, userID); err != nil {
			return nil, err
		}
	} else if err := p.status.RefreshPendingChanges(ctx, userID); err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID).
		Int("processed", processed).
		Int("failed", failed).
		Int("conflicts", conflicts).
		Str("outcome", outcome).
		Msg("queue drain finished")

	return &Progress{
		UserID:          userID,
		TotalItems:      total,
		ProcessedItems:  processed,
		FailedItems:     failed,
		ConflictItems:   conflicts,
		ProgressPercent: (processed + conflicts + terminal) * 100 / total,
		Status:          outcome,
	}, nil
}
