package syncx

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// StatusService is the single source of truth for "is this user's data in
// sync". It maintains the per-user status row and derives the client-facing
// DTO from it.
type StatusService struct {
	statuses StatusRepository
	queue    QueueRepository
	now      func() time.Time
}

func NewStatusService(statuses StatusRepository, queue QueueRepository) *StatusService {
	return &StatusService{statuses: statuses, queue: queue, now: time.Now}
}

// StatusDTO is the client-facing view of a user's sync health.
type StatusDTO struct {
	UserID                 string     `json:"userId"`
	LastSyncAt             *time.Time `json:"lastSyncAt,omitempty"`
	PendingChanges         int        `json:"pendingChanges"`
	SyncState              State      `json:"syncState"`
	SyncingCount           int        `json:"syncingCount"`
	TotalToSync            int        `json:"totalToSync"`
	ProgressPercent        int        `json:"progressPercent"`
	IsOffline              bool       `json:"isOffline"`
	OfflineDurationSeconds *int64     `json:"offlineDurationSeconds,omitempty"`
	LastError              string     `json:"lastError,omitempty"`
	StatusMessage          string     `json:"statusMessage"`
}

// GetOrCreate returns the user's status row, creating it lazily on first
// contact.
func (s *StatusService) GetOrCreate(ctx context.Context, userID string) (*Status, error) {
	st, err := s.statuses.GetByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load sync status: %w", err)
	}
	if st != nil {
		return st, nil
	}

	st = &Status{
		UserID: userID,
		State:  StateIdle,
	}
	if err := s.statuses.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("create sync status: %w", err)
	}
	log.Info().Str("user_id", userID).Msg("created sync status")
	return st, nil
}

// StatusDTO builds the client-facing DTO including the derived status
// message and current offline duration.
func (s *StatusService) StatusDTO(ctx context.Context, userID string) (*StatusDTO, error) {
	st, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	dto := &StatusDTO{
		UserID:          st.UserID,
		LastSyncAt:      st.LastSyncAt,
		PendingChanges:  st.PendingChanges,
		SyncState:       st.State,
		SyncingCount:    st.SyncingCount,
		TotalToSync:     st.TotalToSync,
		ProgressPercent: st.ProgressPercent,
		IsOffline:       st.IsOffline,
		LastError:       st.LastError,
		StatusMessage:   StatusMessage(st),
	}
	if st.IsOffline && st.OfflineSince != nil {
		secs := int64(s.now().Sub(*st.OfflineSince).Seconds())
		dto.OfflineDurationSeconds = &secs
	}
	return dto, nil
}

// StatusMessage derives the human-readable message for a status. It is a
// pure function of the status row and is total over all five states; an
// unknown state is reported loudly rather than masked.
func StatusMessage(st *Status) string {
	if st.IsOffline {
		return "You are offline. Changes will sync when you're back online."
	}

	switch st.State {
	case StateIdle:
		return "All data is synced."
	case StateSyncing:
		return fmt.Sprintf("Syncing %d of %d items...", st.SyncingCount, st.TotalToSync)
	case StatePendingSync:
		return fmt.Sprintf("%d changes pending sync.", st.PendingChanges)
	case StateOffline:
		return "You are offline."
	case StateError:
		if st.LastError != "" {
			return "Sync error: " + st.LastError
		}
		return "Sync error: unknown error"
	default:
		log.Error().Str("user_id", st.UserID).Str("state", string(st.State)).Msg("unknown sync state")
		return "Sync state unknown."
	}
}

// UpdateLastSyncTime records a successful sync: state back to IDLE, no
// pending changes, progress complete.
func (s *StatusService) UpdateLastSyncTime(ctx context.Context, userID string) error {
	st, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	now := s.now()
	st.LastSyncAt = &now
	st.State = StateIdle
	st.PendingChanges = 0
	st.ProgressPercent = 100
	st.SyncingCount = 0
	st.TotalToSync = 0
	st.LastError = ""
	if err := s.statuses.Save(ctx, st); err != nil {
		return fmt.Errorf("save sync status: %w", err)
	}
	log.Info().Str("user_id", userID).Msg("updated last sync time")
	return nil
}

// EnterOffline flips the user into offline mode. IsOffline, State and
// OfflineSince move together in one save.
func (s *StatusService) EnterOffline(ctx context.Context, userID string) error {
	st, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	now := s.now()
	st.IsOffline = true
	st.State = StateOffline
	st.OfflineSince = &now
	if err := s.statuses.Save(ctx, st); err != nil {
		return fmt.Errorf("save sync status: %w", err)
	}
	log.Info().Str("user_id", userID).Msg("entered offline mode")
	return nil
}

// ExitOffline flips the user back online and into SYNCING so the caller can
// begin draining the queue.
func (s *StatusService) ExitOffline(ctx context.Context, userID string) error {
	st, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	st.IsOffline = false
	st.OfflineSince = nil
	st.State = StateSyncing
	if err := s.statuses.Save(ctx, st); err != nil {
		return fmt.Errorf("save sync status: %w", err)
	}
	log.Info().Str("user_id", userID).Msg("exited offline mode")
	return nil
}

// UpdateProgress records drain-cycle progress counters.
func (s *StatusService) UpdateProgress(ctx context.Context, userID string, syncing, total, percent int) error {
	st, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	st.State = StateSyncing
	st.SyncingCount = syncing
	st.TotalToSync = total
	st.ProgressPercent = percent
	if err := s.statuses.Save(ctx, st); err != nil {
		return fmt.Errorf("save sync status: %w", err)
	}
	return nil
}

// SetSyncError moves the user into ERROR state with the given message. This
// is the only channel through which sync failures reach the end user.
func (s *StatusService) SetSyncError(ctx context.Context, userID, errMsg string) error {
	st, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	st.State = StateError
	st.LastError = errMsg
	if err := s.statuses.Save(ctx, st); err != nil {
		return fmt.Errorf("save sync status: %w", err)
	}
	log.Warn().Str("user_id", userID).Str("error", errMsg).Msg("sync error recorded")
	return nil
}

// UpdateDeviceInfo records the client's device id and app version.
func (s *StatusService) UpdateDeviceInfo(ctx context.Context, userID, deviceID, appVersion string) error {
	st, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	st.DeviceID = deviceID
	st.AppVersion = appVersion
	if err := s.statuses.Save(ctx, st); err != nil {
		return fmt.Errorf("save sync status: %w", err)
	}
	return nil
}

// IsOffline reports whether the user is currently in offline mode. Unknown
// users are online.
func (s *StatusService) IsOffline(ctx context.Context, userID string) (bool, error) {
	st, err := s.statuses.GetByUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load sync status: %w", err)
	}
	if st == nil {
		return false, nil
	}
	return st.IsOffline, nil
}

// RefreshPendingChanges recomputes the pending-change count from the queue
// and flips the state to PENDING_SYNC when work is waiting and the user is
// online.
func (s *StatusService) RefreshPendingChanges(ctx context.Context, userID string) error {
	count, err := s.queue.CountByUserAndStatus(ctx, userID, ItemPending)
	if err != nil {
		return fmt.Errorf("count pending items: %w", err)
	}

	st, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	st.PendingChanges = count
	if count > 0 && !st.IsOffline && st.State != StateSyncing {
		st.State = StatePendingSync
	}
	if err := s.statuses.Save(ctx, st); err != nil {
		return fmt.Errorf("save sync status: %w", err)
	}
	return nil
}
