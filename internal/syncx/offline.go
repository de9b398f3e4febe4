package syncx

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// OfflineDetector is the single point that turns connectivity observations
// into sync-state transitions, so the queue and the status tracker never
// race on them directly. The component itself is synchronous; the 2-second
// client-visible latency target is a requirement on the caller's polling or
// push cadence.
type OfflineDetector struct {
	statuses StatusRepository
	now      func() time.Time
}

func NewOfflineDetector(statuses StatusRepository) *OfflineDetector {
	return &OfflineDetector{statuses: statuses, now: time.Now}
}

// UpdateConnectivityState applies a connectivity observation.
//
// On disconnect the user enters offline mode: state, IsOffline and
// OfflineSince move together in a single save. On reconnect only the state
// flips to SYNCING; IsOffline is left for the
// caller to clear once it begins draining the queue. Observations that do
// not change the transition are no-ops and in particular never reset
// OfflineSince.
func (d *OfflineDetector) UpdateConnectivityState(ctx context.Context, userID string, isConnected bool) (*Status, error) {
	st, err := d.statuses.GetByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load sync status: %w", err)
	}
	if st == nil {
		st = &Status{UserID: userID, State: StateIdle}
	}

	wasOffline := st.IsOffline

	switch {
	case isConnected && wasOffline && st.State != StateSyncing:
		// Connectivity restored: the caller clears IsOffline when it
		// starts the drain.
		st.State = StateSyncing
		log.Info().Str("user_id", userID).Msg("connectivity restored, initiating sync")

	case !isConnected && !wasOffline:
		now := d.now()
		st.State = StateOffline
		st.IsOffline = true
		st.OfflineSince = &now
		log.Info().Str("user_id", userID).Msg("connectivity lost, enabling offline mode")

	default:
		// No transition: leave the row untouched, including OfflineSince.
		return st, nil
	}

	if err := d.statuses.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("save sync status: %w", err)
	}
	return st, nil
}

// IsOffline reports the user's current offline flag; unknown users are
// online.
func (d *OfflineDetector) IsOffline(ctx context.Context, userID string) (bool, error) {
	st, err := d.statuses.GetByUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load sync status: %w", err)
	}
	return st != nil && st.IsOffline, nil
}
