package syncx

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// systemActor is recorded as the resolver for policy-driven resolutions.
const systemActor = "SYSTEM"

// ConflictService decides which of two divergent versions of an entity
// survives. Resolution is binary: one full payload wins, there is no
// field-level merge.
type ConflictService struct {
	conflicts ConflictRepository
	now       func() time.Time
}

func NewConflictService(conflicts ConflictRepository) *ConflictService {
	return &ConflictService{conflicts: conflicts, now: time.Now}
}

// ConflictDTO is the client-facing view of a conflict, including the
// resolution the timestamp policy would suggest.
type ConflictDTO struct {
	ConflictID      int64          `json:"conflictId"`
	UserID          string         `json:"userId"`
	EntityType      string         `json:"entityType"`
	EntityID        string         `json:"entityId"`
	LocalData       string         `json:"localData"`
	LocalTimestamp  time.Time      `json:"localTimestamp"`
	RemoteData      string         `json:"remoteData"`
	RemoteTimestamp time.Time      `json:"remoteTimestamp"`
	RemoteDeviceID  string         `json:"remoteDeviceId,omitempty"`
	Status          ConflictStatus `json:"status"`
	Strategy        Strategy       `json:"resolutionStrategy,omitempty"`
	ResolvedData    string         `json:"resolvedData,omitempty"`
	DetectedAt      time.Time      `json:"detectedAt"`
	ResolvedAt      *time.Time     `json:"resolvedAt,omitempty"`

	// SuggestedResolution is "local" or "remote" per the timestamp policy.
	SuggestedResolution string `json:"suggestedResolution"`
	NewerVersion        string `json:"newerVersion"`
}

// DetectConflict records a divergence between a local and remote version.
// Detection is idempotent: if an open conflict already exists for the
// (user, entity type, entity id) tuple it is returned unchanged, so repeated
// sync attempts never create duplicates.
func (s *ConflictService) DetectConflict(ctx context.Context, userID, entityType, entityID,
	localData string, localTimestamp time.Time,
	remoteData string, remoteTimestamp time.Time, remoteDeviceID string) (*Conflict, error) {

	existing, err := s.conflicts.FindOpen(ctx, userID, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("find open conflict: %w", err)
	}
	if existing != nil {
		log.Info().
			Int64("conflict_id", existing.ID).
			Str("user_id", userID).
			Str("entity_type", entityType).
			Str("entity_id", entityID).
			Msg("conflict already open, returning existing")
		return existing, nil
	}

	c := &Conflict{
		UserID:          userID,
		EntityType:      entityType,
		EntityID:        entityID,
		LocalData:       localData,
		LocalTimestamp:  localTimestamp,
		RemoteData:      remoteData,
		RemoteTimestamp: remoteTimestamp,
		RemoteDeviceID:  remoteDeviceID,
		Status:          ConflictPending,
		DetectedAt:      s.now(),
	}
	if err := s.conflicts.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create conflict: %w", err)
	}

	log.Info().
		Int64("conflict_id", c.ID).
		Str("user_id", userID).
		Str("entity_type", entityType).
		Str("entity_id", entityID).
		Msg("conflict detected")
	return c, nil
}

// ResolveByTimestamp applies the timestamp policy: the version whose
// timestamp is not earlier than the other's wins, so local wins an exact
// tie. Callers are expected to check the conflict status first; re-invoking
// on an already-resolved conflict is not guarded here.
func (s *ConflictService) ResolveByTimestamp(ctx context.Context, conflictID int64) (*Conflict, error) {
	c, err := s.conflicts.GetByID(ctx, conflictID)
	if err != nil {
		return nil, fmt.Errorf("load conflict %d: %w", conflictID, err)
	}

	localWins := c.LocalWins()
	if localWins {
		c.ResolvedData = c.LocalData
	} else {
		c.ResolvedData = c.RemoteData
	}

	now := s.now()
	c.Status = ConflictAutoResolved
	c.Strategy = StrategyTimestamp
	c.ResolvedBy = systemActor
	c.ResolvedAt = &now

	if err := s.conflicts.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("save conflict %d: %w", conflictID, err)
	}

	winner := "remote"
	if localWins {
		winner = "local"
	}
	log.Info().
		Int64("conflict_id", conflictID).
		Str("winner", winner).
		Msg("resolved conflict by timestamp")
	return c, nil
}

// ResolveManually records an explicit resolution chosen by a person or an
// external system. An empty resolvedData defaults to the local payload.
func (s *ConflictService) ResolveManually(ctx context.Context, conflictID int64, resolvedData, resolvedBy string, strategy Strategy) (*Conflict, error) {
	c, err := s.conflicts.GetByID(ctx, conflictID)
	if err != nil {
		return nil, fmt.Errorf("load conflict %d: %w", conflictID, err)
	}

	if resolvedData == "" {
		resolvedData = c.LocalData
	}
	if strategy == "" {
		strategy = StrategyManual
	}

	now := s.now()
	c.ResolvedData = resolvedData
	c.Status = ConflictResolved
	c.Strategy = strategy
	c.ResolvedBy = resolvedBy
	c.ResolvedAt = &now

	if err := s.conflicts.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("save conflict %d: %w", conflictID, err)
	}

	log.Info().
		Int64("conflict_id", conflictID).
		Str("resolved_by", resolvedBy).
		Msg("manually resolved conflict")
	return c, nil
}

// AutoResolveAll applies ResolveByTimestamp to every PENDING conflict for
// the user in detection order, oldest first. Best effort: a failure on one
// conflict is logged and does not abort the rest. Returns the number
// successfully resolved.
func (s *ConflictService) AutoResolveAll(ctx context.Context, userID string) (int, error) {
	pending, err := s.conflicts.ListPending(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list pending conflicts: %w", err)
	}

	// ListPending returns newest first; walk it backwards.
	resolved := 0
	for i := len(pending) - 1; i >= 0; i-- {
		c := pending[i]
		if _, err := s.ResolveByTimestamp(ctx, c.ID); err != nil {
			log.Error().Err(err).Int64("conflict_id", c.ID).Msg("failed to auto-resolve conflict")
			continue
		}
		resolved++
	}

	log.Info().Str("user_id", userID).Int("resolved", resolved).Msg("auto-resolved conflicts")
	return resolved, nil
}

// PendingConflicts returns the user's open conflicts, newest detected first.
func (s *ConflictService) PendingConflicts(ctx context.Context, userID string) ([]*ConflictDTO, error) {
	conflicts, err := s.conflicts.ListPending(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending conflicts: %w", err)
	}
	return NewConflictDTOs(conflicts), nil
}

// AllConflicts returns every conflict for the user, resolved included.
func (s *ConflictService) AllConflicts(ctx context.Context, userID string) ([]*ConflictDTO, error) {
	conflicts, err := s.conflicts.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	return NewConflictDTOs(conflicts), nil
}

// PendingCount returns the number of open conflicts for the user.
func (s *ConflictService) PendingCount(ctx context.Context, userID string) (int, error) {
	return s.conflicts.CountPending(ctx, userID)
}

// PurgeResolved deletes resolved conflicts older than the retention window.
func (s *ConflictService) PurgeResolved(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention)
	n, err := s.conflicts.DeleteResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge resolved conflicts: %w", err)
	}
	if n > 0 {
		log.Info().Int("purged", n).Time("cutoff", cutoff).Msg("purged resolved conflicts")
	}
	return n, nil
}

func NewConflictDTOs(conflicts []*Conflict) []*ConflictDTO {
	out := make([]*ConflictDTO, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, NewConflictDTO(c))
	}
	return out
}

// NewConflictDTO maps a conflict to its client-facing view.
func NewConflictDTO(c *Conflict) *ConflictDTO {
	winner := "remote"
	if c.LocalWins() {
		winner = "local"
	}
	return &ConflictDTO{
		ConflictID:          c.ID,
		UserID:              c.UserID,
		EntityType:          c.EntityType,
		EntityID:            c.EntityID,
		LocalData:           c.LocalData,
		LocalTimestamp:      c.LocalTimestamp,
		RemoteData:          c.RemoteData,
		RemoteTimestamp:     c.RemoteTimestamp,
		RemoteDeviceID:      c.RemoteDeviceID,
		Status:              c.Status,
		Strategy:            c.Strategy,
		ResolvedData:        c.ResolvedData,
		DetectedAt:          c.DetectedAt,
		ResolvedAt:          c.ResolvedAt,
		SuggestedResolution: winner,
		NewerVersion:        winner,
	}
}
