// Package syncx implements the offline-first synchronization engine:
// a durable per-user FIFO queue of pending mutations, conflict detection
// and resolution between local and remote entity versions, and a per-user
// sync status state machine surfaced to clients.
package syncx

import "time"

// Operation is the kind of mutation a queued item carries.
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// ItemStatus is the lifecycle state of a queue item.
type ItemStatus string

const (
	ItemPending    ItemStatus = "PENDING"
	ItemInProgress ItemStatus = "IN_PROGRESS"
	ItemCompleted  ItemStatus = "COMPLETED"
	ItemFailed     ItemStatus = "FAILED"
	ItemConflict   ItemStatus = "CONFLICT"
)

// ConflictStatus is the lifecycle state of a detected conflict.
type ConflictStatus string

const (
	ConflictPending      ConflictStatus = "PENDING"
	ConflictAutoResolved ConflictStatus = "AUTO_RESOLVED"
	ConflictResolved     ConflictStatus = "RESOLVED"
	ConflictRejected     ConflictStatus = "REJECTED"
)

// Strategy is how a conflict was (or should be) resolved.
type Strategy string

const (
	StrategyTimestamp Strategy = "TIMESTAMP"
	StrategyManual    Strategy = "MANUAL"
)

// State is the per-user sync state surfaced to the client.
type State string

const (
	StateIdle        State = "IDLE"
	StateSyncing     State = "SYNCING"
	StatePendingSync State = "PENDING_SYNC"
	StateOffline     State = "OFFLINE"
	StateError       State = "ERROR"
)

// QueueItem is a single pending mutation queued while the client could not
// reach the server. Items for a user are processed in (priority desc,
// created_at asc) order, one in flight at a time.
type QueueItem struct {
	ID         int64
	UserID     string
	EntityType string
	Operation  Operation
	EntityID   string // empty for CREATE
	Payload    string
	Status     ItemStatus
	RetryCount int
	LastError  string
	Priority   int // higher is processed first

	// ClientTimestamp is the device-side mutation time, used for conflict
	// ordering. CreatedAt is server receipt time and drives FIFO order.
	ClientTimestamp time.Time
	CreatedAt       time.Time
	ProcessedAt     *time.Time

	// NotBefore makes a failed item ineligible for dequeue until the
	// backoff window elapses. Nil means eligible immediately.
	NotBefore *time.Time
}

// Conflict records a divergence between a local and remote version of one
// entity. At most one open (PENDING) conflict exists per
// (user, entity type, entity id) tuple.
type Conflict struct {
	ID         int64
	UserID     string
	EntityType string
	EntityID   string

	LocalData      string
	LocalTimestamp time.Time

	RemoteData      string
	RemoteTimestamp time.Time
	RemoteDeviceID  string

	Status       ConflictStatus
	Strategy     Strategy
	ResolvedData string
	ResolvedBy   string

	DetectedAt time.Time
	ResolvedAt *time.Time
}

// LocalWins reports whether the local version survives timestamp
// resolution. Local wins on an exact tie.
func (c *Conflict) LocalWins() bool {
	return !c.LocalTimestamp.Before(c.RemoteTimestamp)
}

// Status is the single row per user summarizing synchronization health.
// IsOffline and State are always updated together so the client never
// observes a half-applied transition.
type Status struct {
	UserID          string
	LastSyncAt      *time.Time
	PendingChanges  int
	State           State
	SyncingCount    int
	TotalToSync     int
	ProgressPercent int
	IsOffline       bool
	OfflineSince    *time.Time
	LastError       string
	DeviceID        string
	AppVersion      string
}
