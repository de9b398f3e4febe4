package syncx

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres-backed repositories over the sync_queue, sync_conflict and
// sync_status tables (see internal/db/migrations).

const queueColumns = `id, user_id, entity_type, operation, entity_id, payload,
	status, retry_count, last_error, priority, client_timestamp, created_at,
	processed_at, not_before`

// PostgresQueueRepository implements QueueRepository on pgx.
type PostgresQueueRepository struct {
	db *pgxpool.Pool
}

func NewPostgresQueueRepository(db *pgxpool.Pool) *PostgresQueueRepository {
	return &PostgresQueueRepository{db: db}
}

func (r *PostgresQueueRepository) Create(ctx context.Context, item *QueueItem) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO sync_queue
			(user_id, entity_type, operation, entity_id, payload, status,
			 retry_count, last_error, priority, client_timestamp, created_at,
			 processed_at, not_before)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, item.UserID, item.EntityType, item.Operation, item.EntityID, item.Payload,
		item.Status, item.RetryCount, item.LastError, item.Priority,
		item.ClientTimestamp, item.CreatedAt, item.ProcessedAt, item.NotBefore,
	).Scan(&item.ID)
}

func (r *PostgresQueueRepository) GetByID(ctx context.Context, id int64) (*QueueItem, error) {
	row := r.db.QueryRow(ctx, `SELECT `+queueColumns+` FROM sync_queue WHERE id = $1`, id)
	return scanQueueItem(row)
}

func (r *PostgresQueueRepository) Update(ctx context.Context, item *QueueItem) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sync_queue SET
			status = $2, retry_count = $3, last_error = $4,
			processed_at = $5, not_before = $6, priority = $7
		WHERE id = $1
	`, item.ID, item.Status, item.RetryCount, item.LastError,
		item.ProcessedAt, item.NotBefore, item.Priority)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresQueueRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sync_queue WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresQueueRepository) ClaimNextPending(ctx context.Context, userID string, now time.Time) (*QueueItem, error) {
	// Select and claim in one statement. FOR UPDATE SKIP LOCKED keeps two
	// concurrent claims off the same row; the NOT EXISTS guard refuses a
	// second claim while the user already has an item in flight.
	row := r.db.QueryRow(ctx, `
		UPDATE sync_queue SET status = $4
		WHERE id = (
			SELECT id
			FROM sync_queue
			WHERE user_id = $1
			  AND status = $2
			  AND (not_before IS NULL OR not_before <= $3)
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		AND NOT EXISTS (
			SELECT 1 FROM sync_queue WHERE user_id = $1 AND status = $4
		)
		RETURNING `+queueColumns+`
	`, userID, ItemPending, now, ItemInProgress)
	item, err := scanQueueItem(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return item, err
}

func (r *PostgresQueueRepository) ListByUserAndStatus(ctx context.Context, userID string, status ItemStatus) ([]*QueueItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+queueColumns+`
		FROM sync_queue
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at ASC, id ASC
	`, userID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *PostgresQueueRepository) CountByUserAndStatus(ctx context.Context, userID string, status ItemStatus) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM sync_queue WHERE user_id = $1 AND status = $2`,
		userID, status).Scan(&n)
	return n, err
}

func (r *PostgresQueueRepository) DeleteByUserAndStatus(ctx context.Context, userID string, status ItemStatus) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM sync_queue WHERE user_id = $1 AND status = $2`, userID, status)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanQueueItem(row pgx.Row) (*QueueItem, error) {
	var item QueueItem
	err := row.Scan(&item.ID, &item.UserID, &item.EntityType, &item.Operation,
		&item.EntityID, &item.Payload, &item.Status, &item.RetryCount,
		&item.LastError, &item.Priority, &item.ClientTimestamp, &item.CreatedAt,
		&item.ProcessedAt, &item.NotBefore)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

const conflictColumns = `id, user_id, entity_type, entity_id, local_data,
	local_timestamp, remote_data, remote_timestamp, remote_device_id, status,
	resolution_strategy, resolved_data, resolved_by, detected_at, resolved_at`

// PostgresConflictRepository implements ConflictRepository on pgx. A partial
// unique index on (user_id, entity_type, entity_id) WHERE status='PENDING'
// backs the at-most-one-open-conflict invariant at the storage layer.
type PostgresConflictRepository struct {
	db *pgxpool.Pool
}

func NewPostgresConflictRepository(db *pgxpool.Pool) *PostgresConflictRepository {
	return &PostgresConflictRepository{db: db}
}

func (r *PostgresConflictRepository) Create(ctx context.Context, c *Conflict) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO sync_conflict
			(user_id, entity_type, entity_id, local_data, local_timestamp,
			 remote_data, remote_timestamp, remote_device_id, status,
			 resolution_strategy, resolved_data, resolved_by, detected_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, c.UserID, c.EntityType, c.EntityID, c.LocalData, c.LocalTimestamp,
		c.RemoteData, c.RemoteTimestamp, c.RemoteDeviceID, c.Status,
		c.Strategy, c.ResolvedData, c.ResolvedBy, c.DetectedAt, c.ResolvedAt,
	).Scan(&c.ID)
}

func (r *PostgresConflictRepository) GetByID(ctx context.Context, id int64) (*Conflict, error) {
	row := r.db.QueryRow(ctx, `SELECT `+conflictColumns+` FROM sync_conflict WHERE id = $1`, id)
	return scanConflict(row)
}

func (r *PostgresConflictRepository) Update(ctx context.Context, c *Conflict) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sync_conflict SET
			status = $2, resolution_strategy = $3, resolved_data = $4,
			resolved_by = $5, resolved_at = $6
		WHERE id = $1
	`, c.ID, c.Status, c.Strategy, c.ResolvedData, c.ResolvedBy, c.ResolvedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresConflictRepository) FindOpen(ctx context.Context, userID, entityType, entityID string) (*Conflict, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+conflictColumns+`
		FROM sync_conflict
		WHERE user_id = $1 AND entity_type = $2 AND entity_id = $3 AND status = $4
	`, userID, entityType, entityID, ConflictPending)
	c, err := scanConflict(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return c, err
}

func (r *PostgresConflictRepository) ListPending(ctx context.Context, userID string) ([]*Conflict, error) {
	return r.listWhere(ctx, `
		SELECT `+conflictColumns+`
		FROM sync_conflict
		WHERE user_id = $1 AND status = $2
		ORDER BY detected_at DESC, id DESC
	`, userID, ConflictPending)
}

func (r *PostgresConflictRepository) ListByUser(ctx context.Context, userID string) ([]*Conflict, error) {
	return r.listWhere(ctx, `
		SELECT `+conflictColumns+`
		FROM sync_conflict
		WHERE user_id = $1
		ORDER BY detected_at DESC, id DESC
	`, userID)
}

func (r *PostgresConflictRepository) listWhere(ctx context.Context, query string, args ...any) ([]*Conflict, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresConflictRepository) CountPending(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM sync_conflict WHERE user_id = $1 AND status = $2`,
		userID, ConflictPending).Scan(&n)
	return n, err
}

func (r *PostgresConflictRepository) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM sync_conflict
		WHERE status <> $1 AND resolved_at IS NOT NULL AND resolved_at < $2
	`, ConflictPending, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanConflict(row pgx.Row) (*Conflict, error) {
	var c Conflict
	err := row.Scan(&c.ID, &c.UserID, &c.EntityType, &c.EntityID, &c.LocalData,
		&c.LocalTimestamp, &c.RemoteData, &c.RemoteTimestamp, &c.RemoteDeviceID,
		&c.Status, &c.Strategy, &c.ResolvedData, &c.ResolvedBy, &c.DetectedAt,
		&c.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// PostgresStatusRepository implements StatusRepository on pgx. The row is
// keyed by user_id; Save is an upsert so lazy creation and field-level
// last-write-wins both fall out of one statement.
type PostgresStatusRepository struct {
	db *pgxpool.Pool
}

func NewPostgresStatusRepository(db *pgxpool.Pool) *PostgresStatusRepository {
	return &PostgresStatusRepository{db: db}
}

func (r *PostgresStatusRepository) GetByUser(ctx context.Context, userID string) (*Status, error) {
	var s Status
	err := r.db.QueryRow(ctx, `
		SELECT user_id, last_sync_at, pending_changes, sync_state,
		       syncing_count, total_to_sync, progress_percent, is_offline,
		       offline_since, last_error, device_id, app_version
		FROM sync_status
		WHERE user_id = $1
	`, userID).Scan(&s.UserID, &s.LastSyncAt, &s.PendingChanges, &s.State,
		&s.SyncingCount, &s.TotalToSync, &s.ProgressPercent, &s.IsOffline,
		&s.OfflineSince, &s.LastError, &s.DeviceID, &s.AppVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresStatusRepository) Save(ctx context.Context, s *Status) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sync_status
			(user_id, last_sync_at, pending_changes, sync_state, syncing_count,
			 total_to_sync, progress_percent, is_offline, offline_since,
			 last_error, device_id, app_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO UPDATE SET
			last_sync_at     = EXCLUDED.last_sync_at,
			pending_changes  = EXCLUDED.pending_changes,
			sync_state       = EXCLUDED.sync_state,
			syncing_count    = EXCLUDED.syncing_count,
			total_to_sync    = EXCLUDED.total_to_sync,
			progress_percent = EXCLUDED.progress_percent,
			is_offline       = EXCLUDED.is_offline,
			offline_since    = EXCLUDED.offline_since,
			last_error       = EXCLUDED.last_error,
			device_id        = EXCLUDED.device_id,
			app_version      = EXCLUDED.app_version
	`, s.UserID, s.LastSyncAt, s.PendingChanges, s.State, s.SyncingCount,
		s.TotalToSync, s.ProgressPercent, s.IsOffline, s.OfflineSince,
		s.LastError, s.DeviceID, s.AppVersion)
	return err
}
