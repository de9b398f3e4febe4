package syncx

import (
	"context"
	"sort"
	"sync"
	"time"
)

// In-memory repositories backed by maps. They are the test doubles for the
// postgres implementations and are also handy for local runs without a
// database; both implementations must stay behaviorally interchangeable.

// MemoryQueueRepository is an in-memory QueueRepository.
type MemoryQueueRepository struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]*QueueItem
}

func NewMemoryQueueRepository() *MemoryQueueRepository {
	return &MemoryQueueRepository{items: make(map[int64]*QueueItem)}
}

func (r *MemoryQueueRepository) Create(ctx context.Context, item *QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	item.ID = r.nextID
	cp := *item
	r.items[item.ID] = &cp
	return nil
}

func (r *MemoryQueueRepository) GetByID(ctx context.Context, id int64) (*QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (r *MemoryQueueRepository) Update(ctx context.Context, item *QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[item.ID]; !ok {
		return ErrNotFound
	}
	cp := *item
	r.items[item.ID] = &cp
	return nil
}

func (r *MemoryQueueRepository) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *MemoryQueueRepository) ClaimNextPending(ctx context.Context, userID string, now time.Time) (*QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check-and-claim under a single lock hold so two concurrent drains
	// cannot both pass the in-flight check and take the same item.
	for _, item := range r.items {
		if item.UserID == userID && item.Status == ItemInProgress {
			return nil, nil
		}
	}

	var eligible []*QueueItem
	for _, item := range r.items {
		if item.UserID != userID || item.Status != ItemPending {
			continue
		}
		if item.NotBefore != nil && item.NotBefore.After(now) {
			continue
		}
		eligible = append(eligible, item)
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	eligible[0].Status = ItemInProgress
	cp := *eligible[0]
	return &cp, nil
}

func (r *MemoryQueueRepository) ListByUserAndStatus(ctx context.Context, userID string, status ItemStatus) ([]*QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*QueueItem
	for _, item := range r.items {
		if item.UserID == userID && item.Status == status {
			cp := *item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryQueueRepository) CountByUserAndStatus(ctx context.Context, userID string, status ItemStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.items {
		if item.UserID == userID && item.Status == status {
			n++
		}
	}
	return n, nil
}

func (r *MemoryQueueRepository) DeleteByUserAndStatus(ctx context.Context, userID string, status ItemStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, item := range r.items {
		if item.UserID == userID && item.Status == status {
			delete(r.items, id)
			n++
		}
	}
	return n, nil
}

// MemoryConflictRepository is an in-memory ConflictRepository.
type MemoryConflictRepository struct {
	mu        sync.Mutex
	nextID    int64
	conflicts map[int64]*Conflict
}

func NewMemoryConflictRepository() *MemoryConflictRepository {
	return &MemoryConflictRepository{conflicts: make(map[int64]*Conflict)}
}

func (r *MemoryConflictRepository) Create(ctx context.Context, c *Conflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c.ID = r.nextID
	cp := *c
	r.conflicts[c.ID] = &cp
	return nil
}

func (r *MemoryConflictRepository) GetByID(ctx context.Context, id int64) (*Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conflicts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryConflictRepository) Update(ctx context.Context, c *Conflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conflicts[c.ID]; !ok {
		return ErrNotFound
	}
	cp := *c
	r.conflicts[c.ID] = &cp
	return nil
}

func (r *MemoryConflictRepository) FindOpen(ctx context.Context, userID, entityType, entityID string) (*Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conflicts {
		if c.UserID == userID && c.EntityType == entityType && c.EntityID == entityID && c.Status == ConflictPending {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryConflictRepository) ListPending(ctx context.Context, userID string) ([]*Conflict, error) {
	return r.list(userID, true)
}

func (r *MemoryConflictRepository) ListByUser(ctx context.Context, userID string) ([]*Conflict, error) {
	return r.list(userID, false)
}

func (r *MemoryConflictRepository) list(userID string, pendingOnly bool) ([]*Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Conflict
	for _, c := range r.conflicts {
		if c.UserID != userID {
			continue
		}
		if pendingOnly && c.Status != ConflictPending {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	// Newest detected first.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.After(out[j].DetectedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *MemoryConflictRepository) CountPending(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.conflicts {
		if c.UserID == userID && c.Status == ConflictPending {
			n++
		}
	}
	return n, nil
}

func (r *MemoryConflictRepository) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, c := range r.conflicts {
		if c.Status == ConflictPending {
			continue
		}
		if c.ResolvedAt != nil && c.ResolvedAt.Before(cutoff) {
			delete(r.conflicts, id)
			n++
		}
	}
	return n, nil
}

// MemoryStatusRepository is an in-memory StatusRepository.
type MemoryStatusRepository struct {
	mu       sync.Mutex
	statuses map[string]*Status
}

func NewMemoryStatusRepository() *MemoryStatusRepository {
	return &MemoryStatusRepository{statuses: make(map[string]*Status)}
}

func (r *MemoryStatusRepository) GetByUser(ctx context.Context, userID string) (*Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.statuses[userID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryStatusRepository) Save(ctx context.Context, s *Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.statuses[s.UserID] = &cp
	return nil
}
