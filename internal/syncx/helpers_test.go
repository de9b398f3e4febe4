package syncx

import (
	"time"
)

// fakeClock lets tests control the time seen by the services.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

// fixture wires the full service graph over in-memory repositories.
type fixture struct {
	clock *fakeClock

	queueRepo    *MemoryQueueRepository
	conflictRepo *MemoryConflictRepository
	statusRepo   *MemoryStatusRepository

	status    *StatusService
	conflicts *ConflictService
	queue     *QueueService
	offline   *OfflineDetector
}

func newFixture() *fixture {
	f := &fixture{
		clock:        newFakeClock(),
		queueRepo:    NewMemoryQueueRepository(),
		conflictRepo: NewMemoryConflictRepository(),
		statusRepo:   NewMemoryStatusRepository(),
	}
	f.status = NewStatusService(f.statusRepo, f.queueRepo)
	f.conflicts = NewConflictService(f.conflictRepo)
	f.queue = NewQueueService(f.queueRepo, f.status, f.conflicts)
	f.offline = NewOfflineDetector(f.statusRepo)

	f.status.now = f.clock.Now
	f.conflicts.now = f.clock.Now
	f.queue.now = f.clock.Now
	f.offline.now = f.clock.Now
	return f
}
