package out

import (
	"context"
	"time"

	"mailvault/core/domain"
)

// WriteQueue is the durable FIFO between sync producers and the writer
// daemon.
type WriteQueue interface {
	// Push enqueues ops atomically (single pipeline).
	Push(ctx context.Context, ops []domain.WriteOp) error
	// PopBatch pops up to max raw items in FIFO order. Empty slice when the
	// queue is drained.
	PopBatch(ctx context.Context, max int) ([][]byte, error)
	// RequeueFront puts popped items back so they are consumed next, in
	// their original order.
	RequeueFront(ctx context.Context, items [][]byte) error
	// DeadLetter moves items to the failed list for human attention.
	DeadLetter(ctx context.Context, items [][]byte) error
	// Len returns the pending queue depth.
	Len(ctx context.Context) (int64, error)
}

// StatusBoard stores task status records keyed by (user, type, group) and
// the cluster-wide active markers keyed by task key alone.
type StatusBoard interface {
	Set(ctx context.Context, userID int64, st domain.TaskStatus, ttl time.Duration) error
	// Get returns nil without error when no record exists.
	Get(ctx context.Context, userID int64, taskType, groupID string) (*domain.TaskStatus, error)
	ListByType(ctx context.Context, userID int64, taskType string) ([]domain.TaskStatus, error)
	Delete(ctx context.Context, userID int64, taskType, groupID string) error

	// Claim atomically marks the task key active. When another task already
	// holds the key, its marker is returned and nothing is written.
	Claim(ctx context.Context, taskKey string, marker domain.ActiveTask, ttl time.Duration) (*domain.ActiveTask, error)
	// ReleaseKey removes the active marker if taskID still holds it.
	ReleaseKey(ctx context.Context, taskKey, taskID string) error
}

// Semaphore is the per-user concurrency gate backed by an atomic counter.
type Semaphore interface {
	// Acquire returns false when the user is at the limit; the slot is
	// released again before returning false.
	Acquire(ctx context.Context, userID int64, limit int) (bool, error)
	Release(ctx context.Context, userID int64) error
}
