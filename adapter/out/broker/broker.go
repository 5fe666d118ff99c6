// Package broker adapts the Redis client to the core's queue, status and
// semaphore ports.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"mailvault/core/domain"
	"mailvault/core/port/out"
	"mailvault/pkg/apperr"
)

// Key layout shared with the polling UI.
const (
	KeyWriteQueue  = "sys:db_write_queue"
	KeyWriteFailed = "sys:db_write_failed"

	keyConcurrencyPrefix = "sys:concurrency:user:"
	keyStatusTemplate    = "sys:status:user:%d:type:%s:group:%s"
	keyActivePrefix      = "sys:task_active:"
)

// Broker implements out.WriteQueue, out.StatusBoard and out.Semaphore.
type Broker struct {
	client *redis.Client
}

func New(client *redis.Client) *Broker {
	return &Broker{client: client}
}

// Client exposes the underlying Redis client for health checks.
func (b *Broker) Client() *redis.Client {
	return b.client
}

// =============================================================================
// Write Queue
// =============================================================================

// Push enqueues ops atomically via one pipeline. Producers push to the left,
// the writer daemon pops from the right, so the list is FIFO.
func (b *Broker) Push(ctx context.Context, ops []domain.WriteOp) error {
	if len(ops) == 0 {
		return nil
	}

	pipe := b.client.Pipeline()
	for _, op := range ops {
		data, err := json.Marshal(op)
		if err != nil {
			return err
		}
		pipe.LPush(ctx, KeyWriteQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.QueueUnavailable(err)
	}
	return nil
}

// PopBatch pops up to max items in FIFO order.
func (b *Broker) PopBatch(ctx context.Context, max int) ([][]byte, error) {
	values, err := b.client.RPopCount(ctx, KeyWriteQueue, max).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.QueueUnavailable(err)
	}

	items := make([][]byte, len(values))
	for i, v := range values {
		items[i] = []byte(v)
	}
	return items, nil
}

// RequeueFront pushes popped items back onto the consuming end. Items arrive
// in pop order (oldest first); pushing them right-to-left in reverse restores
// the original order.
func (b *Broker) RequeueFront(ctx context.Context, items [][]byte) error {
	if len(items) == 0 {
		return nil
	}

	pipe := b.client.Pipeline()
	for i := len(items) - 1; i >= 0; i-- {
		pipe.RPush(ctx, KeyWriteQueue, items[i])
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.QueueUnavailable(err)
	}
	return nil
}

// DeadLetter moves items to the failed list.
func (b *Broker) DeadLetter(ctx context.Context, items [][]byte) error {
	if len(items) == 0 {
		return nil
	}

	pipe := b.client.Pipeline()
	for _, item := range items {
		pipe.LPush(ctx, KeyWriteFailed, item)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.QueueUnavailable(err)
	}
	return nil
}

// Len returns the pending queue depth.
func (b *Broker) Len(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, KeyWriteQueue).Result()
}

// =============================================================================
// Status Board
// =============================================================================

func statusKey(userID int64, taskType, groupID string) string {
	return fmt.Sprintf(keyStatusTemplate, userID, taskType, groupID)
}

// Set writes the status record with the given TTL. Last write wins.
func (b *Broker) Set(ctx context.Context, userID int64, st domain.TaskStatus, ttl time.Duration) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	key := statusKey(userID, st.Type, st.GroupID)
	if err := b.client.SetEx(ctx, key, data, ttl).Err(); err != nil {
		return apperr.QueueUnavailable(err)
	}
	return nil
}

// Get returns nil when no record exists.
func (b *Broker) Get(ctx context.Context, userID int64, taskType, groupID string) (*domain.TaskStatus, error) {
	val, err := b.client.Get(ctx, statusKey(userID, taskType, groupID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.QueueUnavailable(err)
	}

	var st domain.TaskStatus
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListByType scans all status records of one type for one user.
func (b *Broker) ListByType(ctx context.Context, userID int64, taskType string) ([]domain.TaskStatus, error) {
	pattern := statusKey(userID, taskType, "*")

	var keys []string
	var cursor uint64
	for {
		batch, next, err := b.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, apperr.QueueUnavailable(err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		return nil, nil
	}

	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperr.QueueUnavailable(err)
	}

	results := make([]domain.TaskStatus, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		var st domain.TaskStatus
		if err := json.Unmarshal([]byte(s), &st); err != nil {
			continue
		}
		results = append(results, st)
	}
	return results, nil
}

// Delete removes one status record.
func (b *Broker) Delete(ctx context.Context, userID int64, taskType, groupID string) error {
	return b.client.Del(ctx, statusKey(userID, taskType, groupID)).Err()
}

// Claim takes the task key with SETNX. SETNX losing the race means another
// task holds the key; its marker is returned so the caller can collapse the
// submission onto it.
func (b *Broker) Claim(ctx context.Context, taskKey string, marker domain.ActiveTask, ttl time.Duration) (*domain.ActiveTask, error) {
	data, err := json.Marshal(marker)
	if err != nil {
		return nil, err
	}
	key := keyActivePrefix + taskKey

	for {
		ok, err := b.client.SetNX(ctx, key, data, ttl).Result()
		if err != nil {
			return nil, apperr.QueueUnavailable(err)
		}
		if ok {
			return nil, nil
		}

		val, err := b.client.Get(ctx, key).Result()
		if err == redis.Nil {
			// Holder expired between SETNX and GET.
			continue
		}
		if err != nil {
			return nil, apperr.QueueUnavailable(err)
		}
		var holder domain.ActiveTask
		if err := json.Unmarshal([]byte(val), &holder); err != nil {
			return nil, err
		}
		return &holder, nil
	}
}

// ReleaseKey frees the task key, but never a marker a newer task took over
// after this one expired.
func (b *Broker) ReleaseKey(ctx context.Context, taskKey, taskID string) error {
	key := keyActivePrefix + taskKey
	val, err := b.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return apperr.QueueUnavailable(err)
	}
	var holder domain.ActiveTask
	if err := json.Unmarshal([]byte(val), &holder); err == nil && holder.TaskID != taskID {
		return nil
	}
	return b.client.Del(ctx, key).Err()
}

// =============================================================================
// Per-User Semaphore
// =============================================================================

// Acquire increments the user's counter and backs out when over the limit.
func (b *Broker) Acquire(ctx context.Context, userID int64, limit int) (bool, error) {
	key := fmt.Sprintf("%s%d", keyConcurrencyPrefix, userID)
	current, err := b.client.Incr(ctx, key).Result()
	if err != nil {
		return false, apperr.QueueUnavailable(err)
	}
	if current > int64(limit) {
		_ = b.client.Decr(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

// Release decrements the user's counter.
func (b *Broker) Release(ctx context.Context, userID int64) error {
	key := fmt.Sprintf("%s%d", keyConcurrencyPrefix, userID)
	return b.client.Decr(ctx, key).Err()
}

// Compile-time port checks.
var (
	_ out.WriteQueue  = (*Broker)(nil)
	_ out.StatusBoard = (*Broker)(nil)
	_ out.Semaphore   = (*Broker)(nil)
)
