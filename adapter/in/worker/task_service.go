package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mailvault/core/domain"
	"mailvault/core/port/out"
	"mailvault/pkg/apperr"
)

// Status record lifetimes. Terminal records expire fast so the board stays
// small; active records survive long-running tasks.
const (
	activeStatusTTL   = time.Hour
	terminalStatusTTL = time.Minute
)

// resubmitDelay is how long an over-limit submission waits before retrying
// the semaphore.
const resubmitDelay = 5 * time.Second

// submitter is the slice of Pool the task service needs.
type submitter interface {
	Submit(msg *Message) bool
}

// processor dispatches one message; *Handler in production.
type processor interface {
	Process(ctx context.Context, msg *Message) error
}

// =============================================================================
// Tasks - 작업 수명주기 관리
// =============================================================================

// Tasks owns the task lifecycle: deduplication, the per-user concurrency
// gate, status transitions and cancellation. The pool calls back into Run for
// actual execution.
type Tasks struct {
	pool    submitter
	handler processor
	board   out.StatusBoard
	sem     out.Semaphore

	adminLimit int
	userLimit  int
	maxRetries int

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	log zerolog.Logger
}

func NewTasks(handler processor, board out.StatusBoard, sem out.Semaphore, adminLimit, userLimit int, log zerolog.Logger) *Tasks {
	if adminLimit <= 0 {
		adminLimit = 30
	}
	if userLimit <= 0 {
		userLimit = 10
	}
	return &Tasks{
		handler:    handler,
		board:      board,
		sem:        sem,
		adminLimit: adminLimit,
		userLimit:  userLimit,
		maxRetries: 3,
		cancels:    make(map[string]context.CancelFunc),
		log:        log.With().Str("component", "task_service").Logger(),
	}
}

// AttachPool wires the pool after construction; the pool needs Tasks as its
// runner and Tasks needs the pool for submission.
func (t *Tasks) AttachPool(pool submitter) {
	t.pool = pool
}

// =============================================================================
// Submission
// =============================================================================

// Submit registers a task and hands it to the pool. At most one task per
// (type, group) key may be live cluster-wide, regardless of submitter; a
// submission while the key is held returns the holder's task id instead of
// starting a second run against the same cursor state.
func (t *Tasks) Submit(ctx context.Context, userID int64, isAdmin bool, taskType, groupID string, payload map[string]any) (string, error) {
	msg := NewMessage(taskType, userID, groupID, payload)

	holder, err := t.board.Claim(ctx, t.cancelKey(msg), domain.ActiveTask{TaskID: msg.ID, UserID: userID}, activeStatusTTL)
	if err != nil {
		return "", err
	}
	if holder != nil {
		t.log.Debug().Str("task_key", t.cancelKey(msg)).
			Str("task_id", holder.TaskID).Msg("duplicate submission collapsed")
		return holder.TaskID, nil
	}

	if err := t.setStatus(ctx, msg, domain.TaskPending, ""); err != nil {
		if relErr := t.board.ReleaseKey(ctx, t.cancelKey(msg), msg.ID); relErr != nil {
			t.log.Error().Err(relErr).Str("task_id", msg.ID).Msg("active marker release failed")
		}
		return "", err
	}

	limit := t.userLimit
	if isAdmin {
		limit = t.adminLimit
	}
	t.trySubmit(msg, limit)
	return msg.ID, nil
}

// trySubmit acquires a concurrency slot and pushes the message to the pool.
// At the limit it leaves the task pending and retries after a delay; the
// retry loop stops once the status record is no longer pending (cancelled or
// expired).
func (t *Tasks) trySubmit(msg *Message, limit int) {
	ctx := context.Background()

	current, err := t.board.Get(ctx, msg.UserID, msg.Type, msg.GroupID)
	if err == nil && (current == nil || current.TaskID != msg.ID || current.State != domain.TaskPending) {
		return
	}

	ok, err := t.sem.Acquire(ctx, msg.UserID, limit)
	if err != nil {
		t.log.Error().Err(err).Str("task_id", msg.ID).Msg("semaphore acquire failed")
		t.finish(ctx, msg, domain.TaskFailure, "concurrency gate unavailable")
		return
	}
	if !ok {
		time.AfterFunc(resubmitDelay, func() { t.trySubmit(msg, limit) })
		return
	}

	if t.pool == nil || !t.pool.Submit(msg) {
		if relErr := t.sem.Release(ctx, msg.UserID); relErr != nil {
			t.log.Error().Err(relErr).Msg("semaphore release failed")
		}
		t.finish(ctx, msg, domain.TaskFailure, "worker pool not running")
	}
}

// =============================================================================
// Execution
// =============================================================================

// Run executes one message. It is the pool's runner: it moves the status to
// running, dispatches, and writes the terminal state unless a cancellation
// already did. Transient failures with retry budget left are handed back to
// the pool; the task keeps its running status and its concurrency slot until
// the retries are spent.
func (t *Tasks) Run(ctx context.Context, msg *Message) error {
	runCtx, cancel := context.WithCancel(ctx)
	key := t.cancelKey(msg)

	t.mu.Lock()
	t.cancels[key] = cancel
	t.mu.Unlock()

	retrying := false
	defer func() {
		cancel()
		t.mu.Lock()
		delete(t.cancels, key)
		t.mu.Unlock()
		if !retrying {
			if err := t.sem.Release(context.Background(), msg.UserID); err != nil {
				t.log.Error().Err(err).Int64("user_id", msg.UserID).Msg("semaphore release failed")
			}
		}
	}()

	if err := t.setStatus(runCtx, msg, domain.TaskRunning, ""); err != nil {
		t.log.Warn().Err(err).Str("task_id", msg.ID).Msg("running status write failed")
	}

	err := t.handler.Process(runCtx, msg)

	if err != nil && apperr.Retryable(err) && runCtx.Err() == nil && msg.Retries < t.maxRetries {
		retrying = true
		return err
	}

	// A cancel may have written its terminal state while the processor was
	// unwinding; terminal states are never overwritten.
	finishCtx := context.Background()
	current, getErr := t.board.Get(finishCtx, msg.UserID, msg.Type, msg.GroupID)
	if getErr == nil && current != nil && current.TaskID == msg.ID && current.State.Terminal() {
		return nil
	}

	switch {
	case err == nil:
		t.finish(finishCtx, msg, domain.TaskSuccess, "")
	case runCtx.Err() != nil || apperr.IsCode(err, apperr.CodeCancelled):
		t.finish(finishCtx, msg, domain.TaskCancelled, "cancelled")
	default:
		t.finish(finishCtx, msg, domain.TaskFailure, err.Error())
	}
	return nil
}

// Cancel stops a pending or running task. Running tasks get their context
// cancelled; the terminal status is written immediately either way so
// duplicate submissions unblock.
func (t *Tasks) Cancel(ctx context.Context, userID int64, taskType, groupID string) error {
	current, err := t.board.Get(ctx, userID, taskType, groupID)
	if err != nil {
		return apperr.QueueUnavailable(err)
	}
	if current == nil || current.State.Terminal() {
		return apperr.NotFound("active task")
	}

	msg := &Message{ID: current.TaskID, Type: taskType, UserID: userID, GroupID: groupID}
	t.finish(ctx, msg, domain.TaskCancelled, "cancelled by user")

	t.mu.Lock()
	cancel, ok := t.cancels[t.cancelKey(msg)]
	t.mu.Unlock()
	if ok {
		cancel()
	}

	t.log.Info().Str("task_id", current.TaskID).Str("task_type", taskType).
		Str("group_id", groupID).Msg("task cancelled")
	return nil
}

// ListStatus returns every live status record of one task type for the user.
func (t *Tasks) ListStatus(ctx context.Context, userID int64, taskType string) ([]domain.TaskStatus, error) {
	statuses, err := t.board.ListByType(ctx, userID, taskType)
	if err != nil {
		return nil, apperr.QueueUnavailable(err)
	}
	return statuses, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (t *Tasks) cancelKey(msg *Message) string {
	return domain.TaskKey(msg.Type, msg.GroupID)
}

func (t *Tasks) setStatus(ctx context.Context, msg *Message, state domain.TaskState, message string) error {
	ttl := activeStatusTTL
	if state.Terminal() {
		ttl = terminalStatusTTL
	}
	st := domain.TaskStatus{
		TaskID:    msg.ID,
		GroupID:   msg.GroupID,
		Type:      msg.Type,
		State:     state,
		Message:   message,
		UpdatedAt: time.Now().Unix(),
	}
	if err := t.board.Set(ctx, msg.UserID, st, ttl); err != nil {
		return apperr.QueueUnavailable(err)
	}
	return nil
}

func (t *Tasks) finish(ctx context.Context, msg *Message, state domain.TaskState, message string) {
	if err := t.setStatus(ctx, msg, state, message); err != nil {
		t.log.Error().Err(err).Str("task_id", msg.ID).
			Str("state", string(state)).Msg("terminal status write failed")
	}
	if err := t.board.ReleaseKey(ctx, t.cancelKey(msg), msg.ID); err != nil {
		t.log.Error().Err(err).Str("task_id", msg.ID).Msg("active marker release failed")
	}
}
