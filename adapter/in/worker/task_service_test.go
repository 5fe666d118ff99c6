package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"mailvault/core/domain"
	"mailvault/pkg/apperr"
	"mailvault/pkg/logger"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeBoard struct {
	mu      sync.Mutex
	records map[string]domain.TaskStatus
	ttls    map[string]time.Duration
	claims  map[string]domain.ActiveTask
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{
		records: make(map[string]domain.TaskStatus),
		ttls:    make(map[string]time.Duration),
		claims:  make(map[string]domain.ActiveTask),
	}
}

func boardKey(userID int64, taskType, groupID string) string {
	return fmt.Sprintf("%d:%s:%s", userID, taskType, groupID)
}

func (b *fakeBoard) Set(_ context.Context, userID int64, st domain.TaskStatus, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := boardKey(userID, st.Type, st.GroupID)
	b.records[key] = st
	b.ttls[key] = ttl
	return nil
}

func (b *fakeBoard) Get(_ context.Context, userID int64, taskType, groupID string) (*domain.TaskStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.records[boardKey(userID, taskType, groupID)]
	if !ok {
		return nil, nil
	}
	copied := st
	return &copied, nil
}

func (b *fakeBoard) ListByType(_ context.Context, userID int64, taskType string) ([]domain.TaskStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.TaskStatus
	prefix := fmt.Sprintf("%d:%s:", userID, taskType)
	for key, st := range b.records {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, st)
		}
	}
	return out, nil
}

func (b *fakeBoard) Delete(_ context.Context, userID int64, taskType, groupID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, boardKey(userID, taskType, groupID))
	return nil
}

func (b *fakeBoard) Claim(_ context.Context, taskKey string, marker domain.ActiveTask, _ time.Duration) (*domain.ActiveTask, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if holder, ok := b.claims[taskKey]; ok {
		copied := holder
		return &copied, nil
	}
	b.claims[taskKey] = marker
	return nil, nil
}

func (b *fakeBoard) ReleaseKey(_ context.Context, taskKey, taskID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if holder, ok := b.claims[taskKey]; ok && holder.TaskID == taskID {
		delete(b.claims, taskKey)
	}
	return nil
}

func (b *fakeBoard) holder(taskKey string) *domain.ActiveTask {
	b.mu.Lock()
	defer b.mu.Unlock()
	if holder, ok := b.claims[taskKey]; ok {
		copied := holder
		return &copied
	}
	return nil
}

func (b *fakeBoard) state(userID int64, taskType, groupID string) domain.TaskState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.records[boardKey(userID, taskType, groupID)].State
}

type fakeSem struct {
	mu       sync.Mutex
	counts   map[int64]int
	acquires int
}

func newFakeSem() *fakeSem {
	return &fakeSem{counts: make(map[int64]int)}
}

func (s *fakeSem) Acquire(_ context.Context, userID int64, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquires++
	if s.counts[userID] >= limit {
		return false, nil
	}
	s.counts[userID]++
	return true, nil
}

func (s *fakeSem) Release(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[userID]--
	return nil
}

func (s *fakeSem) held(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[userID]
}

// inlinePool runs submitted messages synchronously on the tasks runner.
type inlinePool struct {
	tasks     *Tasks
	mu        sync.Mutex
	submitted []*Message
}

func (p *inlinePool) Submit(msg *Message) bool {
	p.mu.Lock()
	p.submitted = append(p.submitted, msg)
	p.mu.Unlock()
	go p.tasks.Run(context.Background(), msg)
	return true
}

func (p *inlinePool) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.submitted)
}

type funcProcessor struct {
	fn func(ctx context.Context, msg *Message) error
}

func (f *funcProcessor) Process(ctx context.Context, msg *Message) error {
	return f.fn(ctx, msg)
}

func newTaskFixture(fn func(ctx context.Context, msg *Message) error) (*Tasks, *fakeBoard, *fakeSem, *inlinePool) {
	board := newFakeBoard()
	sem := newFakeSem()
	tasks := NewTasks(&funcProcessor{fn: fn}, board, sem, 30, 10, logger.L())
	pool := &inlinePool{tasks: tasks}
	tasks.AttachPool(pool)
	return tasks, board, sem, pool
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(resubmitDelay + 3*time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// =============================================================================
// Submission & lifecycle
// =============================================================================

func TestSubmitRunsToSuccess(t *testing.T) {
	tasks, board, sem, _ := newTaskFixture(func(context.Context, *Message) error {
		return nil
	})

	taskID, err := tasks.Submit(context.Background(), 1, false, domain.TaskSync, "g1", map[string]any{"strategy": "auto"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if taskID == "" {
		t.Fatal("empty task id")
	}

	waitFor(t, func() bool { return board.state(1, domain.TaskSync, "g1") == domain.TaskSuccess })
	waitFor(t, func() bool { return sem.held(1) == 0 })

	if ttl := board.ttls[boardKey(1, domain.TaskSync, "g1")]; ttl != terminalStatusTTL {
		t.Errorf("terminal ttl = %v, want %v", ttl, terminalStatusTTL)
	}
}

func TestSubmitDeduplicatesActiveTask(t *testing.T) {
	release := make(chan struct{})
	tasks, _, _, pool := newTaskFixture(func(ctx context.Context, _ *Message) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	first, err := tasks.Submit(context.Background(), 1, false, domain.TaskSync, "g1", nil)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	waitFor(t, func() bool { return pool.count() == 1 })

	second, err := tasks.Submit(context.Background(), 1, false, domain.TaskSync, "g1", nil)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second != first {
		t.Fatalf("duplicate submission got new task %s, want %s", second, first)
	}
	if pool.count() != 1 {
		t.Fatalf("pool received %d messages, want 1", pool.count())
	}
	close(release)
}

func TestSubmitSameGroupAcrossUsersCollapsesToOneTask(t *testing.T) {
	release := make(chan struct{})
	tasks, board, _, pool := newTaskFixture(func(ctx context.Context, _ *Message) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	first, err := tasks.Submit(context.Background(), 1, false, domain.TaskSync, "g1", nil)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	waitFor(t, func() bool { return pool.count() == 1 })

	// A second user targeting the same group must not start a second run
	// against the same cursor state.
	second, err := tasks.Submit(context.Background(), 2, false, domain.TaskSync, "g1", nil)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second != first {
		t.Fatalf("cross-user submission got new task %s, want %s", second, first)
	}
	if pool.count() != 1 {
		t.Fatalf("pool received %d messages, want 1", pool.count())
	}

	close(release)
	// Completion frees the key for the next round.
	waitFor(t, func() bool { return board.holder(domain.TaskKey(domain.TaskSync, "g1")) == nil })
}

func TestSubmitDifferentGroupsNotDeduplicated(t *testing.T) {
	tasks, _, _, pool := newTaskFixture(func(context.Context, *Message) error { return nil })

	a, _ := tasks.Submit(context.Background(), 1, false, domain.TaskSync, "g1", nil)
	b, _ := tasks.Submit(context.Background(), 1, false, domain.TaskSync, "g2", nil)
	if a == b {
		t.Fatal("distinct groups must get distinct tasks")
	}
	waitFor(t, func() bool { return pool.count() == 2 })
}

func TestFailureWritesFailureStatus(t *testing.T) {
	tasks, board, _, _ := newTaskFixture(func(context.Context, *Message) error {
		return errors.New("provider blew up")
	})

	if _, err := tasks.Submit(context.Background(), 1, false, domain.TaskSync, "g1", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool { return board.state(1, domain.TaskSync, "g1") == domain.TaskFailure })

	st, _ := board.Get(context.Background(), 1, domain.TaskSync, "g1")
	if st.Message != "provider blew up" {
		t.Errorf("failure message = %q", st.Message)
	}
}

// =============================================================================
// Concurrency gate
// =============================================================================

func TestOverLimitSubmissionStaysPendingThenRuns(t *testing.T) {
	blocker := make(chan struct{})
	tasks, board, sem, _ := newTaskFixture(func(ctx context.Context, msg *Message) error {
		if msg.GroupID == "g-blocker" {
			<-blocker
		}
		return nil
	})
	tasks.userLimit = 1

	if _, err := tasks.Submit(context.Background(), 1, false, domain.TaskSync, "g-blocker", nil); err != nil {
		t.Fatalf("submit blocker: %v", err)
	}
	waitFor(t, func() bool { return sem.held(1) == 1 })

	if _, err := tasks.Submit(context.Background(), 1, false, domain.TaskSync, "g-waiting", nil); err != nil {
		t.Fatalf("submit waiting: %v", err)
	}
	// The second task cannot get a slot and must stay pending.
	time.Sleep(50 * time.Millisecond)
	if got := board.state(1, domain.TaskSync, "g-waiting"); got != domain.TaskPending {
		t.Fatalf("state = %s, want pending while gated", got)
	}

	close(blocker)
	waitFor(t, func() bool { return board.state(1, domain.TaskSync, "g-waiting") == domain.TaskSuccess })
}

// =============================================================================
// Cancellation
// =============================================================================

func TestCancelRunningTask(t *testing.T) {
	started := make(chan struct{})
	tasks, board, sem, _ := newTaskFixture(func(ctx context.Context, _ *Message) error {
		close(started)
		<-ctx.Done()
		return apperr.Cancelled("sync round interrupted")
	})

	if _, err := tasks.Submit(context.Background(), 1, false, domain.TaskSync, "g1", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	if err := tasks.Cancel(context.Background(), 1, domain.TaskSync, "g1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	waitFor(t, func() bool { return sem.held(1) == 0 })
	// The cancelled terminal state must not be overwritten by the unwinding run.
	time.Sleep(50 * time.Millisecond)
	if got := board.state(1, domain.TaskSync, "g1"); got != domain.TaskCancelled {
		t.Fatalf("state = %s, want cancelled", got)
	}
}

func TestCancelWithoutActiveTask(t *testing.T) {
	tasks, _, _, _ := newTaskFixture(func(context.Context, *Message) error { return nil })
	err := tasks.Cancel(context.Background(), 1, domain.TaskSync, "g1")
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestListStatus(t *testing.T) {
	tasks, board, _, _ := newTaskFixture(func(context.Context, *Message) error { return nil })

	if _, err := tasks.Submit(context.Background(), 1, false, domain.TaskSync, "g1", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool { return board.state(1, domain.TaskSync, "g1") == domain.TaskSuccess })

	statuses, err := tasks.ListStatus(context.Background(), 1, domain.TaskSync)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(statuses) != 1 || statuses[0].GroupID != "g1" {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
}
