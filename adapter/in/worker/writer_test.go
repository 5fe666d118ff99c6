package worker

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"mailvault/core/domain"
	"mailvault/infra/database"
	"mailvault/pkg/logger"
)

// =============================================================================
// Fakes
// =============================================================================

type memoryQueue struct {
	items      [][]byte
	deadLetter [][]byte
	requeued   [][]byte
}

func (q *memoryQueue) Push(_ context.Context, ops []domain.WriteOp) error {
	for _, op := range ops {
		raw, err := json.Marshal(op)
		if err != nil {
			return err
		}
		q.items = append(q.items, raw)
	}
	return nil
}

func (q *memoryQueue) PopBatch(_ context.Context, max int) ([][]byte, error) {
	if max > len(q.items) {
		max = len(q.items)
	}
	popped := q.items[:max]
	q.items = q.items[max:]
	return popped, nil
}

func (q *memoryQueue) RequeueFront(_ context.Context, items [][]byte) error {
	q.requeued = append(q.requeued, items...)
	q.items = append(append([][]byte{}, items...), q.items...)
	return nil
}

func (q *memoryQueue) DeadLetter(_ context.Context, items [][]byte) error {
	q.deadLetter = append(q.deadLetter, items...)
	return nil
}

func (q *memoryQueue) Len(context.Context) (int64, error) {
	return int64(len(q.items)), nil
}

// =============================================================================
// Helpers
// =============================================================================

func newTestStore(t *testing.T) *database.Store {
	t.Helper()
	store, err := database.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return store
}

func rawOps(t *testing.T, ops ...domain.WriteOp) [][]byte {
	t.Helper()
	items := make([][]byte, 0, len(ops))
	for _, op := range ops {
		raw, err := json.Marshal(op)
		if err != nil {
			t.Fatalf("marshal op: %v", err)
		}
		items = append(items, raw)
	}
	return items
}

func messageOp(groupID, uid string) domain.WriteOp {
	now := domain.SQLTime(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	return domain.InsertMessage(domain.MessageRow{
		GroupID:    groupID,
		AccountID:  1,
		MsgUID:     uid,
		Subject:    "subject " + uid,
		FromAddr:   "sender@example.com",
		FolderID:   "inbox",
		SentAt:     now,
		ReceivedAt: now,
		Flags:      domain.FlagUnread,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func countRows(t *testing.T, store *database.Store, table string) int {
	t.Helper()
	var n int
	if err := store.DB().Get(&n, "SELECT COUNT(*) FROM "+table); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

// =============================================================================
// Flush
// =============================================================================

func TestFlushInsertsGroupedRows(t *testing.T) {
	store := newTestStore(t)
	queue := &memoryQueue{}
	w := NewWriter(store, queue, nil, logger.L())

	now := domain.SQLTime(time.Now())
	items := rawOps(t,
		messageOp("g1", "u1"),
		messageOp("g1", "u2"),
		domain.UpsertBody(domain.BodyRow{MessageID: 1, BodyPlain: "hello", CreatedAt: now}),
		domain.InsertAttachment(domain.AttachmentRow{
			MessageID: 1, AttachmentID: "a1", Filename: "f.pdf", DownloadStatus: domain.AttachmentPending,
		}),
		domain.InsertFolder(domain.FolderRow{
			FolderID: "inbox", GroupID: "g1", DisplayName: "Inbox", CreatedAt: now, UpdatedAt: now,
		}),
	)

	if err := w.Flush(context.Background(), items); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if n := countRows(t, store, "mail_message"); n != 2 {
		t.Errorf("messages = %d, want 2", n)
	}
	if n := countRows(t, store, "mail_body"); n != 1 {
		t.Errorf("bodies = %d, want 1", n)
	}
	if n := countRows(t, store, "mail_attachment"); n != 1 {
		t.Errorf("attachments = %d, want 1", n)
	}
	if n := countRows(t, store, "mail_folders"); n != 1 {
		t.Errorf("folders = %d, want 1", n)
	}
}

func TestFlushIgnoresDuplicateMessages(t *testing.T) {
	store := newTestStore(t)
	w := NewWriter(store, &memoryQueue{}, nil, logger.L())

	if err := w.Flush(context.Background(), rawOps(t, messageOp("g1", "u1"))); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	// Same (group_id, msg_uid) arriving again, e.g. from an overlapping sync.
	if err := w.Flush(context.Background(), rawOps(t, messageOp("g1", "u1"), messageOp("g2", "u1"))); err != nil {
		t.Fatalf("second flush: %v", err)
	}

	if n := countRows(t, store, "mail_message"); n != 2 {
		t.Errorf("messages = %d, want 2 (duplicate ignored, other group kept)", n)
	}
}

func TestFlushReplacesBody(t *testing.T) {
	store := newTestStore(t)
	w := NewWriter(store, &memoryQueue{}, nil, logger.L())

	now := domain.SQLTime(time.Now())
	first := domain.UpsertBody(domain.BodyRow{MessageID: 5, BodyPlain: "old", CreatedAt: now})
	second := domain.UpsertBody(domain.BodyRow{MessageID: 5, BodyPlain: "new", CreatedAt: now})

	if err := w.Flush(context.Background(), rawOps(t, first)); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	if err := w.Flush(context.Background(), rawOps(t, second)); err != nil {
		t.Fatalf("second flush: %v", err)
	}

	var body string
	if err := store.DB().Get(&body, "SELECT body_plain FROM mail_body WHERE message_id = 5"); err != nil {
		t.Fatalf("select body: %v", err)
	}
	if body != "new" {
		t.Errorf("body = %q, want new", body)
	}
	if n := countRows(t, store, "mail_body"); n != 1 {
		t.Errorf("bodies = %d, want 1", n)
	}
}

func TestFolderUpsertPreservesSyncCursor(t *testing.T) {
	store := newTestStore(t)
	w := NewWriter(store, &memoryQueue{}, nil, logger.L())

	now := domain.SQLTime(time.Now())
	if err := w.Flush(context.Background(), rawOps(t, domain.InsertFolder(domain.FolderRow{
		FolderID: "inbox", GroupID: "g1", DisplayName: "Inbox",
		TotalCount: 10, CreatedAt: now, UpdatedAt: now,
	}))); err != nil {
		t.Fatalf("first flush: %v", err)
	}

	// Sync engine sets the cursor directly.
	if _, err := store.DB().Exec(
		`UPDATE mail_folders SET delta_link = 'delta-1', last_sync_at = ?, synced_count = 42
		 WHERE group_id = 'g1' AND folder_id = 'inbox'`, now); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}

	// A later discovery round refreshes metadata.
	if err := w.Flush(context.Background(), rawOps(t, domain.InsertFolder(domain.FolderRow{
		FolderID: "inbox", GroupID: "g1", DisplayName: "Inbox Renamed",
		TotalCount: 25, CreatedAt: now, UpdatedAt: now,
	}))); err != nil {
		t.Fatalf("second flush: %v", err)
	}

	var row struct {
		DisplayName string  `db:"display_name"`
		TotalCount  int     `db:"total_count"`
		DeltaLink   *string `db:"delta_link"`
		SyncedCount int     `db:"synced_count"`
	}
	if err := store.DB().Get(&row,
		`SELECT display_name, total_count, delta_link, synced_count
		 FROM mail_folders WHERE group_id = 'g1' AND folder_id = 'inbox'`); err != nil {
		t.Fatalf("select folder: %v", err)
	}

	if row.DisplayName != "Inbox Renamed" || row.TotalCount != 25 {
		t.Errorf("metadata not refreshed: %+v", row)
	}
	if row.DeltaLink == nil || *row.DeltaLink != "delta-1" || row.SyncedCount != 42 {
		t.Errorf("cursor columns must survive metadata upsert: %+v", row)
	}
}

func TestFlushDeadLettersMalformedEnvelopes(t *testing.T) {
	store := newTestStore(t)
	queue := &memoryQueue{}
	w := NewWriter(store, queue, nil, logger.L())

	items := [][]byte{
		[]byte(`not json at all`),
		[]byte(`{"table":"accounts","data":{}}`), // table outside the closed set
	}
	items = append(items, rawOps(t, messageOp("g1", "u1"))...)

	if err := w.Flush(context.Background(), items); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if len(queue.deadLetter) != 2 {
		t.Errorf("dead letters = %d, want 2", len(queue.deadLetter))
	}
	if n := countRows(t, store, "mail_message"); n != 1 {
		t.Errorf("messages = %d, want 1 (good envelope still lands)", n)
	}
}

// =============================================================================
// Loop recovery
// =============================================================================

func TestFlushOrRecoverRequeuesThenDeadLetters(t *testing.T) {
	store := newTestStore(t)
	queue := &memoryQueue{}
	w := NewWriter(store, queue, nil, logger.L())

	// A body row whose created_at column is valid but message_id collides
	// with nothing; force failure instead by closing the store.
	store.Close()

	items := rawOps(t, messageOp("g1", "u1"))
	failures := 0

	if ok := w.flushOrRecover(context.Background(), items, &failures); ok {
		t.Fatal("flush against closed store must fail")
	}
	if failures != 1 || len(queue.requeued) != 1 {
		t.Fatalf("failures=%d requeued=%d, want 1/1", failures, len(queue.requeued))
	}

	failures = w.config.MaxFailures - 1
	if ok := w.flushOrRecover(context.Background(), items, &failures); ok {
		t.Fatal("flush against closed store must fail")
	}
	if failures != 0 {
		t.Errorf("failure counter must reset after dead-lettering, got %d", failures)
	}
	if len(queue.deadLetter) != 1 {
		t.Errorf("dead letters = %d, want 1", len(queue.deadLetter))
	}
}
