package persistence

import (
	"context"
	"testing"

	"mailvault/core/domain"
	"mailvault/core/port/out"
	"mailvault/infra/database"
)

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

func seedMessage(t *testing.T, store *database.Store, groupID, uid, flags string) {
	t.Helper()
	_, err := store.DB().ExecContext(context.Background(),
		`INSERT INTO mail_message (group_id, account_id, msg_uid, subject, received_at, flags)
		 VALUES (?, 1, ?, ?, datetime('now'), ?)`,
		groupID, uid, "subject "+uid, flags)
	if err != nil {
		t.Fatalf("seed message %s: %v", uid, err)
	}
}

// =============================================================================
// Search
// =============================================================================

func TestSearchUnreadOnlyMatchesUnreadSentinel(t *testing.T) {
	store := newTestStore(t)
	adapter := NewMailAdapter(store)

	seedMessage(t, store, "g-unread", "u1", domain.FlagUnread)
	seedMessage(t, store, "g-unread", "u2", domain.FlagRead)
	seedMessage(t, store, "g-unread", "u3", domain.FlagRead+";"+domain.FlagFlagged)

	msgs, total, err := adapter.Search(context.Background(), out.MailQuery{
		GroupID:    "g-unread",
		UnreadOnly: true,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}
	if len(msgs) != 1 || msgs[0].MsgUID != "u1" {
		t.Fatalf("messages = %+v, want only u1", msgs)
	}
	if msgs[0].Flags != domain.FlagUnread {
		t.Errorf("flags = %q, want %q", msgs[0].Flags, domain.FlagUnread)
	}
}

func TestSearchRestrictedUserSeesOnlyAssignedAccounts(t *testing.T) {
	store := newTestStore(t)
	adapter := NewMailAdapter(store)

	seedMessage(t, store, "g-vis", "v1", domain.FlagUnread)
	_, err := store.DB().ExecContext(context.Background(),
		`INSERT INTO mail_message (group_id, account_id, msg_uid, received_at, flags)
		 VALUES ('g-vis', 2, 'v2', datetime('now'), ?)`, domain.FlagUnread)
	if err != nil {
		t.Fatalf("seed message v2: %v", err)
	}

	_, total, err := adapter.Search(context.Background(), out.MailQuery{
		GroupID:         "g-vis",
		VisibleAccounts: []int64{2},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}

	_, total, err = adapter.Search(context.Background(), out.MailQuery{
		GroupID:         "g-vis",
		VisibleAccounts: []int64{},
	})
	if err != nil {
		t.Fatalf("search with no assignments: %v", err)
	}
	if total != 0 {
		t.Fatalf("total = %d, want 0 for user with no assignments", total)
	}
}
