package sync

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"mailvault/core/domain"
	"mailvault/core/port/out"
	"mailvault/pkg/apperr"
	"mailvault/pkg/logger"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeTokens struct {
	token string
	err   error
}

func (f *fakeTokens) GetAccessToken(context.Context, string) (string, error) {
	return f.token, f.err
}

type fakeQueue struct {
	ops []domain.WriteOp
}

func (f *fakeQueue) Push(_ context.Context, ops []domain.WriteOp) error {
	f.ops = append(f.ops, ops...)
	return nil
}
func (f *fakeQueue) PopBatch(context.Context, int) ([][]byte, error) { return nil, nil }
func (f *fakeQueue) RequeueFront(context.Context, [][]byte) error    { return nil }
func (f *fakeQueue) DeadLetter(context.Context, [][]byte) error      { return nil }
func (f *fakeQueue) Len(context.Context) (int64, error)              { return 0, nil }

func (f *fakeQueue) opsFor(table string) []domain.WriteOp {
	var matched []domain.WriteOp
	for _, op := range f.ops {
		if op.Table == table {
			matched = append(matched, op)
		}
	}
	return matched
}

type cursorSave struct {
	folderID  string
	deltaLink string
	added     int
}

type fakeFolderStore struct {
	folders []*domain.MailFolder

	cursorSaves   []cursorSave
	syncTimeSaves []cursorSave
	cleared       []string
}

func (f *fakeFolderStore) ListByGroup(context.Context, string) ([]*domain.MailFolder, error) {
	return f.folders, nil
}

func (f *fakeFolderStore) GetByFolderID(_ context.Context, _, folderID string) (*domain.MailFolder, error) {
	for _, folder := range f.folders {
		if folder.FolderID == folderID {
			return folder, nil
		}
	}
	return nil, nil
}

func (f *fakeFolderStore) SaveCursor(_ context.Context, _, folderID, deltaLink string, _ time.Time, added int) error {
	f.cursorSaves = append(f.cursorSaves, cursorSave{folderID: folderID, deltaLink: deltaLink, added: added})
	return nil
}

func (f *fakeFolderStore) SaveSyncTime(_ context.Context, _, folderID string, _ time.Time, added int) error {
	f.syncTimeSaves = append(f.syncTimeSaves, cursorSave{folderID: folderID, added: added})
	return nil
}

func (f *fakeFolderStore) ClearCursor(_ context.Context, _, folderID string) error {
	f.cleared = append(f.cleared, folderID)
	return nil
}

func (f *fakeFolderStore) ListStaleGroups(context.Context, time.Time) ([]string, error) {
	return nil, nil
}

type fakeAccountStore struct {
	accounts []*domain.Account
}

func (f *fakeAccountStore) ListByGroup(context.Context, string) ([]*domain.Account, error) {
	return f.accounts, nil
}
func (f *fakeAccountStore) UpdateStatus(context.Context, int64, domain.AccountStatus) error {
	return nil
}
func (f *fakeAccountStore) SaveSnapshot(context.Context, *domain.VersionSnapshot) error { return nil }
func (f *fakeAccountStore) ListSnapshots(context.Context, string) ([]*domain.VersionSnapshot, error) {
	return nil, nil
}
func (f *fakeAccountStore) VisibleAccountIDs(context.Context, int64) ([]int64, error) {
	return nil, nil
}

type fakeProvider struct {
	roots    []out.ProviderFolder
	children map[string][]out.ProviderFolder

	deltaPages map[string][]*out.DeltaPage // folderID -> pages in order
	deltaErr   error
	deltaCalls int

	listPages []*out.MessagePage
	listCalls int
	listOpts  []out.ListOptions

	latestLink string
	latestErr  error
}

func (f *fakeProvider) ListRootFolders(context.Context, string) ([]out.ProviderFolder, error) {
	return f.roots, nil
}

func (f *fakeProvider) ListChildFolders(_ context.Context, _, folderID string) ([]out.ProviderFolder, error) {
	return f.children[folderID], nil
}

func (f *fakeProvider) ListMessages(_ context.Context, _, _ string, opts out.ListOptions) (*out.MessagePage, error) {
	f.listOpts = append(f.listOpts, opts)
	if f.listCalls >= len(f.listPages) {
		return &out.MessagePage{}, nil
	}
	page := f.listPages[f.listCalls]
	f.listCalls++
	return page, nil
}

func (f *fakeProvider) DeltaPage(_ context.Context, _, folderID, _ string) (*out.DeltaPage, error) {
	if f.deltaErr != nil {
		err := f.deltaErr
		f.deltaErr = nil
		return nil, err
	}
	pages := f.deltaPages[folderID]
	if f.deltaCalls >= len(pages) {
		return &out.DeltaPage{DeltaLink: "delta-final"}, nil
	}
	page := pages[f.deltaCalls]
	f.deltaCalls++
	return page, nil
}

func (f *fakeProvider) LatestDeltaLink(context.Context, string, string) (string, error) {
	return f.latestLink, f.latestErr
}

func (f *fakeProvider) GetMessageContent(context.Context, string, string) (*out.MessageContent, error) {
	return nil, nil
}

func (f *fakeProvider) SendMail(context.Context, string, out.OutgoingMail) error { return nil }

// =============================================================================
// Helpers
// =============================================================================

func provMsg(uid string, read bool) out.ProviderMessage {
	return out.ProviderMessage{
		UID:        uid,
		InternetID: "<" + uid + "@example.com>",
		Subject:    "subject " + uid,
		FromAddr:   "sender@example.com",
		To:         []string{"a@example.com", "b@example.com"},
		ReceivedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		IsRead:     read,
	}
}

func newTestService(provider *fakeProvider, folders *fakeFolderStore, queue *fakeQueue) *Service {
	accounts := &fakeAccountStore{accounts: []*domain.Account{{ID: 7, GroupID: "g1"}}}
	return NewService(&fakeTokens{token: "tok"}, provider, folders, accounts, queue, 30, logger.L())
}

func storedFolder(folderID, deltaLink string, total int) *domain.MailFolder {
	return &domain.MailFolder{
		GroupID:    "g1",
		FolderID:   folderID,
		TotalCount: total,
		DeltaLink:  deltaLink,
	}
}

// =============================================================================
// Discovery
// =============================================================================

func TestDiscoverFoldersWalksTreeAndSkipsHidden(t *testing.T) {
	provider := &fakeProvider{
		roots: []out.ProviderFolder{
			{ID: "inbox", DisplayName: "Inbox", ChildFolderCount: 2},
			{ID: "junk", DisplayName: "Junk", IsHidden: true, ChildFolderCount: 1},
		},
		children: map[string][]out.ProviderFolder{
			"inbox": {
				{ID: "sub1", DisplayName: "Receipts"},
				{ID: "sub2", DisplayName: "Archive", IsHidden: true},
			},
		},
	}
	queue := &fakeQueue{}
	svc := newTestService(provider, &fakeFolderStore{}, queue)

	discovered, err := svc.DiscoverFolders(context.Background(), "g1")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}

	// inbox + sub1; both hidden folders excluded, junk's subtree never listed.
	if len(discovered) != 2 {
		t.Fatalf("discovered %d folders, want 2", len(discovered))
	}
	ops := queue.opsFor(domain.TableFolder)
	if len(ops) != 2 {
		t.Fatalf("enqueued %d folder ops, want 2", len(ops))
	}

	var row domain.FolderRow
	if err := json.Unmarshal(ops[0].Data, &row); err != nil {
		t.Fatalf("unmarshal folder row: %v", err)
	}
	if row.FolderID != "inbox" || row.GroupID != "g1" {
		t.Errorf("unexpected first row: %+v", row)
	}
}

// =============================================================================
// Delta
// =============================================================================

func TestSyncDeltaWalksToDeltaLink(t *testing.T) {
	provider := &fakeProvider{
		deltaPages: map[string][]*out.DeltaPage{
			"inbox": {
				{Messages: []out.ProviderMessage{provMsg("m1", false), provMsg("m2", true)}, NextLink: "next-1"},
				{Messages: []out.ProviderMessage{provMsg("m3", false), {UID: "gone", Removed: true}}, DeltaLink: "delta-new"},
			},
		},
	}
	folders := &fakeFolderStore{folders: []*domain.MailFolder{storedFolder("inbox", "delta-old", 10)}}
	queue := &fakeQueue{}
	svc := newTestService(provider, folders, queue)

	stats, err := svc.Sync(context.Background(), "g1", domain.SyncDelta)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if stats.Fetched != 3 {
		t.Fatalf("fetched %d, want 3 (tombstone dropped)", stats.Fetched)
	}

	if len(folders.cursorSaves) != 1 {
		t.Fatalf("cursor saves = %d, want 1", len(folders.cursorSaves))
	}
	save := folders.cursorSaves[0]
	if save.deltaLink != "delta-new" || save.added != 3 {
		t.Errorf("unexpected cursor save: %+v", save)
	}

	ops := queue.opsFor(domain.TableMessage)
	if len(ops) != 3 {
		t.Fatalf("message ops = %d, want 3", len(ops))
	}
	var row domain.MessageRow
	if err := json.Unmarshal(ops[0].Data, &row); err != nil {
		t.Fatalf("unmarshal message row: %v", err)
	}
	if row.AccountID != 7 || row.MsgUID != "m1" || row.Flags != domain.FlagUnread {
		t.Errorf("unexpected row: %+v", row)
	}
	if row.ToJoined != "a@example.com,b@example.com" {
		t.Errorf("to_joined = %q", row.ToJoined)
	}
}

func TestSyncAutoPicksDeltaWhenCursorExists(t *testing.T) {
	provider := &fakeProvider{
		deltaPages: map[string][]*out.DeltaPage{
			"inbox": {{Messages: []out.ProviderMessage{provMsg("m1", true)}, DeltaLink: "delta-new"}},
		},
	}
	folders := &fakeFolderStore{folders: []*domain.MailFolder{storedFolder("inbox", "delta-old", 5)}}
	svc := newTestService(provider, folders, &fakeQueue{})

	stats, err := svc.Sync(context.Background(), "g1", domain.SyncAuto)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if stats.Fetched != 1 || len(folders.cursorSaves) != 1 {
		t.Fatalf("auto did not run delta: %+v / %d saves", stats, len(folders.cursorSaves))
	}
}

func TestSyncAutoPicksIncrementalWhenOnlyHistoryExists(t *testing.T) {
	last := time.Date(2026, 8, 25, 11, 30, 0, 0, time.UTC)
	folder := storedFolder("inbox", "", 5)
	folder.LastSyncAt = last

	provider := &fakeProvider{
		listPages: []*out.MessagePage{{Messages: []out.ProviderMessage{provMsg("m1", true)}}},
	}
	folders := &fakeFolderStore{folders: []*domain.MailFolder{folder}}
	svc := newTestService(provider, folders, &fakeQueue{})

	if _, err := svc.Sync(context.Background(), "g1", domain.SyncAuto); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// No cursor but a last sync time: auto must continue from that timestamp,
	// not re-fetch the whole recent window.
	want := "receivedDateTime gt 2026-08-25T11:30:00Z"
	if got := provider.listOpts[0].Filter; got != want {
		t.Errorf("filter = %q, want %q", got, want)
	}
	if len(folders.cursorSaves) != 0 {
		t.Errorf("incremental resolution must not adopt a cursor: %+v", folders.cursorSaves)
	}
}

func TestSyncDeltaExpiredCursorFallsBackToFull(t *testing.T) {
	provider := &fakeProvider{
		deltaErr: apperr.ResyncRequired(nil),
		listPages: []*out.MessagePage{
			{Messages: []out.ProviderMessage{provMsg("m1", false), provMsg("m2", false)}},
		},
		latestLink: "delta-fresh",
	}
	folders := &fakeFolderStore{folders: []*domain.MailFolder{storedFolder("inbox", "delta-stale", 5)}}
	svc := newTestService(provider, folders, &fakeQueue{})

	stats, err := svc.Sync(context.Background(), "g1", domain.SyncDelta)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if stats.Errors != 0 {
		t.Fatalf("fallback should absorb the expired cursor, stats: %+v", stats)
	}
	if len(folders.cleared) != 1 || folders.cleared[0] != "inbox" {
		t.Fatalf("cursor not cleared: %v", folders.cleared)
	}
	if stats.Fetched != 2 {
		t.Fatalf("fetched %d, want 2 from full walk", stats.Fetched)
	}
	if len(folders.cursorSaves) != 1 || folders.cursorSaves[0].deltaLink != "delta-fresh" {
		t.Fatalf("fresh cursor not adopted: %+v", folders.cursorSaves)
	}
}

// =============================================================================
// Listing strategies
// =============================================================================

func TestSyncRecentFiltersWindowAndAdoptsCursor(t *testing.T) {
	provider := &fakeProvider{
		listPages: []*out.MessagePage{
			{Messages: []out.ProviderMessage{provMsg("m1", true)}, SkipToken: "tok-1"},
			{Messages: []out.ProviderMessage{provMsg("m2", true)}},
		},
		latestLink: "delta-fresh",
	}
	folders := &fakeFolderStore{folders: []*domain.MailFolder{storedFolder("inbox", "", 5)}}
	svc := newTestService(provider, folders, &fakeQueue{})

	stats, err := svc.Sync(context.Background(), "g1", domain.SyncRecent)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if stats.Fetched != 2 {
		t.Fatalf("fetched %d, want 2", stats.Fetched)
	}

	if len(provider.listOpts) != 2 {
		t.Fatalf("list calls = %d, want 2", len(provider.listOpts))
	}
	if provider.listOpts[0].Filter == "" {
		t.Error("recent listing must carry a receivedDateTime filter")
	}
	if provider.listOpts[1].SkipToken != "tok-1" {
		t.Errorf("second page skiptoken = %q, want tok-1", provider.listOpts[1].SkipToken)
	}
	if len(folders.cursorSaves) != 1 || folders.cursorSaves[0].deltaLink != "delta-fresh" {
		t.Fatalf("fresh cursor not adopted: %+v", folders.cursorSaves)
	}
}

func TestSyncIncrementalWithoutHistoryDegradesToRecent(t *testing.T) {
	provider := &fakeProvider{
		listPages:  []*out.MessagePage{{Messages: []out.ProviderMessage{provMsg("m1", true)}}},
		latestLink: "delta-fresh",
	}
	folders := &fakeFolderStore{folders: []*domain.MailFolder{storedFolder("inbox", "", 5)}}
	svc := newTestService(provider, folders, &fakeQueue{})

	if _, err := svc.Sync(context.Background(), "g1", domain.SyncIncremental); err != nil {
		t.Fatalf("sync: %v", err)
	}
	// Recent adopts a cursor; plain incremental never does.
	if len(folders.cursorSaves) != 1 {
		t.Fatalf("expected recent fallback with cursor adoption, saves: %+v", folders.cursorSaves)
	}
}

func TestSyncIncrementalUsesLastSyncFilter(t *testing.T) {
	last := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	folder := storedFolder("inbox", "", 5)
	folder.LastSyncAt = last

	provider := &fakeProvider{
		listPages: []*out.MessagePage{{Messages: []out.ProviderMessage{provMsg("m1", true)}}},
	}
	folders := &fakeFolderStore{folders: []*domain.MailFolder{folder}}
	svc := newTestService(provider, folders, &fakeQueue{})

	if _, err := svc.Sync(context.Background(), "g1", domain.SyncIncremental); err != nil {
		t.Fatalf("sync: %v", err)
	}
	want := "receivedDateTime gt 2026-08-20T09:00:00Z"
	if got := provider.listOpts[0].Filter; got != want {
		t.Errorf("filter = %q, want %q", got, want)
	}
	if len(folders.cursorSaves) != 0 {
		t.Errorf("incremental must not touch the delta cursor: %+v", folders.cursorSaves)
	}
	if len(folders.syncTimeSaves) != 1 {
		t.Errorf("sync time saves = %d, want 1", len(folders.syncTimeSaves))
	}
}

// =============================================================================
// Round behavior
// =============================================================================

func TestSyncSkipsEmptyFolders(t *testing.T) {
	provider := &fakeProvider{}
	folders := &fakeFolderStore{folders: []*domain.MailFolder{
		storedFolder("empty", "", 0),
		storedFolder("inbox", "delta-old", 3),
	}}
	svc := newTestService(provider, folders, &fakeQueue{})

	stats, err := svc.Sync(context.Background(), "g1", domain.SyncAuto)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if stats.Folders != 1 {
		t.Fatalf("folders synced = %d, want 1", stats.Folders)
	}
}

func TestSyncCheckTouchesWithoutPersisting(t *testing.T) {
	provider := &fakeProvider{
		listPages: []*out.MessagePage{{Messages: []out.ProviderMessage{provMsg("m1", true)}}},
	}
	folders := &fakeFolderStore{folders: []*domain.MailFolder{storedFolder("inbox", "", 5)}}
	queue := &fakeQueue{}
	svc := newTestService(provider, folders, queue)

	if _, err := svc.Sync(context.Background(), "g1", domain.SyncCheck); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(queue.ops) != 0 {
		t.Fatalf("check must not enqueue writes, got %d ops", len(queue.ops))
	}
	if len(folders.syncTimeSaves) != 1 {
		t.Fatalf("check must advance last_sync_at")
	}
}

func TestSyncRejectsUnknownStrategy(t *testing.T) {
	svc := newTestService(&fakeProvider{}, &fakeFolderStore{}, &fakeQueue{})
	_, err := svc.Sync(context.Background(), "g1", domain.SyncStrategy("bogus"))
	if !apperr.IsCode(err, apperr.CodeBadRequest) {
		t.Fatalf("expected BAD_REQUEST, got %v", err)
	}
}
