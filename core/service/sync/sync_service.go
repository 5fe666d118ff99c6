// Package sync walks the provider mailbox of a group and feeds the write
// queue with normalized rows.
package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mailvault/core/domain"
	"mailvault/core/port/out"
	"mailvault/pkg/apperr"
)

// Page caps per strategy. A capped walk ends cleanly and the next round
// continues from whatever cursor survived.
const (
	maxDeltaPages       = 50
	maxIncrementalPages = 20
	maxRecentPages      = 20
	maxFullPages        = 100
)

// discoveryPageSize bounds folder listing calls during discovery.
const discoveryPageSize = 50

// TokenProvider yields a valid access token for a group.
type TokenProvider interface {
	GetAccessToken(ctx context.Context, groupID string) (string, error)
}

// =============================================================================
// Service
// =============================================================================

type Service struct {
	tokens   TokenProvider
	provider out.MailProvider
	folders  out.FolderStore
	accounts out.AccountStore
	queue    out.WriteQueue
	log      zerolog.Logger

	recentWindow time.Duration

	now func() time.Time
}

func NewService(
	tokens TokenProvider,
	provider out.MailProvider,
	folders out.FolderStore,
	accounts out.AccountStore,
	queue out.WriteQueue,
	recentDays int,
	log zerolog.Logger,
) *Service {
	if recentDays <= 0 {
		recentDays = 30
	}
	return &Service{
		tokens:       tokens,
		provider:     provider,
		folders:      folders,
		accounts:     accounts,
		queue:        queue,
		recentWindow: time.Duration(recentDays) * 24 * time.Hour,
		log:          log.With().Str("component", "sync_service").Logger(),
		now:          time.Now,
	}
}

// =============================================================================
// Folder discovery
// =============================================================================

// DiscoverFolders walks the folder tree breadth-first, enqueues one folder
// row per visible folder, and returns the discovered set. Hidden folders are
// skipped along with their subtrees.
func (s *Service) DiscoverFolders(ctx context.Context, groupID string) ([]out.ProviderFolder, error) {
	token, err := s.tokens.GetAccessToken(ctx, groupID)
	if err != nil {
		return nil, err
	}

	roots, err := s.provider.ListRootFolders(ctx, token)
	if err != nil {
		return nil, err
	}

	var discovered []out.ProviderFolder
	pending := make([]out.ProviderFolder, 0, len(roots))
	pending = append(pending, roots...)

	for len(pending) > 0 {
		folder := pending[0]
		pending = pending[1:]

		if folder.IsHidden {
			continue
		}
		discovered = append(discovered, folder)

		if folder.ChildFolderCount > 0 {
			children, err := s.provider.ListChildFolders(ctx, token, folder.ID)
			if err != nil {
				return nil, err
			}
			pending = append(pending, children...)
		}
	}

	now := domain.SQLTime(s.now())
	ops := make([]domain.WriteOp, 0, len(discovered))
	for _, f := range discovered {
		ops = append(ops, domain.InsertFolder(domain.FolderRow{
			FolderID:       f.ID,
			GroupID:        groupID,
			DisplayName:    f.DisplayName,
			WellKnownName:  f.WellKnownName,
			ParentFolderID: f.ParentFolderID,
			TotalCount:     f.TotalItemCount,
			UnreadCount:    f.UnreadItemCount,
			CreatedAt:      now,
			UpdatedAt:      now,
		}))
	}
	if len(ops) > 0 {
		if err := s.queue.Push(ctx, ops); err != nil {
			return nil, apperr.QueueUnavailable(err)
		}
	}

	s.log.Info().Str("group_id", groupID).Int("folders", len(discovered)).Msg("folder discovery complete")
	return discovered, nil
}

// =============================================================================
// Sync rounds
// =============================================================================

// workItem is one folder scheduled for a round, with whatever cursor state
// the store already has for it.
type workItem struct {
	folderID   string
	totalCount int
	deltaLink  string
	lastSyncAt time.Time
}

// Sync runs one round over every non-empty folder of the group. Per-folder
// failures are counted, not fatal; only token acquisition aborts the round.
func (s *Service) Sync(ctx context.Context, groupID string, strategy domain.SyncStrategy) (*domain.SyncStats, error) {
	if !strategy.Valid() {
		return nil, apperr.BadRequest(fmt.Sprintf("unknown sync strategy %q", strategy))
	}

	token, err := s.tokens.GetAccessToken(ctx, groupID)
	if err != nil {
		return nil, err
	}

	accountID, err := s.resolveAccountID(ctx, groupID)
	if err != nil {
		return nil, err
	}

	work, err := s.buildWorklist(ctx, token, groupID)
	if err != nil {
		return nil, err
	}

	stats := &domain.SyncStats{}
	for _, item := range work {
		if err := ctx.Err(); err != nil {
			return stats, apperr.Cancelled("sync round interrupted")
		}
		if item.totalCount == 0 {
			continue
		}
		stats.Folders++

		fetched, err := s.syncFolder(ctx, token, groupID, accountID, item, strategy)
		stats.Fetched += fetched
		stats.Enqueued += fetched
		if err != nil {
			stats.Errors++
			s.log.Warn().Err(err).
				Str("group_id", groupID).
				Str("folder_id", item.folderID).
				Str("strategy", string(strategy)).
				Msg("folder sync failed")
			if apperr.NeedsRelogin(err) {
				// A dead token fails every remaining folder the same way.
				return stats, err
			}
		}
	}

	s.log.Info().Str("group_id", groupID).Str("strategy", string(strategy)).
		Int("folders", stats.Folders).Int("fetched", stats.Fetched).Int("errors", stats.Errors).
		Msg("sync round complete")
	return stats, nil
}

// resolveAccountID stamps rows with the group's primary account.
func (s *Service) resolveAccountID(ctx context.Context, groupID string) (int64, error) {
	accounts, err := s.accounts.ListByGroup(ctx, groupID)
	if err != nil {
		return 0, apperr.DatabaseError("list accounts", err)
	}
	if len(accounts) == 0 {
		return 0, apperr.NotFound("account for group " + groupID)
	}
	return accounts[0].ID, nil
}

// buildWorklist prefers stored folder rows; on a brand-new group it discovers
// the tree and syncs directly from the provider listing. Cursor updates for
// not-yet-flushed rows are no-ops and the next round picks them up normally.
func (s *Service) buildWorklist(ctx context.Context, token, groupID string) ([]workItem, error) {
	stored, err := s.folders.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, apperr.DatabaseError("list folders", err)
	}

	if len(stored) > 0 {
		work := make([]workItem, 0, len(stored))
		for _, f := range stored {
			work = append(work, workItem{
				folderID:   f.FolderID,
				totalCount: f.TotalCount,
				deltaLink:  f.DeltaLink,
				lastSyncAt: f.LastSyncAt,
			})
		}
		return work, nil
	}

	discovered, err := s.DiscoverFolders(ctx, groupID)
	if err != nil {
		return nil, err
	}
	work := make([]workItem, 0, len(discovered))
	for _, f := range discovered {
		work = append(work, workItem{folderID: f.ID, totalCount: f.TotalItemCount})
	}
	return work, nil
}

// syncFolder resolves auto, then dispatches. An expired delta cursor falls
// back to a full walk within the same round.
func (s *Service) syncFolder(ctx context.Context, token, groupID string, accountID int64, item workItem, strategy domain.SyncStrategy) (int, error) {
	if strategy == domain.SyncAuto {
		switch {
		case item.deltaLink != "":
			strategy = domain.SyncDelta
		case !item.lastSyncAt.IsZero():
			strategy = domain.SyncIncremental
		default:
			strategy = domain.SyncRecent
		}
	}

	switch strategy {
	case domain.SyncDelta:
		fetched, err := s.syncDelta(ctx, token, groupID, accountID, item)
		if apperr.NeedsFullResync(err) {
			if clearErr := s.folders.ClearCursor(ctx, groupID, item.folderID); clearErr != nil {
				s.log.Error().Err(clearErr).Str("folder_id", item.folderID).Msg("cursor clear failed")
			}
			full, fullErr := s.syncFull(ctx, token, groupID, accountID, item)
			return fetched + full, fullErr
		}
		return fetched, err
	case domain.SyncIncremental:
		return s.syncIncremental(ctx, token, groupID, accountID, item)
	case domain.SyncRecent:
		return s.syncRecent(ctx, token, groupID, accountID, item)
	case domain.SyncFull:
		return s.syncFull(ctx, token, groupID, accountID, item)
	case domain.SyncCheck:
		return s.syncCheck(ctx, token, groupID, item)
	default:
		return 0, apperr.BadRequest(fmt.Sprintf("unknown sync strategy %q", strategy))
	}
}

// =============================================================================
// Strategies
// =============================================================================

// syncDelta walks the change feed from the stored cursor. The new cursor is
// persisted only when the walk reached its delta link; a capped walk keeps
// the old cursor so nothing is skipped.
func (s *Service) syncDelta(ctx context.Context, token, groupID string, accountID int64, item workItem) (int, error) {
	link := item.deltaLink
	added := 0

	for page := 0; page < maxDeltaPages; page++ {
		dp, err := s.provider.DeltaPage(ctx, token, item.folderID, link)
		if err != nil {
			return added, err
		}

		n, err := s.enqueueMessages(ctx, groupID, accountID, item.folderID, dp.Messages)
		added += n
		if err != nil {
			return added, err
		}

		if dp.DeltaLink != "" {
			if err := s.folders.SaveCursor(ctx, groupID, item.folderID, dp.DeltaLink, s.now(), added); err != nil {
				return added, apperr.DatabaseError("save cursor", err)
			}
			return added, nil
		}
		if dp.NextLink == "" {
			break
		}
		link = dp.NextLink
	}

	if err := s.folders.SaveSyncTime(ctx, groupID, item.folderID, s.now(), added); err != nil {
		return added, apperr.DatabaseError("save sync time", err)
	}
	return added, nil
}

// syncIncremental lists messages newer than the folder's last sync. With no
// prior sync it degrades to recent.
func (s *Service) syncIncremental(ctx context.Context, token, groupID string, accountID int64, item workItem) (int, error) {
	if item.lastSyncAt.IsZero() {
		return s.syncRecent(ctx, token, groupID, accountID, item)
	}

	filter := fmt.Sprintf("receivedDateTime gt %s", item.lastSyncAt.UTC().Format(time.RFC3339))
	added, err := s.listPages(ctx, token, groupID, accountID, item.folderID, filter, maxIncrementalPages)
	if err != nil {
		return added, err
	}
	if err := s.folders.SaveSyncTime(ctx, groupID, item.folderID, s.now(), added); err != nil {
		return added, apperr.DatabaseError("save sync time", err)
	}
	return added, nil
}

// syncRecent backfills the configured window, then probes a fresh delta
// cursor so the next auto round switches to the change feed.
func (s *Service) syncRecent(ctx context.Context, token, groupID string, accountID int64, item workItem) (int, error) {
	since := s.now().Add(-s.recentWindow)
	filter := fmt.Sprintf("receivedDateTime gt %s", since.UTC().Format(time.RFC3339))

	added, err := s.listPages(ctx, token, groupID, accountID, item.folderID, filter, maxRecentPages)
	if err != nil {
		return added, err
	}
	return added, s.adoptFreshCursor(ctx, token, groupID, item.folderID, added)
}

// syncFull walks the whole folder newest-first, then adopts a fresh cursor.
func (s *Service) syncFull(ctx context.Context, token, groupID string, accountID int64, item workItem) (int, error) {
	added, err := s.listPages(ctx, token, groupID, accountID, item.folderID, "", maxFullPages)
	if err != nil {
		return added, err
	}
	return added, s.adoptFreshCursor(ctx, token, groupID, item.folderID, added)
}

// syncCheck touches the provider with the group's token without persisting
// any messages. It exists to keep refresh tokens alive on idle groups.
func (s *Service) syncCheck(ctx context.Context, token, groupID string, item workItem) (int, error) {
	page, err := s.provider.ListMessages(ctx, token, item.folderID, out.ListOptions{Top: 1})
	if err != nil {
		return 0, err
	}
	if err := s.folders.SaveSyncTime(ctx, groupID, item.folderID, s.now(), 0); err != nil {
		return 0, apperr.DatabaseError("save sync time", err)
	}
	return len(page.Messages), nil
}

// adoptFreshCursor probes a cursor at the current mailbox state and stores
// it. A failed probe is non-fatal: the round's messages are already queued.
func (s *Service) adoptFreshCursor(ctx context.Context, token, groupID, folderID string, added int) error {
	link, err := s.provider.LatestDeltaLink(ctx, token, folderID)
	if err != nil {
		s.log.Warn().Err(err).Str("folder_id", folderID).Msg("delta cursor probe failed")
		if saveErr := s.folders.SaveSyncTime(ctx, groupID, folderID, s.now(), added); saveErr != nil {
			return apperr.DatabaseError("save sync time", saveErr)
		}
		return nil
	}
	if err := s.folders.SaveCursor(ctx, groupID, folderID, link, s.now(), added); err != nil {
		return apperr.DatabaseError("save cursor", err)
	}
	return nil
}

// listPages pages through a filtered listing, newest first, enqueueing every
// page as it arrives.
func (s *Service) listPages(ctx context.Context, token, groupID string, accountID int64, folderID, filter string, maxPages int) (int, error) {
	opts := out.ListOptions{
		Top:     discoveryPageSize,
		Filter:  filter,
		OrderBy: "receivedDateTime desc",
	}

	added := 0
	for page := 0; page < maxPages; page++ {
		mp, err := s.provider.ListMessages(ctx, token, folderID, opts)
		if err != nil {
			return added, err
		}

		n, err := s.enqueueMessages(ctx, groupID, accountID, folderID, mp.Messages)
		added += n
		if err != nil {
			return added, err
		}

		if mp.SkipToken == "" {
			break
		}
		opts.SkipToken = mp.SkipToken
	}
	return added, nil
}

// =============================================================================
// Normalization
// =============================================================================

// enqueueMessages converts one provider page into message write ops. Delta
// tombstones are dropped.
func (s *Service) enqueueMessages(ctx context.Context, groupID string, accountID int64, folderID string, msgs []out.ProviderMessage) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	now := domain.SQLTime(s.now())
	ops := make([]domain.WriteOp, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		if m.Removed {
			continue
		}
		ops = append(ops, domain.InsertMessage(domain.MessageRow{
			GroupID:        groupID,
			AccountID:      accountID,
			MsgUID:         m.UID,
			MsgID:          m.InternetID,
			Subject:        m.Subject,
			FromAddr:       m.FromAddr,
			FromName:       m.FromName,
			ToJoined:       joinAddrs(m.To),
			Snippet:        m.Snippet,
			FolderID:       folderID,
			SentAt:         domain.SQLTime(m.SentAt),
			ReceivedAt:     domain.SQLTime(m.ReceivedAt),
			SizeBytes:      m.SizeBytes,
			HasAttachments: boolToInt(m.HasAttachments),
			Flags:          domain.EncodeFlags(m.IsRead, m.IsFlagged),
			CreatedAt:      now,
			UpdatedAt:      now,
		}))
	}
	if len(ops) == 0 {
		return 0, nil
	}

	if err := s.queue.Push(ctx, ops); err != nil {
		return 0, apperr.QueueUnavailable(err)
	}
	return len(ops), nil
}

func joinAddrs(addrs []string) string {
	return strings.Join(addrs, ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
