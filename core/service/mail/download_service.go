package mail

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mailvault/core/domain"
	"mailvault/core/port/out"
	"mailvault/pkg/apperr"
)

// =============================================================================
// Downloader - 본문 일괄 다운로드
// =============================================================================

// Downloader fetches full message content for batches of stored messages and
// feeds the write queue with body and attachment rows. Bodies already present
// are skipped, so resubmitting a batch is cheap.
type Downloader struct {
	mails    out.MailStore
	tokens   TokenProvider
	provider out.MailProvider
	queue    out.WriteQueue
	workers  int
	log      zerolog.Logger
}

func NewDownloader(
	mails out.MailStore,
	tokens TokenProvider,
	provider out.MailProvider,
	queue out.WriteQueue,
	workers int,
	log zerolog.Logger,
) *Downloader {
	if workers <= 0 {
		workers = 10
	}
	return &Downloader{
		mails:    mails,
		tokens:   tokens,
		provider: provider,
		queue:    queue,
		workers:  workers,
		log:      log.With().Str("component", "download_service").Logger(),
	}
}

// Download fetches content for the given message ids. Per-group token
// failures and per-message fetch failures are collected in the stats instead
// of aborting the batch. progress, when non-nil, is invoked after every
// settled message with the running done count and the batch total.
func (d *Downloader) Download(ctx context.Context, ids []int64, progress func(done, total int)) (*domain.DownloadStats, error) {
	stats := &domain.DownloadStats{
		Requested:  len(ids),
		AuthErrors: make(map[string][]int64),
	}
	if len(ids) == 0 {
		return stats, nil
	}

	msgs, err := d.mails.GetByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.DatabaseError("resolve messages", err)
	}
	existing, err := d.mails.ExistingBodyIDs(ctx, ids)
	if err != nil {
		return nil, apperr.DatabaseError("check existing bodies", err)
	}

	// Unknown ids count as skipped.
	stats.Skipped = len(ids) - len(msgs)

	byGroup := make(map[string][]*domain.MailMessage)
	for _, msg := range msgs {
		if existing[msg.ID] {
			stats.Skipped++
			continue
		}
		byGroup[msg.GroupID] = append(byGroup[msg.GroupID], msg)
	}

	total := 0
	for _, groupMsgs := range byGroup {
		total += len(groupMsgs)
	}

	var mu sync.Mutex
	done := 0
	settle := func(n int) {
		done += n
		if progress != nil {
			progress(done, total)
		}
	}

	for groupID, groupMsgs := range byGroup {
		token, err := d.tokens.GetAccessToken(ctx, groupID)
		if err != nil {
			mu.Lock()
			for _, msg := range groupMsgs {
				stats.AuthErrors[groupID] = append(stats.AuthErrors[groupID], msg.ID)
			}
			settle(len(groupMsgs))
			mu.Unlock()
			d.log.Warn().Err(err).Str("group_id", groupID).
				Int("messages", len(groupMsgs)).Msg("token unavailable, group skipped")
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.workers)
		for _, msg := range groupMsgs {
			msg := msg
			g.Go(func() error {
				if err := d.downloadOne(gctx, token, msg); err != nil {
					mu.Lock()
					stats.DownloadErrors = append(stats.DownloadErrors, msg.ID)
					settle(1)
					mu.Unlock()
					d.log.Warn().Err(err).Int64("message_id", msg.ID).Msg("content fetch failed")
					return nil
				}
				mu.Lock()
				stats.Downloaded++
				settle(1)
				mu.Unlock()
				return nil
			})
		}
		// Workers never return errors; Wait only observes context cancellation.
		if err := g.Wait(); err != nil {
			return stats, err
		}
	}

	d.log.Info().Int("requested", stats.Requested).Int("downloaded", stats.Downloaded).
		Int("skipped", stats.Skipped).Int("failed", len(stats.DownloadErrors)).
		Msg("download batch complete")
	return stats, nil
}

func (d *Downloader) downloadOne(ctx context.Context, token string, msg *domain.MailMessage) error {
	content, err := d.provider.GetMessageContent(ctx, token, msg.MsgUID)
	if err != nil {
		return err
	}

	now := domain.SQLTime(timeNow())
	ops := make([]domain.WriteOp, 0, 1+len(content.Attachments))
	ops = append(ops, domain.UpsertBody(domain.BodyRow{
		MessageID: msg.ID,
		Headers:   content.Headers,
		BodyPlain: content.BodyPlain,
		BodyHTML:  content.BodyHTML,
		CreatedAt: now,
	}))
	for _, att := range content.Attachments {
		ops = append(ops, domain.InsertAttachment(domain.AttachmentRow{
			MessageID:      msg.ID,
			AttachmentID:   att.ID,
			Filename:       att.Filename,
			ContentType:    att.ContentType,
			Size:           att.Size,
			IsInline:       boolToInt(att.IsInline),
			ContentID:      att.ContentID,
			DownloadStatus: domain.AttachmentPending,
		}))
	}

	if err := d.queue.Push(ctx, ops); err != nil {
		return apperr.QueueUnavailable(err)
	}
	return nil
}

// timeNow is swappable in tests.
var timeNow = time.Now

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
