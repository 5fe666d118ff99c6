package worker

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"mailvault/core/domain"
	"mailvault/core/port/out"
	"mailvault/infra/database"
)

// =============================================================================
// Writer Daemon - write-behind 일괄 기록
// =============================================================================

// WriterConfig tunes the flush loop.
type WriterConfig struct {
	BatchSize     int           // flush when this many items are pending
	FlushInterval time.Duration // flush pending items at least this often
	IdleSleep     time.Duration // sleep when the queue is drained
	MaxFailures   int           // consecutive flush failures before dead-lettering
}

func DefaultWriterConfig() *WriterConfig {
	return &WriterConfig{
		BatchSize:     500,
		FlushInterval: 2 * time.Second,
		IdleSleep:     100 * time.Millisecond,
		MaxFailures:   3,
	}
}

// Writer is the single consumer of the write queue. It batches envelopes,
// groups them by table and lands each batch in one transaction. Duplicate
// message and attachment rows are ignored; bodies are replaced; folder
// metadata is updated without touching sync cursors.
type Writer struct {
	store  *database.Store
	queue  out.WriteQueue
	config *WriterConfig
	log    zerolog.Logger
}

func NewWriter(store *database.Store, queue out.WriteQueue, config *WriterConfig, log zerolog.Logger) *Writer {
	if config == nil {
		config = DefaultWriterConfig()
	}
	return &Writer{
		store:  store,
		queue:  queue,
		config: config,
		log:    log.With().Str("component", "writer_daemon").Logger(),
	}
}

// Run consumes the queue until the context ends. Pending items are flushed
// one last time on shutdown.
func (w *Writer) Run(ctx context.Context) {
	w.log.Info().Int("batch_size", w.config.BatchSize).
		Dur("flush_interval", w.config.FlushInterval).Msg("writer daemon started")

	var pending [][]byte
	var firstAt time.Time
	failures := 0

	for {
		if ctx.Err() != nil {
			if len(pending) > 0 {
				w.flushOrRecover(context.Background(), pending, &failures)
			}
			w.log.Info().Msg("writer daemon stopped")
			return
		}

		items, err := w.queue.PopBatch(ctx, w.config.BatchSize-len(pending))
		if err != nil {
			w.log.Error().Err(err).Msg("queue pop failed")
			w.sleep(ctx, time.Second)
			continue
		}
		if len(items) > 0 {
			if len(pending) == 0 {
				firstAt = time.Now()
			}
			pending = append(pending, items...)
		}

		if len(pending) == 0 {
			w.sleep(ctx, w.config.IdleSleep)
			continue
		}

		if len(pending) >= w.config.BatchSize || time.Since(firstAt) >= w.config.FlushInterval {
			if w.flushOrRecover(ctx, pending, &failures) {
				pending = nil
			} else {
				// Items were requeued or dead-lettered either way.
				pending = nil
				w.sleep(ctx, time.Duration(failures)*time.Second)
			}
		} else if len(items) == 0 {
			w.sleep(ctx, w.config.IdleSleep)
		}
	}
}

// flushOrRecover lands one batch. On failure the batch goes back to the
// front of the queue in order; after MaxFailures consecutive failures it is
// dead-lettered instead so one poison batch cannot wedge the daemon.
func (w *Writer) flushOrRecover(ctx context.Context, items [][]byte, failures *int) bool {
	if err := w.Flush(ctx, items); err != nil {
		*failures++
		w.log.Error().Err(err).Int("items", len(items)).
			Int("consecutive_failures", *failures).Msg("flush failed")

		if *failures >= w.config.MaxFailures {
			if dlErr := w.queue.DeadLetter(ctx, items); dlErr != nil {
				w.log.Error().Err(dlErr).Msg("dead letter failed, batch lost")
			}
			*failures = 0
			return false
		}
		if rqErr := w.queue.RequeueFront(ctx, items); rqErr != nil {
			w.log.Error().Err(rqErr).Msg("requeue failed, batch lost")
		}
		return false
	}
	*failures = 0
	return true
}

// =============================================================================
// Flush
// =============================================================================

// batch holds one flush worth of rows grouped by destination table.
type batch struct {
	messages    []domain.MessageRow
	bodies      []domain.BodyRow
	attachments []domain.AttachmentRow
	folders     []domain.FolderRow
}

// Flush parses and lands one batch of raw envelopes in a single transaction.
// Malformed envelopes are dead-lettered individually, never retried.
func (w *Writer) Flush(ctx context.Context, items [][]byte) error {
	grouped, malformed := w.parse(items)
	if len(malformed) > 0 {
		w.log.Warn().Int("items", len(malformed)).Msg("malformed envelopes dead-lettered")
		if err := w.queue.DeadLetter(ctx, malformed); err != nil {
			w.log.Error().Err(err).Msg("dead letter of malformed envelopes failed")
		}
	}
	if len(grouped.messages)+len(grouped.bodies)+len(grouped.attachments)+len(grouped.folders) == 0 {
		return nil
	}

	err := w.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if len(grouped.folders) > 0 {
			if _, err := tx.NamedExecContext(ctx, insertFolderSQL, grouped.folders); err != nil {
				return err
			}
		}
		if len(grouped.messages) > 0 {
			if _, err := tx.NamedExecContext(ctx, insertMessageSQL, grouped.messages); err != nil {
				return err
			}
		}
		if len(grouped.bodies) > 0 {
			if _, err := tx.NamedExecContext(ctx, insertBodySQL, grouped.bodies); err != nil {
				return err
			}
		}
		if len(grouped.attachments) > 0 {
			if _, err := tx.NamedExecContext(ctx, insertAttachmentSQL, grouped.attachments); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.log.Debug().
		Int("messages", len(grouped.messages)).
		Int("bodies", len(grouped.bodies)).
		Int("attachments", len(grouped.attachments)).
		Int("folders", len(grouped.folders)).
		Msg("batch flushed")
	return nil
}

func (w *Writer) parse(items [][]byte) (*batch, [][]byte) {
	grouped := &batch{}
	var malformed [][]byte

	for _, item := range items {
		var op domain.WriteOp
		if err := json.Unmarshal(item, &op); err != nil {
			malformed = append(malformed, item)
			continue
		}

		switch op.Table {
		case domain.TableMessage:
			var row domain.MessageRow
			if err := json.Unmarshal(op.Data, &row); err != nil {
				malformed = append(malformed, item)
				continue
			}
			grouped.messages = append(grouped.messages, row)
		case domain.TableBody:
			var row domain.BodyRow
			if err := json.Unmarshal(op.Data, &row); err != nil {
				malformed = append(malformed, item)
				continue
			}
			grouped.bodies = append(grouped.bodies, row)
		case domain.TableAttachment:
			var row domain.AttachmentRow
			if err := json.Unmarshal(op.Data, &row); err != nil {
				malformed = append(malformed, item)
				continue
			}
			grouped.attachments = append(grouped.attachments, row)
		case domain.TableFolder:
			var row domain.FolderRow
			if err := json.Unmarshal(op.Data, &row); err != nil {
				malformed = append(malformed, item)
				continue
			}
			grouped.folders = append(grouped.folders, row)
		default:
			malformed = append(malformed, item)
		}
	}
	return grouped, malformed
}

func (w *Writer) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// =============================================================================
// Statements
// =============================================================================

const insertMessageSQL = `
	INSERT OR IGNORE INTO mail_message (
		group_id, account_id, msg_uid, msg_id, subject,
		from_addr, from_name, to_joined, snippet, folder_id,
		sent_at, received_at, size_bytes, has_attachments, flags,
		created_at, updated_at
	) VALUES (
		:group_id, :account_id, :msg_uid, :msg_id, :subject,
		:from_addr, :from_name, :to_joined, :snippet, :folder_id,
		:sent_at, :received_at, :size_bytes, :has_attachments, :flags,
		:created_at, :updated_at
	)`

const insertBodySQL = `
	INSERT OR REPLACE INTO mail_body (
		message_id, headers, body_plain, body_html, created_at
	) VALUES (
		:message_id, :headers, :body_plain, :body_html, :created_at
	)`

const insertAttachmentSQL = `
	INSERT OR IGNORE INTO mail_attachment (
		message_id, attachment_id, filename, content_type, size,
		is_inline, content_id, download_status
	) VALUES (
		:message_id, :attachment_id, :filename, :content_type, :size,
		:is_inline, :content_id, :download_status
	)`

// Folder upserts refresh display metadata only; delta_link, last_sync_at and
// synced_count belong to the sync engine and are never written here.
const insertFolderSQL = `
	INSERT INTO mail_folders (
		folder_id, group_id, display_name, well_known_name, parent_folder_id,
		total_count, unread_count, created_at, updated_at
	) VALUES (
		:folder_id, :group_id, :display_name, :well_known_name, :parent_folder_id,
		:total_count, :unread_count, :created_at, :updated_at
	)
	ON CONFLICT (group_id, folder_id) DO UPDATE SET
		display_name     = excluded.display_name,
		well_known_name  = excluded.well_known_name,
		parent_folder_id = excluded.parent_folder_id,
		total_count      = excluded.total_count,
		unread_count     = excluded.unread_count,
		updated_at       = excluded.updated_at`
