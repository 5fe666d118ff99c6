package persistence

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"

	"mailvault/core/domain"
	"mailvault/core/port/out"
	"mailvault/infra/database"
)

// =============================================================================
// MailAdapter - mail_message / mail_body / mail_attachment 조회 어댑터
// =============================================================================

type MailAdapter struct {
	store *database.Store
}

func NewMailAdapter(store *database.Store) *MailAdapter {
	return &MailAdapter{store: store}
}

// =============================================================================
// Entities
// =============================================================================

type messageEntity struct {
	ID             int64          `db:"id"`
	GroupID        string         `db:"group_id"`
	AccountID      int64          `db:"account_id"`
	MsgUID         string         `db:"msg_uid"`
	MsgID          string         `db:"msg_id"`
	Subject        string         `db:"subject"`
	FromAddr       string         `db:"from_addr"`
	FromName       string         `db:"from_name"`
	ToJoined       string         `db:"to_joined"`
	Snippet        string         `db:"snippet"`
	FolderID       string         `db:"folder_id"`
	SentAt         sql.NullString `db:"sent_at"`
	ReceivedAt     sql.NullString `db:"received_at"`
	SizeBytes      int64          `db:"size_bytes"`
	HasAttachments int            `db:"has_attachments"`
	Flags          string         `db:"flags"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
}

func (e *messageEntity) toDomain() *domain.MailMessage {
	return &domain.MailMessage{
		ID:             e.ID,
		GroupID:        e.GroupID,
		AccountID:      e.AccountID,
		MsgUID:         e.MsgUID,
		MsgID:          e.MsgID,
		Subject:        e.Subject,
		FromAddr:       e.FromAddr,
		FromName:       e.FromName,
		ToJoined:       e.ToJoined,
		Snippet:        e.Snippet,
		FolderID:       e.FolderID,
		SentAt:         nullTimeValue(e.SentAt),
		ReceivedAt:     nullTimeValue(e.ReceivedAt),
		SizeBytes:      e.SizeBytes,
		HasAttachments: e.HasAttachments != 0,
		Flags:          e.Flags,
		CreatedAt:      parseSQLTime(e.CreatedAt),
		UpdatedAt:      parseSQLTime(e.UpdatedAt),
	}
}

type bodyEntity struct {
	MessageID int64  `db:"message_id"`
	Headers   string `db:"headers"`
	BodyPlain string `db:"body_plain"`
	BodyHTML  string `db:"body_html"`
	CreatedAt string `db:"created_at"`
}

func (e *bodyEntity) toDomain() *domain.MailBody {
	return &domain.MailBody{
		MessageID: e.MessageID,
		Headers:   e.Headers,
		BodyPlain: e.BodyPlain,
		BodyHTML:  e.BodyHTML,
		CreatedAt: parseSQLTime(e.CreatedAt),
	}
}

type attachmentEntity struct {
	ID             int64  `db:"id"`
	MessageID      int64  `db:"message_id"`
	AttachmentID   string `db:"attachment_id"`
	Filename       string `db:"filename"`
	ContentType    string `db:"content_type"`
	Size           int64  `db:"size"`
	IsInline       int    `db:"is_inline"`
	ContentID      string `db:"content_id"`
	DownloadStatus string `db:"download_status"`
}

func (e *attachmentEntity) toDomain() *domain.MailAttachment {
	return &domain.MailAttachment{
		ID:             e.ID,
		MessageID:      e.MessageID,
		AttachmentID:   e.AttachmentID,
		Filename:       e.Filename,
		ContentType:    e.ContentType,
		Size:           e.Size,
		IsInline:       e.IsInline != 0,
		ContentID:      e.ContentID,
		DownloadStatus: e.DownloadStatus,
	}
}

// =============================================================================
// Search
// =============================================================================

// buildSearchWhere translates the query filters into a WHERE clause.
func buildSearchWhere(q out.MailQuery) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if q.GroupID != "" {
		conds = append(conds, "group_id = ?")
		args = append(args, q.GroupID)
	}
	if q.FolderID != "" {
		conds = append(conds, "folder_id = ?")
		args = append(args, q.FolderID)
	}
	if q.Sender != "" {
		conds = append(conds, "(from_addr LIKE ? OR from_name LIKE ?)")
		pattern := "%" + q.Sender + "%"
		args = append(args, pattern, pattern)
	}
	if q.Subject != "" {
		conds = append(conds, "subject LIKE ?")
		args = append(args, "%"+q.Subject+"%")
	}
	if !q.Since.IsZero() {
		conds = append(conds, "received_at >= ?")
		args = append(args, formatSQLTime(q.Since))
	}
	if !q.Until.IsZero() {
		conds = append(conds, "received_at < ?")
		args = append(args, formatSQLTime(q.Until))
	}
	if q.UnreadOnly {
		// GLOB is case-sensitive; LIKE would also match the UNREAD sentinel.
		conds = append(conds, "flags NOT GLOB '*Read*'")
	}
	if q.HasAttachments {
		conds = append(conds, "has_attachments = 1")
	}
	if q.VisibleAccounts != nil {
		if len(q.VisibleAccounts) == 0 {
			// Restricted user with no assignments sees nothing.
			conds = append(conds, "1 = 0")
		} else {
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.VisibleAccounts)), ",")
			conds = append(conds, "account_id IN ("+placeholders+")")
			for _, id := range q.VisibleAccounts {
				args = append(args, id)
			}
		}
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Search returns one page of matches plus the total match count.
func (a *MailAdapter) Search(ctx context.Context, q out.MailQuery) ([]*domain.MailMessage, int, error) {
	where, args := buildSearchWhere(q)

	var total int
	countQuery := "SELECT COUNT(*) FROM mail_message" + where
	if err := a.store.DB().GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	listQuery := "SELECT * FROM mail_message" + where +
		" ORDER BY received_at DESC LIMIT ? OFFSET ?"
	listArgs := append(args, pageSize, (page-1)*pageSize)

	var entities []messageEntity
	if err := a.store.DB().SelectContext(ctx, &entities, listQuery, listArgs...); err != nil {
		return nil, 0, err
	}

	messages := make([]*domain.MailMessage, len(entities))
	for i := range entities {
		messages[i] = entities[i].toDomain()
	}
	return messages, total, nil
}

// =============================================================================
// Detail
// =============================================================================

func (a *MailAdapter) GetDetail(ctx context.Context, id int64) (*out.MailDetail, error) {
	var msg messageEntity
	if err := a.store.DB().GetContext(ctx, &msg, `SELECT * FROM mail_message WHERE id = ?`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	detail := &out.MailDetail{Message: msg.toDomain()}

	var body bodyEntity
	err := a.store.DB().GetContext(ctx, &body, `SELECT * FROM mail_body WHERE message_id = ?`, id)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if err == nil {
		detail.Body = body.toDomain()
	}

	var atts []attachmentEntity
	if err := a.store.DB().SelectContext(ctx, &atts,
		`SELECT * FROM mail_attachment WHERE message_id = ? ORDER BY id`, id); err != nil {
		return nil, err
	}
	for i := range atts {
		detail.Attachments = append(detail.Attachments, atts[i].toDomain())
	}

	return detail, nil
}

func (a *MailAdapter) GetByIDs(ctx context.Context, ids []int64) ([]*domain.MailMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM mail_message WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}

	var entities []messageEntity
	if err := a.store.DB().SelectContext(ctx, &entities, a.store.DB().Rebind(query), args...); err != nil {
		return nil, err
	}

	messages := make([]*domain.MailMessage, len(entities))
	for i := range entities {
		messages[i] = entities[i].toDomain()
	}
	return messages, nil
}

func (a *MailAdapter) ExistingBodyIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	existing := make(map[int64]bool)
	if len(ids) == 0 {
		return existing, nil
	}

	query, args, err := sqlx.In(`SELECT message_id FROM mail_body WHERE message_id IN (?)`, ids)
	if err != nil {
		return nil, err
	}

	var found []int64
	if err := a.store.DB().SelectContext(ctx, &found, a.store.DB().Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

// =============================================================================
// Flags
// =============================================================================

func (a *MailAdapter) UpdateFlags(ctx context.Context, id int64, flags string) error {
	query := `UPDATE mail_message SET flags = ?, updated_at = datetime('now') WHERE id = ?`
	_, err := a.store.DB().ExecContext(ctx, query, flags, id)
	return err
}

var _ out.MailStore = (*MailAdapter)(nil)
