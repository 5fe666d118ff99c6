package domain

import (
	"time"

	"github.com/goccy/go-json"
)

// Tables addressable through the write queue. The set is closed: the writer
// refuses envelopes naming any other table.
const (
	TableMessage    = "mail_message"
	TableBody       = "mail_body"
	TableAttachment = "mail_attachment"
	TableFolder     = "mail_folders"
)

// WriteOp is one serialized write-behind item. Producers push it to the
// write queue; the writer daemon groups by Table and bulk-inserts.
type WriteOp struct {
	Table string          `json:"table"`
	Data  json.RawMessage `json:"data"`
}

// MessageRow is the wire/storage shape of a mail_message insert.
// Inserted with OR IGNORE on (group_id, msg_uid).
type MessageRow struct {
	GroupID        string `json:"group_id" db:"group_id"`
	AccountID      int64  `json:"account_id" db:"account_id"`
	MsgUID         string `json:"msg_uid" db:"msg_uid"`
	MsgID          string `json:"msg_id" db:"msg_id"`
	Subject        string `json:"subject" db:"subject"`
	FromAddr       string `json:"from_addr" db:"from_addr"`
	FromName       string `json:"from_name" db:"from_name"`
	ToJoined       string `json:"to_joined" db:"to_joined"`
	Snippet        string `json:"snippet" db:"snippet"`
	FolderID       string `json:"folder_id" db:"folder_id"`
	SentAt         string `json:"sent_at" db:"sent_at"`
	ReceivedAt     string `json:"received_at" db:"received_at"`
	SizeBytes      int64  `json:"size_bytes" db:"size_bytes"`
	HasAttachments int    `json:"has_attachments" db:"has_attachments"`
	Flags          string `json:"flags" db:"flags"`
	CreatedAt      string `json:"created_at" db:"created_at"`
	UpdatedAt      string `json:"updated_at" db:"updated_at"`
}

// BodyRow is the wire/storage shape of a mail_body upsert.
// Inserted with OR REPLACE on message_id.
type BodyRow struct {
	MessageID int64  `json:"message_id" db:"message_id"`
	Headers   string `json:"headers" db:"headers"`
	BodyPlain string `json:"body_plain" db:"body_plain"`
	BodyHTML  string `json:"body_html" db:"body_html"`
	CreatedAt string `json:"created_at" db:"created_at"`
}

// AttachmentRow is the wire/storage shape of a mail_attachment insert.
type AttachmentRow struct {
	MessageID      int64  `json:"message_id" db:"message_id"`
	AttachmentID   string `json:"attachment_id" db:"attachment_id"`
	Filename       string `json:"filename" db:"filename"`
	ContentType    string `json:"content_type" db:"content_type"`
	Size           int64  `json:"size" db:"size"`
	IsInline       int    `json:"is_inline" db:"is_inline"`
	ContentID      string `json:"content_id" db:"content_id"`
	DownloadStatus string `json:"download_status" db:"download_status"`
}

// FolderRow is the wire/storage shape of a mail_folders upsert. Metadata
// columns are updated on conflict; the sync cursor columns are never touched
// through this path.
type FolderRow struct {
	FolderID       string `json:"folder_id" db:"folder_id"`
	GroupID        string `json:"group_id" db:"group_id"`
	DisplayName    string `json:"display_name" db:"display_name"`
	WellKnownName  string `json:"well_known_name" db:"well_known_name"`
	ParentFolderID string `json:"parent_folder_id" db:"parent_folder_id"`
	TotalCount     int    `json:"total_count" db:"total_count"`
	UnreadCount    int    `json:"unread_count" db:"unread_count"`
	CreatedAt      string `json:"created_at" db:"created_at"`
	UpdatedAt      string `json:"updated_at" db:"updated_at"`
}

// SQLTime renders a timestamp the way the store columns expect it.
func SQLTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

func mustOp(table string, data any) WriteOp {
	raw, err := json.Marshal(data)
	if err != nil {
		// Row structs marshal unconditionally; an error here is a programming
		// mistake, not a runtime condition.
		panic(err)
	}
	return WriteOp{Table: table, Data: raw}
}

// InsertMessage builds a write op for one message summary row.
func InsertMessage(row MessageRow) WriteOp { return mustOp(TableMessage, row) }

// UpsertBody builds a write op replacing one message body.
func UpsertBody(row BodyRow) WriteOp { return mustOp(TableBody, row) }

// InsertAttachment builds a write op for one attachment metadata row.
func InsertAttachment(row AttachmentRow) WriteOp { return mustOp(TableAttachment, row) }

// InsertFolder builds a write op for one folder row.
func InsertFolder(row FolderRow) WriteOp { return mustOp(TableFolder, row) }
