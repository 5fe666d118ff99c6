package domain

import (
	"strings"
	"time"
)

// FlagUnread is the sentinel stored when a message carries no flags at all.
const FlagUnread = "UNREAD"

// Flag names joined by ";" in MailMessage.Flags.
const (
	FlagRead    = "Read"
	FlagFlagged = "Flagged"
)

// MailFolder is one provider folder of a group. DeltaLink and LastSyncAt are
// the per-folder sync cursor; DeltaLink is replaced only after the round that
// consumed it completed.
type MailFolder struct {
	ID             int64
	FolderID       string // provider-assigned
	GroupID        string
	DisplayName    string
	WellKnownName  string
	ParentFolderID string
	TotalCount     int
	UnreadCount    int
	DeltaLink      string
	LastSyncAt     time.Time
	SyncedCount    int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MailMessage is the normalized summary row. Unique on (GroupID, MsgUID).
type MailMessage struct {
	ID             int64
	GroupID        string
	AccountID      int64
	MsgUID         string // provider-unique id
	MsgID          string // RFC internet message id
	Subject        string
	FromAddr       string
	FromName       string
	ToJoined       string // comma-separated recipient addresses
	Snippet        string
	FolderID       string
	SentAt         time.Time
	ReceivedAt     time.Time
	SizeBytes      int64
	HasAttachments bool
	Flags          string // semicolon-separated, or UNREAD
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsRead reports whether the Read flag is present.
func (m *MailMessage) IsRead() bool {
	return HasFlag(m.Flags, FlagRead)
}

// MailBody is the lazily downloaded content of a message.
type MailBody struct {
	MessageID int64
	Headers   string
	BodyPlain string
	BodyHTML  string
	CreatedAt time.Time
}

// AttachmentStatus values for MailAttachment.DownloadStatus.
const (
	AttachmentPending    = "pending"
	AttachmentDownloaded = "downloaded"
)

// MailAttachment holds attachment metadata; bytes are never stored here.
type MailAttachment struct {
	ID             int64
	MessageID      int64
	AttachmentID   string
	Filename       string
	ContentType    string
	Size           int64
	IsInline       bool
	ContentID      string
	DownloadStatus string
}

// EncodeFlags builds the flags column from provider read/flagged state.
func EncodeFlags(isRead, isFlagged bool) string {
	var flags []string
	if isRead {
		flags = append(flags, FlagRead)
	}
	if isFlagged {
		flags = append(flags, FlagFlagged)
	}
	if len(flags) == 0 {
		return FlagUnread
	}
	return strings.Join(flags, ";")
}

// HasFlag reports whether the encoded flags string carries the given flag.
func HasFlag(encoded, flag string) bool {
	for _, f := range strings.Split(encoded, ";") {
		if f == flag {
			return true
		}
	}
	return false
}

// AddFlag returns the encoded flags with the given flag appended. Adding a
// flag removes the UNREAD sentinel.
func AddFlag(encoded, flag string) string {
	if HasFlag(encoded, flag) {
		return encoded
	}
	if encoded == "" || encoded == FlagUnread {
		return flag
	}
	return encoded + ";" + flag
}
