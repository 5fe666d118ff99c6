// Package out defines the outbound ports of the core services.
package out

import (
	"context"
	"time"

	"mailvault/core/domain"
)

// TokenStore persists the single token row per group.
type TokenStore interface {
	// Get returns nil without error when the group has no token row.
	Get(ctx context.Context, groupID string) (*domain.AccountToken, error)
	Upsert(ctx context.Context, token *domain.AccountToken) error
	Delete(ctx context.Context, groupID string) error
}

// FolderStore reads and advances per-folder sync state. Folder rows
// themselves are created through the write queue.
type FolderStore interface {
	ListByGroup(ctx context.Context, groupID string) ([]*domain.MailFolder, error)
	GetByFolderID(ctx context.Context, groupID, folderID string) (*domain.MailFolder, error)

	// SaveCursor persists the cursor after a fully consumed delta walk.
	SaveCursor(ctx context.Context, groupID, folderID, deltaLink string, syncedAt time.Time, added int) error
	// SaveSyncTime advances last_sync_at without touching the delta cursor.
	SaveSyncTime(ctx context.Context, groupID, folderID string, syncedAt time.Time, added int) error
	// ClearCursor drops an expired delta cursor so the next round falls back.
	ClearCursor(ctx context.Context, groupID, folderID string) error

	// ListStaleGroups returns group ids owning at least one folder whose
	// last_sync_at predates the threshold.
	ListStaleGroups(ctx context.Context, olderThan time.Time) ([]string, error)
}

// MailQuery carries the search filters of the mail query service.
type MailQuery struct {
	GroupID        string
	FolderID       string
	Sender         string
	Subject        string
	Since          time.Time
	Until          time.Time
	UnreadOnly     bool
	HasAttachments bool

	// Non-admin callers are restricted to these account ids. nil means
	// unrestricted (admin).
	VisibleAccounts []int64

	Page     int
	PageSize int
}

// MailDetail is a message joined with its body and attachment metadata.
type MailDetail struct {
	Message     *domain.MailMessage
	Body        *domain.MailBody
	Attachments []*domain.MailAttachment
}

// MailStore exposes read and flag operations over persisted messages.
type MailStore interface {
	Search(ctx context.Context, q MailQuery) ([]*domain.MailMessage, int, error)
	GetDetail(ctx context.Context, id int64) (*MailDetail, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*domain.MailMessage, error)
	// ExistingBodyIDs reports which of the given message ids already have a
	// body row.
	ExistingBodyIDs(ctx context.Context, ids []int64) (map[int64]bool, error)
	UpdateFlags(ctx context.Context, id int64, flags string) error
}

// AccountStore covers account rows, recovery data and version snapshots.
type AccountStore interface {
	ListByGroup(ctx context.Context, groupID string) ([]*domain.Account, error)
	UpdateStatus(ctx context.Context, accountID int64, status domain.AccountStatus) error

	SaveSnapshot(ctx context.Context, snap *domain.VersionSnapshot) error
	ListSnapshots(ctx context.Context, groupID string) ([]*domain.VersionSnapshot, error)

	// VisibleAccountIDs resolves the project-assignment set of a user.
	VisibleAccountIDs(ctx context.Context, userID int64) ([]int64, error)
}
